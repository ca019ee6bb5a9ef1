// Package memory is an in-process ledger.Store. It is used by tests and by
// ledgerd when no database is configured.
package memory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"bank-ledger/pkg/ledger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrClosed is returned by Atomic after Close.
var ErrClosed = errors.New("memory: store closed")

// Store keeps customers, accounts and entries in maps. Entries are append-only.
type Store struct {
	mu         sync.RWMutex
	customers  map[int64]*ledger.Customer
	byEmail    map[string]int64
	byIdentity map[string]int64
	accounts   map[int64]*ledger.Account
	byNumber   map[string]int64 // includes deleted accounts
	byOwner    map[int64]int64
	byExternal map[uuid.UUID]int64
	entries    []ledger.Entry
	byAccount  map[int64][]int

	customerSeq atomic.Int64
	accountSeq  atomic.Int64
	entrySeq    atomic.Int64

	locks  *lockTable
	closed atomic.Bool
}

// New creates an empty store.
func New() *Store {
	return &Store{
		customers:  make(map[int64]*ledger.Customer),
		byEmail:    make(map[string]int64),
		byIdentity: make(map[string]int64),
		accounts:   make(map[int64]*ledger.Account),
		byNumber:   make(map[string]int64),
		byOwner:    make(map[int64]int64),
		byExternal: make(map[uuid.UUID]int64),
		byAccount:  make(map[int64][]int),
		locks:      newLockTable(),
	}
}

var _ ledger.Store = (*Store)(nil)

// Atomic runs fn against a transaction that buffers its writes and applies
// them only when fn succeeds.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	if s.closed.Load() {
		return ErrClosed
	}

	tx := &tx{
		store:   s,
		active:  make(map[int64]bool),
		deleted: make(map[int64]time.Time),
		held:    make(map[int64]struct{}),
	}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.commit()
}

// Close marks the store closed. Data stays readable.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *Store) Customer(ctx context.Context, id int64) (*ledger.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.customer(id)
}

func (s *Store) CustomerByEmail(ctx context.Context, email string) (*ledger.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil, ledger.ErrCustomerNotFound
	}
	return s.customer(id)
}

func (s *Store) Customers(ctx context.Context) ([]ledger.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		out = append(out, *c)
	}
	slices.SortFunc(out, func(a, b ledger.Customer) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Store) Account(ctx context.Context, id int64) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account(id)
}

func (s *Store) AccountByNumber(ctx context.Context, number string) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byNumber[number]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	return s.account(id)
}

func (s *Store) AccountByExternalID(ctx context.Context, id uuid.UUID) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	internal, ok := s.byExternal[id]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	return s.account(internal)
}

func (s *Store) AccountByOwner(ctx context.Context, customerID int64) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byOwner[customerID]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	return s.account(id)
}

func (s *Store) AccountNumberTaken(ctx context.Context, number string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byNumber[number]
	return ok, nil
}

func (s *Store) AccountNumbers(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	numbers := make([]string, 0, len(s.byNumber))
	for n := range s.byNumber {
		numbers = append(numbers, n)
	}
	slices.Sort(numbers)
	return numbers, nil
}

func (s *Store) EntryTotals(ctx context.Context, accountID int64) (ledger.Totals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	totals := ledger.Totals{Credit: decimal.Zero, Debit: decimal.Zero}
	for _, i := range s.byAccount[accountID] {
		addEntry(&totals, &s.entries[i])
	}
	return totals, nil
}

func (s *Store) Entries(ctx context.Context, accountID int64) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.byAccount[accountID]
	out := make([]ledger.Entry, 0, len(idx))
	for i := len(idx) - 1; i >= 0; i-- {
		if e := s.entries[idx[i]]; !e.Deleted {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) EntriesByParty(ctx context.Context, customerID int64) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ledger.Entry
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if !e.Deleted && (e.SenderID == customerID || e.ReceiverID == customerID) {
			out = append(out, e)
		}
	}
	return out, nil
}

// customer and account expect s.mu held.
func (s *Store) customer(id int64) (*ledger.Customer, error) {
	c, ok := s.customers[id]
	if !ok {
		return nil, ledger.ErrCustomerNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) account(id int64) (*ledger.Account, error) {
	a, ok := s.accounts[id]
	if !ok || a.Deleted {
		return nil, ledger.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func addEntry(t *ledger.Totals, e *ledger.Entry) {
	if e.Deleted {
		return
	}
	if e.Direction.IsDebit() {
		t.Debit = t.Debit.Add(e.Amount)
	} else {
		t.Credit = t.Credit.Add(e.Amount)
	}
}

// tx buffers writes until commit. Locks it takes are released when Atomic
// returns, after the commit.
type tx struct {
	store *Store

	customers []*ledger.Customer
	accounts  []*ledger.Account
	entries   []*ledger.Entry
	active    map[int64]bool
	deleted   map[int64]time.Time

	held map[int64]struct{}
}

var _ ledger.Tx = (*tx)(nil)

func (t *tx) LockAccount(ctx context.Context, id int64) (*ledger.Account, error) {
	if _, err := t.Account(ctx, id); err != nil {
		return nil, err
	}
	if _, ok := t.held[id]; !ok {
		if err := t.store.locks.acquire(ctx, id); err != nil {
			return nil, err
		}
		t.held[id] = struct{}{}
	}
	// Re-read: the state may have changed while waiting.
	return t.Account(ctx, id)
}

func (t *tx) InsertCustomer(ctx context.Context, c *ledger.Customer) error {
	if _, err := t.CustomerByEmail(ctx, c.Email); err == nil {
		return ledger.NewFieldError("email", ledger.ErrDuplicateCustomer)
	}
	if t.identityTaken(c.IdentityNumber) {
		return ledger.NewFieldError("identity_number", ledger.ErrDuplicateCustomer)
	}
	c.ID = t.store.customerSeq.Add(1)
	cp := *c
	t.customers = append(t.customers, &cp)
	return nil
}

// identityTaken ignores empty identity numbers; they are rejected before
// reaching the store.
func (t *tx) identityTaken(identity string) bool {
	if identity == "" {
		return false
	}
	for _, c := range t.customers {
		if c.IdentityNumber == identity {
			return true
		}
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	_, ok := t.store.byIdentity[identity]
	return ok
}

func (t *tx) InsertAccount(ctx context.Context, a *ledger.Account) error {
	taken, _ := t.AccountNumberTaken(ctx, a.Number)
	if taken {
		return ledger.ErrDuplicateAccountNumber
	}
	a.ID = t.store.accountSeq.Add(1)
	cp := *a
	t.accounts = append(t.accounts, &cp)
	return nil
}

func (t *tx) SetAccountActive(ctx context.Context, id int64, active bool) error {
	if _, err := t.Account(ctx, id); err != nil {
		return err
	}
	t.active[id] = active
	return nil
}

func (t *tx) SoftDeleteAccount(ctx context.Context, id int64, at time.Time) error {
	if _, err := t.Account(ctx, id); err != nil {
		return err
	}
	t.deleted[id] = at
	return nil
}

func (t *tx) AppendEntries(ctx context.Context, entries ...*ledger.Entry) error {
	for _, e := range entries {
		if !e.Direction.Valid() {
			return fmt.Errorf("memory: invalid direction %q", e.Direction)
		}
		if _, err := t.Account(ctx, e.AccountID); err != nil {
			return err
		}
	}
	for _, e := range entries {
		e.ID = t.store.entrySeq.Add(1)
		cp := *e
		t.entries = append(t.entries, &cp)
	}
	return nil
}

func (t *tx) Customer(ctx context.Context, id int64) (*ledger.Customer, error) {
	for _, c := range t.customers {
		if c.ID == id {
			cp := *c
			return &cp, nil
		}
	}
	return t.store.Customer(ctx, id)
}

func (t *tx) CustomerByEmail(ctx context.Context, email string) (*ledger.Customer, error) {
	for _, c := range t.customers {
		if c.Email == email {
			cp := *c
			return &cp, nil
		}
	}
	return t.store.CustomerByEmail(ctx, email)
}

func (t *tx) Account(ctx context.Context, id int64) (*ledger.Account, error) {
	var acct *ledger.Account
	for _, a := range t.accounts {
		if a.ID == id {
			cp := *a
			acct = &cp
			break
		}
	}
	if acct == nil {
		a, err := t.store.Account(ctx, id)
		if err != nil {
			return nil, err
		}
		acct = a
	}

	if active, ok := t.active[id]; ok {
		acct.Active = active
	}
	if _, ok := t.deleted[id]; ok {
		return nil, ledger.ErrAccountNotFound
	}
	return acct, nil
}

func (t *tx) AccountByNumber(ctx context.Context, number string) (*ledger.Account, error) {
	for _, a := range t.accounts {
		if a.Number == number {
			return t.Account(ctx, a.ID)
		}
	}
	a, err := t.store.AccountByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	return t.Account(ctx, a.ID)
}

func (t *tx) AccountByExternalID(ctx context.Context, id uuid.UUID) (*ledger.Account, error) {
	for _, a := range t.accounts {
		if a.ExternalID == id {
			return t.Account(ctx, a.ID)
		}
	}
	a, err := t.store.AccountByExternalID(ctx, id)
	if err != nil {
		return nil, err
	}
	return t.Account(ctx, a.ID)
}

func (t *tx) AccountByOwner(ctx context.Context, customerID int64) (*ledger.Account, error) {
	for _, a := range t.accounts {
		if a.OwnerID == customerID {
			return t.Account(ctx, a.ID)
		}
	}
	a, err := t.store.AccountByOwner(ctx, customerID)
	if err != nil {
		return nil, err
	}
	return t.Account(ctx, a.ID)
}

func (t *tx) AccountNumberTaken(ctx context.Context, number string) (bool, error) {
	for _, a := range t.accounts {
		if a.Number == number {
			return true, nil
		}
	}
	return t.store.AccountNumberTaken(ctx, number)
}

func (t *tx) AccountNumbers(ctx context.Context) ([]string, error) {
	numbers, err := t.store.AccountNumbers(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range t.accounts {
		numbers = append(numbers, a.Number)
	}
	slices.Sort(numbers)
	return numbers, nil
}

func (t *tx) EntryTotals(ctx context.Context, accountID int64) (ledger.Totals, error) {
	totals, err := t.store.EntryTotals(ctx, accountID)
	if err != nil {
		return ledger.Totals{}, err
	}
	for _, e := range t.entries {
		if e.AccountID == accountID {
			addEntry(&totals, e)
		}
	}
	return totals, nil
}

func (t *tx) Entries(ctx context.Context, accountID int64) ([]ledger.Entry, error) {
	committed, err := t.store.Entries(ctx, accountID)
	if err != nil {
		return nil, err
	}
	var out []ledger.Entry
	for i := len(t.entries) - 1; i >= 0; i-- {
		if e := t.entries[i]; e.AccountID == accountID && !e.Deleted {
			out = append(out, *e)
		}
	}
	return append(out, committed...), nil
}

func (t *tx) EntriesByParty(ctx context.Context, customerID int64) ([]ledger.Entry, error) {
	committed, err := t.store.EntriesByParty(ctx, customerID)
	if err != nil {
		return nil, err
	}
	var out []ledger.Entry
	for i := len(t.entries) - 1; i >= 0; i-- {
		e := t.entries[i]
		if !e.Deleted && (e.SenderID == customerID || e.ReceiverID == customerID) {
			out = append(out, *e)
		}
	}
	return append(out, committed...), nil
}

// commit applies the buffered writes under the store's write lock. Unique
// keys are checked again here because two units may have picked the same
// number or email concurrently.
func (t *tx) commit() error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range t.customers {
		if _, ok := s.byEmail[c.Email]; ok {
			return ledger.NewFieldError("email", ledger.ErrDuplicateCustomer)
		}
		if _, ok := s.byIdentity[c.IdentityNumber]; ok && c.IdentityNumber != "" {
			return ledger.NewFieldError("identity_number", ledger.ErrDuplicateCustomer)
		}
	}
	for _, a := range t.accounts {
		if _, ok := s.byNumber[a.Number]; ok {
			return ledger.ErrDuplicateAccountNumber
		}
	}

	for _, c := range t.customers {
		s.customers[c.ID] = c
		s.byEmail[c.Email] = c.ID
		if c.IdentityNumber != "" {
			s.byIdentity[c.IdentityNumber] = c.ID
		}
	}
	for _, a := range t.accounts {
		s.accounts[a.ID] = a
		s.byNumber[a.Number] = a.ID
		s.byOwner[a.OwnerID] = a.ID
		s.byExternal[a.ExternalID] = a.ID
	}
	now := time.Now().UTC()
	for id, active := range t.active {
		if a, ok := s.accounts[id]; ok {
			a.Active = active
			a.UpdatedAt = now
		}
	}
	for id, at := range t.deleted {
		if a, ok := s.accounts[id]; ok {
			a.Deleted = true
			a.DeletedAt = &at
			a.UpdatedAt = at
		}
	}
	for _, e := range t.entries {
		s.entries = append(s.entries, *e)
		s.byAccount[e.AccountID] = append(s.byAccount[e.AccountID], len(s.entries)-1)
	}
	return nil
}

func (t *tx) release() {
	for id := range t.held {
		t.store.locks.release(id)
	}
	clear(t.held)
}
