package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"bank-ledger/pkg/logging"
	"bank-ledger/pkg/metrics"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Operation names used in logs and metrics.
const (
	OpOpenAccount  = "open_account"
	OpDeposit      = "deposit"
	OpWithdraw     = "withdraw"
	OpTransfer     = "transfer"
	OpActivate     = "activate"
	OpDeactivate   = "deactivate"
	OpCloseAccount = "close_account"
)

// Guard runs an atomic unit, e.g. behind a circuit breaker.
type Guard interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

type directGuard struct{}

func (directGuard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Options wires optional collaborators into a Service. Zero values get
// working defaults.
type Options struct {
	Config  Config
	Metrics metrics.MetricsCollector
	Logger  *logging.Logger
	Guard   Guard
	Index   NumberIndex
	Filter  NumberFilter
}

// Service executes deposits, withdrawals and transfers against a Store.
// Every balance-affecting operation runs in one atomic unit and holds the
// locks of the accounts it reads from validation to commit.
type Service struct {
	store    Store
	cfg      Config
	calc     BalanceCalculator
	recorder *Recorder
	numbers  *NumberGenerator
	guard    Guard
	index    NumberIndex
	metrics  metrics.MetricsCollector
	logger   *logging.Logger
	now      func() time.Time
}

// NewService creates a ledger service on top of store.
func NewService(store Store, opts Options) (*Service, error) {
	if store == nil {
		return nil, errors.New("ledger: store is required")
	}

	cfg := opts.Config
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		store:    store,
		cfg:      cfg,
		recorder: NewRecorder(),
		numbers:  NewNumberGenerator(cfg.NumberLength, cfg.NumberAttempts, opts.Filter),
		guard:    opts.Guard,
		index:    opts.Index,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		now:      time.Now,
	}
	if s.guard == nil {
		s.guard = directGuard{}
	}
	if s.metrics == nil {
		s.metrics = metrics.NoOpCollector{}
	}
	if s.logger == nil {
		s.logger = logging.L()
	}
	s.logger = s.logger.Named("ledger")

	return s, nil
}

// OpenAccount creates a customer together with an inactive account.
func (s *Service) OpenAccount(ctx context.Context, nc NewCustomer) (*Customer, *Account, error) {
	if err := validateNewCustomer(nc); err != nil {
		return nil, nil, s.reject(OpOpenAccount, err)
	}

	var (
		customer *Customer
		account  *Account
	)
	err := s.execute(ctx, OpOpenAccount, func(ctx context.Context, tx Tx) error {
		_, err := tx.CustomerByEmail(ctx, nc.Email)
		switch {
		case err == nil:
			return NewFieldError("email", ErrDuplicateCustomer)
		case !errors.Is(err, ErrCustomerNotFound):
			return err
		}

		now := s.now().UTC()
		c := &Customer{
			ExternalID:     uuid.New(),
			FirstName:      nc.FirstName,
			LastName:       nc.LastName,
			Email:          nc.Email,
			IdentityNumber: nc.IdentityNumber,
			Address:        nc.Address,
			Sex:            nc.Sex,
			CreatedAt:      now,
		}
		if err := tx.InsertCustomer(ctx, c); err != nil {
			return err
		}

		number, err := s.numbers.Generate(ctx, tx.AccountNumberTaken)
		if err != nil {
			return err
		}

		a := &Account{
			ExternalID: uuid.New(),
			Number:     number,
			OwnerID:    c.ID,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.InsertAccount(ctx, a); err != nil {
			return err
		}

		customer, account = c, a
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.numbers.Issued(account.Number)
	if s.index != nil {
		s.index.Remember(ctx, account.Number, account.ID)
	}
	return customer, account, nil
}

// Deposit credits amount to the actor's account.
func (s *Service) Deposit(ctx context.Context, actor Actor, amount decimal.Decimal) (*Receipt, error) {
	if err := ValidateAmount(amount); err != nil {
		return nil, s.reject(OpDeposit, NewFieldError("amount", err))
	}

	var receipt *Receipt
	err := s.execute(ctx, OpDeposit, func(ctx context.Context, tx Tx) error {
		owner, acct, err := s.accountOf(ctx, tx, actor.CustomerID)
		if err != nil {
			return err
		}
		if !acct.Active {
			return NewFieldError("sender", ErrInactiveAccount)
		}

		// Credits cannot overdraw, but the lock keeps concurrent balance
		// checks on this account consistent.
		if acct, err = tx.LockAccount(ctx, acct.ID); err != nil {
			return err
		}
		if !acct.Active {
			return NewFieldError("sender", ErrInactiveAccount)
		}

		e, err := s.recorder.RecordSelfEntry(ctx, tx, acct, amount, Credit, DescriptionDeposit)
		if err != nil {
			return err
		}
		receipt = newReceipt(e, acct.Number, owner.Email, owner.Email)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// Withdraw debits amount from the actor's account if the balance covers it.
func (s *Service) Withdraw(ctx context.Context, actor Actor, amount decimal.Decimal) (*Receipt, error) {
	if err := ValidateAmount(amount); err != nil {
		return nil, s.reject(OpWithdraw, NewFieldError("amount", err))
	}

	var receipt *Receipt
	err := s.execute(ctx, OpWithdraw, func(ctx context.Context, tx Tx) error {
		owner, acct, err := s.accountOf(ctx, tx, actor.CustomerID)
		if err != nil {
			return err
		}
		if !acct.Active {
			return NewFieldError("sender", ErrInactiveAccount)
		}

		if acct, err = tx.LockAccount(ctx, acct.ID); err != nil {
			return err
		}
		if !acct.Active {
			return NewFieldError("sender", ErrInactiveAccount)
		}

		balance, err := s.calc.Balance(ctx, tx, acct.ID)
		if err != nil {
			return err
		}
		if balance.LessThan(amount) {
			return NewFieldError("amount", ErrInsufficientBalance)
		}

		e, err := s.recorder.RecordSelfEntry(ctx, tx, acct, amount, Debit, DescriptionWithdrawn)
		if err != nil {
			return err
		}
		receipt = newReceipt(e, acct.Number, owner.Email, owner.Email)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// Transfer moves req.Amount from the sender's account to the account
// numbered req.DestinationAccountNumber and returns the sender-side receipt.
func (s *Service) Transfer(ctx context.Context, actor Actor, req TransferRequest) (*Receipt, error) {
	if err := ValidateAmount(req.Amount); err != nil {
		return nil, s.reject(OpTransfer, NewFieldError("amount", err))
	}

	senderID := req.SenderCustomerID
	if senderID == 0 {
		senderID = actor.CustomerID
	}
	if senderID != actor.CustomerID && !actor.Admin {
		return nil, s.reject(OpTransfer, ErrForbidden)
	}

	var receipt *Receipt
	err := s.execute(ctx, OpTransfer, func(ctx context.Context, tx Tx) error {
		to, err := s.resolveNumber(ctx, tx, req.DestinationAccountNumber)
		if errors.Is(err, ErrAccountNotFound) {
			return NewFieldError("destination_account_number", ErrInvalidAccountNumber)
		}
		if err != nil {
			return err
		}
		if !to.Active {
			return NewFieldError("receiver", ErrInactiveAccount)
		}

		sender, from, err := s.accountOf(ctx, tx, senderID)
		if err != nil {
			return err
		}
		if !from.Active {
			return NewFieldError("sender", ErrInactiveAccount)
		}

		locked, err := lockInOrder(ctx, tx, from.ID, to.ID)
		if err != nil {
			return err
		}
		from, to = locked[from.ID], locked[to.ID]
		if !to.Active {
			return NewFieldError("receiver", ErrInactiveAccount)
		}
		if !from.Active {
			return NewFieldError("sender", ErrInactiveAccount)
		}

		balance, err := s.calc.Balance(ctx, tx, from.ID)
		if err != nil {
			return err
		}
		if balance.LessThan(req.Amount) {
			return NewFieldError("amount", ErrInsufficientBalance)
		}

		receiver, err := tx.Customer(ctx, to.OwnerID)
		if err != nil {
			return err
		}

		debit, _, err := s.recorder.RecordTransferPair(ctx, tx, from, to, req.Amount)
		if err != nil {
			return err
		}
		receipt = newReceipt(debit, from.Number, sender.Email, receiver.Email)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// Activate allows the account to send and receive funds.
func (s *Service) Activate(ctx context.Context, actor Actor, accountID uuid.UUID) (*Account, error) {
	return s.setActive(ctx, OpActivate, actor, accountID, true)
}

// Deactivate stops the account from sending and receiving funds.
func (s *Service) Deactivate(ctx context.Context, actor Actor, accountID uuid.UUID) (*Account, error) {
	return s.setActive(ctx, OpDeactivate, actor, accountID, false)
}

func (s *Service) setActive(ctx context.Context, op string, actor Actor, accountID uuid.UUID, active bool) (*Account, error) {
	var result *Account
	err := s.execute(ctx, op, func(ctx context.Context, tx Tx) error {
		acct, err := tx.AccountByExternalID(ctx, accountID)
		if err != nil {
			return err
		}
		if !actor.CanManage(acct) {
			return ErrForbidden
		}

		if acct, err = tx.LockAccount(ctx, acct.ID); err != nil {
			return err
		}
		if acct.Active != active {
			if err := tx.SetAccountActive(ctx, acct.ID, active); err != nil {
				return err
			}
			acct.Active = active
			acct.UpdatedAt = s.now().UTC()
		}
		result = acct
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CloseAccount soft-deletes an account. Its entries are kept and its number
// is never issued again.
func (s *Service) CloseAccount(ctx context.Context, actor Actor, accountID uuid.UUID) error {
	if !actor.Admin {
		return s.reject(OpCloseAccount, ErrForbidden)
	}

	return s.execute(ctx, OpCloseAccount, func(ctx context.Context, tx Tx) error {
		acct, err := tx.AccountByExternalID(ctx, accountID)
		if err != nil {
			return err
		}
		if _, err := tx.LockAccount(ctx, acct.ID); err != nil {
			return err
		}
		return tx.SoftDeleteAccount(ctx, acct.ID, s.now().UTC())
	})
}

// Balance derives the current balance of an account outside any atomic
// unit. Every call reads the store, so a caller always sees the entries
// committed before it started.
func (s *Service) Balance(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	return s.calc.Balance(ctx, s.store, accountID)
}

// AccountSummary returns the actor's own account.
func (s *Service) AccountSummary(ctx context.Context, actor Actor) (*AccountView, error) {
	acct, err := s.store.AccountByOwner(ctx, actor.CustomerID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, acct)
}

// AccountByExternalID returns an account the actor may manage.
func (s *Service) AccountByExternalID(ctx context.Context, actor Actor, accountID uuid.UUID) (*AccountView, error) {
	acct, err := s.store.AccountByExternalID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !actor.CanManage(acct) {
		return nil, ErrForbidden
	}
	return s.view(ctx, acct)
}

// AccountByOwner returns the account held by customerID if the actor may
// manage it.
func (s *Service) AccountByOwner(ctx context.Context, actor Actor, customerID int64) (*AccountView, error) {
	acct, err := s.store.AccountByOwner(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if !actor.CanManage(acct) {
		return nil, ErrForbidden
	}
	return s.view(ctx, acct)
}

// Customers lists every customer by id. Administrators only.
func (s *Service) Customers(ctx context.Context, actor Actor) ([]Customer, error) {
	if !actor.Admin {
		return nil, ErrForbidden
	}
	customers, err := s.store.Customers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	return customers, nil
}

// Mutations lists the entries posted to an account, newest first.
func (s *Service) Mutations(ctx context.Context, actor Actor, accountID uuid.UUID) ([]Receipt, error) {
	acct, err := s.store.AccountByExternalID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !actor.CanManage(acct) {
		return nil, ErrForbidden
	}

	entries, err := s.store.Entries(ctx, acct.ID)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	return s.receipts(ctx, entries)
}

// CustomerTransactions lists every entry the customer sent or received.
// Administrators only.
func (s *Service) CustomerTransactions(ctx context.Context, actor Actor, customerID int64) ([]Receipt, error) {
	if !actor.Admin {
		return nil, ErrForbidden
	}
	if _, err := s.store.Customer(ctx, customerID); err != nil {
		return nil, err
	}

	entries, err := s.store.EntriesByParty(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	return s.receipts(ctx, entries)
}

func (s *Service) view(ctx context.Context, acct *Account) (*AccountView, error) {
	owner, err := s.store.Customer(ctx, acct.OwnerID)
	if err != nil {
		return nil, err
	}
	balance, err := s.Balance(ctx, acct.ID)
	if err != nil {
		return nil, err
	}
	return &AccountView{
		ID:            acct.ID,
		ExternalID:    acct.ExternalID,
		AccountNumber: acct.Number,
		Owner:         owner.DisplayName(),
		Active:        acct.Active,
		Balance:       balance,
	}, nil
}

func (s *Service) receipts(ctx context.Context, entries []Entry) ([]Receipt, error) {
	emails := make(map[int64]string)
	numbers := make(map[int64]string)

	email := func(id int64) (string, error) {
		if e, ok := emails[id]; ok {
			return e, nil
		}
		c, err := s.store.Customer(ctx, id)
		if err != nil {
			return "", err
		}
		emails[id] = c.Email
		return c.Email, nil
	}

	out := make([]Receipt, 0, len(entries))
	for i := range entries {
		e := &entries[i]

		number, ok := numbers[e.AccountID]
		if !ok {
			acct, err := s.store.Account(ctx, e.AccountID)
			switch {
			case err == nil:
				number = acct.Number
			case !errors.Is(err, ErrAccountNotFound):
				return nil, err
			}
			// Closed accounts keep their entries but are no longer resolvable.
			numbers[e.AccountID] = number
		}

		sender, err := email(e.SenderID)
		if err != nil {
			return nil, err
		}
		receiver, err := email(e.ReceiverID)
		if err != nil {
			return nil, err
		}
		out = append(out, *newReceipt(e, number, sender, receiver))
	}
	return out, nil
}

// execute runs fn as one atomic unit bounded by the configured timeout.
func (s *Service) execute(ctx context.Context, op string, fn func(ctx context.Context, tx Tx) error) error {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.TxTimeout)
	defer cancel()

	err := s.guard.Do(ctx, func(ctx context.Context) error {
		return s.store.Atomic(ctx, fn)
	})
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrLockTimeout) {
		err = fmt.Errorf("%w: %w", ErrLockTimeout, err)
	}
	err = wrapOp(op, err)

	s.observe(op, err, time.Since(start))
	return err
}

// reject records an operation refused before any store work.
func (s *Service) reject(op string, err error) error {
	s.observe(op, err, 0)
	return err
}

func (s *Service) observe(op string, err error, d time.Duration) {
	outcome := ClassifyError(err)
	s.metrics.RecordOperation(op, outcome, d)

	fields := []zap.Field{
		zap.String("op", op),
		zap.String("outcome", outcome),
		zap.Duration("duration", d),
	}
	switch {
	case err == nil:
		s.logger.Debug("operation committed", fields...)
	case IsValidation(err), IsNotFound(err), errors.Is(err, ErrForbidden):
		s.logger.Info("operation rejected", append(fields, zap.Error(err))...)
	case IsTransient(err):
		s.logger.Warn("operation timed out", append(fields, zap.Error(err))...)
	default:
		s.logger.Error("operation failed", append(fields, zap.Error(err))...)
	}
}

func (s *Service) accountOf(ctx context.Context, r Reader, customerID int64) (*Customer, *Account, error) {
	customer, err := r.Customer(ctx, customerID)
	if err != nil {
		return nil, nil, err
	}
	acct, err := r.AccountByOwner(ctx, customerID)
	if err != nil {
		return nil, nil, err
	}
	return customer, acct, nil
}

// resolveNumber finds the account behind a number, trying the index first.
func (s *Service) resolveNumber(ctx context.Context, tx Tx, number string) (*Account, error) {
	if s.index != nil {
		if id, ok := s.index.Lookup(ctx, number); ok {
			acct, err := tx.Account(ctx, id)
			if err == nil && acct.Number == number {
				return acct, nil
			}
		}
	}

	acct, err := tx.AccountByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if s.index != nil {
		s.index.Remember(ctx, number, acct.ID)
	}
	return acct, nil
}

// lockInOrder locks accounts in ascending id order so two transfers in
// opposite directions cannot deadlock. Duplicate ids are locked once.
func lockInOrder(ctx context.Context, tx Tx, ids ...int64) (map[int64]*Account, error) {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	locked := make(map[int64]*Account, len(sorted))
	for _, id := range sorted {
		acct, err := tx.LockAccount(ctx, id)
		if err != nil {
			return nil, err
		}
		locked[id] = acct
	}
	return locked, nil
}

func newReceipt(e *Entry, number, sender, receiver string) *Receipt {
	return &Receipt{
		ID:            e.ID,
		AccountNumber: number,
		Sender:        sender,
		Receiver:      receiver,
		Amount:        e.Amount.Round(AmountScale),
		Direction:     e.Direction,
		Description:   e.Description,
		CreatedAt:     e.CreatedAt,
	}
}

func validateNewCustomer(nc NewCustomer) error {
	switch {
	case strings.TrimSpace(nc.FirstName) == "":
		return NewFieldError("first_name", ErrInvalidCustomer)
	case strings.TrimSpace(nc.LastName) == "":
		return NewFieldError("last_name", ErrInvalidCustomer)
	case !strings.Contains(nc.Email, "@"):
		return NewFieldError("email", ErrInvalidCustomer)
	case strings.TrimSpace(nc.IdentityNumber) == "":
		return NewFieldError("identity_number", ErrInvalidCustomer)
	case nc.Sex != "" && nc.Sex != SexMale && nc.Sex != SexFemale:
		return NewFieldError("sex", ErrInvalidCustomer)
	}
	return nil
}
