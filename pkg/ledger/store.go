package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Reader is the read side of a ledger store. Lookups of deleted accounts
// return ErrAccountNotFound.
type Reader interface {
	Customer(ctx context.Context, id int64) (*Customer, error)
	CustomerByEmail(ctx context.Context, email string) (*Customer, error)

	Account(ctx context.Context, id int64) (*Account, error)
	AccountByNumber(ctx context.Context, number string) (*Account, error)
	AccountByExternalID(ctx context.Context, id uuid.UUID) (*Account, error)
	AccountByOwner(ctx context.Context, customerID int64) (*Account, error)

	// AccountNumberTaken also counts deleted accounts: numbers are never reused.
	AccountNumberTaken(ctx context.Context, number string) (bool, error)
	AccountNumbers(ctx context.Context) ([]string, error)

	TotalsReader

	// Entries returns the live entries posted to the account, newest first.
	Entries(ctx context.Context, accountID int64) ([]Entry, error)
	// EntriesByParty returns live entries where the customer is sender or receiver, newest first.
	EntriesByParty(ctx context.Context, customerID int64) ([]Entry, error)
}

// TotalsReader is what the balance calculator needs.
type TotalsReader interface {
	// EntryTotals sums the live entries of the account. No entries yields zero totals.
	EntryTotals(ctx context.Context, accountID int64) (Totals, error)
}

// Tx is one atomic unit of work. Reads through a Tx see its own uncommitted
// writes.
type Tx interface {
	Reader

	// LockAccount returns the account with an exclusive lock held until the
	// atomic unit ends. It blocks while another unit holds the lock and fails
	// with ErrLockTimeout when ctx expires first.
	LockAccount(ctx context.Context, id int64) (*Account, error)

	InsertCustomer(ctx context.Context, c *Customer) error
	InsertAccount(ctx context.Context, a *Account) error
	SetAccountActive(ctx context.Context, id int64, active bool) error
	SoftDeleteAccount(ctx context.Context, id int64, at time.Time) error

	// AppendEntries stores all entries or none. IDs are assigned in place.
	AppendEntries(ctx context.Context, entries ...*Entry) error
}

// Store persists customers, accounts and entries.
type Store interface {
	Reader

	// Customers lists every customer ordered by id.
	Customers(ctx context.Context) ([]Customer, error)

	// Atomic runs fn in one atomic unit. If fn returns an error nothing it
	// wrote is kept. All locks taken through the Tx are released on return.
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	Close() error
}
