package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Direction tells whether an entry reduces or increases the balance of the
// account it posts to.
type Direction string

const (
	// Credit increases the account balance.
	Credit Direction = "credit"
	// Debit reduces the account balance.
	Debit Direction = "debit"
)

// IsDebit reports whether the direction is Debit.
func (d Direction) IsDebit() bool {
	return d == Debit
}

// Valid reports whether d is one of the known directions.
func (d Direction) Valid() bool {
	return d == Credit || d == Debit
}

// Entry descriptions written by the recorder.
const (
	DescriptionDeposit     = "Amount deposit"
	DescriptionWithdrawn   = "Amount withdrawn"
	DescriptionTransferred = "Amount transferred"
	DescriptionReceived    = "Amount received"
)

// Customer owns exactly one account.
type Customer struct {
	ID             int64
	ExternalID     uuid.UUID
	FirstName      string
	LastName       string
	Email          string
	IdentityNumber string
	Address        string
	Sex            string
	CreatedAt      time.Time
}

// DisplayName returns "First Last".
func (c *Customer) DisplayName() string {
	switch {
	case c.FirstName == "":
		return c.LastName
	case c.LastName == "":
		return c.FirstName
	default:
		return c.FirstName + " " + c.LastName
	}
}

// Account is a customer's bank account. It carries no balance: the balance
// is always derived from the account's entries.
type Account struct {
	ID         int64
	ExternalID uuid.UUID
	Number     string
	OwnerID    int64
	Active     bool
	Deleted    bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeletedAt  *time.Time
}

// Entry is one immutable ledger row posted to a single account.
type Entry struct {
	ID          int64
	AccountID   int64
	SenderID    int64
	ReceiverID  int64
	Amount      decimal.Decimal
	Direction   Direction
	Description string
	Deleted     bool
	CreatedAt   time.Time
}

// Totals holds the credit and debit sums of an account's live entries.
type Totals struct {
	Credit decimal.Decimal
	Debit  decimal.Decimal
}

// Balance returns Credit - Debit.
func (t Totals) Balance() decimal.Decimal {
	return t.Credit.Sub(t.Debit)
}

// NewCustomer carries the fields needed to open a customer with an account.
type NewCustomer struct {
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Email          string `json:"email"`
	IdentityNumber string `json:"identity_number"`
	Address        string `json:"address"`
	Sex            string `json:"sex,omitempty"`
}

// Values accepted for NewCustomer.Sex. Empty means not given.
const (
	SexMale   = "male"
	SexFemale = "female"
)

// TransferRequest describes a transfer. SenderCustomerID may be left zero to
// send from the actor's own account.
type TransferRequest struct {
	SenderCustomerID         int64
	DestinationAccountNumber string
	Amount                   decimal.Decimal
}

// Receipt is the caller-facing record of a posted entry.
type Receipt struct {
	ID            int64           `json:"id"`
	AccountNumber string          `json:"account_number"`
	Sender        string          `json:"sender"`
	Receiver      string          `json:"receiver"`
	Amount        decimal.Decimal `json:"amount"`
	Direction     Direction       `json:"direction"`
	Description   string          `json:"description"`
	CreatedAt     time.Time       `json:"created_at"`
}

// AccountView is the caller-facing summary of an account.
type AccountView struct {
	ID            int64           `json:"id"`
	ExternalID    uuid.UUID       `json:"external_id"`
	AccountNumber string          `json:"account_number"`
	Owner         string          `json:"owner"`
	Active        bool            `json:"active"`
	Balance       decimal.Decimal `json:"balance"`
}

// Actor is the already-authenticated identity an operation runs as. The
// authentication layer outside the ledger decides who is an administrator.
type Actor struct {
	CustomerID int64
	Admin      bool
}

// CanManage reports whether the actor may change the given account.
func (a Actor) CanManage(acct *Account) bool {
	return a.Admin || (a.CustomerID != 0 && acct.OwnerID == a.CustomerID)
}
