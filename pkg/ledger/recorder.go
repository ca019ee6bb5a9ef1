package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Recorder appends entries. It never updates an existing entry.
type Recorder struct {
	now func() time.Time
}

// NewRecorder creates a recorder using the wall clock.
func NewRecorder() *Recorder {
	return &Recorder{now: time.Now}
}

// RecordSelfEntry posts one entry to acct where the owner is both sender and
// receiver. Used for deposits and withdrawals.
func (r *Recorder) RecordSelfEntry(ctx context.Context, tx Tx, acct *Account, amount decimal.Decimal, dir Direction, description string) (*Entry, error) {
	if !dir.Valid() {
		return nil, fmt.Errorf("record entry: unknown direction %q", dir)
	}

	e := &Entry{
		AccountID:   acct.ID,
		SenderID:    acct.OwnerID,
		ReceiverID:  acct.OwnerID,
		Amount:      amount,
		Direction:   dir,
		Description: description,
		CreatedAt:   r.now().UTC(),
	}
	if err := tx.AppendEntries(ctx, e); err != nil {
		return nil, fmt.Errorf("record entry: %w", err)
	}
	return e, nil
}

// RecordTransferPair posts a debit on from and a credit on to in one append.
// Both entries carry the same sender, receiver and amount.
func (r *Recorder) RecordTransferPair(ctx context.Context, tx Tx, from, to *Account, amount decimal.Decimal) (debit, credit *Entry, err error) {
	at := r.now().UTC()

	debit = &Entry{
		AccountID:   from.ID,
		SenderID:    from.OwnerID,
		ReceiverID:  to.OwnerID,
		Amount:      amount,
		Direction:   Debit,
		Description: DescriptionTransferred,
		CreatedAt:   at,
	}
	credit = &Entry{
		AccountID:   to.ID,
		SenderID:    from.OwnerID,
		ReceiverID:  to.OwnerID,
		Amount:      amount,
		Direction:   Credit,
		Description: DescriptionReceived,
		CreatedAt:   at,
	}

	if err := tx.AppendEntries(ctx, debit, credit); err != nil {
		return nil, nil, fmt.Errorf("record transfer: %w", err)
	}
	return debit, credit, nil
}
