package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"bank-ledger/pkg/ledger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, s *Store, email, number string) (*ledger.Customer, *ledger.Account) {
	t.Helper()
	c := &ledger.Customer{ExternalID: uuid.New(), FirstName: "F", LastName: "L", Email: email}
	a := &ledger.Account{ExternalID: uuid.New(), Number: number, Active: true}
	err := s.Atomic(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		if err := tx.InsertCustomer(ctx, c); err != nil {
			return err
		}
		a.OwnerID = c.ID
		return tx.InsertAccount(ctx, a)
	})
	require.NoError(t, err)
	return c, a
}

func credit(acct *ledger.Account, amount string) *ledger.Entry {
	return &ledger.Entry{
		AccountID:  acct.ID,
		SenderID:   acct.OwnerID,
		ReceiverID: acct.OwnerID,
		Amount:     decimal.RequireFromString(amount),
		Direction:  ledger.Credit,
	}
}

func TestAtomicRollback(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, a := seed(t, s, "a@x", "AAA")

	boom := errors.New("boom")
	err := s.Atomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if err := tx.AppendEntries(ctx, credit(a, "10")); err != nil {
			return err
		}
		totals, err := tx.EntryTotals(ctx, a.ID)
		require.NoError(t, err)
		assert.True(t, totals.Balance().Equal(decimal.NewFromInt(10)), "tx sees its own writes")
		return boom
	})
	assert.ErrorIs(t, err, boom)

	totals, err := s.EntryTotals(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, totals.Balance().IsZero())

	entries, err := s.Entries(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAppendAssignsIDsAndOrdersNewestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, a := seed(t, s, "a@x", "AAA")

	for _, amt := range []string{"1", "2", "3"} {
		e := credit(a, amt)
		require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
			return tx.AppendEntries(ctx, e)
		}))
		assert.NotZero(t, e.ID)
	}

	entries, err := s.Entries(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.True(t, entries[0].Amount.Equal(decimal.NewFromInt(3)))
	assert.Greater(t, entries[0].ID, entries[2].ID)
}

func TestUniqueKeys(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s, "a@x", "AAA")

	err := s.Atomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return tx.InsertAccount(ctx, &ledger.Account{ExternalID: uuid.New(), Number: "AAA", OwnerID: 1})
	})
	assert.ErrorIs(t, err, ledger.ErrDuplicateAccountNumber)

	err = s.Atomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return tx.InsertCustomer(ctx, &ledger.Customer{Email: "a@x"})
	})
	assert.ErrorIs(t, err, ledger.ErrDuplicateCustomer)

	err = s.Atomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return tx.InsertCustomer(ctx, &ledger.Customer{Email: "b@x", IdentityNumber: "ID-1"})
	})
	require.NoError(t, err)

	err = s.Atomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return tx.InsertCustomer(ctx, &ledger.Customer{Email: "c@x", IdentityNumber: "ID-1"})
	})
	assert.ErrorIs(t, err, ledger.ErrDuplicateCustomer)
	var fe *ledger.FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "identity_number", fe.Field)
}

func TestUniqueIdentityAtCommit(t *testing.T) {
	s := New()
	ctx := context.Background()

	// Both units pass the insert-time check; the second commit must fail.
	inserted := make(chan struct{})
	proceed := make(chan struct{})
	errc := make(chan error, 1)
	go func() {
		errc <- s.Atomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
			if err := tx.InsertCustomer(ctx, &ledger.Customer{Email: "a@x", IdentityNumber: "ID-9"}); err != nil {
				return err
			}
			close(inserted)
			<-proceed
			return nil
		})
	}()
	<-inserted

	err := s.Atomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return tx.InsertCustomer(ctx, &ledger.Customer{Email: "b@x", IdentityNumber: "ID-9"})
	})
	require.NoError(t, err)

	close(proceed)
	err = <-errc
	var fe *ledger.FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "identity_number", fe.Field)

	customers, err := s.Customers(ctx)
	require.NoError(t, err)
	assert.Len(t, customers, 1)
}

func TestCustomersOrderedByID(t *testing.T) {
	s := New()
	ctx := context.Background()

	customers, err := s.Customers(ctx)
	require.NoError(t, err)
	assert.Empty(t, customers)

	seed(t, s, "c@x", "CCC")
	seed(t, s, "a@x", "AAA")
	seed(t, s, "b@x", "BBB")

	customers, err = s.Customers(ctx)
	require.NoError(t, err)
	require.Len(t, customers, 3)
	for i, want := range []string{"c@x", "a@x", "b@x"} {
		assert.Equal(t, want, customers[i].Email)
		assert.EqualValues(t, i+1, customers[i].ID)
	}
}

func TestSoftDeleteKeepsNumberReserved(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, a := seed(t, s, "a@x", "AAA")

	require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if err := tx.AppendEntries(ctx, credit(a, "4")); err != nil {
			return err
		}
		return tx.SoftDeleteAccount(ctx, a.ID, time.Now())
	}))

	_, err := s.AccountByNumber(ctx, "AAA")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)

	taken, err := s.AccountNumberTaken(ctx, "AAA")
	require.NoError(t, err)
	assert.True(t, taken)

	entries, err := s.EntriesByParty(ctx, a.OwnerID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSetAccountActive(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, a := seed(t, s, "a@x", "AAA")

	require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if err := tx.SetAccountActive(ctx, a.ID, false); err != nil {
			return err
		}
		got, err := tx.Account(ctx, a.ID)
		require.NoError(t, err)
		assert.False(t, got.Active)
		return nil
	}))

	got, err := s.Account(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
}

func TestLockAccountWaitsAndTimesOut(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, a := seed(t, s, "a@x", "AAA")

	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = s.Atomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
			_, err := tx.LockAccount(ctx, a.ID)
			close(holding)
			<-release
			return err
		})
	}()
	<-holding

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := s.Atomic(short, func(ctx context.Context, tx ledger.Tx) error {
		_, err := tx.LockAccount(ctx, a.ID)
		return err
	})
	assert.ErrorIs(t, err, ledger.ErrLockTimeout)

	close(release)

	// Once released the lock is free again.
	err = s.Atomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		_, err := tx.LockAccount(ctx, a.ID)
		return err
	})
	assert.NoError(t, err)
}

func TestLockSlotsDroppedAfterRelease(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, a := seed(t, s, "a@x", "AAA")
	_, b := seed(t, s, "b@x", "BBB")

	for i := 0; i < 10; i++ {
		err := s.Atomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
			if _, err := tx.LockAccount(ctx, a.ID); err != nil {
				return err
			}
			_, err := tx.LockAccount(ctx, b.ID)
			return err
		})
		require.NoError(t, err)
	}
	assert.Equal(t, 0, s.locks.size())

	// A waiter that gives up leaves nothing behind either.
	holding := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Atomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
			_, err := tx.LockAccount(ctx, a.ID)
			close(holding)
			<-release
			return err
		})
	}()
	<-holding

	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	err := s.Atomic(short, func(ctx context.Context, tx ledger.Tx) error {
		_, err := tx.LockAccount(ctx, a.ID)
		return err
	})
	assert.ErrorIs(t, err, ledger.ErrLockTimeout)
	assert.Equal(t, 1, s.locks.size())

	close(release)
	<-done
	assert.Equal(t, 0, s.locks.size())
}

func TestLockAccountReentrant(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, a := seed(t, s, "a@x", "AAA")

	err := s.Atomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if _, err := tx.LockAccount(ctx, a.ID); err != nil {
			return err
		}
		_, err := tx.LockAccount(ctx, a.ID)
		return err
	})
	assert.NoError(t, err)
}

func TestLockUnknownAccount(t *testing.T) {
	s := New()
	err := s.Atomic(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		_, err := tx.LockAccount(ctx, 42)
		return err
	})
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestClosedStore(t *testing.T) {
	s := New()
	require.NoError(t, s.Close())
	err := s.Atomic(context.Background(), func(context.Context, ledger.Tx) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
}
