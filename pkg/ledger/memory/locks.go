package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"bank-ledger/pkg/ledger"
)

// lockTable hands out one exclusive slot per account. A slot is a channel
// with capacity one so waiting can be abandoned when ctx ends. Slots are
// reference counted by holders and waiters and dropped when the count
// reaches zero.
type lockTable struct {
	mu    sync.Mutex
	slots map[int64]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{slots: make(map[int64]*lockSlot)}
}

func (lt *lockTable) ref(id int64) *lockSlot {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	sl, ok := lt.slots[id]
	if !ok {
		sl = &lockSlot{ch: make(chan struct{}, 1)}
		lt.slots[id] = sl
	}
	sl.refs++
	return sl
}

func (lt *lockTable) unref(id int64, sl *lockSlot) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	sl.refs--
	if sl.refs == 0 {
		delete(lt.slots, id)
	}
}

func (lt *lockTable) acquire(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return lockErr(id, err)
	}
	sl := lt.ref(id)
	select {
	case sl.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		lt.unref(id, sl)
		return lockErr(id, ctx.Err())
	}
}

func (lt *lockTable) release(id int64) {
	lt.mu.Lock()
	sl, ok := lt.slots[id]
	lt.mu.Unlock()
	if !ok {
		return
	}
	select {
	case <-sl.ch:
	default:
	}
	lt.unref(id, sl)
}

func (lt *lockTable) size() int {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return len(lt.slots)
}

func lockErr(id int64, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: account %d", ledger.ErrLockTimeout, id)
	}
	return err
}
