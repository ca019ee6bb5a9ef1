package ledger

import (
	"context"
	"strconv"
	"time"

	"bank-ledger/pkg/cache"
)

// NumberIndex caches the account number -> account id mapping. The mapping
// never changes once an account exists, so a hit only saves the unique-index
// lookup; the account row itself is always read through the Tx.
type NumberIndex interface {
	Lookup(ctx context.Context, number string) (int64, bool)
	Remember(ctx context.Context, number string, id int64)
}

// KeyValue is the part of a cache the number index uses.
type KeyValue interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

type cachedIndex struct {
	kv   KeyValue
	keys *cache.KeyPattern
	ttl  time.Duration
}

// NewCachedIndex builds a NumberIndex on top of a key-value cache.
func NewCachedIndex(kv KeyValue, ttl time.Duration) NumberIndex {
	return &cachedIndex{
		kv:   kv,
		keys: cache.NewKeyPattern("account", ":"),
		ttl:  ttl,
	}
}

func (ci *cachedIndex) Lookup(ctx context.Context, number string) (int64, bool) {
	v, err := ci.kv.Get(ctx, ci.keys.Build("number", number))
	if err != nil {
		return 0, false
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (ci *cachedIndex) Remember(ctx context.Context, number string, id int64) {
	// Index failures only cost a slower lookup next time.
	_ = ci.kv.Set(ctx, ci.keys.Build("number", number), strconv.FormatInt(id, 10), ci.ttl)
}
