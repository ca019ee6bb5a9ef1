package cache

import (
	"context"
	"time"
)

// CacheLayer is one level of the account number index. Values are plain
// strings; the index stores account ids.
type CacheLayer interface {
	// Get returns ErrKeyNotFound on a miss.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value for ttl. A zero ttl means the layer default.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Name identifies the layer in logs and metrics.
	Name() string

	Close() error
}
