// Package redis is the shared L2 layer of the account number index, built on
// rueidis. It supports single node, cluster and sentinel deployments.
package redis

import (
	"context"
	"fmt"
	"time"

	"bank-ledger/pkg/cache"

	"github.com/redis/rueidis"
)

type RedisCache struct {
	client rueidis.Client
	name   string
	config RedisCacheConfig
}

var _ cache.CacheLayer = (*RedisCache)(nil)

type RedisCacheConfig struct {
	Name string
	// Addr is the server address in single node mode, e.g. "localhost:6379".
	Addr string
	// ClusterAddrs enables cluster mode when set.
	ClusterAddrs []string
	Username     string
	Password     string
	// DB is the database number. Cluster mode only supports 0.
	DB          int
	KeyPrefix   string
	DefaultTTL  time.Duration
	DialTimeout time.Duration
	// WriteTimeout bounds each connection write.
	WriteTimeout time.Duration
	// SentinelAddrs enables sentinel mode when set.
	SentinelAddrs     []string
	SentinelMasterSet string
	SentinelUsername  string
	SentinelPassword  string
}

func DefaultRedisCacheConfig() RedisCacheConfig {
	return RedisCacheConfig{
		Name:         "redis",
		Addr:         "localhost:6379",
		KeyPrefix:    "ledger:",
		DefaultTTL:   time.Hour,
		DialTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// ClusterCacheConfig returns a configuration for Redis Cluster mode.
func ClusterCacheConfig(name string, clusterAddrs []string, password string) RedisCacheConfig {
	config := DefaultRedisCacheConfig()
	config.Name = name
	config.ClusterAddrs = clusterAddrs
	config.Password = password
	config.Addr = ""
	config.DB = 0
	return config
}

// SentinelCacheConfig returns a configuration for Redis Sentinel mode.
func SentinelCacheConfig(name string, sentinelAddrs []string, masterSet, password string) RedisCacheConfig {
	config := DefaultRedisCacheConfig()
	config.Name = name
	config.SentinelAddrs = sentinelAddrs
	config.SentinelMasterSet = masterSet
	config.Password = password
	config.Addr = ""
	return config
}

func (c RedisCacheConfig) initAddress() ([]string, error) {
	switch {
	case len(c.ClusterAddrs) > 0:
		return c.ClusterAddrs, nil
	case len(c.SentinelAddrs) > 0:
		return c.SentinelAddrs, nil
	case c.Addr != "":
		return []string{c.Addr}, nil
	default:
		return nil, fmt.Errorf("redis: no addresses configured (set Addr, ClusterAddrs, or SentinelAddrs)")
	}
}

func NewRedisCache(config RedisCacheConfig) (*RedisCache, error) {
	if config.Name == "" {
		config.Name = "redis"
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 5 * time.Second
	}

	initAddress, err := config.initAddress()
	if err != nil {
		return nil, err
	}

	clientOpts := rueidis.ClientOption{
		InitAddress:      initAddress,
		Username:         config.Username,
		Password:         config.Password,
		SelectDB:         config.DB,
		ConnWriteTimeout: config.WriteTimeout,
		MaxFlushDelay:    100 * time.Microsecond,
	}
	if len(config.SentinelAddrs) > 0 {
		clientOpts.Sentinel = rueidis.SentinelOption{
			MasterSet: config.SentinelMasterSet,
			Username:  config.SentinelUsername,
			Password:  config.SentinelPassword,
		}
	}

	client, err := rueidis.NewClient(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("redis: failed to create client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: failed to ping server: %w", err)
	}

	return &RedisCache{
		client: client,
		name:   config.Name,
		config: config,
	}, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) (string, error) {
	resp := r.client.Do(ctx, r.client.B().Get().Key(r.config.KeyPrefix+key).Build())
	if err := resp.Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return "", cache.ErrCacheMiss
		}
		return "", unavailable("get", err)
	}

	value, err := resp.ToString()
	if err != nil {
		return "", fmt.Errorf("redis get: failed to read response: %w", err)
	}
	return value, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.config.DefaultTTL
	}

	cmd := r.client.B().Set().Key(r.config.KeyPrefix + key).Value(value).Ex(ttl).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return unavailable("set", err)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	cmd := r.client.B().Del().Key(r.config.KeyPrefix + key).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return unavailable("delete", err)
	}
	return nil
}

func (r *RedisCache) Name() string {
	return r.name
}

func (r *RedisCache) Close() error {
	r.client.Close()
	return nil
}

func (r *RedisCache) Ping(ctx context.Context) error {
	if err := r.client.Do(ctx, r.client.B().Ping().Build()).Error(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// TTL returns the remaining lifetime of key, -1 when it never expires.
func (r *RedisCache) TTL(ctx context.Context, key string) (time.Duration, error) {
	resp := r.client.Do(ctx, r.client.B().Ttl().Key(r.config.KeyPrefix+key).Build())
	if err := resp.Error(); err != nil {
		return 0, fmt.Errorf("redis ttl: %w", err)
	}

	seconds, err := resp.AsInt64()
	if err != nil {
		return 0, fmt.Errorf("redis ttl: failed to read response: %w", err)
	}

	switch seconds {
	case -2:
		return 0, cache.ErrCacheMiss
	case -1:
		return -1, nil
	}
	return time.Duration(seconds) * time.Second, nil
}

// unavailable marks a failed command as a temporary layer outage while
// keeping the client error in the chain.
func unavailable(op string, err error) error {
	return fmt.Errorf("redis %s: %w: %w", op, cache.ErrLayerUnavailable, err)
}
