package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"bank-ledger/pkg/ledger"
	"bank-ledger/pkg/ledger/postgres"

	"github.com/joho/godotenv"
)

const (
	storeMemory   = "memory"
	storePostgres = "postgres"
)

// config is everything ledgerd reads from the environment.
type config struct {
	Port      string
	Store     string
	Postgres  postgres.Config
	Ledger    ledger.Config
	RedisAddr string
	// RedisClusterAddrs or RedisSentinelAddrs replace RedisAddr when set.
	RedisClusterAddrs  []string
	RedisSentinelAddrs []string
	RedisMasterSet     string
	// L1Size caps the in-process number index.
	L1Size int
}

// loadConfig reads an optional .env file and then the environment.
// Variables already set in the environment win over the file.
func loadConfig(envFiles ...string) (config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := config{
		Port:      getEnv("PORT", "8080"),
		Store:     strings.ToLower(getEnv("LEDGER_STORE", storeMemory)),
		Postgres:  postgres.DefaultConfig(),
		Ledger:    ledger.DefaultConfig(),
		RedisAddr: os.Getenv("REDIS_ADDR"),
	}

	cfg.RedisClusterAddrs = splitList(os.Getenv("REDIS_CLUSTER_ADDRS"))
	cfg.RedisSentinelAddrs = splitList(os.Getenv("REDIS_SENTINEL_ADDRS"))
	cfg.RedisMasterSet = getEnv("REDIS_MASTER_SET", "mymaster")

	cfg.Postgres.DSN = os.Getenv("POSTGRES_DSN")
	cfg.Postgres.Host = getEnv("POSTGRES_HOST", cfg.Postgres.Host)
	cfg.Postgres.User = getEnv("POSTGRES_USER", cfg.Postgres.User)
	cfg.Postgres.Password = getEnv("POSTGRES_PASSWORD", cfg.Postgres.Password)
	cfg.Postgres.Database = getEnv("POSTGRES_DB", cfg.Postgres.Database)
	cfg.Postgres.SSLMode = getEnv("POSTGRES_SSLMODE", cfg.Postgres.SSLMode)

	var err error
	if cfg.Postgres.Port, err = getEnvInt("POSTGRES_PORT", cfg.Postgres.Port); err != nil {
		return config{}, err
	}
	if cfg.Ledger.TxTimeout, err = getEnvDuration("LEDGER_TX_TIMEOUT", cfg.Ledger.TxTimeout); err != nil {
		return config{}, err
	}
	if cfg.Ledger.IndexTTL, err = getEnvDuration("LEDGER_INDEX_TTL", cfg.Ledger.IndexTTL); err != nil {
		return config{}, err
	}
	if cfg.L1Size, err = getEnvInt("LEDGER_INDEX_L1_SIZE", 100000); err != nil {
		return config{}, err
	}

	switch cfg.Store {
	case storeMemory, storePostgres:
	default:
		return config{}, fmt.Errorf("LEDGER_STORE must be %q or %q, got %q", storeMemory, storePostgres, cfg.Store)
	}
	if err := cfg.Ledger.Validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// redisEnabled reports whether any Redis topology is configured.
func (c config) redisEnabled() bool {
	return c.RedisAddr != "" || len(c.RedisClusterAddrs) > 0 || len(c.RedisSentinelAddrs) > 0
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvInt(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
