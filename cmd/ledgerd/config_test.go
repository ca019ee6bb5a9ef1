package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, storeMemory, cfg.Store)
	assert.Equal(t, 5*time.Second, cfg.Ledger.TxTimeout)
	assert.Equal(t, "ledger", cfg.Postgres.Database)
	assert.Empty(t, cfg.RedisAddr)
}

func TestLoadConfigFromEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("LEDGER_STORE=postgres\nPOSTGRES_PORT=6543\nLEDGER_TX_TIMEOUT=2s\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("LEDGER_STORE")
		os.Unsetenv("POSTGRES_PORT")
		os.Unsetenv("LEDGER_TX_TIMEOUT")
	})
	t.Setenv("PORT", "9090")

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, storePostgres, cfg.Store)
	assert.Equal(t, 6543, cfg.Postgres.Port)
	assert.Equal(t, 2*time.Second, cfg.Ledger.TxTimeout)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.env")

	t.Setenv("LEDGER_STORE", "sqlite")
	_, err := loadConfig(missing)
	assert.Error(t, err)

	t.Setenv("LEDGER_STORE", "memory")
	t.Setenv("LEDGER_TX_TIMEOUT", "soon")
	_, err = loadConfig(missing)
	assert.Error(t, err)

	t.Setenv("LEDGER_TX_TIMEOUT", "0s")
	_, err = loadConfig(missing)
	assert.Error(t, err)
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"a:1", "b:2"}, splitList(" a:1, ,b:2 "))

	cfg := config{RedisClusterAddrs: []string{"a:1"}}
	assert.True(t, cfg.redisEnabled())
	assert.False(t, config{}.redisEnabled())
}
