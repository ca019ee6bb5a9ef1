package ledger_test

import (
	"context"
	"testing"
	"time"

	"bank-ledger/pkg/cache/memory"
	"bank-ledger/pkg/chain"
	"bank-ledger/pkg/ledger"
	metricsmem "bank-ledger/pkg/metrics/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedIndexOverChain(t *testing.T) {
	collector := metricsmem.NewCollector()
	l1 := memory.NewMemoryCache(memory.MemoryCacheConfig{Name: "L1"})
	c, err := chain.New(chain.Options{Metrics: collector}, l1)
	require.NoError(t, err)
	defer c.Close()

	idx := ledger.NewCachedIndex(c, time.Hour)
	ctx := context.Background()

	_, ok := idx.Lookup(ctx, "1234567890ABC")
	assert.False(t, ok)

	idx.Remember(ctx, "1234567890ABC", 42)
	id, ok := idx.Lookup(ctx, "1234567890ABC")
	assert.True(t, ok)
	assert.EqualValues(t, 42, id)

	lm := collector.Layer("L1")
	assert.EqualValues(t, 1, lm.Hits)
	assert.EqualValues(t, 1, lm.Misses)
}

func TestCachedIndexIgnoresGarbage(t *testing.T) {
	l1 := memory.NewMemoryCache(memory.MemoryCacheConfig{Name: "L1"})
	defer l1.Close()
	ctx := context.Background()
	require.NoError(t, l1.Set(ctx, "account:number:XYZ", "not-an-id", time.Hour))

	idx := ledger.NewCachedIndex(l1, time.Hour)
	_, ok := idx.Lookup(ctx, "XYZ")
	assert.False(t, ok)
}

func TestServiceWithChainIndex(t *testing.T) {
	l1 := memory.NewMemoryCache(memory.MemoryCacheConfig{Name: "L1"})
	c, err := chain.New(chain.Options{}, l1)
	require.NoError(t, err)
	defer c.Close()

	svc, _ := newService(t, ledger.Options{Index: ledger.NewCachedIndex(c, time.Hour)})
	ctx := context.Background()
	alice, aliceAcct := openActive(t, svc, "alice")
	_, bobAcct := openActive(t, svc, "bob")

	// OpenAccount remembered bob's number.
	v, err := l1.Get(ctx, "account:number:"+bobAcct.Number)
	require.NoError(t, err)
	assert.NotEmpty(t, v)

	_, err = svc.Deposit(ctx, alice, dec("50"))
	require.NoError(t, err)
	_, err = svc.Transfer(ctx, alice, ledger.TransferRequest{DestinationAccountNumber: bobAcct.Number, Amount: dec("20")})
	require.NoError(t, err)

	assertBalance(t, svc, aliceAcct, "30")
	assertBalance(t, svc, bobAcct, "20")
}
