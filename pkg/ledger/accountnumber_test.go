package ledger

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type setFilter map[string]bool

func (f setFilter) MayContain(n string) bool { return f[n] }
func (f setFilter) Add(n string)             { f[n] = true }

func never(context.Context, string) (bool, error) { return false, nil }

func TestNumberGeneratorShape(t *testing.T) {
	g := NewNumberGenerator(13, 10, nil)
	for i := 0; i < 100; i++ {
		n, err := g.Generate(context.Background(), never)
		require.NoError(t, err)
		assert.Len(t, n, 13)
		for _, r := range n {
			assert.True(t, strings.ContainsRune(AccountNumberAlphabet, r), "unexpected %q in %s", r, n)
		}
	}
}

func TestNumberGeneratorRetriesTaken(t *testing.T) {
	g := NewNumberGenerator(4, 10, nil)
	seq := []int{1, 1, 1, 1, 2, 2, 2, 2}
	g.intn = func(int) int {
		v := seq[0]
		seq = seq[1:]
		return v
	}

	calls := 0
	n, err := g.Generate(context.Background(), func(_ context.Context, n string) (bool, error) {
		calls++
		return n == "1111", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "2222", n)
	assert.Equal(t, 2, calls)
}

func TestNumberGeneratorExhausted(t *testing.T) {
	g := NewNumberGenerator(4, 3, nil)
	g.intn = func(int) int { return 0 }

	_, err := g.Generate(context.Background(), func(context.Context, string) (bool, error) { return true, nil })
	assert.ErrorIs(t, err, ErrDuplicateAccountNumber)
}

func TestNumberGeneratorSkipsFilterHits(t *testing.T) {
	f := setFilter{"0000": true}
	g := NewNumberGenerator(4, 3, f)
	g.intn = func(int) int { return 0 }

	calls := 0
	_, err := g.Generate(context.Background(), func(context.Context, string) (bool, error) {
		calls++
		return false, nil
	})
	assert.ErrorIs(t, err, ErrDuplicateAccountNumber)
	assert.Zero(t, calls, "filter hits must not reach the store")

	g.Issued("1111")
	assert.True(t, f.MayContain("1111"))
}

func TestNumberGeneratorStoreError(t *testing.T) {
	g := NewNumberGenerator(4, 3, nil)
	boom := errors.New("boom")
	_, err := g.Generate(context.Background(), func(context.Context, string) (bool, error) { return false, boom })
	assert.ErrorIs(t, err, boom)
}

func TestValidAccountNumber(t *testing.T) {
	assert.True(t, ValidAccountNumber("0123456789ABC", 13))
	assert.False(t, ValidAccountNumber("0123456789AB", 13))
	assert.False(t, ValidAccountNumber("0123456789ABJ", 13), "J is not in the alphabet")
	assert.False(t, ValidAccountNumber("0123456789abc", 13))
}
