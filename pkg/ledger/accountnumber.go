package ledger

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
)

// AccountNumberAlphabet is the set account numbers are drawn from. Letters
// easily confused with digits are left out.
const AccountNumberAlphabet = "0123456789ABCDEFGHIKLMNOPRS"

// NumberFilter remembers issued account numbers. MayContain may report
// false positives but never false negatives for numbers it was given.
type NumberFilter interface {
	MayContain(number string) bool
	Add(number string)
}

// NumberGenerator produces unique account numbers.
type NumberGenerator struct {
	length   int
	attempts int
	intn     func(n int) int
	filter   NumberFilter
}

// NewNumberGenerator creates a generator. filter may be nil.
func NewNumberGenerator(length, attempts int, filter NumberFilter) *NumberGenerator {
	return &NumberGenerator{
		length:   length,
		attempts: attempts,
		intn:     rand.Intn,
		filter:   filter,
	}
}

// Generate draws candidates until taken reports one as free. A candidate the
// filter already knows is discarded without asking taken.
func (g *NumberGenerator) Generate(ctx context.Context, taken func(ctx context.Context, number string) (bool, error)) (string, error) {
	for i := 0; i < g.attempts; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		candidate := g.candidate()
		if g.filter != nil && g.filter.MayContain(candidate) {
			continue
		}

		exists, err := taken(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("check account number: %w", err)
		}
		if !exists {
			return candidate, nil
		}
		if g.filter != nil {
			g.filter.Add(candidate)
		}
	}

	return "", fmt.Errorf("%w: no free number after %d attempts", ErrDuplicateAccountNumber, g.attempts)
}

// Issued records a number that now belongs to an account.
func (g *NumberGenerator) Issued(number string) {
	if g.filter != nil {
		g.filter.Add(number)
	}
}

func (g *NumberGenerator) candidate() string {
	var b strings.Builder
	b.Grow(g.length)
	for i := 0; i < g.length; i++ {
		b.WriteByte(AccountNumberAlphabet[g.intn(len(AccountNumberAlphabet))])
	}
	return b.String()
}

// ValidAccountNumber reports whether s has the shape of a generated number.
func ValidAccountNumber(s string, length int) bool {
	if len(s) != length {
		return false
	}
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(AccountNumberAlphabet, s[i]) < 0 {
			return false
		}
	}
	return true
}
