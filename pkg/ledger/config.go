package ledger

import (
	"errors"
	"time"
)

// Config holds the ledger service settings.
type Config struct {
	// TxTimeout bounds each atomic unit, lock waits included.
	// An operation that cannot finish in time fails with ErrLockTimeout.
	TxTimeout time.Duration

	// NumberLength is the length of generated account numbers
	NumberLength int

	// NumberAttempts is how many candidate account numbers are tried before
	// giving up with ErrDuplicateAccountNumber
	NumberAttempts int

	// IndexTTL is how long an account number -> id mapping stays in the number index
	IndexTTL time.Duration
}

// DefaultConfig returns the default ledger configuration.
func DefaultConfig() Config {
	return Config{
		TxTimeout:      5 * time.Second,
		NumberLength:   13,
		NumberAttempts: 10,
		IndexTTL:       time.Hour,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.TxTimeout <= 0 {
		return errors.New("ledger: tx timeout must be positive")
	}
	if c.NumberLength <= 0 {
		return errors.New("ledger: account number length must be positive")
	}
	if c.NumberAttempts <= 0 {
		return errors.New("ledger: account number attempts must be positive")
	}
	if c.IndexTTL < 0 {
		return errors.New("ledger: index ttl cannot be negative")
	}
	return nil
}
