// Package postgres implements ledger.Store on PostgreSQL. Account locks are
// row locks taken with SELECT ... FOR UPDATE.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bank-ledger/pkg/ledger"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Config holds PostgreSQL connection configuration.
type Config struct {
	// DSN overrides the individual fields when set.
	DSN string

	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns default PostgreSQL configuration.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Password:        "postgres",
		Database:        "ledger",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

func (c Config) connString() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS customers (
		id BIGSERIAL PRIMARY KEY,
		external_id UUID NOT NULL UNIQUE,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		email TEXT NOT NULL,
		identity_number TEXT NOT NULL,
		address TEXT NOT NULL DEFAULT '',
		sex VARCHAR(6) NOT NULL DEFAULT '',
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		CONSTRAINT customers_email_key UNIQUE (email),
		CONSTRAINT customers_identity_number_key UNIQUE (identity_number)
	)`,
	`CREATE TABLE IF NOT EXISTS accounts (
		id BIGSERIAL PRIMARY KEY,
		external_id UUID NOT NULL UNIQUE,
		number VARCHAR(32) NOT NULL,
		owner_id BIGINT NOT NULL UNIQUE REFERENCES customers(id),
		is_active BOOLEAN NOT NULL DEFAULT FALSE,
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
		deleted_at TIMESTAMP WITH TIME ZONE,
		CONSTRAINT accounts_number_key UNIQUE (number)
	)`,
	`CREATE TABLE IF NOT EXISTS entries (
		id BIGSERIAL PRIMARY KEY,
		account_id BIGINT NOT NULL REFERENCES accounts(id),
		sender_id BIGINT NOT NULL REFERENCES customers(id),
		receiver_id BIGINT NOT NULL REFERENCES customers(id),
		amount NUMERIC(12,2) NOT NULL CHECK (amount > 0),
		is_debit BOOLEAN NOT NULL,
		description TEXT NOT NULL,
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_entries_account_live ON entries(account_id, is_debit) WHERE NOT is_deleted`,
	`CREATE INDEX IF NOT EXISTS idx_entries_sender ON entries(sender_id)`,
	`CREATE INDEX IF NOT EXISTS idx_entries_receiver ON entries(receiver_id)`,
}

// Store is a ledger.Store backed by PostgreSQL.
type Store struct {
	reader
	db *sql.DB
}

var _ ledger.Store = (*Store)(nil)

// Open connects, verifies the connection and creates the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sql.Open("postgres", cfg.connString())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := New(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init tables: %w", err)
	}
	return s, nil
}

// New wraps an existing connection pool. The schema is not touched.
func New(db *sql.DB) *Store {
	return &Store{reader: reader{q: db}, db: db}
}

// Migrate creates the tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, query := range schema {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return err
		}
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Atomic runs fn inside a READ COMMITTED transaction. Lock waits are bounded
// by the ctx deadline through lock_timeout.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return mapError(ctx, err)
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if deadline, ok := ctx.Deadline(); ok {
		ms := time.Until(deadline).Milliseconds()
		if ms < 1 {
			return mapError(ctx, context.DeadlineExceeded)
		}
		if _, err = sqlTx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", ms)); err != nil {
			return mapError(ctx, err)
		}
	}

	if err = fn(ctx, &tx{reader: reader{q: sqlTx}, tx: sqlTx}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return mapError(ctx, err)
	}
	return nil
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// reader implements ledger.Reader for both the pool and a transaction.
type reader struct {
	q querier
}

const customerColumns = `id, external_id, first_name, last_name, email, identity_number, address, sex, created_at`

const accountColumns = `id, external_id, number, owner_id, is_active, is_deleted, created_at, updated_at, deleted_at`

const entryColumns = `id, account_id, sender_id, receiver_id, amount, is_debit, description, is_deleted, created_at`

func (r reader) Customer(ctx context.Context, id int64) (*ledger.Customer, error) {
	return r.customer(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id)
}

func (r reader) CustomerByEmail(ctx context.Context, email string) (*ledger.Customer, error) {
	return r.customer(ctx, `SELECT `+customerColumns+` FROM customers WHERE email = $1`, email)
}

func (r reader) customer(ctx context.Context, query string, arg interface{}) (*ledger.Customer, error) {
	c, err := scanCustomer(r.q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrCustomerNotFound
	}
	if err != nil {
		return nil, mapError(ctx, err)
	}
	return c, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCustomer(row rowScanner) (*ledger.Customer, error) {
	var c ledger.Customer
	err := row.Scan(
		&c.ID, &c.ExternalID, &c.FirstName, &c.LastName, &c.Email, &c.IdentityNumber, &c.Address, &c.Sex, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Customers lists every customer ordered by id.
func (s *Store) Customers(ctx context.Context) ([]ledger.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+customerColumns+` FROM customers ORDER BY id`)
	if err != nil {
		return nil, mapError(ctx, err)
	}
	defer rows.Close()

	var out []ledger.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r reader) Account(ctx context.Context, id int64) (*ledger.Account, error) {
	return r.account(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 AND NOT is_deleted`, id)
}

func (r reader) AccountByNumber(ctx context.Context, number string) (*ledger.Account, error) {
	return r.account(ctx, `SELECT `+accountColumns+` FROM accounts WHERE number = $1 AND NOT is_deleted`, number)
}

func (r reader) AccountByExternalID(ctx context.Context, id uuid.UUID) (*ledger.Account, error) {
	return r.account(ctx, `SELECT `+accountColumns+` FROM accounts WHERE external_id = $1 AND NOT is_deleted`, id)
}

func (r reader) AccountByOwner(ctx context.Context, customerID int64) (*ledger.Account, error) {
	return r.account(ctx, `SELECT `+accountColumns+` FROM accounts WHERE owner_id = $1 AND NOT is_deleted`, customerID)
}

func (r reader) account(ctx context.Context, query string, arg interface{}) (*ledger.Account, error) {
	a, err := scanAccount(r.q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrAccountNotFound
	}
	if err != nil {
		return nil, mapError(ctx, err)
	}
	return a, nil
}

func scanAccount(row *sql.Row) (*ledger.Account, error) {
	var (
		a         ledger.Account
		deletedAt sql.NullTime
	)
	err := row.Scan(&a.ID, &a.ExternalID, &a.Number, &a.OwnerID, &a.Active, &a.Deleted, &a.CreatedAt, &a.UpdatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		a.DeletedAt = &deletedAt.Time
	}
	return &a, nil
}

func (r reader) AccountNumberTaken(ctx context.Context, number string) (bool, error) {
	var taken bool
	err := r.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE number = $1)`, number).Scan(&taken)
	if err != nil {
		return false, mapError(ctx, err)
	}
	return taken, nil
}

func (r reader) AccountNumbers(ctx context.Context) ([]string, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT number FROM accounts ORDER BY number`)
	if err != nil {
		return nil, mapError(ctx, err)
	}
	defer rows.Close()

	var numbers []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		numbers = append(numbers, n)
	}
	return numbers, rows.Err()
}

func (r reader) EntryTotals(ctx context.Context, accountID int64) (ledger.Totals, error) {
	var t ledger.Totals
	err := r.q.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE NOT is_debit), 0),
			COALESCE(SUM(amount) FILTER (WHERE is_debit), 0)
		FROM entries
		WHERE account_id = $1 AND NOT is_deleted`, accountID).Scan(&t.Credit, &t.Debit)
	if err != nil {
		return ledger.Totals{}, mapError(ctx, err)
	}
	return t, nil
}

func (r reader) Entries(ctx context.Context, accountID int64) ([]ledger.Entry, error) {
	return r.entries(ctx, `SELECT `+entryColumns+` FROM entries
		WHERE account_id = $1 AND NOT is_deleted
		ORDER BY created_at DESC, id DESC`, accountID)
}

func (r reader) EntriesByParty(ctx context.Context, customerID int64) ([]ledger.Entry, error) {
	return r.entries(ctx, `SELECT `+entryColumns+` FROM entries
		WHERE (sender_id = $1 OR receiver_id = $1) AND NOT is_deleted
		ORDER BY created_at DESC, id DESC`, customerID)
}

func (r reader) entries(ctx context.Context, query string, arg interface{}) ([]ledger.Entry, error) {
	rows, err := r.q.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, mapError(ctx, err)
	}
	defer rows.Close()

	var out []ledger.Entry
	for rows.Next() {
		var (
			e       ledger.Entry
			isDebit bool
		)
		err := rows.Scan(&e.ID, &e.AccountID, &e.SenderID, &e.ReceiverID, &e.Amount, &isDebit, &e.Description, &e.Deleted, &e.CreatedAt)
		if err != nil {
			return nil, err
		}
		e.Direction = ledger.Credit
		if isDebit {
			e.Direction = ledger.Debit
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type tx struct {
	reader
	tx *sql.Tx
}

func (t *tx) LockAccount(ctx context.Context, id int64) (*ledger.Account, error) {
	return t.account(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 AND NOT is_deleted FOR UPDATE`, id)
}

func (t *tx) InsertCustomer(ctx context.Context, c *ledger.Customer) error {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO customers (external_id, first_name, last_name, email, identity_number, address, sex, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		c.ExternalID, c.FirstName, c.LastName, c.Email, c.IdentityNumber, c.Address, c.Sex, c.CreatedAt,
	).Scan(&c.ID)
	return mapError(ctx, err)
}

func (t *tx) InsertAccount(ctx context.Context, a *ledger.Account) error {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO accounts (external_id, number, owner_id, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		a.ExternalID, a.Number, a.OwnerID, a.Active, a.CreatedAt, a.UpdatedAt,
	).Scan(&a.ID)
	return mapError(ctx, err)
}

func (t *tx) SetAccountActive(ctx context.Context, id int64, active bool) error {
	return t.exec(ctx, `UPDATE accounts SET is_active = $2, updated_at = NOW() WHERE id = $1 AND NOT is_deleted`, id, active)
}

func (t *tx) SoftDeleteAccount(ctx context.Context, id int64, at time.Time) error {
	return t.exec(ctx, `UPDATE accounts SET is_deleted = TRUE, deleted_at = $2, updated_at = $2 WHERE id = $1 AND NOT is_deleted`, id, at)
}

func (t *tx) exec(ctx context.Context, query string, args ...interface{}) error {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return mapError(ctx, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrAccountNotFound
	}
	return nil
}

func (t *tx) AppendEntries(ctx context.Context, entries ...*ledger.Entry) error {
	for _, e := range entries {
		if !e.Direction.Valid() {
			return fmt.Errorf("postgres: invalid direction %q", e.Direction)
		}
		err := t.tx.QueryRowContext(ctx, `
			INSERT INTO entries (account_id, sender_id, receiver_id, amount, is_debit, description, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id`,
			e.AccountID, e.SenderID, e.ReceiverID, e.Amount.Round(ledger.AmountScale), e.Direction.IsDebit(), e.Description, e.CreatedAt,
		).Scan(&e.ID)
		if err != nil {
			return mapError(ctx, err)
		}
	}
	return nil
}

// PostgreSQL error codes the store translates.
const (
	codeUniqueViolation  = "23505"
	codeLockNotAvailable = "55P03"
	codeQueryCanceled    = "57014"
	codeDeadlockDetected = "40P01"
)

// mapError turns driver errors into ledger errors where one applies.
func mapError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case codeLockNotAvailable, codeDeadlockDetected:
			return fmt.Errorf("%w: %s", ledger.ErrLockTimeout, pqErr.Message)
		case codeQueryCanceled:
			if errors.Is(ctx.Err(), context.Canceled) {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %s", ledger.ErrLockTimeout, pqErr.Message)
		case codeUniqueViolation:
			switch pqErr.Constraint {
			case "customers_email_key":
				return ledger.NewFieldError("email", ledger.ErrDuplicateCustomer)
			case "customers_identity_number_key":
				return ledger.NewFieldError("identity_number", ledger.ErrDuplicateCustomer)
			case "accounts_number_key":
				return ledger.ErrDuplicateAccountNumber
			}
		}
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ledger.ErrLockTimeout, err)
	}
	return err
}
