package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Ledger errors. Validation errors are usually wrapped in a FieldError that
// names the request field they belong to.
var (
	// ErrInactiveAccount is returned when a sender or receiver account is not active
	ErrInactiveAccount = errors.New("ledger: bank account is not active")

	// ErrInsufficientBalance is returned when a withdrawal or transfer exceeds the balance
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")

	// ErrInvalidAccountNumber is returned when a destination account number matches no account
	ErrInvalidAccountNumber = errors.New("ledger: invalid account number")

	// ErrAccountNotFound is returned by stores when an account does not exist or is deleted
	ErrAccountNotFound = errors.New("ledger: account not found")

	// ErrCustomerNotFound is returned by stores when a customer does not exist
	ErrCustomerNotFound = errors.New("ledger: customer not found")

	// ErrDuplicateAccountNumber is returned when no unique account number could be generated.
	// It is an operational failure, not a user error.
	ErrDuplicateAccountNumber = errors.New("ledger: duplicate account number")

	// ErrDuplicateCustomer is returned when a customer with the same email or identity number exists
	ErrDuplicateCustomer = errors.New("ledger: customer already exists")

	// ErrInvalidCustomer is returned when required customer details are missing or malformed
	ErrInvalidCustomer = errors.New("ledger: invalid customer details")

	// ErrInvalidAmount is returned for non-positive amounts or amounts with more than two decimals
	ErrInvalidAmount = errors.New("ledger: invalid amount")

	// ErrForbidden is returned when the actor may not act on the account
	ErrForbidden = errors.New("ledger: operation not permitted")

	// ErrLockTimeout is returned when an account lock could not be acquired in time.
	// Nothing was written; the operation is safe to retry.
	ErrLockTimeout = errors.New("ledger: lock wait timeout")
)

// FieldError attributes a validation error to a request field.
type FieldError struct {
	Field string
	Err   error
}

// NewFieldError wraps err with the field name.
func NewFieldError(field string, err error) *FieldError {
	return &FieldError{Field: field, Err: err}
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Message()
}

// Message returns the human-readable message without the "ledger: " prefix.
func (e *FieldError) Message() string {
	msg := strings.TrimPrefix(e.Err.Error(), "ledger: ")
	if msg == "" {
		return msg
	}
	return strings.ToUpper(msg[:1]) + msg[1:] + "."
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is a caller error that retrying with the
// same input cannot fix.
func IsValidation(err error) bool {
	switch {
	case errors.Is(err, ErrInactiveAccount),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrInvalidAccountNumber),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidCustomer),
		errors.Is(err, ErrDuplicateCustomer):
		return true
	}
	var fe *FieldError
	return errors.As(err, &fe)
}

// IsNotFound reports whether err means a customer or account does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrCustomerNotFound)
}

// IsTransient reports whether the operation failed for a reason that may
// clear on retry: lock timeouts, deadlines, and errors that report
// themselves as temporary (an open circuit breaker, for one).
func IsTransient(err error) bool {
	if errors.Is(err, ErrLockTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Temporary() bool }
	return errors.As(err, &t) && t.Temporary()
}

// IsHealthy reports whether err says nothing bad about the store itself:
// business rejections and lock contention. Circuit breakers use it to decide
// what counts as a failure.
func IsHealthy(err error) bool {
	return err == nil ||
		IsValidation(err) ||
		IsNotFound(err) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrLockTimeout) ||
		errors.Is(err, context.Canceled)
}

// ClassifyError returns a short label for err, used as a metrics outcome.
func ClassifyError(err error) string {
	if err == nil {
		return "ok"
	}

	switch {
	case errors.Is(err, ErrInactiveAccount):
		return "inactive_account"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrInvalidAccountNumber):
		return "invalid_account_number"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInvalidCustomer):
		return "invalid_customer"
	case errors.Is(err, ErrAccountNotFound), errors.Is(err, ErrCustomerNotFound):
		return "not_found"
	case errors.Is(err, ErrDuplicateAccountNumber):
		return "duplicate_account_number"
	case errors.Is(err, ErrDuplicateCustomer):
		return "duplicate_customer"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrLockTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case IsTransient(err):
		return "unavailable"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		errStr := strings.ToLower(err.Error())
		switch {
		case strings.Contains(errStr, "connection"), strings.Contains(errStr, "dial"):
			return "connection"
		default:
			return "other"
		}
	}
}

// wrapOp adds the operation name to operational errors. Validation errors
// are returned as-is so callers can render them.
func wrapOp(op string, err error) error {
	if err == nil || IsValidation(err) || errors.Is(err, ErrForbidden) || IsNotFound(err) {
		return err
	}
	return fmt.Errorf("ledger %s: %w", op, err)
}
