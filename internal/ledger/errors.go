package ledger

import (
	"errors"
	"fmt"
)

// Kind is the stable machine-readable identifier of a transfer failure.
type Kind string

const (
	KindNoMatchingSenderAccount Kind = "no_matching_sender_account"
	KindReceiverNotFound        Kind = "receiver_not_found"
	KindSameAccount             Kind = "same_account"
	KindCurrencyMismatch        Kind = "currency_mismatch"
	KindUnknownCurrency         Kind = "unknown_currency"
	KindBelowMinimumAmount      Kind = "below_minimum_amount"
	KindInvalidAmount           Kind = "invalid_amount"
	KindInsufficientBalance     Kind = "insufficient_balance"
	KindInvalidAccountType      Kind = "invalid_account_type"
	KindAccountExists           Kind = "account_exists"

	KindLockTimeout Kind = "lock_timeout"
	KindStaleWrite  Kind = "stale_write"
	KindConflict    Kind = "write_conflict"

	KindStorageFault     Kind = "storage_fault"
	KindTransferFailed   Kind = "transfer_failed"
	KindTransferNotFound Kind = "transfer_not_found"
	KindAccountNotFound  Kind = "account_not_found"
)

// Category groups kinds by how callers should treat them.
type Category string

const (
	CategoryValidation  Category = "validation"
	CategoryConcurrency Category = "concurrency"
	CategoryStorage     Category = "storage"
	CategoryFailed      Category = "failed"
	CategoryNotFound    Category = "not_found"
)

// Category reports the taxonomy bucket of k.
func (k Kind) Category() Category {
	switch k {
	case KindNoMatchingSenderAccount, KindReceiverNotFound, KindSameAccount,
		KindCurrencyMismatch, KindUnknownCurrency, KindBelowMinimumAmount, KindInvalidAmount,
		KindInsufficientBalance, KindInvalidAccountType, KindAccountExists:
		return CategoryValidation
	case KindLockTimeout, KindStaleWrite, KindConflict:
		return CategoryConcurrency
	case KindTransferNotFound, KindAccountNotFound:
		return CategoryNotFound
	case KindTransferFailed:
		return CategoryFailed
	default:
		return CategoryStorage
	}
}

// Error is the structured error returned by the engine.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func wrapError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

var (
	// ErrAccountNotFound is returned by account lookups that match nothing.
	ErrAccountNotFound = errors.New("account not found")
	// ErrCurrencyNotFound is returned by currency lookups that match nothing.
	ErrCurrencyNotFound = errors.New("currency not found")
	// ErrRecordNotFound is returned by ledger reads that match nothing.
	ErrRecordNotFound = errors.New("transfer record not found")
	// ErrAccountExists is returned by CreateAccount when the user already holds
	// an account in the currency.
	ErrAccountExists = errors.New("account already exists for user and currency")
	// ErrAccountNumberTaken is returned by CreateAccount when the account number
	// is already assigned.
	ErrAccountNumberTaken = errors.New("account number already in use")
	// ErrStaleWrite is returned by Save when the row changed identity under the lock.
	ErrStaleWrite = newError(KindStaleWrite, "account was removed or re-denominated during the transfer")
	// ErrLockTimeout is returned when a row lock cannot be acquired in time.
	ErrLockTimeout = newError(KindLockTimeout, "timed out waiting for account lock")
)

// KindOf extracts the Kind from err, or "" when err is not an engine error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsValidation reports whether err is safe to show verbatim to the caller.
func IsValidation(err error) bool {
	k := KindOf(err)
	return k != "" && k.Category() == CategoryValidation
}

func isConcurrency(err error) bool {
	k := KindOf(err)
	return k != "" && k.Category() == CategoryConcurrency
}
