package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultMinimumAmount is the smallest transfer accepted when none is configured.
var DefaultMinimumAmount = decimal.NewFromInt(10)

// Validator runs the pure transfer checks. It performs no I/O.
type Validator struct {
	minimum decimal.Decimal
}

// NewValidator creates a validator enforcing the given minimum amount.
// A non-positive minimum still rejects zero and negative amounts.
func NewValidator(minimum decimal.Decimal) *Validator {
	return &Validator{minimum: minimum}
}

// ValidationResult represents the result of a validation check
type ValidationResult struct {
	IsValid   bool      `json:"is_valid"`
	Kind      Kind      `json:"kind,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Err converts a failed result into the engine error; nil when valid.
func (r *ValidationResult) Err() error {
	if r == nil || r.IsValid {
		return nil
	}
	return newError(r.Kind, r.Message)
}

func invalid(kind Kind, msg string) *ValidationResult {
	return &ValidationResult{IsValid: false, Kind: kind, Message: msg, Timestamp: time.Now()}
}

// Validate checks a transfer against the currently visible account state.
// sender and receiver are nil when the lookup found nothing.
func (v *Validator) Validate(sender, receiver *Account, currency *Currency, amount decimal.Decimal) *ValidationResult {
	if sender == nil {
		return invalid(KindNoMatchingSenderAccount, "no associated account found with the selected currency")
	}

	if receiver == nil {
		return invalid(KindReceiverNotFound, "receiver account not found")
	}

	if sender.ID == receiver.ID {
		return invalid(KindSameAccount, "sender and receiver must be different accounts")
	}

	if currency != nil && (sender.CurrencyID != currency.ID || receiver.CurrencyID != currency.ID) {
		return invalid(KindCurrencyMismatch,
			fmt.Sprintf("receiver account %s is not denominated in %s", receiver.AccountNumber, currency.Code))
	}

	if res := v.CheckAmount(amount); !res.IsValid {
		return res
	}

	return v.CheckBalance(sender, amount)
}

// CheckAmount rejects non-positive amounts, amounts finer than AmountScale
// and amounts under the configured minimum.
func (v *Validator) CheckAmount(amount decimal.Decimal) *ValidationResult {
	if !amount.IsPositive() {
		return invalid(KindBelowMinimumAmount, "transfer amount must be greater than zero")
	}

	if !amount.Equal(amount.Truncate(AmountScale)) {
		return invalid(KindInvalidAmount,
			fmt.Sprintf("transfer amount %s has more than %d decimal places", amount, AmountScale))
	}

	if amount.LessThan(v.minimum) {
		return invalid(KindBelowMinimumAmount,
			fmt.Sprintf("transfer amount %s is below the minimum of %s", amount, v.minimum))
	}

	return &ValidationResult{IsValid: true, Message: "amount is valid", Timestamp: time.Now()}
}

// CheckBalance is re-run against the locked sender row; the pre-lock read may be stale.
func (v *Validator) CheckBalance(sender *Account, amount decimal.Decimal) *ValidationResult {
	if sender.Balance.LessThan(amount) {
		return invalid(KindInsufficientBalance, "insufficient balance")
	}

	return &ValidationResult{IsValid: true, Message: "transfer is valid", Timestamp: time.Now()}
}
