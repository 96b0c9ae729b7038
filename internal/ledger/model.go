package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Account is a balance-holding entity owned by a user, denominated in one currency.
type Account struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	CurrencyID       string          `json:"currency_id"`
	HolderName       string          `json:"account_holder_name"`
	AccountNumber    string          `json:"account_number"`
	AccountType      string          `json:"account_type"`
	InitialBalance   decimal.Decimal `json:"initial_balance"`
	Balance          decimal.Decimal `json:"balance"`
	TotalDeposits    decimal.Decimal `json:"total_deposits"`
	TotalWithdrawals decimal.Decimal `json:"total_withdrawals"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// CheckInvariant verifies balance = initial + deposits - withdrawals and balance >= 0.
func (a *Account) CheckInvariant() error {
	if a.Balance.IsNegative() {
		return fmt.Errorf("account %s balance %s is negative", a.ID, a.Balance)
	}

	expected := a.InitialBalance.Add(a.TotalDeposits).Sub(a.TotalWithdrawals)
	if !expected.Equal(a.Balance) {
		return fmt.Errorf("account %s balance drift: have %s, expected %s", a.ID, a.Balance, expected)
	}

	return nil
}

func (a *Account) debit(amount decimal.Decimal) {
	a.Balance = a.Balance.Sub(amount)
	a.TotalWithdrawals = a.TotalWithdrawals.Add(amount)
}

func (a *Account) credit(amount decimal.Decimal) {
	a.Balance = a.Balance.Add(amount)
	a.TotalDeposits = a.TotalDeposits.Add(amount)
}

// clone returns a copy safe to hand to out-of-band consumers.
func (a *Account) clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

// Currency is immutable reference data.
type Currency struct {
	ID   string `json:"id"`
	Code string `json:"currency_code"`
}

// TransferStatus is the outcome recorded on a ledger entry.
type TransferStatus string

const (
	StatusCompleted TransferStatus = "completed"
	StatusFailed    TransferStatus = "failed"
)

// TransferRecord is an append-only ledger entry. The receiver number and holder name
// are snapshots taken at transfer time.
type TransferRecord struct {
	ID                    string          `json:"id"`
	SenderAccountID       string          `json:"sender_account_id"`
	ReceiverAccountID     string          `json:"receiver_account_id"`
	ReceiverAccountNumber string          `json:"receiver_account_number"`
	ReceiverHolderName    string          `json:"receiver_account_holder_name"`
	CurrencyID            string          `json:"currency_id"`
	CurrencyCode          string          `json:"currency_code"`
	Amount                decimal.Decimal `json:"amount"`
	Status                TransferStatus  `json:"status"`
	CreatedAt             time.Time       `json:"created_at"`
}

func (r *TransferRecord) validate() error {
	if !r.Amount.IsPositive() {
		return fmt.Errorf("record amount must be positive, got %s", r.Amount)
	}
	if r.Status != StatusCompleted && r.Status != StatusFailed {
		return fmt.Errorf("invalid record status %q", r.Status)
	}
	if r.SenderAccountID == "" || r.ReceiverAccountID == "" {
		return fmt.Errorf("record requires sender and receiver account ids")
	}
	return nil
}

// NewAccount carries the provisioning data for an account. Provisioning is the only
// path that sets a balance outside of a transfer.
type NewAccount struct {
	ID             string
	UserID         string
	CurrencyID     string
	HolderName     string
	AccountNumber  string
	AccountType    string
	InitialBalance decimal.Decimal
}

// State tracks how far a transfer progressed.
type State string

const (
	StateInitiated        State = "initiated"
	StateAccountsResolved State = "accounts_resolved"
	StateValidated        State = "validated"
	StateLocked           State = "locked"
	StateApplied          State = "applied"
	StateRecorded         State = "recorded"
	StateCommitted        State = "committed"
	StateAborted          State = "aborted"
)

// AmountScale is the number of fractional digits balances are stored with.
const AmountScale = 2

// ParseAmount parses a transfer amount from its decimal string form. Amounts with
// more fractional digits than AmountScale are rejected rather than rounded.
func ParseAmount(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", raw)
	}
	if d.Exponent() < -AmountScale && !d.Equal(d.Truncate(AmountScale)) {
		return decimal.Zero, fmt.Errorf("amount %s has more than %d decimal places", raw, AmountScale)
	}
	return d, nil
}
