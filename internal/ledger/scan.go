package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// rowScanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// Amounts travel as text in both backends so no precision is lost to float conversion.
const (
	accountColumns = "id, user_id, currency_id, account_holder_name, account_number, account_type, " +
		"initial_balance, balance, total_deposits, total_withdrawals, created_at, updated_at"
	recordColumns = "id, sender_account_id, receiver_account_id, receiver_account_number, " +
		"receiver_account_holder_name, currency_id, currency_code, amount, status, created_at"
)

func scanAccount(row rowScanner) (*Account, error) {
	var (
		a                                       Account
		initial, balance, deposits, withdrawals string
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.CurrencyID, &a.HolderName, &a.AccountNumber, &a.AccountType,
		&initial, &balance, &deposits, &withdrawals, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}

	var err error
	if a.InitialBalance, err = parseAmount("initial_balance", initial); err != nil {
		return nil, err
	}
	if a.Balance, err = parseAmount("balance", balance); err != nil {
		return nil, err
	}
	if a.TotalDeposits, err = parseAmount("total_deposits", deposits); err != nil {
		return nil, err
	}
	if a.TotalWithdrawals, err = parseAmount("total_withdrawals", withdrawals); err != nil {
		return nil, err
	}
	a.CreatedAt, a.UpdatedAt = a.CreatedAt.UTC(), a.UpdatedAt.UTC()
	return &a, nil
}

func scanRecord(row rowScanner) (*TransferRecord, error) {
	var (
		r      TransferRecord
		amount string
		status string
	)
	if err := row.Scan(&r.ID, &r.SenderAccountID, &r.ReceiverAccountID, &r.ReceiverAccountNumber,
		&r.ReceiverHolderName, &r.CurrencyID, &r.CurrencyCode, &amount, &status, &r.CreatedAt); err != nil {
		return nil, err
	}

	var err error
	if r.Amount, err = parseAmount("amount", amount); err != nil {
		return nil, err
	}
	r.Status = TransferStatus(status)
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}

func parseAmount(column, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s value %q: %w", column, raw, err)
	}
	return d, nil
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
