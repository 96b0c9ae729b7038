package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// SQLiteStore is a single-node store used for local runs and tests.
//
// Every unit of work is a BEGIN IMMEDIATE transaction, so the database write
// lock is the row lock: while one transfer holds it, no other unit of work can
// read-for-update or write any account.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens path with immediate transactions and the given busy timeout.
// path must be a file; each connection to ":memory:" would see its own database.
func OpenSQLite(path string, busyTimeout time.Duration) (*SQLiteStore, error) {
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on",
		path, busyTimeout.Milliseconds())

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS currencies (
    id TEXT PRIMARY KEY,
    currency_code TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS accounts (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    currency_id TEXT NOT NULL REFERENCES currencies(id),
    account_holder_name TEXT NOT NULL,
    account_number TEXT NOT NULL UNIQUE,
    account_type TEXT NOT NULL DEFAULT 'savings',
    initial_balance TEXT NOT NULL,
    balance TEXT NOT NULL,
    total_deposits TEXT NOT NULL,
    total_withdrawals TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    UNIQUE (user_id, currency_id)
);

CREATE TABLE IF NOT EXISTS transfers (
    id TEXT PRIMARY KEY,
    sender_account_id TEXT NOT NULL REFERENCES accounts(id),
    receiver_account_id TEXT NOT NULL REFERENCES accounts(id),
    receiver_account_number TEXT NOT NULL,
    receiver_account_holder_name TEXT NOT NULL,
    currency_id TEXT NOT NULL REFERENCES currencies(id),
    currency_code TEXT NOT NULL,
    amount TEXT NOT NULL,
    status TEXT NOT NULL CHECK (status IN ('completed', 'failed')),
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transfers_sender ON transfers(sender_account_id);
CREATE INDEX IF NOT EXISTS idx_transfers_receiver ON transfers(receiver_account_id);
`

// Migrate creates the schema if it does not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// CreateCurrency inserts code or returns the existing row.
func (s *SQLiteStore) CreateCurrency(ctx context.Context, code string) (*Currency, error) {
	code = strings.ToUpper(code)
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO currencies (id, currency_code) VALUES (?, ?) ON CONFLICT (currency_code) DO NOTHING",
		uuid.NewString(), code)
	if err != nil {
		return nil, fmt.Errorf("failed to create currency %s: %w", code, err)
	}
	return s.FindCurrencyByCode(ctx, code)
}

// CreateAccount provisions an account with its opening balance.
func (s *SQLiteStore) CreateAccount(ctx context.Context, na NewAccount) (*Account, error) {
	if na.InitialBalance.IsNegative() {
		return nil, fmt.Errorf("initial balance must not be negative")
	}
	if na.ID == "" {
		na.ID = uuid.NewString()
	}
	if na.AccountType == "" {
		na.AccountType = "savings"
	}
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
        INSERT INTO accounts (id, user_id, currency_id, account_holder_name, account_number, account_type,
            initial_balance, balance, total_deposits, total_withdrawals, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, '0', '0', ?, ?)
    `, na.ID, na.UserID, na.CurrencyID, na.HolderName, na.AccountNumber, na.AccountType,
		na.InitialBalance.String(), na.InitialBalance.String(), now, now)
	if err != nil {
		return nil, classifySQLiteConstraint(fmt.Errorf("failed to create account %s: %w", na.AccountNumber, err))
	}

	return s.FindByAccountNumber(ctx, na.AccountNumber)
}

// ListAccountsForUser returns the user's accounts, oldest first.
func (s *SQLiteStore) ListAccountsForUser(ctx context.Context, userID string) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+accountColumns+` FROM accounts
        WHERE user_id = ? ORDER BY created_at, account_number`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	accounts := []Account{}
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, *acc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate accounts: %w", err)
	}
	return accounts, nil
}

// FindCurrencyByCode implements CurrencyStore.
func (s *SQLiteStore) FindCurrencyByCode(ctx context.Context, code string) (*Currency, error) {
	var c Currency
	err := s.db.QueryRowContext(ctx, "SELECT id, currency_code FROM currencies WHERE currency_code = ?", code).Scan(&c.ID, &c.Code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCurrencyNotFound
		}
		return nil, fmt.Errorf("failed to get currency: %w", err)
	}
	return &c, nil
}

// FindByAccountNumber implements AccountStore.
func (s *SQLiteStore) FindByAccountNumber(ctx context.Context, accountNumber string) (*Account, error) {
	return s.findAccount(ctx, "account_number = ?", accountNumber)
}

// FindByUserAndCurrency implements AccountStore.
func (s *SQLiteStore) FindByUserAndCurrency(ctx context.Context, userID, currencyID string) (*Account, error) {
	return s.findAccount(ctx, "user_id = ? AND currency_id = ?", userID, currencyID)
}

func (s *SQLiteStore) findAccount(ctx context.Context, where string, args ...any) (*Account, error) {
	acc, err := scanAccount(s.db.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM accounts WHERE "+where, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acc, nil
}

// Begin acquires the database write lock, waiting up to the busy timeout.
func (s *SQLiteStore) Begin(ctx context.Context) (UnitOfWork, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// database/sql rolls a transaction back when its context ends; once begun,
	// the unit of work must only end through Commit or Rollback.
	tx, err := s.db.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return nil, classifySQLiteError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	return &sqliteUnitOfWork{tx: tx}, nil
}

// ListRecordsForUser implements LedgerReader. An empty currencyID lists every currency.
func (s *SQLiteStore) ListRecordsForUser(ctx context.Context, userID, currencyID string) ([]TransferRecord, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+recordColumns+` FROM transfers
        WHERE (sender_account_id IN (SELECT id FROM accounts WHERE user_id = ?1)
            OR receiver_account_id IN (SELECT id FROM accounts WHERE user_id = ?1))
          AND (?2 = '' OR currency_id = ?2)
        ORDER BY created_at DESC, id`, userID, currencyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	defer rows.Close()

	records := []TransferRecord{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		records = append(records, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transfers: %w", err)
	}
	return records, nil
}

// GetRecordForUser implements LedgerReader.
func (s *SQLiteStore) GetRecordForUser(ctx context.Context, userID, recordID string) (*TransferRecord, error) {
	r, err := scanRecord(s.db.QueryRowContext(ctx, "SELECT "+recordColumns+` FROM transfers
        WHERE id = ?2
          AND (sender_account_id IN (SELECT id FROM accounts WHERE user_id = ?1)
            OR receiver_account_id IN (SELECT id FROM accounts WHERE user_id = ?1))`, userID, recordID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get transfer: %w", err)
	}
	return r, nil
}

type sqliteUnitOfWork struct {
	tx   *sql.Tx
	done bool
}

// LockForUpdate reads the row; the immediate transaction already excludes other writers.
func (u *sqliteUnitOfWork) LockForUpdate(ctx context.Context, accountID string) (*Account, error) {
	acc, err := scanAccount(u.tx.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = ?", accountID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStaleWrite
		}
		return nil, classifySQLiteError(fmt.Errorf("failed to lock account %s: %w", accountID, err))
	}
	return acc, nil
}

func (u *sqliteUnitOfWork) Save(ctx context.Context, account *Account) error {
	if err := account.CheckInvariant(); err != nil {
		return err
	}

	res, err := u.tx.ExecContext(ctx, `
        UPDATE accounts SET balance = ?, total_deposits = ?, total_withdrawals = ?, updated_at = ?
        WHERE id = ? AND currency_id = ?
    `, account.Balance.String(), account.TotalDeposits.String(), account.TotalWithdrawals.String(),
		stamp(account.UpdatedAt), account.ID, account.CurrencyID)
	if err != nil {
		return classifySQLiteError(fmt.Errorf("failed to update account %s: %w", account.ID, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrStaleWrite
	}
	return nil
}

func (u *sqliteUnitOfWork) AppendRecord(ctx context.Context, record *TransferRecord) (string, error) {
	if err := record.validate(); err != nil {
		return "", err
	}
	id := record.ID
	if id == "" {
		id = uuid.NewString()
	}

	_, err := u.tx.ExecContext(ctx, `
        INSERT INTO transfers (id, sender_account_id, receiver_account_id, receiver_account_number,
            receiver_account_holder_name, currency_id, currency_code, amount, status, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, id, record.SenderAccountID, record.ReceiverAccountID, record.ReceiverAccountNumber,
		record.ReceiverHolderName, record.CurrencyID, record.CurrencyCode, record.Amount.String(),
		string(record.Status), stamp(record.CreatedAt))
	if err != nil {
		return "", classifySQLiteError(fmt.Errorf("failed to insert transfer: %w", err))
	}
	return id, nil
}

func (u *sqliteUnitOfWork) Commit(ctx context.Context) error {
	if err := u.tx.Commit(); err != nil {
		return classifySQLiteError(fmt.Errorf("failed to commit: %w", err))
	}
	u.done = true
	return nil
}

func (u *sqliteUnitOfWork) Rollback(ctx context.Context) error {
	if u.done {
		return nil
	}
	u.done = true
	if err := u.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to rollback: %w", err)
	}
	return nil
}

func classifySQLiteError(err error) error {
	var sqlErr sqlite3.Error
	if !errors.As(err, &sqlErr) {
		return err
	}
	if sqlErr.Code == sqlite3.ErrBusy || sqlErr.Code == sqlite3.ErrLocked {
		return wrapError(KindLockTimeout, "timed out waiting for database lock", err)
	}
	return err
}

// classifySQLiteConstraint maps unique violations on accounts to the store sentinels.
func classifySQLiteConstraint(err error) error {
	var sqlErr sqlite3.Error
	if !errors.As(err, &sqlErr) || sqlErr.ExtendedCode != sqlite3.ErrConstraintUnique {
		return err
	}
	msg := sqlErr.Error()
	switch {
	case strings.Contains(msg, "accounts.account_number"):
		return fmt.Errorf("%w: %v", ErrAccountNumberTaken, err)
	case strings.Contains(msg, "accounts.user_id"):
		return fmt.Errorf("%w: %v", ErrAccountExists, err)
	default:
		return err
	}
}
