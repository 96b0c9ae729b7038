package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is the subset of *pgxpool.Pool the store uses.
type PgxPool interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps accounts, currencies and the transfer ledger in PostgreSQL.
type PostgresStore struct {
	pool        PgxPool
	lockTimeout time.Duration
}

// NewPostgresStore creates a store. lockTimeout bounds how long LockForUpdate waits.
func NewPostgresStore(pool PgxPool, lockTimeout time.Duration) *PostgresStore {
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &PostgresStore{pool: pool, lockTimeout: lockTimeout}
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS currencies (
    id            TEXT PRIMARY KEY,
    currency_code VARCHAR(3) NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS accounts (
    id                  TEXT PRIMARY KEY,
    user_id             TEXT NOT NULL,
    currency_id         TEXT NOT NULL REFERENCES currencies(id),
    account_holder_name TEXT NOT NULL,
    account_number      TEXT NOT NULL UNIQUE,
    account_type        TEXT NOT NULL DEFAULT 'savings',
    initial_balance     NUMERIC(20,2) NOT NULL DEFAULT 0,
    balance             NUMERIC(20,2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
    total_deposits      NUMERIC(20,2) NOT NULL DEFAULT 0,
    total_withdrawals   NUMERIC(20,2) NOT NULL DEFAULT 0,
    created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (user_id, currency_id)
);

CREATE TABLE IF NOT EXISTS transfers (
    id                           TEXT PRIMARY KEY,
    sender_account_id            TEXT NOT NULL REFERENCES accounts(id),
    receiver_account_id          TEXT NOT NULL REFERENCES accounts(id),
    receiver_account_number      TEXT NOT NULL,
    receiver_account_holder_name TEXT NOT NULL,
    currency_id                  TEXT NOT NULL REFERENCES currencies(id),
    currency_code                VARCHAR(3) NOT NULL,
    amount                       NUMERIC(20,2) NOT NULL CHECK (amount > 0),
    status                       TEXT NOT NULL CHECK (status IN ('completed', 'failed')),
    created_at                   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_transfers_sender ON transfers(sender_account_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_transfers_receiver ON transfers(receiver_account_id, created_at DESC);
`

const (
	pgAccountSelect = `SELECT id, user_id, currency_id, account_holder_name, account_number, account_type,
        initial_balance::text, balance::text, total_deposits::text, total_withdrawals::text, created_at, updated_at
        FROM accounts`
	pgRecordSelect = `SELECT t.id, t.sender_account_id, t.receiver_account_id, t.receiver_account_number,
        t.receiver_account_holder_name, t.currency_id, t.currency_code, t.amount::text, t.status, t.created_at
        FROM transfers t`
)

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// CreateCurrency inserts code or returns the existing row.
func (s *PostgresStore) CreateCurrency(ctx context.Context, code string) (*Currency, error) {
	var c Currency
	err := s.pool.QueryRow(ctx, `
        INSERT INTO currencies (id, currency_code) VALUES ($1, $2)
        ON CONFLICT (currency_code) DO UPDATE SET currency_code = EXCLUDED.currency_code
        RETURNING id, currency_code
    `, uuid.NewString(), strings.ToUpper(code)).Scan(&c.ID, &c.Code)
	if err != nil {
		return nil, fmt.Errorf("failed to create currency %s: %w", code, err)
	}
	return &c, nil
}

// CreateAccount provisions an account with its opening balance.
func (s *PostgresStore) CreateAccount(ctx context.Context, na NewAccount) (*Account, error) {
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

	_, err := s.pool.Exec(ctx, `
        INSERT INTO accounts (id, user_id, currency_id, account_holder_name, account_number, account_type,
            initial_balance, balance, total_deposits, total_withdrawals, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7::text::numeric, $7::text::numeric, 0, 0, $8, $8)
    `, na.ID, na.UserID, na.CurrencyID, na.HolderName, na.AccountNumber, na.AccountType, na.InitialBalance.String(), now)
	if err != nil {
		return nil, classifyPgConstraint(fmt.Errorf("failed to create account %s: %w", na.AccountNumber, err))
	}

	return s.FindByAccountNumber(ctx, na.AccountNumber)
}

// ListAccountsForUser returns the user's accounts, oldest first.
func (s *PostgresStore) ListAccountsForUser(ctx context.Context, userID string) ([]Account, error) {
	rows, err := s.pool.Query(ctx, pgAccountSelect+" WHERE user_id = $1 ORDER BY created_at, account_number", userID)
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
func (s *PostgresStore) FindCurrencyByCode(ctx context.Context, code string) (*Currency, error) {
	var c Currency
	err := s.pool.QueryRow(ctx, "SELECT id, currency_code FROM currencies WHERE currency_code = $1", code).Scan(&c.ID, &c.Code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCurrencyNotFound
		}
		return nil, fmt.Errorf("failed to get currency: %w", err)
	}
	return &c, nil
}

// FindByAccountNumber implements AccountStore.
func (s *PostgresStore) FindByAccountNumber(ctx context.Context, accountNumber string) (*Account, error) {
	acc, err := scanAccount(s.pool.QueryRow(ctx, pgAccountSelect+" WHERE account_number = $1", accountNumber))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acc, nil
}

// FindByUserAndCurrency implements AccountStore.
func (s *PostgresStore) FindByUserAndCurrency(ctx context.Context, userID, currencyID string) (*Account, error) {
	acc, err := scanAccount(s.pool.QueryRow(ctx, pgAccountSelect+" WHERE user_id = $1 AND currency_id = $2", userID, currencyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acc, nil
}

// Begin opens a READ COMMITTED transaction; row locks provide the isolation the
// transfer needs.
func (s *PostgresStore) Begin(ctx context.Context) (UnitOfWork, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return nil, classifyPgError(fmt.Errorf("failed to begin transaction: %w", err))
	}

	timeout := fmt.Sprintf("%dms", s.lockTimeout.Milliseconds())
	if _, err := tx.Exec(ctx, "SELECT set_config('lock_timeout', $1, true)", timeout); err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("failed to set lock timeout: %w", err)
	}

	return &pgUnitOfWork{tx: tx}, nil
}

// ListRecordsForUser implements LedgerReader. An empty currencyID lists every currency.
func (s *PostgresStore) ListRecordsForUser(ctx context.Context, userID, currencyID string) ([]TransferRecord, error) {
	rows, err := s.pool.Query(ctx, pgRecordSelect+`
        WHERE (t.sender_account_id IN (SELECT id FROM accounts WHERE user_id = $1)
            OR t.receiver_account_id IN (SELECT id FROM accounts WHERE user_id = $1))
          AND ($2 = '' OR t.currency_id = $2)
        ORDER BY t.created_at DESC, t.id`, userID, currencyID)
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
func (s *PostgresStore) GetRecordForUser(ctx context.Context, userID, recordID string) (*TransferRecord, error) {
	r, err := scanRecord(s.pool.QueryRow(ctx, pgRecordSelect+`
        WHERE t.id = $2
          AND (t.sender_account_id IN (SELECT id FROM accounts WHERE user_id = $1)
            OR t.receiver_account_id IN (SELECT id FROM accounts WHERE user_id = $1))`, userID, recordID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get transfer: %w", err)
	}
	return r, nil
}

type pgUnitOfWork struct {
	tx        pgx.Tx
	committed bool
}

func (u *pgUnitOfWork) LockForUpdate(ctx context.Context, accountID string) (*Account, error) {
	acc, err := scanAccount(u.tx.QueryRow(ctx, pgAccountSelect+" WHERE id = $1 FOR UPDATE", accountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStaleWrite
		}
		return nil, classifyPgError(fmt.Errorf("failed to lock account %s: %w", accountID, err))
	}
	return acc, nil
}

func (u *pgUnitOfWork) Save(ctx context.Context, account *Account) error {
	if err := account.CheckInvariant(); err != nil {
		return err
	}

	tag, err := u.tx.Exec(ctx, `
        UPDATE accounts
        SET balance = $3::text::numeric,
            total_deposits = $4::text::numeric,
            total_withdrawals = $5::text::numeric,
            updated_at = $6
        WHERE id = $1 AND currency_id = $2
    `, account.ID, account.CurrencyID, account.Balance.String(), account.TotalDeposits.String(),
		account.TotalWithdrawals.String(), stamp(account.UpdatedAt))
	if err != nil {
		return classifyPgError(fmt.Errorf("failed to update account %s: %w", account.ID, err))
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleWrite
	}
	return nil
}

func (u *pgUnitOfWork) AppendRecord(ctx context.Context, record *TransferRecord) (string, error) {
	if err := record.validate(); err != nil {
		return "", err
	}
	id := record.ID
	if id == "" {
		id = uuid.NewString()
	}

	_, err := u.tx.Exec(ctx, `
        INSERT INTO transfers (id, sender_account_id, receiver_account_id, receiver_account_number,
            receiver_account_holder_name, currency_id, currency_code, amount, status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8::text::numeric, $9, $10)
    `, id, record.SenderAccountID, record.ReceiverAccountID, record.ReceiverAccountNumber,
		record.ReceiverHolderName, record.CurrencyID, record.CurrencyCode, record.Amount.String(),
		string(record.Status), stamp(record.CreatedAt))
	if err != nil {
		return "", classifyPgError(fmt.Errorf("failed to insert transfer: %w", err))
	}
	return id, nil
}

func (u *pgUnitOfWork) Commit(ctx context.Context) error {
	if err := u.tx.Commit(ctx); err != nil {
		return classifyPgError(fmt.Errorf("failed to commit: %w", err))
	}
	u.committed = true
	return nil
}

func (u *pgUnitOfWork) Rollback(ctx context.Context) error {
	if u.committed {
		return nil
	}
	if err := u.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("failed to rollback: %w", err)
	}
	return nil
}

// classifyPgError maps lock and serialization failures onto concurrency kinds so
// the engine retries them. Everything else passes through as a storage fault.
func classifyPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "55P03": // lock_not_available
		return wrapError(KindLockTimeout, "timed out waiting for account lock", err)
	case "40001", "40P01": // serialization_failure, deadlock_detected
		return wrapError(KindConflict, "concurrent update conflict", err)
	default:
		return err
	}
}

const (
	pgAccountNumberKey = "accounts_account_number_key"
	pgUserCurrencyKey  = "accounts_user_id_currency_id_key"
)

// classifyPgConstraint maps unique violations on accounts to the store sentinels.
func classifyPgConstraint(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" { // unique_violation
		return err
	}
	switch pgErr.ConstraintName {
	case pgAccountNumberKey:
		return fmt.Errorf("%w: %v", ErrAccountNumberTaken, err)
	case pgUserCurrencyKey:
		return fmt.Errorf("%w: %v", ErrAccountExists, err)
	default:
		return err
	}
}
