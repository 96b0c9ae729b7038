package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// AccountStore is durable keyed storage of account balances.
type AccountStore interface {
	FindByAccountNumber(ctx context.Context, accountNumber string) (*Account, error)
	FindByUserAndCurrency(ctx context.Context, userID, currencyID string) (*Account, error)
	// Begin opens a unit of work. Balance mutation happens only inside one.
	Begin(ctx context.Context) (UnitOfWork, error)
}

// UnitOfWork is a scope whose writes commit or roll back together.
type UnitOfWork interface {
	// LockForUpdate blocks until the row lock is held for the rest of the unit of work.
	LockForUpdate(ctx context.Context, accountID string) (*Account, error)
	// Save persists balance and total fields of a locked account.
	Save(ctx context.Context, account *Account) error
	// AppendRecord writes a ledger entry once. There is no update or delete.
	AppendRecord(ctx context.Context, record *TransferRecord) (string, error)
	Commit(ctx context.Context) error
	// Rollback is a no-op after a successful Commit.
	Rollback(ctx context.Context) error
}

// LedgerReader reads transfer records visible to a user.
type LedgerReader interface {
	ListRecordsForUser(ctx context.Context, userID string, currencyID string) ([]TransferRecord, error)
	GetRecordForUser(ctx context.Context, userID, recordID string) (*TransferRecord, error)
}

// CurrencyStore resolves currency codes from durable storage.
type CurrencyStore interface {
	FindCurrencyByCode(ctx context.Context, code string) (*Currency, error)
}

// Store is the full storage backend the engine needs.
type Store interface {
	AccountStore
	LedgerReader
	CurrencyStore
}

// EventKind distinguishes notifier events.
type EventKind string

const (
	EventSuccess             EventKind = "success"
	EventInsufficientBalance EventKind = "insufficient_balance"
)

// Event is handed to the notifier after the transfer outcome is final.
type Event struct {
	Kind        EventKind       `json:"kind"`
	Account     *Account        `json:"account"`
	Counterpart *Account        `json:"counterpart,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Record      *TransferRecord `json:"record,omitempty"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// Notifier accepts post-commit events. Publish must not block on delivery.
type Notifier interface {
	Publish(ev Event)
}

type nopNotifier struct{}

func (nopNotifier) Publish(Event) {}
