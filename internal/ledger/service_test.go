package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *recordingNotifier) Publish(ev Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) kinds() []EventKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]EventKind, 0, len(n.events))
	for _, ev := range n.events {
		out = append(out, ev.Kind)
	}
	return out
}

// faultyStore wraps a real store so tests can inject failures into specific steps.
type faultyStore struct {
	*SQLiteStore
	begins       atomic.Int32
	beginErrs    []error
	appendErr    error
	staleBalance *decimal.Decimal
	locks        *lockLog
}

// lockLog records the ids each unit of work locked, in call order.
type lockLog struct {
	mu    sync.Mutex
	units [][]string
}

func (l *lockLog) open() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.units = append(l.units, nil)
	return len(l.units) - 1
}

func (l *lockLog) add(unit int, id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.units[unit] = append(l.units[unit], id)
}

func (l *lockLog) snapshot() [][]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([][]string, len(l.units))
	for i, ids := range l.units {
		out[i] = append([]string(nil), ids...)
	}
	return out
}

func (s *faultyStore) Begin(ctx context.Context) (UnitOfWork, error) {
	n := int(s.begins.Add(1))
	if n <= len(s.beginErrs) && s.beginErrs[n-1] != nil {
		return nil, s.beginErrs[n-1]
	}
	uow, err := s.SQLiteStore.Begin(ctx)
	if err != nil {
		return nil, err
	}
	fu := &faultyUnitOfWork{UnitOfWork: uow, appendErr: s.appendErr, locks: s.locks}
	if s.locks != nil {
		fu.unit = s.locks.open()
	}
	return fu, nil
}

func (s *faultyStore) FindByUserAndCurrency(ctx context.Context, userID, currencyID string) (*Account, error) {
	acc, err := s.SQLiteStore.FindByUserAndCurrency(ctx, userID, currencyID)
	if err == nil && s.staleBalance != nil {
		acc.Balance = *s.staleBalance
	}
	return acc, err
}

type faultyUnitOfWork struct {
	UnitOfWork
	appendErr error
	locks     *lockLog
	unit      int
}

func (u *faultyUnitOfWork) LockForUpdate(ctx context.Context, accountID string) (*Account, error) {
	if u.locks != nil {
		u.locks.add(u.unit, accountID)
	}
	return u.UnitOfWork.LockForUpdate(ctx, accountID)
}

func (u *faultyUnitOfWork) AppendRecord(ctx context.Context, record *TransferRecord) (string, error) {
	if u.appendErr != nil {
		return "", u.appendErr
	}
	return u.UnitOfWork.AppendRecord(ctx, record)
}

type fixture struct {
	store      *SQLiteStore
	currencies map[string]Currency
	notifier   *recordingNotifier
	logger     *slog.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"), 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	currencies, err := SeedCurrencies(ctx, store, DefaultCurrencies)
	require.NoError(t, err)

	return &fixture{
		store:      store,
		currencies: currencies,
		notifier:   &recordingNotifier{},
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func (f *fixture) engine(store Store, cfg EngineConfig) *Engine {
	if cfg.MinimumAmount.IsZero() {
		cfg.MinimumAmount = DefaultMinimumAmount
	}
	cfg.RetryBackoff = time.Millisecond
	return NewEngine(store, NewCachedCurrencyDirectory(store, nil, 0, f.logger), f.notifier, f.logger, cfg)
}

func (f *fixture) account(t *testing.T, userID, code, number string, balance int64) *Account {
	t.Helper()
	acc, err := f.store.CreateAccount(context.Background(), NewAccount{
		UserID:         userID,
		CurrencyID:     f.currencies[code].ID,
		HolderName:     "Holder " + userID,
		AccountNumber:  number,
		InitialBalance: decimal.NewFromInt(balance),
	})
	require.NoError(t, err)
	return acc
}

func (f *fixture) balance(t *testing.T, number string) decimal.Decimal {
	t.Helper()
	acc, err := f.store.FindByAccountNumber(context.Background(), number)
	require.NoError(t, err)
	require.NoError(t, acc.CheckInvariant())
	return acc.Balance
}

func amount(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func TestEngine_Transfer(t *testing.T) {
	ctx := context.Background()

	t.Run("moves funds and records a completed entry", func(t *testing.T) {
		f := newFixture(t)
		f.account(t, "alice", "USD", "1000000001", 1000)
		f.account(t, "bob", "USD", "1000000002", 0)
		e := f.engine(f.store, EngineConfig{})

		record, err := e.Transfer(ctx, TransferRequest{
			CallerUserID:          "alice",
			ReceiverAccountNumber: "1000000002",
			CurrencyCode:          "USD",
			Amount:                amount(500),
		})
		require.NoError(t, err)
		assert.NotEmpty(t, record.ID)
		assert.Equal(t, StatusCompleted, record.Status)
		assert.Equal(t, "1000000002", record.ReceiverAccountNumber)
		assert.Equal(t, "Holder bob", record.ReceiverHolderName)
		assert.Equal(t, "USD", record.CurrencyCode)

		assert.True(t, f.balance(t, "1000000001").Equal(amount(500)))
		assert.True(t, f.balance(t, "1000000002").Equal(amount(500)))

		records, err := e.ListTransfersForUser(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, record.ID, records[0].ID)

		assert.Equal(t, []EventKind{EventSuccess}, f.notifier.kinds())
	})

	t.Run("insufficient balance leaves state untouched", func(t *testing.T) {
		f := newFixture(t)
		f.account(t, "alice", "USD", "1000000001", 1000)
		f.account(t, "bob", "USD", "1000000002", 0)
		e := f.engine(f.store, EngineConfig{})

		_, err := e.Transfer(ctx, TransferRequest{"alice", "1000000002", "USD", amount(2000)})
		assert.True(t, IsKind(err, KindInsufficientBalance))

		assert.True(t, f.balance(t, "1000000001").Equal(amount(1000)))
		records, err := e.ListTransfersForUser(ctx, "alice")
		require.NoError(t, err)
		assert.Empty(t, records)
		assert.Equal(t, []EventKind{EventInsufficientBalance}, f.notifier.kinds())
	})

	t.Run("no sender account in currency", func(t *testing.T) {
		f := newFixture(t)
		f.account(t, "alice", "EUR", "1000000001", 1000)
		f.account(t, "bob", "USD", "1000000002", 0)
		store := &faultyStore{SQLiteStore: f.store}
		e := f.engine(store, EngineConfig{})

		_, err := e.Transfer(ctx, TransferRequest{"alice", "1000000002", "USD", amount(100)})
		assert.True(t, IsKind(err, KindNoMatchingSenderAccount))
		assert.Zero(t, store.begins.Load(), "no unit of work may be opened before validation passes")
	})

	t.Run("receiver not found", func(t *testing.T) {
		f := newFixture(t)
		f.account(t, "alice", "USD", "1000000001", 1000)
		e := f.engine(f.store, EngineConfig{})

		_, err := e.Transfer(ctx, TransferRequest{"alice", "0000000000", "USD", amount(100)})
		assert.True(t, IsKind(err, KindReceiverNotFound))
	})

	t.Run("self transfer is rejected", func(t *testing.T) {
		f := newFixture(t)
		f.account(t, "alice", "USD", "1000000001", 1000)
		e := f.engine(f.store, EngineConfig{})

		_, err := e.Transfer(ctx, TransferRequest{"alice", "1000000001", "USD", amount(100)})
		assert.True(t, IsKind(err, KindSameAccount))
		assert.True(t, f.balance(t, "1000000001").Equal(amount(1000)))
	})

	t.Run("receiver in another currency", func(t *testing.T) {
		f := newFixture(t)
		f.account(t, "alice", "USD", "1000000001", 1000)
		f.account(t, "bob", "GBP", "1000000002", 0)
		e := f.engine(f.store, EngineConfig{})

		_, err := e.Transfer(ctx, TransferRequest{"alice", "1000000002", "USD", amount(100)})
		assert.True(t, IsKind(err, KindCurrencyMismatch))
	})

	t.Run("unknown currency", func(t *testing.T) {
		f := newFixture(t)
		e := f.engine(f.store, EngineConfig{})

		_, err := e.Transfer(ctx, TransferRequest{"alice", "1000000002", "JPY", amount(100)})
		assert.True(t, IsKind(err, KindUnknownCurrency))
	})

	t.Run("below minimum amount", func(t *testing.T) {
		f := newFixture(t)
		f.account(t, "alice", "USD", "1000000001", 1000)
		f.account(t, "bob", "USD", "1000000002", 0)
		e := f.engine(f.store, EngineConfig{})

		_, err := e.Transfer(ctx, TransferRequest{"alice", "1000000002", "USD", decimal.RequireFromString("9.99")})
		assert.True(t, IsKind(err, KindBelowMinimumAmount))

		_, err = e.Transfer(ctx, TransferRequest{"alice", "1000000002", "USD", amount(10)})
		assert.NoError(t, err)
	})

	t.Run("amounts finer than cents are rejected", func(t *testing.T) {
		f := newFixture(t)
		f.account(t, "alice", "USD", "1000000001", 1000)
		f.account(t, "bob", "USD", "1000000002", 0)
		e := f.engine(f.store, EngineConfig{})

		_, err := e.Transfer(ctx, TransferRequest{"alice", "1000000002", "USD", decimal.RequireFromString("10.005")})
		assert.True(t, IsKind(err, KindInvalidAmount))
		assert.True(t, f.balance(t, "1000000001").Equal(amount(1000)))
		assert.True(t, f.balance(t, "1000000002").Equal(amount(0)))

		records, err := e.ListTransfersForUser(ctx, "alice")
		require.NoError(t, err)
		assert.Empty(t, records)

		_, err = e.Transfer(ctx, TransferRequest{"alice", "1000000002", "USD", decimal.RequireFromString("10.50")})
		require.NoError(t, err)
		assert.Equal(t, "989.5", f.balance(t, "1000000001").String())
		assert.Equal(t, "10.5", f.balance(t, "1000000002").String())
	})

	t.Run("events carry the time they were raised", func(t *testing.T) {
		f := newFixture(t)
		f.account(t, "alice", "USD", "1000000001", 100)
		f.account(t, "bob", "USD", "1000000002", 0)
		e := f.engine(f.store, EngineConfig{})
		at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		e.now = func() time.Time { return at }

		_, err := e.Transfer(ctx, TransferRequest{"alice", "1000000002", "USD", amount(500)})
		assert.True(t, IsKind(err, KindInsufficientBalance))
		_, err = e.Transfer(ctx, TransferRequest{"alice", "1000000002", "USD", amount(50)})
		require.NoError(t, err)

		f.notifier.mu.Lock()
		defer f.notifier.mu.Unlock()
		require.Len(t, f.notifier.events, 2)
		for _, ev := range f.notifier.events {
			assert.True(t, ev.OccurredAt.Equal(at), "event %s stamped %s", ev.Kind, ev.OccurredAt)
		}
	})

	t.Run("fractional amounts keep exact totals", func(t *testing.T) {
		f := newFixture(t)
		f.account(t, "alice", "NGN", "1000000001", 100)
		f.account(t, "bob", "NGN", "1000000002", 0)
		e := f.engine(f.store, EngineConfig{})

		for i := 0; i < 3; i++ {
			_, err := e.Transfer(ctx, TransferRequest{"alice", "1000000002", "NGN", decimal.RequireFromString("10.10")})
			require.NoError(t, err)
		}
		assert.Equal(t, "69.7", f.balance(t, "1000000001").String())
		assert.Equal(t, "30.3", f.balance(t, "1000000002").String())
	})
}

func TestLockOrder(t *testing.T) {
	assert.Equal(t, []string{"acct-a", "acct-b"}, lockOrder("acct-b", "acct-a"))
	assert.Equal(t, []string{"acct-a", "acct-b"}, lockOrder("acct-a", "acct-b"))
}

func TestEngine_LocksAccountsInAscendingIDOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	usd := f.currencies["USD"].ID
	for _, na := range []NewAccount{
		{ID: "acct-zz", UserID: "zed", CurrencyID: usd, HolderName: "Zed", AccountNumber: "3000000009", InitialBalance: amount(500)},
		{ID: "acct-aa", UserID: "amy", CurrencyID: usd, HolderName: "Amy", AccountNumber: "3000000001", InitialBalance: amount(500)},
	} {
		_, err := f.store.CreateAccount(ctx, na)
		require.NoError(t, err)
	}

	store := &faultyStore{SQLiteStore: f.store, locks: &lockLog{}}
	e := f.engine(store, EngineConfig{})

	// higher id sends to lower id, then the reverse
	_, err := e.Transfer(ctx, TransferRequest{"zed", "3000000001", "USD", amount(50)})
	require.NoError(t, err)
	_, err = e.Transfer(ctx, TransferRequest{"amy", "3000000009", "USD", amount(20)})
	require.NoError(t, err)

	units := store.locks.snapshot()
	require.Len(t, units, 2)
	for i, ids := range units {
		assert.Equal(t, []string{"acct-aa", "acct-zz"}, ids, "unit of work %d", i)
	}
	assert.True(t, f.balance(t, "3000000009").Equal(amount(470)))
	assert.True(t, f.balance(t, "3000000001").Equal(amount(530)))
}

func TestEngine_FailureModes(t *testing.T) {
	ctx := context.Background()

	t.Run("storage fault mid-transfer has no partial effect", func(t *testing.T) {
		f := newFixture(t)
		f.account(t, "alice", "USD", "1000000001", 1000)
		f.account(t, "bob", "USD", "1000000002", 0)
		store := &faultyStore{SQLiteStore: f.store, appendErr: errors.New("disk full")}
		e := f.engine(store, EngineConfig{})

		_, err := e.Transfer(ctx, TransferRequest{"alice", "1000000002", "USD", amount(500)})
		assert.True(t, IsKind(err, KindTransferFailed))
		assert.ErrorContains(t, err, "disk full")
		assert.Equal(t, int32(1), store.begins.Load(), "storage faults are not retried")

		assert.True(t, f.balance(t, "1000000001").Equal(amount(1000)))
		assert.True(t, f.balance(t, "1000000002").Equal(amount(0)))
		assert.Empty(t, f.notifier.kinds())
	})

	t.Run("lock timeout is retried", func(t *testing.T) {
		f := newFixture(t)
		f.account(t, "alice", "USD", "1000000001", 1000)
		f.account(t, "bob", "USD", "1000000002", 0)
		store := &faultyStore{SQLiteStore: f.store, beginErrs: []error{ErrLockTimeout, ErrLockTimeout}}
		e := f.engine(store, EngineConfig{MaxAttempts: 3})

		_, err := e.Transfer(ctx, TransferRequest{"alice", "1000000002", "USD", amount(500)})
		require.NoError(t, err)
		assert.Equal(t, int32(3), store.begins.Load())
	})

	t.Run("retries are bounded", func(t *testing.T) {
		f := newFixture(t)
		f.account(t, "alice", "USD", "1000000001", 1000)
		f.account(t, "bob", "USD", "1000000002", 0)
		store := &faultyStore{SQLiteStore: f.store, beginErrs: []error{ErrLockTimeout, ErrLockTimeout, ErrLockTimeout}}
		e := f.engine(store, EngineConfig{MaxAttempts: 2})

		_, err := e.Transfer(ctx, TransferRequest{"alice", "1000000002", "USD", amount(500)})
		assert.True(t, IsKind(err, KindTransferFailed))
		assert.Equal(t, int32(2), store.begins.Load())
	})

	t.Run("cancelled before lock acquisition", func(t *testing.T) {
		f := newFixture(t)
		f.account(t, "alice", "USD", "1000000001", 1000)
		f.account(t, "bob", "USD", "1000000002", 0)
		e := f.engine(f.store, EngineConfig{})

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := e.Transfer(cctx, TransferRequest{"alice", "1000000002", "USD", amount(500)})
		assert.True(t, IsKind(err, KindTransferFailed))
		assert.True(t, f.balance(t, "1000000001").Equal(amount(1000)))
	})

	t.Run("post-lock recheck records a failed attempt when enabled", func(t *testing.T) {
		f := newFixture(t)
		f.account(t, "alice", "USD", "1000000001", 1000)
		f.account(t, "bob", "USD", "1000000002", 0)
		stale := amount(5000)
		store := &faultyStore{SQLiteStore: f.store, staleBalance: &stale}
		e := f.engine(store, EngineConfig{RecordFailedAttempts: true})

		_, err := e.Transfer(ctx, TransferRequest{"alice", "1000000002", "USD", amount(2000)})
		assert.True(t, IsKind(err, KindInsufficientBalance))

		assert.True(t, f.balance(t, "1000000001").Equal(amount(1000)))
		assert.True(t, f.balance(t, "1000000002").Equal(amount(0)))

		records, err := e.ListTransfersForUser(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, StatusFailed, records[0].Status)
		assert.Equal(t, []EventKind{EventInsufficientBalance}, f.notifier.kinds())
	})

	t.Run("post-lock recheck records nothing by default", func(t *testing.T) {
		f := newFixture(t)
		f.account(t, "alice", "USD", "1000000001", 1000)
		f.account(t, "bob", "USD", "1000000002", 0)
		stale := amount(5000)
		store := &faultyStore{SQLiteStore: f.store, staleBalance: &stale}
		e := f.engine(store, EngineConfig{})

		_, err := e.Transfer(ctx, TransferRequest{"alice", "1000000002", "USD", amount(2000)})
		assert.True(t, IsKind(err, KindInsufficientBalance))

		records, err := e.ListTransfersForUser(ctx, "alice")
		require.NoError(t, err)
		assert.Empty(t, records)
	})
}

func TestEngine_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.account(t, "alice", "USD", "1000000001", 1000)
	f.account(t, "bob", "USD", "1000000002", 0)
	f.account(t, "carol", "USD", "1000000003", 0)
	e := f.engine(f.store, EngineConfig{})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, receiver := range []string{"1000000002", "1000000003"} {
		wg.Add(1)
		go func(i int, receiver string) {
			defer wg.Done()
			_, errs[i] = e.Transfer(ctx, TransferRequest{"alice", receiver, "USD", amount(600)})
		}(i, receiver)
	}
	wg.Wait()

	var succeeded, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case IsKind(err, KindInsufficientBalance):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, insufficient)
	assert.True(t, f.balance(t, "1000000001").Equal(amount(400)))

	total := f.balance(t, "1000000001").Add(f.balance(t, "1000000002")).Add(f.balance(t, "1000000003"))
	assert.True(t, total.Equal(amount(1000)))
}

func TestEngine_MirrorTransfersConserveFunds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.account(t, "alice", "EUR", "2000000001", 500)
	f.account(t, "bob", "EUR", "2000000002", 500)
	e := f.engine(f.store, EngineConfig{MaxAttempts: 5})

	var wg sync.WaitGroup
	var completed atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := e.Transfer(ctx, TransferRequest{"alice", "2000000002", "EUR", amount(25)}); err == nil {
				completed.Add(1)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := e.Transfer(ctx, TransferRequest{"bob", "2000000001", "EUR", amount(25)}); err == nil {
				completed.Add(1)
			}
		}()
	}
	wg.Wait()

	a, b := f.balance(t, "2000000001"), f.balance(t, "2000000002")
	assert.True(t, a.Add(b).Equal(amount(1000)))
	assert.False(t, a.IsNegative())
	assert.False(t, b.IsNegative())

	records, err := e.ListTransfersForUser(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, records, int(completed.Load()))
}

func TestEngine_ReadOperations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.account(t, "alice", "USD", "1000000001", 1000)
	f.account(t, "alice", "EUR", "1000000011", 1000)
	f.account(t, "bob", "USD", "1000000002", 0)
	f.account(t, "bob", "EUR", "1000000012", 0)
	f.account(t, "carol", "USD", "1000000003", 0)
	e := f.engine(f.store, EngineConfig{})

	usdRecord, err := e.Transfer(ctx, TransferRequest{"alice", "1000000002", "USD", amount(100)})
	require.NoError(t, err)
	_, err = e.Transfer(ctx, TransferRequest{"alice", "1000000012", "EUR", amount(50)})
	require.NoError(t, err)

	all, err := e.ListTransfersForUser(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	usd, err := e.ListTransfersForUserByCurrency(ctx, "bob", "usd")
	require.NoError(t, err)
	require.Len(t, usd, 1)
	assert.Equal(t, usdRecord.ID, usd[0].ID)

	got, err := e.GetTransfer(ctx, "bob", usdRecord.ID)
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(amount(100)))

	again, err := e.GetTransfer(ctx, "bob", usdRecord.ID)
	require.NoError(t, err)
	assert.Equal(t, got, again)

	_, err = e.GetTransfer(ctx, "carol", usdRecord.ID)
	assert.True(t, IsKind(err, KindTransferNotFound))

	none, err := e.ListTransfersForUser(ctx, "carol")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = e.ListTransfersForUserByCurrency(ctx, "bob", "XYZ")
	assert.True(t, IsKind(err, KindUnknownCurrency))
}
