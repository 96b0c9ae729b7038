package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// EngineConfig tunes the transfer engine.
type EngineConfig struct {
	MinimumAmount decimal.Decimal
	// MaxAttempts bounds how often a unit of work is retried after a concurrency error.
	MaxAttempts  int
	RetryBackoff time.Duration
	// RecordFailedAttempts appends a zero-effect "failed" entry when the locked
	// balance turns out to be insufficient.
	RecordFailedAttempts bool
}

// Engine validates, locks, applies and records transfers between two accounts.
type Engine struct {
	store      Store
	currencies CurrencyDirectory
	validator  *Validator
	notifier   Notifier
	logger     *slog.Logger
	cfg        EngineConfig
	now        func() time.Time
}

// NewEngine wires the engine. A nil notifier discards events.
func NewEngine(store Store, currencies CurrencyDirectory, notifier Notifier, logger *slog.Logger, cfg EngineConfig) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 10 * time.Millisecond
	}
	return &Engine{
		store:      store,
		currencies: currencies,
		validator:  NewValidator(cfg.MinimumAmount),
		notifier:   notifier,
		logger:     logger,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// TransferRequest represents the request to transfer funds to another account.
// The sender is whichever account the caller holds in the requested currency.
type TransferRequest struct {
	CallerUserID          string          `json:"caller_user_id"`
	ReceiverAccountNumber string          `json:"receiver_account_number"`
	CurrencyCode          string          `json:"currency_code"`
	Amount                decimal.Decimal `json:"amount"`
}

// run carries one transfer through its states.
type run struct {
	req      TransferRequest
	state    State
	currency *Currency
	sender   *Account
	receiver *Account
	logger   *slog.Logger
}

func (r *run) moveTo(s State) {
	r.logger.Debug("transfer_state", "from", r.state, "to", s)
	r.state = s
}

// Transfer moves req.Amount from the caller's account to the receiver account.
// It returns the completed ledger record, or an *Error whose Kind is either a
// validation kind or transfer_failed.
func (e *Engine) Transfer(ctx context.Context, req TransferRequest) (*TransferRecord, error) {
	r := &run{
		req:    req,
		state:  StateInitiated,
		logger: e.logger.With("caller", req.CallerUserID, "receiver_account_number", req.ReceiverAccountNumber, "currency", req.CurrencyCode),
	}

	if err := e.resolve(ctx, r); err != nil {
		r.moveTo(StateAborted)
		return nil, err
	}

	res := e.validator.Validate(r.sender, r.receiver, r.currency, req.Amount)
	if !res.IsValid {
		r.moveTo(StateAborted)
		if res.Kind == KindInsufficientBalance {
			e.notifier.Publish(Event{Kind: EventInsufficientBalance, Account: r.sender.clone(), Counterpart: r.receiver.clone(), Amount: req.Amount, OccurredAt: e.now()})
		}
		r.logger.Info("transfer rejected", "kind", res.Kind, "reason", res.Message)
		return nil, res.Err()
	}
	r.moveTo(StateValidated)

	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		record, locked, err := e.apply(ctx, r)
		if err == nil {
			e.notifier.Publish(Event{Kind: EventSuccess, Account: locked.sender, Counterpart: locked.receiver, Amount: req.Amount, Record: record, OccurredAt: e.now()})
			r.logger.Info("transfer committed", "transfer_id", record.ID, "amount", req.Amount.String())
			return record, nil
		}

		if IsKind(err, KindInsufficientBalance) {
			r.moveTo(StateAborted)
			if e.cfg.RecordFailedAttempts {
				e.recordFailure(ctx, r)
			}
			e.notifier.Publish(Event{Kind: EventInsufficientBalance, Account: locked.sender, Counterpart: locked.receiver, Amount: req.Amount, OccurredAt: e.now()})
			r.logger.Info("transfer rejected after lock", "kind", KindInsufficientBalance)
			return nil, err
		}

		lastErr = err
		if !isConcurrency(err) {
			break
		}

		r.logger.Warn("transfer retry after concurrency error", "attempt", attempt, "error", err)
		if attempt == e.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			r.moveTo(StateAborted)
			return nil, wrapError(KindTransferFailed, "transfer abandoned before lock acquisition", ctx.Err())
		case <-time.After(time.Duration(attempt) * e.cfg.RetryBackoff):
		}
	}

	r.moveTo(StateAborted)
	r.logger.Error("transfer failed", "error", lastErr)
	return nil, wrapError(KindTransferFailed, "transfer failed", lastErr)
}

// resolve loads the currency and both accounts. Missing accounts stay nil so the
// validator can name the failure.
func (e *Engine) resolve(ctx context.Context, r *run) error {
	currency, err := e.currencies.Resolve(ctx, r.req.CurrencyCode)
	if err != nil {
		if IsValidation(err) {
			return err
		}
		return wrapError(KindTransferFailed, "failed to resolve currency", err)
	}
	r.currency = currency

	sender, err := e.store.FindByUserAndCurrency(ctx, r.req.CallerUserID, currency.ID)
	if err != nil && !errors.Is(err, ErrAccountNotFound) {
		return wrapError(KindTransferFailed, "failed to load sender account", err)
	}
	r.sender = sender

	receiver, err := e.store.FindByAccountNumber(ctx, r.req.ReceiverAccountNumber)
	if err != nil && !errors.Is(err, ErrAccountNotFound) {
		return wrapError(KindTransferFailed, "failed to load receiver account", err)
	}
	r.receiver = receiver

	r.moveTo(StateAccountsResolved)
	return nil
}

type lockedPair struct {
	sender   *Account
	receiver *Account
}

// apply runs one unit of work: lock in canonical order, re-check, mutate, record, commit.
// Any error leaves storage untouched.
func (e *Engine) apply(ctx context.Context, r *run) (*TransferRecord, lockedPair, error) {
	var pair lockedPair

	uow, err := e.store.Begin(ctx)
	if err != nil {
		return nil, pair, err
	}
	// Rollback must run even when the caller has gone away.
	defer func() {
		if rbErr := uow.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			r.logger.Error("rollback failed", "error", rbErr)
		}
	}()

	locked := make(map[string]*Account, 2)
	for _, id := range lockOrder(r.sender.ID, r.receiver.ID) {
		acc, err := uow.LockForUpdate(ctx, id)
		if err != nil {
			return nil, pair, err
		}
		locked[id] = acc
	}
	r.moveTo(StateLocked)

	// Past this point there is no cancellation: finish or roll back.
	work := context.WithoutCancel(ctx)

	sender, receiver := locked[r.sender.ID], locked[r.receiver.ID]
	pair = lockedPair{sender: sender.clone(), receiver: receiver.clone()}

	if sender.CurrencyID != r.currency.ID || receiver.CurrencyID != r.currency.ID {
		return nil, pair, ErrStaleWrite
	}

	if res := e.validator.CheckBalance(sender, r.req.Amount); !res.IsValid {
		return nil, pair, res.Err()
	}

	sender.debit(r.req.Amount)
	receiver.credit(r.req.Amount)
	now := e.now()
	sender.UpdatedAt, receiver.UpdatedAt = now, now

	if err := uow.Save(work, sender); err != nil {
		return nil, pair, fmt.Errorf("failed to save sender: %w", err)
	}
	if err := uow.Save(work, receiver); err != nil {
		return nil, pair, fmt.Errorf("failed to save receiver: %w", err)
	}
	r.moveTo(StateApplied)

	record := &TransferRecord{
		SenderAccountID:       sender.ID,
		ReceiverAccountID:     receiver.ID,
		ReceiverAccountNumber: receiver.AccountNumber,
		ReceiverHolderName:    receiver.HolderName,
		CurrencyID:            r.currency.ID,
		CurrencyCode:          r.currency.Code,
		Amount:                r.req.Amount,
		Status:                StatusCompleted,
		CreatedAt:             now,
	}
	id, err := uow.AppendRecord(work, record)
	if err != nil {
		return nil, pair, fmt.Errorf("failed to append transfer record: %w", err)
	}
	record.ID = id
	r.moveTo(StateRecorded)

	if err := uow.Commit(work); err != nil {
		return nil, pair, fmt.Errorf("failed to commit transfer: %w", err)
	}
	r.moveTo(StateCommitted)

	pair = lockedPair{sender: sender.clone(), receiver: receiver.clone()}
	return record, pair, nil
}

// recordFailure appends a failed audit entry in its own unit of work. It has no
// balance effect and its own failure is only logged.
func (e *Engine) recordFailure(ctx context.Context, r *run) {
	work := context.WithoutCancel(ctx)

	uow, err := e.store.Begin(work)
	if err != nil {
		r.logger.Error("failed to open unit of work for failed-attempt record", "error", err)
		return
	}
	defer func() { _ = uow.Rollback(work) }()

	record := &TransferRecord{
		SenderAccountID:       r.sender.ID,
		ReceiverAccountID:     r.receiver.ID,
		ReceiverAccountNumber: r.receiver.AccountNumber,
		ReceiverHolderName:    r.receiver.HolderName,
		CurrencyID:            r.currency.ID,
		CurrencyCode:          r.currency.Code,
		Amount:                r.req.Amount,
		Status:                StatusFailed,
		CreatedAt:             e.now(),
	}
	if _, err := uow.AppendRecord(work, record); err != nil {
		r.logger.Error("failed to append failed-attempt record", "error", err)
		return
	}
	if err := uow.Commit(work); err != nil {
		r.logger.Error("failed to commit failed-attempt record", "error", err)
	}
}

// lockOrder returns the two ids in ascending order so that opposing transfers
// acquire locks in the same sequence.
func lockOrder(a, b string) []string {
	if a < b {
		return []string{a, b}
	}
	return []string{b, a}
}

// ListTransfersForUser returns every record where the user owns the sender or receiver account.
func (e *Engine) ListTransfersForUser(ctx context.Context, userID string) ([]TransferRecord, error) {
	records, err := e.store.ListRecordsForUser(ctx, userID, "")
	if err != nil {
		return nil, wrapError(KindStorageFault, "failed to list transfers", err)
	}
	return records, nil
}

// ListTransfersForUserByCurrency narrows ListTransfersForUser to one currency.
func (e *Engine) ListTransfersForUserByCurrency(ctx context.Context, userID, currencyCode string) ([]TransferRecord, error) {
	currency, err := e.currencies.Resolve(ctx, currencyCode)
	if err != nil {
		return nil, err
	}
	records, err := e.store.ListRecordsForUser(ctx, userID, currency.ID)
	if err != nil {
		return nil, wrapError(KindStorageFault, "failed to list transfers", err)
	}
	return records, nil
}

// GetTransfer returns a record only when the user is its sender or receiver.
func (e *Engine) GetTransfer(ctx context.Context, userID, transferID string) (*TransferRecord, error) {
	record, err := e.store.GetRecordForUser(ctx, userID, transferID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, newError(KindTransferNotFound, "transfer not found")
		}
		return nil, wrapError(KindStorageFault, "failed to get transfer", err)
	}
	return record, nil
}
