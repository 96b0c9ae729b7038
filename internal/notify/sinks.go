package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ledger-transfer/internal/ledger"
	"github.com/example/ledger-transfer/pkg/audit"
)

// DefaultStream is the Redis stream transfer events are appended to.
const DefaultStream = "transfer.events"

// Message is the flattened, wire-stable form of a ledger event.
type Message struct {
	Kind                     ledger.EventKind `json:"kind"`
	TransferID               string           `json:"transfer_id,omitempty"`
	UserID                   string           `json:"user_id"`
	AccountID                string           `json:"account_id"`
	AccountNumber            string           `json:"account_number"`
	CounterpartAccountID     string           `json:"counterpart_account_id,omitempty"`
	CounterpartAccountNumber string           `json:"counterpart_account_number,omitempty"`
	CounterpartUserID        string           `json:"counterpart_user_id,omitempty"`
	CurrencyID               string           `json:"currency_id"`
	CurrencyCode             string           `json:"currency_code,omitempty"`
	Amount                   string           `json:"amount"`
	Balance                  string           `json:"balance"`
	OccurredAt               time.Time        `json:"occurred_at"`
}

// NewMessage flattens ev. The account snapshot carries the post-commit balance on
// success and the locked or pre-lock balance on rejection. OccurredAt is the
// time the engine raised the event, so every sink sees the same value.
func NewMessage(ev ledger.Event) Message {
	m := Message{
		Kind:       ev.Kind,
		Amount:     ev.Amount.String(),
		OccurredAt: ev.OccurredAt,
	}
	if ev.Account != nil {
		m.UserID = ev.Account.UserID
		m.AccountID = ev.Account.ID
		m.AccountNumber = ev.Account.AccountNumber
		m.CurrencyID = ev.Account.CurrencyID
		m.Balance = ev.Account.Balance.String()
	}
	if ev.Counterpart != nil {
		m.CounterpartAccountID = ev.Counterpart.ID
		m.CounterpartAccountNumber = ev.Counterpart.AccountNumber
		m.CounterpartUserID = ev.Counterpart.UserID
	}
	if ev.Record != nil {
		m.TransferID = ev.Record.ID
		m.CurrencyCode = ev.Record.CurrencyCode
		if m.OccurredAt.IsZero() {
			m.OccurredAt = ev.Record.CreatedAt
		}
	}
	return m
}

// RedisStreamSink appends events to a Redis stream for downstream consumers
// (mail, push, analytics).
type RedisStreamSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisStreamSink creates a sink. maxLen caps the stream approximately; zero leaves it unbounded.
func NewRedisStreamSink(client *redis.Client, stream string, maxLen int64) *RedisStreamSink {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisStreamSink{client: client, stream: stream, maxLen: maxLen}
}

func (s *RedisStreamSink) Name() string { return "redis_stream" }

func (s *RedisStreamSink) Deliver(ctx context.Context, ev ledger.Event) error {
	eventJSON, err := json.Marshal(NewMessage(ev))
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"kind":  string(ev.Kind),
			"event": eventJSON,
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	if _, err := s.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// AuditSink links every event into a tamper-evident chain.
type AuditSink struct {
	chain *audit.ChainLogger
}

func NewAuditSink(chain *audit.ChainLogger) *AuditSink {
	return &AuditSink{chain: chain}
}

func (s *AuditSink) Name() string { return "audit_chain" }

func (s *AuditSink) Deliver(_ context.Context, ev ledger.Event) error {
	_, err := s.chain.Append("transfer."+string(ev.Kind), NewMessage(ev))
	return err
}

// LogSink writes events to the structured log.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(ctx context.Context, ev ledger.Event) error {
	m := NewMessage(ev)
	s.logger.InfoContext(ctx, "transfer_event",
		"kind", m.Kind,
		"transfer_id", m.TransferID,
		"user_id", m.UserID,
		"account_number", m.AccountNumber,
		"counterpart_account_number", m.CounterpartAccountNumber,
		"amount", m.Amount,
		"balance", m.Balance,
	)
	return nil
}
