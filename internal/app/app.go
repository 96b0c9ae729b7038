// Package app wires configuration into a running transfer engine. Both the
// gRPC and HTTP binaries start from Build.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/example/ledger-transfer/internal/config"
	"github.com/example/ledger-transfer/internal/ledger"
	"github.com/example/ledger-transfer/internal/notify"
	"github.com/example/ledger-transfer/internal/security"
	"github.com/example/ledger-transfer/pkg/audit"
)

const (
	currencyCacheTTL = 10 * time.Minute
	streamMaxLen     = 100_000
)

// Runtime holds everything a binary needs to serve requests.
type Runtime struct {
	Engine      *ledger.Engine
	Accounts    *ledger.AccountService
	Audit       *audit.ChainLogger
	Redis       *redis.Client
	RateLimiter *security.RedisTokenBucket

	dispatcher *notify.Dispatcher
	closers    []func() error
	logger     *slog.Logger
}

// NewLogger returns the JSON slog logger used by both binaries.
func NewLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if !cfg.IsProduction() {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})).
		With("env", cfg.Environment)
}

// Build opens the store, migrates and seeds currencies, connects Redis when
// configured, opens the audit trail file and starts the notifier.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	rt := &Runtime{logger: logger}

	store, err := rt.openStore(ctx, cfg)
	if err != nil {
		rt.Close(context.Background())
		return nil, err
	}
	if _, err := ledger.SeedCurrencies(ctx, store, ledger.DefaultCurrencies); err != nil {
		rt.Close(context.Background())
		return nil, fmt.Errorf("seed currencies: %w", err)
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			rt.Close(context.Background())
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		rt.Redis = rdb
		rt.closers = append(rt.closers, rdb.Close)
		rt.RateLimiter = &security.RedisTokenBucket{
			Redis:      rdb,
			Prefix:     "ledger_rl",
			Capacity:   cfg.APIRateLimitCapacity,
			RefillRate: cfg.APIRateLimitRefillPerSec,
		}
	}

	opts := []audit.Option{audit.WithRetention(1024)}
	if cfg.AuditLogPath != "" && cfg.AuditLogPath != config.AuditLogDisabled {
		f, err := OpenAuditLog(cfg.AuditLogPath)
		if err != nil {
			rt.Close(context.Background())
			return nil, err
		}
		rt.closers = append(rt.closers, f.Close)
		opts = append(opts, audit.WithWriter(f))
	}
	rt.Audit = audit.NewChainLogger(opts...)

	sinks := []notify.Sink{notify.NewLogSink(logger), notify.NewAuditSink(rt.Audit)}
	if rt.Redis != nil {
		sinks = append(sinks, notify.NewRedisStreamSink(rt.Redis, notify.DefaultStream, streamMaxLen))
	}
	rt.dispatcher = notify.NewDispatcher(notify.Config{
		Workers:   cfg.NotifierWorkers,
		QueueSize: cfg.NotifierQueueSize,
	}, logger, sinks...)

	currencies := ledger.NewCachedCurrencyDirectory(store, rt.Redis, currencyCacheTTL, logger)
	rt.Engine = ledger.NewEngine(store, currencies, rt.dispatcher, logger, ledger.EngineConfig{
		MinimumAmount:        cfg.MinTransferAmount,
		MaxAttempts:          cfg.TransferMaxAttempts,
		RecordFailedAttempts: cfg.RecordFailedAttempts,
	})
	rt.Accounts = ledger.NewAccountService(store, currencies, logger)
	return rt, nil
}

// OpenAuditLog opens path for appending, creating it owner-readable only.
func OpenAuditLog(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return f, nil
}

type provisionedStore interface {
	ledger.Store
	ledger.Provisioner
	ledger.AccountRegistry
}

func (rt *Runtime) openStore(ctx context.Context, cfg *config.Config) (provisionedStore, error) {
	switch cfg.StorageDriver {
	case config.DriverSQLite:
		store, err := ledger.OpenSQLite(cfg.DatabaseURL, cfg.LockTimeout)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		rt.closers = append(rt.closers, store.Close)
		return store, nil
	default:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("create postgres pool: %w", err)
		}
		rt.closers = append(rt.closers, func() error { pool.Close(); return nil })
		if err := pool.Ping(ctx); err != nil {
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		return ledger.NewPostgresStore(pool, cfg.LockTimeout), nil
	}
}

// Close drains pending notifications, then releases connections in reverse
// order of acquisition.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.dispatcher != nil {
		if err := rt.dispatcher.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain notifier: %w", err))
		}
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
