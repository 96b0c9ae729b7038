package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ledger-transfer/internal/ledger"
)

// Sink delivers one event to one destination.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev ledger.Event) error
}

// Config tunes the dispatcher.
type Config struct {
	Workers      int
	QueueSize    int
	MaxAttempts  int
	RetryBackoff time.Duration
	// DeliverTimeout bounds a single sink call.
	DeliverTimeout time.Duration
}

// ErrClosed is returned by Close when called twice.
var ErrClosed = errors.New("notify: dispatcher closed")

// Dispatcher fans ledger events out to sinks on a bounded worker pool. Publish
// never blocks the caller; a full queue drops the event and logs it.
type Dispatcher struct {
	cfg    Config
	sinks  []Sink
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan ledger.Event
	wg     sync.WaitGroup
}

// NewDispatcher starts cfg.Workers workers draining the queue.
func NewDispatcher(cfg Config, logger *slog.Logger, sinks ...Sink) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 50 * time.Millisecond
	}
	if cfg.DeliverTimeout <= 0 {
		cfg.DeliverTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		cfg:    cfg,
		sinks:  sinks,
		logger: logger.With("component", "notifier"),
		queue:  make(chan ledger.Event, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Publish implements ledger.Notifier.
func (d *Dispatcher) Publish(ev ledger.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Warn("event dropped after close", "kind", ev.Kind)
		return
	}

	select {
	case d.queue <- ev:
	default:
		d.logger.Warn("event dropped, queue full", "kind", ev.Kind, "queue_size", d.cfg.QueueSize)
	}
}

// Close stops accepting events and waits for queued ones to be delivered or ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for ev := range d.queue {
		for _, sink := range d.sinks {
			d.deliver(sink, ev)
		}
	}
}

// deliver retries one sink with linear backoff; a sink failing for good is logged and skipped.
func (d *Dispatcher) deliver(sink Sink, ev ledger.Event) {
	var err error
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.DeliverTimeout)
		err = sink.Deliver(ctx, ev)
		cancel()
		if err == nil {
			return
		}
		if attempt < d.cfg.MaxAttempts {
			time.Sleep(time.Duration(attempt) * d.cfg.RetryBackoff)
		}
	}
	d.logger.Error("event delivery failed", "sink", sink.Name(), "kind", ev.Kind, "attempts", d.cfg.MaxAttempts, "error", err)
}
