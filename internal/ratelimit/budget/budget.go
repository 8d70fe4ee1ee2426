// Package budget paces calls to a rate-limited upstream API. A Budget admits
// one request at a time against a sliding window and blocks until the window
// frees a slot when it is exhausted.
package budget

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"fecsync/internal/ratelimit/metrics"
	"fecsync/internal/ratelimit/models"
	"fecsync/internal/ratelimit/ports"
	"fecsync/internal/ratelimit/store/bucket"
)

const (
	defaultWindow        = time.Minute
	defaultProbeInterval = 10 * time.Second
	minWait              = 10 * time.Millisecond
)

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Budget enforces a requests-per-window limit on a shared bucket store. When
// the shared store fails repeatedly the budget degrades to an in-process
// window until a probe of the shared store succeeds again.
type Budget struct {
	primary  ports.BucketStore
	fallback ports.BucketStore
	breaker  *circuitBreaker
	window   time.Duration
	now      func() time.Time
	sleep    SleepFunc
	logger   *slog.Logger
	metrics  *metrics.Metrics

	probeMu       sync.Mutex
	probeInterval time.Duration
	lastProbe     time.Time
}

type Option func(*Budget)

func WithLogger(logger *slog.Logger) Option {
	return func(b *Budget) {
		b.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Budget) {
		b.metrics = m
	}
}

// WithWindow overrides the one-minute window.
func WithWindow(window time.Duration) Option {
	return func(b *Budget) {
		b.window = window
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Budget) {
		b.now = now
	}
}

func WithSleep(sleep SleepFunc) Option {
	return func(b *Budget) {
		b.sleep = sleep
	}
}

// WithFallback replaces the in-process store used while the shared store is
// unavailable.
func WithFallback(store ports.BucketStore) Option {
	return func(b *Budget) {
		b.fallback = store
	}
}

// New creates a budget over primary. A nil primary keeps the window in
// process memory.
func New(primary ports.BucketStore, opts ...Option) *Budget {
	b := &Budget{
		primary:       primary,
		breaker:       newCircuitBreaker(3, 2),
		window:        defaultWindow,
		now:           time.Now,
		sleep:         Sleep,
		logger:        slog.New(slog.DiscardHandler),
		probeInterval: defaultProbeInterval,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.fallback == nil {
		b.fallback = bucket.New(bucket.WithClock(b.now))
	}
	if b.primary == nil {
		b.primary = b.fallback
	}
	if b.metrics == nil {
		b.metrics = metrics.New(nil)
	}
	return b
}

// Wait consumes one slot of key's budget, sleeping until the window resets as
// often as needed. onWait, when set, is called before every sleep with the
// expected wait.
func (b *Budget) Wait(ctx context.Context, key string, limit int, onWait func(time.Duration)) error {
	if limit <= 0 {
		return fmt.Errorf("rate limit must be positive, got %d", limit)
	}
	for {
		result, err := b.allow(ctx, key, limit)
		if err != nil {
			return err
		}
		if result.Allowed {
			return nil
		}

		wait := max(result.RetryAfter(b.now()), minWait)
		b.logger.DebugContext(ctx, "request budget exhausted",
			"key", key,
			"limit", limit,
			"wait", wait,
		)
		if onWait != nil {
			onWait(wait)
		}
		b.metrics.ObserveWait(wait.Seconds())
		if err := b.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Degraded reports whether the in-process fallback is answering.
func (b *Budget) Degraded() bool {
	return b.breaker.isOpen()
}

func (b *Budget) allow(ctx context.Context, key string, limit int) (*models.RateLimitResult, error) {
	if b.primary == b.fallback {
		return b.fallback.Allow(ctx, key, limit, b.window)
	}
	if b.breaker.isOpen() && !b.dueForProbe() {
		return b.fallback.Allow(ctx, key, limit, b.window)
	}

	result, err := b.primary.Allow(ctx, key, limit, b.window)
	if err != nil {
		b.metrics.IncrementStoreErrors()
		if b.breaker.recordFailure() {
			b.metrics.SetDegraded(true)
			b.markProbe()
		}
		b.logger.WarnContext(ctx, "shared request budget unavailable, using in-process window",
			"key", key,
			"error", err,
		)
		return b.fallback.Allow(ctx, key, limit, b.window)
	}
	wasOpen := b.breaker.isOpen()
	if b.breaker.recordSuccess() && wasOpen {
		b.metrics.SetDegraded(false)
		b.logger.InfoContext(ctx, "shared request budget recovered", "key", key)
	}
	return result, nil
}

func (b *Budget) dueForProbe() bool {
	b.probeMu.Lock()
	defer b.probeMu.Unlock()
	now := b.now()
	if now.Sub(b.lastProbe) < b.probeInterval {
		return false
	}
	b.lastProbe = now
	return true
}

func (b *Budget) markProbe() {
	b.probeMu.Lock()
	b.lastProbe = b.now()
	b.probeMu.Unlock()
}

// Sleep waits for d unless ctx ends first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
