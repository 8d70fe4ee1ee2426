// Package events publishes sync outcomes for downstream consumers.
package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"fecsync/internal/finance/metrics"
)

// TypeSyncCompleted is emitted after every import pass.
const TypeSyncCompleted = "sync.completed"

// ErrClosed is returned by Emit once the publisher is closed.
var ErrClosed = errors.New("event publisher closed")

// Event describes the result of one import pass.
type Event struct {
	Type                string          `json:"type"`
	RunID               string          `json:"run_id,omitempty"`
	CandidateID         string          `json:"candidate_id"`
	ExternalCandidateID string          `json:"external_candidate_id,omitempty"`
	Cycle               int             `json:"cycle"`
	State               string          `json:"state"`
	Imported            int             `json:"imported"`
	TotalRaised         decimal.Decimal `json:"total_raised"`
	HasMore             bool            `json:"has_more"`
	CommitteesProcessed int             `json:"committees_processed"`
	OccurredAt          time.Time       `json:"occurred_at"`
}

// Sink delivers one event.
type Sink interface {
	Write(ctx context.Context, e Event) error
}

// Publisher emits events to a sink, synchronously or through a bounded
// buffer drained by one goroutine.
type Publisher struct {
	sink    Sink
	buffer  chan Event
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Publisher)

// WithAsyncBuffer makes Emit enqueue events instead of writing them inline.
// Events are dropped when the buffer is full.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		if size > 0 {
			p.buffer = make(chan Event, size)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		p.now = now
	}
}

func NewPublisher(sink Sink, opts ...Option) *Publisher {
	p := &Publisher{
		sink:   sink,
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.buffer != nil {
		p.wg.Add(1)
		go p.drain()
	}
	return p
}

// Emit publishes e, stamping OccurredAt when it is unset. It returns
// ErrClosed after Close.
func (p *Publisher) Emit(ctx context.Context, e Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	if e.Type == "" {
		e.Type = TypeSyncCompleted
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = p.now()
	}
	if p.buffer == nil {
		return p.write(ctx, e)
	}
	select {
	case p.buffer <- e:
	default:
		p.metrics.IncrementEvents(false)
		p.logger.WarnContext(ctx, "event buffer full, dropping event",
			"candidate_id", e.CandidateID,
			"type", e.Type,
		)
	}
	return nil
}

// Close stops accepting events and waits for buffered ones to be written.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	if p.buffer != nil {
		close(p.buffer)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Publisher) drain() {
	defer p.wg.Done()
	for e := range p.buffer {
		if err := p.write(context.Background(), e); err != nil {
			p.logger.Warn("failed to publish event",
				"candidate_id", e.CandidateID,
				"error", err,
			)
		}
	}
}

func (p *Publisher) write(ctx context.Context, e Event) error {
	err := p.sink.Write(ctx, e)
	p.metrics.IncrementEvents(err == nil)
	return err
}

// MemorySink keeps events in process memory.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Write(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

// Events returns a copy of everything written so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// LogSink writes events to a logger. It stands in for a broker when none is
// configured.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Write(ctx context.Context, e Event) error {
	s.logger.InfoContext(ctx, "sync event",
		"type", e.Type,
		"run_id", e.RunID,
		"candidate_id", e.CandidateID,
		"cycle", e.Cycle,
		"state", e.State,
		"imported", e.Imported,
		"total_raised", e.TotalRaised.StringFixed(2),
		"has_more", e.HasMore,
	)
	return nil
}
