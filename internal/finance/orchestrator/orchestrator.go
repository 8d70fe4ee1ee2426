// Package orchestrator drives import passes, complete syncs of one candidate
// and multi-candidate runs with pause, resume and cancel.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"fecsync/internal/finance/committee"
	"fecsync/internal/finance/events"
	"fecsync/internal/finance/fetcher"
	"fecsync/internal/finance/identity"
	"fecsync/internal/finance/metrics"
	"fecsync/internal/finance/models"
	"fecsync/internal/ratelimit/budget"
)

// Store is the persistence the orchestrator reads and writes.
type Store interface {
	GetCandidate(ctx context.Context, id string) (*models.Candidate, error)
	ListCandidates(ctx context.Context) ([]models.Candidate, error)
	ListPending(ctx context.Context) ([]string, error)
	SaveCursor(ctx context.Context, candidateID, committeeID string, cursor *models.Cursor, mark models.SyncMark) error
	ListDonors(ctx context.Context, candidateID string, cycle int, committeeIDs []string) ([]models.Donor, error)
	ReplaceDonors(ctx context.Context, candidateID string, cycle int, donors []models.Donor) error
	MarkSynced(ctx context.Context, id string, at time.Time) error
}

type Discoverer interface {
	Discover(ctx context.Context, req committee.Request) (*committee.Discovery, error)
}

type Fetcher interface {
	FetchCommittee(ctx context.Context, job fetcher.Job, sink fetcher.Sink) (*fetcher.Outcome, error)
}

type Resolver interface {
	Resolve(ctx context.Context, in identity.Input) (*identity.Resolution, error)
}

type Publisher interface {
	Emit(ctx context.Context, e events.Event) error
}

// Limits are the defaults applied to requests that leave a field unset,
// plus the pacing of multi-pass work.
type Limits struct {
	Cycle                int
	MaxPages             int
	MaxRuntime           time.Duration
	RateLimitPerMinute   int
	IncludeOtherReceipts bool
	MaxIterations        int
	IterationDelay       time.Duration
	CandidateDelay       time.Duration
}

func DefaultLimits(cycle int) Limits {
	return Limits{
		Cycle:              cycle,
		MaxPages:           20,
		MaxRuntime:         50 * time.Second,
		RateLimitPerMinute: 60,
		MaxIterations:      25,
		IterationDelay:     time.Second,
		CandidateDelay:     2 * time.Second,
	}
}

type Orchestrator struct {
	store      Store
	discoverer Discoverer
	fetcher    Fetcher
	resolver   Resolver
	publisher  Publisher
	limits     Limits
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	now        func() time.Time
	sleep      budget.SleepFunc
}

type Option func(*Orchestrator)

// WithResolver lets multi-candidate runs resolve candidates that have no
// external id yet.
func WithResolver(r Resolver) Option {
	return func(o *Orchestrator) {
		o.resolver = r
	}
}

func WithPublisher(p Publisher) Option {
	return func(o *Orchestrator) {
		o.publisher = p
	}
}

func WithLimits(l Limits) Option {
	return func(o *Orchestrator) {
		o.limits = l
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithSleep replaces the delay between iterations and candidates.
func WithSleep(sleep budget.SleepFunc) Option {
	return func(o *Orchestrator) {
		o.sleep = sleep
	}
}

func New(store Store, discoverer Discoverer, f Fetcher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:      store,
		discoverer: discoverer,
		fetcher:    f,
		limits:     DefaultLimits(cycleOf(time.Now())),
		logger:     slog.New(slog.DiscardHandler),
		tracer:     otel.Tracer("fecsync/orchestrator"),
		now:        time.Now,
		sleep:      budget.Sleep,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.limits.MaxIterations <= 0 {
		o.limits.MaxIterations = 25
	}
	return o
}
