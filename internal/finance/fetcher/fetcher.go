// Package fetcher pages through a committee's itemized receipts under the
// shared request budget.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fecsync/internal/finance/fec"
	"fecsync/internal/finance/metrics"
	"fecsync/internal/finance/models"
	"fecsync/internal/ratelimit/budget"
	"fecsync/pkg/requestcontext"
)

// StopReason explains why a committee fetch ended.
type StopReason string

const (
	StopComplete  StopReason = "complete"
	StopMaxPages  StopReason = "max_pages"
	StopDeadline  StopReason = "deadline"
	StopStopped   StopReason = "stopped"
	StopAbandoned StopReason = "abandoned"
)

// DefaultPageDelay separates consecutive page requests.
const DefaultPageDelay = 250 * time.Millisecond

var errDeadline = errors.New("invocation deadline reached")

// Source is the upstream receipts API.
type Source interface {
	Receipts(ctx context.Context, q fec.ReceiptQuery) (*fec.ReceiptPage, error)
}

// Limiter hands out request budget slots.
type Limiter interface {
	Wait(ctx context.Context, key string, limit int, onWait func(time.Duration)) error
}

// Gate is consulted before every page. Checkpoint blocks while the run is
// paused and returns an error once the run is cancelled.
type Gate interface {
	Checkpoint(ctx context.Context) error
}

// Observer receives progress signals while a committee is fetched.
type Observer interface {
	FetchingPage(committeeID string, page int)
	WaitingForRateLimit(committeeID string, wait time.Duration)
	Retrying(committeeID string, attempt int, wait time.Duration, err error)
}

// Sink receives the kept transactions of every page in order.
type Sink func(page []models.Transaction) error

// Job describes one committee fetch for one cycle.
type Job struct {
	CandidateID  string
	CommitteeID  string
	Cycle        int
	Cursor       *models.Cursor
	MaxPages     int
	Deadline     time.Time
	IncludeOther bool
	RateLimit    int
	Gate         Gate
	Observer     Observer
}

// Outcome summarizes a committee fetch. Cursor is nil once the committee is
// complete; otherwise it is the position after the last successful page.
type Outcome struct {
	CommitteeID string
	Pages       int
	Seen        int
	Kept        int
	Cursor      *models.Cursor
	Complete    bool
	StopReason  StopReason
	LastErr     error
}

type Fetcher struct {
	source    Source
	limiter   Limiter
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	now       func() time.Time
	sleep     budget.SleepFunc
	timer     backoff.Timer
	retry     RetryPolicy
	pageSize  int
	pageDelay time.Duration
	budgetKey string
}

type Option func(*Fetcher)

func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Fetcher) {
		f.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) {
		f.now = now
	}
}

// WithSleep replaces the inter-page sleep.
func WithSleep(sleep budget.SleepFunc) Option {
	return func(f *Fetcher) {
		f.sleep = sleep
	}
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(f *Fetcher) {
		f.retry = p.normalized()
	}
}

// WithPageSize sets the page length that marks a full page. Shorter pages
// end the committee.
func WithPageSize(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.pageSize = n
		}
	}
}

func WithPageDelay(d time.Duration) Option {
	return func(f *Fetcher) {
		f.pageDelay = d
	}
}

// WithBudgetKey sets the request budget bucket shared by every process
// using the same API key.
func WithBudgetKey(key string) Option {
	return func(f *Fetcher) {
		f.budgetKey = key
	}
}

func New(source Source, limiter Limiter, opts ...Option) *Fetcher {
	f := &Fetcher{
		source:    source,
		limiter:   limiter,
		logger:    slog.New(slog.DiscardHandler),
		tracer:    otel.Tracer("fecsync/fetcher"),
		now:       time.Now,
		sleep:     budget.Sleep,
		retry:     DefaultRetryPolicy(),
		pageSize:  100,
		pageDelay: DefaultPageDelay,
		budgetKey: "upstream:fec",
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.limiter == nil {
		f.limiter = budget.New(nil, budget.WithClock(f.now))
	}
	return f
}

// FetchCommittee pages through one committee from its stored cursor and
// hands kept transactions to sink. The returned error is reserved for
// failures the whole pass must stop on: configuration errors, a failing
// sink or a finished request context. Everything else ends the committee
// with a stop reason on the outcome.
func (f *Fetcher) FetchCommittee(ctx context.Context, job Job, sink Sink) (*Outcome, error) {
	if job.CommitteeID == "" {
		return nil, errors.New("committee id is required")
	}
	if job.RateLimit <= 0 {
		return nil, fmt.Errorf("rate limit must be positive, got %d", job.RateLimit)
	}

	ctx, span := f.tracer.Start(ctx, "fetcher.FetchCommittee", trace.WithAttributes(
		attribute.String("committee_id", job.CommitteeID),
		attribute.Int("cycle", job.Cycle),
	))
	defer span.End()

	out := &Outcome{CommitteeID: job.CommitteeID}
	cursor := job.Cursor
	if cursor.Empty() || cursor.Cycle != job.Cycle {
		cursor = nil
	}
	out.Cursor = cursor

	finish := func(reason StopReason) (*Outcome, error) {
		out.StopReason = reason
		span.SetAttributes(
			attribute.String("stop_reason", string(reason)),
			attribute.Int("pages", out.Pages),
			attribute.Int("kept", out.Kept),
		)
		f.logger.InfoContext(ctx, "committee fetch finished",
			"run_id", requestcontext.RunID(ctx),
			"candidate_id", job.CandidateID,
			"committee_id", job.CommitteeID,
			"cycle", job.Cycle,
			"pages", out.Pages,
			"seen", out.Seen,
			"kept", out.Kept,
			"stop_reason", reason,
		)
		return out, nil
	}

	for {
		if job.MaxPages > 0 && out.Pages >= job.MaxPages {
			return finish(StopMaxPages)
		}
		if f.pastDeadline(job) {
			return finish(StopDeadline)
		}
		if out.Pages > 0 && f.pageDelay > 0 {
			if err := f.sleep(ctx, f.pageDelay); err != nil {
				return out, err
			}
		}
		if job.Gate != nil {
			if err := job.Gate.Checkpoint(ctx); err != nil {
				if ctx.Err() != nil {
					return out, ctx.Err()
				}
				return finish(StopStopped)
			}
		}
		if job.Observer != nil {
			job.Observer.FetchingPage(job.CommitteeID, out.Pages+1)
		}

		page, err := f.fetchPage(ctx, job, cursor)
		if err != nil {
			out.LastErr = err
			switch {
			case errors.Is(err, errDeadline):
				return finish(StopDeadline)
			case ctx.Err() != nil:
				span.SetStatus(codes.Error, "context done")
				return out, ctx.Err()
			case fec.IsCategory(err, fec.CategoryConfig):
				span.RecordError(err)
				span.SetStatus(codes.Error, "configuration error")
				return out, err
			}
			span.RecordError(err)
			f.metrics.IncrementAbandoned()
			f.logger.WarnContext(ctx, "committee abandoned for this pass",
				"run_id", requestcontext.RunID(ctx),
				"candidate_id", job.CandidateID,
				"committee_id", job.CommitteeID,
				"page", out.Pages+1,
				"category", fec.CategoryOf(err),
				"error", err,
			)
			return finish(StopAbandoned)
		}

		kept := keep(page.Transactions, job.IncludeOther)
		if len(kept) > 0 && sink != nil {
			if err := sink(kept); err != nil {
				return out, fmt.Errorf("sink page %d: %w", out.Pages+1, err)
			}
		}
		out.Pages++
		out.Seen += len(page.Transactions)
		out.Kept += len(kept)
		f.metrics.ObservePage(len(page.Transactions), len(kept))

		if len(page.Transactions) < f.pageSize || page.Next.Empty() {
			out.Cursor = nil
			out.Complete = true
			return finish(StopComplete)
		}
		cursor = page.Next
		out.Cursor = cursor
	}
}

// fetchPage requests one page, retrying throttled and transient failures
// with bounded exponential backoff. Each attempt consumes a budget slot.
func (f *Fetcher) fetchPage(ctx context.Context, job Job, after *models.Cursor) (*fec.ReceiptPage, error) {
	ctx, span := f.tracer.Start(ctx, "fetcher.page")
	defer span.End()

	attempt := 0
	var page *fec.ReceiptPage
	operation := func() error {
		attempt++
		if attempt > 1 && f.pastDeadline(job) {
			return backoff.Permanent(errDeadline)
		}
		onWait := func(d time.Duration) {
			if job.Observer != nil {
				job.Observer.WaitingForRateLimit(job.CommitteeID, d)
			}
		}
		if err := f.limiter.Wait(ctx, f.budgetKey, job.RateLimit, onWait); err != nil {
			return backoff.Permanent(err)
		}
		p, err := f.source.Receipts(ctx, fec.ReceiptQuery{
			CommitteeID: job.CommitteeID,
			Cycle:       job.Cycle,
			After:       after,
		})
		if err != nil {
			if fec.IsRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		page = p
		return nil
	}
	notify := func(err error, wait time.Duration) {
		category := fec.CategoryOf(err)
		if category == fec.CategoryThrottled {
			f.metrics.IncrementThrottled()
		}
		f.metrics.IncrementRetry(string(category))
		if job.Observer != nil {
			job.Observer.Retrying(job.CommitteeID, attempt, wait, err)
		}
		f.logger.WarnContext(ctx, "page request failed, retrying",
			"committee_id", job.CommitteeID,
			"attempt", attempt,
			"wait", wait,
			"category", category,
		)
	}

	err := backoff.RetryNotifyWithTimer(operation, f.retry.backOff(ctx), notify, f.timer)
	span.SetAttributes(attribute.Int("attempts", attempt))
	if err != nil {
		return nil, err
	}
	return page, nil
}

func (f *Fetcher) pastDeadline(job Job) bool {
	return !job.Deadline.IsZero() && !f.now().Before(job.Deadline)
}

// keep drops other receipts unless includeOther is set.
func keep(txns []models.Transaction, includeOther bool) []models.Transaction {
	if includeOther {
		return txns
	}
	out := make([]models.Transaction, 0, len(txns))
	for _, t := range txns {
		if t.ReceiptType != models.ReceiptOther {
			out = append(out, t)
		}
	}
	return out
}
