package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fecsync/internal/finance/aggregate"
	"fecsync/internal/finance/committee"
	"fecsync/internal/finance/events"
	"fecsync/internal/finance/fec"
	"fecsync/internal/finance/fetcher"
	"fecsync/internal/finance/models"
	"fecsync/pkg/requestcontext"
)

var (
	// ErrInvalidRequest marks a request that can never succeed as given.
	ErrInvalidRequest = errors.New("invalid sync request")
	// ErrPersistDonors marks a failed donor replacement. The pass is not
	// committed: no cursor moves past records that were not stored.
	ErrPersistDonors = errors.New("failed to persist donors")
)

// MaxRuntimeLimit bounds the wall-clock budget a request may ask for.
const MaxRuntimeLimit = 24 * time.Hour

// ImportRequest is one invocation of the import pass.
type ImportRequest struct {
	CandidateID          string `json:"candidateId"`
	ExternalCandidateID  string `json:"externalCandidateId,omitempty"`
	CommitteeID          string `json:"committeeId,omitempty"`
	Cycle                int    `json:"cycle,omitempty"`
	MaxPages             int    `json:"maxPages,omitempty"`
	IncludeOtherReceipts *bool  `json:"includeOtherReceipts,omitempty"`
	MaxRuntimeMs         int64  `json:"maxRuntimeMs,omitempty"`
	RateLimitPerMinute   int    `json:"rateLimitPerMinute,omitempty"`
}

func (r ImportRequest) maxRuntime() time.Duration {
	return time.Duration(r.MaxRuntimeMs) * time.Millisecond
}

// CommitteeReport is the outcome of one committee within a pass.
type CommitteeReport struct {
	CommitteeID string               `json:"committeeId"`
	Name        string               `json:"name,omitempty"`
	Role        models.CommitteeRole `json:"role"`
	Pages       int                  `json:"pages"`
	Records     int                  `json:"records"`
	Complete    bool                 `json:"complete"`
	StopReason  fetcher.StopReason   `json:"stopReason"`
	Error       string               `json:"error,omitempty"`
}

// ImportResult is the response of one import pass. Imported counts the
// donor rows stored for the candidate and cycle after the pass.
type ImportResult struct {
	Success             bool              `json:"success"`
	Imported            int               `json:"imported"`
	TotalRaised         decimal.Decimal   `json:"totalRaised"`
	HasMore             bool              `json:"hasMore"`
	CommitteesProcessed int               `json:"committeesProcessed"`
	Message             string            `json:"message"`
	State               State             `json:"state"`
	Committees          []CommitteeReport `json:"committees,omitempty"`
	Completed           []string          `json:"completedCommittees,omitempty"`
	Warnings            []string          `json:"warnings,omitempty"`
}

// passHooks connects a pass to the run driving it.
type passHooks struct {
	runID   string
	control *Control
	skip    map[string]bool
	onState func(State)
	onRetry func()
}

// Import runs one import pass for a candidate.
func (o *Orchestrator) Import(ctx context.Context, req ImportRequest) (*ImportResult, error) {
	return o.importPass(ctx, req, passHooks{})
}

func (o *Orchestrator) withDefaults(req ImportRequest) ImportRequest {
	req.CandidateID = strings.TrimSpace(req.CandidateID)
	req.ExternalCandidateID = strings.ToUpper(strings.TrimSpace(req.ExternalCandidateID))
	req.CommitteeID = strings.ToUpper(strings.TrimSpace(req.CommitteeID))
	if req.Cycle == 0 {
		req.Cycle = o.limits.Cycle
	}
	if req.MaxPages <= 0 {
		req.MaxPages = o.limits.MaxPages
	}
	if req.MaxRuntimeMs <= 0 {
		req.MaxRuntimeMs = o.limits.MaxRuntime.Milliseconds()
	}
	if req.RateLimitPerMinute <= 0 {
		req.RateLimitPerMinute = o.limits.RateLimitPerMinute
	}
	if req.IncludeOtherReceipts == nil {
		include := o.limits.IncludeOtherReceipts
		req.IncludeOtherReceipts = &include
	}
	return req
}

func validate(req ImportRequest) error {
	if req.CandidateID == "" {
		return fmt.Errorf("%w: candidate id is required", ErrInvalidRequest)
	}
	if req.Cycle < 1980 || req.Cycle%2 != 0 {
		return fmt.Errorf("%w: cycle must be an even year, got %d", ErrInvalidRequest, req.Cycle)
	}
	if req.MaxRuntimeMs > MaxRuntimeLimit.Milliseconds() {
		return fmt.Errorf("%w: maxRuntimeMs must be at most %d", ErrInvalidRequest, MaxRuntimeLimit.Milliseconds())
	}
	return nil
}

// committeePlan is one committee the pass will fetch.
type committeePlan struct {
	committee models.Committee
	resume    bool
}

// plan orders the committees to fetch. Committees completed earlier in the
// same run are skipped; committees with a cursor for cycle resume from it.
func plan(committees []models.Committee, cycle int, skip map[string]bool) []committeePlan {
	out := make([]committeePlan, 0, len(committees))
	for _, c := range committees {
		if !c.Active || skip[c.CommitteeID] {
			continue
		}
		out = append(out, committeePlan{committee: c, resume: c.Pending(cycle)})
	}
	return out
}

func (o *Orchestrator) importPass(ctx context.Context, req ImportRequest, h passHooks) (*ImportResult, error) {
	req = o.withDefaults(req)
	if err := validate(req); err != nil {
		return nil, err
	}

	start := o.now()
	ctx, span := o.tracer.Start(ctx, "orchestrator.Import", trace.WithAttributes(
		attribute.String("candidate_id", req.CandidateID),
		attribute.Int("cycle", req.Cycle),
	))
	defer span.End()

	tracker := &passTracker{control: h.control, onRetry: h.onRetry}
	tracker.machine = NewMachine(func(_, to State) {
		if h.onState != nil {
			h.onState(to)
		}
	})
	fail := func(err error) (*ImportResult, error) {
		_ = tracker.machine.Transition(StateFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "import failed")
		o.metrics.ObserveSync("import", string(StateFailed), o.now().Sub(start))
		o.logger.ErrorContext(ctx, "import pass failed",
			"run_id", requestcontext.RunID(ctx),
			"candidate_id", req.CandidateID,
			"cycle", req.Cycle,
			"error", err,
		)
		return nil, err
	}

	candidate, err := o.store.GetCandidate(ctx, req.CandidateID)
	if err != nil {
		return fail(fmt.Errorf("load candidate: %w", err))
	}
	if req.ExternalCandidateID == "" {
		req.ExternalCandidateID = candidate.ExternalID
	}
	if req.ExternalCandidateID == "" && req.CommitteeID == "" {
		return fail(fmt.Errorf("%w: candidate %s has no external id and no committee id was given", ErrInvalidRequest, req.CandidateID))
	}

	discovery, err := o.discoverer.Discover(ctx, committee.Request{
		CandidateID:         req.CandidateID,
		ExternalCandidateID: req.ExternalCandidateID,
		ManualCommitteeID:   req.CommitteeID,
	})
	if err != nil {
		return fail(fmt.Errorf("discover committees: %w", err))
	}

	todo := plan(discovery.Committees, req.Cycle, h.skip)
	agg := aggregate.New(req.CandidateID)
	resumed := make(map[string]bool)
	for _, p := range todo {
		if p.resume {
			resumed[p.committee.CommitteeID] = true
		}
	}
	if len(resumed) > 0 {
		seed, err := o.store.ListDonors(ctx, req.CandidateID, req.Cycle, keys(resumed))
		if err != nil {
			return fail(fmt.Errorf("load stored donors: %w", err))
		}
		agg.Seed(seed)
	}

	result := &ImportResult{Warnings: discovery.Warnings}
	deadline := start.Add(req.maxRuntime())
	refetched := make(map[string]bool)
	var saves []cursorSave
	pages := 0
	cancelled := false

	for i, p := range todo {
		c := p.committee
		if !o.now().Before(deadline) {
			result.HasMore = true
			break
		}
		job := fetcher.Job{
			CandidateID:  req.CandidateID,
			CommitteeID:  c.CommitteeID,
			Cycle:        req.Cycle,
			MaxPages:     req.MaxPages,
			Deadline:     deadline,
			IncludeOther: *req.IncludeOtherReceipts,
			RateLimit:    req.RateLimitPerMinute,
			Gate:         tracker,
			Observer:     tracker,
		}
		if p.resume {
			job.Cursor = c.Cursor
		}
		out, err := o.fetcher.FetchCommittee(ctx, job, func(page []models.Transaction) error {
			for _, t := range page {
				agg.Add(t)
			}
			return nil
		})
		if err != nil {
			if ctx.Err() == nil || out == nil {
				return fail(fmt.Errorf("fetch committee %s: %w", c.CommitteeID, err))
			}
			// The caller went away. Pages already aggregated are still
			// stored and the committee resumes from its last page.
			o.logger.WarnContext(ctx, "import pass interrupted",
				"run_id", requestcontext.RunID(ctx),
				"candidate_id", req.CandidateID,
				"committee_id", c.CommitteeID,
				"pages", out.Pages,
				"error", err,
			)
			out.StopReason = fetcher.StopStopped
			ctx = context.WithoutCancel(ctx)
		}
		if err := tracker.Err(); err != nil {
			return fail(err)
		}

		result.CommitteesProcessed++
		pages += out.Pages
		report := CommitteeReport{
			CommitteeID: c.CommitteeID,
			Name:        c.Name,
			Role:        c.Role,
			Pages:       out.Pages,
			Records:     out.Kept,
			Complete:    out.Complete,
			StopReason:  out.StopReason,
		}
		if out.LastErr != nil {
			report.Error = fec.Describe(out.LastErr)
		}
		result.Committees = append(result.Committees, report)

		if out.Pages > 0 {
			if !p.resume {
				refetched[c.CommitteeID] = true
			}
			saves = append(saves, o.cursorSave(c, p.resume, out))
		}
		if out.Complete {
			result.Completed = append(result.Completed, c.CommitteeID)
		} else {
			result.HasMore = true
		}
		if out.StopReason == fetcher.StopStopped {
			cancelled = true
		}
		if out.StopReason == fetcher.StopStopped || out.StopReason == fetcher.StopDeadline {
			if i < len(todo)-1 {
				result.HasMore = true
			}
			break
		}
	}

	donors, err := o.persistDonors(ctx, req, agg, resumed, refetched, pages > 0)
	if err != nil {
		return fail(err)
	}
	result.Imported = len(donors)
	result.TotalRaised = sumDonors(donors)

	for _, s := range saves {
		if err := o.store.SaveCursor(ctx, req.CandidateID, s.committeeID, s.cursor, s.mark); err != nil {
			o.logger.WarnContext(ctx, "failed to save cursor",
				"candidate_id", req.CandidateID,
				"committee_id", s.committeeID,
				"error", err,
			)
			result.Warnings = append(result.Warnings, fmt.Sprintf("cursor for %s not saved", s.committeeID))
		}
	}
	if err := o.store.MarkSynced(ctx, req.CandidateID, o.now()); err != nil {
		o.logger.WarnContext(ctx, "failed to record last sync",
			"candidate_id", req.CandidateID,
			"error", err,
		)
	}

	switch {
	case cancelled:
		result.State = StateCancelled
	case result.HasMore:
		result.State = StatePartial
	default:
		result.State = StateComplete
	}
	if err := tracker.machine.Transition(result.State); err != nil {
		return fail(err)
	}
	result.Success = true
	result.Message = passMessage(result)

	o.emit(ctx, h.runID, req, result)
	o.metrics.AddDonorsWritten(len(donors))
	o.metrics.ObserveSync("import", string(result.State), o.now().Sub(start))
	span.SetAttributes(
		attribute.String("state", string(result.State)),
		attribute.Int("imported", result.Imported),
		attribute.Int("committees", result.CommitteesProcessed),
	)
	o.logger.InfoContext(ctx, "import pass finished",
		"run_id", requestcontext.RunID(ctx),
		"candidate_id", req.CandidateID,
		"cycle", req.Cycle,
		"state", result.State,
		"committees", result.CommitteesProcessed,
		"pages", pages,
		"imported", result.Imported,
		"total_raised", result.TotalRaised.StringFixed(2),
		"has_more", result.HasMore,
	)
	return result, nil
}

// persistDonors replaces the donor set of the candidate and cycle. Stored
// rows survive for every committee that was neither resumed (already
// seeded) nor refetched from its first page. Nothing is written when no page
// was fetched.
func (o *Orchestrator) persistDonors(ctx context.Context, req ImportRequest, agg *aggregate.Aggregator, resumed, refetched map[string]bool, write bool) ([]models.Donor, error) {
	stored, err := o.store.ListDonors(ctx, req.CandidateID, req.Cycle, nil)
	if err != nil {
		return nil, fmt.Errorf("load stored donors: %w", err)
	}
	if !write {
		return stored, nil
	}

	keep := stored[:0:0]
	for _, d := range stored {
		if resumed[d.CommitteeID] || refetched[d.CommitteeID] {
			continue
		}
		keep = append(keep, d)
	}
	agg.Seed(keep)

	donors := agg.Donors()
	if err := o.store.ReplaceDonors(ctx, req.CandidateID, req.Cycle, donors); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistDonors, err)
	}
	return donors, nil
}

type cursorSave struct {
	committeeID string
	cursor      *models.Cursor
	mark        models.SyncMark
}

func (o *Orchestrator) cursorSave(c models.Committee, resumed bool, out *fetcher.Outcome) cursorSave {
	now := o.now()
	s := cursorSave{committeeID: c.CommitteeID, cursor: out.Cursor}
	if !resumed {
		s.mark.StartedAt = &now
	}
	if out.Complete {
		s.cursor = nil
		s.mark.CompletedAt = &now
	}
	return s
}

func (o *Orchestrator) emit(ctx context.Context, runID string, req ImportRequest, result *ImportResult) {
	if o.publisher == nil {
		return
	}
	err := o.publisher.Emit(ctx, events.Event{
		Type:                events.TypeSyncCompleted,
		RunID:               runID,
		CandidateID:         req.CandidateID,
		ExternalCandidateID: req.ExternalCandidateID,
		Cycle:               req.Cycle,
		State:               string(result.State),
		Imported:            result.Imported,
		TotalRaised:         result.TotalRaised,
		HasMore:             result.HasMore,
		CommitteesProcessed: result.CommitteesProcessed,
		OccurredAt:          o.now(),
	})
	if err != nil {
		o.logger.WarnContext(ctx, "failed to publish sync event",
			"candidate_id", req.CandidateID,
			"error", err,
		)
	}
}

func passMessage(r *ImportResult) string {
	raised := "$" + r.TotalRaised.StringFixed(2)
	switch r.State {
	case StateCancelled:
		return fmt.Sprintf("Sync cancelled after %d committees; %d donors (%s) saved", r.CommitteesProcessed, r.Imported, raised)
	case StatePartial:
		return fmt.Sprintf("Imported %d donors (%s) so far; more records remain", r.Imported, raised)
	default:
		return fmt.Sprintf("Imported %d donors (%s) from %d committees", r.Imported, raised, r.CommitteesProcessed)
	}
}

func sumDonors(donors []models.Donor) decimal.Decimal {
	total := decimal.Zero
	for _, d := range donors {
		total = total.Add(d.TotalAmount)
	}
	return total
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func cycleOf(t time.Time) int {
	year := t.Year()
	return year + year%2
}

// passTracker feeds fetcher progress into the pass state machine and gates
// pages on the run control.
type passTracker struct {
	machine *Machine
	control *Control
	onRetry func()

	mu  sync.Mutex
	err error
}

func (t *passTracker) Checkpoint(ctx context.Context) error {
	if t.control.Paused() {
		t.record(t.machine.Transition(StatePaused))
	}
	return t.control.Checkpoint(ctx)
}

func (t *passTracker) FetchingPage(string, int) {
	t.record(t.machine.Transition(StateFetchingPage))
}

func (t *passTracker) WaitingForRateLimit(string, time.Duration) {
	t.record(t.machine.Transition(StateWaitingForRateLimit))
}

func (t *passTracker) Retrying(string, int, time.Duration, error) {
	if t.onRetry != nil {
		t.onRetry()
	}
}

func (t *passTracker) record(err error) {
	if err == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err == nil {
		t.err = err
	}
}

// Err returns the first rejected transition.
func (t *passTracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}
