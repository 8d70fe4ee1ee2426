package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"fecsync/internal/finance/fec"
	"fecsync/internal/finance/identity"
	"fecsync/internal/finance/models"
	textutil "fecsync/pkg/platform/strings"
	"fecsync/pkg/requestcontext"
)

// ErrUnresolved is recorded for candidates whose external id could not be
// applied automatically.
var ErrUnresolved = errors.New("candidate identity unresolved")

// StartBatch registers a batch run and drives it in the background. The run
// outlives ctx's cancellation but keeps its values.
func (o *Orchestrator) StartBatch(ctx context.Context, registry *Registry, candidateIDs []string, tmpl ImportRequest) (*Run, error) {
	ids := textutil.DedupeAndTrim(candidateIDs)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: at least one candidate id is required", ErrInvalidRequest)
	}
	run := registry.Start(ctx, models.RunBatch)
	go func() {
		_ = o.RunBatch(context.WithoutCancel(ctx), run, ids, tmpl)
	}()
	return run, nil
}

// StartAll registers a sync-all run and drives it in the background.
func (o *Orchestrator) StartAll(ctx context.Context, registry *Registry, tmpl ImportRequest) *Run {
	run := registry.Start(ctx, models.RunAll)
	go func() {
		_ = o.RunAll(context.WithoutCancel(ctx), run, tmpl)
	}()
	return run
}

// RunBatch syncs candidateIDs one after another. A failing candidate is
// recorded and the batch moves on.
func (o *Orchestrator) RunBatch(ctx context.Context, run *Run, candidateIDs []string, tmpl ImportRequest) error {
	return o.runCandidates(ctx, run, candidateIDs, tmpl)
}

// RunAll syncs every candidate that was never synced or has a pending
// committee cursor. Only a failure to select candidates aborts the run.
func (o *Orchestrator) RunAll(ctx context.Context, run *Run, tmpl ImportRequest) error {
	selected, err := o.SelectForSyncAll(ctx)
	if err != nil {
		o.logger.ErrorContext(ctx, "failed to select candidates", "run_id", run.ID, "error", err)
		run.update(ctx, func(p *models.SyncProgress) {
			p.Errors = append(p.Errors, models.RunError{Message: err.Error()})
		})
		run.finish(ctx, StateFailed)
		return err
	}
	ids := make([]string, 0, len(selected))
	for _, c := range selected {
		ids = append(ids, c.ID)
	}
	return o.runCandidates(ctx, run, ids, tmpl)
}

// SelectForSyncAll returns candidates never synced or with a pending cursor,
// ordered by id.
func (o *Orchestrator) SelectForSyncAll(ctx context.Context) ([]models.Candidate, error) {
	candidates, err := o.store.ListCandidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	pending, err := o.store.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending candidates: %w", err)
	}
	var out []models.Candidate
	for _, c := range candidates {
		if c.NeverSynced() || slices.Contains(pending, c.ID) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (o *Orchestrator) runCandidates(ctx context.Context, run *Run, ids []string, tmpl ImportRequest) error {
	start := o.now()
	ctx = requestcontext.WithRunID(ctx, run.ID)
	ctx, span := o.tracer.Start(ctx, "orchestrator.Run")
	defer span.End()

	run.update(ctx, func(p *models.SyncProgress) {
		p.Total = len(ids)
		p.State = string(StateFetchingPage)
	})
	o.logger.InfoContext(ctx, "sync run started",
		"run_id", run.ID,
		"kind", run.Kind,
		"candidates", len(ids),
	)

	cancelled := false
	incomplete := false
	for i, id := range ids {
		if err := o.candidateBoundary(ctx, run); err != nil {
			if errors.Is(err, ErrCancelled) {
				cancelled = true
				break
			}
			run.finish(ctx, StateFailed)
			return err
		}

		name := id
		candidate, err := o.store.GetCandidate(ctx, id)
		if err == nil && candidate.Name != "" {
			name = candidate.Name
		}
		run.update(ctx, func(p *models.SyncProgress) {
			p.CurrentCandidate = name
		})

		var res *CandidateResult
		if err == nil {
			res, err = o.syncOne(ctx, run, candidate, tmpl)
		}
		run.update(ctx, func(p *models.SyncProgress) {
			p.Completed = i + 1
			p.Retrying = false
			if err != nil {
				p.Errors = append(p.Errors, models.RunError{
					CandidateID:   id,
					CandidateName: name,
					Message:       fec.Describe(err),
				})
				return
			}
			p.Imported += res.Imported
			p.Raised = p.Raised.Add(res.TotalRaised)
		})
		if err != nil {
			incomplete = true
			o.logger.WarnContext(ctx, "candidate sync failed",
				"run_id", run.ID,
				"candidate_id", id,
				"error", err,
			)
		} else if res.State == StateCancelled {
			cancelled = true
			break
		} else if res.HasMore {
			incomplete = true
		}

		if i < len(ids)-1 {
			if err := o.sleep(ctx, o.limits.CandidateDelay); err != nil {
				run.finish(ctx, StateFailed)
				return err
			}
		}
	}

	state := StateComplete
	switch {
	case cancelled || run.control.Cancelled():
		state = StateCancelled
	case incomplete:
		state = StatePartial
	}
	run.finish(ctx, state)
	o.metrics.ObserveSync(string(run.Kind), string(state), o.now().Sub(start))

	p := run.Progress()
	o.logger.InfoContext(ctx, "sync run finished",
		"run_id", run.ID,
		"state", state,
		"completed", p.Completed,
		"total", p.Total,
		"errors", len(p.Errors),
		"imported", p.Imported,
	)
	return nil
}

// candidateBoundary blocks while the run is paused and reports
// cancellation.
func (o *Orchestrator) candidateBoundary(ctx context.Context, run *Run) error {
	if run.control.Paused() {
		run.update(ctx, func(p *models.SyncProgress) {
			p.Paused = true
			p.State = string(StatePaused)
		})
		o.logger.InfoContext(ctx, "sync run paused", "run_id", run.ID)
	}
	err := run.control.Checkpoint(ctx)
	if err == nil {
		run.update(ctx, func(p *models.SyncProgress) {
			p.Paused = false
			if p.State == string(StatePaused) {
				p.State = string(StateFetchingPage)
			}
		})
	}
	return err
}

// syncOne resolves the candidate when needed and runs a complete sync.
func (o *Orchestrator) syncOne(ctx context.Context, run *Run, candidate *models.Candidate, tmpl ImportRequest) (*CandidateResult, error) {
	req := tmpl
	req.CandidateID = candidate.ID
	req.ExternalCandidateID = candidate.ExternalID
	req.CommitteeID = ""

	if !candidate.Resolved() {
		if o.resolver == nil {
			return nil, fmt.Errorf("%w: no external id", ErrUnresolved)
		}
		cycle := req.Cycle
		if cycle == 0 {
			cycle = o.limits.Cycle
		}
		res, err := o.resolver.Resolve(ctx, identity.InputFor(*candidate, cycle))
		if err != nil {
			return nil, fmt.Errorf("resolve identity: %w", err)
		}
		if !res.Applied {
			return nil, fmt.Errorf("%w: %s", ErrUnresolved, res.Message)
		}
		req.ExternalCandidateID = res.ExternalID
	}

	return o.completeSync(ctx, req, passHooks{
		runID:   run.ID,
		control: run.control,
		onState: func(s State) {
			if s.Terminal() {
				return
			}
			run.update(ctx, func(p *models.SyncProgress) {
				p.State = string(s)
				p.Paused = s == StatePaused
				if s == StateFetchingPage {
					p.Retrying = false
				}
			})
		},
		onRetry: func() {
			run.update(ctx, func(p *models.SyncProgress) {
				p.Retrying = true
				p.RetryCount++
			})
		},
	})
}
