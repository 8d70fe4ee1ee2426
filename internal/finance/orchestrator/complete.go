package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// CandidateResult summarizes a complete sync of one candidate.
type CandidateResult struct {
	CandidateID string          `json:"candidateId"`
	Iterations  int             `json:"iterations"`
	Imported    int             `json:"imported"`
	TotalRaised decimal.Decimal `json:"totalRaised"`
	HasMore     bool            `json:"hasMore"`
	State       State           `json:"state"`
	Message     string          `json:"message"`
}

// SyncCandidate runs import passes until every committee is complete or the
// iteration cap is reached.
func (o *Orchestrator) SyncCandidate(ctx context.Context, req ImportRequest) (*CandidateResult, error) {
	return o.completeSync(ctx, req, passHooks{})
}

func (o *Orchestrator) completeSync(ctx context.Context, req ImportRequest, h passHooks) (*CandidateResult, error) {
	h.skip = make(map[string]bool)
	out := &CandidateResult{CandidateID: req.CandidateID, State: StateIdle}

	for out.Iterations < o.limits.MaxIterations {
		if out.Iterations > 0 {
			if err := o.sleep(ctx, o.limits.IterationDelay); err != nil {
				return nil, err
			}
			if err := h.control.Checkpoint(ctx); err != nil {
				if errors.Is(err, ErrCancelled) {
					out.State = StateCancelled
					break
				}
				return nil, err
			}
		}

		res, err := o.importPass(ctx, req, h)
		if err != nil {
			return nil, err
		}
		out.Iterations++
		out.Imported = res.Imported
		out.TotalRaised = res.TotalRaised
		out.HasMore = res.HasMore
		out.State = res.State
		for _, id := range res.Completed {
			h.skip[id] = true
		}
		if res.State == StateCancelled || !res.HasMore {
			break
		}
		o.logger.DebugContext(ctx, "committees remain, continuing",
			"candidate_id", req.CandidateID,
			"iteration", out.Iterations,
			"completed", len(h.skip),
		)
	}

	switch {
	case out.State == StateCancelled:
		out.Message = fmt.Sprintf("Sync cancelled after %d iterations; %d donors saved", out.Iterations, out.Imported)
	case out.HasMore:
		out.State = StatePartial
		out.Message = fmt.Sprintf("Stopped after %d iterations with records remaining; %d donors ($%s) saved",
			out.Iterations, out.Imported, out.TotalRaised.StringFixed(2))
	default:
		out.Message = fmt.Sprintf("Sync complete: %d donors ($%s) in %d iterations",
			out.Imported, out.TotalRaised.StringFixed(2), out.Iterations)
	}

	o.logger.InfoContext(ctx, "candidate sync finished",
		"candidate_id", req.CandidateID,
		"state", out.State,
		"iterations", out.Iterations,
		"imported", out.Imported,
	)
	return out, nil
}
