package handler

import (
	"fmt"
	"strings"

	"fecsync/internal/finance/orchestrator"
	dErrors "fecsync/pkg/domain-errors"
)

// ResolveRequest is the body of POST /v1/candidates/{candidateID}/resolve.
type ResolveRequest struct {
	Cycle int `json:"cycle,omitempty"`
}

// ConfirmRequest is the body of POST /v1/candidates/{candidateID}/confirm.
type ConfirmRequest struct {
	ExternalCandidateID string `json:"externalCandidateId"`
}

func (r *ConfirmRequest) Validate() error {
	r.ExternalCandidateID = strings.ToUpper(strings.TrimSpace(r.ExternalCandidateID))
	if r.ExternalCandidateID == "" {
		return dErrors.New(dErrors.CodeBadRequest, "externalCandidateId is required")
	}
	if len(r.ExternalCandidateID) > 16 {
		return dErrors.New(dErrors.CodeBadRequest, "externalCandidateId must be at most 16 characters")
	}
	return nil
}

// Options are the per-request limits shared by every sync endpoint.
type Options struct {
	Cycle                int   `json:"cycle,omitempty"`
	MaxPages             int   `json:"maxPages,omitempty"`
	IncludeOtherReceipts *bool `json:"includeOtherReceipts,omitempty"`
	MaxRuntimeMs         int64 `json:"maxRuntimeMs,omitempty"`
	RateLimitPerMinute   int   `json:"rateLimitPerMinute,omitempty"`
}

func (o Options) Validate() error {
	if o.Cycle != 0 && (o.Cycle < 1980 || o.Cycle%2 != 0) {
		return dErrors.New(dErrors.CodeBadRequest, "cycle must be an even year")
	}
	if o.MaxPages < 0 || o.MaxRuntimeMs < 0 || o.RateLimitPerMinute < 0 {
		return dErrors.New(dErrors.CodeBadRequest, "limits must not be negative")
	}
	if o.MaxRuntimeMs > orchestrator.MaxRuntimeLimit.Milliseconds() {
		return dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("maxRuntimeMs must be at most %d", orchestrator.MaxRuntimeLimit.Milliseconds()))
	}
	return nil
}

func (o Options) template() orchestrator.ImportRequest {
	return orchestrator.ImportRequest{
		Cycle:                o.Cycle,
		MaxPages:             o.MaxPages,
		IncludeOtherReceipts: o.IncludeOtherReceipts,
		MaxRuntimeMs:         o.MaxRuntimeMs,
		RateLimitPerMinute:   o.RateLimitPerMinute,
	}
}

// ImportRequest is the body of the import and sync endpoints. The
// candidate id comes from the path.
type ImportRequest struct {
	Options
	ExternalCandidateID string `json:"externalCandidateId,omitempty"`
	CommitteeID         string `json:"committeeId,omitempty"`
}

func (r *ImportRequest) request(candidateID string) orchestrator.ImportRequest {
	req := r.template()
	req.CandidateID = candidateID
	req.ExternalCandidateID = r.ExternalCandidateID
	req.CommitteeID = r.CommitteeID
	return req
}

// BatchRequest is the body of POST /v1/sync/batch.
type BatchRequest struct {
	Options
	CandidateIDs []string `json:"candidateIds"`
}

const maxBatchSize = 500

func (r *BatchRequest) Validate() error {
	if err := r.Options.Validate(); err != nil {
		return err
	}
	if len(r.CandidateIDs) == 0 {
		return dErrors.New(dErrors.CodeBadRequest, "candidateIds is required")
	}
	if len(r.CandidateIDs) > maxBatchSize {
		return dErrors.New(dErrors.CodeBadRequest, "too many candidateIds")
	}
	return nil
}
