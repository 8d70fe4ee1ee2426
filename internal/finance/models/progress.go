package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RunKind distinguishes a hand-picked batch from a fleet-wide run.
type RunKind string

const (
	RunBatch RunKind = "batch"
	RunAll   RunKind = "all"
)

// RunError records one candidate's failure inside a multi-candidate run.
type RunError struct {
	CandidateID   string `json:"candidate_id"`
	CandidateName string `json:"candidate_name"`
	Message       string `json:"message"`
}

// SyncProgress is the client-visible snapshot of a multi-candidate run.
type SyncProgress struct {
	RunID            string          `json:"run_id"`
	Kind             RunKind         `json:"kind"`
	State            string          `json:"state"`
	Completed        int             `json:"completed"`
	Total            int             `json:"total"`
	CurrentCandidate string          `json:"current_candidate,omitempty"`
	Imported         int             `json:"imported"`
	Raised           decimal.Decimal `json:"raised"`
	Paused           bool            `json:"paused"`
	Cancelled        bool            `json:"cancelled"`
	Retrying         bool            `json:"retrying"`
	RetryCount       int             `json:"retry_count"`
	Errors           []RunError      `json:"errors"`
	StartedAt        time.Time       `json:"started_at"`
	FinishedAt       *time.Time      `json:"finished_at,omitempty"`
}

// Clone returns a copy that shares nothing mutable with p.
func (p *SyncProgress) Clone() *SyncProgress {
	if p == nil {
		return nil
	}
	out := *p
	out.Errors = append([]RunError(nil), p.Errors...)
	if p.FinishedAt != nil {
		t := *p.FinishedAt
		out.FinishedAt = &t
	}
	return &out
}
