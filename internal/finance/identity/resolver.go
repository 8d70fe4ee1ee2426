// Package identity maps local candidates to external funding-system
// candidate ids, through the crosswalk dataset first and a scored fuzzy name
// search second.
package identity

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"fecsync/internal/finance/fec"
	"fecsync/internal/finance/metrics"
	"fecsync/internal/finance/models"
)

// Searcher runs the upstream fuzzy candidate-name search.
type Searcher interface {
	SearchCandidates(ctx context.Context, q fec.SearchQuery) ([]fec.CandidateResult, error)
}

// Crosswalk resolves a bioguide id to one external id.
type Crosswalk interface {
	Resolve(ctx context.Context, bioguideID string, office models.Office, state string) (string, bool, error)
}

// CandidateWriter records an applied resolution.
type CandidateWriter interface {
	SetExternalID(ctx context.Context, candidateID, externalID string) error
}

// Method names how a resolution was reached.
type Method string

const (
	MethodCrosswalk Method = "crosswalk"
	MethodSearch    Method = "search"
	MethodManual    Method = "manual"
	MethodNone      Method = "none"
)

const (
	defaultMinScore       = 50
	defaultAutoApplyScore = 80
)

// Input describes the local candidate to resolve.
type Input struct {
	CandidateID string
	Name        string
	State       string
	Office      models.Office
	District    string
	CrosswalkID string
	Cycle       int
}

// InputFor builds an Input from a stored candidate.
func InputFor(c models.Candidate, cycle int) Input {
	return Input{
		CandidateID: c.ID,
		Name:        c.Name,
		State:       c.State,
		Office:      c.Office,
		District:    c.District,
		CrosswalkID: c.CrosswalkID,
		Cycle:       cycle,
	}
}

// Resolution is the outcome of Resolve. Matches is ranked best first.
type Resolution struct {
	Found             bool    `json:"found"`
	Method            Method  `json:"method"`
	ExternalID        string  `json:"external_id,omitempty"`
	Score             int     `json:"score"`
	Applied           bool    `json:"applied"`
	NeedsConfirmation bool    `json:"needs_confirmation"`
	Matches           []Match `json:"matches,omitempty"`
	Message           string  `json:"message"`
}

// Resolver resolves and applies candidate identities.
type Resolver struct {
	crosswalk      Crosswalk
	searcher       Searcher
	writer         CandidateWriter
	minScore       int
	autoApplyScore int
	logger         *slog.Logger
	metrics        *metrics.Metrics
}

type Option func(*Resolver)

// WithCrosswalk enables the authoritative crosswalk lookup.
func WithCrosswalk(c Crosswalk) Option {
	return func(r *Resolver) {
		r.crosswalk = c
	}
}

// WithThresholds overrides the discard and auto-apply scores.
func WithThresholds(minScore, autoApplyScore int) Option {
	return func(r *Resolver) {
		if minScore > 0 {
			r.minScore = minScore
		}
		if autoApplyScore > 0 {
			r.autoApplyScore = autoApplyScore
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

func New(searcher Searcher, writer CandidateWriter, opts ...Option) *Resolver {
	r := &Resolver{
		searcher:       searcher,
		writer:         writer,
		minScore:       defaultMinScore,
		autoApplyScore: defaultAutoApplyScore,
		logger:         slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve finds the external id for in. A crosswalk hit is applied without a
// search. A search match is applied only when its score reaches the
// auto-apply threshold; weaker matches are returned for confirmation.
func (r *Resolver) Resolve(ctx context.Context, in Input) (*Resolution, error) {
	if strings.TrimSpace(in.CandidateID) == "" {
		return nil, errors.New("candidate id is required")
	}

	if res, ok := r.resolveCrosswalk(ctx, in); ok {
		if err := r.apply(ctx, in.CandidateID, res.ExternalID); err != nil {
			return nil, err
		}
		res.Applied = true
		r.metrics.IncrementResolution(string(MethodCrosswalk), "applied")
		return res, nil
	}

	if strings.TrimSpace(in.Name) == "" {
		r.metrics.IncrementResolution(string(MethodNone), "not_found")
		return &Resolution{Method: MethodNone, Message: "no crosswalk entry and no name to search"}, nil
	}

	results, err := r.searcher.SearchCandidates(ctx, fec.SearchQuery{Name: in.Name, State: in.State, Office: in.Office})
	if err != nil {
		return nil, fmt.Errorf("search candidates: %w", err)
	}

	matches := r.rank(in, results)
	if len(matches) == 0 {
		r.metrics.IncrementResolution(string(MethodSearch), "not_found")
		return &Resolution{
			Method:  MethodNone,
			Message: fmt.Sprintf("no search result scored at least %d", r.minScore),
		}, nil
	}

	top := matches[0]
	res := &Resolution{
		Found:      true,
		Method:     MethodSearch,
		ExternalID: top.ExternalID,
		Score:      top.Score,
		Matches:    matches,
	}
	if top.Score < r.autoApplyScore {
		res.NeedsConfirmation = true
		res.Message = fmt.Sprintf("best match %s scored %d, below %d; confirmation required", top.ExternalID, top.Score, r.autoApplyScore)
		r.metrics.IncrementResolution(string(MethodSearch), "needs_confirmation")
		r.logger.InfoContext(ctx, "identity match needs confirmation",
			"candidate_id", in.CandidateID,
			"external_id", top.ExternalID,
			"score", top.Score,
		)
		return res, nil
	}

	if err := r.apply(ctx, in.CandidateID, top.ExternalID); err != nil {
		return nil, err
	}
	res.Applied = true
	res.Message = fmt.Sprintf("matched %s by search with score %d", top.ExternalID, top.Score)
	r.metrics.IncrementResolution(string(MethodSearch), "applied")
	r.logger.InfoContext(ctx, "identity resolved by search",
		"candidate_id", in.CandidateID,
		"external_id", top.ExternalID,
		"score", top.Score,
	)
	return res, nil
}

// Confirm applies a manually confirmed external id.
func (r *Resolver) Confirm(ctx context.Context, candidateID, externalID string) (*Resolution, error) {
	externalID = strings.ToUpper(strings.TrimSpace(externalID))
	if candidateID == "" || externalID == "" {
		return nil, errors.New("candidate id and external id are required")
	}
	if err := r.apply(ctx, candidateID, externalID); err != nil {
		return nil, err
	}
	r.metrics.IncrementResolution(string(MethodManual), "applied")
	return &Resolution{
		Found:      true,
		Method:     MethodManual,
		ExternalID: externalID,
		Applied:    true,
		Message:    "external id confirmed",
	}, nil
}

func (r *Resolver) resolveCrosswalk(ctx context.Context, in Input) (*Resolution, bool) {
	if r.crosswalk == nil || strings.TrimSpace(in.CrosswalkID) == "" {
		return nil, false
	}
	id, found, err := r.crosswalk.Resolve(ctx, in.CrosswalkID, in.Office, in.State)
	if err != nil {
		r.logger.WarnContext(ctx, "crosswalk unavailable, falling back to search",
			"candidate_id", in.CandidateID,
			"error", err,
		)
		return nil, false
	}
	if !found || id == "" {
		return nil, false
	}
	return &Resolution{
		Found:      true,
		Method:     MethodCrosswalk,
		ExternalID: id,
		Score:      CrosswalkScore,
		Message:    fmt.Sprintf("matched %s through crosswalk id %s", id, in.CrosswalkID),
	}, true
}

func (r *Resolver) rank(in Input, results []fec.CandidateResult) []Match {
	var matches []Match
	for _, result := range results {
		m := Score(in, result)
		if m.Score < r.minScore {
			continue
		}
		matches = append(matches, m)
	}
	slices.SortFunc(matches, func(a, b Match) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ExternalID, b.ExternalID)
	})
	return matches
}

func (r *Resolver) apply(ctx context.Context, candidateID, externalID string) error {
	if err := r.writer.SetExternalID(ctx, candidateID, externalID); err != nil {
		return fmt.Errorf("apply external id: %w", err)
	}
	return nil
}
