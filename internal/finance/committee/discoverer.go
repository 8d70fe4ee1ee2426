// Package committee discovers and persists the fundraising committees tied
// to a candidate.
package committee

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"fecsync/internal/finance/fec"
	"fecsync/internal/finance/models"
)

// Lookup is the upstream committee API.
type Lookup interface {
	CandidateCommittees(ctx context.Context, candidateID, designation string) ([]fec.CommitteeResult, error)
	Committee(ctx context.Context, committeeID string) (*fec.CommitteeResult, error)
}

// Store persists committees and the candidate's primary committee.
type Store interface {
	ListCommittees(ctx context.Context, candidateID string) ([]models.Committee, error)
	UpsertCommittee(ctx context.Context, c models.Committee) error
	GetCandidate(ctx context.Context, id string) (*models.Candidate, error)
	SetPrimaryCommittee(ctx context.Context, id, committeeID string) error
}

// Request identifies the candidate whose committees to discover.
type Request struct {
	CandidateID         string
	ExternalCandidateID string
	ManualCommitteeID   string
}

// Discovery is the merged committee set, in processing order.
type Discovery struct {
	Committees      []models.Committee
	PrimaryPromoted string
	Degraded        bool
	Warnings        []string
}

// IDs returns the committee ids in order.
func (d *Discovery) IDs() []string {
	ids := make([]string, 0, len(d.Committees))
	for _, c := range d.Committees {
		ids = append(ids, c.CommitteeID)
	}
	return ids
}

type Discoverer struct {
	lookup Lookup
	store  Store
	logger *slog.Logger
}

func New(lookup Lookup, store Store, logger *slog.Logger) *Discoverer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Discoverer{lookup: lookup, store: store, logger: logger}
}

// Discover merges principal, authorized, manual and stored committees, first
// role winning in that order, and persists the result. When the upstream
// lookups fail but committees are already stored, the stored set is
// returned as degraded.
func (d *Discoverer) Discover(ctx context.Context, req Request) (*Discovery, error) {
	if req.CandidateID == "" {
		return nil, errors.New("candidate id is required")
	}

	stored, err := d.store.ListCommittees(ctx, req.CandidateID)
	if err != nil {
		return nil, fmt.Errorf("list stored committees: %w", err)
	}

	var principal, authorized []fec.CommitteeResult
	var lookupErr error
	if req.ExternalCandidateID != "" {
		principal, lookupErr = d.lookup.CandidateCommittees(ctx, req.ExternalCandidateID, fec.DesignationPrincipal)
		if lookupErr == nil {
			authorized, lookupErr = d.lookup.CandidateCommittees(ctx, req.ExternalCandidateID, fec.DesignationAuthorized)
		}
	}

	if lookupErr != nil {
		if fec.IsCategory(lookupErr, fec.CategoryConfig) || len(stored) == 0 {
			return nil, fmt.Errorf("committee lookup: %w", lookupErr)
		}
		d.logger.WarnContext(ctx, "committee lookup failed, using stored committees",
			"candidate_id", req.CandidateID,
			"error", lookupErr,
		)
		out := &Discovery{
			Degraded: true,
			Warnings: []string{fmt.Sprintf("committee lookup failed: %s", fec.Describe(lookupErr))},
		}
		out.Committees = mergeManual(stored, req)
		if len(out.Committees) > len(stored) {
			d.persist(ctx, out, out.Committees[len(out.Committees)-1])
		}
		return out, nil
	}

	merged := newMergeSet(req.CandidateID)
	for _, c := range principal {
		merged.add(c.CommitteeID, c.Name, models.RolePrincipal, true)
	}
	for _, c := range authorized {
		merged.add(c.CommitteeID, c.Name, models.RoleAuthorized, true)
	}
	merged.add(req.ManualCommitteeID, "", models.RoleManual, true)
	for _, c := range stored {
		merged.add(c.CommitteeID, c.Name, models.RoleStored, c.Active)
	}

	storedByID := make(map[string]models.Committee, len(stored))
	for _, c := range stored {
		storedByID[c.CommitteeID] = c
	}

	out := &Discovery{}
	for i := range merged.list {
		c := &merged.list[i]
		if c.Name == "" {
			d.backfillName(ctx, c, out)
		}
		d.persist(ctx, out, *c)
		if prev, ok := storedByID[c.CommitteeID]; ok {
			c.Cursor, c.SyncStartedAt, c.SyncCompletedAt = prev.Cursor, prev.SyncStartedAt, prev.SyncCompletedAt
		}
	}
	out.Committees = merged.list

	if err := d.promotePrimary(ctx, req.CandidateID, principal, stored, out); err != nil {
		d.logger.WarnContext(ctx, "failed to set primary committee",
			"candidate_id", req.CandidateID,
			"error", err,
		)
		out.Warnings = append(out.Warnings, "primary committee not saved")
	}

	d.logger.InfoContext(ctx, "committees discovered",
		"candidate_id", req.CandidateID,
		"principal", len(principal),
		"authorized", len(authorized),
		"stored", len(stored),
		"total", len(out.Committees),
	)
	return out, nil
}

func (d *Discoverer) backfillName(ctx context.Context, c *models.Committee, out *Discovery) {
	result, err := d.lookup.Committee(ctx, c.CommitteeID)
	if err != nil {
		d.logger.WarnContext(ctx, "committee name lookup failed",
			"committee_id", c.CommitteeID,
			"error", err,
		)
		out.Warnings = append(out.Warnings, fmt.Sprintf("name lookup failed for %s", c.CommitteeID))
		return
	}
	c.Name = result.Name
}

// persist is best effort; a failed write leaves the committee usable for
// this pass.
func (d *Discoverer) persist(ctx context.Context, out *Discovery, c models.Committee) {
	if err := d.store.UpsertCommittee(ctx, c); err != nil {
		d.logger.WarnContext(ctx, "failed to persist committee",
			"committee_id", c.CommitteeID,
			"error", err,
		)
		out.Warnings = append(out.Warnings, fmt.Sprintf("committee %s not saved", c.CommitteeID))
	}
}

// promotePrimary sets the first newly discovered principal committee as the
// candidate's primary committee when none is stored.
func (d *Discoverer) promotePrimary(ctx context.Context, candidateID string, principal []fec.CommitteeResult, stored []models.Committee, out *Discovery) error {
	if len(principal) == 0 {
		return nil
	}
	candidate, err := d.store.GetCandidate(ctx, candidateID)
	if err != nil {
		return err
	}
	if candidate.PrimaryCommitteeID != "" {
		return nil
	}
	for _, p := range principal {
		id := normalizeID(p.CommitteeID)
		if id == "" || containsCommittee(stored, id) {
			continue
		}
		if err := d.store.SetPrimaryCommittee(ctx, candidateID, id); err != nil {
			return err
		}
		out.PrimaryPromoted = id
		return nil
	}
	return nil
}

type mergeSet struct {
	candidateID string
	index       map[string]int
	list        []models.Committee
}

func newMergeSet(candidateID string) *mergeSet {
	return &mergeSet{candidateID: candidateID, index: make(map[string]int)}
}

// add keeps the first occurrence of an id; later occurrences only fill in a
// missing name. Only committees known solely from storage can be inactive.
func (m *mergeSet) add(id, name string, role models.CommitteeRole, active bool) {
	id = normalizeID(id)
	if id == "" {
		return
	}
	name = strings.TrimSpace(name)
	if i, ok := m.index[id]; ok {
		if m.list[i].Name == "" {
			m.list[i].Name = name
		}
		return
	}
	m.index[id] = len(m.list)
	m.list = append(m.list, models.Committee{
		CandidateID: m.candidateID,
		CommitteeID: id,
		Name:        name,
		Role:        role,
		Active:      active,
	})
}

func mergeManual(stored []models.Committee, req Request) []models.Committee {
	out := append([]models.Committee(nil), stored...)
	manual := normalizeID(req.ManualCommitteeID)
	if manual != "" && !containsCommittee(stored, manual) {
		out = append(out, models.Committee{
			CandidateID: req.CandidateID,
			CommitteeID: manual,
			Role:        models.RoleManual,
			Active:      true,
		})
	}
	return out
}

func containsCommittee(list []models.Committee, id string) bool {
	for _, c := range list {
		if c.CommitteeID == id {
			return true
		}
	}
	return false
}

func normalizeID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}
