package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"fecsync/internal/finance/models"
	"fecsync/pkg/platform/sentinel"
)

type committeeRow struct {
	committee models.Committee
	position  int
}

type donorKey struct {
	candidateID string
	cycle       int
}

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu         sync.RWMutex
	candidates map[string]models.Candidate
	committees map[string]map[string]*committeeRow
	donors     map[donorKey][]models.Donor
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		candidates: make(map[string]models.Candidate),
		committees: make(map[string]map[string]*committeeRow),
		donors:     make(map[donorKey][]models.Donor),
	}
}

func (s *MemoryStore) UpsertCandidate(_ context.Context, c models.Candidate) error {
	if c.ID == "" {
		return fmt.Errorf("candidate id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates[c.ID] = c
	return nil
}

func (s *MemoryStore) GetCandidate(_ context.Context, id string) (*models.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.candidates[id]
	if !ok {
		return nil, fmt.Errorf("candidate %s: %w", id, sentinel.ErrNotFound)
	}
	return &c, nil
}

// ListCandidates returns every candidate ordered by id.
func (s *MemoryStore) ListCandidates(_ context.Context) ([]models.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Candidate, 0, len(s.candidates))
	for _, c := range s.candidates {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b models.Candidate) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *MemoryStore) SetExternalID(_ context.Context, id, externalID string) error {
	return s.updateCandidate(id, func(c *models.Candidate) { c.ExternalID = externalID })
}

func (s *MemoryStore) SetPrimaryCommittee(_ context.Context, id, committeeID string) error {
	return s.updateCandidate(id, func(c *models.Candidate) { c.PrimaryCommitteeID = committeeID })
}

func (s *MemoryStore) MarkSynced(_ context.Context, id string, at time.Time) error {
	return s.updateCandidate(id, func(c *models.Candidate) { c.LastFinanceSyncAt = &at })
}

func (s *MemoryStore) updateCandidate(id string, fn func(*models.Candidate)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.candidates[id]
	if !ok {
		return fmt.Errorf("candidate %s: %w", id, sentinel.ErrNotFound)
	}
	fn(&c)
	s.candidates[id] = c
	return nil
}

// UpsertCommittee inserts a committee or refreshes its metadata. Cursor and
// sync timestamps are never touched here, and a stored role never replaces a
// more specific one.
func (s *MemoryStore) UpsertCommittee(_ context.Context, c models.Committee) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.committees[c.CandidateID]
	if rows == nil {
		rows = make(map[string]*committeeRow)
		s.committees[c.CandidateID] = rows
	}
	row, ok := rows[c.CommitteeID]
	if !ok {
		c.Cursor, c.SyncStartedAt, c.SyncCompletedAt = nil, nil, nil
		rows[c.CommitteeID] = &committeeRow{committee: c, position: len(rows)}
		return nil
	}
	if c.Name != "" {
		row.committee.Name = c.Name
	}
	if c.Role != models.RoleStored {
		row.committee.Role = c.Role
	}
	row.committee.Active = c.Active
	return nil
}

// ListCommittees returns a candidate's committees in insertion order.
func (s *MemoryStore) ListCommittees(_ context.Context, candidateID string) ([]models.Committee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := make([]*committeeRow, 0, len(s.committees[candidateID]))
	for _, row := range s.committees[candidateID] {
		rows = append(rows, row)
	}
	slices.SortFunc(rows, func(a, b *committeeRow) int { return a.position - b.position })
	out := make([]models.Committee, 0, len(rows))
	for _, row := range rows {
		out = append(out, cloneCommittee(row.committee))
	}
	return out, nil
}

func (s *MemoryStore) GetCursor(_ context.Context, candidateID, committeeID string) (*models.Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.committees[candidateID][committeeID]
	if !ok || row.committee.Cursor.Empty() {
		return nil, nil
	}
	cur := *row.committee.Cursor
	return &cur, nil
}

// SaveCursor writes the cursor and sync marks. A nil cursor clears it; nil
// marks leave the stored timestamps alone.
func (s *MemoryStore) SaveCursor(_ context.Context, candidateID, committeeID string, cursor *models.Cursor, mark models.SyncMark) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.committees[candidateID][committeeID]
	if !ok {
		return fmt.Errorf("committee %s/%s: %w", candidateID, committeeID, sentinel.ErrNotFound)
	}
	if cursor.Empty() {
		row.committee.Cursor = nil
	} else {
		cur := *cursor
		row.committee.Cursor = &cur
	}
	if mark.StartedAt != nil {
		t := *mark.StartedAt
		row.committee.SyncStartedAt = &t
	}
	if mark.CompletedAt != nil {
		t := *mark.CompletedAt
		row.committee.SyncCompletedAt = &t
	}
	return nil
}

// ListPending returns ids of candidates with at least one active committee
// holding a cursor. Inactive committees are never fetched, so their cursors
// do not count.
func (s *MemoryStore) ListPending(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for candidateID, rows := range s.committees {
		for _, row := range rows {
			if row.committee.Active && !row.committee.Cursor.Empty() {
				out = append(out, candidateID)
				break
			}
		}
	}
	slices.Sort(out)
	return out, nil
}

// ListDonors returns the stored donors of a candidate and cycle, limited to
// committeeIDs when any are given.
func (s *MemoryStore) ListDonors(_ context.Context, candidateID string, cycle int, committeeIDs []string) ([]models.Donor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Donor
	for _, d := range s.donors[donorKey{candidateID, cycle}] {
		if len(committeeIDs) > 0 && !slices.Contains(committeeIDs, d.CommitteeID) {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// ReplaceDonors swaps the whole donor set of a candidate and cycle.
func (s *MemoryStore) ReplaceDonors(_ context.Context, candidateID string, cycle int, donors []models.Donor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.candidates[candidateID]; !ok {
		return fmt.Errorf("candidate %s: %w", candidateID, sentinel.ErrNotFound)
	}
	s.donors[donorKey{candidateID, cycle}] = slices.Clone(donors)
	return nil
}

func cloneCommittee(c models.Committee) models.Committee {
	if c.Cursor != nil {
		cur := *c.Cursor
		c.Cursor = &cur
	}
	return c
}
