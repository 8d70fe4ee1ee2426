package models

import "time"

// CommitteeRole records how a committee was tied to a candidate.
type CommitteeRole string

const (
	RolePrincipal  CommitteeRole = "principal"
	RoleAuthorized CommitteeRole = "authorized"
	RoleManual     CommitteeRole = "manual"
	RoleStored     CommitteeRole = "stored"
)

// rolePriority orders roles when the same committee is found more than once.
var rolePriority = map[CommitteeRole]int{
	RolePrincipal:  0,
	RoleAuthorized: 1,
	RoleManual:     2,
	RoleStored:     3,
}

// Outranks reports whether r should win over other for the same committee.
func (r CommitteeRole) Outranks(other CommitteeRole) bool {
	rp, ok := rolePriority[r]
	if !ok {
		return false
	}
	op, ok := rolePriority[other]
	if !ok {
		return true
	}
	return rp < op
}

// Cursor is the upstream keyset position after the last fetched page. The
// API pairs an opaque index with the receipt date of the last row.
type Cursor struct {
	LastIndex string `json:"last_index"`
	LastDate  string `json:"last_date,omitempty"`
	Cycle     int    `json:"cycle"`
}

// Empty reports whether the cursor carries no position.
func (c *Cursor) Empty() bool {
	return c == nil || c.LastIndex == ""
}

// Committee is an external fundraising entity tied to a candidate.
type Committee struct {
	CandidateID     string        `json:"candidate_id"`
	CommitteeID     string        `json:"committee_id"`
	Name            string        `json:"name,omitempty"`
	Role            CommitteeRole `json:"role"`
	Active          bool          `json:"active"`
	Cursor          *Cursor       `json:"cursor,omitempty"`
	SyncStartedAt   *time.Time    `json:"sync_started_at,omitempty"`
	SyncCompletedAt *time.Time    `json:"sync_completed_at,omitempty"`
}

// Pending reports whether the committee stopped mid-sync for cycle. A cursor
// left from another cycle does not count.
func (c *Committee) Pending(cycle int) bool {
	return c != nil && !c.Cursor.Empty() && c.Cursor.Cycle == cycle
}

// SyncMark carries the timestamps written alongside a cursor.
type SyncMark struct {
	StartedAt   *time.Time
	CompletedAt *time.Time
}
