// Package models holds the campaign-finance records shared by the resolver,
// fetcher, aggregator, stores and orchestrator.
package models

import (
	"strings"
	"time"
)

// Office is the office a candidate seeks: House, Senate or President.
type Office string

const (
	OfficeHouse     Office = "H"
	OfficeSenate    Office = "S"
	OfficePresident Office = "P"
)

// ParseOffice accepts the single-letter codes and the long names the local
// catalogue uses. Unknown values return "".
func ParseOffice(s string) Office {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "H", "HOUSE", "REPRESENTATIVE", "REP":
		return OfficeHouse
	case "S", "SENATE", "SENATOR", "SEN":
		return OfficeSenate
	case "P", "PRESIDENT", "PRES":
		return OfficePresident
	default:
		return ""
	}
}

// Candidate is the local record of a person seeking or holding office.
type Candidate struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	State              string     `json:"state"`
	Office             Office     `json:"office,omitempty"`
	District           string     `json:"district,omitempty"`
	CrosswalkID        string     `json:"crosswalk_id,omitempty"`
	ExternalID         string     `json:"external_id,omitempty"`
	PrimaryCommitteeID string     `json:"primary_committee_id,omitempty"`
	LastFinanceSyncAt  *time.Time `json:"last_finance_sync_at,omitempty"`
}

// Resolved reports whether the candidate has an external funding-system id.
func (c *Candidate) Resolved() bool {
	return c != nil && c.ExternalID != ""
}

// NeverSynced reports whether no import pass has finished for the candidate.
func (c *Candidate) NeverSynced() bool {
	return c != nil && c.LastFinanceSyncAt == nil
}
