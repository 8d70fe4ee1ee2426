package identity

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"fecsync/internal/finance/fec"
	"fecsync/internal/finance/models"
	textutil "fecsync/pkg/platform/strings"
)

// Score weights for search matches.
const (
	scoreStateBaseline      = 30
	scoreOffice             = 25
	scoreDistrict           = 15
	scoreCycleActivity      = 15
	scorePrincipalCommittee = 10
	maxNameBonus            = 5

	// CrosswalkScore is reported for crosswalk matches, which are never scored.
	CrosswalkScore = 100
)

// Match is one scored search result.
type Match struct {
	ExternalID string        `json:"external_id"`
	Name       string        `json:"name"`
	State      string        `json:"state"`
	Office     models.Office `json:"office,omitempty"`
	District   string        `json:"district,omitempty"`
	Score      int           `json:"score"`
	Reasons    []string      `json:"reasons,omitempty"`
}

// Score rates how well r matches in. A known state that differs scores 0.
func Score(in Input, r fec.CandidateResult) Match {
	m := Match{
		ExternalID: r.CandidateID,
		Name:       r.Name,
		State:      r.State,
		Office:     r.Office,
		District:   r.District,
	}

	localState := textutil.NormalizeCode(in.State)
	remoteState := textutil.NormalizeCode(r.State)
	if localState != "" && remoteState != "" && localState != remoteState {
		m.Reasons = append(m.Reasons, "state mismatch")
		return m
	}
	if localState != "" && localState == remoteState {
		m.Score += scoreStateBaseline
		m.Reasons = append(m.Reasons, "state match")
	}
	if in.Office != "" && in.Office == r.Office {
		m.Score += scoreOffice
		m.Reasons = append(m.Reasons, "office match")
	}
	if in.Office == models.OfficeHouse && r.Office == models.OfficeHouse {
		if d := normalizeDistrict(in.District); d != "" && d == normalizeDistrict(r.District) {
			m.Score += scoreDistrict
			m.Reasons = append(m.Reasons, "district match")
		}
	}
	if in.Cycle > 0 && (r.ActiveIn(in.Cycle) || r.ActiveIn(in.Cycle-2)) {
		m.Score += scoreCycleActivity
		m.Reasons = append(m.Reasons, fmt.Sprintf("active in %d", in.Cycle))
	}
	if len(r.PrincipalCommitteeIDs) > 0 {
		m.Score += scorePrincipalCommittee
		m.Reasons = append(m.Reasons, "principal committee")
	}
	if bonus := nameBonus(in.Name, r.Name); bonus > 0 {
		m.Score += bonus
		m.Reasons = append(m.Reasons, fmt.Sprintf("name similarity +%d", bonus))
	}
	return m
}

// nameBonus compares names with their tokens sorted, so "SMITH, JOHN" and
// "John Smith" are identical.
func nameBonus(local, remote string) int {
	a, b := nameKey(local), nameKey(remote)
	if a == "" || b == "" {
		return 0
	}
	rank := fuzzy.RankMatchNormalizedFold(a, b)
	if rank < 0 {
		rank = fuzzy.RankMatchNormalizedFold(b, a)
	}
	if rank < 0 {
		return 0
	}
	return max(0, maxNameBonus-rank/2)
}

func nameKey(name string) string {
	tokens := strings.Fields(textutil.NormalizeName(name))
	slices.Sort(tokens)
	return strings.Join(tokens, " ")
}

// normalizeDistrict zero-pads numeric districts to two digits. At-large
// districts ("00") are kept as-is.
func normalizeDistrict(d string) string {
	d = strings.TrimSpace(d)
	if d == "" {
		return ""
	}
	n, err := strconv.Atoi(d)
	if err != nil {
		return strings.ToUpper(d)
	}
	return fmt.Sprintf("%02d", n)
}
