package fec

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fecsync/internal/finance/models"
)

// flexString accepts both JSON strings and numbers. The API returns keyset
// indexes as either depending on the endpoint version.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type lastIndexes struct {
	LastIndex                   flexString `json:"last_index"`
	LastContributionReceiptDate string     `json:"last_contribution_receipt_date"`
}

type pagination struct {
	Count       int          `json:"count"`
	Pages       int          `json:"pages"`
	PerPage     int          `json:"per_page"`
	LastIndexes *lastIndexes `json:"last_indexes"`
}

type scheduleARow struct {
	ContributorName       string          `json:"contributor_name"`
	EntityType            string          `json:"entity_type"`
	ContributorCity       string          `json:"contributor_city"`
	ContributorState      string          `json:"contributor_state"`
	ContributorZip        string          `json:"contributor_zip"`
	ContributorEmployer   string          `json:"contributor_employer"`
	ContributorOccupation string          `json:"contributor_occupation"`
	Amount                decimal.Decimal `json:"contribution_receipt_amount"`
	ReceiptDate           string          `json:"contribution_receipt_date"`
	LineNumber            string          `json:"line_number"`
	CommitteeID           string          `json:"committee_id"`
	TwoYearPeriod         int             `json:"two_year_transaction_period"`
}

type scheduleAResponse struct {
	Results    []scheduleARow `json:"results"`
	Pagination *pagination    `json:"pagination"`
}

type principalCommittee struct {
	CommitteeID string `json:"committee_id"`
	Name        string `json:"name"`
}

type candidateRow struct {
	CandidateID         string               `json:"candidate_id"`
	Name                string               `json:"name"`
	State               string               `json:"state"`
	Office              string               `json:"office"`
	District            string               `json:"district"`
	Cycles              []int                `json:"cycles"`
	ElectionYears       []int                `json:"election_years"`
	PrincipalCommittees []principalCommittee `json:"principal_committees"`
}

type candidateSearchResponse struct {
	Results []candidateRow `json:"results"`
}

type committeeRow struct {
	CommitteeID   string `json:"committee_id"`
	Name          string `json:"name"`
	Designation   string `json:"designation"`
	CommitteeType string `json:"committee_type"`
}

type committeeResponse struct {
	Results []committeeRow `json:"results"`
}

// receiptDateLayouts are the formats seen in contribution_receipt_date.
var receiptDateLayouts = []string{"2006-01-02T15:04:05", time.RFC3339, "2006-01-02"}

func parseReceiptDate(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range receiptDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func (r scheduleARow) toTransaction(committeeID string, cycle int) models.Transaction {
	if r.CommitteeID != "" {
		committeeID = r.CommitteeID
	}
	if r.TwoYearPeriod != 0 {
		cycle = r.TwoYearPeriod
	}
	return models.Transaction{
		ContributorName: strings.TrimSpace(r.ContributorName),
		EntityType:      strings.TrimSpace(r.EntityType),
		City:            strings.TrimSpace(r.ContributorCity),
		State:           strings.TrimSpace(r.ContributorState),
		Zip:             strings.TrimSpace(r.ContributorZip),
		Employer:        strings.TrimSpace(r.ContributorEmployer),
		Occupation:      strings.TrimSpace(r.ContributorOccupation),
		Amount:          r.Amount,
		ReceiptDate:     parseReceiptDate(r.ReceiptDate),
		LineCode:        strings.TrimSpace(r.LineNumber),
		ReceiptType:     models.ClassifyLineCode(r.LineNumber),
		CommitteeID:     committeeID,
		Cycle:           cycle,
	}
}

func (r candidateRow) toResult() CandidateResult {
	out := CandidateResult{
		CandidateID: r.CandidateID,
		Name:        r.Name,
		State:       strings.ToUpper(strings.TrimSpace(r.State)),
		Office:      models.ParseOffice(r.Office),
		District:    strings.TrimSpace(r.District),
		Cycles:      r.Cycles,
	}
	if len(out.Cycles) == 0 {
		out.Cycles = r.ElectionYears
	}
	for _, pc := range r.PrincipalCommittees {
		out.PrincipalCommitteeIDs = append(out.PrincipalCommitteeIDs, pc.CommitteeID)
	}
	return out
}

func (r committeeRow) toResult() CommitteeResult {
	return CommitteeResult{
		CommitteeID: r.CommitteeID,
		Name:        strings.TrimSpace(r.Name),
		Designation: r.Designation,
		Type:        r.CommitteeType,
	}
}
