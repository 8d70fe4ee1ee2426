package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Donor is the aggregate of every transaction sharing one identity key for a
// candidate, committee and cycle.
type Donor struct {
	IdentityKey      string          `json:"identity_key"`
	CandidateID      string          `json:"candidate_id"`
	Name             string          `json:"name"`
	EntityType       string          `json:"entity_type,omitempty"`
	City             string          `json:"city,omitempty"`
	State            string          `json:"state,omitempty"`
	Zip              string          `json:"zip,omitempty"`
	Employer         string          `json:"employer,omitempty"`
	Occupation       string          `json:"occupation,omitempty"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	TransactionCount int             `json:"transaction_count"`
	FirstReceiptDate *time.Time      `json:"first_receipt_date,omitempty"`
	LastReceiptDate  *time.Time      `json:"last_receipt_date,omitempty"`
	CommitteeID      string          `json:"committee_id"`
	Cycle            int             `json:"cycle"`
	ReceiptType      ReceiptType     `json:"receipt_type"`
}
