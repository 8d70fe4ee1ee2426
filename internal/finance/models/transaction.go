package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ReceiptType classifies a receipt by its line code.
type ReceiptType string

const (
	ReceiptContribution ReceiptType = "contribution"
	ReceiptTransfer     ReceiptType = "transfer"
	ReceiptOther        ReceiptType = "other"
)

// ClassifyLineCode maps a report line code to a receipt type. A leading "SA"
// form prefix is ignored: 11x lines are contributions, 12x lines transfers,
// anything else another receipt.
func ClassifyLineCode(line string) ReceiptType {
	code := strings.ToUpper(strings.TrimSpace(line))
	code = strings.TrimPrefix(code, "SA")
	switch {
	case strings.HasPrefix(code, "11"):
		return ReceiptContribution
	case strings.HasPrefix(code, "12"):
		return ReceiptTransfer
	default:
		return ReceiptOther
	}
}

// EntityIndividual marks a person. Individuals (and blank entity types) are
// keyed by address; every other entity by state only.
const EntityIndividual = "IND"

// Transaction is one itemized receipt. It is never persisted on its own.
type Transaction struct {
	ContributorName string
	EntityType      string
	City            string
	State           string
	Zip             string
	Employer        string
	Occupation      string
	Amount          decimal.Decimal
	ReceiptDate     time.Time
	LineCode        string
	ReceiptType     ReceiptType
	CommitteeID     string
	Cycle           int
}

// Individual reports whether the contributor is keyed as a person.
func (t *Transaction) Individual() bool {
	et := strings.ToUpper(strings.TrimSpace(t.EntityType))
	return et == "" || et == EntityIndividual
}
