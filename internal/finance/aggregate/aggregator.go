// Package aggregate folds itemized receipts into deduplicated donor totals.
package aggregate

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fecsync/internal/finance/models"
)

// Aggregator accumulates donors for one candidate. It is not safe for
// concurrent use; a pass feeds it sequentially.
type Aggregator struct {
	candidateID string
	donors      map[string]*models.Donor
}

func New(candidateID string) *Aggregator {
	return &Aggregator{
		candidateID: candidateID,
		donors:      make(map[string]*models.Donor),
	}
}

// Add folds one classified transaction into the donor it keys to.
func (a *Aggregator) Add(t models.Transaction) {
	key := IdentityKey(t)
	d, ok := a.donors[key]
	if !ok {
		d = &models.Donor{
			IdentityKey: key,
			CandidateID: a.candidateID,
			Name:        strings.TrimSpace(t.ContributorName),
			EntityType:  strings.ToUpper(strings.TrimSpace(t.EntityType)),
			City:        t.City,
			State:       strings.ToUpper(t.State),
			Zip:         t.Zip,
			TotalAmount: decimal.Zero,
			CommitteeID: t.CommitteeID,
			Cycle:       t.Cycle,
			ReceiptType: t.ReceiptType,
		}
		a.donors[key] = d
	}

	d.TotalAmount = d.TotalAmount.Add(t.Amount)
	d.TransactionCount++
	if d.Employer == "" {
		d.Employer = t.Employer
	}
	if d.Occupation == "" {
		d.Occupation = t.Occupation
	}
	widen(d, t.ReceiptDate)
}

// Seed loads donors persisted by an earlier pass so they survive the
// wholesale replacement at the end of this one. Seeding a key twice adds the
// totals together.
func (a *Aggregator) Seed(donors []models.Donor) {
	for _, in := range donors {
		if d, ok := a.donors[in.IdentityKey]; ok {
			d.TotalAmount = d.TotalAmount.Add(in.TotalAmount)
			d.TransactionCount += in.TransactionCount
			if in.FirstReceiptDate != nil {
				widen(d, *in.FirstReceiptDate)
			}
			if in.LastReceiptDate != nil {
				widen(d, *in.LastReceiptDate)
			}
			continue
		}
		d := in
		d.CandidateID = a.candidateID
		a.donors[in.IdentityKey] = &d
	}
}

// Donors returns the aggregate sorted by identity key.
func (a *Aggregator) Donors() []models.Donor {
	keys := make([]string, 0, len(a.donors))
	for k := range a.donors {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]models.Donor, 0, len(keys))
	for _, k := range keys {
		out = append(out, *a.donors[k])
	}
	return out
}

// Total sums every donor's amount.
func (a *Aggregator) Total() decimal.Decimal {
	total := decimal.Zero
	for _, d := range a.donors {
		total = total.Add(d.TotalAmount)
	}
	return total
}

// Len is the number of distinct donors.
func (a *Aggregator) Len() int {
	return len(a.donors)
}

func widen(d *models.Donor, at time.Time) {
	if at.IsZero() {
		return
	}
	if d.FirstReceiptDate == nil || at.Before(*d.FirstReceiptDate) {
		t := at
		d.FirstReceiptDate = &t
	}
	if d.LastReceiptDate == nil || at.After(*d.LastReceiptDate) {
		t := at
		d.LastReceiptDate = &t
	}
}
