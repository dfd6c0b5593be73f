// Package tenant provides tenant, plan history and tax rate value types.
package tenant

import (
	"sort"

	"github.com/shopspring/decimal"
)

// PlanHistoryEntry records a plan being applied to a tenant.
type PlanHistoryEntry struct {
	PlanID    string
	AppliedAt int64 // epoch seconds
	TaxRateID string
}

// BillingContext carries the tenant fields the period timeline depends on.
type BillingContext struct {
	CurrentPlanPeriodEnd int64 // epoch seconds, 0 = open ended
}

// PlanReservation is a scheduled switch to another plan.
type PlanReservation struct {
	NextPlanID        string
	UsingNextPlanFrom int64 // epoch seconds, 0 = not scheduled
	NextPlanTaxRateID string
}

// IsScheduled reports whether a plan switch is pending.
func (r PlanReservation) IsScheduled() bool {
	return r.UsingNextPlanFrom > 0
}

// Tenant is a tenant record from the tenant source (value type).
type Tenant struct {
	ID                   string
	Name                 string
	PlanID               string
	PlanHistories        []PlanHistoryEntry // insertion order
	CurrentPlanPeriodEnd int64
	Reservation          PlanReservation
}

// BillingContext returns the tenant's billing context.
func (t Tenant) BillingContext() BillingContext {
	return BillingContext{CurrentPlanPeriodEnd: t.CurrentPlanPeriodEnd}
}

// TaxRate is a tax rate definition.
type TaxRate struct {
	ID          string
	Name        string
	DisplayName string
	Percentage  decimal.Decimal
	Inclusive   bool
	Country     string
	Description string
}

// SortHistory returns a copy of history sorted ascending by AppliedAt.
// Entries with equal timestamps keep their insertion order.
// This is a PURE function.
func SortHistory(history []PlanHistoryEntry) []PlanHistoryEntry {
	sorted := make([]PlanHistoryEntry, len(history))
	copy(sorted, history)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].AppliedAt < sorted[j].AppliedAt
	})
	return sorted
}

// TaxRateIDForPeriod returns the tax rate of the most recent application of
// planID at or before periodStart. Empty when none applies.
// This is a PURE function.
func TaxRateIDForPeriod(history []PlanHistoryEntry, planID string, periodStart int64) string {
	var (
		found bool
		best  PlanHistoryEntry
	)
	for _, h := range history {
		if h.PlanID != planID || h.AppliedAt > periodStart {
			continue
		}
		if !found || h.AppliedAt > best.AppliedAt {
			best = h
			found = true
		}
	}
	return best.TaxRateID
}

// CurrentTaxRateID returns the tax rate of the last inserted history entry.
// This is a PURE function.
func CurrentTaxRateID(history []PlanHistoryEntry) string {
	if len(history) == 0 {
		return ""
	}
	return history[len(history)-1].TaxRateID
}

// FindTaxRate finds a tax rate by ID in a list.
// This is a PURE function.
func FindTaxRate(rates []TaxRate, id string) (TaxRate, bool) {
	for _, r := range rates {
		if r.ID == id {
			return r, true
		}
	}
	return TaxRate{}, false
}
