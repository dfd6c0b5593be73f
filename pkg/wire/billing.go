package wire

import (
	"github.com/artpar/meterbill/domain/billing"
	"github.com/artpar/meterbill/domain/period"
	"github.com/artpar/meterbill/domain/usage"
)

// LineItem is one rated unit on the wire.
type LineItem struct {
	MeteringUnitName       string `json:"metering_unit_name"`
	MeteringUnitType       string `json:"metering_unit_type"`
	FunctionMenuName       string `json:"function_menu_name"`
	PeriodCount            int64  `json:"period_count"`
	Currency               string `json:"currency"`
	PeriodAmount           Amount `json:"period_amount"`
	PricingUnitDisplayName string `json:"pricing_unit_display_name"`
}

// CurrencyTotal is the total of one currency on the wire.
type CurrencyTotal struct {
	Currency    string `json:"currency"`
	TotalAmount Amount `json:"total_amount"`
}

// RatingResult is a rating on the wire.
type RatingResult struct {
	LineItems []LineItem      `json:"metering_unit_billings"`
	Totals    []CurrencyTotal `json:"total_by_currency"`
}

// Dashboard is the billing dashboard on the wire.
type Dashboard struct {
	Summary         Summary    `json:"summary"`
	LineItems       []LineItem `json:"metering_unit_billings"`
	PricingPlanInfo PlanInfo   `json:"pricing_plan_info"`
	TaxRate         *TaxRate   `json:"tax_rate"`
}

// Summary is the dashboard headline on the wire.
type Summary struct {
	TotalByCurrency    []CurrencyTotal `json:"total_by_currency"`
	TotalMeteringUnits int             `json:"total_metering_units"`
}

// PlanInfo describes the rated plan on the wire.
type PlanInfo struct {
	PlanID      string `json:"plan_id"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
}

// Segment is one billing period on the wire.
type Segment struct {
	Label  string `json:"label"`
	PlanID string `json:"plan_id"`
	Start  int64  `json:"start"`
	End    int64  `json:"end"`
}

// MeteringCount is a metering counter on the wire.
type MeteringCount struct {
	Timestamp int64 `json:"timestamp"`
	Count     int64 `json:"count"`
}

// MeteringUpdate is the body of a metering counter update.
type MeteringUpdate struct {
	Method string `json:"method"`
	Count  int64  `json:"count"`
}

// FromLineItems converts rated line items. The result is never nil.
func FromLineItems(items []billing.LineItem) []LineItem {
	out := make([]LineItem, len(items))
	for i, it := range items {
		out[i] = LineItem{
			MeteringUnitName:       it.MeteringUnitName,
			MeteringUnitType:       string(it.UnitType),
			FunctionMenuName:       it.MenuDisplayName,
			PeriodCount:            it.PeriodCount,
			Currency:               it.Currency,
			PeriodAmount:           NewAmount(it.PeriodAmount),
			PricingUnitDisplayName: it.PricingUnitDisplayName,
		}
	}
	return out
}

// FromTotals converts currency totals. The result is never nil.
func FromTotals(totals []billing.CurrencyTotal) []CurrencyTotal {
	out := make([]CurrencyTotal, len(totals))
	for i, t := range totals {
		out[i] = CurrencyTotal{Currency: t.Currency, TotalAmount: NewAmount(t.TotalAmount)}
	}
	return out
}

// FromResult converts a rating result.
func FromResult(r billing.Result) RatingResult {
	return RatingResult{LineItems: FromLineItems(r.LineItems), Totals: FromTotals(r.Totals)}
}

// FromDashboard converts a dashboard.
func FromDashboard(d billing.Dashboard) Dashboard {
	out := Dashboard{
		Summary: Summary{
			TotalByCurrency:    FromTotals(d.Summary.TotalByCurrency),
			TotalMeteringUnits: d.Summary.TotalMeteringUnits,
		},
		LineItems: FromLineItems(d.LineItems),
		PricingPlanInfo: PlanInfo{
			PlanID:      d.Plan.PlanID,
			DisplayName: d.Plan.DisplayName,
			Description: d.Plan.Description,
		},
	}
	if d.TaxRate != nil {
		tr := FromTaxRate(*d.TaxRate)
		out.TaxRate = &tr
	}
	return out
}

// FromSegments converts billing periods. The result is never nil.
func FromSegments(segs []period.Segment) []Segment {
	out := make([]Segment, len(segs))
	for i, s := range segs {
		out[i] = Segment{Label: s.Label, PlanID: s.PlanID, Start: s.Start, End: s.End}
	}
	return out
}

// FromCount converts a metering count.
func FromCount(c usage.Count) MeteringCount {
	return MeteringCount{Timestamp: c.Timestamp, Count: c.Count}
}

// ToUpdate converts a metering update body.
func (u MeteringUpdate) ToUpdate() usage.CountUpdate {
	return usage.CountUpdate{Method: usage.UpdateMethod(u.Method), Count: u.Count}
}
