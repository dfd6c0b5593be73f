package billing

import "github.com/artpar/meterbill/domain/tenant"

// PlanInfo describes the plan a dashboard was rated against.
type PlanInfo struct {
	PlanID      string
	DisplayName string
	Description string
}

// Summary is the headline of a dashboard.
type Summary struct {
	TotalByCurrency    []CurrencyTotal
	TotalMeteringUnits int
}

// Dashboard is the rated view of one tenant, plan and period.
type Dashboard struct {
	Summary   Summary
	LineItems []LineItem
	Plan      PlanInfo
	TaxRate   *tenant.TaxRate // nil when no tax rate applies
}

// NewDashboard assembles a dashboard from a rating result.
// This is a PURE function.
func NewDashboard(r Result, plan PlanInfo, tax *tenant.TaxRate) Dashboard {
	return Dashboard{
		Summary: Summary{
			TotalByCurrency:    r.Totals,
			TotalMeteringUnits: len(r.LineItems),
		},
		LineItems: r.LineItems,
		Plan:      plan,
		TaxRate:   tax,
	}
}
