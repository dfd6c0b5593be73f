// Package wire defines the JSON shapes of plans, tenants, tax rates and
// billing results, and converts them to and from domain values.
//
// The same shapes are spoken by the remote pricing and auth services,
// stored as documents by the SQLite adapter, read from plan files by the
// CLI and written by the HTTP API.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/artpar/meterbill/domain/pricing"
)

// Plan is a pricing plan on the wire.
type Plan struct {
	ID           string `json:"id"`
	DisplayName  string `json:"display_name"`
	Description  string `json:"description,omitempty"`
	PricingMenus []Menu `json:"pricing_menus"`
}

// Menu is a pricing menu on the wire.
type Menu struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name,omitempty"`
	DisplayName string `json:"display_name"`
	Units       []Unit `json:"units"`
}

// Unit is the tagged union of pricing units. Type selects the variant;
// fields that do not belong to it are ignored.
type Unit struct {
	Type              string `json:"type"`
	Name              string `json:"name,omitempty"`
	DisplayName       string `json:"display_name"`
	Currency          string `json:"currency,omitempty"`
	RecurringInterval string `json:"recurring_interval,omitempty"`
	MeteringUnitName  string `json:"metering_unit_name,omitempty"`
	AggregateUsage    string `json:"aggregate_usage,omitempty"`
	UnitAmount        Amount `json:"unit_amount"`
	Tiers             []Tier `json:"tiers,omitempty"`
}

// Tier is one bracket of a tiered unit on the wire.
type Tier struct {
	UpTo       int64  `json:"up_to"`
	Inf        bool   `json:"inf"`
	FlatAmount Amount `json:"flat_amount"`
	UnitAmount Amount `json:"unit_amount"`
}

// DecodePlan parses one JSON plan into its domain value.
func DecodePlan(data []byte) (pricing.Plan, error) {
	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return pricing.Plan{}, fmt.Errorf("decode plan: %w", err)
	}
	return p.ToDomain()
}

// EncodePlan renders a domain plan as JSON.
func EncodePlan(p pricing.Plan) ([]byte, error) {
	return json.Marshal(FromPlan(p))
}

// ToDomain converts a wire plan. Units of unknown type are an error.
func (p Plan) ToDomain() (pricing.Plan, error) {
	out := pricing.Plan{
		ID:          p.ID,
		DisplayName: p.DisplayName,
		Description: p.Description,
		Menus:       make([]pricing.Menu, 0, len(p.PricingMenus)),
	}

	for _, m := range p.PricingMenus {
		menu := pricing.Menu{
			DisplayName: m.DisplayName,
			Units:       make([]pricing.Unit, 0, len(m.Units)),
		}
		for i, u := range m.Units {
			unit, err := u.ToDomain()
			if err != nil {
				return pricing.Plan{}, fmt.Errorf("plan %q menu %q unit %d: %w", p.ID, m.DisplayName, i, err)
			}
			menu.Units = append(menu.Units, unit)
		}
		out.Menus = append(out.Menus, menu)
	}
	return out, nil
}

// ToDomain converts a wire unit into the matching domain variant.
func (u Unit) ToDomain() (pricing.Unit, error) {
	base := pricing.UnitBase{
		Name:              u.Name,
		DisplayName:       u.DisplayName,
		Currency:          u.Currency,
		RecurringInterval: pricing.RecurringInterval(u.RecurringInterval),
	}
	m := pricing.Metered{
		MeteringUnitName: u.MeteringUnitName,
		Aggregation:      pricing.Aggregation(u.AggregateUsage),
	}

	switch pricing.UnitType(u.Type) {
	case pricing.UnitFixed:
		return pricing.FixedUnit{UnitBase: base, Amount: u.UnitAmount.Decimal()}, nil
	case pricing.UnitUsage:
		return pricing.UsageUnit{UnitBase: base, Metered: m, UnitAmount: u.UnitAmount.Decimal()}, nil
	case pricing.UnitTiered:
		return pricing.TieredUnit{UnitBase: base, Metered: m, Tiers: tiersToDomain(u.Tiers)}, nil
	case pricing.UnitTieredUsage:
		return pricing.TieredUsageUnit{UnitBase: base, Metered: m, Tiers: tiersToDomain(u.Tiers)}, nil
	}
	return nil, fmt.Errorf("unknown unit type %q", u.Type)
}

func tiersToDomain(in []Tier) []pricing.Tier {
	out := make([]pricing.Tier, len(in))
	for i, t := range in {
		out[i] = pricing.Tier{
			UpTo:       t.UpTo,
			Inf:        t.Inf,
			FlatAmount: t.FlatAmount.Decimal(),
			UnitAmount: t.UnitAmount.Decimal(),
		}
	}
	return out
}

// FromPlan converts a domain plan to its wire form.
func FromPlan(p pricing.Plan) Plan {
	out := Plan{
		ID:           p.ID,
		DisplayName:  p.DisplayName,
		Description:  p.Description,
		PricingMenus: make([]Menu, 0, len(p.Menus)),
	}
	for _, m := range p.Menus {
		menu := Menu{DisplayName: m.DisplayName, Units: make([]Unit, 0, len(m.Units))}
		for _, u := range m.Units {
			if u == nil {
				continue
			}
			menu.Units = append(menu.Units, FromUnit(u))
		}
		out.PricingMenus = append(out.PricingMenus, menu)
	}
	return out
}

// FromUnit converts a domain unit to its wire form.
func FromUnit(u pricing.Unit) Unit {
	b := u.Base()
	out := Unit{
		Type:              string(u.Type()),
		Name:              b.Name,
		DisplayName:       b.DisplayName,
		Currency:          b.Currency,
		RecurringInterval: string(b.RecurringInterval),
		MeteringUnitName:  pricing.MeteringUnitName(u),
	}
	if pricing.IsMetered(u) {
		out.AggregateUsage = string(pricing.AggregationOf(u))
	}

	switch v := u.(type) {
	case pricing.FixedUnit:
		out.UnitAmount = NewAmount(v.Amount)
	case pricing.UsageUnit:
		out.UnitAmount = NewAmount(v.UnitAmount)
	case pricing.TieredUnit:
		out.Tiers = tiersFromDomain(v.Tiers)
	case pricing.TieredUsageUnit:
		out.Tiers = tiersFromDomain(v.Tiers)
	}
	return out
}

func tiersFromDomain(in []pricing.Tier) []Tier {
	out := make([]Tier, len(in))
	for i, t := range in {
		out[i] = Tier{UpTo: t.UpTo, Inf: t.Inf, FlatAmount: NewAmount(t.FlatAmount), UnitAmount: NewAmount(t.UnitAmount)}
	}
	return out
}
