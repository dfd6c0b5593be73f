// Package pricing provides pricing plan value types and pure rating functions.
package pricing

import (
	"math"

	"github.com/shopspring/decimal"
)

// UnitType identifies the pricing model of a unit.
type UnitType string

const (
	UnitFixed       UnitType = "fixed"
	UnitUsage       UnitType = "usage"
	UnitTiered      UnitType = "tiered"
	UnitTieredUsage UnitType = "tiered_usage"
)

// Aggregation determines how metering samples collapse into one count.
type Aggregation string

const (
	AggregateSum Aggregation = "sum"
	AggregateMax Aggregation = "max"
)

// RecurringInterval is the billing cadence of a unit.
type RecurringInterval string

const (
	IntervalMonth RecurringInterval = "month"
	IntervalYear  RecurringInterval = "year"
)

// DefaultCurrency is used when a unit carries no currency.
const DefaultCurrency = "JPY"

// Unit is a pricing unit. Exactly one of FixedUnit, UsageUnit, TieredUnit
// or TieredUsageUnit; the set is closed.
type Unit interface {
	Type() UnitType
	Base() UnitBase
	isUnit()
}

// UnitBase holds the fields every pricing unit carries.
type UnitBase struct {
	Name              string
	DisplayName       string
	Currency          string
	RecurringInterval RecurringInterval
}

// Metered holds the fields of units billed from metering counters.
type Metered struct {
	MeteringUnitName string
	Aggregation      Aggregation
}

// FixedUnit is a flat recurring charge.
type FixedUnit struct {
	UnitBase
	Amount decimal.Decimal
}

// UsageUnit charges UnitAmount per metered unit.
type UsageUnit struct {
	UnitBase
	Metered
	UnitAmount decimal.Decimal
}

// TieredUnit prices the whole count at the rate of the bracket it falls into.
type TieredUnit struct {
	UnitBase
	Metered
	Tiers []Tier
}

// TieredUsageUnit prices each bracket's share of the count at that bracket's rate.
type TieredUsageUnit struct {
	UnitBase
	Metered
	Tiers []Tier
}

func (FixedUnit) Type() UnitType       { return UnitFixed }
func (UsageUnit) Type() UnitType       { return UnitUsage }
func (TieredUnit) Type() UnitType      { return UnitTiered }
func (TieredUsageUnit) Type() UnitType { return UnitTieredUsage }

func (u FixedUnit) Base() UnitBase       { return u.UnitBase }
func (u UsageUnit) Base() UnitBase       { return u.UnitBase }
func (u TieredUnit) Base() UnitBase      { return u.UnitBase }
func (u TieredUsageUnit) Base() UnitBase { return u.UnitBase }

func (FixedUnit) isUnit()       {}
func (UsageUnit) isUnit()       {}
func (TieredUnit) isUnit()      {}
func (TieredUsageUnit) isUnit() {}

// Tier is one bracket of a tiered price.
type Tier struct {
	UpTo       int64 // <= 0 = unbounded
	Inf        bool
	FlatAmount decimal.Decimal
	UnitAmount decimal.Decimal
}

// Bound returns the upper bound of the tier, math.MaxInt64 when unbounded.
func (t Tier) Bound() int64 {
	if t.UpTo > 0 {
		return t.UpTo
	}
	return math.MaxInt64
}

// Menu groups units under a display name.
type Menu struct {
	DisplayName string
	Units       []Unit
}

// Plan is a pricing plan (immutable value type).
type Plan struct {
	ID          string
	DisplayName string
	Description string
	Menus       []Menu
}

// MeteringUnitName returns the metering unit a unit is billed from.
// Fixed units have none.
func MeteringUnitName(u Unit) string {
	if m, ok := metered(u); ok {
		return m.MeteringUnitName
	}
	return ""
}

// AggregationOf returns the unit's aggregation, defaulting to sum.
func AggregationOf(u Unit) Aggregation {
	if m, ok := metered(u); ok && m.Aggregation == AggregateMax {
		return AggregateMax
	}
	return AggregateSum
}

// CurrencyOf returns the unit's currency, defaulting to DefaultCurrency.
func CurrencyOf(u Unit) string {
	if u == nil {
		return DefaultCurrency
	}
	if c := u.Base().Currency; c != "" {
		return c
	}
	return DefaultCurrency
}

// IntervalOf returns the unit's recurring interval. Anything other than
// year, including a nil unit, counts as month.
func IntervalOf(u Unit) RecurringInterval {
	if u == nil {
		return IntervalMonth
	}
	if u.Base().RecurringInterval == IntervalYear {
		return IntervalYear
	}
	return IntervalMonth
}

// IsMetered reports whether the unit's amount depends on a usage count.
func IsMetered(u Unit) bool {
	_, ok := metered(u)
	return ok
}

func metered(u Unit) (Metered, bool) {
	switch v := u.(type) {
	case UsageUnit:
		return v.Metered, true
	case TieredUnit:
		return v.Metered, true
	case TieredUsageUnit:
		return v.Metered, true
	}
	return Metered{}, false
}

// PlanHasYearlyUnit reports whether any unit of the plan recurs yearly.
// This is a PURE function.
func PlanHasYearlyUnit(p Plan) bool {
	for _, m := range p.Menus {
		for _, u := range m.Units {
			if IntervalOf(u) == IntervalYear {
				return true
			}
		}
	}
	return false
}
