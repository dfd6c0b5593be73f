package pricing

import "github.com/shopspring/decimal"

// Amount returns the charge of a unit for a period's usage count.
// Fixed units ignore the count. Unknown units charge nothing.
// This is a PURE function.
func Amount(u Unit, count int64) decimal.Decimal {
	switch v := u.(type) {
	case FixedUnit:
		return v.Amount
	case UsageUnit:
		return v.UnitAmount.Mul(decimal.NewFromInt(count))
	case TieredUnit:
		return TieredAmount(count, v.Tiers)
	case TieredUsageUnit:
		return TieredUsageAmount(count, v.Tiers)
	}
	return decimal.Zero
}

// TieredAmount prices the whole count at the first tier that is infinite or
// whose bound is not below the count. Tiers are walked in the given order.
// No matching tier (including an empty list) charges zero.
// This is a PURE function.
func TieredAmount(count int64, tiers []Tier) decimal.Decimal {
	for _, t := range tiers {
		if t.Inf || count <= t.Bound() {
			return t.FlatAmount.Add(decimal.NewFromInt(count).Mul(t.UnitAmount))
		}
	}
	return decimal.Zero
}

// TieredUsageAmount prices the count incrementally: each tier bills the part
// of the count between the previous tier's bound and its own, plus its flat
// amount. Walking stops once the count is consumed or after an infinite tier.
// This is a PURE function.
func TieredUsageAmount(count int64, tiers []Tier) decimal.Decimal {
	total := decimal.Zero
	var consumed int64

	for _, t := range tiers {
		if count <= consumed {
			break
		}

		var inTier int64
		if t.Inf {
			inTier = count - consumed
		} else {
			inTier = min(count, t.Bound()) - consumed
		}
		total = total.Add(t.FlatAmount).Add(decimal.NewFromInt(inTier).Mul(t.UnitAmount))
		consumed = t.Bound()

		if t.Inf {
			break
		}
	}

	return total
}
