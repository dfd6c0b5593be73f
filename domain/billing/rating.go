// Package billing provides rating result and dashboard value types.
package billing

import (
	"sort"
	"sync"

	"github.com/artpar/meterbill/domain/pricing"
	"github.com/shopspring/decimal"
)

// LineItem is the charge of one pricing unit for a period (value type).
type LineItem struct {
	MeteringUnitName       string // empty for fixed units
	UnitType               pricing.UnitType
	MenuDisplayName        string
	PeriodCount            int64
	Currency               string
	PeriodAmount           decimal.Decimal
	PricingUnitDisplayName string
}

// CurrencyTotal is the sum of line item amounts in one currency.
type CurrencyTotal struct {
	Currency    string
	TotalAmount decimal.Decimal
}

// Result is the outcome of rating a plan for a period.
type Result struct {
	LineItems []LineItem
	Totals    []CurrencyTotal
}

// Totals accumulates amounts per currency. Safe for concurrent use.
// Decimal addition is exact, so the result does not depend on the order of Add calls.
type Totals struct {
	mu   sync.Mutex
	sums map[string]decimal.Decimal
}

// NewTotals creates an empty accumulator.
func NewTotals() *Totals {
	return &Totals{sums: make(map[string]decimal.Decimal)}
}

// Add adds amount to the running total of currency.
func (t *Totals) Add(currency string, amount decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.sums[currency]; ok {
		t.sums[currency] = cur.Add(amount)
		return
	}
	t.sums[currency] = amount
}

// Sorted returns the totals ascending by currency code.
func (t *Totals) Sorted() []CurrencyTotal {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]CurrencyTotal, 0, len(t.sums))
	for c, amount := range t.sums {
		out = append(out, CurrencyTotal{Currency: c, TotalAmount: amount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out
}

// SumLineItems totals line items by currency.
// This is a PURE function.
func SumLineItems(items []LineItem) []CurrencyTotal {
	t := NewTotals()
	for _, item := range items {
		t.Add(item.Currency, item.PeriodAmount)
	}
	return t.Sorted()
}
