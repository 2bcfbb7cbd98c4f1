package domain

import "github.com/shopspring/decimal"

// reconcileEpsilon bounds the residue tolerated when incremental totals are
// reconciled against a full recompute. Anything inside it is rounding noise.
var reconcileEpsilon = decimal.NewFromFloat(0.005)

// ClampTotal snaps near-zero decimal residue to exact zero so an emptied
// basket never renders a total like -0.00.
func ClampTotal(d decimal.Decimal) decimal.Decimal {
	if d.Abs().LessThan(reconcileEpsilon) {
		return decimal.Zero
	}
	return d
}

// SumLineTotals computes the subtotal of the given entries from scratch.
// Callers maintaining running totals use it as the reconciliation baseline.
func SumLineTotals(entries []BasketEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.LineTotal())
	}
	return total
}

// SelectedEntries returns the entries currently marked for purchase,
// preserving order.
func SelectedEntries(entries []BasketEntry) []BasketEntry {
	out := make([]BasketEntry, 0, len(entries))
	for _, e := range entries {
		if e.Selected {
			out = append(out, e)
		}
	}
	return out
}
