package services

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	domain "github.com/tradeyard/checkout-api/internal/domain"
	"github.com/tradeyard/checkout-api/internal/platform/kvstore"
)

var errAggregatorStoreRequired = errors.New("price aggregator: store is required")

// PriceAggregator derives subtotal, delivery total, and grand total, and
// persists the latest grand total for the confirmation view. Totals are
// always recomputed from scratch, never patched.
type PriceAggregator struct {
	store  kvstore.Store
	logger func(context.Context, string, map[string]any)
}

// NewPriceAggregator constructs a PriceAggregator.
func NewPriceAggregator(store kvstore.Store, logger func(context.Context, string, map[string]any)) (*PriceAggregator, error) {
	if store == nil {
		return nil, errAggregatorStoreRequired
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &PriceAggregator{store: store, logger: logger}, nil
}

// Recompute derives the totals for the given checkout state. Delivery cost
// joins the grand total only once the delivery stage has been reached; before
// that the displayed delivery cost is a placeholder. Near-zero residue is
// clamped to exactly zero.
func (a *PriceAggregator) Recompute(ctx context.Context, selected []BasketEntry, deliveryTotal decimal.Decimal, stage CheckoutStage) (PriceSummary, error) {
	subtotal := domain.SumLineTotals(domain.SelectedEntries(selected))
	if stage < domain.StageDelivery {
		deliveryTotal = decimal.Zero
	}
	summary := PriceSummary{
		Subtotal:      domain.ClampTotal(subtotal),
		DeliveryTotal: domain.ClampTotal(deliveryTotal),
	}
	summary.GrandTotal = domain.ClampTotal(summary.Subtotal.Add(summary.DeliveryTotal))

	if err := a.store.Set(ctx, kvstore.KeyGrandTotal, summary.GrandTotal.String()); err != nil {
		return PriceSummary{}, err
	}
	a.logger(ctx, "pricing.recomputed", map[string]any{
		"subtotal":    summary.Subtotal.String(),
		"delivery":    summary.DeliveryTotal.String(),
		"grand_total": summary.GrandTotal.String(),
	})
	return summary, nil
}

// LastGrandTotal reads the persisted grand total. A missing or malformed
// value reads as zero.
func (a *PriceAggregator) LastGrandTotal(ctx context.Context) (decimal.Decimal, error) {
	var raw string
	found, err := a.store.Get(ctx, kvstore.KeyGrandTotal, &raw)
	if err != nil {
		return decimal.Zero, err
	}
	if !found {
		return decimal.Zero, nil
	}
	total, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, nil
	}
	return total, nil
}
