package services

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	domain "github.com/tradeyard/checkout-api/internal/domain"
	"github.com/tradeyard/checkout-api/internal/platform/kvstore"
)

func TestAggregatorSubtotalOnlyBeforeDeliveryStage(t *testing.T) {
	agg, err := NewPriceAggregator(kvstore.NewMemoryStore(), nil)
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	entries := []BasketEntry{
		fixtureEntry("a", "s1", 2, "100.50"),
		fixtureEntry("b", "s2", 1, "49.50"),
	}

	summary, err := agg.Recompute(context.Background(), entries, decimal.NewFromInt(129), domain.StageInformation)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if !summary.Subtotal.Equal(decimal.RequireFromString("250.50")) {
		t.Fatalf("unexpected subtotal %s", summary.Subtotal)
	}
	if !summary.DeliveryTotal.IsZero() {
		t.Fatalf("expected delivery excluded before delivery stage, got %s", summary.DeliveryTotal)
	}
	if !summary.GrandTotal.Equal(summary.Subtotal) {
		t.Fatalf("expected grand total %s, got %s", summary.Subtotal, summary.GrandTotal)
	}
}

func TestAggregatorIncludesDeliveryFromDeliveryStage(t *testing.T) {
	agg, err := NewPriceAggregator(kvstore.NewMemoryStore(), nil)
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	entries := []BasketEntry{fixtureEntry("a", "s1", 1, "100")}

	summary, err := agg.Recompute(context.Background(), entries, decimal.NewFromInt(129), domain.StageDelivery)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if !summary.GrandTotal.Equal(decimal.NewFromInt(229)) {
		t.Fatalf("expected grand total 229, got %s", summary.GrandTotal)
	}
}

func TestAggregatorIgnoresUnselectedEntries(t *testing.T) {
	agg, _ := NewPriceAggregator(kvstore.NewMemoryStore(), nil)
	entries := []BasketEntry{
		fixtureEntry("a", "s1", 1, "100"),
		fixtureEntry("b", "s1", 1, "40"),
	}
	entries[1].Selected = false

	summary, err := agg.Recompute(context.Background(), entries, decimal.Zero, domain.StageInformation)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if !summary.Subtotal.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected subtotal 100, got %s", summary.Subtotal)
	}
}

func TestAggregatorClampsNearZero(t *testing.T) {
	agg, _ := NewPriceAggregator(kvstore.NewMemoryStore(), nil)
	entries := []BasketEntry{fixtureEntry("a", "s1", 1, "0.001")}

	summary, err := agg.Recompute(context.Background(), entries, decimal.Zero, domain.StageInformation)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if !summary.GrandTotal.IsZero() {
		t.Fatalf("expected near-zero total clamped to 0, got %s", summary.GrandTotal)
	}
}

func TestAggregatorPersistsGrandTotal(t *testing.T) {
	store := kvstore.NewMemoryStore()
	agg, _ := NewPriceAggregator(store, nil)
	entries := []BasketEntry{fixtureEntry("a", "s1", 2, "50")}

	if _, err := agg.Recompute(context.Background(), entries, decimal.Zero, domain.StageInformation); err != nil {
		t.Fatalf("recompute: %v", err)
	}
	total, err := agg.LastGrandTotal(context.Background())
	if err != nil {
		t.Fatalf("last grand total: %v", err)
	}
	if !total.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected persisted total 100, got %s", total)
	}
}

func TestAggregatorMissingTotalReadsAsZero(t *testing.T) {
	agg, _ := NewPriceAggregator(kvstore.NewMemoryStore(), nil)
	total, err := agg.LastGrandTotal(context.Background())
	if err != nil {
		t.Fatalf("last grand total: %v", err)
	}
	if !total.IsZero() {
		t.Fatalf("expected zero for missing total, got %s", total)
	}
}
