package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/tradeyard/checkout-api/internal/domain"
	"github.com/tradeyard/checkout-api/internal/platform/kvstore"
)

type stubCatalog struct {
	variants map[string]CatalogVariant
	err      error
}

func (s *stubCatalog) Variant(_ context.Context, sku string) (CatalogVariant, error) {
	if s.err != nil {
		return CatalogVariant{}, s.err
	}
	if v, ok := s.variants[sku]; ok {
		return v, nil
	}
	return CatalogVariant{
		SKU:       sku,
		ProductID: "p-" + sku,
		SellerID:  "s1",
		Name:      "item " + sku,
		UnitPrice: decimal.NewFromInt(100),
		WeightKg:  1,
	}, nil
}

func fixedClock() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func newBasketFixture(t *testing.T) (BasketService, *kvstore.MemoryStore) {
	t.Helper()
	store := kvstore.NewMemoryStore()
	svc, err := NewBasketService(BasketServiceDeps{
		Store:   store,
		Catalog: &stubCatalog{},
		Clock:   fixedClock,
	})
	if err != nil {
		t.Fatalf("new basket service: %v", err)
	}
	return svc, store
}

func TestAddEntryIdempotentPerSKU(t *testing.T) {
	svc, _ := newBasketFixture(t)
	ctx := context.Background()

	if _, err := svc.AddEntry(ctx, AddEntryCommand{SKU: "a", Count: 2}); err != nil {
		t.Fatalf("add: %v", err)
	}
	basket, err := svc.AddEntry(ctx, AddEntryCommand{SKU: "a", Count: 5})
	if err != nil {
		t.Fatalf("re-add: %v", err)
	}
	if len(basket.Entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(basket.Entries))
	}
	if basket.Entries[0].Count != 2 {
		t.Fatalf("expected re-add to keep original count 2, got %d", basket.Entries[0].Count)
	}
}

func TestAddEntryCapacity(t *testing.T) {
	svc, _ := newBasketFixture(t)
	ctx := context.Background()

	for i := 0; i < domain.MaxBasketEntries; i++ {
		if _, err := svc.AddEntry(ctx, AddEntryCommand{SKU: fmt.Sprintf("sku-%02d", i)}); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}
	if _, err := svc.AddEntry(ctx, AddEntryCommand{SKU: "one-too-many"}); !errors.Is(err, ErrBasketCapacity) {
		t.Fatalf("expected ErrBasketCapacity, got %v", err)
	}
}

func TestSetCountZeroRemoves(t *testing.T) {
	svc, _ := newBasketFixture(t)
	ctx := context.Background()

	if _, err := svc.AddEntry(ctx, AddEntryCommand{SKU: "a"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	basket, err := svc.SetCount(ctx, "a", 0)
	if err != nil {
		t.Fatalf("set count: %v", err)
	}
	if len(basket.Entries) != 0 {
		t.Fatalf("expected entry removed, got %d entries", len(basket.Entries))
	}
}

func TestSetCountRejectsNegative(t *testing.T) {
	svc, _ := newBasketFixture(t)
	if _, err := svc.SetCount(context.Background(), "a", -1); !errors.Is(err, ErrBasketInvalidInput) {
		t.Fatalf("expected ErrBasketInvalidInput, got %v", err)
	}
}

func TestSelectAllThenDeselectAllZeroesSubtotal(t *testing.T) {
	svc, _ := newBasketFixture(t)
	ctx := context.Background()

	for _, sku := range []string{"a", "b", "c"} {
		if _, err := svc.AddEntry(ctx, AddEntryCommand{SKU: sku, Count: 2}); err != nil {
			t.Fatalf("add %s: %v", sku, err)
		}
	}
	if _, err := svc.SelectAll(ctx); err != nil {
		t.Fatalf("select all: %v", err)
	}
	subtotal, err := svc.SelectedSubtotal(ctx)
	if err != nil {
		t.Fatalf("subtotal: %v", err)
	}
	if !subtotal.Equal(decimal.NewFromInt(600)) {
		t.Fatalf("expected subtotal 600, got %s", subtotal)
	}

	if _, err := svc.DeselectAll(ctx); err != nil {
		t.Fatalf("deselect all: %v", err)
	}
	subtotal, err = svc.SelectedSubtotal(ctx)
	if err != nil {
		t.Fatalf("subtotal: %v", err)
	}
	if !subtotal.IsZero() {
		t.Fatalf("expected subtotal exactly 0, got %s", subtotal)
	}
}

func TestRunningSubtotalMatchesRecompute(t *testing.T) {
	svc, _ := newBasketFixture(t)
	ctx := context.Background()

	check := func(step string) {
		t.Helper()
		basket, err := svc.ActiveBasket(ctx)
		if err != nil {
			t.Fatalf("%s: active basket: %v", step, err)
		}
		expected := domain.SumLineTotals(domain.SelectedEntries(basket.Entries))
		got, err := svc.SelectedSubtotal(ctx)
		if err != nil {
			t.Fatalf("%s: subtotal: %v", step, err)
		}
		if !got.Equal(domain.ClampTotal(expected)) {
			t.Fatalf("%s: running subtotal %s != recomputed %s", step, got, expected)
		}
	}

	mustDo := func(step string, err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("%s: %v", step, err)
		}
		check(step)
	}

	var err error
	_, err = svc.AddEntry(ctx, AddEntryCommand{SKU: "a", Count: 3})
	mustDo("add a", err)
	_, err = svc.AddEntry(ctx, AddEntryCommand{SKU: "b", Count: 1})
	mustDo("add b", err)
	_, err = svc.SetSelected(ctx, "a", false)
	mustDo("deselect a", err)
	_, err = svc.SetCount(ctx, "a", 7)
	mustDo("recount a", err)
	_, err = svc.SetSelected(ctx, "a", true)
	mustDo("reselect a", err)
	_, err = svc.SetCount(ctx, "b", 4)
	mustDo("recount b", err)
	_, err = svc.RemoveEntry(ctx, "b")
	mustDo("remove b", err)
	_, err = svc.DeselectAll(ctx)
	mustDo("deselect all", err)
	_, err = svc.SelectAll(ctx)
	mustDo("select all", err)
}

func TestSignInMergeStoredWins(t *testing.T) {
	svc, store := newBasketFixture(t)
	ctx := context.Background()

	stored := Basket{
		IdentityKey: "user@example.com",
		Entries:     []BasketEntry{fixtureEntry("A", "s1", 2, "10")},
		UpdatedAt:   fixedClock(),
	}
	if err := store.Set(ctx, kvstore.KeyRegistryPrefix+"user@example.com", stored); err != nil {
		t.Fatalf("seed stored basket: %v", err)
	}

	if _, err := svc.AddEntry(ctx, AddEntryCommand{SKU: "A", Count: 1}); err != nil {
		t.Fatalf("add A: %v", err)
	}
	if _, err := svc.AddEntry(ctx, AddEntryCommand{SKU: "B", Count: 1}); err != nil {
		t.Fatalf("add B: %v", err)
	}

	merged, report, err := svc.SignIn(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if len(merged.Entries) != 2 {
		t.Fatalf("expected 2 entries after merge, got %d", len(merged.Entries))
	}
	if merged.Entries[0].SKU != "A" || merged.Entries[0].Count != 2 {
		t.Fatalf("expected stored A with count 2 to win, got %+v", merged.Entries[0])
	}
	if merged.Entries[1].SKU != "B" || merged.Entries[1].Count != 1 {
		t.Fatalf("expected anonymous B carried over, got %+v", merged.Entries[1])
	}
	if report.Merged != 1 || report.Kept != 2 || len(report.Dropped) != 0 {
		t.Fatalf("unexpected merge report: %+v", report)
	}
}

func TestSignInMergeDropsOverflow(t *testing.T) {
	svc, store := newBasketFixture(t)
	ctx := context.Background()

	stored := Basket{IdentityKey: "user@example.com", UpdatedAt: fixedClock()}
	for i := 0; i < domain.MaxBasketEntries; i++ {
		stored.Entries = append(stored.Entries, fixtureEntry(fmt.Sprintf("stored-%02d", i), "s1", 1, "10"))
	}
	if err := store.Set(ctx, kvstore.KeyRegistryPrefix+"user@example.com", stored); err != nil {
		t.Fatalf("seed stored basket: %v", err)
	}
	if _, err := svc.AddEntry(ctx, AddEntryCommand{SKU: "extra"}); err != nil {
		t.Fatalf("add extra: %v", err)
	}

	merged, report, err := svc.SignIn(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if len(merged.Entries) != domain.MaxBasketEntries {
		t.Fatalf("expected merged basket at capacity, got %d", len(merged.Entries))
	}
	if len(report.Dropped) != 1 || report.Dropped[0] != "extra" {
		t.Fatalf("expected dropped [extra], got %+v", report.Dropped)
	}
}

func TestClearPurchasedKeepsUnselected(t *testing.T) {
	svc, _ := newBasketFixture(t)
	ctx := context.Background()

	for _, sku := range []string{"paid", "later"} {
		if _, err := svc.AddEntry(ctx, AddEntryCommand{SKU: sku}); err != nil {
			t.Fatalf("add %s: %v", sku, err)
		}
	}
	if _, err := svc.SetSelected(ctx, "later", false); err != nil {
		t.Fatalf("deselect: %v", err)
	}

	basket, err := svc.ClearPurchased(ctx)
	if err != nil {
		t.Fatalf("clear purchased: %v", err)
	}
	if len(basket.Entries) != 1 || basket.Entries[0].SKU != "later" {
		t.Fatalf("expected only unselected entry to remain, got %+v", basket.Entries)
	}
}

func TestSignOutSwitchesToAnonymous(t *testing.T) {
	svc, _ := newBasketFixture(t)
	ctx := context.Background()

	if _, err := svc.AddEntry(ctx, AddEntryCommand{SKU: "a"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, _, err := svc.SignIn(ctx, "user@example.com"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	basket, err := svc.SignOut(ctx)
	if err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if basket.IdentityKey != AnonymousIdentity {
		t.Fatalf("expected anonymous basket, got %q", basket.IdentityKey)
	}
	if len(basket.Entries) != 0 {
		t.Fatalf("expected empty anonymous basket after merge, got %d entries", len(basket.Entries))
	}

	// Signing back in restores the stored entries.
	restored, _, err := svc.SignIn(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("second sign in: %v", err)
	}
	if len(restored.Entries) != 1 || restored.Entries[0].SKU != "a" {
		t.Fatalf("expected stored basket restored, got %+v", restored.Entries)
	}
}
