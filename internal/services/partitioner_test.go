package services

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/tradeyard/checkout-api/internal/domain"
)

func fixtureEntry(sku, sellerID string, count int, price string) BasketEntry {
	return BasketEntry{
		SKU:      sku,
		SellerID: sellerID,
		Product: ProductSnapshot{
			Name:      "item " + sku,
			UnitPrice: decimal.RequireFromString(price),
			WeightKg:  1,
			Dimensions: Dimensions{
				Height: 10, Width: 10, Length: 10,
			},
		},
		Count:    count,
		Selected: true,
		AddedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestPartitionBySellerFirstOccurrenceOrder(t *testing.T) {
	entries := []BasketEntry{
		fixtureEntry("a", "s2", 1, "10"),
		fixtureEntry("b", "s1", 1, "20"),
		fixtureEntry("c", "s2", 2, "5"),
		fixtureEntry("d", "s3", 1, "7"),
	}
	groups := PartitionBySeller(entries)
	if len(groups) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(groups))
	}
	wantOrder := []string{"s2", "s1", "s3"}
	for i, sellerID := range wantOrder {
		if groups[i].SellerID != sellerID {
			t.Fatalf("group %d: expected seller %s got %s", i, sellerID, groups[i].SellerID)
		}
	}
	if len(groups[0].Items) != 2 || groups[0].Items[0].SKU != "a" || groups[0].Items[1].SKU != "c" {
		t.Fatalf("unexpected s2 items: %+v", groups[0].Items)
	}
}

func TestPartitionBySellerStable(t *testing.T) {
	entries := []BasketEntry{
		fixtureEntry("a", "s1", 1, "10"),
		fixtureEntry("b", "s2", 1, "20"),
		fixtureEntry("c", "s1", 3, "5"),
	}
	first := PartitionBySeller(entries)
	second := PartitionBySeller(entries)
	if len(first) != len(second) {
		t.Fatalf("expected identical group count, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i].SellerID != second[i].SellerID {
			t.Fatalf("group %d ordering differs: %s vs %s", i, first[i].SellerID, second[i].SellerID)
		}
		if first[i].ItemsDigest != second[i].ItemsDigest {
			t.Fatalf("group %d digest differs", i)
		}
	}
}

func TestPartitionBySellerSkipsUnselected(t *testing.T) {
	entries := []BasketEntry{
		fixtureEntry("a", "s1", 1, "10"),
		fixtureEntry("b", "s2", 1, "20"),
	}
	entries[1].Selected = false
	groups := PartitionBySeller(entries)
	if len(groups) != 1 || groups[0].SellerID != "s1" {
		t.Fatalf("expected only s1 group, got %+v", groups)
	}
}

func TestMergeGroupChoicesPreservesUnchanged(t *testing.T) {
	entries := []BasketEntry{
		fixtureEntry("a", "s1", 1, "10"),
		fixtureEntry("b", "s2", 1, "20"),
	}
	prev := PartitionBySeller(entries)
	prev[0].DeliveryType = domain.DeliveryTypeHomeDelivery
	prev[0].CarrierID = "rex"
	prev[0].DeliveryPrice = decimal.NewFromInt(129)
	prev[0].Complete = true
	prev[0].Candidates = []DeliveryOption{{CarrierID: "rex", Type: domain.DeliveryTypeHomeDelivery}}

	next := mergeGroupChoices(prev, PartitionBySeller(entries))
	if !next[0].Complete || next[0].CarrierID != "rex" {
		t.Fatalf("expected s1 choice preserved, got %+v", next[0])
	}
	if !next[0].DeliveryPrice.Equal(decimal.NewFromInt(129)) {
		t.Fatalf("expected preserved price, got %s", next[0].DeliveryPrice)
	}
}

func TestMergeGroupChoicesResetsChangedGroups(t *testing.T) {
	entries := []BasketEntry{
		fixtureEntry("a", "s1", 1, "10"),
	}
	prev := PartitionBySeller(entries)
	prev[0].Complete = true
	prev[0].Generation = 4

	entries[0].Count = 2
	next := mergeGroupChoices(prev, PartitionBySeller(entries))
	if next[0].Complete {
		t.Fatal("expected changed group to lose its delivery choice")
	}
	if next[0].Generation != 5 {
		t.Fatalf("expected generation bump to 5, got %d", next[0].Generation)
	}
}
