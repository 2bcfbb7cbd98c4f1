package services

import (
	"fmt"
	"hash/fnv"
)

// PartitionBySeller splits the selected entries into one skeleton group per
// distinct seller, in first-occurrence order. It is a pure function; the
// delivery service re-runs it whenever the selected subset changes.
func PartitionBySeller(selected []BasketEntry) []SellerGroup {
	order := make([]string, 0, 4)
	bySeller := make(map[string][]BasketEntry)
	for _, entry := range selected {
		if !entry.Selected {
			continue
		}
		if _, seen := bySeller[entry.SellerID]; !seen {
			order = append(order, entry.SellerID)
		}
		bySeller[entry.SellerID] = append(bySeller[entry.SellerID], entry)
	}

	groups := make([]SellerGroup, 0, len(order))
	for _, sellerID := range order {
		items := bySeller[sellerID]
		groups = append(groups, SellerGroup{
			SellerID:    sellerID,
			Items:       items,
			ItemsDigest: itemsDigest(items),
		})
	}
	return groups
}

// mergeGroupChoices carries delivery choices and quotes forward from prev
// into next for groups whose item set is unchanged. Groups whose digest
// changed keep their skeleton state and bump the generation so in-flight
// quote responses for the old item set are discarded on arrival.
func mergeGroupChoices(prev, next []SellerGroup) []SellerGroup {
	prevBySeller := make(map[string]SellerGroup, len(prev))
	for _, g := range prev {
		prevBySeller[g.SellerID] = g
	}
	for i := range next {
		old, ok := prevBySeller[next[i].SellerID]
		if !ok {
			continue
		}
		if old.ItemsDigest == next[i].ItemsDigest {
			items, digest := next[i].Items, next[i].ItemsDigest
			next[i] = old
			next[i].Items = items
			next[i].ItemsDigest = digest
			continue
		}
		next[i].Generation = old.Generation + 1
	}
	return next
}

// itemsDigest fingerprints the ordered SKU/count pairs of a group.
func itemsDigest(items []BasketEntry) string {
	h := fnv.New64a()
	for _, item := range items {
		fmt.Fprintf(h, "%s:%d;", item.SKU, item.Count)
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
