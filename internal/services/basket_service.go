package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/tradeyard/checkout-api/internal/domain"
	"github.com/tradeyard/checkout-api/internal/platform/kvstore"
)

var (
	errBasketStoreRequired   = errors.New("basket service: store is required")
	errBasketCatalogRequired = errors.New("basket service: catalog client is required")
	errBasketClockRequired   = errors.New("basket service: clock is required")
)

// ErrBasketInvalidInput indicates the caller supplied invalid input.
var ErrBasketInvalidInput = errors.New("basket service: invalid input")

// ErrBasketUnavailable indicates the basket service cannot fulfil the request due to missing dependencies or backend issues.
var ErrBasketUnavailable = errors.New("basket service: unavailable")

// ErrBasketCapacity indicates the basket already holds the maximum number of distinct SKUs.
var ErrBasketCapacity = errors.New("basket service: capacity exceeded")

// ErrBasketEntryNotFound indicates the requested SKU is not in the basket.
var ErrBasketEntryNotFound = errors.New("basket service: entry not found")

// AnonymousIdentity keys the basket used before sign-in.
const AnonymousIdentity = "anonymous"

// BasketServiceDeps wires the persistence and catalog dependencies for basket operations.
type BasketServiceDeps struct {
	Store   kvstore.Store
	Catalog CatalogClient
	Events  CheckoutEventPublisher
	Clock   func() time.Time
	Logger  func(context.Context, string, map[string]any)
}

type basketService struct {
	store   kvstore.Store
	catalog CatalogClient
	events  CheckoutEventPublisher
	now     func() time.Time
	logger  func(context.Context, string, map[string]any)

	// mu serialises all basket mutations; no two may interleave on the
	// same registry entry.
	mu sync.Mutex
	// running holds the incrementally maintained selected subtotal per
	// identity, reconciled against a full recompute after every mutation.
	running map[string]decimal.Decimal
}

// NewBasketService constructs a BasketService enforcing dependency validation.
func NewBasketService(deps BasketServiceDeps) (BasketService, error) {
	if deps.Store == nil {
		return nil, errBasketStoreRequired
	}
	if deps.Catalog == nil {
		return nil, errBasketCatalogRequired
	}
	if deps.Clock == nil {
		return nil, errBasketClockRequired
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	service := &basketService{
		store:   deps.Store,
		catalog: deps.Catalog,
		events:  deps.Events,
		now:     func() time.Time { return deps.Clock().UTC() },
		logger:  logger,
		running: make(map[string]decimal.Decimal),
	}
	return service, nil
}

// ActiveBasket loads the basket for the active identity, creating an empty
// one when absent.
func (s *basketService) ActiveBasket(ctx context.Context) (Basket, error) {
	if s == nil || s.store == nil {
		return Basket{}, ErrBasketUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	basket, err := s.loadActive(ctx)
	if err != nil {
		return Basket{}, err
	}
	return cloneBasket(basket), nil
}

// AddEntry snapshots the variant from the catalog and appends it. Adding an
// existing SKU is a no-op; it neither duplicates the line nor changes its count.
func (s *basketService) AddEntry(ctx context.Context, cmd AddEntryCommand) (Basket, error) {
	if s == nil || s.store == nil {
		return Basket{}, ErrBasketUnavailable
	}
	sku := strings.TrimSpace(cmd.SKU)
	if sku == "" {
		return Basket{}, ErrBasketInvalidInput
	}
	count := cmd.Count
	if count == 0 {
		count = 1
	}
	if count < 0 {
		return Basket{}, ErrBasketInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	basket, err := s.loadActive(ctx)
	if err != nil {
		return Basket{}, err
	}
	if idx := entryIndex(basket.Entries, sku); idx >= 0 {
		return cloneBasket(basket), nil
	}
	if len(basket.Entries) >= domain.MaxBasketEntries {
		return Basket{}, ErrBasketCapacity
	}

	variant, err := s.catalog.Variant(ctx, sku)
	if err != nil {
		return Basket{}, err
	}

	entry := BasketEntry{
		SKU:       sku,
		ProductID: variant.ProductID,
		SellerID:  variant.SellerID,
		Product: ProductSnapshot{
			Name:          variant.Name,
			UnitPrice:     variant.UnitPrice,
			Dimensions:    variant.Dimensions,
			WeightKg:      variant.WeightKg,
			AgeRestricted: variant.AgeRestricted,
		},
		Count:    count,
		Selected: true,
		AddedAt:  s.now(),
	}
	basket.Entries = append(basket.Entries, entry)
	s.adjustRunning(basket.IdentityKey, entry.LineTotal())

	if err := s.saveBasket(ctx, basket); err != nil {
		return Basket{}, err
	}
	s.reconcileRunning(ctx, basket)
	s.logger(ctx, "basket.entry_added", map[string]any{"sku": sku, "seller_id": variant.SellerID})
	return cloneBasket(basket), nil
}

// SetCount updates a line's quantity. Zero removes the line; negative counts
// are rejected.
func (s *basketService) SetCount(ctx context.Context, sku string, count int) (Basket, error) {
	if s == nil || s.store == nil {
		return Basket{}, ErrBasketUnavailable
	}
	sku = strings.TrimSpace(sku)
	if sku == "" || count < 0 {
		return Basket{}, ErrBasketInvalidInput
	}
	if count == 0 {
		return s.RemoveEntry(ctx, sku)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	basket, err := s.loadActive(ctx)
	if err != nil {
		return Basket{}, err
	}
	idx := entryIndex(basket.Entries, sku)
	if idx < 0 {
		return Basket{}, ErrBasketEntryNotFound
	}

	entry := &basket.Entries[idx]
	if entry.Selected {
		delta := decimal.NewFromInt(int64(count - entry.Count)).Mul(entry.Product.UnitPrice)
		s.adjustRunning(basket.IdentityKey, delta)
	}
	entry.Count = count
	now := s.now()
	entry.UpdatedAt = &now

	if err := s.saveBasket(ctx, basket); err != nil {
		return Basket{}, err
	}
	s.reconcileRunning(ctx, basket)
	return cloneBasket(basket), nil
}

// RemoveEntry deletes a line from the basket.
func (s *basketService) RemoveEntry(ctx context.Context, sku string) (Basket, error) {
	if s == nil || s.store == nil {
		return Basket{}, ErrBasketUnavailable
	}
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return Basket{}, ErrBasketInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	basket, err := s.loadActive(ctx)
	if err != nil {
		return Basket{}, err
	}
	idx := entryIndex(basket.Entries, sku)
	if idx < 0 {
		return Basket{}, ErrBasketEntryNotFound
	}

	entry := basket.Entries[idx]
	if entry.Selected {
		s.adjustRunning(basket.IdentityKey, entry.LineTotal().Neg())
	}
	basket.Entries = append(basket.Entries[:idx], basket.Entries[idx+1:]...)

	if err := s.saveBasket(ctx, basket); err != nil {
		return Basket{}, err
	}
	s.reconcileRunning(ctx, basket)
	return cloneBasket(basket), nil
}

// SetSelected toggles whether a line participates in the active checkout run.
func (s *basketService) SetSelected(ctx context.Context, sku string, selected bool) (Basket, error) {
	if s == nil || s.store == nil {
		return Basket{}, ErrBasketUnavailable
	}
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return Basket{}, ErrBasketInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	basket, err := s.loadActive(ctx)
	if err != nil {
		return Basket{}, err
	}
	idx := entryIndex(basket.Entries, sku)
	if idx < 0 {
		return Basket{}, ErrBasketEntryNotFound
	}

	entry := &basket.Entries[idx]
	if entry.Selected != selected {
		delta := entry.LineTotal()
		if !selected {
			delta = delta.Neg()
		}
		s.adjustRunning(basket.IdentityKey, delta)
		entry.Selected = selected
	}

	if err := s.saveBasket(ctx, basket); err != nil {
		return Basket{}, err
	}
	s.reconcileRunning(ctx, basket)
	return cloneBasket(basket), nil
}

// SelectAll marks every line for purchase.
func (s *basketService) SelectAll(ctx context.Context) (Basket, error) {
	return s.setAll(ctx, true)
}

// DeselectAll clears the purchase flag on every line. The selected subtotal
// returns to exactly zero.
func (s *basketService) DeselectAll(ctx context.Context) (Basket, error) {
	return s.setAll(ctx, false)
}

func (s *basketService) setAll(ctx context.Context, selected bool) (Basket, error) {
	if s == nil || s.store == nil {
		return Basket{}, ErrBasketUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	basket, err := s.loadActive(ctx)
	if err != nil {
		return Basket{}, err
	}
	for i := range basket.Entries {
		basket.Entries[i].Selected = selected
	}
	if selected {
		s.running[basket.IdentityKey] = domain.SumLineTotals(basket.Entries)
	} else {
		s.running[basket.IdentityKey] = decimal.Zero
	}

	if err := s.saveBasket(ctx, basket); err != nil {
		return Basket{}, err
	}
	s.reconcileRunning(ctx, basket)
	return cloneBasket(basket), nil
}

// SelectedSubtotal returns the running selected-item subtotal for the active
// identity.
func (s *basketService) SelectedSubtotal(ctx context.Context) (decimal.Decimal, error) {
	if s == nil || s.store == nil {
		return decimal.Zero, ErrBasketUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	basket, err := s.loadActive(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	total, ok := s.running[basket.IdentityKey]
	if !ok {
		total = domain.SumLineTotals(domain.SelectedEntries(basket.Entries))
		s.running[basket.IdentityKey] = total
	}
	return domain.ClampTotal(total), nil
}

// SignIn merges the anonymous basket into the identity's stored basket and
// makes the identity active. On SKU collision the stored entry wins; entries
// beyond capacity are dropped and reported.
func (s *basketService) SignIn(ctx context.Context, identityKey string) (Basket, MergeReport, error) {
	if s == nil || s.store == nil {
		return Basket{}, MergeReport{}, ErrBasketUnavailable
	}
	identityKey = strings.TrimSpace(identityKey)
	if identityKey == "" || identityKey == AnonymousIdentity {
		return Basket{}, MergeReport{}, ErrBasketInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.loadBasket(ctx, identityKey)
	if err != nil {
		return Basket{}, MergeReport{}, err
	}
	anon, err := s.loadBasket(ctx, AnonymousIdentity)
	if err != nil {
		return Basket{}, MergeReport{}, err
	}

	report := MergeReport{}
	merged := stored
	for _, entry := range anon.Entries {
		if entryIndex(merged.Entries, entry.SKU) >= 0 {
			continue
		}
		if len(merged.Entries) >= domain.MaxBasketEntries {
			report.Dropped = append(report.Dropped, entry.SKU)
			continue
		}
		merged.Entries = append(merged.Entries, entry)
		report.Merged++
	}
	report.Kept = len(merged.Entries)
	merged.UpdatedAt = s.now()

	if err := s.saveBasket(ctx, merged); err != nil {
		return Basket{}, MergeReport{}, err
	}
	if err := s.store.Remove(ctx, kvstore.KeyRegistryPrefix+AnonymousIdentity); err != nil {
		return Basket{}, MergeReport{}, err
	}
	if err := s.store.Set(ctx, kvstore.KeyActiveBasket, identityKey); err != nil {
		return Basket{}, MergeReport{}, err
	}
	delete(s.running, AnonymousIdentity)
	s.running[merged.IdentityKey] = domain.SumLineTotals(domain.SelectedEntries(merged.Entries))

	s.logger(ctx, "basket.merged", map[string]any{
		"identity": identityKey,
		"merged":   report.Merged,
		"kept":     report.Kept,
		"dropped":  len(report.Dropped),
	})
	return cloneBasket(merged), report, nil
}

// SignOut switches the active identity back to anonymous. The signed-in
// identity's basket stays in the registry for the next sign-in.
func (s *basketService) SignOut(ctx context.Context) (Basket, error) {
	if s == nil || s.store == nil {
		return Basket{}, ErrBasketUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Set(ctx, kvstore.KeyActiveBasket, AnonymousIdentity); err != nil {
		return Basket{}, err
	}
	basket, err := s.loadBasket(ctx, AnonymousIdentity)
	if err != nil {
		return Basket{}, err
	}
	return cloneBasket(basket), nil
}

// ClearPurchased removes the entries that were just paid for; unselected
// entries remain for a future checkout.
func (s *basketService) ClearPurchased(ctx context.Context) (Basket, error) {
	if s == nil || s.store == nil {
		return Basket{}, ErrBasketUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	basket, err := s.loadActive(ctx)
	if err != nil {
		return Basket{}, err
	}

	var removed []string
	kept := basket.Entries[:0]
	for _, entry := range basket.Entries {
		if entry.Selected {
			removed = append(removed, entry.SKU)
			continue
		}
		kept = append(kept, entry)
	}
	basket.Entries = kept
	s.running[basket.IdentityKey] = decimal.Zero

	if err := s.saveBasket(ctx, basket); err != nil {
		return Basket{}, err
	}
	if s.events != nil && len(removed) > 0 {
		if err := s.events.PublishBasketCleared(ctx, BasketClearedEvent{
			IdentityKey: basket.IdentityKey,
			RemovedSKUs: removed,
		}); err != nil {
			s.logger(ctx, "basket.clear_event_failed", map[string]any{"error": err.Error()})
		}
	}
	return cloneBasket(basket), nil
}

// loadActive resolves the active identity key and loads its basket. Callers
// must hold s.mu.
func (s *basketService) loadActive(ctx context.Context) (Basket, error) {
	var identity string
	found, err := s.store.Get(ctx, kvstore.KeyActiveBasket, &identity)
	if err != nil {
		return Basket{}, err
	}
	if !found || strings.TrimSpace(identity) == "" {
		identity = AnonymousIdentity
	}
	return s.loadBasket(ctx, identity)
}

func (s *basketService) loadBasket(ctx context.Context, identityKey string) (Basket, error) {
	var basket Basket
	found, err := s.store.Get(ctx, kvstore.KeyRegistryPrefix+identityKey, &basket)
	if err != nil {
		return Basket{}, err
	}
	if !found {
		return Basket{IdentityKey: identityKey, UpdatedAt: s.now()}, nil
	}
	basket.IdentityKey = identityKey
	return basket, nil
}

func (s *basketService) saveBasket(ctx context.Context, basket Basket) error {
	basket.UpdatedAt = s.now()
	return s.store.Set(ctx, kvstore.KeyRegistryPrefix+basket.IdentityKey, basket)
}

func (s *basketService) adjustRunning(identityKey string, delta decimal.Decimal) {
	s.running[identityKey] = s.running[identityKey].Add(delta)
}

// reconcileRunning verifies the incremental subtotal against a full recompute
// and snaps to the recomputed value when they diverge. Divergence indicates a
// bookkeeping bug, so it is logged.
func (s *basketService) reconcileRunning(ctx context.Context, basket Basket) {
	expected := domain.SumLineTotals(domain.SelectedEntries(basket.Entries))
	got := s.running[basket.IdentityKey]
	if got.Sub(expected).Abs().GreaterThan(decimal.NewFromFloat(0.005)) {
		s.logger(ctx, "basket.subtotal_drift", map[string]any{
			"identity": basket.IdentityKey,
			"running":  got.String(),
			"expected": expected.String(),
		})
	}
	s.running[basket.IdentityKey] = expected
}

func entryIndex(entries []BasketEntry, sku string) int {
	for i, e := range entries {
		if e.SKU == sku {
			return i
		}
	}
	return -1
}

func cloneBasket(b Basket) Basket {
	out := b
	out.Entries = append([]BasketEntry(nil), b.Entries...)
	return out
}
