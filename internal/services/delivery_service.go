package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/tradeyard/checkout-api/internal/domain"
	"github.com/tradeyard/checkout-api/internal/shipping"
	"github.com/tradeyard/checkout-api/internal/shipping/points"
)

var (
	errDeliveryClockRequired  = errors.New("delivery service: clock is required")
	errDeliveryPointsRequired = errors.New("delivery service: point reconciler is required")
)

// ErrDeliveryInvalidInput indicates the caller supplied invalid input.
var ErrDeliveryInvalidInput = errors.New("delivery service: invalid input")

// ErrDeliveryUnavailable indicates the delivery service cannot fulfil the request.
var ErrDeliveryUnavailable = errors.New("delivery service: unavailable")

// ErrDeliveryGroupNotFound indicates no group exists for the given seller.
var ErrDeliveryGroupNotFound = errors.New("delivery service: group not found")

// ErrDeliveryOptionUnusable indicates the chosen carrier cannot serve the
// group's weight, size, or destination.
var ErrDeliveryOptionUnusable = errors.New("delivery service: option unusable")

// homeCountry is the regional express carrier's home region; destinations
// outside it carry the hand-delivery surcharge.
const homeCountry = "cz"

// DeliveryServiceDeps wires the quote collaborator and widget reconciler for
// delivery group operations.
type DeliveryServiceDeps struct {
	Quotes QuoteClient
	Points *points.Reconciler
	Clock  func() time.Time
	Logger func(context.Context, string, map[string]any)
}

type deliveryState struct {
	country string
	groups  []SellerGroup
}

type deliveryService struct {
	quotes QuoteClient
	points *points.Reconciler
	now    func() time.Time
	logger func(context.Context, string, map[string]any)

	// mu serialises group mutations; asynchronous quote responses are
	// merged under the same lock.
	mu    sync.Mutex
	state map[string]*deliveryState
}

// NewDeliveryService constructs a DeliveryService enforcing dependency validation.
func NewDeliveryService(deps DeliveryServiceDeps) (DeliveryService, error) {
	if deps.Points == nil {
		return nil, errDeliveryPointsRequired
	}
	if deps.Clock == nil {
		return nil, errDeliveryClockRequired
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	service := &deliveryService{
		quotes: deps.Quotes,
		points: deps.Points,
		now:    func() time.Time { return deps.Clock().UTC() },
		logger: logger,
		state:  make(map[string]*deliveryState),
	}
	return service, nil
}

// RecomputeGroups rebuilds the group list from the selected entries. Groups
// whose item set is unchanged keep their delivery choice and quote; changed
// or new groups are re-quoted from scratch.
func (s *deliveryService) RecomputeGroups(ctx context.Context, identityKey string, selected []BasketEntry, country string) ([]SellerGroup, error) {
	if s == nil {
		return nil, ErrDeliveryUnavailable
	}
	identityKey = strings.TrimSpace(identityKey)
	if identityKey == "" {
		return nil, ErrDeliveryInvalidInput
	}
	country = strings.ToLower(strings.TrimSpace(country))

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.state[identityKey]
	if !ok {
		st = &deliveryState{}
		s.state[identityKey] = st
	}
	countryChanged := country != st.country
	st.country = country

	next := mergeGroupChoices(st.groups, PartitionBySeller(selected))
	for i := range next {
		group := &next[i]
		if len(group.Candidates) > 0 && !countryChanged {
			// Unchanged group carried over by the merge; its quote is
			// still valid for the same destination.
			continue
		}
		if len(group.Candidates) > 0 {
			// Carried-over quote priced the previous destination.
			group.Generation++
		}
		s.quoteGroupLocked(ctx, identityKey, group, country, false)
		refreshChoice(group)
	}
	st.groups = next
	return cloneGroups(st.groups), nil
}

// refreshChoice re-reads a preserved delivery choice against a freshly quoted
// candidate list. A choice the new destination cannot serve is reset.
func refreshChoice(group *SellerGroup) {
	if !group.Complete || group.DeliveryType == domain.DeliveryTypeWarehousePickup {
		return
	}
	if candidate, ok := findCandidate(group.Candidates, group.CarrierID, group.DeliveryType); ok && !candidate.Undeliverable {
		group.DeliveryPrice = candidate.Price
		return
	}
	group.DeliveryType = ""
	group.CarrierID = ""
	group.PickupPointID = ""
	group.PickupAddress = nil
	group.DeliveryPrice = decimal.Zero
	group.Complete = false
}

// Groups returns the current group list for the identity.
func (s *deliveryService) Groups(_ context.Context, identityKey string) ([]SellerGroup, error) {
	if s == nil {
		return nil, ErrDeliveryUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.state[identityKey]
	if !ok {
		return nil, nil
	}
	return cloneGroups(st.groups), nil
}

// SetDeliveryType records the chosen option for one group and marks it
// complete.
func (s *deliveryService) SetDeliveryType(ctx context.Context, cmd SetDeliveryTypeCommand) (SellerGroup, error) {
	if s == nil {
		return SellerGroup{}, ErrDeliveryUnavailable
	}
	switch cmd.Type {
	case domain.DeliveryTypeWarehousePickup, domain.DeliveryTypeHomeDelivery, domain.DeliveryTypeDeliveryPoint:
	default:
		return SellerGroup{}, ErrDeliveryInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	group, err := s.groupLocked(cmd.IdentityKey, cmd.SellerID)
	if err != nil {
		return SellerGroup{}, err
	}

	if cmd.Type == domain.DeliveryTypeWarehousePickup {
		group.DeliveryType = cmd.Type
		group.CarrierID = ""
		group.DeliveryPrice = decimal.Zero
		group.PriceUnavailable = false
		group.Complete = true
		return *group, nil
	}

	candidate, ok := findCandidate(group.Candidates, cmd.CarrierID, cmd.Type)
	if !ok {
		return SellerGroup{}, ErrDeliveryInvalidInput
	}
	if candidate.Undeliverable {
		return SellerGroup{}, ErrDeliveryOptionUnusable
	}

	group.DeliveryType = cmd.Type
	group.CarrierID = cmd.CarrierID
	group.DeliveryPrice = candidate.Price
	group.Complete = true
	s.logger(ctx, "delivery.type_set", map[string]any{
		"seller_id": cmd.SellerID,
		"type":      string(cmd.Type),
		"carrier":   cmd.CarrierID,
	})
	return *group, nil
}

// ApplyPickupPointSelection patches one group with a widget selection. A
// selection implying a different destination country than the checkout's
// triggers a change-scoped re-quote for that group alone.
func (s *deliveryService) ApplyPickupPointSelection(ctx context.Context, identityKey string, sel PickupPointSelection, checkoutCountry string) (SellerGroup, error) {
	if s == nil {
		return SellerGroup{}, ErrDeliveryUnavailable
	}
	if strings.TrimSpace(sel.SellerID) == "" || strings.TrimSpace(sel.PickupPointID) == "" {
		return SellerGroup{}, ErrDeliveryInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.state[identityKey]
	if !ok {
		return SellerGroup{}, ErrDeliveryGroupNotFound
	}
	group, err := s.groupLocked(identityKey, sel.SellerID)
	if err != nil {
		return SellerGroup{}, err
	}

	group.DeliveryType = domain.DeliveryTypeDeliveryPoint
	group.CarrierID = sel.CarrierID
	group.PickupPointID = sel.PickupPointID
	group.PickupAddress = &Address{
		Street:  sel.Street,
		City:    sel.City,
		Zip:     sel.Zip,
		Country: sel.Country,
	}

	// The country the service recorded for this checkout is authoritative;
	// callers relaying the widget event cannot suppress the re-quote by
	// echoing the selection's own country.
	recorded := st.country
	if recorded == "" {
		recorded = strings.ToLower(strings.TrimSpace(checkoutCountry))
	}
	selCountry := strings.ToLower(strings.TrimSpace(sel.Country))
	if selCountry != "" && selCountry != recorded {
		// Destination changed; price options for this one group again
		// without touching the others.
		group.Generation++
		s.quoteGroupLocked(ctx, identityKey, group, selCountry, true)
	}
	if candidate, ok := findCandidate(group.Candidates, sel.CarrierID, domain.DeliveryTypeDeliveryPoint); ok && !candidate.Undeliverable {
		group.DeliveryPrice = candidate.Price
	}
	group.Complete = true
	return *group, nil
}

// RetryQuote re-requests pricing for a group whose last quote failed.
func (s *deliveryService) RetryQuote(ctx context.Context, identityKey, sellerID string) error {
	if s == nil {
		return ErrDeliveryUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.state[identityKey]
	if !ok {
		return ErrDeliveryGroupNotFound
	}
	group, err := s.groupLocked(identityKey, sellerID)
	if err != nil {
		return err
	}
	group.Generation++
	group.PriceUnavailable = false
	s.quoteGroupLocked(ctx, identityKey, group, st.country, true)
	return nil
}

// AllComplete reports whether every group has a delivery choice.
func (s *deliveryService) AllComplete(_ context.Context, identityKey string) (bool, error) {
	if s == nil {
		return false, ErrDeliveryUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.state[identityKey]
	if !ok || len(st.groups) == 0 {
		return false, nil
	}
	for _, g := range st.groups {
		if !g.Complete {
			return false, nil
		}
	}
	return true, nil
}

// DeliveryTotal sums the chosen delivery prices across complete groups.
func (s *deliveryService) DeliveryTotal(_ context.Context, identityKey string) (decimal.Decimal, error) {
	if s == nil {
		return decimal.Zero, ErrDeliveryUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	total := decimal.Zero
	st, ok := s.state[identityKey]
	if !ok {
		return total, nil
	}
	for _, g := range st.groups {
		if g.Complete {
			total = total.Add(g.DeliveryPrice)
		}
	}
	return total, nil
}

// Clear drops all group state for the identity.
func (s *deliveryService) Clear(_ context.Context, identityKey string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	delete(s.state, identityKey)
	s.mu.Unlock()
}

// quoteGroupLocked fills the group's local candidate list and, when a quote
// collaborator is configured, fires an asynchronous external quote request.
// Callers must hold s.mu.
func (s *deliveryService) quoteGroupLocked(ctx context.Context, identityKey string, group *SellerGroup, country string, changeOnly bool) {
	group.Candidates = s.localCandidates(group.Items, country)
	group.PriceUnavailable = false

	if s.quotes == nil {
		return
	}
	req := QuoteRequest{
		SellerID:           group.SellerID,
		DestinationCountry: country,
		Items:              quoteItems(group.Items),
		ChangeOnly:         changeOnly,
		Generation:         group.Generation,
	}
	go s.requestQuote(context.WithoutCancel(ctx), identityKey, req)
}

// requestQuote runs in its own goroutine; the response is merged back under
// the lock with a stale guard.
func (s *deliveryService) requestQuote(ctx context.Context, identityKey string, req QuoteRequest) {
	resp, err := s.quotes.RequestQuotes(ctx, req)
	if err != nil {
		s.mu.Lock()
		if group, gerr := s.groupLocked(identityKey, req.SellerID); gerr == nil && group.Generation == req.Generation {
			group.PriceUnavailable = true
		}
		s.mu.Unlock()
		s.logger(ctx, "delivery.quote_failed", map[string]any{
			"seller_id": req.SellerID,
			"error":     err.Error(),
		})
		return
	}
	s.applyQuoteResponse(ctx, identityKey, resp)
}

// applyQuoteResponse merges an external quote into the matching group. The
// response is discarded when the group no longer exists or its item set has
// changed since the request was issued.
func (s *deliveryService) applyQuoteResponse(ctx context.Context, identityKey string, resp QuoteResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()

	group, err := s.groupLocked(identityKey, resp.SellerID)
	if err != nil {
		s.logger(ctx, "delivery.quote_stale", map[string]any{"seller_id": resp.SellerID, "reason": "group gone"})
		return
	}
	if group.Generation != resp.Generation {
		s.logger(ctx, "delivery.quote_stale", map[string]any{"seller_id": resp.SellerID, "reason": "generation mismatch"})
		return
	}
	if len(resp.Options) == 0 {
		return
	}

	// The collaborator is the authority for non-local carriers; keep the
	// free warehouse pickup option alongside its options.
	merged := []DeliveryOption{{Type: domain.DeliveryTypeWarehousePickup, Price: decimal.Zero}}
	merged = append(merged, resp.Options...)
	group.Candidates = merged
	group.PriceUnavailable = false
	if group.Complete && group.CarrierID != "" {
		if candidate, ok := findCandidate(group.Candidates, group.CarrierID, group.DeliveryType); ok && !candidate.Undeliverable {
			group.DeliveryPrice = candidate.Price
		}
	}
}

// localCandidates prices the group with the built-in carrier tables plus the
// free warehouse pickup option.
func (s *deliveryService) localCandidates(items []BasketEntry, country string) []DeliveryOption {
	weight := 0.0
	dims := make([]Dimensions, 0, len(items))
	for _, item := range items {
		weight += item.Product.WeightKg * float64(item.Count)
		dims = append(dims, item.Product.Dimensions)
	}
	class := shipping.ClassifyBox(dims)
	handDelivery := country != "" && country != homeCountry

	candidates := []DeliveryOption{
		{Type: domain.DeliveryTypeWarehousePickup, Price: decimal.Zero},
	}
	candidates = append(candidates, optionFromQuote(
		shipping.CarrierRegionalExpress, domain.DeliveryTypeHomeDelivery,
		shipping.QuoteRegionalExpress(weight, class, handDelivery)))
	candidates = append(candidates, optionFromQuote(
		shipping.CarrierGlobalLogistics, domain.DeliveryTypeHomeDelivery,
		shipping.QuoteGlobalLogistics(weight)))
	candidates = append(candidates, optionFromQuote(
		shipping.CarrierParcelNetwork, domain.DeliveryTypeDeliveryPoint,
		shipping.QuoteParcelNetwork(weight)))

	// Delivery-point choices only make sense where the carrier's widget
	// serves the destination.
	for i := range candidates {
		c := &candidates[i]
		if c.Type == domain.DeliveryTypeDeliveryPoint && !c.Undeliverable && country != "" {
			if !s.points.Allowed(c.CarrierID, country) {
				c.Undeliverable = true
				c.Reason = "no pickup points in destination country"
			}
		}
	}
	return candidates
}

func (s *deliveryService) groupLocked(identityKey, sellerID string) (*SellerGroup, error) {
	st, ok := s.state[identityKey]
	if !ok {
		return nil, ErrDeliveryGroupNotFound
	}
	for i := range st.groups {
		if st.groups[i].SellerID == sellerID {
			return &st.groups[i], nil
		}
	}
	return nil, ErrDeliveryGroupNotFound
}

func optionFromQuote(carrierID string, t DeliveryType, q shipping.Quote) DeliveryOption {
	return DeliveryOption{
		CarrierID:     carrierID,
		Type:          t,
		Price:         q.Price,
		Undeliverable: q.Undeliverable,
		Reason:        q.Reason,
	}
}

func findCandidate(candidates []DeliveryOption, carrierID string, t DeliveryType) (DeliveryOption, bool) {
	for _, c := range candidates {
		if c.CarrierID == carrierID && c.Type == t {
			return c, true
		}
	}
	return DeliveryOption{}, false
}

func quoteItems(items []BasketEntry) []QuoteItem {
	out := make([]QuoteItem, 0, len(items))
	for _, item := range items {
		out = append(out, QuoteItem{SKU: item.SKU, Quantity: item.Count})
	}
	return out
}

func cloneGroups(groups []SellerGroup) []SellerGroup {
	out := make([]SellerGroup, len(groups))
	copy(out, groups)
	for i := range out {
		out[i].Items = append([]BasketEntry(nil), groups[i].Items...)
		out[i].Candidates = append([]DeliveryOption(nil), groups[i].Candidates...)
		if groups[i].PickupAddress != nil {
			addr := *groups[i].PickupAddress
			out[i].PickupAddress = &addr
		}
	}
	return out
}
