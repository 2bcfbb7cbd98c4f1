package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/tradeyard/checkout-api/internal/domain"
	"github.com/tradeyard/checkout-api/internal/payments"
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
	// ErrCheckoutSessionNotFound indicates no session exists for the given id.
	ErrCheckoutSessionNotFound = errors.New("checkout: session not found")
	// ErrCheckoutNoSelection indicates checkout cannot begin with nothing selected.
	ErrCheckoutNoSelection = errors.New("checkout: no entries selected")
	// ErrCheckoutWrongStage indicates the operation is not valid for the session's current stage.
	ErrCheckoutWrongStage = errors.New("checkout: wrong stage")
	// ErrCheckoutGroupsIncomplete indicates at least one seller group has no delivery choice yet.
	ErrCheckoutGroupsIncomplete = errors.New("checkout: delivery groups incomplete")
	// ErrCheckoutTermsRequired indicates the terms were not accepted.
	ErrCheckoutTermsRequired = errors.New("checkout: terms acceptance required")
	// ErrCheckoutAgeConfirmationRequired indicates an age-restricted item needs explicit confirmation.
	ErrCheckoutAgeConfirmationRequired = errors.New("checkout: age confirmation required")
	// ErrCheckoutPaymentFailed indicates the PSP session could not be created.
	ErrCheckoutPaymentFailed = errors.New("checkout: payment failed")
)

var (
	errCheckoutBasketRequired     = errors.New("checkout: basket service is required")
	errCheckoutDeliveryRequired   = errors.New("checkout: delivery service is required")
	errCheckoutAggregatorRequired = errors.New("checkout: price aggregator is required")
	errCheckoutClockRequired      = errors.New("checkout: clock is required")
)

// checkoutSessionManager abstracts payments.Manager for easier testing.
type checkoutSessionManager interface {
	CreateCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Basket      BasketService
	Delivery    DeliveryService
	Aggregator  *PriceAggregator
	Payments    checkoutSessionManager
	Events      CheckoutEventPublisher
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
	IDGenerator func() string
	Currency    string
	SuccessURL  string
	CancelURL   string
}

type checkoutService struct {
	basket     BasketService
	delivery   DeliveryService
	aggregator *PriceAggregator
	payments   checkoutSessionManager
	events     CheckoutEventPublisher
	now        func() time.Time
	logger     func(ctx context.Context, event string, fields map[string]any)
	newID      func() string
	currency   string
	successURL string
	cancelURL  string

	// mu guards the transient session map; sessions do not outlive the
	// process.
	mu       sync.Mutex
	sessions map[string]*CheckoutSession
}

// NewCheckoutService constructs a CheckoutService enforcing dependency validation.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Basket == nil {
		return nil, errCheckoutBasketRequired
	}
	if deps.Delivery == nil {
		return nil, errCheckoutDeliveryRequired
	}
	if deps.Aggregator == nil {
		return nil, errCheckoutAggregatorRequired
	}
	if deps.Clock == nil {
		return nil, errCheckoutClockRequired
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "CZK"
	}

	service := &checkoutService{
		basket:     deps.Basket,
		delivery:   deps.Delivery,
		aggregator: deps.Aggregator,
		payments:   deps.Payments,
		events:     deps.Events,
		now:        func() time.Time { return deps.Clock().UTC() },
		logger:     logger,
		newID:      idGen,
		currency:   currency,
		successURL: deps.SuccessURL,
		cancelURL:  deps.CancelURL,
		sessions:   make(map[string]*CheckoutSession),
	}
	return service, nil
}

// Begin opens a session at the information stage. At least one basket entry
// must be selected.
func (s *checkoutService) Begin(ctx context.Context, identityKey string) (CheckoutSession, error) {
	if s == nil || s.basket == nil {
		return CheckoutSession{}, ErrCheckoutUnavailable
	}
	identityKey = strings.TrimSpace(identityKey)
	if identityKey == "" {
		return CheckoutSession{}, ErrCheckoutInvalidInput
	}

	basket, err := s.basket.ActiveBasket(ctx)
	if err != nil {
		return CheckoutSession{}, err
	}
	selected := domain.SelectedEntries(basket.Entries)
	if len(selected) == 0 {
		return CheckoutSession{}, ErrCheckoutNoSelection
	}

	now := s.now()
	session := &CheckoutSession{
		ID:          s.newID(),
		IdentityKey: identityKey,
		Stage:       domain.StageInformation,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	if _, err := s.aggregator.Recompute(ctx, basket.Entries, decimal.Zero, session.Stage); err != nil {
		return CheckoutSession{}, err
	}
	s.logger(ctx, "checkout.started", map[string]any{"session_id": session.ID, "entries": len(selected)})
	return *session, nil
}

// Session returns the current session state.
func (s *checkoutService) Session(_ context.Context, sessionID string) (CheckoutSession, error) {
	if s == nil {
		return CheckoutSession{}, ErrCheckoutUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return CheckoutSession{}, ErrCheckoutSessionNotFound
	}
	return *session, nil
}

// SubmitInformation validates the contact form and advances to the delivery
// stage, building the seller groups for the selected entries.
func (s *checkoutService) SubmitInformation(ctx context.Context, cmd SubmitInformationCommand) (CheckoutSession, error) {
	if s == nil {
		return CheckoutSession{}, ErrCheckoutUnavailable
	}
	session, err := s.Session(ctx, cmd.SessionID)
	if err != nil {
		return CheckoutSession{}, err
	}

	contact := sanitizeContact(cmd.Contact)
	country := strings.ToLower(strings.TrimSpace(cmd.Country))
	if verr := validateContact(contact, country); verr != nil {
		return CheckoutSession{}, verr
	}

	basket, err := s.basket.ActiveBasket(ctx)
	if err != nil {
		return CheckoutSession{}, err
	}
	selected := domain.SelectedEntries(basket.Entries)
	if len(selected) == 0 {
		return CheckoutSession{}, ErrCheckoutNoSelection
	}
	if _, err := s.delivery.RecomputeGroups(ctx, session.IdentityKey, selected, country); err != nil {
		return CheckoutSession{}, err
	}

	s.mu.Lock()
	stored, ok := s.sessions[cmd.SessionID]
	if !ok {
		s.mu.Unlock()
		return CheckoutSession{}, ErrCheckoutSessionNotFound
	}
	stored.Contact = contact
	stored.Country = country
	if stored.Stage < domain.StageDelivery {
		stored.Stage = domain.StageDelivery
	}
	stored.UpdatedAt = s.now()
	session = *stored
	s.mu.Unlock()

	if err := s.recomputeTotals(ctx, session); err != nil {
		return CheckoutSession{}, err
	}
	return session, nil
}

// AdvanceToPayment moves from the delivery stage to payment. Every seller
// group must have a delivery choice.
func (s *checkoutService) AdvanceToPayment(ctx context.Context, sessionID string) (CheckoutSession, error) {
	if s == nil {
		return CheckoutSession{}, ErrCheckoutUnavailable
	}
	session, err := s.Session(ctx, sessionID)
	if err != nil {
		return CheckoutSession{}, err
	}
	if session.Stage != domain.StageDelivery {
		return CheckoutSession{}, ErrCheckoutWrongStage
	}

	complete, err := s.delivery.AllComplete(ctx, session.IdentityKey)
	if err != nil {
		return CheckoutSession{}, err
	}
	if !complete {
		return CheckoutSession{}, ErrCheckoutGroupsIncomplete
	}

	s.mu.Lock()
	stored, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return CheckoutSession{}, ErrCheckoutSessionNotFound
	}
	stored.Stage = domain.StagePayment
	stored.UpdatedAt = s.now()
	session = *stored
	s.mu.Unlock()

	if err := s.recomputeTotals(ctx, session); err != nil {
		return CheckoutSession{}, err
	}
	return session, nil
}

// StepBack moves one stage backwards without clearing entered data. Stepping
// back from the information stage returns to the basket and ends the session.
func (s *checkoutService) StepBack(ctx context.Context, sessionID string) (CheckoutSession, error) {
	if s == nil {
		return CheckoutSession{}, ErrCheckoutUnavailable
	}
	s.mu.Lock()
	stored, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return CheckoutSession{}, ErrCheckoutSessionNotFound
	}
	switch stored.Stage {
	case domain.StagePayment:
		stored.Stage = domain.StageDelivery
	case domain.StageDelivery:
		stored.Stage = domain.StageInformation
	case domain.StageInformation:
		stored.Stage = domain.StageBasket
		delete(s.sessions, sessionID)
	}
	stored.UpdatedAt = s.now()
	session := *stored
	s.mu.Unlock()

	if session.Stage == domain.StageBasket {
		s.delivery.Clear(ctx, session.IdentityKey)
	}
	return session, nil
}

// Summary recomputes the totals for the session's current stage.
func (s *checkoutService) Summary(ctx context.Context, sessionID string) (PriceSummary, error) {
	if s == nil {
		return PriceSummary{}, ErrCheckoutUnavailable
	}
	session, err := s.Session(ctx, sessionID)
	if err != nil {
		return PriceSummary{}, err
	}
	return s.summarize(ctx, session)
}

// Confirm validates the payment-stage confirmations, shapes the order for
// the payment provider, and requests the redirect session. On success the
// purchased entries are cleared and the session destroyed; on provider
// failure the session stays at the payment stage.
func (s *checkoutService) Confirm(ctx context.Context, cmd ConfirmCheckoutCommand) (PaymentHandoff, error) {
	if s == nil {
		return PaymentHandoff{}, ErrCheckoutUnavailable
	}
	if s.payments == nil {
		return PaymentHandoff{}, ErrCheckoutUnavailable
	}
	session, err := s.Session(ctx, cmd.SessionID)
	if err != nil {
		return PaymentHandoff{}, err
	}
	if session.Stage != domain.StagePayment {
		return PaymentHandoff{}, ErrCheckoutWrongStage
	}
	if !cmd.TermsAccepted {
		return PaymentHandoff{}, ErrCheckoutTermsRequired
	}

	basket, err := s.basket.ActiveBasket(ctx)
	if err != nil {
		return PaymentHandoff{}, err
	}
	selected := domain.SelectedEntries(basket.Entries)
	if len(selected) == 0 {
		return PaymentHandoff{}, ErrCheckoutNoSelection
	}
	if hasAgeRestricted(selected) && !cmd.AgeConfirmed {
		return PaymentHandoff{}, ErrCheckoutAgeConfirmationRequired
	}

	groups, err := s.delivery.Groups(ctx, session.IdentityKey)
	if err != nil {
		return PaymentHandoff{}, err
	}
	summary, err := s.summarize(ctx, session)
	if err != nil {
		return PaymentHandoff{}, err
	}

	req := payments.CheckoutSessionRequest{
		Amount:   minorUnits(summary.GrandTotal),
		Currency: s.currency,
		Customer: payments.Customer{
			Email:     session.Contact.Email,
			FirstName: session.Contact.FirstName,
			LastName:  session.Contact.LastName,
			Phone:     session.Contact.Phone,
		},
		Groups:         shapeGroups(groups, session, s.currency),
		SuccessURL:     s.successURL,
		CancelURL:      s.cancelURL,
		Metadata:       map[string]string{"checkout_session": session.ID},
		IdempotencyKey: session.ID,
	}

	psp, err := s.payments.CreateCheckoutSession(ctx, payments.PaymentContext{Currency: s.currency}, req)
	if err != nil {
		s.logger(ctx, "checkout.payment_failed", map[string]any{
			"session_id": session.ID,
			"error":      err.Error(),
		})
		return PaymentHandoff{}, errors.Join(ErrCheckoutPaymentFailed, err)
	}

	if _, err := s.basket.ClearPurchased(ctx); err != nil {
		s.logger(ctx, "checkout.clear_failed", map[string]any{"session_id": session.ID, "error": err.Error()})
	}
	s.delivery.Clear(ctx, session.IdentityKey)
	s.mu.Lock()
	delete(s.sessions, session.ID)
	s.mu.Unlock()

	if s.events != nil {
		sellerIDs := make([]string, 0, len(groups))
		for _, g := range groups {
			sellerIDs = append(sellerIDs, g.SellerID)
		}
		if err := s.events.PublishCheckoutCompleted(ctx, CheckoutCompletedEvent{
			SessionID:   session.ID,
			IdentityKey: session.IdentityKey,
			GrandTotal:  summary.GrandTotal.String(),
			Currency:    s.currency,
			SellerIDs:   sellerIDs,
		}); err != nil {
			s.logger(ctx, "checkout.event_failed", map[string]any{"session_id": session.ID, "error": err.Error()})
		}
	}

	s.logger(ctx, "checkout.completed", map[string]any{
		"session_id":  session.ID,
		"psp_session": psp.ID,
		"grand_total": summary.GrandTotal.String(),
	})
	return PaymentHandoff{
		SessionID:   psp.ID,
		Provider:    psp.Provider,
		RedirectURL: psp.RedirectURL,
		ExpiresAt:   psp.ExpiresAt,
	}, nil
}

// Abandon ends the session and deselects all entries so a stale selection
// cannot leak into later browsing.
func (s *checkoutService) Abandon(ctx context.Context, sessionID string) error {
	if s == nil {
		return ErrCheckoutUnavailable
	}
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()
	if !ok {
		return ErrCheckoutSessionNotFound
	}

	s.delivery.Clear(ctx, session.IdentityKey)
	if _, err := s.basket.DeselectAll(ctx); err != nil {
		return err
	}
	s.logger(ctx, "checkout.abandoned", map[string]any{"session_id": sessionID})
	return nil
}

func (s *checkoutService) summarize(ctx context.Context, session CheckoutSession) (PriceSummary, error) {
	basket, err := s.basket.ActiveBasket(ctx)
	if err != nil {
		return PriceSummary{}, err
	}
	deliveryTotal, err := s.delivery.DeliveryTotal(ctx, session.IdentityKey)
	if err != nil {
		return PriceSummary{}, err
	}
	return s.aggregator.Recompute(ctx, basket.Entries, deliveryTotal, session.Stage)
}

func (s *checkoutService) recomputeTotals(ctx context.Context, session CheckoutSession) error {
	_, err := s.summarize(ctx, session)
	return err
}

func hasAgeRestricted(entries []BasketEntry) bool {
	for _, e := range entries {
		if e.Product.AgeRestricted {
			return true
		}
	}
	return false
}

// minorUnits converts a decimal major-unit amount to the currency's minor
// units, rounding half up.
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func shapeGroups(groups []SellerGroup, session CheckoutSession, currency string) []payments.SellerGroupPayload {
	out := make([]payments.SellerGroupPayload, 0, len(groups))
	for _, g := range groups {
		payload := payments.SellerGroupPayload{
			SellerID:       g.SellerID,
			DeliveryType:   string(g.DeliveryType),
			DeliveryAmount: minorUnits(g.DeliveryPrice),
		}
		switch g.DeliveryType {
		case domain.DeliveryTypeDeliveryPoint:
			payload.PickupPointID = g.PickupPointID
		case domain.DeliveryTypeHomeDelivery:
			payload.DeliveryAddress = &payments.Address{
				Street:  session.Contact.Street,
				City:    session.Contact.City,
				Zip:     session.Contact.Zip,
				Country: session.Country,
			}
		}
		for _, item := range g.Items {
			payload.Products = append(payload.Products, payments.LineItem{
				Name:     item.Product.Name,
				SKU:      item.SKU,
				Quantity: int64(item.Count),
				Amount:   minorUnits(item.Product.UnitPrice),
				Currency: currency,
			})
		}
		out = append(out, payload)
	}
	return out
}
