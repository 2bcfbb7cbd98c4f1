package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/tradeyard/checkout-api/internal/domain"
	"github.com/tradeyard/checkout-api/internal/payments"
	"github.com/tradeyard/checkout-api/internal/platform/kvstore"
	"github.com/tradeyard/checkout-api/internal/shipping"
	"github.com/tradeyard/checkout-api/internal/shipping/points"
)

type stubPaymentsManager struct {
	err     error
	lastReq *payments.CheckoutSessionRequest
}

func (m *stubPaymentsManager) CreateCheckoutSession(_ context.Context, _ payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	m.lastReq = &req
	if m.err != nil {
		return payments.CheckoutSession{}, m.err
	}
	return payments.CheckoutSession{
		ID:          "psp-session-1",
		Provider:    "stripe",
		RedirectURL: "https://psp.example/redirect",
		ExpiresAt:   fixedClock().Add(30 * time.Minute),
	}, nil
}

type stubEvents struct {
	completed []CheckoutCompletedEvent
	cleared   []BasketClearedEvent
}

func (e *stubEvents) PublishCheckoutCompleted(_ context.Context, ev CheckoutCompletedEvent) error {
	e.completed = append(e.completed, ev)
	return nil
}

func (e *stubEvents) PublishBasketCleared(_ context.Context, ev BasketClearedEvent) error {
	e.cleared = append(e.cleared, ev)
	return nil
}

type checkoutFixture struct {
	basket   BasketService
	delivery DeliveryService
	checkout CheckoutService
	payments *stubPaymentsManager
	events   *stubEvents
	catalog  *stubCatalog
}

func newCheckoutFixture(t *testing.T) *checkoutFixture {
	t.Helper()
	store := kvstore.NewMemoryStore()
	catalog := &stubCatalog{variants: map[string]CatalogVariant{}}
	basket, err := NewBasketService(BasketServiceDeps{Store: store, Catalog: catalog, Clock: fixedClock})
	if err != nil {
		t.Fatalf("new basket service: %v", err)
	}
	delivery, err := NewDeliveryService(DeliveryServiceDeps{Points: points.NewReconciler(), Clock: fixedClock})
	if err != nil {
		t.Fatalf("new delivery service: %v", err)
	}
	aggregator, err := NewPriceAggregator(store, nil)
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	pay := &stubPaymentsManager{}
	events := &stubEvents{}
	checkout, err := NewCheckoutService(CheckoutServiceDeps{
		Basket:     basket,
		Delivery:   delivery,
		Aggregator: aggregator,
		Payments:   pay,
		Events:     events,
		Clock:      fixedClock,
		Currency:   "CZK",
		SuccessURL: "https://shop.example/thanks",
		CancelURL:  "https://shop.example/payment",
	})
	if err != nil {
		t.Fatalf("new checkout service: %v", err)
	}
	return &checkoutFixture{
		basket:   basket,
		delivery: delivery,
		checkout: checkout,
		payments: pay,
		events:   events,
		catalog:  catalog,
	}
}

func validContact() ContactInfo {
	return ContactInfo{
		Email:     "buyer@example.com",
		FirstName: "Jana",
		LastName:  "Novakova",
		Phone:     "+420 777 123 456",
		Street:    "Dlouha 12",
		City:      "Praha",
		Zip:       "110 00",
	}
}

func (f *checkoutFixture) seedBasket(t *testing.T, skus ...string) {
	t.Helper()
	ctx := context.Background()
	for _, sku := range skus {
		if _, err := f.basket.AddEntry(ctx, AddEntryCommand{SKU: sku}); err != nil {
			t.Fatalf("add %s: %v", sku, err)
		}
	}
}

func (f *checkoutFixture) toDeliveryStage(t *testing.T) CheckoutSession {
	t.Helper()
	ctx := context.Background()
	session, err := f.checkout.Begin(ctx, AnonymousIdentity)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	session, err = f.checkout.SubmitInformation(ctx, SubmitInformationCommand{
		SessionID: session.ID,
		Contact:   validContact(),
		Country:   "cz",
	})
	if err != nil {
		t.Fatalf("submit information: %v", err)
	}
	return session
}

func (f *checkoutFixture) completeAllGroups(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	groups, err := f.delivery.Groups(ctx, AnonymousIdentity)
	if err != nil {
		t.Fatalf("groups: %v", err)
	}
	for _, g := range groups {
		if _, err := f.delivery.SetDeliveryType(ctx, SetDeliveryTypeCommand{
			IdentityKey: AnonymousIdentity,
			SellerID:    g.SellerID,
			Type:        domain.DeliveryTypeHomeDelivery,
			CarrierID:   shipping.CarrierRegionalExpress,
		}); err != nil {
			t.Fatalf("set delivery type for %s: %v", g.SellerID, err)
		}
	}
}

func TestBeginRequiresSelection(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	if _, err := f.checkout.Begin(ctx, AnonymousIdentity); !errors.Is(err, ErrCheckoutNoSelection) {
		t.Fatalf("expected ErrCheckoutNoSelection, got %v", err)
	}

	f.seedBasket(t, "a")
	session, err := f.checkout.Begin(ctx, AnonymousIdentity)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if session.Stage != domain.StageInformation {
		t.Fatalf("expected information stage, got %d", session.Stage)
	}
	if session.ID == "" {
		t.Fatal("expected a session id")
	}
}

func TestSubmitInformationValidation(t *testing.T) {
	f := newCheckoutFixture(t)
	f.seedBasket(t, "a")
	ctx := context.Background()
	session, err := f.checkout.Begin(ctx, AnonymousIdentity)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	contact := validContact()
	contact.Email = "not-an-email"
	contact.Zip = "tooshort"
	_, err = f.checkout.SubmitInformation(ctx, SubmitInformationCommand{
		SessionID: session.ID,
		Contact:   contact,
		Country:   "cz",
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Fields["email"] == "" || verr.Fields["zip"] == "" {
		t.Fatalf("expected email and zip field errors, got %+v", verr.Fields)
	}

	// Session stays at the information stage after a rejected submit.
	session, err = f.checkout.Session(ctx, session.ID)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if session.Stage != domain.StageInformation {
		t.Fatalf("expected information stage, got %d", session.Stage)
	}
}

func TestDeliveryToPaymentGuard(t *testing.T) {
	f := newCheckoutFixture(t)
	f.catalog.variants["x"] = CatalogVariant{SKU: "x", SellerID: "s1", Name: "x", UnitPrice: decimal.NewFromInt(100), WeightKg: 1}
	f.catalog.variants["y"] = CatalogVariant{SKU: "y", SellerID: "s2", Name: "y", UnitPrice: decimal.NewFromInt(50), WeightKg: 1}
	f.seedBasket(t, "x", "y")
	ctx := context.Background()
	session := f.toDeliveryStage(t)

	if _, err := f.checkout.AdvanceToPayment(ctx, session.ID); !errors.Is(err, ErrCheckoutGroupsIncomplete) {
		t.Fatalf("expected ErrCheckoutGroupsIncomplete, got %v", err)
	}

	// Completing the last open group makes the transition allowed.
	f.completeAllGroups(t)
	session, err := f.checkout.AdvanceToPayment(ctx, session.ID)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if session.Stage != domain.StagePayment {
		t.Fatalf("expected payment stage, got %d", session.Stage)
	}
}

func TestConfirmRequiresTermsAndAgeConfirmation(t *testing.T) {
	f := newCheckoutFixture(t)
	f.catalog.variants["wine"] = CatalogVariant{
		SKU: "wine", SellerID: "s1", Name: "wine",
		UnitPrice: decimal.NewFromInt(300), WeightKg: 1.2, AgeRestricted: true,
	}
	f.seedBasket(t, "wine")
	ctx := context.Background()
	session := f.toDeliveryStage(t)
	f.completeAllGroups(t)
	if _, err := f.checkout.AdvanceToPayment(ctx, session.ID); err != nil {
		t.Fatalf("advance: %v", err)
	}

	if _, err := f.checkout.Confirm(ctx, ConfirmCheckoutCommand{SessionID: session.ID}); !errors.Is(err, ErrCheckoutTermsRequired) {
		t.Fatalf("expected ErrCheckoutTermsRequired, got %v", err)
	}
	if _, err := f.checkout.Confirm(ctx, ConfirmCheckoutCommand{SessionID: session.ID, TermsAccepted: true}); !errors.Is(err, ErrCheckoutAgeConfirmationRequired) {
		t.Fatalf("expected ErrCheckoutAgeConfirmationRequired, got %v", err)
	}

	handoff, err := f.checkout.Confirm(ctx, ConfirmCheckoutCommand{
		SessionID:     session.ID,
		TermsAccepted: true,
		AgeConfirmed:  true,
	})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if handoff.RedirectURL == "" || handoff.Provider != "stripe" {
		t.Fatalf("unexpected handoff: %+v", handoff)
	}
}

func TestConfirmShapesGroupsAndClearsBasket(t *testing.T) {
	f := newCheckoutFixture(t)
	f.catalog.variants["x"] = CatalogVariant{SKU: "x", SellerID: "s1", Name: "x", UnitPrice: decimal.NewFromInt(100), WeightKg: 1}
	f.catalog.variants["y"] = CatalogVariant{SKU: "y", SellerID: "s2", Name: "y", UnitPrice: decimal.NewFromInt(50), WeightKg: 1}
	f.seedBasket(t, "x", "y")
	ctx := context.Background()
	session := f.toDeliveryStage(t)
	f.completeAllGroups(t)
	if _, err := f.checkout.AdvanceToPayment(ctx, session.ID); err != nil {
		t.Fatalf("advance: %v", err)
	}

	if _, err := f.checkout.Confirm(ctx, ConfirmCheckoutCommand{SessionID: session.ID, TermsAccepted: true}); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	req := f.payments.lastReq
	if req == nil {
		t.Fatal("expected a payment session request")
	}
	if len(req.Groups) != 2 {
		t.Fatalf("expected 2 seller groups in payload, got %d", len(req.Groups))
	}
	// 100 + 50 in products plus two home deliveries at 129 each, in minor units.
	if req.Amount != (100+50+129+129)*100 {
		t.Fatalf("unexpected amount %d", req.Amount)
	}
	if req.Customer.Email != "buyer@example.com" {
		t.Fatalf("unexpected customer %+v", req.Customer)
	}
	for _, g := range req.Groups {
		if g.DeliveryAddress == nil || g.DeliveryAddress.Country != "cz" {
			t.Fatalf("expected a home delivery address on group %s", g.SellerID)
		}
	}

	basket, err := f.basket.ActiveBasket(ctx)
	if err != nil {
		t.Fatalf("active basket: %v", err)
	}
	if len(basket.Entries) != 0 {
		t.Fatalf("expected purchased entries cleared, got %d", len(basket.Entries))
	}
	if _, err := f.checkout.Session(ctx, session.ID); !errors.Is(err, ErrCheckoutSessionNotFound) {
		t.Fatalf("expected session destroyed, got %v", err)
	}
	if len(f.events.completed) != 1 {
		t.Fatalf("expected one completion event, got %d", len(f.events.completed))
	}
}

func TestConfirmPaymentFailureKeepsSession(t *testing.T) {
	f := newCheckoutFixture(t)
	f.seedBasket(t, "a")
	ctx := context.Background()
	session := f.toDeliveryStage(t)
	f.completeAllGroups(t)
	if _, err := f.checkout.AdvanceToPayment(ctx, session.ID); err != nil {
		t.Fatalf("advance: %v", err)
	}

	f.payments.err = errors.New("psp rejected")
	_, err := f.checkout.Confirm(ctx, ConfirmCheckoutCommand{SessionID: session.ID, TermsAccepted: true})
	if !errors.Is(err, ErrCheckoutPaymentFailed) {
		t.Fatalf("expected ErrCheckoutPaymentFailed, got %v", err)
	}

	session, err = f.checkout.Session(ctx, session.ID)
	if err != nil {
		t.Fatalf("expected session to survive, got %v", err)
	}
	if session.Stage != domain.StagePayment {
		t.Fatalf("expected session still at payment stage, got %d", session.Stage)
	}
	basket, err := f.basket.ActiveBasket(ctx)
	if err != nil {
		t.Fatalf("active basket: %v", err)
	}
	if len(basket.Entries) != 1 {
		t.Fatalf("expected basket untouched after failure, got %d entries", len(basket.Entries))
	}
}

func TestStepBackPreservesContact(t *testing.T) {
	f := newCheckoutFixture(t)
	f.seedBasket(t, "a")
	ctx := context.Background()
	session := f.toDeliveryStage(t)

	session, err := f.checkout.StepBack(ctx, session.ID)
	if err != nil {
		t.Fatalf("step back: %v", err)
	}
	if session.Stage != domain.StageInformation {
		t.Fatalf("expected information stage, got %d", session.Stage)
	}
	if session.Contact.Email != "buyer@example.com" {
		t.Fatalf("expected contact preserved, got %+v", session.Contact)
	}
}

func TestAbandonDeselectsEverything(t *testing.T) {
	f := newCheckoutFixture(t)
	f.seedBasket(t, "a", "b")
	ctx := context.Background()
	session, err := f.checkout.Begin(ctx, AnonymousIdentity)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	if err := f.checkout.Abandon(ctx, session.ID); err != nil {
		t.Fatalf("abandon: %v", err)
	}
	subtotal, err := f.basket.SelectedSubtotal(ctx)
	if err != nil {
		t.Fatalf("subtotal: %v", err)
	}
	if !subtotal.IsZero() {
		t.Fatalf("expected everything deselected, got subtotal %s", subtotal)
	}
}
