package services

import (
	"context"

	"github.com/shopspring/decimal"

	domain "github.com/tradeyard/checkout-api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Basket               = domain.Basket
	BasketEntry          = domain.BasketEntry
	ProductSnapshot      = domain.ProductSnapshot
	Dimensions           = domain.Dimensions
	SellerGroup          = domain.SellerGroup
	DeliveryOption       = domain.DeliveryOption
	DeliveryType         = domain.DeliveryType
	PickupPointSelection = domain.PickupPointSelection
	CheckoutSession      = domain.CheckoutSession
	CheckoutStage        = domain.CheckoutStage
	ContactInfo          = domain.ContactInfo
	Address              = domain.Address
	PriceSummary         = domain.PriceSummary
	PaymentHandoff       = domain.PaymentHandoff
)

// BasketService owns the per-identity basket registry and the running
// selected-item subtotal.
type BasketService interface {
	ActiveBasket(ctx context.Context) (Basket, error)
	AddEntry(ctx context.Context, cmd AddEntryCommand) (Basket, error)
	SetCount(ctx context.Context, sku string, count int) (Basket, error)
	RemoveEntry(ctx context.Context, sku string) (Basket, error)
	SetSelected(ctx context.Context, sku string, selected bool) (Basket, error)
	SelectAll(ctx context.Context) (Basket, error)
	DeselectAll(ctx context.Context) (Basket, error)
	SelectedSubtotal(ctx context.Context) (decimal.Decimal, error)
	SignIn(ctx context.Context, identityKey string) (Basket, MergeReport, error)
	SignOut(ctx context.Context) (Basket, error)
	ClearPurchased(ctx context.Context) (Basket, error)
}

// DeliveryService owns the authoritative seller group list for the active
// checkout, recomputing quotes and accepting widget patches.
type DeliveryService interface {
	RecomputeGroups(ctx context.Context, identityKey string, selected []BasketEntry, country string) ([]SellerGroup, error)
	Groups(ctx context.Context, identityKey string) ([]SellerGroup, error)
	SetDeliveryType(ctx context.Context, cmd SetDeliveryTypeCommand) (SellerGroup, error)
	ApplyPickupPointSelection(ctx context.Context, identityKey string, sel PickupPointSelection, checkoutCountry string) (SellerGroup, error)
	RetryQuote(ctx context.Context, identityKey, sellerID string) error
	AllComplete(ctx context.Context, identityKey string) (bool, error)
	DeliveryTotal(ctx context.Context, identityKey string) (decimal.Decimal, error)
	Clear(ctx context.Context, identityKey string)
}

// CheckoutService drives the three-stage checkout progression and the
// payment handoff.
type CheckoutService interface {
	Begin(ctx context.Context, identityKey string) (CheckoutSession, error)
	Session(ctx context.Context, sessionID string) (CheckoutSession, error)
	SubmitInformation(ctx context.Context, cmd SubmitInformationCommand) (CheckoutSession, error)
	AdvanceToPayment(ctx context.Context, sessionID string) (CheckoutSession, error)
	StepBack(ctx context.Context, sessionID string) (CheckoutSession, error)
	Summary(ctx context.Context, sessionID string) (PriceSummary, error)
	Confirm(ctx context.Context, cmd ConfirmCheckoutCommand) (PaymentHandoff, error)
	Abandon(ctx context.Context, sessionID string) error
}

// CatalogClient supplies denormalised variant data for basket snapshots.
type CatalogClient interface {
	Variant(ctx context.Context, sku string) (CatalogVariant, error)
}

// QuoteClient is the external delivery-quote collaborator. Local carrier
// tables serve as the fallback when it returns no options.
type QuoteClient interface {
	RequestQuotes(ctx context.Context, req QuoteRequest) (QuoteResponse, error)
}

// CheckoutEventPublisher accepts checkout lifecycle notifications for
// downstream processing.
type CheckoutEventPublisher interface {
	PublishCheckoutCompleted(ctx context.Context, event CheckoutCompletedEvent) error
	PublishBasketCleared(ctx context.Context, event BasketClearedEvent) error
}

// Command and DTO definitions ------------------------------------------------

// AddEntryCommand adds one SKU to the active basket.
type AddEntryCommand struct {
	SKU   string
	Count int
}

// MergeReport describes the outcome of a sign-in merge. Dropped lists the
// SKUs that could not be carried over because the merged basket would exceed
// capacity.
type MergeReport struct {
	Merged  int
	Kept    int
	Dropped []string
}

// SetDeliveryTypeCommand records the chosen delivery option for one group.
type SetDeliveryTypeCommand struct {
	IdentityKey string
	SellerID    string
	Type        DeliveryType
	CarrierID   string
}

// SubmitInformationCommand carries the information-stage form.
type SubmitInformationCommand struct {
	SessionID string
	Contact   ContactInfo
	Country   string
}

// ConfirmCheckoutCommand carries the payment-stage confirmations.
type ConfirmCheckoutCommand struct {
	SessionID     string
	TermsAccepted bool
	AgeConfirmed  bool
}

// CatalogVariant is the catalog collaborator's view of one SKU.
type CatalogVariant struct {
	SKU           string
	ProductID     string
	SellerID      string
	Name          string
	UnitPrice     decimal.Decimal
	WeightKg      float64
	Dimensions    Dimensions
	AgeRestricted bool
}

// QuoteRequest asks the quote collaborator to price one seller group.
type QuoteRequest struct {
	SellerID           string
	DestinationCountry string
	Items              []QuoteItem
	// ChangeOnly scopes the request to a single group refresh rather than
	// a full rebuild.
	ChangeOnly bool
	// Generation correlates the response back to the group state it priced.
	Generation uint64
}

// QuoteItem is one line of a quote request.
type QuoteItem struct {
	SKU      string
	Quantity int
}

// QuoteResponse carries the collaborator's priced options.
type QuoteResponse struct {
	SellerID   string
	Generation uint64
	Options    []DeliveryOption
}

// CheckoutCompletedEvent is published after a successful payment handoff.
type CheckoutCompletedEvent struct {
	SessionID   string
	IdentityKey string
	GrandTotal  string
	Currency    string
	SellerIDs   []string
}

// BasketClearedEvent is published when purchased entries are removed.
type BasketClearedEvent struct {
	IdentityKey string
	RemovedSKUs []string
}
