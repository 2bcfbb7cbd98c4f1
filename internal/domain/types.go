package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MaxBasketEntries caps the number of distinct SKUs a basket may hold.
const MaxBasketEntries = 55

// DeliveryType enumerates how a seller group's parcels reach the buyer.
type DeliveryType string

const (
	// DeliveryTypeUnset marks a group whose delivery choice has not been made yet.
	DeliveryTypeUnset DeliveryType = ""
	// DeliveryTypeWarehousePickup means the buyer collects from the seller's warehouse at no charge.
	DeliveryTypeWarehousePickup DeliveryType = "warehouse_pickup"
	// DeliveryTypeHomeDelivery means a carrier delivers to the buyer's address.
	DeliveryTypeHomeDelivery DeliveryType = "home_delivery"
	// DeliveryTypeDeliveryPoint means the buyer collects from a carrier pickup point.
	DeliveryTypeDeliveryPoint DeliveryType = "delivery_point"
)

// Dimensions describes a single item's package extents in centimetres.
type Dimensions struct {
	Height float64
	Width  float64
	Length float64
}

// ProductSnapshot is the denormalised product data captured when an entry
// enters the basket. The catalog collaborator remains the source of truth;
// the basket never re-fetches it.
type ProductSnapshot struct {
	Name          string
	UnitPrice     decimal.Decimal
	Dimensions    Dimensions
	WeightKg      float64
	AgeRestricted bool
}

// BasketEntry is one purchasable line keyed by SKU.
type BasketEntry struct {
	SKU       string
	ProductID string
	SellerID  string
	Product   ProductSnapshot
	Count     int
	Selected  bool
	AddedAt   time.Time
	UpdatedAt *time.Time
}

// LineTotal returns count times unit price for the entry.
func (e BasketEntry) LineTotal() decimal.Decimal {
	if e.Count <= 0 {
		return decimal.Zero
	}
	return e.Product.UnitPrice.Mul(decimal.NewFromInt(int64(e.Count)))
}

// Basket is the ordered entry list for one identity.
type Basket struct {
	IdentityKey string
	Entries     []BasketEntry
	UpdatedAt   time.Time
}

// DeliveryOption is one priced candidate for a seller group. Undeliverable
// candidates are tagged rather than dropped so they render as disabled options.
type DeliveryOption struct {
	CarrierID     string
	Type          DeliveryType
	Price         decimal.Decimal
	Undeliverable bool
	Reason        string
}

// SellerGroup is the selected-subset slice belonging to one seller, carrying
// the group's delivery choice and quoted price.
type SellerGroup struct {
	SellerID         string
	Items            []BasketEntry
	Candidates       []DeliveryOption
	DeliveryType     DeliveryType
	CarrierID        string
	PickupPointID    string
	PickupAddress    *Address
	DeliveryPrice    decimal.Decimal
	PriceUnavailable bool
	Complete         bool

	// Generation increments on every recompute of this group's item set and
	// correlates asynchronous quote responses back to the state they priced.
	Generation uint64
	// ItemsDigest fingerprints the group's SKU/count pairs so a regroup can
	// tell unchanged groups from changed ones.
	ItemsDigest string
}

// PickupPointSelection is the normalised outcome of any carrier widget.
type PickupPointSelection struct {
	PickupPointID string
	CarrierID     string
	Country       string
	Street        string
	City          string
	Zip           string
	SellerID      string
}

// Address is the postal address shared by contact info and pickup points.
type Address struct {
	Street  string
	City    string
	Zip     string
	Country string
}

// ContactInfo holds the information-stage buyer details.
type ContactInfo struct {
	Email     string
	FirstName string
	LastName  string
	Phone     string
	Street    string
	City      string
	Zip       string
}

// CheckoutStage orders the checkout progression. The basket page is the
// implicit pre-stage.
type CheckoutStage int

const (
	// StageBasket is the pre-checkout basket page.
	StageBasket CheckoutStage = 0
	// StageInformation collects contact and address data.
	StageInformation CheckoutStage = 1
	// StageDelivery collects per-group delivery choices.
	StageDelivery CheckoutStage = 2
	// StagePayment collects confirmations and hands off to the payment provider.
	StagePayment CheckoutStage = 3
)

// CheckoutSession is the transient state of one checkout run.
type CheckoutSession struct {
	ID            string
	IdentityKey   string
	Stage         CheckoutStage
	Contact       ContactInfo
	Country       string
	TermsAccepted bool
	AgeConfirmed  bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PriceSummary carries the aggregator's derived totals.
type PriceSummary struct {
	Subtotal      decimal.Decimal
	DeliveryTotal decimal.Decimal
	GrandTotal    decimal.Decimal
}

// PaymentHandoff is the redirect handle returned by the payment provider.
type PaymentHandoff struct {
	SessionID   string
	Provider    string
	RedirectURL string
	ExpiresAt   time.Time
}
