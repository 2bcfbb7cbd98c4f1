package shipping

import (
	"math"

	"github.com/shopspring/decimal"
)

// Carrier identifiers shared across quotes, delivery groups, and widgets.
const (
	CarrierRegionalExpress = "rex"
	CarrierGlobalLogistics = "globo"
	CarrierParcelNetwork   = "parcelnet"
)

// DefaultWeightKg substitutes for a zero or unknown group weight before any
// carrier table lookup.
const DefaultWeightKg = 15.0

// Quote is the tagged outcome of a carrier price lookup. Undeliverable quotes
// carry a reason and a zero price instead of being reported as errors.
type Quote struct {
	Price         decimal.Decimal
	Undeliverable bool
	Reason        string
}

func undeliverable(reason string) Quote {
	return Quote{Undeliverable: true, Reason: reason}
}

func priced(p decimal.Decimal) Quote {
	return Quote{Price: p}
}

// NormalizeWeight replaces a missing weight with the nominal default.
func NormalizeWeight(weightKg float64) float64 {
	if weightKg <= 0 || math.IsNaN(weightKg) {
		return DefaultWeightKg
	}
	return weightKg
}

// regionalExpressTable prices by box class, with a flat surcharge when the
// destination requires hand delivery.
var (
	regionalExpressTable = map[BoxClass]decimal.Decimal{
		BoxClassS: decimal.NewFromInt(129),
		BoxClassM: decimal.NewFromInt(169),
		BoxClassL: decimal.NewFromInt(219),
	}
	regionalExpressHandSurcharge = decimal.NewFromInt(45)
	regionalExpressCeilingKg     = 31.5
)

// QuoteRegionalExpress prices a parcel by size class. Weight only gates
// deliverability; anything above the 31.5 kg ceiling is refused regardless of
// class.
func QuoteRegionalExpress(weightKg float64, class BoxClass, handDelivery bool) Quote {
	w := NormalizeWeight(weightKg)
	if w > regionalExpressCeilingKg {
		return undeliverable("weight exceeds 31.5 kg ceiling")
	}
	base, ok := regionalExpressTable[class]
	if !ok {
		return undeliverable("parcel exceeds size limits")
	}
	if handDelivery {
		base = base.Add(regionalExpressHandSurcharge)
	}
	return priced(base)
}

// globalLogisticsTiers are inclusive upper bounds with flat prices.
var globalLogisticsTiers = []struct {
	maxKg float64
	price decimal.Decimal
}{
	{50, decimal.NewFromInt(700)},
	{75, decimal.NewFromInt(850)},
	{100, decimal.NewFromInt(1000)},
	{150, decimal.NewFromInt(1200)},
}

// QuoteGlobalLogistics prices a parcel by flat weight tier. Above 150 kg the
// carrier refuses the shipment.
func QuoteGlobalLogistics(weightKg float64) Quote {
	w := NormalizeWeight(weightKg)
	for _, tier := range globalLogisticsTiers {
		if w <= tier.maxKg {
			return priced(tier.price)
		}
	}
	return undeliverable("weight exceeds 150 kg ceiling")
}

// parcelNetworkTable is the precomputed per-kilogram price list for integer
// kilograms 1..30, interpolated between the carrier's published endpoints.
var parcelNetworkTable = []string{
	"171.00", "177.17", "183.34", "189.52", "195.69",
	"201.86", "208.03", "214.21", "220.38", "226.55",
	"232.72", "238.90", "245.07", "251.24", "257.41",
	"263.59", "269.76", "275.93", "282.10", "288.28",
	"294.45", "300.62", "306.79", "312.97", "319.14",
	"325.31", "331.48", "337.66", "343.83", "350.00",
}

// QuoteParcelNetwork rounds weight to the nearest kilogram and looks the
// price up from the carrier's table. Above 30 kg the carrier refuses the
// shipment.
func QuoteParcelNetwork(weightKg float64) Quote {
	w := NormalizeWeight(weightKg)
	kg := int(math.Round(w))
	if kg < 1 {
		kg = 1
	}
	if kg > len(parcelNetworkTable) {
		return undeliverable("weight exceeds 30 kg ceiling")
	}
	return priced(decimal.RequireFromString(parcelNetworkTable[kg-1]))
}
