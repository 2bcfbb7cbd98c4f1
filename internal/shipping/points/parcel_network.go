package points

import (
	"github.com/tradeyard/checkout-api/internal/domain"
	"github.com/tradeyard/checkout-api/internal/shipping"
)

// parcelNetworkAdapter understands the parcel network widget, which posts a
// flat payload keyed by "packetPointId" and signals dismissal with
// "packetCancelled": true.
type parcelNetworkAdapter struct{}

func (parcelNetworkAdapter) CarrierID() string { return shipping.CarrierParcelNetwork }

func (parcelNetworkAdapter) Countries() []string { return []string{"cz", "sk"} }

func (parcelNetworkAdapter) Interpret(raw map[string]any) (Outcome, bool) {
	if boolField(raw, "packetCancelled") {
		return Outcome{Closed: true}, true
	}
	id := stringField(raw, "packetPointId")
	if id == "" {
		return Outcome{}, false
	}
	return Outcome{Selection: &domain.PickupPointSelection{
		PickupPointID: id,
		Country:       normalizeCountry(stringField(raw, "packetCountry")),
		Street:        stringField(raw, "packetStreet"),
		City:          stringField(raw, "packetCity"),
		Zip:           stringField(raw, "packetZip"),
	}}, true
}
