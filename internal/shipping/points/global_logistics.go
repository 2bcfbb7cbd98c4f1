package points

import (
	"github.com/tradeyard/checkout-api/internal/domain"
	"github.com/tradeyard/checkout-api/internal/shipping"
)

// globalLogisticsAdapter understands the global logistics widget. Its events
// identify themselves with a "message": "globo-widget" discriminator and
// nest the address under point.address.
type globalLogisticsAdapter struct{}

func (globalLogisticsAdapter) CarrierID() string { return shipping.CarrierGlobalLogistics }

func (globalLogisticsAdapter) Countries() []string { return []string{"cz", "sk", "pl"} }

func (globalLogisticsAdapter) Interpret(raw map[string]any) (Outcome, bool) {
	if stringField(raw, "message") != "globo-widget" {
		return Outcome{}, false
	}
	point, ok := mapField(raw, "point")
	if !ok {
		// The widget emits the discriminator without a point when the
		// user closes it.
		return Outcome{Closed: true}, true
	}
	addr, _ := mapField(point, "address")
	return Outcome{Selection: &domain.PickupPointSelection{
		PickupPointID: stringField(point, "id"),
		Country:       normalizeCountry(stringField(addr, "countryCode")),
		Street:        stringField(addr, "streetName"),
		City:          stringField(addr, "cityName"),
		Zip:           stringField(addr, "zip"),
	}}, true
}
