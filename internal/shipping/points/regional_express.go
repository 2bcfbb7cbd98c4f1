package points

import (
	"github.com/tradeyard/checkout-api/internal/domain"
	"github.com/tradeyard/checkout-api/internal/shipping"
)

// regionalExpressAdapter understands the regional express widget, which posts
// its selection under a "rexPoint" object and reports dismissal with a
// "rexDialog": "closed" marker.
type regionalExpressAdapter struct{}

func (regionalExpressAdapter) CarrierID() string { return shipping.CarrierRegionalExpress }

func (regionalExpressAdapter) Countries() []string { return []string{"cz"} }

func (regionalExpressAdapter) Interpret(raw map[string]any) (Outcome, bool) {
	if stringField(raw, "rexDialog") == "closed" {
		return Outcome{Closed: true}, true
	}
	point, ok := mapField(raw, "rexPoint")
	if !ok {
		return Outcome{}, false
	}
	return Outcome{Selection: &domain.PickupPointSelection{
		PickupPointID: stringField(point, "code"),
		Country:       normalizeCountry(stringField(point, "country")),
		Street:        stringField(point, "street"),
		City:          stringField(point, "city"),
		Zip:           stringField(point, "postcode"),
	}}, true
}
