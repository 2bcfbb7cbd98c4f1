// Package points integrates the embedded carrier pickup-point widgets.
// All widgets report through one shared event channel, so each adapter
// recognises its own payload shape and ignores everything else.
package points

import (
	"strings"

	"github.com/tradeyard/checkout-api/internal/domain"
)

// Outcome is the interpreted result of one widget event. Exactly one of
// Selection or Closed is meaningful: Closed reports that the user dismissed
// the widget without choosing, which is a warning, not an error.
type Outcome struct {
	Selection *domain.PickupPointSelection
	Closed    bool
}

// Adapter interprets raw widget events for a single carrier.
type Adapter interface {
	// CarrierID names the carrier whose widget this adapter understands.
	CarrierID() string
	// Countries lists the destination countries the carrier's widget serves.
	Countries() []string
	// Interpret inspects a raw event payload. The second return is false
	// when the payload does not carry this adapter's shape; such events
	// belong to another widget and must be left alone.
	Interpret(raw map[string]any) (Outcome, bool)
}

// Reconciler fans a raw event out to the registered adapters and normalises
// the first recognised payload, tagging it with the seller group the widget
// was opened for.
type Reconciler struct {
	adapters []Adapter
}

// NewReconciler wires the default adapter set.
func NewReconciler() *Reconciler {
	return &Reconciler{adapters: []Adapter{
		&regionalExpressAdapter{},
		&globalLogisticsAdapter{},
		&parcelNetworkAdapter{},
	}}
}

// Reconcile interprets one raw event on behalf of sellerID. It returns
// (nil, false, false) for payloads no adapter recognises, (nil, true, true)
// when the user closed the widget without choosing, and a tagged selection
// otherwise.
func (r *Reconciler) Reconcile(raw map[string]any, sellerID string) (sel *domain.PickupPointSelection, closed bool, recognized bool) {
	for _, a := range r.adapters {
		out, ok := a.Interpret(raw)
		if !ok {
			continue
		}
		if out.Closed {
			return nil, true, true
		}
		out.Selection.SellerID = sellerID
		out.Selection.CarrierID = a.CarrierID()
		return out.Selection, false, true
	}
	return nil, false, false
}

// Allowed reports whether the carrier's widget may be offered for the given
// destination country.
func (r *Reconciler) Allowed(carrierID, country string) bool {
	country = normalizeCountry(country)
	for _, a := range r.adapters {
		if a.CarrierID() != carrierID {
			continue
		}
		for _, c := range a.Countries() {
			if c == country {
				return true
			}
		}
	}
	return false
}

// Carriers lists the carriers a widget exists for, in registration order.
func (r *Reconciler) Carriers() []string {
	ids := make([]string, 0, len(r.adapters))
	for _, a := range r.adapters {
		ids = append(ids, a.CarrierID())
	}
	return ids
}

func normalizeCountry(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}

func stringField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return strings.TrimSpace(v)
}

func mapField(m map[string]any, key string) (map[string]any, bool) {
	v, ok := m[key].(map[string]any)
	return v, ok
}

func boolField(m map[string]any, key string) bool {
	v, _ := m[key].(bool)
	return v
}
