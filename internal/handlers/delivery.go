package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tradeyard/checkout-api/internal/domain"
	"github.com/tradeyard/checkout-api/internal/platform/auth"
	"github.com/tradeyard/checkout-api/internal/platform/httpx"
	"github.com/tradeyard/checkout-api/internal/services"
)

// DeliveryHandlers exposes the per-seller delivery group endpoints.
type DeliveryHandlers struct {
	delivery services.DeliveryService
}

// NewDeliveryHandlers constructs handlers backed by the delivery service.
func NewDeliveryHandlers(delivery services.DeliveryService) *DeliveryHandlers {
	return &DeliveryHandlers{delivery: delivery}
}

// Routes wires the /delivery endpoints onto the provided router.
func (h *DeliveryHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/groups", h.listGroups)
	r.Put("/groups/{sellerId}/option", h.setOption)
	r.Post("/groups/{sellerId}/requote", h.requote)
	r.Get("/total", h.total)
}

func (h *DeliveryHandlers) listGroups(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.delivery == nil {
		httpx.WriteError(ctx, w, httpx.NewError("delivery_service_unavailable", "delivery service is unavailable", http.StatusServiceUnavailable))
		return
	}

	groups, err := h.delivery.Groups(ctx, auth.IdentityKey(ctx))
	if err != nil {
		writeDeliveryError(ctx, w, err)
		return
	}

	complete, err := h.delivery.AllComplete(ctx, auth.IdentityKey(ctx))
	if err != nil {
		writeDeliveryError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, deliveryGroupsResponse{
		Groups:      buildGroupPayloads(groups),
		AllComplete: complete,
	})
}

func (h *DeliveryHandlers) setOption(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.delivery == nil {
		httpx.WriteError(ctx, w, httpx.NewError("delivery_service_unavailable", "delivery service is unavailable", http.StatusServiceUnavailable))
		return
	}

	sellerID := strings.TrimSpace(chi.URLParam(r, "sellerId"))
	var req struct {
		Type      string `json:"type"`
		CarrierID string `json:"carrierId"`
	}
	if !decodeRequest(ctx, w, r, &req) {
		return
	}

	group, err := h.delivery.SetDeliveryType(ctx, services.SetDeliveryTypeCommand{
		IdentityKey: auth.IdentityKey(ctx),
		SellerID:    sellerID,
		Type:        domain.DeliveryType(strings.TrimSpace(req.Type)),
		CarrierID:   strings.TrimSpace(req.CarrierID),
	})
	if err != nil {
		writeDeliveryError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, deliveryGroupResponse{Group: buildGroupPayload(group)})
}

// requote re-runs the carrier quote for one group. The refresh is
// asynchronous, so the handler acknowledges rather than returns the result.
func (h *DeliveryHandlers) requote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.delivery == nil {
		httpx.WriteError(ctx, w, httpx.NewError("delivery_service_unavailable", "delivery service is unavailable", http.StatusServiceUnavailable))
		return
	}

	sellerID := strings.TrimSpace(chi.URLParam(r, "sellerId"))
	if err := h.delivery.RetryQuote(ctx, auth.IdentityKey(ctx), sellerID); err != nil {
		writeDeliveryError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusAccepted, map[string]any{"status": "requested", "sellerId": sellerID})
}

func (h *DeliveryHandlers) total(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.delivery == nil {
		httpx.WriteError(ctx, w, httpx.NewError("delivery_service_unavailable", "delivery service is unavailable", http.StatusServiceUnavailable))
		return
	}

	total, err := h.delivery.DeliveryTotal(ctx, auth.IdentityKey(ctx))
	if err != nil {
		writeDeliveryError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"deliveryTotal": total.StringFixed(2)})
}

func writeDeliveryError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrDeliveryInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrDeliveryGroupNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("delivery_group_not_found", "no delivery group for that seller", http.StatusNotFound))
	case errors.Is(err, services.ErrDeliveryOptionUnusable):
		httpx.WriteError(ctx, w, httpx.NewError("delivery_option_unusable", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrDeliveryUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("delivery_service_unavailable", "delivery service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("delivery_error", "delivery operation failed", http.StatusInternalServerError))
	}
}

type deliveryGroupsResponse struct {
	Groups      []deliveryGroupPayload `json:"groups"`
	AllComplete bool                   `json:"allComplete"`
}

type deliveryGroupResponse struct {
	Group deliveryGroupPayload `json:"group"`
}

type deliveryGroupPayload struct {
	SellerID         string                  `json:"sellerId"`
	Items            []basketEntryPayload    `json:"items"`
	Candidates       []deliveryOptionPayload `json:"candidates"`
	DeliveryType     string                  `json:"deliveryType,omitempty"`
	CarrierID        string                  `json:"carrierId,omitempty"`
	PickupPointID    string                  `json:"pickupPointId,omitempty"`
	PickupAddress    *addressPayload         `json:"pickupAddress,omitempty"`
	DeliveryPrice    string                  `json:"deliveryPrice"`
	PriceUnavailable bool                    `json:"priceUnavailable,omitempty"`
	Complete         bool                    `json:"complete"`
}

type deliveryOptionPayload struct {
	CarrierID     string `json:"carrierId"`
	Type          string `json:"type"`
	Price         string `json:"price"`
	Undeliverable bool   `json:"undeliverable,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

type addressPayload struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	Zip     string `json:"zip"`
	Country string `json:"country"`
}

func buildGroupPayloads(groups []services.SellerGroup) []deliveryGroupPayload {
	payloads := make([]deliveryGroupPayload, 0, len(groups))
	for _, group := range groups {
		payloads = append(payloads, buildGroupPayload(group))
	}
	return payloads
}

func buildGroupPayload(group services.SellerGroup) deliveryGroupPayload {
	items := make([]basketEntryPayload, 0, len(group.Items))
	for _, item := range group.Items {
		items = append(items, buildBasketEntryPayload(item))
	}
	candidates := make([]deliveryOptionPayload, 0, len(group.Candidates))
	for _, option := range group.Candidates {
		candidates = append(candidates, deliveryOptionPayload{
			CarrierID:     option.CarrierID,
			Type:          string(option.Type),
			Price:         option.Price.StringFixed(2),
			Undeliverable: option.Undeliverable,
			Reason:        option.Reason,
		})
	}

	payload := deliveryGroupPayload{
		SellerID:         group.SellerID,
		Items:            items,
		Candidates:       candidates,
		DeliveryType:     string(group.DeliveryType),
		CarrierID:        group.CarrierID,
		PickupPointID:    group.PickupPointID,
		DeliveryPrice:    group.DeliveryPrice.StringFixed(2),
		PriceUnavailable: group.PriceUnavailable,
		Complete:         group.Complete,
	}
	if group.PickupAddress != nil {
		payload.PickupAddress = &addressPayload{
			Street:  group.PickupAddress.Street,
			City:    group.PickupAddress.City,
			Zip:     group.PickupAddress.Zip,
			Country: group.PickupAddress.Country,
		}
	}
	return payload
}
