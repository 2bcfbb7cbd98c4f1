package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tradeyard/checkout-api/internal/platform/httpx"
	"github.com/tradeyard/checkout-api/internal/services"
	"github.com/tradeyard/checkout-api/internal/shipping/points"
)

// WebhookHandlers receives carrier widget callbacks. The widgets all post to
// the same endpoint, so the reconciler decides which carrier an event belongs
// to; events no adapter recognises are acknowledged and dropped.
type WebhookHandlers struct {
	delivery   services.DeliveryService
	reconciler *points.Reconciler
}

// NewWebhookHandlers constructs handlers for the signed webhook endpoints.
func NewWebhookHandlers(delivery services.DeliveryService, reconciler *points.Reconciler) *WebhookHandlers {
	return &WebhookHandlers{delivery: delivery, reconciler: reconciler}
}

// Routes wires the /webhooks endpoints onto the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/pickup-points", h.pickupPointEvent)
}

func (h *WebhookHandlers) pickupPointEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.delivery == nil || h.reconciler == nil {
		httpx.WriteError(ctx, w, httpx.NewError("delivery_service_unavailable", "delivery service is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req struct {
		IdentityKey     string         `json:"identityKey"`
		SellerID        string         `json:"sellerId"`
		CheckoutCountry string         `json:"checkoutCountry"`
		Event           map[string]any `json:"event"`
	}
	if !decodeRequest(ctx, w, r, &req) {
		return
	}

	identityKey := strings.TrimSpace(req.IdentityKey)
	sellerID := strings.TrimSpace(req.SellerID)
	if identityKey == "" || sellerID == "" || len(req.Event) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "identityKey, sellerId and event are required", http.StatusBadRequest))
		return
	}

	selection, closed, recognized := h.reconciler.Reconcile(req.Event, sellerID)
	if !recognized {
		writeJSONResponse(w, http.StatusAccepted, map[string]any{"status": "ignored"})
		return
	}
	if closed {
		writeJSONResponse(w, http.StatusOK, map[string]any{"status": "closed"})
		return
	}

	group, err := h.delivery.ApplyPickupPointSelection(ctx, identityKey, *selection, req.CheckoutCountry)
	if err != nil {
		writeDeliveryError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"status": "applied",
		"group":  buildGroupPayload(group),
	})
}
