package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tradeyard/checkout-api/internal/clients/catalog"
	"github.com/tradeyard/checkout-api/internal/domain"
	"github.com/tradeyard/checkout-api/internal/platform/auth"
	"github.com/tradeyard/checkout-api/internal/platform/httpx"
	"github.com/tradeyard/checkout-api/internal/services"
)

// BasketHandlers exposes the basket endpoints for the current shopper.
type BasketHandlers struct {
	baskets services.BasketService
}

// NewBasketHandlers constructs handlers backed by the basket service.
func NewBasketHandlers(baskets services.BasketService) *BasketHandlers {
	return &BasketHandlers{baskets: baskets}
}

// Routes wires the /basket endpoints onto the provided router.
func (h *BasketHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getBasket)
	r.Get("/subtotal", h.getSubtotal)
	r.Post("/entries", h.addEntry)
	r.Patch("/entries/{sku}", h.setCount)
	r.Delete("/entries/{sku}", h.removeEntry)
	r.Put("/entries/{sku}/selection", h.setSelection)
	r.Put("/selection", h.setAllSelection)
	r.Post("/sign-in", h.signIn)
	r.Post("/sign-out", h.signOut)
}

func (h *BasketHandlers) getBasket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.baskets == nil {
		httpx.WriteError(ctx, w, httpx.NewError("basket_service_unavailable", "basket service is unavailable", http.StatusServiceUnavailable))
		return
	}

	basket, err := h.baskets.ActiveBasket(ctx)
	if err != nil {
		writeBasketError(ctx, w, err)
		return
	}

	setBasketResponseHeaders(w, basket)
	writeJSONResponse(w, http.StatusOK, basketResponse{Basket: buildBasketPayload(basket)})
}

func (h *BasketHandlers) getSubtotal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.baskets == nil {
		httpx.WriteError(ctx, w, httpx.NewError("basket_service_unavailable", "basket service is unavailable", http.StatusServiceUnavailable))
		return
	}

	subtotal, err := h.baskets.SelectedSubtotal(ctx)
	if err != nil {
		writeBasketError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"subtotal": subtotal.StringFixed(2)})
}

func (h *BasketHandlers) addEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.baskets == nil {
		httpx.WriteError(ctx, w, httpx.NewError("basket_service_unavailable", "basket service is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req struct {
		SKU   string `json:"sku"`
		Count int    `json:"count"`
	}
	if !decodeRequest(ctx, w, r, &req) {
		return
	}

	basket, err := h.baskets.AddEntry(ctx, services.AddEntryCommand{SKU: req.SKU, Count: req.Count})
	if err != nil {
		writeBasketError(ctx, w, err)
		return
	}

	setBasketResponseHeaders(w, basket)
	writeJSONResponse(w, http.StatusCreated, basketResponse{Basket: buildBasketPayload(basket)})
}

func (h *BasketHandlers) setCount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.baskets == nil {
		httpx.WriteError(ctx, w, httpx.NewError("basket_service_unavailable", "basket service is unavailable", http.StatusServiceUnavailable))
		return
	}

	sku := strings.TrimSpace(chi.URLParam(r, "sku"))
	var req struct {
		Count *int `json:"count"`
	}
	if !decodeRequest(ctx, w, r, &req) {
		return
	}
	if req.Count == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "count is required", http.StatusBadRequest))
		return
	}

	basket, err := h.baskets.SetCount(ctx, sku, *req.Count)
	if err != nil {
		writeBasketError(ctx, w, err)
		return
	}

	setBasketResponseHeaders(w, basket)
	writeJSONResponse(w, http.StatusOK, basketResponse{Basket: buildBasketPayload(basket)})
}

func (h *BasketHandlers) removeEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.baskets == nil {
		httpx.WriteError(ctx, w, httpx.NewError("basket_service_unavailable", "basket service is unavailable", http.StatusServiceUnavailable))
		return
	}

	sku := strings.TrimSpace(chi.URLParam(r, "sku"))
	basket, err := h.baskets.RemoveEntry(ctx, sku)
	if err != nil {
		writeBasketError(ctx, w, err)
		return
	}

	setBasketResponseHeaders(w, basket)
	writeJSONResponse(w, http.StatusOK, basketResponse{Basket: buildBasketPayload(basket)})
}

func (h *BasketHandlers) setSelection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.baskets == nil {
		httpx.WriteError(ctx, w, httpx.NewError("basket_service_unavailable", "basket service is unavailable", http.StatusServiceUnavailable))
		return
	}

	sku := strings.TrimSpace(chi.URLParam(r, "sku"))
	var req struct {
		Selected *bool `json:"selected"`
	}
	if !decodeRequest(ctx, w, r, &req) {
		return
	}
	if req.Selected == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "selected is required", http.StatusBadRequest))
		return
	}

	basket, err := h.baskets.SetSelected(ctx, sku, *req.Selected)
	if err != nil {
		writeBasketError(ctx, w, err)
		return
	}

	setBasketResponseHeaders(w, basket)
	writeJSONResponse(w, http.StatusOK, basketResponse{Basket: buildBasketPayload(basket)})
}

func (h *BasketHandlers) setAllSelection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.baskets == nil {
		httpx.WriteError(ctx, w, httpx.NewError("basket_service_unavailable", "basket service is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req struct {
		Selected *bool `json:"selected"`
	}
	if !decodeRequest(ctx, w, r, &req) {
		return
	}
	if req.Selected == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "selected is required", http.StatusBadRequest))
		return
	}

	var (
		basket services.Basket
		err    error
	)
	if *req.Selected {
		basket, err = h.baskets.SelectAll(ctx)
	} else {
		basket, err = h.baskets.DeselectAll(ctx)
	}
	if err != nil {
		writeBasketError(ctx, w, err)
		return
	}

	setBasketResponseHeaders(w, basket)
	writeJSONResponse(w, http.StatusOK, basketResponse{Basket: buildBasketPayload(basket)})
}

// signIn merges the anonymous basket into the shopper's own basket. The
// identity comes from the gateway headers, never from the request body.
func (h *BasketHandlers) signIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.baskets == nil {
		httpx.WriteError(ctx, w, httpx.NewError("basket_service_unavailable", "basket service is unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || identity.Anonymous {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "sign-in requires an identified shopper", http.StatusUnauthorized))
		return
	}

	basket, report, err := h.baskets.SignIn(ctx, identity.Key)
	if err != nil {
		writeBasketError(ctx, w, err)
		return
	}

	payload := basketResponse{Basket: buildBasketPayload(basket)}
	payload.Merge = &mergeReportPayload{
		Merged:  report.Merged,
		Kept:    report.Kept,
		Dropped: append([]string(nil), report.Dropped...),
	}
	setBasketResponseHeaders(w, basket)
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *BasketHandlers) signOut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.baskets == nil {
		httpx.WriteError(ctx, w, httpx.NewError("basket_service_unavailable", "basket service is unavailable", http.StatusServiceUnavailable))
		return
	}

	basket, err := h.baskets.SignOut(ctx)
	if err != nil {
		writeBasketError(ctx, w, err)
		return
	}

	setBasketResponseHeaders(w, basket)
	writeJSONResponse(w, http.StatusOK, basketResponse{Basket: buildBasketPayload(basket)})
}

func writeBasketError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrBasketInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrBasketEntryNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("basket_entry_not_found", "entry not found in basket", http.StatusNotFound))
	case errors.Is(err, services.ErrBasketCapacity):
		httpx.WriteError(ctx, w, httpx.NewError("basket_capacity_exceeded", fmt.Sprintf("basket holds at most %d distinct items", domain.MaxBasketEntries), http.StatusConflict))
	case errors.Is(err, catalog.ErrVariantNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("variant_not_found", "unknown product variant", http.StatusNotFound))
	case errors.Is(err, services.ErrBasketUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("basket_service_unavailable", "basket service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("basket_error", "basket operation failed", http.StatusInternalServerError))
	}
}

func setBasketResponseHeaders(w http.ResponseWriter, basket services.Basket) {
	w.Header().Set("Cache-Control", "no-store, no-cache, max-age=0, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	if !basket.UpdatedAt.IsZero() {
		w.Header().Set("Last-Modified", basket.UpdatedAt.UTC().Format(http.TimeFormat))
	}
}

type basketResponse struct {
	Basket basketPayload       `json:"basket"`
	Merge  *mergeReportPayload `json:"merge,omitempty"`
}

type mergeReportPayload struct {
	Merged  int      `json:"merged"`
	Kept    int      `json:"kept"`
	Dropped []string `json:"dropped,omitempty"`
}

type basketPayload struct {
	IdentityKey string               `json:"identityKey"`
	Entries     []basketEntryPayload `json:"entries"`
	EntryCount  int                  `json:"entryCount"`
	Capacity    int                  `json:"capacity"`
	UpdatedAt   string               `json:"updatedAt,omitempty"`
}

type basketEntryPayload struct {
	SKU           string `json:"sku"`
	ProductID     string `json:"productId"`
	SellerID      string `json:"sellerId"`
	Name          string `json:"name"`
	UnitPrice     string `json:"unitPrice"`
	LineTotal     string `json:"lineTotal"`
	Count         int    `json:"count"`
	Selected      bool   `json:"selected"`
	AgeRestricted bool   `json:"ageRestricted,omitempty"`
	AddedAt       string `json:"addedAt,omitempty"`
	UpdatedAt     string `json:"updatedAt,omitempty"`
}

func buildBasketPayload(basket services.Basket) basketPayload {
	entries := make([]basketEntryPayload, 0, len(basket.Entries))
	for _, entry := range basket.Entries {
		entries = append(entries, buildBasketEntryPayload(entry))
	}
	return basketPayload{
		IdentityKey: basket.IdentityKey,
		Entries:     entries,
		EntryCount:  len(entries),
		Capacity:    domain.MaxBasketEntries,
		UpdatedAt:   formatTime(basket.UpdatedAt),
	}
}

func buildBasketEntryPayload(entry services.BasketEntry) basketEntryPayload {
	payload := basketEntryPayload{
		SKU:           entry.SKU,
		ProductID:     entry.ProductID,
		SellerID:      entry.SellerID,
		Name:          entry.Product.Name,
		UnitPrice:     entry.Product.UnitPrice.StringFixed(2),
		LineTotal:     entry.LineTotal().StringFixed(2),
		Count:         entry.Count,
		Selected:      entry.Selected,
		AgeRestricted: entry.Product.AgeRestricted,
		AddedAt:       formatTime(entry.AddedAt),
	}
	if entry.UpdatedAt != nil {
		payload.UpdatedAt = formatTime(*entry.UpdatedAt)
	}
	return payload
}
