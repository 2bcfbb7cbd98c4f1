package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tradeyard/checkout-api/internal/domain"
	"github.com/tradeyard/checkout-api/internal/platform/auth"
	"github.com/tradeyard/checkout-api/internal/platform/httpx"
	"github.com/tradeyard/checkout-api/internal/services"
)

// CheckoutHandlers exposes the staged checkout endpoints.
type CheckoutHandlers struct {
	checkout services.CheckoutService
	limiter  *identityRateLimiter
}

// CheckoutOption customises the checkout handlers.
type CheckoutOption func(*CheckoutHandlers)

// NewCheckoutHandlers constructs handlers backed by the checkout service.
func NewCheckoutHandlers(checkout services.CheckoutService, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{checkout: checkout}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// WithCheckoutRateLimit throttles session creation and confirmation per
// shopper. A non-positive limit disables throttling.
func WithCheckoutRateLimit(limit int, window time.Duration) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.limiter = newIdentityRateLimiter(limit, window, nil)
	}
}

// Routes wires the /checkout endpoints onto the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/session", h.begin)
	r.Get("/session/{sessionId}", h.getSession)
	r.Delete("/session/{sessionId}", h.abandon)
	r.Put("/session/{sessionId}/information", h.submitInformation)
	r.Post("/session/{sessionId}/advance", h.advance)
	r.Post("/session/{sessionId}/back", h.stepBack)
	r.Get("/session/{sessionId}/summary", h.summary)
	r.Post("/session/{sessionId}/confirm", h.confirm)
}

func (h *CheckoutHandlers) begin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service is unavailable", http.StatusServiceUnavailable))
		return
	}
	if h.limiter != nil && !h.limiter.Allow(auth.IdentityKey(ctx)) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many checkout attempts; slow down", http.StatusTooManyRequests))
		return
	}

	session, err := h.checkout.Begin(ctx, auth.IdentityKey(ctx))
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, checkoutSessionResponse{Session: buildSessionPayload(session)})
}

func (h *CheckoutHandlers) getSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service is unavailable", http.StatusServiceUnavailable))
		return
	}

	session, err := h.checkout.Session(ctx, strings.TrimSpace(chi.URLParam(r, "sessionId")))
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, checkoutSessionResponse{Session: buildSessionPayload(session)})
}

func (h *CheckoutHandlers) abandon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service is unavailable", http.StatusServiceUnavailable))
		return
	}

	if err := h.checkout.Abandon(ctx, strings.TrimSpace(chi.URLParam(r, "sessionId"))); err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *CheckoutHandlers) submitInformation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req struct {
		Contact contactPayload `json:"contact"`
		Country string         `json:"country"`
	}
	if !decodeRequest(ctx, w, r, &req) {
		return
	}

	session, err := h.checkout.SubmitInformation(ctx, services.SubmitInformationCommand{
		SessionID: strings.TrimSpace(chi.URLParam(r, "sessionId")),
		Contact:   req.Contact.toContactInfo(),
		Country:   req.Country,
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, checkoutSessionResponse{Session: buildSessionPayload(session)})
}

func (h *CheckoutHandlers) advance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service is unavailable", http.StatusServiceUnavailable))
		return
	}

	session, err := h.checkout.AdvanceToPayment(ctx, strings.TrimSpace(chi.URLParam(r, "sessionId")))
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, checkoutSessionResponse{Session: buildSessionPayload(session)})
}

func (h *CheckoutHandlers) stepBack(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service is unavailable", http.StatusServiceUnavailable))
		return
	}

	session, err := h.checkout.StepBack(ctx, strings.TrimSpace(chi.URLParam(r, "sessionId")))
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, checkoutSessionResponse{Session: buildSessionPayload(session)})
}

func (h *CheckoutHandlers) summary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service is unavailable", http.StatusServiceUnavailable))
		return
	}

	summary, err := h.checkout.Summary(ctx, strings.TrimSpace(chi.URLParam(r, "sessionId")))
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"subtotal":      summary.Subtotal.StringFixed(2),
		"deliveryTotal": summary.DeliveryTotal.StringFixed(2),
		"grandTotal":    summary.GrandTotal.StringFixed(2),
	})
}

func (h *CheckoutHandlers) confirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service is unavailable", http.StatusServiceUnavailable))
		return
	}
	if h.limiter != nil && !h.limiter.Allow(auth.IdentityKey(ctx)) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many checkout attempts; slow down", http.StatusTooManyRequests))
		return
	}

	var req struct {
		TermsAccepted bool `json:"termsAccepted"`
		AgeConfirmed  bool `json:"ageConfirmed"`
	}
	if !decodeRequest(ctx, w, r, &req) {
		return
	}

	handoff, err := h.checkout.Confirm(ctx, services.ConfirmCheckoutCommand{
		SessionID:     strings.TrimSpace(chi.URLParam(r, "sessionId")),
		TermsAccepted: req.TermsAccepted,
		AgeConfirmed:  req.AgeConfirmed,
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"sessionId":   handoff.SessionID,
		"provider":    handoff.Provider,
		"redirectUrl": handoff.RedirectURL,
		"expiresAt":   formatTime(handoff.ExpiresAt),
	})
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var verr *services.ValidationError
	if errors.As(err, &verr) {
		httpx.WriteError(ctx, w, httpx.NewFieldError("contact details failed validation", verr.Fields))
		return
	}

	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutSessionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_session_not_found", "checkout session not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCheckoutNoSelection):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_no_selection", "no basket entries are selected for purchase", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutWrongStage):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_wrong_stage", "operation not allowed in the current checkout stage", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutGroupsIncomplete):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_groups_incomplete", "every seller group needs a completed delivery choice", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutTermsRequired):
		httpx.WriteError(ctx, w, httpx.NewError("terms_required", "terms and conditions must be accepted", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCheckoutAgeConfirmationRequired):
		httpx.WriteError(ctx, w, httpx.NewError("age_confirmation_required", "the order contains age-restricted items", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCheckoutPaymentFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_failed", "payment provider rejected the checkout", http.StatusBadGateway))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "checkout operation failed", http.StatusInternalServerError))
	}
}

type checkoutSessionResponse struct {
	Session checkoutSessionPayload `json:"session"`
}

type checkoutSessionPayload struct {
	ID            string          `json:"id"`
	Stage         string          `json:"stage"`
	Contact       *contactPayload `json:"contact,omitempty"`
	Country       string          `json:"country,omitempty"`
	TermsAccepted bool            `json:"termsAccepted"`
	AgeConfirmed  bool            `json:"ageConfirmed"`
	CreatedAt     string          `json:"createdAt,omitempty"`
	UpdatedAt     string          `json:"updatedAt,omitempty"`
}

type contactPayload struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone"`
	Street    string `json:"street"`
	City      string `json:"city"`
	Zip       string `json:"zip"`
}

func (p contactPayload) toContactInfo() domain.ContactInfo {
	return domain.ContactInfo{
		Email:     p.Email,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Phone:     p.Phone,
		Street:    p.Street,
		City:      p.City,
		Zip:       p.Zip,
	}
}

func buildSessionPayload(session services.CheckoutSession) checkoutSessionPayload {
	payload := checkoutSessionPayload{
		ID:            session.ID,
		Stage:         stageName(session.Stage),
		Country:       session.Country,
		TermsAccepted: session.TermsAccepted,
		AgeConfirmed:  session.AgeConfirmed,
		CreatedAt:     formatTime(session.CreatedAt),
		UpdatedAt:     formatTime(session.UpdatedAt),
	}
	if session.Contact != (domain.ContactInfo{}) {
		payload.Contact = &contactPayload{
			Email:     session.Contact.Email,
			FirstName: session.Contact.FirstName,
			LastName:  session.Contact.LastName,
			Phone:     session.Contact.Phone,
			Street:    session.Contact.Street,
			City:      session.Contact.City,
			Zip:       session.Contact.Zip,
		}
	}
	return payload
}

func stageName(stage domain.CheckoutStage) string {
	switch stage {
	case domain.StageInformation:
		return "information"
	case domain.StageDelivery:
		return "delivery"
	case domain.StagePayment:
		return "payment"
	default:
		return "basket"
	}
}
