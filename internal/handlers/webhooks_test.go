package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/tradeyard/checkout-api/internal/services"
	"github.com/tradeyard/checkout-api/internal/shipping/points"
)

func newWebhookRouter(svc services.DeliveryService) chi.Router {
	r := chi.NewRouter()
	h := NewWebhookHandlers(svc, points.NewReconciler())
	h.Routes(r)
	return r
}

func TestWebhookHandlersAppliesSelection(t *testing.T) {
	svc := &stubDeliveryService{group: fixtureGroup()}
	router := newWebhookRouter(svc)

	payload := `{
		"identityKey": "user-7",
		"sellerId": "seller-a",
		"checkoutCountry": "cz",
		"event": {
			"packetPointId": "pp-221",
			"packetCountry": "CZ",
			"packetStreet": "Dlouha 12",
			"packetCity": "Praha",
			"packetZip": "110 00"
		}
	}`
	req := httptest.NewRequest(http.MethodPost, "/pickup-points", strings.NewReader(payload))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var body struct {
		Status string               `json:"status"`
		Group  deliveryGroupPayload `json:"group"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Status != "applied" {
		t.Fatalf("expected status applied, got %s", body.Status)
	}
	if svc.lastIdentityKey != "user-7" || svc.lastCountry != "cz" {
		t.Fatalf("unexpected apply call: identity=%s country=%s", svc.lastIdentityKey, svc.lastCountry)
	}
	if svc.lastSelection.PickupPointID != "pp-221" || svc.lastSelection.CarrierID != "parcelnet" {
		t.Fatalf("unexpected selection: %+v", svc.lastSelection)
	}
	if svc.lastSelection.SellerID != "seller-a" {
		t.Fatalf("expected selection tagged with seller-a, got %s", svc.lastSelection.SellerID)
	}
}

func TestWebhookHandlersWidgetClosed(t *testing.T) {
	svc := &stubDeliveryService{}
	router := newWebhookRouter(svc)

	payload := `{"identityKey":"user-7","sellerId":"seller-a","checkoutCountry":"cz","event":{"packetCancelled":true}}`
	req := httptest.NewRequest(http.MethodPost, "/pickup-points", strings.NewReader(payload))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"closed"`) {
		t.Fatalf("expected closed status, got %s", rr.Body.String())
	}
	if svc.lastSelection.PickupPointID != "" {
		t.Fatalf("expected no selection applied, got %+v", svc.lastSelection)
	}
}

func TestWebhookHandlersIgnoresUnknownShape(t *testing.T) {
	svc := &stubDeliveryService{}
	router := newWebhookRouter(svc)

	payload := `{"identityKey":"user-7","sellerId":"seller-a","checkoutCountry":"cz","event":{"somethingElse":"entirely"}}`
	req := httptest.NewRequest(http.MethodPost, "/pickup-points", strings.NewReader(payload))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"ignored"`) {
		t.Fatalf("expected ignored status, got %s", rr.Body.String())
	}
}

func TestWebhookHandlersRequiresIdentity(t *testing.T) {
	svc := &stubDeliveryService{}
	router := newWebhookRouter(svc)

	payload := `{"sellerId":"seller-a","event":{"packetPointId":"pp-221"}}`
	req := httptest.NewRequest(http.MethodPost, "/pickup-points", strings.NewReader(payload))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}
