package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestNewRouterDefaultMounts(t *testing.T) {
	router := NewRouter()

	t.Run("healthz", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rr := httptest.NewRecorder()

		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var body map[string]any
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if body["status"] != "ok" {
			t.Fatalf("expected status ok, got %v", body["status"])
		}
	})

	t.Run("unregistered group answers 501", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/basket/", nil)
		rr := httptest.NewRecorder()

		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusNotImplemented {
			t.Fatalf("expected status 501, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "not_implemented") {
			t.Fatalf("expected not_implemented envelope, got %s", rr.Body.String())
		}
	})

	t.Run("unknown route answers 404 envelope", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/nope", nil)
		rr := httptest.NewRecorder()

		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Fatalf("expected status 404, got %d", rr.Code)
		}
		var body map[string]any
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if body["error"] != errorNotFoundCode {
			t.Fatalf("expected %s, got %v", errorNotFoundCode, body["error"])
		}
	})
}

func TestNewRouterRegistrars(t *testing.T) {
	basketCalled := false
	router := NewRouter(WithBasketRoutes(func(r chi.Router) {
		basketCalled = true
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSONResponse(w, http.StatusOK, map[string]any{"ok": true})
		})
	}))

	if !basketCalled {
		t.Fatalf("expected basket registrar to run during construction")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/basket/", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}

func TestNewRouterWebhookMiddlewares(t *testing.T) {
	var sawHeader string
	guard := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sawHeader = r.Header.Get("X-Signature")
			if sawHeader == "" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}

	router := NewRouter(
		WithWebhookRoutes(func(r chi.Router) {
			r.Post("/pickup-points", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			})
		}),
		WithWebhookMiddlewares(guard),
	)

	unsigned := httptest.NewRecorder()
	router.ServeHTTP(unsigned, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/pickup-points", nil))
	if unsigned.Code != http.StatusUnauthorized {
		t.Fatalf("expected unsigned request rejected, got %d", unsigned.Code)
	}

	signedReq := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/pickup-points", nil)
	signedReq.Header.Set("X-Signature", "sig")
	signed := httptest.NewRecorder()
	router.ServeHTTP(signed, signedReq)
	if signed.Code != http.StatusNoContent {
		t.Fatalf("expected signed request accepted, got %d", signed.Code)
	}
	if sawHeader != "sig" {
		t.Fatalf("expected middleware to observe signature header, got %q", sawHeader)
	}
}
