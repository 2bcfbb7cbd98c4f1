package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIdentityMiddlewareForwardsShopper(t *testing.T) {
	var seen *Identity
	handler := IdentityMiddleware("", "")(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/basket", nil)
	req.Header.Set(DefaultIdentityHeader, "user-42")
	req.Header.Set(DefaultEmailHeader, "shopper@example.com")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if seen == nil {
		t.Fatal("expected identity on context")
	}
	if seen.Key != "user-42" || seen.Anonymous {
		t.Fatalf("unexpected identity %+v", seen)
	}
	if seen.Email != "shopper@example.com" {
		t.Fatalf("unexpected email %q", seen.Email)
	}
}

func TestIdentityMiddlewareDefaultsToAnonymous(t *testing.T) {
	var key string
	handler := IdentityMiddleware("", "")(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		key = IdentityKey(r.Context())
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/basket", nil))

	if key != AnonymousKey {
		t.Fatalf("expected anonymous identity, got %q", key)
	}
}
