package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
)

func TestVariantDecodesSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/variants/SKU-1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"sku": "SKU-1",
			"productId": "p-1",
			"sellerId": "s-9",
			"name": "Desk lamp",
			"unitPrice": "349.90",
			"weightKg": 1.8,
			"heightCm": 40, "widthCm": 20, "lengthCm": 20,
			"ageRestricted": false
		}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	v, err := c.Variant(context.Background(), "SKU-1")
	if err != nil {
		t.Fatalf("variant: %v", err)
	}
	if v.SellerID != "s-9" || v.Name != "Desk lamp" {
		t.Fatalf("unexpected variant %+v", v)
	}
	if !v.UnitPrice.Equal(decimal.RequireFromString("349.90")) {
		t.Fatalf("unexpected price %s", v.UnitPrice)
	}
	if v.Dimensions.Height != 40 {
		t.Fatalf("unexpected dimensions %+v", v.Dimensions)
	}
}

func TestVariantNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no such variant", http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := c.Variant(context.Background(), "missing"); !errors.Is(err, ErrVariantNotFound) {
		t.Fatalf("expected ErrVariantNotFound, got %v", err)
	}
}

func TestVariantRejectsBadPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"sku":"x","unitPrice":"free"}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := c.Variant(context.Background(), "x"); err == nil {
		t.Fatal("expected price parse error")
	}
}
