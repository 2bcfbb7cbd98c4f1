package quotes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	domain "github.com/tradeyard/checkout-api/internal/domain"
	"github.com/tradeyard/checkout-api/internal/services"
)

func TestRequestQuotesEchoesGeneration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/quotes" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body["sellerId"] != "s1" || body["destinationCountry"] != "sk" {
			t.Errorf("unexpected request body %+v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"sellerId": "s1",
			"options": [
				{"carrierId": "rex", "type": "home_delivery", "price": "129.00"},
				{"carrierId": "parcelnet", "type": "delivery_point", "undeliverable": true, "reason": "over weight limit"}
			]
		}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	resp, err := c.RequestQuotes(context.Background(), services.QuoteRequest{
		SellerID:           "s1",
		DestinationCountry: "sk",
		Items:              []services.QuoteItem{{SKU: "a", Quantity: 2}},
		Generation:         7,
	})
	if err != nil {
		t.Fatalf("request quotes: %v", err)
	}
	if resp.Generation != 7 {
		t.Fatalf("expected generation echoed, got %d", resp.Generation)
	}
	if len(resp.Options) != 2 {
		t.Fatalf("expected 2 options, got %d", len(resp.Options))
	}
	if !resp.Options[0].Price.Equal(decimal.RequireFromString("129.00")) {
		t.Fatalf("unexpected price %s", resp.Options[0].Price)
	}
	if resp.Options[1].Type != domain.DeliveryTypeDeliveryPoint || !resp.Options[1].Undeliverable {
		t.Fatalf("unexpected option %+v", resp.Options[1])
	}
}

func TestRequestQuotesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quote backend down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := c.RequestQuotes(context.Background(), services.QuoteRequest{SellerID: "s1"}); err == nil {
		t.Fatal("expected error on 502")
	}
}
