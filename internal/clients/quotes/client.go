// Package quotes requests per-seller delivery quotes from the pricing service.
package quotes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradeyard/checkout-api/internal/domain"
	"github.com/tradeyard/checkout-api/internal/services"
)

const defaultTimeout = 10 * time.Second

// Client issues quote requests over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option customises the quote client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// NewClient constructs a quote client for the given base URL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("quotes: base url is required")
	}
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type quoteRequestPayload struct {
	SellerID           string             `json:"sellerId"`
	DestinationCountry string             `json:"destinationCountry"`
	Items              []quoteItemPayload `json:"items"`
	ChangeOnly         bool               `json:"changeOnly,omitempty"`
}

type quoteItemPayload struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

type quoteResponsePayload struct {
	SellerID string               `json:"sellerId"`
	Options  []quoteOptionPayload `json:"options"`
}

type quoteOptionPayload struct {
	CarrierID     string `json:"carrierId"`
	Type          string `json:"type"`
	Price         string `json:"price"`
	Undeliverable bool   `json:"undeliverable"`
	Reason        string `json:"reason"`
}

// RequestQuotes fetches the delivery options for one seller group. The
// caller's generation tag is echoed back untouched so stale responses can
// be told apart from current ones.
func (c *Client) RequestQuotes(ctx context.Context, req services.QuoteRequest) (services.QuoteResponse, error) {
	items := make([]quoteItemPayload, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, quoteItemPayload{SKU: it.SKU, Quantity: it.Quantity})
	}
	body, err := json.Marshal(quoteRequestPayload{
		SellerID:           req.SellerID,
		DestinationCountry: req.DestinationCountry,
		Items:              items,
		ChangeOnly:         req.ChangeOnly,
	})
	if err != nil {
		return services.QuoteResponse{}, err
	}

	endpoint, err := url.JoinPath(c.baseURL, "v1", "quotes")
	if err != nil {
		return services.QuoteResponse{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return services.QuoteResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return services.QuoteResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return services.QuoteResponse{}, fmt.Errorf("quotes: status %d: %s", resp.StatusCode, drainError(resp.Body))
	}

	var payload quoteResponsePayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return services.QuoteResponse{}, err
	}
	return payload.toResponse(req)
}

func (p quoteResponsePayload) toResponse(req services.QuoteRequest) (services.QuoteResponse, error) {
	options := make([]domain.DeliveryOption, 0, len(p.Options))
	for _, opt := range p.Options {
		price := decimal.Zero
		if !opt.Undeliverable {
			parsed, err := decimal.NewFromString(strings.TrimSpace(opt.Price))
			if err != nil {
				return services.QuoteResponse{}, fmt.Errorf("quotes: bad price %q for %s: %w", opt.Price, opt.CarrierID, err)
			}
			price = parsed
		}
		options = append(options, domain.DeliveryOption{
			CarrierID:     strings.TrimSpace(opt.CarrierID),
			Type:          domain.DeliveryType(strings.TrimSpace(opt.Type)),
			Price:         price,
			Undeliverable: opt.Undeliverable,
			Reason:        strings.TrimSpace(opt.Reason),
		})
	}
	sellerID := strings.TrimSpace(p.SellerID)
	if sellerID == "" {
		sellerID = req.SellerID
	}
	return services.QuoteResponse{
		SellerID:   sellerID,
		Generation: req.Generation,
		Options:    options,
	}, nil
}

func drainError(r io.Reader) string {
	if r == nil {
		return ""
	}
	b, _ := io.ReadAll(io.LimitReader(r, 256))
	return strings.TrimSpace(string(b))
}
