// Package catalog looks up product variants from the catalog service.
package catalog

import (
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

const defaultTimeout = 5 * time.Second

// ErrVariantNotFound is returned when the catalog has no variant for a SKU.
var ErrVariantNotFound = errors.New("catalog: variant not found")

// Client fetches variant snapshots over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option customises the catalog client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// NewClient constructs a catalog client for the given base URL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("catalog: base url is required")
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

type variantPayload struct {
	SKU           string  `json:"sku"`
	ProductID     string  `json:"productId"`
	SellerID      string  `json:"sellerId"`
	Name          string  `json:"name"`
	UnitPrice     string  `json:"unitPrice"`
	WeightKg      float64 `json:"weightKg"`
	HeightCm      float64 `json:"heightCm"`
	WidthCm       float64 `json:"widthCm"`
	LengthCm      float64 `json:"lengthCm"`
	AgeRestricted bool    `json:"ageRestricted"`
}

// Variant resolves a single SKU to its current snapshot.
func (c *Client) Variant(ctx context.Context, sku string) (services.CatalogVariant, error) {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return services.CatalogVariant{}, ErrVariantNotFound
	}

	endpoint, err := url.JoinPath(c.baseURL, "v1", "variants", url.PathEscape(sku))
	if err != nil {
		return services.CatalogVariant{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return services.CatalogVariant{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return services.CatalogVariant{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return services.CatalogVariant{}, fmt.Errorf("%w: %s", ErrVariantNotFound, sku)
	}
	if resp.StatusCode >= 400 {
		return services.CatalogVariant{}, fmt.Errorf("catalog: variant status %d: %s", resp.StatusCode, drainError(resp.Body))
	}

	var payload variantPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return services.CatalogVariant{}, err
	}
	return payload.toVariant(sku)
}

func (p variantPayload) toVariant(fallbackSKU string) (services.CatalogVariant, error) {
	price, err := decimal.NewFromString(strings.TrimSpace(p.UnitPrice))
	if err != nil {
		return services.CatalogVariant{}, fmt.Errorf("catalog: bad unit price %q: %w", p.UnitPrice, err)
	}
	sku := strings.TrimSpace(p.SKU)
	if sku == "" {
		sku = fallbackSKU
	}
	return services.CatalogVariant{
		SKU:       sku,
		ProductID: strings.TrimSpace(p.ProductID),
		SellerID:  strings.TrimSpace(p.SellerID),
		Name:      strings.TrimSpace(p.Name),
		UnitPrice: price,
		WeightKg:  p.WeightKg,
		Dimensions: domain.Dimensions{
			Height: p.HeightCm,
			Width:  p.WidthCm,
			Length: p.LengthCm,
		},
		AgeRestricted: p.AgeRestricted,
	}, nil
}

func drainError(r io.Reader) string {
	if r == nil {
		return ""
	}
	b, _ := io.ReadAll(io.LimitReader(r, 256))
	return strings.TrimSpace(string(b))
}
