package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rakrong1/ladicare-sub000/internal/domain"
	apperrors "github.com/rakrong1/ladicare-sub000/pkg/errors"
	"github.com/rakrong1/ladicare-sub000/pkg/httpclient"
)

// HTTPDoer sends a request. *httpclient.Client is the production doer.
type HTTPDoer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// productPayload is the product service's wire representation, also used as
// the cache encoding.
type productPayload struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	BasePrice     int64            `json:"base_price"`
	ImageURL      string           `json:"image_url"`
	StockQuantity int              `json:"stock_quantity"`
	Variants      []variantPayload `json:"variants,omitempty"`
}

type variantPayload struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Price         *int64 `json:"price,omitempty"`
	StockQuantity int    `json:"stock_quantity"`
	ImageURL      string `json:"image_url,omitempty"`
}

func (p *productPayload) toDomain() *domain.Product {
	out := &domain.Product{
		ID:            p.ID,
		Name:          p.Name,
		BasePrice:     p.BasePrice,
		ImageURL:      p.ImageURL,
		StockQuantity: max(p.StockQuantity, 0),
		Variants:      make([]domain.ProductVariant, 0, len(p.Variants)),
	}
	for _, v := range p.Variants {
		out.Variants = append(out.Variants, domain.ProductVariant{
			ID:            v.ID,
			Name:          v.Name,
			Price:         v.Price,
			StockQuantity: max(v.StockQuantity, 0),
			ImageURL:      v.ImageURL,
		})
	}
	return out
}

func payloadFromDomain(p *domain.Product) *productPayload {
	out := &productPayload{
		ID:            p.ID,
		Name:          p.Name,
		BasePrice:     p.BasePrice,
		ImageURL:      p.ImageURL,
		StockQuantity: p.StockQuantity,
	}
	for _, v := range p.Variants {
		out.Variants = append(out.Variants, variantPayload{
			ID:            v.ID,
			Name:          v.Name,
			Price:         v.Price,
			StockQuantity: v.StockQuantity,
			ImageURL:      v.ImageURL,
		})
	}
	return out
}

// Client looks products up in the product service.
type Client struct {
	http    HTTPDoer
	baseURL string
}

// NewClient creates a catalog client rooted at baseURL.
func NewClient(doer HTTPDoer, baseURL string) *Client {
	return &Client{http: doer, baseURL: strings.TrimRight(baseURL, "/")}
}

// GetProduct fetches a product with its variants and live stock. An unknown
// product yields ErrNotFound, a request the product service refuses yields
// ErrInvalidInput or ErrRejected, and an outage yields ErrServiceUnavail.
func (c *Client) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	endpoint := c.baseURL + "/api/v1/products/" + url.PathEscape(productID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create product request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		return nil, apperrors.NotFound("product", productID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, httpclient.ResponseError(resp, "product service")
	}
	defer resp.Body.Close()

	var envelope struct {
		Data *productPayload `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode product response: %w", err)
	}
	if envelope.Data == nil {
		return nil, apperrors.NotFound("product", productID)
	}
	return envelope.Data.toDomain(), nil
}
