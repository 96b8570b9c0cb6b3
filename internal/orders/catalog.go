package orders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/singleflight"
)

// ErrProductNotFound is returned by a Catalog for an unknown product.
var ErrProductNotFound = errors.New("product not found")

// Product is the catalog snapshot used to price and pre-check an order.
type Product struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency"`
	Stock    int             `json:"stock"`
}

// Catalog reads product snapshots. Reads are advisory: the reservation
// handler is the authority on stock.
type Catalog interface {
	Product(ctx context.Context, id string) (Product, error)
}

// CatalogFunc adapts a function to Catalog.
type CatalogFunc func(ctx context.Context, id string) (Product, error)

func (f CatalogFunc) Product(ctx context.Context, id string) (Product, error) { return f(ctx, id) }

var _ Catalog = (*CatalogClient)(nil)

// CatalogClient reads products from the inventory service over HTTP.
type CatalogClient struct {
	base string
	hc   *http.Client
	cb   *gobreaker.CircuitBreaker[Product]
	sf   singleflight.Group
}

func NewCatalogClient(baseURL string, timeout time.Duration) *CatalogClient {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &CatalogClient{
		base: strings.TrimRight(baseURL, "/"),
		hc:   &http.Client{Timeout: timeout},
		cb: gobreaker.NewCircuitBreaker[Product](gobreaker.Settings{
			Name:        "catalog",
			MaxRequests: 1,
			Timeout:     10 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
			// A missing product is an answer, not an outage.
			IsSuccessful: func(err error) bool { return err == nil || errors.Is(err, ErrProductNotFound) },
		}),
	}
}

func (c *CatalogClient) Product(ctx context.Context, id string) (Product, error) {
	v, err, _ := c.sf.Do(id, func() (any, error) {
		return c.cb.Execute(func() (Product, error) { return c.fetch(ctx, id) })
	})
	if err != nil {
		return Product{}, err
	}
	return v.(Product), nil
}

func (c *CatalogClient) fetch(ctx context.Context, id string) (Product, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/products/"+url.PathEscape(id), http.NoBody)
	if err != nil {
		return Product{}, errors.Wrap(err, "build request")
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return Product{}, errors.Wrap(err, "get product")
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return Product{}, ErrProductNotFound
	default:
		return Product{}, errors.Errorf("get product: status %d", resp.StatusCode)
	}
	var p Product
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return Product{}, errors.Wrap(err, "decode product")
	}
	return p, nil
}
