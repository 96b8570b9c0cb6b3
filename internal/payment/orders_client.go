package payment

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
)

// ErrOrderNotFound is returned by an OrderReader for an unknown order.
var ErrOrderNotFound = errors.New("order not found")

// OrderSnapshot is the authoritative view of an order used to open a payment.
type OrderSnapshot struct {
	ID             string          `json:"id"`
	Status         string          `json:"status"`
	Total          decimal.Decimal `json:"total"`
	Currency       string          `json:"currency"`
	PaymentAttempt int             `json:"payment_attempt"`
}

type OrderReader interface {
	Order(ctx context.Context, id string) (OrderSnapshot, error)
}

// OrderReaderFunc adapts a function to OrderReader.
type OrderReaderFunc func(ctx context.Context, id string) (OrderSnapshot, error)

func (f OrderReaderFunc) Order(ctx context.Context, id string) (OrderSnapshot, error) { return f(ctx, id) }

var _ OrderReader = (*OrderClient)(nil)

// OrderClient reads order snapshots from the order service.
type OrderClient struct {
	base string
	hc   *http.Client
	cb   *gobreaker.CircuitBreaker[OrderSnapshot]
}

func NewOrderClient(baseURL string, timeout time.Duration) *OrderClient {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &OrderClient{
		base: strings.TrimRight(baseURL, "/"),
		hc:   &http.Client{Timeout: timeout},
		cb: gobreaker.NewCircuitBreaker[OrderSnapshot](gobreaker.Settings{
			Name:        "orders",
			MaxRequests: 1,
			Timeout:     10 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
			// An unknown order does not count against the order service.
			IsSuccessful: func(err error) bool { return err == nil || errors.Is(err, ErrOrderNotFound) },
		}),
	}
}

func (c *OrderClient) Order(ctx context.Context, id string) (OrderSnapshot, error) {
	return c.cb.Execute(func() (OrderSnapshot, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/orders/"+url.PathEscape(id), http.NoBody)
		if err != nil {
			return OrderSnapshot{}, errors.Wrap(err, "build request")
		}
		resp, err := c.hc.Do(req)
		if err != nil {
			return OrderSnapshot{}, errors.Wrap(err, "get order")
		}
		defer func() { _ = resp.Body.Close() }()

		switch resp.StatusCode {
		case http.StatusOK:
		case http.StatusNotFound:
			return OrderSnapshot{}, ErrOrderNotFound
		default:
			return OrderSnapshot{}, errors.Errorf("get order: status %d", resp.StatusCode)
		}
		var o OrderSnapshot
		if err := json.NewDecoder(resp.Body).Decode(&o); err != nil {
			return OrderSnapshot{}, errors.Wrap(err, "decode order")
		}
		return o, nil
	})
}
