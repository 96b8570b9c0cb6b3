package inventory

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/ariefcatur/checkout-saga/internal/events"
	"github.com/ariefcatur/checkout-saga/internal/outbox"
)

var ErrProductNotFound = errors.New("product not found")

// Outcome builds the events written together with a reservation decision.
type Outcome func(r Reservation) ([]outbox.Record, error)

type Store interface {
	// Reserve decides the reservation of orderID once. A known order returns
	// its recorded reservation with applied=false and leaves stock alone.
	// The records from outcome are stored atomically with the decision.
	Reserve(ctx context.Context, orderID string, items []events.Item, outcome Outcome) (r Reservation, applied bool, err error)
	// Release restores the stock of a RESERVED order exactly once.
	Release(ctx context.Context, orderID string, items []events.Item) (released bool, err error)
	Product(ctx context.Context, id string) (Product, error)
	// SetStock creates or replaces a product.
	SetStock(ctx context.Context, p Product) error
}
