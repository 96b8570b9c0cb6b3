package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/ariefcatur/checkout-saga/internal/outbox"
)

var (
	ErrNotFound = errors.New("payment not found")
	// ErrExists means the order already has a live payment.
	ErrExists   = errors.New("payment already exists for order")
	ErrConflict = errors.New("payment modified concurrently")
)

// Patch is one persisted change. Nil pointers leave the field untouched.
type Patch struct {
	Status        Status
	At            time.Time
	GatewayRef    *string
	CheckoutURL   *string
	ExpiresAt     *time.Time
	FailureReason *string
}

type Store interface {
	Get(ctx context.Context, id string) (Payment, error)
	// Live returns the non-superseded payment of an order.
	Live(ctx context.Context, orderID string) (Payment, error)
	// Open inserts p as the live payment of its order. A live payment of a
	// lower attempt that did not succeed is superseded first, being cancelled
	// if still open. Otherwise ErrExists is returned with the live payment.
	// Closing the gateway session of a superseded payment is up to the
	// caller.
	Open(ctx context.Context, p Payment) (Payment, error)
	// Update applies patch if the payment is still in status from and
	// stores out with it. ErrConflict otherwise.
	Update(ctx context.Context, id string, from Status, p Patch, out []outbox.Record) (Payment, error)
	// ListStale returns live payments in status not updated since before.
	ListStale(ctx context.Context, status Status, before time.Time, limit int) ([]Payment, error)
}

// supersedes reports whether a payment of attempt replaces live.
func supersedes(live Payment, attempt int) bool {
	return attempt > live.Attempt && live.Status != StatusSuccessful && live.Status != StatusRefunded
}
