package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"

	"github.com/ariefcatur/checkout-saga/internal/outbox"
)

var (
	ErrNotFound = errors.New("order not found")
	// ErrConflict means the order changed since it was read.
	ErrConflict = errors.New("order modified concurrently")
	// ErrDuplicate means the idempotency key is already taken.
	ErrDuplicate = errors.New("order already exists")
)

// TransitionError is returned for a transition the state graph forbids.
type TransitionError struct {
	OrderID  string
	From, To Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order %s: cannot move from %s to %s", e.OrderID, e.From, e.To)
}

// Patch is one persisted step. Nil pointers leave the field untouched.
type Patch struct {
	Status         Status
	At             time.Time
	FailureReason  *string
	PaymentID      *string
	PaymentAttempt *int
}

// Store persists orders together with the events their changes emit.
type Store interface {
	// Create inserts o and out atomically. ErrDuplicate when o.IdempotencyKey exists.
	Create(ctx context.Context, o Order, out []outbox.Record) error
	Get(ctx context.Context, id string) (Order, error)
	GetByIdempotencyKey(ctx context.Context, key string) (Order, error)
	// Transition applies p and appends out if the order is still at version,
	// bumping the version. ErrConflict otherwise.
	Transition(ctx context.Context, id string, version int, p Patch, out []outbox.Record) (Order, error)
	// ListStale returns orders in status not updated since before, oldest first.
	ListStale(ctx context.Context, status Status, before time.Time, limit int) ([]Order, error)
}
