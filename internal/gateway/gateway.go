// Package gateway abstracts external payment providers behind a capability
// interface. Providers are selected by name through a Registry built from
// configuration.
package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	ErrUnknownProvider = errors.New("unknown payment provider")
	ErrSessionNotFound = errors.New("checkout session not found")
	ErrBadSignature    = errors.New("invalid webhook signature")
	ErrMalformedEvent  = errors.New("malformed webhook")
	// ErrSessionCompleted means the session was paid and can no longer be
	// cancelled.
	ErrSessionCompleted = errors.New("checkout session already completed")
)

type SessionStatus string

const (
	SessionOpen     SessionStatus = "open"
	SessionComplete SessionStatus = "complete"
	SessionExpired  SessionStatus = "expired"
)

type CheckoutRequest struct {
	PaymentID string
	OrderID   string
	Amount    decimal.Decimal
	Currency  string
}

type Session struct {
	Ref         string
	CheckoutURL string
	ExpiresAt   time.Time
}

// Gateway opens hosted checkouts and reports their status.
type Gateway interface {
	Name() string
	OpenCheckout(ctx context.Context, req CheckoutRequest) (Session, error)
	SessionStatus(ctx context.Context, ref string) (SessionStatus, error)
	// CancelCheckout closes an open session so it can no longer be paid.
	// A session that was paid first yields ErrSessionCompleted.
	CancelCheckout(ctx context.Context, ref string) error
}

type ChargeResult struct {
	Success bool
	Reason  string
}

// Charger is implemented by providers that settle synchronously instead of
// pushing webhooks.
type Charger interface {
	Charge(ctx context.Context, ref string) (ChargeResult, error)
}

type EventKind string

const (
	EventCheckoutCompleted EventKind = "checkout.completed"
	EventCheckoutExpired   EventKind = "checkout.expired"
	EventCheckoutCancelled EventKind = "checkout.cancelled"
	EventChargeFailed      EventKind = "charge.failed"
)

// Event is a gateway callback. PaymentID is the correlation token passed
// when the checkout was opened.
type Event struct {
	ID         string    `json:"id"`
	Kind       EventKind `json:"type"`
	PaymentID  string    `json:"payment_id"`
	SessionRef string    `json:"session_ref"`
	Reason     string    `json:"reason,omitempty"`
}

func ParseEvent(body []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return Event{}, errors.Wrap(ErrMalformedEvent, err.Error())
	}
	if ev.Kind == "" || ev.PaymentID == "" {
		return Event{}, errors.Wrap(ErrMalformedEvent, "missing type or payment id")
	}
	return ev, nil
}
