// Package payment creates payment sessions for confirmed orders and turns
// gateway outcomes into payment results for the order service.
package payment

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/checkout-saga/internal/events"
)

type Status string

const (
	// StatusPending is the internal state before the gateway was called.
	StatusPending    Status = "PENDING"
	StatusCreated    Status = "CREATED"
	StatusSuccessful Status = "SUCCESSFUL"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
	StatusExpired    Status = "EXPIRED"
	StatusRefunded   Status = "REFUNDED"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusSuccessful, StatusFailed, StatusCancelled, StatusExpired, StatusRefunded:
		return true
	}
	return false
}

type Payment struct {
	ID            string          `json:"id"`
	OrderID       string          `json:"order_id"`
	Attempt       int             `json:"attempt"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Status        Status          `json:"status"`
	Gateway       string          `json:"gateway"`
	GatewayRef    string          `json:"gateway_ref,omitempty"`
	CheckoutURL   string          `json:"checkout_url,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	ExpiresAt     time.Time       `json:"expires_at,omitzero"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Result is the event reporting a terminal payment to the order service.
func (p Payment) Result() events.PaymentProcessed {
	return events.PaymentProcessed{
		OrderID:       p.OrderID,
		PaymentID:     p.ID,
		Attempt:       p.Attempt,
		Success:       p.Status == StatusSuccessful,
		Expired:       p.Status == StatusExpired,
		GatewayRef:    p.GatewayRef,
		FailureReason: p.FailureReason,
	}
}
