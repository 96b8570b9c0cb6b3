// Package events is the single schema module shared by every service taking
// part in the checkout saga: event names, topics, partition keys and payloads.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Type names an event kind on the wire.
type Type string

const (
	TypeReserveStock           Type = "ReserveStock"
	TypeStockReservationResult Type = "StockReservationResult"
	TypeReleaseStock           Type = "ReleaseStock"
	TypeOrderConfirmed         Type = "OrderConfirmed"
	TypePaymentProcessed       Type = "PaymentProcessedResult"
	TypeChargeRequested        Type = "ChargeRequested"
)

// Version of the envelope and payload contracts.
const Version = 1

// Envelope wraps every payload published on the event channel.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     Type            `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// Payload is implemented by every event body. Key is the partition key.
type Payload interface {
	EventType() Type
	Key() string
}

// Handler consumes a decoded envelope. A nil return acknowledges the event.
type Handler func(ctx context.Context, env Envelope) error

// Item is a (product, quantity) pair carried by stock events.
type Item struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type ReserveStock struct {
	OrderID string `json:"order_id"`
	Items   []Item `json:"items"`
}

type StockReservationResult struct {
	OrderID       string `json:"order_id"`
	Success       bool   `json:"success"`
	FailureReason string `json:"failure_reason,omitempty"`
}

type ReleaseStock struct {
	OrderID string `json:"order_id"`
	Items   []Item `json:"items"`
}

// OrderConfirmed is the payment trigger. Attempt grows on every
// user-initiated payment retry of the same order.
type OrderConfirmed struct {
	OrderID  string          `json:"order_id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Attempt  int             `json:"attempt"`
}

// PaymentProcessed reports a terminal payment. Attempt is the order's payment
// attempt the payment was opened for.
type PaymentProcessed struct {
	OrderID       string `json:"order_id"`
	PaymentID     string `json:"payment_id"`
	Attempt       int    `json:"attempt"`
	Success       bool   `json:"success"`
	Expired       bool   `json:"expired,omitempty"`
	GatewayRef    string `json:"gateway_ref,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// ChargeRequested is internal to the payment service and drives the direct
// charge flow for gateways that do not push webhooks.
type ChargeRequested struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
}

func (ReserveStock) EventType() Type           { return TypeReserveStock }
func (StockReservationResult) EventType() Type { return TypeStockReservationResult }
func (ReleaseStock) EventType() Type           { return TypeReleaseStock }
func (OrderConfirmed) EventType() Type         { return TypeOrderConfirmed }
func (PaymentProcessed) EventType() Type       { return TypePaymentProcessed }
func (ChargeRequested) EventType() Type        { return TypeChargeRequested }

func (e ReserveStock) Key() string           { return e.OrderID }
func (e StockReservationResult) Key() string { return e.OrderID }
func (e ReleaseStock) Key() string           { return e.OrderID }
func (e OrderConfirmed) Key() string         { return e.OrderID }
func (e PaymentProcessed) Key() string       { return e.OrderID }
func (e ChargeRequested) Key() string        { return e.OrderID }

// New wraps p into a fresh envelope stamped by producer.
func New(producer string, p Payload) (Envelope, error) {
	if _, ok := Lookup(p.EventType()); !ok {
		return Envelope{}, errors.Errorf("unknown event type %q", p.EventType())
	}
	body, err := json.Marshal(p)
	if err != nil {
		return Envelope{}, errors.Wrap(err, "marshal payload")
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     p.EventType(),
		EventVersion:  Version,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: p.Key(),
		Payload:       body,
	}, nil
}

// Parse decodes a raw message value into an envelope.
func Parse(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, errors.Wrap(err, "decode envelope")
	}
	if env.EventID == "" || env.EventType == "" {
		return Envelope{}, errors.New("envelope missing event id or type")
	}
	return env, nil
}

// Decode unwraps the payload of env into T, checking the event type.
func Decode[T Payload](env Envelope) (T, error) {
	var t T
	if env.EventType != t.EventType() {
		return t, errors.Errorf("event type %q, want %q", env.EventType, t.EventType())
	}
	if err := json.Unmarshal(env.Payload, &t); err != nil {
		return t, errors.Wrap(err, "decode payload")
	}
	return t, nil
}

// PartitionKey keeps all events of one order on one partition.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
