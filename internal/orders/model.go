package orders

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/checkout-saga/internal/events"
)

// LineItem captures the unit price at order time, decoupled from later
// catalog price changes.
type LineItem struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type Order struct {
	ID             string
	IdempotencyKey string
	CustomerID     string
	Currency       string
	Total          decimal.Decimal
	Items          []LineItem
	Status         Status
	FailureReason  string
	// PaymentAttempt grows on every user-initiated payment retry.
	PaymentAttempt int
	// PaymentID is the payment whose result was last applied.
	PaymentID string
	// Version increases on every persisted change.
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StockItems returns the reservation view of the order's lines.
func (o Order) StockItems() []events.Item {
	out := make([]events.Item, len(o.Items))
	for i, it := range o.Items {
		out[i] = events.Item{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	return out
}

func (o Order) confirmed() events.OrderConfirmed {
	return events.OrderConfirmed{
		OrderID:  o.ID,
		Amount:   o.Total,
		Currency: o.Currency,
		Attempt:  o.PaymentAttempt,
	}
}
