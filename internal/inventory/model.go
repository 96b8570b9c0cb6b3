// Package inventory owns product stock and the per-order reservation ledger.
package inventory

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/checkout-saga/internal/events"
)

type Product struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Currency  string          `json:"currency"`
	Stock     int             `json:"stock"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type ReservationStatus string

const (
	ReservationReserved ReservationStatus = "RESERVED"
	ReservationRejected ReservationStatus = "REJECTED"
	// ReservationReleased is also written as a tombstone when a release
	// overtakes its reservation.
	ReservationReleased ReservationStatus = "RELEASED"
)

// Reservation is the ledger row of one order's reservation request.
type Reservation struct {
	OrderID   string
	Items     []events.Item
	Status    ReservationStatus
	Reason    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Result is the event answering the reservation request.
func (r Reservation) Result() events.StockReservationResult {
	res := events.StockReservationResult{OrderID: r.OrderID}
	switch r.Status {
	case ReservationReserved:
		res.Success = true
	case ReservationReleased:
		res.FailureReason = "reservation released"
	default:
		res.FailureReason = r.Reason
	}
	return res
}
