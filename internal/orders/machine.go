package orders

import (
	"fmt"
	"time"

	"github.com/ariefcatur/checkout-saga/internal/events"
)

// Decision is what the state machine wants done for one input. Steps in Path
// are persisted one by one; Emit is written with the last step. An empty Path
// with a non-empty Emit re-publishes without changing status.
type Decision struct {
	Path      []Status
	Emit      []events.Payload
	Reason    string
	PaymentID string
	Attempt   int
	// Discard explains why the input was dropped.
	Discard string
}

func (d Decision) Noop() bool { return len(d.Path) == 0 && len(d.Emit) == 0 }

func discard(format string, args ...any) Decision {
	return Decision{Discard: fmt.Sprintf(format, args...)}
}

// OnReservationResult advances a PENDING order once inventory answered.
func OnReservationResult(o Order, ev events.StockReservationResult) Decision {
	if o.Status != StatusPending {
		return discard("reservation result for %s order", o.Status)
	}
	if !ev.Success {
		return Decision{Path: []Status{StatusCancelled}, Reason: ev.FailureReason}
	}
	return Decision{
		Path: []Status{StatusConfirmed, StatusAwaitingPayment},
		Emit: []events.Payload{o.confirmed()},
	}
}

// OnPaymentResult settles an order waiting for payment. A failure is not
// compensated here: the user may still retry within the grace window.
// Failures only count for the current attempt. A success of an earlier
// attempt still pays the order, since the payment service never opens a new
// attempt over a session that was paid.
func OnPaymentResult(o Order, ev events.PaymentProcessed) Decision {
	if ev.PaymentID != "" && ev.PaymentID == o.PaymentID {
		return discard("result of payment %s already applied", ev.PaymentID)
	}
	if o.Status != StatusAwaitingPayment {
		return discard("payment result for %s order", o.Status)
	}
	if ev.Success {
		return Decision{Path: []Status{StatusPaid}, PaymentID: ev.PaymentID}
	}
	if ev.Attempt != o.PaymentAttempt {
		return discard("failure of payment attempt %d, order is on attempt %d", ev.Attempt, o.PaymentAttempt)
	}
	reason := ev.FailureReason
	if reason == "" && ev.Expired {
		reason = "payment session expired"
	}
	if reason == "" {
		reason = "payment failed"
	}
	return Decision{Path: []Status{StatusPaymentFailed}, PaymentID: ev.PaymentID, Reason: reason}
}

// OnPaymentFailedExpired is the only compensation path: a failed payment left
// unretried for grace cancels the order and releases its stock.
func OnPaymentFailedExpired(o Order, now time.Time, grace time.Duration) Decision {
	if o.Status != StatusPaymentFailed {
		return discard("order is %s", o.Status)
	}
	if now.Sub(o.UpdatedAt) < grace {
		return discard("payment failed %s ago, grace is %s", now.Sub(o.UpdatedAt), grace)
	}
	return Decision{
		Path:   []Status{StatusCancelled},
		Emit:   []events.Payload{events.ReleaseStock{OrderID: o.ID, Items: o.StockItems()}},
		Reason: o.FailureReason,
	}
}

// OnConfirmedStuck finishes a confirmation interrupted between its two steps.
func OnConfirmedStuck(o Order, now time.Time, after time.Duration) Decision {
	if o.Status != StatusConfirmed {
		return discard("order is %s", o.Status)
	}
	if now.Sub(o.UpdatedAt) < after {
		return discard("confirmed %s ago", now.Sub(o.UpdatedAt))
	}
	return Decision{
		Path: []Status{StatusAwaitingPayment},
		Emit: []events.Payload{o.confirmed()},
	}
}

// OnAwaitingPaymentTimeout fails an order whose payment never reported back.
func OnAwaitingPaymentTimeout(o Order, now time.Time, timeout time.Duration) Decision {
	if o.Status != StatusAwaitingPayment {
		return discard("order is %s", o.Status)
	}
	if now.Sub(o.UpdatedAt) < timeout {
		return discard("awaiting payment for %s", now.Sub(o.UpdatedAt))
	}
	return Decision{Path: []Status{StatusPaymentFailed}, Reason: "payment timeout"}
}

// OnPendingStale re-publishes the reservation request of an unanswered order.
func OnPendingStale(o Order, now time.Time, after time.Duration) Decision {
	if o.Status != StatusPending {
		return discard("order is %s", o.Status)
	}
	if now.Sub(o.UpdatedAt) < after {
		return discard("pending for %s", now.Sub(o.UpdatedAt))
	}
	return Decision{Emit: []events.Payload{events.ReserveStock{OrderID: o.ID, Items: o.StockItems()}}}
}

// OnRetryPayment reopens payment for a failed order.
func OnRetryPayment(o Order) (Decision, error) {
	if o.Status != StatusPaymentFailed {
		return Decision{}, &TransitionError{OrderID: o.ID, From: o.Status, To: StatusAwaitingPayment}
	}
	next := o
	next.PaymentAttempt++
	return Decision{
		Path:    []Status{StatusAwaitingPayment},
		Emit:    []events.Payload{next.confirmed()},
		Attempt: next.PaymentAttempt,
	}, nil
}

// OnComplete hands a paid order over to fulfillment.
func OnComplete(o Order) (Decision, error) {
	switch o.Status {
	case StatusCompleted:
		return discard("order already completed"), nil
	case StatusPaid:
		return Decision{Path: []Status{StatusCompleted}}, nil
	default:
		return Decision{}, &TransitionError{OrderID: o.ID, From: o.Status, To: StatusCompleted}
	}
}
