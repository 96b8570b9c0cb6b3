package orders

type Status string

const (
	StatusPending         Status = "PENDING"
	StatusConfirmed       Status = "CONFIRMED"
	StatusAwaitingPayment Status = "AWAITING_PAYMENT"
	StatusPaid            Status = "PAID"
	StatusCompleted       Status = "COMPLETED"
	StatusPaymentFailed   Status = "PAYMENT_FAILED"
	StatusCancelled       Status = "CANCELLED"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:         {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed:       {StatusAwaitingPayment: true, StatusCancelled: true},
	StatusAwaitingPayment: {StatusPaid: true, StatusPaymentFailed: true},
	// AWAITING_PAYMENT is re-entered only by a user-initiated retry.
	StatusPaymentFailed: {StatusCancelled: true, StatusAwaitingPayment: true},
	StatusPaid:          {StatusCompleted: true},
	StatusCompleted:     {},
	StatusCancelled:     {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}
