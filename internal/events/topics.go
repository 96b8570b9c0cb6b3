package events

const (
	TopicReserveStock      = "inventory.stock.reserve"
	TopicReservationResult = "inventory.stock.result"
	TopicReleaseStock      = "inventory.stock.release"
	TopicOrderConfirmed    = "order.confirmed"
	TopicPaymentProcessed  = "payment.processed"
	TopicChargeRequested   = "payment.charge.requested"
)

// Schema binds an event type to its topic.
type Schema struct {
	Type  Type
	Topic string
}

var registry = map[Type]Schema{
	TypeReserveStock:           {TypeReserveStock, TopicReserveStock},
	TypeStockReservationResult: {TypeStockReservationResult, TopicReservationResult},
	TypeReleaseStock:           {TypeReleaseStock, TopicReleaseStock},
	TypeOrderConfirmed:         {TypeOrderConfirmed, TopicOrderConfirmed},
	TypePaymentProcessed:       {TypePaymentProcessed, TopicPaymentProcessed},
	TypeChargeRequested:        {TypeChargeRequested, TopicChargeRequested},
}

// Lookup returns the schema registered for t.
func Lookup(t Type) (Schema, bool) {
	s, ok := registry[t]
	return s, ok
}

// Topics returns the topics carrying the given event types.
func Topics(types ...Type) []string {
	seen := make(map[string]bool, len(types))
	out := make([]string, 0, len(types))
	for _, t := range types {
		s, ok := registry[t]
		if !ok || seen[s.Topic] {
			continue
		}
		seen[s.Topic] = true
		out = append(out, s.Topic)
	}
	return out
}
