package orders

import (
	"context"

	"go.uber.org/zap"

	"github.com/ariefcatur/checkout-saga/internal/events"
)

// ConsumedTopics are the topics the order service subscribes to.
func ConsumedTopics() []string {
	return events.Topics(events.TypeStockReservationResult, events.TypePaymentProcessed)
}

// Handle dispatches one inbound event. Malformed and foreign events are
// logged and acknowledged.
func (s *Service) Handle(ctx context.Context, env events.Envelope) error {
	switch env.EventType {
	case events.TypeStockReservationResult:
		ev, err := events.Decode[events.StockReservationResult](env)
		if err != nil {
			s.malformed(env, err)
			return nil
		}
		return s.HandleReservationResult(ctx, ev)
	case events.TypePaymentProcessed:
		ev, err := events.Decode[events.PaymentProcessed](env)
		if err != nil {
			s.malformed(env, err)
			return nil
		}
		return s.HandlePaymentResult(ctx, ev)
	default:
		s.lg.Debug("Ignoring event", zap.String("event_type", string(env.EventType)), zap.String("event_id", env.EventID))
		return nil
	}
}

func (s *Service) malformed(env events.Envelope, err error) {
	s.lg.Warn("Malformed event dropped",
		zap.String("event_id", env.EventID),
		zap.String("event_type", string(env.EventType)),
		zap.Error(err),
	)
}
