package redisx

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ariefcatur/checkout-saga/internal/events"
)

// Dedup filters redelivered events by event id. The mark is written only
// after the handler succeeded, so a crash mid-handler still redelivers.
// Redis failures fail open: state guards in the handlers stay authoritative.
type Dedup struct {
	rdb     redis.Cmdable
	service string
	ttl     time.Duration
	lg      *zap.Logger
}

func NewDedup(rdb redis.Cmdable, service string, ttl time.Duration, lg *zap.Logger) *Dedup {
	if ttl <= 0 {
		ttl = TTLDedup
	}
	return &Dedup{rdb: rdb, service: service, ttl: ttl, lg: lg}
}

// Seen reports whether eventID was already processed by this service.
func (d *Dedup) Seen(ctx context.Context, eventID string) bool {
	ok, err := Exists(ctx, d.rdb, DedupKey(d.service, eventID))
	if err != nil {
		d.lg.Warn("Dedup lookup failed", zap.String("event_id", eventID), zap.Error(err))
		return false
	}
	return ok
}

// Mark records eventID as processed.
func (d *Dedup) Mark(ctx context.Context, eventID string) {
	if err := d.rdb.Set(ctx, DedupKey(d.service, eventID), "1", d.ttl).Err(); err != nil {
		d.lg.Warn("Dedup mark failed", zap.String("event_id", eventID), zap.Error(err))
	}
}

// Wrap puts the filter in front of h.
func (d *Dedup) Wrap(h events.Handler) events.Handler {
	return func(ctx context.Context, env events.Envelope) error {
		if d.Seen(ctx, env.EventID) {
			d.lg.Info("Duplicate delivery dropped",
				zap.String("event_id", env.EventID),
				zap.String("event_type", string(env.EventType)),
				zap.String("order_id", env.CorrelationID),
			)
			return nil
		}
		if err := h(ctx, env); err != nil {
			return err
		}
		d.Mark(ctx, env.EventID)
		return nil
	}
}
