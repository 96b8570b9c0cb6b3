package outbox

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Relay polls the store and forwards unpublished records to the sink.
type Relay struct {
	store    Store
	sink     Sink
	interval time.Duration
	batch    int
	lg       *zap.Logger

	published metric.Int64Counter
}

func NewRelay(store Store, sink Sink, interval time.Duration, batch int, lg *zap.Logger) *Relay {
	if batch <= 0 {
		batch = 100
	}
	if interval <= 0 {
		interval = time.Second
	}
	counter, _ := otel.Meter("checkout-saga/outbox").Int64Counter("outbox.published")
	return &Relay{
		store:     store,
		sink:      sink,
		interval:  interval,
		batch:     batch,
		lg:        lg,
		published: counter,
	}
}

// Run flushes until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			for {
				n, err := r.Flush(ctx)
				if err != nil {
					r.lg.Warn("Outbox flush failed", zap.Error(err))
					break
				}
				if n < r.batch {
					break
				}
			}
		}
	}
}

// Flush publishes one batch and returns how many records were published.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	recs, err := r.store.Pending(ctx, r.batch)
	if err != nil {
		return 0, errors.Wrap(err, "fetch pending")
	}
	if len(recs) == 0 {
		return 0, nil
	}
	if err := r.sink.Send(ctx, recs); err != nil {
		return 0, errors.Wrap(err, "send")
	}
	ids := make([]string, len(recs))
	for i, rec := range recs {
		ids[i] = rec.ID
	}
	// A crash here republishes the batch; consumers dedupe by event id.
	if err := r.store.MarkPublished(ctx, ids); err != nil {
		return 0, errors.Wrap(err, "mark published")
	}
	if r.published != nil {
		r.published.Add(ctx, int64(len(recs)))
	}
	return len(recs), nil
}
