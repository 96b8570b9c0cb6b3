package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ariefcatur/checkout-saga/internal/events"
)

type recordingSink struct {
	sent []Record
	err  error
}

func (s *recordingSink) Send(_ context.Context, recs []Record) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, recs...)
	return nil
}

func TestBuild_RoutesByType(t *testing.T) {
	recs, err := Build("inventory",
		events.StockReservationResult{OrderID: "o-1", Success: true},
		events.ReleaseStock{OrderID: "o-2"},
	)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, events.TopicReservationResult, recs[0].Topic)
	assert.Equal(t, "o-1", recs[0].Key)
	assert.Equal(t, events.TopicReleaseStock, recs[1].Topic)
	assert.Equal(t, "o-2", recs[1].Key)
}

func TestRelay_FlushPublishesAndMarks(t *testing.T) {
	mem := NewMemory()
	recs, err := Build("order-api",
		events.ReserveStock{OrderID: "o-1"},
		events.ReserveStock{OrderID: "o-2"},
		events.ReserveStock{OrderID: "o-3"},
	)
	require.NoError(t, err)
	mem.Append(recs...)

	sink := &recordingSink{}
	r := NewRelay(mem, sink, time.Second, 2, zap.NewNop())

	n, err := r.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = r.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = r.Flush(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, sink.sent, 3)
}

func TestRelay_SinkFailureKeepsPending(t *testing.T) {
	mem := NewMemory()
	recs, err := Build("order-api", events.ReserveStock{OrderID: "o-1"})
	require.NoError(t, err)
	mem.Append(recs...)

	r := NewRelay(mem, &recordingSink{err: errors.New("broker down")}, time.Second, 10, zap.NewNop())
	_, err = r.Flush(context.Background())
	require.Error(t, err)

	pending, err := mem.Pending(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
