package redisx

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ariefcatur/checkout-saga/internal/events"
)

func setupRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestDedup_SecondDeliveryDropped(t *testing.T) {
	client, mr := setupRedis(t)
	d := NewDedup(client, "inventory", time.Hour, zap.NewNop())

	calls := 0
	h := d.Wrap(func(context.Context, events.Envelope) error {
		calls++
		return nil
	})
	env := events.Envelope{EventID: "evt-1", EventType: events.TypeReserveStock}

	require.NoError(t, h(context.Background(), env))
	require.NoError(t, h(context.Background(), env))
	assert.Equal(t, 1, calls)
	assert.True(t, mr.Exists(DedupKey("inventory", "evt-1")))
	assert.Equal(t, time.Hour, mr.TTL(DedupKey("inventory", "evt-1")))
}

func TestDedup_FailedHandlerNotMarked(t *testing.T) {
	client, mr := setupRedis(t)
	d := NewDedup(client, "orders", 0, zap.NewNop())

	calls := 0
	h := d.Wrap(func(context.Context, events.Envelope) error {
		calls++
		if calls == 1 {
			return errors.New("store unavailable")
		}
		return nil
	})
	env := events.Envelope{EventID: "evt-2", EventType: events.TypePaymentProcessed}

	require.Error(t, h(context.Background(), env))
	assert.False(t, mr.Exists(DedupKey("orders", "evt-2")))

	require.NoError(t, h(context.Background(), env))
	assert.Equal(t, 2, calls)
}

func TestDedup_RedisDownFailsOpen(t *testing.T) {
	client, mr := setupRedis(t)
	d := NewDedup(client, "orders", 0, zap.NewNop())
	mr.Close()

	calls := 0
	h := d.Wrap(func(context.Context, events.Envelope) error {
		calls++
		return nil
	})
	require.NoError(t, h(context.Background(), events.Envelope{EventID: "evt-3"}))
	assert.Equal(t, 1, calls)
}

func TestLocker_Exclusive(t *testing.T) {
	client, mr := setupRedis(t)
	l := NewLocker(client)
	ctx := context.Background()

	release, ok, err := l.TryLock(ctx, "orders", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, "orders", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	assert.False(t, mr.Exists(SweepLockKey("orders")))

	_, ok, err = l.TryLock(ctx, "orders", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocker_ReleaseKeepsForeignLease(t *testing.T) {
	client, mr := setupRedis(t)
	l := NewLocker(client)
	ctx := context.Background()

	release, ok, err := l.TryLock(ctx, "payments", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// Lease expires and another replica takes it.
	mr.FastForward(2 * time.Second)
	_, ok, err = l.TryLock(ctx, "payments", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	release()
	assert.True(t, mr.Exists(SweepLockKey("payments")))
}

func TestStatusCache(t *testing.T) {
	client, _ := setupRedis(t)
	c := NewStatusCache(client)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "o-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "o-1", "PAID"))
	s, ok, err := c.Get(ctx, "o-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "PAID", s)

	require.NoError(t, c.Invalidate(ctx, "o-1"))
	_, ok, err = c.Get(ctx, "o-1")
	require.NoError(t, err)
	assert.False(t, ok)
}
