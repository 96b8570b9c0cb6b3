package orders

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/checkout-saga/internal/outbox"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps orders in process. Used for local runs and tests.
type MemoryStore struct {
	mu     sync.Mutex
	orders map[string]Order
	keys   map[string]string // idempotency key -> order id
	out    *outbox.Memory
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[string]Order),
		keys:   make(map[string]string),
		out:    outbox.NewMemory(),
	}
}

// Outbox exposes the events written with each change.
func (s *MemoryStore) Outbox() *outbox.Memory { return s.out }

func (s *MemoryStore) Create(_ context.Context, o Order, out []outbox.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.IdempotencyKey != "" {
		if _, ok := s.keys[o.IdempotencyKey]; ok {
			return ErrDuplicate
		}
		s.keys[o.IdempotencyKey] = o.ID
	}
	o.Items = append([]LineItem(nil), o.Items...)
	s.orders[o.ID] = o
	s.out.Append(out...)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	return o, nil
}

func (s *MemoryStore) GetByIdempotencyKey(ctx context.Context, key string) (Order, error) {
	s.mu.Lock()
	id, ok := s.keys[key]
	s.mu.Unlock()
	if !ok {
		return Order{}, ErrNotFound
	}
	return s.Get(ctx, id)
}

func (s *MemoryStore) Transition(_ context.Context, id string, version int, p Patch, out []outbox.Record) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	if o.Version != version {
		return Order{}, ErrConflict
	}
	o.Status = p.Status
	if p.FailureReason != nil {
		o.FailureReason = *p.FailureReason
	}
	if p.PaymentID != nil {
		o.PaymentID = *p.PaymentID
	}
	if p.PaymentAttempt != nil {
		o.PaymentAttempt = *p.PaymentAttempt
	}
	o.Version++
	o.UpdatedAt = p.At
	s.orders[id] = o
	s.out.Append(out...)
	return o, nil
}

func (s *MemoryStore) ListStale(_ context.Context, status Status, before time.Time, limit int) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Order
	for _, o := range s.orders {
		if o.Status == status && o.UpdatedAt.Before(before) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
