package payment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/checkout-saga/internal/outbox"
)

var _ Store = (*MemoryStore)(nil)

type MemoryStore struct {
	mu       sync.Mutex
	payments map[string]Payment
	live     map[string]string // order id -> payment id
	out      *outbox.Memory
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payments: make(map[string]Payment),
		live:     make(map[string]string),
		out:      outbox.NewMemory(),
	}
}

func (s *MemoryStore) Outbox() *outbox.Memory { return s.out }

func (s *MemoryStore) Get(_ context.Context, id string) (Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return Payment{}, ErrNotFound
	}
	return p, nil
}

func (s *MemoryStore) Live(_ context.Context, orderID string) (Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.live[orderID]
	if !ok {
		return Payment{}, ErrNotFound
	}
	return s.payments[id], nil
}

func (s *MemoryStore) Open(_ context.Context, p Payment) (Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.live[p.OrderID]; ok {
		cur := s.payments[id]
		if !supersedes(cur, p.Attempt) {
			return cur, ErrExists
		}
		if !cur.Status.Terminal() {
			cur.Status = StatusCancelled
			cur.FailureReason = "superseded by a new attempt"
			cur.UpdatedAt = p.CreatedAt
			s.payments[id] = cur
		}
	}
	s.payments[p.ID] = p
	s.live[p.OrderID] = p.ID
	return p, nil
}

func (s *MemoryStore) Update(_ context.Context, id string, from Status, pt Patch, out []outbox.Record) (Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return Payment{}, ErrNotFound
	}
	if p.Status != from {
		return Payment{}, ErrConflict
	}
	p.Status = pt.Status
	p.UpdatedAt = pt.At
	if pt.GatewayRef != nil {
		p.GatewayRef = *pt.GatewayRef
	}
	if pt.CheckoutURL != nil {
		p.CheckoutURL = *pt.CheckoutURL
	}
	if pt.ExpiresAt != nil {
		p.ExpiresAt = *pt.ExpiresAt
	}
	if pt.FailureReason != nil {
		p.FailureReason = *pt.FailureReason
	}
	s.payments[id] = p
	s.out.Append(out...)
	return p, nil
}

func (s *MemoryStore) ListStale(_ context.Context, status Status, before time.Time, limit int) ([]Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Payment
	for _, id := range s.live {
		p := s.payments[id]
		if p.Status == status && p.UpdatedAt.Before(before) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count returns the number of payment records, superseded ones included.
func (s *MemoryStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payments)
}
