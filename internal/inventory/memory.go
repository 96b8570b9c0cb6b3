package inventory

import (
	"context"
	"sync"
	"time"

	"github.com/ariefcatur/checkout-saga/internal/events"
	"github.com/ariefcatur/checkout-saga/internal/outbox"
)

var _ Store = (*MemoryStore)(nil)

type MemoryStore struct {
	mu       sync.Mutex
	products map[string]Product
	ledger   map[string]Reservation
	out      *outbox.Memory
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products: make(map[string]Product),
		ledger:   make(map[string]Reservation),
		out:      outbox.NewMemory(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Outbox() *outbox.Memory { return s.out }

func (s *MemoryStore) Reserve(_ context.Context, orderID string, items []events.Item, outcome Outcome) (Reservation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.ledger[orderID]; ok {
		recs, err := outcome(r)
		if err != nil {
			return Reservation{}, false, err
		}
		s.out.Append(recs...)
		return r, false, nil
	}

	items = Normalize(items)
	stock := make(map[string]int, len(items))
	for _, it := range items {
		if p, ok := s.products[it.ProductID]; ok {
			stock[it.ProductID] = p.Stock
		}
	}
	now := s.now()
	r := Reservation{OrderID: orderID, Items: items, Status: ReservationReserved, CreatedAt: now, UpdatedAt: now}
	next, err := Plan(stock, items)
	switch {
	case err == nil:
	case Rejection(err):
		r.Status, r.Reason, next = ReservationRejected, err.Error(), nil
	default:
		return Reservation{}, false, err
	}

	recs, err := outcome(r)
	if err != nil {
		return Reservation{}, false, err
	}
	for id, q := range next {
		p := s.products[id]
		p.Stock, p.UpdatedAt = q, now
		s.products[id] = p
	}
	s.ledger[orderID] = r
	s.out.Append(recs...)
	return r, true, nil
}

func (s *MemoryStore) Release(_ context.Context, orderID string, items []events.Item) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	r, ok := s.ledger[orderID]
	if !ok {
		s.ledger[orderID] = Reservation{OrderID: orderID, Items: Normalize(items), Status: ReservationReleased, CreatedAt: now, UpdatedAt: now}
		return false, nil
	}
	if r.Status != ReservationReserved {
		return false, nil
	}
	for _, it := range r.Items {
		p := s.products[it.ProductID]
		p.Stock += it.Quantity
		p.UpdatedAt = now
		s.products[it.ProductID] = p
	}
	r.Status, r.UpdatedAt = ReservationReleased, now
	s.ledger[orderID] = r
	return true, nil
}

func (s *MemoryStore) Product(_ context.Context, id string) (Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

func (s *MemoryStore) SetStock(_ context.Context, p Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.UpdatedAt = s.now()
	s.products[p.ID] = p
	return nil
}

// Reservation returns the ledger row of orderID.
func (s *MemoryStore) Reservation(orderID string) (Reservation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.ledger[orderID]
	return r, ok
}
