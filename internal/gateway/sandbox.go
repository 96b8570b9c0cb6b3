package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const NameSandbox = "sandbox"

type sandboxSession struct {
	status    SessionStatus
	expiresAt time.Time
	declined  string
}

var _ Gateway = (*Sandbox)(nil)

// Sandbox is an in-process provider for local runs. Sessions are settled
// through Complete, Expire and Decline, or expire on their own.
type Sandbox struct {
	name string
	ttl  time.Duration
	now  func() time.Time

	mu       sync.Mutex
	sessions map[string]*sandboxSession
	failNext error
}

func NewSandbox(name string, ttl time.Duration) *Sandbox {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Sandbox{
		name:     name,
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]*sandboxSession),
	}
}

func (s *Sandbox) Name() string { return s.name }

// SetClock replaces the time source.
func (s *Sandbox) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// FailNext makes the next OpenCheckout return err.
func (s *Sandbox) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

func (s *Sandbox) OpenCheckout(_ context.Context, req CheckoutRequest) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failNext; err != nil {
		s.failNext = nil
		return Session{}, err
	}
	ref := "cs_" + uuid.NewString()
	exp := s.now().Add(s.ttl)
	s.sessions[ref] = &sandboxSession{status: SessionOpen, expiresAt: exp}
	return Session{
		Ref:         ref,
		CheckoutURL: "https://sandbox.checkout.local/pay/" + ref + "?payment=" + req.PaymentID,
		ExpiresAt:   exp,
	}, nil
}

func (s *Sandbox) SessionStatus(_ context.Context, ref string) (SessionStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss, ok := s.sessions[ref]
	if !ok {
		return "", ErrSessionNotFound
	}
	if ss.status == SessionOpen && !s.now().Before(ss.expiresAt) {
		ss.status = SessionExpired
	}
	return ss.status, nil
}

// CancelCheckout closes ref. A cancelled session reads as expired.
func (s *Sandbox) CancelCheckout(_ context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss, ok := s.sessions[ref]
	if !ok {
		return ErrSessionNotFound
	}
	if ss.status == SessionComplete {
		return ErrSessionCompleted
	}
	ss.status = SessionExpired
	return nil
}

func (s *Sandbox) Complete(ref string) { s.set(ref, SessionComplete, "") }

func (s *Sandbox) Expire(ref string) { s.set(ref, SessionExpired, "") }

// Decline makes a direct charge of ref fail with reason.
func (s *Sandbox) Decline(ref, reason string) { s.set(ref, SessionOpen, reason) }

func (s *Sandbox) set(ref string, st SessionStatus, declined string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ss, ok := s.sessions[ref]; ok {
		ss.status = st
		ss.declined = declined
	}
}

const NameSandboxDirect = "sandbox-direct"

var (
	_ Gateway = (*Direct)(nil)
	_ Charger = (*Direct)(nil)
)

// Direct is the sandbox variant without webhooks: payments settle through
// Charge.
type Direct struct{ *Sandbox }

func NewDirect(sb *Sandbox) *Direct { return &Direct{Sandbox: sb} }

func (d *Direct) Name() string { return NameSandboxDirect }

func (d *Direct) Charge(_ context.Context, ref string) (ChargeResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ss, ok := d.sessions[ref]
	if !ok {
		return ChargeResult{}, ErrSessionNotFound
	}
	switch {
	case ss.declined != "":
		return ChargeResult{Reason: ss.declined}, nil
	case ss.status == SessionExpired || !d.now().Before(ss.expiresAt):
		ss.status = SessionExpired
		return ChargeResult{Reason: "checkout session expired"}, nil
	}
	ss.status = SessionComplete
	return ChargeResult{Success: true}, nil
}
