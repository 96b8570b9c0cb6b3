package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/sony/gobreaker/v2"
)

const NameHosted = "hosted"

type HostedOptions struct {
	BaseURL    string
	APIKey     string
	SessionTTL time.Duration
	Client     *http.Client
}

var _ Gateway = (*Hosted)(nil)

// Hosted talks to a hosted-checkout provider over its JSON API. Calls go
// through a circuit breaker; 4xx answers do not trip it.
type Hosted struct {
	base string
	key  string
	ttl  time.Duration
	hc   *http.Client
	cb   *gobreaker.CircuitBreaker[[]byte]
}

// StatusError is a non-2xx answer of the provider.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string { return fmt.Sprintf("provider answered %d: %s", e.Code, e.Body) }

func NewHosted(o HostedOptions) *Hosted {
	if o.Client == nil {
		o.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if o.SessionTTL <= 0 {
		o.SessionTTL = 30 * time.Minute
	}
	return &Hosted{
		base: strings.TrimRight(o.BaseURL, "/"),
		key:  o.APIKey,
		ttl:  o.SessionTTL,
		hc:   o.Client,
		cb: gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:        NameHosted,
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
			IsSuccessful: func(err error) bool {
				var se *StatusError
				return err == nil || (errors.As(err, &se) && se.Code < http.StatusInternalServerError)
			},
		}),
	}
}

func (h *Hosted) Name() string { return NameHosted }

type hostedSession struct {
	ID                string    `json:"id"`
	URL               string    `json:"url,omitempty"`
	Status            string    `json:"status"`
	ExpiresAt         time.Time `json:"expires_at"`
	ClientReferenceID string    `json:"client_reference_id,omitempty"`
}

func (h *Hosted) OpenCheckout(ctx context.Context, req CheckoutRequest) (Session, error) {
	body, err := json.Marshal(map[string]any{
		"client_reference_id": req.PaymentID,
		"amount":              req.Amount.StringFixed(2),
		"currency":            strings.ToLower(req.Currency),
		"expires_at":          time.Now().Add(h.ttl).UTC(),
		"metadata":            map[string]string{"order_id": req.OrderID, "payment_id": req.PaymentID},
	})
	if err != nil {
		return Session{}, errors.Wrap(err, "marshal session")
	}
	raw, err := h.do(ctx, http.MethodPost, "/v1/checkout/sessions", body, req.PaymentID)
	if err != nil {
		return Session{}, errors.Wrap(err, "open checkout")
	}
	var s hostedSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return Session{}, errors.Wrap(err, "decode session")
	}
	if s.ID == "" {
		return Session{}, errors.New("provider returned session without id")
	}
	return Session{Ref: s.ID, CheckoutURL: s.URL, ExpiresAt: s.ExpiresAt}, nil
}

func (h *Hosted) SessionStatus(ctx context.Context, ref string) (SessionStatus, error) {
	raw, err := h.do(ctx, http.MethodGet, "/v1/checkout/sessions/"+url.PathEscape(ref), nil, "")
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return "", ErrSessionNotFound
	}
	if err != nil {
		return "", errors.Wrap(err, "get session")
	}
	var s hostedSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", errors.Wrap(err, "decode session")
	}
	switch st := SessionStatus(s.Status); st {
	case SessionOpen, SessionComplete, SessionExpired:
		return st, nil
	default:
		return "", errors.Errorf("unknown session status %q", s.Status)
	}
}

// CancelCheckout expires an open session. The provider answers 409 for a
// session that is no longer open; its status then tells paid from expired.
func (h *Hosted) CancelCheckout(ctx context.Context, ref string) error {
	path := "/v1/checkout/sessions/" + url.PathEscape(ref)
	raw, err := h.do(ctx, http.MethodPost, path+"/expire", nil, "")
	var se *StatusError
	switch {
	case errors.As(err, &se) && se.Code == http.StatusNotFound:
		return ErrSessionNotFound
	case errors.As(err, &se) && se.Code == http.StatusConflict:
		st, err := h.SessionStatus(ctx, ref)
		if err != nil {
			return err
		}
		if st == SessionComplete {
			return ErrSessionCompleted
		}
		return nil
	case err != nil:
		return errors.Wrap(err, "expire session")
	}
	var s hostedSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return errors.Wrap(err, "decode session")
	}
	if SessionStatus(s.Status) == SessionComplete {
		return ErrSessionCompleted
	}
	return nil
}

func (h *Hosted) do(ctx context.Context, method, path string, body []byte, idemKey string) ([]byte, error) {
	return h.cb.Execute(func() ([]byte, error) {
		var rd io.Reader = http.NoBody
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, h.base+path, rd)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+h.key)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if idemKey != "" {
			req.Header.Set("Idempotency-Key", idemKey)
		}
		resp, err := h.hc.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() { _ = resp.Body.Close() }()
		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, errors.Wrap(err, "read body")
		}
		if resp.StatusCode/100 != 2 {
			return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
		}
		return raw, nil
	})
}
