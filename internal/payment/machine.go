package payment

import (
	"fmt"

	"github.com/ariefcatur/checkout-saga/internal/gateway"
)

var validNext = map[Status]map[Status]bool{
	// A callback may overtake the write that stores the session.
	StatusPending: {StatusCreated: true, StatusSuccessful: true, StatusFailed: true, StatusCancelled: true, StatusExpired: true},
	StatusCreated: {StatusSuccessful: true, StatusFailed: true, StatusCancelled: true, StatusExpired: true},
}

func CanTransition(from, to Status) bool { return validNext[from][to] }

// Outcome is a settlement reported by a gateway.
type Outcome struct {
	Status Status
	Reason string
}

// FromEvent maps a webhook to an outcome. ok=false for kinds that carry none.
func FromEvent(ev gateway.Event) (Outcome, bool) {
	switch ev.Kind {
	case gateway.EventCheckoutCompleted:
		return Outcome{Status: StatusSuccessful}, true
	case gateway.EventCheckoutExpired:
		return Outcome{Status: StatusExpired, Reason: reasonOr(ev.Reason, "checkout session expired")}, true
	case gateway.EventCheckoutCancelled:
		return Outcome{Status: StatusCancelled, Reason: reasonOr(ev.Reason, "checkout cancelled")}, true
	case gateway.EventChargeFailed:
		return Outcome{Status: StatusFailed, Reason: reasonOr(ev.Reason, "charge failed")}, true
	}
	return Outcome{}, false
}

// FromCharge maps a direct charge answer to an outcome.
func FromCharge(res gateway.ChargeResult) Outcome {
	if res.Success {
		return Outcome{Status: StatusSuccessful}
	}
	return Outcome{Status: StatusFailed, Reason: reasonOr(res.Reason, "charge declined")}
}

// FromSession maps an authoritative session status seen by the sweep.
func FromSession(st gateway.SessionStatus) (Outcome, bool) {
	switch st {
	case gateway.SessionComplete:
		return Outcome{Status: StatusSuccessful}, true
	case gateway.SessionExpired:
		return Outcome{Status: StatusExpired, Reason: "checkout session expired"}, true
	}
	return Outcome{}, false
}

// Settle decides whether out applies to p. A terminal payment absorbs every
// further outcome; the empty string means apply.
func Settle(p Payment, out Outcome) (discard string) {
	if p.Status.Terminal() {
		return fmt.Sprintf("payment already %s", p.Status)
	}
	if !CanTransition(p.Status, out.Status) {
		return fmt.Sprintf("cannot move from %s to %s", p.Status, out.Status)
	}
	return ""
}

func reasonOr(reason, def string) string {
	if reason != "" {
		return reason
	}
	return def
}
