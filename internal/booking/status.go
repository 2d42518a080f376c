// Package booking owns the booking lifecycle: the status enum, the legal
// transitions between statuses, and the guards callers must satisfy.
package booking

import (
	"fmt"

	"github.com/example/package-dispatch/internal/models"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusPickedUp  Status = "picked-up"
	StatusOnTheWay  Status = "on-the-way"
	StatusDelivered Status = "delivered"
	// StatusExpired is a server-side terminal branch from pending: the
	// offer window elapsed with no driver accepting.
	StatusExpired Status = "expired"
)

// rank orders the canonical delivery progression. Expired sits outside
// the progression and is handled explicitly in CanTransition.
var rank = map[Status]int{
	StatusPending:   0,
	StatusAccepted:  1,
	StatusPickedUp:  2,
	StatusOnTheWay:  3,
	StatusDelivered: 4,
}

func Parse(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", models.ErrValidation, s)
	}
	return st, nil
}

func (s Status) Valid() bool {
	if s == StatusExpired {
		return true
	}
	_, ok := rank[s]
	return ok
}

func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusExpired
}

// CanTransition reports whether a booking may move from one status to the
// next. Rules: never backward, never out of a terminal state, never skip
// into accepted (acceptance happens only through the claim compare-and-set),
// and expired is reachable only from pending.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() || from.Terminal() {
		return false
	}
	if to == StatusExpired {
		return from == StatusPending
	}
	if to == StatusAccepted {
		// pending->accepted goes through Store.ClaimBooking, not a
		// caller-supplied status update.
		return false
	}
	return rank[to] > rank[from]
}

// Transition validates from->to and returns ErrConflict on an illegal move.
func Transition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: cannot transition booking from %s to %s", models.ErrConflict, from, to)
	}
	return nil
}
