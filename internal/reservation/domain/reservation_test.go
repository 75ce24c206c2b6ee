package domain

import (
	"testing"
	"time"
)

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusActive, StatusConfirmed, StatusExpired, StatusCancelled} {
		if !s.Valid() {
			t.Errorf("expected %q to be valid", s)
		}
	}
	if Status("pending").Valid() {
		t.Error("unknown status should not be valid")
	}
}

func TestStatusTerminal(t *testing.T) {
	if StatusActive.Terminal() {
		t.Error("active is the only non-terminal state")
	}
	for _, s := range []Status{StatusConfirmed, StatusExpired, StatusCancelled} {
		if !s.Terminal() {
			t.Errorf("expected %q to be terminal", s)
		}
	}
	if Status("bogus").Terminal() {
		t.Error("invalid status must not count as terminal")
	}
}

func TestHeldAt(t *testing.T) {
	now := time.Now()
	r := Reservation{Status: StatusActive, ReservedUntil: now.Add(time.Minute)}

	if !r.HeldAt(now) {
		t.Error("active unexpired hold should count")
	}
	if r.HeldAt(now.Add(2 * time.Minute)) {
		t.Error("past-deadline hold must not count, even while status is active")
	}

	r.Status = StatusCancelled
	if r.HeldAt(now) {
		t.Error("cancelled hold must not count")
	}
}
