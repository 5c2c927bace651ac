// Package state holds the navigation state machine: the last observed
// location and whether a navigation is currently in flight.
//
// A Machine is not safe for concurrent use. It is owned by exactly one
// goroutine (the page observer loop), which also owns the settle timer.
package state

import (
	"time"

	"github.com/hazyhaar/spawatch/navwatch/internal/classify"
	"github.com/hazyhaar/spawatch/navwatch/navigation"
)

// Phase is the transition state.
type Phase int

const (
	Idle Phase = iota
	InTransition
)

func (p Phase) String() string {
	if p == InTransition {
		return "in_transition"
	}
	return "idle"
}

// transition describes the navigation currently in flight.
type transition struct {
	startedAt time.Time
	trigger   navigation.Location
}

// Outcome reports what one evaluation decided.
type Outcome struct {
	Verdict classify.Verdict
	// Started is set when the evaluation opened a new transition. The
	// caller emits Event and arms the settle timer.
	Started bool
	// Swallowed is set for a significant change seen while a transition
	// was already in flight.
	Swallowed bool
	Event     navigation.Event
}

// Machine is the single source of truth for the observed location and the
// transition phase.
type Machine struct {
	observed navigation.Location
	phase    Phase
	current  *transition
	now      func() time.Time
}

// New creates an idle Machine whose baseline is initial. now may be nil.
func New(initial navigation.Location, now func() time.Time) *Machine {
	if now == nil {
		now = time.Now
	}
	return &Machine{observed: initial, now: now}
}

// Evaluate classifies current against the observed location and updates
// state. The observed location always follows the raw current value, even
// for insignificant or swallowed changes, so small changes never pile up
// against a stale baseline.
func (m *Machine) Evaluate(current navigation.Location) Outcome {
	v := classify.Classify(m.observed, current)
	out := Outcome{Verdict: v}

	switch v {
	case classify.NoOp:
		return out
	case classify.Insignificant:
		m.observed = current
		return out
	}

	previous := m.observed
	m.observed = current

	if m.phase == InTransition {
		// Rapid navigations collapse into the first one; the settle window
		// is neither restarted nor extended.
		out.Swallowed = true
		return out
	}

	at := m.now()
	m.phase = InTransition
	m.current = &transition{startedAt: at, trigger: current}
	out.Started = true
	out.Event = navigation.NewNavigationStarted(current, previous, at)
	return out
}

// Settle closes the in-flight transition. It reports false when the machine
// is idle (a stale timer after a reset).
func (m *Machine) Settle() (navigation.Event, bool) {
	if m.phase != InTransition {
		return navigation.Event{}, false
	}
	m.phase = Idle
	m.current = nil
	return navigation.NewNavigationCompleted(m.observed, m.now()), true
}

// Reset discards any in-flight transition and rebases on loc. Used after a
// hard document reload.
func (m *Machine) Reset(loc navigation.Location) {
	m.observed = loc
	m.phase = Idle
	m.current = nil
}

// Observed returns the last observed location.
func (m *Machine) Observed() navigation.Location { return m.observed }

// Phase returns the transition phase.
func (m *Machine) Phase() Phase { return m.phase }

// StartedAt returns when the in-flight transition began, and whether one is
// in flight.
func (m *Machine) StartedAt() (time.Time, bool) {
	if m.current == nil {
		return time.Time{}, false
	}
	return m.current.startedAt, true
}

// Trigger returns the location that opened the in-flight transition.
func (m *Machine) Trigger() (navigation.Location, bool) {
	if m.current == nil {
		return navigation.Location{}, false
	}
	return m.current.trigger, true
}
