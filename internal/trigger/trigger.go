// Package trigger fires a one-time action after sustained proximity to a
// point. The two-phase arm/confirm timer keeps a single-tick position
// flicker from spuriously firing an unrepeatable action.
package trigger

import (
	"time"

	"route-runner/bot/internal/geom"
)

// DefaultDebounce is the continuous-proximity window before firing.
const DefaultDebounce = 5 * time.Second

// Status reports the outcome of a Check call.
type Status uint8

const (
	// StatusIdle: outside the radius and nothing recorded yet.
	StatusIdle Status = iota
	// StatusArmed: proximity recorded, debounce still running. Leaving the
	// radius does not disarm; the first-seen instant is kept.
	StatusArmed
	// StatusFired: the action ran on this call.
	StatusFired
	// StatusConfirmed: already fired earlier; confirmed points are sticky
	// for the trigger's lifetime.
	StatusConfirmed
)

// Action runs exactly once per confirmed point.
type Action func(pt geom.Vec2)

// Trigger tracks arm/confirm state per point. Owned by one controller;
// not safe for concurrent use.
type Trigger struct {
	debounce  time.Duration
	action    Action
	firstSeen map[geom.Vec2]time.Time
	confirmed map[geom.Vec2]struct{}
}

// New builds a trigger around the action. A non-positive debounce falls
// back to DefaultDebounce.
func New(debounce time.Duration, action Action) *Trigger {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Trigger{
		debounce:  debounce,
		action:    action,
		firstSeen: make(map[geom.Vec2]time.Time),
		confirmed: make(map[geom.Vec2]struct{}),
	}
}

// Check advances the point's state given the player's position. The action
// fires on the first call at or after the debounce window, and only once.
func (t *Trigger) Check(now time.Time, point, playerPos geom.Vec2, radius float64) Status {
	if _, ok := t.confirmed[point]; ok {
		return StatusConfirmed
	}
	if geom.Dist(playerPos, point) >= radius {
		if _, armed := t.firstSeen[point]; armed {
			return StatusArmed
		}
		return StatusIdle
	}
	first, armed := t.firstSeen[point]
	if !armed {
		t.firstSeen[point] = now
		return StatusArmed
	}
	if now.Sub(first) < t.debounce {
		return StatusArmed
	}
	if t.action != nil {
		t.action(point)
	}
	t.confirmed[point] = struct{}{}
	return StatusFired
}

// Confirmed reports whether the point already fired.
func (t *Trigger) Confirmed(point geom.Vec2) bool {
	_, ok := t.confirmed[point]
	return ok
}

// Reset clears all arm and confirm state for a fresh run.
func (t *Trigger) Reset() {
	t.firstSeen = make(map[geom.Vec2]time.Time)
	t.confirmed = make(map[geom.Vec2]struct{})
}
