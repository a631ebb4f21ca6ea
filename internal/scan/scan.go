// Package scan gates hostile-sensing queries behind a distance-or-time
// throttle. Naive per-tick world queries dominate the cost of this kind of
// control loop; the gate trades bounded staleness for throughput.
package scan

import (
	"time"

	"route-runner/bot/internal/geom"
)

const (
	// DefaultInterval is the elapsed-time half of the gate.
	DefaultInterval = 500 * time.Millisecond
	// DefaultMoveRatio scales the aggro range into the moved-distance half
	// of the gate.
	DefaultMoveRatio = 0.75
)

// EntityID identifies a sensed entity. Zero means none.
type EntityID uint64

// Hostile is one sensed entity as reported by the host's sensing layer.
type Hostile struct {
	ID    EntityID
	Pos   geom.Vec2
	Alive bool
}

// QueryFunc fetches hostiles around pos. Errors are absorbed by the scanner
// as "nothing sensed this tick"; they never propagate.
type QueryFunc func(pos geom.Vec2, radius float64) ([]Hostile, error)

// Result is the scanner's cached answer: the nearest live hostile within
// aggro range at the last time the gate fired.
type Result struct {
	Target EntityID
	Pos    geom.Vec2
	Found  bool
}

// Config tunes the gate. Zero values fall back to the defaults derived from
// the aggro range.
type Config struct {
	AggroRange    float64
	MoveThreshold float64
	Interval      time.Duration
}

// Scanner owns the gate state and the cached result. Owned by exactly one
// controller; not safe for concurrent use.
type Scanner struct {
	query      QueryFunc
	aggroRange float64
	moveThresh float64
	interval   time.Duration

	lastPos  geom.Vec2
	lastFire time.Time
	cached   Result
	snapshot []Hostile

	fired      uint64
	suppressed uint64
}

// New builds a scanner over the given query.
func New(cfg Config, query QueryFunc) *Scanner {
	moveThresh := cfg.MoveThreshold
	if moveThresh <= 0 {
		moveThresh = cfg.AggroRange * DefaultMoveRatio
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scanner{
		query:      query,
		aggroRange: cfg.AggroRange,
		moveThresh: moveThresh,
		interval:   interval,
	}
}

// Scan returns the nearest live hostile within aggro range of pos. The
// underlying query only runs when pos has moved at least the move threshold
// since the last sample, or the interval has elapsed; otherwise the cached
// result is returned unchanged. The first call always fires.
func (s *Scanner) Scan(now time.Time, pos geom.Vec2) Result {
	moved := geom.Dist(pos, s.lastPos)
	if !s.lastFire.IsZero() && moved < s.moveThresh && now.Sub(s.lastFire) < s.interval {
		s.suppressed++
		return s.cached
	}

	s.fired++
	s.lastPos = pos
	s.lastFire = now

	hostiles, err := s.query(pos, s.aggroRange)
	if err != nil {
		s.cached = Result{}
		s.snapshot = nil
		return s.cached
	}

	s.snapshot = s.snapshot[:0]
	best := Result{}
	bestDist := 0.0
	for _, h := range hostiles {
		d := geom.Dist(pos, h.Pos)
		if d > s.aggroRange {
			continue
		}
		// Dead entities stay in the sample so a caller can tell "target
		// died" apart from "target no longer sensed".
		s.snapshot = append(s.snapshot, h)
		if !h.Alive {
			continue
		}
		// Strict less keeps the first-reported hostile on ties; report
		// order is the sensing layer's stable order, not redefined here.
		if !best.Found || d < bestDist {
			best = Result{Target: h.ID, Pos: h.Pos, Found: true}
			bestDist = d
		}
	}
	s.cached = best
	return s.cached
}

// Cached returns the current result without consulting the gate.
func (s *Scanner) Cached() Result { return s.cached }

// Lookup finds an entity in the last fired sample. A miss means the entity
// was not sensed in range when the gate last fired.
func (s *Scanner) Lookup(id EntityID) (Hostile, bool) {
	if id == 0 {
		return Hostile{}, false
	}
	for _, h := range s.snapshot {
		if h.ID == id {
			return h, true
		}
	}
	return Hostile{}, false
}

// LastSample reports the origin and time of the last fired query.
func (s *Scanner) LastSample() (geom.Vec2, time.Time) {
	return s.lastPos, s.lastFire
}

// Stats reports fired and suppressed scan counts since the last reset.
func (s *Scanner) Stats() (fired, suppressed uint64) {
	return s.fired, s.suppressed
}

// ResetStats clears the scan counters for the next reporting window.
func (s *Scanner) ResetStats() {
	s.fired, s.suppressed = 0, 0
}
