package route

import "route-runner/bot/internal/geom"

// Cursor tracks a position within a flat route. It is owned by exactly one
// controller and mutated only through Advance, SetIndex and Reset; there is
// no ambient or reflective access to its index.
type Cursor struct {
	flat  FlatRoute
	index int // -1 before the first advance
}

// NewCursor positions a cursor before the first waypoint.
func NewCursor(flat FlatRoute) *Cursor {
	return &Cursor{flat: flat, index: -1}
}

// Advance moves to the next waypoint and returns it. Returns false when the
// route is empty or exhausted; repeated calls visit 0..len-1 exactly once
// each, in order.
func (c *Cursor) Advance() (geom.Vec2, bool) {
	if c.index+1 >= len(c.flat) {
		return geom.Vec2{}, false
	}
	c.index++
	return c.flat[c.index], true
}

// Reset rewinds the cursor to before the first waypoint.
func (c *Cursor) Reset() {
	c.index = -1
}

// SetIndex repositions the cursor. Out-of-range values clamp into
// [0, len-1]; the applied index is returned. Empty routes are an error.
func (c *Cursor) SetIndex(i int) (int, error) {
	if len(c.flat) == 0 {
		return -1, ErrEmptyRoute
	}
	c.index = geom.Clamp(i, 0, len(c.flat)-1)
	return c.index, nil
}

// Index returns the current position, false before the first advance.
func (c *Cursor) Index() (int, bool) {
	if c.index < 0 {
		return -1, false
	}
	return c.index, true
}

// Current returns the waypoint under the cursor, false when unpositioned.
func (c *Cursor) Current() (geom.Vec2, bool) {
	if c.index < 0 || c.index >= len(c.flat) {
		return geom.Vec2{}, false
	}
	return c.flat[c.index], true
}

// Len reports the waypoint count.
func (c *Cursor) Len() int { return len(c.flat) }

// Waypoints exposes the underlying route for display. Callers must treat it
// as read-only; the route is never rebuilt after construction.
func (c *Cursor) Waypoints() FlatRoute { return c.flat }
