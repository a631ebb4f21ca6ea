package geom

import (
	"fmt"
	"math"
)

// Vec2 represents a 2D point. Coordinates carry no unit semantics beyond
// Euclidean distance; callers decide what a "unit" means.
type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Dist returns the Euclidean distance between a and b.
func Dist(a, b Vec2) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// Dist2 returns the squared distance, for comparisons that never need the root.
func Dist2(a, b Vec2) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return dx*dx + dy*dy
}

// Rounded returns the point with both coordinates truncated to integers.
// Movement commands are deduplicated on this grid.
func (v Vec2) Rounded() (int, int) {
	return int(v.X), int(v.Y)
}

// String renders the point on the rounded grid, matching the form used in
// status text.
func (v Vec2) String() string {
	x, y := v.Rounded()
	return fmt.Sprintf("(%d, %d)", x, y)
}

// Clamp bounds v into [lo, hi]. Out-of-range indices are always clamped,
// never rejected.
func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
