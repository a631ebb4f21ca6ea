// Package route normalizes designer-authored waypoint data into the flat
// traversal order used by the controller, and tracks a cursor within it.
//
// Authored files are externally maintained and imperfect; malformed segments
// degrade to warnings, never abort a merge.
package route

import (
	"encoding/json"
	"errors"
	"fmt"

	"route-runner/bot/internal/geom"
)

// ErrEmptyRoute is returned by operations that need at least one waypoint.
var ErrEmptyRoute = errors.New("empty route")

// Segment is an authored grouping of waypoints, optionally paired with a
// rally point where a one-time assist action should fire before traversal.
type Segment struct {
	Path  []geom.Vec2
	Rally *geom.Vec2
}

// RawRoute is the parsed authoring form: either a single implicit segment
// (flat point list, no rally points) or an ordered segment list.
type RawRoute struct {
	Flat      []geom.Vec2
	Segments  []Segment
	Segmented bool
}

// Warning records a non-fatal defect in authored data.
type Warning struct {
	Segment int
	Reason  string
}

func (w Warning) String() string {
	return fmt.Sprintf("segment %d: %s", w.Segment, w.Reason)
}

// FlatRoute is the merged traversal order. Built once, never mutated.
type FlatRoute []geom.Vec2

// point is the [x, y] wire form used by authored files.
type point [2]float64

func (p point) vec() geom.Vec2 { return geom.Vec2{X: p[0], Y: p[1]} }

type segmentJSON struct {
	Path  []point `json:"path"`
	Rally *point  `json:"rally"`
}

// ParseRaw decodes the authored route body. The element kind of the first
// entry decides the form: objects mean segments, pairs mean a flat list.
// In segment form, an element that fails to decode is kept as a warning and
// contributes nothing.
func ParseRaw(data []byte) (RawRoute, []Warning, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return RawRoute{}, nil, fmt.Errorf("parse route body: %w", err)
	}
	if len(elems) == 0 {
		return RawRoute{}, nil, nil
	}

	if isObject(elems[0]) {
		raw := RawRoute{Segmented: true, Segments: make([]Segment, 0, len(elems))}
		var warnings []Warning
		for i, elem := range elems {
			var sj segmentJSON
			if err := json.Unmarshal(elem, &sj); err != nil {
				warnings = append(warnings, Warning{Segment: i, Reason: fmt.Sprintf("unreadable segment: %v", err)})
				raw.Segments = append(raw.Segments, Segment{})
				continue
			}
			seg := Segment{}
			if sj.Path != nil {
				seg.Path = make([]geom.Vec2, len(sj.Path))
				for j, p := range sj.Path {
					seg.Path[j] = p.vec()
				}
			}
			if sj.Rally != nil {
				rally := sj.Rally.vec()
				seg.Rally = &rally
			}
			raw.Segments = append(raw.Segments, seg)
		}
		return raw, warnings, nil
	}

	var pts []point
	if err := json.Unmarshal(data, &pts); err != nil {
		return RawRoute{}, nil, fmt.Errorf("parse flat route: %w", err)
	}
	raw := RawRoute{Flat: make([]geom.Vec2, len(pts))}
	for i, p := range pts {
		raw.Flat[i] = p.vec()
	}
	return raw, nil, nil
}

func isObject(raw json.RawMessage) bool {
	for _, c := range raw {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		case '{':
			return true
		default:
			return false
		}
	}
	return false
}

// Flatten merges a raw route into the traversal order plus the rally points
// collected in segment order. A segment without a usable path yields a
// warning and contributes zero waypoints; its rally point is still kept so
// rally chains survive authoring gaps.
func Flatten(raw RawRoute) (FlatRoute, []geom.Vec2, []Warning) {
	if !raw.Segmented {
		return FlatRoute(raw.Flat), nil, nil
	}

	var (
		flat     FlatRoute
		rallies  []geom.Vec2
		warnings []Warning
	)
	for i, seg := range raw.Segments {
		if seg.Path == nil {
			warnings = append(warnings, Warning{Segment: i, Reason: "missing path"})
		} else {
			flat = append(flat, seg.Path...)
		}
		if seg.Rally != nil {
			rallies = append(rallies, *seg.Rally)
		}
	}
	return flat, rallies, warnings
}

// SegmentBaseIndex translates a UI-facing segment index into the flat index
// of that segment's first waypoint: the sum of point counts of all segments
// before it. Flat routes always answer 0.
func SegmentBaseIndex(raw RawRoute, segIdx int) int {
	if !raw.Segmented || segIdx <= 0 {
		return 0
	}
	if segIdx > len(raw.Segments) {
		segIdx = len(raw.Segments)
	}
	total := 0
	for _, seg := range raw.Segments[:segIdx] {
		total += len(seg.Path)
	}
	return total
}

// SegmentCounts returns the per-segment point counts, for UI listings.
// Flat routes report a single implicit segment.
func SegmentCounts(raw RawRoute) []int {
	if !raw.Segmented {
		if len(raw.Flat) == 0 {
			return nil
		}
		return []int{len(raw.Flat)}
	}
	counts := make([]int, len(raw.Segments))
	for i, seg := range raw.Segments {
		counts[i] = len(seg.Path)
	}
	return counts
}
