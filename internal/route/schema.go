package route

// SegmentDocument is one authored route segment: an ordered point list plus
// an optional rally point chained to the segment.
type SegmentDocument struct {
	Path  [][2]float64 `json:"path" jsonschema:"title=Segment path,description=Ordered waypoints authored as [x y] pairs"`
	Rally *[2]float64  `json:"rally,omitempty" jsonschema:"description=Optional rally point announced when the bot lingers nearby"`
}

// FileDocument models the JSON contract for authored route files. It is
// shared with the schema generator so route documents can be validated in
// editor tooling before the loader ever sees them. The loader also accepts
// a flat point list for the route body; the schema models the canonical
// segmented format.
type FileDocument struct {
	Name        string            `json:"name,omitempty" jsonschema:"title=Route name,description=Identifier shown in status output; defaults to the file name"`
	Metadata    Metadata          `json:"metadata,omitempty" jsonschema:"description=Start location and destination zone ids; opaque to the engine"`
	OutpostPath [][2]float64      `json:"outpost_path,omitempty" jsonschema:"description=Approach path walked before the traversal zone is entered"`
	Route       []SegmentDocument `json:"route" jsonschema:"description=Route body as an ordered list of segments"`
}
