package route

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"route-runner/bot/internal/geom"
)

//go:embed routes/*.json
var embeddedRoutes embed.FS

// Metadata identifies where a route begins and which zone it traverses.
// The ids are opaque to the engine; mission hooks interpret them.
type Metadata struct {
	StartLocationID   int `json:"start_location_id"`
	DestinationZoneID int `json:"destination_zone_id"`
}

// File is one authored route document: an outpost approach path, the
// explorable route body (flat or segmented) and the location metadata.
type File struct {
	Name        string
	Meta        Metadata
	OutpostPath []geom.Vec2
	Raw         RawRoute
	Warnings    []Warning
}

type fileJSON struct {
	Name        string          `json:"name"`
	Metadata    Metadata        `json:"metadata"`
	OutpostPath []point         `json:"outpost_path"`
	Route       json.RawMessage `json:"route"`
}

func parseFile(name string, data []byte) (File, error) {
	var fj fileJSON
	if err := json.Unmarshal(data, &fj); err != nil {
		return File{}, fmt.Errorf("parse %s: %w", name, err)
	}
	f := File{Name: fj.Name, Meta: fj.Metadata}
	if f.Name == "" {
		f.Name = name
	}
	if len(fj.OutpostPath) > 0 {
		f.OutpostPath = make([]geom.Vec2, len(fj.OutpostPath))
		for i, p := range fj.OutpostPath {
			f.OutpostPath[i] = p.vec()
		}
	}
	if len(fj.Route) > 0 {
		raw, warnings, err := ParseRaw(fj.Route)
		if err != nil {
			return File{}, fmt.Errorf("route %s: %w", name, err)
		}
		f.Raw = raw
		f.Warnings = warnings
	}
	return f, nil
}

// Names lists the embedded demo routes.
func Names() []string {
	entries, err := fs.ReadDir(embeddedRoutes, "routes")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ".json"))
	}
	sort.Strings(names)
	return names
}

// Load reads an embedded route by name.
func Load(name string) (File, error) {
	data, err := embeddedRoutes.ReadFile("routes/" + name + ".json")
	if err != nil {
		return File{}, fmt.Errorf("load route %s: %w", name, err)
	}
	return parseFile(name, data)
}

// LoadPath reads an authored route document from disk, for routes maintained
// outside the binary.
func LoadPath(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("load route file: %w", err)
	}
	return parseFile(path, data)
}
