// Package render delegates tile and grid rasterisation to an external
// rendering engine over HTTP.
package render

import (
	"context"
	"encoding/json"
	"strings"
)

// Request carries everything the engine needs to rasterise one tile. SQL
// and GeometryType are optional overrides; InteractivityFields is only
// consulted for grid requests.
type Request struct {
	Database            string   `json:"database"`
	Table               string   `json:"table"`
	Style               string   `json:"style"`
	StyleVersion        string   `json:"style_version"`
	SQL                 string   `json:"sql,omitempty"`
	GeometryType        string   `json:"geom_type,omitempty"`
	InteractivityFields []string `json:"interactivity,omitempty"`
	Z                   int      `json:"z"`
	X                   int      `json:"x"`
	Y                   int      `json:"y"`
}

// Engine produces raster tiles and UTFGrid documents.
type Engine interface {
	Tile(ctx context.Context, req Request) ([]byte, error)
	Grid(ctx context.Context, req Request) (json.RawMessage, error)
}

// Error is a failed render carrying the engine's violation strings in the
// order the engine reported them. An empty Violations slice means the
// engine failed without a style diagnosis.
type Error struct {
	Violations []string
}

func (e *Error) Error() string {
	if len(e.Violations) == 0 {
		return "render failed"
	}
	return strings.Join(e.Violations, "; ")
}
