package pipeline

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// EditKind is the kind of change reported by the drawing surface.
type EditKind int

const (
	// EditCreate is a newly drawn feature.
	EditCreate EditKind = iota
	// EditUpdate is a moved vertex or dragged feature.
	EditUpdate
	// EditDelete is a removed feature.
	EditDelete
)

func (k EditKind) String() string {
	switch k {
	case EditCreate:
		return "draw.create"
	case EditUpdate:
		return "draw.update"
	case EditDelete:
		return "draw.delete"
	default:
		return "unknown"
	}
}

// ParseEditKind accepts both the drawing surface event names ("draw.update")
// and their short forms ("update").
func ParseEditKind(s string) (EditKind, error) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "draw.") {
	case "create":
		return EditCreate, nil
	case "update":
		return EditUpdate, nil
	case "delete":
		return EditDelete, nil
	default:
		return 0, eris.Errorf("pipeline: unknown edit kind %q", s)
	}
}

// Edit is one event from the drawing surface. Features is the full current
// collection after the change and may be nil or empty.
type Edit struct {
	Kind     EditKind
	Features *geojson.FeatureCollection
}
