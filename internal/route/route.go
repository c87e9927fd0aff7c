// Package route turns a placement into the sequence of map positions the
// shape's vertices snap to.
package route

import (
	"github.com/paulmach/orb"

	"routetrace/internal/geo"
	"routetrace/internal/index"
	"routetrace/internal/shape"
)

// Index is the lookup Materialize needs.
type Index interface {
	Nearest(p orb.Point, maxRadiusMeters float64) (index.Entry, bool)
}

// Route is the snapped output. When a vertex has nothing within the snap
// radius the route stops there: Points holds the prefix, Complete is false
// and FailedVertex names the vertex. FailedVertex is -1 for complete routes.
type Route struct {
	Points       []orb.Point `json:"points"`
	Keys         []string    `json:"keys,omitempty"`
	Complete     bool        `json:"complete"`
	FailedVertex int         `json:"failedVertex"`
}

// Materialize snaps every placed vertex to its nearest feature. Point
// features snap to themselves, edges to the closest point on the segment.
func Materialize(idx Index, tpl *shape.Template, tr shape.Transform, snapRadiusMeters float64) Route {
	placed := tpl.Place(tr, nil)
	r := Route{
		Points:       make([]orb.Point, 0, len(placed)),
		Keys:         make([]string, 0, len(placed)),
		FailedVertex: -1,
	}
	for i, v := range placed {
		en, ok := idx.Nearest(v, snapRadiusMeters)
		if !ok {
			r.FailedVertex = i
			return r
		}
		r.Points = append(r.Points, en.Closest(v))
		r.Keys = append(r.Keys, en.Key)
	}
	r.Complete = true
	return r
}

// LineString is the snapped points as an orb geometry.
func (r Route) LineString() orb.LineString { return orb.LineString(r.Points) }

// LengthMeters is the great-circle length along the snapped points.
func (r Route) LengthMeters() float64 { return geo.PathLength(r.Points) }
