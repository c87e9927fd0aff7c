// Package shape holds the user's drawn outline and the uniform scale +
// placement that maps it onto the map.
package shape

import (
	"errors"
	"math"

	"github.com/paulmach/orb"

	"routetrace/internal/geo"
)

var (
	ErrEmptyShape      = errors.New("shape needs at least two points")
	ErrInvalidPoint    = errors.New("shape point has a non-finite coordinate")
	ErrDegenerateShape = errors.New("shape has zero width and zero height")
)

// Template is an immutable outline in local coordinates. The pivot used for
// scaling is the centre of its bounding box.
type Template struct {
	points   []orb.Point
	bound    orb.Bound
	centroid orb.Point
}

// NewTemplate copies pts and precomputes the bounding box and pivot.
func NewTemplate(pts []orb.Point) (*Template, error) {
	if len(pts) < 2 {
		return nil, ErrEmptyShape
	}
	own := make([]orb.Point, len(pts))
	for i, p := range pts {
		if !geo.Valid(p) {
			return nil, ErrInvalidPoint
		}
		own[i] = p
	}
	b := orb.MultiPoint(own).Bound()
	if b.Right()-b.Left() == 0 && b.Top()-b.Bottom() == 0 {
		return nil, ErrDegenerateShape
	}
	return &Template{points: own, bound: b, centroid: b.Center()}, nil
}

// Len is the number of vertices.
func (t *Template) Len() int { return len(t.points) }

// Points returns a copy of the local vertices.
func (t *Template) Points() []orb.Point { return append([]orb.Point(nil), t.points...) }

func (t *Template) Bound() orb.Bound { return t.bound }

func (t *Template) Centroid() orb.Point { return t.centroid }

// Width and Height of the local bounding box.
func (t *Template) Width() float64  { return t.bound.Right() - t.bound.Left() }
func (t *Template) Height() float64 { return t.bound.Top() - t.bound.Bottom() }

// MaxScale is the largest uniform scale at which the template's bounding box
// still fits inside b. Axes along which the template has no extent are ignored.
func (t *Template) MaxScale(b orb.Bound) float64 {
	s := math.Inf(1)
	if w := t.Width(); w > 0 {
		s = math.Min(s, (b.Right()-b.Left())/w)
	}
	if h := t.Height(); h > 0 {
		s = math.Min(s, (b.Top()-b.Bottom())/h)
	}
	return s
}

// Transform places a template: scale about its pivot, then move the pivot to
// Center. X maps to longitude, Y to latitude.
type Transform struct {
	Scale  float64   `json:"scale"`
	Center orb.Point `json:"center"`
}

// Apply maps one local point into geographic space.
func (tr Transform) Apply(t *Template, p orb.Point) orb.Point {
	return orb.Point{
		tr.Center[0] + tr.Scale*(p[0]-t.centroid[0]),
		tr.Center[1] + tr.Scale*(p[1]-t.centroid[1]),
	}
}

// Place maps every vertex, reusing dst when it has room.
func (t *Template) Place(tr Transform, dst []orb.Point) []orb.Point {
	dst = dst[:0]
	for _, p := range t.points {
		dst = append(dst, tr.Apply(t, p))
	}
	return dst
}
