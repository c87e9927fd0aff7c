// Package fitness scores how closely a placed shape follows nearby roads.
package fitness

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"routetrace/internal/geo"
	"routetrace/internal/index"
)

const (
	DefaultSearchRadiusMeters = 100.0
	DefaultSnapRadiusMeters   = 500.0
	// DefaultFirstFallbackKm is charged when the first vertex finds no crossing.
	DefaultFirstFallbackKm = 0.1

	maxSlope = 100.0
)

// Invalid is the fitness of an unusable placement. It sorts after every
// real score.
var Invalid = math.Inf(1)

var (
	ErrNoNearbyFeature = errors.New("no map feature near shape vertex")
	ErrZeroScale       = errors.New("placement has zero scale")
)

// NoNearbyFeatureError names the vertex that could not be snapped.
type NoNearbyFeatureError struct {
	Vertex int
	At     orb.Point
	Radius float64
}

func (e *NoNearbyFeatureError) Error() string {
	return fmt.Sprintf("vertex %d at (%.6f, %.6f): nothing within %.0f m", e.Vertex, e.At[0], e.At[1], e.Radius)
}

func (e *NoNearbyFeatureError) Unwrap() error { return ErrNoNearbyFeature }

// Index is the part of the spatial index the evaluator queries.
type Index interface {
	RangeSearch(center orb.Point, radiusMeters float64, kinds ...index.Kind) []index.Entry
	Nearest(p orb.Point, maxRadiusMeters float64) (index.Entry, bool)
}

// Evaluator implements the perpendicular-deviation score. It holds no
// mutable state and may be shared across goroutines.
type Evaluator struct {
	idx             Index
	searchRadius    float64
	snapRadius      float64
	firstFallbackKm float64
}

type Option func(*Evaluator)

// WithSearchRadius sets the probe half-length and edge search radius.
func WithSearchRadius(m float64) Option { return func(e *Evaluator) { e.searchRadius = m } }

// WithSnapRadius sets the radius within which every vertex must find a feature.
func WithSnapRadius(m float64) Option { return func(e *Evaluator) { e.snapRadius = m } }

// WithFirstFallback sets the distance charged to a first vertex without a crossing.
func WithFirstFallback(km float64) Option { return func(e *Evaluator) { e.firstFallbackKm = km } }

func New(idx Index, opts ...Option) *Evaluator {
	e := &Evaluator{
		idx:             idx,
		searchRadius:    DefaultSearchRadiusMeters,
		snapRadius:      DefaultSnapRadiusMeters,
		firstFallbackKm: DefaultFirstFallbackKm,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Evaluator) SearchRadius() float64 { return e.searchRadius }
func (e *Evaluator) SnapRadius() float64   { return e.snapRadius }

// Evaluate scores placed vertices (already in geographic space) that were
// produced with the given scale. Lower is better; 0 is a perfect trace. When
// a vertex has nothing within the snap radius the result is Invalid together
// with a *NoNearbyFeatureError.
func (e *Evaluator) Evaluate(vertices []orb.Point, scale float64) (float64, error) {
	if scale == 0 || math.IsNaN(scale) {
		return Invalid, ErrZeroScale
	}
	n := len(vertices)
	if n == 0 {
		return Invalid, &NoNearbyFeatureError{Vertex: 0, Radius: e.snapRadius}
	}
	half := geo.MetersToDegrees(e.searchRadius)
	total := 0.0
	prev := vertices[n-1]
	for i, v := range vertices {
		if _, ok := e.idx.Nearest(v, e.snapRadius); !ok {
			return Invalid, &NoNearbyFeatureError{Vertex: i, At: v, Radius: e.snapRadius}
		}

		g := perpendicularSlope(prev, v)
		step := half / math.Sqrt(1+g*g)
		p1 := orb.Point{v[0] + step, v[1] + step*g}
		p2 := orb.Point{v[0] - step, v[1] - step*g}

		best := math.Inf(1)
		for _, en := range e.idx.RangeSearch(v, e.searchRadius, index.KindEdge) {
			x, ok := geo.Intersect(p1, p2, en.Edge.A, en.Edge.B)
			if !ok {
				continue
			}
			if d := geo.DegreesToKm(geo.Distance(x, v)); d < best {
				best = d
			}
		}
		if math.IsInf(best, 1) {
			if i == 0 {
				best = e.firstFallbackKm
			} else {
				// twice the mean of the minima seen so far
				best = 2 * total / float64(i)
			}
		}
		total += best
		prev = v
	}
	return total / math.Abs(scale), nil
}

// perpendicularSlope is the slope normal to prev->cur, bounded to ±maxSlope.
// Coincident vertices have no direction and get a flat probe.
func perpendicularSlope(prev, cur orb.Point) float64 {
	dx, dy := cur[0]-prev[0], cur[1]-prev[1]
	g := -dx / dy
	switch {
	case math.IsNaN(g):
		return 0
	case g > maxSlope:
		return maxSlope
	case g < -maxSlope:
		return -maxSlope
	}
	return g
}
