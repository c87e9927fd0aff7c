// Package geo holds the planar geometry used to compare shapes with road
// segments. Coordinates are raw longitude/latitude degrees; distances use a
// flat 111 km per degree approximation unless stated otherwise.
package geo

import (
	"math"

	"github.com/paulmach/orb"
)

// KmPerDegree is the fixed degree-to-kilometre approximation used throughout.
const KmPerDegree = 111.0

// tolerance absorbs rounding when an intersection lands on an axis-aligned
// segment (roughly a tenth of a millimetre).
const tolerance = 1e-9

// MetersToDegrees converts a ground distance to degrees.
func MetersToDegrees(m float64) float64 { return m / 1000 / KmPerDegree }

// DegreesToKm converts a distance in degrees to kilometres.
func DegreesToKm(d float64) float64 { return d * KmPerDegree }

// Valid reports whether both coordinates are finite.
func Valid(p orb.Point) bool {
	return !math.IsNaN(p[0]) && !math.IsNaN(p[1]) && !math.IsInf(p[0], 0) && !math.IsInf(p[1], 0)
}

// Intersection returns the point where the infinite lines p1-p2 and p3-p4
// cross. Parallel or coincident lines have no single crossing and return false.
// https://en.wikipedia.org/wiki/Line%E2%80%93line_intersection
func Intersection(p1, p2, p3, p4 orb.Point) (orb.Point, bool) {
	den := (p1[0]-p2[0])*(p3[1]-p4[1]) - (p1[1]-p2[1])*(p3[0]-p4[0])
	if den == 0 {
		return orb.Point{}, false
	}
	a := p1[0]*p2[1] - p1[1]*p2[0]
	b := p3[0]*p4[1] - p3[1]*p4[0]
	px := (a*(p3[0]-p4[0]) - (p1[0]-p2[0])*b) / den
	py := (a*(p3[1]-p4[1]) - (p1[1]-p2[1])*b) / den
	if math.IsNaN(px) || math.IsNaN(py) || math.IsInf(px, 0) || math.IsInf(py, 0) {
		return orb.Point{}, false
	}
	return orb.Point{px, py}, true
}

// Between reports whether a lies in the closed range spanned by b and c,
// whichever order they come in.
func Between(a, b, c float64) bool {
	if b > c {
		b, c = c, b
	}
	return a >= b && a <= c
}

func within(a, b, c float64) bool {
	if b > c {
		b, c = c, b
	}
	return a >= b-tolerance && a <= c+tolerance
}

// Intersect reports whether segments p1-p2 and p3-p4 cross and, if so, where.
func Intersect(p1, p2, p3, p4 orb.Point) (orb.Point, bool) {
	x, ok := Intersection(p1, p2, p3, p4)
	if !ok {
		return orb.Point{}, false
	}
	if within(x[0], p1[0], p2[0]) && within(x[0], p3[0], p4[0]) &&
		within(x[1], p1[1], p2[1]) && within(x[1], p3[1], p4[1]) {
		return x, true
	}
	return orb.Point{}, false
}

// Distance is the planar distance between two points, in degrees.
func Distance(a, b orb.Point) float64 {
	return math.Hypot(a[0]-b[0], a[1]-b[1])
}

// ClosestOnSegment projects p onto segment a-b and clamps to its ends.
func ClosestOnSegment(p, a, b orb.Point) orb.Point {
	dx, dy := b[0]-a[0], b[1]-a[1]
	l2 := dx*dx + dy*dy
	if l2 == 0 {
		return a
	}
	t := ((p[0]-a[0])*dx + (p[1]-a[1])*dy) / l2
	t = math.Max(0, math.Min(1, t))
	return orb.Point{a[0] + t*dx, a[1] + t*dy}
}

// Haversine returns the great-circle distance in metres.
func Haversine(a, b orb.Point) float64 {
	const R = 6371000.0
	lat1, lon1 := a[1], a[0]
	lat2, lon2 := b[1], b[0]
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return R * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// PathLength sums haversine distances along pts, in metres.
func PathLength(pts []orb.Point) float64 {
	total := 0.0
	for i := 1; i < len(pts); i++ {
		total += Haversine(pts[i-1], pts[i])
	}
	return total
}
