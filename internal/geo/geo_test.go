package geo

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"
)

func TestBetweenSymmetricAndOrdered(t *testing.T) {
	cases := []struct {
		a, b, c float64
		want    bool
	}{
		{1, 0, 2, true},
		{0, 0, 2, true},
		{2, 0, 2, true},
		{-1, 0, 2, false},
		{3, 0, 2, false},
		{5, 5, 5, true},
		{5.1, 5, 5, false},
		{-1.5, -2, -1, true},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Between(tc.a, tc.b, tc.c), "ascending %v in [%v,%v]", tc.a, tc.b, tc.c)
		require.Equal(t, tc.want, Between(tc.a, tc.c, tc.b), "descending %v in [%v,%v]", tc.a, tc.c, tc.b)
	}
}

func TestIntersectVerticalHorizontal(t *testing.T) {
	x, ok := Intersect(orb.Point{0, -1}, orb.Point{0, 1}, orb.Point{-1, 0}, orb.Point{1, 0})
	require.True(t, ok)
	require.InDelta(t, 0, x[0], 1e-12)
	require.InDelta(t, 0, x[1], 1e-12)

	// geographic magnitudes, crossing at an arbitrary point
	x, ok = Intersect(orb.Point{-0.1, 51.49}, orb.Point{-0.1, 51.51}, orb.Point{-0.12, 51.5}, orb.Point{-0.08, 51.5})
	require.True(t, ok)
	require.InDelta(t, -0.1, x[0], 1e-12)
	require.InDelta(t, 51.5, x[1], 1e-12)
}

func TestIntersectParallelNever(t *testing.T) {
	_, ok := Intersection(orb.Point{0, 0}, orb.Point{1, 1}, orb.Point{0, 1}, orb.Point{1, 2})
	require.False(t, ok)
	_, ok = Intersect(orb.Point{0, 0}, orb.Point{1, 1}, orb.Point{0, 1}, orb.Point{1, 2})
	require.False(t, ok)
	// coincident
	_, ok = Intersect(orb.Point{0, 0}, orb.Point{2, 0}, orb.Point{1, 0}, orb.Point{3, 0})
	require.False(t, ok)
}

func TestIntersectOutsideSegments(t *testing.T) {
	// the lines cross at (0,0) but the second segment stops short of it
	_, ok := Intersect(orb.Point{-1, 0}, orb.Point{1, 0}, orb.Point{0, 0.5}, orb.Point{0, 1})
	require.False(t, ok)
}

func TestIntersectionOnLineIsBetween(t *testing.T) {
	p1, p2 := orb.Point{0, 0}, orb.Point{4, 2}
	p3, p4 := orb.Point{0, 2}, orb.Point{4, 0}
	x, ok := Intersection(p1, p2, p3, p4)
	require.True(t, ok)
	require.True(t, Between(x[0], p1[0], p2[0]))
	require.True(t, Between(x[1], p3[1], p4[1]))
	require.InDelta(t, 2, x[0], 1e-12)
	require.InDelta(t, 1, x[1], 1e-12)
}

func TestClosestOnSegment(t *testing.T) {
	a, b := orb.Point{0, 0}, orb.Point{10, 0}
	c := ClosestOnSegment(orb.Point{3, 4}, a, b)
	require.InDelta(t, 3, c[0], 1e-12)
	require.InDelta(t, 0, c[1], 1e-12)
	require.Equal(t, a, ClosestOnSegment(orb.Point{-3, 4}, a, b))
	require.Equal(t, b, ClosestOnSegment(orb.Point{13, -4}, a, b))
	require.Equal(t, a, ClosestOnSegment(orb.Point{1, 1}, a, a))
}

func TestUnitConversions(t *testing.T) {
	require.InDelta(t, 100.0/111000, MetersToDegrees(100), 1e-15)
	require.InDelta(t, 0.1, DegreesToKm(MetersToDegrees(100)), 1e-12)
}

func TestHaversineOneDegreeLatitude(t *testing.T) {
	d := Haversine(orb.Point{0, 0}, orb.Point{0, 1})
	require.InDelta(t, 111195, d, 5)
	require.InDelta(t, 2*d, PathLength([]orb.Point{{0, 0}, {0, 1}, {0, 2}}), 1e-6)
}

func TestEdgeNormalisedIdentity(t *testing.T) {
	a, b := orb.Point{1, 2}, orb.Point{0, 5}
	e1 := NewEdge(a, b, 0)
	e2 := NewEdge(b, a, 0)
	require.Equal(t, e1, e2)
	require.NotZero(t, e1.ID)
	require.Equal(t, orb.Point{0, 5}, e1.A)

	seen := map[Edge]bool{e1: true}
	require.True(t, seen[e2])

	e3 := NewEdge(a, b, 42)
	require.Equal(t, uint64(42), e3.ID)
	require.Equal(t, e1.Segment(), e3.Segment())
}

func TestValid(t *testing.T) {
	require.True(t, Valid(orb.Point{1, 2}))
	require.False(t, Valid(orb.Point{math.NaN(), 2}))
	require.False(t, Valid(orb.Point{1, math.Inf(-1)}))
	require.False(t, NewEdge(orb.Point{0, 0}, orb.Point{math.NaN(), 0}, 7).Valid())
}
