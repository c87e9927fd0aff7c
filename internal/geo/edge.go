package geo

import (
	"encoding/binary"
	"hash/fnv"
	"math"

	"github.com/paulmach/orb"
)

// Edge is one undirected road segment. A and B are stored in lexicographic
// order so the same segment read in either direction compares equal.
type Edge struct {
	A, B orb.Point
	ID   uint64
}

// NewEdge normalises the endpoint order and derives an identity from the
// coordinates when id is zero.
func NewEdge(a, b orb.Point, id uint64) Edge {
	if b[0] < a[0] || (b[0] == a[0] && b[1] < a[1]) {
		a, b = b, a
	}
	e := Edge{A: a, B: b, ID: id}
	if id == 0 {
		e.ID = e.Hash()
	}
	return e
}

// Hash is an FNV-1a digest of the normalised endpoints.
func (e Edge) Hash() uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, v := range [4]float64{e.A[0], e.A[1], e.B[0], e.B[1]} {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}

// Segment is the coordinate pair, usable as a map key independent of ID.
func (e Edge) Segment() [2]orb.Point { return [2]orb.Point{e.A, e.B} }

// Bound is the axis-aligned box around the segment.
func (e Edge) Bound() orb.Bound {
	return orb.MultiPoint{e.A, e.B}.Bound()
}

// Closest returns the point on the edge nearest to p.
func (e Edge) Closest(p orb.Point) orb.Point { return ClosestOnSegment(p, e.A, e.B) }

// Valid reports whether both endpoints are finite.
func (e Edge) Valid() bool { return Valid(e.A) && Valid(e.B) }
