// Package index is the read-only spatial index over map geometry. It is
// bulk-built once from ingested entries and then queried concurrently by the
// optimizer's workers; there is no mutation after Build.
package index

import (
	"errors"
	"fmt"
	"math"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"

	"routetrace/internal/geo"
)

// Kind tags an Entry as a point or an edge.
type Kind uint8

const (
	KindPoint Kind = iota + 1
	KindEdge
)

func (k Kind) String() string {
	switch k {
	case KindPoint:
		return "point"
	case KindEdge:
		return "edge"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Entry is what the index stores and returns. Exactly one of Point or Edge is
// meaningful, selected by Kind.
type Entry struct {
	Key   string
	Kind  Kind
	Point orb.Point
	Edge  geo.Edge
}

// PointEntry builds a point entry.
func PointEntry(key string, p orb.Point) Entry { return Entry{Key: key, Kind: KindPoint, Point: p} }

// EdgeEntry builds an edge entry.
func EdgeEntry(key string, e geo.Edge) Entry { return Entry{Key: key, Kind: KindEdge, Edge: e} }

// Bound is the entry's bounding box.
func (e Entry) Bound() orb.Bound {
	if e.Kind == KindEdge {
		return e.Edge.Bound()
	}
	return e.Point.Bound()
}

// Closest is the point of the entry's geometry nearest to p.
func (e Entry) Closest(p orb.Point) orb.Point {
	if e.Kind == KindEdge {
		return e.Edge.Closest(p)
	}
	return e.Point
}

// ErrIndexBuild is wrapped by every BuildError.
var ErrIndexBuild = errors.New("index build failed")

// BuildError describes the first malformed entry seen by Build.
type BuildError struct {
	Pos    int
	Key    string
	Reason string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("index build: entry %d (%q): %s", e.Pos, e.Key, e.Reason)
}

func (e *BuildError) Unwrap() error { return ErrIndexBuild }

// rtree node fan-out, as used for polygon indexes elsewhere
const (
	minChildren = 25
	maxChildren = 50
)

// pad keeps zero-extent boxes (points, axis-aligned edges) non-degenerate.
const pad = 1e-12

type item struct {
	entry Entry
	rect  rtreego.Rect
}

func (it *item) Bounds() rtreego.Rect { return it.rect }

// Index is an immutable R-tree over entries. Safe for concurrent reads.
type Index struct {
	tree   *rtreego.Rtree
	size   int
	bounds orb.Bound
}

// Build validates every entry and bulk-loads the tree in a single pass.
func Build(entries []Entry) (*Index, error) {
	objs := make([]rtreego.Spatial, 0, len(entries))
	var bounds orb.Bound
	for i, e := range entries {
		switch e.Kind {
		case KindPoint:
			if !geo.Valid(e.Point) {
				return nil, &BuildError{Pos: i, Key: e.Key, Reason: "non-finite point coordinate"}
			}
		case KindEdge:
			if !e.Edge.Valid() {
				return nil, &BuildError{Pos: i, Key: e.Key, Reason: "non-finite edge coordinate"}
			}
		default:
			return nil, &BuildError{Pos: i, Key: e.Key, Reason: "unknown entry kind " + e.Kind.String()}
		}
		b := e.Bound()
		rect, err := toRect(b)
		if err != nil {
			return nil, &BuildError{Pos: i, Key: e.Key, Reason: err.Error()}
		}
		if i == 0 {
			bounds = b
		} else {
			bounds = bounds.Union(b)
		}
		objs = append(objs, &item{entry: e, rect: rect})
	}
	return &Index{
		tree:   rtreego.NewTree(2, minChildren, maxChildren, objs...),
		size:   len(objs),
		bounds: bounds,
	}, nil
}

func toRect(b orb.Bound) (rtreego.Rect, error) {
	return rtreego.NewRectFromPoints(
		rtreego.Point{b.Min[0] - pad, b.Min[1] - pad},
		rtreego.Point{b.Max[0] + pad, b.Max[1] + pad},
	)
}

// Len is the number of stored entries.
func (ix *Index) Len() int { return ix.size }

// Bounds is the box covering all entries; false for an empty index.
func (ix *Index) Bounds() (orb.Bound, bool) {
	return ix.bounds, ix.size > 0
}

func searchBox(center orb.Point, radiusMeters float64) (rtreego.Rect, bool) {
	r := geo.MetersToDegrees(math.Abs(radiusMeters))
	rect, err := toRect(orb.Bound{
		Min: orb.Point{center[0] - r, center[1] - r},
		Max: orb.Point{center[0] + r, center[1] + r},
	})
	return rect, err == nil
}

func kindFilter(kinds []Kind) rtreego.Filter {
	return func(_ []rtreego.Spatial, obj rtreego.Spatial) (bool, bool) {
		k := obj.(*item).entry.Kind
		for _, want := range kinds {
			if k == want {
				return false, false
			}
		}
		return true, false
	}
}

// RangeSearch returns entries whose bounding box intersects the square of
// half-side radiusMeters around center. With kinds given, only those kinds
// are returned.
func (ix *Index) RangeSearch(center orb.Point, radiusMeters float64, kinds ...Kind) []Entry {
	if ix.size == 0 || !geo.Valid(center) {
		return nil
	}
	box, ok := searchBox(center, radiusMeters)
	if !ok {
		return nil
	}
	var filters []rtreego.Filter
	if len(kinds) > 0 {
		filters = append(filters, kindFilter(kinds))
	}
	hits := ix.tree.SearchIntersect(box, filters...)
	out := make([]Entry, len(hits))
	for i, h := range hits {
		out[i] = h.(*item).entry
	}
	return out
}

// Nearest returns the entry closest to p within maxRadiusMeters (planar
// distance at 111 km/degree). Edges are measured to their closest point.
func (ix *Index) Nearest(p orb.Point, maxRadiusMeters float64) (Entry, bool) {
	if ix.size == 0 || !geo.Valid(p) {
		return Entry{}, false
	}
	box, ok := searchBox(p, maxRadiusMeters)
	if !ok {
		return Entry{}, false
	}
	limit := geo.MetersToDegrees(math.Abs(maxRadiusMeters))
	var best Entry
	bestD := math.Inf(1)
	for _, h := range ix.tree.SearchIntersect(box) {
		e := h.(*item).entry
		if d := geo.Distance(p, e.Closest(p)); d < bestD {
			best, bestD = e, d
		}
	}
	if bestD > limit {
		return Entry{}, false
	}
	return best, true
}
