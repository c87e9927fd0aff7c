package index

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"

	"routetrace/internal/geo"
)

// grid of points plus horizontal edges between neighbours, around London
func sampleEntries(n int) []Entry {
	var out []Entry
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			p := orb.Point{-0.1 + float64(i)*0.001, 51.5 + float64(j)*0.001}
			out = append(out, PointEntry(fmt.Sprintf("n%d_%d", i, j), p))
			if i > 0 {
				q := orb.Point{p[0] - 0.001, p[1]}
				out = append(out, EdgeEntry(fmt.Sprintf("w%d", j), geo.NewEdge(q, p, 0)))
			}
		}
	}
	return out
}

func TestBuildRangeSearchCoversEverything(t *testing.T) {
	entries := sampleEntries(12)
	ix, err := Build(entries)
	require.NoError(t, err)
	require.Equal(t, len(entries), ix.Len())

	b, ok := ix.Bounds()
	require.True(t, ok)
	got := ix.RangeSearch(b.Center(), 50_000)
	require.Len(t, got, len(entries))

	seen := map[Entry]int{}
	for _, e := range got {
		seen[e]++
	}
	for _, e := range entries {
		require.Equal(t, 1, seen[e], "entry %s returned %d times", e.Key, seen[e])
	}
}

func TestRangeSearchKindFilter(t *testing.T) {
	entries := sampleEntries(5)
	ix, err := Build(entries)
	require.NoError(t, err)
	b, _ := ix.Bounds()

	edges := ix.RangeSearch(b.Center(), 50_000, KindEdge)
	points := ix.RangeSearch(b.Center(), 50_000, KindPoint)
	require.Len(t, points, 25)
	require.Len(t, edges, 20)
	for _, e := range edges {
		require.Equal(t, KindEdge, e.Kind)
	}
}

func TestRangeSearchIsLocal(t *testing.T) {
	ix, err := Build(sampleEntries(10))
	require.NoError(t, err)
	// 0.001 degrees is ~111 m; a 30 m box around a grid node only touches that node
	// and the (at most two) horizontal edges ending there.
	got := ix.RangeSearch(orb.Point{-0.095, 51.505}, 30)
	var points, edges int
	for _, e := range got {
		switch e.Kind {
		case KindPoint:
			points++
		case KindEdge:
			edges++
		}
	}
	require.Equal(t, 1, points)
	require.Equal(t, 2, edges)
}

func TestNearestWithinBound(t *testing.T) {
	road := geo.NewEdge(orb.Point{0, 51}, orb.Point{0.01, 51}, 1)
	ix, err := Build([]Entry{EdgeEntry("road", road), PointEntry("poi", orb.Point{0.005, 51.004})})
	require.NoError(t, err)

	// 0.001 deg north of the road (~111 m), 3 deg-thousandths from the poi
	e, ok := ix.Nearest(orb.Point{0.005, 51.001}, 200)
	require.True(t, ok)
	require.Equal(t, "road", e.Key)
	snapped := e.Closest(orb.Point{0.005, 51.001})
	require.InDelta(t, 0.005, snapped[0], 1e-12)
	require.InDelta(t, 51, snapped[1], 1e-12)

	_, ok = ix.Nearest(orb.Point{0.005, 51.001}, 100)
	require.False(t, ok, "111 m away must miss a 100 m bound")

	e, ok = ix.Nearest(orb.Point{0.005, 51.0035}, 200)
	require.True(t, ok)
	require.Equal(t, "poi", e.Key)
}

func TestEmptyIndex(t *testing.T) {
	ix, err := Build(nil)
	require.NoError(t, err)
	require.Zero(t, ix.Len())
	_, ok := ix.Bounds()
	require.False(t, ok)
	require.Empty(t, ix.RangeSearch(orb.Point{0, 0}, 1e6))
	_, ok = ix.Nearest(orb.Point{0, 0}, 1e6)
	require.False(t, ok)
}

func TestBuildRejectsMalformed(t *testing.T) {
	_, err := Build([]Entry{
		PointEntry("ok", orb.Point{1, 1}),
		PointEntry("bad", orb.Point{math.NaN(), 1}),
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrIndexBuild))
	var be *BuildError
	require.True(t, errors.As(err, &be))
	require.Equal(t, 1, be.Pos)
	require.Equal(t, "bad", be.Key)

	_, err = Build([]Entry{EdgeEntry("e", geo.Edge{A: orb.Point{0, 0}, B: orb.Point{1, math.Inf(1)}})})
	require.ErrorIs(t, err, ErrIndexBuild)

	_, err = Build([]Entry{{Key: "x"}})
	require.ErrorIs(t, err, ErrIndexBuild)
}

func TestConcurrentReads(t *testing.T) {
	ix, err := Build(sampleEntries(20))
	require.NoError(t, err)
	b, _ := ix.Bounds()
	want := len(ix.RangeSearch(b.Center(), 200, KindEdge))

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				if n := len(ix.RangeSearch(b.Center(), 200, KindEdge)); n != want {
					errs <- fmt.Errorf("got %d edges, want %d", n, want)
					return
				}
				if _, ok := ix.Nearest(b.Center(), 200); !ok {
					errs <- errors.New("nearest missed")
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}
