package opt

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"

	"routetrace/internal/fitness"
	"routetrace/internal/geo"
	"routetrace/internal/index"
	"routetrace/internal/logger"
	"routetrace/internal/shape"
)

var origin = orb.Point{-0.1, 51.5}

// a 1 km east-west road through origin plus a point north of it so the map
// has height as well as width
func roadMap(t *testing.T) *index.Index {
	t.Helper()
	road := geo.NewEdge(orb.Point{origin[0] - 0.0045, origin[1]}, orb.Point{origin[0] + 0.0045, origin[1]}, 1)
	ix, err := index.Build([]index.Entry{
		index.EdgeEntry("way/1", road),
		index.PointEntry("node/9", orb.Point{origin[0], origin[1] + 0.004}),
	})
	require.NoError(t, err)
	return ix
}

func unitSquare(t *testing.T) *shape.Template {
	t.Helper()
	tpl, err := shape.NewTemplate([]orb.Point{{0.5, -0.5}, {0.5, 0.5}, {-0.5, 0.5}, {-0.5, -0.5}})
	require.NoError(t, err)
	return tpl
}

func onRoad() shape.Transform {
	return shape.Transform{Scale: 0.002, Center: orb.Point{origin[0], origin[1] + 0.001}}
}

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.PopulationSize = 20
	cfg.Survivors = 4
	cfg.FanOut = 3
	cfg.FreshPerSurvivor = 1
	cfg.MaxGenerations = 5
	cfg.Patience = 3
	cfg.Workers = 4
	cfg.Seed = 42
	return cfg
}

func TestChildChangesExactlyOneParameter(t *testing.T) {
	parent := Candidate{
		transform: shape.Transform{Scale: 0.002, Center: orb.Point{-0.1, 51.5}},
		fitness:   12,
		valid:     true,
		lineage:   Lineage{CenterX: -0.1001, CenterY: 51.5002, Scale: 0.0021, Fitness: 15, Known: true},
	}
	rng := rand.New(rand.NewSource(7))
	touched := [numParams]int{}
	for i := 0; i < 300; i++ {
		child := parent.Child(rng, 1, 0.05)
		changed := 0
		if child.Transform.Center[0] != parent.transform.Center[0] {
			changed++
			touched[paramCenterX]++
		}
		if child.Transform.Center[1] != parent.transform.Center[1] {
			changed++
			touched[paramCenterY]++
		}
		if child.Transform.Scale != parent.transform.Scale {
			changed++
			touched[paramScale]++
		}
		require.LessOrEqual(t, changed, 1)
	}
	for p, n := range touched {
		require.Positive(t, n, "parameter %d never mutated", p)
	}
}

func TestChildRecordsLineage(t *testing.T) {
	parent := Candidate{
		transform: shape.Transform{Scale: 0.5, Center: orb.Point{3, 4}},
		fitness:   9,
		valid:     true,
	}
	child := parent.Child(rand.New(rand.NewSource(1)), 1, 0.05)
	require.Equal(t, Lineage{CenterX: 3, CenterY: 4, Scale: 0.5, Fitness: 9, Known: true}, child.Lineage)
}

func TestSeededChildIsPureExploration(t *testing.T) {
	// no lineage and no entropy leaves nothing to move
	parent := Candidate{transform: shape.Transform{Scale: 0.5, Center: orb.Point{3, 4}}, fitness: 9, valid: true}
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 20; i++ {
		require.Equal(t, parent.transform, parent.Child(rng, 1, 0).Transform)
	}
}

func TestFiniteDifference(t *testing.T) {
	require.InDelta(t, 5*gradientDamping, finiteDifference(10, 5, 2, 1), 1e-15)
	require.InDelta(t, -5*gradientDamping, finiteDifference(5, 10, 2, 1), 1e-15)
	// vanishing step is replaced by epsilon, then clamped
	require.InDelta(t, 100, finiteDifference(10, 9, 1, 1), 1e-9)
	require.InDelta(t, -100, finiteDifference(10, 9, 1, 1+1e-13), 1e-9)
	require.InDelta(t, 100, finiteDifference(math.Inf(1), 3, 2, 1), 1e-9)
	require.Zero(t, finiteDifference(math.Inf(1), math.Inf(1), 2, 1))
}

func TestClampScale(t *testing.T) {
	require.Equal(t, 0.5, clampScale(0.6, 1))
	require.Equal(t, 0.5, clampScale(-0.6, 1))
	require.Equal(t, 0.5, clampScale(0.5, 1))
	require.Equal(t, 0.49, clampScale(0.49, 1))
	require.Equal(t, -0.3, clampScale(-0.3, 1))
	require.Equal(t, 0.01, clampScale(0.01, 1))
}

func TestSelectKeepsLowest(t *testing.T) {
	mk := func(f float64) Candidate { return Candidate{fitness: f, valid: true} }
	bad := Candidate{}.Invalidated(nil)
	pop := []Candidate{mk(5), bad, mk(1), mk(3), bad, mk(2)}

	top := Select(pop, 3)
	require.Len(t, top, 3)
	require.Equal(t, []float64{1, 2, 3}, []float64{top[0].Fitness(), top[1].Fitness(), top[2].Fitness()})
	// input order untouched
	require.Equal(t, 5.0, pop[0].Fitness())

	all := Select(pop, 10)
	require.Len(t, all, 6)
	require.True(t, all[3].Valid())
	require.False(t, all[4].Valid())
	require.False(t, all[5].Valid())

	onlyBad := Select([]Candidate{bad, bad}, 1)
	require.False(t, onlyBad[0].Valid())
	require.True(t, math.IsInf(onlyBad[0].Fitness(), 1))
}

func TestRunCarriesSelectedSurvivors(t *testing.T) {
	c, err := New(roadMap(t), unitSquare(t), smallConfig(), WithLogger(logger.Discard()))
	require.NoError(t, err)
	res, err := c.Run(context.Background(), onRoad())
	require.NoError(t, err)
	require.NotEmpty(t, res.Snapshots)
	// 4 survivors, each with 3 children and 1 fresh spec
	first := res.Snapshots[0]
	require.Equal(t, 16, first.Evaluated)
	require.Equal(t, 20, first.Population)
	require.Equal(t, 20+16*res.Generations, res.Evaluations)
}

func TestSingleFixedCandidateReturnedUnchanged(t *testing.T) {
	ix := roadMap(t)
	tpl := unitSquare(t)
	cfg := smallConfig()
	cfg.PopulationSize = 1
	cfg.Survivors = 1
	cfg.FanOut = 0
	cfg.FreshPerSurvivor = 1
	cfg.Patience = 1

	c, err := New(ix, tpl, cfg, WithLogger(logger.Discard()))
	require.NoError(t, err)
	res, err := c.Run(context.Background(), onRoad())
	require.NoError(t, err)

	require.Equal(t, 1, res.Generations)
	require.Equal(t, StopConverged, res.StopReason)
	// the seed plus one fresh random spec
	require.Equal(t, 2, res.Evaluations)
	require.Equal(t, onRoad(), res.Best.Transform())
	require.True(t, res.Best.Valid())
	require.InDelta(t, 0, res.Best.Fitness(), 1e-6)
	require.True(t, res.Route.Complete)
	require.Len(t, res.Route.Points, 4)
}

func TestRunIsDeterministicForSeed(t *testing.T) {
	ix := roadMap(t)
	tpl := unitSquare(t)
	run := func(workers int) Result {
		cfg := smallConfig()
		cfg.Workers = workers
		c, err := New(ix, tpl, cfg, WithLogger(logger.Discard()))
		require.NoError(t, err)
		res, err := c.Run(context.Background())
		require.NoError(t, err)
		return res
	}
	a, b := run(1), run(8)
	require.Equal(t, int64(42), a.Seed)
	require.Equal(t, a.Best.Transform(), b.Best.Transform())
	require.Equal(t, a.Best.Fitness(), b.Best.Fitness())
	require.Equal(t, a.Snapshots, b.Snapshots)
	require.Equal(t, a.Evaluations, b.Evaluations)
}

func TestBestNeverGetsWorse(t *testing.T) {
	ix := roadMap(t)
	c, err := New(ix, unitSquare(t), smallConfig(), WithLogger(logger.Discard()))
	require.NoError(t, err)
	res, err := c.Run(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, res.Snapshots)
	for i := 1; i < len(res.Snapshots); i++ {
		require.LessOrEqual(t, res.Snapshots[i].Best, res.Snapshots[i-1].Best)
	}
	require.LessOrEqual(t, res.Generations, 5)
}

func TestBestFitnessMatchesReevaluation(t *testing.T) {
	ix := roadMap(t)
	tpl := unitSquare(t)
	c, err := New(ix, tpl, smallConfig(), WithLogger(logger.Discard()))
	require.NoError(t, err)
	res, err := c.Run(context.Background(), onRoad())
	require.NoError(t, err)
	require.True(t, res.Best.Valid())

	tr := res.Best.Transform()
	again, err := c.ev.Evaluate(tpl.Place(tr, nil), tr.Scale)
	require.NoError(t, err)
	require.Equal(t, res.Best.Fitness(), again)
	require.True(t, res.Route.Complete)
}

func TestAllInvalidPopulation(t *testing.T) {
	// two far-apart points and a 1 m snap radius: nothing ever snaps
	ix, err := index.Build([]index.Entry{
		index.PointEntry("a", orb.Point{0, 0}),
		index.PointEntry("b", orb.Point{1, 1}),
	})
	require.NoError(t, err)
	cfg := smallConfig()
	cfg.SnapRadiusMeters = 1

	c, err := New(ix, unitSquare(t), cfg, WithLogger(logger.Discard()))
	require.NoError(t, err)
	res, err := c.Run(context.Background())
	require.NoError(t, err)
	require.False(t, res.Best.Valid())
	require.True(t, math.IsInf(res.Best.Fitness(), 1))
	require.Equal(t, res.Evaluations, res.Invalid)
	require.False(t, res.Route.Complete)
	require.ErrorIs(t, res.Best.Err(), fitness.ErrNoNearbyFeature)
}

func TestRunCanceled(t *testing.T) {
	c, err := New(roadMap(t), unitSquare(t), smallConfig(), WithLogger(logger.Discard()))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := c.Run(ctx, onRoad())
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, StopCanceled, res.StopReason)
	require.Zero(t, res.Generations)
	require.True(t, res.Best.Valid())
}

func TestProgressCallback(t *testing.T) {
	var seen []int
	c, err := New(roadMap(t), unitSquare(t), smallConfig(),
		WithLogger(logger.Discard()),
		WithProgress(func(s GenerationStats) { seen = append(seen, s.Generation) }),
	)
	require.NoError(t, err)
	res, err := c.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, seen, res.Generations)
	for i, g := range seen {
		require.Equal(t, i+1, g)
	}
}

func TestNewRejectsBadInputs(t *testing.T) {
	empty, err := index.Build(nil)
	require.NoError(t, err)
	_, err = New(empty, unitSquare(t), smallConfig())
	require.ErrorIs(t, err, ErrDegenerateMap)

	single, err := index.Build([]index.Entry{index.PointEntry("a", origin)})
	require.NoError(t, err)
	_, err = New(single, unitSquare(t), smallConfig())
	require.ErrorIs(t, err, ErrDegenerateMap)

	cfg := smallConfig()
	cfg.Survivors = 0
	_, err = New(roadMap(t), unitSquare(t), cfg)
	require.Error(t, err)

	_, err = New(roadMap(t), nil, smallConfig())
	require.True(t, errors.Is(err, shape.ErrEmptyShape))
}

func TestGenerationStatsJSON(t *testing.T) {
	b, err := json.Marshal(GenerationStats{Generation: 2, Best: math.Inf(1)})
	require.NoError(t, err)
	require.Contains(t, string(b), `"best":null`)

	b, err = json.Marshal(GenerationStats{Generation: 2, Best: 1.5, BestValid: true})
	require.NoError(t, err)
	require.Contains(t, string(b), `"best":1.5`)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	require.NoError(t, Config{}.WithDefaults().Validate())

	cfg := DefaultConfig()
	cfg.Survivors = cfg.PopulationSize + 1
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.SeedScaleMax = 2
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.FreshPerSurvivor = 0
	require.Error(t, cfg.Validate())

	cfg = Config{FanOut: 0}.WithDefaults()
	require.Zero(t, cfg.FanOut)
	require.Equal(t, 1, cfg.FreshPerSurvivor)
	require.Equal(t, 1, cfg.Patience)
}

func TestConfigValidateUpperBounds(t *testing.T) {
	huge := 1 << 40
	for name, mut := range map[string]func(*Config){
		"population":  func(c *Config) { c.PopulationSize, c.Survivors = huge, huge },
		"generations": func(c *Config) { c.MaxGenerations = huge },
		"fanOut":      func(c *Config) { c.FanOut = huge },
		"fresh":       func(c *Config) { c.FreshPerSurvivor = huge },
		"generation size": func(c *Config) {
			c.PopulationSize, c.Survivors, c.FanOut = LimitPopulation, LimitPopulation, 1
		},
	} {
		cfg := DefaultConfig()
		mut(&cfg)
		require.Error(t, cfg.Validate(), name)
	}

	cfg := DefaultConfig()
	cfg.PopulationSize, cfg.MaxGenerations = LimitPopulation, LimitGenerations
	require.NoError(t, cfg.Validate())
}

func TestRunSummaryRegistry(t *testing.T) {
	res := Result{Generations: 3, Evaluations: 40, Invalid: 2, StopReason: StopConverged, Seed: 9}
	s := res.Summary()
	require.Nil(t, s.Best)
	RecordRun("t-1", s)
	got, ok := GetRun("t-1")
	require.True(t, ok)
	require.Equal(t, s, got)
	_, ok = GetRun("missing")
	require.False(t, ok)

	res.Best = Candidate{fitness: 0.25, valid: true}
	require.Equal(t, 0.25, *res.Summary().Best)
}
