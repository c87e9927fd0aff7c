// Package opt searches for the scale and placement that make a shape trace
// real roads. A Conductor runs a generational search: keep the best
// candidates, derive children from them, score the children in parallel,
// repeat.
package opt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/paulmach/orb"
	"github.com/sourcegraph/conc/pool"

	"routetrace/internal/fitness"
	"routetrace/internal/index"
	"routetrace/internal/metrics"
	"routetrace/internal/route"
	"routetrace/internal/shape"
)

// ErrDegenerateMap means the index has no usable extent to place a shape in.
var ErrDegenerateMap = errors.New("map has no usable extent")

type StopReason string

const (
	StopMaxGenerations StopReason = "max_generations"
	StopConverged      StopReason = "converged"
	StopTimeBudget     StopReason = "time_budget"
	StopCanceled       StopReason = "canceled"
)

// GenerationStats summarises one generation after ranking.
type GenerationStats struct {
	Generation int             `json:"generation"`
	Best       float64         `json:"best"`
	BestValid  bool            `json:"bestValid"`
	Transform  shape.Transform `json:"transform"`
	Evaluated  int             `json:"evaluated"`
	Invalid    int             `json:"invalid"`
	Population int             `json:"population"`
}

// MarshalJSON writes an invalid best fitness as null; JSON has no infinity.
func (g GenerationStats) MarshalJSON() ([]byte, error) {
	type plain GenerationStats
	out := struct {
		plain
		Best *float64 `json:"best"`
	}{plain: plain(g)}
	if g.BestValid {
		out.Best = &g.Best
	}
	return json.Marshal(out)
}

// Result is the outcome of a run. Best is invalid when no placement ever
// scored, or when its route could not be snapped completely.
type Result struct {
	Best        Candidate
	Route       route.Route
	Generations int
	Evaluations int
	Invalid     int
	Snapshots   []GenerationStats
	StopReason  StopReason
	Seed        int64
	Elapsed     time.Duration
}

// Conductor owns the shared, read-only inputs of a search.
type Conductor struct {
	idx      *index.Index
	tpl      *shape.Template
	cfg      Config
	ev       *fitness.Evaluator
	bounds   orb.Bound
	maxScale float64
	log      *slog.Logger
	progress func(GenerationStats)
}

type Option func(*Conductor)

func WithLogger(l *slog.Logger) Option { return func(c *Conductor) { c.log = l } }

// WithProgress registers a callback invoked on the driving goroutine after
// every generation.
func WithProgress(fn func(GenerationStats)) Option {
	return func(c *Conductor) { c.progress = fn }
}

// New validates cfg and derives the feasible scale range from the map
// bounds. cfg is used as given; call Config.WithDefaults first if needed.
func New(idx *index.Index, tpl *shape.Template, cfg Config, opts ...Option) (*Conductor, error) {
	if tpl == nil {
		return nil, shape.ErrEmptyShape
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("optimizer config: %w", err)
	}
	b, ok := idx.Bounds()
	if !ok {
		return nil, ErrDegenerateMap
	}
	ms := tpl.MaxScale(b)
	if !(ms > 0) || math.IsInf(ms, 0) {
		return nil, ErrDegenerateMap
	}
	c := &Conductor{
		idx:      idx,
		tpl:      tpl,
		cfg:      cfg,
		bounds:   b,
		maxScale: ms,
		log:      slog.Default(),
		ev: fitness.New(idx,
			fitness.WithSearchRadius(cfg.SearchRadiusMeters),
			fitness.WithSnapRadius(cfg.SnapRadiusMeters),
		),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// MaxScale is the largest scale at which the shape fits the map.
func (c *Conductor) MaxScale() float64 { return c.maxScale }

// Run searches until a stop condition holds. Explicit seed transforms form
// the start of the first population unchanged; random placements fill the
// rest. Cancellation and the time budget are checked between generations;
// a canceled run returns its best so far together with ctx.Err().
func (c *Conductor) Run(ctx context.Context, seeds ...shape.Transform) (Result, error) {
	start := time.Now()
	seed := c.cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	var deadline time.Time
	if c.cfg.TimeBudget > 0 {
		deadline = start.Add(c.cfg.TimeBudget)
	}

	res := Result{Seed: seed}
	specs := make([]Spec, 0, max(c.cfg.PopulationSize, len(seeds)))
	for _, tr := range seeds {
		specs = append(specs, Spec{Transform: tr})
	}
	for len(specs) < c.cfg.PopulationSize {
		specs = append(specs, c.randomSpec(rng))
	}
	pop := c.evaluate(specs, &res)
	rank(pop)
	c.log.Debug("population_seeded",
		"size", len(pop),
		"best", pop[0].fitness,
		"max_scale", c.maxScale,
		"search_radius_m", c.ev.SearchRadius(),
		"snap_radius_m", c.ev.SnapRadius(),
	)

	stale := 0
	var runErr error
	for {
		if res.Generations >= c.cfg.MaxGenerations {
			res.StopReason = StopMaxGenerations
			break
		}
		if err := ctx.Err(); err != nil {
			res.StopReason, runErr = StopCanceled, err
			break
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			res.StopReason = StopTimeBudget
			break
		}

		prevBest := pop[0].fitness
		survivors := Select(pop, c.cfg.Survivors)
		specs = specs[:0]
		for _, s := range survivors {
			for range c.cfg.FanOut {
				child := s.Child(rng, c.cfg.MutationDistance, c.cfg.MutationEntropy)
				child.Transform.Scale = clampScale(child.Transform.Scale, c.maxScale)
				specs = append(specs, child)
			}
			for range c.cfg.FreshPerSurvivor {
				specs = append(specs, c.randomSpec(rng))
			}
		}
		children := c.evaluate(specs, &res)
		next := make([]Candidate, 0, len(survivors)+len(children))
		next = append(next, survivors...)
		next = append(next, children...)
		rank(next)
		pop = next
		res.Generations++

		st := c.stats(res.Generations, pop, children)
		res.Snapshots = append(res.Snapshots, st)
		metrics.Generations.Inc()
		c.log.Debug("generation_done",
			"generation", st.Generation,
			"best", st.Best,
			"evaluated", st.Evaluated,
			"invalid", st.Invalid,
		)
		if c.progress != nil {
			c.progress(st)
		}

		if pop[0].fitness == prevBest {
			stale++
			if stale >= c.cfg.Patience {
				res.StopReason = StopConverged
				break
			}
		} else {
			stale = 0
		}
	}

	res.Best = pop[0]
	if res.Best.valid {
		res.Route = route.Materialize(c.idx, c.tpl, res.Best.transform, c.ev.SnapRadius())
		if !res.Route.Complete {
			c.log.Warn("route_incomplete", "failed_vertex", res.Route.FailedVertex, "fitness", res.Best.fitness)
			res.Best = res.Best.Invalidated(&fitness.NoNearbyFeatureError{
				Vertex: res.Route.FailedVertex,
				At:     res.Best.transform.Apply(c.tpl, c.tpl.Points()[res.Route.FailedVertex]),
				Radius: c.ev.SnapRadius(),
			})
		}
	} else {
		res.Route = route.Route{FailedVertex: -1}
	}
	res.Elapsed = time.Since(start)

	metrics.RunDuration.Observe(res.Elapsed.Seconds())
	if res.Best.valid {
		metrics.BestFitness.Set(res.Best.fitness)
	}
	c.log.Info("trace_run_finished",
		"stop_reason", string(res.StopReason),
		"generations", res.Generations,
		"evaluations", res.Evaluations,
		"invalid", res.Invalid,
		"best", res.Best.fitness,
		"valid", res.Best.valid,
		"elapsed_ms", res.Elapsed.Milliseconds(),
	)
	return res, runErr
}

type queued struct {
	slot int
	spec Spec
}

// evaluate scores specs on a bounded pool. Every spec is queued before the
// workers start; each worker takes one and writes its own slot, so the
// result order matches specs regardless of scheduling.
func (c *Conductor) evaluate(specs []Spec, res *Result) []Candidate {
	out := make([]Candidate, len(specs))
	if len(specs) == 0 {
		return out
	}
	queue := make(chan queued, len(specs))
	for i, s := range specs {
		queue <- queued{slot: i, spec: s}
	}
	close(queue)

	p := pool.New().WithMaxGoroutines(c.cfg.Workers)
	for range specs {
		p.Go(func() {
			q := <-queue
			out[q.slot] = NewCandidate(c.ev, c.tpl, q.spec)
		})
	}
	p.Wait()

	invalid := 0
	for _, cand := range out {
		if !cand.valid {
			invalid++
		}
	}
	res.Evaluations += len(out)
	res.Invalid += invalid
	metrics.CandidatesEvaluated.WithLabelValues("true").Add(float64(len(out) - invalid))
	metrics.CandidatesEvaluated.WithLabelValues("false").Add(float64(invalid))
	return out
}

// randomSpec draws a scale from the configured fraction of the feasible
// range and a centre anywhere inside the map bounds.
func (c *Conductor) randomSpec(rng *rand.Rand) Spec {
	s := uniform(rng, c.cfg.SeedScaleMin, c.cfg.SeedScaleMax) * c.maxScale
	x := uniform(rng, c.bounds.Left(), c.bounds.Right())
	y := uniform(rng, c.bounds.Bottom(), c.bounds.Top())
	return Spec{Transform: shape.Transform{Scale: clampScale(s, c.maxScale), Center: orb.Point{x, y}}}
}

func (c *Conductor) stats(gen int, pop, children []Candidate) GenerationStats {
	invalid := 0
	for _, ch := range children {
		if !ch.valid {
			invalid++
		}
	}
	return GenerationStats{
		Generation: gen,
		Best:       pop[0].fitness,
		BestValid:  pop[0].valid,
		Transform:  pop[0].transform,
		Evaluated:  len(children),
		Invalid:    invalid,
		Population: len(pop),
	}
}

// rank sorts ascending by fitness, invalid candidates last. The sort is
// stable so equal scores keep their slot order.
func rank(pop []Candidate) {
	sort.SliceStable(pop, func(i, j int) bool { return better(pop[i], pop[j]) })
}

// Select returns the k best candidates of pop in rank order as a new slice;
// pop itself is not reordered. Run picks its survivors with it.
func Select(pop []Candidate, k int) []Candidate {
	out := append([]Candidate(nil), pop...)
	rank(out)
	if k < len(out) {
		out = out[:k]
	}
	return out
}
