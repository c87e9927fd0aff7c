package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/paulmach/orb"

	"routetrace/internal/index"
	"routetrace/internal/model"
	"routetrace/internal/opt"
	"routetrace/internal/shape"
)

// ErrNoPlacement means the search finished without a usable placement.
var ErrNoPlacement = errors.New("no placement traces the map")

// Runner executes one trace against the shared map index.
type Runner struct {
	Index    *index.Index
	Defaults opt.Config
	Log      *slog.Logger
}

// Config merges per-trace options over the service defaults.
func (r *Runner) Config(o *model.TraceOptions) opt.Config {
	cfg := r.Defaults
	if o == nil {
		return cfg
	}
	if o.PopulationSize > 0 {
		cfg.PopulationSize = o.PopulationSize
	}
	if o.Survivors > 0 {
		cfg.Survivors = o.Survivors
	}
	if o.FanOut != nil {
		cfg.FanOut = *o.FanOut
	}
	if o.FreshPerSurvivor != nil {
		cfg.FreshPerSurvivor = *o.FreshPerSurvivor
	}
	if o.MaxGenerations > 0 {
		cfg.MaxGenerations = o.MaxGenerations
	}
	if o.Patience > 0 {
		cfg.Patience = o.Patience
	}
	if o.TimeBudgetMs > 0 {
		cfg.TimeBudget = time.Duration(o.TimeBudgetMs) * time.Millisecond
	}
	if o.Seed != 0 {
		cfg.Seed = o.Seed
	}
	if o.SearchRadiusMeters > 0 {
		cfg.SearchRadiusMeters = o.SearchRadiusMeters
	}
	if o.SnapRadiusMeters > 0 {
		cfg.SnapRadiusMeters = o.SnapRadiusMeters
	}
	return cfg
}

// Run searches for the best placement of t's shape. A run that ends without
// a valid placement returns its result together with ErrNoPlacement.
func (r *Runner) Run(ctx context.Context, t model.Trace, progress func(opt.GenerationStats)) (model.TraceResult, error) {
	pts := make([]orb.Point, len(t.Shape))
	for i, p := range t.Shape {
		pts[i] = orb.Point(p)
	}
	tpl, err := shape.NewTemplate(pts)
	if err != nil {
		return model.TraceResult{}, err
	}
	log := r.Log
	if log == nil {
		log = slog.Default()
	}
	opts := []opt.Option{opt.WithLogger(log.With("trace_id", t.ID))}
	if progress != nil {
		opts = append(opts, opt.WithProgress(progress))
	}
	c, err := opt.New(r.Index, tpl, r.Config(t.Options), opts...)
	if err != nil {
		return model.TraceResult{}, err
	}
	var seeds []shape.Transform
	if t.Options != nil {
		for _, p := range t.Options.Placements {
			seeds = append(seeds, shape.Transform{Scale: p.Scale, Center: orb.Point(p.Center)})
		}
	}
	res, err := c.Run(ctx, seeds...)
	opt.RecordRun(t.ID, res.Summary())
	out := ResultModel(res)
	if err != nil {
		return out, err
	}
	if !out.Valid {
		if e := res.Best.Err(); e != nil {
			return out, fmt.Errorf("%w: %v", ErrNoPlacement, e)
		}
		return out, ErrNoPlacement
	}
	return out, nil
}

// ResultModel converts an optimizer result to its stored form.
func ResultModel(res opt.Result) model.TraceResult {
	tr := res.Best.Transform()
	out := model.TraceResult{
		Valid:        res.Best.Valid(),
		Placement:    model.Placement{Scale: tr.Scale, Center: [2]float64(tr.Center)},
		Route:        make([][2]float64, len(res.Route.Points)),
		FeatureKeys:  res.Route.Keys,
		Complete:     res.Route.Complete,
		FailedVertex: res.Route.FailedVertex,
		LengthMeters: res.Route.LengthMeters(),
		Generations:  res.Generations,
		Evaluations:  res.Evaluations,
		Invalid:      res.Invalid,
		StopReason:   string(res.StopReason),
		Seed:         res.Seed,
		ElapsedMs:    res.Elapsed.Milliseconds(),
	}
	for i, p := range res.Route.Points {
		out.Route[i] = [2]float64(p)
	}
	if out.Valid {
		f := res.Best.Fitness()
		out.Fitness = &f
	}
	return out
}
