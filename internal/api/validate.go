package api

import (
	"fmt"
	"math"
	"net/url"

	"github.com/paulmach/orb"

	"routetrace/internal/model"
	"routetrace/internal/opt"
	"routetrace/internal/shape"
)

const maxShapePoints = 10000

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// validateTraceRequest checks req and returns the optimizer config the trace
// would run with.
func validateTraceRequest(req *model.TraceRequest, merge func(*model.TraceOptions) opt.Config) (opt.Config, error) {
	if len(req.Shape) > maxShapePoints {
		return opt.Config{}, fmt.Errorf("shape has %d points; at most %d allowed", len(req.Shape), maxShapePoints)
	}
	pts := make([]orb.Point, len(req.Shape))
	for i, p := range req.Shape {
		if !finite(p[0], p[1]) {
			return opt.Config{}, fmt.Errorf("shape[%d] is not finite", i)
		}
		pts[i] = orb.Point(p)
	}
	if _, err := shape.NewTemplate(pts); err != nil {
		return opt.Config{}, fmt.Errorf("shape: %w", err)
	}
	if req.CallbackURL != "" {
		u, err := url.Parse(req.CallbackURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return opt.Config{}, fmt.Errorf("callbackUrl must be an absolute http(s) URL")
		}
	} else if req.CallbackSecret != "" {
		return opt.Config{}, fmt.Errorf("callbackSecret requires callbackUrl")
	}
	if o := req.Options; o != nil {
		switch {
		case o.PopulationSize < 0, o.Survivors < 0, o.MaxGenerations < 0, o.Patience < 0:
			return opt.Config{}, fmt.Errorf("counts must be >= 0")
		case o.TimeBudgetMs < 0:
			return opt.Config{}, fmt.Errorf("timeBudgetMs must be >= 0")
		case o.SearchRadiusMeters < 0 || o.SnapRadiusMeters < 0:
			return opt.Config{}, fmt.Errorf("radii must be >= 0")
		case len(o.Placements) > opt.LimitPopulation:
			return opt.Config{}, fmt.Errorf("at most %d placements allowed", opt.LimitPopulation)
		}
		for i, pl := range o.Placements {
			if !finite(pl.Scale, pl.Center[0], pl.Center[1]) || pl.Scale == 0 {
				return opt.Config{}, fmt.Errorf("placements[%d] needs a finite non-zero scale and centre", i)
			}
			if math.Abs(pl.Center[0]) > 180 || math.Abs(pl.Center[1]) > 90 {
				return opt.Config{}, fmt.Errorf("placements[%d] centre is not a lon,lat pair", i)
			}
		}
	}
	cfg := merge(req.Options)
	if err := cfg.Validate(); err != nil {
		return opt.Config{}, err
	}
	return cfg, nil
}
