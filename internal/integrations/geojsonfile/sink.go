// Package geojsonfile writes traced routes as GeoJSON.
package geojsonfile

import (
	"context"
	"encoding/json"
	"io"

	"github.com/paulmach/orb/geojson"

	"routetrace/internal/integrations"
	"routetrace/internal/route"
)

// Sink writes a FeatureCollection holding the route as a LineString plus
// one Point feature per snapped vertex.
type Sink struct {
	W      io.Writer
	Indent bool
}

func (Sink) Name() string { return "geojson" }

func (s Sink) WriteRoute(ctx context.Context, r route.Route, meta integrations.RouteMeta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fc := FeatureCollection(r, meta)
	enc := json.NewEncoder(s.W)
	if s.Indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(fc)
}

// FeatureCollection builds the GeoJSON document for a route.
func FeatureCollection(r route.Route, meta integrations.RouteMeta) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	line := geojson.NewFeature(r.LineString())
	if meta.TraceID != "" {
		line.ID = meta.TraceID
		line.Properties["traceId"] = meta.TraceID
	}
	line.Properties["complete"] = r.Complete
	line.Properties["lengthMeters"] = r.LengthMeters()
	if !r.Complete {
		line.Properties["failedVertex"] = r.FailedVertex
	}
	if meta.Fitness != nil {
		line.Properties["fitness"] = *meta.Fitness
	}
	if meta.Scale != 0 {
		line.Properties["scale"] = meta.Scale
		line.Properties["center"] = []float64{meta.Center[0], meta.Center[1]}
	}
	fc.Append(line)
	for i, p := range r.Points {
		f := geojson.NewFeature(p)
		f.Properties["vertex"] = i
		if i < len(r.Keys) {
			f.Properties["feature"] = r.Keys[i]
		}
		fc.Append(f)
	}
	return fc
}
