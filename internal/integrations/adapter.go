// Package integrations defines the collaborators that feed shapes into a
// trace run and carry the snapped route out of it.
package integrations

import (
	"context"
	"errors"

	"github.com/paulmach/orb"

	"routetrace/internal/route"
)

var ErrNoShape = errors.New("shape source produced no points")

// ShapeSource supplies the outline to trace, in local coordinates.
type ShapeSource interface {
	Name() string
	ReadShape(ctx context.Context) ([]orb.Point, error)
}

// RouteSink receives the result of a trace run.
type RouteSink interface {
	Name() string
	WriteRoute(ctx context.Context, r route.Route, meta RouteMeta) error
}

// RouteMeta travels with a route to sinks that can record it.
type RouteMeta struct {
	TraceID string
	Fitness *float64
	Scale   float64
	Center  orb.Point
}
