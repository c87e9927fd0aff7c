package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"routetrace/internal/integrations"
	"routetrace/internal/integrations/geojsonfile"
	"routetrace/internal/model"
	"routetrace/internal/opt"
	"routetrace/internal/route"
	"routetrace/internal/store"
)

// TracesHandler handles POST/GET /v1/traces
func (s *Server) TracesHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/traces" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	p, ok := s.principalOr401(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req model.TraceRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if _, err := validateTraceRequest(&req, s.Runner.Config); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid trace request", err.Error(), r.URL.Path)
			return
		}
		t, err := s.Store.CreateTrace(r.Context(), model.Trace{
			Owner:          p.Subject,
			Name:           req.Name,
			Shape:          req.Shape,
			Options:        req.Options,
			CallbackURL:    req.CallbackURL,
			CallbackSecret: req.CallbackSecret,
		})
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Create trace failed", err.Error(), r.URL.Path)
			return
		}
		s.Log.Info("trace_queued", "trace_id", t.ID, "owner", t.Owner, "points", len(t.Shape))
		w.Header().Set("Location", "/v1/traces/"+t.ID)
		writeJSON(w, http.StatusAccepted, t)
	case http.MethodGet:
		q := r.URL.Query()
		owner := p.Subject
		if p.IsAdmin() {
			owner = q.Get("owner")
		}
		limit := 100
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				writeProblem(w, http.StatusBadRequest, "Invalid limit", "limit must be a positive integer", r.URL.Path)
				return
			}
			limit = n
		}
		items, next, err := s.Store.ListTraces(r.Context(), owner, q.Get("status"), q.Get("cursor"), limit)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List traces failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// TraceByIDHandler handles GET /v1/traces/{id} and its sub-resources
// /route.geojson, /metrics and /events/ws.
func (s *Server) TraceByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/traces/")
	if rest == r.URL.Path || rest == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	parts := strings.Split(rest, "/")
	id := parts[0]
	p, ok := s.principalOr401(w, r)
	if !ok {
		return
	}
	t, err := s.Store.GetTrace(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !canSee(p, t.Owner)) {
		writeProblem(w, http.StatusNotFound, "Trace not found", id, r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Get trace failed", err.Error(), r.URL.Path)
		return
	}

	switch sub := strings.Join(parts[1:], "/"); sub {
	case "":
		writeJSON(w, http.StatusOK, t)
	case "route.geojson":
		s.routeGeoJSON(w, r, t)
	case "metrics":
		sum, ok := opt.GetRun(t.ID)
		if !ok {
			writeProblem(w, http.StatusNotFound, "No run summary", "trace has not run in this process", r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, sum)
	case "events/ws":
		s.streamEvents(w, r, t)
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", sub, r.URL.Path)
	}
}

func (s *Server) routeGeoJSON(w http.ResponseWriter, r *http.Request, t model.Trace) {
	if t.Status != model.StatusSucceeded || t.Result == nil {
		writeProblem(w, http.StatusConflict, "Route not available", "trace status is "+t.Status, r.URL.Path)
		return
	}
	res := t.Result
	rt := route.Route{
		Points:       make([]orb.Point, len(res.Route)),
		Keys:         res.FeatureKeys,
		Complete:     res.Complete,
		FailedVertex: res.FailedVertex,
	}
	for i, p := range res.Route {
		rt.Points[i] = orb.Point(p)
	}
	meta := integrations.RouteMeta{
		TraceID: t.ID,
		Fitness: res.Fitness,
		Scale:   res.Placement.Scale,
		Center:  orb.Point(res.Placement.Center),
	}
	w.Header().Set("Content-Type", "application/geo+json")
	if err := (geojsonfile.Sink{W: w}).WriteRoute(r.Context(), rt, meta); err != nil {
		s.Log.Warn("route_geojson_write_failed", "trace_id", t.ID, "err", err)
	}
}

// MapHandler describes the loaded road map.
func (s *Server) MapHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	out := map[string]any{"entries": 0}
	if s.Index != nil {
		out["entries"] = s.Index.Len()
		if b, ok := s.Index.Bounds(); ok {
			out["bounds"] = [4]float64{b.Left(), b.Bottom(), b.Right(), b.Top()}
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	if s.Index == nil || s.Index.Len() == 0 {
		writeProblem(w, http.StatusServiceUnavailable, "Not Ready", "map not loaded", r.URL.Path)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
		return
	}
	type pinger interface{ Ping(ctx context.Context) error }
	if pb, ok := s.Broker.(pinger); ok {
		if err := pb.Ping(ctx); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
