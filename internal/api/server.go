// Package api implements the HTTP surface of the trace service.
package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"routetrace/internal/auth"
	"routetrace/internal/config"
	"routetrace/internal/index"
	"routetrace/internal/jobs"
	"routetrace/internal/logger"
	"routetrace/internal/metrics"
	"routetrace/internal/store"
)

type Server struct {
	Store   store.Store
	Broker  EventBroker
	Auth    *auth.Verifier
	Index   *index.Index
	Runner  *jobs.Runner
	Cfg     config.Config
	Log     *slog.Logger
	limiter *keyedLimiter
}

// NewServer wires the store, broker and auth from cfg. Without DATABASE_URL
// traces live in memory; without REDIS_URL progress events stay in process.
func NewServer(ctx context.Context, cfg config.Config, idx *index.Index, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = logger.L()
	}
	verifier, err := auth.NewVerifier(cfg.AuthMode, cfg.AuthHMACSecret)
	if err != nil {
		return nil, err
	}
	var s store.Store
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		s = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if cfg.DBMigrate {
			if err := sp.Migrate(ctx); err != nil {
				_ = sp.Close()
				return nil, err
			}
		}
		if n, err := sp.RequeueRunning(ctx); err != nil {
			log.Warn("requeue_running_failed", "err", err)
		} else if n > 0 {
			log.Info("requeued_running_traces", "count", n)
		}
		s = sp
	}
	var broker EventBroker = NewBroker()
	if cfg.RedisURL != "" {
		rb, err := NewRedisBroker(cfg.RedisURL, log)
		if err != nil {
			log.Warn("redis_broker_unavailable", "err", err)
		} else {
			broker = rb
		}
	}
	return &Server{
		Store:   s,
		Broker:  broker,
		Auth:    verifier,
		Index:   idx,
		Runner:  &jobs.Runner{Index: idx, Defaults: cfg.Optimizer, Log: log},
		Cfg:     cfg,
		Log:     log,
		limiter: newKeyedLimiter(cfg.RateRPS, cfg.RateBurst),
	}, nil
}

// NewWorker creates the background worker that runs queued traces.
func (s *Server) NewWorker() *jobs.Worker {
	return jobs.NewWorker(s.Store, s.Runner, s.Broker, s.Cfg.Jobs, s.Log)
}

// Handler returns the routed, instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Traces
	mux.Handle("/v1/traces", s.rateLimit(http.HandlerFunc(s.TracesHandler)))
	mux.HandleFunc("/v1/traces/", s.TraceByIDHandler) // includes /route.geojson, /metrics, /events/ws
	mux.HandleFunc("/v1/map", s.MapHandler)

	// Health
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)

	// Ops
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/debug/vars", debugVars())
	mux.HandleFunc("/debug/info", s.DebugJSON)

	return logger.AccessMiddleware(s.Log)(metricsMiddleware(mux))
}

// Close releases the store and broker connections.
func (s *Server) Close() error {
	var first error
	for _, c := range []any{s.Broker, s.Store} {
		if cl, ok := c.(io.Closer); ok {
			if err := cl.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
