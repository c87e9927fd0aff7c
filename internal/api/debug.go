package api

import (
	"expvar"
	"net/http"
	"time"

	"routetrace/internal/buildinfo"
)

func init() {
	expvar.Publish("build", expvar.Func(func() any { return buildinfo.Info() }))
}

func debugVars() http.Handler { return expvar.Handler() }

// DebugJSON reports build info and the effective, secret-free configuration.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	cfg := s.Cfg
	info := map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"port":           cfg.Port,
			"mapPath":        cfg.MapPath,
			"authMode":       s.Auth.Mode,
			"rateRps":        cfg.RateRPS,
			"rateBurst":      cfg.RateBurst,
			"jobs":           cfg.Jobs,
			"hasDatabaseUrl": cfg.DatabaseURL != "",
			"hasRedisUrl":    cfg.RedisURL != "",
			"optimizer":      cfg.Optimizer,
		},
	}
	writeJSON(w, http.StatusOK, info)
}
