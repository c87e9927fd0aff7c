package api

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"routetrace/internal/logger"
	"routetrace/internal/metrics"
)

// metricsMiddleware records request counts and latency. Paths are reduced
// to their route so ids do not explode label cardinality.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := logger.NewStatusWriter(w)
		start := time.Now()
		next.ServeHTTP(sw, r)
		status := strconv.Itoa(sw.Status)
		path := routeLabel(r.URL.Path)
		metrics.HTTPRequests.WithLabelValues(r.Method, path, status).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
	})
}

func routeLabel(path string) string {
	rest, ok := strings.CutPrefix(path, "/v1/traces/")
	if !ok {
		switch path {
		case "/v1/traces", "/v1/map", "/healthz", "/readyz", "/metrics", "/debug/vars", "/debug/info":
			return path
		}
		return "other"
	}
	if _, sub, found := strings.Cut(rest, "/"); found {
		return "/v1/traces/{id}/" + sub
	}
	return "/v1/traces/{id}"
}

// keyedLimiter holds one token bucket per caller.
type keyedLimiter struct {
	rps   rate.Limit
	burst int
	mu    sync.Mutex
	m     map[string]*rate.Limiter
}

func newKeyedLimiter(rps float64, burst int) *keyedLimiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &keyedLimiter{rps: rate.Limit(rps), burst: burst, m: map[string]*rate.Limiter{}}
}

func (k *keyedLimiter) allow(key string) bool {
	k.mu.Lock()
	l, ok := k.m[key]
	if !ok {
		l = rate.NewLimiter(k.rps, k.burst)
		k.m[key] = l
	}
	k.mu.Unlock()
	return l.Allow()
}

// rateLimit throttles writes per caller; reads pass through.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil || r.Method == http.MethodGet || r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		if !s.limiter.allow(s.callerKey(r)) {
			w.Header().Set("Retry-After", "1")
			writeProblem(w, http.StatusTooManyRequests, "Too Many Requests", "rate limit exceeded", r.URL.Path)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) callerKey(r *http.Request) string {
	if p, err := s.getPrincipal(r); err == nil && p.Subject != "anonymous" {
		return "sub:" + p.Subject
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
