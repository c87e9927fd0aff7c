package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"routetrace/internal/config"
	"routetrace/internal/metrics"
	"routetrace/internal/model"
	"routetrace/internal/opt"
	"routetrace/internal/store"
)

// Publisher fans trace events out to live subscribers.
type Publisher interface {
	Publish(traceID string, evt model.TraceEvent)
}

// Worker polls the store for queued traces, runs them, and delivers
// completion callbacks.
type Worker struct {
	Store        store.Store
	Runner       *Runner
	Events       Publisher
	HTTP         *http.Client
	Stop         chan struct{}
	MaxAttempts  int
	BatchSize    int
	PollInterval time.Duration
	RunTimeout   time.Duration

	// CallbackTimeout bounds one callback POST.
	CallbackTimeout time.Duration
	Log             *slog.Logger

	wg   sync.WaitGroup
	once sync.Once
}

func NewWorker(s store.Store, r *Runner, events Publisher, cfg config.Jobs, log *slog.Logger) *Worker {
	return &Worker{
		Store:        s,
		Runner:       r,
		Events:       events,
		HTTP:         &http.Client{Timeout: cfg.CallbackTimeout},
		Stop:         make(chan struct{}),
		MaxAttempts:  cfg.CallbackMaxAttempts,
		BatchSize:    cfg.BatchSize,
		PollInterval: cfg.PollInterval,
		RunTimeout:   cfg.RunTimeout,

		CallbackTimeout: cfg.CallbackTimeout,
		Log:             log,
	}
}

func (w *Worker) Start() {
	interval := w.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-w.Stop:
				return
			case <-ticker.C:
				w.processOnce()
				w.deliverOnce()
			}
		}
	}()
}

// Close stops polling and waits for the current tick to finish.
func (w *Worker) Close() {
	w.once.Do(func() { close(w.Stop) })
	w.wg.Wait()
}

func (w *Worker) logger() *slog.Logger {
	if w.Log == nil {
		return slog.Default()
	}
	return w.Log
}

// processOnce claims a batch of queued traces and runs them side by side.
func (w *Worker) processOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	items, err := w.Store.ClaimQueuedTraces(ctx, max(w.BatchSize, 1))
	cancel()
	if err != nil {
		w.logger().Error("claim_traces_failed", "err", err)
		return
	}
	if len(items) == 0 {
		return
	}
	p := pool.New().WithMaxGoroutines(len(items))
	for _, t := range items {
		p.Go(func() { w.execute(t) })
	}
	p.Wait()
}

func (w *Worker) execute(t model.Trace) {
	log := w.logger().With("trace_id", t.ID)
	ctx := context.Background()
	var cancel context.CancelFunc
	if w.RunTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, w.RunTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	w.publish(t.ID, model.EventStarted, nil)
	res, err := w.Runner.Run(ctx, t, func(st opt.GenerationStats) {
		data := map[string]any{
			"generation": st.Generation,
			"evaluated":  st.Evaluated,
			"invalid":    st.Invalid,
			"population": st.Population,
		}
		if st.BestValid {
			data["best"] = st.Best
		}
		w.publish(t.ID, model.EventProgress, data)
	})

	sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer scancel()
	evt := model.EventSucceeded
	if err != nil {
		evt = model.EventFailed
		var stored *model.TraceResult
		if res.Generations > 0 || res.Evaluations > 0 {
			stored = &res
		}
		if ferr := w.Store.FailTrace(sctx, t.ID, err.Error(), stored); ferr != nil {
			log.Error("fail_trace_failed", "err", ferr)
		}
		metrics.Jobs.WithLabelValues(model.StatusFailed).Inc()
		log.Warn("trace_failed", "err", err)
	} else {
		if cerr := w.Store.CompleteTrace(sctx, t.ID, res); cerr != nil {
			log.Error("complete_trace_failed", "err", cerr)
		}
		metrics.Jobs.WithLabelValues(model.StatusSucceeded).Inc()
		log.Info("trace_succeeded", "fitness", *res.Fitness, "generations", res.Generations)
	}

	data := map[string]any{"result": res}
	if err != nil {
		data["error"] = err.Error()
	}
	w.publish(t.ID, evt, data)
	if t.CallbackURL != "" {
		w.enqueueCallback(sctx, t, evt, data)
	}
}

func (w *Worker) publish(traceID, typ string, data map[string]any) {
	if w.Events == nil {
		return
	}
	w.Events.Publish(traceID, model.TraceEvent{Type: typ, TraceID: traceID, Ts: time.Now().UTC(), Data: data})
}

func (w *Worker) enqueueCallback(ctx context.Context, t model.Trace, typ string, data map[string]any) {
	payload := map[string]any{
		"id":      t.ID + ":" + typ,
		"type":    typ,
		"traceId": t.ID,
		"ts":      time.Now().UTC().Format(time.RFC3339),
		"data":    data,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		w.logger().Error("callback_encode_failed", "trace_id", t.ID, "err", err)
		return
	}
	if _, err := w.Store.EnqueueCallback(ctx, t.ID, typ, t.CallbackURL, t.CallbackSecret, body); err != nil {
		w.logger().Error("callback_enqueue_failed", "trace_id", t.ID, "err", err)
	}
}

// deliverOnce posts due callbacks, rescheduling failures with exponential
// backoff until MaxAttempts. Each delivery gets its own CallbackTimeout.
func (w *Worker) deliverOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	items, err := w.Store.FetchDueCallbacks(ctx, 50)
	cancel()
	if err != nil || len(items) == 0 {
		return
	}
	for _, it := range items {
		w.deliver(it)
	}
}

func (w *Worker) deliver(it store.CallbackDelivery) {
	timeout := w.CallbackTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	success := false
	next := time.Now().Add(nextBackoff(it.Attempts))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, it.URL, bytes.NewReader(it.Payload))
	if err != nil {
		_ = w.Store.FailCallback(context.WithoutCancel(ctx), it.ID, err.Error(), 0, 0)
		metrics.Callbacks.WithLabelValues("failed").Inc()
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEventType, it.EventType)
	req.Header.Set(HeaderTraceID, it.TraceID)
	if it.Secret != "" {
		req.Header.Set(HeaderSignature, SignHMAC(it.Secret, it.Payload))
	}
	start := time.Now()
	resp, err := w.HTTP.Do(req)
	latency := int(time.Since(start).Milliseconds())
	code := 0
	if err == nil && resp != nil {
		code = resp.StatusCode
		if resp.Body != nil {
			_ = resp.Body.Close()
		}
		if code >= 200 && code < 300 {
			success = true
		}
	}
	lastErr := ""
	switch {
	case err != nil:
		lastErr = err.Error()
	case !success:
		lastErr = http.StatusText(code)
	}

	// the request context may have expired; the outcome is still recorded
	sctx := context.WithoutCancel(ctx)
	if !success && it.Attempts+1 >= w.MaxAttempts {
		_ = w.Store.FailCallback(sctx, it.ID, lastErr, code, latency)
		metrics.Callbacks.WithLabelValues("failed").Inc()
		w.logger().Warn("callback_dead", "trace_id", it.TraceID, "url", it.URL, "code", code, "err", lastErr)
		return
	}
	_ = w.Store.MarkCallback(sctx, it.ID, success, &next, lastErr, code, latency)
	if success {
		metrics.Callbacks.WithLabelValues("delivered").Inc()
	} else {
		metrics.Callbacks.WithLabelValues("retry").Inc()
	}
}

func nextBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 10 {
		attempts = 10
	}
	base := time.Second * time.Duration(1<<attempts)
	if base > time.Hour {
		base = time.Hour
	}
	return base
}

