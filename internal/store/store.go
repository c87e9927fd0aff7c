package store

import (
	"context"
	"errors"
	"time"

	"routetrace/internal/model"
)

// Store is the persistence interface used by the API server and job worker.
type Store interface {
	// Traces
	CreateTrace(ctx context.Context, t model.Trace) (model.Trace, error)
	GetTrace(ctx context.Context, id string) (model.Trace, error)
	ListTraces(ctx context.Context, owner, status, cursor string, limit int) (items []model.Trace, nextCursor string, err error)
	// ClaimQueuedTraces moves up to limit queued traces to running, oldest first.
	ClaimQueuedTraces(ctx context.Context, limit int) ([]model.Trace, error)
	CompleteTrace(ctx context.Context, id string, res model.TraceResult) error
	FailTrace(ctx context.Context, id, reason string, res *model.TraceResult) error
	// RequeueRunning puts traces left running by a previous process back in the queue.
	RequeueRunning(ctx context.Context) (int, error)

	// Completion callbacks
	EnqueueCallback(ctx context.Context, traceID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueCallbacks(ctx context.Context, limit int) ([]CallbackDelivery, error)
	MarkCallback(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailCallback(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error

	Ping(ctx context.Context) error
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a trace is not in the state an update expects.
	ErrConflict = errors.New("conflict")
)

type CallbackDelivery struct {
	ID        string
	TraceID   string
	EventType string
	URL       string
	Secret    string
	Payload   []byte
	Status    string
	Attempts  int
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}
