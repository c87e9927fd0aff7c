package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"routetrace/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu        sync.Mutex
	traces    map[string]*model.Trace
	order     []string // creation order
	callbacks map[string]*memCallback
	cbOrder   []string
	dedup     map[string]string // trace|type|url|key -> callback id
	now       func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		traces:    map[string]*model.Trace{},
		callbacks: map[string]*memCallback{},
		dedup:     map[string]string{},
		now:       time.Now,
	}
}

// memCallback augments CallbackDelivery with scheduling/metrics
type memCallback struct {
	CallbackDelivery
	NextAttemptAt time.Time
	LastError     string
	ResponseCode  int
	LatencyMs     int
	DeliveredAt   *time.Time
}

func (m *Memory) CreateTrace(ctx context.Context, t model.Trace) (model.Trace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if _, dup := m.traces[t.ID]; dup {
		return model.Trace{}, ErrConflict
	}
	now := m.now().UTC()
	t.Status = model.StatusQueued
	t.CreatedAt, t.UpdatedAt = now, now
	t.Result, t.Error, t.StartedAt, t.FinishedAt = nil, "", nil, nil
	cp := t
	m.traces[t.ID] = &cp
	m.order = append(m.order, t.ID)
	return t, nil
}

func (m *Memory) GetTrace(ctx context.Context, id string) (model.Trace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.traces[id]
	if !ok {
		return model.Trace{}, ErrNotFound
	}
	return *t, nil
}

func (m *Memory) ListTraces(ctx context.Context, owner, status, cursor string, limit int) ([]model.Trace, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	start := 0
	if cursor != "" {
		for i, id := range m.order {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}
	out := []model.Trace{}
	var last string
	for _, id := range m.order[start:] {
		t := m.traces[id]
		if owner != "" && t.Owner != owner {
			continue
		}
		if status != "" && t.Status != status {
			continue
		}
		out = append(out, *t)
		last = id
		if len(out) == limit {
			break
		}
	}
	next := ""
	if len(out) == limit {
		next = last
	}
	return out, next, nil
}

func (m *Memory) ClaimQueuedTraces(ctx context.Context, limit int) ([]model.Trace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Trace{}
	now := m.now().UTC()
	for _, id := range m.order {
		if len(out) >= limit {
			break
		}
		t := m.traces[id]
		if t.Status != model.StatusQueued {
			continue
		}
		t.Status = model.StatusRunning
		started := now
		t.StartedAt = &started
		t.UpdatedAt = now
		out = append(out, *t)
	}
	return out, nil
}

func (m *Memory) CompleteTrace(ctx context.Context, id string, res model.TraceResult) error {
	return m.finish(id, model.StatusSucceeded, "", &res)
}

func (m *Memory) FailTrace(ctx context.Context, id, reason string, res *model.TraceResult) error {
	return m.finish(id, model.StatusFailed, reason, res)
}

func (m *Memory) finish(id, status, reason string, res *model.TraceResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.traces[id]
	if !ok {
		return ErrNotFound
	}
	if t.Status != model.StatusRunning {
		return ErrConflict
	}
	now := m.now().UTC()
	t.Status = status
	t.Error = reason
	t.Result = res
	t.UpdatedAt = now
	t.FinishedAt = &now
	return nil
}

func (m *Memory) RequeueRunning(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.traces {
		if t.Status == model.StatusRunning {
			t.Status = model.StatusQueued
			t.StartedAt = nil
			t.UpdatedAt = m.now().UTC()
			n++
		}
	}
	return n, nil
}

func (m *Memory) EnqueueCallback(ctx context.Context, traceID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.traces[traceID]; !ok {
		return "", ErrNotFound
	}
	dk := traceID + "|" + eventType + "|" + url + "|" + computeDedupKey(payload)
	if id, dup := m.dedup[dk]; dup {
		return id, nil
	}
	id := uuid.New().String()
	m.callbacks[id] = &memCallback{
		CallbackDelivery: CallbackDelivery{
			ID:        id,
			TraceID:   traceID,
			EventType: eventType,
			URL:       url,
			Secret:    secret,
			Payload:   append([]byte(nil), payload...),
			Status:    "pending",
		},
		NextAttemptAt: m.now(),
	}
	m.cbOrder = append(m.cbOrder, id)
	m.dedup[dk] = id
	return id, nil
}

func (m *Memory) FetchDueCallbacks(ctx context.Context, limit int) ([]CallbackDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	due := []*memCallback{}
	for _, id := range m.cbOrder {
		c := m.callbacks[id]
		if (c.Status == "pending" || c.Status == "retry") && !c.NextAttemptAt.After(now) {
			due = append(due, c)
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].NextAttemptAt.Before(due[j].NextAttemptAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]CallbackDelivery, len(due))
	for i, c := range due {
		out[i] = c.CallbackDelivery
	}
	return out, nil
}

func (m *Memory) MarkCallback(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.callbacks[id]
	if !ok {
		return ErrNotFound
	}
	c.ResponseCode, c.LatencyMs = responseCode, latencyMs
	if success {
		now := m.now()
		c.Status = "delivered"
		c.DeliveredAt = &now
		return nil
	}
	c.Attempts++
	c.Status = "retry"
	c.LastError = lastError
	if nextAttemptAt != nil {
		c.NextAttemptAt = *nextAttemptAt
	} else {
		c.NextAttemptAt = m.now().Add(time.Minute)
	}
	return nil
}

func (m *Memory) FailCallback(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.callbacks[id]
	if !ok {
		return ErrNotFound
	}
	c.Attempts++
	c.Status = "failed"
	c.LastError = lastError
	c.ResponseCode, c.LatencyMs = responseCode, latencyMs
	return nil
}

// Callback returns a delivery's current state; used by tests and admin views.
func (m *Memory) Callback(id string) (CallbackDelivery, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.callbacks[id]
	if !ok {
		return CallbackDelivery{}, false
	}
	return c.CallbackDelivery, true
}

func (m *Memory) Ping(ctx context.Context) error { return nil }
