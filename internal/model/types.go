package model

import "time"

// Trace statuses
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// TraceRequest is the body of POST /v1/traces. Shape points are local x,y
// pairs; only their relative layout matters.
type TraceRequest struct {
	Name           string        `json:"name,omitempty"`
	Shape          [][2]float64  `json:"shape"`
	Options        *TraceOptions `json:"options,omitempty"`
	CallbackURL    string        `json:"callbackUrl,omitempty"`
	CallbackSecret string        `json:"callbackSecret,omitempty"`
}

// TraceOptions override the service's optimizer defaults for one run. Zero
// values mean "use the default".
type TraceOptions struct {
	PopulationSize     int         `json:"populationSize,omitempty"`
	Survivors          int         `json:"survivors,omitempty"`
	FanOut             *int        `json:"fanOut,omitempty"`
	FreshPerSurvivor   *int        `json:"freshPerSurvivor,omitempty"`
	MaxGenerations     int         `json:"maxGenerations,omitempty"`
	Patience           int         `json:"patience,omitempty"`
	TimeBudgetMs       int         `json:"timeBudgetMs,omitempty"`
	Seed               int64       `json:"seed,omitempty"`
	SearchRadiusMeters float64     `json:"searchRadiusMeters,omitempty"`
	SnapRadiusMeters   float64     `json:"snapRadiusMeters,omitempty"`
	Placements         []Placement `json:"placements,omitempty"`
}

// Placement is an explicit starting transform: uniform scale about the shape's
// bounding-box centre, then that centre moved to Center (lon, lat).
type Placement struct {
	Scale  float64    `json:"scale"`
	Center [2]float64 `json:"center"`
}

type Trace struct {
	ID             string        `json:"id"`
	Owner          string        `json:"owner,omitempty"`
	Name           string        `json:"name,omitempty"`
	Status         string        `json:"status"`
	Shape          [][2]float64  `json:"shape"`
	Options        *TraceOptions `json:"options,omitempty"`
	CallbackURL    string        `json:"callbackUrl,omitempty"`
	CallbackSecret string        `json:"-"`
	Result         *TraceResult  `json:"result,omitempty"`
	Error          string        `json:"error,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
	StartedAt      *time.Time    `json:"startedAt,omitempty"`
	FinishedAt     *time.Time    `json:"finishedAt,omitempty"`
}

// TraceResult is the stored outcome of a finished run. Fitness is absent when
// no valid placement was found. Route points are lon,lat pairs.
type TraceResult struct {
	Fitness      *float64     `json:"fitness,omitempty"`
	Valid        bool         `json:"valid"`
	Placement    Placement    `json:"placement"`
	Route        [][2]float64 `json:"route"`
	FeatureKeys  []string     `json:"featureKeys,omitempty"`
	Complete     bool         `json:"complete"`
	FailedVertex int          `json:"failedVertex"`
	LengthMeters float64      `json:"lengthMeters"`
	Generations  int          `json:"generations"`
	Evaluations  int          `json:"evaluations"`
	Invalid      int          `json:"invalid"`
	StopReason   string       `json:"stopReason"`
	Seed         int64        `json:"seed"`
	ElapsedMs    int64        `json:"elapsedMs"`
}

// TraceEvent is streamed to progress subscribers and posted to callbacks.
type TraceEvent struct {
	Type    string         `json:"type"`
	TraceID string         `json:"traceId"`
	Ts      time.Time      `json:"ts"`
	Data    map[string]any `json:"data,omitempty"`
}

// Event types
const (
	EventQueued    = "trace.queued"
	EventStarted   = "trace.started"
	EventProgress  = "trace.progress"
	EventSucceeded = "trace.succeeded"
	EventFailed    = "trace.failed"
)
