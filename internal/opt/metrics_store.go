package opt

import "sync"

// RunSummary is the compact, JSON-safe record of a finished run.
type RunSummary struct {
	Generations int        `json:"generations"`
	Evaluations int        `json:"evaluations"`
	Invalid     int        `json:"invalid"`
	StopReason  StopReason `json:"stopReason"`
	Best        *float64   `json:"best,omitempty"`
	Seed        int64      `json:"seed"`
	ElapsedMs   int64      `json:"elapsedMs"`
	Complete    bool       `json:"complete"`
}

// Summary condenses r. Best is omitted when the run found no valid placement.
func (r Result) Summary() RunSummary {
	s := RunSummary{
		Generations: r.Generations,
		Evaluations: r.Evaluations,
		Invalid:     r.Invalid,
		StopReason:  r.StopReason,
		Seed:        r.Seed,
		ElapsedMs:   r.Elapsed.Milliseconds(),
		Complete:    r.Route.Complete,
	}
	if r.Best.Valid() {
		f := r.Best.Fitness()
		s.Best = &f
	}
	return s
}

var (
	mu    sync.Mutex
	store = map[string]RunSummary{}
)

func RecordRun(traceID string, s RunSummary) {
	mu.Lock()
	store[traceID] = s
	mu.Unlock()
}

func GetRun(traceID string) (RunSummary, bool) {
	mu.Lock()
	defer mu.Unlock()
	s, ok := store[traceID]
	return s, ok
}
