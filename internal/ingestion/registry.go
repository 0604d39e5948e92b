package ingestion

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrRunExists   = errors.New("ingestion run already active")
	ErrRunNotFound = errors.New("ingestion run not found")
)

// RunInfo describes an active ingestion run.
type RunInfo struct {
	ID        string    `json:"id"`
	SourceID  string    `json:"source_id"`
	StartedAt time.Time `json:"started_at"`
}

type activeRun struct {
	info   RunInfo
	cancel context.CancelFunc
}

// Registry tracks active runs so they can be cancelled by ID.
type Registry struct {
	mu   sync.Mutex
	runs map[string]*activeRun
}

func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*activeRun)}
}

// Start registers a run and returns a context cancelled by Cancel, plus a
// function that must be called when the run ends.
func (r *Registry) Start(ctx context.Context, runID, sourceID string) (context.Context, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.runs[runID]; ok {
		return nil, nil, ErrRunExists
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.runs[runID] = &activeRun{
		info:   RunInfo{ID: runID, SourceID: sourceID, StartedAt: time.Now()},
		cancel: cancel,
	}

	done := func() {
		r.mu.Lock()
		delete(r.runs, runID)
		r.mu.Unlock()
		cancel()
	}
	return runCtx, done, nil
}

// Cancel requests cancellation of a run. The run observes it at its next
// checkpoint.
func (r *Registry) Cancel(runID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[runID]
	if !ok {
		return ErrRunNotFound
	}
	run.cancel()
	return nil
}

// Active lists running ingestions, oldest first.
func (r *Registry) Active() []RunInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]RunInfo, 0, len(r.runs))
	for _, run := range r.runs {
		out = append(out, run.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}
