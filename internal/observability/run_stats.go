// Package observability tracks sampling run outcomes per model.
package observability

import (
	"sort"
	"sync"
	"time"
)

// Outcome is the result of one model's run attempt.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// RunStats records run outcomes and durations. It is safe for concurrent use
// by the workers of one batch.
type RunStats struct {
	mu     sync.RWMutex
	models map[string]*ModelStats
}

// ModelStats holds the statistics of one model.
type ModelStats struct {
	Model     string
	Attempts  int64
	Outcomes  map[Outcome]int64
	LastError string
	Total     time.Duration
	Last      time.Duration
	LastSeen  time.Time
}

// Summary aggregates RunStats across models.
type Summary struct {
	Started   int64
	Succeeded int64
	Failed    int64
	Skipped   int64
	Total     time.Duration
}

// NewRunStats creates an empty tracker.
func NewRunStats() *RunStats {
	return &RunStats{models: make(map[string]*ModelStats)}
}

func (r *RunStats) entry(model string) *ModelStats {
	s, ok := r.models[model]
	if !ok {
		s = &ModelStats{Model: model, Outcomes: make(map[Outcome]int64)}
		r.models[model] = s
	}
	return s
}

// RecordRun records a finished attempt. A nil err counts as success.
func (r *RunStats) RecordRun(model string, took time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.entry(model)
	s.Attempts++
	s.Total += took
	s.Last = took
	s.LastSeen = time.Now()
	if err != nil {
		s.Outcomes[OutcomeFailed]++
		s.LastError = err.Error()
	} else {
		s.Outcomes[OutcomeSucceeded]++
		s.LastError = ""
	}
}

// RecordSkip records a model left alone because its draws already exist.
func (r *RunStats) RecordSkip(model string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.entry(model)
	s.Outcomes[OutcomeSkipped]++
	s.LastSeen = time.Now()
}

// Get returns a copy of one model's statistics.
func (r *RunStats) Get(model string) (ModelStats, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.models[model]
	if !ok {
		return ModelStats{}, false
	}
	return s.copy(), true
}

// Models returns a copy of every model's statistics, slowest total first.
func (r *RunStats) Models() []ModelStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ModelStats, 0, len(r.models))
	for _, s := range r.models {
		out = append(out, s.copy())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Model < out[j].Model
	})
	return out
}

// Summary aggregates every model.
func (r *RunStats) Summary() Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var sum Summary
	for _, s := range r.models {
		sum.Started += s.Attempts
		sum.Succeeded += s.Outcomes[OutcomeSucceeded]
		sum.Failed += s.Outcomes[OutcomeFailed]
		sum.Skipped += s.Outcomes[OutcomeSkipped]
		sum.Total += s.Total
	}
	return sum
}

func (s *ModelStats) copy() ModelStats {
	c := *s
	c.Outcomes = make(map[Outcome]int64, len(s.Outcomes))
	for k, v := range s.Outcomes {
		c.Outcomes[k] = v
	}
	return c
}
