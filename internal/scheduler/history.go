package scheduler

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrNoRuns is returned when a task has not run yet.
	ErrNoRuns = errors.New("no runs recorded for task")
)

// History is a concurrency-safe in-memory log of task runs.
type History struct {
	mu sync.RWMutex

	// oldest first
	runs []TaskRun

	// retention configuration
	maxHistory int           // max number of runs kept
	maxAge     time.Duration // optional max age of runs
}

// NewHistory creates a new History with optional limits.
// If maxHistory is <= 0, it is treated as unlimited.
func NewHistory(maxHistory int, maxAge time.Duration) *History {
	return &History{
		maxHistory: maxHistory,
		maxAge:     maxAge,
	}
}

// Record appends a run and enforces retention.
func (h *History) Record(run TaskRun) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.runs = append(h.runs, run)

	// Enforce retention by count.
	if h.maxHistory > 0 && len(h.runs) > h.maxHistory {
		over := len(h.runs) - h.maxHistory
		h.runs = h.runs[over:]
	}

	// Enforce retention by age.
	if h.maxAge > 0 {
		cutoff := time.Now().Add(-h.maxAge)
		i := 0
		for ; i < len(h.runs); i++ {
			if !h.runs[i].FinishedAt.Before(cutoff) {
				break
			}
		}
		if i > 0 && i < len(h.runs) {
			h.runs = h.runs[i:]
		}
	}
}

// Latest returns the most recent run of a task.
func (h *History) Latest(task string) (TaskRun, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for i := len(h.runs) - 1; i >= 0; i-- {
		if h.runs[i].Task == task {
			return h.runs[i], nil
		}
	}
	return TaskRun{}, ErrNoRuns
}

// Recent returns up to limit runs, newest first. limit <= 0 returns all.
func (h *History) Recent(limit int) []TaskRun {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := len(h.runs)
	if limit > 0 && limit < n {
		n = limit
	}
	result := make([]TaskRun, 0, n)
	for i := len(h.runs) - 1; i >= 0 && len(result) < n; i-- {
		result = append(result, h.runs[i])
	}
	return result
}
