package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Task names exposed to the scheduler.
const (
	TaskFetchAndUpsertRaw        = "fetch_and_upsert_raw"
	TaskTransformAndLoadPostgres = "transform_and_load_postgres"
)

// ErrRunInProgress is returned when a pipeline run is already active.
var ErrRunInProgress = errors.New("pipeline run already in progress")

// TaskState is the outcome of one task in a pipeline run.
type TaskState string

const (
	StateSuccess        TaskState = "success"
	StateFailed         TaskState = "failed"
	StateUpstreamFailed TaskState = "upstream_failed"
)

// Task is a named unit of work. Upstream names the task that must succeed
// first in the same pipeline run.
type Task struct {
	ID       string
	Upstream string
	Run      func(ctx context.Context) (any, error)
}

// TaskRun records one execution of a task, retries included.
type TaskRun struct {
	ID          string    `json:"id"`
	PipelineRun string    `json:"pipelineRun"`
	Task        string    `json:"task"`
	State       TaskState `json:"state"`
	Attempts    int       `json:"attempts"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
	Error       string    `json:"error,omitempty"`
	Result      any       `json:"result,omitempty"`
}

// Runner executes a fixed task graph under a Policy.
type Runner struct {
	pipeline string
	tasks    []Task
	policy   Policy
	history  *History
	now      func() time.Time

	// held for the duration of a pipeline run
	running sync.Mutex
}

// NewRunner validates the graph and returns a Runner.
// Tasks must be listed after their upstream.
func NewRunner(pipeline string, policy Policy, history *History, tasks ...Task) (*Runner, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if t.ID == "" || t.Run == nil {
			return nil, errors.New("task requires an id and a run function")
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("duplicate task %q", t.ID)
		}
		if t.Upstream != "" && !seen[t.Upstream] {
			return nil, fmt.Errorf("task %q depends on unknown or later task %q", t.ID, t.Upstream)
		}
		seen[t.ID] = true
	}

	if history == nil {
		history = NewHistory(0, 0)
	}
	return &Runner{
		pipeline: pipeline,
		tasks:    tasks,
		policy:   policy,
		history:  history,
		now:      time.Now,
	}, nil
}

// History exposes the runner's run log.
func (r *Runner) History() *History {
	return r.history
}

// Policy returns the runner's scheduling policy.
func (r *Runner) Policy() Policy {
	return r.policy
}

// RunOnce executes every task in order. A task whose upstream failed is
// skipped. The returned error joins all task failures.
func (r *Runner) RunOnce(ctx context.Context) ([]TaskRun, error) {
	return r.RunTasks(ctx)
}

// RunTasks executes only the named tasks, ignoring upstream state for tasks
// outside the selection. No ids means every task.
func (r *Runner) RunTasks(ctx context.Context, ids ...string) ([]TaskRun, error) {
	selected, err := r.selection(ids)
	if err != nil {
		return nil, err
	}
	if !r.running.TryLock() {
		return nil, ErrRunInProgress
	}
	defer r.running.Unlock()

	return r.run(ctx, selected)
}

// Trigger starts a run in the background and returns once it has begun.
func (r *Runner) Trigger(ctx context.Context, ids ...string) error {
	selected, err := r.selection(ids)
	if err != nil {
		return err
	}
	if !r.running.TryLock() {
		return ErrRunInProgress
	}

	go func() {
		defer r.running.Unlock()
		if _, err := r.run(ctx, selected); err != nil {
			log.Printf("ERROR: scheduler: triggered run failed: %v", err)
		}
	}()
	return nil
}

func (r *Runner) selection(ids []string) (map[string]bool, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	selected := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !r.hasTask(id) {
			return nil, fmt.Errorf("unknown task %q", id)
		}
		selected[id] = true
	}
	return selected, nil
}

func (r *Runner) hasTask(id string) bool {
	for _, t := range r.tasks {
		if t.ID == id {
			return true
		}
	}
	return false
}

func (r *Runner) run(ctx context.Context, selected map[string]bool) ([]TaskRun, error) {
	runID := uuid.NewString()
	log.Printf("scheduler: starting %s run %s", r.pipeline, runID)

	states := make(map[string]TaskState, len(r.tasks))
	var (
		runs []TaskRun
		errs []error
	)

	for _, t := range r.tasks {
		if selected != nil && !selected[t.ID] {
			continue
		}

		var tr TaskRun
		if st, ok := states[t.Upstream]; t.Upstream != "" && ok && st != StateSuccess {
			now := r.now().UTC()
			tr = TaskRun{
				ID:          uuid.NewString(),
				PipelineRun: runID,
				Task:        t.ID,
				State:       StateUpstreamFailed,
				StartedAt:   now,
				FinishedAt:  now,
			}
			log.Printf("scheduler: skipping %s, upstream %s did not succeed", t.ID, t.Upstream)
		} else {
			tr = r.runTask(ctx, runID, t)
			if tr.State == StateFailed {
				errs = append(errs, fmt.Errorf("task %s: %s", t.ID, tr.Error))
			}
		}

		states[t.ID] = tr.State
		r.history.Record(tr)
		runs = append(runs, tr)
	}

	log.Printf("scheduler: completed %s run %s", r.pipeline, runID)
	return runs, errors.Join(errs...)
}

func (r *Runner) runTask(ctx context.Context, runID string, t Task) TaskRun {
	tr := TaskRun{
		ID:          uuid.NewString(),
		PipelineRun: runID,
		Task:        t.ID,
		StartedAt:   r.now().UTC(),
	}

	maxAttempts := 1 + r.policy.Retries
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		tr.Attempts = attempt

		result, err := t.Run(ctx)
		if err == nil {
			tr.State = StateSuccess
			tr.Result = result
			tr.FinishedAt = r.now().UTC()
			log.Printf("scheduler: %s succeeded on attempt %d", t.ID, attempt)
			return tr
		}

		lastErr = err
		log.Printf("ERROR: scheduler: %s attempt %d/%d failed: %v", t.ID, attempt, maxAttempts, err)

		if attempt == maxAttempts {
			break
		}
		if err := sleepCtx(ctx, r.policy.RetryDelay); err != nil {
			lastErr = fmt.Errorf("%w (retry aborted: %v)", lastErr, err)
			break
		}
	}

	tr.State = StateFailed
	tr.Error = lastErr.Error()
	tr.FinishedAt = r.now().UTC()
	return tr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
