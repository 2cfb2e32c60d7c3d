package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
)

// Scheduler fires a Runner on its policy's cron schedule.
type Scheduler struct {
	scheduler *gocron.Scheduler
	runner    *Runner

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Scheduler.
func New(runner *Runner) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	// A tick that arrives while the previous run is still going is dropped,
	// so at most one pipeline run is active at a time.
	s.SingletonModeAll()

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler: s,
		runner:    runner,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start schedules the pipeline job and starts the underlying scheduler.
// Only future ticks fire; nothing is run to catch up.
func (s *Scheduler) Start() error {
	policy := s.runner.Policy()
	if err := policy.Validate(); err != nil {
		return err
	}

	_, err := s.scheduler.Cron(policy.Schedule).Do(s.tick)
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	if next, err := policy.Next(time.Now()); err == nil {
		log.Printf("scheduler: pipeline scheduled with %q, next run at %s", policy.Schedule, next.Format(time.RFC3339))
	}
	return nil
}

func (s *Scheduler) tick() {
	log.Println("scheduler: running weather pipeline job")
	if _, err := s.runner.RunOnce(s.ctx); err != nil {
		if errors.Is(err, ErrRunInProgress) {
			log.Println("INFO: scheduler: previous run still active; skipping tick")
			return
		}
		log.Printf("ERROR: scheduler: pipeline run failed: %v", err)
		return
	}
	log.Println("scheduler: completed weather pipeline job")
}

// Context is cancelled by Stop. Runs started outside the cron ticks should
// use it so they stop with the scheduler.
func (s *Scheduler) Context() context.Context {
	return s.ctx
}

// Stop stops the scheduler and aborts pending retry waits.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
