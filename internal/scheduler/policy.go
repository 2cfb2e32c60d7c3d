package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Policy is the scheduling contract for a pipeline: when it fires and how
// failed tasks are retried. Missed ticks are never replayed.
type Policy struct {
	// Schedule is a standard five-field cron expression evaluated in UTC.
	Schedule   string
	Retries    int
	RetryDelay time.Duration
}

// DefaultPolicy fires every 15 minutes with one retry after five minutes.
func DefaultPolicy() Policy {
	return Policy{
		Schedule:   "*/15 * * * *",
		Retries:    1,
		RetryDelay: 5 * time.Minute,
	}
}

// Validate checks the cron expression and retry settings.
func (p Policy) Validate() error {
	if _, err := cron.ParseStandard(p.Schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", p.Schedule, err)
	}
	if p.Retries < 0 {
		return fmt.Errorf("retries must not be negative, got %d", p.Retries)
	}
	if p.RetryDelay < 0 {
		return fmt.Errorf("retry delay must not be negative, got %s", p.RetryDelay)
	}
	return nil
}

// Next returns the first scheduled time strictly after t.
func (p Policy) Next(t time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(p.Schedule)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(t.UTC()), nil
}
