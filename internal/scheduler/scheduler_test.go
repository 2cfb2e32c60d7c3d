package scheduler

import (
	"context"
	"testing"
	"time"
)

func TestSchedulerStartRejectsBadSchedule(t *testing.T) {
	r := &Runner{
		pipeline: "weather",
		policy:   Policy{Schedule: "every fifteen minutes"},
		history:  NewHistory(0, 0),
		now:      time.Now,
	}

	s := New(r)
	defer s.Stop()

	if err := s.Start(); err == nil {
		t.Fatal("expected Start to reject an invalid schedule")
	}
	if n := s.scheduler.Len(); n != 0 {
		t.Fatalf("expected no jobs registered, got %d", n)
	}
}

func TestSchedulerTickRunsPipeline(t *testing.T) {
	var fetchCalls, loadCalls int
	// Yearly, so no cron tick fires while the test drives tick directly.
	policy := Policy{Schedule: "0 0 1 1 *", RetryDelay: time.Millisecond}
	r, err := NewRunner("weather", policy, nil,
		countingTask(TaskFetchAndUpsertRaw, "", 0, &fetchCalls),
		countingTask(TaskTransformAndLoadPostgres, TaskFetchAndUpsertRaw, 0, &loadCalls),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s := New(r)
	if err := s.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Stop()

	if n := s.scheduler.Len(); n != 1 {
		t.Fatalf("expected one cron job, got %d", n)
	}

	s.tick()

	if fetchCalls != 1 || loadCalls != 1 {
		t.Fatalf("expected both tasks to run once, got fetch=%d load=%d", fetchCalls, loadCalls)
	}
	if got := len(r.History().Recent(0)); got != 2 {
		t.Fatalf("expected 2 recorded runs, got %d", got)
	}
}

func TestSchedulerStopCancelsContext(t *testing.T) {
	var calls int
	r, err := NewRunner("weather", testPolicy(0), nil, countingTask("only", "", 0, &calls))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s := New(r)
	if err := s.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.Stop()

	select {
	case <-s.Context().Done():
	default:
		t.Fatal("expected Stop to cancel the scheduler context")
	}
	if err := s.Context().Err(); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
