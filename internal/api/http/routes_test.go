package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weather-etl-pipeline/internal/scheduler"
	"github.com/i474232898/weather-etl-pipeline/internal/store"
	"github.com/i474232898/weather-etl-pipeline/internal/weather"
)

func testRunner(t *testing.T, run func(ctx context.Context) (any, error)) *scheduler.Runner {
	t.Helper()
	policy := scheduler.Policy{Schedule: "*/15 * * * *", Retries: 0}
	r, err := scheduler.NewRunner("weather", policy, scheduler.NewHistory(10, 0),
		scheduler.Task{ID: scheduler.TaskFetchAndUpsertRaw, Run: run},
	)
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	return r
}

func seededReadings(t *testing.T) *store.LazyReadingStore {
	t.Helper()
	opener := store.SQLiteOpener(filepath.Join(t.TempDir(), "readings.db"))

	s, err := opener(context.Background())
	if err != nil {
		t.Fatalf("open readings: %v", err)
	}
	defer s.Close()

	err = s.InTx(context.Background(), func(tx weather.ReadingTx) error {
		for _, epoch := range []int64{1700000000, 1700000900, 1700001800} {
			if _, err := tx.InsertReading(context.Background(), weather.Reading{
				City:       "Nairobi",
				ObservedAt: time.Unix(epoch, 0).UTC(),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed readings: %v", err)
	}

	lazy := store.NewLazyReadingStore(opener)
	t.Cleanup(func() { lazy.Close() })
	return lazy
}

func TestReadingsValidation(t *testing.T) {
	app := fiber.New()
	RegisterRoutes(app, context.Background(), testRunner(t, func(ctx context.Context) (any, error) { return nil, nil }), seededReadings(t))

	cases := []string{
		"/api/v1/readings",
		"/api/v1/readings?city=Nairobi&from=yesterday",
		"/api/v1/readings?city=Nairobi&from=1700001800&to=1700000000",
	}
	for _, target := range cases {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, target, nil))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: expected status %d, got %d", target, http.StatusBadRequest, resp.StatusCode)
		}
	}
}

func TestReadingsRange(t *testing.T) {
	app := fiber.New()
	RegisterRoutes(app, context.Background(), testRunner(t, func(ctx context.Context) (any, error) { return nil, nil }), seededReadings(t))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/readings?city=Nairobi&from=1700000900&to=2023-11-14T22:43:20Z", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}

	var body struct {
		Readings []weather.Reading `json:"readings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Readings) != 2 {
		t.Fatalf("expected 2 readings in range, got %d", len(body.Readings))
	}

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/readings?city=Accra", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, resp.StatusCode)
	}
}

func TestReadingsStoreUnavailable(t *testing.T) {
	app := fiber.New()
	down := func(ctx context.Context) (weather.ReadingStore, error) {
		return nil, errors.New("POSTGRES_URI is not configured")
	}
	RegisterRoutes(app, context.Background(), testRunner(t, func(ctx context.Context) (any, error) { return nil, nil }), store.NewLazyReadingStore(down))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/readings?city=Nairobi", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, resp.StatusCode)
	}
}

func TestTriggerAndListRuns(t *testing.T) {
	done := make(chan struct{})
	runner := testRunner(t, func(ctx context.Context) (any, error) {
		defer close(done)
		return map[string]int{"upserted": 4}, nil
	})

	app := fiber.New()
	RegisterRoutes(app, context.Background(), runner, seededReadings(t))

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/api/v1/pipeline/run", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d", http.StatusAccepted, resp.StatusCode)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("triggered run did not execute")
	}

	// The run is recorded just after the task returns.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := runner.History().Latest(scheduler.TaskFetchAndUpsertRaw); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("run was not recorded")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/runs?limit=5", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Runs []scheduler.TaskRun `json:"runs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Runs) != 1 || body.Runs[0].State != scheduler.StateSuccess {
		t.Fatalf("expected one successful run, got %+v", body.Runs)
	}

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/runs?task="+scheduler.TaskTransformAndLoadPostgres, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, resp.StatusCode)
	}
}

func TestTriggerUnknownTask(t *testing.T) {
	app := fiber.New()
	RegisterRoutes(app, context.Background(), testRunner(t, func(ctx context.Context) (any, error) { return nil, nil }), seededReadings(t))

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/api/v1/pipeline/run?task=nope", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.StatusCode)
	}
}

func TestRunsLimitValidation(t *testing.T) {
	app := fiber.New()
	RegisterRoutes(app, context.Background(), testRunner(t, func(ctx context.Context) (any, error) { return nil, nil }), seededReadings(t))

	for _, target := range []string{"/api/v1/runs?limit=abc", "/api/v1/runs?limit=-1", "/api/v1/runs?limit=1000"} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, target, nil))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: expected status %d, got %d", target, http.StatusBadRequest, resp.StatusCode)
		}
	}
}

func TestReadingsStoreOpenedOncePerServer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "readings.db")
	opens := 0
	lazy := store.NewLazyReadingStore(func(ctx context.Context) (weather.ReadingStore, error) {
		opens++
		return store.SQLiteOpener(path)(ctx)
	})
	defer lazy.Close()

	app := fiber.New()
	RegisterRoutes(app, context.Background(), testRunner(t, func(ctx context.Context) (any, error) { return nil, nil }), lazy)

	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/readings?city=Nairobi", nil))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("expected status %d, got %d", http.StatusNotFound, resp.StatusCode)
		}
	}
	if opens != 1 {
		t.Fatalf("expected the store to be opened once, got %d", opens)
	}
}

func TestTriggeredRunStopsWithServerContext(t *testing.T) {
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	runner := testRunner(t, func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	app := fiber.New()
	RegisterRoutes(app, runCtx, runner, seededReadings(t))

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/api/v1/pipeline/run", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d", http.StatusAccepted, resp.StatusCode)
	}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("triggered run did not start")
	}
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for {
		run, err := runner.History().Latest(scheduler.TaskFetchAndUpsertRaw)
		if err == nil {
			if run.State != scheduler.StateFailed {
				t.Fatalf("expected cancelled run to fail, got %s", run.State)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("triggered run ignored server shutdown")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
