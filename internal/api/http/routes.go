package httpapi

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weather-etl-pipeline/internal/scheduler"
	"github.com/i474232898/weather-etl-pipeline/internal/weather"
)

var validate = validator.New()

// ReadingsSource hands out the shared relational store.
type ReadingsSource interface {
	Get(ctx context.Context) (weather.ReadingStore, error)
}

// RegisterRoutes wires the HTTP handlers into the Fiber app. Manually
// triggered runs inherit runCtx, so cancelling it aborts them.
func RegisterRoutes(app *fiber.App, runCtx context.Context, runner *scheduler.Runner, readings ReadingsSource) {
	v1 := app.Group("/api/v1")

	v1.Get("/runs", func(c *fiber.Ctx) error {
		var q runsQuery
		if err := q.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(q); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		history := runner.History()
		if q.Task != "" {
			run, err := history.Latest(q.Task)
			if err != nil {
				if errors.Is(err, scheduler.ErrNoRuns) {
					return fiber.NewError(fiber.StatusNotFound, "no runs recorded for requested task")
				}
				return fiber.NewError(fiber.StatusInternalServerError, "failed to read run history")
			}
			return c.JSON(run)
		}

		return c.JSON(fiber.Map{
			"runs": history.Recent(q.Limit),
		})
	})

	v1.Post("/pipeline/run", func(c *fiber.Ctx) error {
		var tasks []string
		if task := c.Query("task"); task != "" {
			tasks = append(tasks, task)
		}

		// The run outlives the request but not the server.
		if err := runner.Trigger(runCtx, tasks...); err != nil {
			if errors.Is(err, scheduler.ErrRunInProgress) {
				return fiber.NewError(fiber.StatusConflict, err.Error())
			}
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		log.Printf("INFO: pipeline run triggered over http (tasks=%v)", tasks)
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"status": "accepted",
		})
	})

	v1.Get("/readings", func(c *fiber.Ctx) error {
		var q readingsQuery
		if err := q.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(q); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		ctx := c.UserContext()
		store, err := readings.Get(ctx)
		if err != nil {
			log.Printf("ERROR: open readings store: %v", err)
			return fiber.NewError(fiber.StatusServiceUnavailable, "readings store unavailable")
		}

		list, err := store.ListReadings(ctx, q.City, q.From, q.To)
		if err != nil {
			log.Printf("ERROR: list readings for %s: %v", q.City, err)
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch readings")
		}
		if len(list) == 0 {
			return fiber.NewError(fiber.StatusNotFound, "no readings for requested city and range")
		}

		return c.JSON(fiber.Map{
			"city":     q.City,
			"from":     q.From,
			"to":       q.To,
			"readings": list,
		})
	})
}

// runsQuery holds query parameters for the run history endpoint.
type runsQuery struct {
	Task  string
	Limit int `validate:"gte=0,lte=500"`
}

func (q *runsQuery) bind(c *fiber.Ctx) error {
	q.Task = c.Query("task")
	q.Limit = 50
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return errors.New("limit must be an integer")
		}
		q.Limit = n
	}
	return nil
}

// readingsQuery holds query parameters for the readings endpoint.
// Both bounds are optional.
type readingsQuery struct {
	City string    `validate:"required"`
	From time.Time
	To   time.Time `validate:"omitempty,gtefield=From"`
}

func (q *readingsQuery) bind(c *fiber.Ctx) error {
	q.City = c.Query("city")

	if s := c.Query("from"); s != "" {
		from, err := parseTime(s)
		if err != nil {
			return err
		}
		q.From = from
	}
	if s := c.Query("to"); s != "" {
		to, err := parseTime(s)
		if err != nil {
			return err
		}
		q.To = to
	}
	return nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
