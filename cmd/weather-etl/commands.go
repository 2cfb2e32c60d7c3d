package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"

	httpapi "github.com/i474232898/weather-etl-pipeline/internal/api/http"
	"github.com/i474232898/weather-etl-pipeline/internal/scheduler"
	"github.com/i474232898/weather-etl-pipeline/internal/store"
)

// --- serve ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pipeline on its schedule and serve the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := newPipeline(cmd)
		if err != nil {
			return err
		}

		// Scheduler that periodically runs both tasks.
		sched := scheduler.New(p.runner)
		if err := sched.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer sched.Stop()

		// Basic app configuration
		app := fiber.New(fiber.Config{
			AppName:               "weather-etl-pipeline",
			DisableStartupMessage: true,
			ReadTimeout:           10 * time.Second,
			WriteTimeout:          10 * time.Second,
			ErrorHandler: func(c *fiber.Ctx, err error) error {
				// Centralized error response
				code := fiber.StatusInternalServerError
				if e, ok := err.(*fiber.Error); ok {
					code = e.Code
				}
				return c.Status(code).JSON(fiber.Map{
					"error":   true,
					"message": err.Error(),
				})
			},
		})

		// Global middleware
		app.Use(logger.New())
		app.Use(recover.New())

		// Basic health endpoint
		app.Get("/health", func(c *fiber.Ctx) error {
			return c.JSON(fiber.Map{
				"status":  "ok",
				"service": "weather-etl-pipeline",
			})
		})

		// One relational handle serves every API request.
		readings := store.NewLazyReadingStore(p.openReadings)
		defer readings.Close()

		// API routes.
		httpapi.RegisterRoutes(app, sched.Context(), p.runner, readings)

		go func() {
			if err := app.Listen(":" + p.cfg.Port); err != nil {
				log.Printf("fiber server stopped: %v", err)
			}
		}()

		// Wait for termination signal
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Printf("error during shutdown: %v", err)
		}
		return nil
	},
}

// --- run ---

var runCmd = &cobra.Command{
	Use:   "run [fetch|load|all]",
	Short: "Run the pipeline once and exit",
	Long: `Run the pipeline once and exit with a non-zero status if any task fails.

  fetch  runs fetch_and_upsert_raw
  load   runs transform_and_load_postgres
  all    runs both, skipping load when fetch fails (default)`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"fetch", "load", "all"},
	RunE: func(cmd *cobra.Command, args []string) error {
		which := "all"
		if len(args) == 1 {
			which = args[0]
		}

		var tasks []string
		switch which {
		case "fetch":
			tasks = []string{scheduler.TaskFetchAndUpsertRaw}
		case "load":
			tasks = []string{scheduler.TaskTransformAndLoadPostgres}
		case "all":
		default:
			return fmt.Errorf("unknown target %q: use fetch, load or all", which)
		}

		p, err := newPipeline(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		runs, err := p.runner.RunTasks(ctx, tasks...)
		for _, r := range runs {
			fmt.Fprintf(os.Stdout, "%-28s %-16s attempts=%d %s\n", r.Task, r.State, r.Attempts, r.Error)
		}
		return err
	},
}

// --- migrate ---

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the weather_readings and etl_watermarks tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := newPipeline(cmd)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		readings, err := p.openReadings(ctx)
		if err != nil {
			return err
		}
		defer readings.Close()

		m, ok := readings.(migrator)
		if !ok {
			return fmt.Errorf("readings store %T does not support migrations", readings)
		}
		if err := m.Migrate(ctx); err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, "schema is up to date")
		return nil
	},
}

type migrator interface {
	Migrate(ctx context.Context) error
}

var _ migrator = (*store.SQLReadingStore)(nil)
