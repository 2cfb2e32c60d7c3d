package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/i474232898/weather-etl-pipeline/internal/config"
	"github.com/i474232898/weather-etl-pipeline/internal/scheduler"
	"github.com/i474232898/weather-etl-pipeline/internal/store"
	"github.com/i474232898/weather-etl-pipeline/internal/weather"
	"github.com/i474232898/weather-etl-pipeline/internal/weather/providers"
)

// pipeline bundles everything the commands share.
type pipeline struct {
	cfg          *config.AppConfig
	runner       *scheduler.Runner
	openReadings weather.ReadingStoreOpener
}

// readingsOpener picks the relational sink from the flags.
func readingsOpener(cmd *cobra.Command, cfg *config.AppConfig) weather.ReadingStoreOpener {
	if path, _ := cmd.Flags().GetString("sqlite"); path != "" {
		log.Printf("INFO: using sqlite readings store at %s", path)
		return store.SQLiteOpener(path)
	}
	return store.PostgresOpener(cfg.PostgresURI)
}

// rawOpener picks the staging store from the flags.
func rawOpener(cmd *cobra.Command, cfg *config.AppConfig) weather.RawStoreOpener {
	if mem, _ := cmd.Flags().GetBool("memory-staging"); mem {
		log.Println("INFO: staging raw documents in memory")
		return store.NewMemoryRawStore().Opener()
	}
	return store.MongoOpener(store.MongoConfig{
		URI:            cfg.MongoURI,
		Database:       cfg.MongoDatabase,
		Collection:     cfg.MongoCollection,
		ConnectTimeout: 10 * time.Second,
	})
}

func newPipeline(cmd *cobra.Command) (*pipeline, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	log.Printf("INFO: config %s", cfg.Summary())

	// Shared HTTP client for outbound provider calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	// Provider with resilience (backoff + circuit breaker + rate limit).
	provider := providers.NewOpenWeatherProvider(httpClient, providers.OpenWeatherOptions{
		APIKey:  cfg.OpenWeatherAPIKey,
		BaseURL: cfg.OpenWeatherBaseURL,
		Backoff: providers.BackoffConfig{
			MaxRetries:      cfg.ProviderMaxRetries,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
		},
		RequestsPerSecond: cfg.ProviderRPS,
	})

	openReadings := readingsOpener(cmd, cfg)
	service := weather.NewService(provider, cfg.Cities, rawOpener(cmd, cfg), openReadings, weather.Options{
		IsolateFailures: cfg.FetchIsolation,
		Incremental:     cfg.LoadIncremental,
	})

	history := scheduler.NewHistory(cfg.RunHistoryMax, cfg.RunHistoryAge)
	runner, err := scheduler.NewRunner("weather_etl", cfg.Policy(), history,
		scheduler.Task{
			ID: scheduler.TaskFetchAndUpsertRaw,
			Run: func(ctx context.Context) (any, error) {
				return service.FetchAndUpsertRaw(ctx)
			},
		},
		scheduler.Task{
			ID:       scheduler.TaskTransformAndLoadPostgres,
			Upstream: scheduler.TaskFetchAndUpsertRaw,
			Run: func(ctx context.Context) (any, error) {
				return service.TransformAndLoad(ctx)
			},
		},
	)
	if err != nil {
		return nil, err
	}

	return &pipeline{
		cfg:          cfg,
		runner:       runner,
		openReadings: openReadings,
	}, nil
}
