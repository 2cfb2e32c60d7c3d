package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/i474232898/weather-etl-pipeline/internal/common"
	"github.com/i474232898/weather-etl-pipeline/internal/scheduler"
	"github.com/i474232898/weather-etl-pipeline/internal/weather"
)

// AppConfig holds every runtime setting of the pipeline. Connection settings
// are not required at load time; a missing value surfaces as an error when
// the task that needs it runs.
type AppConfig struct {
	OpenWeatherAPIKey  string
	OpenWeatherBaseURL string `validate:"required,url"`

	MongoURI        string
	MongoDatabase   string `validate:"required"`
	MongoCollection string `validate:"required"`

	PostgresURI string

	// Cities to fetch, in order.
	Cities []weather.City `validate:"dive"`

	// Scheduling policy.
	Schedule       string        `validate:"required"`
	TaskRetries    int           `validate:"gte=0"`
	TaskRetryDelay time.Duration `validate:"gte=0"`

	// Provider client.
	HTTPTimeout        time.Duration `validate:"gt=0"`
	ProviderMaxRetries int           `validate:"gte=0"`
	ProviderRPS        float64       `validate:"gte=0"`

	// FetchIsolation lets one city fail without aborting the batch.
	FetchIsolation bool
	// LoadIncremental scans only staging documents newer than the last load.
	LoadIncremental bool

	// In-memory run history retention.
	RunHistoryMax int           `validate:"gte=0"` // max number of task runs kept (0 = unlimited)
	RunHistoryAge time.Duration `validate:"gte=0"` // max age of task runs (0 = unlimited)

	Port string `validate:"required,numeric"`
}

var validate = validator.New()

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	cfg := &AppConfig{}

	cfg.OpenWeatherAPIKey = os.Getenv("OPENWEATHER_API_KEY")
	cfg.OpenWeatherBaseURL = getenvDefault("OPENWEATHER_BASE_URL", "https://api.openweathermap.org/data/2.5")

	cfg.MongoURI = os.Getenv("MONGO_URI")
	cfg.MongoDatabase = getenvDefault("MONGO_DB", "skylogix")
	cfg.MongoCollection = getenvDefault("MONGO_COLLECTION", "weather_raw")
	cfg.PostgresURI = os.Getenv("POSTGRES_URI")

	policy := scheduler.DefaultPolicy()
	cfg.Schedule = getenvDefault("PIPELINE_SCHEDULE", policy.Schedule)
	cfg.TaskRetries = getenvInt("TASK_RETRIES", policy.Retries)

	var err error
	if cfg.TaskRetryDelay, err = getenvDuration("TASK_RETRY_DELAY", policy.RetryDelay); err != nil {
		return nil, err
	}
	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	cfg.ProviderMaxRetries = getenvInt("PROVIDER_MAX_RETRIES", 3)
	cfg.ProviderRPS = getenvFloat("PROVIDER_RPS", 1)

	cfg.FetchIsolation = getenvBool("FETCH_ISOLATION", false)
	cfg.LoadIncremental = getenvBool("LOAD_INCREMENTAL", false)

	// Run history retention.
	cfg.RunHistoryMax = getenvInt("RUN_HISTORY_MAX", 192) // roughly 24h of two tasks at 15-minute intervals
	if cfg.RunHistoryAge, err = getenvDuration("RUN_HISTORY_AGE", 24*time.Hour); err != nil {
		return nil, err
	}
	cfg.Port = getenvDefault("PORT", "8080")

	cities, err := loadCities()
	if err != nil {
		return nil, err
	}
	cfg.Cities = cities

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and the schedule expression.
func (c *AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := c.Policy().Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Policy returns the scheduling policy described by the config.
func (c *AppConfig) Policy() scheduler.Policy {
	return scheduler.Policy{
		Schedule:   c.Schedule,
		Retries:    c.TaskRetries,
		RetryDelay: c.TaskRetryDelay,
	}
}

// Summary is a loggable description with credentials hidden.
func (c *AppConfig) Summary() string {
	return fmt.Sprintf("cities=%d schedule=%q retries=%d retry_delay=%s mongo=%s db=%s/%s postgres=%s isolation=%t incremental=%t",
		len(c.Cities), c.Schedule, c.TaskRetries, c.TaskRetryDelay,
		redact(c.MongoURI), c.MongoDatabase, c.MongoCollection, redact(c.PostgresURI),
		c.FetchIsolation, c.LoadIncremental)
}

func redact(uri string) string {
	switch {
	case uri == "":
		return "<unset>"
	case common.HasAny(uri, "@", "password="):
		return "<redacted>"
	default:
		return uri
	}
}

// loadCities reads the paired WEATHER_LOCATION_CITY and WEATHER_LOCATION_COUNTRY
// lists. Without a city list the default set is used.
func loadCities() ([]weather.City, error) {
	cities := common.SplitList(os.Getenv("WEATHER_LOCATION_CITY"))
	countries := common.SplitList(os.Getenv("WEATHER_LOCATION_COUNTRY"))
	if len(cities) == 0 {
		return weather.DefaultCities(), nil
	}
	if len(cities) != len(countries) {
		return nil, fmt.Errorf("number of cities and countries must be the same")
	}

	var locs []weather.City
	for i := range cities {
		locs = append(locs, weather.City{
			Name:    cities[i],
			Country: strings.ToUpper(countries[i]),
		})
	}
	return locs, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
