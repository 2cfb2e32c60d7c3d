package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/i474232898/weather-etl-pipeline/internal/weather"
)

const readingsUniqueIndex = "weather_readings_city_observed_at_key"

// readingRow maps a weather.Reading onto the weather_readings table.
type readingRow struct {
	City                 string    `gorm:"column:city;type:text;not null;uniqueIndex:weather_readings_city_observed_at_key,priority:1"`
	Country              *string   `gorm:"column:country;type:text"`
	ObservedAt           time.Time `gorm:"column:observed_at;not null;uniqueIndex:weather_readings_city_observed_at_key,priority:2"`
	Lat                  *float64  `gorm:"column:lat"`
	Lon                  *float64  `gorm:"column:lon"`
	TempC                *float64  `gorm:"column:temp_c"`
	FeelsLikeC           *float64  `gorm:"column:feels_like_c"`
	PressureHpa          *float64  `gorm:"column:pressure_hpa"`
	HumidityPct          *float64  `gorm:"column:humidity_pct"`
	WindSpeedMS          *float64  `gorm:"column:wind_speed_ms"`
	WindDeg              *float64  `gorm:"column:wind_deg"`
	CloudPct             *float64  `gorm:"column:cloud_pct"`
	VisibilityM          *float64  `gorm:"column:visibility_m"`
	Rain1hMM             float64   `gorm:"column:rain_1h_mm;not null"`
	Snow1hMM             float64   `gorm:"column:snow_1h_mm;not null"`
	ConditionMain        *string   `gorm:"column:condition_main;type:text"`
	ConditionDescription *string   `gorm:"column:condition_description;type:text"`
}

func (readingRow) TableName() string {
	return "weather_readings"
}

// watermarkRow persists the incremental load position.
type watermarkRow struct {
	Name      string    `gorm:"column:name;primaryKey;type:text"`
	Watermark time.Time `gorm:"column:watermark;not null"`
}

func (watermarkRow) TableName() string {
	return "etl_watermarks"
}

func rowFromReading(r weather.Reading) readingRow {
	return readingRow{
		City:                 r.City,
		Country:              r.Country,
		ObservedAt:           r.ObservedAt.UTC(),
		Lat:                  r.Lat,
		Lon:                  r.Lon,
		TempC:                r.TempC,
		FeelsLikeC:           r.FeelsLikeC,
		PressureHpa:          r.PressureHpa,
		HumidityPct:          r.HumidityPct,
		WindSpeedMS:          r.WindSpeedMS,
		WindDeg:              r.WindDeg,
		CloudPct:             r.CloudPct,
		VisibilityM:          r.VisibilityM,
		Rain1hMM:             r.Rain1hMM,
		Snow1hMM:             r.Snow1hMM,
		ConditionMain:        r.ConditionMain,
		ConditionDescription: r.ConditionDescription,
	}
}

func (row readingRow) toReading() weather.Reading {
	return weather.Reading{
		City:                 row.City,
		Country:              row.Country,
		ObservedAt:           row.ObservedAt.UTC(),
		Lat:                  row.Lat,
		Lon:                  row.Lon,
		TempC:                row.TempC,
		FeelsLikeC:           row.FeelsLikeC,
		PressureHpa:          row.PressureHpa,
		HumidityPct:          row.HumidityPct,
		WindSpeedMS:          row.WindSpeedMS,
		WindDeg:              row.WindDeg,
		CloudPct:             row.CloudPct,
		VisibilityM:          row.VisibilityM,
		Rain1hMM:             row.Rain1hMM,
		Snow1hMM:             row.Snow1hMM,
		ConditionMain:        row.ConditionMain,
		ConditionDescription: row.ConditionDescription,
	}
}

// SQLReadingStore writes readings through gorm to PostgreSQL (or SQLite locally).
type SQLReadingStore struct {
	db *gorm.DB
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger: logger.New(log.New(os.Stdout, "", log.LstdFlags), logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	}
}

// OpenPostgres connects to PostgreSQL using a URI or DSN.
func OpenPostgres(uri string) (*SQLReadingStore, error) {
	if uri == "" {
		return nil, errors.New("POSTGRES_URI is not configured")
	}
	db, err := gorm.Open(postgres.Open(uri), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	return &SQLReadingStore{db: db}, nil
}

// OpenSQLite opens (or creates) a SQLite database file.
func OpenSQLite(path string) (*SQLReadingStore, error) {
	db, err := gorm.Open(sqlite.Open(path), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sqlite handle: %w", err)
	}
	// Limit to single connection to avoid "database is locked" errors.
	sqlDB.SetMaxOpenConns(1)

	return &SQLReadingStore{db: db}, nil
}

// PostgresOpener returns an opener that connects once per task run.
func PostgresOpener(uri string) weather.ReadingStoreOpener {
	return func(ctx context.Context) (weather.ReadingStore, error) {
		return OpenPostgres(uri)
	}
}

// SQLiteOpener returns an opener for a local SQLite file. The schema is
// created on open since there is no external administration locally.
func SQLiteOpener(path string) weather.ReadingStoreOpener {
	return func(ctx context.Context) (weather.ReadingStore, error) {
		s, err := OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	}
}

// Migrate creates the weather_readings and etl_watermarks tables if missing.
func (s *SQLReadingStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&readingRow{}, &watermarkRow{}); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}

// InTx runs fn inside one transaction; any error rolls everything back.
func (s *SQLReadingStore) InTx(ctx context.Context, fn func(tx weather.ReadingTx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
}

// ListReadings returns rows for a city ordered by observation time.
// Zero from/to leave that side of the range open.
func (s *SQLReadingStore) ListReadings(ctx context.Context, city string, from, to time.Time) ([]weather.Reading, error) {
	q := s.db.WithContext(ctx).Model(&readingRow{}).Where("city = ?", city)
	if !from.IsZero() {
		q = q.Where("observed_at >= ?", from.UTC())
	}
	if !to.IsZero() {
		q = q.Where("observed_at <= ?", to.UTC())
	}

	var rows []readingRow
	if err := q.Order("observed_at").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query readings for %s: %w", city, err)
	}

	result := make([]weather.Reading, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toReading())
	}
	return result, nil
}

// Count returns the number of rows in weather_readings.
func (s *SQLReadingStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&readingRow{}).Count(&n).Error
	return n, err
}

// Close closes the underlying database connection.
func (s *SQLReadingStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) InsertReading(ctx context.Context, r weather.Reading) (bool, error) {
	row := rowFromReading(r)
	res := t.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "city"}, {Name: "observed_at"}},
			DoNothing: true,
		}).
		Create(&row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (t *gormTx) Watermark(ctx context.Context, name string) (time.Time, error) {
	var rows []watermarkRow
	if err := t.db.WithContext(ctx).Where("name = ?", name).Limit(1).Find(&rows).Error; err != nil {
		return time.Time{}, err
	}
	if len(rows) == 0 {
		return time.Time{}, nil
	}
	return rows[0].Watermark.UTC(), nil
}

func (t *gormTx) SetWatermark(ctx context.Context, name string, at time.Time) error {
	row := watermarkRow{Name: name, Watermark: at.UTC()}
	return t.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"watermark"}),
		}).
		Create(&row).Error
}
