package weather

import (
	"context"
	"time"
)

// Provider abstracts the current-weather API (OpenWeatherMap).
type Provider interface {
	Name() string
	FetchCurrent(ctx context.Context, city City) (ProviderResponse, error)
}

// UpsertResult reports what a bulk upsert touched.
type UpsertResult struct {
	Upserted int64
	Modified int64
}

// RawStore is the document staging area for provider responses.
type RawStore interface {
	// UpsertMany writes all docs in a single round trip, keyed by doc.ID.
	UpsertMany(ctx context.Context, docs []RawObservation) (UpsertResult, error)
	// Scan calls fn for every document updated after since.
	// A zero since scans the whole collection.
	Scan(ctx context.Context, since time.Time, fn func(RawObservation) error) error
	Close(ctx context.Context) error
}

// ReadingTx is the write side of the relational store inside one transaction.
type ReadingTx interface {
	// InsertReading reports false when a row for (city, observed_at) already exists.
	InsertReading(ctx context.Context, r Reading) (bool, error)
	Watermark(ctx context.Context, name string) (time.Time, error)
	SetWatermark(ctx context.Context, name string, at time.Time) error
}

// ReadingStore is the relational sink for flattened readings.
type ReadingStore interface {
	// InTx runs fn in a transaction that commits only if fn returns nil.
	InTx(ctx context.Context, fn func(tx ReadingTx) error) error
	ListReadings(ctx context.Context, city string, from, to time.Time) ([]Reading, error)
	Close() error
}

// RawStoreOpener and ReadingStoreOpener open a fresh store handle per task run.
type (
	RawStoreOpener     func(ctx context.Context) (RawStore, error)
	ReadingStoreOpener func(ctx context.Context) (ReadingStore, error)
)
