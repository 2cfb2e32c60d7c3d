package weather

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

const rawWatermark = "weather_raw"

// Options tunes the two pipeline tasks.
type Options struct {
	// IsolateFailures stages the cities that fetched successfully instead of
	// aborting the whole batch on the first failure.
	IsolateFailures bool
	// Incremental loads only documents updated since the last committed run.
	Incremental bool
}

// CityFailure records a city that could not be fetched in isolation mode.
type CityFailure struct {
	City  City   `json:"city"`
	Error string `json:"error"`
}

// IngestResult is returned by FetchAndUpsertRaw.
type IngestResult struct {
	Upserted int64         `json:"upserted"`
	Modified int64         `json:"modified"`
	Failed   []CityFailure `json:"failed,omitempty"`
}

// Count is the number of inserted plus updated documents.
func (r *IngestResult) Count() int64 {
	if r == nil {
		return 0
	}
	return r.Upserted + r.Modified
}

// LoadResult is returned by TransformAndLoad.
// Processed counts attempted inserts, duplicates included.
type LoadResult struct {
	Processed int       `json:"processed"`
	Inserted  int       `json:"inserted"`
	Watermark time.Time `json:"watermark"`
}

// Service runs the fetch and load halves of the pipeline.
type Service struct {
	provider     Provider
	cities       []City
	openRaw      RawStoreOpener
	openReadings ReadingStoreOpener
	opts         Options
	now          func() time.Time
}

// NewService creates a new Service.
func NewService(provider Provider, cities []City, openRaw RawStoreOpener, openReadings ReadingStoreOpener, opts Options) *Service {
	return &Service{
		provider:     provider,
		cities:       cities,
		openRaw:      openRaw,
		openReadings: openReadings,
		opts:         opts,
		now:          time.Now,
	}
}

// FetchAndUpsertRaw fetches every configured city and stages the responses
// with one bulk upsert. It returns nil when there was nothing to write.
func (s *Service) FetchAndUpsertRaw(ctx context.Context) (*IngestResult, error) {
	log.Printf("DEBUG: FetchAndUpsertRaw called for %d cities (isolate=%t)", len(s.cities), s.opts.IsolateFailures)

	raw, err := s.openRaw(ctx)
	if err != nil {
		return nil, fmt.Errorf("open raw store: %w", err)
	}
	defer func() {
		if err := raw.Close(ctx); err != nil {
			log.Printf("ERROR: closing raw store: %v", err)
		}
	}()

	updatedAt := s.now().UTC()
	var (
		docs   []RawObservation
		failed []CityFailure
		errs   []error
	)

	for _, city := range s.cities {
		doc, err := s.fetchDocument(ctx, city, updatedAt)
		if err != nil {
			if !s.opts.IsolateFailures {
				return nil, fmt.Errorf("fetch %s: %w", city.Key(), err)
			}
			log.Printf("provider %s fetch failed for %s: %v", s.provider.Name(), city.Key(), err)
			failed = append(failed, CityFailure{City: city, Error: err.Error()})
			errs = append(errs, fmt.Errorf("fetch %s: %w", city.Key(), err))
			continue
		}
		docs = append(docs, doc)
	}

	if len(docs) == 0 {
		if len(errs) > 0 {
			return nil, errors.Join(errs...)
		}
		log.Println("INFO: no raw observations to stage")
		return nil, nil
	}

	res, err := raw.UpsertMany(ctx, docs)
	if err != nil {
		return nil, fmt.Errorf("bulk upsert: %w", err)
	}

	result := &IngestResult{
		Upserted: res.Upserted,
		Modified: res.Modified,
		Failed:   failed,
	}
	log.Printf("INFO: Inserted/Updated %d documents (%d cities failed)", result.Count(), len(failed))
	return result, nil
}

func (s *Service) fetchDocument(ctx context.Context, city City, updatedAt time.Time) (RawObservation, error) {
	resp, err := s.provider.FetchCurrent(ctx, city)
	if err != nil {
		return RawObservation{}, err
	}
	id, err := StagingKey(city, resp.Observation)
	if err != nil {
		return RawObservation{}, err
	}
	return RawObservation{
		ID:        id,
		RawJSON:   resp.Raw,
		UpdatedAt: updatedAt,
	}, nil
}

// TransformAndLoad transforms staged documents and inserts them into the
// relational store in a single transaction. Rows that already exist for the
// same city and observation time are skipped.
func (s *Service) TransformAndLoad(ctx context.Context) (*LoadResult, error) {
	raw, err := s.openRaw(ctx)
	if err != nil {
		return nil, fmt.Errorf("open raw store: %w", err)
	}
	defer func() {
		if err := raw.Close(ctx); err != nil {
			log.Printf("ERROR: closing raw store: %v", err)
		}
	}()

	readings, err := s.openReadings(ctx)
	if err != nil {
		return nil, fmt.Errorf("open reading store: %w", err)
	}
	defer func() {
		if err := readings.Close(); err != nil {
			log.Printf("ERROR: closing reading store: %v", err)
		}
	}()

	result := &LoadResult{}
	err = readings.InTx(ctx, func(tx ReadingTx) error {
		var since time.Time
		if s.opts.Incremental {
			w, err := tx.Watermark(ctx, rawWatermark)
			if err != nil {
				return fmt.Errorf("read watermark: %w", err)
			}
			since = w
			result.Watermark = w
		}

		err := raw.Scan(ctx, since, func(doc RawObservation) error {
			r, err := TransformRaw(doc)
			if err != nil {
				return err
			}
			inserted, err := tx.InsertReading(ctx, r)
			if err != nil {
				return fmt.Errorf("insert %s: %w", doc.ID, err)
			}
			result.Processed++
			if inserted {
				result.Inserted++
			}
			if doc.UpdatedAt.After(result.Watermark) {
				result.Watermark = doc.UpdatedAt
			}
			return nil
		})
		if err != nil {
			return err
		}

		if s.opts.Incremental && result.Watermark.After(since) {
			return tx.SetWatermark(ctx, rawWatermark, result.Watermark)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("INFO: Processed %d records (%d new)", result.Processed, result.Inserted)
	return result, nil
}
