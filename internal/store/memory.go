package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/i474232898/weather-etl-pipeline/internal/weather"
)

var (
	// ErrNotFound is returned when no staged document exists for a key.
	ErrNotFound = errors.New("no staged document for key")

	errStoreClosed = errors.New("store is closed")
)

// MemoryRawStore is a concurrency-safe in-memory staging area with the same
// upsert semantics as the Mongo collection. It backs dry runs and tests.
type MemoryRawStore struct {
	mu sync.RWMutex

	// key: staging id ("{city}_{dt}")
	docs map[string]weather.RawObservation

	opens  int
	closes int
}

// NewMemoryRawStore creates an empty MemoryRawStore.
func NewMemoryRawStore() *MemoryRawStore {
	return &MemoryRawStore{
		docs: make(map[string]weather.RawObservation),
	}
}

// Opener returns a RawStoreOpener that always hands out this store.
func (s *MemoryRawStore) Opener() weather.RawStoreOpener {
	return func(ctx context.Context) (weather.RawStore, error) {
		s.mu.Lock()
		s.opens++
		s.mu.Unlock()
		return s, nil
	}
}

// UpsertMany inserts new documents and overwrites existing ones by id.
func (s *MemoryRawStore) UpsertMany(ctx context.Context, docs []weather.RawObservation) (weather.UpsertResult, error) {
	if err := ctx.Err(); err != nil {
		return weather.UpsertResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var res weather.UpsertResult
	for _, doc := range docs {
		if _, ok := s.docs[doc.ID]; ok {
			res.Modified++
		} else {
			res.Upserted++
		}
		s.docs[doc.ID] = doc
	}
	return res, nil
}

// Scan visits documents in id order. fn runs without the lock held.
func (s *MemoryRawStore) Scan(ctx context.Context, since time.Time, fn func(weather.RawObservation) error) error {
	s.mu.RLock()
	var batch []weather.RawObservation
	for _, doc := range s.docs {
		if since.IsZero() || doc.UpdatedAt.After(since) {
			batch = append(batch, doc)
		}
	}
	s.mu.RUnlock()

	sort.Slice(batch, func(i, j int) bool {
		return batch[i].ID < batch[j].ID
	})

	for _, doc := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(doc); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the staged document with the given id.
func (s *MemoryRawStore) Get(id string) (weather.RawObservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[id]
	if !ok {
		return weather.RawObservation{}, ErrNotFound
	}
	return doc, nil
}

// Put stages a document directly, bypassing the fetcher.
func (s *MemoryRawStore) Put(doc weather.RawObservation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = doc
}

// Len returns the number of staged documents.
func (s *MemoryRawStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Sessions reports how many times the store was opened and closed.
func (s *MemoryRawStore) Sessions() (opens, closes int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opens, s.closes
}

// Close only counts the call; the data outlives it.
func (s *MemoryRawStore) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}
