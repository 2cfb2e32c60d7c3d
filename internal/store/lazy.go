package store

import (
	"context"
	"sync"

	"github.com/i474232898/weather-etl-pipeline/internal/weather"
)

// LazyReadingStore opens a reading store on first use and keeps it for the
// life of the process. A failed open is retried on the next call.
type LazyReadingStore struct {
	mu     sync.Mutex
	open   weather.ReadingStoreOpener
	store  weather.ReadingStore
	closed bool
}

// NewLazyReadingStore wraps an opener.
func NewLazyReadingStore(open weather.ReadingStoreOpener) *LazyReadingStore {
	return &LazyReadingStore{open: open}
}

// Get returns the shared store, opening it if needed.
func (l *LazyReadingStore) Get(ctx context.Context) (weather.ReadingStore, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, errStoreClosed
	}
	if l.store != nil {
		return l.store, nil
	}
	s, err := l.open(ctx)
	if err != nil {
		return nil, err
	}
	l.store = s
	return s, nil
}

// Close releases the shared store, if one was opened.
func (l *LazyReadingStore) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true
	if l.store == nil {
		return nil
	}
	err := l.store.Close()
	l.store = nil
	return err
}
