package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/cognicore/korpus/pkg/korpus/catalog"
)

// Store is an in-memory implementation of catalog.Catalog for tests.
type Store struct {
	mu      sync.RWMutex
	seq     int
	entries map[key]stored
}

type key struct{ dataset, buildID string }

type stored struct {
	seq   int
	entry catalog.Entry
}

// New creates an empty catalog.
func New() *Store {
	return &Store{entries: make(map[key]stored)}
}

// Close implements catalog.Catalog.
func (s *Store) Close() error { return nil }

// Record inserts or refreshes an entry, keeping its original ID and position.
func (s *Store) Record(ctx context.Context, e catalog.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{e.Dataset, e.BuildID}
	if prev, ok := s.entries[k]; ok {
		e.ID = prev.entry.ID
		s.entries[k] = stored{seq: prev.seq, entry: copyEntry(e)}
		return nil
	}
	s.seq++
	s.entries[k] = stored{seq: s.seq, entry: copyEntry(e)}
	return nil
}

// Get returns the entry for a build.
func (s *Store) Get(ctx context.Context, dataset, buildID string) (catalog.Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if st, ok := s.entries[key{dataset, buildID}]; ok {
		return copyEntry(st.entry), true, nil
	}
	return catalog.Entry{}, false, nil
}

// List returns entries in recording order.
func (s *Store) List(ctx context.Context, dataset string) ([]catalog.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]stored, 0, len(s.entries))
	for k, st := range s.entries {
		if dataset == "" || k.dataset == dataset {
			matches = append(matches, st)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].seq < matches[j].seq })

	out := make([]catalog.Entry, len(matches))
	for i, st := range matches {
		out[i] = copyEntry(st.entry)
	}
	return out, nil
}

func copyEntry(e catalog.Entry) catalog.Entry {
	if e.Counts != nil {
		counts := make(map[string]int, len(e.Counts))
		for k, v := range e.Counts {
			counts[k] = v
		}
		e.Counts = counts
	}
	if e.Params != nil {
		params := make(map[string]any, len(e.Params))
		for k, v := range e.Params {
			params[k] = v
		}
		e.Params = params
	}
	return e
}
