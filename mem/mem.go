// Package mem implements [cloudlock.Store] in memory.
package mem

import (
	"context"
	"sync"

	"github.com/bobg/errors"

	"github.com/bobg/cloudlock"
)

// Store is a cloudlock.Store implemented in memory.
// It is linearizable within one process, which makes it suitable for tests and simulations.
type Store struct {
	mu      sync.Mutex
	records map[string]cloudlock.Record
}

var _ cloudlock.Store = &Store{}

// New creates a new in-memory lease record store.
func New() *Store {
	return &Store{
		records: make(map[string]cloudlock.Record),
	}
}

func (s *Store) Get(_ context.Context, label string) (*cloudlock.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[label]
	if !ok {
		return nil, errors.Wrapf(cloudlock.ErrNotFound, "label %s", label)
	}
	return &rec, nil
}

func (s *Store) Put(_ context.Context, rec cloudlock.Record, expected string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[rec.Label]
	switch {
	case !ok && expected != cloudlock.MustNotExist:
		return errors.Wrapf(cloudlock.ErrConflict, "label %s does not exist", rec.Label)

	case ok && cur.Version != expected:
		return errors.Wrapf(cloudlock.ErrConflict, "label %s is at another version", rec.Label)
	}

	s.records[rec.Label] = rec

	return nil
}
