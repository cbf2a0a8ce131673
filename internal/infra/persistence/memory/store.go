// Package memory provides an in-process plugin registry used by tests and
// ephemeral deployments.
package memory

import (
	"context"
	"sync"

	"pluginhost/pkg/domain"
)

var _ domain.Registry = (*Store)(nil)

// Store keeps installed-plugin records in a map. Records are copied on the
// way in and out so callers never share state with the store.
type Store struct {
	mu      sync.RWMutex
	records map[domain.Key]domain.Record
}

// NewStore constructs an empty in-memory registry.
func NewStore() *Store {
	return &Store{records: make(map[domain.Key]domain.Record)}
}

// Get returns the record for key or nil.
func (s *Store) Get(ctx context.Context, key domain.Key) (*domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// Put upserts rec.
func (s *Store) Put(ctx context.Context, rec domain.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.records[rec.Key()] = rec
	s.mu.Unlock()
	return nil
}

// Delete removes the record for key if present.
func (s *Store) Delete(ctx context.Context, key domain.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.records, key)
	s.mu.Unlock()
	return nil
}

// ListAll returns a copy of every record.
func (s *Store) ListAll(ctx context.Context) (domain.Installed, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(domain.Installed)
	for _, rec := range s.records {
		out.Add(rec)
	}
	return out, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
