// Package memory implements the execution store as an in-process map with
// copy-on-read semantics.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/aestiv/flowd/internal/domain"
	"github.com/aestiv/flowd/internal/ports"
)

// Store keeps execution records in memory. Records are deep-copied on save
// and read, so callers never share mutable state with the run loop.
type Store struct {
	mu      sync.RWMutex
	records map[string]*domain.ExecutionRecord
}

// NewStore creates an empty in-memory execution store.
func NewStore() *Store {
	return &Store{
		records: make(map[string]*domain.ExecutionRecord),
	}
}

// Save stores a snapshot of the record, replacing any previous version.
func (s *Store) Save(ctx context.Context, record *domain.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[record.ID] = record.Clone()
	return nil
}

// Get returns a snapshot of the record for id.
func (s *Store) Get(ctx context.Context, id string) (*domain.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[id]
	if !ok {
		return nil, ports.ErrExecutionNotFound
	}
	return record.Clone(), nil
}

// List returns records sorted by StartedAt, most recent first. Ties break
// on id so the ordering is stable. A limit <= 0 means no limit.
func (s *Store) List(ctx context.Context, limit int) ([]*domain.ExecutionRecord, error) {
	s.mu.RLock()
	records := make([]*domain.ExecutionRecord, 0, len(s.records))
	for _, record := range s.records {
		records = append(records, record.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		if !records[i].StartedAt.Equal(records[j].StartedAt) {
			return records[i].StartedAt.After(records[j].StartedAt)
		}
		return records[i].ID < records[j].ID
	})

	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}
