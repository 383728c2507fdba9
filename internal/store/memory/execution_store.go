package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/alanyoungcy/ordergate/internal/domain"
)

// ExecutionStore keeps terminal execution records in insertion order.
type ExecutionStore struct {
	mu   sync.RWMutex
	byID map[string]int
	recs []domain.ExecutionRecord
}

var _ domain.ExecutionStore = (*ExecutionStore)(nil)

// NewExecutionStore creates an empty execution store.
func NewExecutionStore() *ExecutionStore {
	return &ExecutionStore{byID: make(map[string]int)}
}

// Insert appends a terminal record. Record ids are unique.
func (s *ExecutionStore) Insert(ctx context.Context, rec domain.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[rec.ID]; exists {
		return fmt.Errorf("memory: insert execution %s: duplicate id", rec.ID)
	}
	s.byID[rec.ID] = len(s.recs)
	s.recs = append(s.recs, rec)
	return nil
}

// Get returns the record by id.
func (s *ExecutionStore) Get(ctx context.Context, id string) (domain.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byID[id]
	if !ok {
		return domain.ExecutionRecord{}, fmt.Errorf("memory: execution %s: %w", id, domain.ErrNotFound)
	}
	return s.recs[idx], nil
}

// List returns records newest first.
func (s *ExecutionStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter(func(domain.ExecutionRecord) bool { return true }, opts), nil
}

// ListByAccount returns the account's records newest first.
func (s *ExecutionStore) ListByAccount(ctx context.Context, accountID string, opts domain.ListOpts) ([]domain.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter(func(r domain.ExecutionRecord) bool { return r.Intent.AccountID == accountID }, opts), nil
}

// filter walks records newest first applying opts. Callers hold s.mu.
func (s *ExecutionStore) filter(keep func(domain.ExecutionRecord) bool, opts domain.ListOpts) []domain.ExecutionRecord {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	var out []domain.ExecutionRecord
	skipped := 0
	for i := len(s.recs) - 1; i >= 0; i-- {
		r := s.recs[i]
		if !keep(r) {
			continue
		}
		if opts.Since != nil && r.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && !r.CreatedAt.Before(*opts.Until) {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		out = append(out, r)
		if len(out) >= limit {
			break
		}
	}
	return out
}
