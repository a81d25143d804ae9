package tune

import (
	"context"
	"sync"
)

// DefaultHistory is the number of records MemoryRepository keeps by default.
const DefaultHistory = 100

// Compile-time check that MemoryRepository implements Repository.
var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository keeps the most recent records in a bounded ring.
type MemoryRepository struct {
	mu      sync.RWMutex
	records []Record // oldest first
	max     int
}

// NewMemoryRepository creates a repository holding at most max records.
// A max <= 0 uses DefaultHistory.
func NewMemoryRepository(max int) *MemoryRepository {
	if max <= 0 {
		max = DefaultHistory
	}
	return &MemoryRepository{max: max}
}

// Save appends rec, evicting the oldest record when full.
func (r *MemoryRepository) Save(_ context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.records) == r.max {
		copy(r.records, r.records[1:])
		r.records = r.records[:len(r.records)-1]
	}
	r.records = append(r.records, rec)
	return nil
}

// List returns up to limit records, newest first.
func (r *MemoryRepository) List(_ context.Context, limit int) ([]Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := len(r.records)
	if limit <= 0 || limit > n {
		limit = n
	}
	result := make([]Record, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		result = append(result, r.records[i])
	}
	return result, nil
}

// Latest returns the newest record.
func (r *MemoryRepository) Latest(_ context.Context) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.records) == 0 {
		return Record{}, ErrNoRecords
	}
	return r.records[len(r.records)-1], nil
}

// Len returns the number of records kept.
func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
