package job

import (
	"context"
	"sort"
	"sync"
)

// Compile-time check that MemoryRepository implements Repository.
var _ Repository = (*MemoryRepository)(nil)

// DefaultHistorySize is the number of runs kept when no capacity is given.
const DefaultHistorySize = 100

// MemoryRepository is a bounded in-memory implementation of Repository.
// Once full, saving a new run evicts the oldest one.
type MemoryRepository struct {
	mu       sync.RWMutex
	capacity int
	runs     map[string]*Run
	order    []string
}

// NewMemoryRepository creates a repository keeping at most capacity runs.
func NewMemoryRepository(capacity int) *MemoryRepository {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &MemoryRepository{
		capacity: capacity,
		runs:     make(map[string]*Run),
	}
}

// Save stores a clone of run to avoid external mutations.
func (r *MemoryRepository) Save(_ context.Context, run *Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.runs[run.ID]; !ok {
		r.order = append(r.order, run.ID)
		if len(r.order) > r.capacity {
			oldest := r.order[0]
			r.order = r.order[1:]
			delete(r.runs, oldest)
		}
	}
	r.runs[run.ID] = run.Clone()
	return nil
}

// FindByID returns a clone of the run.
func (r *MemoryRepository) FindByID(_ context.Context, id string) (*Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return run.Clone(), nil
}

// List returns clones of all runs, most recently started first.
func (r *MemoryRepository) List(_ context.Context) ([]*Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Run, 0, len(r.runs))
	for i := len(r.order) - 1; i >= 0; i-- {
		result = append(result, r.runs[r.order[i]].Clone())
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})
	return result, nil
}
