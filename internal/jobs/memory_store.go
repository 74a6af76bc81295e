package jobs

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/contextforge/contextforge/internal/pagination"
)

// MemoryStore is an in-memory job store for development and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

func clone(j *Job) *Job {
	cp := *j
	if j.Results != nil {
		cp.Results = append(json.RawMessage(nil), j.Results...)
	}
	return &cp
}

func (m *MemoryStore) Create(_ context.Context, j *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.ID] = clone(j)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(j), nil
}

func (m *MemoryStore) Update(_ context.Context, j *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[j.ID]; !ok {
		return ErrNotFound
	}
	m.jobs[j.ID] = clone(j)
	return nil
}

func (m *MemoryStore) List(_ context.Context, userID string, limit int, cursor *pagination.Cursor) ([]*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Job
	for _, j := range m.jobs {
		if j.UserID == userID && cursor.After(j.CreatedAt, j.ID) {
			out = append(out, clone(j))
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID > out[b].ID
		}
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
