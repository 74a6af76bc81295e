package content

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory content store for development and tests.
type MemoryStore struct {
	mu            sync.RWMutex
	items         []Item
	optimizations []Optimization
	imports       []Import
	audit         []AuditLog
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) ListItems(_ context.Context, f Filter) ([]Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Item
	for _, it := range m.items {
		if f.match(it.UserID, it.CreatedAt) {
			out = append(out, it)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ListOptimizations(_ context.Context, f Filter) ([]Optimization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Optimization
	for _, o := range m.optimizations {
		if f.match(o.UserID, o.CreatedAt) {
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ListImports(_ context.Context, f Filter) ([]Import, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Import
	for _, im := range m.imports {
		if f.match(im.UserID, im.CreatedAt) {
			out = append(out, im)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) CountItemsByType(_ context.Context, f Filter) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]int64)
	for _, it := range m.items {
		if f.match(it.UserID, it.CreatedAt) {
			out[string(it.Type)]++
		}
	}
	return out, nil
}

func (m *MemoryStore) CountOptimizationsByStatus(_ context.Context, f Filter) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]int64)
	for _, o := range m.optimizations {
		if f.match(o.UserID, o.CreatedAt) {
			out[string(o.Status)]++
		}
	}
	return out, nil
}

func (m *MemoryStore) CountImportsByStatus(_ context.Context, f Filter) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]int64)
	for _, im := range m.imports {
		if f.match(im.UserID, im.CreatedAt) {
			out[string(im.Status)]++
		}
	}
	return out, nil
}

func (m *MemoryStore) CountAuditByAction(_ context.Context, f Filter) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]int64)
	for _, a := range m.audit {
		if f.match(a.UserID, a.CreatedAt) {
			out[a.Action]++
		}
	}
	return out, nil
}

func (m *MemoryStore) ItemStats(_ context.Context, f Filter) (ItemStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		s          ItemStats
		qualitySum float64
	)
	for _, it := range m.items {
		if !f.match(it.UserID, it.CreatedAt) {
			continue
		}
		s.Total++
		s.TotalTokens += it.TokenCount
		if it.QualityScore != nil {
			s.Scored++
			qualitySum += *it.QualityScore
		}
		if it.IsDuplicate {
			s.Duplicates++
		}
		if it.ClusterID != nil {
			s.Clustered++
		}
		if it.Category != nil {
			s.Categorized++
		}
	}
	if s.Scored > 0 {
		s.AvgQuality = qualitySum / float64(s.Scored)
	}
	return s, nil
}

func (m *MemoryStore) InsertItem(_ context.Context, it *Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, *it)
	return nil
}

func (m *MemoryStore) InsertOptimization(_ context.Context, o *Optimization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.optimizations = append(m.optimizations, *o)
	return nil
}

func (m *MemoryStore) InsertImport(_ context.Context, im *Import) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.imports = append(m.imports, *im)
	return nil
}

func (m *MemoryStore) InsertAudit(_ context.Context, a *AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, *a)
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

var _ Store = (*MemoryStore)(nil)
