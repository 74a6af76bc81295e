package counters

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for development and tests. Key expiry is
// evaluated lazily against the store's clock.
type MemoryStore struct {
	mu     sync.Mutex
	now    func() time.Time
	hashes map[string]map[string]string
	lists  map[string][]string
	zsets  map[string]map[string]float64
	expiry map[string]time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock replaces time.Now for expiry checks.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) {
		m.now = now
	}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		now:    time.Now,
		hashes: make(map[string]map[string]string),
		lists:  make(map[string][]string),
		zsets:  make(map[string]map[string]float64),
		expiry: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// evict drops key if its deadline passed. Caller must hold m.mu.
func (m *MemoryStore) evict(key string) {
	at, ok := m.expiry[key]
	if !ok || m.now().Before(at) {
		return
	}
	delete(m.hashes, key)
	delete(m.lists, key)
	delete(m.zsets, key)
	delete(m.expiry, key)
}

func (m *MemoryStore) exists(key string) bool {
	if _, ok := m.hashes[key]; ok {
		return true
	}
	if _, ok := m.lists[key]; ok {
		return true
	}
	_, ok := m.zsets[key]
	return ok
}

func (m *MemoryStore) hash(key string) map[string]string {
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	return h
}

func (m *MemoryStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evict(key)

	out := make(map[string]string, len(m.hashes[key]))
	for k, v := range m.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStore) HIncrBy(_ context.Context, key, field string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evict(key)
	return m.incr(key, field, delta)
}

func (m *MemoryStore) incr(key, field string, delta int64) (int64, error) {
	h := m.hash(key)
	var cur int64
	if raw, ok := h[field]; ok {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, ErrNotInteger
		}
		cur = v
	}
	cur += delta
	h[field] = strconv.FormatInt(cur, 10)
	return cur, nil
}

func (m *MemoryStore) HIncrByFloor(_ context.Context, key, field string, delta, floor int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evict(key)

	v, err := m.incr(key, field, delta)
	if err != nil {
		return 0, err
	}
	if v < floor {
		m.hashes[key][field] = strconv.FormatInt(floor, 10)
		return floor, nil
	}
	return v, nil
}

func (m *MemoryStore) HSet(_ context.Context, key, field string, value float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evict(key)

	m.hash(key)[field] = strconv.FormatFloat(value, 'f', -1, 64)
	return nil
}

func (m *MemoryStore) PushCapped(_ context.Context, key, value string, capacity int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evict(key)

	list := append([]string{value}, m.lists[key]...)
	if capacity >= 0 && int64(len(list)) > capacity {
		list = list[:capacity]
	}
	m.lists[key] = list
	return nil
}

func (m *MemoryStore) Range(_ context.Context, key string, n int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evict(key)

	list := m.lists[key]
	if n >= 0 && int64(len(list)) > n {
		list = list[:n]
	}
	return append([]string(nil), list...), nil
}

func (m *MemoryStore) WindowAdd(_ context.Context, key string, now time.Time, window, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evict(key)

	z, ok := m.zsets[key]
	if !ok {
		z = make(map[string]float64)
		m.zsets[key] = z
	}
	ms := now.UnixMilli()
	z[windowMember(ms)] = float64(ms)
	m.prune(z, now, window)
	m.expiry[key] = m.now().Add(ttl)
	return int64(len(z)), nil
}

func (m *MemoryStore) WindowCount(_ context.Context, key string, now time.Time, window time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evict(key)

	z, ok := m.zsets[key]
	if !ok {
		return 0, nil
	}
	m.prune(z, now, window)
	return int64(len(z)), nil
}

// prune removes members scored strictly below now-window.
func (m *MemoryStore) prune(z map[string]float64, now time.Time, window time.Duration) {
	cutoff := float64(now.Add(-window).UnixMilli())
	for member, score := range z {
		if score < cutoff {
			delete(z, member)
		}
	}
}

func (m *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return m.ExpireAt(ctx, key, m.clock().Add(ttl))
}

func (m *MemoryStore) ExpireAt(_ context.Context, key string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evict(key)

	if m.exists(key) {
		m.expiry[key] = at
	}
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) clock() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now()
}

var _ Store = (*MemoryStore)(nil)
