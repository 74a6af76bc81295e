// Package auth provides API-key authentication for the ContextForge API.
//
// Every /v1 route requires a key. A key belongs to exactly one user and
// scopes every analytics read and job record to that user.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// KeyPrefix starts every raw API key.
const KeyPrefix = "cf_"

// Errors
var (
	ErrNoAPIKey      = errors.New("auth: API key required")
	ErrInvalidAPIKey = errors.New("auth: invalid or expired API key")
	ErrKeyNotFound   = errors.New("auth: API key not found")
	ErrNoUser        = errors.New("auth: user id required")
)

// APIKey is the stored metadata of a key. The raw key is never stored.
type APIKey struct {
	ID        string     `json:"id"`
	Hash      string     `json:"-"`
	UserID    string     `json:"userId"`
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"createdAt"`
	LastUsed  time.Time  `json:"lastUsed,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Revoked   bool       `json:"revoked"`
}

// Store persists API keys.
type Store interface {
	Create(ctx context.Context, key *APIKey) error
	GetByHash(ctx context.Context, hash string) (*APIKey, error)
	GetByUser(ctx context.Context, userID string) ([]*APIKey, error)
	Update(ctx context.Context, key *APIKey) error
}

// Manager issues and validates keys.
type Manager struct {
	store Store
	now   func() time.Time
}

// NewManager creates a new auth manager.
func NewManager(store Store) *Manager {
	return &Manager{store: store, now: time.Now}
}

// GenerateKey creates a new random key for userID. The raw key is returned
// once and only its hash is stored.
func (m *Manager) GenerateKey(ctx context.Context, userID, name string) (string, *APIKey, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", nil, err
	}
	rawKey := KeyPrefix + hex.EncodeToString(b)
	key, err := m.ImportKey(ctx, userID, rawKey, name)
	if err != nil {
		return "", nil, err
	}
	return rawKey, key, nil
}

// ImportKey registers a caller-chosen raw key, used to seed keys from
// configuration. Importing the same key twice is a no-op.
func (m *Manager) ImportKey(ctx context.Context, userID, rawKey, name string) (*APIKey, error) {
	if userID == "" {
		return nil, ErrNoUser
	}
	rawKey = strings.TrimSpace(rawKey)
	if !strings.HasPrefix(rawKey, KeyPrefix) || len(rawKey) <= len(KeyPrefix) {
		return nil, fmt.Errorf("%w: keys must start with %s", ErrInvalidAPIKey, KeyPrefix)
	}

	hash := hashKey(rawKey)
	if existing, err := m.store.GetByHash(ctx, hash); err == nil {
		return existing, nil
	}
	key := &APIKey{
		ID:        "ak_" + hash[:16],
		Hash:      hash,
		UserID:    userID,
		Name:      name,
		CreatedAt: m.now(),
	}
	if err := m.store.Create(ctx, key); err != nil {
		return nil, err
	}
	return key, nil
}

// ValidateKey resolves a raw key (optionally prefixed with "Bearer ").
func (m *Manager) ValidateKey(ctx context.Context, rawKey string) (*APIKey, error) {
	rawKey = strings.TrimSpace(strings.TrimPrefix(rawKey, "Bearer "))
	if rawKey == "" {
		return nil, ErrNoAPIKey
	}
	if !strings.HasPrefix(rawKey, KeyPrefix) {
		return nil, ErrInvalidAPIKey
	}

	key, err := m.store.GetByHash(ctx, hashKey(rawKey))
	if err != nil {
		return nil, ErrInvalidAPIKey
	}
	if key.Revoked {
		return nil, ErrInvalidAPIKey
	}
	now := m.now()
	if key.ExpiresAt != nil && now.After(*key.ExpiresAt) {
		return nil, ErrInvalidAPIKey
	}

	// Best effort; a failed last-used write must not reject the request.
	key.LastUsed = now
	_ = m.store.Update(ctx, key)

	return key, nil
}

// ListKeys returns all keys of userID.
func (m *Manager) ListKeys(ctx context.Context, userID string) ([]*APIKey, error) {
	return m.store.GetByUser(ctx, userID)
}

// RevokeKey revokes keyID if it belongs to userID.
func (m *Manager) RevokeKey(ctx context.Context, keyID, userID string) error {
	keys, err := m.store.GetByUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k.ID == keyID {
			k.Revoked = true
			return m.store.Update(ctx, k)
		}
	}
	return ErrKeyNotFound
}

// SeedKeys imports "userID:rawKey" pairs, as given in API_KEYS.
func (m *Manager) SeedKeys(ctx context.Context, pairs []string) error {
	for _, pair := range pairs {
		userID, rawKey, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok {
			return fmt.Errorf("auth: malformed key seed %q, want userID:key", pair)
		}
		if _, err := m.ImportKey(ctx, userID, rawKey, "configured"); err != nil {
			return fmt.Errorf("seed key for %s: %w", userID, err)
		}
	}
	return nil
}

func hashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// MemoryStore is an in-memory Store. It hands out copies so callers cannot
// mutate stored keys without Update.
type MemoryStore struct {
	mu   sync.RWMutex
	keys map[string]*APIKey // by ID
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]*APIKey)}
}

func (s *MemoryStore) Create(_ context.Context, key *APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *key
	s.keys[key.ID] = &cp
	return nil
}

func (s *MemoryStore) GetByHash(_ context.Context, hash string) (*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.keys {
		if k.Hash == hash {
			cp := *k
			return &cp, nil
		}
	}
	return nil, ErrKeyNotFound
}

func (s *MemoryStore) GetByUser(_ context.Context, userID string) ([]*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*APIKey
	for _, k := range s.keys {
		if k.UserID == userID {
			cp := *k
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (s *MemoryStore) Update(_ context.Context, key *APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key.ID]; !ok {
		return ErrKeyNotFound
	}
	cp := *key
	s.keys[key.ID] = &cp
	return nil
}
