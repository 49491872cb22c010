package accesskey

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/logging"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/monitoring"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/storage"
)

// KeyPrefix marks proxy-issued keys.
const KeyPrefix = "sk-"

var (
	ErrLimitReached = errors.New("access key limit reached")
	ErrNotFound     = errors.New("access key not found")
)

// Key is a proxy access key handed to API consumers.
type Key struct {
	ID        string     `json:"id"`
	Key       string     `json:"key"`
	Name      string     `json:"name,omitempty"`
	UseCount  int64      `json:"use_count"`
	LastUsed  *time.Time `json:"last_used,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func (k *Key) clone() *Key {
	out := *k
	if k.LastUsed != nil {
		t := *k.LastUsed
		out.LastUsed = &t
	}
	return &out
}

// Summary hides the key material.
type Summary struct {
	ID        string     `json:"id"`
	MaskedKey string     `json:"masked_key"`
	Name      string     `json:"name,omitempty"`
	UseCount  int64      `json:"use_count"`
	LastUsed  *time.Time `json:"last_used,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Manager holds the capped set of access keys.
type Manager struct {
	max int

	mu    sync.Mutex
	keys  map[string]*Key
	byKey map[string]string
	dirty map[string]struct{}
}

// NewManager creates a manager allowing at most maxKeys keys.
func NewManager(maxKeys int) *Manager {
	if maxKeys <= 0 {
		maxKeys = 5
	}
	return &Manager{
		max:   maxKeys,
		keys:  make(map[string]*Key),
		byKey: make(map[string]string),
		dirty: make(map[string]struct{}),
	}
}

// Load replaces the in-memory set with the persisted keys.
func (m *Manager) Load(ctx context.Context, b storage.Backend) error {
	entries, err := b.List(ctx, storage.PrefixAccessKey)
	if err != nil {
		return fmt.Errorf("list access keys: %w", err)
	}
	keys := make(map[string]*Key, len(entries))
	byKey := make(map[string]string, len(entries))
	for _, e := range entries {
		var k Key
		if err := json.Unmarshal(e.Value, &k); err != nil || k.ID == "" || k.Key == "" {
			logging.Component("accesskey").WithField("key", e.Key).Warn("skipping corrupt access key record")
			continue
		}
		keys[k.ID] = &k
		byKey[k.Key] = k.ID
	}

	m.mu.Lock()
	m.keys, m.byKey = keys, byKey
	m.dirty = make(map[string]struct{})
	m.mu.Unlock()
	monitoring.AccessKeysTotal.Set(float64(len(keys)))
	return nil
}

func generateKey() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return KeyPrefix + hex.EncodeToString(b), nil
}

// Create issues a new key. The full key is only returned here.
func (m *Manager) Create(name string, now time.Time) (*Key, error) {
	token, err := generateKey()
	if err != nil {
		return nil, fmt.Errorf("generate access key: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.keys) >= m.max {
		return nil, ErrLimitReached
	}
	k := &Key{
		ID:        uuid.NewString(),
		Key:       token,
		Name:      strings.TrimSpace(name),
		CreatedAt: now.UTC(),
	}
	m.keys[k.ID] = k
	m.byKey[k.Key] = k.ID
	m.dirty[k.ID] = struct{}{}
	monitoring.AccessKeysTotal.Set(float64(len(m.keys)))
	return k.clone(), nil
}

// Delete revokes a key.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.keys, id)
	delete(m.byKey, k.Key)
	m.dirty[id] = struct{}{}
	monitoring.AccessKeysTotal.Set(float64(len(m.keys)))
	return nil
}

// Count returns how many keys exist.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys)
}

// Max returns the configured cap.
func (m *Manager) Max() int { return m.max }

// Verify reports whether token is a live key and records the use.
func (m *Manager) Verify(token string, now time.Time) bool {
	token = strings.TrimSpace(token)
	if token == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byKey[token]
	if !ok {
		return false
	}
	k := m.keys[id]
	k.UseCount++
	used := now.UTC()
	k.LastUsed = &used
	m.dirty[id] = struct{}{}
	return true
}

// Lookup finds a key without recording a use.
func (m *Manager) Lookup(token string) (Summary, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byKey[strings.TrimSpace(token)]
	if !ok {
		return Summary{}, false
	}
	return summarize(m.keys[id]), true
}

// List returns summaries ordered by creation time.
func (m *Manager) List() []Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Summary, 0, len(m.keys))
	for _, k := range m.keys {
		out = append(out, summarize(k))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func summarize(k *Key) Summary {
	s := Summary{
		ID:        k.ID,
		MaskedKey: logging.MaskSecret(k.Key),
		Name:      k.Name,
		UseCount:  k.UseCount,
		CreatedAt: k.CreatedAt,
	}
	if k.LastUsed != nil {
		t := *k.LastUsed
		s.LastUsed = &t
	}
	return s
}

// Name identifies the manager as a write-back source.
func (m *Manager) Name() string { return "access_keys" }

// DrainDirty returns pending writes built from current state.
func (m *Manager) DrainDirty() []storage.Mutation {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.dirty) == 0 {
		return nil
	}
	out := make([]storage.Mutation, 0, len(m.dirty))
	for id := range m.dirty {
		key := storage.PrefixAccessKey + id
		k, ok := m.keys[id]
		if !ok {
			out = append(out, storage.Mutation{Key: key, Delete: true})
			continue
		}
		raw, err := json.Marshal(k)
		if err != nil {
			continue
		}
		out = append(out, storage.Mutation{Key: key, Value: raw})
	}
	m.dirty = make(map[string]struct{})
	return out
}

// MarkDirty re-queues storage keys from a failed batch.
func (m *Manager) MarkDirty(keys ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		if id := strings.TrimPrefix(k, storage.PrefixAccessKey); id != k && id != "" {
			m.dirty[id] = struct{}{}
		}
	}
}
