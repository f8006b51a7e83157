// Package credstore provides the persisted key-value store backing linked
// account credentials. The transport is deliberately abstract: handlers and
// the account manager only ever see opaque blobs under string keys.
package credstore

import (
	"context"
	"sync"
	"time"
)

// Store is a persisted key-value store with per-key expiry.
// A zero ttl means the entry does not expire.
type Store interface {
	// Get returns the blob stored under key. The second return is false
	// when the key is absent or its entry has expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, blob []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Memory is an in-process Store used by tests and single-run tooling.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	blob      []byte
	expiresAt time.Time // zero means no expiry
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry)}
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(m.entries, key)
		return nil, false, nil
	}
	blob := make([]byte, len(e.blob))
	copy(blob, e.blob)
	return blob, true, nil
}

func (m *Memory) Set(ctx context.Context, key string, blob []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := memoryEntry{blob: make([]byte, len(blob))}
	copy(e.blob, blob)
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}
