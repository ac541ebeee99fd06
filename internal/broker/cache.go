package broker

import (
	"context"
	"sync"
	"time"
)

// Entry is one cached credential set. The three secret fields hold envelope
// ciphertext, never plaintext.
type Entry struct {
	AccountID       string    `json:"accountId"`
	AccessKeyID     string    `json:"accessKeyId"`
	SecretAccessKey string    `json:"secretAccessKey"`
	SessionToken    string    `json:"sessionToken"`
	Expiration      time.Time `json:"expiration"`
}

// Cache stores at most one entry per account. Get reports a miss with ok=false.
type Cache interface {
	Get(ctx context.Context, accountID string) (Entry, bool, error)
	Put(ctx context.Context, e Entry) error
	Delete(ctx context.Context, accountID string) error
}

type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemoryCache() Cache {
	return &memoryCache{entries: map[string]Entry{}}
}

func (m *memoryCache) Get(_ context.Context, accountID string) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[accountID]
	return e, ok, nil
}

func (m *memoryCache) Put(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.AccountID] = e
	return nil
}

func (m *memoryCache) Delete(_ context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, accountID)
	return nil
}
