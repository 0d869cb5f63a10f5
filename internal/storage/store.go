package storage

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"
)

var (
	// ErrKeyNotFound is returned when a setting has never been written.
	ErrKeyNotFound = errors.New("key not found")

	// ErrEmptyKey is returned by Put for an empty key.
	ErrEmptyKey = errors.New("empty key")

	// ErrInvalidValue is returned by Put when the value is not valid JSON.
	ErrInvalidValue = errors.New("value is not valid JSON")
)

// Store holds the relay's persistent settings. Values are JSON documents.
// All implementations must be safe for concurrent use.
type Store interface {
	// Get returns the JSON value for key, or ErrKeyNotFound.
	Get(key string) (json.RawMessage, error)

	// Put stores value under key, replacing any previous value.
	Put(key string, value json.RawMessage) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error

	// List returns every key in sorted order.
	List() []string

	// Stats reports the number of keys and the size of their values.
	Stats() StoreStats
}

// StoreStats contains statistics about the store
type StoreStats struct {
	Keys  int `json:"keys"`
	Bytes int `json:"bytes"`
}

// MemoryStore keeps settings in a map guarded by a sync.RWMutex.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]json.RawMessage
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]json.RawMessage),
	}
}

// Get returns a copy of the stored value.
func (m *MemoryStore) Get(key string) (json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, exists := m.data[key]
	if !exists {
		return nil, ErrKeyNotFound
	}
	return clone(value), nil
}

// Put validates and stores a copy of value.
func (m *MemoryStore) Put(key string, value json.RawMessage) error {
	if err := validate(key, value); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = clone(value)
	return nil
}

func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryStore) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.data))
	for key := range m.data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (m *MemoryStore) Stats() StoreStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := 0
	for _, value := range m.data {
		total += len(value)
	}
	return StoreStats{Keys: len(m.data), Bytes: total}
}

// snapshot returns a copy of every entry.
func (m *MemoryStore) snapshot() map[string]json.RawMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]json.RawMessage, len(m.data))
	for k, v := range m.data {
		out[k] = clone(v)
	}
	return out
}

func validate(key string, value json.RawMessage) error {
	if key == "" {
		return ErrEmptyKey
	}
	if !json.Valid(value) {
		return ErrInvalidValue
	}
	return nil
}

func clone(v json.RawMessage) json.RawMessage {
	out := make(json.RawMessage, len(v))
	copy(out, v)
	return out
}
