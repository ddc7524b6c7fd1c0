// Package kv defines the namespaced key/value persistence the ledger is
// built on, plus an in-memory implementation used by tests and dry runs.
// The durable implementation lives in internal/client/repositories/metadata.
package kv

import (
	"context"
	"sync"
)

// Store is a namespaced byte store. Get returns (nil, nil) for a missing key.
type Store interface {
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	Put(ctx context.Context, namespace, key string, value []byte) error
	Delete(ctx context.Context, namespace, key string) error
	List(ctx context.Context, namespace string) (map[string][]byte, error)

	// Update atomically replaces the value under key with fn(old). old is
	// nil when the key is absent. If fn fails nothing is written.
	Update(ctx context.Context, namespace, key string, fn func(old []byte) ([]byte, error)) error
}

type MemoryStore struct {
	mu   sync.Mutex
	data map[string]map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string][]byte)}
}

func (m *MemoryStore) Get(_ context.Context, namespace, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.data[namespace][key]
	if !ok {
		return nil, nil
	}
	return clone(v), nil
}

func (m *MemoryStore) Put(_ context.Context, namespace, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.put(namespace, key, value)
	return nil
}

func (m *MemoryStore) put(namespace, key string, value []byte) {
	ns, ok := m.data[namespace]
	if !ok {
		ns = make(map[string][]byte)
		m.data[namespace] = ns
	}
	ns[key] = clone(value)
}

func (m *MemoryStore) Delete(_ context.Context, namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data[namespace], key)
	return nil
}

func (m *MemoryStore) List(_ context.Context, namespace string) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string][]byte, len(m.data[namespace]))
	for k, v := range m.data[namespace] {
		out[k] = clone(v)
	}
	return out, nil
}

func (m *MemoryStore) Update(_ context.Context, namespace, key string, fn func(old []byte) ([]byte, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var old []byte
	if v, ok := m.data[namespace][key]; ok {
		old = clone(v)
	}
	v, err := fn(old)
	if err != nil {
		return err
	}
	m.put(namespace, key, v)
	return nil
}

func clone(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
