package packages

import (
	"context"
	"fmt"
	"sync"
)

// BlobStore holds package file contents by key
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	// Get returns ErrNotFound when the key is absent
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	HealthCheck(ctx context.Context) error
}

// MemoryBlobs keeps file contents in process memory
type MemoryBlobs struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryBlobs creates an empty in-memory blob store
func NewMemoryBlobs() *MemoryBlobs {
	return &MemoryBlobs{blobs: make(map[string][]byte)}
}

func (m *MemoryBlobs) Put(_ context.Context, key string, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)

	m.mu.Lock()
	m.blobs[key] = cp
	m.mu.Unlock()
	return nil
}

func (m *MemoryBlobs) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.blobs[key]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", key, ErrNotFound)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (m *MemoryBlobs) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.blobs, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryBlobs) HealthCheck(context.Context) error { return nil }
