package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog/log"

	app "imghost/src/app"
)

// MemoryBlobStore is an in-memory app.BlobStore, used when no S3 credentials
// are configured and in tests.
type MemoryBlobStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{objects: make(map[string][]byte)}
}

func (m *MemoryBlobStore) Put(ctx context.Context, key string, object io.Reader, size int64, contentType string) error {
	if key == "" {
		return errors.New("empty object key")
	}
	data, err := io.ReadAll(object)
	if err != nil {
		return fmt.Errorf("can not read object %s: %w", key, err)
	}
	if size >= 0 && int64(len(data)) != size {
		return fmt.Errorf("object %s: expected %d bytes, got %d", key, size, len(data))
	}

	m.mu.Lock()
	m.objects[key] = data
	m.mu.Unlock()

	log.Ctx(ctx).Debug().Str("key", key).Int("bytes", len(data)).Msg("object stored in memory")
	return nil
}

// Get returns a copy of the stored bytes.
func (m *MemoryBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	data, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, app.NotFoundf("object %s not found", key)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *MemoryBlobStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

// Keys lists stored keys, unordered.
func (m *MemoryBlobStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	return keys
}
