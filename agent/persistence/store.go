// Package persistence provides snapshot stores for agent memory images. The
// runtime saves an agent's serialized memory when it stops and restores it on
// the next start, keyed by the agent's name so the image survives id churn
// across recreation.
package persistence

import (
	"context"
	"sync"

	"github.com/KolosalAI/kolosal-agent/types"
)

// SnapshotStore persists opaque memory images per agent.
type SnapshotStore interface {
	// Save stores the image under the key, replacing any previous one.
	Save(ctx context.Context, key string, image []byte) error
	// Load returns the stored image, or a NOT_FOUND error.
	Load(ctx context.Context, key string) ([]byte, error)
	// Delete removes the image; deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys lists every stored key.
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

// MemoryStore keeps snapshots in process memory. The default when no
// persistence backend is configured.
type MemoryStore struct {
	mu     sync.RWMutex
	images map[string][]byte
}

var _ SnapshotStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{images: make(map[string][]byte)}
}

func (s *MemoryStore) Save(_ context.Context, key string, image []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images[key] = append([]byte(nil), image...)
	return nil
}

func (s *MemoryStore) Load(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	image, ok := s.images[key]
	if !ok {
		return nil, types.NewError(types.ErrNotFound, "no snapshot for key: "+key).
			WithComponent("persistence")
	}
	return append([]byte(nil), image...), nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.images, key)
	return nil
}

func (s *MemoryStore) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.images))
	for k := range s.images {
		keys = append(keys, k)
	}
	return keys, nil
}

func (s *MemoryStore) Close() error { return nil }
