// Package storage provides KeyValueStore backends for wallet state.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"yakkl-background/internal/domain"
)

// MemoryStore keeps JSON values in process memory. Session-area values do not
// survive a restart, which mirrors browser session storage.
type MemoryStore struct {
	mu    sync.RWMutex
	areas map[domain.StorageArea]map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		areas: make(map[domain.StorageArea]map[string][]byte),
	}
}

func (s *MemoryStore) Get(ctx context.Context, area domain.StorageArea, key string, dst any) (bool, error) {
	s.mu.RLock()
	raw, ok := s.areas[area][key]
	s.mu.RUnlock()

	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("failed to decode %s/%s: %w", area, key, err)
	}
	return true, nil
}

func (s *MemoryStore) Set(ctx context.Context, area domain.StorageArea, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", area, key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.areas[area] == nil {
		s.areas[area] = make(map[string][]byte)
	}
	s.areas[area][key] = raw
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, area domain.StorageArea, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.areas[area], key)
	return nil
}
