package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/company-assistant-go/internal/config"
	"github.com/patrickmn/go-cache"
)

// MemoryStorage implements storage using in-memory cache. Nothing
// survives a restart; useful for tests and kiosk setups.
type MemoryStorage struct {
	items *cache.Cache
}

func NewMemoryStorage(cfg config.MemoryConfig) *MemoryStorage {
	return &MemoryStorage{
		items: cache.New(cfg.DefaultExpiration, cfg.CleanupInterval),
	}
}

func (m *MemoryStorage) Get(ctx context.Context, key string, dst interface{}) (bool, error) {
	val, found := m.items.Get(key)
	if !found {
		return false, nil
	}
	if err := json.Unmarshal(val.([]byte), dst); err != nil {
		return false, fmt.Errorf("failed to decode %q: %w", key, err)
	}
	return true, nil
}

func (m *MemoryStorage) Set(ctx context.Context, key string, value interface{}) error {
	// Values are stored encoded so callers cannot mutate what was saved.
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %q: %w", key, err)
	}
	m.items.Set(key, data, cache.NoExpiration)
	return nil
}

func (m *MemoryStorage) Delete(ctx context.Context, key string) error {
	m.items.Delete(key)
	return nil
}

func (m *MemoryStorage) Keys(ctx context.Context) ([]string, error) {
	items := m.items.Items()
	keys := make([]string, 0, len(items))
	for key := range items {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStorage) Close() error {
	m.items.Flush()
	return nil
}
