package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/saiset-co/sai-newscache/types"
	"github.com/saiset-co/sai-newscache/utils"
)

type MemoryBackendConfig struct {
	MaxEntries int `json:"max_entries"`
}

// MemoryBackend is the process-local fallback tier, used when no external
// backend is configured or reachable. Entries expire passively on read.
type MemoryBackend struct {
	config  *MemoryBackendConfig
	logger  types.Logger
	data    map[string]memoryItem
	mu      sync.RWMutex
	started int32
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

func NewMemoryBackend(logger types.Logger, config *types.L2BackendConfig) (types.L2Backend, error) {
	memConfig := &MemoryBackendConfig{
		MaxEntries: 10000,
	}

	if config.Config != nil {
		if err := utils.UnmarshalConfig(config.Config, memConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal memory backend config")
		}
	}

	return &MemoryBackend{
		config: memConfig,
		logger: logger,
		data:   make(map[string]memoryItem),
	}, nil
}

func (m *MemoryBackend) Name() string { return "memory" }

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	now := time.Now()

	m.mu.RLock()
	item, exists := m.data[key]
	m.mu.RUnlock()

	if !exists {
		return nil, false, nil
	}

	if now.After(item.expiresAt) {
		m.mu.Lock()
		if item, exists := m.data[key]; exists && now.After(item.expiresAt) {
			delete(m.data, key)
		}
		m.mu.Unlock()
		return nil, false, nil
	}

	return item.value, true, nil
}

func (m *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config.MaxEntries > 0 && len(m.data) >= m.config.MaxEntries {
		m.evictOneUnsafe()
	}

	m.data[key] = memoryItem{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}

	return nil
}

func (m *MemoryBackend) Available() bool {
	return true
}

func (m *MemoryBackend) Start() error {
	atomic.StoreInt32(&m.started, 1)
	return nil
}

func (m *MemoryBackend) Stop() error {
	atomic.StoreInt32(&m.started, 0)

	m.mu.Lock()
	m.data = make(map[string]memoryItem)
	m.mu.Unlock()

	return nil
}

func (m *MemoryBackend) IsRunning() bool {
	return atomic.LoadInt32(&m.started) == 1
}

func (m *MemoryBackend) evictOneUnsafe() {
	var victimKey string
	var victimTime time.Time

	for key, item := range m.data {
		if victimKey == "" || item.expiresAt.Before(victimTime) {
			victimKey = key
			victimTime = item.expiresAt
		}
	}

	if victimKey != "" {
		delete(m.data, victimKey)
	}
}
