package cache

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-newscache/types"
)

const (
	MaxTTL time.Duration = 24 * time.Hour
)

// Entry is the cached envelope around a route payload. Callers never mutate
// an entry after insertion; replacement goes through Set.
type Entry[T any] struct {
	Data       T         `json:"data"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	StaleUntil time.Time `json:"stale_until"`
	Negative   bool      `json:"negative"`

	lastAccess time.Time
}

// Store is the in-process cache tier. It owns the fresh/stale/negative
// entry lifecycle and is best-effort: losing an entry is never an error.
type Store[T any] struct {
	logger  types.Logger
	config  *types.StoreConfig
	bridge  *Bridge
	entries map[string]*Entry[T]
	mu      sync.RWMutex

	puts         atomic.Uint64
	negativePuts atomic.Uint64
	hitsFresh    atomic.Uint64
	hitsStale    atomic.Uint64
	hitsL2       atomic.Uint64
	misses       atomic.Uint64
	evictions    atomic.Uint64
	l2PushOK     atomic.Uint64
	l2PushFail   atomic.Uint64

	now func() time.Time
}

// NewStore builds a store. The bridge is optional; a nil bridge degrades to
// in-process-only caching.
func NewStore[T any](logger types.Logger, config *types.StoreConfig, bridge *Bridge) *Store[T] {
	if config == nil {
		config = &types.StoreConfig{
			Capacity:        2000,
			DefaultTTL:      90 * time.Second,
			DefaultStaleTTL: 600 * time.Second,
			NegativeTTL:     30 * time.Second,
		}
	}

	return &Store[T]{
		logger:  logger,
		config:  config,
		bridge:  bridge,
		entries: make(map[string]*Entry[T]),
		now:     time.Now,
	}
}

func (s *Store[T]) DefaultTTL() time.Duration {
	return s.config.DefaultTTL
}

// Set stores a payload with the fresh and stale windows and mirrors it to
// the L2 bridge. ttl <= 0 and staleExtra < 0 fall back to defaults.
func (s *Store[T]) Set(key string, data T, ttl, staleExtra time.Duration) error {
	if err := s.put(key, data, ttl, staleExtra, false); err != nil {
		return err
	}

	if s.bridge != nil && s.bridge.Enabled() {
		effTTL := ttl
		if effTTL <= 0 {
			effTTL = s.config.DefaultTTL
		}

		encoded, err := encodeValue(data)
		if err != nil {
			s.l2PushFail.Add(1)
			s.logger.Warn("Failed to encode entry for l2", zap.String("key", key), zap.Error(err))
			return nil
		}

		ok, fail := s.bridge.Set(context.Background(), key, encoded, effTTL)
		s.l2PushOK.Add(uint64(ok))
		s.l2PushFail.Add(uint64(fail))
	}

	return nil
}

// SetNegative caches a failure marker. Negative entries are never mirrored
// to L2.
func (s *Store[T]) SetNegative(key string, data T, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.config.NegativeTTL
	}
	return s.put(key, data, ttl, 0, true)
}

func (s *Store[T]) put(key string, data T, ttl, staleExtra time.Duration, negative bool) error {
	if key == "" {
		s.logger.Error("Attempted to set cache entry with empty key")
		return types.ErrCacheKeyEmpty
	}

	if ttl <= 0 {
		ttl = s.config.DefaultTTL
	}
	if ttl > MaxTTL {
		ttl = MaxTTL
	}
	if staleExtra < 0 {
		staleExtra = s.config.DefaultStaleTTL
	}

	now := s.now()
	entry := &Entry[T]{
		Data:       data,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		StaleUntil: now.Add(ttl + staleExtra),
		Negative:   negative,
		lastAccess: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config.Capacity > 0 {
		if _, exists := s.entries[key]; !exists && len(s.entries) >= s.config.Capacity {
			s.evictOneUnsafe()
		}
	}

	s.entries[key] = entry

	if negative {
		s.negativePuts.Add(1)
	} else {
		s.puts.Add(1)
	}

	return nil
}

// GetFresh returns the payload only while the fresh window holds.
func (s *Store[T]) GetFresh(key string) (T, bool) {
	var zero T
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.entries[key]
	if !exists || !now.Before(entry.ExpiresAt) {
		s.misses.Add(1)
		return zero, false
	}

	entry.lastAccess = now
	s.hitsFresh.Add(1)
	return entry.Data, true
}

// GetStale returns the payload while either window holds. Used as the
// degraded fallback when upstream fails.
func (s *Store[T]) GetStale(key string) (T, bool) {
	var zero T
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.entries[key]
	if !exists || !now.Before(entry.StaleUntil) {
		return zero, false
	}

	entry.lastAccess = now
	s.hitsStale.Add(1)
	return entry.Data, true
}

// GetAny returns a snapshot of the raw entry without freshness side
// effects, bounded by the stale window.
func (s *Store[T]) GetAny(key string) *Entry[T] {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.entries[key]
	if !exists || !now.Before(entry.StaleUntil) {
		return nil
	}

	snapshot := *entry
	return &snapshot
}

// GetFreshOrL2 consults the bridge on an in-process miss. An L2 hit is
// treated as fresh-equivalent and optionally backfilled.
func (s *Store[T]) GetFreshOrL2(ctx context.Context, key string) (T, bool) {
	if data, ok := s.GetFresh(key); ok {
		return data, true
	}

	var zero T
	if s.bridge == nil || !s.bridge.Enabled() {
		return zero, false
	}

	encoded, ok := s.bridge.Get(ctx, key)
	if !ok {
		return zero, false
	}

	var data T
	if err := decodeValue(encoded, &data); err != nil {
		s.logger.Warn("Failed to decode l2 entry", zap.String("key", key), zap.Error(err))
		return zero, false
	}

	s.hitsL2.Add(1)

	if s.bridge.Backfill() {
		if err := s.put(key, data, s.config.DefaultTTL, s.config.DefaultStaleTTL, false); err != nil {
			s.logger.Warn("Failed to backfill from l2", zap.String("key", key), zap.Error(err))
		}
	}

	return data, true
}

// Info reports the remaining windows for a key, floored at zero.
func (s *Store[T]) Info(key string) *types.CacheInfo {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.entries[key]
	if !exists || !now.Before(entry.StaleUntil) {
		return nil
	}

	info := &types.CacheInfo{Negative: entry.Negative}
	if fresh := entry.ExpiresAt.Sub(now); fresh > 0 {
		info.FreshFor = fresh
	}
	if stale := entry.StaleUntil.Sub(now); stale > 0 {
		info.StaleFor = stale
	}

	return info
}

func (s *Store[T]) PurgeKey(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; !exists {
		return false
	}

	delete(s.entries, key)
	return true
}

func (s *Store[T]) PurgePrefix(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			delete(s.entries, key)
			count++
		}
	}

	return count
}

// PurgeExpired removes entries past their stale window. Called by the cron
// sweep; there is no dedicated background timer in the store itself.
func (s *Store[T]) PurgeExpired() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for key, entry := range s.entries {
		if !now.Before(entry.StaleUntil) {
			delete(s.entries, key)
			count++
		}
	}

	if count > 0 {
		s.logger.Debug("Expired entries purged", zap.Int("count", count))
	}

	return count
}

func (s *Store[T]) Stats() types.CacheStats {
	s.mu.RLock()
	size := len(s.entries)
	s.mu.RUnlock()

	return types.CacheStats{
		Puts:         s.puts.Load(),
		NegativePuts: s.negativePuts.Load(),
		HitsFresh:    s.hitsFresh.Load(),
		HitsStale:    s.hitsStale.Load(),
		HitsL2:       s.hitsL2.Load(),
		Misses:       s.misses.Load(),
		Evictions:    s.evictions.Load(),
		Size:         size,
		Capacity:     s.config.Capacity,
		L2PushOK:     s.l2PushOK.Load(),
		L2PushFail:   s.l2PushFail.Load(),
	}
}

// Reset drops all entries and counters. Test helper.
func (s *Store[T]) Reset() {
	s.mu.Lock()
	s.entries = make(map[string]*Entry[T])
	s.mu.Unlock()

	s.puts.Store(0)
	s.negativePuts.Store(0)
	s.hitsFresh.Store(0)
	s.hitsStale.Store(0)
	s.hitsL2.Store(0)
	s.misses.Store(0)
	s.evictions.Store(0)
	s.l2PushOK.Store(0)
	s.l2PushFail.Store(0)
}

// evictOneUnsafe removes the least recently accessed entry. Caller holds
// the write lock.
func (s *Store[T]) evictOneUnsafe() {
	var victimKey string
	var victimTime time.Time

	for key, entry := range s.entries {
		at := entry.lastAccess
		if at.IsZero() {
			at = entry.CreatedAt
		}
		if victimKey == "" || at.Before(victimTime) {
			victimKey = key
			victimTime = at
		}
	}

	if victimKey != "" {
		delete(s.entries, victimKey)
		s.evictions.Add(1)
	}
}
