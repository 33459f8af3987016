// Package adaptive estimates per-key request rates so revalidation and
// prefetch effort can follow real traffic instead of a fixed schedule.
package adaptive

import (
	"sort"
	"sync"
	"time"

	"github.com/saiset-co/sai-newscache/types"
)

type Class string

const (
	ClassHot        Class = "hot"
	ClassCold       Class = "cold"
	ClassSuppressed Class = "suppressed-low"
	ClassBaseline   Class = "baseline"
)

// Decision is the tracker's advice for one key: the classification and the
// adjusted revalidation threshold derived from the base.
type Decision struct {
	Class     Class
	Threshold time.Duration
	Rate      float64
}

// Tracker maintains an exponential moving average of requests-per-minute
// per cache key, bounded by oldest-first eviction.
type Tracker struct {
	config  *types.AdaptiveConfig
	entries map[string]*activity
	mu      sync.Mutex
	now     func() time.Time
}

type activity struct {
	ema     float64
	lastHit time.Time
}

func NewTracker(config *types.AdaptiveConfig) *Tracker {
	if config == nil {
		config = &types.AdaptiveConfig{Enabled: false}
	}
	if config.Alpha <= 0 || config.Alpha > 1 {
		config.Alpha = 0.3
	}
	if config.HotRate <= 0 {
		config.HotRate = 10
	}
	if config.ColdRate <= 0 {
		config.ColdRate = 0.5
	}
	if config.SuppressRate <= 0 {
		config.SuppressRate = 0.05
	}
	if config.HotBoost <= 1 {
		config.HotBoost = 2.0
	}
	if config.ColdReduce <= 0 || config.ColdReduce >= 1 {
		config.ColdReduce = 0.5
	}
	if config.LongGapCutoff <= 0 {
		config.LongGapCutoff = 10 * time.Minute
	}
	if config.MaxKeys <= 0 {
		config.MaxKeys = 5000
	}

	return &Tracker{
		config:  config,
		entries: make(map[string]*activity),
		now:     time.Now,
	}
}

// RecordHit folds one request into the key's EMA. The first observation
// seeds the average at 1 req/min; a gap past the long-gap cutoff counts as
// an instantaneous rate of zero so dormant keys decay toward cold.
func (t *Tracker) RecordHit(key string) {
	if !t.config.Enabled || key == "" {
		return
	}

	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	entry, exists := t.entries[key]
	if !exists {
		if len(t.entries) >= t.config.MaxKeys {
			t.evictOldestUnsafe()
		}
		t.entries[key] = &activity{ema: 1, lastHit: now}
		return
	}

	deltaMs := now.Sub(entry.lastHit).Milliseconds()
	if deltaMs < 1 {
		deltaMs = 1
	}

	var instantaneous float64
	if now.Sub(entry.lastHit) <= t.config.LongGapCutoff {
		instantaneous = 60000 / float64(deltaMs)
	}

	entry.ema = t.config.Alpha*instantaneous + (1-t.config.Alpha)*entry.ema
	entry.lastHit = now
}

// Threshold adjusts the base revalidation threshold for the key. Hot keys
// get a wider window (revalidate earlier and more generously), cold keys a
// narrower one, and keys below the suppression floor are skipped entirely.
func (t *Tracker) Threshold(base time.Duration, key string) Decision {
	if !t.config.Enabled {
		return Decision{Class: ClassBaseline, Threshold: base}
	}

	t.mu.Lock()
	entry, exists := t.entries[key]
	var rate float64
	if exists {
		rate = entry.ema
	}
	t.mu.Unlock()

	if !exists {
		return Decision{Class: ClassBaseline, Threshold: base}
	}

	switch {
	case rate < t.config.SuppressRate:
		return Decision{Class: ClassSuppressed, Threshold: 0, Rate: rate}
	case rate >= t.config.HotRate:
		return Decision{
			Class:     ClassHot,
			Threshold: time.Duration(float64(base) * t.config.HotBoost),
			Rate:      rate,
		}
	case rate <= t.config.ColdRate:
		return Decision{
			Class:     ClassCold,
			Threshold: time.Duration(float64(base) * t.config.ColdReduce),
			Rate:      rate,
		}
	default:
		return Decision{Class: ClassBaseline, Threshold: base, Rate: rate}
	}
}

// Hottest returns the top-n keys by EMA, for prefetch candidate selection.
func (t *Tracker) Hottest(n int) []types.HotKey {
	if n <= 0 {
		return nil
	}

	t.mu.Lock()
	keys := make([]types.HotKey, 0, len(t.entries))
	for key, entry := range t.entries {
		keys = append(keys, types.HotKey{Key: key, RatePerMinute: entry.ema})
	}
	t.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool {
		return keys[i].RatePerMinute > keys[j].RatePerMinute
	})

	if len(keys) > n {
		keys = keys[:n]
	}

	return keys
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Reset clears all activity. Test helper.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[string]*activity)
}

// evictOldestUnsafe drops the entry with the stalest last hit. Caller
// holds the lock.
func (t *Tracker) evictOldestUnsafe() {
	var victimKey string
	var victimTime time.Time

	for key, entry := range t.entries {
		if victimKey == "" || entry.lastHit.Before(victimTime) {
			victimKey = key
			victimTime = entry.lastHit
		}
	}

	if victimKey != "" {
		delete(t.entries, victimKey)
	}
}
