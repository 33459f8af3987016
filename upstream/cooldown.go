package upstream

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-newscache/types"
)

// CooldownTracker suppresses an upstream for a short window after a 429.
// The duration is clamped to a configured range regardless of what the
// upstream suggests, to bound worst-case suppression.
type CooldownTracker struct {
	config *types.CooldownConfig
	logger types.Logger
	until  map[string]time.Time
	mu     sync.Mutex
	now    func() time.Time
}

func NewCooldownTracker(logger types.Logger, config *types.CooldownConfig) *CooldownTracker {
	if config == nil {
		config = &types.CooldownConfig{}
	}
	if config.Min <= 0 {
		config.Min = 10 * time.Second
	}
	if config.Max <= 0 || config.Max < config.Min {
		config.Max = 120 * time.Second
	}

	return &CooldownTracker{
		config: config,
		logger: logger,
		until:  make(map[string]time.Time),
		now:    time.Now,
	}
}

func (t *CooldownTracker) Set(name string, duration time.Duration) {
	if duration < t.config.Min {
		duration = t.config.Min
	}
	if duration > t.config.Max {
		duration = t.config.Max
	}

	t.mu.Lock()
	t.until[name] = t.now().Add(duration)
	t.mu.Unlock()

	t.logger.Warn("Upstream cooling down",
		zap.String("upstream", name),
		zap.Duration("duration", duration))
}

func (t *CooldownTracker) IsCoolingDown(name string) bool {
	return t.Remaining(name) > 0
}

// Remaining reports the unexpired part of the window, for Retry-After hints.
func (t *CooldownTracker) Remaining(name string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	expiry, exists := t.until[name]
	if !exists {
		return 0
	}

	remaining := expiry.Sub(t.now())
	if remaining <= 0 {
		delete(t.until, name)
		return 0
	}

	return remaining
}

// Reset clears all cooldowns. Test helper.
func (t *CooldownTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.until = make(map[string]time.Time)
}
