package upstream

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-newscache/types"
)

type breakerStateCode int32

const (
	stateClosed breakerStateCode = iota
	stateOpen
	stateHalfOpen
)

// BreakerRegistry keeps an independent circuit breaker per upstream name.
// Open duration doubles on every failed half-open probe, capped at the
// configured maximum.
type BreakerRegistry struct {
	config *types.BreakerConfig
	logger types.Logger
	states map[string]*breakerState
	mu     sync.Mutex
	now    func() time.Time
}

type breakerState struct {
	state         breakerStateCode
	failures      int
	openedAt      time.Time
	openDuration  time.Duration
	probeInFlight bool
	openedCount   uint64
}

func NewBreakerRegistry(logger types.Logger, config *types.BreakerConfig) *BreakerRegistry {
	if config == nil {
		config = &types.BreakerConfig{Enabled: false}
	}
	if config.FailureBurst <= 0 {
		config.FailureBurst = 3
	}
	if config.BaseOpenDuration <= 0 {
		config.BaseOpenDuration = 30 * time.Second
	}
	if config.MaxOpenDuration <= 0 {
		config.MaxOpenDuration = 10 * time.Minute
	}

	return &BreakerRegistry{
		config: config,
		logger: logger,
		states: make(map[string]*breakerState),
		now:    time.Now,
	}
}

// AllowRequest reports whether an attempt against the named upstream may
// proceed. An open breaker past its open duration transitions to half-open
// and the transitioning call consumes the single probe slot.
func (b *BreakerRegistry) AllowRequest(name string) bool {
	if !b.config.Enabled {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.getOrCreateUnsafe(name)

	switch st.state {
	case stateClosed:
		return true
	case stateOpen:
		if b.now().Sub(st.openedAt) >= st.openDuration {
			st.state = stateHalfOpen
			st.probeInFlight = true
			b.logger.Info("Circuit breaker half-open, probing",
				zap.String("upstream", name))
			return true
		}
		return false
	case stateHalfOpen:
		if !st.probeInFlight {
			st.probeInFlight = true
			return true
		}
		return false
	default:
		return true
	}
}

// OnSuccess closes the breaker and resets the backoff to its base value.
func (b *BreakerRegistry) OnSuccess(name string) {
	if !b.config.Enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.getOrCreateUnsafe(name)

	if st.state != stateClosed {
		b.logger.Info("Circuit breaker closed",
			zap.String("upstream", name))
	}

	st.state = stateClosed
	st.failures = 0
	st.openDuration = b.config.BaseOpenDuration
	st.probeInFlight = false
}

// OnFailure records a failed attempt. A 422 is a query problem, not an
// upstream health signal, and is excluded from the accounting; it still
// settles a half-open probe, back to open with the backoff unchanged.
func (b *BreakerRegistry) OnFailure(name string, statusCode int) {
	if !b.config.Enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.getOrCreateUnsafe(name)

	if statusCode == 422 {
		if st.state == stateHalfOpen {
			b.openUnsafe(name, st)
		}
		return
	}

	st.failures++

	switch st.state {
	case stateHalfOpen:
		// Failed probe: reopen with doubled backoff.
		doubled := st.openDuration * 2
		if doubled > b.config.MaxOpenDuration {
			doubled = b.config.MaxOpenDuration
		}
		st.openDuration = doubled
		b.openUnsafe(name, st)
	case stateClosed:
		if st.failures >= b.config.FailureBurst {
			b.openUnsafe(name, st)
		}
	case stateOpen:
	}
}

func (b *BreakerRegistry) openUnsafe(name string, st *breakerState) {
	st.state = stateOpen
	st.openedAt = b.now()
	st.probeInFlight = false
	st.openedCount++

	b.logger.Warn("Circuit breaker opened",
		zap.String("upstream", name),
		zap.Int("failures", st.failures),
		zap.Duration("open_duration", st.openDuration))
}

func (b *BreakerRegistry) Snapshot() map[string]types.BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snapshot := make(map[string]types.BreakerSnapshot, len(b.states))
	for name, st := range b.states {
		snapshot[name] = types.BreakerSnapshot{
			State:        stateString(st.state),
			Failures:     st.failures,
			OpenedAt:     st.openedAt,
			OpenDuration: st.openDuration,
			OpenedCount:  st.openedCount,
		}
	}

	return snapshot
}

// Reset clears all breaker state. Test helper.
func (b *BreakerRegistry) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.states = make(map[string]*breakerState)
}

func (b *BreakerRegistry) getOrCreateUnsafe(name string) *breakerState {
	st, exists := b.states[name]
	if !exists {
		st = &breakerState{
			state:        stateClosed,
			openDuration: b.config.BaseOpenDuration,
		}
		b.states[name] = st
	}
	return st
}

func stateString(state breakerStateCode) string {
	switch state {
	case stateClosed:
		return "closed"
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
