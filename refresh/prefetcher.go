package refresh

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-newscache/adaptive"
	"github.com/saiset-co/sai-newscache/cache"
	"github.com/saiset-co/sai-newscache/types"
)

type PrefetchStats struct {
	Ticks          uint64    `json:"ticks"`
	Selected       uint64    `json:"selected"`
	Succeeded      uint64    `json:"succeeded"`
	Failed         uint64    `json:"failed"`
	Suspensions    uint64    `json:"suspensions"`
	SuspendedUntil time.Time `json:"suspended_until,omitempty"`
	RegistrySize   int       `json:"registry_size"`
}

// Prefetcher proactively refreshes the hottest keys before they go stale,
// independent of request traffic. A burst of fetch errors suspends all
// prefetching so a sick upstream is not hammered by background work.
type Prefetcher[T any] struct {
	logger   types.Logger
	config   *types.PrefetchConfig
	store    *cache.Store[T]
	tracker  *adaptive.Tracker
	registry *Registry[T]
	valid    func(T) bool

	lastTick       time.Time
	suspendedUntil time.Time
	errorTimes     []time.Time
	lastSuccess    map[string]time.Time
	mu             sync.Mutex
	tasks          sync.WaitGroup
	now            func() time.Time

	ticks       atomic.Uint64
	selected    atomic.Uint64
	succeeded   atomic.Uint64
	failed      atomic.Uint64
	suspensions atomic.Uint64
}

func NewPrefetcher[T any](
	logger types.Logger,
	config *types.PrefetchConfig,
	store *cache.Store[T],
	tracker *adaptive.Tracker,
	registry *Registry[T],
	valid func(T) bool,
) *Prefetcher[T] {
	if config == nil {
		config = &types.PrefetchConfig{Enabled: false}
	}
	if config.MaxBatch <= 0 {
		config.MaxBatch = 3
	}
	if config.SampleSize <= 0 {
		config.SampleSize = 20
	}
	if config.FreshThreshold <= 0 {
		config.FreshThreshold = 30 * time.Second
	}
	if config.MinInterval <= 0 {
		config.MinInterval = 60 * time.Second
	}
	if config.TickCooldown <= 0 {
		config.TickCooldown = 15 * time.Second
	}
	if config.ErrorWindow <= 0 {
		config.ErrorWindow = 2 * time.Minute
	}
	if config.ErrorBurst <= 0 {
		config.ErrorBurst = 5
	}
	if config.SuspendDuration <= 0 {
		config.SuspendDuration = 5 * time.Minute
	}
	if valid == nil {
		valid = func(T) bool { return true }
	}

	return &Prefetcher[T]{
		logger:      logger,
		config:      config,
		store:       store,
		tracker:     tracker,
		registry:    registry,
		valid:       valid,
		lastSuccess: make(map[string]time.Time),
		now:         time.Now,
	}
}

// Tick runs one prefetch round and returns how many keys it selected. It
// is cheap enough to piggyback on a metrics read or a cron schedule.
func (p *Prefetcher[T]) Tick(ctx context.Context) int {
	if !p.config.Enabled {
		return 0
	}

	now := p.now()

	p.mu.Lock()
	if now.Before(p.suspendedUntil) {
		p.mu.Unlock()
		return 0
	}
	if !p.lastTick.IsZero() && now.Sub(p.lastTick) < p.config.TickCooldown {
		p.mu.Unlock()
		return 0
	}
	p.lastTick = now
	p.mu.Unlock()

	p.ticks.Add(1)

	selected := p.selectCandidates(now)
	for _, candidate := range selected {
		p.selected.Add(1)
		p.tasks.Add(1)
		go p.fetch(ctx, candidate.key, candidate.fetcher)
	}

	return len(selected)
}

type prefetchCandidate[T any] struct {
	key     string
	fetcher Fetcher[T]
}

func (p *Prefetcher[T]) selectCandidates(now time.Time) []prefetchCandidate[T] {
	hottest := p.tracker.Hottest(p.config.SampleSize)

	candidates := make([]prefetchCandidate[T], 0, p.config.MaxBatch)
	for _, hot := range hottest {
		if len(candidates) >= p.config.MaxBatch {
			break
		}

		fetcher, exists := p.registry.Get(hot.Key)
		if !exists {
			continue
		}

		info := p.store.Info(hot.Key)
		if info == nil || info.Negative || info.FreshFor >= p.config.FreshThreshold {
			continue
		}

		p.mu.Lock()
		last, fetched := p.lastSuccess[hot.Key]
		p.mu.Unlock()
		if fetched && now.Sub(last) < p.config.MinInterval {
			continue
		}

		candidates = append(candidates, prefetchCandidate[T]{key: hot.Key, fetcher: fetcher})
	}

	return candidates
}

func (p *Prefetcher[T]) fetch(ctx context.Context, key string, fetcher Fetcher[T]) {
	defer p.tasks.Done()

	result, err := fetcher(ctx)
	if err != nil || !p.valid(result) {
		p.failed.Add(1)
		p.recordError()
		p.logger.Debug("Prefetch failed",
			zap.String("key", key),
			zap.Error(err))
		return
	}

	if err := p.store.Set(key, result, 0, -1); err != nil {
		p.failed.Add(1)
		return
	}

	p.mu.Lock()
	p.lastSuccess[key] = p.now()
	p.mu.Unlock()

	p.succeeded.Add(1)
}

// recordError appends to the rolling error window and suspends all
// prefetching once the burst threshold is reached within it.
func (p *Prefetcher[T]) recordError() {
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := now.Add(-p.config.ErrorWindow)
	kept := p.errorTimes[:0]
	for _, at := range p.errorTimes {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	p.errorTimes = append(kept, now)

	if len(p.errorTimes) >= p.config.ErrorBurst {
		p.suspendedUntil = now.Add(p.config.SuspendDuration)
		p.errorTimes = p.errorTimes[:0]
		p.suspensions.Add(1)

		p.logger.Warn("Prefetching suspended after error burst",
			zap.Time("until", p.suspendedUntil))
	}
}

// WaitIdle blocks until in-flight prefetches settle. Test helper.
func (p *Prefetcher[T]) WaitIdle() {
	p.tasks.Wait()
}

func (p *Prefetcher[T]) Stats() PrefetchStats {
	p.mu.Lock()
	suspendedUntil := p.suspendedUntil
	p.mu.Unlock()

	return PrefetchStats{
		Ticks:          p.ticks.Load(),
		Selected:       p.selected.Load(),
		Succeeded:      p.succeeded.Load(),
		Failed:         p.failed.Load(),
		Suspensions:    p.suspensions.Load(),
		SuspendedUntil: suspendedUntil,
		RegistrySize:   p.registry.Len(),
	}
}

// Reset clears counters, error window and suspension. Test helper.
func (p *Prefetcher[T]) Reset() {
	p.ticks.Store(0)
	p.selected.Store(0)
	p.succeeded.Store(0)
	p.failed.Store(0)
	p.suspensions.Store(0)

	p.mu.Lock()
	p.lastTick = time.Time{}
	p.suspendedUntil = time.Time{}
	p.errorTimes = nil
	p.lastSuccess = make(map[string]time.Time)
	p.mu.Unlock()
}
