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

// Outcome names the decision MaybeSchedule reached, one per skip rule.
type Outcome string

const (
	OutcomeDisabled          Outcome = "disabled"
	OutcomeScheduled         Outcome = "scheduled"
	OutcomeSkippedMissing    Outcome = "skippedMissing"
	OutcomeSkippedSuppressed Outcome = "skippedSuppressed"
	OutcomeSkippedFresh      Outcome = "skippedFresh"
	OutcomeSkippedRecent     Outcome = "skippedRecent"
	OutcomeSkippedMaxConc    Outcome = "skippedMaxConcurrent"
	OutcomeSkippedInflight   Outcome = "skippedInflight"
	OutcomeSkippedNegative   Outcome = "skippedNegative"
)

type RevalStats struct {
	Scheduled            uint64 `json:"scheduled"`
	Succeeded            uint64 `json:"succeeded"`
	Failed               uint64 `json:"failed"`
	SkippedMissing       uint64 `json:"skipped_missing"`
	SkippedSuppressed    uint64 `json:"skipped_suppressed"`
	SkippedFresh         uint64 `json:"skipped_fresh"`
	SkippedRecent        uint64 `json:"skipped_recent"`
	SkippedMaxConcurrent uint64 `json:"skipped_max_concurrent"`
	SkippedInflight      uint64 `json:"skipped_inflight"`
	SkippedNegative      uint64 `json:"skipped_negative"`
	Inflight             int32  `json:"inflight"`
}

// Revalidator opportunistically refreshes near-expiry entries after a
// response was already served, keeping the refresh cost off the request
// path. Scheduling never blocks; the fetch runs as a detached task.
type Revalidator[T any] struct {
	logger   types.Logger
	config   *types.RevalidateConfig
	store    *cache.Store[T]
	tracker  *adaptive.Tracker
	registry *Registry[T]
	valid    func(T) bool

	inflight    map[string]struct{}
	lastSuccess map[string]time.Time
	mu          sync.Mutex
	concurrent  atomic.Int32
	tasks       sync.WaitGroup
	now         func() time.Time

	scheduled            atomic.Uint64
	succeeded            atomic.Uint64
	failed               atomic.Uint64
	skippedMissing       atomic.Uint64
	skippedSuppressed    atomic.Uint64
	skippedFresh         atomic.Uint64
	skippedRecent        atomic.Uint64
	skippedMaxConcurrent atomic.Uint64
	skippedInflight      atomic.Uint64
	skippedNegative      atomic.Uint64
}

// NewRevalidator wires the scheduler. valid guards what a fetcher result
// must look like before it is written back; nil accepts everything.
func NewRevalidator[T any](
	logger types.Logger,
	config *types.RevalidateConfig,
	store *cache.Store[T],
	tracker *adaptive.Tracker,
	registry *Registry[T],
	valid func(T) bool,
) *Revalidator[T] {
	if config == nil {
		config = &types.RevalidateConfig{Enabled: false}
	}
	if config.Threshold <= 0 {
		config.Threshold = 20 * time.Second
	}
	if config.MinInterval <= 0 {
		config.MinInterval = 30 * time.Second
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}
	if valid == nil {
		valid = func(T) bool { return true }
	}

	return &Revalidator[T]{
		logger:      logger,
		config:      config,
		store:       store,
		tracker:     tracker,
		registry:    registry,
		valid:       valid,
		inflight:    make(map[string]struct{}),
		lastSuccess: make(map[string]time.Time),
		now:         time.Now,
	}
}

// MaybeSchedule decides whether the key deserves a background refresh and,
// if so, fires one. The decision chain short-circuits on the first match.
func (r *Revalidator[T]) MaybeSchedule(key string, fetcher Fetcher[T]) Outcome {
	if !r.config.Enabled || fetcher == nil {
		return OutcomeDisabled
	}

	r.registry.Register(key, fetcher)

	info := r.store.Info(key)
	if info == nil {
		r.skippedMissing.Add(1)
		return OutcomeSkippedMissing
	}

	decision := r.tracker.Threshold(r.config.Threshold, key)
	if decision.Class == adaptive.ClassSuppressed {
		r.skippedSuppressed.Add(1)
		return OutcomeSkippedSuppressed
	}

	if info.FreshFor > decision.Threshold {
		r.skippedFresh.Add(1)
		return OutcomeSkippedFresh
	}

	now := r.now()

	r.mu.Lock()
	if last, exists := r.lastSuccess[key]; exists && now.Sub(last) < r.config.MinInterval {
		r.mu.Unlock()
		r.skippedRecent.Add(1)
		return OutcomeSkippedRecent
	}

	if int(r.concurrent.Load()) >= r.config.MaxConcurrent {
		r.mu.Unlock()
		r.skippedMaxConcurrent.Add(1)
		return OutcomeSkippedMaxConc
	}

	if _, exists := r.inflight[key]; exists {
		r.mu.Unlock()
		r.skippedInflight.Add(1)
		return OutcomeSkippedInflight
	}

	if info.Negative {
		r.mu.Unlock()
		r.skippedNegative.Add(1)
		return OutcomeSkippedNegative
	}

	r.inflight[key] = struct{}{}
	r.concurrent.Add(1)
	r.mu.Unlock()

	r.scheduled.Add(1)
	r.tasks.Add(1)
	go r.run(key, fetcher)

	return OutcomeScheduled
}

// run executes one refresh task. Cleanup is unconditional: inflight marker
// and concurrency slot are released whatever the fetch does.
func (r *Revalidator[T]) run(key string, fetcher Fetcher[T]) {
	defer func() {
		r.concurrent.Add(-1)
		r.mu.Lock()
		delete(r.inflight, key)
		r.mu.Unlock()
		r.tasks.Done()
	}()

	result, err := fetcher(context.Background())
	if err != nil {
		r.failed.Add(1)
		r.logger.Debug("Background revalidation failed",
			zap.String("key", key),
			zap.Error(err))
		return
	}

	if !r.valid(result) {
		r.failed.Add(1)
		r.logger.Debug("Background revalidation returned malformed result",
			zap.String("key", key))
		return
	}

	if err := r.store.Set(key, result, 0, -1); err != nil {
		r.failed.Add(1)
		return
	}

	r.mu.Lock()
	r.lastSuccess[key] = r.now()
	r.mu.Unlock()

	r.succeeded.Add(1)
}

// WaitIdle blocks until every scheduled task has settled. Test helper; the
// production path never waits on background work.
func (r *Revalidator[T]) WaitIdle() {
	r.tasks.Wait()
}

func (r *Revalidator[T]) Stats() RevalStats {
	return RevalStats{
		Scheduled:            r.scheduled.Load(),
		Succeeded:            r.succeeded.Load(),
		Failed:               r.failed.Load(),
		SkippedMissing:       r.skippedMissing.Load(),
		SkippedSuppressed:    r.skippedSuppressed.Load(),
		SkippedFresh:         r.skippedFresh.Load(),
		SkippedRecent:        r.skippedRecent.Load(),
		SkippedMaxConcurrent: r.skippedMaxConcurrent.Load(),
		SkippedInflight:      r.skippedInflight.Load(),
		SkippedNegative:      r.skippedNegative.Load(),
		Inflight:             r.concurrent.Load(),
	}
}

// ResetStats zeroes all counters and per-key bookkeeping. Test helper.
func (r *Revalidator[T]) ResetStats() {
	r.scheduled.Store(0)
	r.succeeded.Store(0)
	r.failed.Store(0)
	r.skippedMissing.Store(0)
	r.skippedSuppressed.Store(0)
	r.skippedFresh.Store(0)
	r.skippedRecent.Store(0)
	r.skippedMaxConcurrent.Store(0)
	r.skippedInflight.Store(0)
	r.skippedNegative.Store(0)

	r.mu.Lock()
	r.lastSuccess = make(map[string]time.Time)
	r.mu.Unlock()
}
