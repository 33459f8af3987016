// Package newscache is the caching and request-coalescing core of a news
// aggregation edge API. It keeps a tiered cache (in-process store plus
// optional distributed L2 backends), collapses concurrent misses into a
// single upstream call, and protects providers with a circuit breaker,
// a daily budget and rate-limit cooldowns. Hot keys are refreshed in the
// background before they expire.
package newscache

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-newscache/adaptive"
	"github.com/saiset-co/sai-newscache/cache"
	"github.com/saiset-co/sai-newscache/config"
	"github.com/saiset-co/sai-newscache/cron"
	"github.com/saiset-co/sai-newscache/flight"
	"github.com/saiset-co/sai-newscache/logger"
	"github.com/saiset-co/sai-newscache/metrics"
	"github.com/saiset-co/sai-newscache/refresh"
	"github.com/saiset-co/sai-newscache/types"
	"github.com/saiset-co/sai-newscache/upstream"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// Source tells the caller which tier answered a request.
const (
	SourceFresh     = "fresh"
	SourceUpstream  = "upstream"
	SourceCoalesced = "coalesced"
	SourceStale     = "stale"
)

const (
	sweepJobName    = "cache-sweep"
	prefetchJobName = "prefetch-tick"
)

// Service owns the full subsystem graph. Every collaborator is wired once
// at construction; there is no global state.
type Service struct {
	ctx    context.Context
	cancel context.CancelFunc

	config  types.ConfigManager
	logger  types.Logger
	metrics types.MetricsManager

	bridge      *cache.Bridge
	store       *cache.Store[*types.Page]
	flights     *flight.Coalescer[*types.Page]
	breaker     *upstream.BreakerRegistry
	budget      *upstream.BudgetTracker
	cooldown    *upstream.CooldownTracker
	tracker     *adaptive.Tracker
	registry    *refresh.Registry[*types.Page]
	revalidator *refresh.Revalidator[*types.Page]
	prefetcher  *refresh.Prefetcher[*types.Page]
	dispatcher  *upstream.Dispatcher
	cron        types.CronManager

	providers []types.Provider
	state     atomic.Value
}

// NewService builds the service from a yaml config file. An empty path
// yields the built-in defaults.
func NewService(ctx context.Context, configPath string) (*Service, error) {
	configManager, err := config.NewConfigurationManager(configPath)
	if err != nil {
		return nil, types.WrapError(err, "failed to load configuration")
	}

	return build(ctx, configManager, nil)
}

// NewServiceWithConfig builds the service from an already assembled config.
// A non-nil fetcher replaces the HTTP client, which is how tests inject
// fake upstreams.
func NewServiceWithConfig(ctx context.Context, cfg *types.Config, fetcher types.Fetcher) (*Service, error) {
	return build(ctx, config.NewFromConfig(cfg), fetcher)
}

func build(ctx context.Context, configManager types.ConfigManager, fetcher types.Fetcher) (*Service, error) {
	cfg := configManager.GetConfig()

	log, err := logger.NewDefaultLogger(cfg.Logger)
	if err != nil {
		return nil, types.WrapError(err, "failed to build logger")
	}

	serviceCtx, cancel := context.WithCancel(ctx)

	bridge, err := cache.NewBridge(serviceCtx, log, cfg.L2)
	if err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to build l2 bridge")
	}

	store := cache.NewStore[*types.Page](log, cfg.Cache, bridge)
	tracker := adaptive.NewTracker(cfg.Adaptive)
	registry := refresh.NewRegistry[*types.Page]()

	service := &Service{
		ctx:      serviceCtx,
		cancel:   cancel,
		config:   configManager,
		logger:   log,
		bridge:   bridge,
		store:    store,
		flights:  flight.NewCoalescer[*types.Page](),
		breaker:  upstream.NewBreakerRegistry(log, cfg.Breaker),
		budget:   upstream.NewBudgetTracker(),
		cooldown: upstream.NewCooldownTracker(log, cfg.Cooldown),
		tracker:  tracker,
		registry: registry,
	}

	service.revalidator = refresh.NewRevalidator(log, cfg.Revalidate, store, tracker, registry, validPage)
	service.prefetcher = refresh.NewPrefetcher(log, cfg.Prefetch, store, tracker, registry, validPage)
	service.dispatcher = upstream.NewDispatcher(log, cfg.Dispatch, service.breaker, service.budget, service.cooldown, fetcher)
	service.providers = providersFromConfig(cfg.Providers)

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		metricsManager, err := metrics.NewManager(log, cfg.Metrics)
		if err != nil {
			cancel()
			return nil, types.WrapError(err, "failed to build metrics manager")
		}
		service.metrics = metricsManager
	}

	if cfg.Cron != nil && cfg.Cron.Enabled {
		cronManager, err := cron.NewManager(log, cfg.Cron)
		if err != nil {
			cancel()
			return nil, types.WrapError(err, "failed to build cron manager")
		}
		service.cron = cronManager
	}

	service.state.Store(StateStopped)

	log.Info("Service assembled",
		zap.String("name", cfg.Name),
		zap.String("version", cfg.Version),
		zap.Int("providers", len(service.providers)),
		zap.Bool("l2", bridge.Enabled()))

	return service, nil
}

func (s *Service) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		return types.ErrServiceIsRunning
	}

	if s.metrics != nil {
		if err := s.metrics.Start(); err != nil {
			s.logger.Error("Failed to start metrics manager", zap.Error(err))
		}
	}

	if err := s.bridge.Start(); err != nil {
		s.logger.Error("Failed to start l2 bridge", zap.Error(err))
	}

	if s.cron != nil {
		if err := s.registerJobs(); err != nil {
			s.setState(StateStopped)
			return types.WrapError(err, "failed to register cron jobs")
		}
		if err := s.cron.Start(); err != nil {
			s.setState(StateStopped)
			return types.WrapError(err, "failed to start cron manager")
		}
	}

	s.setState(StateRunning)
	s.logger.Info("Service started")
	return nil
}

func (s *Service) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		return types.ErrServiceIsNotRunning
	}

	s.cancel()

	if s.cron != nil {
		if err := s.cron.Stop(); err != nil && !types.IsError(err, types.ErrServerNotRunning) {
			s.logger.Error("Failed to stop cron manager", zap.Error(err))
		}
	}

	s.revalidator.WaitIdle()
	s.prefetcher.WaitIdle()

	if err := s.bridge.Stop(); err != nil {
		s.logger.Error("Failed to stop l2 bridge", zap.Error(err))
	}

	if s.metrics != nil {
		if err := s.metrics.Stop(); err != nil && !types.IsError(err, types.ErrServerNotRunning) {
			s.logger.Error("Failed to stop metrics manager", zap.Error(err))
		}
	}

	s.setState(StateStopped)
	s.logger.Info("Service stopped gracefully")
	return nil
}

func (s *Service) IsRunning() bool {
	return s.getState() == StateRunning
}

// GetOrFetch answers one request for a route. The tier order is fixed:
// fresh local entry or L2 hit, then a coalesced upstream dispatch, then a
// stale entry if the dispatch failed. The returned source names the tier
// that produced the page.
func (s *Service) GetOrFetch(ctx context.Context, route string, params map[string]interface{}, intent types.Intent) (*types.Page, string, error) {
	key := cache.BuildKey(route, params)
	if key == "" {
		return nil, "", types.ErrCacheKeyEmpty
	}

	s.tracker.RecordHit(key)

	fetcher := s.fetcherFor(intent)

	if page, found := s.store.GetFreshOrL2(ctx, key); found {
		s.revalidator.MaybeSchedule(key, fetcher)
		s.countRequest(route, SourceFresh)
		return page, SourceFresh, nil
	}

	page, shared, err := s.flights.Do(key, func() (*types.Page, error) {
		return s.fetchAndStore(ctx, key, intent)
	})
	if err == nil {
		source := SourceUpstream
		if shared {
			source = SourceCoalesced
		}
		s.revalidator.MaybeSchedule(key, fetcher)
		s.countRequest(route, source)
		return page, source, nil
	}

	if stale, found := s.store.GetStale(key); found {
		s.logger.Warn("Serving stale entry after upstream failure",
			zap.String("key", key),
			zap.Error(err))
		s.revalidator.MaybeSchedule(key, fetcher)
		s.countRequest(route, SourceStale)
		return stale, SourceStale, nil
	}

	s.countRequest(route, "error")
	return nil, "", err
}

// Resolve is GetOrFetch with the intent derived from the route and params,
// for callers that do not need provider-specific request shaping.
func (s *Service) Resolve(ctx context.Context, route string, params map[string]interface{}) (*types.Page, string, error) {
	return s.GetOrFetch(ctx, route, params, intentFromParams(route, params))
}

func (s *Service) fetchAndStore(ctx context.Context, key string, intent types.Intent) (*types.Page, error) {
	start := time.Now()
	result, err := s.dispatcher.Dispatch(ctx, s.providers, intent)
	s.observeDispatch(time.Since(start), err)
	if err != nil {
		return nil, err
	}

	page := result.Page
	if page == nil || len(page.Items) == 0 {
		// An empty answer is still an answer; the negative window just
		// keeps repeats off the upstream.
		if page == nil {
			page = &types.Page{Items: []types.Article{}}
		}
		if err := s.store.SetNegative(key, page, 0); err != nil {
			s.logger.Warn("Failed to negative-cache empty result",
				zap.String("key", key),
				zap.Error(err))
		}
		return page, nil
	}

	if err := s.store.Set(key, page, 0, -1); err != nil {
		s.logger.Warn("Failed to cache upstream result",
			zap.String("key", key),
			zap.Error(err))
	}

	return page, nil
}

// fetcherFor captures the intent for background refreshes. The dispatch
// runs against the live provider list, so config reloads apply to refresh
// traffic too.
func (s *Service) fetcherFor(intent types.Intent) refresh.Fetcher[*types.Page] {
	return func(ctx context.Context) (*types.Page, error) {
		timeout := 30 * time.Second
		if cfg := s.config.GetConfig(); cfg.Dispatch != nil && cfg.Dispatch.Timeout > 0 {
			timeout = 2 * cfg.Dispatch.Timeout
		}

		fetchCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		result, err := s.dispatcher.Dispatch(fetchCtx, s.providers, intent)
		if err != nil {
			return nil, err
		}
		return result.Page, nil
	}
}

// PurgeKey drops the entry for one route/params pair and forgets any
// in-flight fetch for it, so the next request starts clean.
func (s *Service) PurgeKey(route string, params map[string]interface{}) bool {
	key := cache.BuildKey(route, params)
	if key == "" {
		return false
	}

	s.flights.Forget(key)
	return s.store.PurgeKey(key)
}

// PurgeRoute drops every entry whose key starts with the route name.
func (s *Service) PurgeRoute(route string) int {
	return s.store.PurgePrefix(cache.BuildKey(route, nil))
}

// Sweep removes entries past their stale window. Wired to cron; callable
// directly.
func (s *Service) Sweep() int {
	removed := s.store.PurgeExpired()
	if removed > 0 {
		s.logger.Debug("Cache sweep completed", zap.Int("removed", removed))
	}
	return removed
}

// PrefetchTick runs one prefetch round against the hottest keys.
func (s *Service) PrefetchTick(ctx context.Context) int {
	return s.prefetcher.Tick(ctx)
}

// Status is the observability snapshot for a metrics or admin endpoint.
type Status struct {
	Name       string                           `json:"name"`
	Version    string                           `json:"version"`
	Running    bool                             `json:"running"`
	Cache      types.CacheStats                 `json:"cache"`
	Flight     flight.Stats                     `json:"flight"`
	Breakers   map[string]types.BreakerSnapshot `json:"breakers"`
	Budget     map[string]types.BudgetSnapshot  `json:"budget"`
	HotKeys    []types.HotKey                   `json:"hot_keys"`
	Revalidate refresh.RevalStats               `json:"revalidate"`
	Prefetch   refresh.PrefetchStats            `json:"prefetch"`
	CronJobs   []types.JobEntry                 `json:"cron_jobs,omitempty"`
}

func (s *Service) Status() Status {
	cfg := s.config.GetConfig()

	status := Status{
		Name:       cfg.Name,
		Version:    cfg.Version,
		Running:    s.IsRunning(),
		Cache:      s.store.Stats(),
		Flight:     s.flights.Snapshot(),
		Breakers:   s.breaker.Snapshot(),
		Budget:     s.budget.Snapshot(),
		HotKeys:    s.tracker.Hottest(10),
		Revalidate: s.revalidator.Stats(),
		Prefetch:   s.prefetcher.Stats(),
	}

	if s.cron != nil {
		status.CronJobs = s.cron.Jobs()
	}

	return status
}

// Metrics returns the serialized metrics document, or nil when metrics are
// disabled.
func (s *Service) Metrics() ([]byte, error) {
	if s.metrics == nil {
		return nil, types.ErrMetricsIsDisabled
	}
	return s.metrics.GetMetrics()
}

func (s *Service) registerJobs() error {
	cfg := s.config.GetConfig().Cron

	if cfg.SweepSpec != "" {
		if err := s.cron.Add(sweepJobName, cfg.SweepSpec, func() {
			s.Sweep()
		}); err != nil {
			return err
		}
	}

	if cfg.PrefetchSpec != "" {
		if err := s.cron.Add(prefetchJobName, cfg.PrefetchSpec, func() {
			s.prefetcher.Tick(s.ctx)
		}); err != nil {
			return err
		}
	}

	return nil
}

func (s *Service) countRequest(route, result string) {
	if s.metrics == nil {
		return
	}

	s.metrics.Counter("requests_total", map[string]string{
		"route":  route,
		"result": result,
	}).Inc()
}

func (s *Service) observeDispatch(duration time.Duration, err error) {
	if s.metrics == nil {
		return
	}

	result := "success"
	if err != nil {
		result = "error"
	}

	s.metrics.Histogram("dispatch_duration_seconds",
		[]float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		map[string]string{"result": result},
	).Observe(duration.Seconds())
}

func (s *Service) getState() State {
	return s.state.Load().(State)
}

func (s *Service) setState(newState State) bool {
	return s.state.CompareAndSwap(s.getState(), newState)
}

func (s *Service) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}

// validPage rejects malformed refresh results before they overwrite a good
// cache entry.
func validPage(page *types.Page) bool {
	return page != nil && page.Items != nil
}

func providersFromConfig(configs []types.ProviderConfig) []types.Provider {
	providers := make([]types.Provider, 0, len(configs))
	for _, cfg := range configs {
		providers = append(providers, types.Provider{
			Name:       cfg.Name,
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Cost:       cfg.Cost,
			DailyLimit: cfg.DailyLimit,
			Timeout:    cfg.Timeout,
		})
	}
	return providers
}

func intentFromParams(route string, params map[string]interface{}) types.Intent {
	intent := types.Intent{Route: route, Params: make(map[string]string, len(params))}

	for name, value := range params {
		text := cache.CanonicalParam(value)
		if text == "" {
			continue
		}

		switch name {
		case "q", "query":
			intent.Query = text
		case "country":
			intent.Country = text
		case "domains":
			intent.Domains = append(intent.Domains, splitCSV(text)...)
		default:
			intent.Params[name] = text
		}
	}

	return intent
}

func splitCSV(text string) []string {
	var parts []string
	start := 0
	for i := 0; i <= len(text); i++ {
		if i == len(text) || text[i] == ',' {
			if part := text[start:i]; part != "" {
				parts = append(parts, part)
			}
			start = i + 1
		}
	}
	return parts
}
