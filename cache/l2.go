package cache

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-newscache/types"
)

var customL2Creators = make(map[string]types.L2BackendCreator)

// RegisterL2Backend makes a custom backend type available to NewBridge.
func RegisterL2Backend(backendType string, creator types.L2BackendCreator) {
	customL2Creators[backendType] = creator
}

// Bridge fans cache writes out to the configured distributed backends and
// consults them in order on reads. All backend failures are swallowed; the
// bridge never propagates an error to its caller.
type Bridge struct {
	logger   types.Logger
	config   *types.L2Config
	backends []types.L2Backend
}

func NewBridge(ctx context.Context, logger types.Logger, config *types.L2Config) (*Bridge, error) {
	if config == nil || !config.Enabled {
		return &Bridge{logger: logger, config: &types.L2Config{Enabled: false}}, nil
	}

	bridge := &Bridge{
		logger: logger,
		config: config,
	}

	for _, backendConfig := range config.Backends {
		var backend types.L2Backend
		var err error

		switch backendConfig.Type {
		case "memory":
			backend, err = NewMemoryBackend(logger, &backendConfig)
		case "redis":
			backend, err = NewRedisBackend(ctx, logger, &backendConfig)
		case "rest":
			backend, err = NewRestBackend(logger, &backendConfig)
		case "sqlite":
			backend, err = NewSqliteBackend(logger, &backendConfig)
		default:
			if creator, exists := customL2Creators[backendConfig.Type]; exists {
				backend, err = creator(backendConfig.Config)
			} else {
				err = types.Errorf(types.ErrL2BackendUnknown, "type: %s", backendConfig.Type)
			}
		}

		if err != nil {
			// A misconfigured backend must not take the cache down.
			logger.Warn("Skipping l2 backend",
				zap.String("type", backendConfig.Type),
				zap.Error(err))
			continue
		}

		bridge.backends = append(bridge.backends, backend)
	}

	return bridge, nil
}

func (b *Bridge) Enabled() bool {
	return b != nil && b.config.Enabled && len(b.backends) > 0
}

func (b *Bridge) Backfill() bool {
	return b.config.Backfill
}

// Get tries each backend in order and returns the first hit.
func (b *Bridge) Get(ctx context.Context, key string) ([]byte, bool) {
	if !b.Enabled() {
		return nil, false
	}

	fullKey := b.prefixed(key)

	for _, backend := range b.backends {
		if !backend.Available() {
			continue
		}

		value, found, err := backend.Get(ctx, fullKey)
		if err != nil {
			b.logger.Warn("L2 get failed",
				zap.String("backend", backend.Name()),
				zap.String("key", key),
				zap.Error(err))
			continue
		}

		if found {
			return value, true
		}
	}

	return nil, false
}

// Set writes to all available backends concurrently, best-effort. The
// effective TTL is the caller's TTL scaled by the configured multiplier so
// L2 outlives the in-process fresh window.
func (b *Bridge) Set(ctx context.Context, key string, value []byte, ttl time.Duration) (ok, fail int) {
	if !b.Enabled() {
		return 0, 0
	}

	fullKey := b.prefixed(key)
	effTTL := b.effectiveTTL(ttl)

	results := make([]error, len(b.backends))
	g, gCtx := errgroup.WithContext(ctx)

	for i, backend := range b.backends {
		if !backend.Available() {
			continue
		}

		i, backend := i, backend
		g.Go(func() error {
			results[i] = backend.Set(gCtx, fullKey, value, effTTL)
			return nil
		})
	}

	_ = g.Wait()

	for i, backend := range b.backends {
		if !backend.Available() {
			continue
		}
		if results[i] != nil {
			fail++
			b.logger.Warn("L2 set failed",
				zap.String("backend", backend.Name()),
				zap.String("key", key),
				zap.Error(results[i]))
		} else {
			ok++
		}
	}

	return ok, fail
}

func (b *Bridge) Start() error {
	for _, backend := range b.backends {
		if err := backend.Start(); err != nil {
			b.logger.Warn("L2 backend start failed",
				zap.String("backend", backend.Name()),
				zap.Error(err))
		}
	}
	return nil
}

func (b *Bridge) Stop() error {
	for _, backend := range b.backends {
		if err := backend.Stop(); err != nil {
			b.logger.Warn("L2 backend stop failed",
				zap.String("backend", backend.Name()),
				zap.Error(err))
		}
	}
	return nil
}

func (b *Bridge) effectiveTTL(ttl time.Duration) time.Duration {
	multiplier := b.config.TTLMultiplier
	if multiplier < 1 {
		multiplier = 1
	}

	effTTL := time.Duration(float64(ttl) * multiplier)
	if b.config.MaxTTL > 0 && effTTL > b.config.MaxTTL {
		effTTL = b.config.MaxTTL
	}

	return effTTL
}

func (b *Bridge) prefixed(key string) string {
	if b.config.KeyPrefix == "" {
		return key
	}
	return b.config.KeyPrefix + ":" + key
}
