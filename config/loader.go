package config

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-newscache/types"
)

type Loader struct {
	validator *validator.Validate
}

func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// LoadFromFile reads and validates a yaml config. An empty path yields the
// defaults: the core must work with zero configuration.
func (l *Loader) LoadFromFile(configPath string) (*types.Config, error) {
	config := l.Defaults()

	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, types.WrapError(err, "file not found: "+configPath)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		data, err := l.readFileWithTimeout(ctx, configPath)
		if err != nil {
			return nil, types.WrapError(err, "failed to read config file")
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, types.WrapError(err, "failed to parse YAML config")
		}
	}

	applyEnvOverrides(config)

	if err := l.validator.Struct(config); err != nil {
		return nil, types.WrapError(err, "config validation failed")
	}

	return config, nil
}

func (l *Loader) readFileWithTimeout(ctx context.Context, filepath string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}

	resultChan := make(chan result, 1)

	go func() {
		data, err := os.ReadFile(filepath)
		resultChan <- result{data: data, err: err}
	}()

	select {
	case res := <-resultChan:
		return res.data, res.err
	case <-ctx.Done():
		return nil, types.WrapError(ctx.Err(), "file read timeout")
	}
}

func (l *Loader) Defaults() *types.Config {
	return &types.Config{
		Name:    "sai-newscache",
		Version: "0.1.0",
		Logger: &types.LoggerConfig{
			Level: "info",
		},
		Cache: &types.StoreConfig{
			Capacity:        2000,
			DefaultTTL:      90 * time.Second,
			DefaultStaleTTL: 600 * time.Second,
			NegativeTTL:     30 * time.Second,
		},
		L2: &types.L2Config{
			Enabled:       false,
			TTLMultiplier: 4,
			MaxTTL:        6 * time.Hour,
			Backfill:      true,
		},
		Breaker: &types.BreakerConfig{
			Enabled:          true,
			FailureBurst:     3,
			BaseOpenDuration: 30 * time.Second,
			MaxOpenDuration:  10 * time.Minute,
		},
		Cooldown: &types.CooldownConfig{
			Min: 10 * time.Second,
			Max: 120 * time.Second,
		},
		Adaptive: &types.AdaptiveConfig{
			Enabled:       true,
			Alpha:         0.3,
			HotRate:       10,
			ColdRate:      0.5,
			SuppressRate:  0.05,
			HotBoost:      2.0,
			ColdReduce:    0.5,
			LongGapCutoff: 10 * time.Minute,
			MaxKeys:       5000,
		},
		Revalidate: &types.RevalidateConfig{
			Enabled:       true,
			Threshold:     20 * time.Second,
			MinInterval:   30 * time.Second,
			MaxConcurrent: 4,
		},
		Prefetch: &types.PrefetchConfig{
			Enabled:         true,
			MaxBatch:        3,
			SampleSize:      20,
			FreshThreshold:  30 * time.Second,
			MinInterval:     60 * time.Second,
			TickCooldown:    15 * time.Second,
			ErrorWindow:     2 * time.Minute,
			ErrorBurst:      5,
			SuspendDuration: 5 * time.Minute,
		},
		Dispatch: &types.DispatchConfig{
			Timeout: 8 * time.Second,
			Retries: 0,
		},
		Metrics: &types.MetricsConfig{
			Enabled: true,
			Type:    "memory",
		},
		Cron: &types.CronConfig{
			Enabled:      false,
			Timezone:     "UTC",
			SweepSpec:    "0 */5 * * * *",
			PrefetchSpec: "*/20 * * * * *",
		},
	}
}

// applyEnvOverrides lets deployments tune the core without shipping a file.
func applyEnvOverrides(config *types.Config) {
	envBool("NEWSCACHE_L2_ENABLED", &config.L2.Enabled)
	envString("NEWSCACHE_L2_KEY_PREFIX", &config.L2.KeyPrefix)
	envFloat("NEWSCACHE_L2_TTL_MULTIPLIER", &config.L2.TTLMultiplier)
	envInt("NEWSCACHE_CACHE_CAPACITY", &config.Cache.Capacity)
	envDuration("NEWSCACHE_CACHE_TTL", &config.Cache.DefaultTTL)
	envDuration("NEWSCACHE_CACHE_STALE_TTL", &config.Cache.DefaultStaleTTL)
	envBool("NEWSCACHE_BREAKER_ENABLED", &config.Breaker.Enabled)
	envInt("NEWSCACHE_BREAKER_FAILURE_BURST", &config.Breaker.FailureBurst)
	envDuration("NEWSCACHE_BREAKER_BASE_OPEN", &config.Breaker.BaseOpenDuration)
	envBool("NEWSCACHE_ADAPTIVE_ENABLED", &config.Adaptive.Enabled)
	envBool("NEWSCACHE_REVALIDATE_ENABLED", &config.Revalidate.Enabled)
	envInt("NEWSCACHE_REVALIDATE_MAX_CONCURRENT", &config.Revalidate.MaxConcurrent)
	envDuration("NEWSCACHE_REVALIDATE_MIN_INTERVAL", &config.Revalidate.MinInterval)
	envBool("NEWSCACHE_PREFETCH_ENABLED", &config.Prefetch.Enabled)
	envInt("NEWSCACHE_PREFETCH_MAX_BATCH", &config.Prefetch.MaxBatch)
	envDuration("NEWSCACHE_DISPATCH_TIMEOUT", &config.Dispatch.Timeout)
	envString("NEWSCACHE_LOG_LEVEL", &config.Logger.Level)
}

func envString(key string, target *string) {
	if value := os.Getenv(key); value != "" {
		*target = value
	}
}

func envBool(key string, target *bool) {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func envInt(key string, target *int) {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func envFloat(key string, target *float64) {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func envDuration(key string, target *time.Duration) {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			*target = parsed
		}
	}
}
