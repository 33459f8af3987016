package types

import (
	"time"
)

type ConfigManager interface {
	Load() error
	GetConfig() *Config
}

type Config struct {
	Name       string            `yaml:"name" json:"name" validate:"required"`
	Version    string            `yaml:"version" json:"version"`
	Logger     *LoggerConfig     `yaml:"logger" json:"logger"`
	Cache      *StoreConfig      `yaml:"cache" json:"cache"`
	L2         *L2Config         `yaml:"l2" json:"l2"`
	Breaker    *BreakerConfig    `yaml:"breaker" json:"breaker"`
	Cooldown   *CooldownConfig   `yaml:"cooldown" json:"cooldown"`
	Adaptive   *AdaptiveConfig   `yaml:"adaptive" json:"adaptive"`
	Revalidate *RevalidateConfig `yaml:"revalidate" json:"revalidate"`
	Prefetch   *PrefetchConfig   `yaml:"prefetch" json:"prefetch"`
	Dispatch   *DispatchConfig   `yaml:"dispatch" json:"dispatch"`
	Metrics    *MetricsConfig    `yaml:"metrics" json:"metrics"`
	Cron       *CronConfig       `yaml:"cron" json:"cron"`
	Providers  []ProviderConfig  `yaml:"providers" json:"providers"`
}

type LoggerConfig struct {
	Type   string      `yaml:"type" json:"type"`
	Level  string      `yaml:"level" json:"level"`
	Config interface{} `yaml:"config" json:"config"`
}

type StoreConfig struct {
	Capacity        int           `yaml:"capacity" json:"capacity" validate:"min=0"`
	DefaultTTL      time.Duration `yaml:"default_ttl" json:"default_ttl" validate:"min=0"`
	DefaultStaleTTL time.Duration `yaml:"default_stale_ttl" json:"default_stale_ttl" validate:"min=0"`
	NegativeTTL     time.Duration `yaml:"negative_ttl" json:"negative_ttl" validate:"min=0"`
}

type L2Config struct {
	Enabled       bool              `yaml:"enabled" json:"enabled"`
	KeyPrefix     string            `yaml:"key_prefix" json:"key_prefix"`
	TTLMultiplier float64           `yaml:"ttl_multiplier" json:"ttl_multiplier"`
	MaxTTL        time.Duration     `yaml:"max_ttl" json:"max_ttl"`
	Backfill      bool              `yaml:"backfill" json:"backfill"`
	Backends      []L2BackendConfig `yaml:"backends" json:"backends"`
}

type L2BackendConfig struct {
	Type   string      `yaml:"type" json:"type" validate:"required"`
	Config interface{} `yaml:"config" json:"config"`
}

type BreakerConfig struct {
	Enabled          bool          `yaml:"enabled" json:"enabled"`
	FailureBurst     int           `yaml:"failure_burst" json:"failure_burst" validate:"min=0"`
	BaseOpenDuration time.Duration `yaml:"base_open_duration" json:"base_open_duration"`
	MaxOpenDuration  time.Duration `yaml:"max_open_duration" json:"max_open_duration"`
}

type CooldownConfig struct {
	Min time.Duration `yaml:"min" json:"min"`
	Max time.Duration `yaml:"max" json:"max"`
}

type AdaptiveConfig struct {
	Enabled       bool          `yaml:"enabled" json:"enabled"`
	Alpha         float64       `yaml:"alpha" json:"alpha"`
	HotRate       float64       `yaml:"hot_rate" json:"hot_rate"`
	ColdRate      float64       `yaml:"cold_rate" json:"cold_rate"`
	SuppressRate  float64       `yaml:"suppress_rate" json:"suppress_rate"`
	HotBoost      float64       `yaml:"hot_boost" json:"hot_boost"`
	ColdReduce    float64       `yaml:"cold_reduce" json:"cold_reduce"`
	LongGapCutoff time.Duration `yaml:"long_gap_cutoff" json:"long_gap_cutoff"`
	MaxKeys       int           `yaml:"max_keys" json:"max_keys" validate:"min=0"`
}

type RevalidateConfig struct {
	Enabled       bool          `yaml:"enabled" json:"enabled"`
	Threshold     time.Duration `yaml:"threshold" json:"threshold"`
	MinInterval   time.Duration `yaml:"min_interval" json:"min_interval"`
	MaxConcurrent int           `yaml:"max_concurrent" json:"max_concurrent" validate:"min=0"`
}

type PrefetchConfig struct {
	Enabled         bool          `yaml:"enabled" json:"enabled"`
	MaxBatch        int           `yaml:"max_batch" json:"max_batch" validate:"min=0"`
	SampleSize      int           `yaml:"sample_size" json:"sample_size" validate:"min=0"`
	FreshThreshold  time.Duration `yaml:"fresh_threshold" json:"fresh_threshold"`
	MinInterval     time.Duration `yaml:"min_interval" json:"min_interval"`
	TickCooldown    time.Duration `yaml:"tick_cooldown" json:"tick_cooldown"`
	ErrorWindow     time.Duration `yaml:"error_window" json:"error_window"`
	ErrorBurst      int           `yaml:"error_burst" json:"error_burst" validate:"min=0"`
	SuspendDuration time.Duration `yaml:"suspend_duration" json:"suspend_duration"`
}

type DispatchConfig struct {
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	Retries int           `yaml:"retries" json:"retries" validate:"min=0"`
}

type MetricsConfig struct {
	Enabled bool        `yaml:"enabled" json:"enabled"`
	Type    string      `yaml:"type" json:"type"`
	Config  interface{} `yaml:"config" json:"config"`
}

type CronConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	Timezone     string `yaml:"timezone" json:"timezone"`
	SweepSpec    string `yaml:"sweep_spec" json:"sweep_spec"`
	PrefetchSpec string `yaml:"prefetch_spec" json:"prefetch_spec"`
}

type ProviderConfig struct {
	Name       string        `yaml:"name" json:"name" validate:"required"`
	BaseURL    string        `yaml:"base_url" json:"base_url"`
	APIKey     string        `yaml:"api_key" json:"api_key"`
	Cost       int           `yaml:"cost" json:"cost"`
	DailyLimit int           `yaml:"daily_limit" json:"daily_limit"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
}
