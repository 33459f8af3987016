package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-newscache/types"
	"github.com/saiset-co/sai-newscache/utils"
)

type RedisBackendConfig struct {
	Host               string        `json:"host"`
	Port               int           `json:"port"`
	Password           string        `json:"password"`
	DB                 int           `json:"db"`
	PoolSize           int           `json:"pool_size"`
	MinIdleConnections int           `json:"min_idle_connections"`
	DialTimeout        time.Duration `json:"dial_timeout"`
	ReadTimeout        time.Duration `json:"read_timeout"`
	WriteTimeout       time.Duration `json:"write_timeout"`
}

// RedisBackend is the managed key-value L2 tier. Redis owns expiry, so
// values are stored raw with a server-side TTL.
type RedisBackend struct {
	ctx       context.Context
	logger    types.Logger
	config    *RedisBackendConfig
	client    *redis.Client
	available atomic.Bool
	started   int32
}

func NewRedisBackend(ctx context.Context, logger types.Logger, config *types.L2BackendConfig) (types.L2Backend, error) {
	redisConfig := &RedisBackendConfig{
		Host:               "localhost",
		Port:               6379,
		DB:                 0,
		PoolSize:           10,
		MinIdleConnections: 2,
		DialTimeout:        5 * time.Second,
		ReadTimeout:        3 * time.Second,
		WriteTimeout:       3 * time.Second,
	}

	if config.Config != nil {
		if err := utils.UnmarshalConfig(config.Config, redisConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal redis backend config")
		}
	}

	backend := &RedisBackend{
		ctx:    ctx,
		logger: logger,
		config: redisConfig,
	}

	backend.client = redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", redisConfig.Host, redisConfig.Port),
		Password:     redisConfig.Password,
		DB:           redisConfig.DB,
		PoolSize:     redisConfig.PoolSize,
		MinIdleConns: redisConfig.MinIdleConnections,
		DialTimeout:  redisConfig.DialTimeout,
		ReadTimeout:  redisConfig.ReadTimeout,
		WriteTimeout: redisConfig.WriteTimeout,
	})

	if err := backend.ping(); err != nil {
		return nil, types.WrapError(err, "failed to connect to redis")
	}

	backend.available.Store(true)

	return backend, nil
}

func (r *RedisBackend) Name() string { return "redis" }

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	result, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if types.IsError(err, redis.Nil) {
			return nil, false, nil
		}
		r.available.Store(false)
		return nil, false, types.WrapError(err, "redis get failed")
	}

	r.available.Store(true)
	return result, true, nil
}

func (r *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		r.available.Store(false)
		return types.WrapError(err, "redis set failed")
	}

	r.available.Store(true)
	return nil
}

// Available reflects the last observed connection state; a failed probe is
// retried by the next Start or successful operation.
func (r *RedisBackend) Available() bool {
	return r.available.Load()
}

func (r *RedisBackend) Start() error {
	if !atomic.CompareAndSwapInt32(&r.started, 0, 1) {
		return nil
	}

	if err := r.ping(); err != nil {
		r.available.Store(false)
		r.logger.Warn("Redis backend unreachable at start", zap.Error(err))
	} else {
		r.available.Store(true)
	}

	r.logger.Info("Redis l2 backend started")
	return nil
}

func (r *RedisBackend) Stop() error {
	if !atomic.CompareAndSwapInt32(&r.started, 1, 0) {
		return nil
	}

	r.available.Store(false)

	if r.client != nil {
		if err := r.client.Close(); err != nil {
			return types.WrapError(err, "failed to close redis client")
		}
	}

	r.logger.Info("Redis l2 backend stopped")
	return nil
}

func (r *RedisBackend) IsRunning() bool {
	return atomic.LoadInt32(&r.started) == 1
}

func (r *RedisBackend) ping() error {
	ctx, cancel := context.WithTimeout(r.ctx, 5*time.Second)
	defer cancel()

	return r.client.Ping(ctx).Err()
}
