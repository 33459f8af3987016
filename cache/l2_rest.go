package cache

import (
	"context"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-newscache/types"
	"github.com/saiset-co/sai-newscache/utils"
)

type RestBackendConfig struct {
	BaseURL   string        `json:"base_url"`
	AuthToken string        `json:"auth_token"`
	Timeout   time.Duration `json:"timeout"`
}

// RestBackend talks to a remote key-value store over its REST API
// (GET/PUT {base_url}/kv/{key}). Used for hosted KV services that expose
// no native client protocol.
type RestBackend struct {
	logger    types.Logger
	config    *RestBackendConfig
	client    *fasthttp.Client
	available atomic.Bool
	started   int32
}

func NewRestBackend(logger types.Logger, config *types.L2BackendConfig) (types.L2Backend, error) {
	restConfig := &RestBackendConfig{
		Timeout: 3 * time.Second,
	}

	if config.Config != nil {
		if err := utils.UnmarshalConfig(config.Config, restConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal rest backend config")
		}
	}

	if restConfig.BaseURL == "" {
		return nil, types.Errorf(types.ErrL2Unavailable, "rest backend requires base_url")
	}

	backend := &RestBackend{
		logger: logger,
		config: restConfig,
		client: &fasthttp.Client{
			ReadTimeout:  restConfig.Timeout,
			WriteTimeout: restConfig.Timeout,
		},
	}

	backend.available.Store(true)

	return backend, nil
}

func (b *RestBackend) Name() string { return "rest" }

func (b *RestBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(b.keyURL(key))
	req.Header.SetMethod(fasthttp.MethodGet)
	b.setAuth(req)

	if err := b.client.DoTimeout(req, resp, b.config.Timeout); err != nil {
		b.available.Store(false)
		return nil, false, types.WrapError(err, "rest get failed")
	}

	b.available.Store(true)

	switch resp.StatusCode() {
	case fasthttp.StatusOK:
		body := make([]byte, len(resp.Body()))
		copy(body, resp.Body())
		return body, true, nil
	case fasthttp.StatusNotFound:
		return nil, false, nil
	default:
		return nil, false, types.NewErrorf("rest get unexpected status %d", resp.StatusCode())
	}
}

func (b *RestBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(fmt.Sprintf("%s?ttl=%d", b.keyURL(key), int(ttl.Seconds())))
	req.Header.SetMethod(fasthttp.MethodPut)
	req.Header.SetContentType("application/octet-stream")
	req.SetBody(value)
	b.setAuth(req)

	if err := b.client.DoTimeout(req, resp, b.config.Timeout); err != nil {
		b.available.Store(false)
		return types.WrapError(err, "rest set failed")
	}

	b.available.Store(true)

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return types.NewErrorf("rest set unexpected status %d", resp.StatusCode())
	}

	return nil
}

func (b *RestBackend) Available() bool {
	return b.available.Load()
}

func (b *RestBackend) Start() error {
	if !atomic.CompareAndSwapInt32(&b.started, 0, 1) {
		return nil
	}

	b.available.Store(true)
	b.logger.Info("REST l2 backend started", zap.String("base_url", b.config.BaseURL))
	return nil
}

func (b *RestBackend) Stop() error {
	if !atomic.CompareAndSwapInt32(&b.started, 1, 0) {
		return nil
	}

	b.available.Store(false)
	b.logger.Info("REST l2 backend stopped")
	return nil
}

func (b *RestBackend) IsRunning() bool {
	return atomic.LoadInt32(&b.started) == 1
}

func (b *RestBackend) keyURL(key string) string {
	return fmt.Sprintf("%s/kv/%s", b.config.BaseURL, url.PathEscape(key))
}

func (b *RestBackend) setAuth(req *fasthttp.Request) {
	if b.config.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+b.config.AuthToken)
	}
}
