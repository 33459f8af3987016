package upstream

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-newscache/types"
	"github.com/saiset-co/sai-newscache/utils"
)

// HTTPFetcher is the default provider transport. One Fetch is one bounded
// HTTP attempt; retry policy belongs to the dispatcher, not the transport.
type HTTPFetcher struct {
	logger  types.Logger
	client  *fasthttp.Client
	timeout time.Duration
}

func NewHTTPFetcher(logger types.Logger, timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}

	return &HTTPFetcher{
		logger:  logger,
		timeout: timeout,
		client: &fasthttp.Client{
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		},
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, provider types.Provider, intent types.Intent) (*types.FetchResult, error) {
	requestURL := buildRequestURL(provider, intent)

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(requestURL)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")
	if provider.APIKey != "" {
		req.Header.Set("X-Api-Key", provider.APIKey)
	}

	timeout := f.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return nil, types.ErrUpstreamTimeout
	}

	if err := f.client.DoTimeout(req, resp, timeout); err != nil {
		if types.IsError(err, fasthttp.ErrTimeout) {
			return nil, types.Errorf(types.ErrUpstreamTimeout, "provider %s", provider.Name)
		}
		return nil, types.WrapError(err, "provider request failed")
	}

	body := make([]byte, len(resp.Body()))
	copy(body, resp.Body())

	return &types.FetchResult{
		StatusCode: resp.StatusCode(),
		Body:       body,
		URL:        requestURL,
		RetryAfter: parseRetryAfter(resp),
	}, nil
}

// buildRequestURL is the fallback when a provider ships no URL builder; it
// maps the intent onto conventional query parameters.
func buildRequestURL(provider types.Provider, intent types.Intent) string {
	if provider.BuildURL != nil {
		return provider.BuildURL(intent)
	}

	values := url.Values{}
	if intent.Query != "" {
		values.Set("q", intent.Query)
	}
	if intent.Country != "" {
		values.Set("country", intent.Country)
	}
	if len(intent.Domains) > 0 {
		values.Set("domains", strings.Join(intent.Domains, ","))
	}
	for key, value := range intent.Params {
		values.Set(key, value)
	}

	base := strings.TrimSuffix(provider.BaseURL, "/") + "/" + strings.TrimPrefix(intent.Route, "/")
	if encoded := values.Encode(); encoded != "" {
		return base + "?" + encoded
	}
	return base
}

func parseRetryAfter(resp *fasthttp.Response) time.Duration {
	header := utils.BytesToString(resp.Header.Peek("Retry-After"))
	if header == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	return 0
}
