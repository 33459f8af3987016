package upstream

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-newscache/types"
	"github.com/saiset-co/sai-newscache/utils"
)

// Dispatcher resolves an intent against an ordered provider list. Breaker,
// budget and cooldown are pre-flight gates: a refused provider is skipped
// in favor of the next, and only a fully exhausted list is an error.
type Dispatcher struct {
	logger   types.Logger
	config   *types.DispatchConfig
	breaker  *BreakerRegistry
	budget   *BudgetTracker
	cooldown *CooldownTracker
	fetcher  types.Fetcher
}

func NewDispatcher(
	logger types.Logger,
	config *types.DispatchConfig,
	breaker *BreakerRegistry,
	budget *BudgetTracker,
	cooldown *CooldownTracker,
	fetcher types.Fetcher,
) *Dispatcher {
	if config == nil {
		config = &types.DispatchConfig{}
	}
	if config.Timeout <= 0 {
		config.Timeout = 8 * time.Second
	}
	if fetcher == nil {
		fetcher = NewHTTPFetcher(logger, config.Timeout)
	}

	return &Dispatcher{
		logger:   logger,
		config:   config,
		breaker:  breaker,
		budget:   budget,
		cooldown: cooldown,
		fetcher:  fetcher,
	}
}

// Dispatch tries providers in order until one yields a parseable page.
func (d *Dispatcher) Dispatch(ctx context.Context, providers []types.Provider, intent types.Intent) (*types.DispatchResult, error) {
	if len(providers) == 0 {
		return nil, types.ErrNoProviders
	}

	attempts := make([]types.Attempt, 0, len(providers))
	var retryAfter time.Duration

	for _, provider := range providers {
		attempt := types.Attempt{
			ID:       uuid.NewString(),
			Provider: provider.Name,
		}

		if skipped := d.preflight(provider); skipped != "" {
			attempt.Skipped = skipped
			attempts = append(attempts, attempt)
			if hint := d.cooldown.Remaining(provider.Name); hint > retryAfter {
				retryAfter = hint
			}
			continue
		}

		result, page, err := d.attempt(ctx, provider, intent, &attempt)
		attempts = append(attempts, attempt)

		if err != nil {
			if result != nil && result.RetryAfter > retryAfter {
				retryAfter = result.RetryAfter
			}
			continue
		}

		return &types.DispatchResult{
			Page:     page,
			Provider: provider.Name,
			URL:      result.URL,
			Raw:      result.Body,
			Attempts: attempts,
		}, nil
	}

	return nil, &types.DispatchError{Attempts: attempts, RetryAfter: retryAfter}
}

// preflight orders the gates so the breaker is consulted last. AllowRequest
// on a half-open breaker consumes the single probe slot, so every earlier
// gate must have passed before it is taken.
func (d *Dispatcher) preflight(provider types.Provider) string {
	if d.cooldown.IsCoolingDown(provider.Name) {
		return "cooldown"
	}

	if ok, reason := d.budget.CanSpend(provider.Name, provider.DailyLimit, provider.Cost); !ok {
		return reason
	}

	if !d.breaker.AllowRequest(provider.Name) {
		return "breaker-open"
	}

	return ""
}

func (d *Dispatcher) attempt(ctx context.Context, provider types.Provider, intent types.Intent, attempt *types.Attempt) (*types.FetchResult, *types.Page, error) {
	timeout := provider.Timeout
	if timeout <= 0 {
		timeout = d.config.Timeout
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := d.fetcher.Fetch(attemptCtx, provider, intent)
	attempt.Duration = time.Since(start)

	// The attempt itself consumes budget, succeed or fail.
	d.budget.Spend(provider.Name, provider.Cost)

	if err != nil {
		attempt.Error = err.Error()
		d.breaker.OnFailure(provider.Name, 0)
		d.logger.Warn("Provider attempt failed",
			zap.String("provider", provider.Name),
			zap.Error(err))
		return nil, nil, err
	}

	attempt.StatusCode = result.StatusCode
	attempt.URL = result.URL

	switch {
	case result.StatusCode == 429:
		d.cooldown.Set(provider.Name, result.RetryAfter)
		d.breaker.OnFailure(provider.Name, 429)
		attempt.Error = types.ErrRateLimited.Error()
		return result, nil, types.ErrRateLimited

	case result.StatusCode == 422:
		// Query problem; try the next variant, breaker untouched.
		attempt.Error = "unprocessable query"
		d.breaker.OnFailure(provider.Name, 422)
		return result, nil, types.Errorf(types.ErrUpstreamFailed, "status 422 from %s", provider.Name)

	case result.StatusCode < 200 || result.StatusCode >= 300:
		d.breaker.OnFailure(provider.Name, result.StatusCode)
		attempt.Error = "unexpected status"
		return result, nil, types.Errorf(types.ErrUpstreamFailed, "status %d from %s", result.StatusCode, provider.Name)
	}

	page, err := parsePage(provider, result.Body)
	if err != nil {
		d.breaker.OnFailure(provider.Name, result.StatusCode)
		attempt.Error = err.Error()
		return result, nil, err
	}

	d.breaker.OnSuccess(provider.Name)
	return result, page, nil
}

func parsePage(provider types.Provider, body []byte) (*types.Page, error) {
	if provider.Parse != nil {
		page, err := provider.Parse(body)
		if err != nil {
			return nil, types.WrapError(err, "provider parse failed")
		}
		if page == nil {
			return nil, types.ErrEmptyResult
		}
		return page, nil
	}

	var page types.Page
	if err := utils.Unmarshal(body, &page); err != nil {
		return nil, types.WrapError(err, "failed to decode provider response")
	}

	return &page, nil
}
