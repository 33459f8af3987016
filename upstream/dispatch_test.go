package upstream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-newscache/logger"
	"github.com/saiset-co/sai-newscache/types"
)

var pageBody = []byte(`{"items":[{"title":"t","url":"u","source":"s"}]}`)

type fakeFetcher struct {
	results map[string]*types.FetchResult
	errs    map[string]error
	calls   []string
}

func (f *fakeFetcher) Fetch(_ context.Context, provider types.Provider, _ types.Intent) (*types.FetchResult, error) {
	f.calls = append(f.calls, provider.Name)

	if err, exists := f.errs[provider.Name]; exists {
		return nil, err
	}

	if result, exists := f.results[provider.Name]; exists {
		return result, nil
	}

	return &types.FetchResult{StatusCode: 200, Body: pageBody, URL: "http://" + provider.Name}, nil
}

type dispatchEnv struct {
	dispatcher *Dispatcher
	breaker    *BreakerRegistry
	budget     *BudgetTracker
	cooldown   *CooldownTracker
	fetcher    *fakeFetcher
}

func newDispatchEnv() *dispatchEnv {
	log := logger.NewNopLogger()

	breaker := NewBreakerRegistry(log, &types.BreakerConfig{
		Enabled:          true,
		FailureBurst:     3,
		BaseOpenDuration: 30 * time.Second,
		MaxOpenDuration:  10 * time.Minute,
	})
	budget := NewBudgetTracker()
	cooldown := NewCooldownTracker(log, nil)
	fetcher := &fakeFetcher{
		results: make(map[string]*types.FetchResult),
		errs:    make(map[string]error),
	}

	return &dispatchEnv{
		dispatcher: NewDispatcher(log, nil, breaker, budget, cooldown, fetcher),
		breaker:    breaker,
		budget:     budget,
		cooldown:   cooldown,
		fetcher:    fetcher,
	}
}

func provider(name string) types.Provider {
	return types.Provider{Name: name, BaseURL: "http://" + name, Cost: 1}
}

func TestDispatchNoProviders(t *testing.T) {
	env := newDispatchEnv()

	_, err := env.dispatcher.Dispatch(context.Background(), nil, types.Intent{})
	assert.ErrorIs(t, err, types.ErrNoProviders)
}

func TestDispatchFirstProviderWins(t *testing.T) {
	env := newDispatchEnv()

	result, err := env.dispatcher.Dispatch(context.Background(),
		[]types.Provider{provider("a"), provider("b")}, types.Intent{})

	require.NoError(t, err)
	assert.Equal(t, "a", result.Provider)
	require.NotNil(t, result.Page)
	assert.Len(t, result.Page.Items, 1)
	assert.Equal(t, []string{"a"}, env.fetcher.calls)
	assert.Len(t, result.Attempts, 1)
}

func TestDispatchFallsThroughOnError(t *testing.T) {
	env := newDispatchEnv()
	env.fetcher.errs["a"] = errors.New("connection refused")

	result, err := env.dispatcher.Dispatch(context.Background(),
		[]types.Provider{provider("a"), provider("b")}, types.Intent{})

	require.NoError(t, err)
	assert.Equal(t, "b", result.Provider)
	require.Len(t, result.Attempts, 2)
	assert.Contains(t, result.Attempts[0].Error, "connection refused")
	assert.Empty(t, result.Attempts[1].Error)
}

func TestDispatchAggregatesWhenAllFail(t *testing.T) {
	env := newDispatchEnv()
	env.fetcher.errs["a"] = errors.New("down")
	env.fetcher.results["b"] = &types.FetchResult{StatusCode: 503}

	_, err := env.dispatcher.Dispatch(context.Background(),
		[]types.Provider{provider("a"), provider("b")}, types.Intent{})

	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrUpstreamFailed)

	var dispatchErr *types.DispatchError
	require.ErrorAs(t, err, &dispatchErr)
	assert.Len(t, dispatchErr.Attempts, 2)
}

func TestDispatchCooldownGateSkips(t *testing.T) {
	env := newDispatchEnv()
	env.cooldown.Set("a", 60*time.Second)

	result, err := env.dispatcher.Dispatch(context.Background(),
		[]types.Provider{provider("a"), provider("b")}, types.Intent{})

	require.NoError(t, err)
	assert.Equal(t, "b", result.Provider)
	assert.Equal(t, []string{"b"}, env.fetcher.calls)
	assert.Equal(t, "cooldown", result.Attempts[0].Skipped)
}

func TestDispatchBreakerGateSkips(t *testing.T) {
	env := newDispatchEnv()
	for i := 0; i < 3; i++ {
		env.breaker.OnFailure("a", 500)
	}

	result, err := env.dispatcher.Dispatch(context.Background(),
		[]types.Provider{provider("a"), provider("b")}, types.Intent{})

	require.NoError(t, err)
	assert.Equal(t, "b", result.Provider)
	assert.Equal(t, "breaker-open", result.Attempts[0].Skipped)
}

func TestDispatchBudgetGateSkips(t *testing.T) {
	env := newDispatchEnv()

	limited := provider("a")
	limited.DailyLimit = 5
	env.budget.Spend("a", 5)

	result, err := env.dispatcher.Dispatch(context.Background(),
		[]types.Provider{limited, provider("b")}, types.Intent{})

	require.NoError(t, err)
	assert.Equal(t, "b", result.Provider)
	assert.Contains(t, result.Attempts[0].Skipped, "daily budget exhausted")
}

func TestDispatchSpendsBudgetOnFailedAttempt(t *testing.T) {
	env := newDispatchEnv()
	env.fetcher.results["a"] = &types.FetchResult{StatusCode: 500}

	_, err := env.dispatcher.Dispatch(context.Background(),
		[]types.Provider{provider("a")}, types.Intent{})

	require.Error(t, err)
	assert.Equal(t, 1, env.budget.UsedToday("a"))
}

func TestDispatch429SetsCooldownAndRetryAfter(t *testing.T) {
	env := newDispatchEnv()
	env.fetcher.results["a"] = &types.FetchResult{
		StatusCode: 429,
		RetryAfter: 45 * time.Second,
	}

	_, err := env.dispatcher.Dispatch(context.Background(),
		[]types.Provider{provider("a")}, types.Intent{})

	require.Error(t, err)
	assert.True(t, env.cooldown.IsCoolingDown("a"))

	var dispatchErr *types.DispatchError
	require.ErrorAs(t, err, &dispatchErr)
	assert.Equal(t, types.ErrRateLimited.Error(), dispatchErr.Attempts[0].Error)
	assert.Equal(t, 45*time.Second, dispatchErr.RetryAfter)
}

func TestDispatch422LeavesBreakerClosed(t *testing.T) {
	env := newDispatchEnv()
	env.fetcher.results["a"] = &types.FetchResult{StatusCode: 422}

	for i := 0; i < 5; i++ {
		_, err := env.dispatcher.Dispatch(context.Background(),
			[]types.Provider{provider("a")}, types.Intent{})
		require.Error(t, err)
	}

	assert.True(t, env.breaker.AllowRequest("a"))
}

func TestDispatchBreakerOpensAfterRepeatedFailures(t *testing.T) {
	env := newDispatchEnv()
	env.fetcher.results["a"] = &types.FetchResult{StatusCode: 500}

	for i := 0; i < 3; i++ {
		_, err := env.dispatcher.Dispatch(context.Background(),
			[]types.Provider{provider("a")}, types.Intent{})
		require.Error(t, err)
	}

	// Fourth round never reaches the fetcher.
	calls := len(env.fetcher.calls)
	_, err := env.dispatcher.Dispatch(context.Background(),
		[]types.Provider{provider("a")}, types.Intent{})
	require.Error(t, err)
	assert.Equal(t, calls, len(env.fetcher.calls))
}

func TestDispatchBudgetSkipPreservesProbeSlot(t *testing.T) {
	env := newDispatchEnv()

	current := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	env.breaker.now = func() time.Time { return current }

	limited := provider("a")
	limited.DailyLimit = 5

	for i := 0; i < 3; i++ {
		env.breaker.OnFailure("a", 500)
	}
	env.budget.Spend("a", 5)

	current = current.Add(31 * time.Second)

	// The budget refusal must not take the half-open probe slot.
	_, err := env.dispatcher.Dispatch(context.Background(),
		[]types.Provider{limited}, types.Intent{})
	require.Error(t, err)
	assert.Empty(t, env.fetcher.calls)
	assert.Equal(t, "open", env.breaker.Snapshot()["a"].State)

	// With budget headroom the probe runs and the 200 closes the breaker.
	result, err := env.dispatcher.Dispatch(context.Background(),
		[]types.Provider{provider("a")}, types.Intent{})
	require.NoError(t, err)
	require.NotNil(t, result.Page)
	assert.Equal(t, []string{"a"}, env.fetcher.calls)
	assert.Equal(t, "closed", env.breaker.Snapshot()["a"].State)
}

func TestDispatch422ProbeDoesNotStrandBreaker(t *testing.T) {
	env := newDispatchEnv()

	current := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	env.breaker.now = func() time.Time { return current }

	env.fetcher.results["a"] = &types.FetchResult{StatusCode: 500}
	for i := 0; i < 3; i++ {
		_, err := env.dispatcher.Dispatch(context.Background(),
			[]types.Provider{provider("a")}, types.Intent{})
		require.Error(t, err)
	}

	// A 422 answered to the probe sends the breaker back to open.
	env.fetcher.results["a"] = &types.FetchResult{StatusCode: 422}
	current = current.Add(31 * time.Second)
	_, err := env.dispatcher.Dispatch(context.Background(),
		[]types.Provider{provider("a")}, types.Intent{})
	require.Error(t, err)
	assert.Equal(t, "open", env.breaker.Snapshot()["a"].State)

	// The next window probes again and a healthy answer recovers.
	delete(env.fetcher.results, "a")
	current = current.Add(31 * time.Second)
	result, err := env.dispatcher.Dispatch(context.Background(),
		[]types.Provider{provider("a")}, types.Intent{})
	require.NoError(t, err)
	require.NotNil(t, result.Page)
	assert.Equal(t, "closed", env.breaker.Snapshot()["a"].State)
}

func TestDispatchCustomParse(t *testing.T) {
	env := newDispatchEnv()
	env.fetcher.results["a"] = &types.FetchResult{
		StatusCode: 200,
		Body:       []byte(`{"articles":[{"headline":"h"}]}`),
	}

	custom := provider("a")
	custom.Parse = func(body []byte) (*types.Page, error) {
		return &types.Page{Items: []types.Article{{Title: "h"}}}, nil
	}

	result, err := env.dispatcher.Dispatch(context.Background(),
		[]types.Provider{custom}, types.Intent{})

	require.NoError(t, err)
	assert.Equal(t, "h", result.Page.Items[0].Title)
}

func TestDispatchRetryAfterUsesCooldownHintForSkips(t *testing.T) {
	env := newDispatchEnv()
	env.cooldown.Set("a", 60*time.Second)

	_, err := env.dispatcher.Dispatch(context.Background(),
		[]types.Provider{provider("a")}, types.Intent{})

	var dispatchErr *types.DispatchError
	require.ErrorAs(t, err, &dispatchErr)
	assert.InDelta(t, float64(60*time.Second), float64(dispatchErr.RetryAfter), float64(time.Second))
}
