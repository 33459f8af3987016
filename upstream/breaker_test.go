package upstream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-newscache/logger"
	"github.com/saiset-co/sai-newscache/types"
)

func newTestBreaker(config *types.BreakerConfig) (*BreakerRegistry, *time.Time) {
	if config == nil {
		config = &types.BreakerConfig{
			Enabled:          true,
			FailureBurst:     3,
			BaseOpenDuration: 30 * time.Second,
			MaxOpenDuration:  10 * time.Minute,
		}
	}

	breaker := NewBreakerRegistry(logger.NewNopLogger(), config)

	current := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	breaker.now = func() time.Time { return current }

	return breaker, &current
}

func TestBreakerDisabledAlwaysAllows(t *testing.T) {
	breaker, _ := newTestBreaker(&types.BreakerConfig{Enabled: false})

	for i := 0; i < 10; i++ {
		breaker.OnFailure("api", 500)
	}

	assert.True(t, breaker.AllowRequest("api"))
}

func TestBreakerOpensAfterFailureBurst(t *testing.T) {
	breaker, _ := newTestBreaker(nil)

	breaker.OnFailure("api", 500)
	breaker.OnFailure("api", 500)
	assert.True(t, breaker.AllowRequest("api"))

	breaker.OnFailure("api", 500)
	assert.False(t, breaker.AllowRequest("api"))

	snapshot := breaker.Snapshot()["api"]
	assert.Equal(t, "open", snapshot.State)
	assert.Equal(t, uint64(1), snapshot.OpenedCount)
}

func TestBreaker422NotCounted(t *testing.T) {
	breaker, _ := newTestBreaker(nil)

	for i := 0; i < 10; i++ {
		breaker.OnFailure("api", 422)
	}

	assert.True(t, breaker.AllowRequest("api"))
	assert.Equal(t, "closed", breaker.Snapshot()["api"].State)
}

func TestBreakerHalfOpenSingleProbe(t *testing.T) {
	breaker, clock := newTestBreaker(nil)

	for i := 0; i < 3; i++ {
		breaker.OnFailure("api", 500)
	}
	require.False(t, breaker.AllowRequest("api"))

	*clock = clock.Add(31 * time.Second)

	// The transitioning call takes the probe slot; the follower is refused.
	assert.True(t, breaker.AllowRequest("api"))
	assert.False(t, breaker.AllowRequest("api"))
	assert.Equal(t, "half-open", breaker.Snapshot()["api"].State)
}

func TestBreakerProbeSuccessCloses(t *testing.T) {
	breaker, clock := newTestBreaker(nil)

	for i := 0; i < 3; i++ {
		breaker.OnFailure("api", 500)
	}
	*clock = clock.Add(31 * time.Second)
	require.True(t, breaker.AllowRequest("api"))

	breaker.OnSuccess("api")

	snapshot := breaker.Snapshot()["api"]
	assert.Equal(t, "closed", snapshot.State)
	assert.Equal(t, 0, snapshot.Failures)
	assert.Equal(t, 30*time.Second, snapshot.OpenDuration)
	assert.True(t, breaker.AllowRequest("api"))
}

func TestBreakerProbeFailureDoublesBackoff(t *testing.T) {
	breaker, clock := newTestBreaker(nil)

	for i := 0; i < 3; i++ {
		breaker.OnFailure("api", 500)
	}
	*clock = clock.Add(31 * time.Second)
	require.True(t, breaker.AllowRequest("api"))

	breaker.OnFailure("api", 500)

	snapshot := breaker.Snapshot()["api"]
	assert.Equal(t, "open", snapshot.State)
	assert.Equal(t, 60*time.Second, snapshot.OpenDuration)

	// Still open at the old backoff boundary.
	*clock = clock.Add(31 * time.Second)
	assert.False(t, breaker.AllowRequest("api"))

	*clock = clock.Add(30 * time.Second)
	assert.True(t, breaker.AllowRequest("api"))
}

func TestBreakerProbe422SettlesBackToOpen(t *testing.T) {
	breaker, clock := newTestBreaker(nil)

	for i := 0; i < 3; i++ {
		breaker.OnFailure("api", 500)
	}
	*clock = clock.Add(31 * time.Second)
	require.True(t, breaker.AllowRequest("api"))

	// A 422 answered to the probe carries no health signal, but it must
	// settle the slot or the breaker stays half-open forever.
	breaker.OnFailure("api", 422)

	snapshot := breaker.Snapshot()["api"]
	assert.Equal(t, "open", snapshot.State)
	assert.Equal(t, 30*time.Second, snapshot.OpenDuration)
	assert.False(t, breaker.AllowRequest("api"))

	// The next window grants a fresh probe; a success closes normally.
	*clock = clock.Add(31 * time.Second)
	require.True(t, breaker.AllowRequest("api"))
	breaker.OnSuccess("api")
	assert.Equal(t, "closed", breaker.Snapshot()["api"].State)
}

func TestBreakerBackoffCappedAtMax(t *testing.T) {
	breaker, clock := newTestBreaker(&types.BreakerConfig{
		Enabled:          true,
		FailureBurst:     1,
		BaseOpenDuration: 30 * time.Second,
		MaxOpenDuration:  60 * time.Second,
	})

	breaker.OnFailure("api", 500)

	for i := 0; i < 5; i++ {
		*clock = clock.Add(2 * time.Minute)
		require.True(t, breaker.AllowRequest("api"))
		breaker.OnFailure("api", 500)
	}

	assert.Equal(t, 60*time.Second, breaker.Snapshot()["api"].OpenDuration)
}

func TestBreakerIsolatesUpstreams(t *testing.T) {
	breaker, _ := newTestBreaker(nil)

	for i := 0; i < 3; i++ {
		breaker.OnFailure("bad", 500)
	}

	assert.False(t, breaker.AllowRequest("bad"))
	assert.True(t, breaker.AllowRequest("good"))
}
