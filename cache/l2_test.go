package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-newscache/logger"
	"github.com/saiset-co/sai-newscache/types"
)

func newMemoryBridge(t *testing.T, config *types.L2Config) *Bridge {
	t.Helper()

	if config == nil {
		config = &types.L2Config{Enabled: true}
	}
	if len(config.Backends) == 0 {
		config.Backends = []types.L2BackendConfig{{Type: "memory"}}
	}

	bridge, err := NewBridge(context.Background(), logger.NewNopLogger(), config)
	require.NoError(t, err)
	require.True(t, bridge.Enabled())

	return bridge
}

func TestCodecSmallValueStaysRaw(t *testing.T) {
	encoded, err := encodeValue(payload{Value: "small"})
	require.NoError(t, err)
	assert.Equal(t, codecRaw, encoded[0])

	var decoded payload
	require.NoError(t, decodeValue(encoded, &decoded))
	assert.Equal(t, "small", decoded.Value)
}

func TestCodecLargeValueCompressed(t *testing.T) {
	large := payload{Value: strings.Repeat("breaking news ", 500)}

	encoded, err := encodeValue(large)
	require.NoError(t, err)
	assert.Equal(t, codecBrotli, encoded[0])
	assert.Less(t, len(encoded), compressThreshold*7)

	var decoded payload
	require.NoError(t, decodeValue(encoded, &decoded))
	assert.Equal(t, large.Value, decoded.Value)
}

func TestCodecRejectsUnknownTag(t *testing.T) {
	var decoded payload
	assert.Error(t, decodeValue([]byte{42, 'x'}, &decoded))
	assert.Error(t, decodeValue(nil, &decoded))
}

func TestMemoryBackendRoundTrip(t *testing.T) {
	backend, err := NewMemoryBackend(logger.NewNopLogger(), &types.L2BackendConfig{Type: "memory"})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, backend.Set(ctx, "k", []byte("v"), time.Minute))

	value, found, err := backend.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("v"), value)

	_, found, err = backend.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryBackendExpiry(t *testing.T) {
	backend, err := NewMemoryBackend(logger.NewNopLogger(), &types.L2BackendConfig{Type: "memory"})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, backend.Set(ctx, "k", []byte("v"), -time.Second))

	_, found, err := backend.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryBackendEvictsAtCapacity(t *testing.T) {
	backend, err := NewMemoryBackend(logger.NewNopLogger(), &types.L2BackendConfig{
		Type:   "memory",
		Config: &MemoryBackendConfig{MaxEntries: 2},
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, backend.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, backend.Set(ctx, "b", []byte("2"), 2*time.Minute))
	require.NoError(t, backend.Set(ctx, "c", []byte("3"), 3*time.Minute))

	// a carried the earliest expiry and goes first.
	_, found, _ := backend.Get(ctx, "a")
	assert.False(t, found)
	_, found, _ = backend.Get(ctx, "c")
	assert.True(t, found)
}

func TestBridgeDisabledWithoutConfig(t *testing.T) {
	bridge, err := NewBridge(context.Background(), logger.NewNopLogger(), nil)
	require.NoError(t, err)
	assert.False(t, bridge.Enabled())

	_, found := bridge.Get(context.Background(), "k")
	assert.False(t, found)

	ok, fail := bridge.Set(context.Background(), "k", []byte("v"), time.Minute)
	assert.Zero(t, ok)
	assert.Zero(t, fail)
}

func TestBridgeSkipsUnknownBackendType(t *testing.T) {
	bridge, err := NewBridge(context.Background(), logger.NewNopLogger(), &types.L2Config{
		Enabled:  true,
		Backends: []types.L2BackendConfig{{Type: "bogus"}},
	})
	require.NoError(t, err)
	assert.False(t, bridge.Enabled())
}

func TestBridgeRoundTripWithPrefix(t *testing.T) {
	bridge := newMemoryBridge(t, &types.L2Config{
		Enabled:   true,
		KeyPrefix: "news",
	})

	ctx := context.Background()
	ok, fail := bridge.Set(ctx, "k", []byte("v"), time.Minute)
	assert.Equal(t, 1, ok)
	assert.Zero(t, fail)

	value, found := bridge.Get(ctx, "k")
	require.True(t, found)
	assert.Equal(t, []byte("v"), value)

	// The raw key is invisible without the prefix.
	raw, rawFound, err := bridge.backends[0].Get(ctx, "news:k")
	require.NoError(t, err)
	require.True(t, rawFound)
	assert.Equal(t, []byte("v"), raw)
}

func TestBridgeTTLMultiplierClampedByMaxTTL(t *testing.T) {
	bridge := newMemoryBridge(t, &types.L2Config{
		Enabled:       true,
		TTLMultiplier: 10,
		MaxTTL:        time.Minute,
	})

	assert.Equal(t, time.Minute, bridge.effectiveTTL(30*time.Second))
	assert.Equal(t, 40*time.Second, bridge.effectiveTTL(4*time.Second))
}

func TestBridgeMultiplierBelowOneIgnored(t *testing.T) {
	bridge := newMemoryBridge(t, &types.L2Config{
		Enabled:       true,
		TTLMultiplier: 0.1,
	})

	assert.Equal(t, 30*time.Second, bridge.effectiveTTL(30*time.Second))
}

func TestStoreMirrorsToBridge(t *testing.T) {
	bridge := newMemoryBridge(t, nil)
	store := NewStore[payload](logger.NewNopLogger(), nil, bridge)

	require.NoError(t, store.Set("k", payload{Value: "v"}, time.Minute, 0))

	encoded, found := bridge.Get(context.Background(), "k")
	require.True(t, found)

	var decoded payload
	require.NoError(t, decodeValue(encoded, &decoded))
	assert.Equal(t, "v", decoded.Value)

	assert.Equal(t, uint64(1), store.Stats().L2PushOK)
}

func TestStoreNegativeNeverMirrored(t *testing.T) {
	bridge := newMemoryBridge(t, nil)
	store := NewStore[payload](logger.NewNopLogger(), nil, bridge)

	require.NoError(t, store.SetNegative("k", payload{}, time.Minute))

	_, found := bridge.Get(context.Background(), "k")
	assert.False(t, found)
}

func TestStoreServesFromL2OnLocalMiss(t *testing.T) {
	bridge := newMemoryBridge(t, &types.L2Config{
		Enabled:  true,
		Backfill: true,
	})

	writer := NewStore[payload](logger.NewNopLogger(), nil, bridge)
	require.NoError(t, writer.Set("k", payload{Value: "v"}, time.Minute, 0))

	// A second store sharing the bridge simulates a restarted process.
	reader := NewStore[payload](logger.NewNopLogger(), nil, bridge)

	got, found := reader.GetFreshOrL2(context.Background(), "k")
	require.True(t, found)
	assert.Equal(t, "v", got.Value)
	assert.Equal(t, uint64(1), reader.Stats().HitsL2)

	// Backfill made the entry local.
	_, found = reader.GetFresh("k")
	assert.True(t, found)
}
