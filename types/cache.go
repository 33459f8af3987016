package types

import (
	"context"
	"time"
)

// L2Backend is a single distributed backing tier. Values are opaque bytes,
// already serialized by the bridge; backends only store and retrieve them.
type L2Backend interface {
	LifecycleManager
	Name() string
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Available() bool
}

type L2BackendCreator func(config interface{}) (L2Backend, error)

type CacheStats struct {
	Puts         uint64 `json:"puts"`
	NegativePuts uint64 `json:"negative_puts"`
	HitsFresh    uint64 `json:"hits_fresh"`
	HitsStale    uint64 `json:"hits_stale"`
	HitsL2       uint64 `json:"hits_l2"`
	Misses       uint64 `json:"misses"`
	Evictions    uint64 `json:"evictions"`
	Size         int    `json:"size"`
	Capacity     int    `json:"capacity"`
	L2PushOK     uint64 `json:"l2_push_ok"`
	L2PushFail   uint64 `json:"l2_push_fail"`
}

// CacheInfo reports the remaining windows for an entry, floored at zero.
type CacheInfo struct {
	FreshFor time.Duration `json:"fresh_for"`
	StaleFor time.Duration `json:"stale_for"`
	Negative bool          `json:"negative"`
}

// Article is the normalized upstream item shape served to clients.
type Article struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Source      string `json:"source"`
	Author      string `json:"author,omitempty"`
	Summary     string `json:"summary,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	PublishedAt string `json:"published_at,omitempty"`
}

// Page is the cached payload envelope for article listings. The validation
// tags are attached by the HTTP layer and carried through unchanged.
type Page struct {
	Items        []Article              `json:"items"`
	Meta         map[string]interface{} `json:"meta,omitempty"`
	ETag         string                 `json:"__etag,omitempty"`
	LastModified string                 `json:"__lm,omitempty"`
}
