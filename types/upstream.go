package types

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Intent describes what the caller wants from an upstream, independent of
// any provider's URL scheme. Request building is the provider's business.
type Intent struct {
	Route   string            `json:"route"`
	Query   string            `json:"query,omitempty"`
	Country string            `json:"country,omitempty"`
	Domains []string          `json:"domains,omitempty"`
	Params  map[string]string `json:"params,omitempty"`
}

// Provider is one upstream news source. Cost is the budget units a single
// call consumes; DailyLimit <= 0 disables the budget gate for it.
type Provider struct {
	Name       string                           `json:"name"`
	BaseURL    string                           `json:"base_url"`
	APIKey     string                           `json:"-"`
	Cost       int                              `json:"cost"`
	DailyLimit int                              `json:"daily_limit"`
	Timeout    time.Duration                    `json:"timeout"`
	BuildURL   func(intent Intent) string       `json:"-"`
	Parse      func(body []byte) (*Page, error) `json:"-"`
}

// Fetcher performs one HTTP attempt against a provider.
type Fetcher interface {
	Fetch(ctx context.Context, provider Provider, intent Intent) (*FetchResult, error)
}

type FetchResult struct {
	StatusCode int
	Body       []byte
	URL        string
	RetryAfter time.Duration
}

// Attempt records one provider attempt for the aggregate error detail.
type Attempt struct {
	ID         string        `json:"id"`
	Provider   string        `json:"provider"`
	URL        string        `json:"url,omitempty"`
	StatusCode int           `json:"status_code,omitempty"`
	Skipped    string        `json:"skipped,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
}

type DispatchResult struct {
	Page     *Page     `json:"page"`
	Provider string    `json:"provider"`
	URL      string    `json:"url"`
	Raw      []byte    `json:"-"`
	Attempts []Attempt `json:"attempts"`
}

// DispatchError aggregates every attempt made before giving up. RetryAfter
// carries the longest rate-limit hint seen, for the HTTP layer to forward.
type DispatchError struct {
	Attempts   []Attempt
	RetryAfter time.Duration
}

func (e *DispatchError) Error() string {
	if len(e.Attempts) == 0 {
		return ErrNoProviders.Error()
	}

	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		switch {
		case a.Skipped != "":
			parts = append(parts, fmt.Sprintf("%s: skipped (%s)", a.Provider, a.Skipped))
		case a.Error != "":
			parts = append(parts, fmt.Sprintf("%s: %s", a.Provider, a.Error))
		default:
			parts = append(parts, fmt.Sprintf("%s: status %d", a.Provider, a.StatusCode))
		}
	}

	return "all providers failed: " + strings.Join(parts, "; ")
}

func (e *DispatchError) Unwrap() error {
	return ErrUpstreamFailed
}

type BreakerSnapshot struct {
	State        string        `json:"state"`
	Failures     int           `json:"failures"`
	OpenedAt     time.Time     `json:"opened_at,omitempty"`
	OpenDuration time.Duration `json:"open_duration"`
	OpenedCount  uint64        `json:"opened_count"`
}

type BudgetSnapshot struct {
	Day  string `json:"day"`
	Used int    `json:"used"`
}

type HotKey struct {
	Key           string  `json:"key"`
	RatePerMinute float64 `json:"rate_per_minute"`
}
