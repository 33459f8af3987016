// Package flight deduplicates concurrent identical upstream requests.
// Flight keys live in their own namespace and may carry disambiguators the
// cache key does not (scope, domain filters), so granularity is the
// caller's choice.
package flight

import (
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Coalescer guarantees at most one outstanding fn per flight key. Every
// concurrent caller for the same key receives the identical result,
// success or failure alike.
type Coalescer[T any] struct {
	group    singleflight.Group
	launched atomic.Uint64
	joined   atomic.Uint64
}

func NewCoalescer[T any]() *Coalescer[T] {
	return &Coalescer[T]{}
}

// Do runs fn under the flight key, or attaches to the in-flight call for
// that key. shared reports whether the result was given to more than one
// caller.
func (c *Coalescer[T]) Do(key string, fn func() (T, error)) (result T, shared bool, err error) {
	value, err, shared := c.group.Do(key, func() (interface{}, error) {
		c.launched.Add(1)
		return fn()
	})

	if shared {
		c.joined.Add(1)
	}

	if value != nil {
		result = value.(T)
	}

	return result, shared, err
}

// Forget drops the in-flight entry for key so the next caller launches a
// new fetch. Used when the underlying cache entry is purged while a fetch
// is pending.
func (c *Coalescer[T]) Forget(key string) {
	c.group.Forget(key)
}

type Stats struct {
	Launched uint64 `json:"launched"`
	Joined   uint64 `json:"joined"`
}

func (c *Coalescer[T]) Snapshot() Stats {
	return Stats{
		Launched: c.launched.Load(),
		Joined:   c.joined.Load(),
	}
}
