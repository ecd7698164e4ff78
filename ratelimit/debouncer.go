// Package ratelimit enforces a minimum interval between successive calls of
// the same operation.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// DefaultInterval is the gap enforced between two fetches.
const DefaultInterval = 2 * time.Second

const defaultMaxKeys = 64

// Debouncer tracks the last call per operation key. The first call for a key
// never waits; later calls sleep until the interval since the previous call
// has elapsed.
type Debouncer struct {
	interval time.Duration
	onWait   func(key string, waited time.Duration)

	mu       sync.Mutex
	limiters *lru.Cache[string, *rate.Limiter]
}

// Option customises a Debouncer.
type Option func(*Debouncer)

// WithWaitObserver registers a callback invoked after every wait that slept.
func WithWaitObserver(fn func(key string, waited time.Duration)) Option {
	return func(d *Debouncer) {
		d.onWait = fn
	}
}

// New builds a Debouncer. An interval <= 0 disables waiting.
func New(interval time.Duration, opts ...Option) (*Debouncer, error) {
	cache, err := lru.New[string, *rate.Limiter](defaultMaxKeys)
	if err != nil {
		return nil, fmt.Errorf("create limiter cache: %w", err)
	}
	d := &Debouncer{
		interval: interval,
		limiters: cache,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Interval returns the configured minimum gap.
func (d *Debouncer) Interval() time.Duration {
	return d.interval
}

// Wait blocks until key may run again, or until ctx is done.
func (d *Debouncer) Wait(ctx context.Context, key string) error {
	if d == nil || d.interval <= 0 {
		return nil
	}

	start := time.Now()
	if err := d.limiter(key).Wait(ctx); err != nil {
		return fmt.Errorf("debounce %s: %w", key, err)
	}
	if waited := time.Since(start); waited > time.Millisecond && d.onWait != nil {
		d.onWait(key, waited)
	}
	return nil
}

func (d *Debouncer) limiter(key string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()

	if l, ok := d.limiters.Get(key); ok {
		return l
	}
	l := rate.NewLimiter(rate.Every(d.interval), 1)
	d.limiters.Add(key, l)
	return l
}
