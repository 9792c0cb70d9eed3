// Package ratelimit implements a per-user sliding-window request limiter
// with standard rate-limit headers.
package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Config tunes the limiter. Zero fields take defaults.
type Config struct {
	// Limit is the maximum requests per window (default: 100).
	Limit int

	// Window is the sliding window length (default: 60s).
	Window time.Duration

	// EvictionInterval is how often idle users are evicted (default: 5m).
	EvictionInterval time.Duration

	// IdleAge is how long a user may be idle before eviction
	// (default: 5m).
	IdleAge time.Duration
}

// DefaultConfig returns the standard limiter configuration.
func DefaultConfig() Config {
	return Config{
		Limit:            100,
		Window:           60 * time.Second,
		EvictionInterval: 5 * time.Minute,
		IdleAge:          5 * time.Minute,
	}
}

// Decision is the outcome of one admission check. Header values are
// attached to every resolved response, allowed or refused.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int

	// Reset is when the oldest counted request leaves the window.
	Reset time.Time

	// RetryAfter is how long a refused caller should wait. Zero when
	// allowed.
	RetryAfter time.Duration
}

// Apply writes the rate-limit headers. Retry-After is only set on
// refusal.
func (d Decision) Apply(h http.Header) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
	if !d.Allowed {
		secs := int(math.Ceil(d.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		h.Set("Retry-After", strconv.Itoa(secs))
	}
}

type entry struct {
	times    []time.Time
	lastSeen time.Time
}

// Limiter tracks request timestamps per user. Safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry

	config    Config
	now       func() time.Time
	done      chan struct{}
	closeOnce sync.Once
}

// NewLimiter creates a limiter and starts its eviction loop.
func NewLimiter(config Config) *Limiter {
	def := DefaultConfig()
	if config.Limit <= 0 {
		config.Limit = def.Limit
	}
	if config.Window <= 0 {
		config.Window = def.Window
	}
	if config.EvictionInterval <= 0 {
		config.EvictionInterval = def.EvictionInterval
	}
	if config.IdleAge <= 0 {
		config.IdleAge = def.IdleAge
	}

	l := &Limiter{
		entries: make(map[string]*entry),
		config:  config,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go l.evictLoop()
	return l
}

// Allow admits or refuses one request for the user and returns the
// header values either way.
func (l *Limiter) Allow(userID string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.config.Window)

	e := l.entries[userID]
	if e == nil {
		e = &entry{}
		l.entries[userID] = e
	}
	e.lastSeen = now

	// Drop timestamps that slid out of the window.
	kept := e.times[:0]
	for _, t := range e.times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	e.times = kept

	if len(e.times) >= l.config.Limit {
		reset := e.times[0].Add(l.config.Window)
		return Decision{
			Allowed:    false,
			Limit:      l.config.Limit,
			Remaining:  0,
			Reset:      reset,
			RetryAfter: reset.Sub(now),
		}
	}

	e.times = append(e.times, now)
	return Decision{
		Allowed:   true,
		Limit:     l.config.Limit,
		Remaining: l.config.Limit - len(e.times),
		Reset:     e.times[0].Add(l.config.Window),
	}
}

// Close stops the eviction loop.
func (l *Limiter) Close() {
	l.closeOnce.Do(func() { close(l.done) })
}

func (l *Limiter) evictLoop() {
	ticker := time.NewTicker(l.config.EvictionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.evictIdle(l.now().Add(-l.config.IdleAge))
		case <-l.done:
			return
		}
	}
}

// evictIdle removes users whose last request predates the cutoff.
func (l *Limiter) evictIdle(cutoff time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, e := range l.entries {
		if e.lastSeen.Before(cutoff) {
			delete(l.entries, id)
		}
	}
}
