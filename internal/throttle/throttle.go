// Package throttle keeps one token bucket per campaign so a single hot
// campaign can be paced without touching the others.
package throttle

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Throttle struct {
	mu      sync.Mutex
	entries map[int64]*entry
	rps     rate.Limit
	burst   int
	wait    time.Duration
	idleTTL time.Duration
}

type entry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type Option func(*Throttle)

func WithIdleTTL(d time.Duration) Option {
	return func(t *Throttle) { t.idleTTL = d }
}

// New returns nil when rps is not positive; a nil Throttle admits everything.
func New(rps float64, burst int, wait time.Duration, opts ...Option) *Throttle {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	t := &Throttle{
		entries: make(map[int64]*entry),
		rps:     rate.Limit(rps),
		burst:   burst,
		wait:    wait,
		idleTTL: 15 * time.Minute,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Acquire takes one token for the campaign, waiting at most the configured
// bound. It returns false when no token could be had in time.
func (t *Throttle) Acquire(ctx context.Context, campaignID int64) bool {
	if t == nil {
		return true
	}
	lim := t.limiter(campaignID)
	if lim.Allow() {
		return true
	}
	if t.wait <= 0 {
		return false
	}

	waitCtx, cancel := context.WithTimeout(ctx, t.wait)
	defer cancel()
	// Wait fails fast when the reservation cannot be met before the deadline.
	return lim.Wait(waitCtx) == nil
}

func (t *Throttle) limiter(campaignID int64) *rate.Limiter {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if ent, ok := t.entries[campaignID]; ok {
		ent.lastSeen = now
		return ent.lim
	}

	lim := rate.NewLimiter(t.rps, t.burst)
	t.entries[campaignID] = &entry{lim: lim, lastSeen: now}
	return lim
}

func (t *Throttle) Cleanup() {
	cutoff := time.Now().Add(-t.idleTTL)

	t.mu.Lock()
	defer t.mu.Unlock()

	for k, ent := range t.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(t.entries, k)
		}
	}
}

// StartJanitor drops idle buckets periodically until ctx is done.
func (t *Throttle) StartJanitor(ctx context.Context, every time.Duration) {
	if t == nil || every <= 0 {
		return
	}

	ticker := time.NewTicker(every)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.Cleanup()
			}
		}
	}()
}
