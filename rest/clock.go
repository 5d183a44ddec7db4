package rest

import (
	"context"
	"sync"
	"time"
)

// Clock is the time source of the rate limiter.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock returns the wall clock.
func SystemClock() Clock {
	return systemClock{}
}

func sleep(ctx context.Context, clock Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clock.After(d):
		return nil
	}
}

// GlobalLimit is the account-wide gate shared by every bucket. While it is
// tripped no request is sent on any bucket.
type GlobalLimit struct {
	clock Clock

	mu        sync.Mutex
	remaining int
	reset     time.Time
}

// NewGlobalLimit returns an open gate. A nil clock means the wall clock.
func NewGlobalLimit(clock Clock) *GlobalLimit {
	if clock == nil {
		clock = systemClock{}
	}
	return &GlobalLimit{clock: clock, remaining: 1}
}

// Trip closes the gate for d.
func (g *GlobalLimit) Trip(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.remaining = 0
	if reset := g.clock.Now().Add(d); reset.After(g.reset) {
		g.reset = reset
	}
}

// Blocked returns how long the gate stays closed, or zero when it is open.
func (g *GlobalLimit) Blocked() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.blockedLocked()
}

func (g *GlobalLimit) blockedLocked() time.Duration {
	if g.remaining > 0 {
		return 0
	}
	d := g.reset.Sub(g.clock.Now())
	if d <= 0 {
		g.remaining = 1
		return 0
	}
	return d
}

// Wait blocks while the gate is closed. A Trip during the wait extends it.
func (g *GlobalLimit) Wait(ctx context.Context) error {
	for {
		d := g.Blocked()
		if d == 0 {
			return ctx.Err()
		}
		if err := sleep(ctx, g.clock, d); err != nil {
			return err
		}
	}
}
