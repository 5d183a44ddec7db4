package rest

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

// fakeClock advances instantly on every sleep and records it.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// fakeDoer answers requests from a function and counts calls per endpoint.
type fakeDoer struct {
	fn func(req *Request, call int) *Response

	mu    sync.Mutex
	calls map[string]int
	total int
}

func newFakeDoer(fn func(req *Request, call int) *Response) *fakeDoer {
	return &fakeDoer{fn: fn, calls: make(map[string]int)}
}

func (d *fakeDoer) Do(ctx context.Context, req *Request) (*Response, error) {
	d.mu.Lock()
	d.calls[req.Endpoint]++
	d.total++
	call := d.calls[req.Endpoint]
	d.mu.Unlock()
	return d.fn(req, call), nil
}

func (d *fakeDoer) Calls(endpoint string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[endpoint]
}

func ok() *Response {
	return status(http.StatusOK)
}

func status(code int) *Response {
	return &Response{Status: code, Header: http.Header{}, RateLimit: RateLimit{Limit: -1, Remaining: -1, RetryAfter: -1}}
}

func tooMany(retryAfter time.Duration, global bool) *Response {
	r := status(http.StatusTooManyRequests)
	r.RateLimit.RetryAfter = retryAfter
	r.RateLimit.Global = global
	return r
}

func newTestManager(t *testing.T, doer Doer, clock Clock, opts ...Option) *Manager {
	t.Helper()
	base := []Option{WithGlobalRate(rate.Inf, 1)}
	if clock != nil {
		base = append(base, WithClock(clock))
	}
	return NewManager(doer, append(base, opts...)...)
}

func get(endpoint string) *Request {
	return &Request{Method: http.MethodGet, Endpoint: endpoint}
}
