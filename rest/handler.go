package rest

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// defaultRetryAfter is used for a 429 without a Retry-After header.
const defaultRetryAfter = 5 * time.Second

// RateLimitedEvent describes a 429 response.
type RateLimitedEvent struct {
	Bucket     string
	Method     string
	Endpoint   string
	Limit      int
	Remaining  int
	Reset      time.Time
	RetryAfter time.Duration
	Global     bool
}

// BucketState is a snapshot of one bucket.
type BucketState struct {
	Key       string
	Limit     int
	Remaining int
	Reset     time.Time
	Queued    int
}

// SequentialHandler runs the requests of one bucket one at a time, in the
// order they were pushed, and keeps the bucket's rate limit state.
type SequentialHandler struct {
	key     string
	manager *Manager
	queue   AsyncQueue

	mu        sync.Mutex
	limit     int
	remaining int
	reset     time.Time

	// guarded by manager.mu
	active   int
	lastUsed time.Time
}

func newSequentialHandler(m *Manager, key string) *SequentialHandler {
	return &SequentialHandler{
		key:       key,
		manager:   m,
		limit:     -1,
		remaining: 1,
		lastUsed:  m.clock.Now(),
	}
}

// Key returns the bucket key.
func (h *SequentialHandler) Key() string {
	return h.key
}

// State returns a snapshot of the bucket.
func (h *SequentialHandler) State() BucketState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return BucketState{
		Key:       h.key,
		Limit:     h.limit,
		Remaining: h.remaining,
		Reset:     h.reset,
		Queued:    h.queue.Remaining(),
	}
}

// Push waits for the bucket's turn and sends req, retrying rate limited and
// 5xx responses. It returns the 2xx response, or an *APIError,
// *RateLimitError or *RequestError.
func (h *SequentialHandler) Push(ctx context.Context, req *Request) (*Response, error) {
	h.manager.enter(h)
	defer h.manager.leave(h)

	if err := h.queue.Wait(ctx); err != nil {
		return nil, err
	}
	defer h.queue.Shift()

	return h.execute(ctx, req)
}

func (h *SequentialHandler) execute(ctx context.Context, req *Request) (*Response, error) {
	m := h.manager
	method := req.method()
	log := m.log.With(
		slog.String("request_id", uuid.NewString()),
		slog.String("bucket", h.key),
	)

	var limited, failed int
	for {
		if err := m.global.Wait(ctx); err != nil {
			return nil, err
		}
		if d := h.delay(); d > 0 {
			log.Debug("bucket exhausted, waiting", slog.Duration("delay", d))
			if err := sleep(ctx, m.clock, d); err != nil {
				return nil, err
			}
		}
		if err := m.pacer.Wait(ctx); err != nil {
			return nil, err
		}

		log.Debug("sending request", slog.String("method", method), slog.String("endpoint", req.Endpoint))
		resp, err := m.doer.Do(ctx, req)
		if err != nil {
			return nil, err
		}
		h.update(resp.RateLimit)

		switch {
		case resp.Status == http.StatusTooManyRequests:
			delay := defaultRetryAfter
			if resp.RateLimit.RetryAfter >= 0 {
				delay = resp.RateLimit.RetryAfter
			}
			global := resp.RateLimit.Global
			if global {
				m.global.Trip(delay)
			}

			ev := h.rateLimitedEvent(req, delay, global)
			log.Warn("rate limited",
				slog.String("endpoint", req.Endpoint),
				slog.Duration("retry_after", delay),
				slog.Bool("global", global),
				slog.Int("attempt", limited+1),
			)
			m.rateLimited(ev)

			if limited >= m.retries {
				return nil, &RateLimitError{
					RetryAfter: delay,
					Global:     global,
					Bucket:     h.key,
					Method:     method,
					Endpoint:   req.Endpoint,
				}
			}
			limited++
			if err := sleep(ctx, m.clock, delay); err != nil {
				return nil, err
			}

		case resp.Status >= 500:
			if failed >= m.serverRetries {
				return nil, newAPIError(req, resp)
			}
			failed++
			backoff := time.Duration(failed) * time.Second
			log.Debug("server error, retrying", slog.Int("status", resp.Status), slog.Duration("delay", backoff))
			if err := sleep(ctx, m.clock, backoff); err != nil {
				return nil, err
			}

		case resp.Status < 200 || resp.Status >= 300:
			return nil, newAPIError(req, resp)

		default:
			return resp, nil
		}
	}
}

// delay returns how long to wait before the bucket admits another request.
func (h *SequentialHandler) delay() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.remaining > 0 || h.reset.IsZero() {
		return 0
	}
	return max(h.reset.Sub(h.manager.clock.Now()), 0)
}

func (h *SequentialHandler) update(rl RateLimit) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if rl.Limit >= 0 {
		h.limit = rl.Limit
	}
	if rl.Remaining >= 0 {
		h.remaining = rl.Remaining
	}
	if !rl.Reset.IsZero() {
		h.reset = rl.Reset
	}
}

func (h *SequentialHandler) rateLimitedEvent(req *Request, delay time.Duration, global bool) RateLimitedEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return RateLimitedEvent{
		Bucket:     h.key,
		Method:     req.method(),
		Endpoint:   req.Endpoint,
		Limit:      h.limit,
		Remaining:  h.remaining,
		Reset:      h.reset,
		RetryAfter: delay,
		Global:     global,
	}
}
