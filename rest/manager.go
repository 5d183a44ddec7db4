package rest

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Manager routes requests to per-bucket handlers sharing one global gate.
// It is safe for concurrent use by multiple goroutines.
type Manager struct {
	doer          Doer
	global        *GlobalLimit
	pacer         *rate.Limiter
	clock         Clock
	log           *slog.Logger
	retries       int
	serverRetries int
	idleTTL       time.Duration
	sweepEvery    time.Duration
	hooks         []func(RateLimitedEvent)

	mu       sync.Mutex
	handlers map[string]*SequentialHandler
}

// NewManager creates a manager sending requests through doer.
func NewManager(doer Doer, opts ...Option) *Manager {
	return newManager(doer, newConfig(opts))
}

func newManager(doer Doer, cfg *config) *Manager {
	return &Manager{
		doer:          doer,
		global:        cfg.global,
		pacer:         rate.NewLimiter(cfg.globalRate, cfg.globalBurst),
		clock:         cfg.clock,
		log:           cfg.logger.With(slog.String("component", "rest")),
		retries:       cfg.retries,
		serverRetries: cfg.serverRetries,
		idleTTL:       cfg.idleTTL,
		sweepEvery:    cfg.sweepEvery,
		hooks:         cfg.onRateLimited,
		handlers:      make(map[string]*SequentialHandler),
	}
}

// Do sends req through the handler of its bucket.
func (m *Manager) Do(ctx context.Context, req *Request) (*Response, error) {
	return m.Handler(req.method(), req.Endpoint).Push(ctx, req)
}

// Handler returns the handler of the bucket for method and endpoint,
// creating it on first use.
func (m *Manager) Handler(method, endpoint string) *SequentialHandler {
	key := BucketKey(method, endpoint)

	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handlers[key]
	if !ok {
		h = newSequentialHandler(m, key)
		m.handlers[key] = h
	}
	h.lastUsed = m.clock.Now()
	return h
}

// Global returns the gate shared by every bucket.
func (m *Manager) Global() *GlobalLimit {
	return m.global
}

// Buckets returns a snapshot of every bucket ordered by key.
func (m *Manager) Buckets() []BucketState {
	m.mu.Lock()
	handlers := make([]*SequentialHandler, 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	states := make([]BucketState, len(handlers))
	for i, h := range handlers {
		states[i] = h.State()
	}
	slices.SortFunc(states, func(a, b BucketState) int { return strings.Compare(a.Key, b.Key) })
	return states
}

// Sweep drops handlers that have no request in flight and were last used
// longer ago than the idle TTL. It returns the number dropped.
func (m *Manager) Sweep() int {
	cutoff := m.clock.Now().Add(-m.idleTTL)

	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key, h := range m.handlers {
		if h.active == 0 && h.lastUsed.Before(cutoff) {
			delete(m.handlers, key)
			n++
		}
	}
	if n > 0 {
		m.log.Debug("swept idle buckets", slog.Int("count", n))
	}
	return n
}

// StartJanitor sweeps idle handlers periodically until ctx is done.
func (m *Manager) StartJanitor(ctx context.Context) {
	if m.sweepEvery <= 0 {
		return
	}

	t := time.NewTicker(m.sweepEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				m.Sweep()
			}
		}
	}()
}

// enter marks a request in flight on h. A handler that was swept while
// held by a caller is registered again unless its bucket was recreated.
func (m *Manager) enter(h *SequentialHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h.active++
	if _, ok := m.handlers[h.key]; !ok {
		m.handlers[h.key] = h
	}
}

func (m *Manager) leave(h *SequentialHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h.active--
	h.lastUsed = m.clock.Now()
}

func (m *Manager) rateLimited(ev RateLimitedEvent) {
	for _, fn := range m.hooks {
		fn(ev)
	}
}
