package rest

import (
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Defaults for a Client.
const (
	DefaultBaseURL   = "https://api.fluxer.app/v1"
	DefaultVersion   = "v1"
	DefaultUserAgent = "fluxer-go (https://github.com/chrisboulton/fluxer-go, 0.1.0)"
)

// Option configures a Client or a Manager.
type Option func(*config)

type config struct {
	baseURL    string
	version    string
	userAgent  string
	httpClient *http.Client

	retries       int
	serverRetries int
	globalRate    rate.Limit
	globalBurst   int
	global        *GlobalLimit
	idleTTL       time.Duration
	sweepEvery    time.Duration

	clock         Clock
	logger        *slog.Logger
	onRateLimited []func(RateLimitedEvent)
	onRequest     func(*http.Request)
	onResponse    func(*Response)
}

func newConfig(opts []Option) *config {
	cfg := &config{
		baseURL:       DefaultBaseURL,
		version:       DefaultVersion,
		userAgent:     DefaultUserAgent,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		retries:       3,
		serverRetries: 2,
		globalRate:    50,
		globalBurst:   50,
		idleTTL:       15 * time.Minute,
		sweepEvery:    2 * time.Minute,
		clock:         systemClock{},
		logger:        slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.global == nil {
		cfg.global = NewGlobalLimit(cfg.clock)
	}
	return cfg
}

// WithBaseURL sets the API root. A trailing version segment is respected.
func WithBaseURL(u string) Option {
	return func(c *config) {
		c.baseURL = u
	}
}

// WithVersion sets the API version prefixed to endpoints.
func WithVersion(v string) Option {
	return func(c *config) {
		c.version = v
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *config) {
		c.userAgent = ua
	}
}

// WithHTTPClient sets the HTTP client used to send requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRetries sets how many times a rate limited request is retried.
func WithRetries(n int) Option {
	return func(c *config) {
		c.retries = n
	}
}

// WithServerErrorRetries sets how many times a 5xx response is retried.
func WithServerErrorRetries(n int) Option {
	return func(c *config) {
		c.serverRetries = n
	}
}

// WithGlobalRate paces all requests of the client to limit per second.
// Use rate.Inf to disable pacing.
func WithGlobalRate(limit rate.Limit, burst int) Option {
	return func(c *config) {
		c.globalRate = limit
		c.globalBurst = burst
	}
}

// WithGlobalLimit shares a global gate between clients using the same token.
func WithGlobalLimit(g *GlobalLimit) Option {
	return func(c *config) {
		c.global = g
	}
}

// WithIdleBuckets sets how long an unused bucket is kept and how often
// idle buckets are swept by StartJanitor.
func WithIdleBuckets(ttl, every time.Duration) Option {
	return func(c *config) {
		c.idleTTL = ttl
		c.sweepEvery = every
	}
}

// WithClock replaces the time source of the rate limiter.
func WithClock(clock Clock) Option {
	return func(c *config) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger sets a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithOnRateLimited adds a callback invoked for every 429 response.
func WithOnRateLimited(fn func(RateLimitedEvent)) Option {
	return func(c *config) {
		c.onRateLimited = append(c.onRateLimited, fn)
	}
}

// WithOnRequest sets a callback invoked before each HTTP request is sent.
func WithOnRequest(fn func(*http.Request)) Option {
	return func(c *config) {
		c.onRequest = fn
	}
}

// WithOnResponse sets a callback invoked after each response is read.
func WithOnResponse(fn func(*Response)) Option {
	return func(c *config) {
		c.onResponse = fn
	}
}
