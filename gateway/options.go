package gateway

import (
	"log/slog"
	"math/rand/v2"
	"runtime"
	"time"

	"golang.org/x/time/rate"
)

// DefaultURL is used when neither an explicit URL nor a bot info lookup
// provides one.
const DefaultURL = "wss://gateway.fluxer.app/?v=1&encoding=json"

// Option configures a Manager or a standalone Shard.
type Option func(*config)

type config struct {
	token          string
	intents        uint64
	url            string
	compress       bool
	largeThreshold int
	presence       *Presence
	properties     IdentifyProperties

	shardCount     int
	shardIDs       []int
	totalShards    int
	maxConcurrency int
	botInfo        BotInfoFetcher

	maxReconnectAttempts int
	backoffBase          time.Duration
	backoffMax           time.Duration
	invalidSessionMin    time.Duration
	invalidSessionMax    time.Duration
	dialTimeout          time.Duration
	spawnStagger         time.Duration
	bucketDelay          time.Duration

	sendLimit rate.Limit
	sendBurst int

	dialer    Dialer
	logger    *slog.Logger
	onSend    func(op Opcode, data []byte)
	onReceive func(*Payload)
	random    func() float64
}

func newConfig(token string, opts []Option) *config {
	cfg := &config{
		token:          token,
		largeThreshold: 50,
		properties: IdentifyProperties{
			OS:      runtime.GOOS,
			Browser: "fluxer-go",
			Device:  "fluxer-go",
		},
		maxConcurrency:       1,
		maxReconnectAttempts: 10,
		backoffBase:          time.Second,
		backoffMax:           30 * time.Second,
		invalidSessionMin:    time.Second,
		invalidSessionMax:    5 * time.Second,
		dialTimeout:          30 * time.Second,
		spawnStagger:         100 * time.Millisecond,
		bucketDelay:          5 * time.Second,
		sendLimit:            rate.Every(time.Minute / 120),
		sendBurst:            120,
		dialer:               &WebSocketDialer{},
		logger:               slog.New(slog.DiscardHandler),
		random:               rand.Float64,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithIntents sets the gateway intents sent on identify.
func WithIntents(intents uint64) Option {
	return func(c *config) {
		c.intents = intents
	}
}

// WithURL sets the gateway URL. Without it the URL comes from the bot info lookup.
func WithURL(url string) Option {
	return func(c *config) {
		c.url = url
	}
}

// WithCompression enables zlib-stream transport compression.
func WithCompression() Option {
	return func(c *config) {
		c.compress = true
	}
}

// WithLargeThreshold sets the member count above which guilds are sent without offline members.
func WithLargeThreshold(n int) Option {
	return func(c *config) {
		c.largeThreshold = n
	}
}

// WithPresence sets the presence sent on identify.
func WithPresence(p Presence) Option {
	return func(c *config) {
		p = p.withDefaults()
		c.presence = &p
	}
}

// WithProperties overrides the client properties sent on identify.
func WithProperties(p IdentifyProperties) Option {
	return func(c *config) {
		c.properties = p
	}
}

// WithShardCount sets how many shards to run. Zero or less means "auto":
// the count recommended by the bot info lookup.
func WithShardCount(n int) Option {
	return func(c *config) {
		c.shardCount = n
	}
}

// WithShardIDs restricts the manager to the given shard IDs.
func WithShardIDs(ids ...int) Option {
	return func(c *config) {
		c.shardIDs = append([]int(nil), ids...)
	}
}

// WithTotalShards sets the total shard count across all processes when
// this process runs only a subset of them.
func WithTotalShards(n int) Option {
	return func(c *config) {
		c.totalShards = n
	}
}

// WithBotInfo sets the source of the bot gateway lookup.
func WithBotInfo(f BotInfoFetcher) Option {
	return func(c *config) {
		c.botInfo = f
	}
}

// WithMaxReconnectAttempts bounds consecutive reconnects before a shard gives up.
func WithMaxReconnectAttempts(n int) Option {
	return func(c *config) {
		c.maxReconnectAttempts = n
	}
}

// WithBackoff sets the reconnect backoff base and ceiling.
func WithBackoff(base, max time.Duration) Option {
	return func(c *config) {
		c.backoffBase = base
		c.backoffMax = max
	}
}

// WithSpawnDelays sets the stagger between shards of one concurrency
// bucket and the pause between buckets.
func WithSpawnDelays(stagger, bucket time.Duration) Option {
	return func(c *config) {
		c.spawnStagger = stagger
		c.bucketDelay = bucket
	}
}

// WithSendLimit sets the outbound frame budget per shard.
func WithSendLimit(limit rate.Limit, burst int) Option {
	return func(c *config) {
		c.sendLimit = limit
		c.sendBurst = burst
	}
}

// WithDialer replaces the WebSocket dialer.
func WithDialer(d Dialer) Option {
	return func(c *config) {
		c.dialer = d
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

// WithOnSend sets a callback invoked before each frame is written.
func WithOnSend(fn func(op Opcode, data []byte)) Option {
	return func(c *config) {
		c.onSend = fn
	}
}

// WithOnReceive sets a callback invoked after each frame is decoded.
func WithOnReceive(fn func(*Payload)) Option {
	return func(c *config) {
		c.onReceive = fn
	}
}
