package fluxer

import (
	"context"
	"log/slog"
	"sync"

	"github.com/chrisboulton/fluxer-go/gateway"
	"github.com/chrisboulton/fluxer-go/rest"
)

// Client ties the REST client and the gateway manager together.
// It is safe for concurrent use by multiple goroutines.
type Client struct {
	rest    *rest.Client
	gateway *gateway.Manager
	cfg     clientConfig
	log     *slog.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	connected bool
	closed    bool
}

// New creates a client. Nothing is dialed until Connect.
// The gateway looks up its URL and shard count through the REST client.
func New(token string, opts ...ClientOption) (*Client, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	var cfg clientConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := cfg.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	restOpts := append([]rest.Option{rest.WithLogger(logger)}, cfg.restOpts...)
	c := &Client{
		rest: rest.NewClient(token, restOpts...),
		cfg:  cfg,
		log:  logger,
	}

	gwOpts := append([]gateway.Option{
		gateway.WithLogger(logger),
		gateway.WithIntents(uint64(cfg.intents)),
		gateway.WithBotInfo(gateway.BotInfoFunc(c.BotInfo)),
	}, cfg.gatewayOpts...)
	c.gateway = gateway.NewManager(token, gwOpts...)

	return c, nil
}

// REST returns the REST client.
func (c *Client) REST() *rest.Client {
	return c.rest
}

// Gateway returns the gateway manager.
func (c *Client) Gateway() *gateway.Manager {
	return c.gateway
}

// Subscribe registers a handler for gateway events of every shard.
func (c *Client) Subscribe(fn gateway.Handler) func() {
	return c.gateway.Subscribe(fn)
}

// On registers a handler for dispatch events with the given name, such as
// "MESSAGE_CREATE".
func (c *Client) On(name string, fn func(*gateway.DispatchEvent)) func() {
	return c.gateway.Subscribe(func(e gateway.Event) {
		if d, ok := e.(*gateway.DispatchEvent); ok && d.Name == name {
			fn(d)
		}
	})
}

// BotInfo fetches the gateway URL, recommended shard count and session
// start limits.
func (c *Client) BotInfo(ctx context.Context) (*gateway.BotInfo, error) {
	var info gateway.BotInfo
	if err := c.rest.Get(ctx, "/gateway/bot", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Connect starts the REST bucket janitor and spawns the gateway shards.
// Calling it again on a connected client is a no-op. When the gateway
// fails to start, shards already spawned are destroyed and Connect may be
// retried.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = true
	janitorCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	c.rest.StartJanitor(janitorCtx)
	if c.cfg.noGateway {
		return nil
	}

	if err := c.gateway.Connect(ctx); err != nil {
		c.log.Debug("gateway connect failed", slog.Any("error", err))
		c.mu.Lock()
		c.connected = false
		c.cancel = nil
		c.mu.Unlock()
		cancel()
		c.gateway.Destroy()
		return err
	}
	return nil
}

// SetPresence updates the presence on every shard.
func (c *Client) SetPresence(ctx context.Context, p gateway.Presence) error {
	return c.gateway.SetPresence(ctx, p)
}

// Close destroys every shard and stops background work. The client
// cannot be reused.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.gateway.Destroy()
	return nil
}
