package fluxer

import (
	"log/slog"

	"github.com/chrisboulton/fluxer-go/gateway"
	"github.com/chrisboulton/fluxer-go/rest"
)

// ClientOption configures a Client.
type ClientOption func(*clientConfig)

type clientConfig struct {
	logger      *slog.Logger
	intents     Intents
	gatewayOpts []gateway.Option
	restOpts    []rest.Option
	noGateway   bool
}

// WithLogger sets a structured logger for both the gateway and REST sides.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// WithIntents sets the gateway intents.
func WithIntents(intents ...Intents) ClientOption {
	return func(c *clientConfig) {
		c.intents = c.intents.Add(intents...)
	}
}

// WithGatewayOptions passes options to the gateway manager. They are
// applied after the options derived from the client configuration.
func WithGatewayOptions(opts ...gateway.Option) ClientOption {
	return func(c *clientConfig) {
		c.gatewayOpts = append(c.gatewayOpts, opts...)
	}
}

// WithRESTOptions passes options to the REST client.
func WithRESTOptions(opts ...rest.Option) ClientOption {
	return func(c *clientConfig) {
		c.restOpts = append(c.restOpts, opts...)
	}
}

// WithoutGateway makes Connect skip the gateway, for REST-only use.
func WithoutGateway() ClientOption {
	return func(c *clientConfig) {
		c.noGateway = true
	}
}
