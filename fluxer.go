// Package fluxer provides a Go client for the Fluxer chat platform.
//
// A [Client] combines the rate limited REST API ([rest.Client]) with the
// sharded real-time gateway ([gateway.Manager]). Either side can also be
// used on its own.
//
// # Thread Safety
//
// [Client], [rest.Client] and [gateway.Manager] are safe for concurrent use
// by multiple goroutines. Event handlers run on the shard's read goroutine
// and must not block.
//
// # Basic Usage
//
//	ctx := context.Background()
//
//	client, err := fluxer.New(token,
//	    fluxer.WithIntents(fluxer.IntentGuilds, fluxer.IntentGuildMessages, fluxer.IntentMessageContent),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.On("MESSAGE_CREATE", func(e *gateway.DispatchEvent) {
//	    var msg struct {
//	        ChannelID fluxer.Snowflake `json:"channel_id"`
//	        Content   string           `json:"content"`
//	    }
//	    if err := json.Unmarshal(e.Data, &msg); err != nil || msg.Content != "!ping" {
//	        return
//	    }
//	    endpoint := "/channels/" + msg.ChannelID.String() + "/messages"
//	    go client.REST().Post(ctx, endpoint, map[string]string{"content": "pong"}, nil)
//	})
//
//	if err := client.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Observability
//
// Use [WithLogger] for structured logs of both sides, and the hooks of the
// sub-packages for monitoring:
//
//	client, err := fluxer.New(token,
//	    fluxer.WithLogger(slog.Default()),
//	    fluxer.WithRESTOptions(rest.WithOnRateLimited(func(ev rest.RateLimitedEvent) {
//	        metrics.RateLimited.WithLabelValues(ev.Bucket).Inc()
//	    })),
//	    fluxer.WithGatewayOptions(gateway.WithOnReceive(func(p *gateway.Payload) {
//	        metrics.FramesReceived.Inc()
//	    })),
//	)
package fluxer
