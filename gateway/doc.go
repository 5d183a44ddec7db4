// Package gateway implements the real-time side of the Fluxer API: the
// per-connection shard state machine and the manager that runs a set of
// shards.
//
// # Thread Safety
//
// [Shard] and [Manager] are safe for concurrent use by multiple goroutines.
// Event handlers run synchronously on the goroutine that read the frame, in
// the order they were registered, and must not block.
//
// # Basic Usage
//
//	m := gateway.NewManager(token,
//	    gateway.WithIntents(513),
//	    gateway.WithShardCount(2),
//	)
//	m.Subscribe(func(e gateway.Event) {
//	    if d, ok := e.(*gateway.DispatchEvent); ok {
//	        log.Printf("shard %d: %s", d.ShardID, d.Name)
//	    }
//	})
//	if err := m.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer m.Destroy()
//
// # Reconnects
//
// A shard reconnects on its own after a dropped socket, a missed heartbeat
// acknowledgement or a server request. It resumes the session when it has
// one. Close codes reported by [IsFatalClose] end the shard for good, as
// does running out of reconnect attempts; both are published as an
// [*ErrorEvent] followed by a fatal [*DisconnectEvent].
package gateway
