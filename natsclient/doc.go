// Package natsclient wraps the NATS Go client with a circuit breaker,
// reconnection handling and the small JetStream surface featuresync uses.
//
// # Connection lifecycle
//
// A Client moves through Disconnected, Connecting, Connected and
// Reconnecting. After a threshold of consecutive failures (default 5) the
// circuit opens and every call fails fast with ErrCircuitOpen until the
// backoff elapses; the backoff doubles per round up to a maximum.
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithLogger(logger),
//	    natsclient.WithMetrics(registry),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
// # Messaging
//
// Subscribe delivers core NATS messages with a per-message context.
// ConsumeStream attaches an explicit-ack JetStream consumer; a handler
// error nacks the message so it is redelivered.
//
//	cc, err := client.ConsumeStream(ctx, "EDITS", "featuresync", "edits.>",
//	    func(ctx context.Context, data []byte) error {
//	        return handle(ctx, data)
//	    })
//
// # Testing
//
// NewTestClient starts a NATS server with testcontainers and returns a
// connected Client; it skips under -short.
package natsclient
