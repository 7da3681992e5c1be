// Package broker owns the producer's session with RabbitMQ.
//
// A ConnectionManager holds at most one connection, opened lazily on the first
// Channel call and never reopened once it has been closed or found dead:
//
//	Unopened -> Open -> Closed
//
// Work runs inside scopes that always release what they acquired:
//
//	err := m.WithChannel(func(ch broker.Channel) error {
//		return ch.Publish(ctx, "math", msg)
//	})
//
// Channels are not safe for concurrent use. Goroutines that publish at the same
// time each take their own channel from the shared connection; the manager
// serializes connection state changes and channel acquisition.
//
// Release errors (closing a channel or a connection) are logged and counted,
// never returned, so they cannot hide the outcome of the scoped work.
package broker
