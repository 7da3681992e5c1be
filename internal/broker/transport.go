package broker

import (
	"context"
	"net"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Endpoint is everything needed to reach one virtual host on a broker.
type Endpoint struct {
	Host     string
	Port     string
	User     string
	Password string
	VHost    string

	// Zero values fall back to the client defaults.
	Heartbeat   time.Duration
	DialTimeout time.Duration

	// ConnectionName is shown in the management UI.
	ConnectionName string
}

// Address returns host:port.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, e.Port)
}

// Transport establishes connections. AMQPTransport is the production
// implementation; MockTransport records calls for tests.
type Transport interface {
	Dial(ep Endpoint) (Connection, error)
}

// Connection is one network session with the broker.
type Connection interface {
	// Channel opens a new channel multiplexed over this connection.
	Channel() (Channel, error)

	// Heartbeat performs a lightweight round trip with the broker. A non-nil
	// error means the connection is protocol-dead even if the socket is up.
	Heartbeat() error

	IsClosed() bool
	Close() error
}

// Channel is a logical session used for a single publish or a short batch.
type Channel interface {
	// QueueDeclare declares a durable queue, a no-op if it already exists.
	QueueDeclare(name string) error

	// Publish sends msg to queue through the default exchange.
	Publish(ctx context.Context, queue string, msg amqp.Publishing) error

	IsClosed() bool

	// Close releases the channel. Closing a closed channel returns nil.
	Close() error
}
