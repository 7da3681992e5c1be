package broker

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	defaultHeartbeat   = 10 * time.Second
	defaultDialTimeout = 30 * time.Second
)

// AMQPTransport dials RabbitMQ with amqp091-go.
type AMQPTransport struct{}

func (AMQPTransport) Dial(ep Endpoint) (Connection, error) {
	conn, err := amqp.DialConfig(fmt.Sprintf("amqp://%s/", ep.Address()), amqpConfig(ep))
	if err != nil {
		return nil, err
	}
	return &amqpConnection{conn: conn}, nil
}

func amqpConfig(ep Endpoint) amqp.Config {
	heartbeat := ep.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	timeout := ep.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}

	props := amqp.NewConnectionProperties()
	if ep.ConnectionName != "" {
		props.SetClientConnectionName(ep.ConnectionName)
	}

	return amqp.Config{
		SASL:       []amqp.Authentication{&amqp.PlainAuth{Username: ep.User, Password: ep.Password}},
		Vhost:      ep.VHost,
		Heartbeat:  heartbeat,
		Locale:     "en_US",
		Properties: props,
		Dial:       amqp.DefaultDial(timeout),
	}
}

type amqpConnection struct {
	conn *amqp.Connection
}

func (c *amqpConnection) Channel() (Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	return &amqpChannel{ch: ch}, nil
}

// Heartbeat opens and closes a throwaway channel. Both are synchronous
// methods, so a connection that stopped answering fails here.
func (c *amqpConnection) Heartbeat() error {
	if c.conn.IsClosed() {
		return amqp.ErrClosed
	}
	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}
	return ch.Close()
}

func (c *amqpConnection) IsClosed() bool {
	return c.conn.IsClosed()
}

func (c *amqpConnection) Close() error {
	if c.conn.IsClosed() {
		return nil
	}
	return c.conn.Close()
}

type amqpChannel struct {
	ch *amqp.Channel
}

func (c *amqpChannel) QueueDeclare(name string) error {
	_, err := c.ch.QueueDeclare(
		name,  // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	return nil
}

func (c *amqpChannel) Publish(ctx context.Context, queue string, msg amqp.Publishing) error {
	return c.ch.PublishWithContext(
		ctx,
		"",    // exchange (empty = default)
		queue, // routing key
		false, // mandatory
		false, // immediate
		msg,
	)
}

func (c *amqpChannel) IsClosed() bool {
	return c.ch.IsClosed()
}

func (c *amqpChannel) Close() error {
	if c.ch.IsClosed() {
		return nil
	}
	return c.ch.Close()
}
