package broker

import (
	"context"
	"errors"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Event kinds recorded by MockTransport.
const (
	EventDial            = "dial"
	EventConnectionClose = "connection.close"
	EventHeartbeat       = "heartbeat"
	EventChannelOpen     = "channel.open"
	EventChannelClose    = "channel.close"
	EventQueueDeclare    = "queue.declare"
	EventPublish         = "publish"
)

// MockPublishing is a message captured by a MockChannel.
type MockPublishing struct {
	ChannelID int
	Queue     string
	Msg       amqp.Publishing
}

// MockTransport is an in-memory broker for tests. Set the *Err fields to make
// the matching operation fail.
type MockTransport struct {
	DialErr         error
	ChannelErr      error
	HeartbeatErr    error
	PublishErr      error
	ChannelCloseErr error
	ConnCloseErr    error

	mu         sync.Mutex
	events     []string
	published  []MockPublishing
	conns      []*MockConnection
	nextChanID int
}

func (t *MockTransport) Dial(ep Endpoint) (Connection, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.events = append(t.events, EventDial)
	if t.DialErr != nil {
		return nil, t.DialErr
	}
	conn := &MockConnection{transport: t}
	t.conns = append(t.conns, conn)
	return conn, nil
}

func (t *MockTransport) record(event string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, event)
}

// Events returns every recorded event in order.
func (t *MockTransport) Events() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.events...)
}

// Count returns how many times event was recorded.
func (t *MockTransport) Count(event string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, e := range t.events {
		if e == event {
			n++
		}
	}
	return n
}

func (t *MockTransport) Published() []MockPublishing {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]MockPublishing(nil), t.published...)
}

// Connections returns every connection dialed so far.
func (t *MockTransport) Connections() []*MockConnection {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*MockConnection(nil), t.conns...)
}

// Sever simulates the broker dropping every connection.
func (t *MockTransport) Sever() {
	for _, c := range t.Connections() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
	}
}

type MockConnection struct {
	transport *MockTransport

	mu       sync.Mutex
	closed   bool
	channels []*MockChannel
}

func (c *MockConnection) Channel() (Channel, error) {
	t := c.transport
	t.mu.Lock()
	defer t.mu.Unlock()

	t.events = append(t.events, EventChannelOpen)
	if t.ChannelErr != nil {
		return nil, t.ChannelErr
	}
	if c.IsClosed() {
		return nil, amqp.ErrClosed
	}
	t.nextChanID++
	ch := &MockChannel{ID: t.nextChanID, conn: c}

	c.mu.Lock()
	c.channels = append(c.channels, ch)
	c.mu.Unlock()
	return ch, nil
}

func (c *MockConnection) Heartbeat() error {
	c.transport.record(EventHeartbeat)
	if c.transport.HeartbeatErr != nil {
		return c.transport.HeartbeatErr
	}
	if c.IsClosed() {
		return amqp.ErrClosed
	}
	return nil
}

func (c *MockConnection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *MockConnection) Close() error {
	c.transport.record(EventConnectionClose)
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.transport.ConnCloseErr
}

// Channels returns the channels opened on this connection.
func (c *MockConnection) Channels() []*MockChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*MockChannel(nil), c.channels...)
}

type MockChannel struct {
	ID int

	conn   *MockConnection
	mu     sync.Mutex
	closed bool
}

func (c *MockChannel) QueueDeclare(name string) error {
	if c.IsClosed() {
		return amqp.ErrClosed
	}
	c.conn.transport.record(EventQueueDeclare)
	return nil
}

func (c *MockChannel) Publish(ctx context.Context, queue string, msg amqp.Publishing) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.IsClosed() {
		return amqp.ErrClosed
	}

	t := c.conn.transport
	t.mu.Lock()
	defer t.mu.Unlock()

	t.events = append(t.events, EventPublish)
	if t.PublishErr != nil {
		return t.PublishErr
	}
	t.published = append(t.published, MockPublishing{ChannelID: c.ID, Queue: queue, Msg: msg})
	return nil
}

func (c *MockChannel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed || c.conn.IsClosed()
}

func (c *MockChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.conn.transport.record(EventChannelClose)
	return c.conn.transport.ChannelCloseErr
}

// ErrMockRefused is a convenient dial error for tests.
var ErrMockRefused = errors.New("connection refused")
