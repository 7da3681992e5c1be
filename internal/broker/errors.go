package broker

import (
	"errors"
	"fmt"
)

// ErrManagerClosed is returned when a closed manager is asked for a connection.
// Reconnecting requires a new manager.
var ErrManagerClosed = errors.New("connection manager is closed")

// ConnectionError reports a failure to establish the connection or to open a
// channel on it.
type ConnectionError struct {
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to RabbitMQ at %s: %v", e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// PublishError reports a failure to send on an open channel.
type PublishError struct {
	Queue string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("failed to publish message to queue %q: %v", e.Queue, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// ReleaseError is logged when closing a channel or connection fails during
// cleanup. It is never returned to callers.
type ReleaseError struct {
	Resource string
	Err      error
}

func (e *ReleaseError) Error() string {
	return fmt.Sprintf("failed to close %s: %v", e.Resource, e.Err)
}

func (e *ReleaseError) Unwrap() error {
	return e.Err
}
