package publisher

import (
	"context"

	"base-task-queue/internal/tasks"
)

// Publisher defines the interface for publishing task messages to RabbitMQ
type Publisher interface {
	// Publish sends msg to msg.Queue and returns once the broker accepted it.
	// It never retries.
	Publish(ctx context.Context, msg *tasks.Message) error

	// Republish resends a message kept in the undelivered store and removes
	// it from the store on success.
	Republish(ctx context.Context, id string) error

	// Close closes the RabbitMQ connection
	Close()
}

// UndeliveredStore keeps messages whose publish failed.
// database.UndeliveredStore implements it on top of gorm.
type UndeliveredStore interface {
	Save(ctx context.Context, msg *tasks.Message, cause error) error
	Get(ctx context.Context, id string) (*tasks.Message, error)
	Delete(ctx context.Context, id string) error
}
