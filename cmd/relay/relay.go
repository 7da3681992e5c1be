package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"base-task-queue/internal/broker"
	"base-task-queue/internal/models"
)

type republisher interface {
	Republish(ctx context.Context, id string) error
	IsConnected() bool
	Connect() error
	Reconnect() error
}

type pendingLister interface {
	List(ctx context.Context, limit int) ([]models.UndeliveredMessage, error)
}

type relay struct {
	dispatcher republisher
	store      pendingLister
	batchSize  int
	logger     *slog.Logger
}

func (r *relay) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		r.tick(ctx)
	}
}

func (r *relay) tick(ctx context.Context) {
	if err := r.ensureConnected(); err != nil {
		r.logger.Warn("RabbitMQ unavailable", "error", err)
		return
	}

	sent, err := r.replayOnce(ctx)
	if sent > 0 {
		r.logger.Info("replayed undelivered tasks", "count", sent)
	}
	if err != nil {
		r.logger.Warn("replay interrupted", "error", err)
	}
}

// ensureConnected dials when there is no live connection, so health reflects
// the broker even while nothing is pending. A connection found dead is
// replaced first.
func (r *relay) ensureConnected() error {
	if r.dispatcher.IsConnected() {
		return nil
	}
	err := r.dispatcher.Connect()
	if errors.Is(err, broker.ErrManagerClosed) {
		if rerr := r.dispatcher.Reconnect(); rerr != nil {
			return rerr
		}
		err = r.dispatcher.Connect()
	}
	return err
}

// replayOnce republishes one batch, oldest first. It stops at the first
// connection failure since the rest of the batch would fail the same way.
// A connection found dead is replaced so the next round dials again.
func (r *relay) replayOnce(ctx context.Context) (int, error) {
	pending, err := r.store.List(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, msg := range pending {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}

		err := r.dispatcher.Republish(ctx, msg.ID.String())
		if err == nil {
			sent++
			continue
		}

		var connErr *broker.ConnectionError
		if errors.As(err, &connErr) {
			if errors.Is(err, broker.ErrManagerClosed) {
				if rerr := r.dispatcher.Reconnect(); rerr != nil {
					return sent, rerr
				}
			}
			return sent, err
		}
		r.logger.Warn("failed to replay task",
			"task", msg.Task,
			"message_id", msg.ID.String(),
			"attempts", msg.Attempts,
			"error", err,
		)
	}
	return sent, nil
}
