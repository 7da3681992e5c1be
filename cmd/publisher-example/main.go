package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"base-task-queue/internal/broker"
	"base-task-queue/internal/config"
	"base-task-queue/internal/publisher"
	"base-task-queue/internal/tasks"
	"base-task-queue/internal/telemetry"
)

// Example demonstrating how to turn functions into tasks and publish them.
// The function bodies run on workers, never here.

func add(a, b int) int {
	return a + b
}

func sendEmail(ctx context.Context, to, subject, body string) error {
	return nil
}

func generateReport(ctx context.Context, from, to string, options map[string]any) error {
	return nil
}

func main() {
	logger := telemetry.SetupLogger()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	d, err := publisher.New(cfg,
		publisher.WithLogger(logger),
		publisher.WithConnectionName("publisher-example"),
	)
	if err != nil {
		logger.Error("failed to create dispatcher", "error", err)
		os.Exit(1)
	}
	defer d.Close()

	// Bare form: only the function, everything else defaults
	addTask := d.Task(add)

	// Inline options
	emailTask := d.Task(sendEmail,
		tasks.WithQueue("email"),
		tasks.WithRetry(3),
		tasks.WithMaxRunTime(2*time.Minute),
	)

	// Parameterized form: options first, function later
	analytics := d.TaskWith(tasks.WithQueue("analytics"), tasks.WithName("reports.generate"))
	reportTask := analytics(generateReport)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Example 1: positional arguments
	logger.Info("=== Example 1: positional arguments ===")
	if id, err := addTask.Call(ctx, 2, 3); err != nil {
		report(logger, addTask, err)
	} else {
		logger.Info("task submitted", "task", addTask.String(), "id", id)
	}

	// Example 2: retry and max run time travel with the message
	logger.Info("=== Example 2: retry and max run time ===")
	if id, err := emailTask.Call(ctx, "user@example.com", "Welcome!", "Thank you for signing up"); err != nil {
		report(logger, emailTask, err)
	} else {
		logger.Info("task submitted", "task", emailTask.String(), "id", id,
			"retry", emailTask.Retry(), "max_run_time", emailTask.MaxRunTime())
	}

	// Example 3: keyword arguments
	logger.Info("=== Example 3: keyword arguments ===")
	id, err := reportTask.CallKw(ctx,
		[]any{"2025-12-01", "2025-12-30"},
		map[string]any{"options": map[string]any{"format": "pdf"}},
	)
	if err != nil {
		report(logger, reportTask, err)
	} else {
		logger.Info("task submitted", "task", reportTask.String(), "id", id)
	}

	// Example 4: wrong argument count is caught before anything is sent
	logger.Info("=== Example 4: argument check ===")
	if _, err := addTask.Call(ctx, 1); errors.Is(err, tasks.ErrArgCount) {
		logger.Info("rejected locally", "error", err)
	}

	logger.Info("=== All examples completed! ===", "connected", d.IsConnected())
}

func report(logger *slog.Logger, t *tasks.Task, err error) {
	var connErr *broker.ConnectionError
	var pubErr *broker.PublishError
	switch {
	case errors.As(err, &connErr):
		logger.Error("RabbitMQ unreachable", "task", t.Name(), "address", connErr.Address, "error", err)
	case errors.As(err, &pubErr):
		logger.Error("publish rejected", "task", t.Name(), "queue", pubErr.Queue, "error", err)
	default:
		logger.Error("failed to submit task", "task", t.Name(), "error", err)
	}
}
