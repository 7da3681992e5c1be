package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync"
	"time"

	"base-task-queue/internal/config"
	"base-task-queue/internal/database"
	"base-task-queue/internal/publisher"
	"base-task-queue/internal/tasks"
	"base-task-queue/internal/telemetry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Example demonstrating tasks spread over several queues, published concurrently
// through one shared connection. Each queue can have its own pool of workers.

func processOrder(ctx context.Context, orderID, action string) error        { return nil }
func sendNotification(ctx context.Context, userID int, message string) error { return nil }
func updateInventory(ctx context.Context, productID string, delta int) error  { return nil }
func resizeImage(ctx context.Context, imageID string, sizes []string) error   { return nil }

func main() {
	logger := telemetry.SetupLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	opts := []publisher.Option{
		publisher.WithLogger(logger),
		publisher.WithMetrics(telemetry.NewMetrics(reg)),
		publisher.WithConnectionName("multi-queue-example"),
	}

	// Keep failed publishes when a database is available
	if cfg.DatabaseConfigured() {
		db, err := database.Connect(cfg)
		if err != nil {
			logger.Warn("database unavailable, failed publishes will not be kept", "error", err)
		} else {
			defer database.Close(db)
			store := database.NewUndeliveredStore(db)
			if err := store.Migrate(context.Background()); err != nil {
				logger.Warn("failed to migrate undelivered store", "error", err)
			} else {
				opts = append(opts, publisher.WithUndeliveredStore(store))
			}
		}
	}

	if addr := os.Getenv("METRICS_ADDR"); addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer srv.Close()
	}

	d, err := publisher.New(cfg, opts...)
	if err != nil {
		logger.Error("failed to create dispatcher", "error", err)
		os.Exit(1)
	}
	defer d.Close()

	orders := d.Task(processOrder, tasks.WithQueue("go.orders"), tasks.WithRetry(5))
	notifications := d.Task(sendNotification, tasks.WithQueue("go.notifications"))
	inventory := d.Task(updateInventory, tasks.WithQueue("go.inventory"), tasks.WithRetry(3))
	images := d.Task(resizeImage,
		tasks.WithQueue("go.image_processor"),
		tasks.WithMaxRunTime(10*time.Minute), // Longer limit for heavy processing
	)

	logger.Info("=== Sending tasks to multiple queues concurrently ===", "tasks", d.Tasks())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	calls := []struct {
		task *tasks.Task
		args []any
	}{
		{orders, []any{"ORD-001", "fulfill"}},
		{notifications, []any{123, "Your order is ready"}},
		{inventory, []any{"PROD-456", -1}},
		{images, []any{"img_12345", []string{"thumbnail", "medium", "large"}}},
		{orders, []any{"ORD-002", "cancel"}},
	}

	var wg sync.WaitGroup
	for i, c := range calls {
		wg.Add(1)
		go func() {
			defer wg.Done()

			id, err := c.task.Call(ctx, c.args...)
			if err != nil {
				logger.Error("failed to send task", "n", i+1, "task", c.task.Name(), "queue", c.task.Queue(), "error", err)
				return
			}
			logger.Info("task sent", "n", i+1, "task", c.task.Name(), "queue", c.task.Queue(), "id", id)
		}()
	}
	wg.Wait()

	logger.Info("=== All tasks sent ===", "connected", d.IsConnected())
}
