package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"base-task-queue/internal/config"
	"base-task-queue/internal/database"
	"base-task-queue/internal/publisher"
	"base-task-queue/internal/telemetry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

type brokerProbe interface {
	Probe() bool
}

// healthHandler returns an http.HandlerFunc for /healthcheck
func healthHandler(b brokerProbe, db *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]interface{}{"status": "ok"}

		if err := database.Ping(ctx, db); err != nil {
			// Undelivered messages cannot be kept or replayed without the database
			status = http.StatusServiceUnavailable
			body["status"] = "down"
			body["database"] = false
			body["database_error"] = err.Error()
		} else {
			body["database"] = true
		}

		// Replays fail while RabbitMQ is down, but the relay keeps running
		rabbitOk := b.Probe()
		body["rabbitmq"] = rabbitOk
		if !rabbitOk && status == http.StatusOK {
			body["status"] = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func startHealthServer(logger *slog.Logger, b brokerProbe, db *gorm.DB) *http.Server {
	port := os.Getenv("HEALTH_PORT")
	if port == "" {
		port = "8080"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthcheck", healthHandler(b, db))
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("health server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server failed", "error", err)
		}
	}()
	return srv
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func envInt(key string, fallback int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func requireDatabase(cfg *config.Config) error {
	if !cfg.DatabaseConfigured() {
		return errors.New("relay requires DB_HOST and DB_DATABASE (plus DB_USERNAME, DB_PASSWORD and DB_PORT as needed)")
	}
	return nil
}

// The relay replays task messages that producers failed to publish and kept
// in the database.
func main() {
	logger := telemetry.SetupLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := requireDatabase(cfg); err != nil {
		logger.Error("invalid relay configuration", "error", err)
		os.Exit(1)
	}

	// Create a context that is canceled on SIGINT or SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(cfg)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(db); err != nil {
			logger.Error("error closing database", "error", err)
		}
	}()

	store := database.NewUndeliveredStore(db)
	if err := store.Migrate(ctx); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}
	logger.Info("AutoMigrate completed")

	d, err := publisher.New(cfg,
		publisher.WithLogger(logger),
		publisher.WithMetrics(telemetry.NewMetrics(prometheus.DefaultRegisterer)),
		publisher.WithUndeliveredStore(store),
		publisher.WithConnectionName("task-relay"),
	)
	if err != nil {
		logger.Error("failed to create dispatcher", "error", err)
		os.Exit(1)
	}
	defer d.Close()

	// RabbitMQ may still be starting; the replay loop keeps trying
	if err := d.Connect(); err != nil {
		logger.Warn("RabbitMQ not reachable yet", "error", err)
	}

	srv := startHealthServer(logger, d, db)

	r := &relay{
		dispatcher: d,
		store:      store,
		batchSize:  envInt("REPLAY_BATCH_SIZE", 100),
		logger:     logger,
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.run(ctx, envDuration("REPLAY_INTERVAL", 30*time.Second))
	}()

	// Wait for termination signal
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	select {
	case <-done:
		logger.Info("replay loop stopped")
	case <-shutdownCtx.Done():
		logger.Warn("timeout waiting for replay loop")
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("health server shutdown failed", "error", err)
	}

	logger.Info("shutdown complete")
}
