// Package telemetry wires observability for the publisher side:
//
//   - logging.go: structured logging through log/slog
//   - metrics.go: Prometheus counters for connections, channels and publishes
//
// Library packages take a *slog.Logger and a *Metrics through their options and
// default to a silent logger and unregistered collectors.
package telemetry
