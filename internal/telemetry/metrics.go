package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "taskqueue"

// Metrics groups the producer-side collectors.
type Metrics struct {
	ConnectionsOpened prometheus.Counter
	ConnectionsClosed prometheus.Counter
	ConnectFailures   prometheus.Counter
	ChannelsOpened    prometheus.Counter
	ChannelsClosed    prometheus.Counter
	ProbeFailures     prometheus.Counter
	ReleaseFailures   prometheus.Counter

	MessagesPublished *prometheus.CounterVec
	PublishFailures   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
// A nil reg leaves them unregistered, which is what library defaults use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	counter := func(name, help string) prometheus.Counter {
		return f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      name,
			Help:      help,
		})
	}

	return &Metrics{
		ConnectionsOpened: counter("connections_opened_total", "Broker connections established."),
		ConnectionsClosed: counter("connections_closed_total", "Broker connections closed or dropped as dead."),
		ConnectFailures:   counter("connect_failures_total", "Failed attempts to establish a broker connection."),
		ChannelsOpened:    counter("channels_opened_total", "Channels opened on a broker connection."),
		ChannelsClosed:    counter("channels_closed_total", "Channels closed by a channel scope."),
		ProbeFailures:     counter("probe_failures_total", "Liveness probes that found the connection dead."),
		ReleaseFailures:   counter("release_failures_total", "Errors swallowed while closing channels or connections."),

		MessagesPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publisher",
			Name:      "messages_published_total",
			Help:      "Task messages handed to the broker.",
		}, []string{"queue"}),
		PublishFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publisher",
			Name:      "publish_failures_total",
			Help:      "Task messages that could not be published.",
		}, []string{"queue"}),
	}
}
