package broker

import (
	"log/slog"
	"sync"

	"base-task-queue/internal/telemetry"
)

// State is the lifecycle stage of a ConnectionManager.
type State int

const (
	StateUnopened State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConnectionManager owns a lazily established broker connection.
type ConnectionManager struct {
	endpoint  Endpoint
	transport Transport
	logger    *slog.Logger
	metrics   *telemetry.Metrics

	mu    sync.Mutex
	state State
	conn  Connection
}

type Option func(*ConnectionManager)

func WithTransport(t Transport) Option {
	return func(m *ConnectionManager) {
		if t != nil {
			m.transport = t
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *ConnectionManager) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithMetrics(mt *telemetry.Metrics) Option {
	return func(m *ConnectionManager) {
		if mt != nil {
			m.metrics = mt
		}
	}
}

// NewConnectionManager stores the endpoint. No connection is made until Open
// or Channel is called.
func NewConnectionManager(ep Endpoint, opts ...Option) *ConnectionManager {
	m := &ConnectionManager{
		endpoint:  ep,
		transport: AMQPTransport{},
		logger:    telemetry.Discard(),
		metrics:   telemetry.NewMetrics(nil),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "broker", "address", ep.Address(), "vhost", ep.VHost)
	return m
}

func (m *ConnectionManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.refreshLocked()
	return m.state
}

// IsOpen reports whether a connection exists and has not been found dead.
func (m *ConnectionManager) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.refreshLocked()
	return m.state == StateOpen
}

// Open dials the broker with the stored endpoint. Calling Open on an open
// manager is a programming error and panics; calling it on a closed manager
// returns a *ConnectionError wrapping ErrManagerClosed.
func (m *ConnectionManager) Open() (Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.openLocked(); err != nil {
		return nil, err
	}
	return m.conn, nil
}

// Channel returns a new channel, opening the connection first if needed. If the
// connection is opened here and the channel cannot be created, the connection
// is closed again and the manager stays unopened.
func (m *ConnectionManager) Channel() (Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.refreshLocked()

	openedHere := false
	if m.state == StateUnopened {
		if err := m.openLocked(); err != nil {
			return nil, err
		}
		openedHere = true
	}
	if m.state == StateClosed {
		return nil, &ConnectionError{Address: m.endpoint.Address(), Err: ErrManagerClosed}
	}

	ch, err := m.conn.Channel()
	if err != nil {
		if openedHere {
			m.closeQuietly(m.conn)
			m.conn = nil
			m.state = StateUnopened
		}
		return nil, &ConnectionError{Address: m.endpoint.Address(), Err: err}
	}

	m.metrics.ChannelsOpened.Inc()
	m.logger.Debug("opened new channel")
	return ch, nil
}

// Close closes an open connection. It is a no-op otherwise and never fails;
// close errors are logged.
func (m *ConnectionManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.refreshLocked()
	if m.state != StateOpen {
		m.logger.Debug("not connected", "state", m.state.String())
		return
	}

	if err := m.conn.Close(); err != nil {
		m.releaseFailed(&ReleaseError{Resource: "connection", Err: err})
	}
	m.conn = nil
	m.state = StateClosed
	m.metrics.ConnectionsClosed.Inc()
	m.logger.Info("connection closed")
}

// Probe checks liveness with a round trip to the broker. A failed probe marks
// the connection dead: the manager moves to the closed state and IsOpen
// returns false from then on.
func (m *ConnectionManager) Probe() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.refreshLocked()
	if m.state != StateOpen {
		return false
	}
	if err := m.conn.Heartbeat(); err != nil {
		m.metrics.ProbeFailures.Inc()
		m.markDeadLocked("liveness probe failed", err)
		return false
	}
	return true
}

func (m *ConnectionManager) openLocked() error {
	m.refreshLocked()
	switch m.state {
	case StateOpen:
		panic("broker: Open called while a connection is already open")
	case StateClosed:
		return &ConnectionError{Address: m.endpoint.Address(), Err: ErrManagerClosed}
	}

	conn, err := m.transport.Dial(m.endpoint)
	if err != nil {
		m.metrics.ConnectFailures.Inc()
		m.logger.Warn("RabbitMQ connect failed", "error", err)
		return &ConnectionError{Address: m.endpoint.Address(), Err: err}
	}

	m.conn = conn
	m.state = StateOpen
	m.metrics.ConnectionsOpened.Inc()
	m.logger.Info("connected to RabbitMQ")
	return nil
}

// refreshLocked notices connections the transport already knows are gone.
func (m *ConnectionManager) refreshLocked() {
	if m.state == StateOpen && m.conn.IsClosed() {
		m.markDeadLocked("connection lost", nil)
	}
}

func (m *ConnectionManager) markDeadLocked(reason string, err error) {
	if err != nil {
		m.logger.Warn(reason, "error", err)
	} else {
		m.logger.Warn(reason)
	}
	m.closeQuietly(m.conn)
	m.conn = nil
	m.state = StateClosed
	m.metrics.ConnectionsClosed.Inc()
}

// closeQuietly frees a connection that is dead or half-initialized. Errors
// are expected there and only logged at debug level.
func (m *ConnectionManager) closeQuietly(conn Connection) {
	if conn == nil || conn.IsClosed() {
		return
	}
	if err := conn.Close(); err != nil {
		m.logger.Debug("closing dead connection", "error", err)
	}
}

func (m *ConnectionManager) releaseFailed(err *ReleaseError) {
	m.metrics.ReleaseFailures.Inc()
	m.logger.Warn("release failed", "resource", err.Resource, "error", err.Err)
}
