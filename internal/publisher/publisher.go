package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"base-task-queue/internal/broker"
	"base-task-queue/internal/config"
	"base-task-queue/internal/tasks"
	"base-task-queue/internal/telemetry"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("dispatcher is closed")

// ErrDuplicateTask is returned when a task name is registered twice.
var ErrDuplicateTask = tasks.ErrDuplicateTask

// ErrNoUndeliveredStore is returned by Republish when no store is configured.
var ErrNoUndeliveredStore = errors.New("no undelivered store configured")

const saveUndeliveredTimeout = 5 * time.Second

// Dispatcher registers tasks and publishes their invocations over one
// lazily opened broker connection.
type Dispatcher struct {
	endpoint    broker.Endpoint
	transport   broker.Transport
	logger      *slog.Logger
	metrics     *telemetry.Metrics
	registry    *tasks.Registry
	undelivered UndeliveredStore

	defaultQueue string

	mu      sync.Mutex
	manager *broker.ConnectionManager
	closed  bool
}

type Option func(*Dispatcher)

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

// WithTransport replaces the AMQP transport, mostly for tests.
func WithTransport(t broker.Transport) Option {
	return func(d *Dispatcher) { d.transport = t }
}

// WithUndeliveredStore keeps messages whose publish failed.
func WithUndeliveredStore(s UndeliveredStore) Option {
	return func(d *Dispatcher) { d.undelivered = s }
}

// WithConnectionName labels the connection in the RabbitMQ management UI.
func WithConnectionName(name string) Option {
	return func(d *Dispatcher) { d.endpoint.ConnectionName = name }
}

// New validates cfg and prepares a Dispatcher. It does not connect; the
// connection is opened by the first publish.
func New(cfg *config.Config, opts ...Option) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Dispatcher{
		endpoint: broker.Endpoint{
			Host:        cfg.RabbitMQHost,
			Port:        cfg.RabbitMQPort,
			User:        cfg.RabbitMQUser,
			Password:    cfg.RabbitMQPassword,
			VHost:       cfg.RabbitMQVHost,
			Heartbeat:   cfg.Heartbeat(),
			DialTimeout: cfg.ConnectTimeout(),
		},
		transport:    broker.AMQPTransport{},
		logger:       telemetry.Discard(),
		metrics:      telemetry.NewMetrics(nil),
		registry:     tasks.NewRegistry(),
		defaultQueue: cfg.DefaultQueue,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.manager = d.newManager()
	return d, nil
}

func (d *Dispatcher) newManager() *broker.ConnectionManager {
	return broker.NewConnectionManager(d.endpoint,
		broker.WithTransport(d.transport),
		broker.WithLogger(d.logger),
		broker.WithMetrics(d.metrics),
	)
}

// Register turns fn into a task published through d. Options override the
// configured default queue.
func (d *Dispatcher) Register(fn any, opts ...tasks.Option) (*tasks.Task, error) {
	all := append([]tasks.Option{tasks.WithQueue(d.defaultQueue)}, opts...)
	t, err := tasks.New(fn, d, all...)
	if err != nil {
		return nil, err
	}
	if err := d.registry.Add(t); err != nil {
		return nil, err
	}
	return t, nil
}

// Task is Register for package-level declarations:
//
//	var Add = dispatcher.Task(add, tasks.WithQueue("math"))
//
// It panics if fn cannot be registered.
func (d *Dispatcher) Task(fn any, opts ...tasks.Option) *tasks.Task {
	t, err := d.Register(fn, opts...)
	if err != nil {
		panic(fmt.Sprintf("register task: %v", err))
	}
	return t
}

// TaskWith captures options first and returns the function that registers:
//
//	mathTask := dispatcher.TaskWith(tasks.WithQueue("math"), tasks.WithRetry(3))
//	var Add = mathTask(add)
func (d *Dispatcher) TaskWith(opts ...tasks.Option) func(fn any) *tasks.Task {
	return func(fn any) *tasks.Task {
		return d.Task(fn, opts...)
	}
}

// Lookup returns a task registered on d by name.
func (d *Dispatcher) Lookup(name string) (*tasks.Task, bool) {
	return d.registry.Lookup(name)
}

// Tasks returns the registered task names.
func (d *Dispatcher) Tasks() []string {
	return d.registry.Names()
}

// Publish sends msg on a fresh channel. Acquisition failures are returned as
// *broker.ConnectionError, send failures as *broker.PublishError. Failed
// messages go to the undelivered store when one is configured.
func (d *Dispatcher) Publish(ctx context.Context, msg *tasks.Message) error {
	m, err := d.currentManager()
	if err != nil {
		return err
	}

	pub, err := msg.Publishing()
	if err != nil {
		return err
	}

	logger := telemetry.WithTask(d.logger, msg.Task, msg.ID)

	err = m.WithChannel(func(ch broker.Channel) error {
		if err := ch.QueueDeclare(msg.Queue); err != nil {
			return &broker.PublishError{Queue: msg.Queue, Err: err}
		}
		if err := ch.Publish(ctx, msg.Queue, pub); err != nil {
			return &broker.PublishError{Queue: msg.Queue, Err: err}
		}
		return nil
	})
	if err != nil {
		d.metrics.PublishFailures.WithLabelValues(msg.Queue).Inc()
		logger.Error("failed to publish task", "queue", msg.Queue, "error", err)
		d.keepUndelivered(ctx, logger, msg, err)
		return err
	}

	d.metrics.MessagesPublished.WithLabelValues(msg.Queue).Inc()
	logger.Info("task published", "queue", msg.Queue)
	return nil
}

func (d *Dispatcher) Republish(ctx context.Context, id string) error {
	if d.undelivered == nil {
		return ErrNoUndeliveredStore
	}
	msg, err := d.undelivered.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := d.Publish(ctx, msg); err != nil {
		return err
	}
	return d.undelivered.Delete(ctx, id)
}

// keepUndelivered saves msg even if ctx is what made the publish fail.
func (d *Dispatcher) keepUndelivered(ctx context.Context, logger *slog.Logger, msg *tasks.Message, cause error) {
	if d.undelivered == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveUndeliveredTimeout)
	defer cancel()

	if err := d.undelivered.Save(saveCtx, msg, cause); err != nil {
		logger.Error("failed to keep undelivered task", "error", err)
	}
}

func (d *Dispatcher) currentManager() (*broker.ConnectionManager, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrClosed
	}
	return d.manager, nil
}

// Connect opens the broker connection ahead of the first publish by
// acquiring and releasing one channel.
func (d *Dispatcher) Connect() error {
	m, err := d.currentManager()
	if err != nil {
		return err
	}
	return m.WithChannel(func(broker.Channel) error { return nil })
}

// IsConnected reports whether the broker connection is open and alive as far
// as the last check knows.
func (d *Dispatcher) IsConnected() bool {
	m, err := d.currentManager()
	if err != nil {
		return false
	}
	return m.IsOpen()
}

// Probe runs a liveness check on the current connection.
func (d *Dispatcher) Probe() bool {
	m, err := d.currentManager()
	if err != nil {
		return false
	}
	return m.Probe()
}

// Reconnect drops the current connection and starts over with a new,
// unopened one. Publish never does this on its own; callers decide when a
// lost connection should be replaced.
func (d *Dispatcher) Reconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	d.manager.Close()
	d.manager = d.newManager()
	d.logger.Info("broker connection reset")
	return nil
}

// Close closes the broker connection. Further publishes fail with ErrClosed.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.closed = true
	d.manager.Close()
}
