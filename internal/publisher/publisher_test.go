package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"

	"base-task-queue/internal/broker"
	"base-task-queue/internal/config"
	"base-task-queue/internal/database"
	"base-task-queue/internal/tasks"
	"base-task-queue/internal/telemetry"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func testConfig() *config.Config {
	return &config.Config{
		RabbitMQHost:     "localhost",
		RabbitMQPort:     "5672",
		RabbitMQUser:     "guest",
		RabbitMQPassword: "guest",
		RabbitMQVHost:    "/",
		DefaultQueue:     "default",
	}
}

var addCalls int

func add(a, b int) int {
	addCalls++
	return a + b
}

func greet(ctx context.Context, name string) error { return nil }

type memoryStore struct {
	mu      sync.Mutex
	msgs    map[string]*tasks.Message
	causes  map[string]error
	saveErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{msgs: map[string]*tasks.Message{}, causes: map[string]error{}}
}

func (s *memoryStore) Save(ctx context.Context, msg *tasks.Message, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.msgs[msg.ID] = msg
	s.causes[msg.ID] = cause
	return nil
}

func (s *memoryStore) Get(ctx context.Context, id string) (*tasks.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.msgs[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return msg, nil
}

func (s *memoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.msgs, id)
	return nil
}

func newTestDispatcher(t *testing.T, opts ...Option) (*Dispatcher, *broker.MockTransport, *telemetry.Metrics) {
	t.Helper()
	transport := &broker.MockTransport{}
	metrics := telemetry.NewMetrics(nil)
	all := append([]Option{WithTransport(transport), WithMetrics(metrics)}, opts...)

	d, err := New(testConfig(), all...)
	require.NoError(t, err)
	t.Cleanup(d.Close)
	return d, transport, metrics
}

func TestNew(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		d, err := New(nil)
		assert.Nil(t, d)
		var cfgErr *config.ConfigurationError
		assert.ErrorAs(t, err, &cfgErr)
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := testConfig()
		cfg.RabbitMQPort = "amqp"

		d, err := New(cfg)
		assert.Nil(t, d)
		var cfgErr *config.ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, "RabbitMQPort", cfgErr.Field)
	})

	t.Run("does not connect", func(t *testing.T) {
		d, transport, _ := newTestDispatcher(t)
		assert.False(t, d.IsConnected())
		assert.Empty(t, transport.Events())
	})
}

func TestCallPublishesToTaskQueue(t *testing.T) {
	addCalls = 0
	d, transport, metrics := newTestDispatcher(t)
	addTask := d.Task(add, tasks.WithQueue("math"), tasks.WithRetry(3))

	id, err := addTask.Call(context.Background(), 2, 3)
	require.NoError(t, err)
	assert.Zero(t, addCalls)
	assert.True(t, d.IsConnected())

	published := transport.Published()
	require.Len(t, published, 1)
	assert.Equal(t, "math", published[0].Queue)
	assert.Equal(t, id, published[0].Msg.MessageId)

	msg, err := tasks.Decode(published[0].Msg.Body)
	require.NoError(t, err)
	assert.Equal(t, addTask.Name(), msg.Task)
	assert.Equal(t, 3, msg.Retry)
	assert.Nil(t, msg.MaxRunTime)
	assert.Equal(t, []any{float64(2), float64(3)}, msg.Args)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(published[0].Msg.Body, &raw))
	assert.Equal(t, map[string]any{}, raw["kwargs"])

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.MessagesPublished.WithLabelValues("math")))
	assert.Zero(t, testutil.ToFloat64(metrics.PublishFailures.WithLabelValues("math")))
}

func TestDefaultQueueComesFromConfig(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultQueue = "reports"
	d, err := New(cfg, WithTransport(&broker.MockTransport{}))
	require.NoError(t, err)
	defer d.Close()

	task := d.Task(greet)
	assert.Equal(t, "reports", task.Queue())

	override := d.Task(add, tasks.WithQueue("math"))
	assert.Equal(t, "math", override.Queue())
}

func TestRegistration(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	t.Run("bare form", func(t *testing.T) {
		task := d.Task(add)
		got, ok := d.Lookup(task.Name())
		require.True(t, ok)
		assert.Same(t, task, got)
	})

	t.Run("parameterized form", func(t *testing.T) {
		mathTask := d.TaskWith(tasks.WithQueue("math"), tasks.WithRetry(3), tasks.WithName("math.greet"))
		task := mathTask(greet)

		assert.Equal(t, "math.greet", task.Name())
		assert.Equal(t, "math", task.Queue())
		assert.Equal(t, 3, task.Retry())
	})

	t.Run("duplicate name", func(t *testing.T) {
		_, err := d.Register(greet, tasks.WithName("math.greet"))
		assert.ErrorIs(t, err, ErrDuplicateTask)
	})

	t.Run("queue name passed as function", func(t *testing.T) {
		_, err := d.Register("math")
		assert.ErrorIs(t, err, tasks.ErrNotFunc)

		assert.Panics(t, func() { d.Task("math") })
	})

	plain := d.Task(greet)
	assert.ElementsMatch(t, []string{tasks.FuncName(add), "math.greet", plain.Name()}, d.Tasks())
}

func TestPublishReusesConnection(t *testing.T) {
	d, transport, _ := newTestDispatcher(t)
	task := d.Task(add, tasks.WithQueue("math"))
	ctx := context.Background()

	_, err := task.Call(ctx, 1, 2)
	require.NoError(t, err)
	_, err = task.Call(ctx, 3, 4)
	require.NoError(t, err)

	assert.Equal(t, 1, transport.Count(broker.EventDial))
	assert.Equal(t, 2, transport.Count(broker.EventChannelOpen))
	assert.Equal(t, 2, transport.Count(broker.EventChannelClose))

	published := transport.Published()
	require.Len(t, published, 2)
	assert.NotEqual(t, published[0].ChannelID, published[1].ChannelID)
}

func TestPublishConnectionRefused(t *testing.T) {
	store := newMemoryStore()
	d, transport, metrics := newTestDispatcher(t, WithUndeliveredStore(store))
	transport.DialErr = broker.ErrMockRefused
	task := d.Task(add, tasks.WithQueue("math"))

	id, err := task.Call(context.Background(), 1, 2)
	assert.Empty(t, id)

	var connErr *broker.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "localhost:5672", connErr.Address)
	assert.ErrorIs(t, err, broker.ErrMockRefused)
	assert.False(t, d.IsConnected())

	assert.Len(t, store.msgs, 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.PublishFailures.WithLabelValues("math")))
}

func TestPublishFailure(t *testing.T) {
	boom := errors.New("channel flow")
	store := newMemoryStore()
	d, transport, _ := newTestDispatcher(t, WithUndeliveredStore(store))
	transport.PublishErr = boom
	task := d.Task(add, tasks.WithQueue("math"))

	_, err := task.Call(context.Background(), 1, 2)

	var pubErr *broker.PublishError
	require.ErrorAs(t, err, &pubErr)
	assert.Equal(t, "math", pubErr.Queue)
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, 1, transport.Count(broker.EventChannelClose), "channel is released on failure")
	assert.True(t, d.IsConnected(), "a failed publish keeps the connection")

	require.Len(t, store.msgs, 1)
	for _, cause := range store.causes {
		assert.ErrorIs(t, cause, boom)
	}
}

func TestPublishCancelledContext(t *testing.T) {
	store := newMemoryStore()
	d, _, _ := newTestDispatcher(t, WithUndeliveredStore(store))
	task := d.Task(add)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := task.Call(ctx, 1, 2)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, store.msgs, 1, "the message is kept although ctx is done")
}

func TestStoreFailureDoesNotMaskPublishError(t *testing.T) {
	store := newMemoryStore()
	store.saveErr = errors.New("disk full")
	d, transport, _ := newTestDispatcher(t, WithUndeliveredStore(store))
	transport.PublishErr = errors.New("nack")

	_, err := d.Task(add).Call(context.Background(), 1, 2)
	var pubErr *broker.PublishError
	assert.ErrorAs(t, err, &pubErr)
}

func TestRepublish(t *testing.T) {
	store := newMemoryStore()
	d, transport, _ := newTestDispatcher(t, WithUndeliveredStore(store))
	transport.DialErr = broker.ErrMockRefused
	task := d.Task(add, tasks.WithQueue("math"))
	ctx := context.Background()

	_, err := task.Call(ctx, 1, 2)
	require.Error(t, err)
	require.Len(t, store.msgs, 1)

	var id string
	for k := range store.msgs {
		id = k
	}

	transport.DialErr = nil
	require.NoError(t, d.Republish(ctx, id))
	assert.Empty(t, store.msgs)

	published := transport.Published()
	require.Len(t, published, 1)
	assert.Equal(t, id, published[0].Msg.MessageId)

	assert.ErrorIs(t, d.Republish(ctx, id), database.ErrNotFound)
}

func TestRepublishWithoutStore(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	assert.ErrorIs(t, d.Republish(context.Background(), "x"), ErrNoUndeliveredStore)
}

func TestRepublishFromDatabase(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	store := database.NewUndeliveredStore(db)
	require.NoError(t, store.Migrate(context.Background()))

	d, transport, _ := newTestDispatcher(t, WithUndeliveredStore(store))
	transport.PublishErr = errors.New("nack")
	ctx := context.Background()

	_, err = d.Task(add, tasks.WithQueue("math")).Call(ctx, 2, 3)
	require.Error(t, err)

	pending, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "math", pending[0].Queue)
	assert.Equal(t, 1, pending[0].Attempts)

	transport.PublishErr = nil
	require.NoError(t, d.Republish(ctx, pending[0].ID.String()))

	pending, err = store.List(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Len(t, transport.Published(), 1)
}

func TestLostConnectionIsNotReplacedImplicitly(t *testing.T) {
	d, transport, _ := newTestDispatcher(t)
	task := d.Task(add)
	ctx := context.Background()

	_, err := task.Call(ctx, 1, 2)
	require.NoError(t, err)

	transport.Sever()
	assert.False(t, d.Probe())
	assert.False(t, d.IsConnected())

	_, err = task.Call(ctx, 1, 2)
	var connErr *broker.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.ErrorIs(t, err, broker.ErrManagerClosed)
	assert.Equal(t, 1, transport.Count(broker.EventDial))

	require.NoError(t, d.Reconnect())
	_, err = task.Call(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, transport.Count(broker.EventDial))
}

func TestClose(t *testing.T) {
	d, transport, _ := newTestDispatcher(t)
	task := d.Task(add)

	_, err := task.Call(context.Background(), 1, 2)
	require.NoError(t, err)

	d.Close()
	d.Close()
	assert.Equal(t, 1, transport.Count(broker.EventConnectionClose))
	assert.False(t, d.IsConnected())

	_, err = task.Call(context.Background(), 1, 2)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, d.Reconnect(), ErrClosed)
}

func TestConcurrentCalls(t *testing.T) {
	d, transport, _ := newTestDispatcher(t)
	task := d.Task(add, tasks.WithQueue("math"))

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := task.Call(context.Background(), i, i)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, transport.Count(broker.EventDial))
	assert.Len(t, transport.Published(), 20)
	assert.Equal(t, 20, transport.Count(broker.EventChannelClose))
}

// Integration test (requires RabbitMQ to be running)
func TestIntegration_Publish(t *testing.T) {
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run")
	}

	cfg, err := config.Load()
	require.NoError(t, err)

	d, err := New(cfg, WithConnectionName("publisher-integration-test"))
	require.NoError(t, err)
	defer d.Close()

	task := d.Task(add, tasks.WithQueue("integration_test_queue"))
	id, err := task.Call(context.Background(), 2, 3)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.True(t, d.Probe())
}

func TestConnect(t *testing.T) {
	d, transport, _ := newTestDispatcher(t)

	require.NoError(t, d.Connect())
	assert.True(t, d.IsConnected())
	assert.True(t, d.Probe())
	require.NoError(t, d.Connect())

	assert.Equal(t, 1, transport.Count(broker.EventDial))
	assert.Equal(t, 2, transport.Count(broker.EventChannelClose))
	assert.Empty(t, transport.Published())

	transport.Sever()
	var connErr *broker.ConnectionError
	assert.ErrorAs(t, d.Connect(), &connErr)
}

func TestConcurrentRegisterSameName(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	const workers = 30
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Register(greet, tasks.WithName("notify.greet"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	registered := 0
	for err := range errs {
		if err == nil {
			registered++
			continue
		}
		assert.ErrorIs(t, err, ErrDuplicateTask)
	}
	assert.Equal(t, 1, registered)
	assert.Equal(t, []string{"notify.greet"}, d.Tasks())
}
