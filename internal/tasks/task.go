package tasks

import (
	"context"
	"fmt"
	"reflect"
	"time"
)

// DefaultQueue is used when a task is registered without a queue.
const DefaultQueue = "default"

// Unlimited is the max run time of tasks that may run forever.
const Unlimited time.Duration = 0

// Publisher sends task messages to the broker.
type Publisher interface {
	Publish(ctx context.Context, msg *Message) error
}

// Task is a function registered for queue-mediated invocation. Calling it
// publishes a message; the function body only ever runs on a worker.
// A Task is immutable after construction.
type Task struct {
	fn         any
	arity      arity
	name       string
	queue      string
	retry      int
	maxRunTime time.Duration
	publisher  Publisher
}

type settings struct {
	name       string
	queue      string
	retry      int
	maxRunTime time.Duration
}

// Option configures a Task at registration time.
type Option func(*settings)

// WithQueue sets the queue the task's messages are published to.
func WithQueue(queue string) Option {
	return func(s *settings) { s.queue = queue }
}

// WithRetry sets how many times a worker may re-run the task after a failure.
func WithRetry(retry int) Option {
	return func(s *settings) { s.retry = retry }
}

// WithMaxRunTime limits how long a worker lets the task run. Unlimited (the
// default) removes the limit.
func WithMaxRunTime(d time.Duration) Option {
	return func(s *settings) { s.maxRunTime = d }
}

// WithName overrides the task name, which defaults to the function's fully
// qualified name. Workers look tasks up by this name.
func WithName(name string) Option {
	return func(s *settings) { s.name = name }
}

// New wraps fn into a Task. It performs no I/O.
func New(fn any, p Publisher, opts ...Option) (*Task, error) {
	if !isInvocable(fn) {
		return nil, fmt.Errorf("%w, got %T", ErrNotFunc, fn)
	}

	s := settings{queue: DefaultQueue}
	for _, opt := range opts {
		opt(&s)
	}
	if s.name == "" {
		s.name = FuncName(fn)
	}

	switch {
	case s.name == "":
		return nil, ErrInvalidName
	case s.queue == "":
		return nil, ErrInvalidQueue
	case s.retry < 0:
		return nil, fmt.Errorf("%w: %d", ErrInvalidRetry, s.retry)
	case s.maxRunTime < 0:
		return nil, fmt.Errorf("%w: %s", ErrInvalidMaxRunTime, s.maxRunTime)
	}

	return &Task{
		fn:         fn,
		arity:      arityOf(reflect.TypeOf(fn)),
		name:       s.name,
		queue:      s.queue,
		retry:      s.retry,
		maxRunTime: s.maxRunTime,
		publisher:  p,
	}, nil
}

func (t *Task) Name() string  { return t.name }
func (t *Task) Queue() string { return t.queue }
func (t *Task) Retry() int    { return t.retry }

// MaxRunTime returns the limit, or Unlimited.
func (t *Task) MaxRunTime() time.Duration { return t.maxRunTime }

// Func returns the wrapped function, for workers that execute it.
func (t *Task) Func() any { return t.fn }

func (t *Task) String() string {
	return fmt.Sprintf("Task(%s, queue=%s)", t.name, t.queue)
}

// Call publishes an invocation with positional arguments and returns the
// message id.
func (t *Task) Call(ctx context.Context, args ...any) (string, error) {
	return t.CallKw(ctx, args, nil)
}

// CallKw publishes an invocation with positional and keyword arguments.
func (t *Task) CallKw(ctx context.Context, args []any, kwargs map[string]any) (string, error) {
	if t.publisher == nil {
		return "", ErrNoPublisher
	}
	msg, err := t.Message(args, kwargs)
	if err != nil {
		return "", err
	}
	if err := t.publisher.Publish(ctx, msg); err != nil {
		return "", err
	}
	return msg.ID, nil
}

// Message builds the message for one invocation without sending it.
func (t *Task) Message(args []any, kwargs map[string]any) (*Message, error) {
	if !t.arity.accepts(len(args), len(kwargs) > 0) {
		return nil, fmt.Errorf("%w: %s takes %d, got %d", ErrArgCount, t.name, t.arity.params, len(args))
	}
	return newMessage(t, args, kwargs), nil
}
