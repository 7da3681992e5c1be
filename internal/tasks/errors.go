package tasks

import "errors"

var (
	// ErrNotFunc is returned when something other than a function is registered.
	ErrNotFunc = errors.New("task must be a function")

	ErrInvalidQueue      = errors.New("queue name must not be empty")
	ErrInvalidRetry      = errors.New("retry count must not be negative")
	ErrInvalidMaxRunTime = errors.New("max run time must be positive")
	ErrInvalidName       = errors.New("task name must not be empty")

	// ErrArgCount is returned when a call does not match the function signature.
	ErrArgCount = errors.New("wrong number of arguments")

	// ErrDuplicateTask is returned when a task name is already registered.
	ErrDuplicateTask = errors.New("task already registered")

	// ErrNoPublisher is returned by Call on a task built without a publisher.
	ErrNoPublisher = errors.New("task has no publisher")
)
