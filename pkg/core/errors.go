package core

import "errors"

var (
	// ErrRunNotFound indicates the requested run UUID is not registered.
	ErrRunNotFound = errors.New("run not found")

	// ErrInvalidConfig indicates a configuration value failed validation.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrTerminated indicates the run's end criteria have already been
	// met; further generations must not be scheduled.
	ErrTerminated = errors.New("run has already terminated")

	// ErrUnknownTask indicates a run names a task not present in the
	// task registry.
	ErrUnknownTask = errors.New("unknown task")
)
