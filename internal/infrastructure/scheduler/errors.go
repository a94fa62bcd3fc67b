package scheduler

import "errors"

var (
	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("scheduler: invalid configuration")

	// ErrNoConsumers is returned when a worker is started without consumers
	ErrNoConsumers = errors.New("scheduler: worker has no consumers")

	// ErrAlreadyRunning is returned when Start is called twice on a group
	ErrAlreadyRunning = errors.New("scheduler: already running")
)
