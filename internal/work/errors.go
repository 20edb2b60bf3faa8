package work

import "errors"

var (
	// ErrWorkNotFound is returned for unknown work IDs.
	ErrWorkNotFound = errors.New("work not found")

	// ErrWorkFinished is returned when cancelling work that already
	// reached a terminal state.
	ErrWorkFinished = errors.New("work already finished")

	// ErrUnknownWorker is returned when enqueuing a kind without a
	// registered worker.
	ErrUnknownWorker = errors.New("unknown worker kind")

	// ErrWorkerExists is returned when registering a kind twice.
	ErrWorkerExists = errors.New("worker already registered")

	// ErrManagerStopped is returned once the manager is shutting down.
	ErrManagerStopped = errors.New("work manager stopped")

	// ErrManagerStarted is returned when registering workers or starting
	// a manager that is already running.
	ErrManagerStarted = errors.New("work manager already started")
)
