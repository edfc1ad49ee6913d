package control

import "errors"

var (
	// ErrUnavailable is returned by a Controller that no longer accepts
	// commands, e.g. while the engine shuts down.
	ErrUnavailable = errors.New("engine unavailable")

	errNoEvents = errors.New("event stream disabled")
)
