package worker

import "errors"

var (
	ErrRunning       = errors.New("worker pool already running")
	ErrQueueNotEmpty = errors.New("worker queue not empty at stop")
)
