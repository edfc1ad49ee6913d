package worker

import (
	"context"
	"time"
)

// Job runs off the render thread. It must not touch GPU state directly;
// hand GPU work back with Pool.Handoff.
type Job func(ctx context.Context) error

// Config sizes the pool. Threads == 0 runs every job synchronously on the
// caller.
type Config struct {
	Threads int
	// IdleSleep bounds how long an idle worker waits before re-checking its
	// queue. Default 1ms.
	IdleSleep time.Duration
	// WaitPoll is the redraw interval of Wait's loading indicator.
	// Default 10ms.
	WaitPoll time.Duration
}

// SharedContext is a platform rendering context bound to one worker thread.
type SharedContext interface {
	MakeCurrent() error
	Release() error
}

// ContextFactory creates secondary contexts that share objects with the
// main context. It is optional: without one, workers are CPU-only and GPU
// objects are created on the render thread through Handoff.
type ContextFactory interface {
	NewShared(worker int) (SharedContext, error)
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Threads   int    `json:"threads"`
	Running   bool   `json:"running"`
	Pending   int64  `json:"pending"`
	Queued    []int  `json:"queued,omitempty"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Panicked  uint64 `json:"panicked"`
	Handoffs  int    `json:"handoffs"`
}

// JobEvent is published when a job fails.
type JobEvent struct {
	ID     string        `json:"id"`
	Name   string        `json:"name"`
	Queue  int           `json:"queue"`
	Took   time.Duration `json:"took"`
	Error  string        `json:"error,omitempty"`
	Panics bool          `json:"panic,omitempty"`
}
