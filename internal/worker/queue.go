package worker

import (
	"sync"
	"time"
)

type queuedJob struct {
	id         string
	name       string
	fn         Job
	enqueuedAt time.Time
}

// queue is one worker's FIFO.
type queue struct {
	idx  int
	mu   sync.Mutex
	jobs []queuedJob
	wake chan struct{}
}

func newQueue(idx int) *queue {
	return &queue{idx: idx, wake: make(chan struct{}, 1)}
}

func (q *queue) push(j queuedJob) {
	q.mu.Lock()
	q.jobs = append(q.jobs, j)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *queue) pop() (queuedJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return queuedJob{}, false
	}
	j := q.jobs[0]
	q.jobs[0] = queuedJob{}
	q.jobs = q.jobs[1:]
	return j, true
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}
