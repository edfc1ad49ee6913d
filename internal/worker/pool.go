// Package worker runs asset decoding off the render thread.
//
// The pool is created around bounded loading phases (startup, refresh):
// Start spins up one goroutine per queue, Go distributes jobs round-robin,
// Wait is the "flush all async loads" barrier and Stop joins everything.
//
// Workers are CPU-only by default. Anything that must run on the render
// thread (GPU object creation from decoded buffers) is queued with Handoff
// and executed by DrainHandoffs, which Wait calls while it spins.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/semaphore"

	"demoplay/internal/eventbus"
	"demoplay/internal/metrics"
	rtsup "demoplay/internal/runtime/supervisor"
	logx "demoplay/pkg/logx"
)

type Option func(*Pool)

func WithLogger(log logx.Logger) Option { return func(p *Pool) { p.log = log } }

func WithBus(bus eventbus.Bus) Option { return func(p *Pool) { p.bus = bus } }

func WithContextFactory(f ContextFactory) Option { return func(p *Pool) { p.contexts = f } }

// WithIdle sets the callback Wait runs between polls, typically a loading
// indicator redraw.
func WithIdle(fn func()) Option { return func(p *Pool) { p.idle = fn } }

type Pool struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	// global is the coarse lock jobs take before mutating shared state.
	global sync.Mutex
	sem    *semaphore.Weighted

	contexts ContextFactory
	idle     func()

	smu     sync.Mutex
	running bool
	queues  []*queue
	stopCh  chan struct{}
	sup     *rtsup.Supervisor

	balancer atomic.Uint64
	pending  atomic.Int64

	completed atomic.Uint64
	failed    atomic.Uint64
	panicked  atomic.Uint64

	hmu      sync.Mutex
	handoffs []func()
}

// New prepares a pool of cfg.Threads queues. Nothing runs until Start.
func New(cfg Config, opts ...Option) *Pool {
	if cfg.Threads < 0 {
		cfg.Threads = 0
	}
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = time.Millisecond
	}
	if cfg.WaitPoll <= 0 {
		cfg.WaitPoll = 10 * time.Millisecond
	}
	p := &Pool{
		cfg: cfg,
		sem: semaphore.NewWeighted(int64(cfg.Threads)),
	}
	for _, o := range opts {
		if o != nil {
			o(p)
		}
	}
	if p.log.IsZero() {
		p.log = logx.Nop()
	}
	return p
}

// Enabled reports whether jobs run asynchronously.
func (p *Pool) Enabled() bool { return p.cfg.Threads > 0 }

func (p *Pool) Threads() int { return p.cfg.Threads }

// Lock takes the pool-wide coarse mutex.
func (p *Pool) Lock() { p.global.Lock() }

func (p *Pool) Unlock() { p.global.Unlock() }

func (p *Pool) Running() bool {
	p.smu.Lock()
	defer p.smu.Unlock()
	return p.running
}

// Start creates the queues and their worker goroutines. With zero threads
// it is a no-op.
func (p *Pool) Start(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	p.smu.Lock()
	defer p.smu.Unlock()
	if p.running {
		return ErrRunning
	}

	p.sup = rtsup.New(ctx, rtsup.WithLogger(p.log))
	p.stopCh = make(chan struct{})
	p.queues = make([]*queue, p.cfg.Threads)
	for i := range p.queues {
		q := newQueue(i)
		p.queues[i] = q
		stop := p.stopCh
		p.sup.Go(fmt.Sprintf("worker.%d", i), func(ctx context.Context) error {
			return p.loop(ctx, stop, q)
		})
	}
	p.running = true
	p.log.Debug("worker pool started", logx.Int("threads", p.cfg.Threads))
	return nil
}

func (p *Pool) loop(ctx context.Context, stop <-chan struct{}, q *queue) error {
	// A shared rendering context is bound to an OS thread.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil
	}
	defer p.sem.Release(1)

	shared := p.openContext(q.idx)
	if shared != nil {
		defer func() {
			if err := shared.Release(); err != nil {
				p.log.Error("worker context release failed", logx.Int("queue", q.idx), logx.Err(err))
			}
		}()
	}

	idle := time.NewTimer(p.cfg.IdleSleep)
	defer idle.Stop()
	for {
		select {
		case <-stop:
			return nil
		case <-ctx.Done():
			return nil
		default:
		}

		if j, ok := q.pop(); ok {
			p.exec(ctx, q.idx, j)
			continue
		}

		idle.Reset(p.cfg.IdleSleep)
		select {
		case <-stop:
			return nil
		case <-ctx.Done():
			return nil
		case <-q.wake:
		case <-idle.C:
		}
	}
}

// openContext creates the worker's shared context. A failure is logged and
// the worker keeps serving its queue without one.
func (p *Pool) openContext(idx int) SharedContext {
	if p.contexts == nil {
		return nil
	}
	sc, err := p.contexts.NewShared(idx)
	if err != nil {
		p.log.Error("worker context creation failed; running CPU-only", logx.Int("queue", idx), logx.Err(err))
		return nil
	}
	if err := sc.MakeCurrent(); err != nil {
		p.log.Error("worker context activation failed; running CPU-only", logx.Int("queue", idx), logx.Err(err))
		_ = sc.Release()
		return nil
	}
	return sc
}

// Go submits a job and returns its ID. With the pool disabled or stopped,
// the job runs synchronously before Go returns.
func (p *Pool) Go(name string, fn Job) string {
	if fn == nil {
		return ""
	}
	j := queuedJob{id: ulid.Make().String(), name: name, fn: fn, enqueuedAt: time.Now()}

	p.smu.Lock()
	if p.running && len(p.queues) > 0 {
		q := p.queues[p.balancer.Add(1)%uint64(len(p.queues))]
		// push under smu so Stop never misses a job it has to account for
		p.pending.Add(1)
		q.push(j)
		p.smu.Unlock()
		metrics.WorkerPending.Set(float64(p.pending.Load()))
		return j.id
	}
	p.smu.Unlock()

	p.pending.Add(1)
	p.exec(context.Background(), -1, j)
	return j.id
}

func (p *Pool) exec(ctx context.Context, queueIdx int, j queuedJob) {
	start := time.Now()
	var (
		err      error
		panicked bool
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				panicked = true
				err = fmt.Errorf("panic: %v", r)
				p.log.Error("worker job panicked",
					logx.String("job", j.name),
					logx.String("id", j.id),
					logx.Any("panic", r),
					logx.Stack(string(debug.Stack())),
				)
			}
		}()
		err = j.fn(ctx)
	}()
	took := time.Since(start)

	left := p.pending.Add(-1)
	metrics.WorkerPending.Set(float64(left))
	metrics.WorkerJobDuration.Observe(took.Seconds())

	switch {
	case panicked:
		p.panicked.Add(1)
		metrics.WorkerJobs.WithLabelValues("panic").Inc()
	case err != nil:
		p.failed.Add(1)
		metrics.WorkerJobs.WithLabelValues("error").Inc()
		p.log.Warn("worker job failed", logx.String("job", j.name), logx.String("id", j.id), logx.Err(err))
	default:
		p.completed.Add(1)
		metrics.WorkerJobs.WithLabelValues("ok").Inc()
		p.log.Trace("worker job done", logx.String("job", j.name), logx.Duration("took", took))
		return
	}
	eventbus.Emit(p.bus, eventbus.JobFailed, JobEvent{
		ID: j.id, Name: j.name, Queue: queueIdx, Took: took, Error: err.Error(), Panics: panicked,
	})
}

// Handoff queues fn to run on the render thread at the next DrainHandoffs.
func (p *Pool) Handoff(fn func()) {
	if fn == nil {
		return
	}
	p.hmu.Lock()
	p.handoffs = append(p.handoffs, fn)
	p.hmu.Unlock()
}

// DrainHandoffs runs every queued handoff in submission order. Call it from
// the render thread only.
func (p *Pool) DrainHandoffs() int {
	p.hmu.Lock()
	fns := p.handoffs
	p.handoffs = nil
	p.hmu.Unlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.log.Error("handoff panicked", logx.Any("panic", r))
				}
			}()
			fn()
		}()
	}
	return len(fns)
}

// Wait blocks until no job is queued or running, draining handoffs and
// calling the idle callback in between.
func (p *Pool) Wait(ctx context.Context) error {
	t := time.NewTicker(p.cfg.WaitPoll)
	defer t.Stop()
	for {
		p.DrainHandoffs()
		if p.pending.Load() <= 0 {
			p.DrainHandoffs()
			return nil
		}
		if p.idle != nil {
			p.idle()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Stop deactivates every queue and joins the workers. Jobs still queued
// are dropped and reported with ErrQueueNotEmpty.
func (p *Pool) Stop(ctx context.Context) error {
	p.smu.Lock()
	if !p.running {
		p.smu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopCh)
	sup := p.sup
	queues := p.queues
	p.queues = nil
	p.sup = nil
	p.smu.Unlock()

	err := sup.Stop(ctx)

	dropped := 0
	for _, q := range queues {
		if n := q.len(); n > 0 {
			dropped += n
			p.log.Error("worker queue not empty at stop", logx.Int("queue", q.idx), logx.Int("jobs", n))
		}
	}
	if dropped > 0 {
		p.pending.Add(-int64(dropped))
		metrics.WorkerPending.Set(float64(p.pending.Load()))
		return fmt.Errorf("%w: %d job(s) dropped", ErrQueueNotEmpty, dropped)
	}
	p.log.Debug("worker pool stopped", logx.Uint64("completed", p.completed.Load()))
	return err
}

func (p *Pool) Stats() Stats {
	p.smu.Lock()
	st := Stats{Threads: p.cfg.Threads, Running: p.running}
	for _, q := range p.queues {
		st.Queued = append(st.Queued, q.len())
	}
	p.smu.Unlock()

	p.hmu.Lock()
	st.Handoffs = len(p.handoffs)
	p.hmu.Unlock()

	st.Pending = p.pending.Load()
	st.Completed = p.completed.Load()
	st.Failed = p.failed.Load()
	st.Panicked = p.panicked.Load()
	return st
}

// Supervisor exposes the running workers for status output; nil when
// stopped.
func (p *Pool) Supervisor() *rtsup.Supervisor {
	p.smu.Lock()
	defer p.smu.Unlock()
	return p.sup
}
