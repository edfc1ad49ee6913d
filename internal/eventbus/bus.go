// Package eventbus fans engine lifecycle events out to observers (the log
// tap, the control server's websocket stream, tests).
package eventbus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the engine.
const (
	EffectInit     = "effect.init"
	EffectFirstRun = "effect.run.first"
	EffectDeinit   = "effect.deinit"
	EffectReload   = "effect.reload"
	EffectError    = "effect.graphics_error"

	SceneMissingEffect = "scene.missing_effect"

	LoadingProgress = "loading.progress"
	LoadingDone     = "loading.done"

	ClockPause  = "clock.pause"
	ClockResume = "clock.resume"
	ClockSeek   = "clock.seek"

	RefreshStart = "refresh.start"
	RefreshDone  = "refresh.done"

	JobFailed = "worker.job_failed"

	DemoEnd = "demo.end"
)

// Event is a small, JSON-friendly signal.
//
// Publish never blocks; each subscriber has a bounded buffer and misses
// events when it falls behind.
type Event struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// Emit publishes an event of type typ stamped with the current time.
// A nil bus is allowed.
func Emit(b Bus, typ string, data any) {
	if b == nil {
		return
	}
	b.Publish(Event{Type: typ, Time: time.Now(), Data: data})
}

// MemBus is an in-memory fanout bus with no goroutines of its own.
type MemBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func New() *MemBus {
	return &MemBus{subs: map[uint64]chan Event{}}
}

func (b *MemBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Channels are only closed under the write lock, so sending under the
	// read lock cannot hit a closed channel.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *MemBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// Dropped counts deliveries skipped because a subscriber was full.
func (b *MemBus) Dropped() uint64 { return b.dropped.Load() }

// Matches reports whether typ equals pattern or falls under a "prefix.*"
// pattern. An empty pattern matches everything.
func Matches(pattern, typ string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	if p, ok := strings.CutSuffix(pattern, ".*"); ok {
		return typ == p || strings.HasPrefix(typ, p+".")
	}
	return pattern == typ
}
