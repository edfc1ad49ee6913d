// Package player schedules scenes against the clock and drives effect
// lifecycles once per frame.
//
// Scenes are visited in registration order and every scene whose window
// contains the current time runs, so overlapping scenes all draw, in
// declaration order.
package player

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"demoplay/internal/clock"
	"demoplay/internal/effect"
	"demoplay/internal/eventbus"
	"demoplay/internal/metrics"
	"demoplay/internal/platform"
	"demoplay/internal/worker"
	logx "demoplay/pkg/logx"
)

// NoEffect is the effect name scripts use for container scenes.
const NoEffect = "undefined"

type Option func(*Scheduler)

func WithLogger(log logx.Logger) Option { return func(s *Scheduler) { s.log = log } }

func WithBus(bus eventbus.Bus) Option { return func(s *Scheduler) { s.bus = bus } }

// WithRenderer draws the loading bar during warm-up.
func WithRenderer(r platform.Renderer) Option { return func(s *Scheduler) { s.renderer = r } }

// WithWorkers is the pool WarmUp waits on.
func WithWorkers(p *worker.Pool) Option { return func(s *Scheduler) { s.workers = p } }

type Scheduler struct {
	clock    *clock.Clock
	effects  *effect.Registry
	workers  *worker.Pool
	renderer platform.Renderer
	bus      eventbus.Bus
	log      logx.Logger

	// The graph is owned by the render thread.
	scenes []*Scene
	byName map[string]*Scene
	forced bool

	forceRedraw atomic.Bool

	mu       sync.Mutex
	active   []string
	loading  bool
	curPct   float64
	nextPct  float64
	resCount int
	resDone  int
}

func New(clk *clock.Clock, reg *effect.Registry, opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:   clk,
		effects: reg,
		byName:  map[string]*Scene{},
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

// AddScene registers a scene under parent (nil for top level).
//
// start is a time literal; an unspecified start is 0. end is a duration
// added to start, or an absolute end time when it carries the "#" marker.
// An unspecified end runs to the end of the demo. Adding an existing name
// returns the existing scene.
func (s *Scheduler) AddScene(parent *Scene, name, effectName, start, end string) (*Scene, error) {
	if sc, ok := s.byName[name]; ok {
		return sc, nil
	}

	from, err := clock.ParseTime(start)
	if err != nil {
		return nil, fmt.Errorf("scene %s start: %w", name, err)
	}
	if from < 0 {
		from = 0
	}

	v, absolute, err := clock.ParseBound(end)
	if err != nil {
		return nil, fmt.Errorf("scene %s end: %w", name, err)
	}
	var to float64
	switch {
	case v == clock.Unspecified:
		to = s.clock.End()
		if to < 0 {
			to = math.Inf(1)
		}
	case absolute:
		to = v
	default:
		to = from + v
	}
	if from > to {
		return nil, fmt.Errorf("scene %s [%s, %s): %w", name, clock.FormatTime(from), clock.FormatTime(to), ErrInvalidWindow)
	}

	sc := &Scene{Name: name, Start: from, End: to, EffectName: effectName, Parent: parent}
	sc.Timing = effect.Timing{Start: from, End: to}

	if n := strings.TrimSpace(effectName); n != "" && n != NoEffect {
		if e, ok := s.effects.Get(n); ok {
			sc.Effect = e
		} else {
			sc.MissingEffect = true
			s.log.Warn("scene effect not registered",
				logx.String("scene", name),
				logx.String("effect", n),
				logx.Err(ErrEffectNotFound),
			)
			eventbus.Emit(s.bus, eventbus.SceneMissingEffect, map[string]string{"scene": name, "effect": n})
		}
	}

	if parent != nil {
		parent.children = append(parent.children, sc)
	} else {
		s.scenes = append(s.scenes, sc)
	}
	s.byName[name] = sc
	return sc, nil
}

// Scene looks up a scene by name at any depth.
func (s *Scheduler) Scene(name string) (*Scene, bool) {
	sc, ok := s.byName[name]
	return sc, ok
}

// Scenes returns the top-level scenes in registration order.
func (s *Scheduler) Scenes() []*Scene { return append([]*Scene(nil), s.scenes...) }

func (s *Scheduler) Len() int { return len(s.byName) }

func (s *Scheduler) Info() []SceneInfo {
	out := make([]SceneInfo, 0, len(s.scenes))
	for _, sc := range s.scenes {
		out = append(out, sc.Info())
	}
	return out
}

// ForceRedraw makes the next frame draw even while paused. Safe from any
// goroutine.
func (s *Scheduler) ForceRedraw() { s.forceRedraw.Store(true) }

// Frame starts a frame: it consumes the force-redraw flag and reports
// whether the frame draws (clock running or redraw forced).
func (s *Scheduler) Frame() bool {
	s.forced = s.forceRedraw.Swap(false)
	return !s.clock.Paused() || s.forced
}

// Run walks the scene list once at the current clock time and returns how
// many effects ran.
func (s *Scheduler) Run() int {
	t := s.clock.Now()
	draw := !s.clock.Paused() || s.forced
	active := make([]string, 0, 4)
	ran := 0
	for _, sc := range s.scenes {
		ran += s.runScene(sc, t, draw, &active)
	}
	s.forced = false

	s.mu.Lock()
	s.active = active
	s.mu.Unlock()
	return ran
}

func (s *Scheduler) runScene(sc *Scene, t float64, draw bool, active *[]string) int {
	if !sc.Active(t) {
		return 0
	}
	sc.updateTiming(t)
	*active = append(*active, sc.Name)

	// An effect silences the scene's children.
	if sc.Effect != nil {
		if !sc.Effect.Initialized() {
			_ = s.effects.Init(sc.Effect, sc.Name, sc.Timing)
		}
		if !draw {
			s.effects.CheckReload(sc.Effect, sc.Name, sc.Timing)
			return 0
		}
		_ = s.effects.Run(sc.Effect, sc.Name, sc.Timing)
		return 1
	}

	ran := 0
	for _, c := range sc.children {
		ran += s.runScene(c, t, draw, active)
	}
	return ran
}

// ActiveScenes lists the scenes active in the last Run.
func (s *Scheduler) ActiveScenes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.active...)
}

// WarmUp initializes the effect of every top-level scene, in order and
// regardless of its window, so no effect pays its init cost on its first
// visible frame. It then waits for async loads queued by those inits.
func (s *Scheduler) WarmUp(ctx context.Context) error {
	n := len(s.scenes)
	s.mu.Lock()
	s.loading = true
	s.mu.Unlock()

	for i, sc := range s.scenes {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.setStage(float64(i)/float64(n), float64(i+1)/float64(n))
		if sc.Effect != nil {
			_ = s.effects.Init(sc.Effect, sc.Name, sc.Timing)
		}
		s.drawLoading()
	}

	if s.workers != nil {
		if err := s.workers.Wait(ctx); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.loading = false
	s.curPct, s.nextPct = 1, 1
	s.resCount, s.resDone = 0, 0
	s.mu.Unlock()
	metrics.LoadingProgress.Set(1)
	s.drawLoading()
	eventbus.Emit(s.bus, eventbus.LoadingDone, map[string]int{"scenes": n})
	s.log.Info("warm-up done", logx.Int("scenes", n), logx.Int("effects", s.effects.Len()))
	return nil
}

func (s *Scheduler) setStage(cur, next float64) {
	s.mu.Lock()
	s.curPct, s.nextPct = clamp01(cur), clamp01(next)
	s.resCount, s.resDone = 0, 0
	s.mu.Unlock()
	p := s.Progress()
	metrics.LoadingProgress.Set(p)
	eventbus.Emit(s.bus, eventbus.LoadingProgress, map[string]float64{"progress": p})
}

// SetResourceCount declares how many resources the current warm-up stage
// loads; NotifyResourceLoaded advances the bar within the stage.
func (s *Scheduler) SetResourceCount(n int) {
	s.mu.Lock()
	s.resCount, s.resDone = n, 0
	s.mu.Unlock()
}

// NotifyResourceLoaded is safe to call from worker goroutines. Without
// workers it redraws the loading bar directly.
func (s *Scheduler) NotifyResourceLoaded() {
	s.mu.Lock()
	if s.resCount <= 0 {
		s.mu.Unlock()
		return
	}
	s.resDone++
	s.mu.Unlock()
	if s.workers == nil || !s.workers.Enabled() {
		s.drawLoading()
	}
}

// Progress is the loading fraction in [0, 1].
func (s *Scheduler) Progress() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := 0.0
	if s.resCount > 0 {
		sub = clamp01(float64(s.resDone) / float64(s.resCount))
	}
	return s.curPct + (s.nextPct-s.curPct)*sub
}

func (s *Scheduler) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// DrawLoading redraws the loading bar; the worker pool calls it while
// waiting.
func (s *Scheduler) DrawLoading() { s.drawLoading() }

func (s *Scheduler) drawLoading() {
	if s.renderer == nil {
		return
	}
	s.renderer.DrawLoading(s.Progress())
}

// Deinit tears down the effect of every scene at any depth.
func (s *Scheduler) Deinit() {
	var walk func(list []*Scene)
	walk = func(list []*Scene) {
		for _, sc := range list {
			if sc.Effect != nil {
				_ = s.effects.Deinit(sc.Effect, sc.Name, sc.Timing)
			}
			walk(sc.children)
		}
	}
	walk(s.scenes)
}

// Reset deinitializes effects and drops the scene graph.
func (s *Scheduler) Reset() {
	s.Deinit()
	s.scenes = nil
	s.byName = map[string]*Scene{}
	s.mu.Lock()
	s.active = nil
	s.mu.Unlock()
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
