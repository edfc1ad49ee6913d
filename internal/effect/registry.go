// Package effect manages named effects and their lifecycle.
//
// An effect moves Registered -> Initialized (run every active frame) ->
// Deinitialized, and back to Initialized on hot reload. The scheduler drives
// the transitions; effects never trigger them themselves.
package effect

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"demoplay/internal/clock"
	"demoplay/internal/eventbus"
	"demoplay/internal/metrics"
	"demoplay/internal/platform"
	logx "demoplay/pkg/logx"
)

// Effect is one registered effect.
type Effect struct {
	Name   string
	Source string
	Kind   Kind

	behavior    Behavior
	initialized bool
	ranOnce     bool
	modTime     time.Time

	inits   uint64
	runs    uint64
	deinits uint64
	reloads uint64
}

func (e *Effect) Initialized() bool { return e.initialized }

// Stats is the lifecycle call count of one effect.
type Stats struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Source      string `json:"source,omitempty"`
	Initialized bool   `json:"initialized"`
	Inits       uint64 `json:"inits"`
	Runs        uint64 `json:"runs"`
	Deinits     uint64 `json:"deinits"`
	Reloads     uint64 `json:"reloads"`
}

func (e *Effect) stats() Stats {
	return Stats{
		Name:        e.Name,
		Kind:        e.Kind.String(),
		Source:      e.Source,
		Initialized: e.initialized,
		Inits:       e.inits,
		Runs:        e.runs,
		Deinits:     e.deinits,
		Reloads:     e.reloads,
	}
}

// Event is the payload of effect lifecycle events.
type Event struct {
	Effect string        `json:"effect"`
	Scene  string        `json:"scene,omitempty"`
	Took   time.Duration `json:"took,omitempty"`
	Error  string        `json:"error,omitempty"`
}

type Option func(*Registry)

func WithLogger(log logx.Logger) Option { return func(r *Registry) { r.log = log } }

func WithBus(bus eventbus.Bus) Option { return func(r *Registry) { r.bus = bus } }

// WithEditor enables source modification checks for scripted effects.
func WithEditor(enabled bool) Option { return func(r *Registry) { r.editor = enabled } }

func WithGraphicsState(g platform.GraphicsState) Option { return func(r *Registry) { r.gfx = g } }

func WithOverlay(o platform.Overlay) Option { return func(r *Registry) { r.overlay = o } }

func WithCounters(c *clock.Counters) Option { return func(r *Registry) { r.counters = c } }

// WithForceRedraw is called after a hot reload so a paused frame repaints.
func WithForceRedraw(fn func()) Option { return func(r *Registry) { r.forceRedraw = fn } }

// WithBase sets the services every lifecycle Context carries.
func WithBase(base Context) Option { return func(r *Registry) { r.base = base } }

// WithStat overrides how source modification times are read.
func WithStat(fn func(path string) (time.Time, error)) Option {
	return func(r *Registry) {
		if fn != nil {
			r.stat = fn
		}
	}
}

type Registry struct {
	mu      sync.Mutex
	effects map[string]*Effect
	order   []*Effect

	log      logx.Logger
	bus      eventbus.Bus
	editor   bool
	gfx      platform.GraphicsState
	overlay  platform.Overlay
	counters *clock.Counters
	base     Context

	forceRedraw func()
	stat        func(path string) (time.Time, error)
	errLimiter  *rate.Limiter
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		effects:    map[string]*Effect{},
		stat:       statModTime,
		errLimiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}
	for _, o := range opts {
		if o != nil {
			o(r)
		}
	}
	if r.log.IsZero() {
		r.log = logx.Nop()
	}
	if r.counters == nil {
		r.counters = clock.NewCounters(nil)
	}
	if r.base.Log.IsZero() {
		r.base.Log = r.log
	}
	return r
}

func statModTime(path string) (time.Time, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return fi.ModTime(), nil
}

// Add registers an effect. Registering an existing name returns the
// existing effect untouched. A nil behavior is a no-op effect, except for
// shader sources which always get the shader lifecycle.
func (r *Registry) Add(name, source string, b Behavior) *Effect {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.effects[name]; ok {
		r.log.Debug("effect already registered", logx.String("effect", name))
		return e
	}

	kind := KindFor(source)
	switch {
	case kind == Shader:
		b = shaderOnly{}
	case b == nil:
		b = Funcs{}
	}
	e := &Effect{Name: name, Source: source, Kind: kind, behavior: b}
	if source != "" {
		if mt, err := r.stat(source); err == nil {
			e.modTime = mt
		}
	}
	r.effects[name] = e
	r.order = append(r.order, e)
	r.log.Debug("effect registered", logx.String("effect", name), logx.String("kind", kind.String()))
	return e
}

func (r *Registry) Get(name string) (*Effect, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.effects[name]
	return e, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Names lists effects in registration order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.order))
	for _, e := range r.order {
		out = append(out, e.Name)
	}
	return out
}

func (r *Registry) Stats() []Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Stats, 0, len(r.order))
	for _, e := range r.order {
		out = append(out, e.stats())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) context(scene string, t Timing) *Context {
	ctx := r.base
	ctx.Scene = scene
	ctx.Time = t
	return &ctx
}

// Init initializes e if it is not already. Errors are logged and returned;
// the effect still counts as initialized so it is not retried every frame.
func (r *Registry) Init(e *Effect, scene string, t Timing) error {
	if e == nil {
		return ErrNotFound
	}
	if e.initialized {
		return nil
	}

	name := "effect.init:" + e.Name
	r.counters.Start(name)
	err := r.invoke(e, "init", e.behavior.Init, r.context(scene, t))
	took, _ := r.counters.End(name)

	e.initialized = true
	e.ranOnce = false
	e.inits++
	metrics.EffectTransitions.WithLabelValues("init").Inc()
	r.checkGraphics(e, "init")

	ev := Event{Effect: e.Name, Scene: scene, Took: took}
	if err != nil {
		ev.Error = err.Error()
	}
	eventbus.Emit(r.bus, eventbus.EffectInit, ev)
	r.log.Debug("effect initialized", logx.String("effect", e.Name), logx.Duration("took", took))
	return err
}

// Run runs one frame of e, initializing it first if needed. In editor mode
// scripted effects are reloaded in place when their source changed.
func (r *Registry) Run(e *Effect, scene string, t Timing) error {
	if e == nil {
		return ErrNotFound
	}
	if !e.initialized {
		_ = r.Init(e, scene, t)
	}
	if r.editor && e.Kind == Scripted {
		r.reloadIfModified(e, scene, t)
	}

	err := r.invoke(e, "run", e.behavior.Run, r.context(scene, t))
	e.runs++
	r.checkGraphics(e, "run")

	if !e.ranOnce {
		e.ranOnce = true
		metrics.EffectTransitions.WithLabelValues("first_run").Inc()
		eventbus.Emit(r.bus, eventbus.EffectFirstRun, Event{Effect: e.Name, Scene: scene})
	}
	return err
}

// Deinit tears e down if it is initialized.
func (r *Registry) Deinit(e *Effect, scene string, t Timing) error {
	if e == nil {
		return ErrNotFound
	}
	if !e.initialized {
		return nil
	}
	err := r.invoke(e, "deinit", e.behavior.Deinit, r.context(scene, t))
	e.initialized = false
	e.deinits++
	metrics.EffectTransitions.WithLabelValues("deinit").Inc()
	r.checkGraphics(e, "deinit")

	ev := Event{Effect: e.Name, Scene: scene}
	if err != nil {
		ev.Error = err.Error()
	}
	eventbus.Emit(r.bus, eventbus.EffectDeinit, ev)
	return err
}

// Refresh reloads e in place: deinit, clear the overlay, init, and force a
// redraw.
func (r *Registry) Refresh(e *Effect, scene string, t Timing) error {
	if e == nil {
		return ErrNotFound
	}
	name := "effect.reload:" + e.Name
	r.counters.Start(name)

	_ = r.Deinit(e, scene, t)
	if r.overlay != nil {
		r.overlay.SetTitle("")
		r.overlay.ClearLog()
	}
	err := r.Init(e, scene, t)
	e.reloads++
	took, _ := r.counters.End(name)

	if r.forceRedraw != nil {
		r.forceRedraw()
	}
	metrics.EffectTransitions.WithLabelValues("reload").Inc()
	ev := Event{Effect: e.Name, Scene: scene, Took: took}
	if err != nil {
		ev.Error = err.Error()
	}
	eventbus.Emit(r.bus, eventbus.EffectReload, ev)
	r.log.Info("effect reloaded", logx.String("effect", e.Name), logx.Duration("took", took))
	return err
}

// CheckReload reloads e when its source changed. It lets a paused frame
// pick up edits without running the effect. It reports whether a reload
// happened.
func (r *Registry) CheckReload(e *Effect, scene string, t Timing) bool {
	if e == nil || !r.editor || e.Kind != Scripted || !e.initialized {
		return false
	}
	return r.reloadIfModified(e, scene, t)
}

func (r *Registry) reloadIfModified(e *Effect, scene string, t Timing) bool {
	if e.Source == "" {
		return false
	}
	mt, err := r.stat(e.Source)
	if err != nil {
		return false
	}
	if mt.Equal(e.modTime) {
		return false
	}
	e.modTime = mt
	r.log.Info("effect source changed", logx.String("effect", e.Name), logx.String("source", e.Source))
	_ = r.Refresh(e, scene, t)
	return true
}

// DeinitAll tears down every initialized effect in registration order.
func (r *Registry) DeinitAll() {
	r.mu.Lock()
	effects := append([]*Effect(nil), r.order...)
	r.mu.Unlock()
	for _, e := range effects {
		_ = r.Deinit(e, "", Timing{})
	}
}

// Reset deinitializes and forgets every effect.
func (r *Registry) Reset() {
	r.DeinitAll()
	r.mu.Lock()
	r.effects = map[string]*Effect{}
	r.order = nil
	r.mu.Unlock()
}

// invoke runs one lifecycle call, turning panics into errors so a broken
// effect cannot take down the render loop.
func (r *Registry) invoke(e *Effect, phase string, fn func(*Context) error, ctx *Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%s %s: panic: %v", e.Name, phase, p)
		}
		if err != nil && r.errLimiter.Allow() {
			r.log.Warn("effect "+phase+" failed", logx.String("effect", e.Name), logx.Err(err))
		}
	}()
	return fn(ctx)
}

// checkGraphics polls the graphics error state after a transition. Errors
// are logged and shown in the title; they never stop playback.
func (r *Registry) checkGraphics(e *Effect, phase string) {
	if r.gfx == nil {
		return
	}
	errs := r.gfx.Errors()
	if len(errs) == 0 {
		return
	}
	metrics.GraphicsErrors.Add(float64(len(errs)))
	msg := fmt.Sprintf("graphics error in %s %s: %s", e.Name, phase, errs[0])
	if r.overlay != nil {
		r.overlay.SetTitle(msg)
	}
	if r.errLimiter.Allow() {
		r.log.Warn("graphics error", logx.String("effect", e.Name), logx.String("phase", phase), logx.Any("errors", errs))
	}
	eventbus.Emit(r.bus, eventbus.EffectError, Event{Effect: e.Name, Error: msg})
}
