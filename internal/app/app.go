package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"demoplay/internal/clock"
	"demoplay/internal/config"
	"demoplay/internal/control"
	"demoplay/internal/effect"
	"demoplay/internal/eventbus"
	"demoplay/internal/observability/pprof"
	"demoplay/internal/platform"
	"demoplay/internal/player"
	"demoplay/internal/resource"
	"demoplay/internal/runtime/supervisor"
	"demoplay/internal/storage"
	"demoplay/internal/worker"
	logx "demoplay/pkg/logx"
)

// Options are the command line overrides and platform collaborators. Nil
// collaborators get headless stand-ins.
type Options struct {
	// ConfigPath is the engine config file. Empty runs on defaults and
	// disables config hot reload.
	ConfigPath string

	Script  string
	Seek    string
	Threads int // < 0 keeps the configured value
	Editor  bool
	Verbose bool
	Mute    bool

	Renderer platform.Renderer
	Graphics platform.GraphicsState
	Audio    platform.Audio
	Overlay  platform.Overlay
	Scripts  platform.ScriptRuntime
	Sync     platform.SyncClient
	Shaders  platform.Reloadable
	Contexts worker.ContextFactory
	Catalog  effect.Catalog

	// Now replaces the wall clock (tests).
	Now func() time.Time
}

// App is the engine context: it owns every subsystem and drives them from
// the render thread.
type App struct {
	opts Options

	cfgm   *config.ConfigManager
	cfg    *config.Config
	logs   *logx.Service
	log    logx.Logger
	bus    *eventbus.MemBus
	store  storage.Store
	editor bool

	clock    *clock.Clock
	counters *clock.Counters
	cache    *resource.Cache
	pool     *worker.Pool
	effects  *effect.Registry
	sched    *player.Scheduler
	catalog  effect.Catalog
	script   *player.Script

	renderer platform.Renderer
	gfx      platform.GraphicsState
	audio    platform.Audio
	overlay  platform.Overlay
	scripts  platform.ScriptRuntime
	sync     platform.SyncClient
	shaders  platform.Reloadable

	sup    *supervisor.Supervisor
	server *control.Server
	cron   *cron.Cron

	commands      chan command
	refresh       atomic.Int32 // refreshNone, refreshPartial or refreshFull
	shaderLimiter *rate.Limiter
	pauseIdle     time.Duration

	running  atomic.Bool
	stopOnce sync.Once

	// cmdMu orders inline commands against shutdown; stopped is set under it.
	cmdMu   sync.Mutex
	stopped bool
}

type command func()

const (
	refreshNone int32 = iota
	refreshPartial
	refreshFull
)

// New loads the configuration and builds every subsystem. Nothing runs
// until Start.
func New(opts Options) (*App, error) {
	a := &App{
		opts:          opts,
		commands:      make(chan command, 64),
		shaderLimiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 1),
	}

	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	a.cfg = cfg
	a.editor = cfg.Player.Editor

	a.overlay = opts.Overlay
	if a.overlay == nil {
		a.overlay = &platform.LogOverlay{Max: 64}
	}
	logCfg := cfg.Logging.LogxConfig()
	if opts.Verbose {
		logCfg.Level = "debug"
	}
	if !a.editor {
		logCfg.Overlay.Enabled = false
	}
	a.logs, a.log = logx.New(logCfg, a.overlay)
	a.log = a.log.With(logx.String("comp", "app"))
	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	}

	a.bus = eventbus.New()

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		a.logs.Close()
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, a.log.With(logx.String("comp", "storage")))
		if err != nil {
			a.logs.Close()
			return nil, err
		}
		a.store = st
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	a.pauseIdle, _ = cfg.Player.PauseIdleDuration()

	a.renderer = opts.Renderer
	if a.renderer == nil {
		h := platform.NewHeadless(a.log.With(logx.String("comp", "renderer")))
		a.renderer = h
		if opts.Graphics == nil {
			a.gfx = h
		}
	}
	if opts.Graphics != nil {
		a.gfx = opts.Graphics
	}
	a.audio = opts.Audio
	if a.audio == nil || opts.Mute {
		a.audio = &platform.SilentAudio{}
	}
	a.scripts = opts.Scripts
	if a.scripts == nil {
		a.scripts = &platform.FileScripts{}
	}
	a.sync = opts.Sync
	a.shaders = opts.Shaders
	a.catalog = opts.Catalog
	if a.catalog == nil {
		a.catalog = effect.Catalog{}
	}

	clockOpts := []clock.Option{
		clock.WithAudio(a.audio),
		clock.WithTargetFPS(cfg.Player.FPS()),
	}
	if opts.Now != nil {
		clockOpts = append(clockOpts, clock.WithNow(opts.Now))
	}
	a.clock = clock.New(clockOpts...)
	a.counters = clock.NewCounters(opts.Now)

	a.cache = resource.New(a.log.With(logx.String("comp", "cache")), resource.WithObserver(observeCache))

	relay := &loadingRelay{}
	a.pool = worker.New(
		worker.Config{Threads: cfg.Player.Threads},
		worker.WithLogger(a.log.With(logx.String("comp", "worker"))),
		worker.WithBus(a.bus),
		worker.WithContextFactory(opts.Contexts),
		worker.WithIdle(a.idle),
	)

	a.effects = effect.NewRegistry(
		effect.WithLogger(a.log.With(logx.String("comp", "effect"))),
		effect.WithBus(a.bus),
		effect.WithEditor(a.editor),
		effect.WithGraphicsState(a.gfx),
		effect.WithOverlay(a.overlay),
		effect.WithCounters(a.counters),
		effect.WithForceRedraw(relay.ForceRedraw),
		effect.WithBase(effect.Context{
			Clock:   a.clock,
			Cache:   a.cache,
			Workers: a.pool,
			Log:     a.log.With(logx.String("comp", "effect")),
			Loading: relay,
		}),
	)

	a.sched = player.New(a.clock, a.effects,
		player.WithLogger(a.log.With(logx.String("comp", "player"))),
		player.WithBus(a.bus),
		player.WithRenderer(a.renderer),
		player.WithWorkers(a.pool),
	)
	relay.sched = a.sched

	return a, nil
}

func (a *App) loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if strings.TrimSpace(a.opts.ConfigPath) != "" {
		a.cfgm = config.NewConfigManager(a.opts.ConfigPath)
		c, err := a.cfgm.Load()
		if err != nil {
			return nil, err
		}
		cfg = c
	} else {
		cfg = &config.Config{}
	}

	o := a.opts
	if s := strings.TrimSpace(o.Script); s != "" {
		cfg.Player.Script = s
	}
	if s := strings.TrimSpace(o.Seek); s != "" {
		cfg.Player.Seek = s
	}
	if o.Threads >= 0 {
		cfg.Player.Threads = o.Threads
	}
	if o.Editor {
		cfg.Player.Editor = true
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	if a.cfgm != nil {
		a.cfgm.Commit(cfg)
	}
	return cfg, nil
}

func pprofConfig(p *config.PprofConfig) pprof.Config {
	return pprof.Config{
		Addr:                 p.Addr,
		Token:                p.Token,
		MutexProfileFraction: p.MutexProfileFraction,
		BlockProfileRate:     p.BlockProfileRate,
	}
}

// loadingRelay breaks the registry/scheduler construction cycle.
type loadingRelay struct{ sched *player.Scheduler }

func (r *loadingRelay) SetResourceCount(n int) {
	if r.sched != nil {
		r.sched.SetResourceCount(n)
	}
}

func (r *loadingRelay) NotifyResourceLoaded() {
	if r.sched != nil {
		r.sched.NotifyResourceLoaded()
	}
}

func (r *loadingRelay) ForceRedraw() {
	if r.sched != nil {
		r.sched.ForceRedraw()
	}
}

func (a *App) Logger() logx.Logger          { return a.log }
func (a *App) Bus() eventbus.Bus            { return a.bus }
func (a *App) Clock() *clock.Clock          { return a.clock }
func (a *App) Cache() *resource.Cache       { return a.cache }
func (a *App) Workers() *worker.Pool        { return a.pool }
func (a *App) Effects() *effect.Registry    { return a.effects }
func (a *App) Scheduler() *player.Scheduler { return a.sched }
func (a *App) Store() storage.Store         { return a.store }

// Done is closed once the app's run context is cancelled. It is closed
// already when the app was never started.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first background failure, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start loads the demo script, warms up every top-level effect and then
// starts the background services: journal, config and script watchers,
// maintenance jobs and the control server. It runs on the render thread.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(false))

	if a.cfgm != nil {
		a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
			if err := config.Validate(cfg); err != nil {
				return err
			}
			_, _, err := mapStorageConfig(cfg)
			return err
		})
	}

	a.startEventTap()
	if a.store != nil {
		a.startJournal()
	}

	if err := a.load(ctx); err != nil {
		return err
	}
	// The demo starts now, not when the clock was built.
	a.clock.Reset(a.clock.End())

	if s := strings.TrimSpace(a.cfg.Player.Seek); s != "" {
		t, err := clock.ParseTime(s)
		if err != nil || t < 0 {
			a.log.Warn("seek ignored", logx.String("seek", s), logx.Err(err))
			t = 0
		}
		a.clock.SetTime(t)
		a.log.Info("seek", logx.String("to", clock.FormatTime(t)))
	}

	if a.cfgm != nil {
		a.startConfigReload()
	}
	if a.editor {
		a.startScriptWatch()
	}
	if err := a.startMaintenance(); err != nil {
		return err
	}
	if p := a.cfg.Pprof; p != nil && p.Enabled {
		pc := pprofConfig(p)
		pprof.ApplyRates(pc)
		plog := a.log.With(logx.String("comp", "pprof"))
		a.sup.GoRestart("pprof.http", func(c context.Context) error {
			return pprof.Serve(c, pc, plog)
		}, supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second), supervisor.WithMaxRestarts(5))
	}
	if a.cfg.Control.Enabled {
		a.server = control.NewServer(a.cfg.Control.ListenAddr(), a, a.bus,
			a.log.With(logx.String("comp", "control")), a.cfg.Control.AllowedOrigins)
		a.sup.Go("control.http", a.server.Run)
	}

	notifyReady(a.log)
	a.log.Info("app started",
		logx.Int("scenes", a.sched.Len()),
		logx.Int("effects", a.effects.Len()),
		logx.Bool("editor", a.editor),
		logx.Int("threads", a.pool.Threads()),
	)
	return nil
}

// load reads the script and builds the effect and scene graph, then warms
// it up with the worker pool running only for the duration of the load.
func (a *App) load(ctx context.Context) error {
	a.counters.Start(storage.KindWarmUp)
	defer a.recordCounter(storage.KindWarmUp)

	script, err := player.LoadScript(a.cfg.Player.ScriptPath())
	if err != nil {
		return err
	}
	a.script = script
	total, err := script.Total()
	if err != nil {
		a.log.Warn("script total time unreadable; playing unbounded",
			logx.String("total_time", script.TotalTime), logx.Err(err))
		total = clock.Unspecified
	}
	a.clock.SetEnd(total)
	if script.BeatsPerMinute > 0 {
		a.clock.SetBPM(script.BeatsPerMinute)
	}
	if script.FPS > 0 {
		a.clock.SetTargetFPS(script.FPS)
	}

	if err := player.Apply(script, a.effects, a.sched, a.catalog, a.scripts); err != nil {
		a.log.Warn("script applied with errors", logx.String("script", script.Path()), logx.Err(err))
	}

	if err := a.pool.Start(ctx); err != nil {
		return err
	}
	warmErr := a.sched.WarmUp(ctx)
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.pool.Stop(stopCtx); err != nil {
		a.log.Warn("worker pool stop", logx.Err(err))
	}
	a.sched.ForceRedraw()
	return warmErr
}

func (a *App) recordCounter(name string) {
	took, ok := a.counters.End(name)
	if !ok || a.store == nil {
		return
	}
	_ = a.store.AppendLoad(context.Background(), storage.LoadRecord{
		Kind:   name,
		Name:   name,
		TookMS: took.Milliseconds(),
	})
}

// Stop tears the engine down in reverse init order. Each step is bounded so
// one stuck component cannot stall the whole shutdown.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	var stopErr error
	a.stopOnce.Do(func() { stopErr = a.stop(ctx, reason) })
	return stopErr
}

func (a *App) stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.cmdMu.Lock()
	a.stopped = true
	a.cmdMu.Unlock()
	notifyStopping(a.log)

	if a.sup != nil {
		a.sup.Cancel()
	}

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.String("err", stepCtx.Err().Error()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
				}
			}()
		}
	}

	step("maintenance", time.Second, func(c context.Context) error {
		if a.cron == nil {
			return nil
		}
		select {
		case <-a.cron.Stop().Done():
			return nil
		case <-c.Done():
			return c.Err()
		}
	})
	step("workers", 2*time.Second, func(c context.Context) error {
		if a.pool.Running() {
			return a.pool.Stop(c)
		}
		return nil
	})
	// Effects and GPU resources must be released on the calling (render)
	// thread, so these steps run inline.
	a.sched.Deinit()
	a.effects.Reset()
	if n := a.cache.Deinit(); n > 0 {
		a.log.Debug("cache released", logx.Int("entries", n))
	}
	step("supervisor", 2*time.Second, func(c context.Context) error {
		if a.sup == nil {
			return nil
		}
		return a.sup.Wait(c)
	})
	step("storage", time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	if a.logs != nil {
		if n := a.logs.OverlayDropped(); n > 0 {
			a.log.Debug("overlay records dropped", logx.Uint64("count", n))
		}
	}
	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
