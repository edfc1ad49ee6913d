package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"demoplay/internal/config"
	"demoplay/internal/effect"
	"demoplay/internal/eventbus"
	"demoplay/internal/observability/pprof"
	"demoplay/internal/runtime/supervisor"
	"demoplay/internal/storage"
	logx "demoplay/pkg/logx"
)

// startEventTap logs every bus event at debug level.
func (a *App) startEventTap() {
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				if e.Type == eventbus.LoadingProgress {
					continue
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})
}

// startJournal records effect inits and reloads in the load journal.
func (a *App) startJournal() {
	events, unsub := a.bus.Subscribe(256)
	a.sup.Go0("journal", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				rec, ok := journalRecord(e)
				if !ok {
					continue
				}
				if err := a.store.AppendLoad(c, rec); err != nil && !errors.Is(err, context.Canceled) {
					a.log.Warn("journal append failed", logx.Err(err))
				}
			}
		}
	})
}

func journalRecord(e eventbus.Event) (storage.LoadRecord, bool) {
	var kind string
	switch e.Type {
	case eventbus.EffectInit:
		kind = storage.KindEffectInit
	case eventbus.EffectReload:
		kind = storage.KindEffectReload
	default:
		return storage.LoadRecord{}, false
	}
	ev, ok := e.Data.(effect.Event)
	if !ok {
		return storage.LoadRecord{}, false
	}
	return storage.LoadRecord{
		At:     e.Time,
		Kind:   kind,
		Name:   ev.Effect,
		TookMS: ev.Took.Milliseconds(),
		Error:  ev.Error,
	}, true
}

// startConfigReload watches the config file and applies what can change
// live: logging and the framerate target. Everything else is logged and
// picked up by the next refresh or restart.
func (a *App) startConfigReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(restart) > 0 {
		a.log.Warn("config changes require a restart", logx.String("sections", strings.Join(restart, ",")))
	}

	logCfg := newCfg.Logging.LogxConfig()
	if a.opts.Verbose {
		logCfg.Level = "debug"
	}
	if !a.editor {
		logCfg.Overlay.Enabled = false
	}
	a.logs.Apply(logCfg)
	if p := newCfg.Pprof; p != nil && p.Enabled {
		pprof.ApplyRates(pprofConfig(p))
	}

	fps := newCfg.Player.FPS()
	idle, idleErr := newCfg.Player.PauseIdleDuration()
	err := a.do(ctx, func() {
		if a.script == nil || a.script.FPS <= 0 {
			a.clock.SetTargetFPS(fps)
		}
		if idleErr == nil {
			a.pauseIdle = idle
		}
	})
	if err != nil {
		a.log.Warn("config not applied to player", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// startScriptWatch refreshes the demo whenever the script file is saved.
func (a *App) startScriptWatch() {
	path := a.cfg.Player.ScriptPath()
	log := a.log.With(logx.String("comp", "script.watch"))
	a.sup.GoRestart("script.watch", func(c context.Context) error {
		return config.WatchFile(c, path, log, func() {
			log.Info("script changed", logx.String("path", path))
			a.RequestRefresh(false)
		})
	}, supervisor.WithRestartBackoff(time.Second, 30*time.Second))
}
