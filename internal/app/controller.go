package app

import (
	"context"

	"demoplay/internal/control"
	"demoplay/internal/eventbus"
	"demoplay/internal/storage"
)

var _ control.Controller = (*App)(nil)

func (a *App) Status(ctx context.Context) (control.Status, error) {
	var st control.Status
	err := a.do(ctx, func() {
		st = control.Status{
			Clock:        a.clock.Snapshot(),
			Loading:      a.sched.Loading(),
			Progress:     a.sched.Progress(),
			Editor:       a.editor,
			ActiveScenes: a.sched.ActiveScenes(),
			Scenes:       a.sched.Info(),
			Effects:      a.effects.Stats(),
			Cache:        a.cache.Stats(),
			Workers:      a.pool.Stats(),
			Counters:     a.counters.Snapshot(),
			Background:   a.sup.Snapshot(),
		}
	})
	return st, err
}

func (a *App) Pause(ctx context.Context) error {
	return a.do(ctx, func() {
		a.clock.Pause()
		eventbus.Emit(a.bus, eventbus.ClockPause, map[string]float64{"time": a.clock.Now()})
	})
}

func (a *App) Resume(ctx context.Context) error {
	return a.do(ctx, func() {
		a.clock.Resume()
		eventbus.Emit(a.bus, eventbus.ClockResume, map[string]float64{"time": a.clock.Now()})
	})
}

func (a *App) TogglePause(ctx context.Context) (bool, error) {
	var paused bool
	err := a.do(ctx, func() {
		paused = a.clock.TogglePause()
		typ := eventbus.ClockResume
		if paused {
			typ = eventbus.ClockPause
		}
		eventbus.Emit(a.bus, typ, map[string]float64{"time": a.clock.Now()})
	})
	return paused, err
}

func (a *App) Seek(ctx context.Context, seconds float64) error {
	return a.do(ctx, func() {
		a.clock.SetTime(seconds)
		a.sched.ForceRedraw()
		eventbus.Emit(a.bus, eventbus.ClockSeek, map[string]float64{"time": a.clock.Now()})
	})
}

func (a *App) Skip(ctx context.Context, delta float64) error {
	return a.do(ctx, func() {
		a.clock.AddTime(delta)
		a.sched.ForceRedraw()
		eventbus.Emit(a.bus, eventbus.ClockSeek, map[string]float64{"time": a.clock.Now(), "delta": delta})
	})
}

// RecentLoads reads the load journal; it does not touch the render thread.
func (a *App) RecentLoads(ctx context.Context, limit int) ([]storage.LoadRecord, error) {
	if a.store == nil {
		return nil, storage.ErrDisabled
	}
	return a.store.RecentLoads(ctx, limit)
}
