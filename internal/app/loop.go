package app

import (
	"context"
	"time"

	"demoplay/internal/control"
	"demoplay/internal/eventbus"
	"demoplay/internal/metrics"
	"demoplay/internal/platform"
	"demoplay/internal/resource"
	"demoplay/internal/storage"
	logx "demoplay/pkg/logx"
)

// Run is the render loop. It must be called on the render thread after
// Start and returns when the demo ends, the window asks to close or ctx is
// done. In loop mode the demo restarts from 0 instead of ending.
func (a *App) Run(ctx context.Context) (StopReason, error) {
	a.running.Store(true)
	defer a.running.Store(false)

	reason := StopDemoEnd
	for {
		if err := ctx.Err(); err != nil {
			reason = StopUnknown
			break
		}
		if a.renderer.ShouldClose() {
			reason = StopUserQuit
			break
		}
		if !a.clock.Paused() && a.clock.IsEnd() {
			if !a.cfg.Player.Loop {
				break
			}
			a.log.Info("demo looped")
			a.clock.SetTime(0)
			a.sched.ForceRedraw()
		}
		a.frame(ctx)
	}

	eventbus.Emit(a.bus, eventbus.DemoEnd, map[string]any{
		"reason": string(reason),
		"time":   a.clock.Now(),
	})
	a.log.Info("render loop finished", logx.String("reason", string(reason)), logx.Float64("time", a.clock.Now()))
	return reason, nil
}

// frame runs one iteration of the render loop.
func (a *App) frame(ctx context.Context) {
	start := time.Now()

	a.drainCommands()
	a.clock.Update()

	if a.editor && a.sync != nil {
		if err := a.sync.Poll(a.clock); err != nil {
			a.log.Debug("sync poll failed", logx.Err(err))
		}
	}

	draw := a.sched.Frame()
	if draw {
		if !a.clock.InGracePeriod() {
			a.redrawVideos()
		}
		a.renderer.Clear()
	}
	a.sched.Run()
	if draw {
		a.renderer.Flush()
	}

	switch a.refresh.Swap(refreshNone) {
	case refreshPartial:
		a.Refresh(ctx, false)
	case refreshFull:
		a.Refresh(ctx, true)
	}

	if a.editor && a.shaders != nil && a.shaderLimiter.Allow() && a.shaders.SourcesModified() {
		if err := a.shaders.Reload(); err != nil {
			a.log.Warn("shader reload failed", logx.Err(err))
		} else {
			a.log.Info("shaders reloaded")
		}
		a.sched.ForceRedraw()
	}

	a.pool.DrainHandoffs()

	metrics.FrameDuration.Observe(time.Since(start).Seconds())
	metrics.FPS.Set(a.clock.FPS())
	metrics.ClockSeconds.Set(a.clock.Now())
	metrics.Paused.Set(metrics.BoolGauge(a.clock.Paused()))

	if a.clock.Paused() {
		sleepCtx(ctx, a.pauseIdle)
	} else {
		a.clock.AdjustFramerate()
	}
}

// redrawVideos refreshes every cached video to the current time.
func (a *App) redrawVideos() {
	now := a.clock.Now()
	a.cache.Each(resource.Video, func(e *resource.Entry) bool {
		if v, ok := e.Payload.(platform.VideoFrameSource); ok {
			v.RedrawFrame(now)
		}
		return true
	})
}

// idle runs on the render thread while the worker pool is waited on.
func (a *App) idle() {
	a.drainCommands()
	a.sched.DrawLoading()
}

func (a *App) drainCommands() {
	for {
		select {
		case cmd := <-a.commands:
			cmd()
		default:
			return
		}
	}
}

// do runs fn on the render thread and waits for it. Outside Run, fn runs
// on the caller. Once Stop has begun, commands are refused with
// control.ErrUnavailable.
func (a *App) do(ctx context.Context, fn func()) error {
	if !a.running.Load() {
		a.cmdMu.Lock()
		defer a.cmdMu.Unlock()
		if a.stopped {
			return control.ErrUnavailable
		}
		fn()
		return nil
	}
	done := make(chan struct{})
	select {
	case a.commands <- func() { fn(); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Refresh tears the demo down and loads it again from the script. Partial
// refreshes release only general-purpose cache entries and keep GPU assets;
// full refreshes drop everything. Playback position and pause state are
// preserved.
func (a *App) Refresh(ctx context.Context, full bool) {
	name := storage.KindRefresh
	a.counters.Start(name)
	eventbus.Emit(a.bus, eventbus.RefreshStart, map[string]bool{"full": full})
	a.log.Info("refresh", logx.Bool("full", full))

	wasPaused := a.clock.Paused()
	a.clock.Pause()
	now := a.clock.Now()

	a.sched.Reset()
	a.effects.Reset()
	var released int
	if full {
		released = a.cache.Deinit()
	} else {
		released = a.cache.DeinitGeneral()
	}
	a.scripts.Collect()

	if err := a.load(ctx); err != nil {
		a.log.Error("refresh failed", logx.Err(err))
	}
	a.clock.SetTime(now)
	if !wasPaused {
		a.clock.Resume()
	}
	a.sched.ForceRedraw()

	took, _ := a.counters.End(name)
	if a.store != nil {
		_ = a.store.AppendLoad(context.Background(), storage.LoadRecord{
			Kind:   storage.KindRefresh,
			Name:   refreshName(full),
			TookMS: took.Milliseconds(),
		})
	}
	eventbus.Emit(a.bus, eventbus.RefreshDone, map[string]any{"full": full, "released": released, "took": took})
}

func refreshName(full bool) string {
	if full {
		return "full"
	}
	return "partial"
}

// RequestRefresh schedules a refresh at the end of the current frame. A
// full request wins over a pending partial one.
func (a *App) RequestRefresh(full bool) {
	want := refreshPartial
	if full {
		want = refreshFull
	}
	for {
		cur := a.refresh.Load()
		if cur >= want {
			return
		}
		if a.refresh.CompareAndSwap(cur, want) {
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
