package app

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"demoplay/internal/clock"
	"demoplay/internal/config"
	"demoplay/internal/control"
	"demoplay/internal/effect"
	"demoplay/internal/eventbus"
	"demoplay/internal/platform"
	"demoplay/internal/storage"
	logx "demoplay/pkg/logx"
)

type lifecycle struct {
	mu                   sync.Mutex
	inits, runs, deinits int
}

func (l *lifecycle) Init(*effect.Context) error {
	l.mu.Lock()
	l.inits++
	l.mu.Unlock()
	return nil
}

func (l *lifecycle) Run(*effect.Context) error {
	l.mu.Lock()
	l.runs++
	l.mu.Unlock()
	return nil
}

func (l *lifecycle) Deinit(*effect.Context) error {
	l.mu.Lock()
	l.deinits++
	l.mu.Unlock()
	return nil
}

func (l *lifecycle) counts() (int, int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inits, l.runs, l.deinits
}

func writeScript(t *testing.T, dir, total string) string {
	t.Helper()
	body := `
totalTime: "` + total + `"
effects:
  - name: bars
scenes:
  - name: main
    effect: bars
    startTime: "0:00"
`
	path := filepath.Join(dir, "demo.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestApp(t *testing.T, opts Options) (*App, *lifecycle) {
	t.Helper()
	bars := &lifecycle{}
	opts.Catalog = effect.Catalog{"bars": effect.Shared(bars)}
	if opts.Renderer == nil {
		opts.Renderer = platform.NewHeadless(logx.Nop())
	}
	a, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, bars
}

func stopApp(t *testing.T, a *App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Stop(ctx, StopUnknown); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestRunPlaysDemoToEnd(t *testing.T) {
	dir := t.TempDir()
	a, bars := newTestApp(t, Options{Script: writeScript(t, dir, "0:00.200")})

	events, unsub := a.Bus().Subscribe(256)
	defer unsub()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if inits, runs, _ := bars.counts(); inits != 1 || runs != 0 {
		t.Fatalf("after warm-up inits=%d runs=%d, want 1/0", inits, runs)
	}

	reason, err := a.Run(ctx)
	if err != nil || reason != StopDemoEnd {
		t.Fatalf("Run = %v, %v", reason, err)
	}
	if !a.Clock().IsEnd() {
		t.Fatalf("clock at %v, want end", a.Clock().Now())
	}
	stopApp(t, a)

	inits, runs, deinits := bars.counts()
	if inits != 1 || runs == 0 || deinits != 1 {
		t.Fatalf("inits=%d runs=%d deinits=%d", inits, runs, deinits)
	}

	var sawEnd bool
	for len(events) > 0 {
		if e := <-events; e.Type == eventbus.DemoEnd {
			sawEnd = true
		}
	}
	if !sawEnd {
		t.Fatal("no demo.end event")
	}
}

func TestMalformedTimeLiteralsAreNotFatal(t *testing.T) {
	tests := []struct {
		name    string
		total   string
		seek    string
		wantEnd float64
	}{
		{"bad seek starts at zero", "0:10", "soon", 10},
		{"signed seek starts at zero", "0:10", "-0:05", 10},
		{"bad total plays unbounded", "soon", "", clock.Unspecified},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			a, _ := newTestApp(t, Options{Script: writeScript(t, dir, tt.total), Seek: tt.seek})
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := a.Start(ctx); err != nil {
				t.Fatalf("Start: %v", err)
			}
			defer stopApp(t, a)

			if got := a.Clock().End(); got != tt.wantEnd {
				t.Fatalf("end = %v, want %v", got, tt.wantEnd)
			}
			if now := a.Clock().Now(); now < 0 || now > 0.5 {
				t.Fatalf("clock at %v, want start of demo", now)
			}
			if a.Clock().IsEnd() {
				t.Fatal("demo ended before it started")
			}
		})
	}
}

func TestRunStopsWhenWindowCloses(t *testing.T) {
	dir := t.TempDir()
	h := platform.NewHeadless(logx.Nop())
	a, _ := newTestApp(t, Options{Script: writeScript(t, dir, "1:00"), Renderer: h})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.Close()
	reason, _ := a.Run(ctx)
	if reason != StopUserQuit {
		t.Fatalf("reason = %v", reason)
	}
	stopApp(t, a)
}

func TestControllerDrivesRenderThread(t *testing.T) {
	dir := t.TempDir()
	a, _ := newTestApp(t, Options{Script: writeScript(t, dir, "1:00")})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	runCtx, stopRun := context.WithCancel(ctx)
	done := make(chan StopReason, 1)
	go func() {
		reason, _ := a.Run(runCtx)
		done <- reason
	}()
	deadline := time.Now().Add(2 * time.Second)
	for !a.running.Load() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if err := a.Pause(ctx); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := a.Seek(ctx, 30); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	st, err := a.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !st.Clock.Paused || math.Abs(st.Clock.Time-30) > 1e-9 {
		t.Fatalf("clock = %+v", st.Clock)
	}
	if len(st.Effects) != 1 || !st.Effects[0].Initialized {
		t.Fatalf("effects = %+v", st.Effects)
	}
	paused, err := a.TogglePause(ctx)
	if err != nil || paused {
		t.Fatalf("TogglePause = %v, %v", paused, err)
	}

	stopRun()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("render loop did not exit")
	}
	stopApp(t, a)
}

func TestRefreshReloadsAndJournals(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "1:00")
	cfgPath := filepath.Join(dir, "config.yaml")
	cfgBody := `
player:
  script: "` + script + `"
storage:
  driver: file
  path: "` + filepath.Join(dir, "journal") + `"
`
	if err := os.WriteFile(cfgPath, []byte(cfgBody), 0o600); err != nil {
		t.Fatal(err)
	}
	a, bars := newTestApp(t, Options{ConfigPath: cfgPath, Threads: -1})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := a.Pause(ctx); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := a.Seek(ctx, 12); err != nil {
		t.Fatalf("Seek: %v", err)
	}

	a.Refresh(ctx, false)

	if inits, _, deinits := bars.counts(); inits != 2 || deinits != 1 {
		t.Fatalf("inits=%d deinits=%d, want 2/1", inits, deinits)
	}
	if !a.Clock().Paused() || math.Abs(a.Clock().Now()-12) > 1e-9 {
		t.Fatalf("refresh lost position: paused=%v now=%v", a.Clock().Paused(), a.Clock().Now())
	}

	want := map[string]bool{storage.KindWarmUp: false, storage.KindRefresh: false, storage.KindEffectInit: false}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		recs, err := a.RecentLoads(ctx, 50)
		if err != nil {
			t.Fatalf("RecentLoads: %v", err)
		}
		for _, r := range recs {
			if _, ok := want[r.Kind]; ok {
				want[r.Kind] = true
			}
		}
		if want[storage.KindWarmUp] && want[storage.KindRefresh] && want[storage.KindEffectInit] {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	for kind, seen := range want {
		if !seen {
			t.Fatalf("no %s record in journal", kind)
		}
	}
	stopApp(t, a)
}

func TestRecentLoadsWithoutStorage(t *testing.T) {
	dir := t.TempDir()
	a, _ := newTestApp(t, Options{Script: writeScript(t, dir, "0:10")})
	defer stopApp(t, a)
	if _, err := a.RecentLoads(context.Background(), 10); err != storage.ErrDisabled {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}

func TestCommandsRefusedAfterStop(t *testing.T) {
	dir := t.TempDir()
	a, bars := newTestApp(t, Options{Script: writeScript(t, dir, "0:10")})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := a.Pause(ctx); err != nil {
		t.Fatalf("Pause before stop: %v", err)
	}
	stopApp(t, a)

	if _, err := a.Status(ctx); !errors.Is(err, control.ErrUnavailable) {
		t.Fatalf("Status after stop err = %v, want ErrUnavailable", err)
	}
	if err := a.Seek(ctx, 3); !errors.Is(err, control.ErrUnavailable) {
		t.Fatalf("Seek after stop err = %v, want ErrUnavailable", err)
	}
	if _, _, deinits := bars.counts(); deinits != 1 {
		t.Fatalf("deinits = %d, want 1", deinits)
	}
}

func TestRequestRefreshFullWins(t *testing.T) {
	t.Parallel()
	a := &App{}
	a.RequestRefresh(false)
	if got := a.refresh.Load(); got != refreshPartial {
		t.Fatalf("refresh = %d", got)
	}
	a.RequestRefresh(true)
	a.RequestRefresh(false)
	if got := a.refresh.Load(); got != refreshFull {
		t.Fatalf("refresh = %d, want full", got)
	}
}

func TestJournalRecord(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		name string
		ev   eventbus.Event
		ok   bool
		kind string
	}{
		{"init", eventbus.Event{Type: eventbus.EffectInit, Time: at, Data: effect.Event{Effect: "fade", Took: 40 * time.Millisecond}}, true, storage.KindEffectInit},
		{"reload", eventbus.Event{Type: eventbus.EffectReload, Time: at, Data: effect.Event{Effect: "fade", Error: "boom"}}, true, storage.KindEffectReload},
		{"other type", eventbus.Event{Type: eventbus.ClockPause, Time: at}, false, ""},
		{"foreign payload", eventbus.Event{Type: eventbus.EffectInit, Time: at, Data: "x"}, false, ""},
	}
	for _, tt := range tests {
		rec, ok := journalRecord(tt.ev)
		if ok != tt.ok {
			t.Fatalf("%s: ok = %v", tt.name, ok)
		}
		if !ok {
			continue
		}
		if rec.Kind != tt.kind || rec.Name != "fade" || !rec.At.Equal(at) {
			t.Fatalf("%s: record = %+v", tt.name, rec)
		}
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		in      *config.StorageConfig
		enabled bool
		wantErr bool
	}{
		{"absent", nil, false, false},
		{"none", &config.StorageConfig{Driver: "none"}, false, false},
		{"file", &config.StorageConfig{Driver: "file", Path: "x"}, true, false},
		{"sqlite without path", &config.StorageConfig{Driver: "sqlite"}, false, true},
		{"sqlite bad timeout", &config.StorageConfig{Driver: "sqlite", Path: "x.db", BusyTimeout: "soon"}, false, true},
		{"sqlite", &config.StorageConfig{Driver: "SQLite", Path: "x.db", BusyTimeout: "2s"}, true, false},
		{"unknown", &config.StorageConfig{Driver: "redis"}, false, true},
	}
	for _, tt := range tests {
		sc, enabled, err := mapStorageConfig(&config.Config{Storage: tt.in})
		if (err != nil) != tt.wantErr || enabled != tt.enabled {
			t.Fatalf("%s: enabled=%v err=%v", tt.name, enabled, err)
		}
		if tt.name == "sqlite" && (sc.Driver != "sqlite" || sc.BusyTimeout != 2*time.Second) {
			t.Fatalf("sqlite config = %+v", sc)
		}
	}
}

func TestWarmUpWaitsForWorkerLoads(t *testing.T) {
	dir := t.TempDir()
	var loaded int
	loader := effect.Funcs{
		InitFunc: func(ctx *effect.Context) error {
			ctx.Loading.SetResourceCount(3)
			for i := 0; i < 3; i++ {
				ctx.Workers.Go("texture", func(context.Context) error {
					time.Sleep(5 * time.Millisecond)
					ctx.Workers.Handoff(func() {
						loaded++
						ctx.Loading.NotifyResourceLoaded()
					})
					return nil
				})
			}
			return nil
		},
	}
	a, err := New(Options{
		Script:   writeScript(t, dir, "0:10"),
		Threads:  2,
		Renderer: platform.NewHeadless(logx.Nop()),
		Catalog:  effect.Catalog{"bars": effect.Shared(loader)},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopApp(t, a)

	if loaded != 3 {
		t.Fatalf("loaded = %d, want 3", loaded)
	}
	if a.Workers().Running() {
		t.Fatal("worker pool still running after warm-up")
	}
	if p := a.Scheduler().Progress(); p != 1 {
		t.Fatalf("progress = %v, want 1", p)
	}
}
