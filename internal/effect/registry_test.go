package effect

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"demoplay/internal/eventbus"
	"demoplay/internal/platform"
	logx "demoplay/pkg/logx"
)

type counting struct {
	inits, runs, deinits int
	initErr              error
}

func (c *counting) Init(*Context) error   { c.inits++; return c.initErr }
func (c *counting) Run(*Context) error    { c.runs++; return nil }
func (c *counting) Deinit(*Context) error { c.deinits++; return nil }

func TestKindFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		source string
		want   Kind
	}{
		{"", Native},
		{"effects/fade.js", Scripted},
		{"EFFECTS/FADE.JS", Scripted},
		{"shaders/blur.fs", Shader},
		{"shaders/blur.vs", Shader},
		{"shaders/blur.gs", Shader},
		{"libfade.so", Native},
	}
	for _, tt := range tests {
		if got := KindFor(tt.source); got != tt.want {
			t.Fatalf("KindFor(%q) = %v, want %v", tt.source, got, tt.want)
		}
	}
}

func TestAddIsIdempotent(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	first := &counting{}
	a := r.Add("fade", "", first)
	b := r.Add("fade", "", &counting{})
	if a != b {
		t.Fatal("second Add returned a different handle")
	}
	if r.Len() != 1 {
		t.Fatalf("registry holds %d effects", r.Len())
	}
	if a.behavior != Behavior(first) {
		t.Fatal("second Add replaced the behavior")
	}
}

func TestLifecycleCounts(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	b := &counting{}
	e := r.Add("foo", "", b)
	for i := 0; i < 100; i++ {
		if err := r.Run(e, "scene", Timing{}); err != nil {
			t.Fatalf("Run: %v", err)
		}
	}
	r.DeinitAll()
	r.DeinitAll()
	if b.inits != 1 || b.runs != 100 || b.deinits != 1 {
		t.Fatalf("inits=%d runs=%d deinits=%d", b.inits, b.runs, b.deinits)
	}
	if e.Initialized() {
		t.Fatal("effect still initialized after DeinitAll")
	}
}

func TestInitFailureIsNotRetriedEveryFrame(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	b := &counting{initErr: errors.New("missing texture")}
	e := r.Add("broken", "", b)
	if err := r.Init(e, "", Timing{}); err == nil {
		t.Fatal("expected init error")
	}
	for i := 0; i < 3; i++ {
		_ = r.Run(e, "", Timing{})
	}
	if b.inits != 1 || b.runs != 3 {
		t.Fatalf("inits=%d runs=%d", b.inits, b.runs)
	}
}

func TestPanickingEffectIsContained(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	e := r.Add("boom", "", Funcs{RunFunc: func(*Context) error { panic("nil texture") }})
	err := r.Run(e, "", Timing{})
	if err == nil || !strings.Contains(err.Error(), "nil texture") {
		t.Fatalf("Run err = %v", err)
	}
}

func TestGraphicsErrorsAreNotFatal(t *testing.T) {
	t.Parallel()
	gfx := platform.NewHeadless(logx.Nop())
	ov := &platform.LogOverlay{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	r := NewRegistry(WithGraphicsState(gfx), WithOverlay(ov), WithBus(bus))
	b := &counting{}
	e := r.Add("glitch", "", b)

	gfx.InjectError("GL_INVALID_OPERATION")
	if err := r.Init(e, "", Timing{}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	_ = r.Run(e, "", Timing{})

	if !strings.Contains(ov.Title(), "GL_INVALID_OPERATION") {
		t.Fatalf("overlay title = %q", ov.Title())
	}
	if b.runs != 1 {
		t.Fatal("run skipped after graphics error")
	}
	found := false
	for len(events) > 0 {
		if ev := <-events; ev.Type == eventbus.EffectError {
			found = true
		}
	}
	if !found {
		t.Fatal("no graphics error event")
	}
}

func TestHotReloadOnModifiedSource(t *testing.T) {
	t.Parallel()
	mod := time.Unix(1000, 0)
	stat := func(string) (time.Time, error) { return mod, nil }
	redraws := 0
	ov := &platform.LogOverlay{}
	ov.AppendLog("old error")

	r := NewRegistry(WithEditor(true), WithStat(stat), WithOverlay(ov), WithForceRedraw(func() { redraws++ }))
	b := &counting{}
	e := r.Add("title", "effects/title.js", b)
	if e.Kind != Scripted {
		t.Fatalf("kind = %v", e.Kind)
	}

	_ = r.Run(e, "", Timing{})
	_ = r.Run(e, "", Timing{})
	if b.inits != 1 || b.deinits != 0 {
		t.Fatalf("reloaded without change: inits=%d deinits=%d", b.inits, b.deinits)
	}

	mod = mod.Add(time.Second)
	_ = r.Run(e, "", Timing{})
	if b.inits != 2 || b.deinits != 1 {
		t.Fatalf("after change inits=%d deinits=%d", b.inits, b.deinits)
	}
	if redraws != 1 {
		t.Fatalf("redraws = %d", redraws)
	}
	if len(ov.Lines()) != 0 {
		t.Fatal("overlay log not cleared on reload")
	}
	if b.runs != 3 {
		t.Fatalf("runs = %d", b.runs)
	}
}

func TestNoHotReloadOutsideEditor(t *testing.T) {
	t.Parallel()
	mod := time.Unix(1000, 0)
	r := NewRegistry(WithStat(func(string) (time.Time, error) { return mod, nil }))
	b := &counting{}
	e := r.Add("title", "effects/title.js", b)
	_ = r.Run(e, "", Timing{})
	mod = mod.Add(time.Hour)
	_ = r.Run(e, "", Timing{})
	if b.inits != 1 {
		t.Fatalf("inits = %d", b.inits)
	}
}

func TestScriptedEffectCallsRuntime(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "plasma.js")
	if err := os.WriteFile(path, []byte("Effect.init = function(){}"), 0o600); err != nil {
		t.Fatal(err)
	}
	rt := &platform.FileScripts{}
	r := NewRegistry()
	e := r.Add("plasma", path, NewScript(rt, "plasma", path))
	if err := r.Run(e, "", Timing{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := r.Deinit(e, "", Timing{}); err != nil {
		t.Fatalf("Deinit: %v", err)
	}
	got := strings.Join(rt.Calls(), ",")
	want := "Effect.init(plasma),Effect.run(plasma),Effect.deinit(plasma)"
	if got != want {
		t.Fatalf("calls = %s, want %s", got, want)
	}

	missing := r.Add("ghost", filepath.Join(dir, "ghost.js"), NewScript(rt, "ghost", filepath.Join(dir, "ghost.js")))
	if err := r.Init(missing, "", Timing{}); err == nil {
		t.Fatal("expected eval error for missing script")
	}
	if err := NewScript(nil, "x", "x.js").Init(nil); !errors.Is(err, ErrNoScriptRuntime) {
		t.Fatalf("nil runtime err = %v", err)
	}
}

func TestShaderEffectsGetNoopLifecycle(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	b := &counting{}
	e := r.Add("blur", "shaders/blur.fs", b)
	_ = r.Run(e, "", Timing{})
	if b.inits != 0 || b.runs != 0 {
		t.Fatal("shader effect ran native behavior")
	}
	if !e.Initialized() {
		t.Fatal("shader effect not marked initialized")
	}
}

func TestNilEffect(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	if err := r.Run(nil, "", Timing{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}
