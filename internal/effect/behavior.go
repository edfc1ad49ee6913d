package effect

import (
	"fmt"
	"path/filepath"
	"strings"

	"demoplay/internal/clock"
	"demoplay/internal/platform"
	"demoplay/internal/resource"
	"demoplay/internal/worker"
	logx "demoplay/pkg/logx"
)

// Kind is derived from the source file extension.
type Kind int

const (
	Native Kind = iota
	Scripted
	Shader
)

func (k Kind) String() string {
	switch k {
	case Scripted:
		return "scripted"
	case Shader:
		return "shader"
	default:
		return "native"
	}
}

// KindFor maps a source reference to its kind: .js is scripted, .fs/.vs/.gs
// are shaders, anything else (including no source) is native.
func KindFor(source string) Kind {
	switch strings.ToLower(filepath.Ext(source)) {
	case ".js":
		return Scripted
	case ".fs", ".vs", ".gs":
		return Shader
	default:
		return Native
	}
}

// Timing is the per-frame time snapshot of the scene running an effect.
type Timing struct {
	Percent   float64 `json:"percent"`
	Absolute  float64 `json:"absolute"`
	FromStart float64 `json:"from_start"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
}

// Context is what an effect sees during a lifecycle call.
type Context struct {
	Scene string
	Time  Timing

	Clock   *clock.Clock
	Cache   *resource.Cache
	Workers *worker.Pool
	Log     logx.Logger
	// Loading advances the warm-up progress bar. Nil outside the engine.
	Loading Progress
}

// Progress is implemented by the scene scheduler during warm-up.
type Progress interface {
	SetResourceCount(n int)
	NotifyResourceLoaded()
}

// Behavior is an effect's init/run/deinit lifecycle.
type Behavior interface {
	Init(ctx *Context) error
	Run(ctx *Context) error
	Deinit(ctx *Context) error
}

// Funcs is a compiled-in effect. Nil funcs are no-ops.
type Funcs struct {
	InitFunc   func(ctx *Context) error
	RunFunc    func(ctx *Context) error
	DeinitFunc func(ctx *Context) error
}

func (f Funcs) Init(ctx *Context) error   { return call(f.InitFunc, ctx) }
func (f Funcs) Run(ctx *Context) error    { return call(f.RunFunc, ctx) }
func (f Funcs) Deinit(ctx *Context) error { return call(f.DeinitFunc, ctx) }

func call(fn func(*Context) error, ctx *Context) error {
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

// scriptClass is the script-side object whose methods drive effects.
const scriptClass = "Effect"

// Script runs an effect through the scripting runtime: the source file is
// evaluated on init, then Effect.init/run/deinit(name) are called.
type Script struct {
	rt   platform.ScriptRuntime
	name string
	path string
}

func NewScript(rt platform.ScriptRuntime, name, path string) *Script {
	return &Script{rt: rt, name: name, path: path}
}

func (s *Script) Init(ctx *Context) error {
	if s.rt == nil {
		return ErrNoScriptRuntime
	}
	if err := s.rt.EvalFile(s.path); err != nil {
		return fmt.Errorf("eval %s: %w", s.path, err)
	}
	return s.rt.CallMethod(scriptClass, "init", s.name)
}

func (s *Script) Run(ctx *Context) error {
	if s.rt == nil {
		return ErrNoScriptRuntime
	}
	return s.rt.CallMethod(scriptClass, "run", s.name)
}

func (s *Script) Deinit(ctx *Context) error {
	if s.rt == nil {
		return ErrNoScriptRuntime
	}
	err := s.rt.CallMethod(scriptClass, "deinit", s.name)
	s.rt.Collect()
	return err
}

// shaderOnly is the lifecycle of shader-sourced effects; drawing belongs to
// the shader subsystem.
type shaderOnly struct{}

func (shaderOnly) Init(*Context) error   { return nil }
func (shaderOnly) Run(*Context) error    { return nil }
func (shaderOnly) Deinit(*Context) error { return nil }

// Factory builds a behavior for one registered effect.
type Factory func() Behavior

// Shared returns a Factory that hands out b every time. Use it only for
// behaviors without per-effect state.
func Shared(b Behavior) Factory { return func() Behavior { return b } }

// Catalog maps native effect names to compiled-in behaviors. Each Lookup
// builds a new instance, so two effects naming the same entry never share
// state.
type Catalog map[string]Factory

func (c Catalog) Register(name string, f Factory) { c[name] = f }

func (c Catalog) Lookup(name string) (Behavior, bool) {
	f, ok := c[name]
	if !ok || f == nil {
		return nil, false
	}
	return f(), true
}
