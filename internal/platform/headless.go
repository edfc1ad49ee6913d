package platform

import (
	"os"
	"sync"
	"sync/atomic"

	logx "demoplay/pkg/logx"
)

// Headless is a Renderer and GraphicsState with no window. It reports
// loading progress to the log and counts frames.
type Headless struct {
	log logx.Logger

	frames  atomic.Uint64
	closing atomic.Bool

	mu       sync.Mutex
	title    string
	progress float64
	errs     []string
}

func NewHeadless(log logx.Logger) *Headless {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Headless{log: log}
}

func (h *Headless) Clear() {}

func (h *Headless) Flush() { h.frames.Add(1) }

func (h *Headless) ShouldClose() bool { return h.closing.Load() }

// Close makes ShouldClose report true.
func (h *Headless) Close() { h.closing.Store(true) }

func (h *Headless) DrawLoading(progress float64) {
	h.mu.Lock()
	// log every 10% step only
	step := int(progress*10) != int(h.progress*10)
	h.progress = progress
	h.mu.Unlock()
	if step {
		h.log.Debug("loading", logx.Float64("progress", progress))
	}
}

func (h *Headless) SetTitle(title string) {
	h.mu.Lock()
	h.title = title
	h.mu.Unlock()
}

func (h *Headless) Title() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.title
}

func (h *Headless) Frames() uint64 { return h.frames.Load() }

// InjectError queues a graphics error for the next Errors call.
func (h *Headless) InjectError(msg string) {
	h.mu.Lock()
	h.errs = append(h.errs, msg)
	h.mu.Unlock()
}

func (h *Headless) Errors() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	errs := h.errs
	h.errs = nil
	return errs
}

// LogOverlay keeps the last Max overlay lines in memory.
type LogOverlay struct {
	Max int

	mu    sync.Mutex
	title string
	lines []string
}

func (o *LogOverlay) SetTitle(title string) {
	o.mu.Lock()
	o.title = title
	o.mu.Unlock()
}

func (o *LogOverlay) AppendLog(line string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lines = append(o.lines, line)
	max := o.Max
	if max <= 0 {
		max = 32
	}
	if len(o.lines) > max {
		o.lines = append([]string(nil), o.lines[len(o.lines)-max:]...)
	}
}

func (o *LogOverlay) ClearLog() {
	o.mu.Lock()
	o.lines = nil
	o.mu.Unlock()
}

func (o *LogOverlay) Title() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.title
}

func (o *LogOverlay) Lines() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.lines...)
}

// SilentAudio satisfies Audio without a device (-mute).
type SilentAudio struct {
	mu       sync.Mutex
	position float64
	paused   bool
}

func (a *SilentAudio) SetPosition(seconds float64) {
	a.mu.Lock()
	a.position = seconds
	a.mu.Unlock()
}

func (a *SilentAudio) Pause(paused bool) {
	a.mu.Lock()
	a.paused = paused
	a.mu.Unlock()
}

func (a *SilentAudio) State() (position float64, paused bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.position, a.paused
}

// FileScripts is a ScriptRuntime without an interpreter: it checks that
// script files are readable and ignores method calls. It lets the engine run
// scripted demos headless for timing and load testing.
type FileScripts struct {
	mu    sync.Mutex
	calls []string
}

func (s *FileScripts) EvalFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	return f.Close()
}

func (s *FileScripts) CallMethod(class, method, instance string) error {
	s.mu.Lock()
	s.calls = append(s.calls, class+"."+method+"("+instance+")")
	s.mu.Unlock()
	return nil
}

func (s *FileScripts) Collect() {}

// Calls returns every CallMethod invocation as "Class.method(instance)".
func (s *FileScripts) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}
