// Package clock implements the engine's virtual time source.
//
// Virtual time advances with the wall clock while playing, stands still while
// paused and jumps on seeks. All operations are expected on the render thread;
// the mutex only protects readers such as the control server and sync client.
package clock

import (
	"math"
	"sync"
	"time"
)

const (
	DefaultTargetFPS = 500.0
	DefaultBPM       = 120.0

	// GracePeriod is how long after a seek time-sensitive collaborators may
	// skip redundant work (e.g. video frame re-decode).
	GracePeriod = 0.25

	fpsWindow = 500 * time.Millisecond
)

// Audio is the external audio subsystem's seek/pause surface.
type Audio interface {
	SetPosition(seconds float64)
	Pause(paused bool)
}

type Option func(*Clock)

// WithNow overrides the wall clock source.
func WithNow(now func() time.Time) Option {
	return func(c *Clock) {
		if now != nil {
			c.now = now
		}
	}
}

// WithSleep overrides the sleep used by AdjustFramerate.
func WithSleep(sleep func(time.Duration)) Option {
	return func(c *Clock) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

func WithAudio(a Audio) Option { return func(c *Clock) { c.audio = a } }

func WithTargetFPS(fps float64) Option { return func(c *Clock) { c.targetFPS = fps } }

func WithBPM(bpm float64) Option { return func(c *Clock) { c.bpm = bpm } }

// WithEndTime sets the total duration; Unspecified means unbounded.
func WithEndTime(seconds float64) Option { return func(c *Clock) { c.end = seconds } }

// Clock is a pausable, seekable virtual clock.
type Clock struct {
	mu sync.Mutex

	now   func() time.Time
	sleep func(time.Duration)
	audio Audio

	origin     time.Time
	lastUpdate time.Time

	current float64
	delta   float64

	paused     bool
	pauseStart float64

	end       float64
	bpm       float64
	targetFPS float64

	grace float64

	frames        int
	windowStart   time.Time
	fps           float64
	fpsCorrection float64
}

// New creates a clock that starts at 0 unpaused.
func New(opts ...Option) *Clock {
	c := &Clock{
		now:           time.Now,
		sleep:         time.Sleep,
		end:           Unspecified,
		bpm:           DefaultBPM,
		targetFPS:     DefaultTargetFPS,
		fpsCorrection: 1,
		grace:         -1,
	}
	for _, o := range opts {
		if o != nil {
			o(c)
		}
	}
	c.Reset(c.end)
	return c
}

// Reset rewinds the clock to 0, unpaused, with the given total duration.
func (c *Clock) Reset(totalDuration float64) {
	c.mu.Lock()
	now := c.now()
	c.origin = now
	c.lastUpdate = now
	c.windowStart = now
	c.current = 0
	c.delta = 0
	c.paused = false
	c.pauseStart = 0
	c.end = totalDuration
	c.grace = -1
	c.frames = 0
	c.mu.Unlock()
}

// Update recomputes the current time from the wall clock. While paused the
// current time is left alone.
func (c *Clock) Update() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.lastUpdate = now
	if c.paused {
		c.delta = 0
		return
	}

	t := now.Sub(c.origin).Seconds()
	if t < 0 {
		t = 0
	}
	c.delta = t - c.current
	c.current = t

	c.frames++
	if el := now.Sub(c.windowStart); el >= fpsWindow {
		c.fps = float64(c.frames) / el.Seconds()
		if c.fps > 0 {
			c.fpsCorrection = c.targetFPS / c.fps
		}
		c.frames = 0
		c.windowStart = now
	}
}

// AddTime seeks by delta seconds. The result is clamped to 0.
func (c *Clock) AddTime(delta float64) {
	c.mu.Lock()
	now := c.now()
	if !c.paused {
		c.syncLocked(now)
	}
	if c.current+delta < 0 {
		delta = -c.current
	}
	c.current += delta
	if c.paused {
		c.pauseStart = c.current
	} else {
		c.origin = now.Add(-seconds(c.current))
	}
	c.grace = c.current
	pos := c.current
	audio := c.audio
	c.mu.Unlock()

	if audio != nil {
		audio.SetPosition(pos)
	}
}

// SetTime seeks to an absolute position.
func (c *Clock) SetTime(abs float64) {
	c.mu.Lock()
	d := abs - c.current
	c.mu.Unlock()
	c.AddTime(d)
}

// InGracePeriod reports whether a seek happened less than GracePeriod ago.
// Seeks to the very start do not open a grace window.
func (c *Clock) InGracePeriod() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.grace > GracePeriod && c.current-c.grace < GracePeriod
}

func (c *Clock) Pause() {
	c.mu.Lock()
	if c.paused {
		c.mu.Unlock()
		return
	}
	c.syncLocked(c.now())
	c.paused = true
	c.pauseStart = c.current
	audio := c.audio
	c.mu.Unlock()

	if audio != nil {
		audio.Pause(true)
	}
}

// Resume continues playback from the paused position. Wall time spent paused
// is excluded from the current time.
func (c *Clock) Resume() {
	c.mu.Lock()
	if !c.paused {
		c.mu.Unlock()
		return
	}
	c.paused = false
	now := c.now()
	c.origin = now.Add(-seconds(c.current))
	c.lastUpdate = now
	c.windowStart = now
	c.frames = 0
	audio := c.audio
	c.mu.Unlock()

	if audio != nil {
		audio.Pause(false)
	}
}

// TogglePause flips the paused state and returns the new state.
func (c *Clock) TogglePause() bool {
	if c.Paused() {
		c.Resume()
		return false
	}
	c.Pause()
	return true
}

// IsEnd reports whether playback has reached the total duration.
func (c *Clock) IsEnd() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.end == Unspecified {
		return false
	}
	return c.current >= c.end
}

// CurrentBeat returns the current time in beats.
func (c *Clock) CurrentBeat() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bpm <= 0 {
		return 0
	}
	return c.current / (60 / c.bpm)
}

// AdjustFramerate sleeps for whatever is left of the frame budget since the
// last Update.
func (c *Clock) AdjustFramerate() {
	c.mu.Lock()
	fps := c.targetFPS
	elapsed := c.now().Sub(c.lastUpdate)
	sleep := c.sleep
	c.mu.Unlock()

	if fps <= 0 {
		return
	}
	budget := time.Duration(float64(time.Second) / fps)
	if elapsed < budget {
		sleep(budget - elapsed)
	}
}

func (c *Clock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Clock) Delta() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delta
}

func (c *Clock) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// PauseStart returns the position at which the clock was last paused.
func (c *Clock) PauseStart() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pauseStart
}

func (c *Clock) End() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.end
}

func (c *Clock) SetEnd(seconds float64) {
	c.mu.Lock()
	c.end = seconds
	c.mu.Unlock()
}

func (c *Clock) SetBPM(bpm float64) {
	c.mu.Lock()
	c.bpm = bpm
	c.mu.Unlock()
}

func (c *Clock) SetTargetFPS(fps float64) {
	c.mu.Lock()
	c.targetFPS = fps
	c.mu.Unlock()
}

// FPS is the frame rate measured over the last sampling window.
func (c *Clock) FPS() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fps
}

// FPSCorrection is targetFPS / measured FPS. Display only.
func (c *Clock) FPSCorrection() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fpsCorrection
}

// Snapshot is a consistent view for status endpoints.
type Snapshot struct {
	Time          float64 `json:"time"`
	Formatted     string  `json:"formatted"`
	End           float64 `json:"end"`
	Paused        bool    `json:"paused"`
	Beat          float64 `json:"beat"`
	FPS           float64 `json:"fps"`
	FPSCorrection float64 `json:"fps_correction"`
}

func (c *Clock) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	beat := 0.0
	if c.bpm > 0 {
		beat = c.current / (60 / c.bpm)
	}
	return Snapshot{
		Time:          c.current,
		Formatted:     FormatTime(c.current),
		End:           c.end,
		Paused:        c.paused,
		Beat:          beat,
		FPS:           round3(c.fps),
		FPSCorrection: round3(c.fpsCorrection),
	}
}

// syncLocked brings current up to the wall clock without touching the frame
// delta or FPS window.
func (c *Clock) syncLocked(now time.Time) {
	t := now.Sub(c.origin).Seconds()
	if t < 0 {
		t = 0
	}
	c.current = t
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
