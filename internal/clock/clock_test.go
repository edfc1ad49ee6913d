package clock

import (
	"math"
	"sync"
	"testing"
	"time"
)

type fakeWall struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeWall() *fakeWall {
	return &fakeWall{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeWall) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeWall) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

type fakeAudio struct {
	positions []float64
	pauses    []bool
}

func (a *fakeAudio) SetPosition(s float64) { a.positions = append(a.positions, s) }
func (a *fakeAudio) Pause(p bool)          { a.pauses = append(a.pauses, p) }

func near(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestIsEndAfterTotalDuration(t *testing.T) {
	t.Parallel()
	w := newFakeWall()
	total, err := ParseTime("1:30.5")
	if err != nil {
		t.Fatalf("ParseTime error: %v", err)
	}
	if total != 90.5 {
		t.Fatalf("total = %v, want 90.5", total)
	}
	c := New(WithNow(w.Now), WithEndTime(total))

	w.Advance(90 * time.Second)
	c.Update()
	if c.IsEnd() {
		t.Fatal("IsEnd true at 90s")
	}
	w.Advance(time.Second)
	c.Update()
	if !c.IsEnd() {
		t.Fatalf("IsEnd false at %v", c.Now())
	}
}

func TestUnboundedNeverEnds(t *testing.T) {
	t.Parallel()
	w := newFakeWall()
	c := New(WithNow(w.Now))
	w.Advance(24 * time.Hour)
	c.Update()
	if c.IsEnd() {
		t.Fatal("unbounded clock reported end")
	}
}

func TestPauseExcludesPausedWallTime(t *testing.T) {
	t.Parallel()
	w := newFakeWall()
	c := New(WithNow(w.Now))

	// unpaused: 2s + 3s + 1.5s, paused: 10s + 4s
	steps := []struct {
		pause  bool
		resume bool
		adv    time.Duration
	}{
		{adv: 2 * time.Second},
		{pause: true, adv: 10 * time.Second},
		{resume: true, adv: 3 * time.Second},
		{pause: true, adv: 4 * time.Second},
		{resume: true, adv: 1500 * time.Millisecond},
	}
	for _, s := range steps {
		if s.pause {
			c.Pause()
		}
		if s.resume {
			c.Resume()
		}
		w.Advance(s.adv)
		c.Update()
	}
	if got := c.Now(); !near(got, 6.5) {
		t.Fatalf("current = %v, want 6.5", got)
	}
}

func TestPausedClockDoesNotAdvance(t *testing.T) {
	t.Parallel()
	w := newFakeWall()
	a := &fakeAudio{}
	c := New(WithNow(w.Now), WithAudio(a))
	w.Advance(time.Second)
	c.Update()
	if !c.TogglePause() {
		t.Fatal("TogglePause should report paused")
	}
	w.Advance(time.Minute)
	c.Update()
	if got := c.Now(); !near(got, 1) {
		t.Fatalf("current = %v, want 1", got)
	}
	if c.Delta() != 0 {
		t.Fatalf("delta = %v while paused", c.Delta())
	}
	if len(a.pauses) != 1 || !a.pauses[0] {
		t.Fatalf("audio pauses = %v", a.pauses)
	}
}

func TestAddTimeClampsToZero(t *testing.T) {
	t.Parallel()
	w := newFakeWall()
	a := &fakeAudio{}
	c := New(WithNow(w.Now), WithAudio(a))
	w.Advance(5 * time.Second)
	c.Update()

	c.AddTime(-100)
	if got := c.Now(); got != 0 {
		t.Fatalf("current = %v, want exactly 0", got)
	}
	c.Update()
	if got := c.Now(); got != 0 {
		t.Fatalf("current after update = %v, want 0", got)
	}
	if len(a.positions) != 1 || a.positions[0] != 0 {
		t.Fatalf("audio positions = %v", a.positions)
	}
}

func TestSeekWhilePausedSurvivesResume(t *testing.T) {
	t.Parallel()
	w := newFakeWall()
	c := New(WithNow(w.Now))
	c.Pause()
	c.SetTime(30)
	w.Advance(5 * time.Second)
	c.Update()
	if got := c.Now(); !near(got, 30) {
		t.Fatalf("paused seek current = %v", got)
	}
	c.Resume()
	w.Advance(2 * time.Second)
	c.Update()
	if got := c.Now(); !near(got, 32) {
		t.Fatalf("current = %v, want 32", got)
	}
}

func TestGracePeriod(t *testing.T) {
	t.Parallel()
	w := newFakeWall()
	c := New(WithNow(w.Now))
	if c.InGracePeriod() {
		t.Fatal("grace period before any seek")
	}
	c.SetTime(10)
	if !c.InGracePeriod() {
		t.Fatal("expected grace period right after seek")
	}
	w.Advance(300 * time.Millisecond)
	c.Update()
	if c.InGracePeriod() {
		t.Fatal("grace period should have expired")
	}
	// seeking to the start never opens a window
	c.SetTime(0.1)
	if c.InGracePeriod() {
		t.Fatal("grace period after seek near start")
	}
}

func TestCurrentBeat(t *testing.T) {
	t.Parallel()
	w := newFakeWall()
	c := New(WithNow(w.Now), WithBPM(120))
	w.Advance(3 * time.Second)
	c.Update()
	if got := c.CurrentBeat(); !near(got, 6) {
		t.Fatalf("beat = %v, want 6", got)
	}
}

func TestFPSCorrection(t *testing.T) {
	t.Parallel()
	w := newFakeWall()
	c := New(WithNow(w.Now), WithTargetFPS(60))
	for i := 0; i < 30; i++ {
		w.Advance(time.Second / 30)
		c.Update()
	}
	if fps := c.FPS(); math.Abs(fps-30) > 0.5 {
		t.Fatalf("fps = %v, want ~30", fps)
	}
	if corr := c.FPSCorrection(); math.Abs(corr-2) > 0.05 {
		t.Fatalf("correction = %v, want ~2", corr)
	}
}

func TestAdjustFramerateSleepsRemainder(t *testing.T) {
	t.Parallel()
	w := newFakeWall()
	var slept []time.Duration
	c := New(WithNow(w.Now), WithTargetFPS(100), WithSleep(func(d time.Duration) { slept = append(slept, d) }))
	c.Update()
	w.Advance(4 * time.Millisecond)
	c.AdjustFramerate()
	if len(slept) != 1 || slept[0] != 6*time.Millisecond {
		t.Fatalf("slept = %v, want [6ms]", slept)
	}
	c.Update()
	w.Advance(20 * time.Millisecond)
	c.AdjustFramerate()
	if len(slept) != 1 {
		t.Fatalf("unexpected sleep on slow frame: %v", slept)
	}
}

func TestCounters(t *testing.T) {
	t.Parallel()
	w := newFakeWall()
	cs := NewCounters(w.Now)
	if _, ok := cs.End("missing"); ok {
		t.Fatal("End without Start should fail")
	}
	cs.Start("warmup")
	w.Advance(250 * time.Millisecond)
	took, ok := cs.End("warmup")
	if !ok || took != 250*time.Millisecond {
		t.Fatalf("took = %v ok = %v", took, ok)
	}
	snap := cs.Snapshot()
	if len(snap) != 1 || snap[0].Count != 1 || snap[0].Name != "warmup" {
		t.Fatalf("snapshot = %+v", snap)
	}
}
