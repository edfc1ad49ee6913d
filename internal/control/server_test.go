package control

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"demoplay/internal/clock"
	"demoplay/internal/eventbus"
	"demoplay/internal/storage"
	logx "demoplay/pkg/logx"
)

type fakeController struct {
	mu       sync.Mutex
	paused   bool
	now      float64
	refresh  []bool
	loads    []storage.LoadRecord
	loadsErr error
	blocked  bool
}

func (f *fakeController) Status(ctx context.Context) (Status, error) {
	if f.blocked {
		<-ctx.Done()
		return Status{}, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return Status{Clock: clock.Snapshot{Time: f.now, Paused: f.paused}}, nil
}

func (f *fakeController) Pause(context.Context) error {
	f.mu.Lock()
	f.paused = true
	f.mu.Unlock()
	return nil
}

func (f *fakeController) Resume(context.Context) error {
	f.mu.Lock()
	f.paused = false
	f.mu.Unlock()
	return nil
}

func (f *fakeController) TogglePause(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = !f.paused
	return f.paused, nil
}

func (f *fakeController) Seek(_ context.Context, s float64) error {
	f.mu.Lock()
	f.now = s
	f.mu.Unlock()
	return nil
}

func (f *fakeController) Skip(_ context.Context, d float64) error {
	f.mu.Lock()
	f.now += d
	if f.now < 0 {
		f.now = 0
	}
	f.mu.Unlock()
	return nil
}

func (f *fakeController) RequestRefresh(full bool) {
	f.mu.Lock()
	f.refresh = append(f.refresh, full)
	f.mu.Unlock()
}

func (f *fakeController) RecentLoads(_ context.Context, limit int) ([]storage.LoadRecord, error) {
	if f.loadsErr != nil {
		return nil, f.loadsErr
	}
	if limit < len(f.loads) {
		return f.loads[:limit], nil
	}
	return f.loads, nil
}

func newTestServer(t *testing.T, ctl Controller, bus eventbus.Bus) *httptest.Server {
	t.Helper()
	srv := NewServer(":0", ctl, bus, logx.Nop(), nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, &fakeController{}, nil)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := decode[map[string]string](t, resp); got["status"] != "ok" {
		t.Fatalf("body = %v", got)
	}
}

func TestPauseToggleResume(t *testing.T) {
	t.Parallel()
	ctl := &fakeController{}
	ts := newTestServer(t, ctl, nil)

	if got := decode[pauseResponse](t, post(t, ts.URL+"/pause")); !got.Paused {
		t.Fatal("pause did not report paused")
	}
	if got := decode[pauseResponse](t, post(t, ts.URL+"/toggle")); got.Paused {
		t.Fatal("toggle from paused should resume")
	}
	if got := decode[pauseResponse](t, post(t, ts.URL+"/toggle")); !got.Paused {
		t.Fatal("toggle from running should pause")
	}
	post(t, ts.URL+"/resume").Body.Close()

	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	if st := decode[Status](t, resp); st.Clock.Paused {
		t.Fatal("status still paused")
	}
}

func TestSeekAndSkip(t *testing.T) {
	t.Parallel()
	ctl := &fakeController{}
	ts := newTestServer(t, ctl, nil)

	got := decode[seekResponse](t, post(t, ts.URL+"/seek?t=1:02.5"))
	if got.Time != 62.5 || got.Formatted != "1:02.500" {
		t.Fatalf("seek = %+v", got)
	}
	post(t, ts.URL+"/skip?d=-100").Body.Close()
	ctl.mu.Lock()
	now := ctl.now
	ctl.mu.Unlock()
	if now != 0 {
		t.Fatalf("now = %v", now)
	}

	tests := []string{"/seek?t=soon", "/seek", "/skip?d=abc"}
	for _, p := range tests {
		resp := post(t, ts.URL+p)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s status = %d", p, resp.StatusCode)
		}
	}
}

func TestRefreshIsAccepted(t *testing.T) {
	t.Parallel()
	ctl := &fakeController{}
	ts := newTestServer(t, ctl, nil)
	resp := post(t, ts.URL+"/refresh?full=true")
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	post(t, ts.URL+"/refresh").Body.Close()
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if len(ctl.refresh) != 2 || !ctl.refresh[0] || ctl.refresh[1] {
		t.Fatalf("refresh = %v", ctl.refresh)
	}
}

func TestLoads(t *testing.T) {
	t.Parallel()
	ctl := &fakeController{loads: []storage.LoadRecord{{ID: "b", Name: "fade"}, {ID: "a", Name: "title"}}}
	ts := newTestServer(t, ctl, nil)

	resp, err := http.Get(ts.URL + "/loads?limit=1")
	if err != nil {
		t.Fatal(err)
	}
	recs := decode[[]storage.LoadRecord](t, resp)
	if len(recs) != 1 || recs[0].Name != "fade" {
		t.Fatalf("loads = %+v", recs)
	}

	resp, _ = http.Get(ts.URL + "/loads?limit=-3")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", resp.StatusCode)
	}

	disabled := newTestServer(t, &fakeController{loadsErr: storage.ErrDisabled}, nil)
	resp, _ = http.Get(disabled.URL + "/loads")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("disabled status = %d", resp.StatusCode)
	}

	stopping := newTestServer(t, &fakeController{loadsErr: fmt.Errorf("loads: %w", ErrUnavailable)}, nil)
	resp, _ = http.Get(stopping.URL + "/loads")
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("stopping status = %d", resp.StatusCode)
	}
}

func TestStatusTimesOut(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, &fakeController{blocked: true}, nil)
	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, &fakeController{}, nil)
	if resp, err := http.Get(ts.URL + "/healthz"); err == nil {
		resp.Body.Close()
	}
	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "demoplay_http_requests_total") {
		t.Fatal("http request counter not exported")
	}
}

func TestEventStream(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ts := newTestServer(t, &fakeController{}, bus)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events?type=effect.*"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// the handler subscribes after the upgrade; publish until one arrives
	got := make(chan eventbus.Event, 1)
	go func() {
		var ev eventbus.Event
		if err := conn.ReadJSON(&ev); err == nil {
			got <- ev
		}
	}()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case ev := <-got:
			if ev.Type != eventbus.EffectInit {
				t.Fatalf("event = %s", ev.Type)
			}
			return
		case <-tick.C:
			eventbus.Emit(bus, eventbus.ClockPause, nil)
			eventbus.Emit(bus, eventbus.EffectInit, map[string]string{"effect": "fade"})
		case <-deadline:
			t.Fatal("no event received")
		}
	}
}

func TestCheckOrigin(t *testing.T) {
	t.Parallel()
	s := NewServer(":0", &fakeController{}, nil, logx.Nop(), []string{"https://studio.example"})
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://studio.example", true},
		{"https://evil.example", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "http://127.0.0.1:7070/events", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := s.checkOrigin(r); got != tt.want {
			t.Fatalf("origin %q = %v, want %v", tt.origin, got, tt.want)
		}
	}
}
