package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerExposesEngineCollectors(t *testing.T) {
	FPS.Set(60)
	Paused.Set(BoolGauge(true))

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{"demoplay_fps 60", "demoplay_paused 1", "demoplay_frame_duration_seconds"} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestBoolGauge(t *testing.T) {
	t.Parallel()
	if BoolGauge(true) != 1 || BoolGauge(false) != 0 {
		t.Fatal("BoolGauge mismatch")
	}
}
