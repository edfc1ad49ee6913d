package pprof

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	logx "demoplay/pkg/logx"
)

func TestRouterRequiresToken(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(Router("s3cret"))
	defer srv.Close()

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"no token", "/debug/pprof/", "", http.StatusUnauthorized},
		{"wrong token", "/debug/pprof/?token=nope", "", http.StatusUnauthorized},
		{"query token", "/debug/pprof/?token=s3cret", "", http.StatusOK},
		{"bearer", "/healthz", "Bearer s3cret", http.StatusOK},
	}
	for _, tt := range tests {
		req, err := http.NewRequest(http.MethodGet, srv.URL+tt.path, nil)
		if err != nil {
			t.Fatal(err)
		}
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Fatalf("%s: status = %d, want %d", tt.name, resp.StatusCode, tt.want)
		}
	}
}

func TestServeRefusesPublicBindWithoutToken(t *testing.T) {
	t.Parallel()
	err := Serve(context.Background(), Config{Addr: "0.0.0.0:0"}, logx.Nop())
	if !errors.Is(err, ErrInsecureBind) {
		t.Fatalf("err = %v, want ErrInsecureBind", err)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	tests := map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:6060": true,
		"[::1]:6060":     true,
		":6060":          false,
		"10.0.0.2:6060":  false,
		"nonsense":       false,
	}
	for addr, want := range tests {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v", addr, got)
		}
	}
}
