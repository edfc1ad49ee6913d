package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog"
)

const (
	overlayLineMax  = 240
	overlayValueMax = 80
)

// startOverlay launches the worker that feeds the overlay sink. It runs at
// most once per Service.
func (s *Service) startOverlay() {
	s.ovOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		s.ovCancel = cancel
		s.ovWG.Add(1)
		go func() {
			defer s.ovWG.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case line := <-s.ovQueue:
					if sink := s.overlaySink(); sink != nil {
						sink.AppendLog(line)
					}
				}
			}
		}()
	})
}

func (s *Service) overlaySink() OverlaySink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overlay
}

// overlayWriter is the zerolog sink for the overlay. It never blocks: records
// over the rate limit are skipped and a full queue counts as a drop.
type overlayWriter struct{ svc *Service }

func (w overlayWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.InfoLevel, p)
}

func (w overlayWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	s := w.svc
	s.mu.Lock()
	allowed := s.overlay != nil && s.limiter != nil && level >= s.minLevel
	lim := s.limiter
	s.mu.Unlock()

	if !allowed || !lim.Allow() {
		return len(p), nil
	}
	if line := formatOverlayLine(p); line != "" {
		select {
		case s.ovQueue <- line:
		default:
			s.ovDropped.Add(1)
		}
	}
	return len(p), nil
}

// formatOverlayLine renders one JSON record as
// "[LEVEL] message key=value ..." with sorted keys. Input that is not JSON
// is trimmed and passed through.
func formatOverlayLine(p []byte) string {
	p = bytes.TrimSpace(p)
	var rec map[string]any
	if err := json.Unmarshal(p, &rec); err != nil {
		return clip(string(p), overlayLineMax)
	}

	var b strings.Builder
	if lvl, _ := rec[zerolog.LevelFieldName].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := rec[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(rec))
	for k := range rec {
		switch k {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName,
			zerolog.CallerFieldName, "stack":
		default:
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, clip(fmt.Sprint(rec[k]), overlayValueMax))
	}
	return clip(b.String(), overlayLineMax)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// parseLevel maps a config level name to a zerolog level. "warning" is
// accepted for warn; anything unknown yields def.
func parseLevel(s string, def Level) Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	switch s {
	case "trace", "debug", "info", "warn", "error":
		lvl, err := zerolog.ParseLevel(s)
		if err == nil {
			return lvl
		}
	}
	return def
}
