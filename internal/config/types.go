package config

import (
	"strings"
	"time"

	logx "demoplay/pkg/logx"
)

// Config is the engine configuration. The demo itself (effects, scenes,
// timing) lives in the demo script; this file only tunes the engine.
type Config struct {
	Logging     LoggingConfig      `json:"logging"`
	Player      PlayerConfig       `json:"player"`
	Storage     *StorageConfig     `json:"storage,omitempty"`
	Control     ControlConfig      `json:"control"`
	Maintenance *MaintenanceConfig `json:"maintenance,omitempty"`
	Pprof       *PprofConfig       `json:"pprof,omitempty"`
}

type LoggingConfig struct {
	Level   string         `json:"level"`
	Console bool           `json:"console"`
	File    LoggingFile    `json:"file"`
	Overlay LoggingOverlay `json:"overlay"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingOverlay forwards warnings to the on-screen log in editor mode.
type LoggingOverlay struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// LogxConfig converts the logging section for logx.New / Service.Apply.
func (l LoggingConfig) LogxConfig() logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Overlay: logx.OverlayConfig{
			Enabled:    l.Overlay.Enabled,
			MinLevel:   l.Overlay.MinLevel,
			RatePerSec: l.Overlay.RatePerSec,
		},
	}
}

// PlayerConfig controls playback.
//
// Defaults (when fields are omitted/zero):
//   - script: "data/demo.yaml"
//   - threads: 0 (workers disabled, loads run on the render thread)
//   - target_fps: 500
//   - pause_idle: "10ms"
type PlayerConfig struct {
	Script string `json:"script"`
	// Editor enables hot reload of scripted effects and shaders, sync polling
	// and the on-screen log.
	Editor    bool    `json:"editor"`
	Threads   int     `json:"threads"`
	TargetFPS float64 `json:"target_fps,omitempty"`
	// Seek is a time literal ("M:SS[.mmm]") applied once after warm-up.
	Seek string `json:"seek,omitempty"`
	// PauseIdle is how long the loop sleeps per frame while paused.
	PauseIdle string `json:"pause_idle,omitempty"`
	Loop      bool   `json:"loop,omitempty"`
}

func (p PlayerConfig) ScriptPath() string {
	if s := strings.TrimSpace(p.Script); s != "" {
		return s
	}
	return "data/demo.yaml"
}

func (p PlayerConfig) FPS() float64 {
	if p.TargetFPS <= 0 {
		return 500
	}
	return p.TargetFPS
}

func (p PlayerConfig) PauseIdleDuration() (time.Duration, error) {
	return ParseDurationOrDefault("player.pause_idle", p.PauseIdle, 10*time.Millisecond)
}

// StorageConfig controls the load journal.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./demoplay_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// ControlConfig controls the local HTTP control server.
//
// Prefer binding to localhost; the server has no authentication.
type ControlConfig struct {
	Enabled        bool     `json:"enabled"`
	Addr           string   `json:"addr,omitempty"` // default: "127.0.0.1:7070"
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

func (c ControlConfig) ListenAddr() string {
	if a := strings.TrimSpace(c.Addr); a != "" {
		return a
	}
	return "127.0.0.1:7070"
}

// MaintenanceConfig schedules periodic housekeeping. Schedules are cron
// expressions (robfig/cron, with optional seconds field and descriptors like
// "@every 1m"). An empty schedule disables the job.
type MaintenanceConfig struct {
	CacheReport string `json:"cache_report,omitempty"`
	PruneLoads  string `json:"prune_loads,omitempty"`
	KeepLoads   int    `json:"keep_loads,omitempty"` // default: 1000
}

func (m *MaintenanceConfig) Keep() int {
	if m == nil || m.KeepLoads <= 0 {
		return 1000
	}
	return m.KeepLoads
}

// PprofConfig controls the optional profiling server.
//
// Security: prefer binding to localhost (default "127.0.0.1:6060"). A
// non-loopback address requires a token.
type PprofConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Token   string `json:"token,omitempty"`

	// Runtime profiling rates, applied live. 0 keeps the Go default.
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}
