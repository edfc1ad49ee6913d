package config

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidConfig = errors.New("invalid config")

// Validate checks values the decoder cannot: ranges, durations and drivers. Time
// literals are checked where they are used; a bad one is logged, not fatal.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: nil", ErrInvalidConfig)
	}
	var errs []error
	if cfg.Player.Threads < 0 {
		errs = append(errs, fmt.Errorf("player.threads must be >= 0"))
	}
	if cfg.Player.TargetFPS < 0 {
		errs = append(errs, fmt.Errorf("player.target_fps must be >= 0"))
	}
	if _, err := cfg.Player.PauseIdleDuration(); err != nil {
		errs = append(errs, err)
	}
	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	if m := cfg.Maintenance; m != nil && m.KeepLoads < 0 {
		errs = append(errs, fmt.Errorf("maintenance.keep_loads must be >= 0"))
	}
	if p := cfg.Pprof; p != nil && (p.MutexProfileFraction < 0 || p.BlockProfileRate < 0) {
		errs = append(errs, fmt.Errorf("pprof: profile rates must be >= 0"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
