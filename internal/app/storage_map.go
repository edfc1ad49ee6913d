package app

import (
	"fmt"
	"strings"
	"time"

	"demoplay/internal/config"
	"demoplay/internal/storage"
)

const defaultBusyTimeout = time.Second

// mapStorageConfig turns the storage section into a journal config. The bool
// is false when the journal is switched off.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	out := storage.Config{
		Driver: strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:   strings.TrimSpace(sc.Path),
	}

	switch out.Driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "file":
		return out, true, nil
	case "sqlite", "sqlite3":
	default:
		return storage.Config{}, false, fmt.Errorf("storage.driver: unknown driver %q", sc.Driver)
	}

	if out.Path == "" {
		return storage.Config{}, false, fmt.Errorf("storage.path: required for driver %s", out.Driver)
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, defaultBusyTimeout)
	if err != nil {
		return storage.Config{}, false, err
	}
	out.BusyTimeout = busy
	return out, true, nil
}
