package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free JSON Lines journal
//   - "sqlite": SQLite database file (build tag "sqlite")
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Load record kinds.
const (
	KindEffectInit   = "effect.init"
	KindEffectReload = "effect.reload"
	KindWarmUp       = "warmup"
	KindRefresh      = "refresh"
	KindCounter      = "counter"
)

// LoadRecord is one timed load. Keep it compact and schema-stable.
type LoadRecord struct {
	ID     string    `json:"id"`
	At     time.Time `json:"at"`
	Kind   string    `json:"kind"`
	Name   string    `json:"name"`
	TookMS int64     `json:"took_ms"`
	Error  string    `json:"error,omitempty"`
}
