package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	logx "demoplay/pkg/logx"
)

// Store is the load journal.
type Store interface {
	AppendLoad(ctx context.Context, r LoadRecord) error
	// RecentLoads returns up to limit records, newest first.
	RecentLoads(ctx context.Context, limit int) ([]LoadRecord, error)
	// Prune keeps the newest keep records and reports how many were removed.
	Prune(ctx context.Context, keep int) (int, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// normalize fills the ID and timestamp of a record about to be stored.
func normalize(r LoadRecord) LoadRecord {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	if r.ID == "" {
		r.ID = ulid.MustNew(ulid.Timestamp(r.At), ulid.DefaultEntropy()).String()
	}
	return r
}
