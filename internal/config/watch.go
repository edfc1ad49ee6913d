package config

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "demoplay/pkg/logx"
)

// DebounceDelay is how long a file must stay quiet before onChange fires.
// Editors often produce several events for one save.
const DebounceDelay = 250 * time.Millisecond

const (
	watchBackoffMin = 250 * time.Millisecond
	watchBackoffMax = 5 * time.Second
)

const watchedOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod

// WatchFile calls onChange (debounced) whenever path is written, created,
// renamed or removed. The parent directory is watched so atomic saves are
// seen. A broken watcher is recreated after a jittered backoff. WatchFile
// blocks until ctx is done.
func WatchFile(ctx context.Context, path string, log logx.Logger, onChange func()) error {
	fw := &fileWatcher{
		dir:      filepath.Dir(path),
		file:     filepath.Base(path),
		log:      log.With(logx.String("path", path)),
		onChange: onChange,
	}
	defer fw.stopTimer()

	backoff := watchBackoffMin
	for ctx.Err() == nil {
		ok := fw.run(ctx)
		if ctx.Err() != nil {
			break
		}
		if ok {
			backoff = watchBackoffMin
		}
		wait := backoff + rand.N(backoff/2+1)
		backoff = min(backoff*2, watchBackoffMax)
		fw.log.Warn("file watcher restarting", logx.Duration("backoff", wait))
		if !sleepCtx(ctx, wait) {
			break
		}
	}
	return nil
}

type fileWatcher struct {
	dir, file string
	log       logx.Logger
	onChange  func()

	mu    sync.Mutex
	timer *time.Timer
}

// run watches until the watcher breaks or ctx ends. It reports whether the
// watcher was established at all.
func (fw *fileWatcher) run(ctx context.Context) bool {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		fw.log.Warn("file watcher init failed", logx.Err(err))
		return false
	}
	defer w.Close()
	if err := w.Add(fw.dir); err != nil {
		fw.log.Warn("file watcher add failed", logx.String("dir", fw.dir), logx.Err(err))
		return false
	}
	fw.log.Debug("file watcher started")

	for {
		select {
		case <-ctx.Done():
			return true
		case ev, ok := <-w.Events:
			if !ok {
				return true
			}
			if ev.Op&watchedOps != 0 && strings.EqualFold(filepath.Base(ev.Name), fw.file) {
				fw.schedule(ctx)
			}
		case err, ok := <-w.Errors:
			switch {
			case !ok || errors.Is(err, fsnotify.ErrClosed):
				return true
			case err == nil:
			case errors.Is(err, fsnotify.ErrEventOverflow):
				// Events may be lost; reload once to resync.
				fw.log.Warn("file watcher overflow", logx.Err(err))
				fw.schedule(ctx)
			default:
				fw.log.Warn("file watcher error", logx.Err(err))
			}
		}
	}
}

func (fw *fileWatcher) schedule(ctx context.Context) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.timer != nil {
		fw.timer.Stop()
	}
	fw.timer = time.AfterFunc(DebounceDelay, func() {
		if ctx.Err() == nil {
			fw.onChange()
		}
	})
}

func (fw *fileWatcher) stopTimer() {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.timer != nil {
		fw.timer.Stop()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
