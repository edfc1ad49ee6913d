package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
	Overlay OverlayConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// OverlayConfig forwards records at or above MinLevel to the on-screen log.
type OverlayConfig struct {
	Enabled    bool
	MinLevel   string
	RatePerSec int
}

// OverlaySink receives one formatted line per forwarded record.
// Implementations must be safe for concurrent use.
type OverlaySink interface {
	AppendLog(line string)
}

type Level = zerolog.Level

const (
	LevelTrace = zerolog.TraceLevel
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// defaultFilePath is used when file logging is on without a path.
const defaultFilePath = "./demoplay.log"

// Service owns the sinks behind every Logger it hands out.
type Service struct {
	root atomic.Pointer[zerolog.Logger]

	mu       sync.Mutex
	file     *os.File
	overlay  OverlaySink
	limiter  *rate.Limiter
	minLevel zerolog.Level

	ovQueue   chan string
	ovOnce    sync.Once
	ovCancel  context.CancelFunc
	ovWG      sync.WaitGroup
	ovDropped atomic.Uint64
}

// New builds a Service from cfg and returns it with its root Logger. A nil
// overlay disables the overlay sink even when the config enables it.
func New(cfg Config, overlay OverlaySink) (*Service, Logger) {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = consoleTimeFormat

	s := &Service{overlay: overlay, ovQueue: make(chan string, 128)}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return nopRoot
}

// OverlayDropped counts records lost to a full overlay queue.
func (s *Service) OverlayDropped() uint64 { return s.ovDropped.Load() }

// Close stops the overlay worker and closes the log file.
func (s *Service) Close() error {
	s.mu.Lock()
	f, cancel := s.file, s.ovCancel
	s.file, s.ovCancel = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		s.ovWG.Wait()
	}
	if f != nil {
		return f.Close()
	}
	return nil
}

// Apply rebuilds the sinks and level. Loggers already handed out pick up
// the change on their next record.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.minLevel = parseLevel(cfg.Overlay.MinLevel, LevelWarn)
	burst := max(1, cfg.Overlay.RatePerSec)
	s.limiter = rate.NewLimiter(rate.Limit(burst), burst)

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, newConsoleWriter(os.Stdout))
	}
	if cfg.File.Enabled {
		if f, err := openLogFile(cfg.File.Path); err != nil {
			fmt.Fprintf(os.Stderr, "logx: %v\n", err)
		} else {
			s.file = f
			sinks = append(sinks, zerolog.SyncWriter(f))
		}
	}
	if cfg.Overlay.Enabled {
		s.startOverlay()
		sinks = append(sinks, overlayWriter{svc: s})
	}
	if len(sinks) == 0 {
		sinks = append(sinks, newConsoleWriter(os.Stdout))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(sinks...)).
		Level(parseLevel(cfg.Level, LevelInfo)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
}

func openLogFile(path string) (*os.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = defaultFilePath
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

func newConsoleWriter(w io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: consoleTimeFormat,
		FormatCaller: func(i any) string {
			s, _ := i.(string)
			return s
		},
	}
}
