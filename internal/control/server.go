// Package control serves a local HTTP API for driving playback: status,
// pause/seek, refresh, the load journal, Prometheus metrics and a websocket
// stream of engine events.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"demoplay/internal/clock"
	"demoplay/internal/eventbus"
	"demoplay/internal/metrics"
	"demoplay/internal/storage"
	logx "demoplay/pkg/logx"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 5 * time.Second
	commandTimeout    = 2 * time.Second
	defaultLoadLimit  = 100
)

// Server wraps the chi router and the engine controller.
type Server struct {
	router  *chi.Mux
	ctl     Controller
	bus     eventbus.Bus
	log     logx.Logger
	addr    string
	origins []string
}

// NewServer creates the router. bus may be nil, which disables /events.
func NewServer(addr string, ctl Controller, bus eventbus.Bus, log logx.Logger, allowedOrigins []string) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	origins := allowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	s := &Server{
		router:  chi.NewRouter(),
		ctl:     ctl,
		bus:     bus,
		log:     log.With(logx.String("comp", "control")),
		addr:    addr,
		origins: origins,
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(metricsMiddleware)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", metrics.Handler())
	s.router.Get("/events", s.handleEvents)

	s.router.Get("/status", s.handleStatus)
	s.router.Get("/loads", s.handleLoads)

	s.router.Post("/pause", s.handlePause)
	s.router.Post("/resume", s.handleResume)
	s.router.Post("/toggle", s.handleToggle)
	s.router.Post("/seek", s.handleSeek)
	s.router.Post("/skip", s.handleSkip)
	s.router.Post("/refresh", s.handleRefresh)
}

func (s *Server) Router() *chi.Mux { return s.router }

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("control server listening", logx.String("addr", s.addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok && err != nil {
			return fmt.Errorf("control server: %w", err)
		}
		return nil
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.log.Info("control server stopped")
	return nil
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.log.Debug("request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Int64("duration_ms", time.Since(start).Milliseconds()),
			logx.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		path := routePattern(r)
		metrics.HTTPRequests.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// routePattern keeps label cardinality bounded.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return "unmatched"
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("encode response", logx.Err(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

// commandError maps controller errors to a status code.
func (s *Server) commandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrDisabled):
		s.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, ErrUnavailable), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		s.writeError(w, http.StatusServiceUnavailable, err)
	default:
		s.writeError(w, http.StatusInternalServerError, err)
	}
}

func commandContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), commandTimeout)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := commandContext(r)
	defer cancel()
	st, err := s.ctl.Status(ctx)
	if err != nil {
		s.commandError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

type pauseResponse struct {
	Paused bool `json:"paused"`
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := commandContext(r)
	defer cancel()
	if err := s.ctl.Pause(ctx); err != nil {
		s.commandError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, pauseResponse{Paused: true})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := commandContext(r)
	defer cancel()
	if err := s.ctl.Resume(ctx); err != nil {
		s.commandError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, pauseResponse{Paused: false})
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := commandContext(r)
	defer cancel()
	paused, err := s.ctl.TogglePause(ctx)
	if err != nil {
		s.commandError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, pauseResponse{Paused: paused})
}

type seekResponse struct {
	Time      float64 `json:"time"`
	Formatted string  `json:"formatted"`
}

// handleSeek takes ?t=M:SS[.mmm].
func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	lit := r.URL.Query().Get("t")
	secs, err := clock.ParseTime(lit)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if secs < 0 {
		s.writeError(w, http.StatusBadRequest, errors.New("missing t"))
		return
	}
	ctx, cancel := commandContext(r)
	defer cancel()
	if err := s.ctl.Seek(ctx, secs); err != nil {
		s.commandError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, seekResponse{Time: secs, Formatted: clock.FormatTime(secs)})
}

// handleSkip takes ?d=<signed seconds>.
func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	d, err := strconv.ParseFloat(strings.TrimSpace(r.URL.Query().Get("d")), 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid d: %w", err))
		return
	}
	ctx, cancel := commandContext(r)
	defer cancel()
	if err := s.ctl.Skip(ctx, d); err != nil {
		s.commandError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]float64{"delta": d})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	full, _ := strconv.ParseBool(r.URL.Query().Get("full"))
	s.ctl.RequestRefresh(full)
	s.writeJSON(w, http.StatusAccepted, map[string]bool{"full": full})
}

func (s *Server) handleLoads(w http.ResponseWriter, r *http.Request) {
	limit := defaultLoadLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}
	ctx, cancel := commandContext(r)
	defer cancel()
	recs, err := s.ctl.RecentLoads(ctx, limit)
	if err != nil {
		s.commandError(w, err)
		return
	}
	if recs == nil {
		recs = []storage.LoadRecord{}
	}
	s.writeJSON(w, http.StatusOK, recs)
}
