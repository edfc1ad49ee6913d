package control

import (
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/gorilla/websocket"

	"demoplay/internal/eventbus"
	logx "demoplay/pkg/logx"
)

const (
	eventBuffer  = 64
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
)

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{CheckOrigin: s.checkOrigin}
}

// checkOrigin accepts non-browser clients (no Origin header) and origins
// matching the allow list; "*" and host:* wildcards follow the CORS rules.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.origins {
		if allowed == "*" || allowed == origin {
			return true
		}
		if ok, _ := path.Match(allowed, origin); ok {
			return true
		}
	}
	u, err := url.Parse(origin)
	return err == nil && u.Host == r.Host
}

// handleEvents streams bus events as JSON text frames. ?type= filters with
// eventbus.Matches patterns (e.g. "effect.*").
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		s.writeError(w, http.StatusNotFound, errNoEvents)
		return
	}
	pattern := r.URL.Query().Get("type")

	up := s.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	events, unsubscribe := s.bus.Subscribe(eventBuffer)
	s.log.Debug("event stream opened", logx.String("remote", r.RemoteAddr), logx.String("type", pattern))

	// the reader only notices client close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer func() {
		ping.Stop()
		unsubscribe()
		_ = conn.Close()
		s.log.Debug("event stream closed", logx.String("remote", r.RemoteAddr))
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if pattern != "" && !eventbus.Matches(pattern, ev.Type) {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
