// Package engineio implements the Engine.IO v4 transport layer over
// websockets: connection upgrade, handshake, heartbeats and framed
// full-duplex message delivery.
package engineio

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrSlowClient    = errors.New("slow client")
)

// Config holds Engine.IO server configuration.
type Config struct {
	PingInterval int    // milliseconds
	PingTimeout  int    // milliseconds
	MaxPayload   int    // bytes
	Origins      string // allowed origins, "*:*" allows any
}

// DefaultConfig returns default Engine.IO configuration.
func DefaultConfig() *Config {
	return &Config{
		PingInterval: 25000,
		PingTimeout:  20000,
		MaxPayload:   1e6,
		Origins:      "*:*",
	}
}

// Server represents an Engine.IO server.
type Server struct {
	config    *Config
	upgrader  websocket.Upgrader
	sessions  sync.Map
	onConnect func(*Session)
	log       zerolog.Logger
}

// NewServer creates a new Engine.IO server.
func NewServer(config *Config, log zerolog.Logger) *Server {
	if config == nil {
		config = DefaultConfig()
	}

	s := &Server{
		config: config,
		log:    log,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:       s.checkOrigin,
		ReadBufferSize:    1024,
		WriteBufferSize:   1024,
		EnableCompression: true,
	}

	return s
}

// SetOrigins replaces the allowed-origin policy.
func (s *Server) SetOrigins(origins string) {
	s.config.Origins = origins
}

// ServeHTTP handles HTTP requests and upgrades to WebSocket.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("transport") != "websocket" {
		http.Error(w, "Only WebSocket transport is supported", http.StatusBadRequest)
		return
	}

	request := snapshotRequest(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	if s.config.MaxPayload > 0 {
		conn.SetReadLimit(int64(s.config.MaxPayload))
	}

	sid := uuid.NewString()
	session := NewSession(sid, conn, request, s)

	s.sessions.Store(sid, session)
	s.log.Debug().Str("sid", sid).Str("remote", request.RemoteAddr).Msg("session opened")

	handshake, err := EncodeHandshake(sid, s.config.PingInterval, s.config.PingTimeout, s.config.MaxPayload)
	if err != nil {
		s.sessions.Delete(sid)
		conn.Close()
		return
	}

	if err := conn.WriteMessage(websocket.TextMessage, handshake); err != nil {
		s.sessions.Delete(sid)
		conn.Close()
		return
	}

	session.Start()

	if s.onConnect != nil {
		s.onConnect(session)
	}
}

// OnConnect sets the connection handler.
func (s *Server) OnConnect(fn func(*Session)) {
	s.onConnect = fn
}

// GetSession retrieves a session by ID.
func (s *Server) GetSession(sid string) (*Session, bool) {
	val, ok := s.sessions.Load(sid)
	if !ok {
		return nil, false
	}
	return val.(*Session), true
}

// Close closes all sessions.
func (s *Server) Close() {
	s.sessions.Range(func(key, value interface{}) bool {
		session := value.(*Session)
		session.Close("server shutdown")
		return true
	})
}

// checkOrigin enforces the configured origin policy. An empty policy or
// "*:*" admits every origin; otherwise the Origin header's host must
// match one of the space or comma separated "host:port" patterns, where
// "*" matches any host or any port.
func (s *Server) checkOrigin(r *http.Request) bool {
	policy := s.config.Origins
	if policy == "" || policy == "*:*" || policy == "*" {
		return true
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := parsed.Hostname()
	port := parsed.Port()
	if port == "" {
		if parsed.Scheme == "https" || parsed.Scheme == "wss" {
			port = "443"
		} else {
			port = "80"
		}
	}

	for _, pattern := range strings.FieldsFunc(policy, func(r rune) bool { return r == ' ' || r == ',' }) {
		ph, pp := pattern, "*"
		if i := strings.LastIndexByte(pattern, ':'); i != -1 {
			ph, pp = pattern[:i], pattern[i+1:]
		}
		if (ph == "*" || strings.EqualFold(ph, host)) && (pp == "*" || pp == port) {
			return true
		}
	}
	return false
}
