package sio

import (
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/sioworks/sio/engineio"
	"github.com/sioworks/sio/parser"
)

// Config configures a Server. The zero value (or nil) selects the
// defaults: path "/socket.io", JSON wire format, in-memory adapter,
// any origin.
type Config struct {
	// Path is the HTTP mount point for the engine transport.
	Path string
	// Origins is the allowed-origin policy, e.g. "example.com:443";
	// "*:*" allows any.
	Origins string
	// Adapter builds the per-namespace adapter.
	Adapter AdapterFactory
	// Parser selects the wire format. Defaults to parser.JSONParser.
	Parser parser.Parser

	PingInterval int // milliseconds
	PingTimeout  int // milliseconds
	MaxPayload   int // bytes
}

// Server holds the namespaces and accepts engine connections. The
// default namespace's API is proxied at the top level, so
// server.Emit(...) is server.Of("/").Emit(...).
type Server struct {
	eio       *engineio.Server
	eioConfig *engineio.Config
	parser    parser.Parser

	namespaces map[string]*Namespace
	nsMu       sync.RWMutex

	adapterFactory AdapterFactory
	path           string
}

// NewServer creates a new socket.io server.
func NewServer(config *Config) *Server {
	if config == nil {
		config = &Config{}
	}

	eioConfig := engineio.DefaultConfig()
	if config.PingInterval > 0 {
		eioConfig.PingInterval = config.PingInterval
	}
	if config.PingTimeout > 0 {
		eioConfig.PingTimeout = config.PingTimeout
	}
	if config.MaxPayload > 0 {
		eioConfig.MaxPayload = config.MaxPayload
	}
	if config.Origins != "" {
		eioConfig.Origins = config.Origins
	}

	server := &Server{
		eioConfig:      eioConfig,
		parser:         config.Parser,
		namespaces:     make(map[string]*Namespace),
		adapterFactory: config.Adapter,
		path:           config.Path,
	}
	if server.parser == nil {
		server.parser = parser.JSONParser{}
	}
	if server.adapterFactory == nil {
		server.adapterFactory = NewMemoryAdapter
	}
	if server.path == "" {
		server.path = "/socket.io"
	}

	server.eio = engineio.NewServer(eioConfig, *serverLog())
	server.Of("/")
	server.eio.OnConnect(server.handleSession)

	return server
}

// Path returns the HTTP mount point.
func (s *Server) Path() string {
	return s.path
}

// Of returns a namespace, creating it if it doesn't exist. The name is
// normalized to a leading "/".
func (s *Server) Of(name string) *Namespace {
	if name == "" {
		name = "/"
	}
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}

	s.nsMu.RLock()
	ns, exists := s.namespaces[name]
	s.nsMu.RUnlock()

	if exists {
		return ns
	}

	s.nsMu.Lock()
	defer s.nsMu.Unlock()

	// Double-check after acquiring write lock
	if ns, exists := s.namespaces[name]; exists {
		return ns
	}

	serverLog().Debug().Str("nsp", name).Msg("initializing namespace")
	ns = NewNamespace(name, s)
	s.namespaces[name] = ns

	return ns
}

// namespace looks a namespace up without creating it.
func (s *Server) namespace(name string) (*Namespace, bool) {
	s.nsMu.RLock()
	defer s.nsMu.RUnlock()

	ns, ok := s.namespaces[name]
	return ns, ok
}

// SetAdapter replaces the adapter factory and re-initializes the
// adapter of every existing namespace.
func (s *Server) SetAdapter(factory AdapterFactory) *Server {
	s.nsMu.Lock()
	defer s.nsMu.Unlock()

	s.adapterFactory = factory
	for _, ns := range s.namespaces {
		ns.initAdapter()
	}
	return s
}

// Adapter returns the adapter factory.
func (s *Server) Adapter() AdapterFactory {
	return s.adapterFactory
}

// onconnection wraps a new engine connection in a Client and admits it
// to the default namespace.
func (s *Server) onconnection(conn Conn) *Client {
	serverLog().Debug().Str("id", conn.ID()).Msg("incoming connection")
	client := newClient(s, conn)
	client.connect("/")
	return client
}

func (s *Server) handleSession(session *engineio.Session) {
	s.onconnection(session)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != s.path && !strings.HasPrefix(r.URL.Path, s.path+"/") {
		http.NotFound(w, r)
		return
	}
	s.eio.ServeHTTP(w, r)
}

// Close force-closes every socket in the default namespace, then the
// engine server.
func (s *Server) Close() error {
	for _, socket := range s.Of("/").Sockets() {
		socket.onclose("server shutting down")
	}

	s.eio.Close()

	s.nsMu.RLock()
	defer s.nsMu.RUnlock()

	for _, ns := range s.namespaces {
		ns.adapter.Close()
	}
	return nil
}

// Set accepts legacy configuration keys:
//
//	"authorization"       func(*Handshake, func(error, bool)) run as "/" middleware
//	"origins"             allowed-origin policy string
//	"resource"            alias for the mount path
//	"heartbeat timeout"   ping timeout, milliseconds
//	"heartbeat interval"  ping interval, milliseconds
//	"destroy buffer size" max payload, bytes
//	"transports"          accepted and ignored; websocket is the only transport
func (s *Server) Set(key string, value interface{}) *Server {
	switch key {
	case "authorization":
		if fn, ok := value.(func(*Handshake, func(error, bool))); ok {
			s.Use(func(socket *Socket, next func(error)) {
				fn(socket.Handshake(), func(err error, authorized bool) {
					if err != nil {
						next(err)
						return
					}
					if !authorized {
						next(errors.New("Not authorized"))
						return
					}
					next(nil)
				})
			})
		}
	case "origins":
		if origins, ok := value.(string); ok {
			s.eio.SetOrigins(origins)
		}
	case "resource":
		if path, ok := value.(string); ok {
			if !strings.HasPrefix(path, "/") {
				path = "/" + path
			}
			s.path = path
		}
	case "heartbeat timeout":
		if ms, ok := value.(int); ok {
			s.eioConfig.PingTimeout = ms
		}
	case "heartbeat interval":
		if ms, ok := value.(int); ok {
			s.eioConfig.PingInterval = ms
		}
	case "destroy buffer size":
		if size, ok := value.(int); ok {
			s.eioConfig.MaxPayload = size
		}
	case "transports":
		// websocket-only
	default:
		serverLog().Debug().Str("key", key).Msg("ignoring unknown option")
	}
	return s
}

// Default-namespace proxies.

// OnConnect registers a connection handler on the default namespace.
func (s *Server) OnConnect(handler func(*Socket)) {
	s.Of("/").OnConnect(handler)
}

// On registers an event handler on the default namespace.
func (s *Server) On(event string, handler EventHandler) {
	s.Of("/").On(event, handler)
}

// Use appends a middleware to the default namespace.
func (s *Server) Use(fn Middleware) *Server {
	s.Of("/").Use(fn)
	return s
}

// To targets a room on the default namespace.
func (s *Server) To(room string) *Namespace {
	return s.Of("/").To(room)
}

// In targets a room on the default namespace.
func (s *Server) In(room string) *Namespace {
	return s.Of("/").In(room)
}

// Emit broadcasts on the default namespace.
func (s *Server) Emit(event string, args ...interface{}) error {
	return s.Of("/").Emit(event, args...)
}

// Send broadcasts a "message" event on the default namespace.
func (s *Server) Send(args ...interface{}) *Server {
	s.Of("/").Send(args...)
	return s
}

// Write broadcasts a "message" event on the default namespace.
func (s *Server) Write(args ...interface{}) *Server {
	return s.Send(args...)
}

// Clients enumerates connected socket ids on the default namespace.
func (s *Server) Clients(fn func(ids []string)) {
	s.Of("/").Clients(fn)
}

// Compress sets the compress flag on the default namespace's next emit.
func (s *Server) Compress(compress bool) *Namespace {
	return s.Of("/").Compress(compress)
}

// Volatile sets the volatile flag on the default namespace's next emit.
func (s *Server) Volatile() *Namespace {
	return s.Of("/").Volatile()
}

// JSON sets the json flag on the default namespace's next emit.
func (s *Server) JSON() *Namespace {
	return s.Of("/").JSON()
}
