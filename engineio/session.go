package engineio

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Session represents one Engine.IO connection over a websocket. It owns
// the read and write loops and the server-initiated ping cycle, and
// surfaces message, error and close events to the layer above.
type Session struct {
	id           string
	conn         *websocket.Conn
	server       *Server
	request      *Request
	outgoing     chan outgoingFrame
	pingTimer    *time.Timer
	pingTimeout  *time.Timer
	closeOnce    sync.Once
	closed       chan struct{}
	mu           sync.RWMutex
	onMessage    func(data []byte, binary bool)
	onError      func(err error)
	onClose      func(reason string)
	lastActivity time.Time
}

type outgoingFrame struct {
	data     []byte
	binary   bool
	compress bool
}

// NewSession creates a new Engine.IO session.
func NewSession(id string, conn *websocket.Conn, request *Request, server *Server) *Session {
	return &Session{
		id:           id,
		conn:         conn,
		server:       server,
		request:      request,
		outgoing:     make(chan outgoingFrame, 256),
		closed:       make(chan struct{}),
		lastActivity: time.Now(),
	}
}

// ID returns the session ID.
func (s *Session) ID() string {
	return s.id
}

// Request returns the snapshot of the HTTP request that opened the
// session.
func (s *Session) Request() *Request {
	return s.request
}

// Start starts the session loops.
func (s *Session) Start() {
	go s.writeLoop()
	go s.readLoop()
	s.schedulePing()
}

// ReadyState reports "open" while the session is live and "closed"
// afterwards.
func (s *Session) ReadyState() string {
	select {
	case <-s.closed:
		return "closed"
	default:
		return "open"
	}
}

// Writable reports whether a write would be accepted without blocking
// or dropping. Used by the volatile emission flag.
func (s *Session) Writable() bool {
	select {
	case <-s.closed:
		return false
	default:
		return len(s.outgoing) < cap(s.outgoing)
	}
}

// Write queues one message payload for delivery. Text payloads are
// framed as Engine.IO message packets; binary payloads travel as raw
// binary websocket frames per Engine.IO v4.
func (s *Session) Write(data []byte, binary bool, compress bool) error {
	var frame outgoingFrame
	if binary {
		frame = outgoingFrame{data: data, binary: true, compress: compress}
	} else {
		packet := &Packet{Type: PacketTypeMessage, Data: data}
		frame = outgoingFrame{data: packet.Encode(), compress: compress}
	}
	return s.enqueue(frame)
}

func (s *Session) send(packet *Packet) error {
	return s.enqueue(outgoingFrame{data: packet.Encode()})
}

func (s *Session) enqueue(frame outgoingFrame) error {
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}

	select {
	case s.outgoing <- frame:
		return nil
	case <-s.closed:
		return ErrSessionClosed
	default:
		// Channel full, connection might be slow
		return ErrSlowClient
	}
}

// Close closes the session and removes it from the server's session
// table. Idempotent.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		close(s.closed)

		s.mu.Lock()
		if s.pingTimer != nil {
			s.pingTimer.Stop()
		}
		if s.pingTimeout != nil {
			s.pingTimeout.Stop()
		}
		onClose := s.onClose
		s.mu.Unlock()

		// WriteControl may be called concurrently with the write loop;
		// WriteMessage may not.
		deadline := time.Now().Add(time.Second)
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		s.conn.Close()

		s.server.sessions.Delete(s.id)
		s.server.log.Debug().Str("sid", s.id).Str("reason", reason).Msg("session closed")

		if onClose != nil {
			onClose(reason)
		}
	})
}

// OnMessage sets the message handler.
func (s *Session) OnMessage(fn func(data []byte, binary bool)) {
	s.mu.Lock()
	s.onMessage = fn
	s.mu.Unlock()
}

// OnError sets the transport error handler.
func (s *Session) OnError(fn func(err error)) {
	s.mu.Lock()
	s.onError = fn
	s.mu.Unlock()
}

// OnClose sets the close handler.
func (s *Session) OnClose(fn func(reason string)) {
	s.mu.Lock()
	s.onClose = fn
	s.mu.Unlock()
}

func (s *Session) readLoop() {
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.mu.RLock()
				onError := s.onError
				s.mu.RUnlock()
				if onError != nil && s.ReadyState() == "open" {
					onError(err)
				}
			}
			s.Close("transport close")
			return
		}

		s.updateActivity()

		if mt == websocket.BinaryMessage {
			s.handleMessage(data, true)
			continue
		}

		packet, err := DecodePacket(data)
		if err != nil {
			continue
		}

		s.handlePacket(packet)
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case frame := <-s.outgoing:
			mt := websocket.TextMessage
			if frame.binary {
				mt = websocket.BinaryMessage
			}
			s.conn.EnableWriteCompression(frame.compress)
			if err := s.conn.WriteMessage(mt, frame.data); err != nil {
				s.Close("write error")
				return
			}
		case <-s.closed:
			return
		}
	}
}

func (s *Session) handlePacket(packet *Packet) {
	switch packet.Type {
	case PacketTypePing:
		s.handlePing()
	case PacketTypePong:
		s.handlePong()
	case PacketTypeMessage:
		s.handleMessage(packet.Data, false)
	case PacketTypeClose:
		s.Close("transport close")
	}
}

func (s *Session) handlePing() {
	s.send(&Packet{Type: PacketTypePong})
}

func (s *Session) handlePong() {
	s.mu.Lock()
	if s.pingTimeout != nil {
		s.pingTimeout.Stop()
	}
	s.mu.Unlock()
	s.schedulePing()
}

func (s *Session) handleMessage(data []byte, binary bool) {
	s.mu.RLock()
	handler := s.onMessage
	s.mu.RUnlock()

	if handler != nil {
		handler(data, binary)
	}
}

func (s *Session) schedulePing() {
	if s.ReadyState() != "open" {
		return
	}
	timer := time.AfterFunc(time.Duration(s.server.config.PingInterval)*time.Millisecond, func() {
		s.send(&Packet{Type: PacketTypePing})
		s.schedulePingTimeout()
	})
	s.mu.Lock()
	s.pingTimer = timer
	s.mu.Unlock()
}

func (s *Session) schedulePingTimeout() {
	if s.ReadyState() != "open" {
		return
	}
	timer := time.AfterFunc(time.Duration(s.server.config.PingTimeout)*time.Millisecond, func() {
		s.Close("ping timeout")
	})
	s.mu.Lock()
	s.pingTimeout = timer
	s.mu.Unlock()
}

func (s *Session) updateActivity() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}
