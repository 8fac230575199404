package sio

import (
	"errors"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sioworks/sio/parser"
)

// ErrBroadcastAck is returned when an ack callback is supplied to a
// broadcast emit.
var ErrBroadcastAck = errors.New("Callbacks are not supported when broadcasting")

// AckHandler handles acknowledgment responses.
type AckHandler func(args ...interface{})

// Handshake is the metadata snapshot captured at socket creation time.
type Handshake struct {
	// The headers sent as part of the handshake
	Headers http.Header
	// The date of creation (as string)
	Time string
	// The ip of the client
	Address string
	// Whether the connection is cross-domain
	Xdomain bool
	// Whether the connection is secure
	Secure bool
	// The date of creation (as unix timestamp, milliseconds)
	Issued int64
	// The request URL string
	URL string
	// The query parameters
	Query url.Values
}

// Socket is one peer's endpoint within a namespace. A client has at
// most one socket per namespace; the id <nsp>#<client-id> keeps ids
// unique across namespaces.
type Socket struct {
	emitter

	id        string
	nsp       *Namespace
	server    *Server
	adapter   Adapter
	client    *Client
	conn      Conn
	handshake *Handshake

	rooms   map[string]bool
	roomsMu sync.RWMutex

	acks sync.Map // ack id -> AckHandler

	connected    bool
	disconnected bool
	stateMu      sync.RWMutex

	// transient emission state, consumed by the next Emit
	emitRooms []string
	flags     Flags
	emitMu    sync.Mutex
}

func newSocket(nsp *Namespace, client *Client) *Socket {
	s := &Socket{
		id:      nsp.name + "#" + client.id,
		nsp:     nsp,
		server:  nsp.server,
		adapter: nsp.adapter,
		client:  client,
		conn:    client.conn,
		rooms:   make(map[string]bool),
	}
	s.handshake = s.buildHandshake()
	return s
}

func (s *Socket) buildHandshake() *Handshake {
	req := s.conn.Request()
	now := time.Now()
	return &Handshake{
		Headers: req.Headers,
		Time:    now.Format(time.RFC1123),
		Address: req.RemoteAddr,
		Xdomain: req.Headers.Get("Origin") != "",
		Secure:  req.Secure,
		Issued:  now.UnixMilli(),
		URL:     req.URL,
		Query:   req.Query,
	}
}

// ID returns the socket ID.
func (s *Socket) ID() string {
	return s.id
}

// Namespace returns the namespace the socket belongs to.
func (s *Socket) Namespace() *Namespace {
	return s.nsp
}

// Client returns the owning client.
func (s *Socket) Client() *Client {
	return s.client
}

// Handshake returns the handshake snapshot.
func (s *Socket) Handshake() *Handshake {
	return s.handshake
}

// Connected reports whether the socket is currently connected.
func (s *Socket) Connected() bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	return s.connected
}

// Disconnected reports whether the socket has reached its terminal
// state.
func (s *Socket) Disconnected() bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	return s.disconnected
}

// Rooms returns all rooms the socket is in.
func (s *Socket) Rooms() []string {
	s.roomsMu.RLock()
	defer s.roomsMu.RUnlock()

	rooms := make([]string, 0, len(s.rooms))
	for room := range s.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// Emit sends an event to the client. A reserved event name only fires
// local listeners. If the last argument is a func(...interface{}) it is
// registered as an ack callback; acks are rejected while broadcasting.
func (s *Socket) Emit(event string, args ...interface{}) error {
	if socketReservedEvents[event] {
		s.emitLocal(event, args...)
		return nil
	}

	rooms, flags := s.takeEmitState()
	broadcasting := len(rooms) > 0 || flags.Broadcast

	data := make([]interface{}, 0, len(args)+1)
	data = append(data, event)
	data = append(data, args...)

	packet := &parser.Packet{
		Type:      parser.Event,
		Namespace: s.nsp.name,
		Data:      data,
	}
	if parser.HasBinary(data) {
		packet.Type = parser.BinaryEvent
	}

	if len(args) > 0 {
		if ack, ok := ackCallback(args[len(args)-1]); ok {
			if broadcasting {
				return ErrBroadcastAck
			}
			id := s.nsp.nextAckID()
			socketLog().Debug().Str("socket", s.id).Uint64("id", id).Msg("emitting packet with ack id")
			s.acks.Store(id, ack)
			packet.ID = &id
			packet.Data = data[:len(data)-1]
		}
	}

	if broadcasting {
		return s.adapter.Broadcast(packet, &BroadcastOptions{
			Rooms:  rooms,
			Except: []string{s.id},
			Flags:  &flags,
		})
	}

	s.packet(packet, &flags)
	return nil
}

// Send sends a "message" event.
func (s *Socket) Send(args ...interface{}) *Socket {
	s.Emit("message", args...)
	return s
}

// Write sends a "message" event.
func (s *Socket) Write(args ...interface{}) *Socket {
	return s.Send(args...)
}

// To targets a room for the next emit, turning it into a broadcast that
// excludes the sender.
func (s *Socket) To(room string) *Socket {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	for _, r := range s.emitRooms {
		if r == room {
			return s
		}
	}
	s.emitRooms = append(s.emitRooms, room)
	return s
}

// In targets a room for the next emit.
func (s *Socket) In(room string) *Socket {
	return s.To(room)
}

// Broadcast flags the next emit to reach every connected socket of the
// namespace except the sender.
func (s *Socket) Broadcast() *Socket {
	s.emitMu.Lock()
	s.flags.Broadcast = true
	s.emitMu.Unlock()
	return s
}

// Volatile flags the next emit to be dropped rather than queued when
// the transport is not writable.
func (s *Socket) Volatile() *Socket {
	s.emitMu.Lock()
	s.flags.Volatile = true
	s.emitMu.Unlock()
	return s
}

// JSON sets the json flag on the next emit.
func (s *Socket) JSON() *Socket {
	s.emitMu.Lock()
	s.flags.JSON = true
	s.emitMu.Unlock()
	return s
}

// Compress sets whether the next emit's frames are compressed.
func (s *Socket) Compress(compress bool) *Socket {
	s.emitMu.Lock()
	s.flags.Compress = &compress
	s.emitMu.Unlock()
	return s
}

// takeEmitState consumes and clears the transient rooms and flags.
func (s *Socket) takeEmitState() ([]string, Flags) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	rooms, flags := s.emitRooms, s.flags
	s.emitRooms, s.flags = nil, Flags{}
	return rooms, flags
}

// Join adds the socket to a room. No-op if already joined.
func (s *Socket) Join(room string) error {
	s.roomsMu.RLock()
	joined := s.rooms[room]
	s.roomsMu.RUnlock()
	if joined {
		return nil
	}

	socketLog().Debug().Str("socket", s.id).Str("room", room).Msg("joining room")
	if err := s.adapter.Add(s.id, room); err != nil {
		return err
	}

	s.roomsMu.Lock()
	s.rooms[room] = true
	s.roomsMu.Unlock()
	return nil
}

// Leave removes the socket from a room.
func (s *Socket) Leave(room string) error {
	socketLog().Debug().Str("socket", s.id).Str("room", room).Msg("leaving room")
	if err := s.adapter.Del(s.id, room); err != nil {
		return err
	}

	s.roomsMu.Lock()
	delete(s.rooms, room)
	s.roomsMu.Unlock()
	return nil
}

func (s *Socket) leaveAll() {
	s.adapter.DelAll(s.id)

	s.roomsMu.Lock()
	s.rooms = make(map[string]bool)
	s.roomsMu.Unlock()
}

// Disconnect closes this socket. With close=true the whole client
// transport is torn down; otherwise a DISCONNECT packet is sent and
// only this socket closes.
func (s *Socket) Disconnect(close bool) *Socket {
	if !s.Connected() {
		return s
	}
	if close {
		s.client.disconnect()
		return s
	}
	s.packet(&parser.Packet{Type: parser.Disconnect}, nil)
	s.onclose("server namespace disconnect")
	return s
}

// packet writes a packet scoped to this socket's namespace.
func (s *Socket) packet(packet *parser.Packet, flags *Flags) {
	packet.Namespace = s.nsp.name
	s.client.packet(packet, &WriteOptions{
		Volatile: flags.volatile(),
		Compress: flags.compress(),
	})
}

// onconnect is invoked exactly once by the namespace after middleware
// success: the socket becomes connected, joins its own-id room and the
// CONNECT packet goes out before any user-facing events fire.
func (s *Socket) onconnect() {
	socketLog().Debug().Str("socket", s.id).Msg("socket connected - writing packet")

	s.stateMu.Lock()
	s.connected = true
	s.stateMu.Unlock()

	s.nsp.addConnected(s)
	s.Join(s.id)
	s.packet(&parser.Packet{
		Type: parser.Connect,
		Data: map[string]interface{}{"sid": s.id},
	}, nil)
}

// onpacket dispatches a decoded inbound packet. Called by the client.
func (s *Socket) onpacket(packet *parser.Packet) {
	switch packet.Type {
	case parser.Event, parser.BinaryEvent:
		s.onevent(packet)
	case parser.Ack, parser.BinaryAck:
		s.onack(packet)
	case parser.Disconnect:
		s.onclose("client namespace disconnect")
	case parser.Error:
		s.emitLocal("error", packet.Data)
	}
}

// onevent delivers an inbound event to local listeners, appending a
// generated ack callback when the packet carries an id.
func (s *Socket) onevent(packet *parser.Packet) {
	dataArray, ok := packet.Data.([]interface{})
	if !ok || len(dataArray) == 0 {
		return
	}
	event, ok := dataArray[0].(string)
	if !ok {
		return
	}

	args := dataArray[1:]
	if packet.ID != nil {
		socketLog().Debug().Str("socket", s.id).Uint64("id", *packet.ID).Msg("attaching ack callback to event")
		args = append(args, s.ack(*packet.ID))
	}

	s.emitLocal(event, args...)
}

// ackCallback recognizes a trailing ack argument in either spelling.
func ackCallback(v interface{}) (AckHandler, bool) {
	switch fn := v.(type) {
	case AckHandler:
		return fn, true
	case func(args ...interface{}):
		return fn, true
	default:
		return nil, false
	}
}

// ack produces the single-shot reply callback for an inbound event id.
func (s *Socket) ack(id uint64) func(args ...interface{}) {
	var sent int32
	return func(args ...interface{}) {
		// prevent double callbacks
		if !atomic.CompareAndSwapInt32(&sent, 0, 1) {
			return
		}
		packet := &parser.Packet{
			Type: parser.Ack,
			ID:   &id,
			Data: args,
		}
		if parser.HasBinary(args) {
			packet.Type = parser.BinaryAck
		}
		s.packet(packet, nil)
	}
}

// onack routes an inbound ack reply to its pending callback.
func (s *Socket) onack(packet *parser.Packet) {
	if packet.ID == nil {
		socketLog().Debug().Str("socket", s.id).Msg("bad ack: missing id")
		return
	}
	val, ok := s.acks.LoadAndDelete(*packet.ID)
	if !ok {
		socketLog().Debug().Str("socket", s.id).Uint64("id", *packet.ID).Msg("bad ack: no handler")
		return
	}

	handler := val.(AckHandler)
	args, _ := packet.Data.([]interface{})
	handler(args...)
}

// onerror delivers a client-level error, falling back to the operator
// log when no listener is registered.
func (s *Socket) onerror(err error) {
	if s.listenerCount("error") > 0 {
		s.emitLocal("error", err)
		return
	}
	socketLog().Error().Err(err).Str("socket", s.id).Msg("missing error handler on socket")
}

// onclose moves the socket to its terminal state. Idempotent.
func (s *Socket) onclose(reason string) {
	s.stateMu.Lock()
	if !s.connected {
		s.stateMu.Unlock()
		return
	}
	s.connected = false
	s.disconnected = true
	s.stateMu.Unlock()

	socketLog().Debug().Str("socket", s.id).Str("reason", reason).Msg("closing socket")

	s.leaveAll()
	s.nsp.remove(s)
	s.client.remove(s)
	s.nsp.removeConnected(s)
	s.emitLocal("disconnect", reason)
}

// OnDisconnect registers a disconnect handler.
func (s *Socket) OnDisconnect(handler func(reason string)) {
	s.On("disconnect", func(args ...interface{}) {
		reason, _ := args[0].(string)
		handler(reason)
	})
}
