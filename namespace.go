package sio

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sioworks/sio/parser"
)

// Middleware runs before a socket is admitted to a namespace. Calling
// next with a non-nil error aborts admission.
type Middleware func(socket *Socket, next func(err error))

// ExtendedError carries structured data to the rejected client: the
// Data field, when set, becomes the ERROR packet payload instead of the
// message.
type ExtendedError struct {
	Message string
	Data    interface{}
}

func (e *ExtendedError) Error() string {
	return e.Message
}

// Namespace is a named event-space multiplexed over shared transports.
// It registers sockets, runs the middleware chain on admission and is
// the broadcast entry point.
type Namespace struct {
	emitter

	name    string
	server  *Server
	adapter Adapter

	sockets   map[string]*Socket // all admitted sockets
	connected map[string]*Socket // currently-connected subset
	mu        sync.RWMutex

	fns   []Middleware
	fnsMu sync.RWMutex

	ids uint64 // monotonic ack id counter

	// transient emission state, consumed by the next Emit
	emitRooms []string
	flags     Flags
	emitMu    sync.Mutex
}

// NewNamespace creates a new namespace.
func NewNamespace(name string, server *Server) *Namespace {
	ns := &Namespace{
		name:      name,
		server:    server,
		sockets:   make(map[string]*Socket),
		connected: make(map[string]*Socket),
	}
	ns.initAdapter()
	return ns
}

// Name returns the namespace name.
func (n *Namespace) Name() string {
	return n.name
}

// Server returns the owning server.
func (n *Namespace) Server() *Server {
	return n.server
}

// Adapter returns the namespace's adapter.
func (n *Namespace) Adapter() Adapter {
	return n.adapter
}

// initAdapter installs a fresh adapter from the server's factory. Run
// at construction and again when the server's factory is replaced.
func (n *Namespace) initAdapter() {
	if n.adapter != nil {
		n.adapter.Close()
	}
	n.adapter = n.server.adapterFactory(n)
}

func (n *Namespace) nextAckID() uint64 {
	return atomic.AddUint64(&n.ids, 1) - 1
}

// Use appends a middleware to the chain.
func (n *Namespace) Use(fn Middleware) *Namespace {
	n.fnsMu.Lock()
	n.fns = append(n.fns, fn)
	n.fnsMu.Unlock()
	return n
}

// run executes the middleware chain strictly in registration order.
// The first error short-circuits; the final callback runs exactly once.
func (n *Namespace) run(socket *Socket, fn func(err error)) {
	n.fnsMu.RLock()
	fns := append([]Middleware(nil), n.fns...)
	n.fnsMu.RUnlock()

	if len(fns) == 0 {
		fn(nil)
		return
	}

	var once sync.Once
	finish := func(err error) {
		once.Do(func() { fn(err) })
	}

	var step func(i int)
	step = func(i int) {
		var called int32
		fns[i](socket, func(err error) {
			if !atomic.CompareAndSwapInt32(&called, 0, 1) {
				return
			}
			if err != nil {
				finish(err)
				return
			}
			if i >= len(fns)-1 {
				finish(nil)
				return
			}
			step(i + 1)
		})
	}
	step(0)
}

// OnConnect registers a handler for newly admitted sockets.
func (n *Namespace) OnConnect(handler func(*Socket)) {
	n.On("connection", func(args ...interface{}) {
		handler(args[0].(*Socket))
	})
}

// To targets a room for the next broadcast emit.
func (n *Namespace) To(room string) *Namespace {
	n.emitMu.Lock()
	defer n.emitMu.Unlock()

	for _, r := range n.emitRooms {
		if r == room {
			return n
		}
	}
	n.emitRooms = append(n.emitRooms, room)
	return n
}

// In targets a room for the next broadcast emit.
func (n *Namespace) In(room string) *Namespace {
	return n.To(room)
}

// Volatile flags the next emit as droppable on non-writable transports.
func (n *Namespace) Volatile() *Namespace {
	n.emitMu.Lock()
	n.flags.Volatile = true
	n.emitMu.Unlock()
	return n
}

// JSON sets the json flag on the next emit.
func (n *Namespace) JSON() *Namespace {
	n.emitMu.Lock()
	n.flags.JSON = true
	n.emitMu.Unlock()
	return n
}

// Compress sets whether the next emit's frames are compressed.
func (n *Namespace) Compress(compress bool) *Namespace {
	n.emitMu.Lock()
	n.flags.Compress = &compress
	n.emitMu.Unlock()
	return n
}

func (n *Namespace) takeEmitState() ([]string, Flags) {
	n.emitMu.Lock()
	defer n.emitMu.Unlock()

	rooms, flags := n.emitRooms, n.flags
	n.emitRooms, n.flags = nil, Flags{}
	return rooms, flags
}

// Emit broadcasts an event to every connected socket, or to the rooms
// accumulated with To/In. Ack callbacks are not supported here.
func (n *Namespace) Emit(event string, args ...interface{}) error {
	if namespaceReservedEvents[event] {
		n.emitLocal(event, args...)
		return nil
	}

	rooms, flags := n.takeEmitState()

	if len(args) > 0 {
		if _, ok := ackCallback(args[len(args)-1]); ok {
			return ErrBroadcastAck
		}
	}

	data := make([]interface{}, 0, len(args)+1)
	data = append(data, event)
	data = append(data, args...)

	packet := &parser.Packet{
		Type:      parser.Event,
		Namespace: n.name,
		Data:      data,
	}
	if parser.HasBinary(data) {
		packet.Type = parser.BinaryEvent
	}

	return n.adapter.Broadcast(packet, &BroadcastOptions{
		Rooms: rooms,
		Flags: &flags,
	})
}

// Send broadcasts a "message" event.
func (n *Namespace) Send(args ...interface{}) *Namespace {
	n.Emit("message", args...)
	return n
}

// Write broadcasts a "message" event.
func (n *Namespace) Write(args ...interface{}) *Namespace {
	return n.Send(args...)
}

// Clients hands the matching socket ids to fn: members of the rooms
// accumulated with To/In, or every connected socket.
func (n *Namespace) Clients(fn func(ids []string)) *Namespace {
	rooms, _ := n.takeEmitState()
	fn(n.adapter.Clients(rooms...))
	return n
}

// Sockets returns all admitted sockets.
func (n *Namespace) Sockets() []*Socket {
	n.mu.RLock()
	defer n.mu.RUnlock()

	sockets := make([]*Socket, 0, len(n.sockets))
	for _, socket := range n.sockets {
		sockets = append(sockets, socket)
	}
	return sockets
}

// GetSocket retrieves an admitted socket by ID.
func (n *Namespace) GetSocket(id string) (*Socket, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	socket, ok := n.sockets[id]
	return socket, ok
}

// Add creates a socket for the client and runs it through the
// middleware chain. On success the socket is registered, its onconnect
// runs, the onAdmit callback lets the client record its indices, and
// only then do the user-facing connect/connection events fire. On
// rejection an ERROR packet is sent and the socket is discarded.
func (n *Namespace) Add(client *Client, onAdmit func(*Socket)) *Socket {
	namespaceLog().Debug().Str("nsp", n.name).Str("client", client.id).Msg("adding socket to nsp")
	socket := newSocket(n, client)

	n.run(socket, func(err error) {
		if client.conn.ReadyState() != "open" {
			namespaceLog().Debug().Str("nsp", n.name).Msg("next called after client was closed - ignoring socket")
			return
		}

		if err != nil {
			namespaceLog().Debug().Str("nsp", n.name).Err(err).Msg("middleware error, sending ERROR packet")
			var data interface{} = err.Error()
			var ext *ExtendedError
			if errors.As(err, &ext) && ext.Data != nil {
				data = ext.Data
			}
			socket.packet(&parser.Packet{
				Type: parser.Error,
				Data: data,
			}, nil)
			return
		}

		n.mu.Lock()
		n.sockets[socket.id] = socket
		n.mu.Unlock()

		// A connect handler that immediately disconnects must observe a
		// fully connected socket, so onconnect runs first.
		socket.onconnect()
		if onAdmit != nil {
			onAdmit(socket)
		}
		n.emitLocal("connect", socket)
		n.emitLocal("connection", socket)
	})

	return socket
}

// remove deletes a socket from the admitted index. Called by the socket
// on close.
func (n *Namespace) remove(socket *Socket) {
	n.mu.Lock()
	delete(n.sockets, socket.id)
	n.mu.Unlock()
}

func (n *Namespace) addConnected(socket *Socket) {
	n.mu.Lock()
	n.connected[socket.id] = socket
	n.mu.Unlock()
}

func (n *Namespace) removeConnected(socket *Socket) {
	n.mu.Lock()
	delete(n.connected, socket.id)
	n.mu.Unlock()
}

func (n *Namespace) connectedSocket(id string) (*Socket, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	socket, ok := n.connected[id]
	return socket, ok
}

func (n *Namespace) connectedIDs() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	ids := make([]string, 0, len(n.connected))
	for id := range n.connected {
		ids = append(ids, id)
	}
	return ids
}
