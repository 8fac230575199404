package sio

import (
	"sync"

	"github.com/sioworks/sio/parser"
)

// Client demultiplexes one engine transport into zero or more namespace
// sockets. It owns the encoder and decoder for the connection and
// orchestrates the fanned close.
type Client struct {
	conn    Conn
	id      string
	server  *Server
	encoder parser.Encoder
	decoder parser.Decoder

	sockets map[string]*Socket // socket.id -> socket
	nsps    map[string]*Socket // namespace name -> socket

	// CONNECTs for other namespaces received before "/" is admitted,
	// replayed in arrival order once it is.
	connectBuffer []string

	mu        sync.Mutex
	destroyed bool
}

func newClient(server *Server, conn Conn) *Client {
	c := &Client{
		conn:    conn,
		id:      conn.ID(),
		server:  server,
		encoder: server.parser.NewEncoder(),
		decoder: server.parser.NewDecoder(),
		sockets: make(map[string]*Socket),
		nsps:    make(map[string]*Socket),
	}
	c.setup()
	return c
}

// ID returns the engine-assigned connection id.
func (c *Client) ID() string {
	return c.id
}

// Conn returns the underlying transport.
func (c *Client) Conn() Conn {
	return c.conn
}

func (c *Client) setup() {
	c.decoder.OnDecoded(c.ondecoded)
	c.conn.OnMessage(c.ondata)
	c.conn.OnError(c.onerror)
	c.conn.OnClose(c.onclose)
}

// connect admits the client to a namespace. Unknown namespaces get an
// ERROR reply; namespaces other than "/" are buffered until the default
// namespace has a socket, because "/" mediates identity for the
// connection.
func (c *Client) connect(name string) {
	nsp, ok := c.server.namespace(name)
	if !ok {
		c.packet(&parser.Packet{
			Type:      parser.Error,
			Namespace: name,
			Data:      "Invalid namespace",
		}, nil)
		return
	}

	if name != "/" {
		c.mu.Lock()
		if c.nsps["/"] == nil {
			c.connectBuffer = append(c.connectBuffer, name)
			c.mu.Unlock()
			clientLog().Debug().Str("client", c.id).Str("nsp", name).Msg("buffering connect until / is admitted")
			return
		}
		c.mu.Unlock()
	}

	clientLog().Debug().Str("client", c.id).Str("nsp", name).Msg("connecting to namespace")
	nsp.Add(c, func(socket *Socket) {
		c.mu.Lock()
		c.sockets[socket.id] = socket
		c.nsps[name] = socket

		var buffered []string
		if name == "/" {
			buffered = c.connectBuffer
			c.connectBuffer = nil
		}
		c.mu.Unlock()

		for _, pending := range buffered {
			c.connect(pending)
		}
	})
}

// packet encodes and writes one packet. Silently dropped when the
// transport is not open.
func (c *Client) packet(packet *parser.Packet, opts *WriteOptions) {
	if opts == nil {
		opts = &WriteOptions{Compress: true}
	}

	frames, err := c.encoder.Encode(packet)
	if err != nil {
		clientLog().Debug().Err(err).Str("client", c.id).Msg("failed to encode packet")
		return
	}
	c.writeFrames(frames, opts)
}

// writeFrames pushes encoded frames through the transport, honoring the
// volatile and compress options. Used directly by adapter broadcast
// with pre-encoded frames.
func (c *Client) writeFrames(frames []parser.Frame, opts *WriteOptions) {
	if c.conn.ReadyState() != "open" {
		clientLog().Debug().Str("client", c.id).Msg("ignoring packet write, transport closed")
		return
	}
	if opts.Volatile && !c.conn.Writable() {
		clientLog().Debug().Str("client", c.id).Msg("volatile packet discarded, transport not writable")
		return
	}
	for _, frame := range frames {
		c.conn.Write(frame.Data, frame.Binary, opts.Compress)
	}
}

// ondata feeds one transport frame to the decoder. Decoder errors are
// protocol violations and go through the error path.
func (c *Client) ondata(data []byte, binary bool) {
	if err := c.decoder.Add(parser.Frame{Data: data, Binary: binary}); err != nil {
		clientLog().Debug().Err(err).Str("client", c.id).Msg("invalid packet format")
		c.onerror(err)
	}
}

// ondecoded routes a whole packet: CONNECTs to admission, everything
// else to the namespace's socket. Packets for unknown namespaces are
// dropped, keeping faults isolated per namespace.
func (c *Client) ondecoded(packet *parser.Packet) {
	if packet.Type == parser.Connect {
		c.connect(packet.Namespace)
		return
	}

	c.mu.Lock()
	socket := c.nsps[packet.Namespace]
	c.mu.Unlock()

	if socket == nil {
		clientLog().Debug().Str("client", c.id).Str("nsp", packet.Namespace).Msg("no socket for namespace, dropping packet")
		return
	}
	socket.onpacket(packet)
}

// disconnect cleanly disconnects every socket, then closes the
// transport.
func (c *Client) disconnect() {
	for _, socket := range c.snapshot() {
		socket.Disconnect(false)
	}
	c.close()
}

// remove drops a socket from both indices. Called by each socket on
// close.
func (c *Client) remove(socket *Socket) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.sockets[socket.id]; ok {
		delete(c.sockets, socket.id)
		delete(c.nsps, socket.nsp.name)
	}
}

// close forces the transport closed.
func (c *Client) close() {
	if c.conn.ReadyState() == "open" {
		clientLog().Debug().Str("client", c.id).Msg("forcing transport close")
		c.conn.Close("forced server close")
	}
}

// onerror fans a transport or protocol error out to every socket, then
// closes the connection.
func (c *Client) onerror(err error) {
	for _, socket := range c.snapshot() {
		socket.onerror(err)
	}
	c.conn.Close("client error")
}

// onclose destroys the client and closes every socket with the given
// reason. Subsequent close events are ignored.
func (c *Client) onclose(reason string) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true

	sockets := make([]*Socket, 0, len(c.sockets))
	for _, socket := range c.sockets {
		sockets = append(sockets, socket)
	}
	c.sockets = make(map[string]*Socket)
	c.nsps = make(map[string]*Socket)
	c.connectBuffer = nil
	c.mu.Unlock()

	clientLog().Debug().Str("client", c.id).Str("reason", reason).Msg("client closed")

	c.destroy()
	for _, socket := range sockets {
		socket.onclose(reason)
	}
	c.decoder.Destroy()
}

// destroy detaches transport and decoder listeners.
func (c *Client) destroy() {
	c.conn.OnMessage(nil)
	c.conn.OnError(nil)
	c.conn.OnClose(nil)
	c.decoder.OnDecoded(nil)
}

func (c *Client) snapshot() []*Socket {
	c.mu.Lock()
	defer c.mu.Unlock()

	sockets := make([]*Socket, 0, len(c.sockets))
	for _, socket := range c.sockets {
		sockets = append(sockets, socket)
	}
	return sockets
}
