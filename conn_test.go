package sio

import (
	"net/http"
	"net/url"
	"sync"
	"testing"

	"github.com/sioworks/sio/engineio"
	"github.com/sioworks/sio/parser"
)

// fakeConn is an in-memory transport implementing Conn for core tests.
type fakeConn struct {
	id string

	mu        sync.Mutex
	frames    []parser.Frame
	writable  bool
	state     string
	onMessage func(data []byte, binary bool)
	onError   func(err error)
	onClose   func(reason string)
	request   *engineio.Request
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{
		id:       id,
		writable: true,
		state:    "open",
		request: &engineio.Request{
			Headers:    http.Header{"Origin": []string{"http://example.com"}},
			URL:        "/socket.io/?transport=websocket",
			RemoteAddr: "127.0.0.1:52414",
			Query:      url.Values{"transport": []string{"websocket"}},
		},
	}
}

func (f *fakeConn) ID() string                 { return f.id }
func (f *fakeConn) Request() *engineio.Request { return f.request }

func (f *fakeConn) ReadyState() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeConn) Writable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writable
}

func (f *fakeConn) setWritable(w bool) {
	f.mu.Lock()
	f.writable = w
	f.mu.Unlock()
}

func (f *fakeConn) Write(data []byte, binary bool, compress bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != "open" {
		return engineio.ErrSessionClosed
	}
	buf := append([]byte(nil), data...)
	f.frames = append(f.frames, parser.Frame{Data: buf, Binary: binary})
	return nil
}

func (f *fakeConn) OnMessage(fn func(data []byte, binary bool)) {
	f.mu.Lock()
	f.onMessage = fn
	f.mu.Unlock()
}

func (f *fakeConn) OnError(fn func(err error)) {
	f.mu.Lock()
	f.onError = fn
	f.mu.Unlock()
}

func (f *fakeConn) OnClose(fn func(reason string)) {
	f.mu.Lock()
	f.onClose = fn
	f.mu.Unlock()
}

func (f *fakeConn) Close(reason string) {
	f.mu.Lock()
	if f.state != "open" {
		f.mu.Unlock()
		return
	}
	f.state = "closed"
	onClose := f.onClose
	f.mu.Unlock()

	if onClose != nil {
		onClose(reason)
	}
}

// receive feeds a packet to the client as if it arrived on the wire.
func (f *fakeConn) receive(t *testing.T, p *parser.Packet) {
	t.Helper()
	frames, err := parser.JSONParser{}.NewEncoder().Encode(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	f.mu.Lock()
	onMessage := f.onMessage
	f.mu.Unlock()
	if onMessage == nil {
		t.Fatal("no message handler installed")
	}
	for _, frame := range frames {
		onMessage(frame.Data, frame.Binary)
	}
}

// written decodes everything the server wrote to this transport.
func (f *fakeConn) written(t *testing.T) []*parser.Packet {
	t.Helper()
	f.mu.Lock()
	frames := append([]parser.Frame(nil), f.frames...)
	f.mu.Unlock()

	var packets []*parser.Packet
	decoder := parser.JSONParser{}.NewDecoder()
	decoder.OnDecoded(func(p *parser.Packet) { packets = append(packets, p) })
	for _, frame := range frames {
		if err := decoder.Add(frame); err != nil {
			t.Fatalf("decode written frame: %v", err)
		}
	}
	return packets
}

func (f *fakeConn) clearWritten() {
	f.mu.Lock()
	f.frames = nil
	f.mu.Unlock()
}

// lastWritten returns the most recent written packet.
func (f *fakeConn) lastWritten(t *testing.T) *parser.Packet {
	t.Helper()
	packets := f.written(t)
	if len(packets) == 0 {
		t.Fatal("no packets written")
	}
	return packets[len(packets)-1]
}

// connectClient dials a fake connection into the server and returns it
// together with its admitted default-namespace socket.
func connectClient(t *testing.T, server *Server, id string) (*fakeConn, *Socket) {
	t.Helper()
	conn := newFakeConn(id)
	server.onconnection(conn)

	socket, ok := server.Of("/").GetSocket("/#" + id)
	if !ok {
		t.Fatalf("socket /#%s not admitted", id)
	}
	conn.clearWritten()
	return conn, socket
}
