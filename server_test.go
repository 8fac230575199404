package sio

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/sioworks/sio/parser"
)

func TestOfNormalization(t *testing.T) {
	server := NewServer(nil)

	if server.Of("chat") != server.Of("/chat") {
		t.Fatal("names with and without leading slash must resolve identically")
	}
	if server.Of("") != server.Of("/") {
		t.Fatal("empty name must resolve to the default namespace")
	}
	if server.Of("/chat") != server.Of("/chat") {
		t.Fatal("Of must be idempotent")
	}
}

func TestServerDefaults(t *testing.T) {
	server := NewServer(nil)

	if server.Path() != "/socket.io" {
		t.Fatalf("default path = %q", server.Path())
	}
	if _, ok := server.namespace("/"); !ok {
		t.Fatal("default namespace not pre-created")
	}
	if _, ok := server.parser.(parser.JSONParser); !ok {
		t.Fatalf("default parser = %T", server.parser)
	}
}

func TestServeHTTPPathGate(t *testing.T) {
	server := NewServer(nil)

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest("GET", "/other", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign path not rejected: %d", rec.Code)
	}

	// a non-websocket request on the mount point is the engine's problem,
	// not a 404
	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest("GET", "/socket.io/?transport=websocket", nil))
	if rec.Code == http.StatusNotFound {
		t.Fatal("mount point served a 404")
	}
}

func TestDefaultNamespaceProxies(t *testing.T) {
	server := NewServer(nil)
	conn, socket := connectClient(t, server, "abc")

	var got []interface{}
	socket.On("message", func(args ...interface{}) { got = args })

	server.Send("hi")
	p := conn.lastWritten(t)
	data := p.Data.([]interface{})
	if data[0] != "message" || data[1] != "hi" {
		t.Fatalf("Send proxy wrong: %v", data)
	}

	conn.clearWritten()
	if err := server.To("r").Emit("scoped"); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if len(conn.written(t)) != 0 {
		t.Fatal("room-scoped proxy leaked to a non-member")
	}

	var ids []string
	server.Clients(func(list []string) { ids = list })
	if len(ids) != 1 || ids[0] != "/#abc" {
		t.Fatalf("Clients proxy = %v", ids)
	}
	_ = got
}

func TestSetAuthorization(t *testing.T) {
	server := NewServer(nil)
	server.Set("authorization", func(h *Handshake, fn func(error, bool)) {
		if h.Address == "" || h.Headers == nil {
			t.Error("handshake not populated")
		}
		fn(nil, h.Headers.Get("Origin") == "http://example.com")
	})

	conn := newFakeConn("ok")
	server.onconnection(conn)
	if _, ok := server.Of("/").GetSocket("/#ok"); !ok {
		t.Fatal("authorized client rejected")
	}

	conn2 := newFakeConn("denied")
	conn2.request.Headers.Set("Origin", "http://evil.example")
	server.onconnection(conn2)
	if _, ok := server.Of("/").GetSocket("/#denied"); ok {
		t.Fatal("unauthorized client admitted")
	}
	p := conn2.lastWritten(t)
	if p.Type != parser.Error || p.Data != "Not authorized" {
		t.Fatalf("expected Not authorized ERROR, got %+v", p)
	}
}

func TestSetAuthorizationError(t *testing.T) {
	server := NewServer(nil)
	server.Set("authorization", func(h *Handshake, fn func(error, bool)) {
		fn(errors.New("auth backend down"), false)
	})

	conn := newFakeConn("abc")
	server.onconnection(conn)

	p := conn.lastWritten(t)
	if p.Type != parser.Error || p.Data != "auth backend down" {
		t.Fatalf("expected the auth error on the wire, got %+v", p)
	}
}

func TestSetLegacyKeys(t *testing.T) {
	server := NewServer(nil)

	server.Set("resource", "io")
	if server.Path() != "/io" {
		t.Fatalf("resource key: path = %q", server.Path())
	}

	server.Set("heartbeat interval", 10000)
	server.Set("heartbeat timeout", 8000)
	server.Set("destroy buffer size", 1 << 20)
	if server.eioConfig.PingInterval != 10000 || server.eioConfig.PingTimeout != 8000 {
		t.Fatalf("heartbeat keys not applied: %+v", server.eioConfig)
	}
	if server.eioConfig.MaxPayload != 1<<20 {
		t.Fatalf("buffer size not applied: %d", server.eioConfig.MaxPayload)
	}

	// unknown and no-op keys must not panic
	server.Set("transports", []string{"websocket"})
	server.Set("no such key", 1)
}

func TestSetAdapterConcurrentWithOf(t *testing.T) {
	server := NewServer(nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		i := i
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				server.Of(fmt.Sprintf("/n%d-%d", i, j))
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				server.SetAdapter(NewMemoryAdapter)
			}
		}()
	}
	wg.Wait()

	if server.Of("/").Adapter() == nil {
		t.Fatal("namespace left without an adapter")
	}
}

func TestSetAdapterReinitializesNamespaces(t *testing.T) {
	server := NewServer(nil)
	server.Of("/chat")

	var installed int
	server.SetAdapter(func(n *Namespace) Adapter {
		installed++
		return NewMemoryAdapter(n)
	})

	// "/" and "/chat"
	if installed != 2 {
		t.Fatalf("adapter factory ran %d times", installed)
	}
	if _, ok := server.Of("/").Adapter().(*MemoryAdapter); !ok {
		t.Fatalf("adapter not replaced: %T", server.Of("/").Adapter())
	}
}

func TestServerClose(t *testing.T) {
	server := NewServer(nil)
	conn, socket := connectClient(t, server, "abc")

	var reason string
	socket.OnDisconnect(func(r string) { reason = r })

	if err := server.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if reason != "server shutting down" {
		t.Fatalf("reason = %q", reason)
	}
	_ = conn
}

func TestHandshakeSnapshot(t *testing.T) {
	server := NewServer(nil)
	_, socket := connectClient(t, server, "abc")

	h := socket.Handshake()
	if h.Address != "127.0.0.1:52414" {
		t.Fatalf("address = %q", h.Address)
	}
	if h.URL != "/socket.io/?transport=websocket" {
		t.Fatalf("url = %q", h.URL)
	}
	if h.Query.Get("transport") != "websocket" {
		t.Fatalf("query = %v", h.Query)
	}
	if !h.Xdomain {
		t.Fatal("Origin header present, Xdomain must be true")
	}
	if h.Secure {
		t.Fatal("plain connection flagged secure")
	}
}

func TestConfigOverrides(t *testing.T) {
	server := NewServer(&Config{
		Path:         "/ws",
		PingInterval: 5000,
		PingTimeout:  4000,
		MaxPayload:   1 << 16,
		Parser:       parser.MsgpackParser{},
	})

	if server.Path() != "/ws" {
		t.Fatalf("path = %q", server.Path())
	}
	if server.eioConfig.PingInterval != 5000 || server.eioConfig.PingTimeout != 4000 {
		t.Fatalf("ping config not applied: %+v", server.eioConfig)
	}
	if _, ok := server.parser.(parser.MsgpackParser); !ok {
		t.Fatalf("parser = %T", server.parser)
	}
}
