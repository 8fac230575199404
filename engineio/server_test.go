package engineio

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// dialSession spins up a server, dials a real websocket into it and
// reads the handshake.
func dialSession(t *testing.T) (*Server, *websocket.Conn, string, func()) {
	t.Helper()
	s := NewServer(DefaultConfig(), zerolog.Nop())
	ts := httptest.NewServer(http.HandlerFunc(s.ServeHTTP))
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/?transport=websocket"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		ts.Close()
		t.Fatalf("dial: %v", err)
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read handshake: %v", err)
	}
	if len(data) == 0 || data[0] != '0' {
		t.Fatalf("expected an open packet, got %q", data)
	}
	var hs HandshakeData
	if err := json.Unmarshal(data[1:], &hs); err != nil {
		t.Fatalf("unmarshal handshake: %v", err)
	}

	return s, conn, hs.SID, func() {
		conn.Close()
		ts.Close()
	}
}

func waitGone(t *testing.T, s *Server, sid string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := s.GetSession(sid); !ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("session %s still in table", sid)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSessionRemovedOnTransportClose(t *testing.T) {
	s, conn, sid, cleanup := dialSession(t)
	defer cleanup()

	if _, ok := s.GetSession(sid); !ok {
		t.Fatal("session not registered after handshake")
	}

	conn.Close()
	waitGone(t, s, sid)
}

func TestSessionRemovedOnServerClose(t *testing.T) {
	s, _, sid, cleanup := dialSession(t)
	defer cleanup()

	s.Close()
	waitGone(t, s, sid)
}

func TestCloseConcurrentWithWrites(t *testing.T) {
	s, _, sid, cleanup := dialSession(t)
	defer cleanup()

	session, ok := s.GetSession(sid)
	if !ok {
		t.Fatal("session not registered")
	}

	var wg sync.WaitGroup
	start := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		for i := 0; i < 200; i++ {
			if err := session.Write([]byte(`2["tick"]`), false, false); err != nil {
				return
			}
		}
	}()

	close(start)
	session.Close("test close")
	wg.Wait()

	if session.ReadyState() != "closed" {
		t.Fatalf("ReadyState = %q", session.ReadyState())
	}
	if err := session.Write([]byte("x"), false, false); err != ErrSessionClosed {
		t.Fatalf("write after close: %v", err)
	}
	if _, ok := s.GetSession(sid); ok {
		t.Fatal("closed session still registered")
	}
}

func TestCloseIdempotent(t *testing.T) {
	s, _, sid, cleanup := dialSession(t)
	defer cleanup()

	session, _ := s.GetSession(sid)

	var reasons []string
	session.OnClose(func(reason string) { reasons = append(reasons, reason) })

	session.Close("first")
	session.Close("second")

	if len(reasons) != 1 || reasons[0] != "first" {
		t.Fatalf("close handler calls = %v", reasons)
	}
}
