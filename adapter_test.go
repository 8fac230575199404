package sio

import (
	"reflect"
	"testing"

	"github.com/sioworks/sio/parser"
)

func TestAdapterAddDelIdempotent(t *testing.T) {
	server := NewServer(nil)
	a := NewMemoryAdapter(server.Of("/"))

	if err := a.Add("s1", "r"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := a.Add("s1", "r"); err != nil {
		t.Fatalf("second Add: %v", err)
	}
	if got := a.Clients("r"); len(got) != 1 || got[0] != "s1" {
		t.Fatalf("Clients = %v", got)
	}

	if err := a.Del("s1", "r"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if err := a.Del("s1", "r"); err != nil {
		t.Fatalf("Del of absent membership: %v", err)
	}
	if err := a.Del("s1", "never-existed"); err != nil {
		t.Fatalf("Del of unknown room: %v", err)
	}
	if got := a.Clients("r"); len(got) != 0 {
		t.Fatalf("Clients after Del = %v", got)
	}
}

func TestAdapterDelAll(t *testing.T) {
	server := NewServer(nil)
	a := NewMemoryAdapter(server.Of("/"))

	a.Add("s1", "r1")
	a.Add("s1", "r2")
	a.Add("s2", "r1")

	a.DelAll("s1")

	if got := a.Clients("r1"); len(got) != 1 || got[0] != "s2" {
		t.Fatalf("r1 = %v", got)
	}
	if got := a.Clients("r2"); len(got) != 0 {
		t.Fatalf("r2 = %v", got)
	}
}

func TestAdapterClientsUnionSorted(t *testing.T) {
	server := NewServer(nil)
	a := NewMemoryAdapter(server.Of("/"))

	a.Add("c", "r1")
	a.Add("a", "r1")
	a.Add("b", "r2")
	a.Add("a", "r2") // member of both rooms, must appear once

	got := a.Clients("r1", "r2")
	if !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("union = %v", got)
	}
}

func TestAdapterClientsNoRoomsListsNamespace(t *testing.T) {
	server := NewServer(nil)
	connectClient(t, server, "b")
	connectClient(t, server, "a")

	got := server.Of("/").Adapter().Clients()
	if !reflect.DeepEqual(got, []string{"/#a", "/#b"}) {
		t.Fatalf("namespace-wide Clients = %v", got)
	}
}

func TestAdapterBroadcastExcept(t *testing.T) {
	server := NewServer(nil)
	connA, a := connectClient(t, server, "a")
	connB, b := connectClient(t, server, "b")

	a.Join("r")
	b.Join("r")

	packet := &parser.Packet{
		Type:      parser.Event,
		Namespace: "/",
		Data:      []interface{}{"x"},
	}
	err := server.Of("/").Adapter().Broadcast(packet, &BroadcastOptions{
		Rooms:  []string{"r"},
		Except: []string{"/#a"},
	})
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	if len(connA.written(t)) != 0 {
		t.Fatal("excluded socket received the broadcast")
	}
	if len(connB.written(t)) != 1 {
		t.Fatal("target socket missed the broadcast")
	}
}

func TestAdapterBroadcastNilOptions(t *testing.T) {
	server := NewServer(nil)
	conn, _ := connectClient(t, server, "a")

	packet := &parser.Packet{Type: parser.Event, Namespace: "/", Data: []interface{}{"x"}}
	if err := server.Of("/").Adapter().Broadcast(packet, nil); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if len(conn.written(t)) != 1 {
		t.Fatal("broadcast with nil options did not reach the socket")
	}
}

func TestAdapterBroadcastSkipsDisconnected(t *testing.T) {
	server := NewServer(nil)
	connA, _ := connectClient(t, server, "a")
	_, b := connectClient(t, server, "b")

	b.Disconnect(false)

	if err := server.Emit("x"); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if len(connA.written(t)) != 1 {
		t.Fatal("connected socket missed the broadcast")
	}
}

func TestAdapterClose(t *testing.T) {
	server := NewServer(nil)
	a := NewMemoryAdapter(server.Of("/"))

	a.Add("s1", "r")
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := a.Clients("r"); len(got) != 0 {
		t.Fatalf("state survived Close: %v", got)
	}
}

// countingAdapter wraps MemoryAdapter to observe factory replacement.
type countingAdapter struct {
	Adapter
	broadcasts int
}

func (c *countingAdapter) Broadcast(p *parser.Packet, opts *BroadcastOptions) error {
	c.broadcasts++
	return c.Adapter.Broadcast(p, opts)
}

func TestCustomAdapterFactory(t *testing.T) {
	var installed []*countingAdapter
	factory := func(n *Namespace) Adapter {
		a := &countingAdapter{Adapter: NewMemoryAdapter(n)}
		installed = append(installed, a)
		return a
	}

	server := NewServer(&Config{Adapter: factory})
	if len(installed) == 0 {
		t.Fatal("factory never invoked")
	}

	connectClient(t, server, "a")
	if err := server.Emit("x"); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	var total int
	for _, a := range installed {
		total += a.broadcasts
	}
	if total != 1 {
		t.Fatalf("broadcasts through custom adapter = %d", total)
	}
}
