package sio

import "github.com/sioworks/sio/parser"

// Adapter owns room membership within one namespace and executes
// broadcast. The in-process MemoryAdapter is the default; replacement
// implementations (e.g. backed by a pub/sub bus) satisfy the same
// contract and are installed through the server's adapter factory.
type Adapter interface {
	// Add records membership of a socket in a room. Idempotent.
	Add(socketID, room string) error

	// Del removes a socket from a room. Idempotent.
	Del(socketID, room string) error

	// DelAll removes a socket from every room it is in.
	DelAll(socketID string)

	// Broadcast delivers a packet to every matching socket. With no
	// rooms the target set is every connected socket of the namespace;
	// otherwise it is the union of the listed rooms' members. Sockets
	// in opts.Except are skipped.
	Broadcast(packet *parser.Packet, opts *BroadcastOptions) error

	// Clients enumerates socket ids: members of the union of the given
	// rooms, or every connected socket when no room is given.
	Clients(rooms ...string) []string

	// Close releases adapter state.
	Close() error
}

// AdapterFactory builds an adapter bound to a namespace.
type AdapterFactory func(*Namespace) Adapter
