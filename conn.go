package sio

import (
	"github.com/sioworks/sio/engineio"
)

// Conn is the engine transport contract the core consumes: a framed,
// ordered, full-duplex channel with close notification. The bundled
// engineio.Session satisfies it; any conforming transport can replace
// it.
type Conn interface {
	// ID returns the transport-assigned connection id.
	ID() string

	// Request returns the metadata snapshot of the request that opened
	// the connection.
	Request() *engineio.Request

	// ReadyState reports "open" while the transport is usable.
	ReadyState() string

	// Writable reports whether a write would be accepted without
	// blocking. Consulted by the volatile emission flag.
	Writable() bool

	// Write sends one frame.
	Write(data []byte, binary bool, compress bool) error

	// OnMessage installs the inbound frame handler. A nil handler
	// detaches.
	OnMessage(fn func(data []byte, binary bool))

	// OnError installs the transport error handler.
	OnError(fn func(err error))

	// OnClose installs the close handler, invoked once with a reason.
	OnClose(fn func(reason string))

	// Close tears the transport down.
	Close(reason string)
}

// WriteOptions modifies a single packet write on the client path.
type WriteOptions struct {
	// Volatile drops the write when the transport is not writable.
	Volatile bool
	// Compress requests per-message compression for the frames.
	Compress bool
	// PreEncoded marks frame sequences that already went through the
	// encoder, so broadcast fan-out encodes once per packet rather than
	// once per recipient.
	PreEncoded bool
}

// Flags are the chainable emission modifiers. They apply to the next
// emit only and are cleared on every emit path.
type Flags struct {
	JSON      bool
	Volatile  bool
	Broadcast bool
	// Compress is tri-state so an explicit Compress(false) is
	// distinguishable from the default.
	Compress *bool
}

func (f *Flags) compress() bool {
	if f == nil || f.Compress == nil {
		return true
	}
	return *f.Compress
}

func (f *Flags) volatile() bool {
	return f != nil && f.Volatile
}

// BroadcastOptions selects the recipients of an adapter broadcast.
type BroadcastOptions struct {
	Rooms  []string
	Except []string
	Flags  *Flags
}
