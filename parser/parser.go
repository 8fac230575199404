// Package parser implements the socket.io packet codec.
//
// A packet is encoded into one or more transport frames: plain packets
// yield a single text frame, while packets whose data contains binary
// buffers yield a text frame followed by one binary frame per buffer.
// The Decoder reassembles frames back into whole packets.
package parser

import "fmt"

// PacketType identifies a socket.io packet on the wire.
type PacketType int

const (
	Connect PacketType = iota
	Disconnect
	Event
	Ack
	Error
	BinaryEvent
	BinaryAck
)

// Packet is a decoded socket.io packet.
type Packet struct {
	Type        PacketType
	Namespace   string
	Data        interface{}
	ID          *uint64
	Attachments int
}

// Frame is a single transport frame, either text or binary.
type Frame struct {
	Data   []byte
	Binary bool
}

// Encoder turns packets into transport frames.
type Encoder interface {
	Encode(packet *Packet) ([]Frame, error)
}

// Decoder reassembles transport frames into packets. Add returns an
// error on protocol violations; the callback registered with OnDecoded
// fires once per fully reconstructed packet.
type Decoder interface {
	Add(frame Frame) error
	OnDecoded(fn func(*Packet))
	Destroy()
}

// Parser pairs an encoder with a decoder for one wire format.
type Parser interface {
	NewEncoder() Encoder
	NewDecoder() Decoder
}

// String returns the packet type as a string.
func (pt PacketType) String() string {
	switch pt {
	case Connect:
		return "connect"
	case Disconnect:
		return "disconnect"
	case Event:
		return "event"
	case Ack:
		return "ack"
	case Error:
		return "error"
	case BinaryEvent:
		return "binary_event"
	case BinaryAck:
		return "binary_ack"
	default:
		return fmt.Sprintf("unknown(%d)", int(pt))
	}
}

// HasBinary reports whether the value tree contains a binary buffer.
// Used to upgrade EVENT/ACK packets to their BINARY_* variants.
func HasBinary(v interface{}) bool {
	switch t := v.(type) {
	case []byte:
		return true
	case []interface{}:
		for _, e := range t {
			if HasBinary(e) {
				return true
			}
		}
	case map[string]interface{}:
		for _, e := range t {
			if HasBinary(e) {
				return true
			}
		}
	}
	return false
}
