package parser

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// MsgpackParser encodes every packet as a single binary frame holding a
// MessagePack document. Binary buffers travel inline, so BINARY_EVENT
// and BINARY_ACK collapse to EVENT and ACK and no attachment frames are
// ever produced.
type MsgpackParser struct{}

// NewEncoder returns an encoder for the MessagePack wire format.
func (MsgpackParser) NewEncoder() Encoder { return &msgpackEncoder{} }

// NewDecoder returns a decoder for the MessagePack wire format.
func (MsgpackParser) NewDecoder() Decoder { return &msgpackDecoder{} }

type msgpackPacket struct {
	Type PacketType  `msgpack:"type"`
	Nsp  string      `msgpack:"nsp"`
	Data interface{} `msgpack:"data,omitempty"`
	ID   *uint64     `msgpack:"id,omitempty"`
}

type msgpackEncoder struct{}

func (e *msgpackEncoder) Encode(p *Packet) ([]Frame, error) {
	typ := p.Type
	switch typ {
	case BinaryEvent:
		typ = Event
	case BinaryAck:
		typ = Ack
	}
	nsp := p.Namespace
	if nsp == "" {
		nsp = "/"
	}
	raw, err := msgpack.Marshal(&msgpackPacket{
		Type: typ,
		Nsp:  nsp,
		Data: p.Data,
		ID:   p.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal packet: %w", err)
	}
	return []Frame{{Data: raw, Binary: true}}, nil
}

type msgpackDecoder struct {
	ondecoded func(*Packet)
}

func (d *msgpackDecoder) OnDecoded(fn func(*Packet)) {
	d.ondecoded = fn
}

func (d *msgpackDecoder) Add(frame Frame) error {
	var mp msgpackPacket
	if err := msgpack.Unmarshal(frame.Data, &mp); err != nil {
		return fmt.Errorf("failed to unmarshal packet: %w", err)
	}
	if mp.Type < Connect || mp.Type > BinaryAck {
		return fmt.Errorf("invalid packet type: %d", int(mp.Type))
	}
	nsp := mp.Nsp
	if nsp == "" {
		nsp = "/"
	}
	if d.ondecoded != nil {
		d.ondecoded(&Packet{
			Type:      mp.Type,
			Namespace: nsp,
			Data:      mp.Data,
			ID:        mp.ID,
		})
	}
	return nil
}

func (d *msgpackDecoder) Destroy() {}
