package parser

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// JSONParser is the default socket.io wire format: a textual frame
// holding `<type>[<attachments>-][<nsp>,][<id>][<json>]`, with binary
// buffers extracted into trailing binary frames and replaced by
// `{"_placeholder":true,"num":n}` markers in the JSON payload.
type JSONParser struct{}

// NewEncoder returns an encoder for the default wire format.
func (JSONParser) NewEncoder() Encoder { return &jsonEncoder{} }

// NewDecoder returns a decoder for the default wire format.
func (JSONParser) NewDecoder() Decoder { return &jsonDecoder{} }

type jsonEncoder struct{}

func (e *jsonEncoder) Encode(p *Packet) ([]Frame, error) {
	data := p.Data
	var buffers [][]byte

	typ := p.Type
	if typ == BinaryEvent || typ == BinaryAck || HasBinary(data) {
		if typ == Event {
			typ = BinaryEvent
		} else if typ == Ack {
			typ = BinaryAck
		}
		data, buffers = deconstruct(data)
	}

	var builder strings.Builder
	builder.WriteString(strconv.Itoa(int(typ)))

	if typ == BinaryEvent || typ == BinaryAck {
		builder.WriteString(strconv.Itoa(len(buffers)))
		builder.WriteByte('-')
	}

	if p.Namespace != "" && p.Namespace != "/" {
		builder.WriteString(p.Namespace)
		builder.WriteByte(',')
	}

	if p.ID != nil {
		builder.WriteString(strconv.FormatUint(*p.ID, 10))
	}

	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal packet data: %w", err)
		}
		builder.Write(jsonData)
	}

	frames := make([]Frame, 0, len(buffers)+1)
	frames = append(frames, Frame{Data: []byte(builder.String())})
	for _, buf := range buffers {
		frames = append(frames, Frame{Data: buf, Binary: true})
	}
	return frames, nil
}

type jsonDecoder struct {
	ondecoded func(*Packet)
	pending   *Packet
	buffers   [][]byte
}

func (d *jsonDecoder) OnDecoded(fn func(*Packet)) {
	d.ondecoded = fn
}

func (d *jsonDecoder) Add(frame Frame) error {
	if frame.Binary {
		if d.pending == nil {
			return fmt.Errorf("unexpected binary frame")
		}
		d.buffers = append(d.buffers, frame.Data)
		if len(d.buffers) == d.pending.Attachments {
			packet := d.pending
			packet.Data = reconstruct(packet.Data, d.buffers)
			d.pending = nil
			d.buffers = nil
			d.emit(packet)
		}
		return nil
	}

	if d.pending != nil {
		d.pending = nil
		d.buffers = nil
		return fmt.Errorf("expected binary frame while reconstructing a packet")
	}

	packet, err := decodeString(string(frame.Data))
	if err != nil {
		return err
	}

	if (packet.Type == BinaryEvent || packet.Type == BinaryAck) && packet.Attachments > 0 {
		d.pending = packet
		return nil
	}
	d.emit(packet)
	return nil
}

func (d *jsonDecoder) Destroy() {
	d.pending = nil
	d.buffers = nil
}

func (d *jsonDecoder) emit(packet *Packet) {
	if d.ondecoded != nil {
		d.ondecoded(packet)
	}
}

func decodeString(data string) (*Packet, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty packet")
	}

	packet := &Packet{Namespace: "/"}
	pos := 0

	if data[pos] < '0' || data[pos] > '6' {
		return nil, fmt.Errorf("invalid packet type: %c", data[pos])
	}
	packet.Type = PacketType(data[pos] - '0')
	pos++

	// Attachment count for binary packets
	if packet.Type == BinaryEvent || packet.Type == BinaryAck {
		end := pos
		for end < len(data) && data[end] >= '0' && data[end] <= '9' {
			end++
		}
		if end == pos || end >= len(data) || data[end] != '-' {
			return nil, fmt.Errorf("missing attachment count")
		}
		n, err := strconv.Atoi(data[pos:end])
		if err != nil {
			return nil, fmt.Errorf("invalid attachment count: %w", err)
		}
		packet.Attachments = n
		pos = end + 1
	}

	if pos >= len(data) {
		return packet, nil
	}

	// Namespace
	if data[pos] == '/' {
		end := strings.IndexByte(data[pos:], ',')
		if end == -1 {
			packet.Namespace = data[pos:]
			return packet, nil
		}
		packet.Namespace = data[pos : pos+end]
		pos += end + 1
	}

	if pos >= len(data) {
		return packet, nil
	}

	// Ack ID
	if data[pos] >= '0' && data[pos] <= '9' {
		end := pos
		for end < len(data) && data[end] >= '0' && data[end] <= '9' {
			end++
		}
		id, err := strconv.ParseUint(data[pos:end], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ack id: %w", err)
		}
		packet.ID = &id
		pos = end
	}

	if pos < len(data) {
		if err := json.Unmarshal([]byte(data[pos:]), &packet.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal packet data: %w", err)
		}
	}

	return packet, nil
}

// deconstruct replaces every binary buffer in the value tree with a
// placeholder object and collects the buffers in traversal order.
func deconstruct(v interface{}) (interface{}, [][]byte) {
	var buffers [][]byte
	out := deconstructValue(v, &buffers)
	return out, buffers
}

func deconstructValue(v interface{}, buffers *[][]byte) interface{} {
	switch t := v.(type) {
	case []byte:
		*buffers = append(*buffers, t)
		return map[string]interface{}{"_placeholder": true, "num": len(*buffers) - 1}
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = deconstructValue(e, buffers)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = deconstructValue(e, buffers)
		}
		return out
	default:
		return v
	}
}

// reconstruct resolves placeholder objects back to their buffers.
func reconstruct(v interface{}, buffers [][]byte) interface{} {
	switch t := v.(type) {
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = reconstruct(e, buffers)
		}
		return out
	case map[string]interface{}:
		if ph, ok := t["_placeholder"].(bool); ok && ph {
			if num, ok := asInt(t["num"]); ok && num >= 0 && num < len(buffers) {
				return buffers[num]
			}
			return nil
		}
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = reconstruct(e, buffers)
		}
		return out
	default:
		return v
	}
}

func asInt(v interface{}) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case int:
		return t, true
	case int64:
		return int(t), true
	case uint64:
		return int(t), true
	case int8:
		return int(t), true
	case int16:
		return int(t), true
	case int32:
		return int(t), true
	case uint8:
		return int(t), true
	case uint16:
		return int(t), true
	case uint32:
		return int(t), true
	default:
		return 0, false
	}
}
