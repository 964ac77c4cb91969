package wire

import (
	"errors"
	"fmt"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

var (
	// ErrTruncatedInput reports a message whose declared length runs past the buffer.
	ErrTruncatedInput = errors.New("wire: truncated input")
	// ErrUnknownType reports a type tag without a registered schema.
	ErrUnknownType = errors.New("wire: unknown message type")
)

// Type is the one byte tag that prefixes every message on the wire.
type Type uint8

// Schema names a message type known to a codec.
type Schema struct {
	Type Type
	Name string
}

// Message is a single decoded wire message. Raw holds the exact encoded bytes
// including the tag and length prefix; both slices alias the decoded buffer.
type Message struct {
	Type    Type
	Payload []byte
	Raw     []byte
}

// Clone detaches the message from the buffer it was decoded from.
func (m Message) Clone() Message {
	clone := Message{Type: m.Type}
	if m.Raw != nil {
		clone.Raw = append([]byte(nil), m.Raw...)
		clone.Payload = clone.Raw[len(clone.Raw)-len(m.Payload):]
	} else if m.Payload != nil {
		clone.Payload = append([]byte(nil), m.Payload...)
	}
	return clone
}

// Codec encodes and decodes typed, length-prefixed messages.
type Codec struct {
	names map[Type]string
}

// NewCodec registers the provided schemas. Later duplicates replace earlier names.
func NewCodec(schemas ...Schema) *Codec {
	codec := &Codec{names: make(map[Type]string, len(schemas))}
	for _, schema := range schemas {
		codec.names[schema.Type] = schema.Name
	}
	return codec
}

// Known reports whether the type tag has a registered schema.
func (c *Codec) Known(t Type) bool {
	if c == nil {
		return false
	}
	_, ok := c.names[t]
	return ok
}

// Name returns the registered schema name or a placeholder for unknown tags.
func (c *Codec) Name(t Type) string {
	if c != nil {
		if name, ok := c.names[t]; ok {
			return name
		}
	}
	return fmt.Sprintf("unknown(%d)", t)
}

// Schemas lists the registered schemas ordered by tag.
func (c *Codec) Schemas() []Schema {
	if c == nil {
		return nil
	}
	out := make([]Schema, 0, len(c.names))
	for t, name := range c.names {
		out = append(out, Schema{Type: t, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// Decode reads one message from the front of buf and returns the number of
// bytes consumed. The call either decodes a whole message or fails.
func (c *Codec) Decode(buf []byte) (Message, int, error) {
	if len(buf) == 0 {
		return Message{}, 0, fmt.Errorf("%w: empty buffer", ErrTruncatedInput)
	}
	//1.- Reject tags that nothing registered a schema for.
	t := Type(buf[0])
	if !c.Known(t) {
		return Message{}, 0, fmt.Errorf("%w: tag %d", ErrUnknownType, t)
	}
	//2.- Read the length prefix; a cut-short varint is truncation as well.
	length, n := protowire.ConsumeVarint(buf[1:])
	if n < 0 {
		return Message{}, 0, fmt.Errorf("%w: length prefix: %v", ErrTruncatedInput, protowire.ParseError(n))
	}
	start := 1 + n
	remaining := uint64(len(buf) - start)
	if length > remaining {
		return Message{}, 0, fmt.Errorf("%w: declared %d bytes, %d remain", ErrTruncatedInput, length, remaining)
	}
	end := start + int(length)
	return Message{Type: t, Payload: buf[start:end:end], Raw: buf[:end:end]}, end, nil
}

// Encode renders the message in wire format.
func (c *Codec) Encode(msg Message) ([]byte, error) {
	if !c.Known(msg.Type) {
		return nil, fmt.Errorf("%w: tag %d", ErrUnknownType, msg.Type)
	}
	return AppendMessage(nil, msg.Type, msg.Payload), nil
}

// EncodePayload marshals a typed payload and frames it as a message.
func (c *Codec) EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return nil, errors.New("wire: nil payload")
	}
	var enc Encoder
	p.MarshalWire(&enc)
	return c.Encode(Message{Type: p.Type(), Payload: enc.Bytes()})
}

// AppendMessage appends one framed message to dst.
func AppendMessage(dst []byte, t Type, payload []byte) []byte {
	dst = append(dst, byte(t))
	dst = protowire.AppendVarint(dst, uint64(len(payload)))
	return append(dst, payload...)
}
