package wire

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrSchemaMismatch reports a payload that does not match the schema it claims.
var ErrSchemaMismatch = errors.New("wire: payload does not match schema")

// Payload is a typed record carried inside a message.
type Payload interface {
	Type() Type
	MarshalWire(enc *Encoder)
	UnmarshalWire(dec *Decoder) error
}

// Encoder accumulates payload fields using varint and zig-zag encodings.
type Encoder struct {
	buf []byte
}

// Bytes returns the encoded payload.
func (e *Encoder) Bytes() []byte { return e.buf }

// Len reports the number of encoded bytes.
func (e *Encoder) Len() int { return len(e.buf) }

// Reset empties the encoder while keeping its storage.
func (e *Encoder) Reset() { e.buf = e.buf[:0] }

// Uvarint writes an unsigned varint.
func (e *Encoder) Uvarint(v uint64) { e.buf = protowire.AppendVarint(e.buf, v) }

// Varint writes a zig-zag encoded signed varint.
func (e *Encoder) Varint(v int64) { e.buf = protowire.AppendVarint(e.buf, protowire.EncodeZigZag(v)) }

// Byte writes a single raw byte.
func (e *Encoder) Byte(b byte) { e.buf = append(e.buf, b) }

// Bool writes a boolean as one byte.
func (e *Encoder) Bool(v bool) {
	if v {
		e.buf = append(e.buf, 1)
		return
	}
	e.buf = append(e.buf, 0)
}

// String writes a length-prefixed string.
func (e *Encoder) String(s string) { e.buf = protowire.AppendString(e.buf, s) }

// Raw writes a length-prefixed byte slice.
func (e *Encoder) Raw(b []byte) { e.buf = protowire.AppendBytes(e.buf, b) }

// Decoder reads payload fields. The first failure sticks and later reads
// return zero values, so callers check Err once at the end.
type Decoder struct {
	buf []byte
	off int
	err error
}

// NewDecoder wraps a payload for reading.
func NewDecoder(payload []byte) *Decoder {
	return &Decoder{buf: payload}
}

// Err returns the first decoding failure.
func (d *Decoder) Err() error { return d.err }

// Remaining reports how many bytes are left unread.
func (d *Decoder) Remaining() int { return len(d.buf) - d.off }

func (d *Decoder) fail(field string, cause any) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: %s at offset %d: %v", ErrSchemaMismatch, field, d.off, cause)
	}
}

// Uvarint reads an unsigned varint.
func (d *Decoder) Uvarint() uint64 {
	if d.err != nil {
		return 0
	}
	v, n := protowire.ConsumeVarint(d.buf[d.off:])
	if n < 0 {
		d.fail("uvarint", protowire.ParseError(n))
		return 0
	}
	d.off += n
	return v
}

// Uint32 reads an unsigned varint that must fit in 32 bits.
func (d *Decoder) Uint32() uint32 {
	v := d.Uvarint()
	if v > math.MaxUint32 {
		d.fail("uint32", "value overflows 32 bits")
		return 0
	}
	return uint32(v)
}

// Varint reads a zig-zag encoded signed varint.
func (d *Decoder) Varint() int64 {
	return protowire.DecodeZigZag(d.Uvarint())
}

// Int32 reads a zig-zag varint that must fit in 32 bits.
func (d *Decoder) Int32() int32 {
	v := d.Varint()
	if v > math.MaxInt32 || v < math.MinInt32 {
		d.fail("int32", "value overflows 32 bits")
		return 0
	}
	return int32(v)
}

// Byte reads a single raw byte.
func (d *Decoder) Byte() byte {
	if d.err != nil {
		return 0
	}
	if d.off >= len(d.buf) {
		d.fail("byte", "unexpected end of payload")
		return 0
	}
	b := d.buf[d.off]
	d.off++
	return b
}

// Bool reads a one byte boolean; values other than 0 or 1 are rejected.
func (d *Decoder) Bool() bool {
	b := d.Byte()
	if b > 1 {
		d.fail("bool", fmt.Sprintf("invalid value %d", b))
		return false
	}
	return b == 1
}

// String reads a length-prefixed string.
func (d *Decoder) String() string {
	return string(d.Raw())
}

// Raw reads a length-prefixed byte slice. The result aliases the payload.
func (d *Decoder) Raw() []byte {
	if d.err != nil {
		return nil
	}
	v, n := protowire.ConsumeBytes(d.buf[d.off:])
	if n < 0 {
		d.fail("bytes", protowire.ParseError(n))
		return nil
	}
	d.off += n
	return v
}

// Finish fails the decode when unread bytes remain after the schema.
func (d *Decoder) Finish() error {
	if d.err == nil && d.off != len(d.buf) {
		d.fail("trailer", fmt.Sprintf("%d unread bytes", len(d.buf)-d.off))
	}
	return d.err
}

// Unmarshal decodes a payload into p and requires it to be fully consumed.
func Unmarshal(payload []byte, p Payload) error {
	dec := NewDecoder(payload)
	if err := p.UnmarshalWire(dec); err != nil {
		return err
	}
	return dec.Finish()
}

// Marshal encodes p into a fresh payload slice.
func Marshal(p Payload) []byte {
	var enc Encoder
	p.MarshalWire(&enc)
	return enc.Bytes()
}
