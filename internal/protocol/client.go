package protocol

import (
	"fmt"

	"netsync/client/internal/wire"
)

func errTooMany(field string, count uint64) error {
	return fmt.Errorf("%w: %d %s", wire.ErrSchemaMismatch, count, field)
}

// Connect opens the handshake with a server.
type Connect struct {
	Version        uint32
	Session        string
	PasswordDigest string
}

func (*Connect) Type() wire.Type { return ClcConnect }

func (m *Connect) MarshalWire(enc *wire.Encoder) {
	enc.Uvarint(uint64(m.Version))
	enc.String(m.Session)
	enc.String(m.PasswordDigest)
}

func (m *Connect) UnmarshalWire(dec *wire.Decoder) error {
	m.Version = dec.Uint32()
	m.Session = dec.String()
	m.PasswordDigest = dec.String()
	return dec.Err()
}

// ClientDisconnect tells the server the client is leaving.
type ClientDisconnect struct{}

func (*ClientDisconnect) Type() wire.Type                      { return ClcDisconnect }
func (*ClientDisconnect) MarshalWire(*wire.Encoder)            {}
func (*ClientDisconnect) UnmarshalWire(dec *wire.Decoder) error { return dec.Err() }

// Ack reports the newest server tick the client has received.
type Ack struct {
	Tick int32
}

func (*Ack) Type() wire.Type                 { return ClcAck }
func (m *Ack) MarshalWire(enc *wire.Encoder) { enc.Varint(int64(m.Tick)) }

func (m *Ack) UnmarshalWire(dec *wire.Decoder) error {
	m.Tick = dec.Int32()
	return dec.Err()
}
