package wire

import (
	"bytes"
	"errors"
	"testing"
)

const (
	testPing Type = 7
	testMove Type = 9
)

func testCodec() *Codec {
	return NewCodec(Schema{Type: testPing, Name: "ping"}, Schema{Type: testMove, Name: "move"})
}

type movePayload struct {
	ID    uint32
	X     int32
	Label string
	Ok    bool
}

func (*movePayload) Type() Type { return testMove }

func (m *movePayload) MarshalWire(enc *Encoder) {
	enc.Uvarint(uint64(m.ID))
	enc.Varint(int64(m.X))
	enc.String(m.Label)
	enc.Bool(m.Ok)
}

func (m *movePayload) UnmarshalWire(dec *Decoder) error {
	m.ID = dec.Uint32()
	m.X = dec.Int32()
	m.Label = dec.String()
	m.Ok = dec.Bool()
	return dec.Err()
}

func TestDecodeFramesMessages(t *testing.T) {
	codec := testCodec()
	buf := AppendMessage(nil, testPing, []byte{1, 2, 3})
	buf = AppendMessage(buf, testMove, nil)

	first, n, err := codec.Decode(buf)
	if err != nil {
		t.Fatalf("decode first: %v", err)
	}
	if first.Type != testPing || !bytes.Equal(first.Payload, []byte{1, 2, 3}) {
		t.Fatalf("unexpected first message %+v", first)
	}
	if n != 5 || !bytes.Equal(first.Raw, buf[:5]) {
		t.Fatalf("expected 5 raw bytes, got n=%d raw=%v", n, first.Raw)
	}
	second, m, err := codec.Decode(buf[n:])
	if err != nil {
		t.Fatalf("decode second: %v", err)
	}
	if second.Type != testMove || len(second.Payload) != 0 || m != 2 {
		t.Fatalf("unexpected second message %+v (n=%d)", second, m)
	}
}

func TestDecodeTruncatedInput(t *testing.T) {
	codec := testCodec()
	full := AppendMessage(nil, testPing, bytes.Repeat([]byte{0xAA}, 10))
	cases := map[string][]byte{
		"empty":          nil,
		"missing length": full[:1],
		"short payload":  full[:len(full)-1],
		"cut varint":     {byte(testPing), 0x80},
	}
	for name, buf := range cases {
		t.Run(name, func(t *testing.T) {
			if _, _, err := codec.Decode(buf); !errors.Is(err, ErrTruncatedInput) {
				t.Fatalf("expected ErrTruncatedInput, got %v", err)
			}
		})
	}
}

func TestDecodeUnknownType(t *testing.T) {
	codec := testCodec()
	buf := AppendMessage(nil, 0xFE, []byte{1})
	if _, _, err := codec.Decode(buf); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
	if _, err := codec.Encode(Message{Type: 0xFE}); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected encode to reject unknown type, got %v", err)
	}
}

func TestPayloadRoundTripUsesZigZag(t *testing.T) {
	codec := testCodec()
	in := &movePayload{ID: 300, X: -1, Label: "imp", Ok: true}
	raw, err := codec.EncodePayload(in)
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	msg, _, err := codec.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	//1.- 300 takes two varint bytes and -1 zig-zags into a single 0x01 byte.
	if !bytes.Equal(msg.Payload[:3], []byte{0xAC, 0x02, 0x01}) {
		t.Fatalf("unexpected numeric encoding % x", msg.Payload[:3])
	}
	var out movePayload
	if err := Unmarshal(msg.Payload, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out != *in {
		t.Fatalf("round trip mismatch: got %+v want %+v", out, *in)
	}
}

func TestUnmarshalRejectsTrailingBytes(t *testing.T) {
	payload := append(Marshal(&movePayload{ID: 1}), 0x00)
	var out movePayload
	if err := Unmarshal(payload, &out); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected schema mismatch, got %v", err)
	}
}

func TestDecoderRejectsInvalidBool(t *testing.T) {
	dec := NewDecoder([]byte{2})
	dec.Bool()
	if !errors.Is(dec.Err(), ErrSchemaMismatch) {
		t.Fatalf("expected schema mismatch, got %v", dec.Err())
	}
}

func TestMessageCloneDetaches(t *testing.T) {
	codec := testCodec()
	buf := AppendMessage(nil, testPing, []byte{9, 9})
	msg, _, err := codec.Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	clone := msg.Clone()
	buf[len(buf)-1] = 0
	if clone.Payload[1] != 9 || clone.Raw[len(clone.Raw)-1] != 9 {
		t.Fatalf("clone still aliases the source buffer: %+v", clone)
	}
}
