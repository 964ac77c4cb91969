package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Packet flag bits.
const (
	FlagReserved   byte = 1 << 0
	FlagCompressed byte = 1 << 1

	knownFlags = FlagReserved | FlagCompressed
)

// MaxPacketBody bounds the decompressed size of a packet body.
const MaxPacketBody = 64 * 1024

// packetHeaderSize covers the sequence number and the flag byte.
const packetHeaderSize = 5

var (
	// ErrShortPacket reports a datagram too small to carry a header.
	ErrShortPacket = errors.New("wire: packet shorter than header")
	// ErrReservedFlag reports a packet with reserved flag bits set.
	ErrReservedFlag = errors.New("wire: reserved packet flag set")
	// ErrBodyTooLarge reports a body that would exceed MaxPacketBody.
	ErrBodyTooLarge = errors.New("wire: packet body too large")
)

// PacketHeader is the fixed prefix of every datagram.
type PacketHeader struct {
	Sequence uint32
	Flags    byte
	Codec    byte
}

// Compressed reports whether the body travelled inside a compression envelope.
func (h PacketHeader) Compressed() bool { return h.Flags&FlagCompressed != 0 }

// EncodePacket frames a run of encoded messages. The body is compressed only
// when a compressor is given and the result is smaller than the input.
func EncodePacket(seq uint32, body []byte, compressor Compressor) ([]byte, error) {
	if len(body) > MaxPacketBody {
		return nil, fmt.Errorf("encode packet: %w", ErrBodyTooLarge)
	}
	out := make([]byte, packetHeaderSize, packetHeaderSize+len(body)+1)
	binary.LittleEndian.PutUint32(out[0:4], seq)

	if compressor != nil && len(body) > 0 {
		packed, err := compressor.Compress(body)
		if err != nil {
			return nil, fmt.Errorf("encode packet: %w", err)
		}
		if len(packed)+1 < len(body) {
			out[4] = FlagCompressed
			out = append(out, compressor.ID())
			return append(out, packed...), nil
		}
	}
	return append(out, body...), nil
}

// DecodePacket parses the header and returns the (decompressed) message run.
func DecodePacket(data []byte, registry *Registry) (PacketHeader, []byte, error) {
	if len(data) < packetHeaderSize {
		return PacketHeader{}, nil, ErrShortPacket
	}
	header := PacketHeader{
		Sequence: binary.LittleEndian.Uint32(data[0:4]),
		Flags:    data[4],
	}
	//1.- Refuse reserved or unknown flags so framing errors surface early.
	if header.Flags&FlagReserved != 0 || header.Flags&^knownFlags != 0 {
		return header, nil, fmt.Errorf("%w: 0x%02x", ErrReservedFlag, header.Flags)
	}
	body := data[packetHeaderSize:]
	if !header.Compressed() {
		return header, body, nil
	}
	//2.- Unwrap the compression envelope through the pluggable registry.
	if len(body) == 0 {
		return header, nil, fmt.Errorf("%w: missing compression envelope", ErrShortPacket)
	}
	header.Codec = body[0]
	compressor, ok := registry.ByID(header.Codec)
	if !ok {
		return header, nil, fmt.Errorf("%w: id %d", ErrUnknownCodec, header.Codec)
	}
	plain, err := compressor.Decompress(body[1:])
	if err != nil {
		return header, nil, fmt.Errorf("decode packet: %w", err)
	}
	if len(plain) > MaxPacketBody {
		return header, nil, fmt.Errorf("decode packet: %w", ErrBodyTooLarge)
	}
	return header, plain, nil
}
