package wire

import (
	"bytes"
	"errors"
	"testing"
)

func repetitiveBody() []byte {
	var body []byte
	for i := 0; i < 64; i++ {
		body = AppendMessage(body, testMove, []byte("the quick brown imp jumps over the lazy cacodemon"))
	}
	return body
}

func TestCompressorsRoundTrip(t *testing.T) {
	body := repetitiveBody()
	for _, compressor := range []Compressor{NewLZ4Compressor(), NewSnappyCompressor(), NewZstdCompressor()} {
		t.Run(compressor.Name(), func(t *testing.T) {
			compressed, err := compressor.Compress(body)
			if err != nil {
				t.Fatalf("compress: %v", err)
			}
			if len(compressed) == 0 {
				t.Fatal("compressed payload empty")
			}
			decompressed, err := compressor.Decompress(compressed)
			if err != nil {
				t.Fatalf("decompress: %v", err)
			}
			if !bytes.Equal(decompressed, body) {
				t.Fatalf("round trip mismatch for %s", compressor.Name())
			}
			if _, err := compressor.Decompress(nil); err == nil {
				t.Fatal("expected error for empty payload")
			}
		})
	}
}

func TestPacketRoundTripCompressed(t *testing.T) {
	registry := DefaultRegistry()
	body := repetitiveBody()
	for _, name := range registry.Names() {
		compressor, err := registry.ByName(name)
		if err != nil {
			t.Fatalf("lookup %s: %v", name, err)
		}
		packet, err := EncodePacket(42, body, compressor)
		if err != nil {
			t.Fatalf("encode %s: %v", name, err)
		}
		if len(packet) >= len(body) {
			t.Fatalf("%s: expected compressed packet to be smaller (%d >= %d)", name, len(packet), len(body))
		}
		header, out, err := DecodePacket(packet, registry)
		if err != nil {
			t.Fatalf("decode %s: %v", name, err)
		}
		if header.Sequence != 42 || !header.Compressed() || header.Codec != compressor.ID() {
			t.Fatalf("%s: unexpected header %+v", name, header)
		}
		if !bytes.Equal(out, body) {
			t.Fatalf("%s: body mismatch", name)
		}
	}
}

func TestPacketSkipsCompressionWhenNotSmaller(t *testing.T) {
	body := AppendMessage(nil, testPing, []byte{1})
	packet, err := EncodePacket(7, body, NewLZ4Compressor())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	header, out, err := DecodePacket(packet, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if header.Compressed() || !bytes.Equal(out, body) {
		t.Fatalf("expected plain packet, got header %+v body %v", header, out)
	}
}

func TestDecodePacketRejectsBadFraming(t *testing.T) {
	if _, _, err := DecodePacket([]byte{1, 2}, nil); !errors.Is(err, ErrShortPacket) {
		t.Fatalf("expected ErrShortPacket, got %v", err)
	}
	reserved := []byte{0, 0, 0, 0, FlagReserved}
	if _, _, err := DecodePacket(reserved, nil); !errors.Is(err, ErrReservedFlag) {
		t.Fatalf("expected ErrReservedFlag, got %v", err)
	}
	unknownCodec := []byte{0, 0, 0, 0, FlagCompressed, 99, 1, 2}
	if _, _, err := DecodePacket(unknownCodec, DefaultRegistry()); !errors.Is(err, ErrUnknownCodec) {
		t.Fatalf("expected ErrUnknownCodec, got %v", err)
	}
}

func TestRegistryByName(t *testing.T) {
	registry := DefaultRegistry()
	if c, err := registry.ByName("none"); err != nil || c != nil {
		t.Fatalf("expected no compressor for none, got %v %v", c, err)
	}
	if c, err := registry.ByName(" ZSTD "); err != nil || c.ID() != CompressionZstd {
		t.Fatalf("expected zstd, got %v %v", c, err)
	}
	if _, err := registry.ByName("lzo"); !errors.Is(err, ErrUnknownCodec) {
		t.Fatalf("expected ErrUnknownCodec, got %v", err)
	}
}
