package wire

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifiers carried in the compression envelope.
const (
	CompressionLZ4    byte = 1
	CompressionSnappy byte = 2
	CompressionZstd   byte = 3
)

// ErrUnknownCodec reports an envelope naming a codec the registry lacks.
var ErrUnknownCodec = errors.New("wire: unknown compression codec")

// Compressor applies symmetric compression to packet bodies.
type Compressor interface {
	//1.- ID returns the codec identifier written into the envelope.
	ID() byte
	//2.- Name returns the codec name used in configuration.
	Name() string
	//3.- Compress encodes the provided payload into a compressed representation.
	Compress(data []byte) ([]byte, error)
	//4.- Decompress restores the original payload from its compressed form.
	Decompress(data []byte) ([]byte, error)
}

// lz4Compressor uses the lz4 frame format.
type lz4Compressor struct{}

// NewLZ4Compressor constructs the default packet codec.
func NewLZ4Compressor() Compressor { return lz4Compressor{} }

func (lz4Compressor) ID() byte     { return CompressionLZ4 }
func (lz4Compressor) Name() string { return "lz4" }

// Compress encodes data as a single lz4 frame.
func (lz4Compressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := lz4.NewWriter(&buf)
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, fmt.Errorf("lz4 write: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("lz4 close: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress decodes an lz4 frame, reading at most MaxPacketBody+1 bytes.
func (lz4Compressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("lz4 decompress: empty payload")
	}
	reader := lz4.NewReader(bytes.NewReader(data))
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(reader, MaxPacketBody+1)); err != nil {
		return nil, fmt.Errorf("lz4 copy: %w", err)
	}
	return buf.Bytes(), nil
}

// snappyCompressor uses the snappy block format.
type snappyCompressor struct{}

// NewSnappyCompressor constructs a snappy block codec.
func NewSnappyCompressor() Compressor { return snappyCompressor{} }

func (snappyCompressor) ID() byte     { return CompressionSnappy }
func (snappyCompressor) Name() string { return "snappy" }

func (snappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (snappyCompressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("snappy decompress: empty payload")
	}
	//1.- Check the advertised size before allocating for it.
	size, err := snappy.DecodedLen(data)
	if err != nil {
		return nil, fmt.Errorf("snappy header: %w", err)
	}
	if size > MaxPacketBody {
		return nil, fmt.Errorf("snappy decompress: %w", ErrBodyTooLarge)
	}
	out, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("snappy decode: %w", err)
	}
	return out, nil
}

// zstdCompressor shares one encoder and decoder across calls.
type zstdCompressor struct {
	once    sync.Once
	initErr error
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewZstdCompressor constructs a zstd codec.
func NewZstdCompressor() Compressor { return &zstdCompressor{} }

func (*zstdCompressor) ID() byte     { return CompressionZstd }
func (*zstdCompressor) Name() string { return "zstd" }

func (z *zstdCompressor) init() error {
	z.once.Do(func() {
		z.encoder, z.initErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if z.initErr != nil {
			return
		}
		z.decoder, z.initErr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxPacketBody))
	})
	return z.initErr
}

func (z *zstdCompressor) Compress(data []byte) ([]byte, error) {
	if err := z.init(); err != nil {
		return nil, fmt.Errorf("zstd init: %w", err)
	}
	return z.encoder.EncodeAll(data, nil), nil
}

func (z *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("zstd decompress: empty payload")
	}
	if err := z.init(); err != nil {
		return nil, fmt.Errorf("zstd init: %w", err)
	}
	out, err := z.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}

// Registry resolves envelope codec ids to compressors.
type Registry struct {
	byID   map[byte]Compressor
	byName map[string]Compressor
}

// NewRegistry registers the provided compressors.
func NewRegistry(compressors ...Compressor) *Registry {
	r := &Registry{byID: make(map[byte]Compressor), byName: make(map[string]Compressor)}
	for _, c := range compressors {
		if c == nil {
			continue
		}
		r.byID[c.ID()] = c
		r.byName[c.Name()] = c
	}
	return r
}

// DefaultRegistry registers lz4, snappy and zstd.
func DefaultRegistry() *Registry {
	return NewRegistry(NewLZ4Compressor(), NewSnappyCompressor(), NewZstdCompressor())
}

// ByID looks up a compressor by envelope id.
func (r *Registry) ByID(id byte) (Compressor, bool) {
	if r == nil {
		return nil, false
	}
	c, ok := r.byID[id]
	return c, ok
}

// ByName looks up a compressor by configuration name; "none" and "" yield nil.
func (r *Registry) ByName(name string) (Compressor, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || key == "none" {
		return nil, nil
	}
	if r != nil {
		if c, ok := r.byName[key]; ok {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
}

// Names lists the registered codec names.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
