package netdemo

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/golang/snappy"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	// Magic opens every netdemo file.
	Magic = "NSDM"
	// FormatVersion is the layout revision written by this package.
	FormatVersion uint16 = 1
	// HeaderSize is the fixed size of the file header.
	HeaderSize = 16
	// Extension is appended to generated netdemo names.
	Extension = ".nsd"
	// IndexVersion tracks the schema of the JSON index trailer.
	IndexVersion = 1
)

var (
	// ErrBadMagic reports a file that is not a netdemo.
	ErrBadMagic = errors.New("netdemo: bad magic")
	// ErrUnsupportedVersion reports a netdemo written by a newer client.
	ErrUnsupportedVersion = errors.New("netdemo: unsupported version")
	// ErrCorruptRecord reports a record that cannot be framed.
	ErrCorruptRecord = errors.New("netdemo: corrupt record")
)

// RecordKind tags each record in the body.
type RecordKind uint8

const (
	KindMessage   RecordKind = 1
	KindMapChange RecordKind = 2
	KindSnapshot  RecordKind = 3
)

func (k RecordKind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindMapChange:
		return "mapchange"
	case KindSnapshot:
		return "snapshot"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Header is the fixed prefix of a netdemo file. IndexOffset is 0 until the
// recording is closed cleanly.
type Header struct {
	Version     uint16
	Flags       uint16
	IndexOffset uint64
}

// MarshalBinary encodes the header into its 16-byte form.
func (h Header) MarshalBinary() ([]byte, error) {
	out := make([]byte, HeaderSize)
	copy(out[0:4], Magic)
	binary.LittleEndian.PutUint16(out[4:6], h.Version)
	binary.LittleEndian.PutUint16(out[6:8], h.Flags)
	binary.LittleEndian.PutUint64(out[8:16], h.IndexOffset)
	return out, nil
}

// ParseHeader validates magic and version.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header is %d bytes", ErrBadMagic, len(data))
	}
	if string(data[0:4]) != Magic {
		return Header{}, ErrBadMagic
	}
	h := Header{
		Version:     binary.LittleEndian.Uint16(data[4:6]),
		Flags:       binary.LittleEndian.Uint16(data[6:8]),
		IndexOffset: binary.LittleEndian.Uint64(data[8:16]),
	}
	if h.Version == 0 || h.Version > FormatVersion {
		return Header{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	return h, nil
}

// Record is one framed body entry. Offset is the file position of its kind byte.
type Record struct {
	Kind    RecordKind
	Tick    int
	Payload []byte
	Offset  int64
}

// AppendRecord frames a record onto dst.
func AppendRecord(dst []byte, kind RecordKind, tick int, payload []byte) []byte {
	dst = append(dst, byte(kind))
	dst = protowire.AppendVarint(dst, uint64(tick))
	dst = protowire.AppendVarint(dst, uint64(len(payload)))
	return append(dst, payload...)
}

// ReadRecord frames the record at the start of buf and returns its size.
func ReadRecord(buf []byte) (Record, int, error) {
	if len(buf) == 0 {
		return Record{}, 0, fmt.Errorf("%w: empty", ErrCorruptRecord)
	}
	kind := RecordKind(buf[0])
	if kind < KindMessage || kind > KindSnapshot {
		return Record{}, 0, fmt.Errorf("%w: unknown kind %d", ErrCorruptRecord, buf[0])
	}
	offset := 1
	tick, n := protowire.ConsumeVarint(buf[offset:])
	if n < 0 {
		return Record{}, 0, fmt.Errorf("%w: tick", ErrCorruptRecord)
	}
	offset += n
	size, n := protowire.ConsumeVarint(buf[offset:])
	if n < 0 {
		return Record{}, 0, fmt.Errorf("%w: length", ErrCorruptRecord)
	}
	offset += n
	if size > uint64(len(buf)-offset) {
		return Record{}, 0, fmt.Errorf("%w: payload of %d bytes overruns file", ErrCorruptRecord, size)
	}
	end := offset + int(size)
	return Record{Kind: kind, Tick: int(tick), Payload: buf[offset:end]}, end, nil
}

// MapMark locates the start of a map in the recording.
type MapMark struct {
	Name   string `json:"name"`
	Tick   int    `json:"tick"`
	Offset int64  `json:"offset"`
}

// SnapshotMark locates a full state snapshot.
type SnapshotMark struct {
	Tick   int   `json:"tick"`
	Offset int64 `json:"offset"`
}

// Index is the trailer describing a recording, used for seeking.
type Index struct {
	Version   int            `json:"version"`
	Session   string         `json:"session"`
	CreatedAt string         `json:"created_at"`
	FirstTick int            `json:"first_tick"`
	LastTick  int            `json:"last_tick"`
	Records   int            `json:"records"`
	Maps      []MapMark      `json:"maps,omitempty"`
	Snapshots []SnapshotMark `json:"snapshots,omitempty"`
}

// Validate ensures the index is ordered so seeks can binary search it.
func (i Index) Validate() error {
	if i.Version <= 0 {
		return fmt.Errorf("index version must be positive")
	}
	if strings.TrimSpace(i.Session) == "" {
		return fmt.Errorf("index session must not be empty")
	}
	//1.- Marks must be ordered by offset so seeking never moves backwards unexpectedly.
	for n := 1; n < len(i.Maps); n++ {
		if i.Maps[n].Offset <= i.Maps[n-1].Offset {
			return fmt.Errorf("map marks out of order at %d", n)
		}
	}
	for n := 1; n < len(i.Snapshots); n++ {
		if i.Snapshots[n].Offset <= i.Snapshots[n-1].Offset {
			return fmt.Errorf("snapshot marks out of order at %d", n)
		}
	}
	return nil
}

// observe updates the counters for a record written or scanned at offset.
func (i *Index) observe(kind RecordKind, tick int, offset int64, payload []byte) {
	if i.Records == 0 || tick < i.FirstTick {
		i.FirstTick = tick
	}
	if tick > i.LastTick {
		i.LastTick = tick
	}
	i.Records++
	switch kind {
	case KindMapChange:
		i.Maps = append(i.Maps, MapMark{Name: string(payload), Tick: tick, Offset: offset})
	case KindSnapshot:
		i.Snapshots = append(i.Snapshots, SnapshotMark{Tick: tick, Offset: offset})
	}
}

func encodeIndex(index Index) ([]byte, error) {
	if err := index.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(index)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, payload), nil
}

func decodeIndex(data []byte) (Index, error) {
	payload, err := snappy.Decode(nil, data)
	if err != nil {
		return Index{}, fmt.Errorf("decode index: %w", err)
	}
	var index Index
	if err := json.Unmarshal(payload, &index); err != nil {
		return Index{}, fmt.Errorf("decode index: %w", err)
	}
	if err := index.Validate(); err != nil {
		return Index{}, err
	}
	return index, nil
}
