package netdemo

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/klauspost/compress/zstd"
)

// Demo is a netdemo loaded into memory for playback or inspection.
type Demo struct {
	Path    string
	Header  Header
	Index   Index
	Records []Record
	// Reindexed is true when the trailer was missing or unreadable and the
	// index was rebuilt by scanning the records.
	Reindexed bool
	// Truncated is true when the last record was cut short.
	Truncated bool
}

// Open loads and validates a netdemo.
func Open(path string) (*Demo, error) {
	if path == "" {
		return nil, fmt.Errorf("netdemo path must be provided")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	demo, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	demo.Path = path
	return demo, nil
}

// Parse decodes a netdemo image.
func Parse(data []byte) (*Demo, error) {
	header, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}
	demo := &Demo{Header: header}

	//1.- The body ends at the trailer when one was written, otherwise at EOF.
	end := len(data)
	hasTrailer := header.IndexOffset >= HeaderSize && header.IndexOffset <= uint64(len(data))
	if hasTrailer {
		end = int(header.IndexOffset)
	}

	//2.- Frame every record; a crash may leave a partial record at the end.
	scanned := Index{Version: IndexVersion}
	for offset := HeaderSize; offset < end; {
		record, n, err := ReadRecord(data[offset:end])
		if err != nil {
			if hasTrailer {
				return nil, fmt.Errorf("record at offset %d: %w", offset, err)
			}
			demo.Truncated = true
			break
		}
		record.Offset = int64(offset)
		demo.Records = append(demo.Records, record)
		scanned.observe(record.Kind, record.Tick, record.Offset, record.Payload)
		offset += n
	}

	//3.- Prefer the recorded trailer and fall back to the scan.
	if hasTrailer {
		if index, err := decodeIndex(data[end:]); err == nil {
			demo.Index = index
			return demo, nil
		}
	}
	scanned.Session = "recovered"
	demo.Index = scanned
	demo.Reindexed = true
	return demo, nil
}

// RecordAt returns the position of the record starting at offset.
func (d *Demo) RecordAt(offset int64) (int, bool) {
	if d == nil {
		return 0, false
	}
	i := sort.Search(len(d.Records), func(i int) bool { return d.Records[i].Offset >= offset })
	if i < len(d.Records) && d.Records[i].Offset == offset {
		return i, true
	}
	return 0, false
}

// Messages counts message records.
func (d *Demo) Messages() int {
	if d == nil {
		return 0
	}
	count := 0
	for _, record := range d.Records {
		if record.Kind == KindMessage {
			count++
		}
	}
	return count
}

var snapshotDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))

// DecodeSnapshot decompresses a snapshot record payload.
func DecodeSnapshot(record Record) ([]byte, error) {
	if record.Kind != KindSnapshot {
		return nil, errors.New("record is not a snapshot")
	}
	return snapshotDecoder.DecodeAll(record.Payload, nil)
}
