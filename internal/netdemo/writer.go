package netdemo

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Writer appends records to a netdemo file. Records go through a buffered
// writer so recording never blocks the tick on disk latency; Close writes
// the index trailer and patches the header.
type Writer struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	buf     *bufio.Writer
	enc     *zstd.Encoder
	offset  int64
	index   Index
	scratch []byte
	closed  bool
}

// Create opens path for recording, creating parent directories as needed.
func Create(path, session string, clock func() time.Time) (*Writer, error) {
	if path == "" {
		return nil, fmt.Errorf("netdemo path must be provided")
	}
	if session == "" {
		return nil, fmt.Errorf("netdemo session must be provided")
	}
	if clock == nil {
		clock = time.Now
	}
	//1.- Ensure the directory hierarchy exists even when callers supply nested paths.
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		file.Close()
		return nil, err
	}
	w := &Writer{
		path: path,
		file: file,
		buf:  bufio.NewWriterSize(file, 64*1024),
		enc:  enc,
		index: Index{
			Version:   IndexVersion,
			Session:   session,
			CreatedAt: clock().UTC().Format(time.RFC3339Nano),
		},
	}
	//2.- Reserve the header; the index offset stays 0 until Close.
	header, _ := Header{Version: FormatVersion}.MarshalBinary()
	if _, err := w.buf.Write(header); err != nil {
		w.abort()
		return nil, err
	}
	w.offset = HeaderSize
	return w, nil
}

// Path returns the file being written.
func (w *Writer) Path() string {
	if w == nil {
		return ""
	}
	return w.path
}

// Index returns a copy of the index built so far.
func (w *Writer) Index() Index {
	if w == nil {
		return Index{}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.index
	out.Maps = append([]MapMark(nil), w.index.Maps...)
	out.Snapshots = append([]SnapshotMark(nil), w.index.Snapshots...)
	return out
}

// Empty reports whether no record was written yet.
func (w *Writer) Empty() bool {
	if w == nil {
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.index.Records == 0
}

// WriteMessage appends one encoded wire message received at tick.
func (w *Writer) WriteMessage(tick int, raw []byte) error {
	return w.write(KindMessage, tick, raw)
}

// MarkMap appends a map marker; seeks to a map land on it.
func (w *Writer) MarkMap(tick int, name string) error {
	if name == "" {
		return fmt.Errorf("map name must not be empty")
	}
	return w.write(KindMapChange, tick, []byte(name))
}

// WriteSnapshot compresses and appends a full state snapshot.
func (w *Writer) WriteSnapshot(tick int, state []byte) error {
	if w == nil {
		return errors.New("netdemo writer not initialised")
	}
	w.mu.Lock()
	compressed := w.enc.EncodeAll(state, nil)
	w.mu.Unlock()
	return w.write(KindSnapshot, tick, compressed)
}

func (w *Writer) write(kind RecordKind, tick int, payload []byte) error {
	if w == nil {
		return errors.New("netdemo writer not initialised")
	}
	if tick < 0 {
		return fmt.Errorf("negative tick %d", tick)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return os.ErrClosed
	}
	//1.- Frame into scratch space so each record is a single buffered write.
	w.scratch = AppendRecord(w.scratch[:0], kind, tick, payload)
	if _, err := w.buf.Write(w.scratch); err != nil {
		return err
	}
	w.index.observe(kind, tick, w.offset, payload)
	w.offset += int64(len(w.scratch))
	return nil
}

// Flush pushes buffered records to the operating system.
func (w *Writer) Flush() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	return w.buf.Flush()
}

// Close writes the index trailer, records its offset in the header and
// releases the file. Closing twice is a no-op.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	//1.- Attempt every step and surface the first failure for callers to inspect.
	var firstErr error
	trailer, err := encodeIndex(w.index)
	if err != nil {
		firstErr = err
	}
	if firstErr == nil {
		if _, err := w.buf.Write(trailer); err != nil {
			firstErr = err
		}
	}
	if err := w.buf.Flush(); err != nil && firstErr == nil {
		firstErr = err
	}
	//2.- Only point the header at a trailer that actually reached the file.
	if firstErr == nil {
		header, _ := Header{Version: FormatVersion, IndexOffset: uint64(w.offset)}.MarshalBinary()
		if _, err := w.file.WriteAt(header, 0); err != nil {
			firstErr = err
		}
	}
	if err := w.enc.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.file.Sync(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (w *Writer) abort() {
	w.closed = true
	_ = w.enc.Close()
	_ = w.file.Close()
	_ = os.Remove(w.path)
}
