package netdemo

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"netsync/client/internal/config"
	"netsync/client/internal/logging"
)

// prevSlack keeps "previous" seeks from landing on the mark just passed.
const prevSlack = 35

var (
	// ErrNotRecording is returned by recording calls while no recording is active.
	ErrNotRecording = errors.New("netdemo: not recording")
	// ErrNotPlaying is returned by playback calls while nothing is playing.
	ErrNotPlaying = errors.New("netdemo: not playing")
	// ErrBusy is returned when a recording or playback is already active.
	ErrBusy = errors.New("netdemo: session already active")
	// ErrNoSnapshot reports that no snapshot lies in the seek direction.
	ErrNoSnapshot = errors.New("netdemo: no snapshot in that direction")
	// ErrNoMap reports that no map marker lies in the seek direction.
	ErrNoMap = errors.New("netdemo: no map in that direction")
	// ErrNoStateCodec is returned when snapshots are needed but no codec was configured.
	ErrNoStateCodec = errors.New("netdemo: no state codec configured")
)

// Mode is the single activity a session performs at a time.
type Mode int

const (
	Idle Mode = iota
	Recording
	Playing
	Paused
)

func (m Mode) String() string {
	switch m {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// StateCodec captures and restores the full client state for snapshots.
type StateCodec interface {
	CaptureState() ([]byte, error)
	RestoreState(state []byte) error
}

// DeliverFunc feeds one recorded message back through the dispatcher.
type DeliverFunc func(tick int, raw []byte) error

// Status is a consistent view of the session.
type Status struct {
	Mode    Mode
	Path    string
	Part    int
	Tick    int
	Cursor  int
	Records int
	Index   Index
}

// SessionOption customises a Session.
type SessionOption func(*Session)

// WithClock injects a deterministic clock, primarily for tests.
func WithClock(clock func() time.Time) SessionOption {
	return func(s *Session) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithLogger overrides the session logger.
func WithLogger(logger *logging.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.log = logger
		}
	}
}

// WithStateCodec enables full snapshots and snapshot seeking.
func WithStateCodec(codec StateCodec) SessionOption {
	return func(s *Session) {
		s.codec = codec
	}
}

// Session records or plays back netdemos, one activity at a time.
type Session struct {
	mu    sync.Mutex
	cfg   config.NetDemoConfig
	codec StateCodec
	log   *logging.Logger
	now   func() time.Time

	mode Mode

	writer      *Writer
	basePath    string
	part        int
	forceSplit  bool
	captured    bool
	lastCapture int
	written     []string

	demo   *Demo
	cursor int
	tick   int
}

// NewSession constructs an idle session.
func NewSession(cfg config.NetDemoConfig, opts ...SessionOption) *Session {
	s := &Session{cfg: cfg, log: logging.L(), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Mode reports the current activity.
func (s *Session) Mode() Mode {
	if s == nil {
		return Idle
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	if s == nil {
		return Status{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	status := Status{Mode: s.mode, Part: s.part}
	switch {
	case s.writer != nil:
		status.Path = s.writer.Path()
		status.Index = s.writer.Index()
		status.Records = status.Index.Records
	case s.demo != nil:
		status.Path = s.demo.Path
		status.Index = s.demo.Index
		status.Records = len(s.demo.Records)
		status.Cursor = s.cursor
		status.Tick = s.tick
	}
	return status
}

// Written lists the files produced by the current or last recording.
func (s *Session) Written() []string {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.written...)
}

// PartPath derives the file name of split n of a recording.
func PartPath(base string, n int) string {
	if n <= 1 {
		return base
	}
	ext := filepath.Ext(base)
	return fmt.Sprintf("%s-part%d%s", strings.TrimSuffix(base, ext), n, ext)
}

// StartRecording opens path and starts recording. The session stays Idle
// when the file cannot be created.
func (s *Session) StartRecording(path string) error {
	if s == nil {
		return errors.New("netdemo: nil session")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != Idle {
		return ErrBusy
	}
	writer, err := Create(path, logging.NewSessionID(), s.now)
	if err != nil {
		return fmt.Errorf("start recording: %w", err)
	}
	s.mode = Recording
	s.writer = writer
	s.basePath = path
	s.part = 1
	s.forceSplit = false
	s.captured = false
	s.written = []string{path}
	s.log.Info("netdemo recording started", logging.String("path", path))
	return nil
}

// RecordMessage appends one dispatched message.
func (s *Session) RecordMessage(tick int, raw []byte) error {
	if s == nil {
		return ErrNotRecording
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != Recording {
		return ErrNotRecording
	}
	return s.writer.WriteMessage(tick, raw)
}

// RequestSplit asks for the next map change to start a new file when
// splitting on reconnect is enabled.
func (s *Session) RequestSplit() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.mode == Recording {
		s.forceSplit = true
	}
	s.mu.Unlock()
}

// MarkMap records a map change, splitting the recording first when the
// configuration asks for it.
func (s *Session) MarkMap(tick int, name string) error {
	if s == nil {
		return ErrNotRecording
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != Recording {
		return ErrNotRecording
	}
	//1.- Decide whether this map starts a new file.
	split := !s.writer.Empty() && (s.cfg.SplitOnMapChange || (s.forceSplit && s.cfg.SplitOnReconnect))
	s.forceSplit = false
	if split {
		if err := s.splitLocked(); err != nil {
			return err
		}
	}
	//2.- The marker precedes the map's first message so seeks replay the load.
	if err := s.writer.MarkMap(tick, name); err != nil {
		return err
	}
	//3.- Every map opens with a snapshot that anchors map seeks.
	s.captured = false
	return nil
}

func (s *Session) splitLocked() error {
	if err := s.writer.Close(); err != nil {
		s.log.Warn("netdemo split close failed", logging.String("path", s.writer.Path()), logging.Error(err))
	}
	next := PartPath(s.basePath, s.part+1)
	writer, err := Create(next, logging.NewSessionID(), s.now)
	if err != nil {
		s.mode = Idle
		s.writer = nil
		return fmt.Errorf("split recording: %w", err)
	}
	s.part++
	s.writer = writer
	s.captured = false
	s.written = append(s.written, next)
	s.log.Info("netdemo recording split", logging.String("path", next), logging.Int("part", s.part))
	return nil
}

// Capture writes a full snapshot when the snapshot interval has elapsed.
func (s *Session) Capture(tick int) error {
	if s == nil {
		return ErrNotRecording
	}
	s.mu.Lock()
	if s.mode != Recording {
		s.mu.Unlock()
		return ErrNotRecording
	}
	interval := s.cfg.SnapshotInterval
	due := s.codec != nil && interval > 0 && (!s.captured || tick-s.lastCapture >= interval)
	codec := s.codec
	s.mu.Unlock()
	if !due {
		return nil
	}

	//1.- Capture outside the lock; the codec reads engine state.
	state, err := codec.CaptureState()
	if err != nil {
		return fmt.Errorf("capture state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != Recording {
		return ErrNotRecording
	}
	if err := s.writer.WriteSnapshot(tick, state); err != nil {
		return err
	}
	s.captured = true
	s.lastCapture = tick
	return nil
}

// Flush pushes buffered records to disk.
func (s *Session) Flush() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer == nil {
		return nil
	}
	return s.writer.Flush()
}

// StopRecording closes the recording.
func (s *Session) StopRecording() error {
	if s == nil {
		return ErrNotRecording
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != Recording {
		return ErrNotRecording
	}
	err := s.writer.Close()
	s.log.Info("netdemo recording stopped", logging.String("path", s.writer.Path()), logging.Int("parts", s.part))
	s.writer = nil
	s.mode = Idle
	return err
}

// StartPlaying loads path and positions playback on its first record.
func (s *Session) StartPlaying(path string) error {
	if s == nil {
		return errors.New("netdemo: nil session")
	}
	s.mu.Lock()
	if s.mode != Idle {
		s.mu.Unlock()
		return ErrBusy
	}
	s.mu.Unlock()

	demo, err := Open(path)
	if err != nil {
		return fmt.Errorf("start playback: %w", err)
	}
	if len(demo.Records) == 0 {
		return fmt.Errorf("start playback: %s has no records", path)
	}
	if demo.Reindexed {
		s.log.Warn("netdemo index missing, rebuilt by scanning", logging.String("path", path), logging.Bool("truncated", demo.Truncated))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != Idle {
		return ErrBusy
	}
	s.demo = demo
	s.cursor = 0
	s.tick = demo.Records[0].Tick
	s.mode = Playing
	s.log.Info("netdemo playback started", logging.String("path", path), logging.Int("records", len(demo.Records)))
	return nil
}

// Tick delivers every message recorded for the current playback tick and
// advances the clock. It reports done when the recording is exhausted;
// a delivery error stops playback. Paused playback does nothing.
func (s *Session) Tick(deliver DeliverFunc) (bool, error) {
	if s == nil {
		return false, ErrNotPlaying
	}
	s.mu.Lock()
	switch s.mode {
	case Paused:
		s.mu.Unlock()
		return false, nil
	case Playing:
	default:
		s.mu.Unlock()
		return false, ErrNotPlaying
	}
	//1.- Collect the batch for this tick; markers and snapshots are skipped.
	current := s.tick
	var batch [][]byte
	for s.cursor < len(s.demo.Records) && s.demo.Records[s.cursor].Tick <= current {
		record := s.demo.Records[s.cursor]
		if record.Kind == KindMessage {
			batch = append(batch, record.Payload)
		}
		s.cursor++
	}
	s.tick++
	done := s.cursor >= len(s.demo.Records)
	s.mu.Unlock()

	//2.- Deliver without holding the lock so handlers may query the session.
	for _, raw := range batch {
		if deliver == nil {
			break
		}
		if err := deliver(current, raw); err != nil {
			s.StopPlaying()
			return true, fmt.Errorf("netdemo playback at tick %d: %w", current, err)
		}
	}
	if done {
		s.StopPlaying()
	}
	return done, nil
}

// Pause suspends playback.
func (s *Session) Pause() error {
	return s.swapMode(Playing, Paused)
}

// Resume continues paused playback.
func (s *Session) Resume() error {
	return s.swapMode(Paused, Playing)
}

func (s *Session) swapMode(from, to Mode) error {
	if s == nil {
		return ErrNotPlaying
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != from {
		return ErrNotPlaying
	}
	s.mode = to
	return nil
}

// StopPlaying ends playback.
func (s *Session) StopPlaying() error {
	if s == nil {
		return ErrNotPlaying
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != Playing && s.mode != Paused {
		return ErrNotPlaying
	}
	s.mode = Idle
	s.demo = nil
	s.cursor = 0
	return nil
}

// Stop ends whatever the session is doing.
func (s *Session) Stop() error {
	switch s.Mode() {
	case Recording:
		return s.StopRecording()
	case Playing, Paused:
		return s.StopPlaying()
	default:
		return nil
	}
}

func (s *Session) playbackLocked() (*Demo, int, error) {
	if s.mode != Playing && s.mode != Paused {
		return nil, 0, ErrNotPlaying
	}
	//1.- The last delivered tick is the reference point for seeks.
	return s.demo, s.tick - 1, nil
}

// NextSnapshot restores the first snapshot after the playback position.
func (s *Session) NextSnapshot() error {
	return s.seekSnapshot(func(marks []SnapshotMark, pos int) int {
		i := sort.Search(len(marks), func(i int) bool { return marks[i].Tick > pos })
		if i == len(marks) {
			return -1
		}
		return i
	})
}

// PrevSnapshot restores the last snapshot at least prevSlack ticks behind
// the playback position.
func (s *Session) PrevSnapshot() error {
	return s.seekSnapshot(func(marks []SnapshotMark, pos int) int {
		i := sort.Search(len(marks), func(i int) bool { return marks[i].Tick > pos-prevSlack })
		return i - 1
	})
}

func (s *Session) seekSnapshot(pick func([]SnapshotMark, int) int) error {
	if s == nil {
		return ErrNotPlaying
	}
	s.mu.Lock()
	demo, pos, err := s.playbackLocked()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	codec := s.codec
	if codec == nil {
		s.mu.Unlock()
		return ErrNoStateCodec
	}
	//1.- Locate the snapshot record in the body.
	i := pick(demo.Index.Snapshots, pos)
	if i < 0 {
		s.mu.Unlock()
		return ErrNoSnapshot
	}
	mark := demo.Index.Snapshots[i]
	s.mu.Unlock()
	return s.restore(demo, codec, mark)
}

// restore applies the snapshot at mark and resumes playback after it. A
// failed restore leaves the position untouched.
func (s *Session) restore(demo *Demo, codec StateCodec, mark SnapshotMark) error {
	at, ok := demo.RecordAt(mark.Offset)
	if !ok {
		return fmt.Errorf("%w: snapshot offset %d not in body", ErrCorruptRecord, mark.Offset)
	}
	state, err := DecodeSnapshot(demo.Records[at])
	if err != nil {
		return fmt.Errorf("decode snapshot at tick %d: %w", mark.Tick, err)
	}
	if err := codec.RestoreState(state); err != nil {
		return fmt.Errorf("restore snapshot at tick %d: %w", mark.Tick, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.demo != demo {
		return ErrNotPlaying
	}
	s.cursor = at + 1
	s.tick = mark.Tick + 1
	return nil
}

// NextMap jumps to the first map marker after the playback position.
func (s *Session) NextMap() error {
	return s.seekMap(func(marks []MapMark, pos int) int {
		i := sort.Search(len(marks), func(i int) bool { return marks[i].Tick > pos })
		if i == len(marks) {
			return -1
		}
		return i
	})
}

// PrevMap jumps to the last map marker at least prevSlack ticks behind the
// playback position.
func (s *Session) PrevMap() error {
	return s.seekMap(func(marks []MapMark, pos int) int {
		i := sort.Search(len(marks), func(i int) bool { return marks[i].Tick > pos-prevSlack })
		return i - 1
	})
}

func (s *Session) seekMap(pick func([]MapMark, int) int) error {
	if s == nil {
		return ErrNotPlaying
	}
	s.mu.Lock()
	demo, pos, err := s.playbackLocked()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	i := pick(demo.Index.Maps, pos)
	if i < 0 {
		s.mu.Unlock()
		return ErrNoMap
	}
	mark := demo.Index.Maps[i]
	at, ok := demo.RecordAt(mark.Offset)
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: map offset %d not in body", ErrCorruptRecord, mark.Offset)
	}
	//1.- The map's opening snapshot carries the server tick of the load.
	codec := s.codec
	if opening, found := OpeningSnapshot(demo.Index, mark); found && codec != nil {
		s.mu.Unlock()
		return s.restore(demo, codec, opening)
	}
	//2.- Otherwise land on the marker so the map's load message is delivered next.
	s.cursor = at
	s.tick = mark.Tick
	s.mu.Unlock()
	return nil
}

// OpeningSnapshot finds the snapshot written at the end of the tick that
// loaded the map at mark.
func OpeningSnapshot(index Index, mark MapMark) (SnapshotMark, bool) {
	for _, snap := range index.Snapshots {
		if snap.Tick > mark.Tick {
			break
		}
		if snap.Tick == mark.Tick && snap.Offset > mark.Offset {
			return snap, true
		}
	}
	return SnapshotMark{}, false
}
