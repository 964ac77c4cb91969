package clock

import (
	"math"
	"sync"

	"netsync/client/internal/config"
)

const (
	fracBits = 16
	fracUnit = int64(1) << fracBits
)

// Resync reasons reported on Step.
const (
	ReasonNone          = ""
	ReasonUninitialised = "uninitialised"
	ReasonDiscontinuous = "discontinuous"
	ReasonOutOfWindow   = "out_of_window"
	ReasonManual        = "manual"
	ReasonDisabled      = "interpolation_disabled"
)

// Probe reports whether the tracked subject's snapshot at worldIndex continues
// the previous one. A nil probe treats every snapshot as continuous.
type Probe func(worldIndex int) bool

// Step describes one advance of the world clock.
type Step struct {
	// Render is the world index the renderer should show for this tick.
	Render int
	// Next is the world index the following tick starts from.
	Next       int
	Correction int
	Resynced   bool
	Reason     string
}

// Sync derives the client's world index from the server tick stream and
// drifts it towards lastServerTick minus the interpolation delay.
type Sync struct {
	mu sync.Mutex

	interpolate bool
	delay       int
	maxDelay    int
	period      int64
	window      int

	lastServerTick int
	worldIndex     int
	accum          int64
}

// New builds a clock from the sync configuration.
func New(cfg config.SyncConfig) *Sync {
	s := &Sync{
		interpolate: cfg.Interpolate,
		maxDelay:    cfg.MaxDelay,
		window:      cfg.ResyncWindow,
		period:      int64(math.Round(cfg.CorrectionPeriod * float64(fracUnit))),
	}
	if s.maxDelay < 0 {
		s.maxDelay = 0
	}
	if s.window <= 0 {
		s.window = config.DefaultResyncWindow
	}
	if s.period <= 0 {
		s.period = fracUnit / 16
	}
	s.delay = s.clampDelay(cfg.Delay)
	return s
}

func (s *Sync) clampDelay(delay int) int {
	if delay < 0 {
		return 0
	}
	if delay > s.maxDelay {
		return s.maxDelay
	}
	return delay
}

func (s *Sync) targetLocked() int {
	if s.lastServerTick <= 0 {
		return 0
	}
	return s.lastServerTick - s.delay
}

// Step advances the clock by one client tick and returns the index to render.
func (s *Sync) Step(probe Probe) Step {
	if s == nil {
		return Step{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	//1.- Without interpolation the client simply shows the newest server state.
	if !s.interpolate {
		s.worldIndex = s.lastServerTick
		s.accum = 0
		return Step{Render: s.worldIndex, Next: s.worldIndex, Reason: ReasonDisabled}
	}

	//2.- Snap to the target when the index is unusable.
	target := s.targetLocked()
	reason := ReasonNone
	switch {
	case s.worldIndex <= 0:
		reason = ReasonUninitialised
	case probe != nil && !probe(s.worldIndex):
		reason = ReasonDiscontinuous
	case s.worldIndex < target-s.window || s.worldIndex > target+s.window:
		reason = ReasonOutOfWindow
	}
	if reason != ReasonNone {
		s.worldIndex = target
		s.accum = 0
	}

	step := Step{Render: s.worldIndex, Resynced: reason != ReasonNone, Reason: reason}

	//3.- Accumulate fractional drift and apply whole-tick corrections.
	delta := target - s.worldIndex
	if delta == 0 {
		s.accum = 0
	} else {
		s.accum += s.period * int64(delta)
	}
	correction := s.accum / fracUnit
	s.accum -= correction * fracUnit
	step.Correction = int(correction)

	s.worldIndex += 1 + step.Correction
	step.Next = s.worldIndex
	return step
}

// Resync snaps the world index to the target and clears the accumulator.
func (s *Sync) Resync() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.worldIndex = s.targetLocked()
	s.accum = 0
	s.mu.Unlock()
}

// SetServerTick records the latest tick the server reported.
func (s *Sync) SetServerTick(tick int) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.lastServerTick = tick
	s.mu.Unlock()
}

// ObserveGametic unwraps the low byte of the server tick against the last
// known tick and stores the result.
func (s *Sync) ObserveGametic(low byte) int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tick := (s.lastServerTick &^ 0xFF) + int(low)
	if s.lastServerTick > tick+127 {
		tick += 256
	}
	s.lastServerTick = tick
	return tick
}

// SetDelay changes the interpolation delay and forces a resync.
func (s *Sync) SetDelay(delay int) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.delay = s.clampDelay(delay)
	s.worldIndex = s.targetLocked()
	s.accum = 0
	s.mu.Unlock()
}

// SetInterpolate toggles smoothing.
func (s *Sync) SetInterpolate(enabled bool) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.interpolate = enabled
	s.mu.Unlock()
}

// Delay returns the clamped interpolation delay.
func (s *Sync) Delay() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delay
}

// WorldIndex returns the index the next Step will render from.
func (s *Sync) WorldIndex() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.worldIndex
}

// LastServerTick returns the unwrapped server tick.
func (s *Sync) LastServerTick() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastServerTick
}

// Target returns lastServerTick minus the delay, or 0 before any server tick.
func (s *Sync) Target() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.targetLocked()
}

// SyncOffset reports how far the world index sits from its target.
func (s *Sync) SyncOffset() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.worldIndex - s.targetLocked()
}

// Reset forgets every tick, used when the connection is torn down.
func (s *Sync) Reset() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.lastServerTick = 0
	s.worldIndex = 0
	s.accum = 0
	s.mu.Unlock()
}
