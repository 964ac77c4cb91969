package clock

import (
	"testing"

	"netsync/client/internal/config"
)

func newTestSync() *Sync {
	return New(config.Defaults().Sync)
}

func TestStepConvergesOnSteadyStream(t *testing.T) {
	s := newTestSync()
	s.SetServerTick(100)
	first := s.Step(nil)
	if !first.Resynced || first.Reason != ReasonUninitialised || first.Render != 99 {
		t.Fatalf("expected initial resync to 99, got %+v", first)
	}

	//1.- Jump the server ahead so the clock trails by a few ticks.
	server := 105
	s.SetServerTick(server)
	if offset := s.SyncOffset(); offset != -4 {
		t.Fatalf("expected offset -4, got %d", offset)
	}

	last := first.Render
	for i := 0; i < 200; i++ {
		step := s.Step(nil)
		if step.Resynced {
			t.Fatalf("unexpected resync at step %d: %+v", i, step)
		}
		if step.Render < last {
			t.Fatalf("render index went backwards: %d -> %d", last, step.Render)
		}
		last = step.Render
		server++
		s.SetServerTick(server)
	}
	if offset := s.SyncOffset(); offset != 0 {
		t.Fatalf("expected clock to converge, offset %d", offset)
	}
}

func TestStepConvergesFromAhead(t *testing.T) {
	s := newTestSync()
	s.SetServerTick(200)
	s.Step(nil)
	s.SetServerTick(194)
	server := 194
	for i := 0; i < 300; i++ {
		if step := s.Step(nil); step.Resynced {
			t.Fatalf("unexpected resync at step %d: %+v", i, step)
		}
		server++
		s.SetServerTick(server)
	}
	if offset := s.SyncOffset(); offset != 0 {
		t.Fatalf("expected clock to converge, offset %d", offset)
	}
}

func TestStepStaysInsideWindowWhenServerStalls(t *testing.T) {
	s := newTestSync()
	s.SetServerTick(50)
	for i := 0; i < 100; i++ {
		s.Step(nil)
		offset := s.SyncOffset()
		if offset < -config.DefaultResyncWindow || offset > config.DefaultResyncWindow+1 {
			t.Fatalf("offset %d escaped window at step %d", offset, i)
		}
	}
}

func TestResyncIsIdempotent(t *testing.T) {
	s := newTestSync()
	s.SetServerTick(40)
	for i := 0; i < 5; i++ {
		s.Step(nil)
	}
	s.Resync()
	first := s.WorldIndex()
	s.Resync()
	if s.WorldIndex() != first || first != s.Target() {
		t.Fatalf("expected resync to land on target %d, got %d then %d", s.Target(), first, s.WorldIndex())
	}
	if s.SyncOffset() != 0 {
		t.Fatalf("expected zero offset after resync, got %d", s.SyncOffset())
	}
}

func TestDiscontinuousSnapshotForcesResync(t *testing.T) {
	s := newTestSync()
	s.SetServerTick(60)
	s.Step(nil)
	s.SetServerTick(63)

	teleported := s.WorldIndex()
	step := s.Step(func(worldIndex int) bool { return worldIndex != teleported })
	if !step.Resynced || step.Reason != ReasonDiscontinuous {
		t.Fatalf("expected discontinuity resync, got %+v", step)
	}
	if step.Render != 62 {
		t.Fatalf("expected render at target 62, got %d", step.Render)
	}
}

func TestServerJumpOutsideWindowResyncs(t *testing.T) {
	s := newTestSync()
	s.SetServerTick(10)
	s.Step(nil)
	s.SetServerTick(10 + 5*config.DefaultResyncWindow)
	step := s.Step(nil)
	if !step.Resynced || step.Reason != ReasonOutOfWindow || step.Render != s.Target() {
		t.Fatalf("expected out-of-window resync, got %+v target %d", step, s.Target())
	}
}

func TestDisabledInterpolationTracksServer(t *testing.T) {
	cfg := config.Defaults().Sync
	cfg.Interpolate = false
	s := New(cfg)
	s.SetServerTick(77)
	step := s.Step(nil)
	if step.Render != 77 || step.Next != 77 || step.Correction != 0 {
		t.Fatalf("expected render at server tick, got %+v", step)
	}
}

func TestObserveGameticUnwrapsLowByte(t *testing.T) {
	cases := []struct {
		name string
		last int
		low  byte
		want int
	}{
		{name: "first", last: 0, low: 10, want: 10},
		{name: "wraps forward", last: 250, low: 3, want: 259},
		{name: "same page", last: 300, low: 48, want: 304},
		{name: "late packet", last: 300, low: 40, want: 296},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestSync()
			s.SetServerTick(tc.last)
			if got := s.ObserveGametic(tc.low); got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
			if s.LastServerTick() != tc.want {
				t.Fatalf("expected stored tick %d, got %d", tc.want, s.LastServerTick())
			}
		})
	}
}

func TestSetDelayClampsAndResyncs(t *testing.T) {
	s := newTestSync()
	s.SetServerTick(90)
	s.Step(nil)
	s.SetDelay(10)
	if s.Delay() != config.DefaultMaxInterpDelay {
		t.Fatalf("expected delay clamped to %d, got %d", config.DefaultMaxInterpDelay, s.Delay())
	}
	if s.WorldIndex() != 90-config.DefaultMaxInterpDelay {
		t.Fatalf("expected resync to new target, got %d", s.WorldIndex())
	}
	s.SetDelay(-3)
	if s.Delay() != 0 {
		t.Fatalf("expected delay clamped to 0, got %d", s.Delay())
	}
}

func TestResetForgetsTicks(t *testing.T) {
	s := newTestSync()
	s.SetServerTick(30)
	s.Step(nil)
	s.Reset()
	if s.WorldIndex() != 0 || s.LastServerTick() != 0 || s.Target() != 0 {
		t.Fatal("expected reset clock")
	}
}
