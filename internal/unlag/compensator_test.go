package unlag

import (
	"errors"
	"testing"

	"netsync/client/internal/config"
	"netsync/client/internal/logging"
	"netsync/client/internal/snapshot"
	"netsync/client/internal/world"
)

func playerAt(tick int) snapshot.PlayerSnapshot {
	var s snapshot.PlayerSnapshot
	s.Time = tick
	s.Fields = snapshot.FieldPosition
	s.Pos = snapshot.Vec3{X: snapshot.FromInt(tick), Y: snapshot.FromInt(-tick)}
	return s
}

func sectorAt(tick int) snapshot.SectorSnapshot {
	return snapshot.SectorSnapshot{Time: tick, FloorHeight: snapshot.FromInt(tick), FloorMover: snapshot.MoverPlat}
}

// buildFixture tracks players 1..3 and sector 7 up to tick 20. Player 3
// joined at tick 18.
func buildFixture() (*world.Arena, *snapshot.Store) {
	arena := world.NewArena()
	store := snapshot.NewStore(32)
	for tick := 10; tick <= 20; tick++ {
		for _, id := range []uint32{1, 2} {
			store.RecordPlayer(id, playerAt(tick))
			arena.ApplyPlayer(id, playerAt(tick))
		}
		if tick >= 18 {
			store.RecordPlayer(3, playerAt(tick))
			arena.ApplyPlayer(3, playerAt(tick))
		}
		store.RecordSector(7, sectorAt(tick))
		arena.ApplySector(7, sectorAt(tick))
	}
	arena.ApplySector(8, sectorAt(20))
	return arena, store
}

func newCompensator(arena *world.Arena, store *snapshot.Store, maxTicks int, now int) *Compensator {
	return New(arena, store, config.UnlagConfig{MaxTicks: maxTicks}, func() int { return now }, WithLogger(logging.NewTestLogger()))
}

func TestReconcileRewindsAndRestoresExactly(t *testing.T) {
	arena, store := buildFixture()
	before := map[uint32]world.Entity{}
	for _, id := range arena.PlayerIDs() {
		before[id], _ = arena.Player(id)
	}
	sectorBefore, _ := arena.Sector(7)

	c := newCompensator(arena, store, 35, 20)
	scope, err := c.Reconcile(1, 15)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if scope.Tick() != 15 {
		t.Fatalf("expected rewind to 15, got %d", scope.Tick())
	}

	//1.- The actor stays live, others move back, late joiners become unshootable.
	if actor, _ := arena.Player(1); actor.State != before[1].State {
		t.Fatal("actor must not be rewound")
	}
	if p2, _ := arena.Player(2); p2.State.Pos.X != snapshot.FromInt(15) {
		t.Fatalf("expected player 2 at tick 15 position, got %v", p2.State.Pos)
	}
	if p3, _ := arena.Player(3); p3.Shootable || p3.State != before[3].State {
		t.Fatalf("expected player 3 unshootable and unmoved, got %+v", p3)
	}
	if s7, _ := arena.Sector(7); s7.State.FloorHeight != snapshot.FromInt(15) {
		t.Fatalf("expected sector 7 rewound, got %v", s7.State.FloorHeight)
	}
	if got := scope.Sectors(); len(got) != 1 || got[0] != 7 {
		t.Fatalf("expected only sector 7 touched, got %v", got)
	}
	if got := scope.Players(); len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Fatalf("unexpected touched players %v", got)
	}

	//2.- A second scope cannot open while the first is live.
	if _, err := c.Reconcile(2, 12); !errors.Is(err, ErrNestedReconcile) {
		t.Fatalf("expected nested reconcile error, got %v", err)
	}

	scope.Restore()
	scope.Restore()
	for id, want := range before {
		got, _ := arena.Player(id)
		if got != want {
			t.Fatalf("player %d not restored: %+v != %+v", id, got, want)
		}
	}
	if s7, _ := arena.Sector(7); s7 != sectorBefore {
		t.Fatalf("sector 7 not restored: %+v", s7)
	}
	if c.Active() {
		t.Fatal("expected no active scope after restore")
	}
}

func TestReconcileSkipsWhenThereIsNothingToRewind(t *testing.T) {
	cases := []struct {
		name       string
		maxTicks   int
		now        int
		worldIndex int
		wantTick   int
	}{
		{name: "no lag", maxTicks: 35, now: 20, worldIndex: 20, wantTick: 0},
		{name: "ahead of server", maxTicks: 35, now: 20, worldIndex: 22, wantTick: 0},
		{name: "beyond history", maxTicks: 0, now: 60, worldIndex: 20, wantTick: 0},
		{name: "capped rewind", maxTicks: 3, now: 20, worldIndex: 10, wantTick: 17},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			arena, store := buildFixture()
			c := newCompensator(arena, store, tc.maxTicks, tc.now)
			scope, err := c.Reconcile(1, tc.worldIndex)
			if err != nil {
				t.Fatalf("reconcile: %v", err)
			}
			defer scope.Restore()
			if scope.Tick() != tc.wantTick {
				t.Fatalf("expected rewind tick %d, got %d", tc.wantTick, scope.Tick())
			}
			if tc.wantTick == 0 && (len(scope.Players()) != 0 || len(scope.Sectors()) != 0) {
				t.Fatalf("expected untouched world, got players %v sectors %v", scope.Players(), scope.Sectors())
			}
		})
	}
}

func TestDoReleasesOnErrorAndPanic(t *testing.T) {
	arena, store := buildFixture()
	c := newCompensator(arena, store, 35, 20)
	want, _ := arena.Player(2)

	boom := errors.New("hit test failed")
	err := c.Do(1, 12, func(scope *Scope) error {
		if p, _ := arena.Player(2); p.State.Pos.X != snapshot.FromInt(12) {
			t.Fatalf("expected rewound state inside scope, got %v", p.State.Pos)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error to propagate, got %v", err)
	}
	if got, _ := arena.Player(2); got != want || c.Active() {
		t.Fatal("expected state restored after error")
	}

	func() {
		defer func() { _ = recover() }()
		_ = c.Do(1, 12, func(*Scope) error { panic("trace exploded") })
	}()
	if got, _ := arena.Player(2); got != want || c.Active() {
		t.Fatal("expected state restored after panic")
	}
}
