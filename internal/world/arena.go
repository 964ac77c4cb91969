package world

import (
	"sort"
	"sync"

	"netsync/client/internal/snapshot"
)

// Entity is the client-side state of one actor. Player entities are keyed by
// player id, every other actor by its network id.
type Entity struct {
	ID        uint32
	Player    bool
	State     snapshot.PlayerSnapshot
	Shootable bool
	Target    uint32
	Tracer    uint32
}

// Sector is the current state of one sector's planes.
type Sector struct {
	ID    uint32
	State snapshot.SectorSnapshot
}

// Diff groups the identifiers touched since the last ConsumeDiff.
type Diff struct {
	Players []uint32
	Actors  []uint32
	Sectors []uint32
	Removed []uint32
}

// Empty reports whether nothing changed.
func (d Diff) Empty() bool {
	return len(d.Players) == 0 && len(d.Actors) == 0 && len(d.Sectors) == 0 && len(d.Removed) == 0
}

// Arena owns every entity and sector of the current map, indexed by id.
// Cross references between actors are stored as ids and resolved on demand.
type Arena struct {
	mu      sync.RWMutex
	players map[uint32]*Entity
	actors  map[uint32]*Entity
	sectors map[uint32]*Sector

	dirtyPlayers map[uint32]struct{}
	dirtyActors  map[uint32]struct{}
	dirtySectors map[uint32]struct{}
	removed      map[uint32]struct{}
}

// NewArena constructs an empty arena.
func NewArena() *Arena {
	a := &Arena{}
	a.resetLocked()
	return a
}

func (a *Arena) resetLocked() {
	a.players = make(map[uint32]*Entity)
	a.actors = make(map[uint32]*Entity)
	a.sectors = make(map[uint32]*Sector)
	a.dirtyPlayers = make(map[uint32]struct{})
	a.dirtyActors = make(map[uint32]struct{})
	a.dirtySectors = make(map[uint32]struct{})
	a.removed = make(map[uint32]struct{})
}

// Reset destroys every entity and sector.
func (a *Arena) Reset() {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.resetLocked()
	a.mu.Unlock()
}

// SpawnPlayer creates or respawns a player at pos. The spawn snapshot is
// never continuous with what came before.
func (a *Arena) SpawnPlayer(id uint32, pos snapshot.Vec3, angle snapshot.Angle) Entity {
	if a == nil {
		return Entity{}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	entity := &Entity{ID: id, Player: true, Shootable: true}
	entity.State.Pos = pos
	entity.State.Angle = angle
	entity.State.Fields = snapshot.FieldPosition | snapshot.FieldAngle
	a.players[id] = entity
	a.dirtyPlayers[id] = struct{}{}
	return *entity
}

// ApplyPlayer overlays an authoritative update onto a player. Unknown players
// are created on first update.
func (a *Arena) ApplyPlayer(id uint32, update snapshot.PlayerSnapshot) Entity {
	if a == nil {
		return Entity{}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	entity, ok := a.players[id]
	if !ok {
		entity = &Entity{ID: id, Player: true, Shootable: true}
		a.players[id] = entity
	}
	entity.State = entity.State.Overlay(update)
	a.dirtyPlayers[id] = struct{}{}
	return *entity
}

// SetPlayerState replaces a player's state wholesale, used when rewinding.
func (a *Arena) SetPlayerState(id uint32, state snapshot.PlayerSnapshot) bool {
	if a == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	entity, ok := a.players[id]
	if !ok {
		return false
	}
	entity.State = state
	return true
}

// SetShootable toggles whether hitscan may hit the player.
func (a *Arena) SetShootable(id uint32, shootable bool) bool {
	if a == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	entity, ok := a.players[id]
	if !ok {
		return false
	}
	entity.Shootable = shootable
	return true
}

// Player returns a copy of the player entity.
func (a *Arena) Player(id uint32) (Entity, bool) {
	if a == nil {
		return Entity{}, false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	entity, ok := a.players[id]
	if !ok {
		return Entity{}, false
	}
	return *entity, true
}

// PlayerIDs lists players in ascending id order.
func (a *Arena) PlayerIDs() []uint32 {
	if a == nil {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return sortedIDs(a.players)
}

// RemovePlayer deletes a player entity.
func (a *Arena) RemovePlayer(id uint32) {
	if a == nil {
		return
	}
	a.mu.Lock()
	delete(a.players, id)
	delete(a.dirtyPlayers, id)
	a.mu.Unlock()
}

// ApplyActor overlays an authoritative update onto a non-player actor and
// records its target and tracer references.
func (a *Arena) ApplyActor(id uint32, update snapshot.ActorSnapshot, target, tracer uint32) Entity {
	if a == nil {
		return Entity{}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	entity, ok := a.actors[id]
	if !ok {
		entity = &Entity{ID: id, Shootable: true}
		a.actors[id] = entity
	}
	entity.State.ActorSnapshot = entity.State.ActorSnapshot.Overlay(update)
	entity.Target = target
	entity.Tracer = tracer
	delete(a.removed, id)
	a.dirtyActors[id] = struct{}{}
	return *entity
}

// Actor returns a copy of a non-player actor.
func (a *Arena) Actor(id uint32) (Entity, bool) {
	if a == nil {
		return Entity{}, false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	entity, ok := a.actors[id]
	if !ok {
		return Entity{}, false
	}
	return *entity, true
}

// ResolveTarget follows an actor's target reference. Dangling references
// resolve to false rather than to a stale entity.
func (a *Arena) ResolveTarget(id uint32) (Entity, bool) {
	actor, ok := a.Actor(id)
	if !ok || actor.Target == 0 {
		return Entity{}, false
	}
	return a.Actor(actor.Target)
}

// RemoveActor destroys a non-player actor. Removing an unknown id is a no-op.
func (a *Arena) RemoveActor(id uint32) bool {
	if a == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.actors[id]; !ok {
		return false
	}
	delete(a.actors, id)
	delete(a.dirtyActors, id)
	a.removed[id] = struct{}{}
	return true
}

// ApplySector replaces the state of a sector, creating it on first use.
func (a *Arena) ApplySector(id uint32, state snapshot.SectorSnapshot) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.sectors[id] = &Sector{ID: id, State: state}
	a.dirtySectors[id] = struct{}{}
	a.mu.Unlock()
}

// SetSectorState replaces a known sector's state without marking it dirty.
func (a *Arena) SetSectorState(id uint32, state snapshot.SectorSnapshot) bool {
	if a == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	sector, ok := a.sectors[id]
	if !ok {
		return false
	}
	sector.State = state
	return true
}

// Sector returns a copy of a sector.
func (a *Arena) Sector(id uint32) (Sector, bool) {
	if a == nil {
		return Sector{}, false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	sector, ok := a.sectors[id]
	if !ok {
		return Sector{}, false
	}
	return *sector, true
}

// SectorIDs lists sectors in ascending id order.
func (a *Arena) SectorIDs() []uint32 {
	if a == nil {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return sortedIDs(a.sectors)
}

// Counts reports the number of players, actors and sectors.
func (a *Arena) Counts() (players, actors, sectors int) {
	if a == nil {
		return 0, 0, 0
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.players), len(a.actors), len(a.sectors)
}

// ConsumeDiff returns and clears the identifiers changed since the last call.
func (a *Arena) ConsumeDiff() Diff {
	if a == nil {
		return Diff{}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	//1.- Flatten each dirty set into a sorted slice for stable consumers.
	diff := Diff{
		Players: sortedIDs(a.dirtyPlayers),
		Actors:  sortedIDs(a.dirtyActors),
		Sectors: sortedIDs(a.dirtySectors),
		Removed: sortedIDs(a.removed),
	}
	//2.- Start the next tick with empty sets.
	a.dirtyPlayers = make(map[uint32]struct{})
	a.dirtyActors = make(map[uint32]struct{})
	a.dirtySectors = make(map[uint32]struct{})
	a.removed = make(map[uint32]struct{})
	return diff
}

func sortedIDs[V any](m map[uint32]V) []uint32 {
	if len(m) == 0 {
		return nil
	}
	ids := make([]uint32, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
