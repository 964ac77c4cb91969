// Package unlag rewinds other players and moving sectors to the tick an
// acting player was looking at, for the duration of one hit test.
package unlag

import (
	"errors"
	"sync"

	"netsync/client/internal/config"
	"netsync/client/internal/logging"
	"netsync/client/internal/snapshot"
	"netsync/client/internal/world"
)

// ErrNestedReconcile is returned when a scope is opened while another is live.
var ErrNestedReconcile = errors.New("unlag: reconcile scope already active")

// World is the live state a scope shadows.
type World interface {
	PlayerIDs() []uint32
	Player(id uint32) (world.Entity, bool)
	SetPlayerState(id uint32, state snapshot.PlayerSnapshot) bool
	SetShootable(id uint32, shootable bool) bool
	SectorIDs() []uint32
	Sector(id uint32) (world.Sector, bool)
	SetSectorState(id uint32, state snapshot.SectorSnapshot) bool
}

// Histories supplies the recorded snapshots to rewind to.
type Histories interface {
	Capacity() int
	Player(id uint32) *snapshot.History[snapshot.PlayerSnapshot]
	Sector(id uint32) *snapshot.History[snapshot.SectorSnapshot]
}

// Option customises a Compensator.
type Option func(*Compensator)

// WithLogger overrides the compensator logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Compensator) {
		if logger != nil {
			c.log = logger
		}
	}
}

// Compensator opens at most one rewind scope at a time.
type Compensator struct {
	mu       sync.Mutex
	world    World
	history  Histories
	maxTicks int
	current  func() int
	log      *logging.Logger
	active   *Scope
}

// New builds a compensator. current reports the newest server tick known.
func New(w World, history Histories, cfg config.UnlagConfig, current func() int, opts ...Option) *Compensator {
	c := &Compensator{
		world:    w,
		history:  history,
		maxTicks: cfg.MaxTicks,
		current:  current,
		log:      logging.L(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

type playerBackup struct {
	id        uint32
	state     snapshot.PlayerSnapshot
	shootable bool
}

type sectorBackup struct {
	id    uint32
	state snapshot.SectorSnapshot
}

// Scope holds the pre-rewind state of everything a reconcile touched.
type Scope struct {
	c        *Compensator
	actor    uint32
	tick     int
	players  []playerBackup
	sectors  []sectorBackup
	released bool
}

// Actor returns the player the scope was opened for.
func (s *Scope) Actor() uint32 { return s.actor }

// Tick returns the rewind tick, or 0 when nothing was rewound.
func (s *Scope) Tick() int { return s.tick }

// Players lists the rewound players in the order they were touched.
func (s *Scope) Players() []uint32 {
	ids := make([]uint32, len(s.players))
	for i, b := range s.players {
		ids[i] = b.id
	}
	return ids
}

// Sectors lists the rewound sectors in the order they were touched.
func (s *Scope) Sectors() []uint32 {
	ids := make([]uint32, len(s.sectors))
	for i, b := range s.sectors {
		ids[i] = b.id
	}
	return ids
}

// Active reports whether a scope is open.
func (c *Compensator) Active() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// Reconcile rewinds every player except actor, and every sector with
// history, to worldIndex. The returned scope must be restored before the
// tick continues.
func (c *Compensator) Reconcile(actor uint32, worldIndex int) (*Scope, error) {
	if c == nil {
		return nil, errors.New("unlag: nil compensator")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		c.log.Warn("nested reconcile rejected", logging.Uint32("actor", actor), logging.Uint32("active_actor", c.active.actor))
		return nil, ErrNestedReconcile
	}
	scope := &Scope{c: c, actor: actor}
	c.active = scope

	//1.- Work out how far back the actor was seeing.
	tick, ok := c.rewindTick(worldIndex)
	if !ok {
		return scope, nil
	}
	scope.tick = tick

	//2.- Players without history at that tick cannot be hit by this action.
	for _, id := range c.world.PlayerIDs() {
		if id == actor {
			continue
		}
		live, ok := c.world.Player(id)
		if !ok {
			continue
		}
		scope.players = append(scope.players, playerBackup{id: id, state: live.State, shootable: live.Shootable})
		if past, ok := c.history.Player(id).Get(tick); ok {
			c.world.SetPlayerState(id, past)
		} else {
			c.world.SetShootable(id, false)
		}
	}

	//3.- Sectors only move back when history covers the tick.
	for _, id := range c.world.SectorIDs() {
		past, ok := c.history.Sector(id).Get(tick)
		if !ok {
			continue
		}
		live, ok := c.world.Sector(id)
		if !ok {
			continue
		}
		scope.sectors = append(scope.sectors, sectorBackup{id: id, state: live.State})
		c.world.SetSectorState(id, past)
	}
	return scope, nil
}

func (c *Compensator) rewindTick(worldIndex int) (int, bool) {
	if c.current == nil {
		return 0, false
	}
	now := c.current()
	lag := now - worldIndex
	if lag <= 0 {
		return 0, false
	}
	if c.maxTicks > 0 && lag > c.maxTicks {
		lag = c.maxTicks
	}
	if capacity := c.history.Capacity(); capacity > 0 && lag >= capacity {
		return 0, false
	}
	return now - lag, true
}

// Restore puts back every state the scope rewound. Calling it again is a
// no-op.
func (s *Scope) Restore() {
	if s == nil || s.c == nil {
		return
	}
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.released {
		return
	}
	s.released = true
	for i := len(s.sectors) - 1; i >= 0; i-- {
		c.world.SetSectorState(s.sectors[i].id, s.sectors[i].state)
	}
	for i := len(s.players) - 1; i >= 0; i-- {
		b := s.players[i]
		c.world.SetPlayerState(b.id, b.state)
		c.world.SetShootable(b.id, b.shootable)
	}
	if c.active == s {
		c.active = nil
	}
}

// Do runs fn inside a reconcile scope and always restores it, including
// when fn panics.
func (c *Compensator) Do(actor uint32, worldIndex int, fn func(*Scope) error) error {
	scope, err := c.Reconcile(actor, worldIndex)
	if err != nil {
		return err
	}
	defer scope.Restore()
	if fn == nil {
		return nil
	}
	return fn(scope)
}
