package snapshot

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"netsync/client/internal/wire"
)

// storeEncodingVersion prefixes the binary form produced by MarshalBinary.
const storeEncodingVersion = 1

// ErrStoreEncoding reports a binary store image that cannot be restored.
var ErrStoreEncoding = errors.New("snapshot: invalid store encoding")

// Store owns the per-player and per-sector histories of one session.
type Store struct {
	capacity int
	players  map[uint32]*History[PlayerSnapshot]
	sectors  map[uint32]*History[SectorSnapshot]
}

// NewStore creates an empty store whose histories hold capacity ticks each.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		players:  make(map[uint32]*History[PlayerSnapshot]),
		sectors:  make(map[uint32]*History[SectorSnapshot]),
	}
}

// Capacity reports the per-subject history size.
func (s *Store) Capacity() int {
	if s == nil {
		return 0
	}
	return s.capacity
}

// RecordPlayer overlays a sparse update on the newest known state of the
// player and appends the result. Stale ticks are ignored.
func (s *Store) RecordPlayer(id uint32, update PlayerSnapshot) bool {
	if s == nil {
		return false
	}
	history, ok := s.players[id]
	if !ok {
		history = NewHistory[PlayerSnapshot](s.capacity)
		s.players[id] = history
	}
	base, _ := history.Newest()
	return history.Add(base.Overlay(update))
}

// RecordSector appends a sector snapshot. Stale ticks are ignored.
func (s *Store) RecordSector(id uint32, snap SectorSnapshot) bool {
	if s == nil {
		return false
	}
	history, ok := s.sectors[id]
	if !ok {
		history = NewHistory[SectorSnapshot](s.capacity)
		s.sectors[id] = history
	}
	return history.Add(snap)
}

// Player returns the history of a player, or nil when none is tracked.
func (s *Store) Player(id uint32) *History[PlayerSnapshot] {
	if s == nil {
		return nil
	}
	return s.players[id]
}

// Sector returns the history of a sector, or nil when none is tracked.
func (s *Store) Sector(id uint32) *History[SectorSnapshot] {
	if s == nil {
		return nil
	}
	return s.sectors[id]
}

// PlayerIDs lists tracked players in ascending order.
func (s *Store) PlayerIDs() []uint32 {
	if s == nil {
		return nil
	}
	return sortedKeys(s.players)
}

// SectorIDs lists tracked sectors in ascending order.
func (s *Store) SectorIDs() []uint32 {
	if s == nil {
		return nil
	}
	return sortedKeys(s.sectors)
}

// RemovePlayer forgets a player's history.
func (s *Store) RemovePlayer(id uint32) {
	if s == nil {
		return
	}
	delete(s.players, id)
}

// Clear drops every history.
func (s *Store) Clear() {
	if s == nil {
		return
	}
	s.players = make(map[uint32]*History[PlayerSnapshot])
	s.sectors = make(map[uint32]*History[SectorSnapshot])
}

// Prune releases sector histories that finished moving longer ago than the
// store capacity, relative to the rendered world index.
func (s *Store) Prune(worldIndex int) int {
	if s == nil {
		return 0
	}
	removed := 0
	for id, history := range s.sectors {
		newest, ok := history.Newest()
		if !ok || worldIndex-newest.Time > s.capacity {
			delete(s.sectors, id)
			removed++
			continue
		}
		if history.Prune(worldIndex, s.capacity) {
			delete(s.sectors, id)
			removed++
		}
	}
	return removed
}

// Dump renders every stored snapshot in a stable textual form.
func (s *Store) Dump() string {
	if s == nil {
		return ""
	}
	var b strings.Builder
	for _, id := range s.PlayerIDs() {
		s.players[id].Each(func(p PlayerSnapshot) bool {
			fmt.Fprintf(&b, "player %d %+v\n", id, p)
			return true
		})
	}
	for _, id := range s.SectorIDs() {
		s.sectors[id].Each(func(sec SectorSnapshot) bool {
			fmt.Fprintf(&b, "sector %d %+v\n", id, sec)
			return true
		})
	}
	return b.String()
}

// MarshalBinary encodes every history so a netdemo can store full snapshots.
func (s *Store) MarshalBinary() ([]byte, error) {
	if s == nil {
		return nil, errors.New("snapshot: nil store")
	}
	var enc wire.Encoder
	enc.Uvarint(storeEncodingVersion)
	enc.Uvarint(uint64(s.capacity))
	//1.- Players first, each as id, record count and records oldest first.
	ids := s.PlayerIDs()
	enc.Uvarint(uint64(len(ids)))
	for _, id := range ids {
		history := s.players[id]
		enc.Uvarint(uint64(id))
		enc.Uvarint(uint64(history.Len()))
		history.Each(func(p PlayerSnapshot) bool {
			EncodePlayer(&enc, p)
			return true
		})
	}
	//2.- Sectors follow with the same layout.
	ids = s.SectorIDs()
	enc.Uvarint(uint64(len(ids)))
	for _, id := range ids {
		history := s.sectors[id]
		enc.Uvarint(uint64(id))
		enc.Uvarint(uint64(history.Len()))
		history.Each(func(sec SectorSnapshot) bool {
			EncodeSector(&enc, sec)
			return true
		})
	}
	return enc.Bytes(), nil
}

// UnmarshalBinary replaces the store contents with a MarshalBinary image.
func (s *Store) UnmarshalBinary(data []byte) error {
	if s == nil {
		return errors.New("snapshot: nil store")
	}
	dec := wire.NewDecoder(data)
	if version := dec.Uvarint(); dec.Err() == nil && version != storeEncodingVersion {
		return fmt.Errorf("%w: version %d", ErrStoreEncoding, version)
	}
	capacity := int(dec.Uvarint())
	if dec.Err() == nil && (capacity <= 0 || capacity > 1<<16) {
		return fmt.Errorf("%w: capacity %d", ErrStoreEncoding, capacity)
	}
	players := make(map[uint32]*History[PlayerSnapshot])
	for n := dec.Uvarint(); n > 0 && dec.Err() == nil; n-- {
		id := dec.Uint32()
		history := NewHistory[PlayerSnapshot](capacity)
		for count := dec.Uvarint(); count > 0 && dec.Err() == nil; count-- {
			history.Add(DecodePlayer(dec))
		}
		players[id] = history
	}
	sectors := make(map[uint32]*History[SectorSnapshot])
	for n := dec.Uvarint(); n > 0 && dec.Err() == nil; n-- {
		id := dec.Uint32()
		history := NewHistory[SectorSnapshot](capacity)
		for count := dec.Uvarint(); count > 0 && dec.Err() == nil; count-- {
			history.Add(DecodeSector(dec))
		}
		sectors[id] = history
	}
	if err := dec.Finish(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreEncoding, err)
	}
	s.capacity = capacity
	s.players = players
	s.sectors = sectors
	return nil
}

func sortedKeys[V any](m map[uint32]V) []uint32 {
	keys := make([]uint32, 0, len(m))
	for id := range m {
		keys = append(keys, id)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
