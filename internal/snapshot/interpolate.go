package snapshot

// InterpolatePlayer returns the player state at tick, blending positions
// between the bracketing snapshots. The later snapshot is returned untouched
// when it starts a discontinuity. Ticks past the newest snapshot resolve to
// the newest one; nothing is extrapolated.
func InterpolatePlayer(h *History[PlayerSnapshot], tick int) (PlayerSnapshot, bool) {
	before, ok := h.Get(tick)
	if !ok {
		return PlayerSnapshot{}, false
	}
	if before.Time == tick {
		return before, true
	}
	after, ok := h.after(tick)
	if !ok {
		return before, true
	}
	if !after.Continuous {
		return after, true
	}
	out := after
	out.Time = tick
	num, den := tick-before.Time, after.Time-before.Time
	out.Pos = before.Pos.Lerp(after.Pos, num, den)
	out.ViewHeight = Lerp(before.ViewHeight, after.ViewHeight, num, den)
	return out, true
}

// InterpolateSector blends plane heights between the bracketing snapshots.
func InterpolateSector(h *History[SectorSnapshot], tick int) (SectorSnapshot, bool) {
	before, ok := h.Get(tick)
	if !ok {
		return SectorSnapshot{}, false
	}
	if before.Time == tick {
		return before, true
	}
	after, ok := h.after(tick)
	if !ok {
		return before, true
	}
	out := after
	out.Time = tick
	num, den := tick-before.Time, after.Time-before.Time
	out.CeilingHeight = Lerp(before.CeilingHeight, after.CeilingHeight, num, den)
	out.FloorHeight = Lerp(before.FloorHeight, after.FloorHeight, num, den)
	return out, true
}
