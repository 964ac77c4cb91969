package client

import (
	"errors"
	"fmt"

	"netsync/client/internal/diagnostics"
	"netsync/client/internal/dispatch"
	"netsync/client/internal/netdemo"
	"netsync/client/internal/netstats"
	"netsync/client/internal/wire"
)

// stateVersion tags the full snapshot image stored in netdemos.
const stateVersion = 1

// ErrStateImage reports a netdemo snapshot the engine cannot restore.
var ErrStateImage = errors.New("client: invalid state image")

var (
	_ netdemo.StateCodec = (*Engine)(nil)
	_ diagnostics.Source = (*Engine)(nil)
)

// CaptureState encodes everything a netdemo needs to resume playback at the
// current tick. It runs on the tick goroutine.
func (e *Engine) CaptureState() ([]byte, error) {
	history, err := e.store.MarshalBinary()
	if err != nil {
		return nil, err
	}
	e.stateMu.RLock()
	mapName, playerID := e.mapName, e.playerID
	e.stateMu.RUnlock()

	var enc wire.Encoder
	enc.Uvarint(stateVersion)
	enc.String(mapName)
	enc.Uvarint(uint64(playerID))
	enc.Varint(int64(e.clock.LastServerTick()))
	enc.Raw(history)
	return enc.Bytes(), nil
}

// RestoreState rebuilds the histories, the arena and the clock from a
// CaptureState image.
func (e *Engine) RestoreState(state []byte) error {
	dec := wire.NewDecoder(state)
	if version := dec.Uvarint(); dec.Err() == nil && version != stateVersion {
		return fmt.Errorf("%w: version %d", ErrStateImage, version)
	}
	mapName := dec.String()
	playerID := dec.Uint32()
	serverTick := int(dec.Varint())
	history := dec.Raw()
	if err := dec.Finish(); err != nil {
		return fmt.Errorf("%w: %v", ErrStateImage, err)
	}
	if err := e.store.UnmarshalBinary(history); err != nil {
		return err
	}

	//1.- The arena shows the newest snapshot of every subject.
	e.arena.Reset()
	for _, id := range e.store.PlayerIDs() {
		if newest, ok := e.store.Player(id).Newest(); ok {
			e.arena.ApplyPlayer(id, newest)
		}
	}
	for _, id := range e.store.SectorIDs() {
		if newest, ok := e.store.Sector(id).Newest(); ok {
			e.arena.ApplySector(id, newest)
		}
	}
	e.arena.ConsumeDiff()

	e.stateMu.Lock()
	e.mapName = mapName
	e.playerID = playerID
	e.stateMu.Unlock()
	e.clock.SetServerTick(serverTick)
	e.clock.Resync()
	e.restores++
	return nil
}

// ProtoTrace returns the messages dispatched during the latest tick.
func (e *Engine) ProtoTrace() (int, []dispatch.TraceEntry) {
	if e == nil {
		return 0, nil
	}
	return e.dispatcher.Trace()
}

// Status summarises the engine for diagnostics. It only reads state that is
// safe to share with other goroutines.
func (e *Engine) Status() map[string]any {
	if e == nil {
		return map[string]any{}
	}
	conn := e.conn.Status()
	demo := e.demo.Status()
	players, actors, sectors := e.arena.Counts()
	usage := e.meter.Snapshot()

	e.stateMu.RLock()
	mapName, playerID, address := e.mapName, e.playerID, e.address
	e.stateMu.RUnlock()

	return map[string]any{
		"state":        conn.State.String(),
		"address":      address,
		"session_id":   conn.SessionID,
		"map":          mapName,
		"player_id":    int64(playerID),
		"world_index":  e.clock.WorldIndex(),
		"server_tick":  e.clock.LastServerTick(),
		"sync_offset":  e.clock.SyncOffset(),
		"interp_delay": e.clock.Delay(),
		"netdemo":      demo.Mode.String(),
		"netdemo_path": demo.Path,
		"players":      players,
		"actors":       actors,
		"sectors":      sectors,
		"bytes_in":     usage[netstats.Inbound].Bytes,
		"bytes_out":    usage[netstats.Outbound].Bytes,
		"rate_in":      usage[netstats.Inbound].BytesPerSecond,
		"rate_out":     usage[netstats.Outbound].BytesPerSecond,
		"dropped_in":   usage[netstats.Inbound].Dropped,
		"dropped_out":  usage[netstats.Outbound].Dropped,
		"overridden":   len(e.settings.Overridden()),
		"denied":       e.meter.Denied(),
	}
}
