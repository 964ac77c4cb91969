package client

import (
	"errors"
	"fmt"
	"sort"

	"netsync/client/internal/connection"
	"netsync/client/internal/dispatch"
	"netsync/client/internal/events"
	"netsync/client/internal/logging"
	"netsync/client/internal/netdemo"
	"netsync/client/internal/protocol"
	"netsync/client/internal/settings"
)

// ErrMissingResources aborts netdemo playback of a map the client cannot load.
var ErrMissingResources = errors.New("client: map resources missing")

// registerHandlers builds the dispatch table. Handlers run with e.mu held.
func (e *Engine) registerHandlers() {
	d := e.dispatcher
	dispatch.Handle(d, func(*protocol.Noop) error { return nil })
	dispatch.Handle(d, e.onDisconnect)
	dispatch.Handle(d, e.onReconnect)
	dispatch.Handle(d, e.onServerAccept)
	dispatch.Handle(d, e.onLoadMap)
	dispatch.Handle(d, e.onServerGametic)
	dispatch.Handle(d, e.onSpawnPlayer)
	dispatch.Handle(d, e.onMovePlayer)
	dispatch.Handle(d, e.onUpdateMobj)
	dispatch.Handle(d, e.onRemoveMobj)
	dispatch.Handle(d, e.onMovingSector)
	dispatch.Handle(d, e.onCVarOverride)
	dispatch.Handle(d, e.onPrint)
	dispatch.Handle(d, e.onFullUpdateDone)
}

func (e *Engine) onDisconnect(msg *protocol.Disconnect) error {
	if e.playingLocked() {
		return nil
	}
	e.conn.Disconnect(connection.ReasonGeneric, msg.Reason)
	return nil
}

func (e *Engine) onReconnect(*protocol.Reconnect) error {
	if e.playingLocked() {
		return nil
	}
	//1.- The next map change starts a new netdemo part; the reconnect itself
	// waits until the packet has been dispatched.
	e.demo.RequestSplit()
	e.reconnectDue = true
	return nil
}

func (e *Engine) onServerAccept(msg *protocol.ServerAccept) error {
	e.stateMu.Lock()
	e.playerID = msg.PlayerID
	e.stateMu.Unlock()
	if e.playingLocked() {
		return nil
	}
	if err := e.conn.Accept(msg.Version, msg.Digest); err != nil {
		if errors.Is(err, connection.ErrNotConnecting) {
			e.log.Debug("ignoring duplicate server accept")
			return nil
		}
		return err
	}
	return nil
}

func (e *Engine) onLoadMap(msg *protocol.LoadMap) error {
	//1.- A map that cannot be loaded defers the session until downloads finish.
	var missing []protocol.Resource
	for _, res := range msg.Resources {
		if !e.resources.Have(res) {
			missing = append(missing, res)
		}
	}
	if len(missing) > 0 {
		if e.playingLocked() {
			return fmt.Errorf("%w: %d for %s", ErrMissingResources, len(missing), msg.MapName)
		}
		for _, res := range missing {
			e.missing[res.Name] = res
			if _, err := e.events.Publish(events.Envelope{Kind: events.KindNeedDownload, Resource: res.Name, Map: msg.MapName}); err != nil {
				e.log.Warn("cannot publish download request", logging.String("resource", res.Name), logging.Error(err))
			}
		}
		e.deferred = true
		e.log.Info("map resources missing", logging.String("map", msg.MapName), logging.Strings("resources", e.missingNames()))
		e.conn.Disconnect(connection.ReasonSilent, "downloading resources for "+msg.MapName)
		return nil
	}

	//2.- The new map starts from empty history.
	if e.demo.Mode() == netdemo.Recording {
		if err := e.demo.MarkMap(e.tick, msg.MapName); err != nil {
			e.log.Warn("cannot mark netdemo map", logging.String("map", msg.MapName), logging.Error(err))
		}
	}
	e.store.Clear()
	e.arena.Reset()
	e.setMap(msg.MapName)
	if _, err := e.events.Publish(events.Envelope{Kind: events.KindMapChange, Map: msg.MapName}); err != nil {
		e.log.Warn("cannot publish map change", logging.Error(err))
	}
	e.log.Info("map loaded", logging.String("map", msg.MapName))
	return nil
}

func (e *Engine) onServerGametic(msg *protocol.ServerGametic) error {
	e.ackTick = e.clock.ObserveGametic(msg.Tic)
	e.ackDue = true
	return nil
}

func (e *Engine) onSpawnPlayer(msg *protocol.SpawnPlayer) error {
	entity := e.arena.SpawnPlayer(msg.PlayerID, msg.Pos, msg.Angle)
	//1.- A spawn breaks continuity, so the old trail is dropped.
	e.store.RemovePlayer(msg.PlayerID)
	state := entity.State
	state.Time = e.clock.LastServerTick()
	state.Continuous = false
	e.store.RecordPlayer(msg.PlayerID, state)
	return nil
}

func (e *Engine) onMovePlayer(msg *protocol.MovePlayer) error {
	if !e.store.RecordPlayer(msg.PlayerID, msg.State) {
		e.log.Debug("stale player update", logging.Uint32("player", msg.PlayerID), logging.Int("update_tick", int(msg.Tick)))
		return nil
	}
	e.arena.ApplyPlayer(msg.PlayerID, msg.State)
	return nil
}

func (e *Engine) onUpdateMobj(msg *protocol.UpdateMobj) error {
	e.arena.ApplyActor(msg.NetID, msg.State, msg.Target, msg.Tracer)
	return nil
}

func (e *Engine) onRemoveMobj(msg *protocol.RemoveMobj) error {
	if !e.arena.RemoveActor(msg.NetID) {
		e.log.Debug("removing unknown actor", logging.Uint32("net_id", msg.NetID))
	}
	return nil
}

func (e *Engine) onMovingSector(msg *protocol.MovingSector) error {
	if !e.store.RecordSector(msg.SectorID, msg.State) {
		e.log.Debug("stale sector update", logging.Uint32("sector", msg.SectorID), logging.Int("update_tick", int(msg.Tick)))
		return nil
	}
	e.arena.ApplySector(msg.SectorID, msg.State)
	return nil
}

func (e *Engine) onCVarOverride(msg *protocol.CVarOverride) error {
	if err := e.settings.Override(msg.Name, msg.Value); err != nil {
		if errors.Is(err, settings.ErrUnknownSetting) {
			e.log.Debug("ignoring unknown server setting", logging.String("name", msg.Name))
			return nil
		}
		return err
	}
	return nil
}

func (e *Engine) onPrint(msg *protocol.Print) error {
	e.log.Info("server message", logging.Int("level", int(msg.Level)), logging.String("text", msg.Text))
	return nil
}

func (e *Engine) onFullUpdateDone(*protocol.FullUpdateDone) error {
	players, actors, sectors := e.arena.Counts()
	e.log.Debug("full update received", logging.Int("players", players), logging.Int("actors", actors), logging.Int("sectors", sectors))
	return nil
}

func (e *Engine) missingNames() []string {
	names := make([]string, 0, len(e.missing))
	for name := range e.missing {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
