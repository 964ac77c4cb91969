package client

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"netsync/client/internal/connection"
	"netsync/client/internal/logging"
	"netsync/client/internal/netdemo"
	"netsync/client/internal/protocol"
	"netsync/client/internal/unlag"
)

// ErrPlaybackActive rejects network control while a netdemo is playing.
var ErrPlaybackActive = errors.New("client: netdemo playback active")

// Connect drops any current session or playback and connects to address.
func (e *Engine) Connect(ctx context.Context, address, password string) error {
	if e == nil {
		return errors.New("client: nil engine")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.playingLocked() {
		if err := e.demo.StopPlaying(); err != nil {
			e.log.Warn("cannot stop netdemo playback", logging.Error(err))
		}
		e.resetWorldLocked()
	}
	e.missing = make(map[string]protocol.Resource)
	e.deferred = false
	e.reconnectDue = false
	e.meter.Reset()
	return e.conn.Connect(ctx, address, password)
}

// Reconnect connects again to the last server.
func (e *Engine) Reconnect(ctx context.Context) error {
	if e == nil {
		return errors.New("client: nil engine")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.playingLocked() {
		return ErrPlaybackActive
	}
	return e.conn.Reconnect(ctx)
}

// Disconnect leaves the server at the user's request. It reports whether a
// session was active.
func (e *Engine) Disconnect(detail string) bool {
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deferred = false
	return e.conn.Disconnect(connection.ReasonUser, detail)
}

// ResourceReady reports that a missing map resource is now available. Once
// nothing is missing the deferred reconnect starts.
func (e *Engine) ResourceReady(ctx context.Context, name string) error {
	if e == nil {
		return errors.New("client: nil engine")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.missing[name]; !ok {
		return fmt.Errorf("client: resource %q was not requested", name)
	}
	delete(e.missing, name)
	if len(e.missing) > 0 || !e.deferred {
		return nil
	}
	e.deferred = false
	e.log.Info("resources ready, reconnecting")
	return e.conn.Reconnect(ctx)
}

// RecheckResources asks the resource checker again about every missing
// resource and reports the ones that became available.
func (e *Engine) RecheckResources(ctx context.Context) ([]string, error) {
	if e == nil {
		return nil, errors.New("client: nil engine")
	}
	e.mu.Lock()
	var ready []string
	for _, name := range e.missingNames() {
		if e.resources.Have(e.missing[name]) {
			ready = append(ready, name)
		}
	}
	e.mu.Unlock()
	for _, name := range ready {
		if err := e.ResourceReady(ctx, name); err != nil {
			return ready, err
		}
	}
	return ready, nil
}

// Missing lists the resources still being waited on.
func (e *Engine) Missing() []string {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.missingNames()
}

// DemoPath resolves name inside the netdemo directory, adding the extension
// when it is missing.
func (e *Engine) DemoPath(name string) string {
	path := name
	if !filepath.IsAbs(path) && filepath.Dir(path) == "." && e.cfg.NetDemo.Dir != "" {
		path = filepath.Join(e.cfg.NetDemo.Dir, path)
	}
	if !strings.EqualFold(filepath.Ext(path), netdemo.Extension) {
		path += netdemo.Extension
	}
	return path
}

// StartRecording starts a netdemo. When a map is already loaded the recording
// opens with its marker and a full snapshot.
func (e *Engine) StartRecording(name string) error {
	if e == nil {
		return errors.New("client: nil engine")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.playingLocked() {
		return ErrPlaybackActive
	}
	if err := e.demo.StartRecording(e.DemoPath(name)); err != nil {
		return err
	}
	if current := e.currentMap(); current != "" {
		if err := e.demo.MarkMap(e.tick, current); err != nil {
			e.log.Warn("cannot mark netdemo map", logging.String("map", current), logging.Error(err))
		}
		if err := e.demo.Capture(e.tick); err != nil {
			e.log.Warn("netdemo snapshot failed", logging.Error(err))
		}
	}
	return nil
}

// StopRecording closes the active netdemo and returns every file written.
func (e *Engine) StopRecording() ([]string, error) {
	if e == nil {
		return nil, errors.New("client: nil engine")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.demo.StopRecording(); err != nil {
		return nil, err
	}
	return e.demo.Written(), nil
}

// StartPlaying leaves the server and plays the named netdemo.
func (e *Engine) StartPlaying(name string) error {
	if e == nil {
		return errors.New("client: nil engine")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.conn.Disconnect(connection.ReasonSilent, "starting netdemo playback")
	if e.demo.Mode() == netdemo.Recording {
		if err := e.demo.StopRecording(); err != nil {
			e.log.Warn("cannot stop netdemo recording", logging.Error(err))
		}
	}
	e.resetWorldLocked()
	if err := e.demo.StartPlaying(e.DemoPath(name)); err != nil {
		return err
	}
	//1.- A recording that opens with a snapshot starts from that state.
	status := e.demo.Status()
	if len(status.Index.Snapshots) > 0 && status.Index.Snapshots[0].Tick == status.Tick {
		if err := e.demo.NextSnapshot(); err != nil {
			e.log.Warn("cannot restore opening snapshot", logging.Error(err))
		}
	}
	return nil
}

// StopPlaying ends playback.
func (e *Engine) StopPlaying() error {
	if e == nil {
		return errors.New("client: nil engine")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.demo.StopPlaying(); err != nil {
		return err
	}
	e.resetWorldLocked()
	return nil
}

// Pause suspends playback.
func (e *Engine) Pause() error {
	if e == nil {
		return errors.New("client: nil engine")
	}
	return e.demo.Pause()
}

// Resume continues paused playback.
func (e *Engine) Resume() error {
	if e == nil {
		return errors.New("client: nil engine")
	}
	return e.demo.Resume()
}

// SeekNextMap jumps playback to the next map marker.
func (e *Engine) SeekNextMap() error { return e.seekMap((*netdemo.Session).NextMap) }

// SeekPrevMap jumps playback to the previous map marker.
func (e *Engine) SeekPrevMap() error { return e.seekMap((*netdemo.Session).PrevMap) }

// SeekNextSnapshot restores the next full snapshot.
func (e *Engine) SeekNextSnapshot() error { return e.seek((*netdemo.Session).NextSnapshot) }

// SeekPrevSnapshot restores an earlier full snapshot.
func (e *Engine) SeekPrevSnapshot() error { return e.seek((*netdemo.Session).PrevSnapshot) }

func (e *Engine) seek(move func(*netdemo.Session) error) error {
	if e == nil {
		return errors.New("client: nil engine")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return move(e.demo)
}

// seekMap moves playback to another map. The map's opening snapshot realigns
// the clock; without one the clock restarts from the replayed load.
func (e *Engine) seekMap(move func(*netdemo.Session) error) error {
	if e == nil {
		return errors.New("client: nil engine")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	restores := e.restores
	if err := move(e.demo); err != nil {
		return err
	}
	if e.restores == restores {
		e.store.Clear()
		e.arena.Reset()
		e.clock.Reset()
	}
	return nil
}

// Unlagged runs fn with every other player rewound to what actor saw. With
// lag compensation disabled by the server fn runs against the live world and
// receives a nil scope.
func (e *Engine) Unlagged(actor uint32, fn func(*unlag.Scope) error) error {
	if e == nil {
		return errors.New("client: nil engine")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.settings.Bool(SettingUnlag, true) {
		return fn(nil)
	}
	return e.unlag.Do(actor, e.clock.WorldIndex(), fn)
}

// Close stops any netdemo activity and leaves the server.
func (e *Engine) Close() error {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.conn.Disconnect(connection.ReasonUser, "client shutting down")
	if err := e.demo.Stop(); err != nil && !errors.Is(err, netdemo.ErrNotRecording) && !errors.Is(err, netdemo.ErrNotPlaying) {
		return err
	}
	e.closeTransportLocked()
	return nil
}

func (e *Engine) resetWorldLocked() {
	e.store.Clear()
	e.arena.Reset()
	e.clock.Reset()
	e.setMap("")
	e.stateMu.Lock()
	e.playerID = 0
	e.stateMu.Unlock()
}
