// Package client owns every piece of the network sync engine and drives them
// from a single cooperative tick.
package client

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"netsync/client/internal/clock"
	"netsync/client/internal/config"
	"netsync/client/internal/connection"
	"netsync/client/internal/dispatch"
	"netsync/client/internal/events"
	"netsync/client/internal/logging"
	"netsync/client/internal/netdemo"
	"netsync/client/internal/netstats"
	"netsync/client/internal/protocol"
	"netsync/client/internal/settings"
	"netsync/client/internal/snapshot"
	"netsync/client/internal/transport"
	"netsync/client/internal/unlag"
	"netsync/client/internal/wire"
	"netsync/client/internal/world"
)

// Settings the server may override for a session.
const (
	SettingInterpDelay   = "cl_interp"
	SettingInterpolation = "cl_interp_enabled"
	SettingUnlag         = "sv_unlag"
)

// DialFunc opens the transport used for a connection attempt.
type DialFunc func(ctx context.Context, kind, address string, opts transport.Options) (transport.Transport, error)

// Option customises an engine.
type Option func(*Engine)

// WithClock overrides the wall clock used for timeouts and stats.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.now = clock
		}
	}
}

// WithLogger overrides the engine logger.
func WithLogger(logger *logging.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.log = logger
		}
	}
}

// WithResolver overrides server address resolution.
func WithResolver(resolver connection.Resolver) Option {
	return func(e *Engine) {
		if resolver != nil {
			e.resolver = resolver
		}
	}
}

// WithDialer overrides how transports are opened.
func WithDialer(dial DialFunc) Option {
	return func(e *Engine) {
		if dial != nil {
			e.dial = dial
		}
	}
}

// WithResources overrides the check for map resources.
func WithResources(checker ResourceChecker) Option {
	return func(e *Engine) {
		if checker != nil {
			e.resources = checker
		}
	}
}

// Engine is the explicitly owned context of one client. Tick and the control
// methods are serialised; the diagnostics accessors may run concurrently.
type Engine struct {
	cfg       config.Config
	log       *logging.Logger
	now       func() time.Time
	resolver  connection.Resolver
	dial      DialFunc
	resources ResourceChecker

	codec      *wire.Codec
	outCodec   *wire.Codec
	registry   *wire.Registry
	compressor wire.Compressor

	dispatcher *dispatch.Dispatcher
	store      *snapshot.Store
	clock      *clock.Sync
	conn       *connection.Machine
	demo       *netdemo.Session
	arena      *world.Arena
	settings   *settings.Registry
	unlag      *unlag.Compensator
	events     *events.Stream
	meter      *netstats.Meter

	mu        sync.Mutex
	tick      int
	transport transport.Transport
	dialed    string
	outbox    []byte
	outSeq    uint32
	ackDue    bool
	ackTick   int
	missing   map[string]protocol.Resource
	deferred  bool

	reconnectDue bool
	flushEvery   int
	restores     int

	stateMu  sync.RWMutex
	mapName  string
	playerID uint32
	address  string
}

// New wires an engine from configuration. Nothing touches the network until
// Connect is called.
func New(cfg config.Config, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:       cfg,
		log:       logging.L(),
		now:       time.Now,
		dial:      transport.Dial,
		resources: presentResources{},
		missing:   make(map[string]protocol.Resource),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}

	//1.- Codecs and the packet compression envelope.
	e.codec = protocol.NewServerCodec()
	e.outCodec = protocol.NewCodec()
	e.registry = wire.DefaultRegistry()
	compressor, err := e.registry.ByName(cfg.Compression)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	e.compressor = compressor

	//2.- Session state owned by the engine.
	e.store = snapshot.NewStore(cfg.HistorySize)
	e.clock = clock.New(cfg.Sync)
	e.arena = world.NewArena()
	e.events = events.NewStream(events.Config{})
	e.meter = netstats.NewMeter(cfg.OutboundRate, e.now)
	e.flushEvery = max(int(cfg.TickRate), 1)
	e.settings = settings.NewRegistry(map[string]string{
		SettingInterpDelay:   strconv.Itoa(cfg.Sync.Delay),
		SettingInterpolation: strconv.FormatBool(cfg.Sync.Interpolate),
		SettingUnlag:         "true",
	})
	e.settings.Watch(SettingInterpDelay, e.applyInterpDelay)
	e.settings.Watch(SettingInterpolation, e.applyInterpolation)
	e.unlag = unlag.New(e.arena, e.store, cfg.Unlag, e.clock.LastServerTick, unlag.WithLogger(e.log))
	e.demo = netdemo.NewSession(cfg.NetDemo,
		netdemo.WithClock(e.now),
		netdemo.WithLogger(e.log),
		netdemo.WithStateCodec(e),
	)

	//3.- Connection lifecycle and its hooks.
	connOpts := []connection.Option{
		connection.WithClock(e.now),
		connection.WithLogger(e.log),
		connection.WithVersion(protocol.Version),
	}
	if e.resolver != nil {
		connOpts = append(connOpts, connection.WithResolver(e.resolver))
	}
	e.conn = connection.NewMachine(cfg.Connect, connOpts...)
	e.conn.OnAttempt(e.sendHandshake)
	e.conn.OnTransition(e.publishTransition)
	e.conn.OnTeardown(e.teardown)

	//4.- Dispatch table, built once.
	e.dispatcher = dispatch.New(e.codec, dispatch.WithLogger(e.log))
	e.registerHandlers()
	for _, schema := range e.codec.Schemas() {
		if !e.dispatcher.Handles(schema.Type) {
			return nil, fmt.Errorf("client: no handler for %s", schema.Name)
		}
	}
	e.dispatcher.Observe(e.observeMessage)
	return e, nil
}

// Events exposes the notification stream for the game layer.
func (e *Engine) Events() *events.Stream {
	if e == nil {
		return nil
	}
	return e.events
}

// Unlag exposes the lag compensator used for hit checks.
func (e *Engine) Unlag() *unlag.Compensator {
	if e == nil {
		return nil
	}
	return e.unlag
}

// World exposes the entity arena.
func (e *Engine) World() *world.Arena {
	if e == nil {
		return nil
	}
	return e.arena
}

// Settings exposes the session settings.
func (e *Engine) Settings() *settings.Registry {
	if e == nil {
		return nil
	}
	return e.settings
}

// Stats exposes the bandwidth meter.
func (e *Engine) Stats() *netstats.Meter {
	if e == nil {
		return nil
	}
	return e.meter
}

// Connection returns a consistent view of the connection machine.
func (e *Engine) Connection() connection.Status {
	if e == nil {
		return connection.Status{}
	}
	return e.conn.Status()
}

// WorldIndex returns the tick the next Step will render from.
func (e *Engine) WorldIndex() int {
	if e == nil {
		return 0
	}
	return e.clock.WorldIndex()
}

// Tick runs one simulation tick: feed the dispatcher from the network or the
// netdemo, advance the world clock, publish the snapshot and flush outbound
// traffic.
func (e *Engine) Tick(ctx context.Context) clock.Step {
	if e == nil {
		return clock.Step{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tick++

	//1.- Inbound traffic comes from exactly one source.
	if e.playingLocked() {
		e.playbackLocked()
	} else {
		e.conn.Tick(ctx)
		e.drainLocked()
		if e.reconnectDue {
			e.reconnectDue = false
			if err := e.conn.Reconnect(ctx); err != nil {
				e.log.Warn("server requested reconnect failed", logging.Error(err))
			}
		}
	}

	//2.- Advance the world clock once a server tick is known; paused
	// playback holds it still.
	var step clock.Step
	if e.clock.LastServerTick() > 0 && e.demo.Mode() != netdemo.Paused {
		step = e.clock.Step(e.continuous)
		e.store.Prune(step.Render)
		if _, err := e.events.Publish(events.Envelope{Kind: events.KindSnapshotReady, WorldIndex: step.Render}); err != nil {
			e.log.Warn("cannot publish snapshot", logging.Error(err))
		}
		if step.Resynced {
			e.log.Debug("world clock resynced", logging.String("reason", step.Reason), logging.Int("world_index", step.Render))
		}
	}

	//3.- Full snapshots for seeking, then outbound traffic.
	if e.demo.Mode() == netdemo.Recording {
		if err := e.demo.Capture(e.tick); err != nil {
			e.log.Warn("netdemo snapshot failed", logging.Tick(e.tick), logging.Error(err))
		}
		if e.tick%e.flushEvery == 0 {
			if err := e.demo.Flush(); err != nil {
				e.log.Warn("netdemo flush failed", logging.Error(err))
			}
		}
	}
	e.flushLocked()
	return step
}

// continuous probes the local player's history for the clock.
func (e *Engine) continuous(worldIndex int) bool {
	snap, ok := e.store.Player(e.localPlayer()).Get(worldIndex)
	return !ok || snap.Continuous
}

func (e *Engine) playingLocked() bool {
	switch e.demo.Mode() {
	case netdemo.Playing, netdemo.Paused:
		return true
	default:
		return false
	}
}

func (e *Engine) playbackLocked() {
	done, err := e.demo.Tick(func(tick int, raw []byte) error {
		return e.dispatcher.Dispatch(tick, raw)
	})
	if err != nil {
		e.log.Warn("netdemo playback stopped", logging.Error(err))
		return
	}
	if done {
		e.log.Info("netdemo playback finished")
	}
}

// drainLocked handles every datagram queued by the transport reader.
func (e *Engine) drainLocked() {
	for e.transport != nil {
		datagram, ok := e.transport.Poll()
		if !ok {
			return
		}
		e.handlePacketLocked(datagram.Data)
		if e.conn.State() == connection.Disconnected {
			return
		}
	}
}

// handlePacketLocked decodes one datagram. Errors end the session at the
// packet boundary; a truncated datagram is only dropped.
func (e *Engine) handlePacketLocked(data []byte) {
	e.meter.Observe(netstats.Inbound, len(data))
	header, body, err := wire.DecodePacket(data, e.registry)
	if err != nil {
		if errors.Is(err, wire.ErrShortPacket) {
			e.meter.Drop(netstats.Inbound)
			e.log.Debug("dropping runt datagram", logging.Int("size", len(data)))
			return
		}
		e.log.Warn("malformed packet", logging.Uint32("seq", header.Sequence), logging.Error(err))
		e.conn.Disconnect(connection.ReasonProtocol, err.Error())
		return
	}
	e.conn.Heard()
	if err := e.dispatcher.Dispatch(e.tick, body); err != nil {
		var perr *dispatch.ProtocolError
		if errors.As(err, &perr) && perr.Transient() {
			e.meter.Drop(netstats.Inbound)
			e.log.Debug("dropping truncated packet", logging.Uint32("seq", header.Sequence), logging.Error(err))
			return
		}
		e.log.Warn("protocol error", logging.Uint32("seq", header.Sequence), logging.Tick(e.tick), logging.Error(err))
		e.conn.Disconnect(connection.ReasonProtocol, err.Error())
	}
}

func (e *Engine) observeMessage(tick int, msg wire.Message) {
	e.meter.ObserveMessage(e.codec.Name(msg.Type), len(msg.Raw))
	if e.demo.Mode() != netdemo.Recording {
		return
	}
	if err := e.demo.RecordMessage(tick, msg.Raw); err != nil {
		e.log.Warn("netdemo write failed", logging.Tick(tick), logging.Error(err))
	}
}

// queueLocked appends one client message to the next outbound packet.
func (e *Engine) queueLocked(p wire.Payload) error {
	raw, err := e.outCodec.EncodePayload(p)
	if err != nil {
		return err
	}
	e.outbox = append(e.outbox, raw...)
	return nil
}

// flushLocked sends the pending client messages as one packet.
func (e *Engine) flushLocked() {
	if e.transport == nil {
		e.outbox = e.outbox[:0]
		e.ackDue = false
		return
	}
	if e.ackDue && e.conn.State() == connection.Connected {
		if err := e.queueLocked(&protocol.Ack{Tick: int32(e.ackTick)}); err != nil {
			e.log.Warn("cannot encode ack", logging.Error(err))
		}
	}
	e.ackDue = false
	if len(e.outbox) == 0 {
		return
	}
	packet, err := wire.EncodePacket(e.outSeq, e.outbox, e.compressor)
	e.outbox = e.outbox[:0]
	if err != nil {
		e.log.Warn("cannot frame packet", logging.Error(err))
		return
	}
	e.outSeq++
	if !e.meter.Allow(len(packet)) {
		e.meter.Drop(netstats.Outbound)
		return
	}
	if err := e.transport.Send(packet); err != nil {
		e.meter.Drop(netstats.Outbound)
		e.log.Warn("send failed", logging.String("remote", e.transport.Remote()), logging.Error(err))
		return
	}
	e.meter.Observe(netstats.Outbound, len(packet))
}

// sendHandshake runs for every connection attempt: it opens the transport
// when needed and sends the connect request immediately.
func (e *Engine) sendHandshake(ctx context.Context, attempt connection.Attempt) error {
	if e.transport != nil && e.dialed != attempt.Target {
		e.closeTransportLocked()
	}
	if e.transport == nil {
		tr, err := e.dial(ctx, e.cfg.Transport, attempt.Target, transport.Options{Logger: logging.LoggerFromContext(ctx), Clock: e.now})
		if err != nil {
			return fmt.Errorf("dial %s: %w", attempt.Target, err)
		}
		e.transport = tr
		e.dialed = attempt.Target
	}
	if err := e.queueLocked(&protocol.Connect{
		Version:        protocol.Version,
		Session:        attempt.SessionID,
		PasswordDigest: attempt.PasswordDigest,
	}); err != nil {
		return err
	}
	e.flushLocked()
	return nil
}

func (e *Engine) closeTransportLocked() {
	if e.transport == nil {
		return
	}
	if err := e.transport.Close(); err != nil {
		e.log.Debug("transport close", logging.Error(err))
	}
	e.transport = nil
	e.dialed = ""
}

// teardown runs when a connection or an attempt ends. Silent disconnects are
// part of a reconnect, so an active recording survives them.
func (e *Engine) teardown(reason connection.Reason, detail string) {
	if e.transport != nil && reason != connection.ReasonTimeout {
		if err := e.queueLocked(&protocol.ClientDisconnect{}); err == nil {
			e.flushLocked()
		}
	}
	e.closeTransportLocked()
	e.outbox = e.outbox[:0]
	e.ackDue = false

	e.store.Clear()
	e.arena.Reset()
	e.clock.Reset()
	if restored := e.settings.Restore(); restored > 0 {
		e.log.Debug("restored overridden settings", logging.Int("count", restored))
	}
	if reason != connection.ReasonSilent && e.demo.Mode() == netdemo.Recording {
		if err := e.demo.StopRecording(); err != nil {
			e.log.Warn("cannot stop netdemo recording", logging.Error(err))
		}
	}
	e.setMap("")
	e.log.Info("session torn down", logging.String("reason", string(reason)), logging.String("detail", detail))
}

func (e *Engine) publishTransition(from, to connection.Status) {
	if from.State == to.State {
		return
	}
	var envelope events.Envelope
	switch to.State {
	case connection.Connected:
		e.stateMu.Lock()
		e.address = to.Address
		e.stateMu.Unlock()
		envelope = events.Envelope{Kind: events.KindConnected, Address: to.Address}
	case connection.Disconnected:
		e.stateMu.Lock()
		e.address = ""
		e.stateMu.Unlock()
		reason := string(to.Reason)
		if reason == "" {
			reason = string(connection.ReasonGeneric)
		}
		envelope = events.Envelope{Kind: events.KindDisconnected, Reason: reason, Detail: to.Detail}
	default:
		return
	}
	if _, err := e.events.Publish(envelope); err != nil {
		e.log.Warn("cannot publish connection event", logging.String("kind", string(envelope.Kind)), logging.Error(err))
	}
}

func (e *Engine) applyInterpDelay(_ string, value string) {
	delay, err := strconv.Atoi(value)
	if err != nil {
		e.log.Warn("ignoring invalid interpolation delay", logging.String("value", value))
		return
	}
	e.clock.SetDelay(delay)
}

func (e *Engine) applyInterpolation(_ string, value string) {
	enabled, err := strconv.ParseBool(value)
	if err != nil {
		e.log.Warn("ignoring invalid interpolation toggle", logging.String("value", value))
		return
	}
	e.clock.SetInterpolate(enabled)
}

func (e *Engine) localPlayer() uint32 {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.playerID
}

func (e *Engine) setMap(name string) {
	e.stateMu.Lock()
	e.mapName = name
	e.stateMu.Unlock()
}

func (e *Engine) currentMap() string {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.mapName
}
