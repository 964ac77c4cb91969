package protocol

import (
	"netsync/client/internal/snapshot"
	"netsync/client/internal/wire"
)

// Version is the protocol revision exchanged during the handshake.
const Version = 65

// Server to client message tags.
const (
	SvcNoop           wire.Type = 1
	SvcDisconnect     wire.Type = 2
	SvcReconnect      wire.Type = 3
	SvcServerAccept   wire.Type = 4
	SvcLoadMap        wire.Type = 5
	SvcServerGametic  wire.Type = 6
	SvcSpawnPlayer    wire.Type = 7
	SvcMovePlayer     wire.Type = 8
	SvcUpdateMobj     wire.Type = 9
	SvcRemoveMobj     wire.Type = 10
	SvcMovingSector   wire.Type = 11
	SvcCVarOverride   wire.Type = 12
	SvcPrint          wire.Type = 13
	SvcFullUpdateDone wire.Type = 14
)

// Client to server message tags.
const (
	ClcConnect    wire.Type = 101
	ClcDisconnect wire.Type = 102
	ClcAck        wire.Type = 103
)

// ServerSchemas lists every message the client accepts from a server.
func ServerSchemas() []wire.Schema {
	return []wire.Schema{
		{Type: SvcNoop, Name: "svc_noop"},
		{Type: SvcDisconnect, Name: "svc_disconnect"},
		{Type: SvcReconnect, Name: "svc_reconnect"},
		{Type: SvcServerAccept, Name: "svc_serveraccept"},
		{Type: SvcLoadMap, Name: "svc_loadmap"},
		{Type: SvcServerGametic, Name: "svc_servergametic"},
		{Type: SvcSpawnPlayer, Name: "svc_spawnplayer"},
		{Type: SvcMovePlayer, Name: "svc_moveplayer"},
		{Type: SvcUpdateMobj, Name: "svc_updatemobj"},
		{Type: SvcRemoveMobj, Name: "svc_removemobj"},
		{Type: SvcMovingSector, Name: "svc_movingsector"},
		{Type: SvcCVarOverride, Name: "svc_cvaroverride"},
		{Type: SvcPrint, Name: "svc_print"},
		{Type: SvcFullUpdateDone, Name: "svc_fullupdatedone"},
	}
}

// ClientSchemas lists every message the client sends.
func ClientSchemas() []wire.Schema {
	return []wire.Schema{
		{Type: ClcConnect, Name: "clc_connect"},
		{Type: ClcDisconnect, Name: "clc_disconnect"},
		{Type: ClcAck, Name: "clc_ack"},
	}
}

// NewServerCodec builds the codec used on inbound traffic and netdemos.
func NewServerCodec() *wire.Codec { return wire.NewCodec(ServerSchemas()...) }

// NewCodec builds a codec that knows both directions.
func NewCodec() *wire.Codec {
	return wire.NewCodec(append(ServerSchemas(), ClientSchemas()...)...)
}

// Noop keeps an idle connection alive.
type Noop struct{}

func (*Noop) Type() wire.Type                      { return SvcNoop }
func (*Noop) MarshalWire(*wire.Encoder)            {}
func (*Noop) UnmarshalWire(dec *wire.Decoder) error { return dec.Err() }

// Disconnect tells the client the server dropped it.
type Disconnect struct {
	Reason string
}

func (*Disconnect) Type() wire.Type { return SvcDisconnect }

func (m *Disconnect) MarshalWire(enc *wire.Encoder) { enc.String(m.Reason) }

func (m *Disconnect) UnmarshalWire(dec *wire.Decoder) error {
	m.Reason = dec.String()
	return dec.Err()
}

// Reconnect asks the client to reconnect to the same server.
type Reconnect struct{}

func (*Reconnect) Type() wire.Type                      { return SvcReconnect }
func (*Reconnect) MarshalWire(*wire.Encoder)            {}
func (*Reconnect) UnmarshalWire(dec *wire.Decoder) error { return dec.Err() }

// ServerAccept completes the handshake.
type ServerAccept struct {
	Version  uint32
	PlayerID uint32
	Digest   string
}

func (*ServerAccept) Type() wire.Type { return SvcServerAccept }

func (m *ServerAccept) MarshalWire(enc *wire.Encoder) {
	enc.Uvarint(uint64(m.Version))
	enc.Uvarint(uint64(m.PlayerID))
	enc.String(m.Digest)
}

func (m *ServerAccept) UnmarshalWire(dec *wire.Decoder) error {
	m.Version = dec.Uint32()
	m.PlayerID = dec.Uint32()
	m.Digest = dec.String()
	return dec.Err()
}

// Resource names a file the map requires, with its content hash.
type Resource struct {
	Name string
	Hash string
}

// LoadMap switches the client to a new map.
type LoadMap struct {
	MapName   string
	Resources []Resource
}

func (*LoadMap) Type() wire.Type { return SvcLoadMap }

func (m *LoadMap) MarshalWire(enc *wire.Encoder) {
	enc.String(m.MapName)
	enc.Uvarint(uint64(len(m.Resources)))
	for _, res := range m.Resources {
		enc.String(res.Name)
		enc.String(res.Hash)
	}
}

// maxResources bounds the resource list so a hostile count cannot force a large allocation.
const maxResources = 256

func (m *LoadMap) UnmarshalWire(dec *wire.Decoder) error {
	m.MapName = dec.String()
	count := dec.Uvarint()
	if count > maxResources {
		return errTooMany("resources", count)
	}
	m.Resources = make([]Resource, 0, count)
	for i := uint64(0); i < count && dec.Err() == nil; i++ {
		m.Resources = append(m.Resources, Resource{Name: dec.String(), Hash: dec.String()})
	}
	return dec.Err()
}

// ServerGametic carries the low byte of the server tick.
type ServerGametic struct {
	Tic byte
}

func (*ServerGametic) Type() wire.Type                 { return SvcServerGametic }
func (m *ServerGametic) MarshalWire(enc *wire.Encoder) { enc.Byte(m.Tic) }

func (m *ServerGametic) UnmarshalWire(dec *wire.Decoder) error {
	m.Tic = dec.Byte()
	return dec.Err()
}

// SpawnPlayer places a player actor in the world.
type SpawnPlayer struct {
	PlayerID uint32
	Pos      snapshot.Vec3
	Angle    snapshot.Angle
}

func (*SpawnPlayer) Type() wire.Type { return SvcSpawnPlayer }

func (m *SpawnPlayer) MarshalWire(enc *wire.Encoder) {
	enc.Uvarint(uint64(m.PlayerID))
	encodeVec(enc, m.Pos)
	enc.Uvarint(uint64(m.Angle))
}

func (m *SpawnPlayer) UnmarshalWire(dec *wire.Decoder) error {
	m.PlayerID = dec.Uint32()
	m.Pos = decodeVec(dec)
	m.Angle = snapshot.Angle(dec.Uint32())
	return dec.Err()
}

// MovePlayer is an authoritative, possibly sparse, player update.
type MovePlayer struct {
	PlayerID uint32
	Tick     int32
	State    snapshot.PlayerSnapshot
}

func (*MovePlayer) Type() wire.Type { return SvcMovePlayer }

func (m *MovePlayer) MarshalWire(enc *wire.Encoder) {
	enc.Uvarint(uint64(m.PlayerID))
	enc.Varint(int64(m.Tick))
	snapshot.EncodePlayerFields(enc, m.State)
}

func (m *MovePlayer) UnmarshalWire(dec *wire.Decoder) error {
	m.PlayerID = dec.Uint32()
	m.Tick = dec.Int32()
	m.State = snapshot.DecodePlayerFields(dec)
	m.State.Time = int(m.Tick)
	return dec.Err()
}

// UpdateMobj is an authoritative update for a non-player actor. Target and
// Tracer are network ids resolved through the world arena.
type UpdateMobj struct {
	NetID  uint32
	Tick   int32
	State  snapshot.ActorSnapshot
	Target uint32
	Tracer uint32
}

func (*UpdateMobj) Type() wire.Type { return SvcUpdateMobj }

func (m *UpdateMobj) MarshalWire(enc *wire.Encoder) {
	enc.Uvarint(uint64(m.NetID))
	enc.Varint(int64(m.Tick))
	snapshot.EncodeActorFields(enc, m.State)
	enc.Uvarint(uint64(m.Target))
	enc.Uvarint(uint64(m.Tracer))
}

func (m *UpdateMobj) UnmarshalWire(dec *wire.Decoder) error {
	m.NetID = dec.Uint32()
	m.Tick = dec.Int32()
	m.State = snapshot.DecodeActorFields(dec)
	m.State.Time = int(m.Tick)
	m.Target = dec.Uint32()
	m.Tracer = dec.Uint32()
	return dec.Err()
}

// RemoveMobj destroys an actor.
type RemoveMobj struct {
	NetID uint32
}

func (*RemoveMobj) Type() wire.Type                 { return SvcRemoveMobj }
func (m *RemoveMobj) MarshalWire(enc *wire.Encoder) { enc.Uvarint(uint64(m.NetID)) }

func (m *RemoveMobj) UnmarshalWire(dec *wire.Decoder) error {
	m.NetID = dec.Uint32()
	return dec.Err()
}

// MovingSector is the authoritative state of a moving floor or ceiling.
type MovingSector struct {
	SectorID uint32
	Tick     int32
	State    snapshot.SectorSnapshot
}

func (*MovingSector) Type() wire.Type { return SvcMovingSector }

func (m *MovingSector) MarshalWire(enc *wire.Encoder) {
	enc.Uvarint(uint64(m.SectorID))
	enc.Varint(int64(m.Tick))
	snapshot.EncodeSectorFields(enc, m.State)
}

func (m *MovingSector) UnmarshalWire(dec *wire.Decoder) error {
	m.SectorID = dec.Uint32()
	m.Tick = dec.Int32()
	m.State = snapshot.DecodeSectorFields(dec)
	m.State.Time = int(m.Tick)
	return dec.Err()
}

// CVarOverride applies a server-controlled setting for this session.
type CVarOverride struct {
	Name  string
	Value string
}

func (*CVarOverride) Type() wire.Type { return SvcCVarOverride }

func (m *CVarOverride) MarshalWire(enc *wire.Encoder) {
	enc.String(m.Name)
	enc.String(m.Value)
}

func (m *CVarOverride) UnmarshalWire(dec *wire.Decoder) error {
	m.Name = dec.String()
	m.Value = dec.String()
	return dec.Err()
}

// Print carries a console message.
type Print struct {
	Level byte
	Text  string
}

func (*Print) Type() wire.Type { return SvcPrint }

func (m *Print) MarshalWire(enc *wire.Encoder) {
	enc.Byte(m.Level)
	enc.String(m.Text)
}

func (m *Print) UnmarshalWire(dec *wire.Decoder) error {
	m.Level = dec.Byte()
	m.Text = dec.String()
	return dec.Err()
}

// FullUpdateDone marks the end of the initial world transfer.
type FullUpdateDone struct{}

func (*FullUpdateDone) Type() wire.Type                      { return SvcFullUpdateDone }
func (*FullUpdateDone) MarshalWire(*wire.Encoder)            {}
func (*FullUpdateDone) UnmarshalWire(dec *wire.Decoder) error { return dec.Err() }

func encodeVec(enc *wire.Encoder, v snapshot.Vec3) {
	enc.Varint(int64(v.X))
	enc.Varint(int64(v.Y))
	enc.Varint(int64(v.Z))
}

func decodeVec(dec *wire.Decoder) snapshot.Vec3 {
	return snapshot.Vec3{X: snapshot.Fixed(dec.Int32()), Y: snapshot.Fixed(dec.Int32()), Z: snapshot.Fixed(dec.Int32())}
}
