package snapshot

import "fmt"

// FracBits is the number of fractional bits in a Fixed value.
const FracBits = 16

// FracUnit is the Fixed representation of 1.0.
const FracUnit Fixed = 1 << FracBits

// Fixed is a 16.16 fixed-point world coordinate.
type Fixed int32

// FromInt converts a whole number of map units into Fixed.
func FromInt(v int) Fixed { return Fixed(v << FracBits) }

// Int truncates towards negative infinity to whole map units.
func (f Fixed) Int() int { return int(f >> FracBits) }

func (f Fixed) String() string {
	return fmt.Sprintf("%.4f", float64(f)/float64(FracUnit))
}

// Lerp moves from a towards b by num/den using integer arithmetic only.
func Lerp(a, b Fixed, num, den int) Fixed {
	if den == 0 {
		return b
	}
	return a + Fixed(int64(b-a)*int64(num)/int64(den))
}

// Vec3 is a Fixed position or momentum.
type Vec3 struct {
	X, Y, Z Fixed
}

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z} }

// Lerp interpolates each axis between v and o.
func (v Vec3) Lerp(o Vec3, num, den int) Vec3 {
	return Vec3{X: Lerp(v.X, o.X, num, den), Y: Lerp(v.Y, o.Y, num, den), Z: Lerp(v.Z, o.Z, num, den)}
}

// Angle is a binary angle where the full circle wraps at 2^32.
type Angle uint32

// Field flags which parts of an actor or player update carry data.
type Field uint32

const (
	FieldPosX Field = 1 << iota
	FieldPosY
	FieldPosZ
	FieldMomX
	FieldMomY
	FieldMomZ
	FieldAngle
	FieldPitch
	FieldOnGround
	FieldCeilingZ
	FieldFloorZ
	FieldReactionTime
	FieldWaterLevel
	FieldFlags
	FieldFlags2
	FieldFrame
	FieldViewHeight
	FieldDeltaViewHeight
	FieldJumpTime
)

const (
	// FieldPosition groups the three position axes.
	FieldPosition = FieldPosX | FieldPosY | FieldPosZ
	// FieldMomentum groups the three momentum axes.
	FieldMomentum = FieldMomX | FieldMomY | FieldMomZ
	// AllActorFields covers every actor field.
	AllActorFields = FieldPosition | FieldMomentum | FieldAngle | FieldPitch | FieldOnGround |
		FieldCeilingZ | FieldFloorZ | FieldReactionTime | FieldWaterLevel | FieldFlags | FieldFlags2 | FieldFrame
	// AllPlayerFields covers every actor and player field.
	AllPlayerFields = AllActorFields | FieldViewHeight | FieldDeltaViewHeight | FieldJumpTime
)

// ActorSnapshot is the authoritative state of one actor at one server tick.
// Continuous is false for the first snapshot after a teleport or respawn.
type ActorSnapshot struct {
	Time          int
	Fields        Field
	Authoritative bool
	Continuous    bool

	Pos          Vec3
	Mom          Vec3
	Angle        Angle
	Pitch        Angle
	OnGround     bool
	CeilingZ     Fixed
	FloorZ       Fixed
	ReactionTime int32
	WaterLevel   int32
	Flags        uint32
	Flags2       uint32
	Frame        int32
}

// Tick returns the server tick the snapshot describes.
func (s ActorSnapshot) Tick() int { return s.Time }

// Has reports whether every bit in f is present.
func (s ActorSnapshot) Has(f Field) bool { return s.Fields&f == f }

// Overlay copies the fields present in update onto s. Time, continuity and
// authority come from the update.
func (s ActorSnapshot) Overlay(update ActorSnapshot) ActorSnapshot {
	out := s
	out.Time = update.Time
	out.Continuous = update.Continuous
	out.Authoritative = update.Authoritative
	out.Fields |= update.Fields & AllActorFields
	if update.Fields&FieldPosX != 0 {
		out.Pos.X = update.Pos.X
	}
	if update.Fields&FieldPosY != 0 {
		out.Pos.Y = update.Pos.Y
	}
	if update.Fields&FieldPosZ != 0 {
		out.Pos.Z = update.Pos.Z
	}
	if update.Fields&FieldMomX != 0 {
		out.Mom.X = update.Mom.X
	}
	if update.Fields&FieldMomY != 0 {
		out.Mom.Y = update.Mom.Y
	}
	if update.Fields&FieldMomZ != 0 {
		out.Mom.Z = update.Mom.Z
	}
	if update.Fields&FieldAngle != 0 {
		out.Angle = update.Angle
	}
	if update.Fields&FieldPitch != 0 {
		out.Pitch = update.Pitch
	}
	if update.Fields&FieldOnGround != 0 {
		out.OnGround = update.OnGround
	}
	if update.Fields&FieldCeilingZ != 0 {
		out.CeilingZ = update.CeilingZ
	}
	if update.Fields&FieldFloorZ != 0 {
		out.FloorZ = update.FloorZ
	}
	if update.Fields&FieldReactionTime != 0 {
		out.ReactionTime = update.ReactionTime
	}
	if update.Fields&FieldWaterLevel != 0 {
		out.WaterLevel = update.WaterLevel
	}
	if update.Fields&FieldFlags != 0 {
		out.Flags = update.Flags
	}
	if update.Fields&FieldFlags2 != 0 {
		out.Flags2 = update.Flags2
	}
	if update.Fields&FieldFrame != 0 {
		out.Frame = update.Frame
	}
	return out
}

// PlayerSnapshot extends an actor snapshot with player view state.
type PlayerSnapshot struct {
	ActorSnapshot
	ViewHeight      Fixed
	DeltaViewHeight Fixed
	JumpTime        int32
}

// Overlay copies the fields present in update onto s.
func (s PlayerSnapshot) Overlay(update PlayerSnapshot) PlayerSnapshot {
	out := s
	out.ActorSnapshot = s.ActorSnapshot.Overlay(update.ActorSnapshot)
	out.Fields |= update.Fields & (FieldViewHeight | FieldDeltaViewHeight | FieldJumpTime)
	if update.Fields&FieldViewHeight != 0 {
		out.ViewHeight = update.ViewHeight
	}
	if update.Fields&FieldDeltaViewHeight != 0 {
		out.DeltaViewHeight = update.DeltaViewHeight
	}
	if update.Fields&FieldJumpTime != 0 {
		out.JumpTime = update.JumpTime
	}
	return out
}

// MoverType identifies the thinker driving a sector plane.
type MoverType uint8

const (
	MoverNone MoverType = iota
	MoverFloor
	MoverPlat
	MoverCeiling
	MoverDoor
	MoverElevator
	MoverPillar
)

// SectorSnapshot is the authoritative state of one moving sector at one tick.
type SectorSnapshot struct {
	Time int

	CeilingHeight Fixed
	FloorHeight   Fixed
	CeilingSpeed  Fixed
	FloorSpeed    Fixed
	CeilingDest   Fixed
	FloorDest     Fixed
	CeilingDir    int32
	FloorDir      int32
	CeilingMover  MoverType
	FloorMover    MoverType
}

// Tick returns the server tick the snapshot describes.
func (s SectorSnapshot) Tick() int { return s.Time }

// Moving reports whether either plane still has an active mover.
func (s SectorSnapshot) Moving() bool {
	return s.CeilingMover != MoverNone || s.FloorMover != MoverNone
}
