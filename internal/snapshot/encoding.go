package snapshot

import "netsync/client/internal/wire"

// EncodeActorFields writes the field mask, the flags and every field present
// in the mask. Fields outside the mask are not transmitted.
func EncodeActorFields(enc *wire.Encoder, s ActorSnapshot) {
	enc.Uvarint(uint64(s.Fields))
	enc.Bool(s.Authoritative)
	enc.Bool(s.Continuous)
	f := s.Fields
	if f&FieldPosX != 0 {
		enc.Varint(int64(s.Pos.X))
	}
	if f&FieldPosY != 0 {
		enc.Varint(int64(s.Pos.Y))
	}
	if f&FieldPosZ != 0 {
		enc.Varint(int64(s.Pos.Z))
	}
	if f&FieldMomX != 0 {
		enc.Varint(int64(s.Mom.X))
	}
	if f&FieldMomY != 0 {
		enc.Varint(int64(s.Mom.Y))
	}
	if f&FieldMomZ != 0 {
		enc.Varint(int64(s.Mom.Z))
	}
	if f&FieldAngle != 0 {
		enc.Uvarint(uint64(s.Angle))
	}
	if f&FieldPitch != 0 {
		enc.Uvarint(uint64(s.Pitch))
	}
	if f&FieldOnGround != 0 {
		enc.Bool(s.OnGround)
	}
	if f&FieldCeilingZ != 0 {
		enc.Varint(int64(s.CeilingZ))
	}
	if f&FieldFloorZ != 0 {
		enc.Varint(int64(s.FloorZ))
	}
	if f&FieldReactionTime != 0 {
		enc.Varint(int64(s.ReactionTime))
	}
	if f&FieldWaterLevel != 0 {
		enc.Varint(int64(s.WaterLevel))
	}
	if f&FieldFlags != 0 {
		enc.Uvarint(uint64(s.Flags))
	}
	if f&FieldFlags2 != 0 {
		enc.Uvarint(uint64(s.Flags2))
	}
	if f&FieldFrame != 0 {
		enc.Varint(int64(s.Frame))
	}
}

// DecodeActorFields reads what EncodeActorFields wrote. Time is left zero.
func DecodeActorFields(dec *wire.Decoder) ActorSnapshot {
	var s ActorSnapshot
	s.Fields = Field(dec.Uint32())
	s.Authoritative = dec.Bool()
	s.Continuous = dec.Bool()
	f := s.Fields
	if f&FieldPosX != 0 {
		s.Pos.X = Fixed(dec.Int32())
	}
	if f&FieldPosY != 0 {
		s.Pos.Y = Fixed(dec.Int32())
	}
	if f&FieldPosZ != 0 {
		s.Pos.Z = Fixed(dec.Int32())
	}
	if f&FieldMomX != 0 {
		s.Mom.X = Fixed(dec.Int32())
	}
	if f&FieldMomY != 0 {
		s.Mom.Y = Fixed(dec.Int32())
	}
	if f&FieldMomZ != 0 {
		s.Mom.Z = Fixed(dec.Int32())
	}
	if f&FieldAngle != 0 {
		s.Angle = Angle(dec.Uint32())
	}
	if f&FieldPitch != 0 {
		s.Pitch = Angle(dec.Uint32())
	}
	if f&FieldOnGround != 0 {
		s.OnGround = dec.Bool()
	}
	if f&FieldCeilingZ != 0 {
		s.CeilingZ = Fixed(dec.Int32())
	}
	if f&FieldFloorZ != 0 {
		s.FloorZ = Fixed(dec.Int32())
	}
	if f&FieldReactionTime != 0 {
		s.ReactionTime = dec.Int32()
	}
	if f&FieldWaterLevel != 0 {
		s.WaterLevel = dec.Int32()
	}
	if f&FieldFlags != 0 {
		s.Flags = dec.Uint32()
	}
	if f&FieldFlags2 != 0 {
		s.Flags2 = dec.Uint32()
	}
	if f&FieldFrame != 0 {
		s.Frame = dec.Int32()
	}
	return s
}

// EncodePlayerFields writes the actor fields followed by the player extras.
func EncodePlayerFields(enc *wire.Encoder, s PlayerSnapshot) {
	EncodeActorFields(enc, s.ActorSnapshot)
	if s.Fields&FieldViewHeight != 0 {
		enc.Varint(int64(s.ViewHeight))
	}
	if s.Fields&FieldDeltaViewHeight != 0 {
		enc.Varint(int64(s.DeltaViewHeight))
	}
	if s.Fields&FieldJumpTime != 0 {
		enc.Varint(int64(s.JumpTime))
	}
}

// DecodePlayerFields reads what EncodePlayerFields wrote. Time is left zero.
func DecodePlayerFields(dec *wire.Decoder) PlayerSnapshot {
	s := PlayerSnapshot{ActorSnapshot: DecodeActorFields(dec)}
	if s.Fields&FieldViewHeight != 0 {
		s.ViewHeight = Fixed(dec.Int32())
	}
	if s.Fields&FieldDeltaViewHeight != 0 {
		s.DeltaViewHeight = Fixed(dec.Int32())
	}
	if s.Fields&FieldJumpTime != 0 {
		s.JumpTime = dec.Int32()
	}
	return s
}

// EncodePlayer writes a complete player snapshot including its tick.
func EncodePlayer(enc *wire.Encoder, s PlayerSnapshot) {
	enc.Varint(int64(s.Time))
	EncodePlayerFields(enc, s)
}

// DecodePlayer reads what EncodePlayer wrote.
func DecodePlayer(dec *wire.Decoder) PlayerSnapshot {
	tick := int(dec.Varint())
	s := DecodePlayerFields(dec)
	s.Time = tick
	return s
}

// EncodeSector writes a complete sector snapshot including its tick.
func EncodeSector(enc *wire.Encoder, s SectorSnapshot) {
	enc.Varint(int64(s.Time))
	EncodeSectorFields(enc, s)
}

// DecodeSector reads what EncodeSector wrote.
func DecodeSector(dec *wire.Decoder) SectorSnapshot {
	tick := int(dec.Varint())
	s := DecodeSectorFields(dec)
	s.Time = tick
	return s
}

// EncodeSectorFields writes the sector planes without the tick.
func EncodeSectorFields(enc *wire.Encoder, s SectorSnapshot) {
	enc.Varint(int64(s.CeilingHeight))
	enc.Varint(int64(s.FloorHeight))
	enc.Varint(int64(s.CeilingSpeed))
	enc.Varint(int64(s.FloorSpeed))
	enc.Varint(int64(s.CeilingDest))
	enc.Varint(int64(s.FloorDest))
	enc.Varint(int64(s.CeilingDir))
	enc.Varint(int64(s.FloorDir))
	enc.Byte(byte(s.CeilingMover))
	enc.Byte(byte(s.FloorMover))
}

// DecodeSectorFields reads what EncodeSectorFields wrote.
func DecodeSectorFields(dec *wire.Decoder) SectorSnapshot {
	return SectorSnapshot{
		CeilingHeight: Fixed(dec.Int32()),
		FloorHeight:   Fixed(dec.Int32()),
		CeilingSpeed:  Fixed(dec.Int32()),
		FloorSpeed:    Fixed(dec.Int32()),
		CeilingDest:   Fixed(dec.Int32()),
		FloorDest:     Fixed(dec.Int32()),
		CeilingDir:    dec.Int32(),
		FloorDir:      dec.Int32(),
		CeilingMover:  MoverType(dec.Byte()),
		FloorMover:    MoverType(dec.Byte()),
	}
}
