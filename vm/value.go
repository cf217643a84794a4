package vm

import (
	"encoding/binary"
	"math"
)

// This file generalizes the teacher's hand-rolled uint32FromBytes/
// uint32ToBytes/float32FromBytes helpers (originally 32-bit only, used to
// move register values in and out of byte slices) to the full primitive
// width set, and adds the union/heap-cell layout helpers the data
// model requires.

func u8FromBytes(b []byte) uint8   { return b[0] }
func u16FromBytes(b []byte) uint16 { return binary.LittleEndian.Uint16(b) }
func u32FromBytes(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }
func u64FromBytes(b []byte) uint64 { return binary.LittleEndian.Uint64(b) }

func i8FromBytes(b []byte) int8   { return int8(b[0]) }
func i16FromBytes(b []byte) int16 { return int16(u16FromBytes(b)) }
func i32FromBytes(b []byte) int32 { return int32(u32FromBytes(b)) }
func i64FromBytes(b []byte) int64 { return int64(u64FromBytes(b)) }

func f32FromBytes(b []byte) float32 { return math.Float32frombits(u32FromBytes(b)) }
func f64FromBytes(b []byte) float64 { return math.Float64frombits(u64FromBytes(b)) }

func putU8(b []byte, v uint8)   { b[0] = v }
func putU16(b []byte, v uint16) { binary.LittleEndian.PutUint16(b, v) }
func putU32(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }
func putU64(b []byte, v uint64) { binary.LittleEndian.PutUint64(b, v) }

func putI8(b []byte, v int8)   { putU8(b, uint8(v)) }
func putI16(b []byte, v int16) { putU16(b, uint16(v)) }
func putI32(b []byte, v int32) { putU32(b, uint32(v)) }
func putI64(b []byte, v int64) { putU64(b, uint64(v)) }

func putF32(b []byte, v float32) { putU32(b, math.Float32bits(v)) }
func putF64(b []byte, v float64) { putU64(b, math.Float64bits(v)) }

// typeIdAt reads a TypeId (uint32, little-endian) from the head of b.
func typeIdAt(b []byte) TypeId {
	return TypeId(u32FromBytes(b))
}

func putTypeIdAt(b []byte, id TypeId) {
	putU32(b, uint32(id))
}

// unionHeaderAt reads the widened 8-byte TypeId header of a union value
// sitting at the start of b. Only the low 4 bytes are meaningful; the
// remaining 4 are alignment padding and must stay zero.
func unionHeaderAt(b []byte) TypeId {
	return TypeId(u64FromBytes(b))
}

func putUnionHeaderAt(b []byte, id TypeId) {
	putU64(b, uint64(id))
}

// putInUnion implements put_in_union(type_id, from, union_size): grows
// the operand stack top to union_size bytes, shifts the existing "from"
// bytes up by the 8-byte header width, zero-fills the rest, and writes
// the type id. dst must already be union_size bytes; src is the from-byte
// payload read before the grow.
func putInUnion(dst []byte, id TypeId, src []byte, unionSize int) {
	for i := range dst {
		dst[i] = 0
	}
	putUnionHeaderAt(dst, id)
	copy(dst[UnionHeaderSize:], src)
}

// putNilableTypeInUnion implements put_nilable_type_in_union(union_size):
// a null pointer becomes an all-zero union payload (header 0); a non-null
// pointer's TypeId (read from the heap cell it points at) and the pointer
// itself are written into the union.
func putNilableTypeInUnion(dst []byte, ptr []byte, heapTypeId TypeId, unionSize int) {
	for i := range dst {
		dst[i] = 0
	}
	if isNullPointer(ptr) {
		return
	}
	putUnionHeaderAt(dst, heapTypeId)
	copy(dst[UnionHeaderSize:UnionHeaderSize+SizePointer], ptr)
}

// removeFromUnion implements remove_from_union(union_size, from): strips
// the 8-byte header and returns the trailing from-sized payload.
func removeFromUnion(src []byte, from int) []byte {
	return src[UnionHeaderSize : UnionHeaderSize+from]
}

// unionToBool implements union_to_bool(union_size): nil (header 0), a
// false Bool payload, or a null pointer/reference payload are all falsy;
// everything else — including a zero-valued numeric primitive like
// Int32(0) — is truthy. desc is the dynamic member's descriptor (nil if
// the type table has nothing registered for the header, which is only
// ever truthy since it's neither nil nor a known nilable kind).
func unionToBool(u []byte, desc *TypeDescriptor) bool {
	header := unionHeaderAt(u)
	if header == NullTypeId {
		return false
	}
	if desc == nil {
		return true
	}
	payload := u[UnionHeaderSize:]
	switch desc.Kind {
	case KindPointer, KindReference:
		return !isNullPointer(payload[:SizePointer])
	case KindPrimitive:
		if desc.Name != "Bool" {
			return true
		}
		for _, b := range payload {
			if b != 0 {
				return true
			}
		}
		return false
	default:
		return true
	}
}

func isNullPointer(p []byte) bool {
	for _, b := range p {
		if b != 0 {
			return false
		}
	}
	return true
}

// heapTypeIdAt reads the 4-byte TypeId header of a heap cell. A nil slice
// (representing the null reference) reads as 0: "the null
// reference is a null pointer; dereferencing it for a TypeId yields 0."
func heapTypeIdAt(cell []byte) TypeId {
	if cell == nil {
		return NullTypeId
	}
	return typeIdAt(cell)
}

// signExtend widens an N-byte two's-complement integer to the full stack
// word, replicating the sign bit into the new high bytes.
func signExtend(v []byte, n int) int64 {
	if n <= 0 || n > 8 {
		return 0
	}
	var x int64
	switch n {
	case 1:
		x = int64(i8FromBytes(v))
	case 2:
		x = int64(i16FromBytes(v))
	case 4:
		x = int64(i32FromBytes(v))
	case 8:
		x = i64FromBytes(v)
	default:
		// Non-power-of-two widths: sign-extend manually from bit n*8-1.
		var u uint64
		for i := n - 1; i >= 0; i-- {
			u = (u << 8) | uint64(v[i])
		}
		shift := uint(64 - n*8)
		x = int64(u<<shift) >> shift
	}
	return x
}

// zeroExtend widens an N-byte unsigned integer to the full stack word.
func zeroExtend(v []byte, n int) uint64 {
	if n <= 0 || n > 8 {
		return 0
	}
	switch n {
	case 1:
		return uint64(u8FromBytes(v))
	case 2:
		return uint64(u16FromBytes(v))
	case 4:
		return uint64(u32FromBytes(v))
	case 8:
		return u64FromBytes(v)
	default:
		var u uint64
		for i := n - 1; i >= 0; i-- {
			u = (u << 8) | uint64(v[i])
		}
		return u
	}
}
