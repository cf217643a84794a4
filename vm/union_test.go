package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// put_in_union tags a primitive payload into a union slot, and union_is_a
// checks is_a? against the union's dynamic tag.
func TestUnionIsA(t *testing.T) {
	vm := newTestVM()
	const unionSize = UnionHeaderSize + SizeI32
	const someType TypeId = 7
	const otherType TypeId = 8

	def := buildDef("union_is_a",
		mustInst(t, OpPutI32, 42),
		mustInst(t, OpPutInUnion, int32(someType), SizeI32, unionSize),
		mustInst(t, OpUnionIsA, unionSize, int32(someType)),
		mustInst(t, OpLeave, SizeBool),
	)
	result, err := vm.Run(def)
	require.NoError(t, err)
	assert.Equal(t, byte(1), result[0], "union tagged someType must report is_a? someType")

	def2 := buildDef("union_is_not_a",
		mustInst(t, OpPutI32, 42),
		mustInst(t, OpPutInUnion, int32(someType), SizeI32, unionSize),
		mustInst(t, OpUnionIsA, unionSize, int32(otherType)),
		mustInst(t, OpLeave, SizeBool),
	)
	result2, err := vm.Run(def2)
	require.NoError(t, err)
	assert.Equal(t, byte(0), result2[0], "union tagged someType must not report is_a? otherType")
}

// A null pointer placed into a nilable union slot reports union_to_bool
// false; the union header stays 0 (NullTypeId).
func TestNilablePointerUnion(t *testing.T) {
	vm := newTestVM()
	const unionSize = UnionHeaderSize + SizePointer

	def := buildDef("nilable",
		mustInst(t, OpPushZeros, SizePointer),
		mustInst(t, OpPutNilableTypeInUnion, unionSize),
		mustInst(t, OpUnionToBool, unionSize),
		mustInst(t, OpLeave, SizeBool),
	)
	result, err := vm.Run(def)
	require.NoError(t, err)
	assert.Equal(t, byte(0), result[0], "a nil pointer in a nilable union must be falsy")
}

// A zero-valued non-Bool primitive (Int32(0)) placed into a union must
// still report union_to_bool true: only nil, a false Bool, or a null
// pointer/reference are falsy. This requires union_to_bool to resolve the
// dynamic member's real kind from the type table rather than assuming
// every payload is a pointer.
func TestUnionToBoolZeroPrimitiveIsTruthy(t *testing.T) {
	vm := newTestVM()
	const unionSize = UnionHeaderSize + SizeI32
	const int32Type TypeId = 9

	vm.ctx.Types.Define(&TypeDescriptor{Id: int32Type, Kind: KindPrimitive, Name: "Int32", Size: SizeI32})

	def := buildDef("union_to_bool_zero_primitive",
		mustInst(t, OpPutI32, 0),
		mustInst(t, OpPutInUnion, int32(int32Type), SizeI32, unionSize),
		mustInst(t, OpUnionToBool, unionSize),
		mustInst(t, OpLeave, SizeBool),
	)
	result, err := vm.Run(def)
	require.NoError(t, err)
	assert.Equal(t, byte(1), result[0], "a zero-valued Int32 union member must be truthy")
}

// tuple_indexer_known_index extracts a fixed-offset field from a packed
// tuple without needing a runtime index. put_i64's two operand halves
// pack two adjacent i32 fields with no inter-field padding, standing in
// for the two-element tuple a real compiler would otherwise build in an
// aggregate scratch area before pushing it whole.
func TestTupleIndexerKnownIndex(t *testing.T) {
	vm := newTestVM()
	const tupleSize = SizeI32 + SizeI32

	def := buildDef("tuple_index",
		mustInst(t, OpPutI64, 11, 22),
		mustInst(t, OpTupleIndexerKnownIndex, tupleSize, SizeI32, SizeI32),
		mustInst(t, OpLeave, SizeI64),
	)
	result, err := vm.Run(def)
	require.NoError(t, err)
	assert.Equal(t, int32(22), i32FromBytes(result[:SizeI32]))
}
