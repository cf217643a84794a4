package vm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildDef wraps a flat instruction sequence (each built by mustInst,
// which fails the test on a malformed instruction) into a single-method
// CompiledDef standing in for what the semantic analyzer would otherwise
// hand the interpreter.
func buildDef(name string, instrs ...Instruction) *CompiledDef {
	return &CompiledDef{Name: name, Bytecode: instrs}
}

func mustInst(t *testing.T, code Bytecode, operands ...int32) Instruction {
	t.Helper()
	inst, err := NewInstruction(code, operands...)
	require.NoError(t, err)
	return inst
}

func newTestVM() *VM {
	return NewVM(NewContext(), DefaultConfig(), NewNopLogger(), nil)
}

// i8 add overflow: 100 + 100 overflows a signed 8-bit value and must raise
// a catchable OverflowError rather than silently wrapping.
func TestCheckedAddI8Overflows(t *testing.T) {
	vm := newTestVM()
	def := buildDef("overflow",
		mustInst(t, OpPutI8, 100),
		mustInst(t, OpPutI8, 100),
		mustInst(t, OpAddI8),
		mustInst(t, OpLeave, SizeI64),
	)

	_, err := vm.Run(def)
	require.Error(t, err)
	exc, ok := err.(*Exception)
	require.True(t, ok, "expected an *Exception, got %T: %v", err, err)
	assert.Equal(t, vm.ctx.namedExceptionType(ExcOverflowError), exc.Type)
}

// Wrapping add never raises: math.MaxInt32 + 1 wraps to math.MinInt32.
func TestWrappingAddI32Wraps(t *testing.T) {
	vm := newTestVM()
	def := buildDef("wrap",
		mustInst(t, OpPutI32, 2147483647),
		mustInst(t, OpPutI32, 1),
		mustInst(t, OpAddWrapI32),
		mustInst(t, OpLeave, SizeI64),
	)

	result, err := vm.Run(def)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(result), SizeI32)
	assert.Equal(t, int32(-2147483648), i32FromBytes(result[:SizeI32]))
}

// Checked add within range does not raise and returns the sum.
func TestCheckedAddI32InRange(t *testing.T) {
	vm := newTestVM()
	def := buildDef("add",
		mustInst(t, OpPutI32, 40),
		mustInst(t, OpPutI32, 2),
		mustInst(t, OpAddI32),
		mustInst(t, OpLeave, SizeI64),
	)

	result, err := vm.Run(def)
	require.NoError(t, err)
	assert.Equal(t, int32(42), i32FromBytes(result[:SizeI32]))
}

// cmp_i32 + cmp_lt folds the tri-state comparison into a bool.
func TestCompareAndFoldLessThan(t *testing.T) {
	vm := newTestVM()
	def := buildDef("lt",
		mustInst(t, OpPutI32, 3),
		mustInst(t, OpPutI32, 5),
		mustInst(t, OpCmpI32),
		mustInst(t, OpCmpLt),
		mustInst(t, OpLeave, SizeBool),
	)

	result, err := vm.Run(def)
	require.NoError(t, err)
	assert.Equal(t, byte(1), result[0])
}

// cmp_feq treats NaN as never equal to itself, unlike the tri-state
// int/float comparisons which fold NaN to "greater".
func TestFloatEqualityRejectsNaN(t *testing.T) {
	vm := newTestVM()
	nanBits := uint32(0x7fc00000)
	def := buildDef("nan",
		mustInst(t, OpPutF32, int32(nanBits)),
		mustInst(t, OpF32ToF64),
		mustInst(t, OpPutF32, int32(nanBits)),
		mustInst(t, OpF32ToF64),
		mustInst(t, OpCmpFEq),
		mustInst(t, OpLeave, SizeBool),
	)

	result, err := vm.Run(def)
	require.NoError(t, err)
	assert.Equal(t, byte(0), result[0])
}

// i64 add overflow: the checked sum wraps at the int64 level before the
// narrower-range check ever runs, so detection must come from the
// operand/result sign bits, not from comparing against signedRange(8).
func TestCheckedAddI64Overflows(t *testing.T) {
	vm := newTestVM()
	maxI64 := int64(math.MaxInt64)
	lo := int32(uint32(uint64(maxI64)))
	hi := int32(uint32(uint64(maxI64) >> 32))
	def := buildDef("overflow64",
		mustInst(t, OpPutI64, lo, hi),
		mustInst(t, OpPutI64, 1, 0),
		mustInst(t, OpAddI64),
		mustInst(t, OpLeave, SizeI64),
	)

	_, err := vm.Run(def)
	require.Error(t, err)
	exc, ok := err.(*Exception)
	require.True(t, ok, "expected an *Exception, got %T: %v", err, err)
	assert.Equal(t, vm.ctx.namedExceptionType(ExcOverflowError), exc.Type)
}

// u64 add overflow: math.MaxUint64 + 1 must raise, not silently carry
// out of the 64-bit word.
func TestCheckedAddU64Overflows(t *testing.T) {
	vm := newTestVM()
	def := buildDef("overflowu64",
		mustInst(t, OpPutI64, -1, -1), // bit pattern for math.MaxUint64
		mustInst(t, OpPutI64, 1, 0),
		mustInst(t, OpAddU64),
		mustInst(t, OpLeave, SizeI64),
	)

	_, err := vm.Run(def)
	require.Error(t, err)
	exc, ok := err.(*Exception)
	require.True(t, ok, "expected an *Exception, got %T: %v", err, err)
	assert.Equal(t, vm.ctx.namedExceptionType(ExcOverflowError), exc.Type)
}

// u64 subtraction near the top of the range must not be misread as an
// underflow once the high bit is set (the bug a signed a < b comparison
// would introduce).
func TestCheckedSubU64NoFalsePositive(t *testing.T) {
	vm := newTestVM()
	def := buildDef("subu64",
		mustInst(t, OpPutI64, -1, -1), // math.MaxUint64
		mustInst(t, OpPutI64, 1, 0),
		mustInst(t, OpSubU64),
		mustInst(t, OpLeave, SizeI64),
	)

	result, err := vm.Run(def)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64-1), u64FromBytes(result[:SizeI64]))
}

// sqrt_f64 exercises the libm table.
func TestLibmSqrt(t *testing.T) {
	vm := newTestVM()
	nine := make([]byte, 8)
	putF64(nine, 9.0)
	lo := int32(u32FromBytes(nine[0:4]))
	hi := int32(u32FromBytes(nine[4:8]))

	def := buildDef("sqrt",
		mustInst(t, OpPutF64, lo, hi),
		mustInst(t, OpSqrtF64),
		mustInst(t, OpLeave, SizeI64),
	)
	result, err := vm.Run(def)
	require.NoError(t, err)
	assert.Equal(t, 3.0, f64FromBytes(result[:8]))
}
