package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A raise caught by an enclosing handler interval truncates the stack to
// the frame's entry depth and jumps to the handler's target instead of
// propagating out of Run.
func TestRaiseCaughtByHandlerInterval(t *testing.T) {
	vm := newTestVM()
	const excType TypeId = 42

	def := buildDef("catch",
		mustInst(t, OpPutI64, 0, 0),
		mustInst(t, OpRaiseWithoutBacktrace, int32(excType)),
		mustInst(t, OpPutI8, 1),
		mustInst(t, OpLeave, SizeBool),
	)
	def.Handlers = []HandlerInterval{
		{Lo: 0, Hi: 4, Target: 2, Catches: []TypeId{excType}},
	}

	result, err := vm.Run(def)
	require.NoError(t, err)
	assert.Equal(t, byte(1), result[0], "handler target should have run and left a marker byte")
}

// A raise with no covering handler interval propagates out of Run as the
// *Exception itself.
func TestRaiseUncaughtPropagates(t *testing.T) {
	vm := newTestVM()
	const excType TypeId = 42

	def := buildDef("uncaught",
		mustInst(t, OpPutI64, 0, 0),
		mustInst(t, OpRaiseWithoutBacktrace, int32(excType)),
		mustInst(t, OpLeave, SizeBool),
	)

	_, err := vm.Run(def)
	require.Error(t, err)
	_, ok := err.(*Exception)
	assert.True(t, ok, "expected an *Exception, got %T", err)
}

// pointer_malloc/pointer_set/pointer_get round-trip a value through the
// heap, addressed via a local slot the way a compiled method would stash
// a pointer between operations.
func TestPointerMallocSetGetRoundTrip(t *testing.T) {
	vm := newTestVM()

	def := buildDef("ptr_roundtrip",
		mustInst(t, OpPutI64, 1, 0), // element count
		mustInst(t, OpPointerMalloc, SizePointer),
		mustInst(t, OpSetLocal, 0, SizePointer),
		mustInst(t, OpGetLocal, 0, SizePointer),
		mustInst(t, OpPutI64, 123, 0),
		mustInst(t, OpPointerSet, SizePointer),
		mustInst(t, OpGetLocal, 0, SizePointer),
		mustInst(t, OpPointerGet, SizePointer),
		mustInst(t, OpLeave, SizeI64),
	)
	def.FrameSize = SizePointer

	result, err := vm.Run(def)
	require.NoError(t, err)
	assert.Equal(t, int64(123), i64FromBytes(result[:SizeI64]))
}

// atomicrmw_add on a cell holding 10 returns the pre-update value (10),
// not the sum.
func TestAtomicRMWAdd(t *testing.T) {
	vm := newTestVM()

	def := buildDef("atomic_add",
		mustInst(t, OpPutI64, 1, 0),
		mustInst(t, OpPointerMalloc, SizePointer),
		mustInst(t, OpSetLocal, 0, SizePointer),
		mustInst(t, OpGetLocal, 0, SizePointer),
		mustInst(t, OpPutI64, 10, 0),
		mustInst(t, OpStoreAtomic, SizeI64, 0),
		mustInst(t, OpGetLocal, 0, SizePointer),
		mustInst(t, OpPutI64, 5, 0),
		mustInst(t, OpAtomicRMWAdd, SizeI64, 0), // elem_size, ordering (ignored)
		mustInst(t, OpLeave, SizeI64),
	)
	def.FrameSize = SizePointer

	result, err := vm.Run(def)
	require.NoError(t, err)
	assert.Equal(t, int64(10), i64FromBytes(result[:SizeI64]), "atomicrmw_add must return the pre-update value")
}

// interpreter_spawn + interpreter_fiber_swapcontext hands control to a
// freshly spawned fiber and returns it to the spawner once that fiber's
// def runs to completion.
func TestFiberSpawnAndSwapReturnsControl(t *testing.T) {
	vm := newTestVM()

	child := buildDef("child",
		mustInst(t, OpPutI8, 7),
		mustInst(t, OpLeave, SizeBool),
	)
	childHandle := vm.ctx.Defs.Register(child)

	main := buildDef("main",
		mustInst(t, OpPutI64, int32(childHandle), 0),
		mustInst(t, OpInterpreterSpawn),
		mustInst(t, OpInterpreterFiberSwapcontext),
		mustInst(t, OpPutI8, 9),
		mustInst(t, OpLeave, SizeBool),
	)

	result, err := vm.Run(main)
	require.NoError(t, err)
	assert.Equal(t, byte(9), result[0], "main fiber should resume and leave its own marker after the child finishes")
}
