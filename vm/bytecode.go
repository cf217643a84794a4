package vm

/*
	Instruction set for the embedded bytecode interpreter.

	The virtual machine executes a typed-but-untagged stack bytecode: every
	instruction has an opcode byte, zero or more inline operands (machine
	ints or indices into a side table), zero or more implicit stack inputs
	popped in reverse push order, and at most one result pushed.

	Values occupy the operand stack, locals frame and heap cells according
	to the layout rules in layout.go. Unions are tagged with an 8-byte
	TypeId header (value.go). CompiledDef/CompiledBlock (frame.go) are the
	compiled method bodies the executor (executor.go) calls into.

	The opcode table below is the single source of truth: opcode identity,
	operand shape, and disassembly hints are literal data, not scattered
	across switch statements. executor.go, disassembler.go and assemble.go
	all key off this table instead of re-deriving opcode metadata.
*/

// Bytecode identifies one VM instruction.
type Bytecode uint16

// OperandKind classifies one inline operand of an instruction.
type OperandKind int

const (
	OperandNone    OperandKind = iota
	OperandInt                 // a plain machine integer (size, offset, count, type id)
	OperandRegIdx              // an index into a side table (CompiledDef, CompiledBlock, LibFunction, CallInterface, symbol)
	OperandAddr                // an absolute bytecode offset (jump target)
)

// OpInfo is the literal metadata for one opcode: its name, the inline
// operands it requires, whether it has an implicit stack result, and a
// short disassembly hint. This is the table spec.md's Design Notes calls
// out as "the source of truth" for compiler, interpreter and
// disassembler alike.
type OpInfo struct {
	Code     Bytecode
	Name     string
	Operands []OperandKind
	Pushes   bool
	Category string
	Hint     string
}

const (
	// --- put / literal -------------------------------------------------
	OpNop Bytecode = iota
	OpPutNil
	OpPutI8
	OpPutI16
	OpPutI32
	OpPutI64
	OpPutU8
	OpPutU16
	OpPutU32
	OpPutU64
	OpPutF32
	OpPutF64
	OpPutBool

	// --- numeric conversions --------------------------------------------
	OpI8ToF32
	OpI8ToF64
	OpI16ToF32
	OpI16ToF64
	OpI32ToF32
	OpI32ToF64
	OpI64ToF32
	OpI64ToF64
	OpU8ToF32
	OpU8ToF64
	OpU16ToF32
	OpU16ToF64
	OpU32ToF32
	OpU32ToF64
	OpU64ToF32
	OpU64ToF64
	OpF32ToF64
	OpF64ToF32
	OpF32ToI64Unchecked
	OpF64ToI64Unchecked
	OpSignExtend
	OpZeroExtend

	// --- arithmetic: checked ---------------------------------------------
	OpAddI8
	OpAddI16
	OpAddI32
	OpAddI64
	OpAddU64
	OpAddF32
	OpAddF64
	OpSubI8
	OpSubI16
	OpSubI32
	OpSubI64
	OpSubU64
	OpSubF32
	OpSubF64
	OpMulI8
	OpMulI16
	OpMulI32
	OpMulI64
	OpMulU64
	OpMulF32
	OpMulF64
	OpDivF32
	OpDivF64

	// --- arithmetic: wrapping (never signal) -----------------------------
	OpAddWrapI32
	OpAddWrapI64
	OpSubWrapI32
	OpSubWrapI64
	OpMulWrapI32
	OpMulWrapI64

	// --- arithmetic: unchecked / raw machine -----------------------------
	OpUnsafeDivI32
	OpUnsafeDivI64
	OpUnsafeDivU32
	OpUnsafeDivU64
	OpUnsafeModI32
	OpUnsafeModI64
	OpUnsafeModU32
	OpUnsafeModU64

	// --- comparisons ------------------------------------------------------
	OpCmpI32
	OpCmpI64
	OpCmpU32
	OpCmpU64
	OpCmpF32
	OpCmpF64
	OpCmpEq
	OpCmpNeq
	OpCmpLt
	OpCmpLe
	OpCmpGt
	OpCmpGe
	OpCmpFEq
	OpCmpFNeq

	// --- pointers -----------------------------------------------------------
	OpPointerMalloc
	OpPointerRealloc
	OpPointerSet
	OpPointerGet
	OpPointerNew
	OpPointerAdd
	OpPointerDiff
	OpPointerIsNull
	OpPointerNotNull
	OpPointerAddress

	// --- locals ----------------------------------------------------------
	OpSetLocal
	OpGetLocal

	// --- instance vars -----------------------------------------------------
	OpGetSelfIvar
	OpSetSelfIvar
	OpGetClassIvar
	OpGetStructIvar

	// --- constants / class vars ---------------------------------------------
	OpConstInitialized
	OpGetConst
	OpSetConst
	OpGetClassVar
	OpSetClassVar

	// --- stack manipulation --------------------------------------------------
	OpPop
	OpPopFromOffset
	OpDup
	OpPushZeros
	OpPutStackTopPointer

	// --- branches -----------------------------------------------------------
	OpBranchIf
	OpBranchUnless
	OpJump

	// --- call / return ------------------------------------------------------
	OpCall
	OpCallWithBlock
	OpCallBlock
	OpLibCall
	OpLeave
	OpLeaveDef
	OpBreakBlock

	// --- allocation ----------------------------------------------------------
	OpAllocateClass

	// --- unions ---------------------------------------------------------------
	OpPutInUnion
	OpPutReferenceTypeInUnion
	OpPutNilableTypeInUnion
	OpRemoveFromUnion
	OpUnionToBool

	// --- is_a? ------------------------------------------------------------------
	OpReferenceIsA
	OpUnionIsA

	// --- tuples -------------------------------------------------------------------
	OpTupleIndexerKnownIndex

	// --- symbols -------------------------------------------------------------------
	OpSymbolToS

	// --- proc / closure ---------------------------------------------------------------
	OpProcCall
	OpProcToCFun
	OpCFunToProc

	// --- atomics -------------------------------------------------------------------------
	OpLoadAtomic
	OpStoreAtomic
	OpAtomicRMWAdd
	OpAtomicRMWSub
	OpAtomicRMWAnd
	OpAtomicRMWOr
	OpAtomicRMWXor
	OpAtomicRMWXchg
	OpCmpxchg

	// --- fibers --------------------------------------------------------------------------
	OpInterpreterCurrentFiber
	OpInterpreterSpawn
	OpInterpreterFiberSwapcontext

	// --- exceptions ------------------------------------------------------------------------
	OpRaiseWithoutBacktrace
	OpReraise
	OpCallStackUnwind

	// --- intrinsics --------------------------------------------------------------------------
	OpByteSwap
	OpPopcount
	OpCountLeadingZeros
	OpCountTrailingZeros
	OpCycleCounter
	OpPause
	OpDebugTrap
	OpMemcpy
	OpMemmove
	OpMemset

	// --- libm, f32 and f64 ----------------------------------------------------------------------
	OpCeilF32
	OpCeilF64
	OpCosF32
	OpCosF64
	OpExpF32
	OpExpF64
	OpFloorF32
	OpFloorF64
	OpLogF32
	OpLogF64
	OpRoundF32
	OpRoundF64
	OpRintF32
	OpRintF64
	OpSinF32
	OpSinF64
	OpSqrtF32
	OpSqrtF64
	OpTruncF32
	OpTruncF64
	OpPowF32
	OpPowF64
	OpPowIF32
	OpPowIF64
	OpMinF32
	OpMinF64
	OpMaxF32
	OpMaxF64
	OpCopysignF32
	OpCopysignF64

	// --- ARGV ------------------------------------------------------------------------------------
	OpArgc
	OpArgv

	// --- unreachable -----------------------------------------------------------------------------
	OpUnreachable

	opcodeCount
)

// opTable is the literal opcode metadata table described above. Built
// once at init time into name/lookup maps used by the executor,
// disassembler and assembler.
var opTable = []OpInfo{
	{OpNop, "nop", nil, false, "literal", "no operation"},
	{OpPutNil, "put_nil", nil, false, "literal", "pushes nothing; nil occupies zero bytes"},
	{OpPutI8, "put_i8", []OperandKind{OperandInt}, true, "literal", "push 8-bit literal"},
	{OpPutI16, "put_i16", []OperandKind{OperandInt}, true, "literal", "push 16-bit literal"},
	{OpPutI32, "put_i32", []OperandKind{OperandInt}, true, "literal", "push 32-bit literal"},
	{OpPutI64, "put_i64", []OperandKind{OperandInt, OperandInt}, true, "literal", "push 64-bit literal (low, high)"},
	{OpPutU8, "put_u8", []OperandKind{OperandInt}, true, "literal", "push 8-bit unsigned literal"},
	{OpPutU16, "put_u16", []OperandKind{OperandInt}, true, "literal", "push 16-bit unsigned literal"},
	{OpPutU32, "put_u32", []OperandKind{OperandInt}, true, "literal", "push 32-bit unsigned literal"},
	{OpPutU64, "put_u64", []OperandKind{OperandInt, OperandInt}, true, "literal", "push 64-bit unsigned literal (low, high)"},
	{OpPutF32, "put_f32", []OperandKind{OperandInt}, true, "literal", "push f32 bit pattern"},
	{OpPutF64, "put_f64", []OperandKind{OperandInt, OperandInt}, true, "literal", "push f64 bit pattern (low, high)"},
	{OpPutBool, "put_bool", []OperandKind{OperandInt}, true, "literal", "push bool (0/1)"},

	{OpI8ToF32, "i8_to_f32", nil, true, "conversion", ""},
	{OpI8ToF64, "i8_to_f64", nil, true, "conversion", ""},
	{OpI16ToF32, "i16_to_f32", nil, true, "conversion", ""},
	{OpI16ToF64, "i16_to_f64", nil, true, "conversion", ""},
	{OpI32ToF32, "i32_to_f32", nil, true, "conversion", ""},
	{OpI32ToF64, "i32_to_f64", nil, true, "conversion", ""},
	{OpI64ToF32, "i64_to_f32", nil, true, "conversion", ""},
	{OpI64ToF64, "i64_to_f64", nil, true, "conversion", ""},
	{OpU8ToF32, "u8_to_f32", nil, true, "conversion", ""},
	{OpU8ToF64, "u8_to_f64", nil, true, "conversion", ""},
	{OpU16ToF32, "u16_to_f32", nil, true, "conversion", ""},
	{OpU16ToF64, "u16_to_f64", nil, true, "conversion", ""},
	{OpU32ToF32, "u32_to_f32", nil, true, "conversion", ""},
	{OpU32ToF64, "u32_to_f64", nil, true, "conversion", ""},
	{OpU64ToF32, "u64_to_f32", nil, true, "conversion", ""},
	{OpU64ToF64, "u64_to_f64", nil, true, "conversion", ""},
	{OpF32ToF64, "f32_to_f64", nil, true, "conversion", ""},
	{OpF64ToF32, "f64_to_f32", nil, true, "conversion", ""},
	{OpF32ToI64Unchecked, "f32_to_i64_unchecked", nil, true, "conversion", "truncating, wraps on overflow"},
	{OpF64ToI64Unchecked, "f64_to_i64_unchecked", nil, true, "conversion", "truncating, wraps on overflow"},
	{OpSignExtend, "sign_extend", []OperandKind{OperandInt}, true, "conversion", "widen the top N-byte value to 8 bytes, sign filled (N is the source width, not the number of bytes added)"},
	{OpZeroExtend, "zero_extend", []OperandKind{OperandInt}, true, "conversion", "widen the top N-byte value to 8 bytes, zero filled (N is the source width, not the number of bytes added)"},

	{OpAddI8, "add_i8", nil, true, "arithmetic", "checked"},
	{OpAddI16, "add_i16", nil, true, "arithmetic", "checked"},
	{OpAddI32, "add_i32", nil, true, "arithmetic", "checked"},
	{OpAddI64, "add_i64", nil, true, "arithmetic", "checked"},
	{OpAddU64, "add_u64", nil, true, "arithmetic", "checked"},
	{OpAddF32, "add_f32", nil, true, "arithmetic", ""},
	{OpAddF64, "add_f64", nil, true, "arithmetic", ""},
	{OpSubI8, "sub_i8", nil, true, "arithmetic", "checked"},
	{OpSubI16, "sub_i16", nil, true, "arithmetic", "checked"},
	{OpSubI32, "sub_i32", nil, true, "arithmetic", "checked"},
	{OpSubI64, "sub_i64", nil, true, "arithmetic", "checked"},
	{OpSubU64, "sub_u64", nil, true, "arithmetic", "checked"},
	{OpSubF32, "sub_f32", nil, true, "arithmetic", ""},
	{OpSubF64, "sub_f64", nil, true, "arithmetic", ""},
	{OpMulI8, "mul_i8", nil, true, "arithmetic", "checked"},
	{OpMulI16, "mul_i16", nil, true, "arithmetic", "checked"},
	{OpMulI32, "mul_i32", nil, true, "arithmetic", "checked"},
	{OpMulI64, "mul_i64", nil, true, "arithmetic", "checked"},
	{OpMulU64, "mul_u64", nil, true, "arithmetic", "checked"},
	{OpMulF32, "mul_f32", nil, true, "arithmetic", ""},
	{OpMulF64, "mul_f64", nil, true, "arithmetic", ""},
	{OpDivF32, "div_f32", nil, true, "arithmetic", ""},
	{OpDivF64, "div_f64", nil, true, "arithmetic", ""},

	{OpAddWrapI32, "add_wrap_i32", nil, true, "arithmetic", "two's-complement wrap, never signals"},
	{OpAddWrapI64, "add_wrap_i64", nil, true, "arithmetic", "two's-complement wrap, never signals"},
	{OpSubWrapI32, "sub_wrap_i32", nil, true, "arithmetic", "two's-complement wrap, never signals"},
	{OpSubWrapI64, "sub_wrap_i64", nil, true, "arithmetic", "two's-complement wrap, never signals"},
	{OpMulWrapI32, "mul_wrap_i32", nil, true, "arithmetic", "two's-complement wrap, never signals"},
	{OpMulWrapI64, "mul_wrap_i64", nil, true, "arithmetic", "two's-complement wrap, never signals"},

	{OpUnsafeDivI32, "unsafe_div_i32", nil, true, "arithmetic", "undefined on /0 or INT_MIN/-1; caller guards"},
	{OpUnsafeDivI64, "unsafe_div_i64", nil, true, "arithmetic", "undefined on /0 or INT_MIN/-1; caller guards"},
	{OpUnsafeDivU32, "unsafe_div_u32", nil, true, "arithmetic", "undefined on /0; caller guards"},
	{OpUnsafeDivU64, "unsafe_div_u64", nil, true, "arithmetic", "undefined on /0; caller guards"},
	{OpUnsafeModI32, "unsafe_mod_i32", nil, true, "arithmetic", "undefined on /0; caller guards"},
	{OpUnsafeModI64, "unsafe_mod_i64", nil, true, "arithmetic", "undefined on /0; caller guards"},
	{OpUnsafeModU32, "unsafe_mod_u32", nil, true, "arithmetic", "undefined on /0; caller guards"},
	{OpUnsafeModU64, "unsafe_mod_u64", nil, true, "arithmetic", "undefined on /0; caller guards"},

	{OpCmpI32, "cmp_i32", nil, true, "comparison", "tri-state -1/0/+1"},
	{OpCmpI64, "cmp_i64", nil, true, "comparison", "tri-state -1/0/+1"},
	{OpCmpU32, "cmp_u32", nil, true, "comparison", "tri-state -1/0/+1"},
	{OpCmpU64, "cmp_u64", nil, true, "comparison", "tri-state -1/0/+1"},
	{OpCmpF32, "cmp_f32", nil, true, "comparison", "IEEE 754 order; NaN compares as +1"},
	{OpCmpF64, "cmp_f64", nil, true, "comparison", "IEEE 754 order; NaN compares as +1"},
	{OpCmpEq, "cmp_eq", nil, true, "comparison", "folds tri-state to bool"},
	{OpCmpNeq, "cmp_neq", nil, true, "comparison", "folds tri-state to bool"},
	{OpCmpLt, "cmp_lt", nil, true, "comparison", "folds tri-state to bool"},
	{OpCmpLe, "cmp_le", nil, true, "comparison", "folds tri-state to bool"},
	{OpCmpGt, "cmp_gt", nil, true, "comparison", "folds tri-state to bool"},
	{OpCmpGe, "cmp_ge", nil, true, "comparison", "folds tri-state to bool"},
	{OpCmpFEq, "cmp_feq", nil, true, "comparison", "NaN never equal"},
	{OpCmpFNeq, "cmp_fneq", nil, true, "comparison", "NaN always not-equal"},

	{OpPointerMalloc, "pointer_malloc", []OperandKind{OperandInt}, true, "pointer", "elem_size operand; allocates size*elem_size bytes"},
	{OpPointerRealloc, "pointer_realloc", []OperandKind{OperandInt}, true, "pointer", "elem_size operand"},
	{OpPointerSet, "pointer_set", []OperandKind{OperandInt}, false, "pointer", "elem_size operand; copies exactly elem_size bytes"},
	{OpPointerGet, "pointer_get", []OperandKind{OperandInt}, true, "pointer", "elem_size operand"},
	{OpPointerNew, "pointer_new", nil, true, "pointer", "treats i64 address as a pointer"},
	{OpPointerAdd, "pointer_add", []OperandKind{OperandInt}, true, "pointer", "elem_size operand; scaled arithmetic"},
	{OpPointerDiff, "pointer_diff", []OperandKind{OperandInt}, true, "pointer", "elem_size operand; floor divides byte diff"},
	{OpPointerIsNull, "pointer_is_null", nil, true, "pointer", ""},
	{OpPointerNotNull, "pointer_not_null", nil, true, "pointer", ""},
	{OpPointerAddress, "pointer_address", nil, true, "pointer", "raw address as i64"},

	{OpSetLocal, "set_local", []OperandKind{OperandInt, OperandInt}, false, "local", "index, size"},
	{OpGetLocal, "get_local", []OperandKind{OperandInt, OperandInt}, true, "local", "index, size"},

	{OpGetSelfIvar, "get_self_ivar", []OperandKind{OperandInt, OperandInt}, true, "ivar", "offset, size; through implicit self"},
	{OpSetSelfIvar, "set_self_ivar", []OperandKind{OperandInt, OperandInt}, false, "ivar", "offset, size; through implicit self"},
	{OpGetClassIvar, "get_class_ivar", []OperandKind{OperandInt, OperandInt}, true, "ivar", "offset, size; through caller-supplied pointer"},
	{OpGetStructIvar, "get_struct_ivar", []OperandKind{OperandInt, OperandInt, OperandInt}, true, "ivar", "offset, size, total; shrinks stack to field size"},

	{OpConstInitialized, "const_initialized", []OperandKind{OperandRegIdx}, true, "const", "pushes lazy-init flag"},
	{OpGetConst, "get_const", []OperandKind{OperandRegIdx}, true, "const", ""},
	{OpSetConst, "set_const", []OperandKind{OperandRegIdx, OperandInt}, false, "const", "index, size"},
	{OpGetClassVar, "get_class_var", []OperandKind{OperandRegIdx}, true, "const", ""},
	{OpSetClassVar, "set_class_var", []OperandKind{OperandRegIdx, OperandInt}, false, "const", "index, size"},

	{OpPop, "pop", []OperandKind{OperandInt}, false, "stack", "size"},
	{OpPopFromOffset, "pop_from_offset", []OperandKind{OperandInt, OperandInt}, false, "stack", "size, offset; removes bytes from below the top"},
	{OpDup, "dup", []OperandKind{OperandInt}, true, "stack", "size"},
	{OpPushZeros, "push_zeros", []OperandKind{OperandInt}, true, "stack", "amount"},
	{OpPutStackTopPointer, "put_stack_top_pointer", []OperandKind{OperandInt}, true, "stack", "size; pushes a pointer to the top size bytes"},

	{OpBranchIf, "branch_if", []OperandKind{OperandAddr}, false, "branch", ""},
	{OpBranchUnless, "branch_unless", []OperandKind{OperandAddr}, false, "branch", ""},
	{OpJump, "jump", []OperandKind{OperandAddr}, false, "branch", ""},

	{OpCall, "call", []OperandKind{OperandRegIdx}, false, "call", "def index"},
	{OpCallWithBlock, "call_with_block", []OperandKind{OperandRegIdx, OperandRegIdx}, false, "call", "def index, block index"},
	{OpCallBlock, "call_block", []OperandKind{OperandRegIdx}, false, "call", "block index; inlined frame"},
	{OpLibCall, "lib_call", []OperandKind{OperandRegIdx}, true, "call", "LibFunction index; marshals through FFI"},
	{OpLeave, "leave", []OperandKind{OperandInt}, false, "call", "size"},
	{OpLeaveDef, "leave_def", []OperandKind{OperandInt}, false, "call", "size; also closes lexical blocks"},
	{OpBreakBlock, "break_block", []OperandKind{OperandInt}, false, "call", "size; unwinds past block frames to enclosing def"},

	{OpAllocateClass, "allocate_class", []OperandKind{OperandInt, OperandInt}, true, "allocation", "size, type_id"},

	{OpPutInUnion, "put_in_union", []OperandKind{OperandInt, OperandInt, OperandInt}, true, "union", "type_id, from, union_size"},
	{OpPutReferenceTypeInUnion, "put_reference_type_in_union", []OperandKind{OperandInt, OperandInt}, true, "union", "from, union_size; reads type id from pointee"},
	{OpPutNilableTypeInUnion, "put_nilable_type_in_union", []OperandKind{OperandInt}, true, "union", "union_size; null becomes all-zero payload"},
	{OpRemoveFromUnion, "remove_from_union", []OperandKind{OperandInt, OperandInt}, true, "union", "union_size, from"},
	{OpUnionToBool, "union_to_bool", []OperandKind{OperandInt}, true, "union", "union_size"},

	{OpReferenceIsA, "reference_is_a", []OperandKind{OperandInt}, true, "is_a", "filter_id"},
	{OpUnionIsA, "union_is_a", []OperandKind{OperandInt, OperandInt}, true, "is_a", "union_size, filter_id"},

	{OpTupleIndexerKnownIndex, "tuple_indexer_known_index", []OperandKind{OperandInt, OperandInt, OperandInt}, true, "tuple", "tuple_size, offset, value_size"},

	{OpSymbolToS, "symbol_to_s", []OperandKind{OperandInt}, true, "symbol", "index into interned symbol table"},

	{OpProcCall, "proc_call", nil, true, "proc", "(CompiledDef, closure_data_ptr); closure pushed as last arg if non-null"},
	{OpProcToCFun, "proc_to_c_fun", []OperandKind{OperandRegIdx}, true, "proc", "CallInterface index; builds an FFI closure"},
	{OpCFunToProc, "c_fun_to_proc", nil, true, "proc", "looks up a registered closure by code pointer"},

	{OpLoadAtomic, "load_atomic", []OperandKind{OperandInt, OperandInt}, true, "atomic", "elem_size, ordering (ignored)"},
	{OpStoreAtomic, "store_atomic", []OperandKind{OperandInt, OperandInt}, false, "atomic", "elem_size, ordering (ignored)"},
	{OpAtomicRMWAdd, "atomicrmw_add", []OperandKind{OperandInt, OperandInt}, true, "atomic", "elem_size, ordering (ignored)"},
	{OpAtomicRMWSub, "atomicrmw_sub", []OperandKind{OperandInt, OperandInt}, true, "atomic", "elem_size, ordering (ignored)"},
	{OpAtomicRMWAnd, "atomicrmw_and", []OperandKind{OperandInt, OperandInt}, true, "atomic", "elem_size, ordering (ignored)"},
	{OpAtomicRMWOr, "atomicrmw_or", []OperandKind{OperandInt, OperandInt}, true, "atomic", "elem_size, ordering (ignored)"},
	{OpAtomicRMWXor, "atomicrmw_xor", []OperandKind{OperandInt, OperandInt}, true, "atomic", "elem_size, ordering (ignored)"},
	{OpAtomicRMWXchg, "atomicrmw_xchg", []OperandKind{OperandInt, OperandInt}, true, "atomic", "elem_size, ordering (ignored)"},
	{OpCmpxchg, "cmpxchg", []OperandKind{OperandInt, OperandInt}, true, "atomic", "elem_size, ordering (ignored)"},

	{OpInterpreterCurrentFiber, "interpreter_current_fiber", nil, true, "fiber", ""},
	{OpInterpreterSpawn, "interpreter_spawn", nil, true, "fiber", "pops a def handle; creates the fiber itself and pushes its id (takes no fiber argument)"},
	{OpInterpreterFiberSwapcontext, "interpreter_fiber_swapcontext", nil, false, "fiber", "pops the target fiber id; swaps from the current fiber (takes no from argument)"},

	{OpRaiseWithoutBacktrace, "interpreter_raise_without_backtrace", []OperandKind{OperandInt}, false, "exception", "type_id; pops the exception payload pointer"},
	{OpReraise, "reraise", nil, false, "exception", "rethrows the last-caught exception"},
	{OpCallStackUnwind, "interpreter_call_stack_unwind", nil, true, "exception", "captures a backtrace record"},

	{OpByteSwap, "bswap", []OperandKind{OperandInt}, true, "intrinsic", "size"},
	{OpPopcount, "popcount", []OperandKind{OperandInt}, true, "intrinsic", "size"},
	{OpCountLeadingZeros, "clz", []OperandKind{OperandInt}, true, "intrinsic", "size"},
	{OpCountTrailingZeros, "ctz", []OperandKind{OperandInt}, true, "intrinsic", "size"},
	{OpCycleCounter, "cycle_counter", nil, true, "intrinsic", ""},
	{OpPause, "pause", nil, false, "intrinsic", ""},
	{OpDebugTrap, "debug_trap", nil, false, "intrinsic", "suspends, hands full VM state to inspector hook"},
	{OpMemcpy, "memcpy", []OperandKind{OperandInt}, false, "intrinsic", "volatile flag"},
	{OpMemmove, "memmove", []OperandKind{OperandInt}, false, "intrinsic", "volatile flag"},
	{OpMemset, "memset", []OperandKind{OperandInt}, false, "intrinsic", "volatile flag"},

	{OpCeilF32, "ceil_f32", nil, true, "libm", ""},
	{OpCeilF64, "ceil_f64", nil, true, "libm", ""},
	{OpCosF32, "cos_f32", nil, true, "libm", ""},
	{OpCosF64, "cos_f64", nil, true, "libm", ""},
	{OpExpF32, "exp_f32", nil, true, "libm", ""},
	{OpExpF64, "exp_f64", nil, true, "libm", ""},
	{OpFloorF32, "floor_f32", nil, true, "libm", ""},
	{OpFloorF64, "floor_f64", nil, true, "libm", ""},
	{OpLogF32, "log_f32", nil, true, "libm", ""},
	{OpLogF64, "log_f64", nil, true, "libm", ""},
	{OpRoundF32, "round_f32", nil, true, "libm", ""},
	{OpRoundF64, "round_f64", nil, true, "libm", ""},
	{OpRintF32, "rint_f32", nil, true, "libm", ""},
	{OpRintF64, "rint_f64", nil, true, "libm", ""},
	{OpSinF32, "sin_f32", nil, true, "libm", ""},
	{OpSinF64, "sin_f64", nil, true, "libm", ""},
	{OpSqrtF32, "sqrt_f32", nil, true, "libm", ""},
	{OpSqrtF64, "sqrt_f64", nil, true, "libm", ""},
	{OpTruncF32, "trunc_f32", nil, true, "libm", ""},
	{OpTruncF64, "trunc_f64", nil, true, "libm", ""},
	{OpPowF32, "pow_f32", nil, true, "libm", ""},
	{OpPowF64, "pow_f64", nil, true, "libm", ""},
	{OpPowIF32, "powi_f32", nil, true, "libm", "exponent is an i32"},
	{OpPowIF64, "powi_f64", nil, true, "libm", "exponent is an i32"},
	{OpMinF32, "min_f32", nil, true, "libm", ""},
	{OpMinF64, "min_f64", nil, true, "libm", ""},
	{OpMaxF32, "max_f32", nil, true, "libm", ""},
	{OpMaxF64, "max_f64", nil, true, "libm", ""},
	{OpCopysignF32, "copysign_f32", nil, true, "libm", ""},
	{OpCopysignF64, "copysign_f64", nil, true, "libm", ""},

	{OpArgc, "argc", nil, true, "argv", ""},
	{OpArgv, "argv", nil, true, "argv", ""},

	{OpUnreachable, "unreachable", []OperandKind{OperandRegIdx}, false, "unreachable", "message index; raises a fatal interpreter error"},
}

var (
	opByName map[string]Bytecode
	opByCode map[Bytecode]*OpInfo
)

func init() {
	if len(opTable) != int(opcodeCount) {
		panic("opTable is out of sync with the Bytecode enum")
	}

	opByName = make(map[string]Bytecode, len(opTable))
	opByCode = make(map[Bytecode]*OpInfo, len(opTable))
	for i := range opTable {
		info := &opTable[i]
		if info.Code != Bytecode(i) {
			panic("opTable entry out of order: " + info.Name)
		}
		opByName[info.Name] = info.Code
		opByCode[info.Code] = info
	}
}

// String renders a bytecode as its mnemonic, for use with Print/Sprint
// and the disassembler.
func (b Bytecode) String() string {
	if info, ok := opByCode[b]; ok {
		return info.Name
	}
	return "?unknown?"
}

// Info returns the literal metadata for b, or nil if b is not a known opcode.
func (b Bytecode) Info() *OpInfo {
	return opByCode[b]
}

// NumOperands is how many inline operands the instruction encoding must carry.
func (b Bytecode) NumOperands() int {
	if info, ok := opByCode[b]; ok {
		return len(info.Operands)
	}
	return 0
}

// lookupBytecode resolves a mnemonic to its opcode for the assembler.
func lookupBytecode(name string) (Bytecode, bool) {
	b, ok := opByName[name]
	return b, ok
}
