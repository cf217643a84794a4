package vm

import (
	"runtime/debug"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// VM is the top-level interpreter: the decode-dispatch loop, the call
// protocol, and everything the instruction categories in bytecode.go
// need in order to execute. It generalizes the teacher's run.go/exec.go
// pair (execInstructions/execNextInstruction plus
// getDefaultRecoverFuncForVM's panic-to-diagnostic recovery) to the full
// value model: frames, unions, tuples, procs, fibers.
type VM struct {
	ctx       *Context
	config    *Config
	logger    *zap.Logger
	scheduler *Scheduler
	heap      *Heap
	main      *Fiber
	argv      []string

	// TrapHook answers the "pry (debug trap) semantics are delegated to
	// an externally supplied inspector" open question: the core contract
	// is only "suspend, give the inspector the full VM state, resume on
	// return." nil means debug_trap is a no-op.
	TrapHook func(vm *VM, f *Fiber)
}

func NewVM(ctx *Context, cfg *Config, logger *zap.Logger, argv []string) *VM {
	if logger == nil {
		logger = NewNopLogger()
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &VM{
		ctx:       ctx,
		config:    cfg,
		logger:    logger,
		scheduler: NewScheduler(cfg.MaxRunnableFiber),
		heap:      NewHeap(),
		argv:      argv,
	}
}

func (vm *VM) Stats() SchedulerStats { return vm.scheduler.Stats() }

// Run executes def to completion on a freshly created main fiber and
// returns its leave(size) bytes, the way the teacher's RunProgram
// returns a shutdown/exit status after the loop stops. GC is disabled
// for the duration, mirroring run.go's os.LookupEnv("GOGC") dance, but
// driven by config instead of an environment variable.
func (vm *VM) Run(def *CompiledDef) (result []byte, err error) {
	restoreGC := vm.suspendGC()
	defer restoreGC()

	f := vm.scheduler.spawn(vm, def)
	vm.main = f
	vm.scheduler.current = f
	if err := vm.enterFrame(f, def, nil); err != nil {
		return nil, err
	}
	if err := vm.runFiber(f); err != nil {
		return nil, err
	}
	return f.lastLeaveResult, nil
}

// suspendGC disables the garbage collector for the run's duration,
// restoring the prior percentage on return. Memory is allocated up front
// (the stack, the frame locals) and the heap map only grows during
// allocate_class/pointer_malloc, but the tight fetch-decode-dispatch loop
// still can't afford GC pauses interleaved with it.
func (vm *VM) suspendGC() func() {
	prevPercent := debug.SetGCPercent(vm.config.GCPercent)
	return func() {
		debug.SetGCPercent(prevPercent)
	}
}

// callFromHost re-enters the interpreter for an FFI trampoline
// (ffi.go's ProcToCFun): runs def to completion on a short-lived fiber
// seeded with argBytes already laid out in declaration order, and
// returns its leave(size) result bytes.
func (vm *VM) callFromHost(def *CompiledDef, argBytes [][]byte) ([]byte, error) {
	f := vm.scheduler.spawn(vm, def)
	if err := vm.enterFrame(f, def, argBytes); err != nil {
		return nil, err
	}
	if err := vm.runFiber(f); err != nil {
		return nil, err
	}
	return f.lastLeaveResult, nil
}

// enterFrame implements the call protocol: allocate def.FrameSize bytes
// of zeroed locals, copy the top argument bytes into the lowest local
// slots in declaration order, and set ip to 0. argBytes, when non-nil,
// seeds the new frame directly (used by callFromHost); otherwise
// arguments are assumed already sitting on f.stack, pushed left to
// right by the caller.
func (vm *VM) enterFrame(f *Fiber, def *CompiledDef, argBytes [][]byte) error {
	locals := make([]byte, def.FrameSize)
	if argBytes != nil {
		off := 0
		for _, b := range argBytes {
			copy(locals[off:], b)
			off += align(len(b))
		}
	} else if def.ParamSize > 0 {
		args := f.stack.Pop(def.ParamSize)
		copy(locals, args)
	}
	fr := &Frame{
		Def:        def,
		Locals:     locals,
		ReturnIP:   f.ip,
		ReturnBase: f.stack.Len(),
	}
	f.frames = append(f.frames, fr)
	f.code = def.Bytecode
	f.ip = 0
	return nil
}

// leave implements leave(size)/leave_def(size): copy the top size bytes
// over the callee's entire frame, shrink the stack accordingly, restore
// ip and frame base.
func (vm *VM) leave(f *Fiber, size int, isDef bool) error {
	if len(f.frames) == 0 {
		return newFatalError(f.ip, OpLeave, "leave with no active frame")
	}
	fr := f.frames[len(f.frames)-1]
	result := f.stack.Pop(size)
	f.stack.Truncate(fr.ReturnBase)
	f.stack.Push(result)
	f.frames = f.frames[:len(f.frames)-1]
	f.ip = fr.ReturnIP
	f.lastLeaveResult = result
	if len(f.frames) > 0 {
		caller := f.frames[len(f.frames)-1]
		if caller.Def != nil {
			f.code = caller.Def.Bytecode
		} else {
			f.code = caller.Block.Bytecode
		}
	}
	_ = isDef // lexical blocks attached to this def, if any, close implicitly: nothing owns block-local state beyond the frame already discarded above.
	return nil
}

// runFiber is the fetch-decode-dispatch loop: ip indexes into f.code;
// each opcode reads its inline operands, pops its inputs, executes, and
// optionally pushes, exactly as described for the executor.
func (vm *VM) runFiber(f *Fiber) error {
	for {
		if len(f.frames) == 0 {
			return nil
		}
		if f.ip < 0 || f.ip >= len(f.code) {
			return newFatalError(f.ip, OpUnreachable, "instruction pointer %d out of bounds (len %d)", f.ip, len(f.code))
		}
		inst := f.code[f.ip]
		if vm.config.Trace {
			vm.logger.Debug("dispatch", zap.Int("ip", f.ip), zap.String("op", inst.String()))
		}
		f.ip++

		if err := vm.dispatch(f, inst); err != nil {
			if exc, ok := err.(*Exception); ok {
				if handled := vm.raise(f, exc); handled == nil {
					continue
				}
				return err
			}
			return err
		}
	}
}

// dispatch executes a single instruction. Grouped by category exactly as
// in bytecode.go; arithmetic/comparison/conversion families share a
// handful of width-generic helpers instead of one hand-written case per
// opcode, the same "opcode table is the source of truth" principle
// bytecode.go's opTable already follows.
func (vm *VM) dispatch(f *Fiber, i Instruction) error {
	switch i.Code {
	case OpNop:
		return nil
	case OpPutNil:
		return nil
	case OpPutI8, OpPutU8, OpPutBool:
		f.stack.Push([]byte{byte(i.Int(0))})
		return nil
	case OpPutI16, OpPutU16:
		b := make([]byte, 2)
		putI16(b, int16(i.Int(0)))
		f.stack.Push(b)
		return nil
	case OpPutI32, OpPutU32:
		b := make([]byte, 4)
		putI32(b, int32(i.Int(0)))
		f.stack.Push(b)
		return nil
	case OpPutF32:
		b := make([]byte, 4)
		putU32(b, uint32(i.Int(0)))
		f.stack.Push(b)
		return nil
	case OpPutI64, OpPutU64, OpPutF64:
		// The assembler packs the low and high 32 bits of the 64-bit
		// literal into the two inline operand slots, since a single
		// instruction operand is only 32 bits wide (instruction.go).
		b := make([]byte, 8)
		putU32(b[0:4], uint32(i.Int(0)))
		putU32(b[4:8], uint32(i.Int(1)))
		f.stack.Push(b)
		return nil
	}

	if h, ok := arithTable[i.Code]; ok {
		return vm.execArith(f, h)
	}
	if h, ok := cmpTable[i.Code]; ok {
		return vm.execCompare(f, h)
	}
	if h, ok := convTable[i.Code]; ok {
		return vm.execConvert(f, h)
	}
	if h, ok := libmTable[i.Code]; ok {
		return vm.execLibm(f, h)
	}

	switch i.Code {
	case OpCmpEq, OpCmpNeq, OpCmpLt, OpCmpLe, OpCmpGt, OpCmpGe:
		return vm.execFoldTriState(f, i.Code)
	case OpCmpFEq, OpCmpFNeq:
		return vm.execFoldFloatCompare(f, i.Code)

	case OpSignExtend:
		n := i.Int(0)
		v := f.stack.Pop(align(n))[:n]
		out := make([]byte, 8)
		putI64(out, signExtend(v, n))
		f.stack.Push(out)
		return nil
	case OpZeroExtend:
		n := i.Int(0)
		v := f.stack.Pop(align(n))[:n]
		out := make([]byte, 8)
		putU64(out, zeroExtend(v, n))
		f.stack.Push(out)
		return nil

	case OpPointerMalloc:
		elemSize := i.Int(0)
		count := i64FromBytes(f.stack.Pop(align(SizeI64))[:SizeI64])
		ptr := make([]byte, elemSize*int(count))
		addr := vm.heap.store(ptr)
		out := make([]byte, 8)
		putU64(out, uint64(addr))
		f.stack.Push(out)
		return nil
	case OpPointerRealloc:
		elemSize := i.Int(0)
		count := i64FromBytes(f.stack.Pop(align(SizeI64))[:SizeI64])
		addrBytes := f.stack.Pop(align(SizePointer))[:SizePointer]
		addr := u64FromBytes(addrBytes)
		grown := vm.heap.realloc(uintptr(addr), elemSize*int(count))
		out := make([]byte, 8)
		putU64(out, uint64(grown))
		f.stack.Push(out)
		return nil
	case OpPointerSet:
		elemSize := i.Int(0)
		val := f.stack.Pop(align(elemSize))[:elemSize]
		addrBytes := f.stack.Pop(align(SizePointer))[:SizePointer]
		addr := u64FromBytes(addrBytes)
		return vm.heap.write(uintptr(addr), val)
	case OpPointerGet:
		elemSize := i.Int(0)
		addrBytes := f.stack.Pop(align(SizePointer))[:SizePointer]
		addr := u64FromBytes(addrBytes)
		val, err := vm.heap.read(uintptr(addr), elemSize)
		if err != nil {
			return err
		}
		f.stack.Push(val)
		return nil
	case OpPointerNew:
		addr := i64FromBytes(f.stack.Pop(align(SizeI64))[:SizeI64])
		out := make([]byte, 8)
		putI64(out, addr)
		f.stack.Push(out)
		return nil
	case OpPointerAdd:
		elemSize := i.Int(0)
		n := i64FromBytes(f.stack.Pop(align(SizeI64))[:SizeI64])
		addr := u64FromBytes(f.stack.Pop(align(SizePointer))[:SizePointer])
		out := make([]byte, 8)
		putU64(out, uint64(int64(addr)+n*int64(elemSize)))
		f.stack.Push(out)
		return nil
	case OpPointerDiff:
		elemSize := i.Int(0)
		b := i64FromBytes(f.stack.Pop(align(SizePointer))[:SizePointer])
		a := i64FromBytes(f.stack.Pop(align(SizePointer))[:SizePointer])
		es := int64(elemSize)
		q := (a - b) / es
		if r := (a - b) % es; r != 0 && (r < 0) != (es < 0) {
			q-- // Go's / truncates toward zero; round toward negative infinity
		}
		out := make([]byte, 8)
		putI64(out, q)
		f.stack.Push(out)
		return nil
	case OpPointerIsNull, OpPointerNotNull:
		addr := u64FromBytes(f.stack.Pop(align(SizePointer))[:SizePointer])
		isNull := addr == 0
		result := isNull
		if i.Code == OpPointerNotNull {
			result = !isNull
		}
		f.stack.Push([]byte{boolByte(result)})
		return nil
	case OpPointerAddress:
		addr := f.stack.Top(SizePointer)
		out := append([]byte(nil), addr...)
		f.stack.Push(out)
		return nil

	case OpSetLocal:
		idx, size := i.Int(0), i.Int(1)
		v := f.stack.Pop(align(size))[:size]
		fr := f.frames[len(f.frames)-1]
		copy(fr.Locals[idx:], v)
		return nil
	case OpGetLocal:
		idx, size := i.Int(0), i.Int(1)
		fr := f.frames[len(f.frames)-1]
		f.stack.Push(fr.Locals[idx : idx+size])
		return nil

	case OpGetSelfIvar:
		offset, size := i.Int(0), i.Int(1)
		fr := f.frames[len(f.frames)-1]
		if fr.Self == nil {
			return newFatalError(f.ip, i.Code, "get_self_ivar with nil self")
		}
		f.stack.Push(fr.Self[offset : offset+size])
		return nil
	case OpSetSelfIvar:
		offset, size := i.Int(0), i.Int(1)
		fr := f.frames[len(f.frames)-1]
		if fr.Self == nil {
			return newFatalError(f.ip, i.Code, "set_self_ivar with nil self")
		}
		v := f.stack.Pop(align(size))[:size]
		copy(fr.Self[offset:], v)
		return nil
	case OpGetClassIvar:
		offset, size := i.Int(0), i.Int(1)
		ptr := f.stack.Pop(align(SizePointer))[:SizePointer]
		addr := u64FromBytes(ptr)
		cell, err := vm.heap.read(uintptr(addr), offset+size)
		if err != nil {
			return err
		}
		f.stack.Push(cell[offset : offset+size])
		return nil
	case OpGetStructIvar:
		offset, size, total := i.Int(0), i.Int(1), i.Int(2)
		agg := f.stack.Pop(align(total))[:total]
		f.stack.Push(agg[offset : offset+size])
		return nil

	case OpConstInitialized:
		ok, err := vm.ctx.ConstInitialized(i.RegIdx(0))
		if err != nil {
			return err
		}
		f.stack.Push([]byte{boolByte(ok)})
		return nil
	case OpGetConst:
		v, err := vm.ctx.GetConst(i.RegIdx(0))
		if err != nil {
			return err
		}
		f.stack.Push(v)
		return nil
	case OpSetConst:
		size := i.Int(1)
		v := f.stack.Pop(align(size))[:size]
		return vm.ctx.SetConst(i.RegIdx(0), v)
	case OpGetClassVar:
		v, err := vm.ctx.GetClassVar(i.RegIdx(0))
		if err != nil {
			return err
		}
		f.stack.Push(v)
		return nil
	case OpSetClassVar:
		size := i.Int(1)
		v := f.stack.Pop(align(size))[:size]
		return vm.ctx.SetClassVar(i.RegIdx(0), v)

	case OpPop:
		f.stack.Drop(align(i.Int(0)))
		return nil
	case OpPopFromOffset:
		size, offset := i.Int(0), i.Int(1)
		top := f.stack.Pop(align(size))
		f.stack.Drop(align(offset))
		f.stack.Push(top[:size])
		return nil
	case OpDup:
		size := i.Int(0)
		v := f.stack.Top(align(size))
		dup := append([]byte(nil), v[:size]...)
		f.stack.Push(dup)
		return nil
	case OpPushZeros:
		f.stack.Grow(i.Int(0))
		return nil
	case OpPutStackTopPointer:
		size := i.Int(0)
		top := f.stack.Top(align(size))
		addr := vm.heap.storeAliased(top[:size])
		out := make([]byte, 8)
		putU64(out, uint64(addr))
		f.stack.Push(out)
		return nil

	case OpBranchIf:
		v := f.stack.Pop(align(SizeBool))[0]
		if v != 0 {
			f.ip = i.Addr(0)
		}
		return nil
	case OpBranchUnless:
		v := f.stack.Pop(align(SizeBool))[0]
		if v == 0 {
			f.ip = i.Addr(0)
		}
		return nil
	case OpJump:
		f.ip = i.Addr(0)
		return nil

	case OpCall:
		def, err := vm.ctx.Defs.Get(DefHandle(i.RegIdx(0)))
		if err != nil {
			return err
		}
		return vm.enterFrame(f, def, nil)
	case OpCallWithBlock:
		def, err := vm.ctx.Defs.Get(DefHandle(i.RegIdx(0)))
		if err != nil {
			return err
		}
		block, err := vm.ctx.Blocks.Get(BlockHandle(i.RegIdx(1)))
		if err != nil {
			return err
		}
		if err := vm.enterFrame(f, def, nil); err != nil {
			return err
		}
		f.frames[len(f.frames)-1].Block = block
		return nil
	case OpCallBlock:
		block, err := vm.ctx.Blocks.Get(BlockHandle(i.RegIdx(0)))
		if err != nil {
			return err
		}
		fr := &Frame{
			Block:      block,
			Locals:     make([]byte, block.FrameSize),
			ReturnIP:   f.ip,
			ReturnBase: f.stack.Len(),
			IsBlock:    true,
		}
		f.frames = append(f.frames, fr)
		f.code = block.Bytecode
		f.ip = 0
		return nil
	case OpLibCall:
		fn, err := vm.ctx.LibFunc(i.RegIdx(0))
		if err != nil {
			return err
		}
		args := make([][]byte, len(fn.CallIf.Args))
		for n := len(args) - 1; n >= 0; n-- {
			sz := fn.CallIf.Args[n].size()
			args[n] = f.stack.Pop(align(sz))[:sz]
		}
		result, err := vm.ctx.LibCall(fn, args)
		if err != nil {
			return vm.libraryError(err)
		}
		if result != nil {
			f.stack.Push(result)
		}
		return nil
	case OpLeave:
		return vm.leave(f, i.Int(0), false)
	case OpLeaveDef:
		return vm.leave(f, i.Int(0), true)
	case OpBreakBlock:
		size := i.Int(0)
		for len(f.frames) > 0 && f.frames[len(f.frames)-1].IsBlock {
			if err := vm.leave(f, size, false); err != nil {
				return err
			}
		}
		return nil

	case OpAllocateClass:
		size, typeId := i.Int(0), i.Int(1)
		cell := make([]byte, size)
		putTypeIdAt(cell, TypeId(typeId))
		addr := vm.heap.store(cell)
		out := make([]byte, 8)
		putU64(out, uint64(addr))
		f.stack.Push(out)
		return nil

	case OpPutInUnion:
		typeId, from, unionSize := i.Int(0), i.Int(1), i.Int(2)
		src := f.stack.Pop(align(from))[:from]
		dst := make([]byte, unionSize)
		putInUnion(dst, TypeId(typeId), src, unionSize)
		f.stack.Push(dst)
		return nil
	case OpPutReferenceTypeInUnion:
		from, unionSize := i.Int(0), i.Int(1)
		src := f.stack.Pop(align(from))[:from]
		addr := u64FromBytes(src[:SizePointer])
		cell, _ := vm.heap.read(uintptr(addr), HeapHeaderSize)
		dst := make([]byte, unionSize)
		putInUnion(dst, heapTypeIdAt(cell), src, unionSize)
		f.stack.Push(dst)
		return nil
	case OpPutNilableTypeInUnion:
		unionSize := i.Int(0)
		ptr := f.stack.Pop(align(SizePointer))[:SizePointer]
		addr := u64FromBytes(ptr)
		var heapType TypeId
		if addr != 0 {
			cell, _ := vm.heap.read(uintptr(addr), HeapHeaderSize)
			heapType = heapTypeIdAt(cell)
		}
		dst := make([]byte, unionSize)
		putNilableTypeInUnion(dst, ptr, heapType, unionSize)
		f.stack.Push(dst)
		return nil
	case OpRemoveFromUnion:
		unionSize, from := i.Int(0), i.Int(1)
		u := f.stack.Pop(align(unionSize))[:unionSize]
		payload := removeFromUnion(u, from)
		f.stack.Push(payload)
		return nil
	case OpUnionToBool:
		unionSize := i.Int(0)
		u := f.stack.Pop(align(unionSize))[:unionSize]
		desc, _ := vm.ctx.Types.Lookup(unionHeaderAt(u))
		result := unionToBool(u, desc)
		f.stack.Push([]byte{boolByte(result)})
		return nil

	case OpReferenceIsA:
		filterId := TypeId(i.Int(0))
		ptr := f.stack.Pop(align(SizePointer))[:SizePointer]
		addr := u64FromBytes(ptr)
		var dynType TypeId
		if addr != 0 {
			cell, _ := vm.heap.read(uintptr(addr), HeapHeaderSize)
			dynType = heapTypeIdAt(cell)
		}
		f.stack.Push([]byte{boolByte(vm.ctx.Types.IsSubtype(dynType, filterId))})
		return nil
	case OpUnionIsA:
		unionSize, filterId := i.Int(0), TypeId(i.Int(1))
		u := f.stack.Pop(align(unionSize))[:unionSize]
		header := unionHeaderAt(u)
		f.stack.Push([]byte{boolByte(header != NullTypeId && vm.ctx.Types.IsSubtype(header, filterId))})
		return nil

	case OpTupleIndexerKnownIndex:
		tupleSize, offset, valueSize := i.Int(0), i.Int(1), i.Int(2)
		tup := f.stack.Pop(align(tupleSize))[:tupleSize]
		f.stack.Push(tup[offset : offset+valueSize])
		return nil

	case OpSymbolToS:
		s, err := vm.ctx.SymbolToS(int32(i.RegIdx(0)))
		if err != nil {
			return err
		}
		addr := vm.heap.store([]byte(s))
		out := make([]byte, 8)
		putU64(out, uint64(addr))
		f.stack.Push(out)
		return nil

	case OpProcCall:
		closurePtr := u64FromBytes(f.stack.Pop(align(SizePointer))[:SizePointer])
		defHandle := u64FromBytes(f.stack.Pop(align(SizePointer))[:SizePointer])
		def, err := vm.ctx.Defs.Get(DefHandle(defHandle))
		if err != nil {
			return err
		}
		if closurePtr != 0 {
			out := make([]byte, 8)
			putU64(out, closurePtr)
			f.stack.Push(out)
		}
		return vm.enterFrame(f, def, nil)
	case OpProcToCFun:
		ci, err := vm.ctx.CallInterfaceAt(i.RegIdx(0))
		if err != nil {
			return err
		}
		defHandle := u64FromBytes(f.stack.Pop(align(SizePointer))[:SizePointer])
		def, err := vm.ctx.Defs.Get(DefHandle(defHandle))
		if err != nil {
			return err
		}
		ptr, err := vm.ProcToCFun(def, ci)
		if err != nil {
			return err
		}
		out := make([]byte, 8)
		putU64(out, uint64(ptr))
		f.stack.Push(out)
		return nil
	case OpCFunToProc:
		ptr := uintptr(u64FromBytes(f.stack.Pop(align(SizePointer))[:SizePointer]))
		def, err := vm.CFunToProc(ptr)
		if err != nil {
			return err
		}
		handle := vm.ctx.Defs.Register(def)
		out := make([]byte, 8)
		putU64(out, uint64(handle))
		f.stack.Push(out)
		return nil

	case OpLoadAtomic:
		size := i.Int(0)
		addr := u64FromBytes(f.stack.Pop(align(SizePointer))[:SizePointer])
		v, err := vm.heap.loadAtomic(uintptr(addr), size)
		if err != nil {
			return err
		}
		f.stack.Push(v)
		return nil
	case OpStoreAtomic:
		size := i.Int(0)
		v := f.stack.Pop(align(size))[:size]
		addr := u64FromBytes(f.stack.Pop(align(SizePointer))[:SizePointer])
		return vm.heap.storeAtomic(uintptr(addr), v)
	case OpAtomicRMWAdd, OpAtomicRMWSub, OpAtomicRMWAnd, OpAtomicRMWOr, OpAtomicRMWXor, OpAtomicRMWXchg:
		size := i.Int(0)
		v := f.stack.Pop(align(size))[:size]
		addr := u64FromBytes(f.stack.Pop(align(SizePointer))[:SizePointer])
		old, err := vm.heap.atomicRMW(uintptr(addr), size, i.Code, v)
		if err != nil {
			return err
		}
		f.stack.Push(old)
		return nil
	case OpCmpxchg:
		size := i.Int(0)
		newVal := f.stack.Pop(align(size))[:size]
		expected := f.stack.Pop(align(size))[:size]
		addr := u64FromBytes(f.stack.Pop(align(SizePointer))[:SizePointer])
		old, swapped, err := vm.heap.cmpxchg(uintptr(addr), size, expected, newVal)
		if err != nil {
			return err
		}
		f.stack.Push(old)
		f.stack.Push([]byte{boolByte(swapped)})
		return nil

	case OpInterpreterCurrentFiber:
		cur := vm.scheduler.InterpreterCurrentFiber()
		out := make([]byte, 8)
		if cur != nil {
			putU64(out, uint64(cur.id))
		}
		f.stack.Push(out)
		return nil
	case OpInterpreterSpawn:
		defHandle := u64FromBytes(f.stack.Pop(align(SizePointer))[:SizePointer])
		def, err := vm.ctx.Defs.Get(DefHandle(defHandle))
		if err != nil {
			return err
		}
		spawned, err := vm.scheduler.InterpreterSpawn(vm, def)
		if err != nil {
			return err
		}
		out := make([]byte, 8)
		putU64(out, uint64(spawned.id))
		f.stack.Push(out)
		return nil
	case OpInterpreterFiberSwapcontext:
		toID := u64FromBytes(f.stack.Pop(align(SizeI64))[:SizeI64])
		target := vm.findFiber(int32(toID))
		if target == nil {
			return newFatalError(f.ip, i.Code, "swapcontext to unknown fiber %d", toID)
		}
		vm.scheduler.SwapContext(f, target)
		return nil

	case OpRaiseWithoutBacktrace:
		typeId := TypeId(i.Int(0))
		payload := f.stack.Pop(align(SizePointer))[:SizePointer]
		exc := &Exception{Type: typeId, Payload: payload, Backtrace: vm.callStackUnwind(f)}
		return exc
	case OpReraise:
		return vm.reraise(f)
	case OpCallStackUnwind:
		bt := vm.callStackUnwind(f)
		addr := vm.heap.store(encodeBacktrace(bt))
		out := make([]byte, 8)
		putU64(out, uint64(addr))
		f.stack.Push(out)
		return nil

	case OpByteSwap:
		n := i.Int(0)
		v := append([]byte(nil), f.stack.Pop(align(n))[:n]...)
		for l, r := 0, len(v)-1; l < r; l, r = l+1, r-1 {
			v[l], v[r] = v[r], v[l]
		}
		f.stack.Push(v)
		return nil
	case OpPopcount:
		n := i.Int(0)
		v := f.stack.Pop(align(n))[:n]
		count := 0
		for _, b := range v {
			count += popcountByte(b)
		}
		out := make([]byte, 8)
		putI64(out, int64(count))
		f.stack.Push(out)
		return nil
	case OpCountLeadingZeros:
		n := i.Int(0)
		v := zeroExtend(f.stack.Pop(align(n))[:n], n)
		out := make([]byte, 8)
		putI64(out, int64(clz64(v, n)))
		f.stack.Push(out)
		return nil
	case OpCountTrailingZeros:
		n := i.Int(0)
		v := zeroExtend(f.stack.Pop(align(n))[:n], n)
		out := make([]byte, 8)
		putI64(out, int64(ctz64(v, n)))
		f.stack.Push(out)
		return nil
	case OpCycleCounter:
		out := make([]byte, 8)
		putU64(out, vm.heap.cycleCounter())
		f.stack.Push(out)
		return nil
	case OpPause:
		return nil
	case OpDebugTrap:
		if vm.TrapHook != nil {
			vm.TrapHook(vm, f)
		}
		return nil
	case OpMemcpy, OpMemmove, OpMemset:
		return vm.execMemOp(f, i.Code)

	case OpArgc:
		out := make([]byte, 8)
		putI64(out, int64(len(vm.argv)))
		f.stack.Push(out)
		return nil
	case OpArgv:
		addr := vm.heap.store(encodeArgv(vm.argv))
		out := make([]byte, 8)
		putU64(out, uint64(addr))
		f.stack.Push(out)
		return nil

	case OpUnreachable:
		msg, _ := vm.ctx.SymbolToS(int32(i.RegIdx(0)))
		return newFatalError(f.ip, OpUnreachable, "unreachable: %s", msg)
	}

	return errors.Errorf("unimplemented opcode %s", i.Code)
}

func (vm *VM) libraryError(cause error) *Exception {
	vm.logger.Sugar().Warnw("lib_call failed", "err", cause)
	return &Exception{Type: vm.ctx.namedExceptionType(ExcLibraryError), Payload: []byte(cause.Error())}
}

func (vm *VM) findFiber(id int32) *Fiber {
	if vm.main != nil && vm.main.id == id {
		return vm.main
	}
	for _, f := range vm.scheduler.fibers {
		if f.id == id {
			return f
		}
	}
	return nil
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

func popcountByte(b byte) int {
	n := 0
	for b != 0 {
		n += int(b & 1)
		b >>= 1
	}
	return n
}

func clz64(v uint64, width int) int {
	bits := width * 8
	lead := 0
	for i := bits - 1; i >= 0; i-- {
		if v&(1<<uint(i)) != 0 {
			break
		}
		lead++
	}
	return lead
}

func ctz64(v uint64, width int) int {
	if v == 0 {
		return width * 8
	}
	trail := 0
	for v&1 == 0 {
		trail++
		v >>= 1
	}
	return trail
}

func encodeBacktrace(bt []BacktraceFrame) []byte {
	// Diagnostic encoding only: name length-prefixed, followed by ip, per
	// frame. Never consumed back into typed values, only surfaced to the
	// unreachable/raise diagnostic path.
	var out []byte
	for _, frame := range bt {
		name := frame.DefName
		lenBuf := make([]byte, 4)
		putI32(lenBuf, int32(len(name)))
		out = append(out, lenBuf...)
		out = append(out, name...)
		ipBuf := make([]byte, 8)
		putI64(ipBuf, int64(frame.IP))
		out = append(out, ipBuf...)
	}
	return out
}

func encodeArgv(argv []string) []byte {
	var out []byte
	for _, a := range argv {
		out = append(out, a...)
		out = append(out, 0)
	}
	return out
}
