package vm

import "math"

// Arithmetic, comparison, conversion and libm opcodes are each a large
// family of otherwise-identical operations that differ only in width,
// signedness, or float-vs-int. Rather than hand-writing one case per
// opcode (~36 arithmetic + ~14 comparison + ~21 conversion + ~28 libm
// variants), each family is driven by a small literal table keyed by
// Bytecode, mirroring the same "opcode metadata as data, not code"
// principle bytecode.go's opTable already follows.

type arithKind int

const (
	arithCheckedInt arithKind = iota
	arithWrappingInt
	arithUnsafeDivMod
	arithFloat
)

type arithOp int

const (
	opAdd arithOp = iota
	opSub
	opMul
	opDiv
	opMod
)

type arithEntry struct {
	width  int // byte width of each operand
	signed bool
	kind   arithKind
	op     arithOp
}

var arithTable = map[Bytecode]arithEntry{
	OpAddI8:  {1, true, arithCheckedInt, opAdd},
	OpAddI16: {2, true, arithCheckedInt, opAdd},
	OpAddI32: {4, true, arithCheckedInt, opAdd},
	OpAddI64: {8, true, arithCheckedInt, opAdd},
	OpAddU64: {8, false, arithCheckedInt, opAdd},
	OpSubI8:  {1, true, arithCheckedInt, opSub},
	OpSubI16: {2, true, arithCheckedInt, opSub},
	OpSubI32: {4, true, arithCheckedInt, opSub},
	OpSubI64: {8, true, arithCheckedInt, opSub},
	OpSubU64: {8, false, arithCheckedInt, opSub},
	OpMulI8:  {1, true, arithCheckedInt, opMul},
	OpMulI16: {2, true, arithCheckedInt, opMul},
	OpMulI32: {4, true, arithCheckedInt, opMul},
	OpMulI64: {8, true, arithCheckedInt, opMul},
	OpMulU64: {8, false, arithCheckedInt, opMul},

	OpAddF32: {4, true, arithFloat, opAdd},
	OpAddF64: {8, true, arithFloat, opAdd},
	OpSubF32: {4, true, arithFloat, opSub},
	OpSubF64: {8, true, arithFloat, opSub},
	OpMulF32: {4, true, arithFloat, opMul},
	OpMulF64: {8, true, arithFloat, opMul},
	OpDivF32: {4, true, arithFloat, opDiv},
	OpDivF64: {8, true, arithFloat, opDiv},

	OpAddWrapI32: {4, true, arithWrappingInt, opAdd},
	OpAddWrapI64: {8, true, arithWrappingInt, opAdd},
	OpSubWrapI32: {4, true, arithWrappingInt, opSub},
	OpSubWrapI64: {8, true, arithWrappingInt, opSub},
	OpMulWrapI32: {4, true, arithWrappingInt, opMul},
	OpMulWrapI64: {8, true, arithWrappingInt, opMul},

	OpUnsafeDivI32: {4, true, arithUnsafeDivMod, opDiv},
	OpUnsafeDivI64: {8, true, arithUnsafeDivMod, opDiv},
	OpUnsafeDivU32: {4, false, arithUnsafeDivMod, opDiv},
	OpUnsafeDivU64: {8, false, arithUnsafeDivMod, opDiv},
	OpUnsafeModI32: {4, true, arithUnsafeDivMod, opMod},
	OpUnsafeModI64: {8, true, arithUnsafeDivMod, opMod},
	OpUnsafeModU32: {4, false, arithUnsafeDivMod, opMod},
	OpUnsafeModU64: {8, false, arithUnsafeDivMod, opMod},
}

// execArith pops two same-width operands and pushes the result. Checked
// variants raise OverflowError when the mathematical result doesn't fit
// back in width bits; wrapping variants never signal (two's-complement
// modulo 2^width); unsafe div/mod are raw machine operations, undefined
// (here: a fatal error rather than silently wrong output) on div-by-zero
// since the compiler is supposed to have already guarded that case.
func (vm *VM) execArith(f *Fiber, e arithEntry) error {
	if e.kind == arithFloat {
		return vm.execFloatArith(f, e)
	}

	b := zeroExtendSigned(f.stack.Pop(align(e.width))[:e.width], e.width, e.signed)
	a := zeroExtendSigned(f.stack.Pop(align(e.width))[:e.width], e.width, e.signed)

	var result int64
	var overflow bool
	switch e.op {
	case opAdd:
		result = a + b
		overflow = e.kind == arithCheckedInt && addOverflows(e.width, e.signed, a, b, result)
	case opSub:
		result = a - b
		overflow = e.kind == arithCheckedInt && subOverflows(e.width, e.signed, a, b, result)
	case opMul:
		result = a * b
		overflow = e.kind == arithCheckedInt && mulOverflows(e.width, e.signed, a, b, result)
	case opDiv:
		if b == 0 {
			return newFatalError(f.ip, OpUnreachable, "unsafe division by zero")
		}
		if e.signed {
			result = a / b
		} else {
			result = int64(uint64(a) / uint64(b))
		}
	case opMod:
		if b == 0 {
			return newFatalError(f.ip, OpUnreachable, "unsafe modulo by zero")
		}
		if e.signed {
			result = a % b
		} else {
			result = int64(uint64(a) % uint64(b))
		}
	}

	if overflow && vm.config.CheckedArith {
		return vm.overflowError(f)
	}

	out := make([]byte, e.width)
	putU64Truncated(out, uint64(result))
	f.stack.Push(out)
	return nil
}

func (vm *VM) execFloatArith(f *Fiber, e arithEntry) error {
	if e.width == 4 {
		b := f32FromBytes(f.stack.Pop(align(4))[:4])
		a := f32FromBytes(f.stack.Pop(align(4))[:4])
		var r float32
		switch e.op {
		case opAdd:
			r = a + b
		case opSub:
			r = a - b
		case opMul:
			r = a * b
		case opDiv:
			r = a / b
		}
		out := make([]byte, 4)
		putF32(out, r)
		f.stack.Push(out)
		return nil
	}
	b := f64FromBytes(f.stack.Pop(align(8))[:8])
	a := f64FromBytes(f.stack.Pop(align(8))[:8])
	var r float64
	switch e.op {
	case opAdd:
		r = a + b
	case opSub:
		r = a - b
	case opMul:
		r = a * b
	case opDiv:
		r = a / b
	}
	out := make([]byte, 8)
	putF64(out, r)
	f.stack.Push(out)
	return nil
}

func (vm *VM) overflowError(f *Fiber) error {
	return &Exception{Type: vm.ctx.namedExceptionType(ExcOverflowError), Backtrace: vm.callStackUnwind(f)}
}

func zeroExtendSigned(b []byte, width int, signed bool) int64 {
	if signed {
		return signExtend(b, width)
	}
	return int64(zeroExtend(b, width))
}

func signedRange(width int) (lo, hi int64) {
	bits := uint(width * 8)
	hi = int64(uint64(1)<<(bits-1)) - 1
	lo = -hi - 1
	return
}

func unsignedMax(width int) uint64 {
	bits := uint(width * 8)
	if bits >= 64 {
		return math.MaxUint64
	}
	return (uint64(1) << bits) - 1
}

// addOverflows detects checked-add overflow. For width < 8 the true sum
// never wraps at the int64 level (operands are at most 32 bits wide), so
// comparing result against the narrower width's range is sufficient. At
// width 8, a and b are already the full 64-bit value and a+b has already
// wrapped in int64 arithmetic by the time result is formed, so the
// narrower-range check can never fire — overflow there is instead
// detected from the operand/result sign bits (signed) or via the
// unsigned carry out of the addition (unsigned).
func addOverflows(width int, signed bool, a, b, result int64) bool {
	if signed {
		if width == 8 {
			return (a >= 0) == (b >= 0) && (result >= 0) != (a >= 0)
		}
		lo, hi := signedRange(width)
		return result < lo || result > hi
	}
	if width == 8 {
		return uint64(result) < uint64(a)
	}
	return uint64(result) > unsignedMax(width)
}

// subOverflows mirrors addOverflows. Signed width-8 underflow/overflow
// shows up as the operands having different signs and the result's sign
// not matching the minuend's. Unsigned subtraction must compare a and b
// as uint64 — a signed a < b breaks once the high bit is set, since a
// large unsigned value's int64 bit pattern reads as negative.
func subOverflows(width int, signed bool, a, b, result int64) bool {
	if signed {
		if width == 8 {
			return (a >= 0) != (b >= 0) && (result >= 0) != (a >= 0)
		}
		lo, hi := signedRange(width)
		return result < lo || result > hi
	}
	return uint64(a) < uint64(b)
}

func mulOverflows(width int, signed bool, a, b, result int64) bool {
	if signed {
		lo, hi := signedRange(width)
		// -1 * MinInt64 wraps back to MinInt64, and MinInt64 / -1 is
		// MinInt64 again in Go, so the round-trip below cannot see it.
		if a == -1 && b == math.MinInt64 {
			return true
		}
		if a != 0 && result/a != b {
			return true
		}
		return result < lo || result > hi
	}
	if a == 0 {
		return false
	}
	return uint64(result)/uint64(a) != uint64(b) || uint64(result) > unsignedMax(width)
}

// Comparisons: cmp_{i32,i64,u32,u64,f32,f64} push a tri-state i32
// (-1/0/+1); cmp_eq/neq/lt/le/gt/ge fold that into a bool.

type cmpEntry struct {
	width  int
	signed bool
	float  bool
}

var cmpTable = map[Bytecode]cmpEntry{
	OpCmpI32: {4, true, false},
	OpCmpI64: {8, true, false},
	OpCmpU32: {4, false, false},
	OpCmpU64: {8, false, false},
	OpCmpF32: {4, false, true},
	OpCmpF64: {8, false, true},
}

func (vm *VM) execCompare(f *Fiber, e cmpEntry) error {
	var tri int32
	if e.float {
		if e.width == 4 {
			b := f32FromBytes(f.stack.Pop(align(4))[:4])
			a := f32FromBytes(f.stack.Pop(align(4))[:4])
			tri = float32TriState(a, b)
		} else {
			b := f64FromBytes(f.stack.Pop(align(8))[:8])
			a := f64FromBytes(f.stack.Pop(align(8))[:8])
			tri = float64TriState(a, b)
		}
	} else {
		b := zeroExtendSigned(f.stack.Pop(align(e.width))[:e.width], e.width, e.signed)
		a := zeroExtendSigned(f.stack.Pop(align(e.width))[:e.width], e.width, e.signed)
		less, greater := a < b, a > b
		if !e.signed {
			less, greater = uint64(a) < uint64(b), uint64(a) > uint64(b)
		}
		switch {
		case less:
			tri = -1
		case greater:
			tri = 1
		}
	}
	out := make([]byte, 4)
	putI32(out, tri)
	f.stack.Push(out)
	return nil
}

// float32TriState/float64TriState follow the native backend's lowering:
// NaN compares as +1 (not-equal to everything, and deliberately never
// "less"), everything else follows IEEE 754 ordering.
func float32TriState(a, b float32) int32 {
	if math.IsNaN(float64(a)) || math.IsNaN(float64(b)) {
		return 1
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func float64TriState(a, b float64) int32 {
	if math.IsNaN(a) || math.IsNaN(b) {
		return 1
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// execFoldTriState implements cmp_eq/neq/lt/le/gt/ge: pop the tri-state
// i32 left by a cmp_* opcode and fold it to a bool.
func (vm *VM) execFoldTriState(f *Fiber, op Bytecode) error {
	tri := i32FromBytes(f.stack.Pop(align(4))[:4])
	var result bool
	switch op {
	case OpCmpEq:
		result = tri == 0
	case OpCmpNeq:
		result = tri != 0
	case OpCmpLt:
		result = tri < 0
	case OpCmpLe:
		result = tri <= 0
	case OpCmpGt:
		result = tri > 0
	case OpCmpGe:
		result = tri >= 0
	}
	f.stack.Push([]byte{boolByte(result)})
	return nil
}

// execFoldFloatCompare implements cmp_feq/cmp_fneq directly against two
// floats rather than through the tri-state opcode, since NaN must never
// equal even itself: the tri-state encoding can't distinguish "NaN vs
// NaN" from "equal", so these opcodes compare natively.
func (vm *VM) execFoldFloatCompare(f *Fiber, op Bytecode) error {
	b := f64FromBytes(f.stack.Pop(align(8))[:8])
	a := f64FromBytes(f.stack.Pop(align(8))[:8])
	eq := a == b // Go's == on float64 already treats NaN as never-equal
	result := eq
	if op == OpCmpFNeq {
		result = !eq
	}
	f.stack.Push([]byte{boolByte(result)})
	return nil
}

// Conversions: i{8,16,32,64}/u{...} -> f{32,64}, f32<->f64, f{32,64} ->
// i64 truncating-unchecked.

type convEntry struct {
	fromWidth int
	fromFloat bool
	fromSigned bool
	toFloat   bool
	to64      bool // true => f64/i64 destination, false => f32
}

var convTable = map[Bytecode]convEntry{
	OpI8ToF32:  {1, false, true, true, false},
	OpI8ToF64:  {1, false, true, true, true},
	OpI16ToF32: {2, false, true, true, false},
	OpI16ToF64: {2, false, true, true, true},
	OpI32ToF32: {4, false, true, true, false},
	OpI32ToF64: {4, false, true, true, true},
	OpI64ToF32: {8, false, true, true, false},
	OpI64ToF64: {8, false, true, true, true},
	OpU8ToF32:  {1, false, false, true, false},
	OpU8ToF64:  {1, false, false, true, true},
	OpU16ToF32: {2, false, false, true, false},
	OpU16ToF64: {2, false, false, true, true},
	OpU32ToF32: {4, false, false, true, false},
	OpU32ToF64: {4, false, false, true, true},
	OpU64ToF32: {8, false, false, true, false},
	OpU64ToF64: {8, false, false, true, true},
	OpF32ToF64: {4, true, true, true, true},
	OpF64ToF32: {8, true, true, true, false},
	OpF32ToI64Unchecked: {4, true, true, false, true},
	OpF64ToI64Unchecked: {8, true, true, false, true},
}

func (vm *VM) execConvert(f *Fiber, e convEntry) error {
	raw := f.stack.Pop(align(e.fromWidth))[:e.fromWidth]

	if e.fromFloat {
		var fval float64
		if e.fromWidth == 4 {
			fval = float64(f32FromBytes(raw))
		} else {
			fval = f64FromBytes(raw)
		}
		if e.toFloat {
			// f32<->f64
			if e.to64 {
				out := make([]byte, 8)
				putF64(out, fval)
				f.stack.Push(out)
			} else {
				out := make([]byte, 4)
				putF32(out, float32(fval))
				f.stack.Push(out)
			}
			return nil
		}
		// truncating, wrapping on overflow, per f{32,64}_to_i64!
		t := math.Trunc(fval)
		var iv int64
		if t >= -(1<<63) && t < 1<<63 {
			iv = int64(t)
		} else {
			m := math.Mod(t, 1<<64)
			if m < 0 {
				m += 1 << 64
			}
			iv = int64(uint64(m))
		}
		out := make([]byte, 8)
		putI64(out, iv)
		f.stack.Push(out)
		return nil
	}

	var ival int64
	if e.fromSigned {
		ival = signExtend(raw, e.fromWidth)
	} else {
		ival = int64(zeroExtend(raw, e.fromWidth))
	}
	fval := float64(ival)
	if !e.fromSigned && e.fromWidth == 8 {
		fval = uint64ToFloat64(uint64(ival))
	}
	if e.to64 {
		out := make([]byte, 8)
		putF64(out, fval)
		f.stack.Push(out)
	} else {
		out := make([]byte, 4)
		putF32(out, float32(fval))
		f.stack.Push(out)
	}
	return nil
}

func uint64ToFloat64(v uint64) float64 {
	if v>>63 == 0 {
		return float64(int64(v))
	}
	return float64(v>>1)*2 + float64(v&1)
}

// libm: a small surface (ceil, cos, exp, floor, log, round, rint, sin,
// sqrt, trunc, pow, powi, min, max, copysign) at f32 and f64.

type libmOp int

const (
	libmCeil libmOp = iota
	libmCos
	libmExp
	libmFloor
	libmLog
	libmRound
	libmRint
	libmSin
	libmSqrt
	libmTrunc
	libmPow
	libmPowI
	libmMin
	libmMax
	libmCopysign
)

type libmEntry struct {
	op       libmOp
	width    int
	operands int // 1 or 2
}

var libmTable = map[Bytecode]libmEntry{
	OpCeilF32: {libmCeil, 4, 1}, OpCeilF64: {libmCeil, 8, 1},
	OpCosF32: {libmCos, 4, 1}, OpCosF64: {libmCos, 8, 1},
	OpExpF32: {libmExp, 4, 1}, OpExpF64: {libmExp, 8, 1},
	OpFloorF32: {libmFloor, 4, 1}, OpFloorF64: {libmFloor, 8, 1},
	OpLogF32: {libmLog, 4, 1}, OpLogF64: {libmLog, 8, 1},
	OpRoundF32: {libmRound, 4, 1}, OpRoundF64: {libmRound, 8, 1},
	OpRintF32: {libmRint, 4, 1}, OpRintF64: {libmRint, 8, 1},
	OpSinF32: {libmSin, 4, 1}, OpSinF64: {libmSin, 8, 1},
	OpSqrtF32: {libmSqrt, 4, 1}, OpSqrtF64: {libmSqrt, 8, 1},
	OpTruncF32: {libmTrunc, 4, 1}, OpTruncF64: {libmTrunc, 8, 1},
	OpPowF32: {libmPow, 4, 2}, OpPowF64: {libmPow, 8, 2},
	OpPowIF32: {libmPowI, 4, 2}, OpPowIF64: {libmPowI, 8, 2},
	OpMinF32: {libmMin, 4, 2}, OpMinF64: {libmMin, 8, 2},
	OpMaxF32: {libmMax, 4, 2}, OpMaxF64: {libmMax, 8, 2},
	OpCopysignF32: {libmCopysign, 4, 2}, OpCopysignF64: {libmCopysign, 8, 2},
}

func (vm *VM) execLibm(f *Fiber, e libmEntry) error {
	if e.width == 4 {
		var a, b float32
		if e.operands == 2 {
			if e.op == libmPowI {
				n := i32FromBytes(f.stack.Pop(align(4))[:4])
				a = f32FromBytes(f.stack.Pop(align(4))[:4])
				r := float32(math.Pow(float64(a), float64(n)))
				out := make([]byte, 4)
				putF32(out, r)
				f.stack.Push(out)
				return nil
			}
			b = f32FromBytes(f.stack.Pop(align(4))[:4])
		}
		a = f32FromBytes(f.stack.Pop(align(4))[:4])
		out := make([]byte, 4)
		putF32(out, float32(libmApply(e.op, float64(a), float64(b))))
		f.stack.Push(out)
		return nil
	}

	var a, b float64
	if e.operands == 2 {
		if e.op == libmPowI {
			n := i32FromBytes(f.stack.Pop(align(4))[:4])
			a = f64FromBytes(f.stack.Pop(align(8))[:8])
			r := math.Pow(a, float64(n))
			out := make([]byte, 8)
			putF64(out, r)
			f.stack.Push(out)
			return nil
		}
		b = f64FromBytes(f.stack.Pop(align(8))[:8])
	}
	a = f64FromBytes(f.stack.Pop(align(8))[:8])
	out := make([]byte, 8)
	putF64(out, libmApply(e.op, a, b))
	f.stack.Push(out)
	return nil
}

func libmApply(op libmOp, a, b float64) float64 {
	switch op {
	case libmCeil:
		return math.Ceil(a)
	case libmCos:
		return math.Cos(a)
	case libmExp:
		return math.Exp(a)
	case libmFloor:
		return math.Floor(a)
	case libmLog:
		return math.Log(a)
	case libmRound:
		return math.Round(a)
	case libmRint:
		return math.RoundToEven(a)
	case libmSin:
		return math.Sin(a)
	case libmSqrt:
		return math.Sqrt(a)
	case libmTrunc:
		return math.Trunc(a)
	case libmPow:
		return math.Pow(a, b)
	case libmMin:
		return math.Min(a, b)
	case libmMax:
		return math.Max(a, b)
	case libmCopysign:
		return math.Copysign(a, b)
	default:
		return 0
	}
}

// execMemOp implements memcpy/memmove/memset: the volatile flag is the
// instruction's inline operand (matching the operand the compiler always
// emits) and is not read, since the in-process Heap has no notion of a
// volatile mapping to suppress reordering around.
func (vm *VM) execMemOp(f *Fiber, op Bytecode) error {
	switch op {
	case OpMemset:
		n := i64FromBytes(f.stack.Pop(align(SizeI64))[:SizeI64])
		val := f.stack.Pop(align(SizeI8))[0]
		addr := u64FromBytes(f.stack.Pop(align(SizePointer))[:SizePointer])
		buf := make([]byte, n)
		for i := range buf {
			buf[i] = val
		}
		return vm.heap.write(uintptr(addr), buf)
	default: // memcpy, memmove: same observable effect against the Heap model
		n := i64FromBytes(f.stack.Pop(align(SizeI64))[:SizeI64])
		src := u64FromBytes(f.stack.Pop(align(SizePointer))[:SizePointer])
		dst := u64FromBytes(f.stack.Pop(align(SizePointer))[:SizePointer])
		data, err := vm.heap.read(uintptr(src), int(n))
		if err != nil {
			return err
		}
		return vm.heap.write(uintptr(dst), data)
	}
}
