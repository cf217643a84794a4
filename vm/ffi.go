package vm

import (
	"reflect"

	"github.com/ebitengine/purego"
	"github.com/pkg/errors"
)

// FFI Bridge: replaces a hand-written libffi cgo binding with
// github.com/ebitengine/purego's pure-Go dynamic library calling
// convention. LibFunction resolves a symbol once at registration via
// purego.Dlsym; lib_call marshals the popped stack arguments through
// purego.SyscallN. proc_to_c_fun uses purego.NewCallback to mint a
// C-callable function pointer bound to a trampoline that re-enters the
// interpreter; c_fun_to_proc looks a previously minted callback back up
// by its code pointer.

// ArgKind classifies one argument or return slot of a CallInterface, the
// libffi "cif" concept.
type ArgKind int

const (
	ArgI64 ArgKind = iota
	ArgU64
	ArgF32
	ArgF64
	ArgPointer
)

func (k ArgKind) size() int {
	switch k {
	case ArgF32:
		return 4
	default:
		return 8
	}
}

// CallInterface is a libffi call interface: the argument types, the
// return type, and whether the callee is variadic.
type CallInterface struct {
	Args     []ArgKind
	Return   ArgKind
	HasVoid  bool // true if Return is meaningless (void C function)
	Variadic bool
}

// LibFunction is a resolved native symbol plus the call interface used
// to invoke it.
type LibFunction struct {
	Name   string
	addr   uintptr
	CallIf *CallInterface
}

// LibHandle wraps an open dynamic library, resolved once at startup via
// purego.Dlopen.
type LibHandle struct {
	handle uintptr
}

func OpenLibrary(path string) (*LibHandle, error) {
	h, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, errors.Wrapf(err, "dlopen %s", path)
	}
	return &LibHandle{handle: h}, nil
}

// Resolve looks up symbol in lib and returns a LibFunction bound to ci.
func (lib *LibHandle) Resolve(symbol string, ci *CallInterface) (*LibFunction, error) {
	addr, err := purego.Dlsym(lib.handle, symbol)
	if err != nil {
		return nil, errors.Wrapf(err, "dlsym %s", symbol)
	}
	return &LibFunction{Name: symbol, addr: addr, CallIf: ci}, nil
}

// LibCall implements the lib_call opcode: read arg values off the
// operand stack (in declaration order, already laid out per ci.Args),
// invoke through purego.SyscallN, and return the raw result bytes to
// push. A non-zero err return becomes a catchable LibraryError exception
// not a Go panic.
func (c *Context) LibCall(fn *LibFunction, argBytes [][]byte) (result []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("lib_call %s: native call panicked: %v", fn.Name, r)
		}
	}()

	raw := make([]uintptr, len(argBytes))
	for i, kind := range fn.CallIf.Args {
		raw[i] = argToUintptr(argBytes[i], kind)
	}

	ret, _, _ := purego.SyscallN(fn.addr, raw...)
	if fn.CallIf.HasVoid {
		return nil, nil
	}
	return uintptrToBytes(ret, fn.CallIf.Return), nil
}

func argToUintptr(b []byte, kind ArgKind) uintptr {
	switch kind {
	case ArgF32:
		return uintptr(u32FromBytes(b))
	case ArgF64, ArgI64, ArgU64, ArgPointer:
		return uintptr(u64FromBytes(b))
	default:
		return 0
	}
}

func uintptrToBytes(v uintptr, kind ArgKind) []byte {
	out := make([]byte, kind.size())
	switch kind {
	case ArgF32:
		putU32(out, uint32(v))
	default:
		putU64(out, uint64(v))
	}
	return out
}

// ffiClosure is a native-callable trampoline minted by proc_to_c_fun. It
// is owned by the CompiledDef it wraps (per DESIGN.md's chosen lifetime
// policy) and released when that def is deregistered, resolving the
// "probably leaks" lifetime question with an explicit choice
// instead of leaving it unbounded.
type ffiClosure struct {
	codePtr uintptr
	def     *CompiledDef
	ctx     *Context
	vm      *VM
}

func (c *ffiClosure) release() {
	c.vm.ctx.closuresByCode.Delete(c.codePtr)
}

// goTypeFor maps a CallInterface argument/return kind to the concrete Go
// type purego.NewCallback's reflection needs to build a matching C calling
// convention trampoline.
func goTypeFor(kind ArgKind) reflect.Type {
	switch kind {
	case ArgF32:
		return reflect.TypeOf(float32(0))
	case ArgF64:
		return reflect.TypeOf(float64(0))
	case ArgI64:
		return reflect.TypeOf(int64(0))
	case ArgU64:
		return reflect.TypeOf(uint64(0))
	default: // ArgPointer
		return reflect.TypeOf(uintptr(0))
	}
}

func reflectValueToBytes(v reflect.Value, kind ArgKind) []byte {
	out := make([]byte, kind.size())
	switch kind {
	case ArgF32:
		putF32(out, float32(v.Float()))
	case ArgF64:
		putF64(out, v.Float())
	case ArgI64:
		putI64(out, v.Int())
	default: // ArgU64, ArgPointer
		putU64(out, v.Convert(reflect.TypeOf(uint64(0))).Uint())
	}
	return out
}

func bytesToReflectValue(b []byte, kind ArgKind) reflect.Value {
	switch kind {
	case ArgF32:
		return reflect.ValueOf(f32FromBytes(b))
	case ArgF64:
		return reflect.ValueOf(f64FromBytes(b))
	case ArgI64:
		return reflect.ValueOf(i64FromBytes(b))
	case ArgU64:
		return reflect.ValueOf(u64FromBytes(b))
	default: // ArgPointer
		return reflect.ValueOf(uintptr(u64FromBytes(b)))
	}
}

// ProcToCFun implements proc_to_c_fun(call_interface): builds an FFI
// closure bound to a trampoline that re-enters call(def) when invoked
// from C. The trampoline's Go signature is built dynamically via
// reflect.MakeFunc/reflect.FuncOf from ci's argument and return kinds, so
// a proc taking (for example) a single i32 argument gets a real
// one-argument C function pointer rather than the fixed no-argument stub
// a static Go func type would force.
func (vm *VM) ProcToCFun(def *CompiledDef, ci *CallInterface) (uintptr, error) {
	closure := &ffiClosure{def: def, ctx: vm.ctx, vm: vm}

	argTypes := make([]reflect.Type, len(ci.Args))
	for i, k := range ci.Args {
		argTypes[i] = goTypeFor(k)
	}
	var outTypes []reflect.Type
	if !ci.HasVoid {
		outTypes = []reflect.Type{goTypeFor(ci.Return)}
	}
	fnType := reflect.FuncOf(argTypes, outTypes, false)

	trampoline := reflect.MakeFunc(fnType, func(in []reflect.Value) []reflect.Value {
		argBytes := make([][]byte, len(in))
		for i, v := range in {
			argBytes[i] = reflectValueToBytes(v, ci.Args[i])
		}
		result, err := vm.callFromHost(def, argBytes)
		if err != nil {
			vm.logger.Sugar().Warnw("ffi trampoline call failed", "def", def.Name, "err", err)
			if ci.HasVoid {
				return nil
			}
			return []reflect.Value{reflect.Zero(outTypes[0])}
		}
		if ci.HasVoid {
			return nil
		}
		return []reflect.Value{bytesToReflectValue(result, ci.Return)}
	})

	ptr := purego.NewCallback(trampoline.Interface())
	closure.codePtr = ptr
	def.closureRefs = append(def.closureRefs, closure)
	vm.ctx.closuresByCode.Put(ptr, closure)
	return ptr, nil
}

// CFunToProc implements c_fun_to_proc: the inverse lookup, finding a
// previously minted closure by its code pointer.
func (vm *VM) CFunToProc(codePtr uintptr) (*CompiledDef, error) {
	closure, ok := vm.ctx.closuresByCode.Get(codePtr)
	if !ok {
		return nil, errors.Errorf("no FFI closure registered for code pointer %#x", codePtr)
	}
	return closure.def, nil
}
