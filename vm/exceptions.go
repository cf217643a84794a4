package vm

import (
	"fmt"

	"github.com/pkg/errors"
)

// Exception is a source-language exception: first-class, raised by
// interpreter_raise_without_backtrace, propagated via handler tables. It
// is never a Go panic — the executor's dispatch loop checks for a
// pending exception after every opcode that can raise one.
type Exception struct {
	Type      TypeId
	Payload   []byte // the raised value's bytes, laid out per its type
	Backtrace []BacktraceFrame
}

// BacktraceFrame is one entry of a captured backtrace, built by
// interpreter_call_stack_unwind or at raise time.
type BacktraceFrame struct {
	DefName string
	IP      int
}

func (e *Exception) Error() string {
	return fmt.Sprintf("exception type %d (%d frame(s))", e.Type, len(e.Backtrace))
}

// Well-known exception type names the executor constructs directly,
// independent of whatever TypeIds the semantic analyzer assigns them at
// load time (resolved through namedExceptionType once BindExceptionType
// has been called for them).
const (
	ExcOverflowError = "OverflowError"
	ExcLibraryError  = "LibraryError"
	ExcOutOfMemory   = "OutOfMemoryError"
)

// FatalError is an internal bug / invariant violation: mismatched union
// tag, out-of-range opcode, a nil pointer where the compiler promised
// non-null. It aborts the run; there is no handler table for it. Its
// cause is built with github.com/pkg/errors, which records a stack trace
// at the point newFatalError is called; Error() prints only the cause's
// message, not that trace.
type FatalError struct {
	cause error
	IP    int
	Op    Bytecode
}

func (f *FatalError) Error() string {
	return fmt.Sprintf("fatal VM error at ip=%d (%s): %v", f.IP, f.Op, f.cause)
}

func (f *FatalError) Unwind() error { return f.cause }

func newFatalError(ip int, op Bytecode, format string, args ...interface{}) *FatalError {
	return &FatalError{
		cause: errors.Errorf(format, args...),
		IP:    ip,
		Op:    op,
	}
}

// findHandler finds, for a raise at a given ip, the innermost
// handler interval whose range contains it and whose Catches includes
// excType (or a supertype of it, per the TypeTable).
func findHandler(handlers []HandlerInterval, ip int, excType TypeId, types *TypeTable) (*HandlerInterval, bool) {
	for i := len(handlers) - 1; i >= 0; i-- {
		h := &handlers[i]
		if ip < h.Lo || ip >= h.Hi {
			continue
		}
		for _, catch := range h.Catches {
			if types.IsSubtype(excType, catch) {
				return h, true
			}
		}
	}
	return nil, false
}

// raise implements interpreter_raise_without_backtrace plus the unwind
// walk described for the raise opcode: walk frames from the top, find
// the first matching handler, pop the stack down to its recorded depth,
// and jump. If no frame catches it, raise returns the exception itself
// so the caller can treat it as an unhandled, process-terminating error.
func (vm *VM) raise(f *Fiber, exc *Exception) error {
	ip := f.ip - 1 // the raising instruction; f.ip already points past it
	for i := len(f.frames) - 1; i >= 0; i-- {
		fr := f.frames[i]
		var handlers []HandlerInterval
		var code []Instruction
		if fr.Def != nil {
			handlers, code = fr.Def.Handlers, fr.Def.Bytecode
		} else if fr.Block != nil {
			handlers, code = fr.Block.Handlers, fr.Block.Bytecode
		}
		if h, ok := findHandler(handlers, ip, exc.Type, vm.ctx.Types); ok {
			f.frames = f.frames[:i+1]
			f.stack.Truncate(fr.ReturnBase)
			f.code = code
			f.ip = h.Target
			f.pendingException = nil
			f.lastCaught = exc
			return nil
		}
		ip = fr.ReturnIP - 1 // the call instruction in the next frame out
	}
	return exc
}

// reraise implements the reraise opcode: rethrow the last exception this
// fiber caught.
func (vm *VM) reraise(f *Fiber) error {
	if f.lastCaught == nil {
		return newFatalError(f.ip, OpReraise, "reraise with no previously caught exception")
	}
	return vm.raise(f, f.lastCaught)
}

// callStackUnwind implements interpreter_call_stack_unwind: captures a
// backtrace record from the live frame stack without raising anything.
func (vm *VM) callStackUnwind(f *Fiber) []BacktraceFrame {
	bt := make([]BacktraceFrame, 0, len(f.frames))
	for i := len(f.frames) - 1; i >= 0; i-- {
		fr := f.frames[i]
		name := "<block>"
		if fr.Def != nil {
			name = fr.Def.Name
		}
		bt = append(bt, BacktraceFrame{DefName: name, IP: fr.ReturnIP})
	}
	return bt
}
