package vm

import "github.com/pkg/errors"

// CompiledDef is an opaque, externally supplied type-specialized method
// body: owner type, diagnostic name, parameter layout, return size, a
// bytecode buffer, a local-frame size, and an optional attached block.
// It is created by the (external) semantic analyzer/compiler, never by
// this package — the interpreter only stores and executes it.
type CompiledDef struct {
	OwnerType   TypeId
	Name        string // diagnostics only
	ParamSize   int    // total bytes of pushed arguments, declaration order
	ReturnSize  int
	Bytecode    []Instruction
	FrameSize   int // bytes of locals, zeroed on call
	Handlers    []HandlerInterval
	Block       *CompiledBlock // attached block, if call_with_block bound one
	closureRefs []*ffiClosure  // FFI closures owned by this def; see ffi.go
}

// CompiledBlock is bytecode for a block body (an inlined lambda at its
// call site) plus its own frame and a description of what it captures
// from the enclosing method's locals.
type CompiledBlock struct {
	Name      string
	Bytecode  []Instruction
	FrameSize int
	Captures  []FieldDescriptor // offsets into the enclosing frame
	Handlers  []HandlerInterval
}

// HandlerInterval is one row of a bytecode buffer's exception handler
// table: instructions in [Lo, Hi) that raise a type in Catches unwind to
// Target instead of propagating further.
type HandlerInterval struct {
	Lo, Hi  int
	Target  int
	Catches []TypeId
}

// DefRegistry assigns stable arena indices to CompiledDefs instead of
// hashing on pointer identity (the approach preferred here, since it
// also pins lifetime: a def's FFI closures are dropped when its slot is
// cleared, see ffi.go).
type DefRegistry struct {
	defs []*CompiledDef
}

// DefHandle is an arena index into a DefRegistry.
type DefHandle int32

func NewDefRegistry() *DefRegistry {
	return &DefRegistry{}
}

func (r *DefRegistry) Register(def *CompiledDef) DefHandle {
	r.defs = append(r.defs, def)
	return DefHandle(len(r.defs) - 1)
}

func (r *DefRegistry) Get(h DefHandle) (*CompiledDef, error) {
	if int(h) < 0 || int(h) >= len(r.defs) || r.defs[h] == nil {
		return nil, errors.Errorf("invalid CompiledDef handle %d", h)
	}
	return r.defs[h], nil
}

// Deregister clears a slot and releases any FFI closures the def owned.
func (r *DefRegistry) Deregister(h DefHandle) error {
	def, err := r.Get(h)
	if err != nil {
		return err
	}
	for _, c := range def.closureRefs {
		c.release()
	}
	r.defs[h] = nil
	return nil
}

// BlockRegistry is the CompiledBlock counterpart of DefRegistry.
type BlockRegistry struct {
	blocks []*CompiledBlock
}

type BlockHandle int32

func NewBlockRegistry() *BlockRegistry {
	return &BlockRegistry{}
}

func (r *BlockRegistry) Register(b *CompiledBlock) BlockHandle {
	r.blocks = append(r.blocks, b)
	return BlockHandle(len(r.blocks) - 1)
}

func (r *BlockRegistry) Get(h BlockHandle) (*CompiledBlock, error) {
	if int(h) < 0 || int(h) >= len(r.blocks) || r.blocks[h] == nil {
		return nil, errors.Errorf("invalid CompiledBlock handle %d", h)
	}
	return r.blocks[h], nil
}

// Frame is a call's region of the operand stack: its locals, its return
// linkage (saved ip/frame base to restore on leave), and the implicit
// self pointer used by get_self_ivar/set_self_ivar.
type Frame struct {
	Def        *CompiledDef
	Block      *CompiledBlock // non-nil only for inlined call_block frames
	Self       []byte         // heap cell backing implicit self, may be nil
	Locals     []byte
	ReturnIP   int
	ReturnBase int // operand-stack offset to restore on leave
	IsBlock    bool
}

// OperandStack is the byte-addressed stack instructions push/pop
// against. Kept as a single growable slice per fiber:
// one operand stack per fiber.
type OperandStack struct {
	bytes []byte
}

func NewOperandStack(initialCapacity int) *OperandStack {
	return &OperandStack{bytes: make([]byte, 0, initialCapacity)}
}

func (s *OperandStack) Len() int { return len(s.bytes) }

// Push appends n meaningful bytes of v and pads to align(n), matching
// the stack_push contract every instruction relies on.
func (s *OperandStack) Push(v []byte) {
	n := len(v)
	pad := align(n)
	top := len(s.bytes)
	s.bytes = append(s.bytes, make([]byte, pad)...)
	copy(s.bytes[top:top+n], v)
}

// Grow appends n zero bytes, unconditionally (push_zeros, allocate_class
// scratch space, union widening).
func (s *OperandStack) Grow(n int) {
	s.bytes = append(s.bytes, make([]byte, n)...)
}

// Top returns the last n bytes without removing them.
func (s *OperandStack) Top(n int) []byte {
	return s.bytes[len(s.bytes)-n:]
}

// Pop removes and returns the last n bytes.
func (s *OperandStack) Pop(n int) []byte {
	top := len(s.bytes) - n
	v := append([]byte(nil), s.bytes[top:]...)
	s.bytes = s.bytes[:top]
	return v
}

// Drop removes the last n bytes without copying them out.
func (s *OperandStack) Drop(n int) {
	s.bytes = s.bytes[:len(s.bytes)-n]
}

// Truncate sets the stack pointer back to an absolute offset, used by
// leave/leave_def/break_block and exception unwinding.
func (s *OperandStack) Truncate(offset int) {
	s.bytes = s.bytes[:offset]
}

// Raw exposes the live backing slice for in-place operations (pointer
// arithmetic, ivar reads) that must alias the stack rather than copy it.
func (s *OperandStack) Raw() []byte {
	return s.bytes
}
