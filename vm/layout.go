package vm

// TypeId is a dense integer assigned by the external semantic analyzer to
// every monomorphized type. 0 is reserved for the null reference.
type TypeId uint32

const NullTypeId TypeId = 0

// TypeKind is the tag of a TypeDescriptor's sum type.
type TypeKind int

const (
	KindPrimitive TypeKind = iota
	KindReference          // heap-allocated class instance
	KindStruct
	KindTuple
	KindNamedTuple
	KindUnion
	KindPointer
	KindProc
)

func (k TypeKind) String() string {
	switch k {
	case KindPrimitive:
		return "primitive"
	case KindReference:
		return "reference"
	case KindStruct:
		return "struct"
	case KindTuple:
		return "tuple"
	case KindNamedTuple:
		return "named_tuple"
	case KindUnion:
		return "union"
	case KindPointer:
		return "pointer"
	case KindProc:
		return "proc"
	default:
		return "unknown"
	}
}

// FieldDescriptor is one member of a struct/tuple/named-tuple/union type,
// at the byte offset the analyzer assigned it.
type FieldDescriptor struct {
	Name   string // empty for positional tuple members
	Offset int
	Size   int
	Type   TypeId
}

// TypeDescriptor is what a TypeId resolves to: enough information for the
// executor to lay values out on the stack, in frames, and in heap cells,
// without itself running type inference.
type TypeDescriptor struct {
	Id        TypeId
	Kind      TypeKind
	Name      string // diagnostics only
	Size      int    // on-stack footprint, already aligned
	Alignment int
	Fields    []FieldDescriptor // struct/tuple/named-tuple/union members
	Elem      TypeId            // pointer: pointee type; proc: return type
	Parents   []TypeId          // direct supertypes/conformed interfaces, for is_a?
}

// PointerWidth is the machine pointer size this build targets. The
// interpreter only supports 64-bit hosts.
const PointerWidth = 8

// Primitive stack footprints, bool promotes to pointer
// width, the sized ints/floats keep their natural size, pointers are a
// single machine word.
const (
	SizeBool    = PointerWidth
	SizeI8      = 1
	SizeU8      = 1
	SizeI16     = 2
	SizeU16     = 2
	SizeI32     = 4
	SizeU32     = 4
	SizeI64     = 8
	SizeU64     = 8
	SizeF32     = 4
	SizeF64     = 8
	SizePointer = PointerWidth

	// UnionHeaderSize is the widened 8-byte TypeId header every union
	// value carries ahead of its payload, widened from 32 bits to keep
	// the payload word-aligned.
	UnionHeaderSize = 8

	// HeapHeaderSize is the 4-byte TypeId every heap cell carries at
	// offset 0, ahead of its instance variables.
	HeapHeaderSize = 4
)

// align rounds size up to the stack footprint the compiler must pad a
// push to. Every push advances the stack pointer by align(size), keeping
// it a multiple of the pointer width between instructions (the alignment
// invariant between instructions).
func align(size int) int {
	if size <= 0 {
		return 0
	}
	return (size + PointerWidth - 1) &^ (PointerWidth - 1)
}

// alignTo rounds size up to an arbitrary power-of-two alignment, used for
// struct/tuple field layout where a member's natural alignment can be
// smaller than the pointer width.
func alignTo(size, alignment int) int {
	if alignment <= 1 {
		return size
	}
	return (size + alignment - 1) &^ (alignment - 1)
}

// TypeTable resolves TypeIds to descriptors. It is built once by the
// external semantic analyzer and is read-only at execution time:
// concurrent fiber goroutines may look up types without locking.
type TypeTable struct {
	descriptors map[TypeId]*TypeDescriptor
}

func NewTypeTable() *TypeTable {
	return &TypeTable{descriptors: make(map[TypeId]*TypeDescriptor)}
}

// Define registers a descriptor. Called only during the analysis/loading
// phase, before any fiber starts running bytecode.
func (t *TypeTable) Define(d *TypeDescriptor) {
	t.descriptors[d.Id] = d
}

func (t *TypeTable) Lookup(id TypeId) (*TypeDescriptor, bool) {
	if id == NullTypeId {
		return nil, false
	}
	d, ok := t.descriptors[id]
	return d, ok
}

// IsSubtype reports whether sub is filter, or is declared to conform to
// it. Reference and union member conformance both bottom out here, which
// is what reference_is_a/union_is_a opcodes query.
func (t *TypeTable) IsSubtype(sub, filter TypeId) bool {
	if sub == NullTypeId {
		return false
	}
	if sub == filter {
		return true
	}
	d, ok := t.descriptors[sub]
	if !ok {
		return false
	}
	for _, parent := range d.conformsTo() {
		if t.IsSubtype(parent, filter) {
			return true
		}
	}
	return false
}

// conformsTo is a placeholder seam: the real conformance set is supplied
// by the semantic analyzer and attached to TypeDescriptor by whatever
// loads the TypeTable. Without it, a descriptor conforms only to itself.
func (d *TypeDescriptor) conformsTo() []TypeId {
	return d.Parents
}
