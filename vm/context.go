package vm

import (
	"github.com/dolthub/swiss"
	"github.com/pkg/errors"
)

// Context bundles the side tables the executor consults outside of the
// current frame: the interned symbol table, the type table, the constant
// and class-var pools, and the def/block registries. All of it is
// append-only and read-mostly after startup, so lookups
// don't need a lock once loading has finished.
//
// The symbol table and the FFI-closure-to-def map use
// github.com/dolthub/swiss (an open-addressing SwissTable), grounded on
// mna-nenuphar's use of the same library for its own interned-string and
// global-variable tables.
type Context struct {
	Types  *TypeTable
	Defs   *DefRegistry
	Blocks *BlockRegistry

	symbols     *swiss.Map[int32, string]
	symbolsByID *swiss.Map[string, int32]
	nextSymbol  int32

	consts         []ConstSlot
	classVars      []ConstSlot
	libFuncs       []*LibFunction
	callIfaces     []*CallInterface
	closuresByCode *swiss.Map[uintptr, *ffiClosure]

	namedTypes map[string]TypeId
}

// namedExceptionType resolves a well-known exception name (OverflowError,
// LibraryError, OutOfMemoryError) to the TypeId the loaded program's
// type table assigned it. Falls back to 0 (null) if the program never
// declared that type, in which case the exception still carries a
// payload describing the failure even though is_a? against it is moot.
func (c *Context) namedExceptionType(name string) TypeId {
	return c.namedTypes[name]
}

// BindExceptionType lets the loader (whatever wires a TypeTable up from
// the analyzer's output) tell the context which TypeId corresponds to
// one of the well-known runtime exception names.
func (c *Context) BindExceptionType(name string, id TypeId) {
	if c.namedTypes == nil {
		c.namedTypes = make(map[string]TypeId)
	}
	c.namedTypes[name] = id
}

// ConstSlot backs one lazily-initialized constant or class variable:
// const_initialized/get_const/set_const (and the class-var equivalents)
// all index into a slice of these.
type ConstSlot struct {
	Name        string
	Initialized bool
	Value       []byte
}

func NewContext() *Context {
	return &Context{
		Types:          NewTypeTable(),
		Defs:           NewDefRegistry(),
		Blocks:         NewBlockRegistry(),
		symbols:        swiss.NewMap[int32, string](64),
		symbolsByID:    swiss.NewMap[string, int32](64),
		closuresByCode: swiss.NewMap[uintptr, *ffiClosure](16),
	}
}

// Intern assigns (or reuses) a compact integer for s, for symbol_to_s and
// for any bytecode that references symbols by index.
func (c *Context) Intern(s string) int32 {
	if id, ok := c.symbolsByID.Get(s); ok {
		return id
	}
	id := c.nextSymbol
	c.nextSymbol++
	c.symbols.Put(id, s)
	c.symbolsByID.Put(s, id)
	return id
}

// SymbolToS implements the symbol_to_s opcode: index -> interned string.
func (c *Context) SymbolToS(index int32) (string, error) {
	s, ok := c.symbols.Get(index)
	if !ok {
		return "", errors.Errorf("unknown symbol index %d", index)
	}
	return s, nil
}

// DefineConst reserves a new constant slot and returns its index.
func (c *Context) DefineConst(name string) int {
	c.consts = append(c.consts, ConstSlot{Name: name})
	return len(c.consts) - 1
}

func (c *Context) ConstInitialized(index int) (bool, error) {
	if index < 0 || index >= len(c.consts) {
		return false, errors.Errorf("invalid const index %d", index)
	}
	return c.consts[index].Initialized, nil
}

func (c *Context) GetConst(index int) ([]byte, error) {
	if index < 0 || index >= len(c.consts) {
		return nil, errors.Errorf("invalid const index %d", index)
	}
	return c.consts[index].Value, nil
}

func (c *Context) SetConst(index int, value []byte) error {
	if index < 0 || index >= len(c.consts) {
		return errors.Errorf("invalid const index %d", index)
	}
	c.consts[index].Value = append([]byte(nil), value...)
	c.consts[index].Initialized = true
	return nil
}

// DefineClassVar/GetClassVar/SetClassVar mirror the const pool but back
// get_class_var/set_class_var, which are keyed separately from
// get_const/set_const even though the storage shape is identical.
func (c *Context) DefineClassVar(name string) int {
	c.classVars = append(c.classVars, ConstSlot{Name: name})
	return len(c.classVars) - 1
}

func (c *Context) GetClassVar(index int) ([]byte, error) {
	if index < 0 || index >= len(c.classVars) {
		return nil, errors.Errorf("invalid class var index %d", index)
	}
	return c.classVars[index].Value, nil
}

func (c *Context) SetClassVar(index int, value []byte) error {
	if index < 0 || index >= len(c.classVars) {
		return errors.Errorf("invalid class var index %d", index)
	}
	c.classVars[index].Value = append([]byte(nil), value...)
	c.classVars[index].Initialized = true
	return nil
}

// RegisterLibFunc and RegisterCallInterface add side-table entries for
// the FFI bridge (ffi.go); lib_call/proc_to_c_fun index into these by
// position, the same append-only convention as the symbol table.
func (c *Context) RegisterLibFunc(f *LibFunction) int {
	c.libFuncs = append(c.libFuncs, f)
	return len(c.libFuncs) - 1
}

func (c *Context) LibFunc(index int) (*LibFunction, error) {
	if index < 0 || index >= len(c.libFuncs) {
		return nil, errors.Errorf("invalid LibFunction index %d", index)
	}
	return c.libFuncs[index], nil
}

func (c *Context) RegisterCallInterface(ci *CallInterface) int {
	c.callIfaces = append(c.callIfaces, ci)
	return len(c.callIfaces) - 1
}

func (c *Context) CallInterfaceAt(index int) (*CallInterface, error) {
	if index < 0 || index >= len(c.callIfaces) {
		return nil, errors.Errorf("invalid CallInterface index %d", index)
	}
	return c.callIfaces[index], nil
}
