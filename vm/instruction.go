package vm

import (
	"fmt"
	"unsafe"
)

// Instruction is a fixed-width encoding of one opcode plus its inline
// operands. The teacher's Instruction packed {code, register, arg} into 8
// bytes for a one-register, one-immediate instruction set; this set has
// opcodes needing up to three inline operands (get_struct_ivar,
// put_in_union, tuple_indexer_known_index), so the struct widens to a
// fixed 3-operand array instead of growing field-by-field.
type Instruction struct {
	Code     Bytecode
	_        uint16 // padding, keeps Operands 4-byte aligned
	Operands [3]int32
}

const instructionSize = uint32(unsafe.Sizeof(Instruction{}))

func init() {
	if instructionSize != 16 {
		panic(fmt.Sprintf("Instruction expected to pack to 16 bytes, got %d", instructionSize))
	}
}

// NewInstruction builds an instruction, validating that code was given
// exactly as many operands as its opTable entry declares.
func NewInstruction(code Bytecode, operands ...int32) (Instruction, error) {
	info := code.Info()
	if info == nil {
		return Instruction{}, fmt.Errorf("unknown opcode %d", code)
	}
	if len(operands) != len(info.Operands) {
		return Instruction{}, fmt.Errorf("%s expects %d operand(s), got %d", info.Name, len(info.Operands), len(operands))
	}
	var inst Instruction
	inst.Code = code
	copy(inst.Operands[:], operands)
	return inst, nil
}

func (i Instruction) String() string {
	info := i.Code.Info()
	if info == nil {
		return fmt.Sprintf("<unknown opcode %d>", i.Code)
	}
	if len(info.Operands) == 0 {
		return info.Name
	}
	s := info.Name
	for n := 0; n < len(info.Operands); n++ {
		s += fmt.Sprintf(" %d", i.Operands[n])
	}
	return s
}

// RegIdx reads operand n as an index into a side table (symbol,
// CompiledDef, CompiledBlock, LibFunction, CallInterface).
func (i Instruction) RegIdx(n int) int {
	return int(i.Operands[n])
}

// Int reads operand n as a plain machine integer (size, offset, count, type id).
func (i Instruction) Int(n int) int {
	return int(i.Operands[n])
}

// Addr reads operand n as an absolute bytecode offset.
func (i Instruction) Addr(n int) int {
	return int(i.Operands[n])
}
