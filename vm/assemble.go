package vm

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// A minimal textual assembler for the instruction set bytecode.go
// describes, so the interpreter is exercisable end-to-end without the
// external semantic analyzer this package otherwise assumes as its
// upstream. Mirrors the teacher's own CompileSource/CompileSourceFromBuffer
// pipeline (preprocess into label-resolved triples, then parse each line
// into an Instruction) extended from the teacher's 2-operand mnemonics to
// this package's up-to-3-operand Instruction.

var (
	asmComments = regexp.MustCompile(`//.*`)

	asmEscapeSeqReplacements = map[string]string{
		"\\a": "\a", "\\b": "\b", "\\t": "\t", "\\n": "\n",
		"\\r": "\r", "\\f": "\f", "\\v": "\v", "\\\"": "\"",
	}
)

// Assembled is the result of assembling a source program: a single
// CompiledDef standing in for the entrypoint method body a real semantic
// analyzer would hand the interpreter, plus the instruction-address ->
// source-text map used for disassembly and diagnostics.
type Assembled struct {
	Def      *CompiledDef
	DebugSym map[int]string
}

func insertAsmEscapeSeqReplacements(line string) string {
	for orig, replace := range asmEscapeSeqReplacements {
		line = strings.ReplaceAll(line, orig, replace)
	}
	return line
}

// preprocessAsmLine strips comments/whitespace, resolves a label
// definition into its eventual instruction index, or otherwise splits a
// line into a (mnemonic, operand...) tuple. Quoted string literals after
// put_u8 are expanded into one push per byte, reverse order, matching the
// teacher's Const-string expansion.
func preprocessAsmLine(line string, labels map[*regexp.Regexp]string, lines [][]string, debugSym map[int]string) ([][]string, error) {
	line = asmComments.ReplaceAllString(line, "")
	line = strings.TrimSpace(line)

	if line == "" {
		return lines, nil
	}
	if strings.HasSuffix(line, ":") {
		label := strings.TrimSuffix(line, ":")
		if strings.ContainsFunc(label, unicode.IsSpace) {
			return nil, fmt.Errorf("invalid label (inner whitespace not allowed): %s", line)
		}
		r, err := regexp.Compile(fmt.Sprintf(`^%s\b`, regexp.QuoteMeta(label)))
		if err != nil {
			return nil, fmt.Errorf("invalid label: %s", line)
		}
		labels[r] = fmt.Sprintf("%d", len(lines))
		if debugSym != nil {
			debugSym[len(lines)] = label
		}
		return lines, nil
	}

	fields := strings.Fields(line)
	mnemonic := fields[0]
	args := fields[1:]

	if mnemonic == "put_u8" && len(args) == 1 && strings.HasPrefix(args[0], "\"") {
		s := insertAsmEscapeSeqReplacements(strings.Trim(args[0], "\""))
		bytes := []byte(s)
		for i := len(bytes) - 1; i >= 0; i-- {
			if debugSym != nil {
				debugSym[len(lines)] = fmt.Sprintf("put_u8 '%c'", bytes[i])
			}
			lines = append(lines, []string{"put_u8", fmt.Sprintf("%d", bytes[i])})
		}
		return lines, nil
	}

	if debugSym != nil {
		debugSym[len(lines)] = line
	}
	lines = append(lines, append([]string{mnemonic}, args...))
	return lines, nil
}

// parseAsmArg converts one operand token to an int32: decimal, 0x-prefixed
// hex, or a character literal ('a').
func parseAsmArg(tok string, kind OperandKind) (int32, error) {
	if tok == "" {
		return 0, fmt.Errorf("missing operand")
	}
	if strings.HasPrefix(tok, "'") && strings.HasSuffix(tok, "'") && len(tok) >= 3 {
		runes := []rune(tok[1 : len(tok)-1])
		if len(runes) != 1 {
			return 0, fmt.Errorf("invalid character literal: %s", tok)
		}
		return int32(runes[0]), nil
	}
	base := 10
	if strings.HasPrefix(tok, "0x") {
		base = 16
		tok = strings.TrimPrefix(tok, "0x")
	}
	if strings.HasPrefix(tok, "-") {
		v, err := strconv.ParseInt(tok, base, 32)
		return int32(v), err
	}
	v, err := strconv.ParseUint(tok, base, 32)
	return int32(uint32(v)), err
}

// parseAsmLine converts one resolved (mnemonic, operand...) tuple into an
// Instruction. put_i64/put_u64/put_f64 accept a single 64-bit literal and
// are split here into the low/high 32-bit halves bytecode.go's opTable
// declares for them.
func parseAsmLine(line []string) (Instruction, error) {
	mnemonic := line[0]
	args := line[1:]

	code, ok := lookupBytecode(mnemonic)
	if !ok {
		return Instruction{}, fmt.Errorf("unknown mnemonic: %s", mnemonic)
	}
	info := code.Info()

	if code == OpPutI64 || code == OpPutU64 {
		if len(args) != 1 {
			return Instruction{}, fmt.Errorf("%s wants a single 64-bit literal operand", mnemonic)
		}
		v, err := strconv.ParseUint(strings.TrimPrefix(args[0], "0x"), hexOr(args[0]), 64)
		if err != nil {
			return Instruction{}, err
		}
		return NewInstruction(code, int32(uint32(v)), int32(uint32(v>>32)))
	}
	if code == OpPutF64 {
		if len(args) != 1 {
			return Instruction{}, fmt.Errorf("%s wants a single float literal operand", mnemonic)
		}
		f, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return Instruction{}, err
		}
		bits := math.Float64bits(f)
		return NewInstruction(code, int32(uint32(bits)), int32(uint32(bits>>32)))
	}
	if code == OpPutF32 {
		if len(args) != 1 {
			return Instruction{}, fmt.Errorf("%s wants a single float literal operand", mnemonic)
		}
		f, err := strconv.ParseFloat(args[0], 32)
		if err != nil {
			return Instruction{}, err
		}
		return NewInstruction(code, int32(math.Float32bits(float32(f))))
	}

	if len(args) != len(info.Operands) {
		return Instruction{}, fmt.Errorf("%s wants %d operand(s) but got %d", mnemonic, len(info.Operands), len(args))
	}
	operands := make([]int32, len(args))
	for i, a := range args {
		v, err := parseAsmArg(a, info.Operands[i])
		if err != nil {
			return Instruction{}, fmt.Errorf("%s operand %d: %w", mnemonic, i, err)
		}
		operands[i] = v
	}
	return NewInstruction(code, operands...)
}

func hexOr(tok string) int {
	if strings.HasPrefix(tok, "0x") {
		return 16
	}
	return 10
}

// AssembleSourceFromBuffer assembles a slice of source lines into a
// single entrypoint CompiledDef. debug, when true, retains an
// instruction-address -> source-text map for the disassembler and
// diagnostics.
func AssembleSourceFromBuffer(debug bool, lines []string) (*Assembled, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("no source lines given")
	}

	var debugSym map[int]string
	if debug {
		debugSym = make(map[int]string)
	}

	labels := make(map[*regexp.Regexp]string)
	preprocessed := make([][]string, 0, len(lines))
	for _, line := range lines {
		var err error
		preprocessed, err = preprocessAsmLine(line, labels, preprocessed, debugSym)
		if err != nil {
			return nil, err
		}
	}

	instructions := make([]Instruction, 0, len(preprocessed))
	for _, fields := range preprocessed {
		resolved := append([]string(nil), fields...)
		for label, addr := range labels {
			for i := 1; i < len(resolved); i++ {
				resolved[i] = label.ReplaceAllString(resolved[i], addr)
			}
		}
		inst, err := parseAsmLine(resolved)
		if err != nil {
			return nil, err
		}
		instructions = append(instructions, inst)
	}

	def := &CompiledDef{
		Name:     "main",
		Bytecode: instructions,
	}
	return &Assembled{Def: def, DebugSym: debugSym}, nil
}

// AssembleSource reads and concatenates one or more files, in order,
// before assembling, so the first instruction of the first file is
// whatever starts executing first.
func AssembleSource(debug bool, files ...string) (*Assembled, error) {
	lines := make([]string, 0)
	for _, filename := range files {
		file, err := os.Open(filename)
		if err != nil {
			return nil, fmt.Errorf("could not read %s: %w", filename, err)
		}
		reader := bufio.NewReader(file)
		for {
			line, _, err := reader.ReadLine()
			if err != nil {
				break
			}
			lines = append(lines, string(line))
		}
		file.Close()
	}
	return AssembleSourceFromBuffer(debug, lines)
}
