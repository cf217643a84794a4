package vm

import (
	"io"
	"strconv"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
)

// Disassemble renders def's bytecode as an aligned table (address /
// mnemonic / operands / category), color-coding rows by opcode category
// the way the opTable groups them. debugSym, if non-nil, annotates a row
// with the assembler's original source line when available.
func Disassemble(w io.Writer, def *CompiledDef, debugSym map[int]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"addr", "op", "operands", "category", "source"})
	table.SetAutoWrapText(false)

	for addr, inst := range def.Bytecode {
		info := inst.Code.Info()
		name := inst.Code.String()
		category := ""
		operands := ""
		if info != nil {
			category = info.Category
			for n := range info.Operands {
				if n > 0 {
					operands += " "
				}
				operands += strconv.Itoa(int(inst.Operands[n]))
			}
		}
		coloredName := colorForCategory(category)(name)
		source := ""
		if debugSym != nil {
			source = debugSym[addr]
		}
		table.Append([]string{strconv.Itoa(addr), coloredName, operands, category, source})
	}
	table.Render()
}

// colorForCategory picks a terminal color family per opcode category, so
// the table's "op" column reads at a glance the way the teacher's own
// PrintProgram/PrintCurrentState debug output groups register vs
// immediate instructions, just with real color instead of plain text.
func colorForCategory(category string) func(a ...interface{}) string {
	switch category {
	case "literal", "conversion":
		return color.New(color.FgCyan).SprintFunc()
	case "arithmetic", "comparison":
		return color.New(color.FgYellow).SprintFunc()
	case "pointer", "local", "ivar", "const":
		return color.New(color.FgGreen).SprintFunc()
	case "stack", "branch":
		return color.New(color.FgMagenta).SprintFunc()
	case "call", "union", "tuple", "symbol", "proc":
		return color.New(color.FgBlue).SprintFunc()
	case "atomic", "fiber":
		return color.New(color.FgRed).SprintFunc()
	case "exception":
		return color.New(color.FgHiRed).SprintFunc()
	default:
		return color.New(color.FgWhite).SprintFunc()
	}
}
