package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"corevm/vm"
)

// The CLI wraps the vm package's assembler/executor/disassembler behind
// two subcommands: eval (assemble and run) and disasm (assemble and
// list). Flags are bound through viper so GVM_* environment variables
// and an optional config file can override the same knobs, with flag >
// env > file > default precedence.

var (
	cfgFile      string
	stackSize    int
	maxStackSize int
	checkedArith bool
	trace        bool
	gcPercent    int
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "corevm",
		Short: "corevm is a stack-based bytecode interpreter",
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (none is read unless this flag is given)")
	pf.IntVar(&stackSize, "stack-size", 0, "initial operand stack size in bytes")
	pf.IntVar(&maxStackSize, "max-stack-size", 0, "maximum operand stack size in bytes (stored in the config; the operand stack does not enforce it)")
	pf.BoolVar(&checkedArith, "checked-arith", true, "raise OverflowError on checked arithmetic overflow")
	pf.BoolVar(&trace, "trace", false, "enable instruction-level trace logging")
	pf.IntVar(&gcPercent, "gc-percent", -1, "GOGC percentage during a run, -1 disables the collector")

	root.AddCommand(newEvalCmd())
	root.AddCommand(newDisasmCmd())
	return root
}

// bindConfig wires cobra's flag set into a fresh viper instance so
// GVM_STACK_SIZE etc. and an optional config file can override a flag
// the user didn't explicitly pass, then hands vm.LoadConfig the result.
func bindConfig(cmd *cobra.Command) (*vm.Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GVM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	if err := v.BindPFlags(cmd.Parent().PersistentFlags()); err != nil {
		return nil, err
	}

	return vm.LoadConfig(v), nil
}

func newEvalCmd() *cobra.Command {
	var debugSym bool
	cmd := &cobra.Command{
		Use:   "eval <file> [file...]",
		Short: "assemble and run one or more source files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := bindConfig(cmd)
			if err != nil {
				return err
			}

			logger, err := vm.NewDevelopmentLogger(cfg.Trace)
			if err != nil {
				return err
			}
			defer logger.Sync()

			assembled, err := vm.AssembleSource(debugSym, args...)
			if err != nil {
				return fmt.Errorf("assemble: %w", err)
			}

			machine := vm.NewVM(vm.NewContext(), cfg, logger, args)
			result, err := machine.Run(assembled.Def)
			if cfg.Trace {
				logger.Sugar().Debugw("scheduler stats", "stats", machine.Stats())
			}
			if err != nil {
				return fmt.Errorf("run: %w", err)
			}
			if len(result) > 0 {
				fmt.Printf("result: % x\n", result)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&debugSym, "debug-sym", false, "retain source line debug symbols while assembling")
	return cmd
}

func newDisasmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "disasm <file> [file...]",
		Short: "assemble and print a disassembly listing",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			assembled, err := vm.AssembleSource(true, args...)
			if err != nil {
				return fmt.Errorf("assemble: %w", err)
			}
			vm.Disassemble(os.Stdout, assembled.Def, assembled.DebugSym)
			return nil
		},
	}
	return cmd
}
