package vm

import "github.com/spf13/viper"

// Config holds VM tunables. The teacher reads GOGC directly from
// os.LookupEnv at the call site in run.go; this generalizes that into a
// proper config layer bound to github.com/spf13/viper (and, at the CLI
// boundary in main.go, to cobra/pflag flags), with flag > env > file >
// default precedence, viper's standard behavior.
type Config struct {
	InitialStackSize int
	MaxStackSize     int
	HeapSegmentBytes int
	CheckedArith     bool
	Trace            bool
	GCPercent        int
	MaxRunnableFiber int64
}

// DefaultConfig matches the teacher's own defaults where it had an
// equivalent knob (GOGC disabled during execution, per run.go's
// RunProgram), and picks conservative values for the rest.
func DefaultConfig() *Config {
	return &Config{
		InitialStackSize: 64 * 1024,
		MaxStackSize:     16 * 1024 * 1024,
		HeapSegmentBytes: 64 * 1024 * 1024,
		CheckedArith:     true,
		Trace:            false,
		GCPercent:        -1,
		MaxRunnableFiber: 1,
	}
}

// LoadConfig builds a Config from a viper instance already populated by
// the CLI layer (flags bound via BindPFlag, env vars, and an optional
// config file). Call sites that don't need a CLI can just use
// DefaultConfig directly.
func LoadConfig(v *viper.Viper) *Config {
	cfg := DefaultConfig()
	if v == nil {
		return cfg
	}
	if v.IsSet("stack-size") {
		cfg.InitialStackSize = v.GetInt("stack-size")
	}
	if v.IsSet("max-stack-size") {
		cfg.MaxStackSize = v.GetInt("max-stack-size")
	}
	if v.IsSet("checked-arith") {
		cfg.CheckedArith = v.GetBool("checked-arith")
	}
	if v.IsSet("trace") {
		cfg.Trace = v.GetBool("trace")
	}
	if v.IsSet("gc-percent") {
		cfg.GCPercent = v.GetInt("gc-percent")
	}
	return cfg
}
