package vm

import "go.uber.org/zap"

// NewNopLogger is the default logger for library use: silent unless the
// embedder opts in, matching zap.NewNop()'s usual role as the
// library-default sink in this corpus.
func NewNopLogger() *zap.Logger {
	return zap.NewNop()
}

// NewDevelopmentLogger is what the CLI wires up: human-readable,
// colorized-by-terminal output at Debug level and above when --trace is
// set, Info otherwise.
func NewDevelopmentLogger(trace bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if !trace {
		cfg.Level.SetLevel(zap.InfoLevel)
	}
	return cfg.Build()
}
