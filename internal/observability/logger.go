// Package observability holds the process-wide CLI logger.
package observability

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the logger used by commands. It writes to stderr so stdout
// stays reserved for command output. It is a no-op until InitCLILogger runs.
var CLILogger = zap.NewNop()

// InitCLILogger configures CLILogger for the named service. verbose forces
// debug level; otherwise level is used, falling back to info.
func InitCLILogger(serviceName string, verbose bool, level ...string) {
	lvl := zapcore.InfoLevel
	if len(level) > 0 && strings.TrimSpace(level[0]) != "" {
		if parsed, err := zapcore.ParseLevel(strings.TrimSpace(level[0])); err == nil {
			lvl = parsed
		}
	}
	if verbose {
		lvl = zapcore.DebugLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		zap.NewAtomicLevelAt(lvl),
	)
	CLILogger = zap.New(core).Named(serviceName)
}

// Sync flushes buffered log entries. Errors from syncing a terminal are
// expected and ignored.
func Sync() {
	_ = CLILogger.Sync()
}
