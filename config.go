package mpigo

import (
	"os"

	"github.com/behrlich/mpigo/internal/logging"
)

// LogLevelEnv is the process environment variable Init reads to set
// the default logger's level (§6 Environment: "Logging level is read
// from a process environment variable at init; otherwise there is no
// configuration surface").
const LogLevelEnv = "MPIGO_LOG_LEVEL"

// Config holds the knobs Init accepts. The zero value is valid: an
// empty LogLevel defers to LogLevelEnv (and then to the logging
// package's own default). QueueDepthHint is not read by Init.
type Config struct {
	// LogLevel overrides LogLevelEnv when non-empty. Accepts the same
	// names as logging.ParseLevel ("debug", "info", "warn", "error").
	LogLevel string
	// QueueDepthHint is advisory sizing information. Init does not pass
	// it to the transport worker, which the caller constructs before
	// calling Init.
	QueueDepthHint int
}

// resolveLogLevel applies the override-then-environment precedence
// described on Config.LogLevel.
func (c Config) resolveLogLevel() logging.LogLevel {
	if c.LogLevel != "" {
		return logging.ParseLevel(c.LogLevel)
	}
	if env := os.Getenv(LogLevelEnv); env != "" {
		return logging.ParseLevel(env)
	}
	return logging.LevelInfo
}
