// Package debug gates verbose diagnostics, such as the underlying cause of
// a failed record open, behind an explicit switch.
package debug

import (
	"os"
	"strings"
	"sync/atomic"
)

const (
	envDebug    = "CHARTVAULT_DEBUG"
	envLogLevel = "CHARTVAULT_LOG_LEVEL"
)

var enabled atomic.Bool

func init() {
	InitFromEnv()
}

// Enabled reports whether debug diagnostics are on.
func Enabled() bool {
	return enabled.Load()
}

func SetEnabled(value bool) {
	enabled.Store(value)
}

// InitFromEnv enables debug output when CHARTVAULT_DEBUG is true or
// CHARTVAULT_LOG_LEVEL is debug.
func InitFromEnv() {
	enabled.Store(strings.EqualFold(os.Getenv(envDebug), "true") ||
		strings.EqualFold(os.Getenv(envLogLevel), "debug"))
}

// InitFromLogLevel follows the configured log level unless one of the
// environment variables already decided.
func InitFromLogLevel(logLevel string) {
	if os.Getenv(envDebug) != "" || os.Getenv(envLogLevel) != "" {
		return
	}
	enabled.Store(strings.EqualFold(logLevel, "debug"))
}
