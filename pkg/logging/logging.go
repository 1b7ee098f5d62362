// Package logging provides a small leveled logger used throughout the guest
// helper, the host shim, and their shared packages. It intentionally avoids
// pulling in a full structured-logging framework: both the guest helper (a
// single-purpose stdin/stdout-driven process) and the host shim (a library
// injected into an arbitrary host process, where stdout isn't even
// guaranteed to exist) need logging that degrades gracefully rather than
// one that assumes an owned terminal.
package logging

import (
	"log"
	"os"
)

func init() {
	// Set the global logger to use standard error. This matters in
	// particular for the guest helper, whose standard output carries the
	// binary framed protocol stream back to the host shim (see
	// pkg/protocol and pkg/guestwatch): any log line written to stdout
	// would corrupt that stream. The host shim leaves this setting as it
	// is, so its log lines go to the host process's standard error.
	log.SetOutput(os.Stderr)
}

// enabled is the process-wide log level. It defaults to LevelWarn so that
// unconfigured use (e.g. early shim load, before configuration is read)
// still surfaces warnings and errors.
var enabled = LevelWarn

// SetLevel sets the process-wide log level.
func SetLevel(level Level) {
	enabled = level
}

// CurrentLevel returns the process-wide log level.
func CurrentLevel() Level {
	return enabled
}
