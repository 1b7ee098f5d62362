// Package config loads the optional YAML configuration file shared by the
// guest helper and the host diagnostic CLI (SPEC_FULL.md §9.3), following the
// load-and-unmarshal idiom used throughout the teacher's
// pkg/configuration/... packages.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/DanShaders/wsl-fs-notify/pkg/logging"
)

// defaultMaxFailCount mirrors guestwatch.DefaultMaxFailCount (DIR_FAIL_CNT).
// It is duplicated here, rather than imported, so that this package stays
// free of pkg/guestwatch's inotify/Linux build dependency: pkg/config is
// linked into cmd/wsl-fs-notify-ctl, which also targets Windows.
const defaultMaxFailCount = 10

// Configuration is the top-level YAML configuration object.
type Configuration struct {
	// LogLevel names the logging level (see logging.NameToLevel). An empty
	// or absent value leaves the logger at its default level.
	LogLevel string `yaml:"logLevel"`
	// MaxFailCount overrides guestwatch.DefaultMaxFailCount (DIR_FAIL_CNT).
	// Zero or absent means "use the default"; it exists primarily so tests
	// and diagnostics can shrink the retry budget to provoke a Watcher
	// failure deterministically.
	MaxFailCount int `yaml:"maxFailCount"`
	// GuestCommand names the guest helper command (default
	// "wsl-fs-notify"). wsl-fs-notify-ctl's config subcommand reports it;
	// the host shim does not read this configuration and always launches
	// hostshim.GuestCommand.
	GuestCommand string `yaml:"guestCommand"`
}

// defaultGuestCommand is the command name assumed when the configuration
// doesn't specify one.
const defaultGuestCommand = "wsl-fs-notify"

// Load reads and parses the YAML configuration file at path. A missing file
// is not an error: it yields a zero-value Configuration so callers can apply
// their own defaults uniformly, matching
// pkg/configuration/global.LoadConfiguration's pass-through-on-not-exist
// behavior, except here the caller only needs to check os.IsNotExist if it
// cares to distinguish the two cases.
func Load(path string) (*Configuration, error) {
	result := &Configuration{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return nil, errors.Wrap(err, "unable to read configuration file")
	}

	if err := yaml.Unmarshal(data, result); err != nil {
		return nil, errors.Wrap(err, "unable to parse configuration file")
	}

	return result, nil
}

// ResolveLogLevel translates the configured log level name, defaulting to
// current if the configuration doesn't specify one or names an unrecognized
// level.
func (c *Configuration) ResolveLogLevel(current logging.Level) logging.Level {
	if c == nil || c.LogLevel == "" {
		return current
	}
	level, ok := logging.NameToLevel(c.LogLevel)
	if !ok {
		return current
	}
	return level
}

// ResolveMaxFailCount returns the configured retry budget, or
// guestwatch.DefaultMaxFailCount if none was specified.
func (c *Configuration) ResolveMaxFailCount() int {
	if c == nil || c.MaxFailCount <= 0 {
		return defaultMaxFailCount
	}
	return c.MaxFailCount
}

// ResolveGuestCommand returns the configured guest command name, or
// defaultGuestCommand if none was specified.
func (c *Configuration) ResolveGuestCommand() string {
	if c == nil || c.GuestCommand == "" {
		return defaultGuestCommand
	}
	return c.GuestCommand
}
