//go:build linux

// Command wsl-fs-notify is the guest-side helper: it is launched by the host
// shim inside the WSL distro, performs the startup handshake over standard
// input/output, and then serves WatchRequest/UnwatchRequest commands by
// driving recursive inotify watches, reporting Event messages back over
// standard output (see pkg/protocol and pkg/guestwatch).
package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/DanShaders/wsl-fs-notify/internal/version"
	"github.com/DanShaders/wsl-fs-notify/pkg/config"
	"github.com/DanShaders/wsl-fs-notify/pkg/guestwatch"
	"github.com/DanShaders/wsl-fs-notify/pkg/logging"
	"github.com/DanShaders/wsl-fs-notify/pkg/protocol"
)

var rootConfiguration struct {
	// configPath is the optional YAML configuration file path.
	configPath string
	// logLevel overrides the configuration file's log level, if set.
	logLevel string
	// version requests that the version be printed instead of serving.
	version bool
}

func rootMain(*cobra.Command, []string) error {
	if rootConfiguration.version {
		fmt.Println(version.String)
		return nil
	}

	cfg, err := config.Load(rootConfiguration.configPath)
	if err != nil {
		return errors.Wrap(err, "unable to load configuration")
	}

	level := cfg.ResolveLogLevel(logging.CurrentLevel())
	if rootConfiguration.logLevel != "" {
		if parsed, ok := logging.NameToLevel(rootConfiguration.logLevel); ok {
			level = parsed
		}
	}
	logging.SetLevel(level)
	logger := logging.RootLogger.Sublogger("guest")

	encoder := protocol.NewEncoder(os.Stdout)
	engine := guestwatch.NewEngine(os.Stdin, os.Stdout, encoder, logger, cfg.ResolveMaxFailCount())

	if err := engine.Handshake(); err != nil {
		return errors.Wrap(err, "handshake failed")
	}

	if err := engine.Run(); err != nil {
		return errors.Wrap(err, "serve loop terminated")
	}
	return nil
}

var rootCommand = &cobra.Command{
	Use:          "wsl-fs-notify",
	Short:        "wsl-fs-notify serves recursive filesystem watches to a host shim over standard input/output",
	SilenceUsage: true,
	RunE:         rootMain,
}

func init() {
	flags := rootCommand.Flags()
	flags.StringVar(&rootConfiguration.configPath, "config", "/etc/wsl-fs-notify.yaml", "Path to the YAML configuration file")
	flags.StringVar(&rootConfiguration.logLevel, "log-level", "", "Override the configured log level (disabled|error|warn|info|debug|trace)")
	flags.BoolVarP(&rootConfiguration.version, "version", "V", false, "Show version information")

	cobra.EnableCommandSorting = false
	cobra.MousetrapHelpText = ""
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		os.Exit(1)
	}
}
