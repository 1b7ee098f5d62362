// Command wsl-fs-notify-ctl is a host-side diagnostic CLI: it validates a
// wsl-fs-notify YAML configuration file and, via its watch subcommand, can
// drive the same guest watch engine that ships inside the distro against a
// local directory — useful for diagnosing watch behavior without a live
// host shim attached.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCommand = &cobra.Command{
	Use:   "wsl-fs-notify-ctl",
	Short: "wsl-fs-notify-ctl inspects and exercises a wsl-fs-notify installation",
}

func init() {
	cobra.EnableCommandSorting = false
	cobra.MousetrapHelpText = ""

	rootCommand.AddCommand(
		versionCommand,
		configCommand,
		watchCommand,
	)
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		os.Exit(1)
	}
}
