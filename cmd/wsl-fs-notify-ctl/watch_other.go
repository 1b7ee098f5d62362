//go:build !linux

package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/DanShaders/wsl-fs-notify/internal/cmd"
)

// watchCommand's real implementation (watch_linux.go) drives pkg/guestwatch
// directly, which is built on inotify and so only exists on Linux. On other
// platforms — including the Windows hosts this CLI is otherwise built for —
// the subcommand stays registered for a consistent help listing but reports
// that it isn't available.
var watchCommand = &cobra.Command{
	Use:   "watch <path>",
	Short: "Recursively watch a local path and print events (Linux only)",
	Args:  cobra.ExactArgs(1),
	Run:   cmd.Mainify(watchMain),
}

func watchMain(*cobra.Command, []string) error {
	return errors.New("watch is only available on Linux, where pkg/guestwatch's inotify engine runs")
}
