//go:build linux

package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/DanShaders/wsl-fs-notify/internal/cmd"
	"github.com/DanShaders/wsl-fs-notify/pkg/guestwatch"
	"github.com/DanShaders/wsl-fs-notify/pkg/logging"
	"github.com/DanShaders/wsl-fs-notify/pkg/protocol"
)

var watchCommand = &cobra.Command{
	Use:   "watch <path>",
	Short: "Recursively watch a local path and print events, exercising the same engine used inside the distro",
	Args:  cobra.ExactArgs(1),
	Run:   cmd.Mainify(watchMain),
}

var watchConfiguration struct {
	// recursive controls whether subdirectories are also watched.
	recursive bool
}

func init() {
	flags := watchCommand.Flags()
	flags.BoolVar(&watchConfiguration.recursive, "recursive", true, "Watch subdirectories recursively")
}

// watchMain drives a guestwatch.Watcher against a local directory and prints
// every Event it produces, decoded back off the wire exactly as the host
// shim would see it. It is meant for diagnosing watch behavior directly,
// without needing a WSL distro or a host application attached.
func watchMain(_ *cobra.Command, arguments []string) error {
	path := arguments[0]

	pipeReader, pipeWriter, err := os.Pipe()
	if err != nil {
		return errors.Wrap(err, "unable to create event pipe")
	}
	defer pipeReader.Close()
	defer pipeWriter.Close()

	logger := logging.RootLogger.Sublogger("ctl")
	encoder := protocol.NewEncoder(pipeWriter)

	watcher, err := guestwatch.NewWatcher(0, watchConfiguration.recursive, 0, encoder, logger)
	if err != nil {
		return errors.Wrap(err, "unable to create watcher")
	}
	if err := watcher.InstallRoot(path); err != nil {
		return errors.Wrap(err, "unable to install root watch")
	}
	watcher.RunInitialScan()

	go printEvents(pipeReader)

	fmt.Printf("watching %s (recursive=%v); press Ctrl+C to stop\n", path, watchConfiguration.recursive)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	fds := []unix.PollFd{{Fd: int32(watcher.InotifyFd()), Events: unix.POLLIN}}
	for {
		select {
		case <-interrupt:
			watcher.Teardown()
			return nil
		default:
		}

		n, err := unix.Poll(fds, 500)
		if err != nil && err != unix.EINTR {
			return errors.Wrap(err, "poll failed")
		}
		if n > 0 && fds[0].Revents != 0 {
			watcher.Drain()
		}
	}
}

// printEvents decodes framed Event messages from r and prints them until the
// pipe closes.
func printEvents(r *os.File) {
	reader := protocol.NewReader()
	scratch := make([]byte, 4096)
	for {
		n, err := r.Read(scratch)
		if n > 0 {
			reader.Feed(scratch[:n])
			for {
				payload, ok := reader.TryMessage()
				if !ok {
					break
				}
				msg, decodeErr := protocol.Decode(payload)
				if decodeErr != nil {
					continue
				}
				if ev, ok := msg.(protocol.Event); ok {
					fmt.Printf("%s %q\n", ev.Action, ev.Path)
				}
			}
		}
		if err != nil {
			return
		}
	}
}
