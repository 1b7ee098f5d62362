package cmd

import (
	"github.com/spf13/cobra"
)

// Mainify wraps a Cobra entry point that returns an error (rather than
// calling os.Exit itself), so deferred cleanup still runs before the process
// terminates on failure.
func Mainify(entry func(*cobra.Command, []string) error) func(*cobra.Command, []string) {
	return func(command *cobra.Command, arguments []string) {
		if err := entry(command, arguments); err != nil {
			Fatal(err)
		}
	}
}
