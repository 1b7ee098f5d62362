package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/DanShaders/wsl-fs-notify/internal/cmd"
	"github.com/DanShaders/wsl-fs-notify/pkg/config"
	"github.com/DanShaders/wsl-fs-notify/pkg/logging"
)

var configCommand = &cobra.Command{
	Use:   "config <path>",
	Short: "Load a configuration file and print its resolved values",
	Args:  cobra.ExactArgs(1),
	Run:   cmd.Mainify(configMain),
}

func configMain(_ *cobra.Command, arguments []string) error {
	if _, err := os.Stat(arguments[0]); os.IsNotExist(err) {
		cmd.Warning(fmt.Sprintf("%s does not exist; printing defaults", arguments[0]))
	}

	cfg, err := config.Load(arguments[0])
	if err != nil {
		return errors.Wrap(err, "unable to load configuration")
	}

	level := cfg.ResolveLogLevel(logging.CurrentLevel())
	fmt.Printf("log level:        %s\n", level)
	fmt.Printf("max fail count:   %d\n", cfg.ResolveMaxFailCount())
	fmt.Printf("guest command:    %s\n", cfg.ResolveGuestCommand())
	return nil
}
