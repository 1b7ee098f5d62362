package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DanShaders/wsl-fs-notify/internal/cmd"
	"github.com/DanShaders/wsl-fs-notify/internal/version"
)

func versionMain(*cobra.Command, []string) error {
	fmt.Println(version.String)
	return nil
}

var versionCommand = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run:   cmd.Mainify(versionMain),
}
