package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fabworks/fabdeploy/fabric"
	"github.com/fabworks/fabdeploy/internal/version"
)

func (a *app) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("fabdeploy", fabric.Version)
			version.CheckLatest(cmd.Context(), fabric.Version, a.log)
		},
	}
}
