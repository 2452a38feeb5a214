package cmd

import (
	"github.com/spf13/cobra"

	"github.com/fabworks/fabdeploy/config"
	"github.com/fabworks/fabdeploy/workspace"
)

func (a *app) publishCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Create or update declared items in the target workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := a.buildOptions(cmd.Context())
			if err != nil {
				return err
			}
			endpoint, err := a.buildEndpoint(opts.Features())
			if err != nil {
				return err
			}

			ws := workspace.New(endpoint, opts, a.log)
			summary, err := ws.Publish(cmd.Context())
			a.report(summary)
			return err
		},
	}
	a.deployFlags(cmd)
	return cmd
}

func (a *app) validateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the repository and parameter file without touching any workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Validation is offline; a placeholder id keeps option
			// construction happy when none is given.
			if a.workspaceID == "" && a.workspaceName == "" {
				a.workspaceID = config.DefaultWorkspaceID
			}
			opts, err := a.buildOptions(cmd.Context())
			if err != nil {
				return err
			}
			if err := workspace.Validate(opts, a.log); err != nil {
				return err
			}
			a.log.Info("repository is valid", "directory", opts.RepositoryDir())
			return nil
		},
	}
	a.deployFlags(cmd)
	return cmd
}
