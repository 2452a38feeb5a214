package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/fabworks/fabdeploy/faults"
	"github.com/fabworks/fabdeploy/workspace"
)

func (a *app) unpublishCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unpublish",
		Short: "Delete workspace items that are not declared in the repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := a.buildOptions(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.confirmDeletion(opts.WorkspaceID(), opts.WorkspaceName()); err != nil {
				return err
			}
			endpoint, err := a.buildEndpoint(opts.Features())
			if err != nil {
				return err
			}

			ws := workspace.New(endpoint, opts, a.log)
			summary, err := ws.Unpublish(cmd.Context())
			a.report(summary)
			return err
		},
	}
	a.deployFlags(cmd)
	cmd.Flags().BoolVarP(&a.yes, "yes", "y", false, "skip the deletion confirmation prompt")
	return cmd
}

// confirmDeletion asks before deleting anything. Non-interactive runs must
// pass --yes; deleting on a pipeline's behalf without it is refused.
func (a *app) confirmDeletion(workspaceID, workspaceName string) error {
	if a.yes {
		return nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return faults.Newf(faults.InputError,
			"unpublish deletes workspace items; pass --yes to confirm in non-interactive runs")
	}

	target := workspaceName
	if target == "" {
		target = workspaceID
	}
	confirmed := false
	prompt := huh.NewConfirm().
		Title(fmt.Sprintf("Delete undeclared items from workspace %s?", target)).
		Description("Items present remotely but absent from the repository will be removed.").
		Affirmative("Delete").
		Negative("Abort").
		Value(&confirmed)
	if err := prompt.Run(); err != nil {
		return faults.New(faults.InputError, "reading confirmation", err)
	}
	if !confirmed {
		return faults.Newf(faults.InputError, "unpublish aborted")
	}
	return nil
}
