package cmd

import (
	"github.com/spf13/cobra"

	"github.com/fabworks/fabdeploy/config"
	"github.com/fabworks/fabdeploy/workspace"
)

func (a *app) deployCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Run a config-file deployment: publish, then unpublish",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := config.LoadFile(configPath)
			if err != nil {
				return err
			}
			deployment, err := file.Resolve(a.environment)
			if err != nil {
				return err
			}
			a.applyConstants(deployment.Constants)

			endpoint, err := a.buildEndpoint(deployment.Options.Features())
			if err != nil {
				return err
			}

			ws := workspace.New(endpoint, deployment.Options, a.log)
			summary, err := ws.Deploy(cmd.Context(), deployment)
			a.report(summary)
			return err
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yml", "deployment config file")
	cmd.Flags().StringVarP(&a.environment, "environment", "e", "", "environment to resolve the config file for")
	cmd.Flags().StringVar(&a.token, "token", "", "bearer token ("+tokenEnvVar+" if unset)")
	cmd.Flags().StringVar(&a.apiRoot, "api-root", "", "override the API root URL")
	cmd.Flags().StringVar(&a.traceFile, "trace-file", "", "write an HTTP request/response transcript to this file")
	return cmd
}

// constantAPIRoot is the config-file constants key that redirects API
// traffic, typically at a sovereign-cloud endpoint.
const constantAPIRoot = "DEFAULT_API_ROOT_URL"

// applyConstants folds config-file constant overrides into the app. Flags
// win: a constant applies only where no flag set the value.
func (a *app) applyConstants(constants map[string]string) {
	for key, value := range constants {
		switch key {
		case constantAPIRoot:
			if a.apiRoot == "" {
				a.apiRoot = value
			}
		default:
			a.log.Info("ignoring unknown constant", "key", key)
		}
	}
}
