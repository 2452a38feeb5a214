// Package cmd wires the command line surface: publish, unpublish, validate,
// deploy, and version.
package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"regexp"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/fabworks/fabdeploy/config"
	"github.com/fabworks/fabdeploy/fabric"
	"github.com/fabworks/fabdeploy/faults"
	"github.com/fabworks/fabdeploy/internal/gitsource"
	"github.com/fabworks/fabdeploy/itemtype"
	"github.com/fabworks/fabdeploy/workspace"
)

// tokenEnvVar supplies the bearer token when --token is not given.
const tokenEnvVar = "FABRIC_TOKEN"

type app struct {
	verbosity int

	workspaceID   string
	workspaceName string
	repoDir       string
	environment   string
	itemTypes     []string
	excludeRegex  string
	folderExclude string
	includeItems  []string
	parameterFile string
	maxParallel   int
	features      []string

	token     string
	apiRoot   string
	traceFile string

	gitURL   string
	gitRef   string
	gitToken string

	yes bool

	log      logr.Logger
	metrics  *fabric.Metrics
	exitCode int
	cleanups []func()
}

// Execute runs the CLI and returns the process exit code: 0 clean, 1
// aborted, 2 completed with item failures.
func Execute() int {
	a := &app{repoDir: "."}
	root := a.rootCommand()
	err := root.Execute()
	for _, cleanup := range a.cleanups {
		cleanup()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return a.exitCode
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "fabdeploy",
		Short:         "Deploy declarative workspace items to Microsoft Fabric",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			stdr.SetVerbosity(a.verbosity)
			a.log = stdr.New(log.New(os.Stderr, "", log.LstdFlags))
		},
	}
	root.PersistentFlags().IntVarP(&a.verbosity, "verbosity", "v", 0, "log verbosity (0 = progress, 1 = diagnostics)")
	// Accept underscore spellings of every flag; config files use snake_case
	// keys and muscle memory carries over.
	root.SetGlobalNormalizationFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	root.AddCommand(
		a.publishCommand(),
		a.unpublishCommand(),
		a.validateCommand(),
		a.deployCommand(),
		a.versionCommand(),
	)
	return root
}

// deployFlags registers the flags shared by every command that touches a
// workspace.
func (a *app) deployFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&a.workspaceID, "workspace-id", "", "target workspace id (GUID)")
	cmd.Flags().StringVar(&a.workspaceName, "workspace-name", "", "target workspace display name (resolved to an id)")
	cmd.Flags().StringVarP(&a.repoDir, "repository", "r", ".", "repository directory holding the item tree")
	cmd.Flags().StringVarP(&a.environment, "environment", "e", "", "target environment for parameterization")
	cmd.Flags().StringSliceVar(&a.itemTypes, "item-types", nil, "restrict the run to these item types")
	cmd.Flags().StringVar(&a.excludeRegex, "exclude-regex", "", "exclude items whose display name matches")
	cmd.Flags().StringVar(&a.folderExclude, "folder-exclude-regex", "", "exclude items under matching repository folders")
	cmd.Flags().StringSliceVar(&a.includeItems, "include-items", nil, "restrict the run to these Name.Type entries")
	cmd.Flags().StringVar(&a.parameterFile, "parameter-file", config.DefaultParameterFileName, "parameter file name at the repository root")
	cmd.Flags().IntVar(&a.maxParallel, "max-parallel", config.DefaultMaxParallel, "concurrent publishes within one item type")
	cmd.Flags().StringSliceVar(&a.features, "feature", nil, "enable a feature flag (repeatable)")
	cmd.Flags().StringVar(&a.token, "token", "", "bearer token ("+tokenEnvVar+" if unset)")
	cmd.Flags().StringVar(&a.apiRoot, "api-root", "", "override the API root URL")
	cmd.Flags().StringVar(&a.traceFile, "trace-file", "", "write an HTTP request/response transcript to this file")
	cmd.Flags().StringVar(&a.gitURL, "git-url", "", "deploy straight from this git repository instead of --repository")
	cmd.Flags().StringVar(&a.gitRef, "git-ref", "", "branch or tag to deploy with --git-url")
	cmd.Flags().StringVar(&a.gitToken, "git-token", "", "token for cloning private repositories")
}

func (a *app) buildOptions(ctx context.Context) (*config.Options, error) {
	repoDir := a.repoDir
	if a.gitURL != "" {
		dir, cleanup, err := gitsource.Fetch(ctx, gitsource.Source{
			URL: a.gitURL, Ref: a.gitRef, Token: a.gitToken,
		}, a.log)
		if err != nil {
			return nil, err
		}
		a.cleanups = append(a.cleanups, cleanup)
		repoDir = dir
		if a.repoDir != "." && a.repoDir != "" {
			repoDir = dir + "/" + strings.TrimLeft(a.repoDir, "/")
		}
	}

	opts := []config.Option{
		config.WithEnvironment(a.environment),
		config.WithParameterFile(a.parameterFile),
		config.WithMaxParallel(a.maxParallel),
		config.WithFeatures(config.NewFeatureSet(a.features...)),
	}
	if a.workspaceName != "" {
		opts = append(opts, config.WithWorkspaceName(a.workspaceName))
	}
	if len(a.itemTypes) > 0 {
		types := make([]itemtype.Type, 0, len(a.itemTypes))
		for _, raw := range a.itemTypes {
			t, err := itemtype.Parse(raw)
			if err != nil {
				return nil, faults.New(faults.InputError, "--item-types", err)
			}
			types = append(types, t)
		}
		opts = append(opts, config.WithItemTypes(types))
	}
	if a.excludeRegex != "" {
		re, err := regexp.Compile(a.excludeRegex)
		if err != nil {
			return nil, faults.New(faults.InputError, "--exclude-regex", err)
		}
		opts = append(opts, config.WithExcludeRegex(re))
	}
	if a.folderExclude != "" {
		re, err := regexp.Compile(a.folderExclude)
		if err != nil {
			return nil, faults.New(faults.InputError, "--folder-exclude-regex", err)
		}
		opts = append(opts, config.WithFolderExcludeRegex(re))
	}
	if len(a.includeItems) > 0 {
		opts = append(opts, config.WithItemsToInclude(a.includeItems))
	}
	return config.NewOptions(a.workspaceID, repoDir, opts...)
}

func (a *app) buildEndpoint(features config.FeatureSet) (*fabric.Endpoint, error) {
	token := a.token
	if token == "" {
		token = os.Getenv(tokenEnvVar)
	}
	if token == "" {
		return nil, faults.Newf(faults.AuthError,
			"a bearer token is required: pass --token or set "+tokenEnvVar)
	}

	a.metrics = fabric.NewMetrics()
	opts := []fabric.EndpointOption{
		fabric.WithLogger(a.log),
		fabric.WithMetrics(a.metrics),
		fabric.WithRateLimit(rate.NewLimiter(rate.Limit(10), 10)),
	}
	if a.apiRoot != "" {
		opts = append(opts, fabric.WithAPIRoot(a.apiRoot))
	}
	if a.traceFile != "" {
		f, err := os.Create(a.traceFile)
		if err != nil {
			return nil, faults.New(faults.InputError, "opening trace file", err)
		}
		a.cleanups = append(a.cleanups, func() { f.Close() })
		opts = append(opts, fabric.WithTrace(f))
	}
	if features.Enabled(config.FeatureResponseCollection) {
		opts = append(opts, fabric.WithResponseCollection())
	}

	provider := fabric.NewCachingTokenProvider(fabric.StaticTokenProvider(token))
	return fabric.NewEndpoint(provider, opts...), nil
}

func (a *app) report(summary *workspace.Summary) {
	fmt.Print(summary.String())
	if a.metrics != nil {
		for _, line := range a.metrics.Snapshot() {
			a.log.V(1).Info(line)
		}
	}
	if code := summary.ExitCode(); code > a.exitCode {
		a.exitCode = code
	}
}
