package workspace

import (
	"context"

	"github.com/go-logr/logr"

	"github.com/fabworks/fabdeploy/config"
	"github.com/fabworks/fabdeploy/faults"
	"github.com/fabworks/fabdeploy/parameter"
	"github.com/fabworks/fabdeploy/repository"
)

// Publish reconciles declared items into the workspace: folders first, then
// items in dependency order, orphans untouched.
func (w *Workspace) Publish(ctx context.Context) (*Summary, error) {
	if err := w.prepare(ctx); err != nil {
		return w.summary, err
	}
	if err := w.checkCapacity(ctx); err != nil {
		return w.summary, err
	}
	if err := w.publishFolders(ctx); err != nil {
		return w.summary, err
	}
	if err := w.publishAll(ctx); err != nil {
		return w.summary, err
	}
	return w.summary, nil
}

// Unpublish removes remote orphans of in-scope types, then prunes folders.
func (w *Workspace) Unpublish(ctx context.Context) (*Summary, error) {
	if err := w.prepare(ctx); err != nil {
		return w.summary, err
	}
	if err := w.unpublishOrphans(ctx); err != nil {
		return w.summary, err
	}
	return w.summary, nil
}

// Deploy runs the config-file flow: publish then unpublish, honoring the
// per-environment skip switches. The unpublish stage runs under the config
// file's unpublish scope, which can name a different include list.
func (w *Workspace) Deploy(ctx context.Context, deployment *config.Deployment) (*Summary, error) {
	if !w.opts.Features().Enabled(config.FeatureConfigDeploy) {
		return w.summary, faults.Newf(faults.InputError,
			"config-file deployment requires the %s feature", config.FeatureConfigDeploy)
	}
	if !deployment.SkipPublish {
		if _, err := w.Publish(ctx); err != nil {
			return w.summary, err
		}
	}
	if !deployment.SkipUnpublish {
		if deployment.UnpublishOptions != nil {
			// Carry the workspace id prepare() resolved from a name.
			w.opts = deployment.UnpublishOptions.ResolveWorkspaceID(w.opts.WorkspaceID())
		}
		if _, err := w.Unpublish(ctx); err != nil {
			return w.summary, err
		}
	}
	return w.summary, nil
}

// prepare brings the run to a deployable state: identity logged, workspace
// id resolved, repository scanned, parameters loaded, and remote inventory
// fetched. Safe to call more than once per run.
func (w *Workspace) prepare(ctx context.Context) error {
	if w.repo != nil {
		return nil
	}

	if !w.opts.Features().Enabled(config.FeatureNoIdentityLogging) {
		if identity, err := w.endpoint.Identity(ctx); err == nil {
			w.log.Info("executing as " + identity.String())
		}
	}
	if unknown := w.opts.Features().Unknown(); len(unknown) > 0 {
		w.log.Info("unrecognized feature flags enabled", "flags", unknown)
	}

	if err := w.resolveWorkspaceName(ctx); err != nil {
		return err
	}

	repo, params, err := loadRepository(w.opts, w.log)
	if err != nil {
		return err
	}
	w.repo = repo
	w.params = parameter.NewEngine(params, w.opts.Environment(), w, w.log)

	return w.refreshDeployedItems(ctx)
}

// Validate checks the repository and parameter file offline: no endpoint,
// no network. CI gates run it on pull requests.
func Validate(opts *config.Options, log logr.Logger) error {
	_, _, err := loadRepository(opts, log)
	return err
}

func loadRepository(opts *config.Options, log logr.Logger) (*repository.Repository, *parameter.File, error) {
	repo, err := repository.Scan(opts.RepositoryDir(), log)
	if err != nil {
		return nil, nil, err
	}
	params, err := parameter.Load(
		opts.RepositoryDir()+"/"+opts.ParameterFile(),
		opts.Features().Enabled(config.FeatureEnvVarReplacement),
		log,
	)
	if err != nil {
		return nil, nil, err
	}
	return repo, params, nil
}
