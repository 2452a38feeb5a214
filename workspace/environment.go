package workspace

import (
	"context"
	"net/http"
	"net/url"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fabworks/fabdeploy/faults"
	"github.com/fabworks/fabdeploy/repository"
)

const librariesPrefix = "Libraries/"

// publishEnvironment drives the staged-publish lifecycle of an environment
// item: sync compute settings and libraries into staging, publish, and wait
// for the publish to land. An earlier failed publish left behind by someone
// else is tolerated before we start; our own publish failing is not.
func (w *Workspace) publishEnvironment(ctx context.Context, item *repository.Item) error {
	if err := w.waitForEnvironment(ctx, item, true); err != nil {
		return err
	}
	if err := w.syncEnvironmentCompute(ctx, item); err != nil {
		return err
	}
	if err := w.syncEnvironmentLibraries(ctx, item); err != nil {
		return err
	}
	if _, err := w.endpoint.Invoke(ctx, http.MethodPost,
		w.workspacePath("environments/"+item.GUID+"/staging/publish"), nil); err != nil {
		return err
	}
	return w.waitForEnvironment(ctx, item, false)
}

// syncEnvironmentCompute pushes Sparkcompute.yml into staging settings.
func (w *Workspace) syncEnvironmentCompute(ctx context.Context, item *repository.Item) error {
	var computeFile *repository.File
	for _, f := range item.Files {
		if path.Base(f.Path) == "Sparkcompute.yml" && !f.IsBinary() {
			computeFile = f
			break
		}
	}
	if computeFile == nil {
		return nil
	}

	var settings map[string]any
	if err := yaml.Unmarshal(computeFile.Payload(), &settings); err != nil {
		return faults.New(faults.RepositoryError,
			item.Key()+": parsing "+computeFile.Path, err)
	}
	_, err := w.endpoint.Invoke(ctx, http.MethodPatch,
		w.workspacePath("environments/"+item.GUID+"/staging/sparkcompute"), settings)
	return err
}

// syncEnvironmentLibraries reconciles staged custom libraries against the
// repository's Libraries directory: missing files upload, leftovers delete.
func (w *Workspace) syncEnvironmentLibraries(ctx context.Context, item *repository.Item) error {
	declared := map[string]*repository.File{}
	for _, f := range item.Files {
		if strings.HasPrefix(f.Path, librariesPrefix) {
			declared[path.Base(f.Path)] = f
		}
	}

	staged, err := w.stagedLibraries(ctx, item.GUID)
	if err != nil {
		return err
	}

	for name, f := range declared {
		if staged[name] {
			continue
		}
		if _, err := w.endpoint.UploadFile(ctx,
			w.workspacePath("environments/"+item.GUID+"/staging/libraries"),
			name, f.Payload()); err != nil {
			return err
		}
		w.log.V(1).Info("library staged", "environment", item.Name, "library", name)
	}
	for name := range staged {
		if _, ok := declared[name]; ok {
			continue
		}
		if _, err := w.endpoint.Invoke(ctx, http.MethodDelete,
			w.workspacePath("environments/"+item.GUID+"/staging/libraries?libraryToDelete="+url.QueryEscape(name)),
			nil); err != nil {
			return err
		}
		w.log.V(1).Info("library removed", "environment", item.Name, "library", name)
	}
	return nil
}

// stagedLibraries lists the custom library file names currently staged. An
// environment that never had libraries reports none.
func (w *Workspace) stagedLibraries(ctx context.Context, environmentID string) (map[string]bool, error) {
	resp, err := w.endpoint.Invoke(ctx, http.MethodGet,
		w.workspacePath("environments/"+environmentID+"/staging/libraries"), nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return map[string]bool{}, nil
	}
	var body struct {
		CustomLibraries struct {
			WheelFiles []string `json:"wheelFiles"`
			PyFiles    []string `json:"pyFiles"`
			JarFiles   []string `json:"jarFiles"`
			RTarFiles  []string `json:"rTarFiles"`
		} `json:"customLibraries"`
	}
	if err := resp.Decode(&body); err != nil {
		return nil, err
	}
	staged := map[string]bool{}
	for _, group := range [][]string{
		body.CustomLibraries.WheelFiles,
		body.CustomLibraries.PyFiles,
		body.CustomLibraries.JarFiles,
		body.CustomLibraries.RTarFiles,
	} {
		for _, name := range group {
			staged[name] = true
		}
	}
	return staged, nil
}
