package workspace

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/fabworks/fabdeploy/config"
	"github.com/fabworks/fabdeploy/faults"
)

type remoteFolder struct {
	ID       string
	Name     string
	ParentID string
}

// refreshFolders loads the remote folder tree and maps the paths it spells.
func (w *Workspace) refreshFolders(ctx context.Context) (map[string]*remoteFolder, error) {
	raw, err := w.endpoint.InvokeList(ctx, w.workspacePath("folders"))
	if err != nil {
		return nil, err
	}
	byID := map[string]*remoteFolder{}
	for _, entry := range raw {
		var folder struct {
			ID             string `json:"id"`
			DisplayName    string `json:"displayName"`
			ParentFolderID string `json:"parentFolderId"`
		}
		if err := json.Unmarshal(entry, &folder); err != nil {
			return nil, faults.New(faults.ParsingError, "decoding folder list", err)
		}
		byID[folder.ID] = &remoteFolder{ID: folder.ID, Name: folder.DisplayName, ParentID: folder.ParentFolderID}
	}

	byPath := map[string]*remoteFolder{}
	for _, folder := range byID {
		byPath[folderPath(folder, byID)] = folder
	}

	w.folders = map[string]string{}
	for path, folder := range byPath {
		w.folders[path] = folder.ID
	}
	return byPath, nil
}

func folderPath(folder *remoteFolder, byID map[string]*remoteFolder) string {
	segments := []string{folder.Name}
	for parent := byID[folder.ParentID]; parent != nil; parent = byID[parent.ParentID] {
		segments = append([]string{parent.Name}, segments...)
	}
	return strings.Join(segments, "/")
}

// publishFolders creates every folder the repository implies, shallow-first
// so parents exist before children. Disabled by feature flag.
func (w *Workspace) publishFolders(ctx context.Context) error {
	if w.opts.Features().Enabled(config.FeatureNoWorkspaceFolders) {
		w.log.V(1).Info("workspace folder publish disabled")
		return nil
	}
	if _, err := w.refreshFolders(ctx); err != nil {
		return err
	}

	for _, path := range w.repo.Folders {
		if _, exists := w.folders[path]; exists {
			continue
		}
		body := map[string]string{"displayName": path[strings.LastIndex(path, "/")+1:]}
		if parent := parentPath(path); parent != "" {
			parentID, ok := w.folders[parent]
			if !ok {
				return faults.Newf(faults.RepositoryError,
					"folder %s has no created parent %s", path, parent)
			}
			body["parentFolderId"] = parentID
		}
		resp, err := w.endpoint.Invoke(ctx, http.MethodPost, w.workspacePath("folders"), body)
		if err != nil {
			return err
		}
		var created struct {
			ID string `json:"id"`
		}
		if err := resp.Decode(&created); err != nil {
			return err
		}
		w.folders[path] = created.ID
		w.log.Info("folder created", "path", path)
	}
	return nil
}

// unpublishFolders deletes remote folders that neither hold items nor are
// ancestors of folders holding items, deepest-first.
func (w *Workspace) unpublishFolders(ctx context.Context) error {
	if w.opts.Features().Enabled(config.FeatureNoWorkspaceFolders) {
		return nil
	}
	byPath, err := w.refreshFolders(ctx)
	if err != nil {
		return err
	}
	if err := w.refreshDeployedItems(ctx); err != nil {
		return err
	}

	// Folders that still hold items, plus all their ancestors, survive.
	protected := map[string]bool{}
	folderPathsByID := map[string]string{}
	for path, folder := range byPath {
		folderPathsByID[folder.ID] = path
	}
	for _, items := range w.deployed {
		for _, item := range items {
			if item.FolderID == "" {
				continue
			}
			for path := folderPathsByID[item.FolderID]; path != ""; path = parentPath(path) {
				protected[path] = true
			}
		}
	}
	// Declared folders survive even when currently empty.
	for _, path := range w.repo.Folders {
		for p := path; p != ""; p = parentPath(p) {
			protected[p] = true
		}
	}

	var doomed []string
	for path := range byPath {
		if !protected[path] {
			doomed = append(doomed, path)
		}
	}
	sort.Slice(doomed, func(i, j int) bool {
		return strings.Count(doomed[i], "/") > strings.Count(doomed[j], "/")
	})

	for _, path := range doomed {
		if _, err := w.endpoint.Invoke(ctx, http.MethodDelete,
			w.workspacePath("folders/"+byPath[path].ID), nil); err != nil {
			return err
		}
		delete(w.folders, path)
		w.log.Info("folder deleted", "path", path)
	}
	return nil
}

func parentPath(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return ""
	}
	return path[:idx]
}
