// Package workspace reconciles a scanned repository against a remote
// workspace: folders and items are created, updated, or deleted until remote
// state matches the declared tree.
package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/fabworks/fabdeploy/config"
	"github.com/fabworks/fabdeploy/fabric"
	"github.com/fabworks/fabdeploy/faults"
	"github.com/fabworks/fabdeploy/itemtype"
	"github.com/fabworks/fabdeploy/parameter"
	"github.com/fabworks/fabdeploy/repository"
)

// remoteItem is the slice of remote item state the engine tracks.
type remoteItem struct {
	ID          string
	Type        itemtype.Type
	Name        string
	Description string
	FolderID    string
}

// Workspace drives one deployment run. It is not safe for concurrent runs;
// within a run, item publishing fans out internally.
type Workspace struct {
	endpoint *fabric.Endpoint
	opts     *config.Options
	log      logr.Logger

	repo   *repository.Repository
	params *parameter.Engine

	// mu guards deployed, folders, and item GUID assignment while one
	// type's items publish in parallel.
	mu sync.Mutex

	// deployed holds remote items by type and display name, refreshed
	// whenever remote state changes.
	deployed map[itemtype.Type]map[string]*remoteItem

	// folders maps repository folder paths to remote folder ids.
	folders map[string]string

	// workspaceNames caches display-name to id resolution for dynamic
	// variables targeting other workspaces.
	workspaceNames map[string]string

	summary *Summary

	// pollInterval overrides the provisioning poll pace; zero means the
	// default. Tests use it.
	pollInterval time.Duration
}

func New(endpoint *fabric.Endpoint, opts *config.Options, log logr.Logger) *Workspace {
	return &Workspace{
		endpoint:       endpoint,
		opts:           opts,
		log:            log,
		deployed:       map[itemtype.Type]map[string]*remoteItem{},
		folders:        map[string]string{},
		workspaceNames: map[string]string{},
		summary:        &Summary{},
	}
}

// Summary returns the accumulated run report.
func (w *Workspace) Summary() *Summary { return w.summary }

func (w *Workspace) workspacePath(suffix string) string {
	return "workspaces/" + w.opts.WorkspaceID() + "/" + strings.TrimLeft(suffix, "/")
}

// resolveWorkspaceName swaps a workspace display name for its id when the
// run was configured by name. Returns the options to use from here on.
func (w *Workspace) resolveWorkspaceName(ctx context.Context) error {
	if w.opts.WorkspaceID() != "" {
		return nil
	}
	id, err := w.LookupWorkspace(ctx, w.opts.WorkspaceName())
	if err != nil {
		return err
	}
	w.opts = w.opts.ResolveWorkspaceID(id)
	w.log.Info("workspace resolved", "name", w.opts.WorkspaceName(), "id", id)
	return nil
}

// checkCapacity aborts a publish when the workspace has no capacity and the
// scope needs one. Semantic models and reports deploy without capacity.
func (w *Workspace) checkCapacity(ctx context.Context) error {
	resp, err := w.endpoint.Invoke(ctx, http.MethodGet, "workspaces/"+w.opts.WorkspaceID(), nil)
	if err != nil {
		return err
	}
	var info struct {
		CapacityID string `json:"capacityId"`
	}
	if err := resp.Decode(&info); err != nil {
		return err
	}
	if info.CapacityID != "" {
		return nil
	}
	for _, t := range w.opts.ItemTypes() {
		if t != itemtype.SemanticModel && t != itemtype.Report {
			return faults.Newf(faults.InputError,
				"workspace %s has no capacity assigned; only SemanticModel and Report can deploy without one",
				w.opts.WorkspaceID())
		}
	}
	return nil
}

// refreshDeployedItems reloads the remote item inventory.
func (w *Workspace) refreshDeployedItems(ctx context.Context) error {
	raw, err := w.endpoint.InvokeList(ctx, w.workspacePath("items"))
	if err != nil {
		return err
	}
	deployed := map[itemtype.Type]map[string]*remoteItem{}
	for _, entry := range raw {
		var item struct {
			ID          string `json:"id"`
			Type        string `json:"type"`
			DisplayName string `json:"displayName"`
			Description string `json:"description"`
			FolderID    string `json:"folderId"`
		}
		if err := json.Unmarshal(entry, &item); err != nil {
			return faults.New(faults.ParsingError, "decoding workspace item list", err)
		}
		t, err := itemtype.Parse(item.Type)
		if err != nil {
			// Remote types this build does not manage are left alone.
			continue
		}
		if deployed[t] == nil {
			deployed[t] = map[string]*remoteItem{}
		}
		deployed[t][item.DisplayName] = &remoteItem{
			ID: item.ID, Type: t, Name: item.DisplayName,
			Description: item.Description, FolderID: item.FolderID,
		}
	}
	w.mu.Lock()
	w.deployed = deployed
	w.mu.Unlock()
	return nil
}

func (w *Workspace) remote(t itemtype.Type, name string) (*remoteItem, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	item, ok := w.deployed[t][name]
	return item, ok
}

func (w *Workspace) recordRemote(item *remoteItem) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.deployed[item.Type] == nil {
		w.deployed[item.Type] = map[string]*remoteItem{}
	}
	w.deployed[item.Type][item.Name] = item
}

// WorkspaceID implements parameter.Resolver.
func (w *Workspace) WorkspaceID() string { return w.opts.WorkspaceID() }

// LookupWorkspace implements parameter.Resolver: display name to id via the
// workspace list.
func (w *Workspace) LookupWorkspace(ctx context.Context, name string) (string, error) {
	if id, ok := w.workspaceNames[name]; ok {
		return id, nil
	}
	raw, err := w.endpoint.InvokeList(ctx, "workspaces")
	if err != nil {
		return "", err
	}
	for _, entry := range raw {
		var ws struct {
			ID          string `json:"id"`
			DisplayName string `json:"displayName"`
		}
		if err := json.Unmarshal(entry, &ws); err != nil {
			return "", faults.New(faults.ParsingError, "decoding workspace list", err)
		}
		w.workspaceNames[ws.DisplayName] = ws.ID
	}
	if id, ok := w.workspaceNames[name]; ok {
		return id, nil
	}
	return "", faults.Newf(faults.InputError, "no accessible workspace named %q", name)
}

// LookupItemAttribute implements parameter.Resolver: attributes come from
// the live item detail, refreshed remote state first when needed.
func (w *Workspace) LookupItemAttribute(ctx context.Context, workspaceID string, t itemtype.Type, name, attribute string) (string, error) {
	id, err := w.findItemID(ctx, workspaceID, t, name)
	if err != nil {
		return "", err
	}
	if attribute == "id" {
		return id, nil
	}

	spec, _ := itemtype.SpecFor(t)
	propertyPath, ok := spec.AttributePaths[attribute]
	if !ok {
		return "", faults.Newf(faults.ParameterValidationError,
			"items of type %s have no %q attribute", t, attribute)
	}

	resp, err := w.endpoint.Invoke(ctx, http.MethodGet,
		fmt.Sprintf("workspaces/%s/%s/%s", workspaceID, itemtype.APIPath(t), id), nil)
	if err != nil {
		return "", err
	}
	var doc map[string]any
	if err := resp.Decode(&doc); err != nil {
		return "", err
	}
	value, ok := lookupPath(doc, propertyPath)
	if !ok || value == "" {
		return "", faults.Newf(faults.ProvisioningError,
			"%s %q has no %s yet", t, name, attribute)
	}
	return value, nil
}

func (w *Workspace) findItemID(ctx context.Context, workspaceID string, t itemtype.Type, name string) (string, error) {
	if workspaceID == w.opts.WorkspaceID() {
		if item, ok := w.remote(t, name); ok {
			return item.ID, nil
		}
		// The item may have been created moments ago by this run.
		if err := w.refreshDeployedItems(ctx); err != nil {
			return "", err
		}
		if item, ok := w.remote(t, name); ok {
			return item.ID, nil
		}
		return "", faults.Newf(faults.ParameterValidationError,
			"item %s.%s is not deployed in the target workspace", name, t)
	}

	raw, err := w.endpoint.InvokeList(ctx, "workspaces/"+workspaceID+"/items")
	if err != nil {
		return "", err
	}
	for _, entry := range raw {
		var item struct {
			ID          string `json:"id"`
			Type        string `json:"type"`
			DisplayName string `json:"displayName"`
		}
		if err := json.Unmarshal(entry, &item); err != nil {
			continue
		}
		if item.DisplayName == name && item.Type == string(t) {
			return item.ID, nil
		}
	}
	return "", faults.Newf(faults.ParameterValidationError,
		"item %s.%s is not deployed in workspace %s", name, t, workspaceID)
}

// lookupPath walks a dotted property path through nested JSON objects.
func lookupPath(doc map[string]any, path string) (string, bool) {
	segments := strings.Split(path, ".")
	var current any = doc
	for _, segment := range segments {
		obj, ok := current.(map[string]any)
		if !ok {
			return "", false
		}
		current, ok = obj[segment]
		if !ok {
			return "", false
		}
	}
	s, ok := current.(string)
	return s, ok
}

var _ parameter.Resolver = (*Workspace)(nil)
