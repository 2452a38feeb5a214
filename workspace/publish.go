package workspace

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/fabworks/fabdeploy/faults"
	"github.com/fabworks/fabdeploy/itemtype"
	"github.com/fabworks/fabdeploy/repository"
)

// publishAll deploys every in-scope item, type by type in publish order.
// Types without intra-type references fan out across a bounded worker
// group; types with a dependency file publish sequentially in topological
// order so a dependent never uploads a reference to an absent sibling.
func (w *Workspace) publishAll(ctx context.Context) error {
	for _, t := range itemtype.PublishOrder(w.opts.ItemTypes()) {
		spec, _ := itemtype.SpecFor(t)
		items := w.scopedItems(t)
		if len(items) == 0 {
			continue
		}

		ordered, err := orderByDependencies(items, spec.DependencyFile)
		if err != nil {
			return err
		}

		if spec.DependencyFile != "" {
			if err := w.publishSequential(ctx, ordered, spec); err != nil {
				return err
			}
			continue
		}
		if err := w.publishParallel(ctx, ordered, spec); err != nil {
			return err
		}
	}
	return nil
}

// scopedItems filters one type's items through the run's exclusion rules,
// recording what was excluded.
func (w *Workspace) scopedItems(t itemtype.Type) []*repository.Item {
	var items []*repository.Item
	for _, item := range w.repo.ItemsOfType(t) {
		if w.opts.Excluded(item.Name, item.Type, item.Folder) {
			w.summary.Append(ItemResult{Type: item.Type, Name: item.Name, Action: ActionExcluded})
			continue
		}
		items = append(items, item)
	}
	return items
}

func (w *Workspace) publishParallel(ctx context.Context, items []*repository.Item, spec itemtype.Spec) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(w.opts.MaxParallel())
	for _, item := range items {
		item := item
		group.Go(func() error {
			_, err := w.publishOne(groupCtx, item, spec)
			return err
		})
	}
	return group.Wait()
}

// publishSequential walks topologically ordered items; when one fails, its
// dependents are skipped with the failure named instead of being attempted
// against a half-deployed graph.
func (w *Workspace) publishSequential(ctx context.Context, items []*repository.Item, spec itemtype.Spec) error {
	dependencies := map[*repository.Item][]string{}
	for _, item := range items {
		dependencies[item] = dependenciesOf(item, items, spec.DependencyFile)
	}

	failed := map[string]bool{}
	for _, item := range items {
		if blocked := failedDependencies(dependencies[item], failed); len(blocked) > 0 {
			failed[item.Key()] = true
			w.summary.Append(ItemResult{
				Type: item.Type, Name: item.Name, Action: ActionSkippedDependency,
				Detail: "depends on " + strings.Join(blocked, ", "),
			})
			continue
		}
		itemFailed, err := w.publishOne(ctx, item, spec)
		if err != nil {
			return err
		}
		if itemFailed {
			failed[item.Key()] = true
		}
	}
	return nil
}

func failedDependencies(deps []string, failed map[string]bool) []string {
	var blocked []string
	for _, dep := range deps {
		if failed[dep] {
			blocked = append(blocked, dep)
		}
	}
	return blocked
}

// publishOne deploys a single item and records its outcome. failed reports
// a per-item failure so sequential callers can skip dependents; the error
// return carries only fatal failures, which abort the run.
func (w *Workspace) publishOne(ctx context.Context, item *repository.Item, spec itemtype.Spec) (failed bool, _ error) {
	action, err := w.publishItem(ctx, item, spec)
	if err != nil {
		w.summary.Append(ItemResult{Type: item.Type, Name: item.Name, Action: ActionFailed, Err: err})
		w.log.Error(err, "publish failed", "item", item.Key())
		if faults.IsFatal(err) {
			return true, err
		}
		return true, nil
	}
	w.summary.Append(ItemResult{Type: item.Type, Name: item.Name, Action: action})
	w.log.Info("published", "item", item.Key(), "action", string(action))
	return false, nil
}

func (w *Workspace) publishItem(ctx context.Context, item *repository.Item, spec itemtype.Spec) (Action, error) {
	if !spec.ShellOnly {
		if err := w.rewriteLogicalIDs(item); err != nil {
			return "", err
		}
		w.rewriteWorkspaceIDs(item)
		if w.params != nil {
			if err := w.params.ApplyToItem(ctx, item); err != nil {
				return "", err
			}
		}
	}

	existing, exists := w.remote(item.Type, item.Name)

	var action Action
	var err error
	switch {
	case spec.ShellOnly && exists:
		action, err = w.updateShell(ctx, item, existing)
	case spec.ShellOnly:
		action, err = w.createItem(ctx, item, nil)
	case exists:
		action, err = w.updateItem(ctx, item, existing)
	default:
		action, err = w.createItem(ctx, item, item.DefinitionParts())
	}
	if err != nil {
		return "", err
	}

	if exists {
		if err := w.moveItemIfNeeded(ctx, item, existing); err != nil {
			return "", err
		}
	}

	if err := w.waitForProvisioning(ctx, item, spec); err != nil {
		return "", err
	}
	return action, nil
}

func (w *Workspace) createItem(ctx context.Context, item *repository.Item, parts []repository.DefinitionPart) (Action, error) {
	body := map[string]any{
		"displayName": item.Name,
		"type":        string(item.Type),
	}
	if item.Description != "" {
		body["description"] = item.Description
	}
	if folderID := w.folderIDFor(item.Folder); folderID != "" {
		body["folderId"] = folderID
	}
	if len(parts) > 0 {
		body["definition"] = map[string]any{"parts": parts}
	}
	if payload := w.creationPayload(item); payload != nil {
		body["creationPayload"] = payload
	}

	resp, err := w.endpoint.Invoke(ctx, http.MethodPost, w.workspacePath("items"), body)
	if err != nil {
		return "", err
	}
	var created struct {
		ID       string `json:"id"`
		FolderID string `json:"folderId"`
	}
	if err := resp.Decode(&created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", faults.Newf(faults.APIRequestError, "create of %s returned no item id", item.Key())
	}

	w.setGUID(item, created.ID)
	w.recordRemote(&remoteItem{
		ID: created.ID, Type: item.Type, Name: item.Name,
		Description: item.Description, FolderID: created.FolderID,
	})
	return ActionCreated, nil
}

func (w *Workspace) updateItem(ctx context.Context, item *repository.Item, existing *remoteItem) (Action, error) {
	w.setGUID(item, existing.ID)

	parts := item.DefinitionParts()
	if w.remoteSignature(ctx, existing.ID) == contentSignature(parts) {
		return ActionUnchanged, nil
	}

	body := map[string]any{"definition": map[string]any{"parts": parts}}
	_, err := w.endpoint.Invoke(ctx, http.MethodPost,
		w.workspacePath("items/"+existing.ID+"/updateDefinition?updateMetadata=True"), body)
	if err != nil {
		return "", err
	}
	return ActionUpdated, nil
}

// updateShell patches metadata of a shell-only item; its definition is
// platform-owned.
func (w *Workspace) updateShell(ctx context.Context, item *repository.Item, existing *remoteItem) (Action, error) {
	w.setGUID(item, existing.ID)
	if existing.Description == item.Description {
		return ActionUnchanged, nil
	}
	body := map[string]string{"displayName": item.Name, "description": item.Description}
	if _, err := w.endpoint.Invoke(ctx, http.MethodPatch,
		w.workspacePath("items/"+existing.ID), body); err != nil {
		return "", err
	}
	return ActionUpdated, nil
}

func (w *Workspace) moveItemIfNeeded(ctx context.Context, item *repository.Item, existing *remoteItem) error {
	wantFolderID := w.folderIDFor(item.Folder)
	if existing.FolderID == wantFolderID {
		return nil
	}
	body := map[string]string{}
	if wantFolderID != "" {
		body["targetFolderId"] = wantFolderID
	}
	if _, err := w.endpoint.Invoke(ctx, http.MethodPost,
		w.workspacePath("items/"+existing.ID+"/move"), body); err != nil {
		return err
	}
	existing.FolderID = wantFolderID
	w.log.V(1).Info("item moved", "item", item.Key(), "folder", item.Folder)
	return nil
}

// creationPayload builds type-specific creation extras. Lakehouses that
// declare a default schema are created schema-enabled; that cannot be
// changed after creation.
func (w *Workspace) creationPayload(item *repository.Item) map[string]any {
	if item.Type != itemtype.Lakehouse {
		return nil
	}
	f, ok := item.FindFile("lakehouse.metadata.json")
	if !ok || f.IsBinary() {
		return nil
	}
	var meta struct {
		DefaultSchema string `json:"defaultSchema"`
	}
	if json.Unmarshal(f.Payload(), &meta) != nil || meta.DefaultSchema == "" {
		return nil
	}
	return map[string]any{"enableSchemas": true}
}

func (w *Workspace) folderIDFor(folder string) string {
	if folder == "" {
		return ""
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.folders[folder]
}

func (w *Workspace) setGUID(item *repository.Item, id string) {
	w.mu.Lock()
	item.GUID = id
	w.mu.Unlock()
}
