package workspace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"github.com/fabworks/fabdeploy/config"
	"github.com/fabworks/fabdeploy/faults"
	"github.com/fabworks/fabdeploy/repository"
)

// workspaceRefPattern matches workspace-id assignments in definition files.
// Only values equal to the all-zeros placeholder are rewritten; explicit
// foreign workspace ids are someone's deliberate cross-workspace reference.
var workspaceRefPattern = regexp.MustCompile(
	`("?)(default_lakehouse_workspace_id|workspaceId|workspace)("?\s*[:=]\s*")([0-9a-fA-F-]{36})(")`)

// rewriteLogicalIDs replaces references to sibling items' logical ids with
// their remote GUIDs. A reference to an item that has no GUID yet means the
// dependency has not been published; publishing would upload a dangling id.
func (w *Workspace) rewriteLogicalIDs(item *repository.Item) error {
	type ref struct {
		key  string
		guid string
	}
	w.mu.Lock()
	byLogicalID := map[string]ref{}
	for _, sibling := range w.repo.Items {
		if sibling != item {
			byLogicalID[sibling.LogicalID] = ref{key: sibling.Key(), guid: sibling.GUID}
		}
	}
	w.mu.Unlock()

	for _, f := range item.Files {
		if f.IsBinary() {
			continue
		}
		text := f.Text()
		changed := false
		for logicalID, sibling := range byLogicalID {
			if !strings.Contains(text, logicalID) {
				continue
			}
			if sibling.guid == "" {
				return faults.Newf(faults.DependencyUnmetError,
					"%s references %s which is not deployed yet", item.Key(), sibling.key)
			}
			text = strings.ReplaceAll(text, logicalID, sibling.guid)
			changed = true
		}
		if changed {
			f.SetText(text)
		}
	}
	return nil
}

// rewriteWorkspaceIDs replaces placeholder workspace ids with the target
// workspace id.
func (w *Workspace) rewriteWorkspaceIDs(item *repository.Item) {
	target := w.opts.WorkspaceID()
	for _, f := range item.Files {
		if f.IsBinary() {
			continue
		}
		text := f.Text()
		replaced := workspaceRefPattern.ReplaceAllStringFunc(text, func(match string) string {
			groups := workspaceRefPattern.FindStringSubmatch(match)
			if groups[4] != config.DefaultWorkspaceID {
				return match
			}
			return groups[1] + groups[2] + groups[3] + target + groups[5]
		})
		if replaced != text {
			f.SetText(replaced)
		}
	}
}

// contentSignature hashes the definition parts in path order. Matching
// signatures mean the remote definition is already what we would upload.
func contentSignature(parts []repository.DefinitionPart) string {
	sorted := make([]repository.DefinitionPart, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	h := sha256.New()
	for _, part := range sorted {
		h.Write([]byte(part.Path))
		h.Write([]byte{0})
		h.Write([]byte(part.Payload))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// remoteSignature fetches the deployed definition and hashes it the same
// way. An empty signature means the remote definition could not be read and
// the item should be republished.
func (w *Workspace) remoteSignature(ctx context.Context, itemID string) string {
	resp, err := w.endpoint.Invoke(ctx, http.MethodPost,
		w.workspacePath("items/"+itemID+"/getDefinition"), nil)
	if err != nil {
		return ""
	}
	var body struct {
		Definition struct {
			Parts []repository.DefinitionPart `json:"parts"`
		} `json:"definition"`
	}
	if err := resp.Decode(&body); err != nil {
		return ""
	}
	if len(body.Definition.Parts) == 0 {
		return ""
	}
	return contentSignature(body.Definition.Parts)
}
