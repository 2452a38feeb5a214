package workspace

import (
	"context"
	"encoding/base64"
	"net/http"
	"sort"
	"strings"

	"github.com/fabworks/fabdeploy/faults"
	"github.com/fabworks/fabdeploy/itemtype"
	"github.com/fabworks/fabdeploy/repository"
)

// unpublishOrphans deletes remote items of in-scope types that the
// repository no longer declares, dependents first, then prunes empty
// folders. Storage-backed types stay unless their feature gate is enabled:
// deleting a lakehouse deletes its data.
func (w *Workspace) unpublishOrphans(ctx context.Context) error {
	if err := w.refreshDeployedItems(ctx); err != nil {
		return err
	}

	for _, t := range itemtype.UnpublishOrder(w.opts.ItemTypes()) {
		spec, _ := itemtype.SpecFor(t)
		orphans := w.orphansOfType(t)
		if len(orphans) == 0 {
			continue
		}

		if spec.UnpublishGate != "" && !w.opts.Features().Enabled(spec.UnpublishGate) {
			for _, orphan := range orphans {
				w.summary.Append(ItemResult{
					Type: t, Name: orphan.Name, Action: ActionSkippedGate,
					Detail: spec.UnpublishGate + " not enabled",
				})
			}
			continue
		}

		ordered, err := w.orderForDeletion(ctx, orphans, spec)
		if err != nil {
			return err
		}
		for _, orphan := range ordered {
			if _, err := w.endpoint.Invoke(ctx, http.MethodDelete,
				w.workspacePath("items/"+orphan.ID), nil); err != nil {
				if faults.IsFatal(err) {
					return err
				}
				w.summary.Append(ItemResult{Type: t, Name: orphan.Name, Action: ActionFailed, Err: err})
				continue
			}
			w.summary.Append(ItemResult{Type: t, Name: orphan.Name, Action: ActionDeleted})
			w.log.Info("unpublished", "item", orphan.Name+"."+string(t))
		}
	}

	return w.unpublishFolders(ctx)
}

// orphansOfType returns remote items of one type with no declared
// counterpart, name-sorted.
func (w *Workspace) orphansOfType(t itemtype.Type) []*remoteItem {
	var orphans []*remoteItem
	for name, item := range w.deployed[t] {
		if _, declared := w.repo.Get(t, name); declared {
			continue
		}
		if w.opts.Excluded(name, t, "") {
			continue
		}
		orphans = append(orphans, item)
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i].Name < orphans[j].Name })
	return orphans
}

// orderForDeletion sorts orphans of a reference-bearing type so dependents
// delete before what they reference. References only exist in the deployed
// definitions, so those are fetched and searched for sibling GUIDs. A cycle
// falls back to name order; the service tolerates deleting into a cycle.
func (w *Workspace) orderForDeletion(ctx context.Context, orphans []*remoteItem, spec itemtype.Spec) ([]*remoteItem, error) {
	if spec.DependencyFile == "" || len(orphans) < 2 {
		return orphans, nil
	}

	definitions := map[*remoteItem]string{}
	for _, orphan := range orphans {
		text, err := w.remoteDefinitionText(ctx, orphan.ID, spec.DependencyFile)
		if err != nil {
			return nil, err
		}
		definitions[orphan] = text
	}

	// pending[b] counts the orphans whose definitions mention b; b deletes
	// only after all of them are gone.
	pending := map[*remoteItem]int{}
	for _, orphan := range orphans {
		pending[orphan] = 0
	}
	for _, orphan := range orphans {
		for _, other := range orphans {
			if other != orphan && strings.Contains(definitions[orphan], other.ID) {
				pending[other]++
			}
		}
	}

	var ready []*remoteItem
	for _, orphan := range orphans {
		if pending[orphan] == 0 {
			ready = append(ready, orphan)
		}
	}
	sortRemoteByName(ready)

	var ordered []*remoteItem
	for len(ready) > 0 {
		orphan := ready[0]
		ready = ready[1:]
		ordered = append(ordered, orphan)
		for _, referenced := range allReferencedBy(definitions, orphan, orphans) {
			pending[referenced]--
			if pending[referenced] == 0 {
				ready = append(ready, referenced)
				sortRemoteByName(ready)
			}
		}
	}
	if len(ordered) != len(orphans) {
		w.log.V(1).Info("reference cycle among orphans, deleting in name order")
		return orphans, nil
	}
	return ordered, nil
}

func allReferencedBy(definitions map[*remoteItem]string, orphan *remoteItem, orphans []*remoteItem) []*remoteItem {
	var referenced []*remoteItem
	for _, other := range orphans {
		if other != orphan && strings.Contains(definitions[orphan], other.ID) {
			referenced = append(referenced, other)
		}
	}
	return referenced
}

// remoteDefinitionText fetches one decoded definition part of a deployed
// item. Missing parts yield an empty string.
func (w *Workspace) remoteDefinitionText(ctx context.Context, itemID, partPath string) (string, error) {
	resp, err := w.endpoint.Invoke(ctx, http.MethodPost,
		w.workspacePath("items/"+itemID+"/getDefinition"), nil)
	if err != nil {
		return "", err
	}
	var body struct {
		Definition struct {
			Parts []repository.DefinitionPart `json:"parts"`
		} `json:"definition"`
	}
	if err := resp.Decode(&body); err != nil {
		return "", err
	}
	for _, part := range body.Definition.Parts {
		if part.Path != partPath {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(part.Payload)
		if err != nil {
			return "", faults.New(faults.ParsingError, "decoding definition part "+partPath, err)
		}
		return string(decoded), nil
	}
	return "", nil
}

func sortRemoteByName(items []*remoteItem) {
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
}
