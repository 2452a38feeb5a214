package workspace

import (
	"context"
	"net/http"
	"time"

	"github.com/fabworks/fabdeploy/faults"
	"github.com/fabworks/fabdeploy/itemtype"
	"github.com/fabworks/fabdeploy/repository"
)

// defaultPollInterval paces provisioning polls; tests shrink it through
// Workspace.pollInterval.
const defaultPollInterval = 5 * time.Second

// provisioningPollLimit bounds every post-publish poll loop. The waits are
// minutes-scale server-side; a wait that outlives this is reported as a
// provisioning failure rather than hanging the run.
const provisioningPollLimit = 40

// waitForProvisioning blocks until the just-published item is actually
// usable, per its type's wait policy. Items that fail to provision are
// recorded as failed even though the publish call itself succeeded.
func (w *Workspace) waitForProvisioning(ctx context.Context, item *repository.Item, spec itemtype.Spec) error {
	switch spec.Wait {
	case itemtype.WaitNone:
		return nil
	case itemtype.WaitSQLEndpoint:
		return w.waitSQLEndpoint(ctx, item)
	case itemtype.WaitMirroring:
		return w.waitMirroring(ctx, item)
	case itemtype.WaitEnvironmentPublish:
		return w.publishEnvironment(ctx, item)
	default:
		return nil
	}
}

// waitSQLEndpoint polls the item detail until its SQL endpoint reports a
// terminal provisioning status. Dependent items connect through that
// endpoint, so publishing them before it exists produces broken bindings.
func (w *Workspace) waitSQLEndpoint(ctx context.Context, item *repository.Item) error {
	detailPath := w.workspacePath(itemtype.APIPath(item.Type) + "/" + item.GUID)
	for attempt := 0; attempt < provisioningPollLimit; attempt++ {
		resp, err := w.endpoint.Invoke(ctx, http.MethodGet, detailPath, nil)
		if err != nil {
			return err
		}
		var detail struct {
			Properties struct {
				ProvisioningStatus    string `json:"provisioningStatus"`
				SQLEndpointProperties struct {
					ProvisioningStatus string `json:"provisioningStatus"`
					ConnectionString   string `json:"connectionString"`
				} `json:"sqlEndpointProperties"`
				ConnectionString string `json:"connectionString"`
			} `json:"properties"`
		}
		if err := resp.Decode(&detail); err != nil {
			return err
		}

		status := detail.Properties.SQLEndpointProperties.ProvisioningStatus
		if status == "" {
			status = detail.Properties.ProvisioningStatus
		}
		switch status {
		case "Success", "Succeeded":
			return nil
		case "Failed":
			return faults.Newf(faults.ProvisioningError,
				"%s: SQL endpoint provisioning failed", item.Key())
		}
		if detail.Properties.ConnectionString != "" {
			return nil
		}
		if err := w.pollDelay(ctx, attempt); err != nil {
			return err
		}
	}
	return faults.Newf(faults.ProvisioningError,
		"%s: SQL endpoint did not provision in time", item.Key())
}

// waitMirroring polls a mirrored database until replication leaves its
// initial state.
func (w *Workspace) waitMirroring(ctx context.Context, item *repository.Item) error {
	statusPath := w.workspacePath("mirroredDatabases/" + item.GUID + "/getMirroringStatus")
	for attempt := 0; attempt < provisioningPollLimit; attempt++ {
		resp, err := w.endpoint.Invoke(ctx, http.MethodPost, statusPath, nil)
		if err != nil {
			return err
		}
		var status struct {
			Status string `json:"status"`
		}
		if err := resp.Decode(&status); err != nil {
			return err
		}
		switch status.Status {
		case "Running", "Stopped":
			return nil
		case "Failed":
			return faults.Newf(faults.ProvisioningError, "%s: mirroring failed to start", item.Key())
		}
		if err := w.pollDelay(ctx, attempt); err != nil {
			return err
		}
	}
	return faults.Newf(faults.ProvisioningError, "%s: mirroring did not start in time", item.Key())
}

func (w *Workspace) pollDelay(ctx context.Context, attempt int) error {
	delay := w.pollInterval
	if delay <= 0 {
		delay = defaultPollInterval
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return faults.New(faults.InputError, "deployment cancelled", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// environmentState reads the staging publish state of an environment.
func (w *Workspace) environmentState(ctx context.Context, environmentID string) (string, error) {
	resp, err := w.endpoint.Invoke(ctx, http.MethodGet,
		w.workspacePath("environments/"+environmentID), nil)
	if err != nil {
		return "", err
	}
	var detail struct {
		Properties struct {
			PublishDetails struct {
				State string `json:"state"`
			} `json:"publishDetails"`
		} `json:"properties"`
	}
	if err := resp.Decode(&detail); err != nil {
		return "", err
	}
	return detail.Properties.PublishDetails.State, nil
}

// waitForEnvironment polls the publish state until terminal. When tolerant,
// a previously failed or cancelled publish is accepted as idle; the final
// post-publish check is strict.
func (w *Workspace) waitForEnvironment(ctx context.Context, item *repository.Item, tolerant bool) error {
	for attempt := 0; attempt < provisioningPollLimit; attempt++ {
		state, err := w.environmentState(ctx, item.GUID)
		if err != nil {
			return err
		}
		switch state {
		case "success", "Success", "":
			return nil
		case "failed", "Failed", "cancelled", "Cancelled":
			if tolerant {
				return nil
			}
			return faults.Newf(faults.ProvisioningError,
				"%s: environment publish ended %s", item.Key(), state)
		}
		if err := w.pollDelay(ctx, attempt); err != nil {
			return err
		}
	}
	return faults.Newf(faults.ProvisioningError,
		"%s: environment publish did not finish in time", item.Key())
}
