// Package version performs an advisory freshness check of the running
// build against the published module index.
package version

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/go-logr/logr"
)

const latestURL = "https://proxy.golang.org/github.com/fabworks/fabdeploy/@latest"

// CheckLatest logs a hint when a newer release exists. Network or parse
// failures stay silent: the check must never affect a deployment.
func CheckLatest(ctx context.Context, current string, log logr.Logger) {
	currentVersion, err := semver.NewVersion(current)
	if err != nil {
		return
	}

	latest := fetchLatest(ctx)
	if latest == "" {
		return
	}
	latestVersion, err := semver.NewVersion(latest)
	if err != nil {
		return
	}

	if latestVersion.GreaterThan(currentVersion) {
		log.Info("a newer release is available",
			"current", currentVersion.Original(), "latest", latestVersion.Original())
	}
}

// latestEndpoint is swappable for tests.
var latestEndpoint = latestURL

func fetchLatest(ctx context.Context) string {
	reqCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, latestEndpoint, nil)
	if err != nil {
		return ""
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}

	var info struct {
		Version string `json:"Version"`
	}
	if json.NewDecoder(resp.Body).Decode(&info) != nil {
		return ""
	}
	return info.Version
}
