// Package gitsource materializes a deployment source directly from a git
// repository, for CI flows that deploy a ref without a local checkout.
package gitsource

import (
	"context"
	"os"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-logr/logr"

	"github.com/fabworks/fabdeploy/faults"
)

// Source describes what to clone.
type Source struct {
	// URL is the https clone URL.
	URL string

	// Ref is a branch or tag name. Empty means the remote default branch.
	Ref string

	// Token authenticates https clones of private repositories.
	Token string
}

// Fetch shallow-clones the source into a temp directory and returns its
// path plus a cleanup that removes it. Callers deploy from the returned
// directory (optionally a subdirectory of it) and then call cleanup.
func Fetch(ctx context.Context, src Source, log logr.Logger) (string, func(), error) {
	if src.URL == "" {
		return "", nil, faults.Newf(faults.InputError, "a git URL is required")
	}

	dir, err := os.MkdirTemp("", "fabdeploy-git-*")
	if err != nil {
		return "", nil, faults.New(faults.InputError, "creating clone directory", err)
	}
	cleanup := func() { os.RemoveAll(dir) }

	opts := &git.CloneOptions{
		URL:          src.URL,
		Depth:        1,
		SingleBranch: true,
	}
	if src.Token != "" {
		opts.Auth = &http.BasicAuth{Username: "token", Password: src.Token}
	}

	if src.Ref == "" {
		if _, err := git.PlainCloneContext(ctx, dir, false, opts); err != nil {
			cleanup()
			return "", nil, faults.New(faults.InputError, "cloning "+src.URL, err)
		}
		log.Info("source cloned", "url", src.URL)
		return dir, cleanup, nil
	}

	// The ref can be spelled as a branch or a tag; try both.
	var cloneErr error
	for _, refName := range []plumbing.ReferenceName{
		plumbing.NewBranchReferenceName(src.Ref),
		plumbing.NewTagReferenceName(src.Ref),
	} {
		opts.ReferenceName = refName
		if _, cloneErr = git.PlainCloneContext(ctx, dir, false, opts); cloneErr == nil {
			log.Info("source cloned", "url", src.URL, "ref", src.Ref)
			return dir, cleanup, nil
		}
		os.RemoveAll(dir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			cleanup()
			return "", nil, faults.New(faults.InputError, "resetting clone directory", err)
		}
	}
	cleanup()
	return "", nil, faults.New(faults.InputError,
		"cloning "+src.URL+" at "+src.Ref, cloneErr)
}
