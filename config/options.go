// Package config holds the immutable per-run deployment settings: workspace
// identity, repository location, environment, item-type scope, filters,
// parallelism bound, and feature flags. A run never mutates its Options;
// commands build a fresh value per invocation.
package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/fabworks/fabdeploy/faults"
	"github.com/fabworks/fabdeploy/itemtype"
)

// DefaultWorkspaceID is the all-zeros GUID used as the workspace-id
// placeholder inside repository definition files.
const DefaultWorkspaceID = "00000000-0000-0000-0000-000000000000"

// DefaultParameterFileName is the parameterization file looked up at the
// repository root.
const DefaultParameterFileName = "parameter.yml"

// DefaultMaxParallel bounds concurrent publishes within one item type.
const DefaultMaxParallel = 4

// Options is the immutable configuration of a single deployment run.
type Options struct {
	workspaceID   string
	workspaceName string
	repositoryDir string
	environment   string
	itemTypes     []itemtype.Type
	excludeRegex  *regexp.Regexp
	folderExclude *regexp.Regexp
	itemsInclude  []string
	parameterFile string
	maxParallel   int
	features      FeatureSet
}

type Option func(*Options)

// WithWorkspaceName targets a workspace by display name instead of id; the
// id is resolved at run start.
func WithWorkspaceName(name string) Option {
	return func(o *Options) { o.workspaceName = strings.TrimSpace(name) }
}

func WithEnvironment(env string) Option {
	return func(o *Options) { o.environment = strings.TrimSpace(env) }
}

// WithItemTypes restricts the run to the given types. Empty means every
// supported type.
func WithItemTypes(types []itemtype.Type) Option {
	return func(o *Options) { o.itemTypes = itemtype.PublishOrder(types) }
}

// WithExcludeRegex removes matching item display names from publish scope.
func WithExcludeRegex(re *regexp.Regexp) Option {
	return func(o *Options) { o.excludeRegex = re }
}

// WithFolderExcludeRegex removes items under matching repository folders.
// Only honored when the exclude-folder feature is enabled.
func WithFolderExcludeRegex(re *regexp.Regexp) Option {
	return func(o *Options) { o.folderExclude = re }
}

// WithItemsToInclude restricts scope to the named "Name.Type" entries.
// Only honored when the items-to-include feature is enabled.
func WithItemsToInclude(items []string) Option {
	return func(o *Options) { o.itemsInclude = items }
}

func WithParameterFile(name string) Option {
	return func(o *Options) { o.parameterFile = strings.TrimSpace(name) }
}

func WithMaxParallel(n int) Option {
	return func(o *Options) { o.maxParallel = n }
}

func WithFeatures(features FeatureSet) Option {
	return func(o *Options) { o.features = features }
}

// NewOptions validates and freezes the settings for one run. Either the
// workspace id must be a GUID, or a workspace name must be supplied through
// WithWorkspaceName (pass an empty id in that case).
func NewOptions(workspaceID, repositoryDir string, opts ...Option) (*Options, error) {
	o := &Options{
		workspaceID:   strings.TrimSpace(workspaceID),
		repositoryDir: repositoryDir,
		parameterFile: DefaultParameterFileName,
		maxParallel:   DefaultMaxParallel,
		features:      NewFeatureSet(),
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.workspaceID == "" && o.workspaceName == "" {
		return nil, faults.Newf(faults.InputError, "a workspace id or workspace name is required")
	}
	if o.workspaceID != "" {
		if _, err := uuid.Parse(o.workspaceID); err != nil {
			return nil, faults.New(faults.InputError, "workspace id "+o.workspaceID+" is not a valid GUID", err)
		}
	}

	abs, err := filepath.Abs(o.repositoryDir)
	if err != nil {
		return nil, faults.New(faults.InputError, "resolving repository directory", err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return nil, faults.Newf(faults.InputError, "repository directory %s does not exist", abs)
	}
	o.repositoryDir = abs

	if len(o.itemTypes) == 0 {
		o.itemTypes = itemtype.All()
	}
	if o.maxParallel < 1 {
		o.maxParallel = 1
	}
	if o.parameterFile == "" {
		o.parameterFile = DefaultParameterFileName
	}
	return o, nil
}

func (o *Options) WorkspaceID() string   { return o.workspaceID }
func (o *Options) WorkspaceName() string { return o.workspaceName }
func (o *Options) RepositoryDir() string { return o.repositoryDir }
func (o *Options) Environment() string   { return o.environment }
func (o *Options) ParameterFile() string { return o.parameterFile }
func (o *Options) MaxParallel() int      { return o.maxParallel }
func (o *Options) Features() FeatureSet  { return o.features }
func (o *Options) ItemTypes() []itemtype.Type {
	types := make([]itemtype.Type, len(o.itemTypes))
	copy(types, o.itemTypes)
	return types
}

// InScope reports whether the type participates in this run.
func (o *Options) InScope(t itemtype.Type) bool {
	for _, scoped := range o.itemTypes {
		if scoped == t {
			return true
		}
	}
	return false
}

// Excluded reports whether the item is filtered out of publish scope by the
// exclude regex, the folder exclude regex, or the items-to-include list.
func (o *Options) Excluded(displayName string, t itemtype.Type, folder string) bool {
	if o.excludeRegex != nil && o.excludeRegex.MatchString(displayName) {
		return true
	}
	if o.folderExclude != nil && o.features.Enabled(FeatureExcludeFolder) &&
		folder != "" && o.folderExclude.MatchString(folder) {
		return true
	}
	if len(o.itemsInclude) > 0 && o.features.Enabled(FeatureItemsToInclude) {
		want := displayName + "." + string(t)
		for _, entry := range o.itemsInclude {
			if strings.TrimSpace(entry) == want {
				return false
			}
		}
		return true
	}
	return false
}

// ResolveWorkspaceID records the id resolved from the workspace name. It
// returns a copy; the receiver is unchanged.
func (o *Options) ResolveWorkspaceID(id string) *Options {
	resolved := *o
	resolved.workspaceID = id
	return &resolved
}

// WithIncludeList returns a copy with a different items-to-include list.
// Config-file deployments scope unpublish separately from publish.
func (o *Options) WithIncludeList(items []string) *Options {
	scoped := *o
	scoped.itemsInclude = items
	return &scoped
}
