package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fabworks/fabdeploy/faults"
	"github.com/fabworks/fabdeploy/itemtype"
)

// File is the declarative deployment config consumed by the deploy command.
// Most values accept either a plain scalar or a mapping keyed by environment
// name, so one file can drive every stage.
type File struct {
	Core struct {
		WorkspaceID   EnvString     `yaml:"workspace_id"`
		Workspace     EnvString     `yaml:"workspace"`
		Repository    EnvString     `yaml:"repository_directory"`
		ItemTypes     EnvStringList `yaml:"item_types_in_scope"`
		ParameterFile EnvString     `yaml:"parameter"`
	} `yaml:"core"`
	Publish struct {
		ExcludeRegex       EnvString     `yaml:"exclude_regex"`
		FolderExcludeRegex EnvString     `yaml:"folder_exclude_regex"`
		ItemsToInclude     EnvStringList `yaml:"items_to_include"`
		Skip               EnvBool       `yaml:"skip"`
	} `yaml:"publish"`
	Unpublish struct {
		ItemsToInclude EnvStringList `yaml:"items_to_include"`
		Skip           EnvBool       `yaml:"skip"`
	} `yaml:"unpublish"`
	Features  []string          `yaml:"features"`
	Constants map[string]string `yaml:"constants"`

	dir string
}

// Deployment is a File resolved for one environment. UnpublishOptions
// differ from Options only in the include list: the unpublish section can
// scope deletion independently of publish.
type Deployment struct {
	Options          *Options
	UnpublishOptions *Options
	SkipPublish      bool
	SkipUnpublish    bool
	Constants        map[string]string
}

// LoadFile reads and strictly decodes a deployment config file. Relative
// repository paths resolve against the file's directory.
func LoadFile(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, faults.New(faults.InputError, "reading config file "+path, err)
	}
	var file File
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, faults.New(faults.ParsingError, "parsing config file "+path, err)
	}
	file.dir = filepath.Dir(path)
	return &file, nil
}

// Resolve produces the run settings for one target environment.
func (f *File) Resolve(environment string) (*Deployment, error) {
	workspaceID := f.Core.WorkspaceID.For(environment)
	workspaceName := f.Core.Workspace.For(environment)
	if workspaceID == "" && workspaceName == "" {
		return nil, faults.Newf(faults.InputError,
			"config file defines no workspace for environment %q", environment)
	}

	repoDir := f.Core.Repository.For(environment)
	if repoDir == "" {
		return nil, faults.Newf(faults.InputError, "config file core.repository_directory is required")
	}
	if !filepath.IsAbs(repoDir) {
		repoDir = filepath.Join(f.dir, repoDir)
	}

	opts := []Option{
		WithEnvironment(environment),
		WithFeatures(NewFeatureSet(f.Features...)),
	}
	if workspaceName != "" {
		opts = append(opts, WithWorkspaceName(workspaceName))
	}
	if rawTypes := f.Core.ItemTypes.For(environment); len(rawTypes) > 0 {
		types := make([]itemtype.Type, 0, len(rawTypes))
		for _, raw := range rawTypes {
			t, err := itemtype.Parse(raw)
			if err != nil {
				return nil, faults.New(faults.InputError, "config file core.item_types_in_scope", err)
			}
			types = append(types, t)
		}
		opts = append(opts, WithItemTypes(types))
	}
	if name := f.Core.ParameterFile.For(environment); name != "" {
		opts = append(opts, WithParameterFile(name))
	}
	if pattern := f.Publish.ExcludeRegex.For(environment); pattern != "" {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, faults.New(faults.InputError, "config file publish.exclude_regex", err)
		}
		opts = append(opts, WithExcludeRegex(re))
	}
	if pattern := f.Publish.FolderExcludeRegex.For(environment); pattern != "" {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, faults.New(faults.InputError, "config file publish.folder_exclude_regex", err)
		}
		opts = append(opts, WithFolderExcludeRegex(re))
	}
	if include := f.Publish.ItemsToInclude.For(environment); len(include) > 0 {
		opts = append(opts, WithItemsToInclude(include))
	}

	options, err := NewOptions(workspaceID, repoDir, opts...)
	if err != nil {
		return nil, err
	}

	unpublishOptions := options
	if include := f.Unpublish.ItemsToInclude.For(environment); len(include) > 0 {
		unpublishOptions = options.WithIncludeList(include)
	}

	return &Deployment{
		Options:          options,
		UnpublishOptions: unpublishOptions,
		SkipPublish:      f.Publish.Skip.For(environment),
		SkipUnpublish:    f.Unpublish.Skip.For(environment),
		Constants:        f.Constants,
	}, nil
}

// EnvString is a YAML value that is either a scalar or a mapping keyed by
// environment name.
type EnvString struct {
	value  string
	scalar bool
	byEnv  map[string]string
}

func (v *EnvString) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		v.scalar = true
		return node.Decode(&v.value)
	case yaml.MappingNode:
		return node.Decode(&v.byEnv)
	default:
		return faults.Newf(faults.ParsingError,
			"line %d: expected a string or an environment mapping", node.Line)
	}
}

// For returns the value for the environment, falling back to the scalar form.
func (v EnvString) For(environment string) string {
	if v.scalar {
		return strings.TrimSpace(v.value)
	}
	return strings.TrimSpace(v.byEnv[environment])
}

// EnvStringList is a YAML value that is either a string list or a mapping
// from environment name to string list.
type EnvStringList struct {
	values []string
	scalar bool
	byEnv  map[string][]string
}

func (v *EnvStringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		v.scalar = true
		return node.Decode(&v.values)
	case yaml.MappingNode:
		return node.Decode(&v.byEnv)
	default:
		return faults.Newf(faults.ParsingError,
			"line %d: expected a list or an environment mapping", node.Line)
	}
}

func (v EnvStringList) For(environment string) []string {
	if v.scalar {
		return v.values
	}
	return v.byEnv[environment]
}

// EnvBool is a YAML value that is either a bool or a mapping from
// environment name to bool. Absent environments resolve to false.
type EnvBool struct {
	value  bool
	scalar bool
	byEnv  map[string]bool
}

func (v *EnvBool) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		v.scalar = true
		return node.Decode(&v.value)
	case yaml.MappingNode:
		return node.Decode(&v.byEnv)
	default:
		return faults.Newf(faults.ParsingError,
			"line %d: expected a bool or an environment mapping", node.Line)
	}
}

func (v EnvBool) For(environment string) bool {
	if v.scalar {
		return v.value
	}
	return v.byEnv[environment]
}
