// Package parameter implements environment-scoped rewriting of item
// definition files before publish: find_replace and key_value_replace
// substitutions, spark pool remapping, and dynamic variable resolution.
package parameter

import (
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fabworks/fabdeploy/faults"
	"github.com/fabworks/fabdeploy/itemtype"
)

// AllEnvironments is the wildcard environment key. It must be the only key
// of a replace_value mapping when used.
const AllEnvironments = "_ALL_"

// StringOrList accepts a YAML scalar or sequence; filters use it so a rule
// can target one value or several.
type StringOrList []string

func (s *StringOrList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var single string
		if err := node.Decode(&single); err != nil {
			return err
		}
		*s = StringOrList{single}
		return nil
	case yaml.SequenceNode:
		var many []string
		if err := node.Decode(&many); err != nil {
			return err
		}
		*s = StringOrList(many)
		return nil
	default:
		return faults.Newf(faults.ParsingError,
			"line %d: expected a string or a list of strings", node.Line)
	}
}

// Filter is the optional scoping of a rule. Fields combine with AND; values
// inside one field combine with OR. An empty field matches everything.
type Filter struct {
	ItemType StringOrList `yaml:"item_type"`
	ItemName StringOrList `yaml:"item_name"`
	FilePath StringOrList `yaml:"file_path"`
}

// Matches reports whether the rule applies to the given file. filePaths are
// the candidate spellings of the file's location (item-relative and
// repository-relative); any match counts.
func (f Filter) Matches(t itemtype.Type, itemName string, filePaths []string) bool {
	if len(f.ItemType) > 0 && !containsString(f.ItemType, string(t)) {
		return false
	}
	if len(f.ItemName) > 0 && !containsString(f.ItemName, itemName) {
		return false
	}
	if len(f.FilePath) > 0 {
		matched := false
		for _, want := range f.FilePath {
			normalized := normalizePath(want)
			for _, have := range filePaths {
				if normalized == normalizePath(have) {
					matched = true
				}
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func containsString(list StringOrList, want string) bool {
	for _, v := range list {
		if strings.TrimSpace(v) == want {
			return true
		}
	}
	return false
}

func normalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimPrefix(p, "/")
	return path.Clean(p)
}

// FindReplace substitutes occurrences of a value, literally or through a
// single-capture-group regex, in matching text files.
type FindReplace struct {
	FindValue    string            `yaml:"find_value"`
	ReplaceValue map[string]string `yaml:"replace_value"`
	IsRegex      bool              `yaml:"is_regex"`
	Filter       `yaml:",inline"`
}

// KeyValueReplace sets the value at a key path inside structured (JSON or
// YAML) files. FindKey is a jq-style path expression.
type KeyValueReplace struct {
	FindKey      string            `yaml:"find_key"`
	ReplaceValue map[string]string `yaml:"replace_value"`
	Filter       `yaml:",inline"`
}

// PoolReference names the replacement spark pool for one environment.
type PoolReference struct {
	Type string `yaml:"type"`
	Name string `yaml:"name"`
}

// SparkPool remaps an instance pool id inside environment compute settings
// to a capacity- or workspace-level pool.
type SparkPool struct {
	InstancePoolID string                   `yaml:"instance_pool_id"`
	ReplaceValue   map[string]PoolReference `yaml:"replace_value"`
	ItemName       StringOrList             `yaml:"item_name"`
}

// File is the parsed parameter file.
type File struct {
	FindReplace     []FindReplace     `yaml:"find_replace"`
	KeyValueReplace []KeyValueReplace `yaml:"key_value_replace"`
	SparkPool       []SparkPool       `yaml:"spark_pool"`
}

// Empty reports whether the file declares no rules at all.
func (f *File) Empty() bool {
	return f == nil || (len(f.FindReplace) == 0 && len(f.KeyValueReplace) == 0 && len(f.SparkPool) == 0)
}

// valueFor picks the replacement for the target environment, honoring the
// wildcard key. ok is false when the rule does not address the environment.
func valueFor[V any](values map[string]V, environment string) (V, bool) {
	if v, ok := values[environment]; ok {
		return v, true
	}
	if v, ok := values[AllEnvironments]; ok {
		return v, true
	}
	var zero V
	return zero, false
}
