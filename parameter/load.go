package parameter

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/go-logr/logr"
	"gopkg.in/yaml.v3"

	"github.com/fabworks/fabdeploy/faults"
	"github.com/fabworks/fabdeploy/itemtype"
)

var envVarPattern = regexp.MustCompile(`\$ENV:(\w+)`)

// Load reads and validates the parameter file. A missing file yields an
// empty rule set; a present but invalid file is fatal. When
// replaceEnvVars is set, $ENV:NAME references in the raw file are replaced
// with the process environment before parsing; unset names are errors.
func Load(path string, replaceEnvVars bool, log logr.Logger) (*File, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		log.V(1).Info("no parameter file", "path", path)
		return &File{}, nil
	}
	if err != nil {
		return nil, faults.New(faults.InputError, "reading parameter file "+path, err)
	}

	text := string(raw)
	if replaceEnvVars {
		text, err = substituteEnvVars(text)
		if err != nil {
			return nil, err
		}
	}

	var file File
	dec := yaml.NewDecoder(strings.NewReader(text))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, faults.New(faults.ParameterValidationError, "parsing parameter file "+path, err)
	}
	if err := file.Validate(); err != nil {
		return nil, err
	}
	log.Info("parameter file loaded", "path", path,
		"find_replace", len(file.FindReplace),
		"key_value_replace", len(file.KeyValueReplace),
		"spark_pool", len(file.SparkPool))
	return &file, nil
}

func substituteEnvVars(text string) (string, error) {
	var missing []string
	replaced := envVarPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		value, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
			return match
		}
		return value
	})
	if len(missing) > 0 {
		return "", faults.Newf(faults.ParameterValidationError,
			"environment variables referenced by the parameter file are unset: %s",
			strings.Join(missing, ", "))
	}
	return replaced, nil
}

// Validate checks every rule's structure. All violations are collected so a
// broken file reports everything at once.
func (f *File) Validate() error {
	var problems []string

	for i, rule := range f.FindReplace {
		where := fmt.Sprintf("find_replace[%d]", i)
		if strings.TrimSpace(rule.FindValue) == "" {
			problems = append(problems, where+": find_value is required")
		}
		problems = append(problems, validateEnvironmentKeys(where, keysOf(rule.ReplaceValue))...)
		if rule.IsRegex {
			problems = append(problems, validateRegex(where, rule.FindValue)...)
		}
		problems = append(problems, validateItemTypes(where, rule.Filter.ItemType)...)
	}

	for i, rule := range f.KeyValueReplace {
		where := fmt.Sprintf("key_value_replace[%d]", i)
		if strings.TrimSpace(rule.FindKey) == "" {
			problems = append(problems, where+": find_key is required")
		}
		problems = append(problems, validateEnvironmentKeys(where, keysOf(rule.ReplaceValue))...)
		problems = append(problems, validateItemTypes(where, rule.Filter.ItemType)...)
	}

	for i, rule := range f.SparkPool {
		where := fmt.Sprintf("spark_pool[%d]", i)
		if strings.TrimSpace(rule.InstancePoolID) == "" {
			problems = append(problems, where+": instance_pool_id is required")
		}
		problems = append(problems, validateEnvironmentKeys(where, keysOfPools(rule.ReplaceValue))...)
		for env, pool := range rule.ReplaceValue {
			if pool.Type != "Capacity" && pool.Type != "Workspace" {
				problems = append(problems,
					fmt.Sprintf("%s: replace_value.%s.type must be Capacity or Workspace, got %q", where, env, pool.Type))
			}
			if strings.TrimSpace(pool.Name) == "" {
				problems = append(problems, fmt.Sprintf("%s: replace_value.%s.name is required", where, env))
			}
		}
	}

	if len(problems) > 0 {
		return faults.Newf(faults.ParameterValidationError,
			"parameter file is invalid:\n  %s", strings.Join(problems, "\n  "))
	}
	return nil
}

func keysOf(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func keysOfPools(m map[string]PoolReference) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func validateEnvironmentKeys(where string, keys []string) []string {
	if len(keys) == 0 {
		return []string{where + ": replace_value is required"}
	}
	hasWildcard := false
	for _, key := range keys {
		if key == AllEnvironments {
			hasWildcard = true
		}
	}
	if hasWildcard && len(keys) > 1 {
		// The wildcard claiming every environment next to explicit keys is
		// ambiguous, so it is rejected rather than given a precedence.
		return []string{where + ": " + AllEnvironments + " must be the only replace_value key"}
	}
	return nil
}

func validateRegex(where, pattern string) []string {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return []string{where + ": find_value is not a valid regex: " + err.Error()}
	}
	if re.NumSubexp() != 1 {
		return []string{fmt.Sprintf("%s: regex must have exactly one capture group, has %d", where, re.NumSubexp())}
	}
	return nil
}

func validateItemTypes(where string, types StringOrList) []string {
	var problems []string
	for _, raw := range types {
		if _, err := itemtype.Parse(raw); err != nil {
			problems = append(problems, where+": "+err.Error())
		}
	}
	return problems
}
