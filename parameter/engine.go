package parameter

import (
	"context"
	"encoding/json"
	"path"
	"regexp"
	"strings"

	"github.com/go-logr/logr"
	"github.com/itchyny/gojq"
	"gopkg.in/yaml.v3"

	"github.com/fabworks/fabdeploy/faults"
	"github.com/fabworks/fabdeploy/repository"
)

// sparkComputeFile is the environment compute settings file spark_pool
// rules rewrite.
const sparkComputeFile = "Sparkcompute.yml"

// Engine applies a validated rule file to item definition files for one
// target environment. Dynamic variables resolve through the injected
// Resolver only when a rule actually fires, so offline validation never
// touches the network.
type Engine struct {
	file        *File
	environment string
	resolver    Resolver
	log         logr.Logger
}

func NewEngine(file *File, environment string, resolver Resolver, log logr.Logger) *Engine {
	if file == nil {
		file = &File{}
	}
	return &Engine{file: file, environment: environment, resolver: resolver, log: log}
}

// ApplyToItem runs every matching rule over every text file of the item.
func (e *Engine) ApplyToItem(ctx context.Context, item *repository.Item) error {
	for _, f := range item.Files {
		if err := e.ApplyToFile(ctx, item, f); err != nil {
			return err
		}
	}
	return nil
}

// ApplyToFile runs every matching rule over one definition file. Binary
// files never change.
func (e *Engine) ApplyToFile(ctx context.Context, item *repository.Item, f *repository.File) error {
	if f.IsBinary() || e.file.Empty() {
		return nil
	}

	paths := []string{f.Path, path.Join(itemDirName(item), f.Path)}
	if item.Folder != "" {
		paths = append(paths, path.Join(item.Folder, itemDirName(item), f.Path))
	}

	for i, rule := range e.file.FindReplace {
		value, ok := valueFor(rule.ReplaceValue, e.environment)
		if !ok {
			e.skipNotice("find_replace", i)
			continue
		}
		if !rule.Filter.Matches(item.Type, item.Name, paths) {
			continue
		}
		if err := e.applyFindReplace(ctx, i, rule, value, item, f); err != nil {
			return err
		}
	}

	for i, rule := range e.file.KeyValueReplace {
		value, ok := valueFor(rule.ReplaceValue, e.environment)
		if !ok {
			e.skipNotice("key_value_replace", i)
			continue
		}
		if !rule.Filter.Matches(item.Type, item.Name, paths) {
			continue
		}
		if err := e.applyKeyValueReplace(ctx, i, rule, value, item, f); err != nil {
			return err
		}
	}

	for i, rule := range e.file.SparkPool {
		if len(rule.ItemName) > 0 && !containsString(rule.ItemName, item.Name) {
			continue
		}
		pool, ok := valueFor(rule.ReplaceValue, e.environment)
		if !ok {
			e.skipNotice("spark_pool", i)
			continue
		}
		if err := e.applySparkPool(i, rule, pool, item, f); err != nil {
			return err
		}
	}
	return nil
}

// skipNotice records that a rule carries no value for the target
// environment; files silently staying unparameterized is the kind of drift
// operators need to see.
func (e *Engine) skipNotice(kind string, index int) {
	e.log.V(1).Info("rule does not address the target environment",
		"rule", kind, "index", index, "environment", e.environment)
}

func (e *Engine) applyFindReplace(ctx context.Context, index int, rule FindReplace, value string, item *repository.Item, f *repository.File) error {
	text := f.Text()

	if !rule.IsRegex {
		if !strings.Contains(text, rule.FindValue) {
			return nil
		}
		resolved, err := ResolveValue(ctx, value, e.resolver, e.log)
		if err != nil {
			return err
		}
		f.SetText(strings.ReplaceAll(text, rule.FindValue, resolved))
		e.logApplied("find_replace", index, item, f)
		return nil
	}

	// Validation guarantees exactly one capture group; only the captured
	// span is replaced, the surrounding match is kept.
	re, err := regexp.Compile(rule.FindValue)
	if err != nil {
		return faults.New(faults.ParameterValidationError, "find_replace regex", err)
	}
	matches := re.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return nil
	}
	resolved, err := ResolveValue(ctx, value, e.resolver, e.log)
	if err != nil {
		return err
	}
	for i := len(matches) - 1; i >= 0; i-- {
		start, end := matches[i][2], matches[i][3]
		if start < 0 {
			continue
		}
		text = text[:start] + resolved + text[end:]
	}
	f.SetText(text)
	e.logApplied("find_replace", index, item, f)
	return nil
}

func (e *Engine) applyKeyValueReplace(ctx context.Context, index int, rule KeyValueReplace, value string, item *repository.Item, f *repository.File) error {
	isJSON := strings.HasSuffix(f.Path, ".json") || path.Base(f.Path) == repository.PlatformFileName
	isYAML := strings.HasSuffix(f.Path, ".yml") || strings.HasSuffix(f.Path, ".yaml")
	if !isJSON && !isYAML {
		return nil
	}

	var doc any
	if isJSON {
		if err := json.Unmarshal(f.Payload(), &doc); err != nil {
			return faults.New(faults.ParameterValidationError,
				"key_value_replace target "+f.Path+" is not valid JSON", err)
		}
	} else {
		if err := yaml.Unmarshal(f.Payload(), &doc); err != nil {
			return faults.New(faults.ParameterValidationError,
				"key_value_replace target "+f.Path+" is not valid YAML", err)
		}
	}

	resolved, err := ResolveValue(ctx, value, e.resolver, e.log)
	if err != nil {
		return err
	}

	updated, err := setKeyPath(doc, rule.FindKey, resolved)
	if err != nil {
		return err
	}

	var out []byte
	if isJSON {
		out, err = json.MarshalIndent(updated, "", "  ")
	} else {
		out, err = yaml.Marshal(updated)
	}
	if err != nil {
		return faults.New(faults.ParameterValidationError, "re-encoding "+f.Path, err)
	}
	f.SetText(string(out))
	e.logApplied("key_value_replace", index, item, f)
	return nil
}

// setKeyPath evaluates the jq-style path assignment (findKey) = $v over the
// decoded document.
func setKeyPath(doc any, findKey string, value string) (any, error) {
	query, err := gojq.Parse("(" + findKey + ") = $newValue")
	if err != nil {
		return nil, faults.New(faults.ParameterValidationError, "find_key "+findKey, err)
	}
	code, err := gojq.Compile(query, gojq.WithVariables([]string{"$newValue"}))
	if err != nil {
		return nil, faults.New(faults.ParameterValidationError, "find_key "+findKey, err)
	}
	iter := code.Run(doc, value)
	result, ok := iter.Next()
	if !ok {
		return nil, faults.Newf(faults.ParameterValidationError, "find_key %s produced no result", findKey)
	}
	if err, isErr := result.(error); isErr {
		return nil, faults.New(faults.ParameterValidationError, "find_key "+findKey, err)
	}
	return result, nil
}

func (e *Engine) applySparkPool(index int, rule SparkPool, pool PoolReference, item *repository.Item, f *repository.File) error {
	if path.Base(f.Path) != sparkComputeFile {
		return nil
	}

	var doc map[string]any
	if err := yaml.Unmarshal(f.Payload(), &doc); err != nil {
		return faults.New(faults.ParameterValidationError,
			"spark_pool target "+f.Path+" is not valid YAML", err)
	}

	if !replaceInstancePool(doc, rule.InstancePoolID, pool) {
		return nil
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return faults.New(faults.ParameterValidationError, "re-encoding "+f.Path, err)
	}
	f.SetText(string(out))
	e.logApplied("spark_pool", index, item, f)
	return nil
}

// replaceInstancePool finds the instance_pool mapping whose id matches and
// replaces it with the capacity- or workspace-level pool reference.
func replaceInstancePool(node map[string]any, poolID string, pool PoolReference) bool {
	changed := false
	for key, value := range node {
		child, ok := value.(map[string]any)
		if !ok {
			continue
		}
		if key == "instance_pool" && child["id"] == poolID {
			node[key] = map[string]any{"name": pool.Name, "type": pool.Type}
			changed = true
			continue
		}
		if replaceInstancePool(child, poolID, pool) {
			changed = true
		}
	}
	return changed
}

func (e *Engine) logApplied(kind string, index int, item *repository.Item, f *repository.File) {
	e.log.V(1).Info("parameter applied", "rule", kind, "index", index,
		"item", item.Key(), "file", f.Path)
}

func itemDirName(item *repository.Item) string {
	return item.Name + "." + string(item.Type)
}
