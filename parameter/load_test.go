package parameter

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-logr/logr"

	"github.com/fabworks/fabdeploy/faults"
)

func writeParams(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "parameter.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadValidFile(t *testing.T) {
	t.Parallel()

	path := writeParams(t, `
find_replace:
  - find_value: 00000000-0000-0000-0000-000000000000
    replace_value:
      dev: 3f1b6c1e-9d7a-4c21-8c55-0f1a2b3c4d5e
      prod: $workspace.id
    item_type: Notebook
key_value_replace:
  - find_key: .properties.parameters.server.value
    replace_value:
      _ALL_: sql.contoso.com
spark_pool:
  - instance_pool_id: 72c68dbc-0775-4d59-909d-a47896f4573b
    replace_value:
      prod:
        type: Capacity
        name: LargePool
`)
	file, err := Load(path, false, logr.Discard())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(file.FindReplace) != 1 || len(file.KeyValueReplace) != 1 || len(file.SparkPool) != 1 {
		t.Fatalf("unexpected rule counts: %+v", file)
	}
	if file.FindReplace[0].ItemType[0] != "Notebook" {
		t.Fatalf("scalar filter must decode as single-element list")
	}
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	file, err := Load(filepath.Join(t.TempDir(), "absent.yml"), false, logr.Discard())
	if err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}
	if !file.Empty() {
		t.Fatalf("missing file must yield empty rules")
	}
}

func TestLoadCollectsAllValidationProblems(t *testing.T) {
	t.Parallel()

	path := writeParams(t, `
find_replace:
  - find_value: ""
    replace_value:
      _ALL_: x
      dev: y
  - find_value: "no (groups here"
    is_regex: true
    replace_value:
      dev: z
    item_type: Dashboard
spark_pool:
  - instance_pool_id: abc
    replace_value:
      dev:
        type: Premium
        name: ""
`)
	_, err := Load(path, false, logr.Discard())
	if !faults.IsCategory(err, faults.ParameterValidationError) {
		t.Fatalf("expected validation error, got %v", err)
	}
	for _, fragment := range []string{
		"find_value is required",
		"_ALL_ must be the only replace_value key",
		"not a valid regex",
		"Dashboard",
		"type must be Capacity or Workspace",
		"name is required",
	} {
		if !strings.Contains(err.Error(), fragment) {
			t.Fatalf("error must mention %q:\n%v", fragment, err)
		}
	}
}

func TestLoadRejectsWrongCaptureGroupCount(t *testing.T) {
	t.Parallel()

	path := writeParams(t, `
find_replace:
  - find_value: '"server": "(.*?)" "(.*?)"'
    is_regex: true
    replace_value:
      dev: host
`)
	_, err := Load(path, false, logr.Discard())
	if !faults.IsCategory(err, faults.ParameterValidationError) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "exactly one capture group") {
		t.Fatalf("error must name the capture group rule: %v", err)
	}
}

func TestLoadEnvVarSubstitution(t *testing.T) {
	t.Setenv("FABDEPLOY_TEST_SERVER", "sql.contoso.com")

	path := writeParams(t, `
find_replace:
  - find_value: placeholder-server
    replace_value:
      dev: $ENV:FABDEPLOY_TEST_SERVER
`)
	file, err := Load(path, true, logr.Discard())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if file.FindReplace[0].ReplaceValue["dev"] != "sql.contoso.com" {
		t.Fatalf("env var not substituted: %+v", file.FindReplace[0].ReplaceValue)
	}

	// Disabled substitution keeps the literal text.
	file, err = Load(path, false, logr.Discard())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if file.FindReplace[0].ReplaceValue["dev"] != "$ENV:FABDEPLOY_TEST_SERVER" {
		t.Fatalf("literal must survive when substitution is off")
	}
}

func TestLoadEnvVarSubstitutionMissingVariable(t *testing.T) {
	t.Parallel()

	path := writeParams(t, `
find_replace:
  - find_value: x
    replace_value:
      dev: $ENV:FABDEPLOY_DEFINITELY_UNSET_VAR
`)
	_, err := Load(path, true, logr.Discard())
	if !faults.IsCategory(err, faults.ParameterValidationError) {
		t.Fatalf("expected validation error for unset env var, got %v", err)
	}
}
