package parameter

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"

	"github.com/fabworks/fabdeploy/faults"
	"github.com/fabworks/fabdeploy/itemtype"
	"github.com/fabworks/fabdeploy/repository"
)

type fakeResolver struct {
	workspaceID string
	workspaces  map[string]string
	attributes  map[string]string
	calls       int
}

func (r *fakeResolver) WorkspaceID() string { return r.workspaceID }

func (r *fakeResolver) LookupWorkspace(ctx context.Context, name string) (string, error) {
	r.calls++
	if id, ok := r.workspaces[name]; ok {
		return id, nil
	}
	return "", faults.Newf(faults.ParameterValidationError, "workspace %q not found", name)
}

func (r *fakeResolver) LookupItemAttribute(ctx context.Context, workspaceID string, t itemtype.Type, name, attribute string) (string, error) {
	r.calls++
	key := workspaceID + "/" + string(t) + "/" + name + "/" + attribute
	if v, ok := r.attributes[key]; ok {
		return v, nil
	}
	return "", faults.Newf(faults.ParameterValidationError, "item %s not deployed", key)
}

func notebookItem(path, content string) (*repository.Item, *repository.File) {
	f := repository.NewFile(path, []byte(content))
	item := &repository.Item{Type: itemtype.Notebook, Name: "Orders", Files: []*repository.File{f}}
	return item, f
}

func TestFindReplaceLiteral(t *testing.T) {
	t.Parallel()

	rules := &File{FindReplace: []FindReplace{{
		FindValue:    "00000000-0000-0000-0000-000000000000",
		ReplaceValue: map[string]string{"dev": "11111111-1111-1111-1111-111111111111"},
	}}}
	engine := NewEngine(rules, "dev", &fakeResolver{}, logr.Discard())

	item, f := notebookItem("notebook-content.py", `lakehouse = "00000000-0000-0000-0000-000000000000"`)
	if err := engine.ApplyToFile(context.Background(), item, f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(f.Text(), "11111111-1111-1111-1111-111111111111") {
		t.Fatalf("literal not replaced: %s", f.Text())
	}
}

func TestFindReplaceRegexReplacesOnlyCaptureGroup(t *testing.T) {
	t.Parallel()

	rules := &File{FindReplace: []FindReplace{{
		FindValue:    `"defaultLakehouseId"\s*:\s*"(.*?)"`,
		IsRegex:      true,
		ReplaceValue: map[string]string{"dev": "new-id"},
	}}}
	engine := NewEngine(rules, "dev", &fakeResolver{}, logr.Discard())

	content := `{"defaultLakehouseId": "old-1", "other": 1, "defaultLakehouseId" : "old-2"}`
	item, f := notebookItem("notebook-content.py", content)
	if err := engine.ApplyToFile(context.Background(), item, f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"defaultLakehouseId": "new-id", "other": 1, "defaultLakehouseId" : "new-id"}`
	if f.Text() != want {
		t.Fatalf("surrounding text must survive, got %s", f.Text())
	}
}

func TestFindReplaceEnvironmentScoping(t *testing.T) {
	t.Parallel()

	rules := &File{FindReplace: []FindReplace{
		{FindValue: "alpha", ReplaceValue: map[string]string{"prod": "beta"}},
		{FindValue: "gamma", ReplaceValue: map[string]string{AllEnvironments: "delta"}},
	}}
	engine := NewEngine(rules, "dev", &fakeResolver{}, logr.Discard())

	item, f := notebookItem("a.py", "alpha gamma")
	if err := engine.ApplyToFile(context.Background(), item, f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Text() != "alpha delta" {
		t.Fatalf("prod-only rule must not fire in dev, wildcard must: %s", f.Text())
	}
}

func TestFindReplaceFilters(t *testing.T) {
	t.Parallel()

	rules := &File{FindReplace: []FindReplace{{
		FindValue:    "target",
		ReplaceValue: map[string]string{"dev": "hit"},
		Filter: Filter{
			ItemType: StringOrList{"Notebook", "DataPipeline"},
			ItemName: StringOrList{"Orders"},
			FilePath: StringOrList{"notebook-content.py"},
		},
	}}}
	engine := NewEngine(rules, "dev", &fakeResolver{}, logr.Discard())

	item, f := notebookItem("notebook-content.py", "target")
	if err := engine.ApplyToFile(context.Background(), item, f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Text() != "hit" {
		t.Fatalf("all filters match, rule must fire: %s", f.Text())
	}

	other, g := notebookItem("other.py", "target")
	if err := engine.ApplyToFile(context.Background(), other, g); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.Text() != "target" {
		t.Fatalf("file_path mismatch must block the rule")
	}

	item.Name = "Returns"
	item.Files[0].SetText("target")
	if err := engine.ApplyToFile(context.Background(), item, item.Files[0]); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item.Files[0].Text() != "target" {
		t.Fatalf("item_name mismatch must block the rule")
	}
}

func TestFindReplaceResolvesLazily(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{workspaceID: "ws-1"}
	rules := &File{FindReplace: []FindReplace{{
		FindValue:    "never-present",
		ReplaceValue: map[string]string{"dev": "$workspace.unknown-workspace"},
	}}}
	engine := NewEngine(rules, "dev", resolver, logr.Discard())

	item, f := notebookItem("a.py", "content without the find value")
	if err := engine.ApplyToFile(context.Background(), item, f); err != nil {
		t.Fatalf("unmatched rule must never resolve its value: %v", err)
	}
	if resolver.calls != 0 {
		t.Fatalf("resolver must not be called without a match, got %d calls", resolver.calls)
	}
}

func TestFindReplaceDynamicVariable(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{
		workspaceID: "ws-1",
		attributes:  map[string]string{"ws-1/Lakehouse/Main/sqlendpoint": "sql.contoso.com"},
	}
	rules := &File{FindReplace: []FindReplace{{
		FindValue:    "placeholder-endpoint",
		ReplaceValue: map[string]string{"dev": "$items.Lakehouse.Main.$sqlendpoint"},
	}}}
	engine := NewEngine(rules, "dev", resolver, logr.Discard())

	item, f := notebookItem("a.py", "server = placeholder-endpoint")
	if err := engine.ApplyToFile(context.Background(), item, f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Text() != "server = sql.contoso.com" {
		t.Fatalf("dynamic variable not resolved: %s", f.Text())
	}
}

func TestFindReplaceUnresolvableVariableIsFatal(t *testing.T) {
	t.Parallel()

	rules := &File{FindReplace: []FindReplace{{
		FindValue:    "x",
		ReplaceValue: map[string]string{"dev": "$items.Lakehouse.Missing.$id"},
	}}}
	engine := NewEngine(rules, "dev", &fakeResolver{workspaceID: "ws-1"}, logr.Discard())

	item, f := notebookItem("a.py", "x")
	err := engine.ApplyToFile(context.Background(), item, f)
	if !faults.IsCategory(err, faults.ParameterValidationError) {
		t.Fatalf("expected fatal validation error, got %v", err)
	}
	if !faults.IsFatal(err) {
		t.Fatalf("dangling reference must be fatal")
	}
}

func TestKeyValueReplaceJSON(t *testing.T) {
	t.Parallel()

	rules := &File{KeyValueReplace: []KeyValueReplace{{
		FindKey:      ".properties.activities[0].linkedService.name",
		ReplaceValue: map[string]string{"dev": "dev-sql"},
	}}}
	engine := NewEngine(rules, "dev", &fakeResolver{}, logr.Discard())

	content := `{"properties":{"activities":[{"linkedService":{"name":"prod-sql"},"type":"Copy"}]}}`
	f := repository.NewFile("pipeline-content.json", []byte(content))
	item := &repository.Item{Type: itemtype.DataPipeline, Name: "Ingest", Files: []*repository.File{f}}

	if err := engine.ApplyToFile(context.Background(), item, f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(f.Payload(), &doc); err != nil {
		t.Fatalf("output must stay valid JSON: %v", err)
	}
	activity := doc["properties"].(map[string]any)["activities"].([]any)[0].(map[string]any)
	if activity["linkedService"].(map[string]any)["name"] != "dev-sql" {
		t.Fatalf("key path not updated: %s", f.Text())
	}
	if activity["type"] != "Copy" {
		t.Fatalf("sibling keys must survive: %s", f.Text())
	}
}

func TestKeyValueReplaceYAML(t *testing.T) {
	t.Parallel()

	rules := &File{KeyValueReplace: []KeyValueReplace{{
		FindKey:      ".environment.runtime",
		ReplaceValue: map[string]string{"dev": "1.3"},
	}}}
	engine := NewEngine(rules, "dev", &fakeResolver{}, logr.Discard())

	f := repository.NewFile("Setting/Sparkcompute.yml", []byte("environment:\n  runtime: \"1.2\"\n"))
	item := &repository.Item{Type: itemtype.Environment, Name: "Shared", Files: []*repository.File{f}}

	if err := engine.ApplyToFile(context.Background(), item, f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(f.Text(), "runtime: \"1.3\"") && !strings.Contains(f.Text(), "runtime: 1.3") {
		t.Fatalf("yaml key not updated: %s", f.Text())
	}
}

func TestKeyValueReplaceSkipsNonStructuredFiles(t *testing.T) {
	t.Parallel()

	rules := &File{KeyValueReplace: []KeyValueReplace{{
		FindKey:      ".a",
		ReplaceValue: map[string]string{"dev": "b"},
	}}}
	engine := NewEngine(rules, "dev", &fakeResolver{}, logr.Discard())

	item, f := notebookItem("notebook-content.py", "a = 1")
	if err := engine.ApplyToFile(context.Background(), item, f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Text() != "a = 1" {
		t.Fatalf("non-structured file must not change")
	}
}

func TestSparkPoolReplacement(t *testing.T) {
	t.Parallel()

	rules := &File{SparkPool: []SparkPool{{
		InstancePoolID: "72c68dbc-0775-4d59-909d-a47896f4573b",
		ReplaceValue:   map[string]PoolReference{"dev": {Type: "Capacity", Name: "LargePool"}},
	}}}
	engine := NewEngine(rules, "dev", &fakeResolver{}, logr.Discard())

	content := "instance_pool:\n  name: StarterPool\n  type: Workspace\n  id: 72c68dbc-0775-4d59-909d-a47896f4573b\ndriver_cores: 4\n"
	f := repository.NewFile("Setting/Sparkcompute.yml", []byte(content))
	item := &repository.Item{Type: itemtype.Environment, Name: "Shared", Files: []*repository.File{f}}

	if err := engine.ApplyToFile(context.Background(), item, f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := f.Text()
	if !strings.Contains(text, "LargePool") || !strings.Contains(text, "Capacity") {
		t.Fatalf("pool not replaced: %s", text)
	}
	if strings.Contains(text, "72c68dbc") {
		t.Fatalf("old pool id must be gone: %s", text)
	}
	if !strings.Contains(text, "driver_cores: 4") {
		t.Fatalf("unrelated settings must survive: %s", text)
	}
}

func TestSparkPoolItemNameFilter(t *testing.T) {
	t.Parallel()

	rules := &File{SparkPool: []SparkPool{{
		InstancePoolID: "pool-1",
		ReplaceValue:   map[string]PoolReference{"dev": {Type: "Workspace", Name: "Other"}},
		ItemName:       StringOrList{"Analytics"},
	}}}
	engine := NewEngine(rules, "dev", &fakeResolver{}, logr.Discard())

	content := "instance_pool:\n  id: pool-1\n"
	f := repository.NewFile("Setting/Sparkcompute.yml", []byte(content))
	item := &repository.Item{Type: itemtype.Environment, Name: "Shared", Files: []*repository.File{f}}

	if err := engine.ApplyToFile(context.Background(), item, f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Text() != content {
		t.Fatalf("item_name filter must block the rule")
	}
}

func TestBinaryFilesNeverChange(t *testing.T) {
	t.Parallel()

	rules := &File{FindReplace: []FindReplace{{
		FindValue:    "x",
		ReplaceValue: map[string]string{"dev": "y"},
	}}}
	engine := NewEngine(rules, "dev", &fakeResolver{}, logr.Discard())

	f := repository.NewFile("img.png", []byte{0xff, 0xfe, 'x'})
	item := &repository.Item{Type: itemtype.Report, Name: "R", Files: []*repository.File{f}}
	if err := engine.ApplyToFile(context.Background(), item, f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(f.Payload()) != string([]byte{0xff, 0xfe, 'x'}) {
		t.Fatalf("binary payload must be untouched")
	}
}

func TestRuleNotAddressingEnvironmentIsLogged(t *testing.T) {
	t.Parallel()

	rules := &File{FindReplace: []FindReplace{{
		FindValue:    "old-value",
		ReplaceValue: map[string]string{"dev": "new-value"},
	}}}

	var logged []string
	log := funcr.New(func(prefix, args string) {
		logged = append(logged, args)
	}, funcr.Options{Verbosity: 1})
	engine := NewEngine(rules, "prod", &fakeResolver{}, log)

	item, f := notebookItem("notebook-content.py", "old-value")
	if err := engine.ApplyToFile(context.Background(), item, f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Text() != "old-value" {
		t.Fatalf("rule without a prod value must not fire")
	}

	found := false
	for _, line := range logged {
		if strings.Contains(line, "does not address") {
			found = true
		}
	}
	if !found {
		t.Fatalf("skipped rule must be logged, got %v", logged)
	}
}
