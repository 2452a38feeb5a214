package repository

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-logr/logr"

	"github.com/fabworks/fabdeploy/faults"
	"github.com/fabworks/fabdeploy/itemtype"
)

func writeItem(t *testing.T, root, folder, name, itemType, logicalID string, files map[string][]byte) string {
	t.Helper()
	dir := filepath.Join(root, folder, name+"."+itemType)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	platform := `{
  "metadata": {"type": "` + itemType + `", "displayName": "` + name + `", "description": "d"},
  "config": {"logicalId": "` + logicalID + `"}
}`
	if err := os.WriteFile(filepath.Join(dir, PlatformFileName), []byte(platform), 0o644); err != nil {
		t.Fatalf("write platform: %v", err)
	}
	for path, payload := range files {
		full := filepath.Join(dir, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, payload, 0o644); err != nil {
			t.Fatalf("write file: %v", err)
		}
	}
	return dir
}

func TestScan(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeItem(t, root, "", "Orders", "Notebook", "a1111111-1111-1111-1111-111111111111",
		map[string][]byte{"notebook-content.py": []byte("print('hi')")})
	writeItem(t, root, filepath.Join("etl", "daily"), "Ingest", "DataPipeline", "b2222222-2222-2222-2222-222222222222",
		map[string][]byte{"pipeline-content.json": []byte(`{"properties":{}}`)})

	repo, err := Scan(root, logr.Discard())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(repo.Items))
	}

	nb, ok := repo.Get(itemtype.Notebook, "Orders")
	if !ok {
		t.Fatalf("notebook not found")
	}
	if nb.Folder != "" {
		t.Fatalf("root item must have empty folder, got %q", nb.Folder)
	}
	// .platform plus the content file.
	if len(nb.Files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(nb.Files))
	}

	pipe, ok := repo.Get(itemtype.DataPipeline, "Ingest")
	if !ok {
		t.Fatalf("pipeline not found")
	}
	if pipe.Folder != "etl/daily" {
		t.Fatalf("unexpected folder %q", pipe.Folder)
	}

	if len(repo.Folders) != 2 || repo.Folders[0] != "etl" || repo.Folders[1] != "etl/daily" {
		t.Fatalf("folders must list ancestors shallow-first, got %v", repo.Folders)
	}
}

func TestScanRejectsMissingLogicalID(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeItem(t, root, "", "Orders", "Notebook", "", nil)
	writeItem(t, root, "", "Returns", "Notebook", "", nil)

	_, err := Scan(root, logr.Discard())
	if !faults.IsCategory(err, faults.RepositoryError) {
		t.Fatalf("expected repository error, got %v", err)
	}
	// Both offending directories must be reported at once.
	for _, name := range []string{"Orders.Notebook", "Returns.Notebook"} {
		if !strings.Contains(err.Error(), name) {
			t.Fatalf("error must name %s: %v", name, err)
		}
	}
}

func TestScanRejectsDuplicateLogicalID(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	id := "c3333333-3333-3333-3333-333333333333"
	writeItem(t, root, "", "Orders", "Notebook", id, nil)
	writeItem(t, root, "", "Returns", "Notebook", id, nil)

	if _, err := Scan(root, logr.Discard()); !faults.IsCategory(err, faults.RepositoryError) {
		t.Fatalf("expected repository error, got %v", err)
	}
}

func TestScanSkipsUnmanagedTypes(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeItem(t, root, "", "Orders", "Notebook", "a1111111-1111-1111-1111-111111111111",
		map[string][]byte{"notebook-content.py": []byte("print('hi')")})
	// Exports can carry types this build leaves alone; the rest of the
	// repository must still deploy.
	writeItem(t, root, "", "Job", "SparkJobDefinition", "d4444444-4444-4444-4444-444444444444", nil)

	repo, err := Scan(root, logr.Discard())
	if err != nil {
		t.Fatalf("unmanaged type must not abort the scan: %v", err)
	}
	if len(repo.Items) != 1 {
		t.Fatalf("expected only the notebook, got %d items", len(repo.Items))
	}
	if _, ok := repo.Get(itemtype.Notebook, "Orders"); !ok {
		t.Fatalf("notebook must survive the scan")
	}
}

func TestScanRejectsInvalidFolderName(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeItem(t, root, "bad#folder", "Orders", "Notebook", "e5555555-5555-5555-5555-555555555555", nil)

	if _, err := Scan(root, logr.Discard()); !faults.IsCategory(err, faults.RepositoryError) {
		t.Fatalf("expected repository error, got %v", err)
	}
}

func TestFileBinaryDetection(t *testing.T) {
	t.Parallel()

	text := NewFile("report.json", []byte(`{"a":1}`))
	if text.IsBinary() {
		t.Fatalf("json must be text")
	}
	text.SetText(`{"a":2}`)
	if text.Text() != `{"a":2}` {
		t.Fatalf("SetText must replace contents")
	}

	binary := NewFile("img.png", []byte{0x89, 0x50, 0xff, 0xfe, 0x00})
	if !binary.IsBinary() {
		t.Fatalf("invalid utf-8 must be binary")
	}
	binary.SetText("nope")
	if binary.Text() != "" {
		t.Fatalf("binary files must not expose text")
	}
}

func TestDefinitionParts(t *testing.T) {
	t.Parallel()

	item := &Item{Files: []*File{NewFile("a.json", []byte("{}"))}}
	parts := item.DefinitionParts()
	if len(parts) != 1 {
		t.Fatalf("expected 1 part, got %d", len(parts))
	}
	if parts[0].PayloadType != "InlineBase64" || parts[0].Payload == "{}" {
		t.Fatalf("payload must be base64 inline: %+v", parts[0])
	}
}
