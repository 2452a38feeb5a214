package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fabworks/fabdeploy/faults"
)

func writeNotebook(t *testing.T, dir, name string) {
	t.Helper()
	itemDir := filepath.Join(dir, name+".Notebook")
	if err := os.MkdirAll(itemDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	platform := `{"metadata":{"type":"Notebook","displayName":"` + name + `"},"config":{"logicalId":"11111111-1111-1111-1111-111111111111"}}`
	if err := os.WriteFile(filepath.Join(itemDir, ".platform"), []byte(platform), 0o644); err != nil {
		t.Fatalf("write .platform: %v", err)
	}
	if err := os.WriteFile(filepath.Join(itemDir, "notebook-content.py"), []byte("print(1)\n"), 0o644); err != nil {
		t.Fatalf("write content: %v", err)
	}
}

func runCLI(t *testing.T, args ...string) error {
	t.Helper()
	a := &app{repoDir: "."}
	root := a.rootCommand()
	root.SetArgs(args)
	return root.Execute()
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	writeNotebook(t, dir, "Orders")

	if err := runCLI(t, "validate", "--repository", dir); err != nil {
		t.Fatalf("validate failed: %v", err)
	}
}

func TestValidateCommandRejectsBrokenRepository(t *testing.T) {
	dir := t.TempDir()
	itemDir := filepath.Join(dir, "Broken.Notebook")
	if err := os.MkdirAll(itemDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	// No logicalId: the scan must reject the item.
	platform := `{"metadata":{"type":"Notebook","displayName":"Broken"},"config":{}}`
	if err := os.WriteFile(filepath.Join(itemDir, ".platform"), []byte(platform), 0o644); err != nil {
		t.Fatalf("write .platform: %v", err)
	}

	err := runCLI(t, "validate", "--repository", dir)
	if !faults.IsCategory(err, faults.RepositoryError) {
		t.Fatalf("want repository error, got %v", err)
	}
}

func TestPublishRejectsBadItemType(t *testing.T) {
	dir := t.TempDir()
	err := runCLI(t, "publish",
		"--workspace-id", "6f4e5a88-1a2b-4c3d-9e0f-123456789abc",
		"--repository", dir,
		"--item-types", "Notebok",
		"--token", "x")
	if !faults.IsCategory(err, faults.InputError) {
		t.Fatalf("want input error, got %v", err)
	}
}

func TestPublishRejectsBadExcludeRegex(t *testing.T) {
	dir := t.TempDir()
	err := runCLI(t, "publish",
		"--workspace-id", "6f4e5a88-1a2b-4c3d-9e0f-123456789abc",
		"--repository", dir,
		"--exclude-regex", "[unterminated",
		"--token", "x")
	if !faults.IsCategory(err, faults.InputError) {
		t.Fatalf("want input error, got %v", err)
	}
}

func TestPublishRequiresToken(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(tokenEnvVar, "")
	err := runCLI(t, "publish",
		"--workspace-id", "6f4e5a88-1a2b-4c3d-9e0f-123456789abc",
		"--repository", dir)
	if !faults.IsCategory(err, faults.AuthError) {
		t.Fatalf("want auth error, got %v", err)
	}
	if !strings.Contains(err.Error(), tokenEnvVar) {
		t.Fatalf("error must point at the token env var, got %v", err)
	}
}

func TestConfirmDeletionRefusesNonInteractive(t *testing.T) {
	// Test processes have no TTY on stdin, so the prompt path is refused.
	a := &app{}
	err := a.confirmDeletion("6f4e5a88-1a2b-4c3d-9e0f-123456789abc", "")
	if !faults.IsCategory(err, faults.InputError) {
		t.Fatalf("want input error without --yes, got %v", err)
	}

	a.yes = true
	if err := a.confirmDeletion("6f4e5a88-1a2b-4c3d-9e0f-123456789abc", ""); err != nil {
		t.Fatalf("--yes must skip the prompt, got %v", err)
	}
}
