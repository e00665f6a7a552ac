package yaml

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/model"
)

func TestQuarantine(t *testing.T) {
	benchDir := t.TempDir()
	filePath := filepath.Join(benchDir, "state.yaml")

	// Create a corrupted file
	os.WriteFile(filePath, []byte("corrupted: [\n"), 0644)

	if err := Quarantine(benchDir, filePath); err != nil {
		t.Fatalf("Quarantine failed: %v", err)
	}

	// Original file should be gone
	if _, err := os.Stat(filePath); !os.IsNotExist(err) {
		t.Error("original file should be removed after quarantine")
	}

	// Quarantine dir should have the file
	quarantineDir := filepath.Join(benchDir, "quarantine")
	entries, err := os.ReadDir(quarantineDir)
	if err != nil {
		t.Fatalf("ReadDir quarantine failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 quarantined file, got %d", len(entries))
	}
	if !strings.HasPrefix(entries[0].Name(), "state.yaml.") || !strings.HasSuffix(entries[0].Name(), ".corrupt") {
		t.Errorf("unexpected quarantine filename: %s", entries[0].Name())
	}
}

func TestRestoreFromBackup(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "state.yaml")
	bakPath := filePath + ".bak"

	validContent := []byte("schema_version: 1\nfile_type: run_state\nstatus: running\n")
	os.WriteFile(bakPath, validContent, 0644)

	if err := RestoreFromBackup(filePath); err != nil {
		t.Fatalf("RestoreFromBackup failed: %v", err)
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(content) != string(validContent) {
		t.Errorf("restored content mismatch:\ngot:  %q\nwant: %q", content, validContent)
	}
}

func TestRestoreFromBackup_NoBackup(t *testing.T) {
	dir := t.TempDir()
	err := RestoreFromBackup(filepath.Join(dir, "state.yaml"))
	if err == nil {
		t.Fatal("expected error when no backup exists")
	}
	if !strings.Contains(err.Error(), "no backup file") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRestoreFromBackup_CorruptedBackup(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "state.yaml")
	os.WriteFile(filePath+".bak", []byte("broken: [\n"), 0644)

	err := RestoreFromBackup(filePath)
	if err == nil {
		t.Fatal("expected error for corrupted backup")
	}
	if !strings.Contains(err.Error(), "backup YAML is also corrupted") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRecoverCorruptedFile_RestoresBackup(t *testing.T) {
	benchDir := t.TempDir()
	filePath := filepath.Join(benchDir, "state.yaml")

	os.WriteFile(filePath, []byte("broken: [\n"), 0644)
	os.WriteFile(filePath+".bak", []byte("schema_version: 1\nfile_type: run_state\nstatus: paused\n"), 0644)

	if err := RecoverCorruptedFile(benchDir, filePath, model.FileTypeRunState); err != nil {
		t.Fatalf("RecoverCorruptedFile failed: %v", err)
	}

	var restored map[string]any
	content, _ := os.ReadFile(filePath)
	if err := yamlv3.Unmarshal(content, &restored); err != nil {
		t.Fatalf("restored file unparseable: %v", err)
	}
	if restored["status"] != "paused" {
		t.Errorf("status: got %v, want paused", restored["status"])
	}
}

func TestRecoverCorruptedFile_SkeletonFallback(t *testing.T) {
	benchDir := t.TempDir()
	filePath := filepath.Join(benchDir, "state.yaml")
	os.WriteFile(filePath, []byte("broken: [\n"), 0644)

	if err := RecoverCorruptedFile(benchDir, filePath, model.FileTypeRunState); err != nil {
		t.Fatalf("RecoverCorruptedFile failed: %v", err)
	}

	var skeleton map[string]any
	content, _ := os.ReadFile(filePath)
	if err := yamlv3.Unmarshal(content, &skeleton); err != nil {
		t.Fatalf("skeleton unparseable: %v", err)
	}
	if skeleton["file_type"] != model.FileTypeRunState {
		t.Errorf("file_type: got %v, want %q", skeleton["file_type"], model.FileTypeRunState)
	}
}

func TestRecoverCorruptedFile_NonRegenerable(t *testing.T) {
	benchDir := t.TempDir()
	filePath := filepath.Join(benchDir, "protocol.yaml")
	os.WriteFile(filePath, []byte("broken: [\n"), 0644)

	err := RecoverCorruptedFile(benchDir, filePath, model.FileTypeProtocol)
	if err == nil {
		t.Fatal("expected error: protocols must never be regenerated")
	}
	if !strings.Contains(err.Error(), "not regenerable") {
		t.Errorf("unexpected error: %v", err)
	}

	// The corrupted original must still be quarantined
	entries, _ := os.ReadDir(filepath.Join(benchDir, "quarantine"))
	if len(entries) != 1 {
		t.Errorf("expected quarantined file, got %d entries", len(entries))
	}
}
