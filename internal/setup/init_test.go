package setup

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/model"
)

func TestRun_CreatesDirectoryStructure(t *testing.T) {
	dir := t.TempDir()
	projectDir := filepath.Join(dir, "hydrogel-bench")
	if err := os.Mkdir(projectDir, 0755); err != nil {
		t.Fatalf("create project dir: %v", err)
	}

	if err := Run(projectDir, ""); err != nil {
		t.Fatalf("Run: %v", err)
	}

	base := filepath.Join(projectDir, ".gelpilot")

	expectedDirs := []string{
		"protocols",
		"runs",
		"locks",
		"quarantine",
	}
	for _, d := range expectedDirs {
		path := filepath.Join(base, d)
		info, err := os.Stat(path)
		if err != nil {
			t.Errorf("directory %s does not exist: %v", d, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", d)
		}
	}
}

func TestRun_CopiesTemplateFiles(t *testing.T) {
	dir := t.TempDir()
	projectDir := filepath.Join(dir, "hydrogel-bench")
	os.Mkdir(projectDir, 0755)

	if err := Run(projectDir, ""); err != nil {
		t.Fatalf("Run: %v", err)
	}

	base := filepath.Join(projectDir, ".gelpilot")

	templateFiles := []string{
		"runbook.md",
		"labware.yaml",
		"config.yaml",
		"protocols/photoink_50_50.yaml",
	}
	for _, f := range templateFiles {
		path := filepath.Join(base, f)
		info, err := os.Stat(path)
		if err != nil {
			t.Errorf("file %s does not exist: %v", f, err)
			continue
		}
		if info.Size() == 0 {
			t.Errorf("file %s is empty", f)
		}
	}
}

func TestRun_ScaffoldedFilesCarrySchemaHeaders(t *testing.T) {
	dir := t.TempDir()
	projectDir := filepath.Join(dir, "hydrogel-bench")
	os.Mkdir(projectDir, 0755)

	if err := Run(projectDir, ""); err != nil {
		t.Fatalf("Run: %v", err)
	}

	base := filepath.Join(projectDir, ".gelpilot")
	wantTypes := map[string]string{
		"config.yaml":                   model.FileTypeBenchConfig,
		"labware.yaml":                  model.FileTypeLabwareLibrary,
		"protocols/photoink_50_50.yaml": model.FileTypeProtocol,
	}
	for f, wantType := range wantTypes {
		data, err := os.ReadFile(filepath.Join(base, f))
		if err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
		var header struct {
			SchemaVersion int    `yaml:"schema_version"`
			FileType      string `yaml:"file_type"`
		}
		if err := yaml.Unmarshal(data, &header); err != nil {
			t.Fatalf("parse %s: %v", f, err)
		}
		if header.SchemaVersion != model.CurrentSchemaVersion {
			t.Errorf("%s schema_version: got %d, want %d", f, header.SchemaVersion, model.CurrentSchemaVersion)
		}
		if header.FileType != wantType {
			t.Errorf("%s file_type: got %q, want %q", f, header.FileType, wantType)
		}
	}
}

func TestRun_AutoFillsConfig(t *testing.T) {
	dir := t.TempDir()
	projectDir := filepath.Join(dir, "hydrogel-bench")
	os.Mkdir(projectDir, 0755)

	if err := Run(projectDir, ""); err != nil {
		t.Fatalf("Run: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(projectDir, ".gelpilot", "config.yaml"))
	if err != nil {
		t.Fatalf("read config.yaml: %v", err)
	}

	var cfg model.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("parse config.yaml: %v", err)
	}

	if cfg.Bench.Name != "hydrogel-bench" {
		t.Errorf("bench.name: got %q, want %q", cfg.Bench.Name, "hydrogel-bench")
	}
	if cfg.Bench.Root == "" {
		t.Error("bench.root is empty")
	}
	if cfg.Bench.Created == "" {
		t.Error("bench.created is empty")
	}
	if cfg.Robot.Driver != "simulator" {
		t.Errorf("robot.driver: got %q, want simulator", cfg.Robot.Driver)
	}
	if cfg.Pipette.MaxVolumeUL != 20.0 {
		t.Errorf("pipette.max_volume_ul: got %v, want 20", cfg.Pipette.MaxVolumeUL)
	}
}

func TestRun_BenchNameOverride(t *testing.T) {
	dir := t.TempDir()
	projectDir := filepath.Join(dir, "hydrogel-bench")
	os.Mkdir(projectDir, 0755)

	if err := Run(projectDir, "biofab-02"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(projectDir, ".gelpilot", "config.yaml"))
	if err != nil {
		t.Fatalf("read config.yaml: %v", err)
	}
	var cfg model.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("parse config.yaml: %v", err)
	}
	if cfg.Bench.Name != "biofab-02" {
		t.Errorf("bench.name: got %q, want biofab-02", cfg.Bench.Name)
	}
}

func TestRun_CreatesRobotLock(t *testing.T) {
	dir := t.TempDir()
	projectDir := filepath.Join(dir, "hydrogel-bench")
	os.Mkdir(projectDir, 0755)

	if err := Run(projectDir, ""); err != nil {
		t.Fatalf("Run: %v", err)
	}

	lockPath := filepath.Join(projectDir, ".gelpilot", "locks", "robot.lock")
	info, err := os.Stat(lockPath)
	if err != nil {
		t.Fatalf("robot.lock does not exist: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("robot.lock permissions: got %04o, want 0600", info.Mode().Perm())
	}
}

func TestRun_RejectsExistingDir(t *testing.T) {
	dir := t.TempDir()
	projectDir := filepath.Join(dir, "hydrogel-bench")
	os.Mkdir(projectDir, 0755)
	os.Mkdir(filepath.Join(projectDir, ".gelpilot"), 0755)

	err := Run(projectDir, "")
	if err == nil {
		t.Fatal("expected error for existing .gelpilot/")
	}
}
