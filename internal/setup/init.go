// Package setup handles gelpilot bench workspace initialization.
package setup

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/model"
	atomicyaml "github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/yaml"
	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/templates"
)

const benchDirName = ".gelpilot"

// Run initializes the .gelpilot/ workspace in the given project directory.
// benchName overrides the auto-detected name (directory basename if empty).
func Run(projectDir, benchName string) error {
	absDir, err := filepath.Abs(projectDir)
	if err != nil {
		return fmt.Errorf("resolve project dir: %w", err)
	}

	base := filepath.Join(absDir, benchDirName)

	if _, err := os.Stat(base); err == nil {
		return fmt.Errorf("%s already exists", base)
	}

	dirs := []string{
		"protocols",
		"runs",
		"locks",
		"quarantine",
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(base, d), 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	// Copy template files that ship as-is.
	if err := copyTemplateFile("runbook.md", filepath.Join(base, "runbook.md")); err != nil {
		return err
	}
	if err := copyTemplateFile("labware.yaml", filepath.Join(base, "labware.yaml")); err != nil {
		return err
	}
	if err := copyTemplateFile("protocols/photoink_50_50.yaml",
		filepath.Join(base, "protocols", "photoink_50_50.yaml")); err != nil {
		return err
	}

	// Generate config.yaml with auto-filled bench identity.
	cfg, err := generateConfig(absDir, benchName)
	if err != nil {
		return fmt.Errorf("generate config: %w", err)
	}
	if ve := cfg.Validate(); ve != nil {
		return fmt.Errorf("config template invalid: %w", ve)
	}
	if err := atomicyaml.AtomicWriteTyped(filepath.Join(base, "config.yaml"), cfg, model.FileTypeBenchConfig); err != nil {
		return fmt.Errorf("write config.yaml: %w", err)
	}

	// Create robot.lock (empty). The lock file existing from day one means
	// a missing-file error can never mask a contended bench.
	if err := os.WriteFile(filepath.Join(base, "locks", "robot.lock"), nil, 0600); err != nil {
		return fmt.Errorf("create robot.lock: %w", err)
	}

	return nil
}

func copyTemplateFile(name, dst string) error {
	data, err := fs.ReadFile(templates.FS, name)
	if err != nil {
		return fmt.Errorf("read template %s: %w", name, err)
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}

func generateConfig(projectDir, benchName string) (*model.Config, error) {
	// Read template config as base so shipped defaults stay in one place.
	data, err := fs.ReadFile(templates.FS, "config.yaml")
	if err != nil {
		return nil, fmt.Errorf("read config template: %w", err)
	}

	var cfg model.Config
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config template: %w", err)
	}

	if benchName != "" {
		cfg.Bench.Name = benchName
	} else {
		cfg.Bench.Name = filepath.Base(projectDir)
	}
	cfg.Bench.Root = projectDir
	cfg.Bench.Created = time.Now().Format(time.RFC3339)

	return &cfg, nil
}
