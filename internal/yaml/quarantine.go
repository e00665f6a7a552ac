package yaml

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/model"
)

func Quarantine(benchDir, filePath string) error {
	quarantineDir := filepath.Join(benchDir, "quarantine")
	if err := os.MkdirAll(quarantineDir, 0755); err != nil {
		return fmt.Errorf("create quarantine dir: %w", err)
	}

	baseName := filepath.Base(filePath)
	timestamp := time.Now().Format("20060102T150405")
	quarantineName := fmt.Sprintf("%s.%s.corrupt", baseName, timestamp)
	quarantinePath := filepath.Join(quarantineDir, quarantineName)

	if err := os.Rename(filePath, quarantinePath); err != nil {
		return fmt.Errorf("move to quarantine: %w", err)
	}

	log.Printf("quarantined corrupted file: %s → %s", filePath, quarantinePath)
	return nil
}

func RestoreFromBackup(filePath string) error {
	bakPath := filePath + ".bak"
	if _, err := os.Stat(bakPath); os.IsNotExist(err) {
		return fmt.Errorf("no backup file: %s", bakPath)
	}

	content, err := os.ReadFile(bakPath)
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}

	// Validate backup is valid YAML
	if err := validateYAML(content); err != nil {
		return fmt.Errorf("backup YAML is also corrupted: %w", err)
	}

	if err := os.WriteFile(filePath, content, 0644); err != nil {
		return fmt.Errorf("restore from backup: %w", err)
	}

	log.Printf("restored from backup: %s → %s", bakPath, filePath)
	return nil
}

// Regenerable reports whether a corrupted file of this type may be replaced
// by a skeleton. Only run_state qualifies: losing a snapshot costs nothing
// (the execution log is authoritative), while a regenerated protocol or
// labware file would silently change what the robot does.
func Regenerable(fileType string) bool {
	return fileType == model.FileTypeRunState
}

func GenerateSkeleton(filePath string, fileType string) error {
	if !Regenerable(fileType) {
		return fmt.Errorf("file_type %q is not regenerable", fileType)
	}
	skeleton := generateSkeletonForType(fileType)
	content, err := yamlv3.Marshal(skeleton)
	if err != nil {
		return fmt.Errorf("marshal skeleton: %w", err)
	}

	if err := os.WriteFile(filePath, content, 0644); err != nil {
		return fmt.Errorf("write skeleton: %w", err)
	}

	log.Printf("generated skeleton: %s (type: %s)", filePath, fileType)
	return nil
}

func RecoverCorruptedFile(benchDir, filePath, fileType string) error {
	// Step 1: Quarantine the corrupted file
	if err := Quarantine(benchDir, filePath); err != nil {
		return fmt.Errorf("quarantine failed: %w", err)
	}

	// Step 2: Try to restore from .bak
	if err := RestoreFromBackup(filePath); err != nil {
		log.Printf("backup restore failed for %s: %v", filePath, err)
	} else {
		return nil
	}

	// Step 3: Generate minimal skeleton where that is safe
	if !Regenerable(fileType) {
		return fmt.Errorf("no backup for %s and file_type %q is not regenerable", filePath, fileType)
	}
	if err := GenerateSkeleton(filePath, fileType); err != nil {
		return fmt.Errorf("skeleton generation failed: %w", err)
	}

	return nil
}

func generateSkeletonForType(fileType string) any {
	switch fileType {
	case model.FileTypeRunState:
		return map[string]any{
			"schema_version": model.CurrentSchemaVersion,
			"file_type":      model.FileTypeRunState,
			"run_id":         "",
			"protocol_name":  "",
			"status":         string(model.RunStatusPending),
			"current_action": 0,
			"total_actions":  0,
			"started_at":     "",
			"updated_at":     "",
		}
	default:
		return map[string]any{
			"schema_version": model.CurrentSchemaVersion,
			"file_type":      fileType,
		}
	}
}
