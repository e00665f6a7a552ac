package yaml

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/model"
)

func TestValidateSchemaHeaderFromBytes(t *testing.T) {
	tests := []struct {
		name    string
		content string
		expect  string
		wantErr string
	}{
		{
			"valid protocol header",
			"schema_version: 1\nfile_type: protocol\nname: test\n",
			model.FileTypeProtocol,
			"",
		},
		{
			"valid without expectation",
			"schema_version: 1\nfile_type: run_state\n",
			"",
			"",
		},
		{
			"missing schema_version",
			"file_type: protocol\n",
			"",
			"invalid schema_version",
		},
		{
			"future schema_version",
			"schema_version: 99\nfile_type: protocol\n",
			"",
			"unsupported schema_version",
		},
		{
			"missing file_type",
			"schema_version: 1\n",
			"",
			"missing file_type",
		},
		{
			"unknown file_type",
			"schema_version: 1\nfile_type: recipe_book\n",
			"",
			"unknown file_type",
		},
		{
			"file_type mismatch",
			"schema_version: 1\nfile_type: labware_library\n",
			model.FileTypeProtocol,
			"file_type mismatch",
		},
		{
			"unparseable yaml",
			"file_type: [\n",
			"",
			"parse yaml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSchemaHeaderFromBytes([]byte(tt.content), tt.expect)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("expected valid, got: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q missing %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateSchemaHeaderFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("schema_version: 1\nfile_type: bench_config\n"), 0644)

	if err := ValidateSchemaHeader(path, model.FileTypeBenchConfig); err != nil {
		t.Errorf("expected valid header, got: %v", err)
	}

	if err := ValidateSchemaHeader(filepath.Join(dir, "missing.yaml"), ""); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestNeedsMigration(t *testing.T) {
	if NeedsMigration(model.CurrentSchemaVersion) {
		t.Error("current version should not need migration")
	}
	if !NeedsMigration(0) {
		t.Error("version 0 should need migration")
	}
}
