// Package yaml provides atomic YAML file I/O and quarantine utilities.
package yaml

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"
)

// AtomicWrite marshals data and replaces path atomically. The written bytes
// only need to parse as YAML; use AtomicWriteTyped when the file carries a
// schema header.
func AtomicWrite(path string, data any) error {
	content, err := yamlv3.Marshal(data)
	if err != nil {
		return fmt.Errorf("yaml marshal: %w", err)
	}
	return atomicWriteRaw(path, content, "")
}

// AtomicWriteTyped is AtomicWrite plus a schema-header check on the re-read
// bytes: the rename never lands a file whose schema_version/file_type header
// would fail the next load. Run-state snapshots are written this way; a
// snapshot whose header was never stamped is caught here, not at status time.
func AtomicWriteTyped(path string, data any, fileType string) error {
	content, err := yamlv3.Marshal(data)
	if err != nil {
		return fmt.Errorf("yaml marshal: %w", err)
	}
	return atomicWriteRaw(path, content, fileType)
}

// AtomicWriteRaw replaces path with content atomically, checking only that
// the bytes parse.
func AtomicWriteRaw(path string, content []byte) error {
	return atomicWriteRaw(path, content, "")
}

// atomicWriteRaw stages content in a temp file on the same volume, validates
// the re-read bytes, backs up any existing file, and renames into place. The
// re-read guards against short writes; the rename is what makes readers see
// either the old file or the new one, never a torn mix.
func atomicWriteRaw(path string, content []byte, fileType string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".gelpilot-tmp-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	written, err := os.ReadFile(tmpName)
	if err != nil {
		return fmt.Errorf("read temp file for validation: %w", err)
	}
	if fileType != "" {
		if err := ValidateSchemaHeaderFromBytes(written, fileType); err != nil {
			return fmt.Errorf("schema check before rename: %w", err)
		}
	} else if err := validateYAML(written); err != nil {
		return fmt.Errorf("yaml validation failed: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		bakPath := path + ".bak"
		if err := copyFile(path, bakPath); err != nil {
			return fmt.Errorf("create backup: %w", err)
		}
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}

	return nil
}

func validateYAML(content []byte) error {
	var v any
	return yamlv3.Unmarshal(content, &v)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
