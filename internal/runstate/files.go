package runstate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/model"
	yamlutil "github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/yaml"
)

// LoadConfig reads, defaults, and validates the bench config. A bench with
// a broken config refuses to run; there is no skeleton fallback for it.
func LoadConfig(benchDir string) (model.Config, error) {
	path := filepath.Join(benchDir, "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Config{}, fmt.Errorf("read config.yaml: %w", err)
	}
	if err := yamlutil.ValidateSchemaHeaderFromBytes(data, model.FileTypeBenchConfig); err != nil {
		return model.Config{}, fmt.Errorf("config.yaml: %w", err)
	}
	var cfg model.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return model.Config{}, fmt.Errorf("parse config.yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if ve := cfg.Validate(); ve != nil {
		return model.Config{}, ve
	}
	return cfg, nil
}

// LoadLabware reads the labware library. Geometry validation happens when
// the library is indexed into a labware.Map.
func LoadLabware(benchDir string) (model.LabwareLibrary, error) {
	path := filepath.Join(benchDir, "labware.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return model.LabwareLibrary{}, fmt.Errorf("read labware.yaml: %w", err)
	}
	if err := yamlutil.ValidateSchemaHeaderFromBytes(data, model.FileTypeLabwareLibrary); err != nil {
		return model.LabwareLibrary{}, fmt.Errorf("labware.yaml: %w", err)
	}
	var lib model.LabwareLibrary
	if err := yaml.Unmarshal(data, &lib); err != nil {
		return model.LabwareLibrary{}, fmt.Errorf("parse labware.yaml: %w", err)
	}
	return lib, nil
}

// LoadProtocol reads one protocol file. Callers run Protocol.Validate so
// the validate and plan commands can report every field error at once.
func LoadProtocol(path string) (*model.Protocol, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read protocol: %w", err)
	}
	if err := yamlutil.ValidateSchemaHeaderFromBytes(data, model.FileTypeProtocol); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	var p model.Protocol
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return &p, nil
}

// ResolveProtocolPath turns a CLI protocol argument into a file path. A bare
// name looks under <bench>/protocols/ with or without the .yaml suffix; an
// argument carrying a path separator or existing as given is used directly.
func ResolveProtocolPath(benchDir, arg string) (string, error) {
	if strings.ContainsRune(arg, os.PathSeparator) || strings.HasSuffix(arg, ".yaml") || strings.HasSuffix(arg, ".yml") {
		if _, err := os.Stat(arg); err == nil {
			return arg, nil
		}
	}
	candidates := []string{
		filepath.Join(benchDir, "protocols", arg),
		filepath.Join(benchDir, "protocols", arg+".yaml"),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("protocol %q not found (looked in %s)", arg, filepath.Join(benchDir, "protocols"))
}
