package bundle

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ManifestFile is the manifest name inside a bundle directory.
const ManifestFile = "manifest.yaml"

// DefaultSharedDir is used when data.shared is omitted.
const DefaultSharedDir = "data"

// Manifest represents the bundle manifest.yaml structure.
type Manifest struct {
	Name    string     `yaml:"name"`
	Version string     `yaml:"version"`
	Wasm    WasmConfig `yaml:"wasm"`
	Data    DataConfig `yaml:"data"`
	Schemas []string   `yaml:"schemas"`
	Author  string     `yaml:"author"`
	License string     `yaml:"license"`

	// Internal fields
	dir string // Directory containing manifest
}

// WasmConfig holds Wasm module configuration.
type WasmConfig struct {
	File string `yaml:"file"`
	Size int    `yaml:"size"` // KB
}

// DataConfig locates the shared data directory (schemas, dictionaries).
type DataConfig struct {
	Shared string `yaml:"shared"`
}

// ParseManifest reads and parses manifest.yaml from a directory.
func ParseManifest(dir string) (*Manifest, error) {
	manifestPath := filepath.Join(dir, ManifestFile)

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, &ManifestNotFoundError{
			Path: manifestPath,
			Err:  err,
		}
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &ManifestParseError{
			Path: manifestPath,
			Err:  err,
		}
	}

	m.dir = dir
	if m.Data.Shared == "" {
		m.Data.Shared = DefaultSharedDir
	}

	// Validate manifest
	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate checks manifest fields.
func (m *Manifest) Validate() error {
	// Check required fields
	if m.Name == "" {
		return &ManifestValidationError{
			Path:    m.Path(),
			Field:   "name",
			Message: "name is required",
		}
	}

	if m.Version == "" {
		return &ManifestValidationError{
			Path:    m.Path(),
			Field:   "version",
			Message: "version is required",
		}
	}

	if m.Wasm.File == "" {
		return &ManifestValidationError{
			Path:    m.Path(),
			Field:   "wasm.file",
			Message: "wasm.file is required",
		}
	}

	if len(m.Schemas) == 0 {
		return &ManifestValidationError{
			Path:    m.Path(),
			Field:   "schemas",
			Message: "at least one schema is required",
		}
	}

	seen := make(map[string]bool, len(m.Schemas))
	for _, schema := range m.Schemas {
		if schema == "" {
			return &ManifestValidationError{
				Path:    m.Path(),
				Field:   "schemas",
				Message: "schema id must not be empty",
			}
		}
		if seen[schema] {
			return &ManifestValidationError{
				Path:    m.Path(),
				Field:   "schemas",
				Message: fmt.Sprintf("duplicate schema: %s", schema),
			}
		}
		seen[schema] = true
	}

	// Validate Wasm file exists
	wasmPath := m.WasmPath()
	if _, err := os.Stat(wasmPath); os.IsNotExist(err) {
		return &WasmNotFoundError{
			ManifestPath: m.Path(),
			WasmFile:     m.Wasm.File,
		}
	}

	if info, err := os.Stat(m.SharedDataPath()); err != nil || !info.IsDir() {
		return &ManifestValidationError{
			Path:    m.Path(),
			Field:   "data.shared",
			Message: fmt.Sprintf("shared data directory '%s' does not exist", m.Data.Shared),
		}
	}

	return nil
}

// Path returns the manifest file path.
func (m *Manifest) Path() string {
	return filepath.Join(m.dir, ManifestFile)
}

// WasmPath returns the path to the Wasm file.
func (m *Manifest) WasmPath() string {
	return filepath.Join(m.dir, m.Wasm.File)
}

// SharedDataPath returns the host directory mounted as the engine's shared data dir.
func (m *Manifest) SharedDataPath() string {
	if filepath.IsAbs(m.Data.Shared) {
		return m.Data.Shared
	}
	return filepath.Join(m.dir, m.Data.Shared)
}

// Dir returns the directory containing the manifest.
func (m *Manifest) Dir() string {
	return m.dir
}
