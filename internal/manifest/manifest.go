// Package manifest reads and writes manifest files.
//
// JSON is the native format. Files ending in .yaml or .yml are read and
// written as YAML with the same field names.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"evalgo.org/anchor/models"
	"gopkg.in/yaml.v3"
)

// Format is a manifest encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFor picks the format from a file extension. Anything that is not
// .yaml or .yml is JSON.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Decode decodes a manifest without validating it. Malformed input is
// reported as a ManifestError.
func Decode(data []byte, format Format) (*models.Manifest, error) {
	var m models.Manifest

	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, &models.ManifestError{Message: fmt.Sprintf("malformed YAML: %v", err)}
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&m); err != nil {
			return nil, &models.ManifestError{Message: fmt.Sprintf("malformed JSON: %v", err)}
		}
	}

	if m.Containers == nil {
		m.Containers = make(map[string]models.ContainerSpec)
	}
	return &m, nil
}

// Parse decodes and validates a manifest.
func Parse(data []byte, format Format) (*models.Manifest, error) {
	m, err := Decode(data, format)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Marshal encodes m. JSON output is indented and ends with a newline; map
// keys come out sorted, so equal manifests encode identically.
func Marshal(m *models.Manifest, format Format) ([]byte, error) {
	if format == FormatYAML {
		return yaml.Marshal(m)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Load reads and validates the manifest at path.
func Load(path string) (*models.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return Parse(data, FormatFor(path))
}

// Save validates m and writes it to path, replacing any existing file
// atomically.
func Save(path string, m *models.Manifest) error {
	if err := m.Validate(); err != nil {
		return err
	}

	data, err := Marshal(m, FormatFor(path))
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".manifest-*")
	if err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// LoadOrEmpty loads path, returning an empty manifest if the file does not exist.
func LoadOrEmpty(path string) (*models.Manifest, error) {
	m, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return models.EmptyManifest(), nil
	}
	return m, err
}
