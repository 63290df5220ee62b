package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"evalgo.org/anchor/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() *models.Manifest {
	return &models.Manifest{Containers: map[string]models.ContainerSpec{
		"web": {
			URI:          "nginx:1.27",
			PortMappings: []models.PortMapping{{ContainerPort: 80, HostPort: 8080}},
			Command:      models.CommandRun,
			Env:          map[string]string{"MODE": "prod"},
			Mounts:       []models.MountDescriptor{models.NamedVolume("html", "/usr/share/nginx/html", true)},
		},
		"db": {
			URI:          "postgres:16",
			PortMappings: []models.PortMapping{{ContainerPort: 5432, HostPort: 5432}},
			Command:      models.CommandBuild,
		},
	}}
}

func TestFormatFor(t *testing.T) {
	assert.Equal(t, FormatJSON, FormatFor("anchor.json"))
	assert.Equal(t, FormatYAML, FormatFor("anchor.yaml"))
	assert.Equal(t, FormatYAML, FormatFor("/etc/anchor/cluster.YML"))
	assert.Equal(t, FormatJSON, FormatFor("manifest"))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	for _, name := range []string{"anchor.json", "anchor.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			m := sample()

			require.NoError(t, Save(path, m))
			loaded, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, m, loaded)

			entries, err := os.ReadDir(filepath.Dir(path))
			require.NoError(t, err)
			assert.Len(t, entries, 1)
		})
	}
}

func TestMarshalIsDeterministic(t *testing.T) {
	a, err := Marshal(sample(), FormatJSON)
	require.NoError(t, err)
	b, err := Marshal(sample(), FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Contains(t, string(a), `"command": "Build"`)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		format Format
	}{
		{"not json", `{"containers":`, FormatJSON},
		{"unknown field", `{"containers":{},"version":2}`, FormatJSON},
		{"bad command", `{"containers":{"a":{"uri":"x","port_mappings":[],"command":"Deploy"}}}`, FormatJSON},
		{"bad pair", `{"containers":{"a":{"uri":"x","port_mappings":[[80]],"command":"Run"}}}`, FormatJSON},
		{"duplicate host port", `{"containers":{
			"a":{"uri":"x","port_mappings":[[80,8080]],"command":"Run"},
			"b":{"uri":"y","port_mappings":[[81,8080]],"command":"Run"}}}`, FormatJSON},
		{"bad yaml", "containers: [", FormatYAML},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), tt.format)
			var manifestErr *models.ManifestError
			assert.ErrorAs(t, err, &manifestErr)
		})
	}
}

func TestParseEmpty(t *testing.T) {
	m, err := Parse([]byte(`{}`), FormatJSON)
	require.NoError(t, err)
	assert.NotNil(t, m.Containers)
	assert.Empty(t, m.Containers)
}

func TestSaveRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anchor.json")
	m := sample()
	db := m.Containers["db"]
	db.PortMappings = []models.PortMapping{{ContainerPort: 1, HostPort: 8080}}
	m.Containers["db"] = db

	var manifestErr *models.ManifestError
	assert.ErrorAs(t, Save(path, m), &manifestErr)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestLoadOrEmpty(t *testing.T) {
	m, err := LoadOrEmpty(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Empty(t, m.Containers)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
