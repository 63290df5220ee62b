package commands

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/anchor/internal/api"
	"evalgo.org/anchor/internal/auth"
	"evalgo.org/anchor/internal/cluster"
	"evalgo.org/anchor/internal/config"
	"evalgo.org/anchor/internal/engine/enginetest"
	"evalgo.org/anchor/internal/manifest"
	"evalgo.org/anchor/models"
)

// execute runs the root command with args and returns what it printed.
// Flag-bound globals survive between runs, so they are reset first.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	manifestFlag = ""
	serverURL, serverToken, removeImages = "", "", false
	showFormat = ""
	addURI, addCommand = "", string(models.CommandRun)
	addPorts, addEnv, addMounts = nil, nil, nil
	tokenSubject, tokenRoles, tokenSecret, tokenExpiration = "", string(auth.RoleViewer), "", 0

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := rootCmd.Execute()
	return buf.String(), err
}

func TestParsePortMapping(t *testing.T) {
	tests := []struct {
		in      string
		want    models.PortMapping
		wantErr bool
	}{
		{"8080:80", models.PortMapping{ContainerPort: 80, HostPort: 8080}, false},
		{" 8443 : 443 ", models.PortMapping{ContainerPort: 443, HostPort: 8443}, false},
		{"80", models.PortMapping{}, true},
		{"0:80", models.PortMapping{}, true},
		{"8080:0", models.PortMapping{}, true},
		{"70000:80", models.PortMapping{}, true},
		{"8080:http", models.PortMapping{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parsePortMapping(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseEnv(t *testing.T) {
	env, err := parseEnv([]string{"A=1", "DSN=postgres://u:p@h/db?x=y", "EMPTY="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "1", "DSN": "postgres://u:p@h/db?x=y", "EMPTY": ""}, env)

	env, err = parseEnv(nil)
	require.NoError(t, err)
	assert.Nil(t, env)

	_, err = parseEnv([]string{"NOVALUE"})
	assert.Error(t, err)
	_, err = parseEnv([]string{"=x"})
	assert.Error(t, err)
}

func TestParseMount(t *testing.T) {
	tests := []struct {
		in      string
		want    models.MountDescriptor
		wantErr bool
	}{
		{"bind:/srv/www:/usr/share/nginx/html:ro", models.BindMount("/srv/www", "/usr/share/nginx/html", true), false},
		{"bind:/srv/www:/data", models.BindMount("/srv/www", "/data", false), false},
		{"volume:pgdata:/var/lib/postgresql/data:rw", models.NamedVolume("pgdata", "/var/lib/postgresql/data", false), false},
		{"anonymous_volume:/tmp/cache", models.AnonymousVolume("/tmp/cache", false), false},
		{"anonymous_volume:/tmp/cache:ro", models.AnonymousVolume("/tmp/cache", true), false},
		{"bind:relative:/data", models.MountDescriptor{}, true},
		{"volume:data:relative", models.MountDescriptor{}, true},
		{"anonymous_volume:src:/data", models.MountDescriptor{}, true},
		{"tmpfs:/run", models.MountDescriptor{}, true},
		{"bind", models.MountDescriptor{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseMount(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "0123456789ab", shortID("sha256:0123456789abcdef"))
	assert.Equal(t, "abc", shortID("abc"))
	assert.Equal(t, "-", dash(""))
}

func TestManifestEditing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anchor.json")

	out, err := execute(t, "manifest", "add", "web", "-m", path, "--uri", "nginx:1.27", "-p", "8080:80")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Added container 'web'")

	_, err = execute(t, "manifest", "add", "cache", "-m", path,
		"--uri", "redis:7", "--command", "build",
		"-e", "MAXMEMORY=64mb",
		"--mount", "volume:cache:/data")
	require.NoError(t, err)

	_, err = execute(t, "manifest", "add", "api", "-m", path, "--uri", "httpd:2", "-p", "8080:80")
	assert.ErrorContains(t, err, "already used")

	_, err = execute(t, "manifest", "add", "web", "-m", path, "--uri", "nginx:1.28")
	assert.ErrorContains(t, err, "already exists")

	_, err = execute(t, "manifest", "add", "bad", "-m", path, "--uri", "nginx", "--command", "fly")
	assert.Error(t, err)

	m, err := manifest.Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"cache", "web"}, m.Names())
	assert.Equal(t, models.CommandBuild, m.Containers["cache"].Command)
	assert.Equal(t, map[string]string{"MAXMEMORY": "64mb"}, m.Containers["cache"].Env)
	assert.Equal(t, []models.MountDescriptor{models.NamedVolume("cache", "/data", false)}, m.Containers["cache"].Mounts)

	out, err = execute(t, "manifest", "show", "-m", path, "--format", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "nginx:1.27")
	assert.Contains(t, out, "Build")

	out, err = execute(t, "manifest", "show", "-m", path, "--format", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "8080:80")
	assert.Contains(t, out, "cache:/data:rw")

	out, err = execute(t, "manifest", "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Manifest is valid")

	out, err = execute(t, "manifest", "remove", "web", "-m", path)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Removed container 'web'")

	_, err = execute(t, "manifest", "remove", "web", "-m", path)
	assert.ErrorContains(t, err, "not found")

	m, err = manifest.Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"cache"}, m.Names())
}

func TestManifestValidateReportsEveryProblem(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.json")
	doc := `{"containers": {
		"-bad": {"uri": "nginx:1.27", "command": "Run", "port_mappings": [[80, 8080]]},
		"web":  {"uri": "nginx:1.27", "command": "Run", "port_mappings": [[81, 8080]]}
	}}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	out, err := execute(t, "manifest", "validate", path)
	assert.Error(t, err)
	assert.Contains(t, out, "✗ Validation failed:")
	assert.Contains(t, out, "containers.-bad")
	assert.Contains(t, out, "host port 8080 is already used")
}

func TestTokenCommand(t *testing.T) {
	secret := strings.Repeat("s", 32)

	out, err := execute(t, "token", "--subject", "ci", "--roles", "operator", "--secret", secret)
	require.NoError(t, err)

	_, rest, found := strings.Cut(out, "Token:\n")
	require.True(t, found, out)
	token, _, _ := strings.Cut(rest, "\n")

	svc := auth.NewJWTService(config.SecurityConfig{JWTSecret: secret})
	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ci", claims.Subject)
	assert.True(t, claims.HasRole(auth.RoleOperator))
	assert.False(t, claims.HasRole(auth.RoleAdmin))

	_, err = execute(t, "token", "--subject", "ci", "--roles", "root", "--secret", secret)
	assert.ErrorContains(t, err, "unknown role")
}

func TestConfigShowMasksSecrets(t *testing.T) {
	t.Setenv("ANCHOR_SECURITY_JWT_SECRET", "do-not-print-me")
	t.Setenv("ANCHOR_REGISTRY_PASSWORD", "hunter2")

	out, err := execute(t, "config", "show")
	require.NoError(t, err)
	assert.NotContains(t, out, "do-not-print-me")
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, "********")
	assert.Contains(t, out, "max_concurrent_tasks: 5")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "anchor")
}

func TestClusterCommandsAgainstServer(t *testing.T) {
	srvCfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	srvCfg.Engine.RetryAttempts = 0

	m, err := models.NewManifest(map[string]models.ContainerSpec{
		"web":   {URI: "nginx:1.27", PortMappings: []models.PortMapping{{ContainerPort: 80, HostPort: 8080}}, Command: models.CommandRun},
		"cache": {URI: "redis:7", Command: models.CommandBuild},
	})
	require.NoError(t, err)

	fake := enginetest.New()
	cl, err := cluster.New(fake, m, cluster.Options{Policy: srvCfg.RetryPolicy(), MaxConcurrent: 2})
	require.NoError(t, err)
	srv := api.New(srvCfg, cl, fake, log.New(io.Discard))
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		ts.Close()
		_ = cl.Close(ctx)
	})

	out, err := execute(t, "cluster", "start", "--server", ts.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Built")
	assert.Contains(t, out, "✓ Cluster ready")

	out, err = execute(t, "cluster", "status", "--server", ts.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "2/2 ready")
	assert.Contains(t, out, "nginx:1.27")

	out, err = execute(t, "cluster", "stop", "--server", ts.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Cluster stopped")
	exists, _ := fake.HasContainer("web")
	assert.False(t, exists)

	_, err = execute(t, "cluster", "events")
	assert.ErrorContains(t, err, "--server is required")
}
