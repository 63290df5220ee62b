//go:build integration

package engine

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/anchor/models"
)

const testTimeout = 2 * time.Minute

// testImage is small and keeps running with the default command.
var testImage = envOr("ANCHOR_TEST_IMAGE", "nginx:1.27-alpine")

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func dockerOrSkip(t *testing.T) *Docker {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	d, err := NewDocker(DockerOptions{Host: os.Getenv("ANCHOR_TEST_DOCKER_HOST"), StopTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Ping(ctx); err != nil {
		t.Skipf("docker engine not reachable: %v", err)
	}
	return d
}

// TestIntegration_ContainerLifecycle drives one container through every
// engine operation against a real daemon.
func TestIntegration_ContainerLifecycle(t *testing.T) {
	d := dockerOrSkip(t)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	name := fmt.Sprintf("anchor-it-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = d.StopContainer(ctx, name)
		_ = d.RemoveContainer(ctx, name)
	})

	platform, err := d.Platform(ctx)
	require.NoError(t, err)
	assert.Contains(t, platform, "/")

	var events int
	require.NoError(t, d.PullImage(ctx, testImage, models.RegistryCredentials{}, func(models.ImageDownloadEvent) { events++ }))
	assert.Positive(t, events)

	present, err := d.ImagePresent(ctx, testImage)
	require.NoError(t, err)
	assert.True(t, present)

	spec := models.ContainerSpec{
		URI:     testImage,
		Command: models.CommandRun,
		Env:     map[string]string{"ANCHOR_IT": "1"},
		Mounts:  []models.MountDescriptor{models.AnonymousVolume("/scratch", false)},
	}
	id, err := d.CreateContainer(ctx, name, spec)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = d.CreateContainer(ctx, name, spec)
	assert.Equal(t, ClassConflict, Classify(err))

	state, err := d.Inspect(ctx, name)
	require.NoError(t, err)
	assert.True(t, state.Exists)
	assert.False(t, state.Running)

	require.NoError(t, d.StartContainer(ctx, name))
	state, err = d.Inspect(ctx, name)
	require.NoError(t, err)
	assert.True(t, state.Running)

	m, err := d.Metrics(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, name, m.Container)

	containers, err := d.ListContainers(ctx)
	require.NoError(t, err)
	found := false
	for _, c := range containers {
		for _, n := range c.Names {
			found = found || n == name || n == "/"+name
		}
	}
	assert.True(t, found, "created container is listed")

	require.NoError(t, d.StopContainer(ctx, name))
	require.NoError(t, d.RemoveContainer(ctx, name))

	state, err = d.Inspect(ctx, name)
	require.NoError(t, err)
	assert.False(t, state.Exists)
	assert.Equal(t, ClassNotFound, Classify(d.RemoveContainer(ctx, name)))
}

func TestIntegration_PullUnknownImage(t *testing.T) {
	d := dockerOrSkip(t)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	err := d.PullImage(ctx, "nginx:this-tag-does-not-exist-anchor", models.RegistryCredentials{}, nil)
	require.Error(t, err)
	assert.NotEqual(t, ClassTransient, Classify(err))
}
