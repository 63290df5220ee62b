package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"evalgo.org/anchor/models"
	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	dockerclient "github.com/docker/docker/client"
)

// DockerOptions configures a Docker engine client.
type DockerOptions struct {
	// Host is the engine address, e.g. "unix:///var/run/docker.sock" or a bare
	// socket path. Empty means the DOCKER_HOST environment or the platform default.
	Host string

	// ConnectionTimeout bounds the liveness probe.
	ConnectionTimeout time.Duration

	// StopTimeout is how long a container gets to exit before it is killed.
	StopTimeout time.Duration
}

// Docker implements Client against the Docker Engine API.
type Docker struct {
	cli  *dockerclient.Client
	opts DockerOptions
}

// NewDocker creates a Docker engine client. No request is made until the first call.
func NewDocker(opts DockerOptions) (*Docker, error) {
	if opts.ConnectionTimeout <= 0 {
		opts.ConnectionTimeout = 10 * time.Second
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 10 * time.Second
	}

	clientOpts := []dockerclient.Opt{dockerclient.WithAPIVersionNegotiation()}
	if opts.Host != "" {
		host := opts.Host
		if !strings.Contains(host, "://") {
			host = "unix://" + host
		}
		clientOpts = append(clientOpts, dockerclient.WithHost(host))
	} else {
		clientOpts = append(clientOpts, dockerclient.FromEnv)
	}

	cli, err := dockerclient.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	return &Docker{cli: cli, opts: opts}, nil
}

// Close releases the underlying HTTP transport.
func (d *Docker) Close() error {
	return d.cli.Close()
}

// Ping checks the engine within the connection timeout.
func (d *Docker) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, d.opts.ConnectionTimeout)
	defer cancel()

	if _, err := d.cli.Ping(ctx); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return &models.TimeoutError{Op: "ping", Timeout: d.opts.ConnectionTimeout}
		}
		return &models.ConnectionError{Op: "ping", Err: fmt.Errorf("%w: %v", models.ErrEngineNotRunning, err)}
	}
	return nil
}

// Platform returns "os/arch" as reported by the engine.
func (d *Docker) Platform(ctx context.Context) (string, error) {
	info, err := d.cli.Info(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get engine info: %w", err)
	}
	return info.OSType + "/" + info.Architecture, nil
}

// ImagePresent matches uri against the tags of every local image.
func (d *Docker) ImagePresent(ctx context.Context, uri string) (bool, error) {
	images, err := d.cli.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return false, fmt.Errorf("failed to list images: %w", err)
	}
	for _, img := range images {
		if MatchesReference(uri, img.RepoTags) {
			return true, nil
		}
	}
	return false, nil
}

// PullImage pulls uri and forwards each progress message of the pull stream.
func (d *Docker) PullImage(ctx context.Context, uri string, creds models.RegistryCredentials, progress func(models.ImageDownloadEvent)) error {
	opts := image.PullOptions{}
	if !creds.Empty() {
		auth, err := registry.EncodeAuthConfig(registry.AuthConfig{
			Username:      creds.Username,
			Password:      creds.Password,
			ServerAddress: creds.ServerAddress,
		})
		if err != nil {
			return &models.ImageError{Image: uri, Message: "failed to encode registry credentials", Err: err}
		}
		opts.RegistryAuth = auth
	}

	reader, err := d.cli.ImagePull(ctx, uri, opts)
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", uri, err)
	}
	defer reader.Close()

	return readPullStream(reader, uri, progress)
}

// RemoveImage force-removes an image and its untagged parents.
func (d *Docker) RemoveImage(ctx context.Context, uri string) error {
	if _, err := d.cli.ImageRemove(ctx, uri, image.RemoveOptions{Force: true, PruneChildren: true}); err != nil {
		return fmt.Errorf("failed to remove image %s: %w", uri, err)
	}
	return nil
}

// ListImages lists local images.
func (d *Docker) ListImages(ctx context.Context) ([]models.ImageSummary, error) {
	images, err := d.cli.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}

	summaries := make([]models.ImageSummary, 0, len(images))
	for _, img := range images {
		summaries = append(summaries, models.ImageSummary{
			ID:       img.ID,
			RepoTags: img.RepoTags,
			Size:     img.Size,
			Created:  time.Unix(img.Created, 0),
		})
	}
	return summaries, nil
}

// CreateContainer creates name from spec. The image must already be present.
func (d *Docker) CreateContainer(ctx context.Context, name string, spec models.ContainerSpec) (string, error) {
	present, err := d.ImagePresent(ctx, spec.URI)
	if err != nil {
		return "", err
	}
	if !present {
		return "", &models.ContainerError{Container: name, Message: fmt.Sprintf("image '%s' is not present", spec.URI)}
	}

	resp, err := d.cli.ContainerCreate(ctx, buildContainerConfig(spec), buildHostConfig(spec), nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("failed to create container %s: %w", name, err)
	}
	return resp.ID, nil
}

// StartContainer starts an existing container.
func (d *Docker) StartContainer(ctx context.Context, name string) error {
	if err := d.cli.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", name, err)
	}
	return nil
}

// StopContainer stops a container, killing it after the stop timeout.
func (d *Docker) StopContainer(ctx context.Context, name string) error {
	timeout := int(d.opts.StopTimeout.Seconds())
	if err := d.cli.ContainerStop(ctx, name, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to stop container %s: %w", name, err)
	}
	return nil
}

// RemoveContainer force-removes a container.
func (d *Docker) RemoveContainer(ctx context.Context, name string) error {
	if err := d.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("failed to remove container %s: %w", name, err)
	}
	return nil
}

// Inspect reports the state of name.
func (d *Docker) Inspect(ctx context.Context, name string) (models.ContainerState, error) {
	info, err := d.cli.ContainerInspect(ctx, name)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return models.ContainerState{Health: models.HealthNone}, nil
		}
		return models.ContainerState{}, fmt.Errorf("failed to inspect container %s: %w", name, err)
	}
	return stateFromInspect(info), nil
}

// ListContainers lists all containers.
func (d *Docker) ListContainers(ctx context.Context) ([]models.ContainerSummary, error) {
	containers, err := d.cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	summaries := make([]models.ContainerSummary, 0, len(containers))
	for _, c := range containers {
		names := make([]string, 0, len(c.Names))
		for _, n := range c.Names {
			names = append(names, strings.TrimPrefix(n, "/"))
		}
		summaries = append(summaries, models.ContainerSummary{
			ID:     c.ID,
			Names:  names,
			Image:  c.Image,
			State:  c.State,
			Status: c.Status,
		})
	}
	return summaries, nil
}

// Metrics takes a one-shot stats sample of name.
func (d *Docker) Metrics(ctx context.Context, name string) (models.ContainerMetrics, error) {
	info, err := d.cli.ContainerInspect(ctx, name)
	if err != nil {
		return models.ContainerMetrics{}, fmt.Errorf("failed to inspect container %s: %w", name, err)
	}
	state := stateFromInspect(info)

	metrics := models.ContainerMetrics{
		Container:    name,
		RestartCount: state.RestartCount,
		ExitCode:     state.ExitCode,
		Health:       state.Health,
	}
	if !state.Running {
		return metrics, nil
	}

	resp, err := d.cli.ContainerStatsOneShot(ctx, name)
	if err != nil {
		return metrics, fmt.Errorf("failed to get stats for container %s: %w", name, err)
	}
	defer resp.Body.Close()

	var stats container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return metrics, fmt.Errorf("failed to decode stats for container %s: %w", name, err)
	}

	applyStats(&metrics, &stats)
	if !state.StartedAt.IsZero() {
		metrics.Uptime = time.Since(state.StartedAt)
	}
	return metrics, nil
}

func stateFromInspect(info container.InspectResponse) models.ContainerState {
	state := models.ContainerState{Exists: true, Health: models.HealthNone}
	if info.ContainerJSONBase == nil {
		return state
	}

	state.RestartCount = info.RestartCount
	if info.Config != nil {
		state.Image = info.Config.Image
	}
	if s := info.State; s != nil {
		state.Running = s.Running
		state.Status = string(s.Status)
		state.ExitCode = s.ExitCode
		if started, err := time.Parse(time.RFC3339Nano, s.StartedAt); err == nil && s.Running {
			state.StartedAt = started
		}
		if s.Health != nil && s.Health.Status != "" {
			state.Health = models.HealthStatus(s.Health.Status)
		}
	}
	return state
}
