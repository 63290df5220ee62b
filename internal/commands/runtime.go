package commands

import (
	"context"
	"fmt"
	"time"

	"evalgo.org/anchor/internal/cluster"
	"evalgo.org/anchor/internal/credentials"
	"evalgo.org/anchor/internal/engine"
	"evalgo.org/anchor/internal/events"
	"evalgo.org/anchor/internal/logging"
	"evalgo.org/anchor/internal/manifest"
	"evalgo.org/anchor/internal/scheduler"
	"evalgo.org/anchor/models"
)

// daemonWait bounds how long auto_start waits for a freshly started engine.
const daemonWait = 60 * time.Second

// manifestPath returns the --manifest flag or the configured default.
func manifestPath() string {
	if manifestFlag != "" {
		return manifestFlag
	}
	return cfg.Manifest.Path
}

// newEngine connects to the configured engine, starting the daemon first
// when engine.auto_start is set.
func newEngine(ctx context.Context) (*engine.Docker, error) {
	client, err := engine.NewDocker(cfg.DockerOptions())
	if err != nil {
		return nil, err
	}

	if cfg.Engine.AutoStart {
		logger.Debug("ensuring engine daemon is running")
		if err := engine.NewBootstrapper().EnsureRunning(ctx, client, daemonWait); err != nil {
			_ = client.Close()
			return nil, err
		}
	}

	return client, nil
}

// newCluster loads the manifest and wires a cluster around the engine.
func newCluster(ctx context.Context) (*cluster.Cluster, *engine.Docker, error) {
	m, err := manifest.Load(manifestPath())
	if err != nil {
		return nil, nil, err
	}

	provider, err := credentials.New(ctx, cfg.CredentialOptions())
	if err != nil {
		return nil, nil, err
	}

	client, err := newEngine(ctx)
	if err != nil {
		return nil, nil, err
	}

	cl, err := cluster.New(client, m, cluster.Options{
		Policy:        cfg.RetryPolicy(),
		MaxConcurrent: cfg.Engine.MaxConcurrentTasks,
		Retention:     cfg.Engine.TaskRetention,
		BufferSize:    cfg.Events.BufferSize,
		Credentials:   provider,
	})
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	return cl, client, nil
}

// follow logs bus events in the background. The returned function stops
// following and waits for the last events to be written.
func follow(bus *events.Bus) func() {
	ctx, cancel := context.WithCancel(context.Background())
	sub := bus.Subscribe()
	done := make(chan struct{})

	go func() {
		defer close(done)
		logging.Follow(ctx, logger, sub)
	}()

	return func() {
		sub.Close()
		<-done
		cancel()
	}
}

// runTasks runs tasks one after another on a standalone scheduler and stops
// at the first failure.
func runTasks(ctx context.Context, client engine.Client, creds models.RegistryCredentials, tasks ...models.TaskType) error {
	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()
	stop := follow(bus)
	defer stop()

	sched := scheduler.New(client, cfg.RetryPolicy().WithDefaults(), bus, scheduler.Options{
		MaxConcurrent: cfg.Engine.MaxConcurrentTasks,
		Retention:     cfg.Engine.TaskRetention,
	})
	defer func() { _ = sched.Shutdown(context.Background()) }()
	sched.SetCredentials(creds)

	for _, t := range tasks {
		if err := sched.Run(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// registryCredentials fetches credentials from the configured provider.
func registryCredentials(ctx context.Context) (models.RegistryCredentials, error) {
	provider, err := credentials.New(ctx, cfg.CredentialOptions())
	if err != nil {
		return models.RegistryCredentials{}, err
	}
	creds, err := provider.Credentials(ctx)
	if err != nil {
		return models.RegistryCredentials{}, fmt.Errorf("failed to obtain registry credentials: %w", err)
	}
	return creds, nil
}
