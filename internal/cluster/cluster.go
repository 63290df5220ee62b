// Package cluster drives every container of a manifest towards its declared
// stage and reports cluster-level readiness.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"evalgo.org/anchor/internal/credentials"
	"evalgo.org/anchor/internal/engine"
	"evalgo.org/anchor/internal/events"
	"evalgo.org/anchor/internal/lifecycle"
	"evalgo.org/anchor/internal/retry"
	"evalgo.org/anchor/internal/scheduler"
	"evalgo.org/anchor/models"
	"golang.org/x/sync/errgroup"
)

// Options configures a Cluster. Zero values fall back to package defaults.
type Options struct {
	Policy        retry.Policy
	MaxConcurrent int
	Retention     time.Duration
	BufferSize    int
	Credentials   credentials.Provider
}

// ContainerStatus is the observed state of one manifest entry.
type ContainerStatus struct {
	Name    string               `json:"name"`
	URI     string               `json:"uri"`
	Command models.Command       `json:"command"`
	Stage   models.ResourceStage `json:"stage"`
	Ready   bool                 `json:"ready"` // Stage meets the command's target
}

// Cluster manages the containers of one manifest as a unit.
type Cluster struct {
	client   engine.Client
	manifest *models.Manifest
	policy   retry.Policy
	creds    credentials.Provider
	bus      *events.Bus
	sched    *scheduler.Scheduler
	machine  *lifecycle.Machine
}

// New validates manifest and wires a scheduler and progress bus around client.
func New(client engine.Client, manifest *models.Manifest, opts Options) (*Cluster, error) {
	if manifest == nil {
		return nil, &models.ManifestError{Message: "manifest is nil"}
	}
	if err := manifest.Validate(); err != nil {
		return nil, err
	}

	policy := opts.Policy.WithDefaults()
	provider := opts.Credentials
	if provider == nil {
		provider = credentials.None{}
	}

	bus := events.NewBus(opts.BufferSize)
	sched := scheduler.New(client, policy, bus, scheduler.Options{
		MaxConcurrent: opts.MaxConcurrent,
		Retention:     opts.Retention,
	})
	sched.Start()

	return &Cluster{
		client:   client,
		manifest: manifest,
		policy:   policy,
		creds:    provider,
		bus:      bus,
		sched:    sched,
		machine:  lifecycle.NewMachine(client, sched, bus),
	}, nil
}

// Manifest returns the manifest the cluster was built from.
func (c *Cluster) Manifest() *models.Manifest { return c.manifest }

// Bus returns the progress bus.
func (c *Cluster) Bus() *events.Bus { return c.bus }

// Scheduler returns the task scheduler.
func (c *Cluster) Scheduler() *scheduler.Scheduler { return c.sched }

// Start brings every non-Ignore container to its target stage.
//
// Registry credentials are fetched once, before any engine call. Containers
// progress concurrently; onStatus receives Downloaded, Built and Running for
// each container as it gets there, then Ready exactly once when every
// container has reached its target. Calls to onStatus are serialized. If any
// container fails, Ready is not sent and the failures are returned joined.
func (c *Cluster) Start(ctx context.Context, onStatus func(models.ClusterStatus)) error {
	creds, err := c.creds.Credentials(ctx)
	if err != nil {
		var credErr *models.ECRCredentialsError
		if !errors.As(err, &credErr) {
			err = &models.ECRCredentialsError{Message: "failed to obtain registry credentials", Err: err}
		}
		return err
	}
	c.sched.SetCredentials(creds)

	if err := retry.Probe(ctx, c.policy, "ping", c.client.Ping); err != nil {
		return err
	}

	var mu sync.Mutex
	notify := func(status models.ClusterStatus) {
		mu.Lock()
		defer mu.Unlock()
		if onStatus != nil {
			onStatus(status)
		}
	}

	active := c.manifest.Active()
	errs := make([]error, len(active))
	var wg sync.WaitGroup
	for i, name := range active {
		spec := c.manifest.Containers[name]
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.machine.Run(ctx, name, spec, func(stage models.ResourceStage) {
				if kind, ok := statusKind(stage); ok {
					notify(models.ClusterStatus{Kind: kind, Container: name})
				}
			})
		}()
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		c.bus.Publish(models.OperationEvent{Level: models.LevelError, Message: "cluster start failed: " + err.Error()})
		return err
	}

	c.bus.Publish(models.OperationEvent{Level: models.LevelInfo, Message: fmt.Sprintf("cluster ready (%d containers)", len(active))})
	notify(models.ClusterStatus{Kind: models.ClusterReady})
	return nil
}

func statusKind(stage models.ResourceStage) (models.ClusterStatusKind, bool) {
	switch stage {
	case models.StageAvailable:
		return models.ClusterDownloaded, true
	case models.StageBuilt:
		return models.ClusterBuilt, true
	case models.StageRunning:
		return models.ClusterRunning, true
	case models.StageMissing:
	}
	return "", false
}

// Stop retires every non-Ignore container concurrently. It does not cancel a
// Start in progress. Every failure is collected and returned joined.
func (c *Cluster) Stop(ctx context.Context) error {
	return c.each(func(name string, spec models.ContainerSpec) error {
		return c.machine.Retire(ctx, name, spec.URI)
	})
}

// Remove retires every non-Ignore container and, when purgeImages is set,
// removes their images too.
func (c *Cluster) Remove(ctx context.Context, purgeImages bool) error {
	if !purgeImages {
		return c.Stop(ctx)
	}
	return c.each(func(name string, spec models.ContainerSpec) error {
		return c.machine.Purge(ctx, name, spec.URI)
	})
}

// each runs fn for every active container concurrently and joins the errors.
func (c *Cluster) each(fn func(name string, spec models.ContainerSpec) error) error {
	active := c.manifest.Active()
	errs := make([]error, len(active))
	var wg sync.WaitGroup
	for i, name := range active {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = fn(name, c.manifest.Containers[name])
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Status observes every container of the manifest, Ignore entries included,
// and returns them in name order. Nothing is cached.
func (c *Cluster) Status(ctx context.Context) ([]ContainerStatus, error) {
	names := c.manifest.Names()
	out := make([]ContainerStatus, len(names))
	tracker := c.machine.Tracker()

	g, ctx := errgroup.WithContext(ctx)
	for i, name := range names {
		spec := c.manifest.Containers[name]
		g.Go(func() error {
			stage, err := tracker.Observe(ctx, spec.URI, name)
			if err != nil {
				return err
			}
			ready := true
			if target, ok := spec.Command.Target(); ok {
				ready = stage.AtLeast(target)
			}
			out[i] = ContainerStatus{Name: name, URI: spec.URI, Command: spec.Command, Stage: stage, Ready: ready}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Close shuts the scheduler down and closes the progress bus.
func (c *Cluster) Close(ctx context.Context) error {
	err := c.sched.Shutdown(ctx)
	c.bus.Close()
	return err
}
