// Package enginetest provides an in-memory engine.Client for tests.
package enginetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"evalgo.org/anchor/internal/engine"
	"evalgo.org/anchor/models"
	cerrdefs "github.com/containerd/errdefs"
)

// Operation names used for scripting failures and counting calls.
const (
	OpPing         = "ping"
	OpPlatform     = "platform"
	OpImagePresent = "image_present"
	OpPull         = "pull"
	OpRemoveImage  = "remove_image"
	OpListImages   = "list_images"
	OpCreate       = "create"
	OpStart        = "start"
	OpStop         = "stop"
	OpRemove       = "remove"
	OpInspect      = "inspect"
	OpList         = "list"
	OpMetrics      = "metrics"
)

var _ engine.Client = (*Fake)(nil)

type fakeContainer struct {
	spec    models.ContainerSpec
	running bool
	started time.Time
}

// Fake is a goroutine-safe in-memory container engine.
//
// Images are keyed by uri and containers by name. Failures can be scripted per
// operation; Delay makes every call block (honouring ctx) so tests can observe
// concurrency.
type Fake struct {
	// Delay is applied to every mutating call.
	Delay time.Duration

	mu         sync.Mutex
	images     map[string]bool
	containers map[string]*fakeContainer
	failures   map[string][]error
	always     map[string]error
	calls      map[string]int
	log        []string
	inFlight   int
	maxFlight  int
	lastCreds  models.RegistryCredentials
}

// New returns an empty engine.
func New() *Fake {
	return &Fake{
		images:     make(map[string]bool),
		containers: make(map[string]*fakeContainer),
		failures:   make(map[string][]error),
		always:     make(map[string]error),
		calls:      make(map[string]int),
	}
}

// AddImage makes uri present.
func (f *Fake) AddImage(uri string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images[uri] = true
}

// AddContainer creates a container directly, bypassing the image check.
func (f *Fake) AddContainer(name string, spec models.ContainerSpec, running bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers[name] = &fakeContainer{spec: spec, running: running, started: time.Now()}
}

// FailNext queues errors returned by the next calls of op, one per call.
func (f *Fake) FailNext(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], errs...)
}

// FailAlways makes every call of op return err. A nil err clears it.
func (f *Fake) FailAlways(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.always, op)
		return
	}
	f.always[op] = err
}

// Calls returns how many times op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Log returns every mutating call as "op:target" in invocation order.
func (f *Fake) Log() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.log...)
}

// MaxConcurrent returns the highest number of mutating calls seen in flight at once.
func (f *Fake) MaxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxFlight
}

// LastCredentials returns the credentials passed to the most recent pull.
func (f *Fake) LastCredentials() models.RegistryCredentials {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastCreds
}

// HasImage reports whether uri is present.
func (f *Fake) HasImage(uri string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.images[uri]
}

// HasContainer reports whether name exists and whether it is running.
func (f *Fake) HasContainer(name string) (exists, running bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[name]
	if !ok {
		return false, false
	}
	return true, c.running
}

// begin records a call and returns a scripted failure for it, if any.
func (f *Fake) begin(op, target string, mutating bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[op]++
	if mutating {
		f.log = append(f.log, op+":"+target)
		f.inFlight++
		if f.inFlight > f.maxFlight {
			f.maxFlight = f.inFlight
		}
	}

	if err, ok := f.always[op]; ok {
		return err
	}
	if queued := f.failures[op]; len(queued) > 0 {
		f.failures[op] = queued[1:]
		return queued[0]
	}
	return nil
}

func (f *Fake) end() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
}

func (f *Fake) wait(ctx context.Context) error {
	if f.Delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(f.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// mutate runs fn under the engine lock after the delay, unless a failure is scripted.
func (f *Fake) mutate(ctx context.Context, op, target string, fn func() error) error {
	if err := f.begin(op, target, true); err != nil {
		f.end()
		return err
	}
	defer f.end()

	if err := f.wait(ctx); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return fn()
}

func (f *Fake) Ping(ctx context.Context) error {
	return f.begin(OpPing, "", false)
}

func (f *Fake) Platform(ctx context.Context) (string, error) {
	if err := f.begin(OpPlatform, "", false); err != nil {
		return "", err
	}
	return "linux/amd64", nil
}

func (f *Fake) ImagePresent(ctx context.Context, uri string) (bool, error) {
	if err := f.begin(OpImagePresent, uri, false); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.images[uri], nil
}

func (f *Fake) PullImage(ctx context.Context, uri string, creds models.RegistryCredentials, progress func(models.ImageDownloadEvent)) error {
	return f.mutate(ctx, OpPull, uri, func() error {
		f.lastCreds = creds
		f.images[uri] = true
		if progress != nil {
			half, full := 50.0, 100.0
			progress(models.ImageDownloadEvent{Image: uri, Status: "Downloading", Layer: "layer0", Progress: &half})
			progress(models.ImageDownloadEvent{Image: uri, Status: "Download complete", Layer: "layer0", Progress: &full})
		}
		return nil
	})
}

func (f *Fake) RemoveImage(ctx context.Context, uri string) error {
	return f.mutate(ctx, OpRemoveImage, uri, func() error {
		if !f.images[uri] {
			return fmt.Errorf("no such image %s: %w", uri, cerrdefs.ErrNotFound)
		}
		delete(f.images, uri)
		return nil
	})
}

func (f *Fake) ListImages(ctx context.Context) ([]models.ImageSummary, error) {
	if err := f.begin(OpListImages, "", false); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ImageSummary
	for uri := range f.images {
		out = append(out, models.ImageSummary{ID: "sha256:" + uri, RepoTags: []string{uri}})
	}
	return out, nil
}

func (f *Fake) CreateContainer(ctx context.Context, name string, spec models.ContainerSpec) (string, error) {
	err := f.mutate(ctx, OpCreate, name, func() error {
		if _, exists := f.containers[name]; exists {
			return fmt.Errorf("container name %s is already in use: %w", name, cerrdefs.ErrConflict)
		}
		if !f.images[spec.URI] {
			return &models.ContainerError{Container: name, Message: fmt.Sprintf("image '%s' is not present", spec.URI)}
		}
		f.containers[name] = &fakeContainer{spec: spec}
		return nil
	})
	if err != nil {
		return "", err
	}
	return "id-" + name, nil
}

func (f *Fake) StartContainer(ctx context.Context, name string) error {
	return f.mutate(ctx, OpStart, name, func() error {
		c, ok := f.containers[name]
		if !ok {
			return fmt.Errorf("no such container %s: %w", name, cerrdefs.ErrNotFound)
		}
		c.running = true
		c.started = time.Now()
		return nil
	})
}

func (f *Fake) StopContainer(ctx context.Context, name string) error {
	return f.mutate(ctx, OpStop, name, func() error {
		c, ok := f.containers[name]
		if !ok {
			return fmt.Errorf("no such container %s: %w", name, cerrdefs.ErrNotFound)
		}
		c.running = false
		return nil
	})
}

func (f *Fake) RemoveContainer(ctx context.Context, name string) error {
	return f.mutate(ctx, OpRemove, name, func() error {
		if _, ok := f.containers[name]; !ok {
			return fmt.Errorf("no such container %s: %w", name, cerrdefs.ErrNotFound)
		}
		delete(f.containers, name)
		return nil
	})
}

func (f *Fake) Inspect(ctx context.Context, name string) (models.ContainerState, error) {
	if err := f.begin(OpInspect, name, false); err != nil {
		return models.ContainerState{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[name]
	if !ok {
		return models.ContainerState{Health: models.HealthNone}, nil
	}
	status := "created"
	if c.running {
		status = "running"
	}
	return models.ContainerState{
		Exists:    true,
		Running:   c.running,
		Status:    status,
		Image:     c.spec.URI,
		Health:    models.HealthNone,
		StartedAt: c.started,
	}, nil
}

func (f *Fake) ListContainers(ctx context.Context) ([]models.ContainerSummary, error) {
	if err := f.begin(OpList, "", false); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ContainerSummary
	for name, c := range f.containers {
		state := "created"
		if c.running {
			state = "running"
		}
		out = append(out, models.ContainerSummary{ID: "id-" + name, Names: []string{name}, Image: c.spec.URI, State: state})
	}
	return out, nil
}

func (f *Fake) Metrics(ctx context.Context, name string) (models.ContainerMetrics, error) {
	if err := f.begin(OpMetrics, name, false); err != nil {
		return models.ContainerMetrics{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[name]
	if !ok {
		return models.ContainerMetrics{}, fmt.Errorf("no such container %s: %w", name, cerrdefs.ErrNotFound)
	}
	m := models.ContainerMetrics{Container: name, Health: models.HealthNone}
	if c.running {
		m.Uptime = time.Since(c.started)
		m.MemoryUsage = 64 << 20
		m.MemoryLimit = 1 << 30
		m.MemoryPercent = 6.25
		m.PIDs = 1
	}
	return m, nil
}
