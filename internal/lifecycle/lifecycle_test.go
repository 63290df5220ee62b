package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"evalgo.org/anchor/internal/engine/enginetest"
	"evalgo.org/anchor/internal/events"
	"evalgo.org/anchor/internal/retry"
	"evalgo.org/anchor/internal/scheduler"
	"evalgo.org/anchor/models"
	cerrdefs "github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var webSpec = models.ContainerSpec{
	URI:          "nginx:1.27",
	PortMappings: []models.PortMapping{{ContainerPort: 80, HostPort: 8080}},
	Command:      models.CommandRun,
}

func withCommand(spec models.ContainerSpec, cmd models.Command) models.ContainerSpec {
	spec.Command = cmd
	return spec
}

func kinds(chain []models.TaskType) []models.TaskKind {
	out := []models.TaskKind{}
	for _, t := range chain {
		out = append(out, t.Kind())
	}
	return out
}

func TestAdvance(t *testing.T) {
	tests := []struct {
		name     string
		command  models.Command
		observed models.ResourceStage
		want     []models.TaskKind
	}{
		{"missing to running", models.CommandRun, models.StageMissing,
			[]models.TaskKind{models.KindImageDownload, models.KindContainerCreate, models.KindContainerStart}},
		{"available to running", models.CommandRun, models.StageAvailable,
			[]models.TaskKind{models.KindContainerCreate, models.KindContainerStart}},
		{"built to running", models.CommandRun, models.StageBuilt, []models.TaskKind{models.KindContainerStart}},
		{"running stays running", models.CommandRun, models.StageRunning, []models.TaskKind{}},
		{"running with build target", models.CommandBuild, models.StageRunning, []models.TaskKind{}},
		{"missing to built", models.CommandBuild, models.StageMissing,
			[]models.TaskKind{models.KindImageDownload, models.KindContainerCreate}},
		{"missing to available", models.CommandDownload, models.StageMissing, []models.TaskKind{models.KindImageDownload}},
		{"built with download target", models.CommandDownload, models.StageBuilt, []models.TaskKind{}},
		{"ignore", models.CommandIgnore, models.StageMissing, []models.TaskKind{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := Advance("web", withCommand(webSpec, tt.command), tt.observed)
			assert.Equal(t, tt.want, kinds(chain))
		})
	}
}

func TestAdvanceTargets(t *testing.T) {
	chain := Advance("web", webSpec, models.StageMissing)
	require.Len(t, chain, 3)
	assert.Equal(t, models.ImageDownload{Image: "nginx:1.27"}, chain[0])
	assert.Equal(t, models.ContainerCreate{Name: "web", Spec: webSpec}, chain[1])
	assert.Equal(t, models.ContainerStart{Name: "web"}, chain[2])
}

func TestTrackerObserve(t *testing.T) {
	ctx := context.Background()
	fake := enginetest.New()
	tracker := NewTracker(fake)

	stage, err := tracker.Observe(ctx, "nginx:1.27", "web")
	require.NoError(t, err)
	assert.Equal(t, models.StageMissing, stage)

	fake.AddImage("nginx:1.27")
	stage, _ = tracker.Observe(ctx, "nginx:1.27", "web")
	assert.Equal(t, models.StageAvailable, stage)

	fake.AddContainer("web", webSpec, false)
	stage, _ = tracker.Observe(ctx, "nginx:1.27", "web")
	assert.Equal(t, models.StageBuilt, stage)

	fake.AddContainer("web", webSpec, true)
	stage, _ = tracker.Observe(ctx, "nginx:1.27", "web")
	assert.Equal(t, models.StageRunning, stage)

	// A container without its image still reports the container's stage.
	fake.AddContainer("orphan", webSpec, false)
	stage, _ = tracker.Observe(ctx, "gone:1", "orphan")
	assert.Equal(t, models.StageBuilt, stage)
}

func TestTrackerObserveUnreachable(t *testing.T) {
	fake := enginetest.New()
	fake.FailAlways(enginetest.OpInspect, errors.New("dial unix /var/run/docker.sock: connect: no such file"))

	_, err := NewTracker(fake).Observe(context.Background(), "nginx", "web")
	var connErr *models.ConnectionError
	assert.ErrorAs(t, err, &connErr)
	assert.Equal(t, 1, fake.Calls(enginetest.OpInspect))
}

type harness struct {
	fake    *enginetest.Fake
	bus     *events.Bus
	sub     *events.Subscription
	machine *Machine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fake := enginetest.New()
	bus := events.NewBus(64)
	policy := retry.DefaultPolicy()
	policy.RetryAttempts = 1
	policy.RetryDelay = time.Millisecond
	sched := scheduler.New(fake, policy, bus, scheduler.Options{MaxConcurrent: 2})
	t.Cleanup(func() {
		_ = sched.Shutdown(context.Background())
		bus.Close()
	})
	return &harness{fake: fake, bus: bus, sub: bus.Subscribe(), machine: NewMachine(fake, sched, bus)}
}

func (h *harness) transitions() []models.Transition {
	var out []models.Transition
	for {
		select {
		case e := <-h.sub.Events():
			if lc, ok := e.(models.ContainerLifecycleEvent); ok {
				out = append(out, lc.Transition)
			}
		default:
			return out
		}
	}
}

func TestMachineRun(t *testing.T) {
	h := newHarness(t)

	var stages []models.ResourceStage
	stage, err := h.machine.Run(context.Background(), "web", webSpec, func(s models.ResourceStage) {
		stages = append(stages, s)
	})

	require.NoError(t, err)
	assert.Equal(t, models.StageRunning, stage)
	assert.Equal(t, []models.ResourceStage{models.StageAvailable, models.StageBuilt, models.StageRunning}, stages)
	assert.Equal(t, []string{"pull:nginx:1.27", "create:web", "start:web"}, h.fake.Log())
	assert.Equal(t, []models.Transition{
		models.TransitionDownloaded, models.TransitionBuilt, models.TransitionRunning,
	}, h.transitions())
}

func TestMachineRunResumesFromObservedStage(t *testing.T) {
	h := newHarness(t)
	h.fake.AddImage("nginx:1.27")
	h.fake.AddContainer("web", webSpec, false)

	var stages []models.ResourceStage
	stage, err := h.machine.Run(context.Background(), "web", webSpec, func(s models.ResourceStage) {
		stages = append(stages, s)
	})

	require.NoError(t, err)
	assert.Equal(t, models.StageRunning, stage)
	assert.Equal(t, []string{"start:web"}, h.fake.Log())
	assert.Equal(t, []models.ResourceStage{models.StageRunning}, stages)
}

func TestMachineRunNeverRegresses(t *testing.T) {
	h := newHarness(t)
	h.fake.AddImage("nginx:1.27")
	h.fake.AddContainer("web", webSpec, true)

	stage, err := h.machine.Run(context.Background(), "web", withCommand(webSpec, models.CommandDownload), nil)
	require.NoError(t, err)
	assert.Equal(t, models.StageRunning, stage)
	assert.Empty(t, h.fake.Log())
}

func TestMachineRunIgnore(t *testing.T) {
	h := newHarness(t)

	stage, err := h.machine.Run(context.Background(), "web", withCommand(webSpec, models.CommandIgnore), nil)
	require.NoError(t, err)
	assert.Equal(t, models.StageMissing, stage)
	assert.Empty(t, h.fake.Log())
}

func TestMachineRunHaltsAndKeepsProgress(t *testing.T) {
	h := newHarness(t)
	h.fake.FailAlways(enginetest.OpCreate, &models.ContainerError{Container: "web", Message: "invalid mount"})

	stage, err := h.machine.Run(context.Background(), "web", webSpec, nil)

	var containerErr *models.ContainerError
	require.ErrorAs(t, err, &containerErr)
	assert.Equal(t, models.StageAvailable, stage)
	assert.True(t, h.fake.HasImage("nginx:1.27"))
	assert.Equal(t, 0, h.fake.Calls(enginetest.OpStart))

	// Retrying resumes from the image that is already present.
	h.fake.FailAlways(enginetest.OpCreate, nil)
	stage, err = h.machine.Run(context.Background(), "web", webSpec, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StageRunning, stage)
	assert.Equal(t, 1, h.fake.Calls(enginetest.OpPull))
}

func TestMachineRetire(t *testing.T) {
	ctx := context.Background()

	t.Run("running", func(t *testing.T) {
		h := newHarness(t)
		h.fake.AddImage("nginx:1.27")
		h.fake.AddContainer("web", webSpec, true)

		require.NoError(t, h.machine.Retire(ctx, "web", "nginx:1.27"))
		assert.Equal(t, []string{"stop:web", "remove:web"}, h.fake.Log())
		assert.Equal(t, []models.Transition{models.TransitionStopped, models.TransitionRemoved}, h.transitions())
		assert.True(t, h.fake.HasImage("nginx:1.27"))
	})

	t.Run("built", func(t *testing.T) {
		h := newHarness(t)
		h.fake.AddContainer("web", webSpec, false)

		require.NoError(t, h.machine.Retire(ctx, "web", "nginx:1.27"))
		assert.Equal(t, []string{"remove:web"}, h.fake.Log())
	})

	t.Run("available and missing", func(t *testing.T) {
		h := newHarness(t)
		h.fake.AddImage("nginx:1.27")

		require.NoError(t, h.machine.Retire(ctx, "web", "nginx:1.27"))
		require.NoError(t, h.machine.Retire(ctx, "other", "redis:7"))
		assert.Empty(t, h.fake.Log())
	})

	t.Run("container vanishes before stop", func(t *testing.T) {
		h := newHarness(t)
		h.fake.AddContainer("web", webSpec, true)
		h.fake.FailNext(enginetest.OpStop, cerrdefs.ErrNotFound)
		h.fake.FailNext(enginetest.OpRemove, cerrdefs.ErrNotFound)

		assert.NoError(t, h.machine.Retire(ctx, "web", "nginx:1.27"))
	})
}

func TestMachinePurge(t *testing.T) {
	h := newHarness(t)
	h.fake.AddImage("nginx:1.27")
	h.fake.AddContainer("web", webSpec, true)

	require.NoError(t, h.machine.Purge(context.Background(), "web", "nginx:1.27"))
	assert.Equal(t, []string{"stop:web", "remove:web", "remove_image:nginx:1.27"}, h.fake.Log())
	assert.False(t, h.fake.HasImage("nginx:1.27"))

	// Nothing left to purge.
	require.NoError(t, h.machine.Purge(context.Background(), "web", "nginx:1.27"))
	assert.Len(t, h.fake.Log(), 3)
}
