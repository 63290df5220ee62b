package lifecycle

import (
	"context"
	"fmt"

	"evalgo.org/anchor/internal/engine"
	"evalgo.org/anchor/internal/events"
	"evalgo.org/anchor/internal/scheduler"
	"evalgo.org/anchor/models"
)

// Advance returns the ordered tasks that move container name from observed to
// the stage its command targets. It is empty for Ignore and when observed
// already meets or exceeds the target; a container is never moved backwards.
func Advance(name string, spec models.ContainerSpec, observed models.ResourceStage) []models.TaskType {
	target, ok := spec.Command.Target()
	if !ok {
		return nil
	}

	var chain []models.TaskType
	for stage := observed; !stage.AtLeast(target); stage++ {
		chain = append(chain, nextTask(name, spec, stage))
	}
	return chain
}

// nextTask is the single task leading out of stage.
func nextTask(name string, spec models.ContainerSpec, stage models.ResourceStage) models.TaskType {
	switch stage {
	case models.StageMissing:
		return models.ImageDownload{Image: spec.URI}
	case models.StageAvailable:
		return models.ContainerCreate{Name: name, Spec: spec}
	case models.StageBuilt:
		return models.ContainerStart{Name: name}
	case models.StageRunning:
		return nil
	}
	return nil
}

// TransitionFor names the transition that ends in stage.
func TransitionFor(stage models.ResourceStage) models.Transition {
	switch stage {
	case models.StageAvailable:
		return models.TransitionDownloaded
	case models.StageBuilt:
		return models.TransitionBuilt
	case models.StageRunning:
		return models.TransitionRunning
	case models.StageMissing:
	}
	return ""
}

// Machine drives containers through their lifecycle by submitting tasks to
// a scheduler.
type Machine struct {
	tracker *Tracker
	sched   *scheduler.Scheduler
	bus     *events.Bus
}

// NewMachine returns a Machine. bus may be nil.
func NewMachine(client engine.Client, sched *scheduler.Scheduler, bus *events.Bus) *Machine {
	return &Machine{
		tracker: NewTracker(client),
		sched:   sched,
		bus:     bus,
	}
}

// Tracker returns the tracker the machine observes with.
func (m *Machine) Tracker() *Tracker {
	return m.tracker
}

// Run moves container name towards the stage spec.Command targets, one task
// at a time, observing the engine again after every task. onStage, if set,
// is called once for every stage the container reaches above the one it was
// first observed in, in ascending order. Run halts at the first failure and leaves
// completed steps in place. It returns the last observed stage.
func (m *Machine) Run(ctx context.Context, name string, spec models.ContainerSpec, onStage func(models.ResourceStage)) (models.ResourceStage, error) {
	stage, err := m.tracker.Observe(ctx, spec.URI, name)
	if err != nil {
		return stage, err
	}

	reported := stage
	report := func(upTo models.ResourceStage) {
		for reported < upTo {
			reported++
			if onStage != nil {
				onStage(reported)
			}
		}
	}

	target, ok := spec.Command.Target()
	if !ok {
		return stage, nil
	}

	for !stage.AtLeast(target) {
		task := nextTask(name, spec, stage)
		if err := m.sched.Run(ctx, task); err != nil {
			return stage, err
		}

		prev := stage
		stage, err = m.tracker.Observe(ctx, spec.URI, name)
		if err != nil {
			return prev, err
		}
		if stage <= prev {
			return stage, &models.ContainerError{
				Container: name,
				Message:   fmt.Sprintf("%s completed but stage is still %s", task.Kind(), stage),
			}
		}

		m.publish(models.ContainerLifecycleEvent{Container: name, Transition: TransitionFor(stage), Stage: stage})
		report(stage)
	}
	return stage, nil
}

// Retire stops and removes container name. A running container is stopped
// then removed, a built one is removed, and anything lower is left alone.
func (m *Machine) Retire(ctx context.Context, name, uri string) error {
	stage, err := m.tracker.Observe(ctx, uri, name)
	if err != nil {
		return err
	}

	switch stage {
	case models.StageRunning:
		if err := m.sched.Run(ctx, models.ContainerStop{Name: name}); err != nil {
			return err
		}
		m.publish(models.ContainerLifecycleEvent{Container: name, Transition: models.TransitionStopped, Stage: models.StageBuilt})
		fallthrough
	case models.StageBuilt:
		if err := m.sched.Run(ctx, models.ContainerRemove{Name: name}); err != nil {
			return err
		}
		m.publish(models.ContainerLifecycleEvent{Container: name, Transition: models.TransitionRemoved, Stage: models.StageAvailable})
	case models.StageAvailable, models.StageMissing:
	}
	return nil
}

// Purge retires container name and then removes its image.
func (m *Machine) Purge(ctx context.Context, name, uri string) error {
	if err := m.Retire(ctx, name, uri); err != nil {
		return err
	}
	present, err := m.tracker.client.ImagePresent(ctx, uri)
	if err != nil {
		return observeError(name, err)
	}
	if !present {
		return nil
	}
	if err := m.sched.Run(ctx, models.ImageRemove{Image: uri}); err != nil {
		return err
	}
	m.publish(models.ContainerLifecycleEvent{Container: name, Transition: models.TransitionImageRemoved, Stage: models.StageMissing})
	return nil
}

func (m *Machine) publish(e models.ProgressEvent) {
	if m.bus != nil {
		m.bus.Publish(e)
	}
}
