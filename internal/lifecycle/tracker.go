// Package lifecycle observes and drives the stage of one image and container pair.
package lifecycle

import (
	"context"
	"errors"

	"evalgo.org/anchor/internal/engine"
	"evalgo.org/anchor/models"
)

// Tracker observes resource stages from the engine. It never mutates and
// never caches; every call queries the engine afresh.
type Tracker struct {
	client engine.Client
}

// NewTracker returns a Tracker backed by client.
func NewTracker(client engine.Client) *Tracker {
	return &Tracker{client: client}
}

// Observe reports the stage of the container name built from image uri.
//
// An existing container decides the stage even if its image has since been
// removed: Running if it is running, Built otherwise. Without a container the
// stage is Available when the image is present and Missing when it is not.
func (t *Tracker) Observe(ctx context.Context, uri, name string) (models.ResourceStage, error) {
	state, err := t.client.Inspect(ctx, name)
	if err != nil {
		return models.StageMissing, observeError(name, err)
	}
	if state.Exists {
		if state.Running {
			return models.StageRunning, nil
		}
		return models.StageBuilt, nil
	}

	present, err := t.client.ImagePresent(ctx, uri)
	if err != nil {
		return models.StageMissing, observeError(name, err)
	}
	if present {
		return models.StageAvailable, nil
	}
	return models.StageMissing, nil
}

func observeError(name string, err error) error {
	var (
		connErr    *models.ConnectionError
		timeoutErr *models.TimeoutError
	)
	if errors.As(err, &connErr) || errors.As(err, &timeoutErr) || errors.Is(err, context.Canceled) {
		return err
	}
	return &models.ConnectionError{Op: "observe " + name, Err: err}
}
