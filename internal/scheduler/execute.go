package scheduler

import (
	"context"
	"errors"
	"fmt"

	"evalgo.org/anchor/internal/engine"
	"evalgo.org/anchor/internal/retry"
	"evalgo.org/anchor/models"
)

// execute performs one task through the retry policy.
//
// Responses that mean the postcondition already holds count as success:
// a name conflict on create, a missing container on stop or remove, a
// missing image on image removal and "not modified" on start or stop.
func (s *Scheduler) execute(ctx context.Context, t models.TaskType) error {
	switch t := t.(type) {
	case models.ImageDownload:
		s.mu.Lock()
		creds := s.creds
		s.mu.Unlock()
		err := retry.Do(ctx, s.policy, "pull "+t.Image, func(ctx context.Context) error {
			return s.client.PullImage(ctx, t.Image, creds, func(e models.ImageDownloadEvent) {
				s.publish(e)
			})
		})
		return imageError(t.Image, "pull failed", err)

	case models.ContainerCreate:
		err := retry.Do(ctx, s.policy, "create "+t.Name, func(ctx context.Context) error {
			_, err := s.client.CreateContainer(ctx, t.Name, t.Spec)
			return err
		})
		return containerError(t.Name, "create failed", tolerate(err, engine.ClassConflict))

	case models.ContainerStart:
		err := retry.Do(ctx, s.policy, "start "+t.Name, func(ctx context.Context) error {
			return s.client.StartContainer(ctx, t.Name)
		})
		return containerError(t.Name, "start failed", tolerate(err, engine.ClassNotModified))

	case models.ContainerStop:
		err := retry.Do(ctx, s.policy, "stop "+t.Name, func(ctx context.Context) error {
			return s.client.StopContainer(ctx, t.Name)
		})
		return containerError(t.Name, "stop failed", tolerate(err, engine.ClassNotFound, engine.ClassNotModified))

	case models.ContainerRemove:
		err := retry.Do(ctx, s.policy, "remove "+t.Name, func(ctx context.Context) error {
			return s.client.RemoveContainer(ctx, t.Name)
		})
		return containerError(t.Name, "remove failed", tolerate(err, engine.ClassNotFound))

	case models.ImageRemove:
		err := retry.Do(ctx, s.policy, "remove image "+t.Image, func(ctx context.Context) error {
			return s.client.RemoveImage(ctx, t.Image)
		})
		return imageError(t.Image, "remove failed", tolerate(err, engine.ClassNotFound))

	default:
		return fmt.Errorf("unsupported task type %T", t)
	}
}

// tolerate drops err when its class is one of ok.
func tolerate(err error, ok ...engine.Class) error {
	if err == nil {
		return nil
	}
	class := engine.Classify(err)
	for _, c := range ok {
		if class == c {
			return nil
		}
	}
	return err
}

// passThrough reports whether err already carries a taxonomy type or is a
// cancellation, in which case it is returned unchanged.
func passThrough(err error) bool {
	var (
		connErr      *models.ConnectionError
		timeoutErr   *models.TimeoutError
		imageErr     *models.ImageError
		containerErr *models.ContainerError
	)
	return errors.Is(err, context.Canceled) ||
		errors.As(err, &connErr) ||
		errors.As(err, &timeoutErr) ||
		errors.As(err, &imageErr) ||
		errors.As(err, &containerErr)
}

func imageError(image, msg string, err error) error {
	if err == nil || passThrough(err) {
		return err
	}
	return &models.ImageError{Image: image, Message: msg, Err: err}
}

func containerError(name, msg string, err error) error {
	if err == nil || passThrough(err) {
		return err
	}
	return &models.ContainerError{Container: name, Message: msg, Err: err}
}
