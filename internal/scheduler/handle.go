package scheduler

import (
	"context"

	"evalgo.org/anchor/models"
)

// Handle refers to one submitted task.
type Handle struct {
	s *Scheduler
	t *task
}

// ID returns the task id.
func (h *Handle) ID() string {
	return h.t.info.ID
}

// Done is closed once the task reaches a terminal status.
func (h *Handle) Done() <-chan struct{} {
	return h.t.done
}

// Wait blocks until the task finishes or ctx ends. It returns the task's
// error, ErrCancelled wrapped in a TaskError for a cancelled task, or
// ctx.Err() if ctx ended first.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.t.done:
		return h.t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the task's error once it is done, nil before.
func (h *Handle) Err() error {
	select {
	case <-h.t.done:
		return h.t.err
	default:
		return nil
	}
}

// Cancel requests cancellation. A pending task is cancelled immediately; a
// running task is asked to stop at its next suspension point.
func (h *Handle) Cancel() {
	h.s.cancelTask(h.t)
}

// Info returns a snapshot of the task.
func (h *Handle) Info() models.TaskInfo {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return h.t.info
}
