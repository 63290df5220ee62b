// Package scheduler executes engine tasks with bounded concurrency.
//
// Tasks are admitted in submission order. At most MaxConcurrent tasks run at
// once; the rest wait in a FIFO queue. The task table and the running count
// are guarded by a single mutex, which is the only admission gate.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"evalgo.org/anchor/internal/engine"
	"evalgo.org/anchor/internal/events"
	"evalgo.org/anchor/internal/retry"
	"evalgo.org/anchor/models"
	"github.com/google/uuid"
)

// Defaults for Options.
const (
	DefaultMaxConcurrent = 5
	DefaultRetention     = 10 * time.Minute
)

var (
	// ErrCancelled is returned by Wait for a task that was cancelled.
	ErrCancelled = fmt.Errorf("task cancelled: %w", context.Canceled)

	// ErrClosed is returned for tasks submitted after Shutdown.
	ErrClosed = errors.New("scheduler is shut down")
)

// Options configures a Scheduler.
type Options struct {
	MaxConcurrent   int           // Tasks allowed to run at once
	Retention       time.Duration // How long finished tasks stay tracked
	CleanupInterval time.Duration // How often the retention sweep runs; defaults to Retention/2
}

// TaskError is the failure of one task.
type TaskError struct {
	ID     string
	Kind   models.TaskKind
	Target string
	Err    error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s %s %s: %v", e.ID, e.Kind, e.Target, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

type task struct {
	info            models.TaskInfo
	typ             models.TaskType
	err             error
	done            chan struct{}
	cancel          context.CancelFunc
	cancelRequested bool
}

// Scheduler runs tasks against an engine client.
type Scheduler struct {
	client engine.Client
	policy retry.Policy
	bus    *events.Bus
	opts   Options

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	tasks   map[string]*task
	queue   []*task
	running int
	closed  bool
	creds   models.RegistryCredentials

	wg       sync.WaitGroup
	ticker   *time.Ticker
	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a new scheduler instance. bus may be nil.
func New(client engine.Client, policy retry.Policy, bus *events.Bus, opts Options) *Scheduler {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = opts.Retention / 2
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		client: client,
		bus:    bus,
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(map[string]*task),
		stop:   make(chan struct{}),
	}

	onRetry := policy.OnRetry
	policy.OnRetry = func(op string, attempt int, err error, wait time.Duration) {
		s.publish(models.OperationEvent{
			Level:   models.LevelWarn,
			Message: fmt.Sprintf("%s failed (attempt %d), retrying in %s: %v", op, attempt, wait, err),
		})
		if onRetry != nil {
			onRetry(op, attempt, err, wait)
		}
	}
	s.policy = policy
	return s
}

// MaxConcurrent returns the concurrency limit.
func (s *Scheduler) MaxConcurrent() int {
	return s.opts.MaxConcurrent
}

// SetCredentials sets the registry credentials used by subsequent image downloads.
func (s *Scheduler) SetCredentials(creds models.RegistryCredentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = creds
}

// Submit enqueues t and returns immediately.
func (s *Scheduler) Submit(t models.TaskType) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	tk := &task{
		info: models.TaskInfo{
			ID:        uuid.New().String(),
			Kind:      t.Kind(),
			Target:    t.Target(),
			Status:    models.TaskStatusPending,
			CreatedAt: time.Now(),
		},
		typ:  t,
		done: make(chan struct{}),
	}
	s.tasks[tk.info.ID] = tk

	if s.closed {
		s.finishLocked(tk, models.TaskStatusFailed, ErrClosed)
		return &Handle{s: s, t: tk}
	}

	s.queue = append(s.queue, tk)
	s.dispatchLocked()
	return &Handle{s: s, t: tk}
}

// Run submits t and waits for it. If ctx ends first the task is cancelled and
// Run returns once it has settled.
func (s *Scheduler) Run(ctx context.Context, t models.TaskType) error {
	h := s.Submit(t)
	select {
	case <-h.Done():
	case <-ctx.Done():
		h.Cancel()
		<-h.Done()
	}
	return h.Err()
}

// dispatchLocked starts queued tasks while slots are free.
func (s *Scheduler) dispatchLocked() {
	for s.running < s.opts.MaxConcurrent && len(s.queue) > 0 {
		tk := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		if tk.info.Status != models.TaskStatusPending {
			continue
		}

		now := time.Now()
		tk.info.Status = models.TaskStatusRunning
		tk.info.StartedAt = &now

		ctx, cancel := context.WithCancel(s.ctx)
		tk.cancel = cancel
		s.running++
		s.wg.Add(1)
		go s.run(ctx, tk)
	}
}

func (s *Scheduler) run(ctx context.Context, tk *task) {
	defer s.wg.Done()

	err := s.execute(ctx, tk.typ)
	tk.cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.running--
	switch {
	case err == nil:
		s.finishLocked(tk, models.TaskStatusCompleted, nil)
	case tk.cancelRequested || s.closed:
		s.finishLocked(tk, models.TaskStatusCancelled, ErrCancelled)
	default:
		s.finishLocked(tk, models.TaskStatusFailed, err)
		s.publish(models.OperationEvent{
			Level:   models.LevelError,
			Message: fmt.Sprintf("%s %s failed: %v", tk.info.Kind, tk.info.Target, err),
		})
	}
	s.dispatchLocked()
}

// finishLocked records a terminal status and releases waiters.
func (s *Scheduler) finishLocked(tk *task, status models.TaskStatus, err error) {
	now := time.Now()
	tk.info.Status = status
	tk.info.CompletedAt = &now
	if err != nil {
		tk.err = &TaskError{ID: tk.info.ID, Kind: tk.info.Kind, Target: tk.info.Target, Err: err}
		tk.info.Error = err.Error()
	}
	close(tk.done)
}

func (s *Scheduler) cancelTask(tk *task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch tk.info.Status {
	case models.TaskStatusPending:
		s.queue = slices.DeleteFunc(s.queue, func(q *task) bool { return q == tk })
		s.finishLocked(tk, models.TaskStatusCancelled, ErrCancelled)
	case models.TaskStatusRunning:
		tk.cancelRequested = true
		tk.cancel()
	}
}

func (s *Scheduler) publish(e models.ProgressEvent) {
	if s.bus != nil {
		s.bus.Publish(e)
	}
}

// Get returns a snapshot of the task with the given id.
func (s *Scheduler) Get(id string) (models.TaskInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tk, ok := s.tasks[id]
	if !ok {
		return models.TaskInfo{}, false
	}
	return tk.info, true
}

// Cancel cancels the task with the given id. It reports whether the task is tracked.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	tk, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.cancelTask(tk)
	return true
}

// List returns snapshots of all tracked tasks, oldest first.
func (s *Scheduler) List() []models.TaskInfo {
	s.mu.Lock()
	out := make([]models.TaskInfo, 0, len(s.tasks))
	for _, tk := range s.tasks {
		out = append(out, tk.info)
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b models.TaskInfo) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out
}

// Statistics computes counts and the average completed duration from the
// tracked task set.
func (s *Scheduler) Statistics() models.TaskStatistics {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats models.TaskStatistics
	var total time.Duration
	for _, tk := range s.tasks {
		stats.Total++
		switch tk.info.Status {
		case models.TaskStatusPending:
			stats.Pending++
		case models.TaskStatusRunning:
			stats.Running++
		case models.TaskStatusCompleted:
			stats.Completed++
			total += tk.info.Duration()
		case models.TaskStatusFailed:
			stats.Failed++
		case models.TaskStatusCancelled:
			stats.Cancelled++
		}
	}
	if stats.Completed > 0 {
		stats.AverageDuration = total / time.Duration(stats.Completed)
	}
	return stats
}

// Cleanup evicts finished tasks that completed more than olderThan ago and
// returns how many were removed. A zero olderThan evicts every finished task.
func (s *Scheduler) Cleanup(olderThan time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for id, tk := range s.tasks {
		if !tk.info.Status.IsTerminal() || tk.info.CompletedAt == nil {
			continue
		}
		if olderThan > 0 && tk.info.CompletedAt.After(cutoff) {
			continue
		}
		delete(s.tasks, id)
		removed++
	}
	return removed
}

// Start begins the retention loop that periodically evicts old finished tasks.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticker != nil || s.closed {
		return
	}

	s.ticker = time.NewTicker(s.opts.CleanupInterval)
	ticker := s.ticker
	go func() {
		for {
			select {
			case <-ticker.C:
				if n := s.Cleanup(s.opts.Retention); n > 0 {
					s.publish(models.OperationEvent{
						Level:   models.LevelDebug,
						Message: fmt.Sprintf("evicted %d finished task(s)", n),
					})
				}
			case <-s.stop:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts the retention loop. Running tasks are unaffected.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Shutdown stops accepting tasks, cancels pending and running ones and waits
// for running tasks to settle or ctx to end.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.Stop()

	s.mu.Lock()
	s.closed = true
	for _, tk := range s.queue {
		if tk.info.Status == models.TaskStatusPending {
			s.finishLocked(tk, models.TaskStatusCancelled, ErrCancelled)
		}
	}
	s.queue = nil
	s.mu.Unlock()

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
