package models

import "time"

// TaskKind names the engine operation a task performs.
type TaskKind string

const (
	KindImageDownload   TaskKind = "image_download"
	KindContainerCreate TaskKind = "container_create"
	KindContainerStart  TaskKind = "container_start"
	KindContainerStop   TaskKind = "container_stop"
	KindContainerRemove TaskKind = "container_remove"
	KindImageRemove     TaskKind = "image_remove"
)

// TaskType is the closed set of operations the scheduler can execute.
// Consumers switch on the concrete type; the unexported method keeps the set
// closed to this package.
type TaskType interface {
	Kind() TaskKind
	Target() string
	isTaskType()
}

// ImageDownload pulls an image.
type ImageDownload struct{ Image string }

// ContainerCreate creates a container named Name from Spec.
type ContainerCreate struct {
	Name string
	Spec ContainerSpec
}

// ContainerStart starts an existing container.
type ContainerStart struct{ Name string }

// ContainerStop stops a running container.
type ContainerStop struct{ Name string }

// ContainerRemove removes a container.
type ContainerRemove struct{ Name string }

// ImageRemove removes an image.
type ImageRemove struct{ Image string }

func (ImageDownload) Kind() TaskKind   { return KindImageDownload }
func (ContainerCreate) Kind() TaskKind { return KindContainerCreate }
func (ContainerStart) Kind() TaskKind  { return KindContainerStart }
func (ContainerStop) Kind() TaskKind   { return KindContainerStop }
func (ContainerRemove) Kind() TaskKind { return KindContainerRemove }
func (ImageRemove) Kind() TaskKind     { return KindImageRemove }

func (t ImageDownload) Target() string   { return t.Image }
func (t ContainerCreate) Target() string { return t.Name }
func (t ContainerStart) Target() string  { return t.Name }
func (t ContainerStop) Target() string   { return t.Name }
func (t ContainerRemove) Target() string { return t.Name }
func (t ImageRemove) Target() string     { return t.Image }

func (ImageDownload) isTaskType()   {}
func (ContainerCreate) isTaskType() {}
func (ContainerStart) isTaskType()  {}
func (ContainerStop) isTaskType()   {}
func (ContainerRemove) isTaskType() {}
func (ImageRemove) isTaskType()     {}

// TaskStatus is the state of a scheduled task.
// Pending and Running are the only non-terminal states.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether no further transition can happen from s.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// TaskInfo is a point-in-time snapshot of a scheduled task.
type TaskInfo struct {
	ID          string     `json:"id"`
	Kind        TaskKind   `json:"kind"`
	Target      string     `json:"target"`
	Status      TaskStatus `json:"status"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Duration returns how long the task ran, or zero if it has not finished running.
func (t TaskInfo) Duration() time.Duration {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return 0
	}
	return t.CompletedAt.Sub(*t.StartedAt)
}

// TaskStatistics summarises the tracked task set.
type TaskStatistics struct {
	Total           int           `json:"total"`
	Pending         int           `json:"pending"`
	Running         int           `json:"running"`
	Completed       int           `json:"completed"`
	Failed          int           `json:"failed"`
	Cancelled       int           `json:"cancelled"`
	AverageDuration time.Duration `json:"average_duration"`
}
