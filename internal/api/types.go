package api

import (
	"time"

	"evalgo.org/anchor/internal/cluster"
	"evalgo.org/anchor/models"
)

// MessageResponse represents a simple message response.
type MessageResponse struct {
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}

// StartRun records one background cluster start.
type StartRun struct {
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt *time.Time             `json:"finished_at,omitempty"`
	Statuses   []models.ClusterStatus `json:"statuses"`
	Ready      bool                   `json:"ready"`
	Error      string                 `json:"error,omitempty"`
}

// ClusterResponse is the observed state of the managed cluster.
type ClusterResponse struct {
	Ready      bool                      `json:"ready"`
	Starting   bool                      `json:"starting"`
	Containers []cluster.ContainerStatus `json:"containers"`
	LastStart  *StartRun                 `json:"last_start,omitempty"`
}

// TasksResponse represents a page of scheduled tasks.
type TasksResponse struct {
	Count int               `json:"count"`
	Total int               `json:"total"`
	Tasks []models.TaskInfo `json:"tasks"`
}

// ContainersResponse represents the containers known to the engine.
type ContainersResponse struct {
	Count      int                       `json:"count"`
	Containers []models.ContainerSummary `json:"containers"`
}
