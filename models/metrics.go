package models

import (
	"fmt"
	"time"

	"github.com/docker/go-units"
)

// HealthStatus is the health-check state reported by the engine.
type HealthStatus string

const (
	HealthNone      HealthStatus = "none"
	HealthStarting  HealthStatus = "starting"
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// ContainerState is what the engine reports about one container.
type ContainerState struct {
	Exists       bool         `json:"exists"`
	Running      bool         `json:"running"`
	Status       string       `json:"status,omitempty"` // created, running, exited, ...
	Image        string       `json:"image,omitempty"`
	ExitCode     int          `json:"exit_code"`
	RestartCount int          `json:"restart_count"`
	Health       HealthStatus `json:"health"`
	StartedAt    time.Time    `json:"started_at,omitempty"`
}

// ContainerMetrics is a one-shot resource usage sample for a container.
type ContainerMetrics struct {
	Container     string        `json:"container"`
	Uptime        time.Duration `json:"uptime"`
	MemoryUsage   uint64        `json:"memory_usage"`
	MemoryLimit   uint64        `json:"memory_limit"`
	MemoryPercent float64       `json:"memory_percent"`
	CPUPercent    float64       `json:"cpu_percent"`
	PIDs          uint64        `json:"pids"`
	NetworkRx     uint64        `json:"network_rx"`
	NetworkTx     uint64        `json:"network_tx"`
	BlockRead     uint64        `json:"block_read"`
	BlockWrite    uint64        `json:"block_write"`
	RestartCount  int           `json:"restart_count"`
	ExitCode      int           `json:"exit_code"`
	Health        HealthStatus  `json:"health"`
}

// MemoryString renders usage against limit, e.g. "12.5MiB / 1.944GiB (0.63%)".
func (m ContainerMetrics) MemoryString() string {
	return fmt.Sprintf("%s / %s (%.2f%%)",
		units.BytesSize(float64(m.MemoryUsage)), units.BytesSize(float64(m.MemoryLimit)), m.MemoryPercent)
}

// NetworkString renders received and transmitted bytes.
func (m ContainerMetrics) NetworkString() string {
	return fmt.Sprintf("%s / %s", units.HumanSize(float64(m.NetworkRx)), units.HumanSize(float64(m.NetworkTx)))
}

// BlockIOString renders bytes read and written.
func (m ContainerMetrics) BlockIOString() string {
	return fmt.Sprintf("%s / %s", units.HumanSize(float64(m.BlockRead)), units.HumanSize(float64(m.BlockWrite)))
}

// UptimeString renders the uptime, or "-" for a container that is not running.
func (m ContainerMetrics) UptimeString() string {
	if m.Uptime <= 0 {
		return "-"
	}
	return units.HumanDuration(m.Uptime)
}

// ImageSummary describes a locally available image.
type ImageSummary struct {
	ID       string    `json:"id"`
	RepoTags []string  `json:"repo_tags"`
	Size     int64     `json:"size"`
	Created  time.Time `json:"created"`
}

// ContainerSummary describes a container known to the engine.
type ContainerSummary struct {
	ID     string   `json:"id"`
	Names  []string `json:"names"`
	Image  string   `json:"image"`
	State  string   `json:"state"`
	Status string   `json:"status"`
}

// RegistryCredentials authenticate image pulls against a registry.
type RegistryCredentials struct {
	Username      string `json:"username"`
	Password      string `json:"-"`
	ServerAddress string `json:"server_address"`
}

// Empty reports whether no credentials are set.
func (c RegistryCredentials) Empty() bool {
	return c.Username == "" && c.Password == ""
}
