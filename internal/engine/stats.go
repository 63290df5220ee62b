package engine

import (
	"strings"

	"evalgo.org/anchor/models"
	"github.com/docker/docker/api/types/container"
)

// applyStats fills the resource usage fields of m from one stats sample.
func applyStats(m *models.ContainerMetrics, stats *container.StatsResponse) {
	m.CPUPercent = cpuPercent(stats)

	m.MemoryUsage = memoryUsage(stats.MemoryStats)
	m.MemoryLimit = stats.MemoryStats.Limit
	if m.MemoryLimit > 0 {
		m.MemoryPercent = float64(m.MemoryUsage) / float64(m.MemoryLimit) * 100
	}

	m.PIDs = stats.PidsStats.Current

	for _, n := range stats.Networks {
		m.NetworkRx += n.RxBytes
		m.NetworkTx += n.TxBytes
	}

	for _, entry := range stats.BlkioStats.IoServiceBytesRecursive {
		switch strings.ToLower(entry.Op) {
		case "read":
			m.BlockRead += entry.Value
		case "write":
			m.BlockWrite += entry.Value
		}
	}
}

// cpuPercent uses the same formula as `docker stats`: the container's share of
// the host CPU time between the two samples, scaled by the number of CPUs.
func cpuPercent(stats *container.StatsResponse) float64 {
	cpuDelta := float64(stats.CPUStats.CPUUsage.TotalUsage) - float64(stats.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(stats.CPUStats.SystemUsage) - float64(stats.PreCPUStats.SystemUsage)

	cpus := float64(stats.CPUStats.OnlineCPUs)
	if cpus == 0 {
		cpus = float64(len(stats.CPUStats.CPUUsage.PercpuUsage))
	}

	if cpuDelta <= 0 || systemDelta <= 0 || cpus == 0 {
		return 0
	}
	return cpuDelta / systemDelta * cpus * 100
}

// memoryUsage excludes page cache: "cache" on cgroup v1, "inactive_file" on v2.
func memoryUsage(mem container.MemoryStats) uint64 {
	cache := mem.Stats["cache"]
	if v, ok := mem.Stats["inactive_file"]; ok {
		cache = v
	}
	if cache > mem.Usage {
		return mem.Usage
	}
	return mem.Usage - cache
}
