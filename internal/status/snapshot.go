// Package status runs the broadcast loop that turns discovery and probe
// results into published snapshots.
package status

import (
	"time"

	"github.com/filestand/filestand/internal/discovery"
)

// ResourceUsage is the pod level usage read from the metrics API.
type ResourceUsage struct {
	CPUMilli    int64 `json:"cpuMilli"`
	MemoryBytes int64 `json:"memoryBytes"`
}

// ServerStatus is one server's state within a snapshot.
type ServerStatus struct {
	Name          string             `json:"name"`
	Protocol      discovery.Protocol `json:"protocol"`
	PodPhase      string             `json:"podPhase"`
	Healthy       bool               `json:"healthy"`
	Message       string             `json:"message"`
	LatencyMillis int64              `json:"latencyMs"`
	Usage         *ResourceUsage     `json:"usage,omitempty"`
}

// Snapshot is the result of one complete broadcast cycle. A snapshot is
// immutable once published; readers holding one never observe later cycles
// through it.
type Snapshot struct {
	CycleID      string         `json:"cycleId"`
	CapturedAt   time.Time      `json:"capturedAt"`
	Servers      []ServerStatus `json:"servers"`
	HealthyCount int            `json:"healthyCount"`
	TotalCount   int            `json:"totalCount"`
}
