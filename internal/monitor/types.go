// Package monitor implements the Health Monitor (C6): a periodic probe
// loop computing liveness, health, and resource usage for every managed
// service.
package monitor

import (
	"time"

	"helm/internal/supervisor"
)

// Health is the per-service health classification.
type Health string

const (
	HealthHealthy     Health = "healthy"
	HealthDegraded    Health = "degraded"
	HealthUnreachable Health = "unreachable"
	HealthUnknown     Health = "unknown"
)

// ServiceStatus is the monitor-owned view of a service, joined with the
// supervisor's ProcessRecord for the Control API's status endpoints.
type ServiceStatus struct {
	ServiceName   string
	Status        supervisor.Status
	PID           int
	Port          int
	StartedAt     time.Time
	LastChecked   time.Time
	Health        Health
	HealthMessage string
	CPUPercent    float64
	MemoryMB      float64
}
