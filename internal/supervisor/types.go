// Package supervisor implements the Process Supervisor (C5): per-service
// spawn/stop/restart/adopt lifecycle, PID tracking, log capture, and
// band-parallel shutdown grouped by install_order.
package supervisor

import "time"

// Status is the lifecycle state of a ProcessRecord.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// Mode selects how a managed_python service is invoked.
type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeProduction  Mode = "production"
)

// ProcessRecord is the mutable per-service lifecycle record.
// It is created lazily on first reference and never destroyed; restarts of
// the orchestrator itself reconstruct it from the on-disk pidfile via
// AdoptOnStartup.
type ProcessRecord struct {
	ServiceName      string
	Status           Status
	PID              int
	StartedAt        time.Time
	StopRequested    bool
	Mode             Mode
	StdoutLogPath    string
	StderrLogPath    string
	LastExitCode     *int
	LastErrorMessage string
}

// snapshot returns a value copy safe to hand to callers outside the lock.
func (p *ProcessRecord) snapshot() ProcessRecord {
	return *p
}
