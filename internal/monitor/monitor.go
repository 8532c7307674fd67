package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/procfs"
	"golang.org/x/time/rate"

	"helm/internal/registry"
	"helm/internal/supervisor"
	"helm/pkg/logging"
)

const (
	defaultInterval    = 5 * time.Second
	httpProbeTimeout   = 2 * time.Second
	portProbeTimeout   = 1 * time.Second
	failureLogBurst    = 1
	failureLogInterval = 30 * time.Second
)

// Monitor runs the periodic probe loop. It never mutates the
// supervisor's ProcessRecord directly; it reads PID/status from it and
// writes its own ServiceStatus records, except for the one documented
// crash-detection transition which it asks the supervisor to make.
type Monitor struct {
	catalog    *registry.Catalog
	supervisor *supervisor.Supervisor
	interval   time.Duration
	httpClient *http.Client
	procfs     procfs.FS

	mu        sync.RWMutex
	statuses  map[string]ServiceStatus
	limiters  map[string]*rate.Limiter
	cpuPrevAt map[int]cpuSample
}

type cpuSample struct {
	ticks uint64
	at    time.Time
}

// New constructs a Monitor polling every interval (defaultInterval if 0).
func New(catalog *registry.Catalog, sup *supervisor.Supervisor, interval time.Duration) (*Monitor, error) {
	if interval <= 0 {
		interval = defaultInterval
	}
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		// procfs unavailable (e.g. non-Linux); resource sampling degrades
		// to zero values but probes keep working.
		fs = procfs.FS{}
	}
	return &Monitor{
		catalog:    catalog,
		supervisor: sup,
		interval:   interval,
		httpClient: &http.Client{Timeout: httpProbeTimeout},
		procfs:     fs,
		statuses:   make(map[string]ServiceStatus),
		limiters:   make(map[string]*rate.Limiter),
		cpuPrevAt:  make(map[int]cpuSample),
	}, nil
}

// Run blocks, probing every registered service once per interval, until
// ctx is cancelled. Probes for distinct services run concurrently; probes
// for one service run sequentially.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probeAll(ctx)
		}
	}
}

func (m *Monitor) probeAll(ctx context.Context) {
	entries := m.catalog.All()
	var wg sync.WaitGroup
	for _, entry := range entries {
		entry := entry
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.probeOne(ctx, entry)
		}()
	}
	wg.Wait()
}

func (m *Monitor) probeOne(ctx context.Context, entry registry.Entry) {
	rec, err := m.supervisor.Status(entry.Name)
	if err != nil {
		return
	}

	status := ServiceStatus{
		ServiceName: entry.Name,
		Status:      rec.Status,
		PID:         rec.PID,
		Port:        entry.Port,
		StartedAt:   rec.StartedAt,
		LastChecked: logging.Now(),
		Health:      HealthUnknown,
	}

	if rec.Status != supervisor.StatusRunning {
		m.recordStatus(status)
		return
	}

	if !m.processProbe(rec.PID) {
		m.handleCrash(entry.Name)
		status.Status = supervisor.StatusError
		status.Health = HealthUnknown
		m.recordStatus(status)
		return
	}

	status.CPUPercent, status.MemoryMB = m.resourceSample(rec.PID)

	if !m.portProbe(entry.Port) {
		status.Health = HealthUnreachable
		status.HealthMessage = "port not accepting connections"
		m.recordStatus(status)
		return
	}

	health, msg := m.httpProbe(ctx, entry)
	status.Health = health
	status.HealthMessage = msg
	m.recordStatus(status)
}

func (m *Monitor) processProbe(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := m.procfs.Proc(pid)
	if err != nil {
		return false
	}
	_, err = proc.Stat()
	return err == nil
}

// clockTicksPerSec is the conventional Linux USER_HZ value; procfs exposes
// UTime/STime in clock ticks, not seconds.
const clockTicksPerSec = 100.0

// resourceSample returns CPU% as a fraction of one core averaged over the
// time since the previous sample, and RSS in
// MiB. The first sample for a PID has no prior reading to diff against, so
// it reports 0% CPU.
func (m *Monitor) resourceSample(pid int) (cpuPercent, memoryMB float64) {
	proc, err := m.procfs.Proc(pid)
	if err != nil {
		return 0, 0
	}
	stat, err := proc.Stat()
	if err != nil {
		return 0, 0
	}

	totalTicks := stat.UTime + stat.STime
	now := logging.Now()

	m.mu.Lock()
	prev, hadPrev := m.cpuPrevAt[pid]
	m.cpuPrevAt[pid] = cpuSample{ticks: totalTicks, at: now}
	m.mu.Unlock()

	if hadPrev && now.After(prev.at) {
		deltaTicks := float64(totalTicks - prev.ticks)
		deltaSeconds := now.Sub(prev.at).Seconds()
		if deltaSeconds > 0 {
			cpuPercent = (deltaTicks / clockTicksPerSec) / deltaSeconds
		}
	}

	memoryMB = float64(stat.ResidentMemory()) / 1024 / 1024
	return cpuPercent, memoryMB
}

func (m *Monitor) portProbe(port int) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), portProbeTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

type healthResponse struct {
	Status string                 `json:"status"`
	Checks map[string]interface{} `json:"checks,omitempty"`
}

func (m *Monitor) httpProbe(ctx context.Context, entry registry.Entry) (Health, string) {
	url := fmt.Sprintf("http://127.0.0.1:%d/health", entry.Port)
	reqCtx, cancel := context.WithTimeout(ctx, httpProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return HealthUnreachable, err.Error()
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return HealthUnreachable, err.Error()
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return HealthUnreachable, fmt.Sprintf("probe returned status %d", resp.StatusCode)
	}

	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return HealthUnreachable, "malformed health response"
	}

	switch body.Status {
	case "healthy":
		return HealthHealthy, ""
	case "degraded":
		return HealthDegraded, "reported degraded"
	default:
		return HealthUnreachable, "missing or unrecognized status field"
	}
}

// handleCrash asks the Supervisor to transition the service's
// ProcessRecord to error -- the process is gone but the Supervisor's own
// reap goroutine never observed it exit, e.g. an adopted process killed
// out from under it -- and logs at ERROR, rate-limited so a flapping
// process cannot flood the log store.
func (m *Monitor) handleCrash(name string) {
	rec := m.supervisor.MarkCrashed(name, -1)
	limiter := m.limiterFor(name)
	if !limiter.Allow() {
		return
	}
	code := -1
	if rec.LastExitCode != nil {
		code = *rec.LastExitCode
	}
	logging.Error("monitor", errors.New(rec.LastErrorMessage), "service %s process probe failed, last known exit code %d", name, code)
}

func (m *Monitor) limiterFor(name string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.limiters[name]
	if !ok {
		l = rate.NewLimiter(rate.Every(failureLogInterval), failureLogBurst)
		m.limiters[name] = l
	}
	return l
}

func (m *Monitor) recordStatus(status ServiceStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[status.ServiceName] = status
}

// Status returns the last-probed ServiceStatus for name.
func (m *Monitor) Status(name string) (ServiceStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statuses[name]
	return s, ok
}

// StatusAll returns the last-probed ServiceStatus for every service.
func (m *Monitor) StatusAll() map[string]ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]ServiceStatus, len(m.statuses))
	for k, v := range m.statuses {
		out[k] = v
	}
	return out
}
