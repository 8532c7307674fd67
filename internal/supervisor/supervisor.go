package supervisor

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/procfs"
	"golang.org/x/sync/errgroup"

	"helm/internal/apierr"
	"helm/internal/config"
	"helm/internal/registry"
	"helm/internal/synth"
	"helm/pkg/logging"
)

const (
	startReadyWindow  = 3 * time.Second
	startDeadline     = 30 * time.Second
	stopTermTimeout   = 10 * time.Second
	portPollInterval  = 100 * time.Millisecond
	shutdownPollEvery = 150 * time.Millisecond
)

// Supervisor owns every service's ProcessRecord and the machinery to
// spawn, signal, and adopt the underlying OS processes. A per-service lock
// serializes start/stop/restart for that service while leaving other
// services free to run concurrently.
type Supervisor struct {
	catalog  *registry.Catalog
	store    *config.Store
	instance string // base directory containing pids/ and logs/

	mu      sync.Mutex // guards locks and records maps themselves
	locks   map[string]*sync.Mutex
	records map[string]*ProcessRecord
}

// New constructs a Supervisor rooted at instanceDir, which must contain (or
// will be created to contain) "pids" and "logs" subdirectories.
func New(catalog *registry.Catalog, store *config.Store, instanceDir string) *Supervisor {
	return &Supervisor{
		catalog:  catalog,
		store:    store,
		instance: instanceDir,
		locks:    make(map[string]*sync.Mutex),
		records:  make(map[string]*ProcessRecord),
	}
}

func (s *Supervisor) lockFor(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	return l
}

func (s *Supervisor) recordFor(name string) *ProcessRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[name]
	if !ok {
		r = &ProcessRecord{ServiceName: name, Status: StatusStopped}
		s.records[name] = r
	}
	return r
}

func (s *Supervisor) pidFile(name string) string {
	return filepath.Join(s.instance, "pids", name+".pid")
}

func (s *Supervisor) stdoutLog(name string) string {
	return filepath.Join(s.instance, "logs", name+".stdout.log")
}

func (s *Supervisor) stderrLog(name string) string {
	return filepath.Join(s.instance, "logs", name+".stderr.log")
}

// Start synthesizes config, spawns the process, and blocks until it
// reports ready or the start window elapses.
func (s *Supervisor) Start(ctx context.Context, name string, mode Mode) (ProcessRecord, error) {
	entry, ok := s.catalog.Get(name)
	if !ok {
		return ProcessRecord{}, apierr.New(apierr.KindNotFound, "unknown service: "+name)
	}

	lock := s.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	rec := s.recordFor(name)

	if rec.Status == StatusRunning {
		if processAlive(rec.PID) {
			return rec.snapshot(), apierr.New(apierr.KindAlreadyRunning, "service already running: "+name)
		}
	}

	held, foreignPID := portHeld(entry.Port)
	if held && foreignPID != rec.PID {
		return ProcessRecord{}, apierr.New(apierr.KindPortInUse, fmt.Sprintf("port %d is held by foreign pid %d", entry.Port, foreignPID))
	}

	if err := s.synthesizeInputs(entry); err != nil {
		return ProcessRecord{}, err
	}

	if err := os.MkdirAll(filepath.Join(s.instance, "pids"), 0o755); err != nil {
		return ProcessRecord{}, apierr.Wrap(apierr.KindStorageError, "creating pids directory", err)
	}
	if err := os.MkdirAll(filepath.Join(s.instance, "logs"), 0o755); err != nil {
		return ProcessRecord{}, apierr.Wrap(apierr.KindStorageError, "creating logs directory", err)
	}

	cmd, err := s.buildCommand(entry, mode)
	if err != nil {
		return ProcessRecord{}, err
	}

	outFile, err := os.OpenFile(s.stdoutLog(name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return ProcessRecord{}, apierr.Wrap(apierr.KindStorageError, "opening stdout log", err)
	}
	errFile, err := os.OpenFile(s.stderrLog(name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		outFile.Close()
		return ProcessRecord{}, apierr.Wrap(apierr.KindStorageError, "opening stderr log", err)
	}
	cmd.Stdout = outFile
	cmd.Stderr = errFile

	rec.Status = StatusStarting
	rec.Mode = mode
	rec.StdoutLogPath = s.stdoutLog(name)
	rec.StderrLogPath = s.stderrLog(name)
	rec.LastErrorMessage = ""
	rec.LastExitCode = nil

	if err := cmd.Start(); err != nil {
		outFile.Close()
		errFile.Close()
		rec.Status = StatusError
		rec.LastErrorMessage = err.Error()
		return rec.snapshot(), apierr.Wrap(apierr.KindSpawnFailed, "spawning "+name, err)
	}

	rec.PID = cmd.Process.Pid
	rec.StartedAt = logging.Now()
	if err := writePIDFile(s.pidFile(name), rec.PID); err != nil {
		logging.Warn("supervisor", "failed to write pidfile for %s: %v", name, err)
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	startCtx, cancel := context.WithTimeout(ctx, startDeadline)
	defer cancel()

	select {
	case werr := <-waitCh:
		outFile.Close()
		errFile.Close()
		rec.Status = StatusError
		code := exitCode(werr)
		rec.LastExitCode = &code
		rec.LastErrorMessage = "process exited during start window"
		os.Remove(s.pidFile(name))
		return rec.snapshot(), apierr.New(apierr.KindSpawnFailed, fmt.Sprintf("%s exited during start: %v", name, werr))
	case <-time.After(startReadyWindow):
		// survived the readiness window; fall through to running
	case <-startCtx.Done():
		syscall.Kill(rec.PID, syscall.SIGKILL)
		rec.Status = StatusError
		rec.LastErrorMessage = "start_timeout"
		return rec.snapshot(), apierr.New(apierr.KindStartTimeout, "start deadline exceeded for "+name)
	}

	rec.Status = StatusRunning
	go s.reap(name, waitCh, outFile, errFile)

	daemon.SdNotify(false, "READY=1")
	logging.Info("supervisor", "started service %s pid=%d", name, rec.PID)
	return rec.snapshot(), nil
}

// reap waits for process exit after the start window and updates the
// record so the next Status() call reflects a crash.
func (s *Supervisor) reap(name string, waitCh <-chan error, outFile, errFile *os.File) {
	err := <-waitCh
	outFile.Close()
	errFile.Close()

	lock := s.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	code := exitCode(err)
	if !s.markCrashedLocked(name, code) {
		return
	}
	logging.Error("supervisor", err, "service %s crashed (exit %d)", name, code)
}

// markCrashedLocked transitions name's record to error with the given
// exit code, unless it's already stopping/stopped. Caller must hold
// name's lock. Reports whether it actually transitioned the record.
func (s *Supervisor) markCrashedLocked(name string, code int) bool {
	rec := s.recordFor(name)
	if rec.Status == StatusStopping || rec.Status == StatusStopped {
		return false
	}
	rec.Status = StatusError
	rec.LastExitCode = &code
	rec.LastErrorMessage = "process exited unexpectedly"
	os.Remove(s.pidFile(name))
	return true
}

// MarkCrashed lets the Monitor transition a ProcessRecord to error when
// its own probe finds the process gone -- e.g. an adopted process killed
// out from under the Supervisor, which never ran reap for it. ProcessRecord
// is mutated only here and in the Supervisor's own start/stop/reap paths.
func (s *Supervisor) MarkCrashed(name string, exitCode int) ProcessRecord {
	lock := s.lockFor(name)
	lock.Lock()
	defer lock.Unlock()
	s.markCrashedLocked(name, exitCode)
	return s.recordFor(name).snapshot()
}

// Stop is idempotent: TERM first, then KILL if the process lingers.
func (s *Supervisor) Stop(name string) (ProcessRecord, error) {
	lock := s.lockFor(name)
	lock.Lock()
	defer lock.Unlock()
	return s.stopLocked(name)
}

func (s *Supervisor) stopLocked(name string) (ProcessRecord, error) {
	rec := s.recordFor(name)

	if rec.Status == StatusStopped {
		return rec.snapshot(), nil
	}
	if rec.Status != StatusRunning && rec.Status != StatusError {
		return rec.snapshot(), nil
	}

	rec.StopRequested = true
	rec.Status = StatusStopping

	if rec.PID == 0 || !processAlive(rec.PID) {
		rec.Status = StatusStopped
		rec.PID = 0
		os.Remove(s.pidFile(name))
		return rec.snapshot(), nil
	}

	if err := syscall.Kill(rec.PID, syscall.SIGTERM); err != nil {
		return rec.snapshot(), apierr.Wrap(apierr.KindStopFailed, "sending TERM to "+name, err)
	}

	deadline := time.Now().Add(stopTermTimeout)
	for time.Now().Before(deadline) {
		if !processAlive(rec.PID) {
			rec.Status = StatusStopped
			rec.PID = 0
			os.Remove(s.pidFile(name))
			return rec.snapshot(), nil
		}
		time.Sleep(portPollInterval)
	}

	if err := syscall.Kill(rec.PID, syscall.SIGKILL); err != nil {
		rec.Status = StatusError
		rec.LastErrorMessage = "kill_failed"
		return rec.snapshot(), apierr.Wrap(apierr.KindStopFailed, "sending KILL to "+name, err)
	}
	rec.Status = StatusStopped
	rec.PID = 0
	os.Remove(s.pidFile(name))
	return rec.snapshot(), nil
}

// Restart stops the service and starts it again under the given mode.
func (s *Supervisor) Restart(ctx context.Context, name string, mode Mode) (ProcessRecord, error) {
	lock := s.lockFor(name)
	lock.Lock()
	if _, err := s.stopLocked(name); err != nil {
		lock.Unlock()
		return ProcessRecord{}, err
	}
	lock.Unlock()
	return s.Start(ctx, name, mode)
}

// Status returns the current ProcessRecord for name.
func (s *Supervisor) Status(name string) (ProcessRecord, error) {
	if _, ok := s.catalog.Get(name); !ok {
		return ProcessRecord{}, apierr.New(apierr.KindNotFound, "unknown service: "+name)
	}
	return s.recordFor(name).snapshot(), nil
}

// StatusAll returns every tracked ProcessRecord.
func (s *Supervisor) StatusAll() map[string]ProcessRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]ProcessRecord, len(s.records))
	for name, rec := range s.records {
		out[name] = rec.snapshot()
	}
	return out
}

// ShutdownAll stops every known
// service in reverse install_order, processing one order band at a time,
// stopping all services within a band concurrently.
func (s *Supervisor) ShutdownAll(ctx context.Context) error {
	entries := s.catalog.All()
	bands := bandByInstallOrderDesc(entries)

	for _, band := range bands {
		g, _ := errgroup.WithContext(ctx)
		for _, name := range band {
			name := name
			g.Go(func() error {
				_, err := s.Stop(name)
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// bandByInstallOrderDesc groups entries by install_order and returns the
// bands ordered from highest install_order to lowest, so services that
// depend on nothing (low install_order) are stopped last.
func bandByInstallOrderDesc(entries []registry.Entry) [][]string {
	byOrder := make(map[int][]string)
	for _, e := range entries {
		byOrder[e.InstallOrder] = append(byOrder[e.InstallOrder], e.Name)
	}
	orders := make([]int, 0, len(byOrder))
	for o := range byOrder {
		orders = append(orders, o)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(orders)))

	bands := make([][]string, 0, len(orders))
	for _, o := range orders {
		names := byOrder[o]
		sort.Strings(names)
		bands = append(bands, names)
	}
	return bands
}

// AdoptOnStartup reconstructs running-service state from on-disk pidfiles
// after an orchestrator restart.
func (s *Supervisor) AdoptOnStartup() {
	entries := s.catalog.All()
	for _, entry := range entries {
		pidPath := s.pidFile(entry.Name)
		data, err := os.ReadFile(pidPath)
		if err != nil {
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
		if err != nil || !processAlive(pid) || !executableMatches(pid, entry) {
			os.Remove(pidPath)
			continue
		}
		rec := s.recordFor(entry.Name)
		rec.Status = StatusRunning
		rec.PID = pid
		rec.StdoutLogPath = s.stdoutLog(entry.Name)
		rec.StderrLogPath = s.stderrLog(entry.Name)
		logging.Info("supervisor", "adopted running service %s pid=%d", entry.Name, pid)
	}
}

func (s *Supervisor) synthesizeInputs(entry registry.Entry) error {
	cfg := s.store.Load()
	thin := registry.ThinRegistry{}
	env, conn, err := synth.Synthesize(cfg, entry, thin)
	if err != nil {
		return err
	}
	return synth.WriteFiles(entry.DirectoryPath, entry.Name, env, conn)
}

func (s *Supervisor) buildCommand(entry registry.Entry, mode Mode) (*exec.Cmd, error) {
	switch entry.ProcessKind {
	case registry.ProcessKindManagedPython:
		interpreter := "python3"
		args := []string{entry.RunEntrypoint}
		if mode == ModeProduction {
			interpreter = "gunicorn"
			args = []string{"--bind", fmt.Sprintf("0.0.0.0:%d", entry.Port), "wsgi:app"}
		}
		cmd := exec.Command(interpreter, args...)
		cmd.Dir = entry.DirectoryPath
		cmd.Env = os.Environ()
		return cmd, nil
	case registry.ProcessKindExternalJava:
		cmd := exec.Command(filepath.Join(entry.DirectoryPath, entry.RunEntrypoint))
		cmd.Dir = entry.DirectoryPath
		cmd.Env = os.Environ()
		return cmd, nil
	default:
		return nil, apierr.New(apierr.KindSpawnFailed, "unsupported process kind for "+entry.Name)
	}
}

func writePIDFile(path string, pid int) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".pid-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := tmp.WriteString(strconv.Itoa(pid)); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// executableMatches checks that the adopted PID's executable path is
// plausibly the service's own (best-effort via /proc on Linux; always true
// where /proc is unavailable, since liveness is the primary signal).
func executableMatches(pid int, entry registry.Entry) bool {
	link := fmt.Sprintf("/proc/%d/exe", pid)
	target, err := os.Readlink(link)
	if err != nil {
		return true
	}
	return strings.Contains(target, entry.DirectoryPath) || entry.ProcessKind == registry.ProcessKindExternalJava
}

// tcpListenState is the /proc/net/tcp connection-state value for a
// listening socket (kernel enum tcp_state, TCP_LISTEN).
const tcpListenState = 0x0A

// portHeld reports whether some process is listening on port, and
// resolves which PID holds it by matching the listening socket's inode
// (from /proc/net/tcp[6]) against every process's open file descriptors.
// holderPID is 0 if the port is free, or if the holder can't be resolved.
func portHeld(port int) (held bool, holderPID int) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err == nil {
		ln.Close()
		return false, 0
	}

	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return true, 0
	}
	inode := listeningInode(fs, port)
	if inode == "" {
		return true, 0
	}
	return true, inodeOwnerPID(fs, inode)
}

func listeningInode(fs procfs.FS, port int) string {
	tables := [][]*procfs.NetIPSocketLine{}
	if tcp, err := fs.NetTCP(); err == nil {
		tables = append(tables, tcp)
	}
	if tcp6, err := fs.NetTCP6(); err == nil {
		tables = append(tables, tcp6)
	}
	for _, table := range tables {
		for _, line := range table {
			if line.St == tcpListenState && line.LocalPort == uint64(port) {
				return strconv.FormatUint(line.Inode, 10)
			}
		}
	}
	return ""
}

func inodeOwnerPID(fs procfs.FS, inode string) int {
	target := "socket:[" + inode + "]"
	procs, err := fs.AllProcs()
	if err != nil {
		return 0
	}
	for _, p := range procs {
		targets, err := p.FileDescriptorTargets()
		if err != nil {
			continue
		}
		for _, t := range targets {
			if t == target {
				return p.PID
			}
		}
	}
	return 0
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		return exitErr.ExitCode()
	}
	return -1
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}
