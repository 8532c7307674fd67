package supervisor

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helm/internal/apierr"
	"helm/internal/config"
	"helm/internal/registry"
)

func writeScript(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "run.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func newTestSupervisor(t *testing.T, entries ...registry.Entry) (*Supervisor, *registry.Catalog) {
	t.Helper()
	manifest := registry.Manifest{}
	for _, e := range entries {
		manifest.CoreRequired = append(manifest.CoreRequired, e)
	}
	cat, err := registry.Reconcile(manifest, nil)
	require.NoError(t, err)

	store, err := config.Open(filepath.Join(t.TempDir(), "master_config.json"))
	require.NoError(t, err)

	sup := New(cat, store, t.TempDir())
	return sup, cat
}

func longRunningEntry(t *testing.T, name string, port int) registry.Entry {
	dir := t.TempDir()
	writeScript(t, dir, "sleep 5 &\nwait\n")
	return registry.Entry{
		Name:          name,
		Port:          port,
		InstallOrder:  1,
		ProcessKind:   registry.ProcessKindExternalJava,
		RunEntrypoint: "run.sh",
		DirectoryPath: dir,
	}
}

func exitImmediatelyEntry(t *testing.T, name string, port int) registry.Entry {
	dir := t.TempDir()
	writeScript(t, dir, "exit 7\n")
	return registry.Entry{
		Name:          name,
		Port:          port,
		InstallOrder:  1,
		ProcessKind:   registry.ProcessKindExternalJava,
		RunEntrypoint: "run.sh",
		DirectoryPath: dir,
	}
}

func TestStart_SpawnsAndTransitionsToRunning(t *testing.T) {
	entry := longRunningEntry(t, "alpha", 15001)
	sup, _ := newTestSupervisor(t, entry)

	rec, err := sup.Start(t.Context(), "alpha", ModeDevelopment)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, rec.Status)
	assert.Greater(t, rec.PID, 0)

	_, err = sup.Stop("alpha")
	require.NoError(t, err)
}

func TestStart_AlreadyRunningFails(t *testing.T) {
	entry := longRunningEntry(t, "alpha", 15002)
	sup, _ := newTestSupervisor(t, entry)

	_, err := sup.Start(t.Context(), "alpha", ModeDevelopment)
	require.NoError(t, err)
	defer sup.Stop("alpha")

	_, err = sup.Start(t.Context(), "alpha", ModeDevelopment)
	require.Error(t, err)
	assert.Equal(t, apierr.KindAlreadyRunning, apierr.KindOf(err))
}

func TestStart_PortInUseFails(t *testing.T) {
	ln, err := net.Listen("tcp", ":15003")
	require.NoError(t, err)
	defer ln.Close()

	entry := longRunningEntry(t, "alpha", 15003)
	sup, _ := newTestSupervisor(t, entry)

	_, err = sup.Start(t.Context(), "alpha", ModeDevelopment)
	require.Error(t, err)
	assert.Equal(t, apierr.KindPortInUse, apierr.KindOf(err))

	rec, _ := sup.Status("alpha")
	assert.Equal(t, "", rec.LastErrorMessage)
	assert.Equal(t, StatusStopped, rec.Status, "record never transitions past stopped when the port check fails before spawn")
}

func TestStart_ExitsDuringWindowTransitionsToError(t *testing.T) {
	entry := exitImmediatelyEntry(t, "alpha", 15004)
	sup, _ := newTestSupervisor(t, entry)

	_, err := sup.Start(t.Context(), "alpha", ModeDevelopment)
	require.Error(t, err)
	assert.Equal(t, apierr.KindSpawnFailed, apierr.KindOf(err))

	rec, _ := sup.Status("alpha")
	assert.Equal(t, StatusError, rec.Status)
	require.NotNil(t, rec.LastExitCode)
	assert.Equal(t, 7, *rec.LastExitCode)
}

func TestStop_IdempotentOnAlreadyStopped(t *testing.T) {
	entry := longRunningEntry(t, "alpha", 15005)
	sup, _ := newTestSupervisor(t, entry)

	rec, err := sup.Stop("alpha")
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, rec.Status)
}

func TestRestart_StopsThenStarts(t *testing.T) {
	entry := longRunningEntry(t, "alpha", 15006)
	sup, _ := newTestSupervisor(t, entry)

	_, err := sup.Start(t.Context(), "alpha", ModeDevelopment)
	require.NoError(t, err)
	firstPID, _ := sup.Status("alpha")

	rec, err := sup.Restart(t.Context(), "alpha", ModeDevelopment)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, rec.Status)
	assert.NotEqual(t, firstPID.PID, rec.PID)

	sup.Stop("alpha")
}

func TestShutdownAll_StopsInReverseInstallOrderBands(t *testing.T) {
	low := longRunningEntry(t, "low", 15007)
	low.InstallOrder = 1
	high := longRunningEntry(t, "high", 15008)
	high.InstallOrder = 5

	sup, _ := newTestSupervisor(t, low, high)
	_, err := sup.Start(t.Context(), "low", ModeDevelopment)
	require.NoError(t, err)
	_, err = sup.Start(t.Context(), "high", ModeDevelopment)
	require.NoError(t, err)

	require.NoError(t, sup.ShutdownAll(t.Context()))

	lowRec, _ := sup.Status("low")
	highRec, _ := sup.Status("high")
	assert.Equal(t, StatusStopped, lowRec.Status)
	assert.Equal(t, StatusStopped, highRec.Status)
}

func TestAdoptOnStartup_DeadPIDIsCleaned(t *testing.T) {
	entry := longRunningEntry(t, "alpha", 15009)
	sup, _ := newTestSupervisor(t, entry)

	require.NoError(t, os.MkdirAll(filepath.Join(sup.instance, "pids"), 0o755))
	require.NoError(t, os.WriteFile(sup.pidFile("alpha"), []byte("999999"), 0o644))

	sup.AdoptOnStartup()

	rec, _ := sup.Status("alpha")
	assert.Equal(t, StatusStopped, rec.Status)
	_, err := os.Stat(sup.pidFile("alpha"))
	assert.True(t, os.IsNotExist(err))
}

func TestBandByInstallOrderDesc(t *testing.T) {
	entries := []registry.Entry{
		{Name: "a", InstallOrder: 1},
		{Name: "b", InstallOrder: 5},
		{Name: "c", InstallOrder: 5},
	}
	bands := bandByInstallOrderDesc(entries)
	require.Len(t, bands, 2)
	assert.ElementsMatch(t, []string{"b", "c"}, bands[0])
	assert.Equal(t, []string{"a"}, bands[1])
}
