package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleManifest() Manifest {
	return Manifest{
		CoreRequired: []Entry{
			{Name: "core", Port: 5000, InstallOrder: 1, ProcessKind: ProcessKindManagedPython},
			{Name: "idp", Port: 8443, InstallOrder: 0, ProcessKind: ProcessKindExternalJava},
		},
		DefaultOptional: []Entry{
			{Name: "billing", Port: 5010, InstallOrder: 5, ProcessKind: ProcessKindManagedPython},
		},
		SystemDependencies: []string{"identity_provider", "relational_db"},
	}
}

func TestReconcile_PromotesDiscoveredToManifestEntry(t *testing.T) {
	manifest := sampleManifest()
	discovered := []Entry{
		{Name: "billing", Port: 9999, DirectoryPath: "/opt/platform-billing"},
	}

	cat, err := Reconcile(manifest, discovered)
	require.NoError(t, err)

	entry, ok := cat.Get("billing")
	require.True(t, ok)
	assert.Equal(t, 5010, entry.Port, "promoted entry must match the manifest verbatim, not the discovered port")
	assert.Equal(t, SourceDefaultOptional, entry.Source)
}

func TestReconcile_UnknownDiscoveredGetsDeterministicPort(t *testing.T) {
	manifest := sampleManifest()
	discovered := []Entry{{Name: "widgets", DirectoryPath: "/opt/platform-widgets"}}

	cat, err := Reconcile(manifest, discovered)
	require.NoError(t, err)

	entry, ok := cat.Get("widgets")
	require.True(t, ok)
	assert.Equal(t, SourceDiscovered, entry.Source)
	assert.Equal(t, DiscoveredPort("widgets"), entry.Port)
	assert.True(t, ValidPort(entry.Port))

	again, err := Reconcile(manifest, discovered)
	require.NoError(t, err)
	entry2, _ := again.Get("widgets")
	assert.Equal(t, entry.Port, entry2.Port, "discovered port assignment must be deterministic across runs")
}

func TestReconcile_PortConflictWithCoreRequiredIsFatal(t *testing.T) {
	manifest := sampleManifest()
	// A discovered entry always gets DiscoveredPort(name), so the clash is
	// set up by placing a core_required entry on that port.
	manifest.CoreRequired[0].Port = DiscoveredPort("clash")
	discovered := []Entry{{Name: "clash", DirectoryPath: "/opt/platform-clash"}}

	_, err := Reconcile(manifest, discovered)
	require.Error(t, err, "duplicate port against a core_required entry must fail reconcile")
}

func TestReconcile_DuplicatePortRejected(t *testing.T) {
	manifest := Manifest{
		CoreRequired: []Entry{
			{Name: "alpha", Port: 5010, InstallOrder: 1},
			{Name: "beta", Port: 5010, InstallOrder: 2},
		},
	}
	_, err := Reconcile(manifest, nil)
	require.Error(t, err)
}

func TestWriteProjections(t *testing.T) {
	manifest := sampleManifest()
	cat, err := Reconcile(manifest, nil)
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, cat.WriteProjections(dir, "http", "localhost"))

	thinData, err := os.ReadFile(filepath.Join(dir, "thin-registry.json"))
	require.NoError(t, err)
	var thin ThinRegistry
	require.NoError(t, json.Unmarshal(thinData, &thin))
	assert.Equal(t, "http://localhost:5000", thin["core"].URL)

	thickData, err := os.ReadFile(filepath.Join(dir, "thick-registry.json"))
	require.NoError(t, err)
	var thick ThickRegistry
	require.NoError(t, json.Unmarshal(thickData, &thick))
	assert.Contains(t, thick, "idp")
}

func TestValidName(t *testing.T) {
	assert.True(t, ValidName("billing"))
	assert.True(t, ValidName("billing-2"))
	assert.False(t, ValidName("Billing"))
	assert.False(t, ValidName("2billing"))
}
