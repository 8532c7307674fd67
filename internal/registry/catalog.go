package registry

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"helm/internal/apierr"
	"helm/pkg/logging"
)

const discoveredBasePort = 5000
const discoveredPortSpan = 900
const discoveredInstallOrder = 99

// Catalog is the thread-safe in-memory service catalog, mirroring the
// teacher's registry's single RWMutex-guarded map pattern but keyed on
// static ServiceEntry data rather than live Service objects.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewCatalog returns an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{entries: make(map[string]Entry)}
}

// Get returns the entry for name, if present.
func (c *Catalog) Get(name string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[name]
	return e, ok
}

// All returns every entry, sorted by name for deterministic iteration.
func (c *Catalog) All() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// stableHash reproduces the spec's `stableHash(name) mod 900` deterministic
// port assignment for discovered services using FNV-1a, which
// is stable across processes and Go versions (unlike map/string hashing).
func stableHash(name string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return h.Sum32()
}

// DiscoveredPort computes the deterministic port for an undocumented
// service found on disk.
func DiscoveredPort(name string) int {
	return discoveredBasePort + int(stableHash(name)%discoveredPortSpan)
}

// Reconcile rebuilds the catalog from the static manifest plus a directory
// scan, applying the promotion/tie-break rule: for a name
// present in more than one source, core_required beats default_optional
// beats discovered, and a discovered entry whose name matches the manifest
// is promoted verbatim.
func Reconcile(manifest Manifest, discovered []Entry) (*Catalog, error) {
	byName := make(map[string]Entry)

	add := func(e Entry) {
		existing, ok := byName[e.Name]
		if !ok || e.Source.rank() < existing.Source.rank() {
			byName[e.Name] = e
		}
	}

	for _, e := range manifest.CoreRequired {
		e.Source = SourceCoreRequired
		add(e)
	}
	for _, e := range manifest.DefaultOptional {
		e.Source = SourceDefaultOptional
		add(e)
	}
	for _, e := range discovered {
		if manifestEntry, known := lookupManifest(manifest, e.Name); known {
			add(manifestEntry)
			continue
		}
		e.Source = SourceDiscovered
		e.Port = DiscoveredPort(e.Name)
		e.InstallOrder = discoveredInstallOrder
		e.Visible = true
		e.Dependencies = nil
		add(e)
	}

	if err := validate(byName); err != nil {
		return nil, err
	}

	for _, required := range manifest.CoreRequired {
		if _, ok := byName[required.Name]; !ok {
			return nil, apierr.New(apierr.KindMissingCoreService,
				fmt.Sprintf("core required service %q missing after reconcile", required.Name))
		}
	}

	return &Catalog{entries: byName}, nil
}

func lookupManifest(manifest Manifest, name string) (Entry, bool) {
	for _, e := range manifest.CoreRequired {
		if e.Name == name {
			e.Source = SourceCoreRequired
			return e, true
		}
	}
	for _, e := range manifest.DefaultOptional {
		if e.Name == name {
			e.Source = SourceDefaultOptional
			return e, true
		}
	}
	return Entry{}, false
}

func validate(entries map[string]Entry) error {
	ports := make(map[int]string)
	for _, e := range entries {
		if !ValidName(e.Name) {
			return apierr.New(apierr.KindConfigInvalid, fmt.Sprintf("service name %q is not a valid slug", e.Name))
		}
		if !ValidPort(e.Port) {
			return apierr.New(apierr.KindConfigInvalid, fmt.Sprintf("service %q has invalid port %d", e.Name, e.Port))
		}
		if other, taken := ports[e.Port]; taken && other != e.Name {
			return apierr.New(apierr.KindDuplicatePort,
				fmt.Sprintf("services %q and %q both claim port %d", other, e.Name, e.Port))
		}
		ports[e.Port] = e.Name
	}
	return nil
}

// WriteProjections writes the thin and thick registry files atomically into
// dir.
func (c *Catalog) WriteProjections(dir, scheme, hostname string) error {
	c.mu.RLock()
	entries := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	c.mu.RUnlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	thin := make(ThinRegistry, len(entries))
	thick := make(ThickRegistry, len(entries))
	for _, e := range entries {
		url := fmt.Sprintf("%s://%s:%d", scheme, hostname, e.Port)
		thin[e.Name] = ThinEntry{URL: url, Port: e.Port}
		thick[e.Name] = ThickEntry{
			URL:           url,
			Port:          e.Port,
			DirectoryPath: e.DirectoryPath,
			RunEntrypoint: e.RunEntrypoint,
			Visible:       e.Visible,
			AdminOnly:     e.AdminOnly,
		}
	}

	if err := writeJSONAtomic(filepath.Join(dir, "thin-registry.json"), thin); err != nil {
		return err
	}
	if err := writeJSONAtomic(filepath.Join(dir, "thick-registry.json"), thick); err != nil {
		return err
	}
	logging.Info("registry", "wrote thin/thick registry projections for %d services", len(entries))
	return nil
}

func writeJSONAtomic(path string, v interface{}) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apierr.Wrap(apierr.KindStorageError, "creating registry directory", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "marshaling registry projection", err)
	}
	tmp, err := os.CreateTemp(dir, ".registry-*.json.tmp")
	if err != nil {
		return apierr.Wrap(apierr.KindStorageError, "creating temp registry file", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return apierr.Wrap(apierr.KindStorageError, "writing temp registry file", err)
	}
	if err := tmp.Close(); err != nil {
		return apierr.Wrap(apierr.KindStorageError, "closing temp registry file", err)
	}
	return os.Rename(tmpPath, path)
}
