// Package registry implements the Service Registry (C2): an in-memory
// catalog built from a static manifest plus a filesystem scan for
// unknown-but-present services, and the thin/thick on-disk projections
// consumed by peer services and the supervisor.
package registry

import "regexp"

// Source records which bucket a ServiceEntry came from, used for the
// core_required > default_optional > discovered tie-break.
type Source string

const (
	SourceCoreRequired    Source = "core_required"
	SourceDefaultOptional Source = "default_optional"
	SourceDiscovered      Source = "discovered"
)

func (s Source) rank() int {
	switch s {
	case SourceCoreRequired:
		return 0
	case SourceDefaultOptional:
		return 1
	default:
		return 2
	}
}

// ProcessKind distinguishes the two ways the supervisor knows how to spawn
// a service.
type ProcessKind string

const (
	ProcessKindManagedPython ProcessKind = "managed_python"
	ProcessKindExternalJava  ProcessKind = "external_java"
)

// NamePattern is the slug format every ServiceEntry.Name must satisfy.
var NamePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// Entry is a single catalog element.
type Entry struct {
	Name          string      `json:"name" yaml:"name"`
	DisplayName   string      `json:"display_name" yaml:"display_name"`
	Description   string      `json:"description" yaml:"description"`
	Source        Source      `json:"source" yaml:"source"`
	Port          int         `json:"port" yaml:"port"`
	Dependencies  []string    `json:"dependencies" yaml:"dependencies"`
	InstallOrder  int         `json:"install_order" yaml:"install_order"`
	GitURL        string      `json:"git_url,omitempty" yaml:"git_url,omitempty"`
	DirectoryPath string      `json:"directory_path" yaml:"directory_path"`
	ProcessKind   ProcessKind `json:"process_kind" yaml:"process_kind"`
	RunEntrypoint string      `json:"run_entrypoint" yaml:"run_entrypoint"`
	Visible       bool        `json:"visible" yaml:"visible"`
	AdminOnly     bool        `json:"admin_only" yaml:"admin_only"`
}

// ValidName reports whether name satisfies the slug invariant.
func ValidName(name string) bool {
	return NamePattern.MatchString(name)
}

// ValidPort reports whether port is in the legal range.
func ValidPort(port int) bool {
	return port >= 1 && port <= 65535
}

// Manifest is the static JSON catalog of known services plus non-service
// system dependencies.
type Manifest struct {
	CoreRequired       []Entry  `json:"core_required" yaml:"core_required"`
	DefaultOptional    []Entry  `json:"default_optional" yaml:"default_optional"`
	SystemDependencies []string `json:"system_dependencies" yaml:"system_dependencies"`
}

// ThinEntry is one value of the thin registry projection.
type ThinEntry struct {
	URL  string `json:"url"`
	Port int    `json:"port"`
}

// ThinRegistry maps service name to peer-discovery coordinates.
type ThinRegistry map[string]ThinEntry

// ThickEntry is one value of the thick registry projection.
type ThickEntry struct {
	URL           string `json:"url"`
	Port          int    `json:"port"`
	DirectoryPath string `json:"directory_path"`
	RunEntrypoint string `json:"run_entrypoint"`
	Visible       bool   `json:"visible"`
	AdminOnly     bool   `json:"admin_only"`
}

// ThickRegistry maps service name to supervisor-facing metadata.
type ThickRegistry map[string]ThickEntry
