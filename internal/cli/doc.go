// Package cli holds helpers shared by helm's subcommands: Control API
// endpoint resolution, server-reachability checks, cell-level formatting
// for service status output, and kubectl-style plain-table rendering.
package cli
