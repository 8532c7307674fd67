package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
)

// rootCmd represents the base command for the helm application. It is the
// entry point both for the daemon ("helm serve") and the CLI subcommands
// that drive it through the Control API.
var rootCmd = &cobra.Command{
	Use:   "helm",
	Short: "Manage the helm platform orchestrator and its services",
	Long: `helm supervises a set of platform services on a single host: it runs
the orchestrator daemon (helm serve) and, as the same binary, a thin CLI
client (helm start/stop/restart/status/list) that drives it over its
Control API.`,
	SilenceUsage: true,
}

// SetVersion sets the version for the root command, injected at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "helm version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(ExitCodeError)
	}
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
}
