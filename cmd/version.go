package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"helm/internal/cli"
)

// newVersionCmd creates the Cobra command for displaying the application
// version. It prints the CLI's own build version and, if the daemon is
// reachable, the daemon's self-reported status too.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the helm CLI version",
		Long:  `Displays the helm CLI version and checks whether the daemon is reachable.`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "helm version %s\n", rootCmd.Version)

			endpoint := cli.GetDefaultEndpoint()
			if err := cli.CheckServerRunning(endpoint); err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "daemon: not reachable at %s\n", endpoint)
				return
			}
			fmt.Fprintf(cmd.OutOrStdout(), "daemon: reachable at %s\n", endpoint)
		},
	}
}
