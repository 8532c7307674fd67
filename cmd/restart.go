package cmd

import (
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"helm/internal/cli"
)

var (
	restartEndpoint string
	restartToken    string
	restartMode     string
	restartQuiet    bool
)

var restartCmd = &cobra.Command{
	Use:   "restart <name>",
	Short: "Restart a service",
	Long:  `Restart stops the service, then starts it again under the given mode.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runRestart,
}

func init() {
	rootCmd.AddCommand(restartCmd)
	restartCmd.Flags().StringVar(&restartEndpoint, "endpoint", cli.GetDefaultEndpoint(), "Control API endpoint (env: HELM_ENDPOINT)")
	restartCmd.Flags().StringVar(&restartToken, "token", "", "bearer token (env: HELM_TOKEN)")
	restartCmd.Flags().StringVar(&restartMode, "mode", "", "development or production")
	restartCmd.Flags().BoolVarP(&restartQuiet, "quiet", "q", false, "suppress the progress spinner")
}

func runRestart(cmd *cobra.Command, args []string) error {
	client := cli.NewClient(restartEndpoint, restartToken)

	if restartQuiet {
		st, err := client.Restart(args[0], restartMode)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("%s is %s", args[0], st.Status)))
		return nil
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = fmt.Sprintf(" Restarting %s...", args[0])
	s.Start()
	st, err := client.Restart(args[0], restartMode)
	s.Stop()
	if err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), text.FgRed.Sprint("Failed to restart "+args[0]))
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("%s is %s", args[0], st.Status)))
	return nil
}
