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
	stopEndpoint string
	stopToken    string
	stopQuiet    bool
)

var stopCmd = &cobra.Command{
	Use:   "stop <name>",
	Short: "Stop a service",
	Long:  `Stop is idempotent: stopping an already-stopped service succeeds.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
	stopCmd.Flags().StringVar(&stopEndpoint, "endpoint", cli.GetDefaultEndpoint(), "Control API endpoint (env: HELM_ENDPOINT)")
	stopCmd.Flags().StringVar(&stopToken, "token", "", "bearer token (env: HELM_TOKEN)")
	stopCmd.Flags().BoolVarP(&stopQuiet, "quiet", "q", false, "suppress the progress spinner")
}

func runStop(cmd *cobra.Command, args []string) error {
	client := cli.NewClient(stopEndpoint, stopToken)

	if stopQuiet {
		st, err := client.Stop(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("%s is %s", args[0], st.Status)))
		return nil
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = fmt.Sprintf(" Stopping %s...", args[0])
	s.Start()
	st, err := client.Stop(args[0])
	s.Stop()
	if err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), text.FgRed.Sprint("Failed to stop "+args[0]))
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("%s is %s", args[0], st.Status)))
	return nil
}
