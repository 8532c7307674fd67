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
	startEndpoint string
	startToken    string
	startMode     string
	startQuiet    bool
)

var startCmd = &cobra.Command{
	Use:   "start <name>",
	Short: "Start a service",
	Long: `Start brings up the named service under the given mode
("development" or "production"; defaults to the supervisor's own choice).`,
	Args: cobra.ExactArgs(1),
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
	startCmd.Flags().StringVar(&startEndpoint, "endpoint", cli.GetDefaultEndpoint(), "Control API endpoint (env: HELM_ENDPOINT)")
	startCmd.Flags().StringVar(&startToken, "token", "", "bearer token (env: HELM_TOKEN)")
	startCmd.Flags().StringVar(&startMode, "mode", "", "development or production")
	startCmd.Flags().BoolVarP(&startQuiet, "quiet", "q", false, "suppress the progress spinner")
}

func runStart(cmd *cobra.Command, args []string) error {
	client := cli.NewClient(startEndpoint, startToken)

	if startQuiet {
		st, err := client.Start(args[0], startMode)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("%s is %s", args[0], st.Status)))
		return nil
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = fmt.Sprintf(" Starting %s...", args[0])
	s.Start()
	st, err := client.Start(args[0], startMode)
	s.Stop()
	if err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), text.FgRed.Sprint("Failed to start "+args[0]))
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("%s is %s", args[0], st.Status)))
	return nil
}
