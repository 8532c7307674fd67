package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"helm/internal/cli"
)

var (
	statusEndpoint string
	statusToken    string
	statusPlain    bool
)

var statusCmd = &cobra.Command{
	Use:   "status [name]",
	Short: "Show run state and health for one or all services",
	Long: `Status prints one line per service: name, status, health, pid, port,
and uptime. Pass a service name to see just that one. --plain drops color
and box-drawing for piping to grep/awk.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusEndpoint, "endpoint", cli.GetDefaultEndpoint(), "Control API endpoint (env: HELM_ENDPOINT)")
	statusCmd.Flags().StringVar(&statusToken, "token", "", "bearer token (env: HELM_TOKEN)")
	statusCmd.Flags().BoolVar(&statusPlain, "plain", false, "kubectl-style plain output, no color")
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := cli.NewClient(statusEndpoint, statusToken)

	var statuses map[string]cli.ServiceSummary
	if len(args) == 1 {
		st, err := client.Status(args[0])
		if err != nil {
			return err
		}
		statuses = map[string]cli.ServiceSummary{args[0]: st}
	} else {
		all, err := client.List()
		if err != nil {
			return err
		}
		statuses = all
	}

	names := make([]string, 0, len(statuses))
	for name := range statuses {
		names = append(names, name)
	}
	sort.Strings(names)

	if statusPlain {
		printStatusPlain(names, statuses)
		return nil
	}
	printStatusColored(names, statuses)
	return nil
}

func printStatusPlain(names []string, statuses map[string]cli.ServiceSummary) {
	w := cli.NewPlainTableWriter(os.Stdout)
	w.SetHeaders([]string{"name", "status", "health", "pid", "port", "uptime"})
	builder := cli.NewTableBuilder()
	for _, name := range names {
		st := statuses[name]
		w.AppendRow([]string{name, st.Status, st.Health, pidOrDash(st.PID), fmt.Sprintf("%d", st.Port), builder.FormatUptime(st.StartedAt)})
	}
	w.Render()
}

func printStatusColored(names []string, statuses map[string]cli.ServiceSummary) {
	builder := cli.NewTableBuilder()
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"NAME", "STATUS", "HEALTH", "PID", "PORT", "UPTIME"})
	for _, name := range names {
		st := statuses[name]
		t.AppendRow(table.Row{
			name,
			builder.FormatRunState(st.Status),
			builder.FormatHealth(st.Health),
			pidOrDash(st.PID),
			st.Port,
			builder.FormatUptime(st.StartedAt),
		})
	}
	t.Render()
}

func pidOrDash(pid int) string {
	if pid == 0 {
		return "-"
	}
	return fmt.Sprintf("%d", pid)
}
