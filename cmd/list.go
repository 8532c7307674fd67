package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"helm/internal/cli"
)

var (
	listEndpoint string
	listToken    string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every registered service",
	Long: `List prints one line per catalog entry: name, source, port, and
install order. Use 'helm status' for live run state and health.`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringVar(&listEndpoint, "endpoint", cli.GetDefaultEndpoint(), "Control API endpoint (env: HELM_ENDPOINT)")
	listCmd.Flags().StringVar(&listToken, "token", "", "bearer token (env: HELM_TOKEN)")
}

func runList(cmd *cobra.Command, args []string) error {
	client := cli.NewClient(listEndpoint, listToken)
	entries, err := client.Catalog()
	if err != nil {
		return err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].InstallOrder < entries[j].InstallOrder })

	w := cli.NewPlainTableWriter(os.Stdout)
	w.SetHeaders([]string{"name", "source", "port", "install_order"})
	for _, e := range entries {
		w.AppendRow([]string{e.Name, e.Source, fmt.Sprintf("%d", e.Port), fmt.Sprintf("%d", e.InstallOrder)})
	}
	w.Render()
	return nil
}
