package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"helm/internal/orchestrator"
	"helm/pkg/logging"
)

var (
	serveInstanceDir     string
	serveManifestPath    string
	serveServicesDir     string
	serveServicePrefix   string
	serveLogStoreDSN     string
	serveListenAddr      string
	serveMonitorInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the helm orchestrator daemon",
	Long: `Serve loads the master config and service manifest, reconciles the
service registry, adopts any processes left running by a previous
instance, then brings up the health monitor and Control API. It blocks
until interrupted, at which point every managed service is stopped in
reverse install-order.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveInstanceDir, "instance-dir", "instance", "instance directory (configs/, pids/, logs/)")
	serveCmd.Flags().StringVar(&serveManifestPath, "manifest", "manifest.json", "path to the static service manifest")
	serveCmd.Flags().StringVar(&serveServicesDir, "services-dir", "services", "parent directory scanned for discovered services")
	serveCmd.Flags().StringVar(&serveServicePrefix, "service-prefix", "platform", "directory name prefix identifying a service")
	serveCmd.Flags().StringVar(&serveLogStoreDSN, "logstore-dsn", os.Getenv("HELM_LOGSTORE_DSN"), "PostgreSQL DSN for the centralized log store (env: HELM_LOGSTORE_DSN)")
	serveCmd.Flags().StringVar(&serveListenAddr, "listen", ":8800", "Control API listen address")
	serveCmd.Flags().DurationVar(&serveMonitorInterval, "monitor-interval", 5*time.Second, "health probe interval")
}

func runServe(cmd *cobra.Command, args []string) error {
	instanceDir, err := filepath.Abs(serveInstanceDir)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	o, err := orchestrator.Bootstrap(ctx, orchestrator.Options{
		InstanceDir:     instanceDir,
		ManifestPath:    serveManifestPath,
		ServicesDir:     serveServicesDir,
		ServicePrefix:   serveServicePrefix,
		LogStoreDSN:     serveLogStoreDSN,
		MonitorInterval: serveMonitorInterval,
		ListenAddr:      serveListenAddr,
	})
	if err != nil {
		logging.Error("serve", err, "bootstrap failed")
		return err
	}

	return o.Serve(ctx)
}
