// Package orchestrator wires the Master Config Store, Service Registry,
// Config Synthesizer, IDP Bootstrap, Process Supervisor, Health Monitor,
// Log Store, and Control API into a single object with no package-level
// singletons.
package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/go-github/v74/github"

	"helm/internal/api"
	"helm/internal/apierr"
	"helm/internal/auth"
	"helm/internal/config"
	"helm/internal/idp"
	"helm/internal/logstore"
	"helm/internal/monitor"
	"helm/internal/registry"
	"helm/internal/supervisor"
	"helm/pkg/logging"
)

// Options configures a single orchestrator instance. Paths are rooted at
// InstanceDir so a whole installation lives under one directory.
type Options struct {
	InstanceDir     string // holds configs/, pids/, logs/
	ManifestPath    string
	ServicesDir     string
	ServicePrefix   string
	LogStoreDSN     string
	MonitorInterval time.Duration
	ListenAddr      string
}

// Orchestrator owns every component and is passed by reference into HTTP
// handlers; it is the replacement for the teacher's module-level mutable
// state.
type Orchestrator struct {
	opts Options

	Store      *config.Store
	Catalog    *registry.Catalog
	Supervisor *supervisor.Supervisor
	Monitor    *monitor.Monitor
	LogStore   *logstore.Store
	Verifier   *auth.Verifier

	httpServer *http.Server
}

// Bootstrap performs the two-phase startup sequence: load config and
// reconcile the registry first (phase one, no external I/O beyond disk),
// then bring up supervisor adoption, monitor, log store, IDP, and token
// verifier (phase two, which may block on external services). The control
// API itself is started by Serve.
func Bootstrap(ctx context.Context, opts Options) (*Orchestrator, error) {
	store, err := config.Open(filepath.Join(opts.InstanceDir, "configs", "master_config.json"))
	if err != nil {
		return nil, err
	}

	manifest, err := registry.LoadManifest(opts.ManifestPath)
	if err != nil {
		return nil, err
	}

	scanner := registry.NewScanner(opts.ServicesDir, opts.ServicePrefix)
	discovered, err := scanner.Scan()
	if err != nil {
		logging.Warn("orchestrator", "service discovery scan failed: %v", err)
	}

	catalog, err := registry.Reconcile(manifest, discovered)
	if err != nil {
		return nil, err
	}

	if err := catalog.WriteProjections(opts.InstanceDir, "http", store.Load().System.Hostname); err != nil {
		return nil, err
	}

	o := &Orchestrator{opts: opts, Store: store, Catalog: catalog}

	go o.gitHubEnrichment(ctx)

	sup := supervisor.New(catalog, store, opts.InstanceDir)
	sup.AdoptOnStartup()
	o.Supervisor = sup

	mon, err := monitor.New(catalog, sup, opts.MonitorInterval)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "constructing health monitor", err)
	}
	o.Monitor = mon

	if opts.LogStoreDSN != "" {
		logStore, err := logstore.Open(ctx, opts.LogStoreDSN)
		if err != nil {
			return nil, err
		}
		o.LogStore = logStore
	}

	cfg := store.Load()
	if err := o.reconcileIDP(ctx, cfg); err != nil {
		// IDP errors do not block startup: degrade, keep serving
		// read-only API, and let an operator retry bootstrap later.
		logging.Error("orchestrator", err, "IDP bootstrap failed, continuing with degraded IDP")
	}

	sessions := auth.NewIDPSessionValidator(cfg.IdentityProvider.BackendURL, nil)
	o.Verifier = auth.NewVerifier(jwksURL(cfg), sessions)

	return o, nil
}

func jwksURL(cfg config.MasterConfig) string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/certs", cfg.IdentityProvider.BackendURL, idp.DefaultRealm)
}

// reconcileIDP runs the full bootstrap reconciliation on every startup that
// has an IDP backend URL configured. It does not first check for a missing
// client_secret or a hostname change; Reconcile itself converges either
// case and leaves an already-converged IDP unchanged.
func (o *Orchestrator) reconcileIDP(ctx context.Context, cfg config.MasterConfig) error {
	if cfg.IdentityProvider.BackendURL == "" {
		return nil
	}
	b := idp.NewBootstrap(o.Store, cfg.IdentityProvider.BackendURL)
	return b.Reconcile(ctx, cfg)
}

// Serve starts the Control API, the health-monitor loop and, when a log
// store is configured, its hourly retention task; it blocks until ctx is
// cancelled, then drains in-flight requests and shuts every managed
// service down.
func (o *Orchestrator) Serve(ctx context.Context) error {
	deps := api.Deps{
		Catalog:    o.Catalog,
		Supervisor: o.Supervisor,
		Monitor:    o.Monitor,
		LogStore:   o.LogStore,
		Verifier:   o.Verifier,
	}
	mux := api.NewServer(deps)
	o.httpServer = &http.Server{Addr: o.opts.ListenAddr, Handler: mux}

	monitorCtx, cancelMonitor := context.WithCancel(ctx)
	defer cancelMonitor()
	go o.Monitor.Run(monitorCtx)
	if o.LogStore != nil {
		go o.LogStore.RunRetentionLoop(monitorCtx, logstore.DefaultRetention, time.Hour)
	}

	serveErr := make(chan error, 1)
	go func() {
		logging.Info("orchestrator", "control API listening on %s", o.opts.ListenAddr)
		serveErr <- o.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return apierr.Wrap(apierr.KindInternal, "control API server failed", err)
		}
	}

	return o.Shutdown(context.Background())
}

// Shutdown stops the HTTP server and every managed service, in reverse
// install_order bands.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	if o.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := o.httpServer.Shutdown(shutdownCtx); err != nil {
			logging.Warn("orchestrator", "control API shutdown error: %v", err)
		}
	}
	if o.LogStore != nil {
		defer o.LogStore.Close()
	}
	return o.Supervisor.ShutdownAll(ctx)
}

// gitHubEnrichment is an explicit, non-fatal supplemented feature, started
// from Bootstrap in its own goroutine so a slow or rate-limited GitHub API
// never delays startup: for each catalog entry with a git_url it logs a
// one-line upstream summary at DEBUG level. Nothing is stored on the
// catalog entry, and lookup failures are skipped silently without
// blocking boot.
func (o *Orchestrator) gitHubEnrichment(ctx context.Context) {
	token := os.Getenv("GITHUB_TOKEN")
	if token == "" {
		return
	}
	client := github.NewClient(nil).WithAuthToken(token)
	for _, entry := range o.Catalog.All() {
		if entry.GitURL == "" {
			continue
		}
		info := registry.FetchGitInfo(ctx, client, entry.GitURL)
		if info.DisplayString() != "" {
			logging.Debug("orchestrator", "service %s upstream %s", entry.Name, info.DisplayString())
		}
	}
}
