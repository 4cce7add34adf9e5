package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/lazypower/nest/internal/affinity"
	"github.com/lazypower/nest/internal/config"
	"github.com/lazypower/nest/internal/engine"
	"github.com/lazypower/nest/internal/filter"
	"github.com/lazypower/nest/internal/hypr"
	"github.com/lazypower/nest/internal/logging"
	"github.com/lazypower/nest/internal/metrics"
	"github.com/lazypower/nest/internal/server"
	"github.com/lazypower/nest/internal/store"
)

var serveLogLevel string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the placement daemon",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", "", "override log_level from the config file")
}

func runServe(cmd *cobra.Command, args []string) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveLogLevel != "" {
		cfg.LogLevel = serveLogLevel
	}

	logPath, err := cfg.LogPath()
	if err != nil {
		return err
	}
	log, flushLogs, err := logging.New(logging.Options{Level: cfg.LogLevel, File: logPath})
	if err != nil {
		return fmt.Errorf("set up logging: %w", err)
	}
	defer flushLogs()

	backend, err := store.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	defer func() { err = multierr.Append(err, backend.Close()) }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	records, err := backend.Load(ctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec, err := metrics.NewPrometheus(reg, "")
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	dir, err := hypr.SocketDir()
	if err != nil {
		return err
	}
	compositor := hypr.NewClient(dir)

	st := affinity.New(affinity.Options{
		BufferSize:      cfg.Workspace.Buffer,
		Ignore:          cfg.Ignore,
		WorkspaceFilter: cfg.Workspace.Filter.Policy(),
		FloatingFilter:  cfg.Floating.Filter.Policy(),
		Dispatcher:      compositor,
		Logger:          log.WithName("store"),
		Metrics:         rec,
	}, records)

	eng := engine.New(st, compositor, backend, engine.Options{
		Tau:            cfg.Workspace.Tau,
		RestoreTimeout: cfg.Restore.Window(),
		RestoreFilter:  cfg.Restore.Filter.Policy(),
		PollInterval:   cfg.Floating.Interval(),
		SaveInterval:   cfg.Storage.Interval(),
		Logger:         log.WithName("engine"),
		Metrics:        rec,
	})
	if err := eng.Init(ctx); err != nil {
		return err
	}

	events, err := hypr.Subscribe(ctx, dir, log.WithName("events"))
	if err != nil {
		return err
	}

	programs, _ := st.Counts()
	log.Info("nest started",
		"version", VersionString(),
		"hyprland", dir,
		"state", backend.Location(),
		"programs", programs,
	)

	log.V(1).Info("program filters",
		"workspace", describePolicy(cfg.Workspace.Filter.Policy()),
		"floating", describePolicy(cfg.Floating.Filter.Policy()),
		"restore", describePolicy(cfg.Restore.Filter.Policy()),
	)

	eng.StartTimers(ctx)

	var httpServer *http.Server
	if cfg.Server.Enabled {
		httpServer = startStatusServer(cfg, st, backend.Location(), reg, log.WithName("http"))
	}

	runErr := eng.Run(ctx, events)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
		log.Info("shutting down")
	}

	eng.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if httpServer != nil {
		runErr = multierr.Append(runErr, httpServer.Shutdown(shutdownCtx))
	}
	if ferr := eng.Flush(shutdownCtx); ferr != nil {
		runErr = multierr.Append(runErr, ferr)
	} else {
		log.V(1).Info("state saved", "state", backend.Location())
	}
	return runErr
}

// describePolicy summarizes a filter for logs, e.g. "include 2 programs".
func describePolicy(p filter.Policy) string {
	if p.Len() == 0 {
		if p.Mode() == filter.Include {
			return "include nothing"
		}
		return "all programs"
	}
	return fmt.Sprintf("%s %d programs", p.Mode(), p.Len())
}

func startStatusServer(cfg config.Config, st *affinity.Store, location string, reg *prometheus.Registry, log logr.Logger) *http.Server {
	srv := server.New(st, server.Options{
		Version:       VersionString(),
		Tau:           cfg.Workspace.Tau,
		StateLocation: location,
		Gatherer:      reg,
	})
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           srv,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("status API listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err, "status API stopped")
		}
	}()
	return httpServer
}
