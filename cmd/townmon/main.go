// SPDX-License-Identifier: Apache-2.0
// townmon is the observability core for the town web application: it
// collects metrics, runs health probes, evaluates alert rules, fans
// notifications out to channels and serves the monitoring HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/ishan-parihar/ai-town-sub000/pkg/config"
	"github.com/ishan-parihar/ai-town-sub000/pkg/health"
	"github.com/ishan-parihar/ai-town-sub000/pkg/logstore"
	"github.com/ishan-parihar/ai-town-sub000/pkg/monitor"
	"github.com/ishan-parihar/ai-town-sub000/pkg/telemetry"
)

const version = "0.3.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "townmon:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "path to townmon.yaml")
		addr       = flag.String("addr", "", "listen address (overrides config)")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	logs, err := logstore.Open(cfg.Logs.MaxRows)
	if err != nil {
		return fmt.Errorf("open log store: %w", err)
	}

	logger := telemetry.ConfigureSlog(os.Stdout, cfg.Log.Level, cfg.Log.Format,
		logstore.NewHandler(logs, telemetry.ParseLogLevel(cfg.Log.Level), "townmon"))

	shutdownTelemetry, err := telemetry.Init("townmon", version, telemetry.Config{
		Exporter:       cfg.Telemetry.Exporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
		ExportInterval: cfg.Telemetry.ExportInterval,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry.shutdown", slog.String("error", err.Error()))
		}
	}()

	coreMetrics, err := telemetry.NewCoreMetrics(ctx)
	if err != nil {
		return fmt.Errorf("init core metrics: %w", err)
	}

	mon, err := monitor.New(cfg, monitor.Options{
		Logger:  logger,
		Metrics: coreMetrics,
		Logs:    logs,
	})
	if err != nil {
		return fmt.Errorf("build monitor: %w", err)
	}

	// The process always watches itself; the web layer registers its
	// database and upstream probes over this baseline.
	mon.Health.Register(health.Dependency{
		Name: "runtime",
		Type: "process",
		Checker: health.CheckerFunc(func(ctx context.Context) health.Result {
			return health.Result{
				Status: health.StatusHealthy,
				Details: map[string]interface{}{
					"goroutines": runtime.NumGoroutine(),
				},
			}
		}),
	})

	if *configPath != "" {
		watcher, err := config.NewWatcher(*configPath, config.WithWatchLogger(logger))
		if err != nil {
			return fmt.Errorf("watch config: %w", err)
		}
		watcher.OnChange(func(next *config.Config) {
			// Interval and threshold changes need a restart; surface
			// the reload so operators see it took effect on new stores.
			logger.Info("config.applied",
				slog.String("logLevel", next.Log.Level))
		})
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	mon.Start()
	defer mon.Stop()

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mon.Handler(cfg.Server.Environment == "production"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server.listen", slog.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("server.shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
