package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/plexmount/plexmount/internal/catalog"
	"github.com/plexmount/plexmount/internal/config"
	"github.com/plexmount/plexmount/internal/dashboard"
	"github.com/plexmount/plexmount/internal/index"
	"github.com/plexmount/plexmount/internal/metrics"
	"github.com/plexmount/plexmount/internal/refresh"
	"github.com/plexmount/plexmount/internal/scan"
	"github.com/plexmount/plexmount/internal/status"
	"github.com/plexmount/plexmount/internal/store"
	"github.com/plexmount/plexmount/internal/vfs"
	"github.com/plexmount/plexmount/internal/webdav"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	instanceFlag := flag.String("instance", "", "Override the snapshot instance id (defaults to the remote server identity)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting plexmount", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		slog.Error("Failed to create directories", "error", err)
		os.Exit(1)
	}

	client := catalog.NewClient(cfg.Server.BaseURL, cfg.Server.Token, cfg.NetworkTimeout(), cfg.Scan.Consumers)

	// The snapshot store is keyed by remote server identity so a config
	// pointed at a different server never resurrects the wrong tree. If
	// the server is unreachable at startup we fall back to the base URL
	// as the key, which still allows cache-only bootstrap.
	instanceID := *instanceFlag
	if instanceID == "" {
		idCtx, cancel := context.WithTimeout(context.Background(), cfg.NetworkTimeout())
		instanceID, err = client.ServerID(idCtx)
		cancel()
		if err != nil {
			slog.Warn("Could not resolve server identity, keying snapshots by base URL", "error", err)
			instanceID = cfg.Server.BaseURL
		}
	}
	slog.Info("Snapshot instance resolved", "instance", instanceID)

	snaps, err := store.Open(cfg.Cache)
	if err != nil {
		slog.Error("Failed to open snapshot store", "backend", cfg.Cache.Backend, "error", err)
		os.Exit(1)
	}
	defer snaps.Close()
	slog.Info("Snapshot store initialized", "backend", cfg.Cache.Backend)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	st := status.New(instanceID)
	ixStore := index.NewStore()

	scanner := scan.New(
		func(ctx context.Context) (scan.Session, error) { return client.Connect(ctx) },
		scan.Config{
			Consumers:   cfg.Scan.Consumers,
			QueueFactor: cfg.Scan.QueueFactor,
			ChunkSizes:  cfg.Scan.ChunkSizes,
			RetryDelay:  time.Duration(cfg.Scan.RetryDelaySeconds) * time.Second,
		},
	)

	scheduler := refresh.New(scanner, snaps, ixStore, st, m, refresh.Config{
		Interval:       cfg.RefreshInterval(),
		BootstrapRetry: time.Duration(cfg.Refresh.BootstrapRetrySeconds) * time.Second,
		InstanceID:     instanceID,
	})

	filesystem := vfs.New(ixStore, client, st, m)
	webdavServer := webdav.NewServer(cfg.Mount.WebDAVPort, filesystem)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Nothing serves until a first index is published: fresh snapshot,
	// stale snapshot, or live scan, in that order.
	if err := scheduler.Bootstrap(rootCtx); err != nil {
		slog.Error("Bootstrap aborted", "error", err)
		os.Exit(1)
	}

	schedDone := make(chan struct{})
	go func() {
		scheduler.Run(rootCtx)
		close(schedDone)
	}()

	go func() {
		if err := webdavServer.Start(); err != nil {
			slog.Error("WebDAV server failed", "error", err)
		}
	}()

	var dashboardServer *dashboard.Server
	if cfg.Dashboard.Enabled {
		dashboardServer = dashboard.NewServer(cfg.Dashboard.Port, st, scheduler.Trigger)
		go func() {
			if err := dashboardServer.Start(); err != nil {
				slog.Error("Dashboard server failed", "error", err)
			}
		}()
	}

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Port, reg)
		go func() {
			if err := metricsServer.Start(); err != nil {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// SIGHUP queues a rescan without restarting.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			slog.Info("SIGHUP received, queueing rescan")
			scheduler.Trigger()
		}
	}()

	slog.Info("plexmount is ready",
		"webdav_url", fmt.Sprintf("http://localhost:%d", cfg.Mount.WebDAVPort),
	)

	<-rootCtx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := webdavServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("WebDAV server shutdown error", "error", err)
	}
	if dashboardServer != nil {
		if err := dashboardServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Dashboard server shutdown error", "error", err)
		}
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	select {
	case <-schedDone:
	case <-shutdownCtx.Done():
	}

	slog.Info("plexmount stopped")
}
