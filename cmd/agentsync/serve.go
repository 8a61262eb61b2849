package main

import (
	"context"
	"fmt"
	"time"

	"github.com/loykin/agentsync"
	tlsx "github.com/loykin/agentsync/internal/tls"
	"github.com/loykin/agentsync/internal/watch"
)

const shutdownTimeout = 10 * time.Second

// Serve runs the HTTP daemon until ctx is cancelled.
func (c *command) Serve(ctx context.Context, f ServeFlags) error {
	cfg, err := agentsync.LoadConfig(c.global.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if f.Listen != "" {
		cfg.Server.Listen = f.Listen
	}
	if f.BasePath != "" {
		cfg.Server.BasePath = f.BasePath
	}
	logger := cfg.Logger().NewSlogger()

	mgr, err := agentsync.New(cfg, agentsync.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() { _ = mgr.Close() }()
	if err := mgr.Initialize(ctx); err != nil {
		return err
	}

	var opts []agentsync.RouterOption
	opts = append(opts, agentsync.WithRouterLogger(logger))
	if cfg.Server.Metrics {
		if err := agentsync.RegisterMetricsDefault(); err != nil {
			logger.Warn("failed to register metrics", "error", err)
		}
		opts = append(opts, agentsync.WithRouterMetrics(true))
	}

	if cfg.Server.HealthSchedule != "" {
		mon, err := agentsync.NewHealthMonitor(mgr, cfg.Server.HealthSchedule, logger)
		if err != nil {
			return fmt.Errorf("server.health_schedule: %w", err)
		}
		mon.Start(ctx)
		defer mon.Stop()
		opts = append(opts, agentsync.WithRouterMonitor(mon))
	}

	var w *watch.Watcher
	if cfg.Sync.Watch {
		w = agentsync.NewWatcher(mgr, cfg.Store.Dir, logger)
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
		defer func() { _ = w.Stop() }()
	}

	tlsCfg, err := tlsx.Setup(cfg.Server.TLS)
	if err != nil {
		return fmt.Errorf("server.tls: %w", err)
	}
	if tlsCfg != nil {
		opts = append(opts, agentsync.WithRouterTLS(tlsCfg))
	}

	srv, err := agentsync.NewHTTPServer(cfg.Server.Listen, cfg.Server.BasePath, mgr, opts...)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}
	logger.Info("agentsync server started", "addr", srv.Addr, "base_path", cfg.Server.BasePath,
		"store", cfg.Store.Type, "watch", cfg.Sync.Watch, "history", cfg.History.Enabled, "tls", tlsCfg != nil)

	<-ctx.Done()
	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}
