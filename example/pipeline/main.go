package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loykin/agentsync"
	"github.com/loykin/agentsync/internal/logger"
)

// This example runs a three stage pipeline (product -> architect -> coder)
// where each stage waits for the previous one through the shared store.
func main() {
	logCfg := logger.DefaultConfig()
	logCfg.Slog.Color = os.Getenv("CI") != "true"
	slogger := logCfg.NewSlogger()

	dir, err := os.MkdirTemp("", "agentsync-pipeline")
	if err != nil {
		panic(err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	cfg := agentsync.DefaultConfig()
	cfg.Sync.StatusDirectory = filepath.Join(dir, ".agent-status")
	cfg.Sync.CheckInterval = 100 * time.Millisecond
	cfg.Sync.Timeout = 10 * time.Second

	mgr, err := agentsync.New(cfg, agentsync.WithLogger(slogger))
	if err != nil {
		panic(err)
	}
	defer func() { _ = mgr.Close() }()

	ctx := context.Background()
	if err := mgr.Initialize(ctx); err != nil {
		panic(err)
	}

	sub := mgr.SubscribeAll(func(r agentsync.Record) {
		slogger.Info("status changed", "agent", r.Agent, "status", r.Status)
	})
	defer sub.Cancel()

	stages := []struct {
		agent    string
		upstream []string
		artifact string
	}{
		{"product", nil, "prd.md"},
		{"architect", []string{"product"}, "design.md"},
		{"coder", []string{"product", "architect"}, "main.go"},
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, st := range stages {
		g.Go(func() error {
			if _, err := mgr.SetStatus(gctx, st.agent, agentsync.StatePending); err != nil {
				return err
			}
			if len(st.upstream) > 0 {
				if _, err := mgr.WaitForMultiple(gctx, st.upstream); err != nil {
					_, _ = mgr.SetStatus(gctx, st.agent, agentsync.StateFailed, agentsync.WithError(err.Error()))
					return err
				}
			}
			if _, err := mgr.SetStatus(gctx, st.agent, agentsync.StateInProgress); err != nil {
				return err
			}
			time.Sleep(300 * time.Millisecond) // the actual work
			_, err := mgr.SetStatus(gctx, st.agent, agentsync.StateComplete,
				agentsync.WithMetadata(map[string]any{"artifact": st.artifact}))
			return err
		})
	}
	if err := g.Wait(); err != nil {
		slogger.Error("pipeline failed", "error", err)
		os.Exit(1)
	}

	all, err := mgr.GetAllStatus(ctx)
	if err != nil {
		panic(err)
	}
	for _, st := range stages {
		r := all[st.agent]
		fmt.Printf("%-10s %-9s %v\n", r.Agent, r.Status, r.Metadata["artifact"])
	}
	fmt.Println("health:", mgr.HealthCheck(ctx).Details)
}
