package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/loykin/agentsync"
	"github.com/loykin/agentsync/internal/logger"
)

type command struct {
	global *GlobalFlags
	out    io.Writer
	logger *slog.Logger
}

func newCommand(global *GlobalFlags) *command {
	// client commands only report problems; serve builds its own logger from config
	lc := logger.DefaultConfig()
	lc.Slog.Level = logger.LevelWarn
	lc.Slog.TimeStamps = false
	return &command{
		global: global,
		out:    os.Stdout,
		logger: lc.NewSlogger(),
	}
}

// Init creates the status store and verifies it is writable.
func (c *command) Init(ctx context.Context) error {
	cfg, err := agentsync.LoadConfig(c.global.ConfigPath)
	if err != nil {
		return err
	}
	mgr, err := agentsync.New(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = mgr.Close() }()
	if err := mgr.Initialize(ctx); err != nil {
		return err
	}
	rep := mgr.HealthCheck(ctx)
	if !rep.Healthy {
		return fmt.Errorf("status store unhealthy: %s", rep.Details)
	}
	_, err = fmt.Fprintf(c.out, "initialized %s store (%s)\n", cfg.Store.Type, storeLocation(cfg))
	return err
}

func storeLocation(cfg *agentsync.Config) string {
	if cfg.Store.Type == "file" {
		return cfg.Store.Dir
	}
	return cfg.Store.Type
}

func (c *command) Set(ctx context.Context, f SetFlags) error {
	state, err := agentsync.ParseState(f.Status)
	if err != nil {
		return fmt.Errorf("%w: %q (pending, in_progress, complete, failed)", err, f.Status)
	}
	meta, err := parseMeta(f.Meta)
	if err != nil {
		return err
	}
	b, err := c.open(ctx, f.APIFlags)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()
	rec, err := b.SetStatus(ctx, f.Agent, state, meta, f.ErrorMsg)
	if err != nil {
		return err
	}
	return printJSON(c.out, rec)
}

func (c *command) Get(ctx context.Context, f GetFlags) error {
	b, err := c.open(ctx, f.APIFlags)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()
	rec, err := b.GetStatus(ctx, f.Agent)
	if err != nil {
		if errors.Is(err, agentsync.ErrNotFound) {
			return fmt.Errorf("no status recorded for agent %s", f.Agent)
		}
		return err
	}
	return printOutput(c.out, f.Output, rec)
}

// List prints every agent. The default table view is one line per agent.
func (c *command) List(ctx context.Context, f ListFlags) error {
	b, err := c.open(ctx, f.APIFlags)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()
	all, err := b.ListStatus(ctx)
	if err != nil {
		return err
	}
	if f.Output != "" && f.Output != "table" {
		return printOutput(c.out, f.Output, all)
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "AGENT\tSTATUS\tUPDATED\tERROR")
	for _, agent := range sortedKeys(all) {
		r := all[agent]
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Agent, r.Status, r.Timestamp.Local().Format(time.RFC3339), r.Error)
	}
	return tw.Flush()
}

func (c *command) Wait(ctx context.Context, f WaitFlags) error {
	if len(f.Agents) == 0 {
		return fmt.Errorf("at least one agent is required")
	}
	b, err := c.open(ctx, f.APIFlags)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()
	recs, err := b.Wait(ctx, f.Agents, f.Timeout, f.Interval)
	if err != nil {
		return err
	}
	return printJSON(c.out, recs)
}

func (c *command) Cleanup(ctx context.Context, f CleanupFlags) error {
	b, err := c.open(ctx, f.APIFlags)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()
	if err := b.Cleanup(ctx, f.Agent); err != nil {
		return err
	}
	target := f.Agent
	if target == "" {
		target = "all agents"
	}
	_, err = fmt.Fprintf(c.out, "cleaned up %s\n", target)
	return err
}

// Health prints the report and fails when the store is unhealthy.
func (c *command) Health(ctx context.Context, f HealthFlags) error {
	b, err := c.open(ctx, f.APIFlags)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()
	rep, err := b.Health(ctx)
	if err != nil {
		return err
	}
	if err := printJSON(c.out, rep); err != nil {
		return err
	}
	if !rep.Healthy {
		return fmt.Errorf("unhealthy: %s", rep.Details)
	}
	return nil
}

// ConfigInit writes the default configuration.
func (c *command) ConfigInit(f ConfigInitFlags) error {
	path := f.Path
	if path == "" {
		path = "agentsync.toml"
	}
	if _, err := os.Stat(path); err == nil && !f.Force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := agentsync.SaveConfig(path, agentsync.DefaultConfig()); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	_, err := fmt.Fprintf(c.out, "wrote %s\n", path)
	return err
}
