package main

import (
	"context"
	"fmt"
	"time"

	"github.com/loykin/agentsync"
	"github.com/loykin/agentsync/pkg/client"
)

// backend is what the commands need from either a local store or a daemon.
type backend interface {
	SetStatus(ctx context.Context, agent string, state agentsync.State, meta map[string]any, errMsg string) (agentsync.Record, error)
	GetStatus(ctx context.Context, agent string) (agentsync.Record, error)
	ListStatus(ctx context.Context) (map[string]agentsync.Record, error)
	Wait(ctx context.Context, agents []string, timeout, interval time.Duration) ([]agentsync.Record, error)
	Cleanup(ctx context.Context, agent string) error
	Health(ctx context.Context) (agentsync.HealthReport, error)
	Close() error
}

type localBackend struct {
	mgr *agentsync.Manager
}

func (b localBackend) SetStatus(ctx context.Context, agent string, state agentsync.State, meta map[string]any, errMsg string) (agentsync.Record, error) {
	var opts []agentsync.SetOption
	if len(meta) > 0 {
		opts = append(opts, agentsync.WithMetadata(meta))
	}
	if errMsg != "" {
		opts = append(opts, agentsync.WithError(errMsg))
	}
	return b.mgr.SetStatus(ctx, agent, state, opts...)
}

func (b localBackend) GetStatus(ctx context.Context, agent string) (agentsync.Record, error) {
	return b.mgr.GetStatus(ctx, agent)
}

func (b localBackend) ListStatus(ctx context.Context) (map[string]agentsync.Record, error) {
	return b.mgr.GetAllStatus(ctx)
}

func (b localBackend) Wait(ctx context.Context, agents []string, timeout, interval time.Duration) ([]agentsync.Record, error) {
	var opts []agentsync.WaitOption
	if timeout > 0 {
		opts = append(opts, agentsync.WithTimeout(timeout))
	}
	if interval > 0 {
		opts = append(opts, agentsync.WithPollInterval(interval))
	}
	return b.mgr.WaitForMultiple(ctx, agents, opts...)
}

func (b localBackend) Cleanup(ctx context.Context, agent string) error {
	return b.mgr.Cleanup(ctx, agent)
}

func (b localBackend) Health(ctx context.Context) (agentsync.HealthReport, error) {
	return b.mgr.HealthCheck(ctx), nil
}

func (b localBackend) Close() error { return b.mgr.Close() }

type remoteBackend struct {
	c *client.Client
}

func (b remoteBackend) SetStatus(ctx context.Context, agent string, state agentsync.State, meta map[string]any, errMsg string) (agentsync.Record, error) {
	return b.c.SetStatus(ctx, client.SetRequest{Agent: agent, Status: string(state), Metadata: meta, Error: errMsg})
}

func (b remoteBackend) GetStatus(ctx context.Context, agent string) (agentsync.Record, error) {
	return b.c.GetStatus(ctx, agent)
}

func (b remoteBackend) ListStatus(ctx context.Context) (map[string]agentsync.Record, error) {
	return b.c.ListStatus(ctx)
}

func (b remoteBackend) Wait(ctx context.Context, agents []string, timeout, interval time.Duration) ([]agentsync.Record, error) {
	return b.c.Wait(ctx, client.WaitRequest{Agents: agents, Timeout: timeout, Interval: interval})
}

func (b remoteBackend) Cleanup(ctx context.Context, agent string) error {
	return b.c.Cleanup(ctx, agent)
}

func (b remoteBackend) Health(ctx context.Context) (agentsync.HealthReport, error) {
	rep, err := b.c.Health(ctx)
	if err != nil {
		return agentsync.HealthReport{}, err
	}
	return agentsync.HealthReport{Healthy: rep.Healthy, Details: rep.Details, CheckedAt: rep.CheckedAt}, nil
}

func (b remoteBackend) Close() error { return nil }

// open returns a daemon backend when --api-url is set, otherwise a manager
// over the configured store.
func (c *command) open(ctx context.Context, f APIFlags) (backend, error) {
	if f.APIUrl != "" {
		cl := client.New(client.Config{BaseURL: f.APIUrl, Timeout: f.APITimeout, Logger: c.logger})
		if !cl.IsReachable(ctx) {
			return nil, fmt.Errorf("daemon not reachable at %s - please start daemon first with 'agentsync serve'", f.APIUrl)
		}
		return remoteBackend{c: cl}, nil
	}
	cfg, err := agentsync.LoadConfig(c.global.ConfigPath)
	if err != nil {
		return nil, err
	}
	mgr, err := agentsync.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := mgr.Initialize(ctx); err != nil {
		_ = mgr.Close()
		return nil, err
	}
	return localBackend{mgr: mgr}, nil
}
