package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := buildRoot(newCommand(&GlobalFlags{}))
	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// buildRoot wires every subcommand onto the root command.
func buildRoot(c *command) *cobra.Command {
	root := createRootCommand(c.global)
	root.AddCommand(
		createInitCommand(c),
		createSetCommand(c, &SetFlags{}),
		createGetCommand(c, &GetFlags{}),
		createListCommand(c, &ListFlags{}),
		createWaitCommand(c, &WaitFlags{}),
		createCleanupCommand(c, &CleanupFlags{}),
		createHealthCommand(c, &HealthFlags{}),
		createServeCommand(c, &ServeFlags{}),
		createConfigCommand(c, &ConfigInitFlags{}),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "agentsync",
		Short: "Status synchronization for multi-agent pipelines",
		Long: `agentsync records the status of pipeline agents in a shared store and
lets downstream agents block until upstream agents finish.

Examples:
  agentsync set architect in_progress
  agentsync wait product architect --timeout=10m
  agentsync list
  agentsync serve                                  # Start daemon
  agentsync list --api-url=http://remote:8090/api  # Remote status`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

func addAPIFlags(cmd *cobra.Command, f *APIFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "remote daemon URL (e.g. http://host:8090/api)")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
}

func createInitCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the status store and check it is writable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Init(cmd.Context())
		},
	}
}

func createSetCommand(c *command, f *SetFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set AGENT STATUS",
		Short: "Record an agent's status",
		Long: `Record the status of an agent. STATUS is one of pending, in_progress,
complete or failed.

Examples:
  agentsync set coder in_progress --meta step=tests
  agentsync set coder failed --error "compilation failed"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Agent, f.Status = args[0], args[1]
			return c.Set(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringArrayVar(&f.Meta, "meta", nil, "metadata key=value (repeatable)")
	cmd.Flags().StringVar(&f.ErrorMsg, "error", "", "error message (for failed)")
	addAPIFlags(cmd, &f.APIFlags)
	return cmd
}

func createGetCommand(c *command, f *GetFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get AGENT",
		Short: "Show an agent's current status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Agent = args[0]
			return c.Get(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVarP(&f.Output, "output", "o", "json", "output format: json|yaml")
	addAPIFlags(cmd, &f.APIFlags)
	return cmd
}

func createListCommand(c *command, f *ListFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the status of every agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.List(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVarP(&f.Output, "output", "o", "table", "output format: table|json|yaml")
	addAPIFlags(cmd, &f.APIFlags)
	return cmd
}

func createWaitCommand(c *command, f *WaitFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wait AGENT...",
		Short: "Block until agents complete",
		Long: `Block until every named agent reaches complete. Exits non-zero as soon as
one of them fails or the timeout elapses.

Examples:
  agentsync wait product architect
  agentsync wait coder --timeout=30m --interval=2s`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Agents = args
			return c.Wait(cmd.Context(), *f)
		},
	}
	cmd.Flags().DurationVar(&f.Timeout, "timeout", 0, "maximum wait per agent (default from config)")
	cmd.Flags().DurationVar(&f.Interval, "interval", 0, "poll interval (default from config)")
	addAPIFlags(cmd, &f.APIFlags)
	return cmd
}

func createCleanupCommand(c *command, f *CleanupFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup [AGENT]",
		Short: "Delete an agent's status, or all statuses",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Agent = ""
			if len(args) == 1 {
				f.Agent = args[0]
			}
			return c.Cleanup(cmd.Context(), *f)
		},
	}
	addAPIFlags(cmd, &f.APIFlags)
	return cmd
}

func createHealthCommand(c *command, f *HealthFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the status store is accessible and writable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Health(cmd.Context(), *f)
		},
	}
	addAPIFlags(cmd, &f.APIFlags)
	return cmd
}

func createServeCommand(c *command, f *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agentsync daemon",
		Long: `Serve the HTTP API, websocket event stream and Prometheus metrics over
the configured store.

Examples:
  agentsync serve --config=agentsync.toml
  agentsync serve --listen=:9000 --base-path=/sync`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Serve(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Listen, "listen", "", "listen address (overrides server.listen)")
	cmd.Flags().StringVar(&f.BasePath, "base-path", "", "API base path (overrides server.base_path)")
	return cmd
}

func createConfigCommand(c *command, f *ConfigInitFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	initCmd := &cobra.Command{
		Use:   "init [PATH]",
		Short: "Write the default configuration (agentsync.toml)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Path = ""
			if len(args) == 1 {
				f.Path = args[0]
			}
			return c.ConfigInit(*f)
		},
	}
	initCmd.Flags().BoolVar(&f.Force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)
	return cmd
}
