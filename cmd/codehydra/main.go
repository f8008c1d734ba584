package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stefanhoelzl/codehydra-sub004/internal/config"
	"github.com/stefanhoelzl/codehydra-sub004/internal/history/factory"
	"github.com/stefanhoelzl/codehydra-sub004/internal/metrics"
	"github.com/stefanhoelzl/codehydra-sub004/internal/server"
	"github.com/stefanhoelzl/codehydra-sub004/internal/workspace"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and wires all subcommands.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	startFlags := &StartFlags{}
	stopFlags := &StopFlags{}
	statusFlags := &StatusFlags{}
	cleanupFlags := &CleanupFlags{}
	daemonFlags := &DaemonFlags{}

	cmd := command{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createDaemonCommand(globalFlags, daemonFlags),
		createStartCommand(cmd, startFlags),
		createStopCommand(cmd, stopFlags),
		createStatusCommand(cmd, statusFlags),
		createCleanupCommand(cmd, cleanupFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "codehydra",
		Short: "Workspace process supervisor for coding-agent servers",
		Long: `Codehydra gives each git worktree its own coding-agent server process,
with port allocation, health-check gating and clean shutdown.

Examples:
  codehydra daemon                                   # Run the supervisor daemon
  codehydra start --path=/repos/app/worktrees/fix1   # Start a workspace server
  codehydra status                                   # List running servers
  codehydra stop --path=/repos/app --project         # Stop everything under a project`,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

func createStartCommand(cmd command, flags *StartFlags) *cobra.Command {
	c := &cobra.Command{
		Use:   "start",
		Short: "Start the agent server for a workspace",
		Long: `Start the agent server for a workspace path, or return the port of the
already running one. Blocks until the server answers its health check.

Examples:
  codehydra start --path=/repos/app/worktrees/fix1
  codehydra start --path=. --api-url=http://127.0.0.1:8700`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return cmd.Start(*flags)
		},
	}
	c.Flags().StringVar(&flags.Path, "path", "", "workspace path (required)")
	c.Flags().StringVar(&flags.APIUrl, "api-url", "", "daemon URL (default http://127.0.0.1:8700)")
	c.Flags().DurationVar(&flags.APITimeout, "api-timeout", 60*time.Second, "request timeout")
	if err := c.MarkFlagRequired("path"); err != nil {
		panic(err)
	}
	return c
}

func createStopCommand(cmd command, flags *StopFlags) *cobra.Command {
	c := &cobra.Command{
		Use:   "stop",
		Short: "Stop a workspace server",
		Long: `Stop the agent server for a workspace, or with --project stop every
workspace server whose path lies under the given project directory.

Examples:
  codehydra stop --path=/repos/app/worktrees/fix1
  codehydra stop --path=/repos/app --project`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return cmd.Stop(*flags)
		},
	}
	c.Flags().StringVar(&flags.Path, "path", "", "workspace or project path (required)")
	c.Flags().BoolVar(&flags.Project, "project", false, "treat path as a project and stop all workspaces under it")
	c.Flags().StringVar(&flags.APIUrl, "api-url", "", "daemon URL (default http://127.0.0.1:8700)")
	c.Flags().DurationVar(&flags.APITimeout, "api-timeout", 30*time.Second, "request timeout")
	if err := c.MarkFlagRequired("path"); err != nil {
		panic(err)
	}
	return c
}

func createStatusCommand(cmd command, flags *StatusFlags) *cobra.Command {
	c := &cobra.Command{
		Use:   "status",
		Short: "List running workspace servers",
		RunE: func(_ *cobra.Command, _ []string) error {
			return cmd.Status(*flags)
		},
	}
	c.Flags().StringVar(&flags.APIUrl, "api-url", "", "daemon URL (default http://127.0.0.1:8700)")
	c.Flags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	return c
}

func createCleanupCommand(cmd command, flags *CleanupFlags) *cobra.Command {
	c := &cobra.Command{
		Use:   "cleanup",
		Short: "Drop ports-file entries whose server is gone",
		RunE: func(_ *cobra.Command, _ []string) error {
			return cmd.Cleanup(*flags)
		},
	}
	c.Flags().StringVar(&flags.APIUrl, "api-url", "", "daemon URL (default http://127.0.0.1:8700)")
	c.Flags().DurationVar(&flags.APITimeout, "api-timeout", 30*time.Second, "request timeout")
	return c
}

func createDaemonCommand(globalFlags *GlobalFlags, flags *DaemonFlags) *cobra.Command {
	c := &cobra.Command{
		Use:   "daemon [config.toml]",
		Short: "Run the codehydra supervisor daemon",
		Long: `Run the supervisor daemon. All settings come from the TOML config file;
with no config, built-in defaults apply (listen on 127.0.0.1:8700, data
under the user config dir).

Examples:
  codehydra daemon
  codehydra daemon config.toml
  codehydra daemon --daemonize --logfile=/var/log/codehydra.log`,
		RunE: func(_ *cobra.Command, args []string) error {
			flags.ConfigPath = globalFlags.ConfigPath
			if len(args) > 0 {
				flags.ConfigPath = args[0]
			}
			return runDaemonCommand(flags)
		},
	}
	c.Flags().BoolVar(&flags.Daemonize, "daemonize", false, "run in the background")
	c.Flags().StringVar(&flags.PidFile, "pidfile", "", "write the daemon PID to this file")
	c.Flags().StringVar(&flags.LogFile, "logfile", "", "redirect daemon logs to file")
	return c
}

func runDaemonCommand(flags *DaemonFlags) error {
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	if flags.Daemonize {
		return daemonize(flags.PidFile, flags.LogFile)
	}

	log := cfg.Log.NewSlogger()
	slog.SetDefault(log)

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir %s: %w", cfg.DataDir, err)
	}

	if err := metrics.Register(nil); err != nil {
		log.Warn("failed to register metrics", "error", err)
	}

	mgr := workspace.New(cfg.ManagerConfig())

	sink, err := factory.NewSinkFromDSN(cfg.HistoryDSN)
	if err != nil {
		log.Warn("history sink disabled", "dsn", cfg.HistoryDSN, "error", err)
	} else {
		mgr.SetHistorySinks(sink)
	}

	var sampler *metrics.Sampler
	if cfg.SampleInterval > 0 {
		sampler = metrics.NewSampler(cfg.SampleInterval)
		if err := metrics.RegisterSamplerCollectors(nil); err != nil {
			log.Warn("failed to register sampler collectors", "error", err)
		}
		mgr.SetSampler(sampler)
		go sampler.Run()
	}

	// Forget servers that died while the daemon was down.
	if err := mgr.CleanupStaleEntries(context.Background()); err != nil {
		log.Warn("stale entry cleanup failed", "error", err)
	}

	srv, err := server.NewServer(cfg.Listen, cfg.BasePath, mgr)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}
	log.Info("codehydra daemon listening", "addr", cfg.Listen, "base_path", cfg.BasePath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	if sampler != nil {
		sampler.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	mgr.Dispose(shutdownCtx)
	_ = removePidFile(flags.PidFile)
	return srv.Close()
}
