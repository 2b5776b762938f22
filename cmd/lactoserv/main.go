package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danfuzz/lactoserv-sub005/pkg/config"
	"github.com/danfuzz/lactoserv-sub005/pkg/lifecycle"
	"github.com/danfuzz/lactoserv-sub005/pkg/system"
	"github.com/danfuzz/lactoserv-sub005/pkg/telemetry"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "lactoserv",
	Short: "Lactoserv - configuration-driven web application server",
	Long: `Lactoserv is a reverse proxy and application server driven by a
single declarative configuration file: endpoints (listening sockets
with protocol and TLS material), applications (request handlers), and
services (rate limiting, request logging, process-info files), run as
a supervised hierarchy with graceful start, in-process reload on
SIGHUP, and graceful shutdown on SIGINT/SIGTERM.`,
	Version: Version,
}

var logLevel string
var logJSON bool

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Lactoserv version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Output logs in JSON format")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
}

func baseLogger() telemetry.Logger {
	base := telemetry.NewBase(telemetry.Config{
		Level:      telemetry.Level(logLevel),
		JSONOutput: logJSON,
	})
	return telemetry.New(&base)
}

var runCmd = &cobra.Command{
	Use:   "run <config-file>",
	Short: "Run the server with the given configuration file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(args[0])
	},
}

var checkCmd = &cobra.Command{
	Use:   "check <config-file>",
	Short: "Validate a configuration file without starting anything",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := config.Load(args[0]); err != nil {
			return err
		}
		fmt.Println("configuration ok")
		return nil
	},
}

func runServer(configPath string) error {
	logger := baseLogger()
	ctx := context.Background()

	metrics := telemetry.NewMetrics()
	builder := system.NewBuilder(configPath, logger, metrics)

	initial, err := builder.MakeHierarchy(ctx, nil)
	if err != nil {
		return fmt.Errorf("building initial hierarchy: %w", err)
	}
	if err := initial.Start(ctx); err != nil {
		return fmt.Errorf("starting initial hierarchy: %w", err)
	}

	sys := system.New(builder, initial, logger)
	root, err := lifecycle.NewRoot("system", nil, sys, logger)
	if err != nil {
		return err
	}
	if err := root.Start(ctx); err != nil {
		return fmt.Errorf("starting system: %w", err)
	}
	logger.Emit("systemStarted", map[string]any{"config": configPath, "pid": os.Getpid()})

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	for sig := range signals {
		switch sig {
		case syscall.SIGHUP:
			logger.Emit("reloadRequested", nil)
			sys.RequestReload()
		case syscall.SIGINT, syscall.SIGTERM:
			logger.Emit("shutdownRequested", map[string]any{"signal": sig.String()})
			if err := root.Stop(ctx, false); err != nil {
				return fmt.Errorf("during shutdown: %w", err)
			}
			logger.Emit("systemStopped", nil)
			return nil
		}
	}
	return nil
}
