// Command rdbtund runs the host-resident packet tunnel: it captures L2
// frames on a physical interface, firewalls and stages them, commits them to
// a relational store, and polls that store for frames addressed to this
// host to re-inject.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dradis-net/rdbtunnel/internal/config"
	"github.com/dradis-net/rdbtunnel/internal/orchestrator"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := newRootCmd().Execute(); err != nil {
		slog.Error("exiting", "error", err)
		os.Exit(1)
	}
}

// rootFlags are the command-line overrides layered on top of the
// environment-driven config; a flag left at its default does not override.
type rootFlags struct {
	iface     string
	dbBackend string
	debug     bool
}

func newRootCmd() *cobra.Command {
	var flags rootFlags
	root := &cobra.Command{
		Use:           "rdbtund",
		Short:         "Tunnel L2 frames through a relational database",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, flags)
		},
	}
	root.Flags().StringVar(&flags.iface, "iface", "", "Capture interface (bypasses interactive selection)")
	root.Flags().StringVar(&flags.dbBackend, "db-backend", "", "Storage backend: sqlite or postgres")
	root.Flags().BoolVar(&flags.debug, "debug", false, "Enable verbose debug logging")
	return root
}

// run bootstraps the orchestrator and blocks until shutdown. Exit code 0
// means a graceful shutdown (signal received); a returned error means a
// configuration or runtime failure, mapped to exit code 1 by main.
func run(cmd *cobra.Command, flags rootFlags) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cmd.Flags().Changed("iface") {
		cfg.NetworkInterface = flags.iface
	}
	if cmd.Flags().Changed("db-backend") {
		cfg.DBBackend = flags.dbBackend
	}
	if cmd.Flags().Changed("debug") {
		cfg.Debug = flags.debug
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Debug {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	slog.Info("starting rdbtunnel", "db_backend", cfg.DBBackend, "listen", cfg.ListenAddress())

	app, err := orchestrator.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}

	return app.Run(ctx)
}
