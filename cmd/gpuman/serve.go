package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jupyterlab-gpuman/gpuman/internal/auth"
	"github.com/jupyterlab-gpuman/gpuman/internal/gpu"
	"github.com/jupyterlab-gpuman/gpuman/internal/observability"
	"github.com/jupyterlab-gpuman/gpuman/internal/procfs"
	"github.com/jupyterlab-gpuman/gpuman/internal/service"
	"github.com/jupyterlab-gpuman/gpuman/internal/sessions"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the GPU query endpoint next to a Jupyter server",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().Int("port", 8889, "listen port (overrides GPUMAN_PORT)")
	cmd.Flags().String("base-url", "/", "Jupyter base URL the query route is mounted under (overrides GPUMAN_BASE_URL)")
	addCommonFlags(cmd)
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	// 1. Load and validate config.
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// 2. Create context with signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		slog.Info("shutdown signal received", "signal", sig)
		cancel()
	}()

	slog.Info("gpuman starting",
		"version", version,
		"port", cfg.Port,
		"base_url", cfg.BaseURL,
		"jupyter_url", cfg.JupyterURL,
		"gpu_backend", cfg.GPUBackend,
		"proc_root", cfg.ProcRoot,
	)
	if cfg.AllowUnauthenticated {
		slog.Warn("caller authentication is disabled; anyone who can reach the port can read GPU and process data")
	}

	// 3. Build collaborators.
	provider, err := gpu.New(cfg)
	if err != nil {
		return err
	}
	metrics := observability.NewMetrics()
	svc := service.New(cfg,
		provider,
		sessions.NewJupyterClient(cfg),
		procfs.NewOSReader(cfg.ProcRoot),
		auth.New(cfg),
		metrics,
	)

	// 4. Run until a signal arrives.
	if err := svc.Run(ctx); err != nil {
		return err
	}
	slog.Info("gpuman stopped")
	return nil
}
