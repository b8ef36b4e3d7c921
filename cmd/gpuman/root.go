package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jupyterlab-gpuman/gpuman/internal/config"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gpuman",
		Short:         "Report which notebook kernels are using which GPUs",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
	}

	serve := newServeCmd()
	root.AddCommand(serve, newSnapshotCmd())
	// Running the bare binary serves.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

// loadConfig reads the environment, applies flag overrides, validates, and
// installs the JSON logger at the configured level.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Load()

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("base-url") {
		cfg.BaseURL, _ = flags.GetString("base-url")
	}
	if flags.Changed("gpu-backend") {
		cfg.GPUBackend, _ = flags.GetString("gpu-backend")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})))
	return cfg, nil
}

func addCommonFlags(cmd *cobra.Command) {
	cmd.Flags().String("gpu-backend", config.BackendNVML, "GPU telemetry backend: nvml or nvidia-smi (overrides GPUMAN_GPU_BACKEND)")
	cmd.Flags().String("log-level", "info", "log level: debug, info, warn, error (overrides GPUMAN_LOG_LEVEL)")
}
