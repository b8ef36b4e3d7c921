package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jupyterlab-gpuman/gpuman/internal/correlator"
	"github.com/jupyterlab-gpuman/gpuman/internal/gpu"
	"github.com/jupyterlab-gpuman/gpuman/internal/observability"
	"github.com/jupyterlab-gpuman/gpuman/internal/procfs"
	"github.com/jupyterlab-gpuman/gpuman/internal/sessions"
)

func newSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Run one query and print the JSON report to stdout",
		Long: `Run one GPU/kernel correlation against the local GPUs and the configured
Jupyter server, without starting the HTTP listener or checking caller
credentials. Useful to debug a host from a shell.`,
		Args: cobra.NoArgs,
		RunE: runSnapshot,
	}
	cmd.Flags().String("base-url", "/", "Jupyter base URL (overrides GPUMAN_BASE_URL)")
	cmd.Flags().Bool("compact", false, "print compact JSON")
	addCommonFlags(cmd)
	return cmd
}

func runSnapshot(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	provider, err := gpu.New(cfg)
	if err != nil {
		return err
	}
	if err := provider.Init(); err != nil {
		return err
	}
	defer closeProvider(provider)

	c := correlator.New(provider,
		sessions.NewJupyterClient(cfg),
		procfs.NewOSReader(cfg.ProcRoot),
		observability.NewMetrics(),
	)

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*cfg.RequestTimeout)
	defer cancel()
	entries, err := c.Query(ctx)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	if compact, _ := cmd.Flags().GetBool("compact"); !compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(entries)
}

func closeProvider(p gpu.Provider) {
	if err := p.Close(); err != nil {
		slog.Warn("Failed to close GPU backend", "backend", p.Name(), "error", err)
	}
}
