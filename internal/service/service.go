// Package service wires the GPU provider, session registry, process reader
// and HTTP server together and runs them until shutdown.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/jupyterlab-gpuman/gpuman/internal/auth"
	"github.com/jupyterlab-gpuman/gpuman/internal/config"
	"github.com/jupyterlab-gpuman/gpuman/internal/correlator"
	"github.com/jupyterlab-gpuman/gpuman/internal/errors"
	"github.com/jupyterlab-gpuman/gpuman/internal/gpu"
	"github.com/jupyterlab-gpuman/gpuman/internal/observability"
	"github.com/jupyterlab-gpuman/gpuman/internal/server"
	"github.com/jupyterlab-gpuman/gpuman/internal/sessions"
	"github.com/jupyterlab-gpuman/gpuman/pkg/model"
)

const (
	defaultInitRetry       = 10 * time.Second
	memoryPressureRatio    = 0.8
	memoryPressureInterval = 15 * time.Second
	shutdownTimeout        = 10 * time.Second
)

// Service owns the long-lived collaborators of one gpuman process.
type Service struct {
	config         config.Config
	provider       gpu.Provider
	correlator     *correlator.Correlator
	server         *server.Server
	stateMachine   *StateMachine
	errorCollector *errors.ErrorCollector
	metrics        *observability.Metrics

	// InitRetry is the delay between GPU initialization attempts.
	InitRetry time.Duration
}

// New builds a Service. The provider is shared by every request and closed
// when Run returns.
func New(
	cfg config.Config,
	provider gpu.Provider,
	registry sessions.Registry,
	procs correlator.ProcessReader,
	authn auth.Authenticator,
	metrics *observability.Metrics,
) *Service {
	errCollector := errors.NewErrorCollector(errors.RealClock{})
	s := &Service{
		config:         cfg,
		provider:       provider,
		correlator:     correlator.New(provider, registry, procs, metrics),
		stateMachine:   NewStateMachine(errors.RealClock{}),
		errorCollector: errCollector,
		metrics:        metrics,
		InitRetry:      defaultInitRetry,
	}
	s.server = server.New(cfg, s, authn, s.stateMachine, metrics, errCollector)
	return s
}

// State exposes the lifecycle state machine.
func (s *Service) State() *StateMachine { return s.stateMachine }

// Addr is the address the HTTP server is bound to once Run has started it.
func (s *Service) Addr() string { return s.server.Addr() }

// Query runs one correlation and feeds its outcome to the state machine.
// Implements server.Querier.
func (s *Service) Query(ctx context.Context) ([]model.GPUEntry, error) {
	entries, err := s.correlator.Query(ctx)
	s.stateMachine.HandleQueryResult(err)
	return entries, err
}

// Run starts the HTTP server, initializes the GPU backend (retrying until it
// succeeds), and blocks until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.server.Start(); err != nil {
		return err
	}
	slog.Info("gpuman listening",
		"addr", s.server.Addr(),
		"query_route", server.QueryRoute(s.config.BaseURL),
		"gpu_backend", s.provider.Name(),
	)

	monitor := NewMemoryPressureMonitor(memoryPressureRatio, memoryPressureInterval, func(float64) {
		s.metrics.MemoryPressureEvents.Inc()
		debug.FreeOSMemory()
	}, nil)
	go monitor.Run(ctx)

	s.initGPU(ctx)

	<-ctx.Done()
	s.stateMachine.TransitionTo(StateStopping, "shutdown requested")
	slog.Info("gpuman shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	var firstErr error
	if err := s.server.Stop(shutdownCtx); err != nil {
		firstErr = fmt.Errorf("stop server: %w", err)
	}
	if err := s.provider.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close gpu provider: %w", err)
	}
	return firstErr
}

// initGPU retries provider.Init until it succeeds or ctx is done. The server
// already answers meanwhile; queries fail with GPU_UNAVAILABLE and /readyz
// reports not ready.
func (s *Service) initGPU(ctx context.Context) {
	for {
		err := s.provider.Init()
		if err == nil {
			s.metrics.GPUInitAttempts.WithLabelValues("success").Inc()
			s.stateMachine.TransitionTo(StateReady, "gpu backend initialized")
			slog.Info("GPU backend initialized", "backend", s.provider.Name())
			return
		}

		s.metrics.GPUInitAttempts.WithLabelValues("error").Inc()
		se := errors.New(errors.ErrGPUUnavailable, "gpu", err)
		s.errorCollector.Report(*se)
		s.stateMachine.TransitionTo(StateDegraded, se.Message)
		slog.Warn("GPU backend initialization failed, retrying",
			"backend", s.provider.Name(),
			"retry_in", s.InitRetry,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.InitRetry):
		}
	}
}
