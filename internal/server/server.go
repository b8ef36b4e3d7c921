// Package server exposes the GPU query route and the operational endpoints
// on a single HTTP listener.
package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"path"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jupyterlab-gpuman/gpuman/internal/auth"
	"github.com/jupyterlab-gpuman/gpuman/internal/config"
	"github.com/jupyterlab-gpuman/gpuman/internal/errors"
	"github.com/jupyterlab-gpuman/gpuman/internal/observability"
	"github.com/jupyterlab-gpuman/gpuman/pkg/model"
)

// Querier produces the per-GPU kernel report.
type Querier interface {
	Query(ctx context.Context) ([]model.GPUEntry, error)
}

// ReadinessChecker reports whether the service is ready to answer queries.
type ReadinessChecker interface {
	IsReady() bool
}

// QueryRoute returns the path of the query endpoint under baseURL.
func QueryRoute(baseURL string) string {
	return path.Join("/", baseURL, "jupyterlab-gpuman", "get")
}

// Server exposes the query, health, readiness, metrics, and debug endpoints.
type Server struct {
	httpServer *http.Server
	querier    Querier
	readiness  ReadinessChecker
	metrics    *observability.Metrics
	errors     *errors.ErrorCollector
	listener   net.Listener
}

// New creates a server listening on cfg.Port. Pass Port=0 to let the OS pick
// a free port (useful for tests). The query route is only reachable through
// authn.
func New(cfg config.Config, querier Querier, authn auth.Authenticator, readiness ReadinessChecker, metrics *observability.Metrics, errs *errors.ErrorCollector) *Server {
	s := &Server{
		querier:   querier,
		readiness: readiness,
		metrics:   metrics,
		errors:    errs,
	}

	var query http.Handler = http.HandlerFunc(s.handleQuery)
	query = auth.Middleware(authn, metrics, query)
	if cfg.CompressResponses {
		query = gzhttp.GzipHandler(query)
	}

	mux := http.NewServeMux()
	mux.Handle("GET "+QueryRoute(cfg.BaseURL), query)
	// GET patterns also match HEAD. The query route is GET only.
	mux.HandleFunc("HEAD "+QueryRoute(cfg.BaseURL), handleGetOnly)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	if cfg.DebugEndpoints {
		// pprof handlers, only enabled when GPUMAN_DEBUG_ENDPOINTS=true
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

		mux.HandleFunc("GET /debug/errors", s.handleDebugErrors)
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           withRequestID(withAccessLog(metrics, mux)),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return s
}

// Handler returns the root handler, middleware included.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Addr is the listen address; after Start it holds the bound port.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start begins listening and serving HTTP in a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server listen: %w", err)
	}
	s.listener = ln
	// Update Addr to the actual address (important when port=0).
	s.httpServer.Addr = ln.Addr().String()

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server exited", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	entries, err := s.querier.Query(r.Context())
	if err != nil {
		if stderrors.Is(err, context.Canceled) && r.Context().Err() != nil {
			slog.Debug("Query abandoned by client", "request_id", RequestID(r.Context()))
			return
		}
		se := errors.As(err, "server")
		if s.errors != nil {
			s.errors.Report(*se)
		}
		slog.Error("GPU query failed",
			"code", se.Code,
			"component", se.Component,
			"request_id", RequestID(r.Context()),
			"error", err,
		)
		se.WriteHTTP(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(entries)
}

func handleGetOnly(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Allow", http.MethodGet)
	w.WriteHeader(http.StatusMethodNotAllowed)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ready := s.readiness.IsReady()
	if ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]bool{"ready": ready})
}

func (s *Server) handleDebugErrors(w http.ResponseWriter, _ *http.Request) {
	active := []errors.ServiceError{}
	if s.errors != nil {
		active = append(active, s.errors.GetActiveErrors()...)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(active)
}
