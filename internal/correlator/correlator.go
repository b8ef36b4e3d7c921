// Package correlator joins GPU compute processes with the notebook sessions
// whose kernels own them.
package correlator

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	serrors "github.com/jupyterlab-gpuman/gpuman/internal/errors"
	"github.com/jupyterlab-gpuman/gpuman/internal/gpu"
	"github.com/jupyterlab-gpuman/gpuman/internal/kernel"
	"github.com/jupyterlab-gpuman/gpuman/internal/observability"
	"github.com/jupyterlab-gpuman/gpuman/internal/procfs"
	"github.com/jupyterlab-gpuman/gpuman/internal/sessions"
	"github.com/jupyterlab-gpuman/gpuman/pkg/model"
)

// ProcessReader resolves a PID to its command line and login uid.
type ProcessReader interface {
	Lookup(pid int) procfs.Lookup
}

// Correlator answers GPU queries. It holds no per-request state and is safe
// for concurrent use.
type Correlator struct {
	gpu      gpu.Provider
	registry sessions.Registry
	procs    ProcessReader
	metrics  *observability.Metrics
}

// New returns a Correlator over the given collaborators.
func New(provider gpu.Provider, registry sessions.Registry, procs ProcessReader, metrics *observability.Metrics) *Correlator {
	return &Correlator{
		gpu:      provider,
		registry: registry,
		procs:    procs,
		metrics:  metrics,
	}
}

// Query returns one entry per GPU, in device order. Each entry lists the
// kernel processes on that GPU that belong to an open session, plus the
// device stats. Any collaborator failure fails the whole query with a
// *errors.ServiceError; there are no partial results.
func (c *Correlator) Query(ctx context.Context) ([]model.GPUEntry, error) {
	start := time.Now()
	entries, err := c.query(ctx)
	c.metrics.QueryDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.QueryErrorsTotal.WithLabelValues(string(serrors.As(err, "correlator").Code)).Inc()
		return nil, err
	}
	return entries, nil
}

func (c *Correlator) query(ctx context.Context) ([]model.GPUEntry, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pending := sessions.Fetch(ctx, timedRegistry{next: c.registry, metrics: c.metrics})

	devices, err := c.computeProcesses(ctx)
	if err != nil {
		return nil, serrors.New(serrors.ErrGPUUnavailable, "gpu", err)
	}

	list, err := pending.Wait(ctx)
	if err != nil {
		return nil, serrors.New(serrors.ErrSessionsUnavailable, "sessions", err)
	}
	byKernel := sessions.IndexByKernel(list)

	entries := make([]model.GPUEntry, len(devices))
	for i, dev := range devices {
		kernels, err := c.matchDevice(ctx, i, dev, byKernel)
		if err != nil {
			return nil, err
		}
		entries[i].Kernels = kernels
	}

	stats, err := c.deviceStats(ctx)
	if err != nil {
		return nil, serrors.New(serrors.ErrGPUUnavailable, "gpu", err)
	}
	if len(stats) != len(devices) {
		return nil, serrors.New(serrors.ErrDeviceMismatch, "correlator",
			fmt.Errorf("correlator: process query saw %d devices, stats query saw %d", len(devices), len(stats)))
	}
	for i, st := range stats {
		entries[i].Stats = toStats(st)
	}

	// Only published for complete results; Reset drops devices that went away.
	c.metrics.KernelProcesses.Reset()
	for i, e := range entries {
		c.metrics.KernelProcesses.WithLabelValues(strconv.Itoa(i)).Set(float64(len(e.Kernels)))
	}
	return entries, nil
}

func (c *Correlator) matchDevice(ctx context.Context, ordinal int, dev gpu.DeviceProcesses, byKernel map[string][]model.Session) ([]model.KernelProcess, error) {
	kernels := []model.KernelProcess{}
	for _, p := range dev.Processes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		l := c.procs.Lookup(p.PID)
		switch {
		case l.Vanished:
			slog.Debug("GPU process exited before lookup", "pid", p.PID, "gpu", ordinal)
			c.skip(observability.SkipVanished)
			continue
		case l.Err != nil:
			return nil, serrors.New(serrors.ErrProcessLookupFailed, "procfs", l.Err)
		}

		id, ok := kernel.ExtractID(l.Identity.Cmdline)
		if !ok {
			c.skip(observability.SkipNotKernel)
			continue
		}
		bound, ok := byKernel[id]
		if !ok {
			slog.Debug("Kernel process has no session", "pid", p.PID, "kernel_id", id)
			c.skip(observability.SkipNoSession)
			continue
		}

		kernels = append(kernels, model.KernelProcess{
			ID:         id,
			UID:        l.Identity.LoginUID,
			Sessions:   bound,
			UsedMemory: p.UsedMemoryMiB,
			PID:        p.PID,
			GPU:        ordinal,
			Cmdline:    kernel.Display(l.Identity.Cmdline),
		})
	}
	return kernels, nil
}

func (c *Correlator) computeProcesses(ctx context.Context) ([]gpu.DeviceProcesses, error) {
	start := time.Now()
	defer func() {
		c.metrics.GPUQueryDuration.WithLabelValues(c.gpu.Name(), "processes").Observe(time.Since(start).Seconds())
	}()
	return c.gpu.ComputeProcesses(ctx)
}

func (c *Correlator) deviceStats(ctx context.Context) ([]gpu.DeviceStats, error) {
	start := time.Now()
	defer func() {
		c.metrics.GPUQueryDuration.WithLabelValues(c.gpu.Name(), "stats").Observe(time.Since(start).Seconds())
	}()
	return c.gpu.DeviceStats(ctx)
}

func (c *Correlator) skip(reason string) {
	c.metrics.ProcessesSkippedTotal.WithLabelValues(reason).Inc()
}

func toStats(st gpu.DeviceStats) model.GPUStats {
	return model.GPUStats{
		Name:     st.Name,
		Brand:    st.Brand,
		MemTotal: st.MemTotalMiB,
		MemFree:  st.MemFreeMiB,
		MemUsed:  st.MemUsedMiB,
		MemUnit:  model.MemUnitMiB,
		MemUtil:  st.MemUtil,
		GPUUtil:  st.GPUUtil,
	}
}

// timedRegistry records fetch latency and size for every List call.
type timedRegistry struct {
	next    sessions.Registry
	metrics *observability.Metrics
}

func (t timedRegistry) List(ctx context.Context) ([]model.Session, error) {
	start := time.Now()
	list, err := t.next.List(ctx)
	t.metrics.SessionFetchDuration.Observe(time.Since(start).Seconds())
	if err == nil {
		t.metrics.SessionsListed.Set(float64(len(list)))
	}
	return list, err
}
