// Package gpu exposes per-device GPU telemetry: the compute processes running
// on each device and the device's memory and utilization figures.
package gpu

import (
	"context"
	"fmt"

	"github.com/jupyterlab-gpuman/gpuman/internal/config"
)

const bytesPerMiB = 1024 * 1024

// Process is one compute process seen on a device.
type Process struct {
	PID           int
	UsedMemoryMiB float64
}

// DeviceProcesses lists the compute processes on one device. Index is the
// device ordinal; Processes is empty when nothing runs on it.
type DeviceProcesses struct {
	Index     int
	UUID      string
	Processes []Process
}

// DeviceStats is a point-in-time reading of one device.
type DeviceStats struct {
	Index       int
	UUID        string
	Name        string
	Brand       string
	MemTotalMiB float64
	MemFreeMiB  float64
	MemUsedMiB  float64
	MemUtil     float64
	GPUUtil     float64
}

// Provider is a source of GPU telemetry. Both queries return devices in
// ordinal order. Implementations must be safe for concurrent use.
type Provider interface {
	// Init prepares the backend. It is idempotent and may be retried after
	// a failure.
	Init() error
	ComputeProcesses(ctx context.Context) ([]DeviceProcesses, error)
	DeviceStats(ctx context.Context) ([]DeviceStats, error)
	Name() string
	Close() error
}

// New returns the provider selected by cfg.GPUBackend. The provider is not
// initialized; callers run Init (or let the first query do it).
func New(cfg config.Config) (Provider, error) {
	switch cfg.GPUBackend {
	case config.BackendNVML, "":
		return NewNVML(), nil
	case config.BackendNvidiaSMI:
		return NewSMI(cfg.NvidiaSMIPath), nil
	default:
		return nil, fmt.Errorf("gpu: unknown backend %q", cfg.GPUBackend)
	}
}

func bytesToMiB(b uint64) float64 {
	return float64(b) / bytesPerMiB
}
