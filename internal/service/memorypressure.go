package service

import (
	"context"
	"log/slog"
	"math"
	"runtime"
	"runtime/debug"
	"time"
)

// MemStatsProvider abstracts runtime.MemStats reading for testability.
type MemStatsProvider interface {
	ReadMemStats(m *runtime.MemStats)
}

// runtimeMemStatsProvider uses the real runtime.ReadMemStats.
type runtimeMemStatsProvider struct{}

func (runtimeMemStatsProvider) ReadMemStats(m *runtime.MemStats) {
	runtime.ReadMemStats(m)
}

// MemoryPressureMonitor polls runtime.MemStats and calls onPressure when
// usage exceeds threshold * GOMEMLIMIT. GOMEMLIMIT is set at startup by
// automemlimit from the cgroup limit.
type MemoryPressureMonitor struct {
	threshold  float64 // 0.8 = 80%
	interval   time.Duration
	onPressure func(ratio float64)
	provider   MemStatsProvider
}

// NewMemoryPressureMonitor creates a monitor. If provider is nil, the real
// runtime.ReadMemStats is used.
func NewMemoryPressureMonitor(threshold float64, interval time.Duration, onPressure func(ratio float64), provider MemStatsProvider) *MemoryPressureMonitor {
	if provider == nil {
		provider = runtimeMemStatsProvider{}
	}
	return &MemoryPressureMonitor{
		threshold:  threshold,
		interval:   interval,
		onPressure: onPressure,
		provider:   provider,
	}
}

// Run polls until ctx is done.
func (m *MemoryPressureMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ratio := m.Ratio(); ratio > m.threshold {
				slog.Warn("Memory pressure detected", "ratio", ratio, "threshold", m.threshold)
				m.onPressure(ratio)
			}
		}
	}
}

// Ratio returns current usage relative to GOMEMLIMIT, or 0 when no limit
// is set.
func (m *MemoryPressureMonitor) Ratio() float64 {
	limit := debug.SetMemoryLimit(-1) // read current limit without changing it
	if limit <= 0 || limit == math.MaxInt64 {
		return 0
	}

	var stats runtime.MemStats
	m.provider.ReadMemStats(&stats)

	usage := stats.Sys - stats.HeapReleased
	return float64(usage) / float64(limit)
}

