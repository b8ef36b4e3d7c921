package gpu

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

const (
	smiGPUQuery  = "--query-gpu=index,uuid,name,memory.total,memory.used,memory.free,utilization.gpu,utilization.memory"
	smiAppsQuery = "--query-compute-apps=gpu_uuid,pid,used_gpu_memory"
	smiFormat    = "--format=csv,noheader,nounits"
)

var errNoResults = errors.New("nvidia-smi: no results")

// SMI reads telemetry by running nvidia-smi in CSV mode. It needs no cgo and
// works where only the CLI is installed. Brand is not available this way.
type SMI struct {
	BinaryPath string
}

// NewSMI returns an SMI provider. An empty path means "nvidia-smi" on PATH.
func NewSMI(binaryPath string) *SMI {
	if strings.TrimSpace(binaryPath) == "" {
		binaryPath = "nvidia-smi"
	}
	return &SMI{BinaryPath: binaryPath}
}

func (s *SMI) Name() string { return "nvidia-smi" }

func (s *SMI) Close() error { return nil }

// Init checks that the binary can be found.
func (s *SMI) Init() error {
	if _, err := exec.LookPath(s.BinaryPath); err != nil {
		return fmt.Errorf("nvidia-smi: %w", err)
	}
	return nil
}

func (s *SMI) DeviceStats(ctx context.Context) ([]DeviceStats, error) {
	out, err := s.run(ctx, smiGPUQuery, smiFormat)
	if err != nil {
		return nil, err
	}
	return parseGPUQuery(out)
}

func (s *SMI) ComputeProcesses(ctx context.Context) ([]DeviceProcesses, error) {
	stats, err := s.DeviceStats(ctx)
	if err != nil {
		return nil, err
	}

	devs := make([]DeviceProcesses, len(stats))
	byUUID := make(map[string]*DeviceProcesses, len(stats))
	for i, st := range stats {
		devs[i] = DeviceProcesses{Index: st.Index, UUID: st.UUID, Processes: []Process{}}
		if st.UUID != "" {
			byUUID[st.UUID] = &devs[i]
		}
	}

	out, err := s.run(ctx, smiAppsQuery, smiFormat)
	if err != nil {
		if errors.Is(err, errNoResults) {
			return devs, nil
		}
		return nil, err
	}
	rows, err := parseComputeApps(out)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		dev := byUUID[r.gpuUUID]
		if dev == nil {
			continue
		}
		dev.Processes = append(dev.Processes, Process{PID: r.pid, UsedMemoryMiB: r.usedMiB})
	}
	return devs, nil
}

func (s *SMI) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, s.BinaryPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		se := strings.TrimSpace(stderr.String())
		// Some driver versions exit non-zero when nothing is running.
		if strings.Contains(strings.ToLower(se), "no running processes") {
			return nil, errNoResults
		}
		return nil, fmt.Errorf("nvidia-smi: %w: %s", err, se)
	}
	return out, nil
}

type appRow struct {
	gpuUUID string
	pid     int
	usedMiB float64
}

func parseGPUQuery(out []byte) ([]DeviceStats, error) {
	lines := readCSVLines(out)
	stats := make([]DeviceStats, 0, len(lines))
	for _, cols := range lines {
		if len(cols) < 8 {
			return nil, fmt.Errorf("nvidia-smi: gpu query: want 8 columns, got %d", len(cols))
		}
		idx, err := strconv.Atoi(cols[0])
		if err != nil {
			return nil, fmt.Errorf("nvidia-smi: gpu index %q: %w", cols[0], err)
		}
		stats = append(stats, DeviceStats{
			Index:       idx,
			UUID:        cols[1],
			Name:        cols[2],
			MemTotalMiB: parseNumber(cols[3]),
			MemUsedMiB:  parseNumber(cols[4]),
			MemFreeMiB:  parseNumber(cols[5]),
			GPUUtil:     parseNumber(cols[6]),
			MemUtil:     parseNumber(cols[7]),
		})
	}
	return stats, nil
}

func parseComputeApps(out []byte) ([]appRow, error) {
	lines := readCSVLines(out)
	rows := make([]appRow, 0, len(lines))
	for _, cols := range lines {
		if len(cols) == 1 && strings.Contains(strings.ToLower(cols[0]), "no running processes") {
			continue
		}
		if len(cols) < 3 {
			return nil, fmt.Errorf("nvidia-smi: compute apps: want 3 columns, got %d", len(cols))
		}
		pid, err := strconv.Atoi(cols[1])
		if err != nil {
			return nil, fmt.Errorf("nvidia-smi: pid %q: %w", cols[1], err)
		}
		rows = append(rows, appRow{gpuUUID: cols[0], pid: pid, usedMiB: parseNumber(cols[2])})
	}
	return rows, nil
}

// parseNumber treats "[N/A]" and "[Not Supported]" as zero.
func parseNumber(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func readCSVLines(b []byte) [][]string {
	scanner := bufio.NewScanner(bytes.NewReader(b))
	out := [][]string{}
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cols := strings.Split(line, ",")
		for i := range cols {
			cols[i] = strings.TrimSpace(cols[i])
		}
		out = append(out, cols)
	}
	return out
}
