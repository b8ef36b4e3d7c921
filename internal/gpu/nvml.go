package gpu

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// nvmlLibrary is the subset of nvml.Interface used here.
type nvmlLibrary interface {
	Init() nvml.Return
	Shutdown() nvml.Return
	DeviceGetCount() (int, nvml.Return)
	DeviceGetHandleByIndex(int) (nvml.Device, nvml.Return)
}

// NVML reads telemetry through the NVML cgo bindings. The library is
// initialized once and shared by all callers until Close.
type NVML struct {
	lib nvmlLibrary

	mu          sync.Mutex
	initialized bool
}

// NewNVML returns an NVML provider bound to the system libnvidia-ml.
func NewNVML() *NVML {
	return newNVMLWithLibrary(nvml.New())
}

func newNVMLWithLibrary(lib nvmlLibrary) *NVML {
	return &NVML{lib: lib}
}

func (n *NVML) Name() string { return "nvml" }

func (n *NVML) Init() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.initialized {
		return nil
	}
	if ret := n.lib.Init(); ret != nvml.SUCCESS {
		return fmt.Errorf("nvml: init: %w", ret)
	}
	n.initialized = true
	return nil
}

func (n *NVML) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.initialized {
		return nil
	}
	n.initialized = false
	if ret := n.lib.Shutdown(); ret != nvml.SUCCESS {
		return fmt.Errorf("nvml: shutdown: %w", ret)
	}
	return nil
}

func (n *NVML) devices() ([]nvml.Device, error) {
	if err := n.Init(); err != nil {
		return nil, err
	}
	count, ret := n.lib.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return nil, fmt.Errorf("nvml: device count: %w", ret)
	}
	devs := make([]nvml.Device, 0, count)
	for i := 0; i < count; i++ {
		dev, ret := n.lib.DeviceGetHandleByIndex(i)
		if ret != nvml.SUCCESS {
			return nil, fmt.Errorf("nvml: handle for device %d: %w", i, ret)
		}
		devs = append(devs, dev)
	}
	return devs, nil
}

func (n *NVML) ComputeProcesses(ctx context.Context) ([]DeviceProcesses, error) {
	devs, err := n.devices()
	if err != nil {
		return nil, err
	}
	out := make([]DeviceProcesses, 0, len(devs))
	for i, dev := range devs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry := DeviceProcesses{Index: i, Processes: []Process{}}
		if uuid, ret := dev.GetUUID(); ret == nvml.SUCCESS {
			entry.UUID = uuid
		}
		procs, ret := dev.GetComputeRunningProcesses()
		switch {
		case ret == nvml.SUCCESS:
		case errors.Is(ret, nvml.ERROR_NOT_SUPPORTED):
			// Some boards (and MIG parents) do not report processes.
			procs = nil
		default:
			return nil, fmt.Errorf("nvml: processes on device %d: %w", i, ret)
		}
		for _, p := range procs {
			entry.Processes = append(entry.Processes, Process{
				PID:           int(p.Pid),
				UsedMemoryMiB: processMemoryMiB(p.UsedGpuMemory),
			})
		}
		out = append(out, entry)
	}
	return out, nil
}

func (n *NVML) DeviceStats(ctx context.Context) ([]DeviceStats, error) {
	devs, err := n.devices()
	if err != nil {
		return nil, err
	}
	out := make([]DeviceStats, 0, len(devs))
	for i, dev := range devs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		st := DeviceStats{Index: i}
		if uuid, ret := dev.GetUUID(); ret == nvml.SUCCESS {
			st.UUID = uuid
		}
		name, ret := dev.GetName()
		if ret != nvml.SUCCESS {
			return nil, fmt.Errorf("nvml: name of device %d: %w", i, ret)
		}
		st.Name = name
		if brand, ret := dev.GetBrand(); ret == nvml.SUCCESS {
			st.Brand = brandToString(brand)
		}
		mem, ret := dev.GetMemoryInfo()
		if ret != nvml.SUCCESS {
			return nil, fmt.Errorf("nvml: memory info of device %d: %w", i, ret)
		}
		st.MemTotalMiB = bytesToMiB(mem.Total)
		st.MemFreeMiB = bytesToMiB(mem.Free)
		st.MemUsedMiB = bytesToMiB(mem.Used)
		util, ret := dev.GetUtilizationRates()
		if ret != nvml.SUCCESS {
			return nil, fmt.Errorf("nvml: utilization of device %d: %w", i, ret)
		}
		st.GPUUtil = float64(util.Gpu)
		st.MemUtil = float64(util.Memory)
		out = append(out, st)
	}
	return out, nil
}

func brandToString(brand nvml.BrandType) string {
	brandMap := map[nvml.BrandType]string{
		nvml.BRAND_UNKNOWN:             "Unknown",
		nvml.BRAND_QUADRO:              "Quadro",
		nvml.BRAND_TESLA:               "Tesla",
		nvml.BRAND_NVS:                 "NVS",
		nvml.BRAND_GRID:                "GRID",
		nvml.BRAND_GEFORCE:             "GeForce",
		nvml.BRAND_TITAN:               "Titan",
		nvml.BRAND_NVIDIA_VAPPS:        "vApps",
		nvml.BRAND_NVIDIA_VPC:          "VPC",
		nvml.BRAND_NVIDIA_VCS:          "VCS",
		nvml.BRAND_NVIDIA_VWS:          "VWS",
		nvml.BRAND_NVIDIA_CLOUD_GAMING: "CloudGaming",
		nvml.BRAND_QUADRO_RTX:          "QuadroRTX",
		nvml.BRAND_NVIDIA_RTX:          "NvidiaRTX",
		nvml.BRAND_NVIDIA:              "Nvidia",
		nvml.BRAND_GEFORCE_RTX:         "GeForceRTX",
		nvml.BRAND_TITAN_RTX:           "TitanRTX",
	}
	if name, ok := brandMap[brand]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", brand)
}

// memoryNotAvailable is what NVML reports as UsedGpuMemory when per-process
// accounting is unavailable (e.g. under Windows WDDM or in some containers).
const memoryNotAvailable = ^uint64(0)

// processMemoryMiB reports unavailable process memory as 0, the same way the
// nvidia-smi backend reads "[N/A]".
func processMemoryMiB(b uint64) float64 {
	if b == memoryNotAvailable {
		return 0
	}
	return bytesToMiB(b)
}
