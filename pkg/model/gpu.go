package model

// MemUnitMiB is the unit reported for all device and process memory figures.
const MemUnitMiB = "MiB"

// GPUEntry is one element of the query response. Entries are ordered by
// device ordinal: the entry at index i describes GPU i.
type GPUEntry struct {
	Kernels []KernelProcess `json:"kernels"`
	Stats   GPUStats        `json:"stats"`
}

// KernelProcess is a GPU compute process that was matched to a notebook
// kernel with at least one open session.
type KernelProcess struct {
	ID         string    `json:"id"`
	UID        int64     `json:"uid"`
	Sessions   []Session `json:"sessions"`
	UsedMemory float64   `json:"used_memory"`
	PID        int       `json:"pid"`
	GPU        int       `json:"gpu"`
	Cmdline    string    `json:"cmdline"`
}

// GPUStats is the device-level snapshot attached to each GPUEntry.
type GPUStats struct {
	Name     string  `json:"name"`
	Brand    string  `json:"brand"`
	MemTotal float64 `json:"mem_total"`
	MemFree  float64 `json:"mem_free"`
	MemUsed  float64 `json:"mem_used"`
	MemUnit  string  `json:"mem_unit"`
	MemUtil  float64 `json:"mem_util"`
	GPUUtil  float64 `json:"gpu_util"`
}
