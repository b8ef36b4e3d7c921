package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// GPU telemetry backends accepted in GPUMAN_GPU_BACKEND.
const (
	BackendNVML      = "nvml"
	BackendNvidiaSMI = "nvidia-smi"
)

// Config holds all service configuration values.
type Config struct {
	Port    int    // GPUMAN_PORT, default: 8889
	BaseURL string // GPUMAN_BASE_URL, default: "/"; base path the notebook server is mounted under

	// Notebook server (host) the sessions and caller authentication come from.
	JupyterURL     string        // GPUMAN_JUPYTER_URL, default: http://127.0.0.1:8888
	JupyterToken   string        // GPUMAN_JUPYTER_TOKEN, default: ""; service token for /api/sessions
	AuthProbePath  string        // GPUMAN_AUTH_PROBE_PATH, default: /api/me
	RequestTimeout time.Duration // GPUMAN_REQUEST_TIMEOUT, default: 10s; HTTP client timeout towards the host

	// Security
	AllowUnauthenticated bool // GPUMAN_ALLOW_UNAUTHENTICATED, default: false; skips caller auth (local dev only)
	DebugEndpoints       bool // GPUMAN_DEBUG_ENDPOINTS, default: false; enables pprof and /debug/errors

	// GPU and process telemetry
	GPUBackend    string // GPUMAN_GPU_BACKEND, default: "nvml"
	NvidiaSMIPath string // GPUMAN_NVIDIA_SMI_PATH, default: "nvidia-smi"
	ProcRoot      string // GPUMAN_PROC_ROOT, default: "/proc"

	LogLevel          string // GPUMAN_LOG_LEVEL, default: "info"
	CompressResponses bool   // GPUMAN_COMPRESS_RESPONSES, default: true
}

// Load reads configuration from environment variables and returns a Config
// with defaults applied for any unset values.
func Load() Config {
	cfg := Config{
		Port:           parseInt("GPUMAN_PORT", 8889),
		BaseURL:        envOrDefault("GPUMAN_BASE_URL", "/"),
		JupyterURL:     strings.TrimRight(envOrDefault("GPUMAN_JUPYTER_URL", "http://127.0.0.1:8888"), "/"),
		JupyterToken:   os.Getenv("GPUMAN_JUPYTER_TOKEN"),
		AuthProbePath:  envOrDefault("GPUMAN_AUTH_PROBE_PATH", "/api/me"),
		RequestTimeout: parseDuration("GPUMAN_REQUEST_TIMEOUT", 10*time.Second),
	}

	cfg.AllowUnauthenticated = parseBool("GPUMAN_ALLOW_UNAUTHENTICATED", false)
	cfg.DebugEndpoints = parseBool("GPUMAN_DEBUG_ENDPOINTS", false)

	cfg.GPUBackend = strings.ToLower(envOrDefault("GPUMAN_GPU_BACKEND", BackendNVML))
	cfg.NvidiaSMIPath = envOrDefault("GPUMAN_NVIDIA_SMI_PATH", "nvidia-smi")
	cfg.ProcRoot = envOrDefault("GPUMAN_PROC_ROOT", "/proc")

	cfg.LogLevel = strings.ToLower(envOrDefault("GPUMAN_LOG_LEVEL", "info"))
	cfg.CompressResponses = parseBool("GPUMAN_COMPRESS_RESPONSES", true)

	return cfg
}

// SlogLevel maps LogLevel to a slog.Level. Unknown values map to Info;
// Validate rejects them before this is reached in main.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// parseDuration tries time.ParseDuration first, then falls back to treating
// the value as integer seconds.
func parseDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}

	d, err := time.ParseDuration(v)
	if err == nil {
		return d
	}

	// Fallback: treat as integer seconds
	secs, err := strconv.Atoi(v)
	if err == nil {
		return time.Duration(secs) * time.Second
	}

	return defaultVal
}

func parseBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func parseInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
