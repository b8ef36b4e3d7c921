package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks that the Config contains valid values.
// Returns an error describing the first invalid field found.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: Port must be 1-65535, got %d", c.Port)
	}

	if !strings.HasPrefix(c.BaseURL, "/") {
		return fmt.Errorf("config: GPUMAN_BASE_URL must start with / (got %q)", c.BaseURL)
	}

	if c.JupyterURL == "" {
		return fmt.Errorf("config: GPUMAN_JUPYTER_URL is required")
	}
	u, err := url.Parse(c.JupyterURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: GPUMAN_JUPYTER_URL must be an http(s) URL, got %q", c.JupyterURL)
	}

	if !c.AllowUnauthenticated && !strings.HasPrefix(c.AuthProbePath, "/") {
		return fmt.Errorf("config: GPUMAN_AUTH_PROBE_PATH must start with / (got %q)", c.AuthProbePath)
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("config: RequestTimeout must be > 0, got %v", c.RequestTimeout)
	}

	switch c.GPUBackend {
	case BackendNVML, BackendNvidiaSMI:
	default:
		return fmt.Errorf("config: GPUMAN_GPU_BACKEND must be %q or %q, got %q", BackendNVML, BackendNvidiaSMI, c.GPUBackend)
	}

	if c.ProcRoot == "" {
		return fmt.Errorf("config: GPUMAN_PROC_ROOT is required")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config: GPUMAN_LOG_LEVEL must be one of debug, info, warn, error, got %q", c.LogLevel)
	}

	return nil
}
