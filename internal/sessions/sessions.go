// Package sessions fetches the Jupyter session list and indexes it by kernel.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"

	"github.com/jupyterlab-gpuman/gpuman/internal/config"
	"github.com/jupyterlab-gpuman/gpuman/internal/transport"
	"github.com/jupyterlab-gpuman/gpuman/pkg/model"
)

// ErrUnauthorized is returned when the host rejects the configured token.
var ErrUnauthorized = errors.New("sessions: host rejected credentials")

// Registry lists the sessions known to the Jupyter host.
type Registry interface {
	List(ctx context.Context) ([]model.Session, error)
}

// JupyterClient reads sessions from the Jupyter server REST API.
type JupyterClient struct {
	url        string
	httpClient *http.Client
}

// NewJupyterClient returns a client for <JupyterURL><BaseURL>api/sessions,
// authenticating with cfg.JupyterToken.
func NewJupyterClient(cfg config.Config) *JupyterClient {
	return &JupyterClient{
		url:        cfg.JupyterURL + path.Join("/", cfg.BaseURL, "api", "sessions"),
		httpClient: transport.NewHTTPClient(cfg.RequestTimeout, cfg.JupyterToken),
	}
}

// URL is the sessions endpoint this client calls.
func (c *JupyterClient) URL() string { return c.url }

func (c *JupyterClient) List(ctx context.Context) ([]model.Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("sessions: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sessions: request: %w", err)
	}

	var out []model.Session
	if err := transport.DecodeJSON(resp, &out); err != nil {
		var se *transport.StatusError
		if errors.As(err, &se) && se.IsAuth() {
			return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
		}
		return nil, fmt.Errorf("sessions: %w", err)
	}
	return out, nil
}

// IndexByKernel maps kernel id to the sessions bound to it, keeping the
// order in which the registry listed them. Sessions without a kernel are
// left out.
func IndexByKernel(list []model.Session) map[string][]model.Session {
	idx := make(map[string][]model.Session, len(list))
	for _, s := range list {
		id := s.KernelID()
		if id == "" {
			continue
		}
		idx[id] = append(idx[id], s)
	}
	return idx
}
