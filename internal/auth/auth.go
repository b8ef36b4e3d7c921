// Package auth decides whether a caller may query GPU data. Authentication
// is delegated to the Jupyter host the service is attached to.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"path"

	"github.com/jupyterlab-gpuman/gpuman/internal/config"
	serrors "github.com/jupyterlab-gpuman/gpuman/internal/errors"
	"github.com/jupyterlab-gpuman/gpuman/internal/transport"
)

const component = "auth"

var (
	// ErrUnauthenticated means the host did not recognize the caller.
	ErrUnauthenticated = errors.New("auth: caller is not authenticated")
	// ErrForbidden means the host recognized the caller but refused access.
	ErrForbidden = errors.New("auth: caller is not permitted")
)

// Authenticator accepts or rejects an incoming request. Rejections are
// *errors.ServiceError values carrying the status to answer with.
type Authenticator interface {
	Authenticate(r *http.Request) error
}

// Delegating replays the caller's credentials against a host endpoint
// that requires a logged-in user, and accepts the caller iff the host
// answers 200.
type Delegating struct {
	probeURL   string
	httpClient *http.Client
}

// NewDelegating probes <JupyterURL><BaseURL><AuthProbePath>. The probe
// client carries no credentials of its own.
func NewDelegating(cfg config.Config) *Delegating {
	return &Delegating{
		probeURL:   cfg.JupyterURL + path.Join("/", cfg.BaseURL, cfg.AuthProbePath),
		httpClient: transport.NewHTTPClient(cfg.RequestTimeout, ""),
	}
}

// ProbeURL is the endpoint the caller's credentials are replayed against.
func (d *Delegating) ProbeURL() string { return d.probeURL }

func (d *Delegating) Authenticate(r *http.Request) error {
	authz := r.Header.Get("Authorization")
	cookies := r.Cookies()
	token := r.URL.Query().Get("token")
	if authz == "" && len(cookies) == 0 && token == "" {
		return serrors.New(serrors.ErrAuthFailed, component, ErrUnauthenticated)
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, d.probeURL, nil)
	if err != nil {
		return serrors.New(serrors.ErrInternal, component, fmt.Errorf("auth: build probe: %w", err))
	}
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	if token != "" {
		q := req.URL.Query()
		q.Set("token", token)
		req.URL.RawQuery = q.Encode()
	}
	// Jupyter only demands an XSRF token on unsafe methods.
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return serrors.New(serrors.ErrAuthUnavailable, component, fmt.Errorf("auth: probe: %w", err))
	}
	transport.DrainAndClose(resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusForbidden:
		return serrors.New(serrors.ErrForbidden, component, ErrForbidden)
	case resp.StatusCode >= 500:
		return serrors.New(serrors.ErrAuthUnavailable, component,
			fmt.Errorf("auth: probe answered HTTP %d", resp.StatusCode))
	default:
		// 401, and 3xx redirects to the login page.
		return serrors.New(serrors.ErrAuthFailed, component, ErrUnauthenticated)
	}
}

// Disabled accepts every request. It is only wired in when
// GPUMAN_ALLOW_UNAUTHENTICATED is set.
type Disabled struct{}

func (Disabled) Authenticate(*http.Request) error { return nil }

// New returns the authenticator selected by cfg.
func New(cfg config.Config) Authenticator {
	if cfg.AllowUnauthenticated {
		return Disabled{}
	}
	return NewDelegating(cfg)
}
