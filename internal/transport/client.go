// Package transport builds the outbound HTTP clients used to talk to the
// Jupyter host: the session registry and the caller-authentication probe.
package transport

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// StatusError is returned for any non-200 answer from the host.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("transport: %s answered HTTP %d", e.URL, e.StatusCode)
}

// IsAuth reports whether the host rejected our credentials.
func (e *StatusError) IsAuth() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// NewHTTPClient returns a client for calls to the Jupyter host. token, when
// non-empty, is sent as "Authorization: token <token>".
func NewHTTPClient(timeout time.Duration, token string) *http.Client {
	// Use an explicit transport instead of http.DefaultTransport to avoid
	// sharing mutable state with other code in the process.
	base := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: timeout,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: WithLogging(slog.Default(), WithToken(token, base)),
		// The host answers redirects to its login page for anonymous callers;
		// surface those as the status they are.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// DecodeJSON decodes a 200 response body into v and closes the body. Any
// other status yields a *StatusError.
func DecodeJSON(resp *http.Response, v any) error {
	defer DrainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		se := &StatusError{StatusCode: resp.StatusCode}
		if resp.Request != nil {
			se.URL = redactedURL(resp.Request)
		}
		return se
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("transport: decode response: %w", err)
	}
	return nil
}
