package transport

import (
	"io"
	"log/slog"
	"net/http"
	"time"
)

// tokenTransport adds a Jupyter "Authorization: token <tok>" header to
// every request.
type tokenTransport struct {
	token string
	next  http.RoundTripper
}

// WithToken wraps a RoundTripper with Jupyter token authorization. An empty
// token leaves requests untouched.
func WithToken(token string, next http.RoundTripper) http.RoundTripper {
	if token == "" {
		return next
	}
	return &tokenTransport{token: token, next: next}
}

func (a *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "token "+a.token)
	return a.next.RoundTrip(req)
}

// loggingTransport logs request method/URL and response status.
type loggingTransport struct {
	logger *slog.Logger
	next   http.RoundTripper
}

// WithLogging wraps a RoundTripper with request/response logging. Successful
// calls are logged at debug level since they happen on every poll.
func WithLogging(logger *slog.Logger, next http.RoundTripper) http.RoundTripper {
	return &loggingTransport{logger: logger, next: next}
}

func (l *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := l.next.RoundTrip(req)
	elapsed := time.Since(start)

	if err != nil {
		l.logger.Error("HTTP request failed",
			"method", req.Method,
			"url", redactedURL(req),
			"duration_ms", elapsed.Milliseconds(),
			"error", err,
		)
		return resp, err
	}

	l.logger.Debug("HTTP request completed",
		"method", req.Method,
		"url", redactedURL(req),
		"status", resp.StatusCode,
		"duration_ms", elapsed.Milliseconds(),
	)
	return resp, nil
}

// redactedURL drops the query string, which may carry a caller token.
func redactedURL(req *http.Request) string {
	u := *req.URL
	u.RawQuery = ""
	return u.String()
}

// DrainAndClose reads remaining body bytes and closes, preventing connection leaks.
func DrainAndClose(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, body)
	body.Close()
}
