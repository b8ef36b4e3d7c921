package auth

import (
	"log/slog"
	"net/http"
	"strconv"

	serrors "github.com/jupyterlab-gpuman/gpuman/internal/errors"
	"github.com/jupyterlab-gpuman/gpuman/internal/observability"
)

// Middleware runs authn before next. Rejected requests are answered with a
// JSON error and never reach next.
func Middleware(authn Authenticator, metrics *observability.Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := authn.Authenticate(r)
		if err == nil {
			next.ServeHTTP(w, r)
			return
		}

		se := serrors.As(err, component)
		status := se.HTTPStatus()
		if metrics != nil {
			metrics.AuthRejectionsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
		}
		if se.Code == serrors.ErrAuthUnavailable {
			slog.Warn("Caller authentication unavailable", "path", r.URL.Path, "error", se.Err)
		} else {
			slog.Debug("Caller rejected", "path", r.URL.Path, "status", status)
		}
		se.WriteHTTP(w)
	})
}
