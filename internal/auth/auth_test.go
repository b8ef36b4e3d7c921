package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jupyterlab-gpuman/gpuman/internal/config"
	serrors "github.com/jupyterlab-gpuman/gpuman/internal/errors"
	"github.com/jupyterlab-gpuman/gpuman/internal/observability"
	"github.com/jupyterlab-gpuman/gpuman/pkg/model"
)

// fakeHost accepts "token good" headers, the "good" token query param and
// a "session=good" cookie. "token banned" gets a 403.
func fakeHost(t *testing.T) (*httptest.Server, *int32) {
	t.Helper()
	var probes int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&probes, 1)
		assert.Equal(t, "/user/alice/api/me", r.URL.Path)

		if r.Header.Get("Authorization") == "token banned" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		ok := r.Header.Get("Authorization") == "token good" || r.URL.Query().Get("token") == "good"
		if c, err := r.Cookie("session"); err == nil && c.Value == "good" {
			ok = true
		}
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"identity":{"username":"alice"}}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &probes
}

func delegatingFor(url string) *Delegating {
	return NewDelegating(config.Config{
		BaseURL:        "/user/alice/",
		JupyterURL:     url,
		AuthProbePath:  "/api/me",
		RequestTimeout: 5 * time.Second,
	})
}

func TestDelegating_AcceptsForwardedCredentials(t *testing.T) {
	srv, _ := fakeHost(t)
	d := delegatingFor(srv.URL)

	byHeader := httptest.NewRequest(http.MethodGet, "/jupyterlab-gpuman/get", nil)
	byHeader.Header.Set("Authorization", "token good")
	assert.NoError(t, d.Authenticate(byHeader))

	byQuery := httptest.NewRequest(http.MethodGet, "/jupyterlab-gpuman/get?token=good", nil)
	assert.NoError(t, d.Authenticate(byQuery))

	byCookie := httptest.NewRequest(http.MethodGet, "/jupyterlab-gpuman/get", nil)
	byCookie.AddCookie(&http.Cookie{Name: "session", Value: "good"})
	assert.NoError(t, d.Authenticate(byCookie))
}

func TestDelegating_Rejects(t *testing.T) {
	srv, probes := fakeHost(t)
	d := delegatingFor(srv.URL)

	anonymous := httptest.NewRequest(http.MethodGet, "/jupyterlab-gpuman/get", nil)
	err := d.Authenticate(anonymous)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, serrors.As(err, "test").HTTPStatus())
	assert.Equal(t, int32(0), atomic.LoadInt32(probes), "no credentials means no probe")

	bad := httptest.NewRequest(http.MethodGet, "/jupyterlab-gpuman/get", nil)
	bad.Header.Set("Authorization", "token wrong")
	err = d.Authenticate(bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	banned := httptest.NewRequest(http.MethodGet, "/jupyterlab-gpuman/get", nil)
	banned.Header.Set("Authorization", "token banned")
	err = d.Authenticate(banned)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, http.StatusForbidden, serrors.As(err, "test").HTTPStatus())
}

func TestDelegating_RedirectIsUnauthenticated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/login?next=/api/me", http.StatusFound)
	}))
	defer srv.Close()

	r := httptest.NewRequest(http.MethodGet, "/jupyterlab-gpuman/get", nil)
	r.AddCookie(&http.Cookie{Name: "session", Value: "stale"})
	err := delegatingFor(srv.URL).Authenticate(r)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestDelegating_HostDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	r := httptest.NewRequest(http.MethodGet, "/jupyterlab-gpuman/get", nil)
	r.Header.Set("Authorization", "token good")
	err := delegatingFor(url).Authenticate(r)
	require.Error(t, err)
	se := serrors.As(err, "test")
	assert.Equal(t, serrors.ErrAuthUnavailable, se.Code)
	assert.Equal(t, http.StatusServiceUnavailable, se.HTTPStatus())
}

func TestNew_SelectsAuthenticator(t *testing.T) {
	_, ok := New(config.Config{AllowUnauthenticated: true}).(Disabled)
	assert.True(t, ok)

	d, ok := New(config.Config{JupyterURL: "http://127.0.0.1:8888", BaseURL: "/", AuthProbePath: "/api/me"}).(*Delegating)
	require.True(t, ok)
	assert.Equal(t, "http://127.0.0.1:8888/api/me", d.ProbeURL())
}

func TestMiddleware_RejectsBeforeHandler(t *testing.T) {
	srv, _ := fakeHost(t)
	metrics := observability.NewMetrics()

	var touched int32
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&touched, 1)
		w.WriteHeader(http.StatusOK)
	})
	h := Middleware(delegatingFor(srv.URL), metrics, next)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jupyterlab-gpuman/get", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, int32(0), atomic.LoadInt32(&touched))
	var body model.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "AUTH_FAILED", body.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.AuthRejectionsTotal.WithLabelValues("401")))

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/jupyterlab-gpuman/get", nil)
	req.Header.Set("Authorization", "token good")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(1), atomic.LoadInt32(&touched))
}

func TestMiddleware_Disabled(t *testing.T) {
	h := Middleware(Disabled{}, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
