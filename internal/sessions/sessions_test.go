package sessions

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jupyterlab-gpuman/gpuman/internal/config"
	"github.com/jupyterlab-gpuman/gpuman/pkg/model"
)

const sessionsJSON = `[
  {
    "id": "s-1",
    "path": "work/train.ipynb",
    "name": "train.ipynb",
    "type": "notebook",
    "kernel": {"id": "abc123", "name": "python3", "last_activity": "2026-10-19T08:00:00Z", "execution_state": "busy", "connections": 1}
  },
  {
    "id": "s-2",
    "path": "console-1",
    "name": "",
    "type": "console",
    "kernel": {"id": "abc123", "name": "python3", "connections": 1}
  },
  {
    "id": "s-3",
    "path": "scratch.ipynb",
    "name": "scratch.ipynb",
    "type": "notebook",
    "kernel": null
  }
]`

func testConfig(url string) config.Config {
	return config.Config{
		BaseURL:        "/user/alice/",
		JupyterURL:     url,
		JupyterToken:   "srv-token",
		RequestTimeout: 5 * time.Second,
	}
}

func TestJupyterClient_List(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/user/alice/api/sessions", r.URL.Path)
		assert.Equal(t, "token srv-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(sessionsJSON))
	}))
	defer srv.Close()

	c := NewJupyterClient(testConfig(srv.URL))
	got, err := c.List(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "s-1", got[0].ID)
	assert.Equal(t, "abc123", got[0].KernelID())
	assert.Equal(t, "busy", got[0].Kernel.ExecutionState)
	assert.Equal(t, "console", got[1].Type)
	assert.Nil(t, got[2].Kernel)
}

func TestJupyterClient_RootBaseURL(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:8888")
	cfg.BaseURL = "/"
	assert.Equal(t, "http://127.0.0.1:8888/api/sessions", NewJupyterClient(cfg).URL())
}

func TestJupyterClient_AuthRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewJupyterClient(testConfig(srv.URL)).List(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestJupyterClient_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewJupyterClient(testConfig(srv.URL)).List(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnauthorized)
}

func TestJupyterClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewJupyterClient(testConfig(url)).List(context.Background())
	assert.Error(t, err)
}

func TestIndexByKernel(t *testing.T) {
	list := []model.Session{
		{ID: "s-1", Kernel: &model.Kernel{ID: "abc123"}},
		{ID: "s-2", Kernel: &model.Kernel{ID: "def456"}},
		{ID: "s-3", Kernel: &model.Kernel{ID: "abc123"}},
		{ID: "s-4"},
	}

	idx := IndexByKernel(list)
	require.Len(t, idx, 2)
	require.Len(t, idx["abc123"], 2)
	assert.Equal(t, "s-1", idx["abc123"][0].ID)
	assert.Equal(t, "s-3", idx["abc123"][1].ID)
	assert.Equal(t, "s-2", idx["def456"][0].ID)
	_, ok := idx[""]
	assert.False(t, ok)
}

type stubRegistry struct {
	list    []model.Session
	err     error
	release chan struct{}
}

func (s *stubRegistry) List(ctx context.Context) ([]model.Session, error) {
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.list, s.err
}

func TestFetch_Wait(t *testing.T) {
	reg := &stubRegistry{
		list:    []model.Session{{ID: "s-1"}},
		release: make(chan struct{}),
	}
	f := Fetch(context.Background(), reg)
	close(reg.release)

	got, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, reg.list, got)
}

func TestFetch_Error(t *testing.T) {
	boom := errors.New("boom")
	f := Fetch(context.Background(), &stubRegistry{err: boom})

	_, err := f.Wait(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestFuture_WaitHonorsContext(t *testing.T) {
	reg := &stubRegistry{release: make(chan struct{})}
	defer close(reg.release)
	f := Fetch(context.Background(), reg)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
