package sessions

import (
	"context"

	"github.com/jupyterlab-gpuman/gpuman/pkg/model"
)

// Future is a session list being fetched in the background.
type Future struct {
	done     chan struct{}
	sessions []model.Session
	err      error
}

// Fetch starts reg.List in its own goroutine and returns immediately.
// Canceling ctx aborts the fetch.
func Fetch(ctx context.Context, reg Registry) *Future {
	f := &Future{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.sessions, f.err = reg.List(ctx)
	}()
	return f
}

// Wait blocks until the fetch finishes or ctx is done.
func (f *Future) Wait(ctx context.Context) ([]model.Session, error) {
	select {
	case <-f.done:
		return f.sessions, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
