package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jupyterlab-gpuman/gpuman/pkg/model"
)

// mockClock is a controllable clock for testing auto-expiry.
type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func newMockClock(t time.Time) *mockClock {
	return &mockClock{now: t}
}

func (m *mockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *mockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

func TestServiceError_WrapsCause(t *testing.T) {
	cause := fmt.Errorf("nvml init failed: %s", "driver not loaded")
	se := New(ErrGPUUnavailable, "gpu", cause)

	var err error = se
	if err.Error() != "nvml init failed: driver not loaded" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if !stderrors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
	if se.Timestamp == 0 {
		t.Fatal("expected Timestamp to be set")
	}
}

func TestServiceError_NilCauseUsesCode(t *testing.T) {
	se := New(ErrDeviceMismatch, "correlator", nil)
	if se.Error() != string(ErrDeviceMismatch) {
		t.Fatalf("Error() = %q, want %q", se.Error(), ErrDeviceMismatch)
	}
}

func TestServiceError_HTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{ErrGPUUnavailable, http.StatusServiceUnavailable},
		{ErrAuthUnavailable, http.StatusServiceUnavailable},
		{ErrSessionsUnavailable, http.StatusBadGateway},
		{ErrAuthFailed, http.StatusUnauthorized},
		{ErrForbidden, http.StatusForbidden},
		{ErrProcessLookupFailed, http.StatusInternalServerError},
		{ErrDeviceMismatch, http.StatusInternalServerError},
		{ErrInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			se := &ServiceError{Code: tt.code}
			if got := se.HTTPStatus(); got != tt.want {
				t.Fatalf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAs_FindsWrappedServiceError(t *testing.T) {
	se := New(ErrSessionsUnavailable, "sessions", stderrors.New("connection refused"))
	wrapped := fmt.Errorf("correlator: %w", se)

	got := As(wrapped, "server")
	if got != se {
		t.Fatalf("As() returned %+v, want the original ServiceError", got)
	}
}

func TestAs_PlainErrorBecomesInternal(t *testing.T) {
	got := As(stderrors.New("boom"), "server")
	if got.Code != ErrInternal {
		t.Fatalf("Code = %s, want %s", got.Code, ErrInternal)
	}
	if got.Component != "server" {
		t.Fatalf("Component = %q, want server", got.Component)
	}
}

func TestErrorCollector_Report(t *testing.T) {
	clk := newMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ec := NewErrorCollector(clk)

	ec.Report(ServiceError{
		Code:      ErrGPUUnavailable,
		Message:   "nvml not initialized",
		Component: "gpu",
		Timestamp: clk.Now().UnixMilli(),
	})

	active := ec.GetActiveErrors()
	if len(active) != 1 {
		t.Fatalf("expected 1 active error, got %d", len(active))
	}
	if active[0].Code != ErrGPUUnavailable {
		t.Fatalf("expected code %s, got %s", ErrGPUUnavailable, active[0].Code)
	}
}

func TestErrorCollector_AutoExpiry(t *testing.T) {
	clk := newMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ec := NewErrorCollector(clk)

	ec.Report(ServiceError{Code: ErrSessionsUnavailable, Message: "502", Component: "sessions"})

	// Advance 6 minutes, beyond the 5-minute TTL.
	clk.Advance(6 * time.Minute)

	if active := ec.GetActiveErrors(); len(active) != 0 {
		t.Fatalf("expected 0 active errors after expiry, got %d", len(active))
	}
}

func TestErrorCollector_RefreshPreventsExpiry(t *testing.T) {
	clk := newMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ec := NewErrorCollector(clk)

	se := ServiceError{Code: ErrProcessLookupFailed, Message: "permission denied", Component: "procfs"}
	ec.Report(se)

	clk.Advance(3 * time.Minute)
	ec.Report(se)

	// 6 minutes since the first report, 3 since the refresh.
	clk.Advance(3 * time.Minute)

	if active := ec.GetActiveErrors(); len(active) != 1 {
		t.Fatalf("expected 1 active error (refreshed), got %d", len(active))
	}
}

func TestErrorCollector_DedupAndOrder(t *testing.T) {
	clk := newMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ec := NewErrorCollector(clk)

	ec.Report(ServiceError{Code: ErrSessionsUnavailable, Message: "first", Component: "sessions"})
	ec.Report(ServiceError{Code: ErrSessionsUnavailable, Message: "second", Component: "sessions"})
	ec.Report(ServiceError{Code: ErrGPUUnavailable, Message: "gpu", Component: "gpu"})

	active := ec.GetActiveErrors()
	if len(active) != 2 {
		t.Fatalf("expected 2 deduplicated errors, got %d", len(active))
	}
	if active[0].Code != ErrGPUUnavailable || active[1].Code != ErrSessionsUnavailable {
		t.Fatalf("unexpected order: %s, %s", active[0].Code, active[1].Code)
	}
	if active[1].Message != "second" {
		t.Fatalf("expected latest report to win, got %q", active[1].Message)
	}
}

func TestErrorCollector_ThreadSafe(t *testing.T) {
	clk := newMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ec := NewErrorCollector(clk)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			ec.Report(ServiceError{
				Code:      Code(fmt.Sprintf("ERR_%d", idx%5)),
				Message:   fmt.Sprintf("error %d", idx),
				Component: fmt.Sprintf("comp_%d", idx%3),
			})
			_ = ec.GetActiveErrors()
		}(i)
	}
	wg.Wait()

	if got := len(ec.GetActiveErrors()); got != 15 {
		t.Fatalf("expected 15 unique code/component pairs, got %d", got)
	}
}

func TestErrorCollector_Clear(t *testing.T) {
	clk := newMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ec := NewErrorCollector(clk)

	ec.Report(ServiceError{Code: ErrInternal, Message: "x", Component: "server"})
	ec.Clear()

	if len(ec.GetActiveErrors()) != 0 {
		t.Fatal("expected 0 errors after Clear()")
	}
}

func TestServiceError_WriteHTTP(t *testing.T) {
	rec := httptest.NewRecorder()
	New(ErrSessionsUnavailable, "sessions", stderrors.New("connection refused")).WriteHTTP(rec)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q", ct)
	}
	var body model.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Code != "SESSIONS_UNAVAILABLE" || body.Message != "connection refused" {
		t.Fatalf("unexpected body %+v", body)
	}
}
