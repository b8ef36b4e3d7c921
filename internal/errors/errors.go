package errors

import (
	stderrors "errors"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Code classifies a failed query for callers and operators.
type Code string

// Service error codes returned in error bodies and tracked by the ErrorCollector.
const (
	ErrGPUUnavailable      Code = "GPU_UNAVAILABLE"
	ErrSessionsUnavailable Code = "SESSIONS_UNAVAILABLE"
	ErrProcessLookupFailed Code = "PROCESS_LOOKUP_FAILED"
	ErrDeviceMismatch      Code = "DEVICE_MISMATCH"
	ErrAuthFailed          Code = "AUTH_FAILED"
	ErrForbidden           Code = "FORBIDDEN"
	ErrAuthUnavailable     Code = "AUTH_UNAVAILABLE"
	ErrInternal            Code = "INTERNAL"
)

// defaultTTL is the auto-expiry duration for errors not re-reported.
const defaultTTL = 5 * time.Minute

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock uses the system clock.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time { return time.Now() }

// ServiceError is a typed error with code, component, and optional wrapped error.
type ServiceError struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Component string `json:"component"`
	Timestamp int64  `json:"timestamp"`
	Err       error  `json:"-"`
}

// New builds a ServiceError stamped with the current time. The message is
// taken from err.
func New(code Code, component string, err error) *ServiceError {
	msg := string(code)
	if err != nil {
		msg = err.Error()
	}
	return &ServiceError{
		Code:      code,
		Message:   msg,
		Component: component,
		Timestamp: time.Now().UnixMilli(),
		Err:       err,
	}
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	return e.Message
}

// Unwrap returns the wrapped error for errors.Is/As compatibility.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the error code to the status the query route answers with.
func (e *ServiceError) HTTPStatus() int {
	switch e.Code {
	case ErrGPUUnavailable, ErrAuthUnavailable:
		return http.StatusServiceUnavailable
	case ErrSessionsUnavailable:
		return http.StatusBadGateway
	case ErrAuthFailed:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// As extracts a *ServiceError from err's chain. Errors that carry none are
// wrapped as ErrInternal.
func As(err error, component string) *ServiceError {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se
	}
	return New(ErrInternal, component, err)
}

// entry wraps a ServiceError with its last-reported time for expiry tracking.
type entry struct {
	err        ServiceError
	lastReport time.Time
}

// ErrorCollector is a thread-safe store for recently seen service errors.
// Errors are keyed by Code+Component and auto-expire after 5 minutes
// if not re-reported.
type ErrorCollector struct {
	mu      sync.Mutex
	clock   Clock
	entries map[string]entry // key = string(Code) + "|" + Component
}

// NewErrorCollector creates an ErrorCollector with the given clock.
func NewErrorCollector(clock Clock) *ErrorCollector {
	return &ErrorCollector{
		clock:   clock,
		entries: make(map[string]entry),
	}
}

func key(code Code, component string) string {
	return string(code) + "|" + component
}

// Report stores or refreshes an error. The dedup key is Code+Component.
func (ec *ErrorCollector) Report(err ServiceError) {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	ec.entries[key(err.Code, err.Component)] = entry{
		err:        err,
		lastReport: ec.clock.Now(),
	}
}

// GetActiveErrors returns all errors reported within the TTL window,
// ordered by code then component.
func (ec *ErrorCollector) GetActiveErrors() []ServiceError {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	now := ec.clock.Now()
	result := make([]ServiceError, 0, len(ec.entries))
	for k, e := range ec.entries {
		if now.Sub(e.lastReport) > defaultTTL {
			delete(ec.entries, k)
			continue
		}
		result = append(result, e.err)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Code != result[j].Code {
			return result[i].Code < result[j].Code
		}
		return result[i].Component < result[j].Component
	})
	return result
}

// Clear removes all tracked errors.
func (ec *ErrorCollector) Clear() {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	ec.entries = make(map[string]entry)
}
