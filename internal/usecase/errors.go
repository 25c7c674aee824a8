package usecase

import "fmt"

type ErrorCode string

const (
	ErrorInvalidInput           ErrorCode = "INVALID_INPUT"
	ErrorInvalidPreferences     ErrorCode = "INVALID_PREFERENCES"
	ErrorSessionNotFound        ErrorCode = "SESSION_NOT_FOUND"
	ErrorInvalidState           ErrorCode = "INVALID_STATE"
	ErrorSourceUnavailable      ErrorCode = "SOURCE_UNAVAILABLE"
	ErrorNoData                 ErrorCode = "NO_DATA"
	ErrorGenerationUnavailable  ErrorCode = "GENERATION_UNAVAILABLE"
	ErrorGenerationTimeout      ErrorCode = "GENERATION_TIMEOUT"
	ErrorConcurrentModification ErrorCode = "CONCURRENT_MODIFICATION"
	ErrorInternal               ErrorCode = "INTERNAL_ERROR"
)

// Retryable reports whether the caller may safely retry the same request.
// Forecast-layer and contention failures are retryable; client usage errors
// and scoring input errors are not.
func (c ErrorCode) Retryable() bool {
	switch c {
	case ErrorSourceUnavailable, ErrorNoData, ErrorConcurrentModification:
		return true
	}
	return false
}

// Error is the stable failure shape every operation returns: a kind the
// caller can branch on, a short machine reason, and the wrapped cause.
// No stack detail is surfaced beyond this.
type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}
