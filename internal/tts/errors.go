package tts

import (
	"context"
	"errors"
	"fmt"

	"github.com/arre-reader/arre/internal/pool"
)

// Common service errors
var (
	// ErrClosed is returned by operations on a closed service
	ErrClosed = errors.New("service is closed")

	// ErrNoPlayer is returned by Speak when the service has no audio sink
	ErrNoPlayer = errors.New("no audio output configured")

	// ErrSynthesisFailed indicates the worker could not synthesize a sentence
	ErrSynthesisFailed = errors.New("text synthesis failed")

	// ErrEmptyText is returned for blank sentences
	ErrEmptyText = errors.New("text cannot be empty")
)

// ErrorCode identifies specific error types
type ErrorCode string

const (
	// Worker errors
	ErrorCodeSynthesis  ErrorCode = "SYNTHESIS_FAILURE"
	ErrorCodeWorker     ErrorCode = "WORKER_FAILURE"
	ErrorCodeTimeout    ErrorCode = "TIMEOUT"
	ErrorCodeOverloaded ErrorCode = "OVERLOADED"

	// Audio errors
	ErrorCodeAudioFormat ErrorCode = "AUDIO_FORMAT"
	ErrorCodeAudioDevice ErrorCode = "AUDIO_DEVICE"

	// Model errors
	ErrorCodeModel ErrorCode = "MODEL_FAILURE"

	// Input errors
	ErrorCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// System errors
	ErrorCodeCanceled ErrorCode = "CANCELED"
)

// Error is a service error with a code and optional context.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]any
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new error with an empty context.
func NewError(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

// IsFatal returns true if the error should stop reading the document
func (e *Error) IsFatal() bool {
	switch e.Code {
	case ErrorCodeAudioDevice, ErrorCodeCanceled:
		return true
	default:
		return false
	}
}

// IsRetryable returns true if the operation can be retried
func (e *Error) IsRetryable() bool {
	switch e.Code {
	case ErrorCodeTimeout, ErrorCodeOverloaded:
		return true
	default:
		return false
	}
}

// classify wraps an error from the pool or the worker boundary.
func classify(op string, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	switch {
	case errors.Is(err, pool.ErrTaskTimeout):
		return NewError(ErrorCodeTimeout, op+" timed out", err)
	case errors.Is(err, pool.ErrQueueFull), errors.Is(err, pool.ErrNoWorkers):
		return NewError(ErrorCodeOverloaded, op+" rejected", err)
	case errors.Is(err, pool.ErrPoolClosed):
		return NewError(ErrorCodeCanceled, op+" aborted", ErrClosed)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return NewError(ErrorCodeCanceled, op+" canceled", err)
	default:
		return NewError(ErrorCodeWorker, op+" failed", err)
	}
}
