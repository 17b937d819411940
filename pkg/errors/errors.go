// Package errors provides structured error handling for PulseKit.
// It implements coded errors with context and stack traces.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Error codes for programmatic handling
type Code string

const (
	// Storage errors (1xx)
	CodeStorageInit   Code = "E101"
	CodeStorageWrite  Code = "E102"
	CodeStorageQuery  Code = "E103"
	CodeStorageDelete Code = "E104"
	CodeFileStore     Code = "E105"
	CodeDiskFull      Code = "E106"

	// Export errors (2xx)
	CodeBatchCreation  Code = "E201"
	CodeExportRequest  Code = "E202"
	CodeExportRejected Code = "E203"
	CodeRateLimited    Code = "E204"
	CodeRedirectLoop   Code = "E205"
	CodeLockHeld       Code = "E206"

	// Session errors (3xx)
	CodeSessionInit    Code = "E301"
	CodeRecentSession  Code = "E302"
	CodeSessionExpired Code = "E303"

	// Capture errors (4xx)
	CodeAttributeCompute Code = "E401"
	CodeInvalidAttribute Code = "E402"
	CodeInvalidSignal    Code = "E403"
	CodeAttachmentLimit  Code = "E404"

	// Config errors (5xx)
	CodeConfigLoad     Code = "E501"
	CodeConfigInvalid  Code = "E502"
	CodeConfigWatch    Code = "E503"
	CodeMissingAPIKey  Code = "E504"
	CodeMissingBaseURL Code = "E505"

	// System errors (6xx)
	CodeContextCanceled Code = "E601"
	CodeTimeout         Code = "E602"
	CodeArchive         Code = "E603"

	// Unknown
	CodeUnknown Code = "E999"
)

// PulseError is the base error type for all PulseKit errors.
type PulseError struct {
	Code       Code
	Message    string
	Cause      error
	Context    map[string]interface{}
	StackTrace []Frame
}

// Frame represents a stack frame.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface.
func (e *PulseError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		sb.WriteString(" (")
		first := true
		for k, v := range e.Context {
			if !first {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, v))
			first = false
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *PulseError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target error.
func (e *PulseError) Is(target error) bool {
	if t, ok := target.(*PulseError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds context to the error.
func (e *PulseError) WithContext(key string, value interface{}) *PulseError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new PulseError.
func New(code Code, message string) *PulseError {
	return &PulseError{
		Code:       code,
		Message:    message,
		StackTrace: captureStack(2),
	}
}

// Wrap wraps an existing error with additional context.
func Wrap(err error, code Code, message string) *PulseError {
	if err == nil {
		return nil
	}

	return &PulseError{
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: captureStack(2),
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *PulseError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// captureStack captures the current stack trace.
func captureStack(skip int) []Frame {
	var frames []Frame
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)
	pcs = pcs[:n]

	cf := runtime.CallersFrames(pcs)
	for {
		frame, more := cf.Next()
		frames = append(frames, Frame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
		if !more || len(frames) >= 10 {
			break
		}
	}
	return frames
}

// FormatStack returns a formatted stack trace.
func (e *PulseError) FormatStack() string {
	var sb strings.Builder
	for _, f := range e.StackTrace {
		sb.WriteString(fmt.Sprintf("  at %s\n    %s:%d\n", f.Function, f.File, f.Line))
	}
	return sb.String()
}

// --- Convenience constructors ---

// StorageWrite creates a storage write error.
func StorageWrite(table string, err error) *PulseError {
	return Wrap(err, CodeStorageWrite, "storage write failed").
		WithContext("table", table)
}

// InvalidAttribute creates a user attribute validation error.
func InvalidAttribute(key, reason string) *PulseError {
	return New(CodeInvalidAttribute, "invalid user attribute").
		WithContext("key", key).
		WithContext("reason", reason)
}

// ExportRejected creates an error for a non-retryable server response.
func ExportRejected(status int, batchID string) *PulseError {
	return New(CodeExportRejected, "server rejected batch").
		WithContext("status", status).
		WithContext("batch_id", batchID)
}

// RateLimited creates an error for a 429 response.
func RateLimited(batchID string) *PulseError {
	return New(CodeRateLimited, "server rate limited export").
		WithContext("batch_id", batchID)
}

// ContextCanceled creates a cancellation error.
func ContextCanceled(operation string) *PulseError {
	return New(CodeContextCanceled, "operation canceled").
		WithContext("operation", operation)
}

// --- Error checking utilities ---

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var pErr *PulseError
	if errors.As(err, &pErr) {
		return pErr.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var pErr *PulseError
	if errors.As(err, &pErr) {
		return pErr.Code
	}
	return CodeUnknown
}

// IsRetryable returns true if the error is retryable. Retryable failures
// leave the batch in place so a later export attempt can resend it.
func IsRetryable(err error) bool {
	code := GetCode(err)
	switch code {
	case CodeTimeout, CodeRateLimited, CodeExportRequest, CodeLockHeld:
		return true
	default:
		return false
	}
}

// IsFatal returns true if the error is unrecoverable.
func IsFatal(err error) bool {
	code := GetCode(err)
	switch code {
	case CodeStorageInit, CodeMissingAPIKey, CodeMissingBaseURL:
		return true
	default:
		return false
	}
}

// MultiError collects multiple errors.
type MultiError struct {
	Errors []error
}

// Error implements the error interface.
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d errors occurred:\n", len(m.Errors)))
	for i, err := range m.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// HasErrors returns true if any errors were collected.
func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

// Combined returns nil if no errors, the single error if one, or the MultiError.
func (m *MultiError) Combined() error {
	switch len(m.Errors) {
	case 0:
		return nil
	case 1:
		return m.Errors[0]
	default:
		return m
	}
}
