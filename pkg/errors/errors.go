// Package errors provides structured error handling for pixels with error
// categorization, key-value details and stack capture.
//
// # Basic Usage
//
//	err := errors.New(errors.ErrorTypeFormatCorruption, "bad magic").
//	    WithDetail("path", path)
//
//	if err := phys.ReadAt(buf, off); err != nil {
//	    return errors.Wrap(err, errors.ErrorTypeIOFailure, "read chunk").
//	        WithDetail("offset", off)
//	}
//
// # Error Types
//
// The type drives how callers react: format corruption and schema mismatch abort a
// read, I/O failures are retried by the storage layer, record corruption can be
// skipped when the reader is configured to tolerate it, and capacity errors from the
// cache are swallowed by the reader.
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of error.
type ErrorType string

const (
	// ErrorTypeInternal represents internal system errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeValidation represents invalid arguments or options
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeNotFound represents a missing file or object
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeFormatCorruption represents bad magic, inconsistent lengths or a truncated footer
	ErrorTypeFormatCorruption ErrorType = "format_corruption"
	// ErrorTypeSchemaMismatch represents a requested schema the file cannot satisfy
	ErrorTypeSchemaMismatch ErrorType = "schema_mismatch"
	// ErrorTypeIOFailure represents storage that is unreachable or timed out
	ErrorTypeIOFailure ErrorType = "io_failure"
	// ErrorTypeRecordCorruption represents a pixel that fails its checksum or decode
	ErrorTypeRecordCorruption ErrorType = "record_corruption"
	// ErrorTypeCacheRetryExhausted represents a lock-free cache read that kept racing a writer
	ErrorTypeCacheRetryExhausted ErrorType = "cache_retry_exhausted"
	// ErrorTypeCapacityExceeded represents a cache region with no room for an entry
	ErrorTypeCapacityExceeded ErrorType = "capacity_exceeded"
	// ErrorTypeWriterClosed represents use of a writer after close or failure
	ErrorTypeWriterClosed ErrorType = "writer_closed"
)

// Error represents a structured error with context.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack.
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error. Calls can be chained.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new error with the given type and message.
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with a formatted message.
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context. If the error is already a
// structured Error its stack is preserved. Returns nil if err is nil.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// IsRetryable reports whether the error is worth retrying. Only storage I/O
// failures are.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == ErrorTypeIOFailure
}

// IsType checks if the error, or any error it wraps, is of the given type.
func IsType(err error, errType ErrorType) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Type == errType {
			return true
		}
		err = e.Cause
	}
	return false
}

// Is reports whether any error in err's chain matches target. It mirrors the
// standard library so callers only import one errors package.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As mirrors errors.As from the standard library.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
