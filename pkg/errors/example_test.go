package errors_test

import (
	stderrors "errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ajitpratap0/pixels/pkg/errors"
)

// Example demonstrates basic error creation.
func Example() {
	err := errors.New(errors.ErrorTypeFormatCorruption, "bad magic").
		WithDetail("path", "/data/a.pxl").
		WithDetail("magic", "PIXELX")

	fmt.Println(err.Error())

	// Output:
	// format_corruption: bad magic
}

// ExampleWrap shows how to wrap existing errors with context.
func ExampleWrap() {
	err := errors.Wrap(io.ErrUnexpectedEOF, errors.ErrorTypeIOFailure, "read footer").
		WithDetail("offset", 1024)

	if errors.IsType(err, errors.ErrorTypeIOFailure) {
		fmt.Println("storage failure")
	}
	if stderrors.Is(err, io.ErrUnexpectedEOF) {
		fmt.Println("cause preserved")
	}

	// Output:
	// storage failure
	// cause preserved
}

// ExampleIsRetryable shows which errors the storage layer retries.
func ExampleIsRetryable() {
	fmt.Println(errors.IsRetryable(errors.New(errors.ErrorTypeIOFailure, "timeout")))
	fmt.Println(errors.IsRetryable(errors.New(errors.ErrorTypeFormatCorruption, "bad magic")))
	fmt.Println(errors.IsRetryable(io.EOF))

	// Output:
	// true
	// false
	// false
}

func TestIsTypeWalksChain(t *testing.T) {
	inner := errors.New(errors.ErrorTypeRecordCorruption, "crc mismatch")
	outer := errors.Wrap(inner, errors.ErrorTypeInternal, "decode pixel")

	assert.True(t, errors.IsType(outer, errors.ErrorTypeInternal))
	assert.True(t, errors.IsType(outer, errors.ErrorTypeRecordCorruption))
	assert.False(t, errors.IsType(outer, errors.ErrorTypeIOFailure))
	assert.Equal(t, inner.Stack, outer.Stack)
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, errors.Wrap(nil, errors.ErrorTypeInternal, "nothing"))
}

func TestErrorMessage(t *testing.T) {
	err := errors.Newf(errors.ErrorTypeCapacityExceeded, "entry of %d bytes", 42)
	assert.Equal(t, "capacity_exceeded: entry of 42 bytes", err.Error())

	wrapped := errors.Wrap(io.EOF, errors.ErrorTypeIOFailure, "read")
	assert.Equal(t, "io_failure: read: EOF", wrapped.Error())
	assert.NotEmpty(t, wrapped.Stack)
}
