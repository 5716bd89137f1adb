// Package zbc implements the host-side lifecycle of a ZBC semihosting
// device: register map, session state machine, and backend dispatch,
// built on the lower-level codec in internal/wire, internal/riff,
// internal/request, internal/opcode, and internal/dispatch. See
// package client for the guest-side builder.
package zbc

import (
	"errors"
	"fmt"
)

// Error represents a structured zbc error with context and protocol
// error-code mapping (spec §7's four-taxonomy error model: protocol,
// transport, backend, builder).
type Error struct {
	Op    string    // Operation that failed (e.g., "Init", "HandleDoorbell")
	Code  ErrorCode // High-level error category
	Msg   string    // Human-readable message
	Inner error     // Wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Op != "" {
		return fmt.Sprintf("zbc: %s: %s", e.Op, msg)
	}
	return fmt.Sprintf("zbc: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is provides errors.Is support for both structured and legacy sentinel
// comparison.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if le, ok := target.(LegacyError); ok {
		return e.Code == ErrorCode(le)
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode represents high-level error categories, one per spec §7
// taxonomy entry plus a handful of host-lifecycle specifics.
type ErrorCode string

const (
	// Transport errors (spec §7): the codec could not even write a
	// reply. The guest observes a timeout; this is the embedder's bug
	// to log.
	ErrCodeBufferTooSmall  ErrorCode = "working buffer too small"
	ErrCodeInvalidCallback ErrorCode = "mandatory callback missing"
	ErrCodeNotInitialized  ErrorCode = "host not initialized"

	// Lifecycle errors, specific to this Go embedding rather than the
	// wire protocol itself.
	ErrCodeAlreadyTornDown ErrorCode = "host already torn down"
	ErrCodeInvalidParams   ErrorCode = "invalid host parameters"

	// Backend errors (spec §7): surfaced primarily through RETN's errno
	// field, but a Go caller driving the dispatcher directly (e.g. a
	// test) may still want a typed error for a hard backend failure.
	ErrCodeBackendFailure ErrorCode = "backend operation failed"
)

// LegacyError is a sentinel-string error type, kept for call sites that
// only need equality checks rather than the full structured Error
// (mirrors the teacher's UblkError shim).
type LegacyError string

func (e LegacyError) Error() string { return string(e) }

// Legacy error sentinels.
const (
	ErrNotInitialized  LegacyError = "host not initialized"
	ErrAlreadyTornDown LegacyError = "host already torn down"
	ErrInvalidParams   LegacyError = "invalid host parameters"
	ErrBufferTooSmall  LegacyError = "working buffer too small"
)

// NewError creates a new structured error.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// WrapError wraps an existing error with zbc context, preserving the
// inner error's code when it is already a *Error.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if ze, ok := inner.(*Error); ok {
		return &Error{Op: op, Code: ze.Code, Msg: ze.Msg, Inner: ze.Inner}
	}
	return &Error{Op: op, Code: ErrCodeBackendFailure, Msg: inner.Error(), Inner: inner}
}

// IsCode checks if an error matches a specific error code.
func IsCode(err error, code ErrorCode) bool {
	var ze *Error
	if errors.As(err, &ze) {
		return ze.Code == code
	}
	return false
}
