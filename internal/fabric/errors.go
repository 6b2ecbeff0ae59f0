package fabric

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes fabric failures.
type ErrorCode string

const (
	// ErrCodeIO indicates storage was unavailable or a write failed.
	ErrCodeIO ErrorCode = "IO_FAILURE"

	// ErrCodeSerialization indicates a payload could not be encoded.
	ErrCodeSerialization ErrorCode = "SERIALIZATION_FAILURE"

	// ErrCodeIntegrity indicates a checksum or hash mismatch found during
	// verify or recovery.
	ErrCodeIntegrity ErrorCode = "INTEGRITY_VIOLATION"

	// ErrCodeDrift indicates clock skew beyond the configured bound.
	ErrCodeDrift ErrorCode = "DRIFT_EXCEEDED"

	// ErrCodeDelivery indicates a subscriber channel was closed or full.
	// Non-fatal: handled locally, never fails an emit.
	ErrCodeDelivery ErrorCode = "DELIVERY_FAILURE"
)

// FabricError is a categorized failure from a fabric operation.
//
// An IO or serialization failure during emit aborts the call entirely with
// no partial durability; integrity violations are reported, never
// repaired; drift is raised synchronously so producers can react.
type FabricError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op names the failing operation ("emit", "emit_batch", "recover", ...).
	Op string

	// EventID identifies the affected event when known.
	EventID string

	// Seq identifies the affected journal entry when known.
	Seq uint64

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *FabricError) Error() string {
	switch {
	case e.EventID != "":
		return fmt.Sprintf("%s: %s (event=%s): %v", e.Code, e.Op, e.EventID, e.Err)
	case e.Seq != 0:
		return fmt.Sprintf("%s: %s (seq=%d): %v", e.Code, e.Op, e.Seq, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Op, e.Err)
	}
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *FabricError) Unwrap() error { return e.Err }

// newError builds a FabricError.
func newError(code ErrorCode, op string, err error) *FabricError {
	return &FabricError{Code: code, Op: op, Err: err}
}

// codeOf extracts the ErrorCode from a wrapped error chain, or "".
func codeOf(err error) ErrorCode {
	var fe *FabricError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// IsIOError reports whether err is an IO failure.
func IsIOError(err error) bool { return codeOf(err) == ErrCodeIO }

// IsSerializationError reports whether err is a serialization failure.
func IsSerializationError(err error) bool { return codeOf(err) == ErrCodeSerialization }

// IsIntegrityError reports whether err is an integrity violation.
func IsIntegrityError(err error) bool { return codeOf(err) == ErrCodeIntegrity }

// IsDriftError reports whether err is a drift violation.
func IsDriftError(err error) bool { return codeOf(err) == ErrCodeDrift }
