// Package ios re-exports the kernel's structured error type under its
// public name; the implementation lives in internal/kerr so every
// internal subsystem package can share it without importing this root
// package (which in turn imports them).
package ios

import "github.com/hle-ios/kernel/internal/kerr"

type (
	// Error represents a structured IOS kernel error with enough context
	// to trace which primitive, process, and object produced it.
	Error = kerr.Error

	// Code represents the IOS kernel error taxonomy (spec.md §7). These
	// are kinds, not the ≈40 raw negative wire values guest code sees;
	// the wire encoding lives in internal/resource (ToGuestCode).
	Code = kerr.Code

	// KernelFault is panicked (never returned) when a kernel-thread
	// assertion fails — quota counters disagreeing with pool state, a
	// free list corrupted, a thread found on two wait lists at once.
	// Spec.md §7 treats these as memory-safety violations, not
	// recoverable API errors.
	KernelFault = kerr.Fault
)

const (
	CodeInvalid         = kerr.CodeInvalid
	CodeAccess          = kerr.CodeAccess
	CodeExists          = kerr.CodeExists
	CodeNoExists        = kerr.CodeNoExists
	CodeIntr            = kerr.CodeIntr
	CodeMax             = kerr.CodeMax
	CodeFailAlloc       = kerr.CodeFailAlloc
	CodeSemUnavailable  = kerr.CodeSemUnavailable
	CodeStaleHandle     = kerr.CodeStaleHandle
	CodeInvalidHandle   = kerr.CodeInvalidHandle
	CodeClientTxnLimit  = kerr.CodeClientTxnLimit
	CodeTimeout         = kerr.CodeTimeout
	CodeUnsupportedCmd  = kerr.CodeUnsupportedCmd
	CodeBusy            = kerr.CodeBusy
	CodeAlignment       = kerr.CodeAlignment
	CodeNoResource      = kerr.CodeNoResource
	CodeNotReady        = kerr.CodeNotReady
)

// NewError creates a new structured error.
func NewError(op string, code Code, msg string) *Error { return kerr.New(op, code, msg) }

// NewProcessError creates an error scoped to a calling process.
func NewProcessError(op string, procID int32, code Code, msg string) *Error {
	return kerr.NewProcess(op, procID, code, msg)
}

// NewObjectError creates an error scoped to a process and an object id
// (handle, request, queue uid, ...).
func NewObjectError(op string, procID int32, objID uint32, code Code, msg string) *Error {
	return kerr.NewObject(op, procID, objID, code, msg)
}

// WrapError wraps an existing error with IOS kernel context, preserving
// the inner error's Code if it already carries one.
func WrapError(op string, inner error) *Error { return kerr.Wrap(op, inner) }

// IsCode reports whether err carries the given Code.
func IsCode(err error, code Code) bool { return kerr.IsCode(err, code) }

// Assert panics with a *KernelFault if cond is false.
func Assert(subsystem string, cond bool, detail string) { kerr.Assert(subsystem, cond, detail) }
