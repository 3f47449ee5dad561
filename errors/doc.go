// Package errors provides structured error types for the craftos engine.
//
// Errors are categorized by Phase (where in a computer's lifecycle the error
// occurred) and Kind (error category). The Error type includes the computer
// id and cause chain so a failure on one computer thread can be reported
// without losing context.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseMount, errors.KindMountFailed).
//		Computer(3).
//		Detail("cannot mount ROM at %s", path).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.MountFailed(3, "rom", path)
//	err := errors.BootFailed(3, cause)
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
