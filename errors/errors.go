package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in a computer's lifecycle the error occurred
type Phase string

const (
	PhaseCreate   Phase = "create"   // instance construction
	PhaseMount    Phase = "mount"    // filesystem mounting
	PhaseBoot     Phase = "boot"     // VM setup and BIOS loading
	PhaseRun      Phase = "run"      // guest execution
	PhaseLoad     Phase = "load"     // yieldable load trampoline
	PhaseTeardown Phase = "teardown" // instance destruction
)

// Kind categorizes the error
type Kind string

const (
	KindMountFailed  Kind = "mount_failed"
	KindBiosMissing  Kind = "bios_missing"
	KindNotFound     Kind = "not_found"
	KindInvalidInput Kind = "invalid_input"
	KindCancelled    Kind = "cancelled"
	KindTimeout      Kind = "timeout"
	KindGuestError   Kind = "guest_error"
	KindInternal     Kind = "internal"
)

// Error is the structured error type used throughout the engine
type Error struct {
	Cause    error
	Phase    Phase
	Kind     Kind
	Detail   string
	Computer int
	HasID    bool
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.HasID {
		fmt.Fprintf(&b, " on computer %d", e.Computer)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Computer sets the computer id the error belongs to
func (b *Builder) Computer(id int) *Builder {
	b.err.Computer = id
	b.err.HasID = true
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// MountFailed creates a mount failure error
func MountFailed(id int, guestName, hostPath string) *Error {
	return &Error{
		Phase:    PhaseMount,
		Kind:     KindMountFailed,
		Computer: id,
		HasID:    true,
		Detail:   fmt.Sprintf("cannot mount %q from %s", guestName, hostPath),
	}
}

// BootFailed creates a BIOS load/compile failure error
func BootFailed(id int, cause error) *Error {
	return &Error{
		Phase:    PhaseBoot,
		Kind:     KindBiosMissing,
		Computer: id,
		HasID:    true,
		Detail:   "couldn't load BIOS",
		Cause:    cause,
	}
}

// GuestError wraps an unhandled error raised by guest code
func GuestError(id int, cause error) *Error {
	return &Error{
		Phase:    PhaseRun,
		Kind:     KindGuestError,
		Computer: id,
		HasID:    true,
		Cause:    cause,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Cancelled creates a cancellation error, used when a load context is
// torn down while its parser thread is still alive
func Cancelled(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindCancelled,
		Detail: detail,
	}
}

// Timeout creates a watchdog expiry error
func Timeout(id int) *Error {
	return &Error{
		Phase:    PhaseRun,
		Kind:     KindTimeout,
		Computer: id,
		HasID:    true,
		Detail:   "too long without yielding",
	}
}

// Internal creates an internal engine error
func Internal(phase Phase, detail string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInternal,
		Detail: detail,
		Cause:  cause,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// IsCancelled reports whether err is a cancellation error from any phase
func IsCancelled(err error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == KindCancelled {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
