package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorString(t *testing.T) {
	err := MountFailed(3, "rom", "/opt/craftos/rom")
	got := err.Error()
	if !strings.Contains(got, "[mount]") {
		t.Errorf("missing phase in %q", got)
	}
	if !strings.Contains(got, "mount_failed") {
		t.Errorf("missing kind in %q", got)
	}
	if !strings.Contains(got, "computer 3") {
		t.Errorf("missing computer id in %q", got)
	}
}

func TestErrorCauseChain(t *testing.T) {
	cause := stderrors.New("disk on fire")
	err := BootFailed(0, cause)

	if !strings.Contains(err.Error(), "disk on fire") {
		t.Errorf("cause not rendered: %q", err.Error())
	}
	if !stderrors.Is(err, cause) {
		t.Error("errors.Is should find the cause through Unwrap")
	}
}

func TestErrorIsMatchesPhaseAndKind(t *testing.T) {
	a := New(PhaseRun, KindTimeout).Computer(1).Build()
	b := New(PhaseRun, KindTimeout).Computer(9).Build()
	c := New(PhaseBoot, KindTimeout).Build()

	if !stderrors.Is(a, b) {
		t.Error("same phase+kind should match regardless of computer id")
	}
	if stderrors.Is(a, c) {
		t.Error("different phase should not match")
	}
}

func TestBuilder(t *testing.T) {
	cause := fmt.Errorf("conn reset")
	err := New(PhaseTeardown, KindInternal).
		Computer(7).
		Detail("closing %d sockets", 2).
		Cause(cause).
		Build()

	if err.Computer != 7 || !err.HasID {
		t.Errorf("computer id not recorded: %+v", err)
	}
	if err.Detail != "closing 2 sockets" {
		t.Errorf("detail = %q", err.Detail)
	}
	if err.Unwrap() != cause {
		t.Error("unwrap should return the cause")
	}
}

func TestIsCancelled(t *testing.T) {
	plain := stderrors.New("nope")
	if IsCancelled(plain) {
		t.Error("plain error is not a cancellation")
	}

	c := Cancelled(PhaseLoad, "load context destroyed")
	if !IsCancelled(c) {
		t.Error("cancelled error not detected")
	}

	wrapped := Wrap(PhaseRun, KindGuestError, c, "resume failed")
	if !IsCancelled(wrapped) {
		t.Error("cancellation should be found through the chain")
	}
}
