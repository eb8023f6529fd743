package errs

import (
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestWrapKeepsChain(t *testing.T) {
	base := errors.New("boom")
	err := Wrapf(Wrap(base, "inner"), "outer %d", 2)
	if !errors.Is(err, base) {
		t.Fatalf("errors.Is() = false, want true")
	}
	if err.Error() != "outer 2: inner: boom" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if Wrap(nil, "x") != nil {
		t.Fatalf("Wrap(nil) expected nil")
	}
}

func TestInvariantIsDetectableThroughWraps(t *testing.T) {
	err := Wrap(Invariant("interval %d is not open", 7), "rebuild")
	if !IsInvariant(err) {
		t.Fatalf("IsInvariant() = false")
	}
	var se *StackError
	if !errors.As(err, &se) || len(se.Stack()) == 0 {
		t.Fatalf("invariant error should carry a stack")
	}
	if !strings.Contains(err.Error(), "interval 7 is not open") {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestConfigfClassifies(t *testing.T) {
	err := Configf("github token is required")
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("errors.Is(ErrConfig) = false")
	}
}

func TestLoggableMarksInvariant(t *testing.T) {
	value := Loggable(Invariant("x")).LogValue()
	found := false
	for _, attr := range value.Group() {
		if attr.Key == "invariant" && attr.Value.Kind() == slog.KindBool && attr.Value.Bool() {
			found = true
		}
	}
	if !found {
		t.Fatalf("LogValue() missing invariant attr: %v", value)
	}
}
