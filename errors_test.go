package vmhost

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/cryguy/vmhost/internal/core"
)

func TestError_IsMatchesKind(t *testing.T) {
	err := fmt.Errorf("launch: %w", newError(KindTypeNotFound, "resolve type", "demo/Missing", nil))
	if !errors.Is(err, ErrTypeNotFound) {
		t.Fatal("errors.Is did not match by kind")
	}
	if errors.Is(err, ErrMethodNotFound) {
		t.Fatal("errors.Is matched a different kind")
	}
	var e *Error
	if !errors.As(err, &e) || e.Detail != "demo/Missing" {
		t.Fatalf("errors.As = %+v", e)
	}
}

func TestError_Message(t *testing.T) {
	cause := core.Errorf("create vm", core.StatusVersion, "engine too old")
	err := &Error{
		Kind:      KindStartupFailure,
		Op:        "start",
		Detail:    "backend failed",
		Exception: &core.Throwable{Class: "Error", Message: "boom"},
		Cause:     cause,
	}
	msg := err.Error()
	for _, want := range []string{"start: startup_failure", "backend failed", "Error: boom", "version mismatch (-3)"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q lacks %q", msg, want)
		}
	}
	if err.Status() != core.StatusVersion {
		t.Fatalf("Status = %v", err.Status())
	}
	if !errors.Is(err, cause) {
		t.Fatal("cause is not reachable through Unwrap")
	}
}
