package engineerr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestEngineError_UserMessageIncludesHint(t *testing.T) {
	scope := Scope{Kind: EntityExternalService, ID: "abc123", Name: "worker"}
	err := User(scope, "check the logs with `deckhand logs`", "External Service worker (abc123) has failed to start")

	if err.Cause != CauseUser {
		t.Fatalf("expected user cause, got %s", err.Cause)
	}
	msg := err.Error()
	if !strings.Contains(msg, "worker (abc123)") {
		t.Fatalf("expected service identity in message, got %q", msg)
	}
	if !strings.Contains(msg, "deckhand logs") {
		t.Fatalf("expected hint in message, got %q", msg)
	}
}

func TestEngineError_InternalWrapsCause(t *testing.T) {
	root := errors.New("kubectl exited 1")
	err := Internal(Scope{Kind: EntityApplication, ID: "a1", Name: "api"}, "readiness check failed", root)

	if !errors.Is(err, root) {
		t.Fatalf("expected wrapped root cause")
	}
	if got := err.Error(); got != "readiness check failed: kubectl exited 1" {
		t.Fatalf("unexpected message: %q", got)
	}
}

func TestEngineError_WithHelpersCopy(t *testing.T) {
	original := Internal(Scope{Kind: EntityEngine}, "boom", nil)
	tagged := original.WithExecutionID("exec-1")

	if original.ExecutionID != "" {
		t.Fatalf("expected original to stay untouched, got %q", original.ExecutionID)
	}
	if tagged.ExecutionID != "exec-1" {
		t.Fatalf("unexpected execution id: %q", tagged.ExecutionID)
	}
}

func TestCauseOf(t *testing.T) {
	userErr := User(Scope{Kind: EntityExternalService, ID: "1", Name: "job"}, "", "failed")
	wrapped := fmt.Errorf("transaction: %w", userErr)

	cause, ok := CauseOf(wrapped)
	if !ok || cause != CauseUser {
		t.Fatalf("expected user cause through wrapping, got %s ok=%v", cause, ok)
	}

	cause, ok = CauseOf(errors.New("plain"))
	if ok || cause != CauseInternal {
		t.Fatalf("expected untyped error to report internal, got %s ok=%v", cause, ok)
	}
}

func TestScopeString(t *testing.T) {
	cases := []struct {
		scope Scope
		want  string
	}{
		{Scope{Kind: EntityEngine}, "Engine"},
		{Scope{Kind: EntityApplication, ID: "a1", Name: "api"}, "Application(a1, api)"},
	}
	for _, tc := range cases {
		if got := tc.scope.String(); got != tc.want {
			t.Fatalf("Scope.String() = %q, want %q", got, tc.want)
		}
	}
}
