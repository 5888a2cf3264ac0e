package errors

import (
	"fmt"
	"strings"
	"testing"
)

func TestStateErrorFormatting(t *testing.T) {
	err := NewStateError("failed to decode state file", ErrStateCorrupted).WithPath(".lisa/state.json")

	msg := err.Error()
	if !strings.Contains(msg, "path=.lisa/state.json") {
		t.Errorf("expected path in message, got %q", msg)
	}
	if !strings.Contains(msg, "spiral state corrupted") {
		t.Errorf("expected cause in message, got %q", msg)
	}
	if !Is(err, ErrStateCorrupted) {
		t.Error("expected errors.Is to match ErrStateCorrupted")
	}
}

func TestAgentErrorContext(t *testing.T) {
	err := NewAgentError("agent exited non-zero", ErrAgentFailed).
		WithModel("sonnet").
		WithPhase("build").
		WithErrorLog(".lisa/last-error.md")

	msg := err.Error()
	for _, want := range []string{"model=sonnet", "phase=build", "log=.lisa/last-error.md"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected %q in message, got %q", want, msg)
		}
	}

	var agentErr *AgentError
	if !As(err, &agentErr) {
		t.Fatal("expected errors.As to find *AgentError")
	}
	if agentErr.Model != "sonnet" {
		t.Errorf("Model = %q, want sonnet", agentErr.Model)
	}
}

func TestGitErrorOutput(t *testing.T) {
	cause := New("exit status 128")
	err := NewGitError("tag creation failed", cause).
		WithRepository("/tmp/repo").
		WithGitOutput("fatal: tag 'lisa/pass-1' already exists\n")

	msg := err.Error()
	if !strings.Contains(msg, "repo=/tmp/repo") {
		t.Errorf("expected repository in message, got %q", msg)
	}
	if !strings.Contains(msg, "already exists") {
		t.Errorf("expected git output in message, got %q", msg)
	}
	if strings.HasSuffix(msg, "\n") {
		t.Error("git output should be trimmed")
	}
}

func TestBudgetError(t *testing.T) {
	err := NewBudgetError(12.3456, 10)

	if !Is(err, ErrBudgetExceeded) {
		t.Error("expected errors.Is to match ErrBudgetExceeded")
	}
	msg := err.Error()
	if !strings.Contains(msg, "$12.3456") || !strings.Contains(msg, "$10.00") {
		t.Errorf("expected spend and limit in message, got %q", msg)
	}
	if !strings.Contains(msg, "lisa resume") {
		t.Errorf("expected resume hint in message, got %q", msg)
	}
	if !IsFatal(err) {
		t.Error("budget errors are fatal")
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("limits.stall_threshold", "must be at least 1")

	if !Is(err, ErrInvalidInput) {
		t.Error("expected errors.Is to match ErrInvalidInput")
	}
	if !strings.Contains(err.Error(), "field=limits.stall_threshold") {
		t.Errorf("expected field in message, got %q", err.Error())
	}
}

func TestSeverityClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Severity
	}{
		{"state error is fatal", NewStateError("boom", nil), SeverityFatal},
		{"git error defaults to error", NewGitError("boom", nil), SeverityError},
		{"git error override", NewGitError("boom", nil).WithSeverity(SeverityWarning), SeverityWarning},
		{"plain error defaults to error", New("boom"), SeverityError},
		{"wrapped domain error", fmt.Errorf("context: %w", NewBudgetError(5, 1)), SeverityFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetSeverity(tt.err); got != tt.want {
				t.Errorf("GetSeverity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUserMessage(t *testing.T) {
	if got := UserMessage(nil); got != "" {
		t.Errorf("UserMessage(nil) = %q, want empty", got)
	}
	if got := UserMessage(New("stack trace garbage")); strings.Contains(got, "garbage") {
		t.Errorf("internal error leaked to user: %q", got)
	}
	userErr := NewNotFoundError("tag", "lisa/pass-3")
	if got := UserMessage(userErr); !strings.Contains(got, "lisa/pass-3") {
		t.Errorf("user-facing message lost detail: %q", got)
	}
}
