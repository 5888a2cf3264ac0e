// Package errors provides centralized error definitions and error handling
// utilities for lisa-loop. It defines domain-specific errors, semantic error
// types, error constructors with context wrapping, and classification helpers.
//
// # Error Types
//
// Domain-specific errors represent errors from specific subsystems:
//   - StateError: errors related to spiral state persistence
//   - AgentError: errors related to agent invocations
//   - GitError: errors related to git operations (commits, tags, resets)
//   - BudgetError: errors related to the spend budget
//   - ConfigError: errors related to configuration loading and validation
//
// Semantic errors represent common error conditions:
//   - NotFoundError: resource not found
//   - ValidationError: invalid input or state
//
// # Usage
//
// Creating errors:
//
//	err := errors.NewGitError("commit failed", cause).WithGitOutput(out)
//	err := errors.NewAgentError("agent exited non-zero", cause).WithErrorLog(path)
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrBudgetExceeded) { ... }
//	var agentErr *errors.AgentError
//	if errors.As(err, &agentErr) { ... }
//	if errors.IsFatal(err) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo Severity = iota
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityFatal is for errors that must stop the spiral.
	SeverityFatal
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// State-related sentinel errors
var (
	// ErrStateCorrupted indicates that the persisted spiral state could not be decoded.
	ErrStateCorrupted = New("spiral state corrupted")
	// ErrStateInvalid indicates a state value that violates the state machine.
	ErrStateInvalid = New("spiral state invalid")
)

// Agent-related sentinel errors
var (
	// ErrAgentFailed indicates that an agent invocation exited unsuccessfully.
	ErrAgentFailed = New("agent invocation failed")
	// ErrAgentEmptyOutput indicates that an agent produced no usable output.
	ErrAgentEmptyOutput = New("agent produced no output")
	// ErrIsolationViolated indicates that an agent touched paths it must not touch.
	ErrIsolationViolated = New("isolation violated")
)

// Git-related sentinel errors
var (
	// ErrNotGitRepository indicates that the directory is not a git repository.
	ErrNotGitRepository = New("not a git repository")
	// ErrDirtyWorktree indicates that the worktree has uncommitted changes.
	ErrDirtyWorktree = New("worktree has uncommitted changes")
	// ErrTagNotFound indicates that a pass tag could not be found.
	ErrTagNotFound = New("tag not found")
)

// General sentinel errors
var (
	// ErrBudgetExceeded indicates that cumulative spend reached the configured limit.
	ErrBudgetExceeded = New("budget exceeded")
	// ErrAborted indicates that the operator chose to abort.
	ErrAborted = New("aborted by operator")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// LisaError is the base interface for all lisa-loop errors. It extends the
// standard error interface with classification methods.
type LisaError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// StateError represents errors related to spiral state persistence.
//
// Example:
//
//	err := errors.NewStateError("failed to decode state file", errors.ErrStateCorrupted)
//	err = err.WithPath(".lisa/state.json")
type StateError struct {
	baseError
	Path string
}

// NewStateError creates a new StateError.
func NewStateError(message string, cause error) *StateError {
	return &StateError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityFatal,
			userFacing: true,
		},
	}
}

// WithPath adds the state file path to the error context.
func (e *StateError) WithPath(path string) *StateError {
	e.Path = path
	return e
}

// Error returns the formatted error message.
func (e *StateError) Error() string {
	prefix := "state error"
	if e.Path != "" {
		prefix = fmt.Sprintf("state error [path=%s]", e.Path)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *StateError) Is(target error) bool {
	if _, ok := target.(*StateError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// AgentError represents errors related to agent invocations.
//
// Example:
//
//	err := errors.NewAgentError("agent exited non-zero", errors.ErrAgentFailed)
//	err = err.WithModel("sonnet").WithPhase("build").WithErrorLog(".lisa/last-error.md")
type AgentError struct {
	baseError
	Model    string
	Phase    string
	ErrorLog string
}

// NewAgentError creates a new AgentError.
func NewAgentError(message string, cause error) *AgentError {
	return &AgentError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityFatal,
			userFacing: true,
		},
	}
}

// WithModel adds the model name to the error context.
func (e *AgentError) WithModel(model string) *AgentError {
	e.Model = model
	return e
}

// WithPhase adds the phase name to the error context.
func (e *AgentError) WithPhase(phase string) *AgentError {
	e.Phase = phase
	return e
}

// WithErrorLog records the path where the raw agent output was saved.
func (e *AgentError) WithErrorLog(path string) *AgentError {
	e.ErrorLog = path
	return e
}

// WithSeverity sets the error severity.
func (e *AgentError) WithSeverity(s Severity) *AgentError {
	e.severity = s
	return e
}

// Error returns the formatted error message.
func (e *AgentError) Error() string {
	var parts []string
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}
	if e.Phase != "" {
		parts = append(parts, fmt.Sprintf("phase=%s", e.Phase))
	}
	if e.ErrorLog != "" {
		parts = append(parts, fmt.Sprintf("log=%s", e.ErrorLog))
	}

	prefix := "agent error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("agent error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *AgentError) Is(target error) bool {
	if _, ok := target.(*AgentError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// GitError represents errors related to git operations.
//
// Example:
//
//	err := errors.NewGitError("tag creation failed", cause)
//	err = err.WithRepository("/path/to/repo").WithGitOutput(string(out))
type GitError struct {
	baseError
	Repository string
	GitOutput  string
}

// NewGitError creates a new GitError.
func NewGitError(message string, cause error) *GitError {
	return &GitError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			userFacing: true,
		},
	}
}

// WithRepository adds the repository path to the error context.
func (e *GitError) WithRepository(path string) *GitError {
	e.Repository = path
	return e
}

// WithGitOutput attaches the raw git command output.
func (e *GitError) WithGitOutput(output string) *GitError {
	e.GitOutput = strings.TrimSpace(output)
	return e
}

// WithSeverity sets the error severity.
func (e *GitError) WithSeverity(s Severity) *GitError {
	e.severity = s
	return e
}

// Error returns the formatted error message.
func (e *GitError) Error() string {
	prefix := "git error"
	if e.Repository != "" {
		prefix = fmt.Sprintf("git error [repo=%s]", e.Repository)
	}

	msg := prefix + ": " + e.message
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	if e.GitOutput != "" {
		msg = fmt.Sprintf("%s (git output: %s)", msg, e.GitOutput)
	}
	return msg
}

// Is checks if this error matches the target.
func (e *GitError) Is(target error) bool {
	if _, ok := target.(*GitError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// BudgetError represents a budget limit being reached.
//
// Example:
//
//	err := errors.NewBudgetError(12.34, 10.0)
type BudgetError struct {
	baseError
	Spent float64
	Limit float64
}

// NewBudgetError creates a new BudgetError covering the given spend and limit.
func NewBudgetError(spent, limit float64) *BudgetError {
	return &BudgetError{
		baseError: baseError{
			message:    fmt.Sprintf("budget exceeded: $%.4f spent of $%.2f limit", spent, limit),
			cause:      ErrBudgetExceeded,
			severity:   SeverityFatal,
			userFacing: true,
		},
		Spent: spent,
		Limit: limit,
	}
}

// Error returns the formatted error message.
func (e *BudgetError) Error() string {
	return e.message + "; raise limits.budget_usd in lisa.yaml and run `lisa resume` to continue"
}

// Is checks if this error matches the target.
func (e *BudgetError) Is(target error) bool {
	if _, ok := target.(*BudgetError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ConfigError represents errors related to configuration loading or validation.
type ConfigError struct {
	baseError
	Key string
}

// NewConfigError creates a new ConfigError.
func NewConfigError(message string, cause error) *ConfigError {
	return &ConfigError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityFatal,
			userFacing: true,
		},
	}
}

// WithKey adds the offending configuration key to the error context.
func (e *ConfigError) WithKey(key string) *ConfigError {
	e.Key = key
	return e
}

// Error returns the formatted error message.
func (e *ConfigError) Error() string {
	prefix := "config error"
	if e.Key != "" {
		prefix = fmt.Sprintf("config error [key=%s]", e.Key)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ConfigError) Is(target error) bool {
	if _, ok := target.(*ConfigError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError indicates that a named resource could not be found.
type NotFoundError struct {
	baseError
	Resource string
	Name     string
}

// NewNotFoundError creates a new NotFoundError for the given resource.
func NewNotFoundError(resource, name string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s %q not found", resource, name),
			severity:   SeverityError,
			userFacing: true,
		},
		Resource: resource,
		Name:     name,
	}
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError indicates invalid input or state.
type ValidationError struct {
	baseError
	Field string
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			cause:      ErrInvalidInput,
			severity:   SeverityError,
			userFacing: true,
		},
		Field: field,
	}
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error [field=%s]: %s", e.Field, e.message)
	}
	return "validation error: " + e.message
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// GetSeverity returns the severity of an error. Errors that don't implement
// LisaError default to SeverityError.
func GetSeverity(err error) Severity {
	var le LisaError
	if errors.As(err, &le) {
		return le.Severity()
	}
	return SeverityError
}

// IsFatal returns true if the error must stop the spiral rather than be
// reported and skipped.
func IsFatal(err error) bool {
	return GetSeverity(err) >= SeverityFatal
}

// IsUserFacing returns true if the error message is safe to display to users.
func IsUserFacing(err error) bool {
	var le LisaError
	if errors.As(err, &le) {
		return le.IsUserFacing()
	}
	return false
}

// UserMessage returns a message suitable for terminal display. Internal
// errors are summarized rather than dumped.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if IsUserFacing(err) {
		return err.Error()
	}
	return "an internal error occurred; see the debug log for details"
}
