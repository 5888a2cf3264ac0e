// Package agent runs the external coding agent and accounts for what it
// did. The Runner interface is the seam the spiral controller talks to;
// the production implementation drives the claude CLI in stream-json
// mode and tallies tool use, token usage, and cost from the event
// stream.
package agent

import (
	"context"
	"time"
)

// Tool names as they appear in the event stream.
const (
	ToolRead  = "Read"
	ToolWrite = "Write"
	ToolEdit  = "Edit"
	ToolBash  = "Bash"
)

// ToolCall is one tool invocation extracted from the event stream. Path
// is set for file tools, Command for Bash, Detail for anything else
// worth displaying.
type ToolCall struct {
	Name    string
	Path    string
	Command string
	Detail  string
}

// Display returns a short human-readable label for the status line.
func (tc ToolCall) Display() string {
	switch {
	case tc.Path != "":
		return tc.Name + " " + tc.Path
	case tc.Command != "":
		return tc.Name + ": " + truncate(tc.Command, 60)
	case tc.Detail != "":
		return tc.Name + ": " + truncate(tc.Detail, 60)
	default:
		return tc.Name
	}
}

// Stats summarizes an invocation's activity.
type Stats struct {
	ToolCount  int
	FileWrites int
	TestRuns   int
}

// Usage carries the token accounting reported by the final result event.
type Usage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

// Invocation describes one agent run.
type Invocation struct {
	// Model is passed through to the CLI's --model flag.
	Model string
	// Phase names the spiral phase, for logging and error reports.
	Phase string
	// Prompt is fed to the agent on stdin.
	Prompt string
	// WorkDir is the directory the agent runs in.
	WorkDir string
	// Collapse rewrites progress on a single status line.
	Collapse bool
}

// Result is what an invocation produced.
type Result struct {
	// Text is the agent's final result message.
	Text string
	// Stats tallies tool activity.
	Stats Stats
	// ToolCalls is the full tool-call log, in order. The enforcement
	// checks scan it for source-directory access during DDV phases.
	ToolCalls []ToolCall
	// Usage is the token accounting.
	Usage Usage
	// CostUSD is the total cost reported for the invocation.
	CostUSD float64
	// Elapsed is the wall-clock duration.
	Elapsed time.Duration
}

// Runner runs agent invocations. Implementations must be safe to call
// sequentially; the spiral never runs two invocations at once.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (*Result, error)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
