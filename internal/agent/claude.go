package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/freol35241/lisa-loop/internal/errors"
	"github.com/freol35241/lisa-loop/internal/logging"
	"github.com/freol35241/lisa-loop/internal/term"
)

// ErrorLogFileName is where the raw output of a failed invocation is
// saved under the lisa root.
const ErrorLogFileName = "last-error.md"

// ClaudeRunner drives the claude CLI in stream-json mode.
type ClaudeRunner struct {
	// Binary is the CLI executable, normally "claude".
	Binary string
	// LisaRoot is where error logs are written.
	LisaRoot string
	// Term renders progress; nil disables terminal output.
	Term *term.Terminal
	// Logger receives per-event debug entries.
	Logger *logging.Logger
}

// NewClaudeRunner returns a runner with the standard binary name.
func NewClaudeRunner(lisaRoot string, t *term.Terminal, logger *logging.Logger) *ClaudeRunner {
	return &ClaudeRunner{
		Binary:   "claude",
		LisaRoot: lisaRoot,
		Term:     t,
		Logger:   logger,
	}
}

// Run executes one agent invocation and parses its event stream.
func (r *ClaudeRunner) Run(ctx context.Context, inv Invocation) (*Result, error) {
	logger := r.logger().WithPhase(inv.Phase).With("model", inv.Model)

	args := []string{
		"-p",
		"--dangerously-skip-permissions",
		"--verbose",
		"--model", inv.Model,
		"--output-format", "stream-json",
	}

	cmd := exec.CommandContext(ctx, r.Binary, args...)
	cmd.Dir = inv.WorkDir
	cmd.Stdin = strings.NewReader(inv.Prompt)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.NewAgentError("failed to open agent stdout", err).WithModel(inv.Model).WithPhase(inv.Phase)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, errors.NewAgentError("failed to start agent", errors.Join(errors.ErrAgentFailed, err)).
			WithModel(inv.Model).WithPhase(inv.Phase)
	}

	var status *statusLine
	if r.Term != nil && inv.Collapse {
		status = newStatusLine(r.Term.Out(), inv.Phase, start)
		status.start()
	}

	parser := newStreamParser()
	var rawLines []string

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		rawLines = append(rawLines, line)

		for _, ev := range parser.feed(line) {
			switch ev.kind {
			case eventToolUse:
				logger.Debug("tool use", "tool", ev.tool.Name, "path", ev.tool.Path)
				if status != nil {
					status.update(parser.stats.ToolCount, ev.tool.Display())
				} else if r.Term != nil {
					r.Term.Info("  %s", ev.tool.Display())
				}
			case eventThinking:
				if r.Term != nil && !inv.Collapse {
					r.Term.Print(term.Muted.Render("  "+truncate(ev.text, 200)) + "\n")
				}
			}
		}
	}
	scanErr := scanner.Err()
	waitErr := cmd.Wait()

	if status != nil {
		status.stop()
	}

	elapsed := time.Since(start)

	if waitErr != nil || scanErr != nil || !parser.sawResult {
		raw := strings.Join(rawLines, "\n")
		logPath := r.writeErrorLog(inv, raw, stderr.String(), waitErr)

		cause := waitErr
		if cause == nil {
			cause = scanErr
		}
		if cause == nil {
			cause = errors.ErrAgentEmptyOutput
		}
		return nil, errors.NewAgentError("agent invocation failed", errors.Join(errors.ErrAgentFailed, cause)).
			WithModel(inv.Model).
			WithPhase(inv.Phase).
			WithErrorLog(logPath)
	}

	result := parser.result()
	result.Elapsed = elapsed

	if status != nil {
		status.finish(result)
	} else if r.Term != nil {
		r.Term.Successf("agent done: %d tools, $%.4f, %s",
			result.Stats.ToolCount, result.CostUSD, elapsed.Round(time.Second))
	}
	logger.Info("agent invocation complete",
		"tools", result.Stats.ToolCount,
		"file_writes", result.Stats.FileWrites,
		"cost_usd", result.CostUSD,
		"elapsed_secs", elapsed.Seconds())

	return result, nil
}

func (r *ClaudeRunner) logger() *logging.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return logging.NopLogger()
}

// writeErrorLog persists the raw agent output so the failure can be
// inspected after the process exits. Returns the path, or "" if even
// that failed.
func (r *ClaudeRunner) writeErrorLog(inv Invocation, raw, stderr string, cause error) string {
	if r.LisaRoot == "" {
		return ""
	}
	if err := os.MkdirAll(r.LisaRoot, 0755); err != nil {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Agent failure\n\n")
	fmt.Fprintf(&b, "- Phase: %s\n- Model: %s\n- Time: %s\n", inv.Phase, inv.Model, time.Now().Format(time.RFC3339))
	if cause != nil {
		fmt.Fprintf(&b, "- Error: %v\n", cause)
	}
	fmt.Fprintf(&b, "\n## Stderr\n\n```\n%s\n```\n", strings.TrimSpace(stderr))
	fmt.Fprintf(&b, "\n## Event stream\n\n```\n%s\n```\n", raw)

	path := filepath.Join(r.LisaRoot, ErrorLogFileName)
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return ""
	}
	return path
}

// -----------------------------------------------------------------------------
// Event stream parsing
// -----------------------------------------------------------------------------

type eventKind int

const (
	eventOther eventKind = iota
	eventToolUse
	eventThinking
)

type streamEvent struct {
	kind eventKind
	tool ToolCall
	text string
}

// streamParser accumulates state across NDJSON lines.
type streamParser struct {
	stats     Stats
	toolCalls []ToolCall
	usage     Usage
	costUSD   float64
	text      string
	sawResult bool
}

func newStreamParser() *streamParser {
	return &streamParser{}
}

// rawEvent mirrors just the fields we consume from the stream.
type rawEvent struct {
	Type    string `json:"type"`
	Message struct {
		Content []rawContent `json:"content"`
	} `json:"message"`
	Result       string   `json:"result"`
	TotalCostUSD float64  `json:"total_cost_usd"`
	Usage        rawUsage `json:"usage"`
}

type rawContent struct {
	Type     string          `json:"type"`
	Thinking string          `json:"thinking"`
	Name     string          `json:"name"`
	Input    json.RawMessage `json:"input"`
}

type rawUsage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
}

type rawToolInput struct {
	FilePath    string `json:"file_path"`
	Command     string `json:"command"`
	Pattern     string `json:"pattern"`
	Description string `json:"description"`
}

// feed parses one stream line and returns the displayable events it
// contained. Unparseable lines are skipped: the CLI occasionally
// interleaves plain text with the JSON events.
func (p *streamParser) feed(line string) []streamEvent {
	line = strings.TrimSpace(line)
	if line == "" || !strings.HasPrefix(line, "{") {
		return nil
	}

	var ev rawEvent
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		return nil
	}

	var events []streamEvent
	switch ev.Type {
	case "assistant":
		for _, c := range ev.Message.Content {
			switch c.Type {
			case "thinking":
				if c.Thinking != "" {
					events = append(events, streamEvent{kind: eventThinking, text: c.Thinking})
				}
			case "tool_use":
				tc := parseToolCall(c)
				p.record(tc)
				events = append(events, streamEvent{kind: eventToolUse, tool: tc})
			}
		}
	case "result":
		p.sawResult = true
		p.text = ev.Result
		p.costUSD = ev.TotalCostUSD
		p.usage = Usage{
			InputTokens:              ev.Usage.InputTokens,
			OutputTokens:             ev.Usage.OutputTokens,
			CacheCreationInputTokens: ev.Usage.CacheCreationInputTokens,
			CacheReadInputTokens:     ev.Usage.CacheReadInputTokens,
		}
	}
	return events
}

// record tallies a tool call into the stats.
func (p *streamParser) record(tc ToolCall) {
	p.stats.ToolCount++
	p.toolCalls = append(p.toolCalls, tc)

	switch tc.Name {
	case ToolWrite, ToolEdit:
		p.stats.FileWrites++
	case ToolBash:
		cmd := strings.ToLower(tc.Command)
		if strings.Contains(cmd, "test") || strings.Contains(cmd, "pytest") {
			p.stats.TestRuns++
		}
	}
}

// parseToolCall extracts the salient input field for a tool.
func parseToolCall(c rawContent) ToolCall {
	tc := ToolCall{Name: c.Name}

	var input rawToolInput
	if len(c.Input) > 0 {
		_ = json.Unmarshal(c.Input, &input)
	}

	switch {
	case input.FilePath != "":
		tc.Path = input.FilePath
	case input.Command != "":
		tc.Command = input.Command
	case input.Pattern != "":
		tc.Detail = input.Pattern
	case input.Description != "":
		tc.Detail = input.Description
	}
	return tc
}

// result assembles the final Result. Valid only after sawResult.
func (p *streamParser) result() *Result {
	return &Result{
		Text:      p.text,
		Stats:     p.stats,
		ToolCalls: p.toolCalls,
		Usage:     p.usage,
		CostUSD:   p.costUSD,
	}
}
