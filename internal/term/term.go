// Package term handles everything the operator sees and types: styled
// log lines, separators, and the interactive prompts behind the review
// gates. Structured logging for post-hoc analysis lives in the logging
// package; this one is strictly for the terminal.
package term

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	// Colors
	PrimaryColor = lipgloss.Color("#A78BFA") // Purple
	SuccessColor = lipgloss.Color("#10B981") // Green
	WarningColor = lipgloss.Color("#F59E0B") // Amber
	ErrorColor   = lipgloss.Color("#F87171") // Red
	MutedColor   = lipgloss.Color("#9CA3AF") // Gray

	// Convenience styles
	Primary = lipgloss.NewStyle().Foreground(PrimaryColor)
	Success = lipgloss.NewStyle().Foreground(SuccessColor)
	Warning = lipgloss.NewStyle().Foreground(WarningColor)
	Error   = lipgloss.NewStyle().Foreground(ErrorColor)
	Muted   = lipgloss.NewStyle().Foreground(MutedColor)
	Bold    = lipgloss.NewStyle().Bold(true)

	PhaseStyle = lipgloss.NewStyle().Bold(true).Foreground(PrimaryColor)
)

// Terminal writes styled output and reads operator input. The zero
// value is not usable; construct with New.
type Terminal struct {
	out io.Writer
	in  *bufio.Reader
}

// New returns a Terminal on stdout/stdin.
func New() *Terminal {
	return &Terminal{out: os.Stdout, in: bufio.NewReader(os.Stdin)}
}

// NewWith returns a Terminal on the given writer and reader. Tests use
// this to script input and capture output.
func NewWith(out io.Writer, in io.Reader) *Terminal {
	return &Terminal{out: out, in: bufio.NewReader(in)}
}

// prefix renders the timestamped [lisa HH:MM:SS] prefix.
func prefix() string {
	return Muted.Render(fmt.Sprintf("[lisa %s]", time.Now().Format("15:04:05")))
}

// Info prints an informational line.
func (t *Terminal) Info(format string, args ...any) {
	fmt.Fprintf(t.out, "%s %s\n", prefix(), fmt.Sprintf(format, args...))
}

// Successf prints a success line.
func (t *Terminal) Successf(format string, args ...any) {
	fmt.Fprintf(t.out, "%s %s\n", prefix(), Success.Render(fmt.Sprintf(format, args...)))
}

// Warnf prints a warning line.
func (t *Terminal) Warnf(format string, args ...any) {
	fmt.Fprintf(t.out, "%s %s\n", prefix(), Warning.Render(fmt.Sprintf(format, args...)))
}

// Errorf prints an error line.
func (t *Terminal) Errorf(format string, args ...any) {
	fmt.Fprintf(t.out, "%s %s\n", prefix(), Error.Render(fmt.Sprintf(format, args...)))
}

// Phase prints a phase banner.
func (t *Terminal) Phase(format string, args ...any) {
	fmt.Fprintf(t.out, "\n%s %s\n", prefix(), PhaseStyle.Render(fmt.Sprintf(format, args...)))
}

// Separator prints a horizontal rule.
func (t *Terminal) Separator() {
	fmt.Fprintln(t.out, Muted.Render(strings.Repeat("─", 60)))
}

// Print writes raw text with no prefix.
func (t *Terminal) Print(text string) {
	fmt.Fprint(t.out, text)
}

// Out exposes the underlying writer for components that render their
// own lines, like the live agent status.
func (t *Terminal) Out() io.Writer {
	return t.out
}

// Option is one selectable answer in a Choice prompt.
type Option struct {
	Key   rune
	Label string
}

// Prompter is the capability the review gates need from the terminal.
// A scripted implementation stands in for the operator in tests.
type Prompter interface {
	// Choice presents options and returns the chosen key. The first
	// option is the default, taken on empty input.
	Choice(prompt string, opts []Option) (rune, error)

	// Line reads one line of free-form input.
	Line(prompt string) (string, error)

	// Confirm asks a yes/no question; empty input means no.
	Confirm(prompt string) (bool, error)

	// OpenEditor opens the operator's editor on path and blocks until
	// it exits.
	OpenEditor(path string) error
}

// Choice implements Prompter.
func (t *Terminal) Choice(prompt string, opts []Option) (rune, error) {
	var keys []string
	for _, o := range opts {
		keys = append(keys, fmt.Sprintf("[%c] %s", o.Key, o.Label))
	}
	fmt.Fprintf(t.out, "%s %s %s ", prefix(), prompt, Muted.Render(strings.Join(keys, " / ")))

	line, err := t.in.ReadString('\n')
	if err != nil && line == "" {
		// Stdin closed: take the default rather than wedge the run.
		return opts[0].Key, nil
	}

	answer := strings.TrimSpace(strings.ToLower(line))
	if answer == "" {
		return opts[0].Key, nil
	}
	for _, o := range opts {
		if rune(answer[0]) == o.Key {
			return o.Key, nil
		}
	}

	t.Warnf("unrecognized choice %q, using default", answer)
	return opts[0].Key, nil
}

// Line implements Prompter.
func (t *Terminal) Line(prompt string) (string, error) {
	fmt.Fprintf(t.out, "%s %s ", prefix(), prompt)
	line, err := t.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Confirm implements Prompter.
func (t *Terminal) Confirm(prompt string) (bool, error) {
	answer, err := t.Line(prompt + " [y/N]")
	if err != nil {
		return false, err
	}
	answer = strings.ToLower(answer)
	return answer == "y" || answer == "yes", nil
}

// OpenEditor implements Prompter. The editor is resolved from $EDITOR,
// then $VISUAL, then falls back to vi.
func (t *Terminal) OpenEditor(path string) error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		editor = "vi"
	}

	cmd := exec.Command(editor, path)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("editor %s failed: %w", editor, err)
	}
	return nil
}
