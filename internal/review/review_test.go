package review

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/freol35241/lisa-loop/internal/tasks"
	"github.com/freol35241/lisa-loop/internal/term"
)

const sampleScope = `# Scope

## Primary Question

Can the ingestion pipeline survive a broker restart without data loss?

## Acceptance Criteria

- No messages are dropped during a 30s broker outage
- Recovery completes within 60s of the broker returning
- Duplicate delivery rate stays below 0.1%

## Methodology & Approach

Chaos-test the consumer group against a dockerized broker.

## Verification Cases

### V0-1: clean restart
### V0-2: mid-batch kill
### V1-1: duplicate accounting

## Stack

### Language & Runtime

Python 3.12 with aiokafka
`

func TestExtractPrimaryQuestion(t *testing.T) {
	got := ExtractPrimaryQuestion(sampleScope)
	want := "Can the ingestion pipeline survive a broker restart without data loss?"
	if got != want {
		t.Errorf("ExtractPrimaryQuestion() = %q, want %q", got, want)
	}

	if got := ExtractPrimaryQuestion("## Problem Statement\n\nWhy is it slow?\n"); got != "Why is it slow?" {
		t.Errorf("fallback heading: got %q", got)
	}

	if got := ExtractPrimaryQuestion("no headings here"); got != "" {
		t.Errorf("missing section: got %q, want empty", got)
	}
}

func TestExtractAcceptanceLines(t *testing.T) {
	lines := ExtractAcceptanceLines(sampleScope, 2)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %v", len(lines), lines)
	}
	if !strings.Contains(lines[0], "No messages are dropped") {
		t.Errorf("unexpected first line: %q", lines[0])
	}
}

func TestCountVerificationCases(t *testing.T) {
	if n := CountVerificationCases(sampleScope); n != 3 {
		t.Errorf("CountVerificationCases() = %d, want 3", n)
	}
	if n := CountVerificationCases("# nothing\n"); n != 0 {
		t.Errorf("empty doc: got %d, want 0", n)
	}
}

func TestExtractStackInfo(t *testing.T) {
	if got := ExtractStackInfo(sampleScope); got != "Python 3.12 with aiokafka" {
		t.Errorf("ExtractStackInfo() = %q", got)
	}

	unresolved := "## Stack\n\nTo be resolved during pass 1\n"
	if got := ExtractStackInfo(unresolved); got != "" {
		t.Errorf("unresolved stack should be empty, got %q", got)
	}
}

func TestHasRealContent(t *testing.T) {
	if HasRealContent(RedirectTemplate(2)) {
		t.Error("untouched template should not count as content")
	}
	if !HasRealContent(RedirectTemplate(2) + "\nFocus on the consumer rebalance path.\n") {
		t.Error("added prose should count as content")
	}
	if HasRealContent("# Heading only\n\n<!-- still\na comment -->\n") {
		t.Error("headings and comments should not count")
	}
}

// scriptedPrompter replays canned answers and records editor opens.
type scriptedPrompter struct {
	choices []rune
	lines   []string
	confirm bool

	// editorWrite, when set, replaces the file content on OpenEditor to
	// simulate the operator editing it.
	editorWrite string
	opened      []string
}

func (p *scriptedPrompter) Choice(_ string, opts []term.Option) (rune, error) {
	if len(p.choices) == 0 {
		return opts[0].Key, nil
	}
	c := p.choices[0]
	p.choices = p.choices[1:]
	return c, nil
}

func (p *scriptedPrompter) Line(string) (string, error) {
	if len(p.lines) == 0 {
		return "", nil
	}
	l := p.lines[0]
	p.lines = p.lines[1:]
	return l, nil
}

func (p *scriptedPrompter) Confirm(string) (bool, error) { return p.confirm, nil }

func (p *scriptedPrompter) OpenEditor(path string) error {
	p.opened = append(p.opened, path)
	if p.editorWrite != "" {
		return os.WriteFile(path, []byte(p.editorWrite), 0644)
	}
	return nil
}

func newTestGates(t *testing.T, p *scriptedPrompter, pause bool) *Gates {
	t.Helper()
	return &Gates{
		Prompter: p,
		Term:     term.NewWith(&bytes.Buffer{}, strings.NewReader("")),
		Pause:    pause,
		LisaRoot: t.TempDir(),
	}
}

func TestReviewScopePauseDisabled(t *testing.T) {
	g := newTestGates(t, &scriptedPrompter{choices: []rune{'q'}}, false)

	// Pause off: approve without reading the scope or prompting.
	got, err := g.ReviewScope(filepath.Join(g.LisaRoot, "does-not-exist.md"))
	if err != nil {
		t.Fatalf("ReviewScope() error: %v", err)
	}
	if got != ScopeApprove {
		t.Errorf("ReviewScope() = %v, want ScopeApprove", got)
	}
}

func TestReviewScopeRefineWritesFeedback(t *testing.T) {
	p := &scriptedPrompter{
		choices: []rune{'r'},
		lines:   []string{"narrow to the consumer path", "drop the latency criterion", ""},
	}
	g := newTestGates(t, p, true)

	scopePath := filepath.Join(g.LisaRoot, "scope.md")
	if err := os.WriteFile(scopePath, []byte(sampleScope), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := g.ReviewScope(scopePath)
	if err != nil {
		t.Fatalf("ReviewScope() error: %v", err)
	}
	if got != ScopeRefine {
		t.Fatalf("ReviewScope() = %v, want ScopeRefine", got)
	}

	feedback, err := os.ReadFile(ScopeFeedbackPath(g.LisaRoot))
	if err != nil {
		t.Fatalf("feedback file missing: %v", err)
	}
	if !strings.Contains(string(feedback), "narrow to the consumer path") {
		t.Errorf("feedback not recorded: %q", feedback)
	}
}

func TestReviewScopeEditOpensEditor(t *testing.T) {
	p := &scriptedPrompter{choices: []rune{'e'}}
	g := newTestGates(t, p, true)

	scopePath := filepath.Join(g.LisaRoot, "scope.md")
	if err := os.WriteFile(scopePath, []byte(sampleScope), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := g.ReviewScope(scopePath)
	if err != nil {
		t.Fatalf("ReviewScope() error: %v", err)
	}
	if got != ScopeEdit {
		t.Errorf("ReviewScope() = %v, want ScopeEdit", got)
	}
	if len(p.opened) != 1 || p.opened[0] != scopePath {
		t.Errorf("editor opened on %v, want [%s]", p.opened, scopePath)
	}
}

func TestReviewPassDefaultsToContinue(t *testing.T) {
	g := newTestGates(t, &scriptedPrompter{}, true)

	got, err := g.ReviewPass(1, tasks.Counts{}, 0.42)
	if err != nil {
		t.Fatalf("ReviewPass() error: %v", err)
	}
	if got != PassContinue {
		t.Errorf("ReviewPass() = %v, want PassContinue", got)
	}
}

func TestReviewPassRedirectWithContent(t *testing.T) {
	p := &scriptedPrompter{
		choices:     []rune{'r'},
		editorWrite: RedirectTemplate(3) + "\nPrioritize the rebalance fix.\n",
	}
	g := newTestGates(t, p, true)

	got, err := g.ReviewPass(2, tasks.Counts{}, 1.5)
	if err != nil {
		t.Fatalf("ReviewPass() error: %v", err)
	}
	if got != PassRedirect {
		t.Errorf("ReviewPass() = %v, want PassRedirect", got)
	}

	content, err := os.ReadFile(RedirectPath(g.LisaRoot, 3))
	if err != nil {
		t.Fatalf("redirect file missing: %v", err)
	}
	if !strings.Contains(string(content), "Prioritize the rebalance fix.") {
		t.Errorf("redirect content not saved: %q", content)
	}
}

func TestReviewPassRedirectLeftEmpty(t *testing.T) {
	// Operator picks redirect but saves the template untouched.
	p := &scriptedPrompter{choices: []rune{'r'}}
	g := newTestGates(t, p, true)

	got, err := g.ReviewPass(2, tasks.Counts{}, 0)
	if err != nil {
		t.Fatalf("ReviewPass() error: %v", err)
	}
	if got != PassContinue {
		t.Errorf("ReviewPass() = %v, want PassContinue", got)
	}
	if _, err := os.Stat(RedirectPath(g.LisaRoot, 3)); !os.IsNotExist(err) {
		t.Error("empty redirect file should be removed")
	}
}

func TestReviewBlocked(t *testing.T) {
	cases := []struct {
		name   string
		pause  bool
		choice rune
		want   BlockDecision
	}{
		{"pause off defaults to skip", false, 'a', BlockSkip},
		{"explicit skip", true, 's', BlockSkip},
		{"fix", true, 'f', BlockFix},
		{"abort", true, 'a', BlockAbort},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := &scriptedPrompter{choices: []rune{tc.choice}}
			g := newTestGates(t, p, tc.pause)
			got, err := g.ReviewBlocked([]string{"Task 3: wire the dead-letter queue"})
			if err != nil {
				t.Fatalf("ReviewBlocked() error: %v", err)
			}
			if got != tc.want {
				t.Errorf("ReviewBlocked() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestReviewEnvironment(t *testing.T) {
	t.Run("no file", func(t *testing.T) {
		g := newTestGates(t, &scriptedPrompter{}, true)
		rescope, err := g.ReviewEnvironment()
		if err != nil || rescope {
			t.Errorf("ReviewEnvironment() = %v, %v; want false, nil", rescope, err)
		}
	})

	t.Run("fix and rescope", func(t *testing.T) {
		p := &scriptedPrompter{choices: []rune{'f'}}
		g := newTestGates(t, p, true)
		path := EnvironmentResolutionPath(g.LisaRoot)
		if err := os.WriteFile(path, []byte("docker daemon unreachable\n"), 0644); err != nil {
			t.Fatal(err)
		}

		rescope, err := g.ReviewEnvironment()
		if err != nil {
			t.Fatalf("ReviewEnvironment() error: %v", err)
		}
		if !rescope {
			t.Error("expected rescope after fix")
		}
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Error("resolution file should be removed after fix")
		}
	})

	t.Run("pause off shows but proceeds", func(t *testing.T) {
		g := newTestGates(t, &scriptedPrompter{choices: []rune{'f'}}, false)
		path := EnvironmentResolutionPath(g.LisaRoot)
		if err := os.WriteFile(path, []byte("missing compiler\n"), 0644); err != nil {
			t.Fatal(err)
		}
		rescope, err := g.ReviewEnvironment()
		if err != nil || rescope {
			t.Errorf("ReviewEnvironment() = %v, %v; want false, nil", rescope, err)
		}
	})
}
