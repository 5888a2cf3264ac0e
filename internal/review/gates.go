package review

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/freol35241/lisa-loop/internal/tasks"
	"github.com/freol35241/lisa-loop/internal/term"
)

// ScopeDecision is the scope gate's outcome.
type ScopeDecision int

const (
	ScopeApprove ScopeDecision = iota
	ScopeRefine
	ScopeEdit
	ScopeQuit
)

// PassDecision is the pass gate's outcome.
type PassDecision int

const (
	PassAccept PassDecision = iota
	PassContinue
	PassRedirect
)

// BlockDecision is the blocked-task gate's outcome.
type BlockDecision int

const (
	BlockFix BlockDecision = iota
	BlockSkip
	BlockAbort
)

// Gates runs the review gates. With Pause false every gate returns its
// safe default without consulting the Prompter: Approve for scope,
// Continue for pass, Skip for blocked tasks, proceed for environment.
type Gates struct {
	Prompter term.Prompter
	Term     *term.Terminal
	Pause    bool
	LisaRoot string
}

// ReviewScope shows the scope digest and asks the operator what to do
// with it. The refine path collects feedback lines and writes them to
// the scope feedback file before returning.
func (g *Gates) ReviewScope(scopePath string) (ScopeDecision, error) {
	if !g.Pause {
		return ScopeApprove, nil
	}

	content, err := os.ReadFile(scopePath)
	if err != nil {
		return ScopeQuit, fmt.Errorf("failed to read scope document: %w", err)
	}
	g.showScopeDigest(string(content))

	choice, err := g.Prompter.Choice("Scope ready.", []term.Option{
		{Key: 'a', Label: "Approve"},
		{Key: 'r', Label: "Refine"},
		{Key: 'e', Label: "Edit"},
		{Key: 'q', Label: "Quit"},
	})
	if err != nil {
		return ScopeQuit, err
	}

	switch choice {
	case 'r':
		if err := g.collectScopeFeedback(); err != nil {
			return ScopeQuit, err
		}
		return ScopeRefine, nil
	case 'e':
		if err := g.Prompter.OpenEditor(scopePath); err != nil {
			return ScopeQuit, err
		}
		return ScopeEdit, nil
	case 'q':
		return ScopeQuit, nil
	default:
		return ScopeApprove, nil
	}
}

// showScopeDigest prints the condensed scope summary.
func (g *Gates) showScopeDigest(content string) {
	g.Term.Separator()
	if q := ExtractPrimaryQuestion(content); q != "" {
		g.Term.Info("Question: %s", q)
	}
	for _, line := range ExtractAcceptanceLines(content, 5) {
		g.Term.Info("  %s", line)
	}
	if m := ExtractMethodology(content); m != "" {
		g.Term.Info("Approach: %s", m)
	}
	if n := CountVerificationCases(content); n > 0 {
		g.Term.Info("Verification cases: %d", n)
	}
	if s := ExtractStackInfo(content); s != "" {
		g.Term.Info("Stack: %s", s)
	} else {
		g.Term.Warnf("Stack: unresolved")
	}
	g.Term.Separator()
}

// collectScopeFeedback reads feedback lines until an empty line and
// writes them to the scope feedback file.
func (g *Gates) collectScopeFeedback() error {
	g.Term.Info("Enter feedback for the scoping agent; empty line to finish.")

	var lines []string
	for {
		line, err := g.Prompter.Line(">")
		if err != nil {
			return err
		}
		if line == "" {
			break
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return nil
	}

	path := ScopeFeedbackPath(g.LisaRoot)
	return os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644)
}

// ScopeFeedbackPath is where refine feedback for the scoping agent goes.
func ScopeFeedbackPath(lisaRoot string) string {
	return filepath.Join(lisaRoot, "scope-feedback.md")
}

// RedirectPath is where a pass redirect file lives.
func RedirectPath(lisaRoot string, pass int) string {
	return filepath.Join(lisaRoot, fmt.Sprintf("redirect-pass-%d.md", pass))
}

// ReviewPass shows the pass digest and asks how to proceed. A Redirect
// choice writes the template, opens the editor, and downgrades to
// Continue when the operator saved it without real content.
func (g *Gates) ReviewPass(pass int, counts tasks.Counts, passCost float64) (PassDecision, error) {
	if !g.Pause {
		return PassContinue, nil
	}

	g.Term.Separator()
	g.Term.Info("Pass %d finished: %s", pass, counts)
	g.Term.Info("Pass cost: $%.4f", passCost)
	g.Term.Separator()

	choice, err := g.Prompter.Choice(fmt.Sprintf("Pass %d done.", pass), []term.Option{
		{Key: 'c', Label: "Continue"},
		{Key: 'a', Label: "Accept & finish"},
		{Key: 'r', Label: "Redirect"},
	})
	if err != nil {
		return PassContinue, err
	}

	switch choice {
	case 'a':
		return PassAccept, nil
	case 'r':
		redirected, err := g.collectRedirect(pass)
		if err != nil {
			return PassContinue, err
		}
		if !redirected {
			g.Term.Info("Redirect file left empty; continuing.")
			return PassContinue, nil
		}
		return PassRedirect, nil
	default:
		return PassContinue, nil
	}
}

// collectRedirect writes the redirect template for the NEXT pass and
// opens it in the editor. Returns false when the saved file has no real
// content.
func (g *Gates) collectRedirect(pass int) (bool, error) {
	nextPass := pass + 1
	path := RedirectPath(g.LisaRoot, nextPass)

	if err := os.WriteFile(path, []byte(RedirectTemplate(nextPass)), 0644); err != nil {
		return false, fmt.Errorf("failed to write redirect template: %w", err)
	}
	if err := g.Prompter.OpenEditor(path); err != nil {
		return false, err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	if !HasRealContent(string(content)) {
		os.Remove(path)
		return false, nil
	}
	return true, nil
}

// ReviewBlocked lists the blocked tasks and asks how to handle them.
func (g *Gates) ReviewBlocked(titles []string) (BlockDecision, error) {
	if !g.Pause {
		return BlockSkip, nil
	}

	g.Term.Warnf("Blocked tasks:")
	for _, title := range titles {
		g.Term.Info("  %s", title)
	}

	choice, err := g.Prompter.Choice("Blocked tasks found.", []term.Option{
		{Key: 's', Label: "Skip"},
		{Key: 'f', Label: "Fix manually"},
		{Key: 'a', Label: "Abort"},
	})
	if err != nil {
		return BlockSkip, err
	}

	switch choice {
	case 'f':
		// The operator intervenes out of band; wait for a keypress
		// before re-entering the loop.
		if _, err := g.Prompter.Line("Press enter when the blockage is resolved."); err != nil {
			return BlockSkip, err
		}
		return BlockFix, nil
	case 'a':
		return BlockAbort, nil
	default:
		return BlockSkip, nil
	}
}

// EnvironmentResolutionPath is where the scoping agent records
// environment problems it could not resolve itself.
func EnvironmentResolutionPath(lisaRoot string) string {
	return filepath.Join(lisaRoot, "environment-resolution.md")
}

// ReviewEnvironment fires only when the scoping agent left a non-empty
// environment-resolution file. Returns true when the operator fixed the
// environment and scoping should rerun, false to proceed as-is.
func (g *Gates) ReviewEnvironment() (bool, error) {
	path := EnvironmentResolutionPath(g.LisaRoot)
	content, err := os.ReadFile(path)
	if err != nil || len(strings.TrimSpace(string(content))) == 0 {
		return false, nil
	}

	g.Term.Warnf("The scoping agent reported environment problems:")
	g.Term.Print(string(content) + "\n")

	if !g.Pause {
		return false, nil
	}

	choice, err := g.Prompter.Choice("Environment needs attention.", []term.Option{
		{Key: 's', Label: "Skip"},
		{Key: 'f', Label: "Fix & rescope"},
	})
	if err != nil {
		return false, err
	}

	if choice == 'f' {
		if _, err := g.Prompter.Line("Press enter when the environment is fixed."); err != nil {
			return false, err
		}
		os.Remove(path)
		return true, nil
	}
	return false, nil
}
