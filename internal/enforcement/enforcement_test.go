package enforcement

import (
	"strings"
	"testing"

	"github.com/freol35241/lisa-loop/internal/agent"
	"github.com/freol35241/lisa-loop/internal/errors"
)

func TestVerifyIsolationFlagsSourceAccess(t *testing.T) {
	sourceDirs := []string{"src"}
	root := "/home/dev/project"

	tests := []struct {
		name string
		call agent.ToolCall
	}{
		{"read relative", agent.ToolCall{Name: "Read", Path: "src/engine.go"}},
		{"write dot relative", agent.ToolCall{Name: "Write", Path: "./src/engine.go"}},
		{"edit absolute", agent.ToolCall{Name: "Edit", Path: "/home/dev/project/src/engine.go"}},
		{"read dir itself", agent.ToolCall{Name: "Read", Path: "src"}},
		{"bash source arg", agent.ToolCall{Name: "Bash", Command: "grep -r compute src/"}},
		{"bash dot source arg", agent.ToolCall{Name: "Bash", Command: "cat ./src/engine.go"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyIsolation([]agent.ToolCall{tt.call}, sourceDirs, root)
			if err == nil {
				t.Fatalf("expected violation for %+v", tt.call)
			}
			if !errors.Is(err, errors.ErrIsolationViolated) {
				t.Errorf("expected ErrIsolationViolated, got %v", err)
			}
		})
	}
}

func TestVerifyIsolationAllowsTestWork(t *testing.T) {
	calls := []agent.ToolCall{
		{Name: "Read", Path: ".lisa/scope.md"},
		{Name: "Write", Path: "tests/ddv/test_invariants.py"},
		{Name: "Edit", Path: "tests/ddv/conftest.py"},
		{Name: "Bash", Command: "pytest tests/ddv -x"},
		{Name: "Bash", Command: "mkdir -p tests/ddv"},
		// "srclike" is not "src".
		{Name: "Read", Path: "srclike/file.go"},
		{Name: "Bash", Command: "echo srclike/thing"},
	}

	if err := VerifyIsolation(calls, []string{"src"}, "/p"); err != nil {
		t.Errorf("no violation expected, got %v", err)
	}
}

func TestVerifyIsolationMultipleSourceDirs(t *testing.T) {
	calls := []agent.ToolCall{{Name: "Write", Path: "lib/core.rb"}}

	if err := VerifyIsolation(calls, []string{"app", "lib"}, "/p"); err == nil {
		t.Error("expected violation for second source dir")
	}
}

func TestVerifyIsolationListsAllViolations(t *testing.T) {
	calls := []agent.ToolCall{
		{Name: "Read", Path: "src/a.go"},
		{Name: "Edit", Path: "src/b.go"},
	}

	err := VerifyIsolation(calls, []string{"src"}, "/p")
	if err == nil {
		t.Fatal("expected violations")
	}
	msg := err.Error()
	if !strings.Contains(msg, "src/a.go") || !strings.Contains(msg, "src/b.go") {
		t.Errorf("all violations should be listed, got %q", msg)
	}
}

// fakeReverter scripts the git surface RevertTestChanges touches.
type fakeReverter struct {
	modified  []string
	untracked []string

	reverted []string
	deleted  []string
}

func (f *fakeReverter) ModifiedPaths(path string) ([]string, error) { return f.modified, nil }
func (f *fakeReverter) RevertPath(path string) error {
	f.reverted = append(f.reverted, path)
	return nil
}
func (f *fakeReverter) UntrackedFiles(dir string) ([]string, error) { return f.untracked, nil }
func (f *fakeReverter) DeleteUntracked(files []string) error {
	f.deleted = append(f.deleted, files...)
	return nil
}

func TestRevertTestChanges(t *testing.T) {
	git := &fakeReverter{
		modified:  []string{"tests/ddv/test_a.py"},
		untracked: []string{"tests/ddv/sneaky.py"},
	}

	touched, err := RevertTestChanges(git, "tests/ddv")
	if err != nil {
		t.Fatalf("RevertTestChanges() error = %v", err)
	}

	if len(touched) != 2 {
		t.Errorf("touched = %v, want 2 entries", touched)
	}
	if len(git.reverted) != 1 || git.reverted[0] != "tests/ddv" {
		t.Errorf("reverted = %v", git.reverted)
	}
	if len(git.deleted) != 1 || git.deleted[0] != "tests/ddv/sneaky.py" {
		t.Errorf("deleted = %v", git.deleted)
	}
}

func TestRevertTestChangesCleanTree(t *testing.T) {
	git := &fakeReverter{}

	touched, err := RevertTestChanges(git, "tests/ddv")
	if err != nil {
		t.Fatalf("RevertTestChanges() error = %v", err)
	}
	if len(touched) != 0 {
		t.Errorf("touched = %v, want none", touched)
	}
	if len(git.reverted) != 0 {
		t.Error("nothing should be reverted on a clean tree")
	}
}
