// Package enforcement keeps the DDV phase honest. The domain
// verification tests are only meaningful if they were written without
// touching the implementation, so after a DDV agent run the tool-call
// log is scanned for source-directory access, and during the build loop
// any modification to the DDV test directory is reverted.
//
// This is drift detection, not sandboxing: the agent already ran with
// full permissions. The checks catch and surface violations; they do not
// prevent them.
package enforcement

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/freol35241/lisa-loop/internal/agent"
	"github.com/freol35241/lisa-loop/internal/errors"
)

// Violation is one tool call that touched a forbidden path.
type Violation struct {
	Tool   string
	Target string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Tool, v.Target)
}

// VerifyIsolation scans a DDV agent's tool-call log for access to the
// configured source directories. Read, Write and Edit calls are checked
// by path; Bash commands are checked for source-directory mentions. Any
// hit is fatal: the verification tests were contaminated by knowledge
// of the implementation.
func VerifyIsolation(calls []agent.ToolCall, sourceDirs []string, projectRoot string) error {
	var violations []Violation

	for _, call := range calls {
		switch call.Name {
		case agent.ToolRead, agent.ToolWrite, agent.ToolEdit:
			if dir, ok := underSource(call.Path, sourceDirs, projectRoot); ok {
				violations = append(violations, Violation{Tool: call.Name, Target: call.Path + " (under " + dir + ")"})
			}
		case agent.ToolBash:
			if dir, ok := commandMentionsSource(call.Command, sourceDirs); ok {
				violations = append(violations, Violation{Tool: call.Name, Target: call.Command + " (mentions " + dir + ")"})
			}
		}
	}

	if len(violations) == 0 {
		return nil
	}

	var lines []string
	for _, v := range violations {
		lines = append(lines, "  "+v.String())
	}
	return errors.NewAgentError(
		fmt.Sprintf("DDV agent accessed source directories:\n%s", strings.Join(lines, "\n")),
		errors.ErrIsolationViolated)
}

// underSource reports whether path resolves under any of the source
// directories. Handles the forms agents actually produce: relative
// ("src/x.go"), explicitly relative ("./src/x.go"), absolute under the
// project root, and the directory itself.
func underSource(path string, sourceDirs []string, projectRoot string) (string, bool) {
	if path == "" {
		return "", false
	}

	for _, dir := range sourceDirs {
		if path == dir || strings.HasPrefix(path, dir+"/") {
			return dir, true
		}
		if path == "./"+dir || strings.HasPrefix(path, "./"+dir+"/") {
			return dir, true
		}
		abs := filepath.Join(projectRoot, dir)
		if path == abs || strings.HasPrefix(path, abs+"/") {
			return dir, true
		}
	}
	return "", false
}

// commandMentionsSource reports whether a shell command references a
// source directory as an argument. Matching " src/" and " ./src/" keeps
// false positives down; a command like "grep -r foo src/" is exactly
// what this should catch.
func commandMentionsSource(command string, sourceDirs []string) (string, bool) {
	for _, dir := range sourceDirs {
		if strings.Contains(command, " "+dir+"/") || strings.Contains(command, " ./"+dir+"/") {
			return dir, true
		}
	}
	return "", false
}

// gitReverter is the slice of the git client the build-loop revert needs.
type gitReverter interface {
	ModifiedPaths(path string) ([]string, error)
	RevertPath(path string) error
	UntrackedFiles(dir string) ([]string, error)
	DeleteUntracked(files []string) error
}

// RevertTestChanges undoes any modification to the DDV test directory:
// tracked changes are checked out from HEAD and untracked files deleted.
// Called after every build iteration, since build agents are told not to
// touch the verification tests but occasionally try. Returns the paths
// that were reverted or removed.
func RevertTestChanges(git gitReverter, ddvDir string) ([]string, error) {
	var touched []string

	modified, err := git.ModifiedPaths(ddvDir)
	if err != nil {
		return nil, err
	}
	if len(modified) > 0 {
		if err := git.RevertPath(ddvDir); err != nil {
			return nil, err
		}
		touched = append(touched, modified...)
	}

	untracked, err := git.UntrackedFiles(ddvDir)
	if err != nil {
		return nil, err
	}
	if len(untracked) > 0 {
		if err := git.DeleteUntracked(untracked); err != nil {
			return nil, err
		}
		touched = append(touched, untracked...)
	}

	return touched, nil
}
