// Package git provides the version-control adapter for the spiral.
//
// Everything goes through the git CLI. The CommandExecutor interface
// abstracts command execution so tests can script git's behavior without
// a real repository.
package git

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/freol35241/lisa-loop/internal/errors"
)

// PassTagPrefix is the namespace for per-pass tags: lisa/pass-N.
const PassTagPrefix = "lisa/pass-"

// CommandExecutor abstracts command execution for testability.
type CommandExecutor interface {
	// Run executes a command and returns combined output.
	Run(dir string, name string, args ...string) ([]byte, error)

	// RunQuiet executes a command and returns only the error.
	RunQuiet(dir string, name string, args ...string) error
}

// CLICommandExecutor executes commands using os/exec.
type CLICommandExecutor struct{}

// NewCLICommandExecutor creates a new CLI command executor.
func NewCLICommandExecutor() *CLICommandExecutor {
	return &CLICommandExecutor{}
}

// Run executes a command and returns combined output.
func (e *CLICommandExecutor) Run(dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// RunQuiet executes a command and returns only the error.
func (e *CLICommandExecutor) RunQuiet(dir string, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	return cmd.Run()
}

// Client wraps the git operations the spiral needs, rooted at one
// repository directory.
type Client struct {
	repoDir  string
	executor CommandExecutor
}

// NewClient creates a Client for the repository at repoDir.
func NewClient(repoDir string) *Client {
	return &Client{repoDir: repoDir, executor: NewCLICommandExecutor()}
}

// NewClientWithExecutor creates a Client with a custom executor.
// This is primarily useful for testing.
func NewClientWithExecutor(repoDir string, executor CommandExecutor) *Client {
	return &Client{repoDir: repoDir, executor: executor}
}

// RepoDir returns the repository directory the client operates on.
func (c *Client) RepoDir() string {
	return c.repoDir
}

// IsRepo reports whether repoDir is inside a git work tree.
func (c *Client) IsRepo() bool {
	return c.executor.RunQuiet(c.repoDir, "git", "rev-parse", "--is-inside-work-tree") == nil
}

// CurrentBranch returns the current branch name.
func (c *Client) CurrentBranch() (string, error) {
	output, err := c.executor.Run(c.repoDir, "git", "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", errors.NewGitError("failed to resolve current branch", err).
			WithRepository(c.repoDir).
			WithGitOutput(string(output))
	}
	return strings.TrimSpace(string(output)), nil
}

// CommitAll stages everything and commits with the given message.
// Returns true if a commit was created, false when there was nothing
// staged to commit.
func (c *Client) CommitAll(message string) (bool, error) {
	output, err := c.executor.Run(c.repoDir, "git", "add", "-A")
	if err != nil {
		return false, errors.NewGitError("failed to stage changes", err).
			WithRepository(c.repoDir).
			WithGitOutput(string(output))
	}

	// Exit 0 means the index matches HEAD: nothing staged.
	if c.executor.RunQuiet(c.repoDir, "git", "diff", "--cached", "--quiet") == nil {
		return false, nil
	}

	output, err = c.executor.Run(c.repoDir, "git", "commit", "-m", message)
	if err != nil {
		return false, errors.NewGitError("failed to commit changes", err).
			WithRepository(c.repoDir).
			WithGitOutput(string(output))
	}
	return true, nil
}

// Push pushes the current branch to origin with upstream tracking.
func (c *Client) Push() error {
	branch, err := c.CurrentBranch()
	if err != nil {
		return err
	}

	output, err := c.executor.Run(c.repoDir, "git", "push", "-u", "origin", branch)
	if err != nil {
		return errors.NewGitError("failed to push branch "+branch, err).
			WithRepository(c.repoDir).
			WithGitOutput(string(output)).
			WithSeverity(errors.SeverityWarning)
	}
	return nil
}

// HasUncommittedChanges reports whether tracked files differ from HEAD,
// staged or unstaged. Untracked files don't count.
func (c *Client) HasUncommittedChanges() (bool, error) {
	output, err := c.executor.Run(c.repoDir, "git", "diff", "--name-only")
	if err != nil {
		return false, errors.NewGitError("failed to check for unstaged changes", err).
			WithRepository(c.repoDir).
			WithGitOutput(string(output))
	}
	if len(strings.TrimSpace(string(output))) > 0 {
		return true, nil
	}

	output, err = c.executor.Run(c.repoDir, "git", "diff", "--cached", "--name-only")
	if err != nil {
		return false, errors.NewGitError("failed to check for staged changes", err).
			WithRepository(c.repoDir).
			WithGitOutput(string(output))
	}
	return len(strings.TrimSpace(string(output))) > 0, nil
}

// UntrackedFiles returns untracked paths under the given directory.
func (c *Client) UntrackedFiles(dir string) ([]string, error) {
	output, err := c.executor.Run(c.repoDir, "git", "ls-files", "--others", "--exclude-standard", "--", dir)
	if err != nil {
		return nil, errors.NewGitError("failed to list untracked files", err).
			WithRepository(c.repoDir).
			WithGitOutput(string(output))
	}

	var files []string
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		if line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// CreateTag creates or moves the named tag to HEAD. Re-running a pass
// review re-tags the same pass, so existing tags are replaced.
func (c *Client) CreateTag(name string) error {
	output, err := c.executor.Run(c.repoDir, "git", "tag", "-f", name)
	if err != nil {
		return errors.NewGitError("failed to create tag "+name, err).
			WithRepository(c.repoDir).
			WithGitOutput(string(output))
	}
	return nil
}

// TagExists reports whether the named tag exists.
func (c *Client) TagExists(name string) bool {
	return c.executor.RunQuiet(c.repoDir, "git", "rev-parse", "--verify", "refs/tags/"+name) == nil
}

// PassTag returns the tag name for a pass.
func PassTag(pass int) string {
	return fmt.Sprintf("%s%d", PassTagPrefix, pass)
}

var passTagRe = regexp.MustCompile(`^lisa/pass-(\d+)$`)

// ListPassTags returns the pass numbers that have tags, sorted ascending.
func (c *Client) ListPassTags() ([]int, error) {
	output, err := c.executor.Run(c.repoDir, "git", "tag", "--list", PassTagPrefix+"*")
	if err != nil {
		return nil, errors.NewGitError("failed to list pass tags", err).
			WithRepository(c.repoDir).
			WithGitOutput(string(output))
	}

	var passes []int
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		if m := passTagRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				passes = append(passes, n)
			}
		}
	}
	sort.Ints(passes)
	return passes, nil
}

// CreateBranch creates a branch at HEAD without switching to it.
func (c *Client) CreateBranch(name string) error {
	output, err := c.executor.Run(c.repoDir, "git", "branch", name)
	if err != nil {
		return errors.NewGitError("failed to create branch "+name, err).
			WithRepository(c.repoDir).
			WithGitOutput(string(output))
	}
	return nil
}

// ResetHard resets the work tree and index to the given ref.
func (c *Client) ResetHard(ref string) error {
	output, err := c.executor.Run(c.repoDir, "git", "reset", "--hard", ref)
	if err != nil {
		return errors.NewGitError("failed to reset to "+ref, err).
			WithRepository(c.repoDir).
			WithGitOutput(string(output))
	}
	return nil
}

// ShowFile returns the contents of path as it exists at ref.
func (c *Client) ShowFile(ref, path string) ([]byte, error) {
	output, err := c.executor.Run(c.repoDir, "git", "show", ref+":"+path)
	if err != nil {
		return nil, errors.NewGitError(fmt.Sprintf("failed to read %s at %s", path, ref), err).
			WithRepository(c.repoDir).
			WithGitOutput(string(output))
	}
	return output, nil
}

// RevertPath discards staged and unstaged changes to tracked files under
// path. Paths git doesn't know about are left alone.
func (c *Client) RevertPath(path string) error {
	// Unstage first so checkout sees the working-tree change.
	_ = c.executor.RunQuiet(c.repoDir, "git", "reset", "HEAD", "--", path)

	output, err := c.executor.Run(c.repoDir, "git", "checkout", "--", path)
	if err != nil {
		// Nothing tracked under the path is fine.
		if strings.Contains(string(output), "did not match any file") ||
			strings.Contains(string(output), "pathspec") {
			return nil
		}
		return errors.NewGitError("failed to revert "+path, err).
			WithRepository(c.repoDir).
			WithGitOutput(string(output))
	}
	return nil
}

// ModifiedPaths returns tracked files under path with staged or unstaged
// changes.
func (c *Client) ModifiedPaths(path string) ([]string, error) {
	seen := map[string]bool{}
	var files []string

	for _, args := range [][]string{
		{"diff", "--name-only", "--", path},
		{"diff", "--cached", "--name-only", "--", path},
	} {
		output, err := c.executor.Run(c.repoDir, "git", args...)
		if err != nil {
			return nil, errors.NewGitError("failed to list modified paths", err).
				WithRepository(c.repoDir).
				WithGitOutput(string(output))
		}
		for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
			if line != "" && !seen[line] {
				seen[line] = true
				files = append(files, line)
			}
		}
	}
	return files, nil
}

// SourceChanged reports whether the last commit touched any of the given
// directories. With fewer than two commits there is no diff to take and
// the answer is false.
func (c *Client) SourceChanged(dirs []string) (bool, error) {
	if c.executor.RunQuiet(c.repoDir, "git", "rev-parse", "--verify", "HEAD~1") != nil {
		return false, nil
	}

	args := []string{"diff", "--name-only", "HEAD~1", "HEAD", "--"}
	args = append(args, dirs...)
	output, err := c.executor.Run(c.repoDir, "git", args...)
	if err != nil {
		return false, errors.NewGitError("failed to diff last commit", err).
			WithRepository(c.repoDir).
			WithGitOutput(string(output))
	}
	return len(strings.TrimSpace(string(output))) > 0, nil
}

// DeleteUntracked removes the named untracked files from the work tree.
func (c *Client) DeleteUntracked(files []string) error {
	for _, f := range files {
		output, err := c.executor.Run(c.repoDir, "git", "clean", "-f", "--", f)
		if err != nil {
			return errors.NewGitError("failed to delete untracked file "+f, err).
				WithRepository(c.repoDir).
				WithGitOutput(string(output))
		}
	}
	return nil
}

// FindRoot walks up from startDir looking for the repository root. A
// .git that is a regular file (a worktree pointer) counts too.
func FindRoot(startDir string) (string, error) {
	dir := startDir
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			if info.IsDir() || info.Mode().IsRegular() {
				return dir, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.NewGitError("not a git repository (or any parent up to mount point)",
				errors.ErrNotGitRepository).WithRepository(startDir)
		}
		dir = parent
	}
}
