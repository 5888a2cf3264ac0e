package spiral

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/freol35241/lisa-loop/internal/agent"
	"github.com/freol35241/lisa-loop/internal/config"
	"github.com/freol35241/lisa-loop/internal/errors"
	"github.com/freol35241/lisa-loop/internal/logging"
	"github.com/freol35241/lisa-loop/internal/review"
	"github.com/freol35241/lisa-loop/internal/state"
	"github.com/freol35241/lisa-loop/internal/term"
)

// fakeGit records calls and answers from canned values.
type fakeGit struct {
	commits       []string
	tags          []string
	branches      []string
	resets        []string
	sourceChanged bool
	dirty         bool
	pushErr       error
	existingTags  map[string]bool
	shown         map[string][]byte
}

func newFakeGit() *fakeGit {
	return &fakeGit{existingTags: map[string]bool{}, shown: map[string][]byte{}}
}

func (g *fakeGit) CommitAll(message string) (bool, error) {
	g.commits = append(g.commits, message)
	return true, nil
}
func (g *fakeGit) Push() error { return g.pushErr }
func (g *fakeGit) CreateTag(name string) error {
	g.tags = append(g.tags, name)
	return nil
}
func (g *fakeGit) TagExists(name string) bool { return g.existingTags[name] }
func (g *fakeGit) ListPassTags() ([]int, error) {
	var passes []int
	for tag := range g.existingTags {
		rest, ok := strings.CutPrefix(tag, "lisa/pass-")
		if !ok {
			continue
		}
		if p, err := strconv.Atoi(rest); err == nil {
			passes = append(passes, p)
		}
	}
	return passes, nil
}
func (g *fakeGit) SourceChanged([]string) (bool, error) { return g.sourceChanged, nil }
func (g *fakeGit) HasUncommittedChanges() (bool, error) { return g.dirty, nil }
func (g *fakeGit) CreateBranch(name string) error       { g.branches = append(g.branches, name); return nil }
func (g *fakeGit) ResetHard(ref string) error           { g.resets = append(g.resets, ref); return nil }
func (g *fakeGit) ShowFile(ref, path string) ([]byte, error) {
	if content, ok := g.shown[path]; ok {
		return content, nil
	}
	return nil, errors.New("not found")
}
func (g *fakeGit) ModifiedPaths(string) ([]string, error)  { return nil, nil }
func (g *fakeGit) RevertPath(string) error                 { return nil }
func (g *fakeGit) UntrackedFiles(string) ([]string, error) { return nil, nil }
func (g *fakeGit) DeleteUntracked([]string) error          { return nil }

// fakeRunner records the phases it was invoked for and can mutate the
// workspace per invocation to simulate agent activity.
type fakeRunner struct {
	phases  []string
	results map[string]*agent.Result
	onRun   func(inv agent.Invocation)
	err     error
}

func (r *fakeRunner) Run(_ context.Context, inv agent.Invocation) (*agent.Result, error) {
	r.phases = append(r.phases, inv.Phase)
	if r.onRun != nil {
		r.onRun(inv)
	}
	if r.err != nil {
		return nil, r.err
	}
	if res, ok := r.results[inv.Phase]; ok {
		return res, nil
	}
	return &agent.Result{Text: "done", CostUSD: 0.01}, nil
}

// silentPrompter answers every prompt with the default.
type silentPrompter struct{}

func (silentPrompter) Choice(_ string, opts []term.Option) (rune, error) { return opts[0].Key, nil }
func (silentPrompter) Line(string) (string, error)                       { return "", nil }
func (silentPrompter) Confirm(string) (bool, error)                      { return true, nil }
func (silentPrompter) OpenEditor(string) error                           { return nil }

func newTestController(t *testing.T) (*Controller, *fakeGit, *fakeRunner) {
	t.Helper()

	root := t.TempDir()
	cfg := config.Default()
	cfg.Limits.MaxSpiralPasses = 1
	cfg.Limits.MaxBuildIterations = 5
	cfg.Limits.StallThreshold = 2
	cfg.Review.Pause = false

	if err := os.MkdirAll(filepath.Join(root, cfg.Paths.LisaRoot), 0755); err != nil {
		t.Fatal(err)
	}

	g := newFakeGit()
	r := &fakeRunner{}
	tm := term.NewWith(&bytes.Buffer{}, strings.NewReader(""))
	c := &Controller{
		Config: cfg,
		Git:    g,
		Runner: r,
		Gates: &review.Gates{
			Prompter: silentPrompter{},
			Term:     tm,
			Pause:    false,
			LisaRoot: filepath.Join(root, cfg.Paths.LisaRoot),
		},
		Term:   tm,
		Logger: logging.NopLogger(),
		Root:   root,
	}
	return c, g, r
}

func writePlan(t *testing.T, c *Controller, content string) {
	t.Helper()
	if err := os.WriteFile(c.planPath(), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestRunFullSpiralPass(t *testing.T) {
	c, g, r := newTestController(t)

	if err := c.Run(context.Background(), 0); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	// Scope, then one full pass. The empty plan counts as done, so the
	// build loop runs exactly one iteration.
	want := []string{"scope", "refine", "ddv_red", "build", "execute", "validate"}
	if strings.Join(r.phases, ",") != strings.Join(want, ",") {
		t.Errorf("phases = %v, want %v", r.phases, want)
	}

	// Pass 0 and pass 1 boundaries are tagged.
	wantTags := []string{"lisa/pass-0", "lisa/pass-1"}
	if strings.Join(g.tags, ",") != strings.Join(wantTags, ",") {
		t.Errorf("tags = %v, want %v", g.tags, wantTags)
	}

	// Reached max passes without acceptance: state stays at pass review.
	s, err := state.Load(c.lisaRoot())
	if err != nil {
		t.Fatal(err)
	}
	if s != state.PassReview(1) {
		t.Errorf("final state = %v, want PassReview(1)", s)
	}
}

func TestRunRefusesWhenPassInProgress(t *testing.T) {
	c, _, _ := newTestController(t)
	if err := state.Save(c.lisaRoot(), state.InPass(2, state.Execute())); err != nil {
		t.Fatal(err)
	}

	err := c.Run(context.Background(), 0)
	if err == nil || !strings.Contains(err.Error(), "resume") {
		t.Errorf("Run() on an in-progress project should point at resume, got %v", err)
	}
}

func TestResumeDispatch(t *testing.T) {
	cases := []struct {
		name       string
		state      state.State
		maxPasses  int
		wantPhases []string
	}{
		{
			name:       "complete is a no-op",
			state:      state.Complete(3),
			maxPasses:  5,
			wantPhases: nil,
		},
		{
			name:       "in-pass execute falls through to validate",
			state:      state.InPass(1, state.Execute()),
			maxPasses:  1,
			wantPhases: []string{"execute", "validate"},
		},
		{
			name:       "in-pass validate runs only validate",
			state:      state.InPass(1, state.Validate()),
			maxPasses:  1,
			wantPhases: []string{"validate"},
		},
		{
			name:       "pass review at max re-runs the gate only",
			state:      state.PassReview(1),
			maxPasses:  1,
			wantPhases: nil,
		},
		{
			name:       "in-pass refine replays the whole pass",
			state:      state.InPass(1, state.Refine()),
			maxPasses:  1,
			wantPhases: []string{"refine", "ddv_red", "build", "execute", "validate"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _, r := newTestController(t)
			c.Config.Limits.MaxSpiralPasses = tc.maxPasses
			if err := state.Save(c.lisaRoot(), tc.state); err != nil {
				t.Fatal(err)
			}

			if err := c.Resume(context.Background()); err != nil {
				t.Fatalf("Resume() error: %v", err)
			}
			if strings.Join(r.phases, ",") != strings.Join(tc.wantPhases, ",") {
				t.Errorf("phases = %v, want %v", r.phases, tc.wantPhases)
			}
		})
	}
}

func TestResumeBuildKeepsIteration(t *testing.T) {
	c, _, r := newTestController(t)
	c.Config.Limits.MaxBuildIterations = 4
	if err := state.Save(c.lisaRoot(), state.InPass(1, state.Build(4))); err != nil {
		t.Fatal(err)
	}

	// Plan stays all-done, so the single remaining iteration finishes
	// the loop.
	writePlan(t, c, "## Task 1: done already\n**Status:** DONE\n**Pass:** 1\n")

	if err := c.Resume(context.Background()); err != nil {
		t.Fatalf("Resume() error: %v", err)
	}
	want := []string{"build", "execute", "validate"}
	if strings.Join(r.phases, ",") != strings.Join(want, ",") {
		t.Errorf("phases = %v, want %v", r.phases, want)
	}
}

func TestBuildLoopStallsOnBothSignalsQuiet(t *testing.T) {
	c, g, r := newTestController(t)
	g.sourceChanged = false

	// One task that never progresses.
	writePlan(t, c, "## Task 1: stuck\n**Status:** TODO\n**Pass:** 1\n")

	ok, err := c.runBuildLoop(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("runBuildLoop() error: %v", err)
	}
	if !ok {
		t.Error("stall should leave the loop, not abort the run")
	}

	// Threshold 2: two no-progress iterations end the loop.
	builds := 0
	for _, p := range r.phases {
		if p == "build" {
			builds++
		}
	}
	if builds != 2 {
		t.Errorf("build invocations = %d, want 2", builds)
	}
}

func TestBuildLoopSourceChangeResetsStall(t *testing.T) {
	c, g, r := newTestController(t)
	c.Config.Limits.MaxBuildIterations = 3
	g.sourceChanged = true

	writePlan(t, c, "## Task 1: stuck\n**Status:** TODO\n**Pass:** 1\n")

	ok, err := c.runBuildLoop(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("runBuildLoop() error: %v", err)
	}
	if !ok {
		t.Error("exhausting iterations should not abort the run")
	}

	// Source keeps changing, so the loop never stalls and runs to the
	// iteration cap.
	builds := 0
	for _, p := range r.phases {
		if p == "build" {
			builds++
		}
	}
	if builds != 3 {
		t.Errorf("build invocations = %d, want 3", builds)
	}
}

func TestBuildLoopCompletesWhenTasksFlipDone(t *testing.T) {
	c, _, r := newTestController(t)

	writePlan(t, c, "## Task 1: wire it\n**Status:** TODO\n**Pass:** 1\n")
	r.onRun = func(agent.Invocation) {
		writePlan(t, c, "## Task 1: wire it\n**Status:** DONE\n**Pass:** 1\n")
	}

	ok, err := c.runBuildLoop(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("runBuildLoop() error: %v", err)
	}
	if !ok {
		t.Error("completed loop should report success")
	}
	if len(r.phases) != 1 {
		t.Errorf("expected a single build invocation, got %v", r.phases)
	}
}

// countingPrompter fails the test if any gate prompts.
type countingPrompter struct {
	t *testing.T
}

func (p countingPrompter) Choice(label string, opts []term.Option) (rune, error) {
	p.t.Errorf("unexpected prompt: %s", label)
	return opts[0].Key, nil
}
func (p countingPrompter) Line(string) (string, error)  { return "", nil }
func (p countingPrompter) Confirm(string) (bool, error) { return true, nil }
func (p countingPrompter) OpenEditor(string) error      { return nil }

func TestBuildLoopIgnoresTasksBlockedOnLaterPass(t *testing.T) {
	c, _, r := newTestController(t)
	c.Gates.Pause = true
	c.Gates.Prompter = countingPrompter{t}

	writePlan(t, c, "## Task 1: wire it\n**Status:** DONE\n**Pass:** 1\n\n## Task 2: upstream dep\n**Status:** BLOCKED\n**Pass:** 2\n")

	ok, err := c.runBuildLoop(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("runBuildLoop() error: %v", err)
	}
	if !ok {
		t.Error("pass 1 is complete; the loop should report success")
	}
	if len(r.phases) != 1 {
		t.Errorf("expected a single build invocation, got %v", r.phases)
	}
}

func TestBudgetAbortsAfterInvocation(t *testing.T) {
	c, _, r := newTestController(t)
	c.Config.Limits.BudgetUSD = 1.0
	r.results = map[string]*agent.Result{
		"scope": {Text: "scoped", CostUSD: 2.5},
	}

	err := c.Run(context.Background(), 0)
	if !errors.Is(err, errors.ErrBudgetExceeded) {
		t.Fatalf("Run() error = %v, want budget exceeded", err)
	}
	if len(r.phases) != 1 {
		t.Errorf("no further invocations after the budget trips, got %v", r.phases)
	}
}

func TestPushFailureIsWarningNotFatal(t *testing.T) {
	c, g, _ := newTestController(t)
	c.Config.Git.AutoPush = true
	g.pushErr = errors.NewGitError("failed to push branch main", errors.New("remote hung up")).
		WithSeverity(errors.SeverityWarning)

	if err := c.push(); err != nil {
		t.Errorf("push() error = %v, want nil; a failed push should not stop the spiral", err)
	}
}

func TestFinalizeWritesCompletionState(t *testing.T) {
	c, g, _ := newTestController(t)

	if err := c.Finalize(context.Background(), 2); err != nil {
		t.Fatalf("Finalize() error: %v", err)
	}

	s, err := state.Load(c.lisaRoot())
	if err != nil {
		t.Fatal(err)
	}
	if s != state.Complete(2) {
		t.Errorf("state = %v, want Complete(2)", s)
	}

	if _, err := os.Stat(filepath.Join(c.lisaRoot(), CompleteFileName)); err != nil {
		t.Errorf("completion marker missing: %v", err)
	}

	found := false
	for _, msg := range g.commits {
		if strings.Contains(msg, "spiral complete") {
			found = true
		}
	}
	if !found {
		t.Errorf("no completion commit in %v", g.commits)
	}
}

func TestRollback(t *testing.T) {
	t.Run("unknown tag", func(t *testing.T) {
		c, _, _ := newTestController(t)
		err := c.Rollback(3, true)
		if !errors.Is(err, errors.ErrTagNotFound) {
			t.Errorf("Rollback() error = %v, want tag not found", err)
		}
	})

	t.Run("dirty tree", func(t *testing.T) {
		c, g, _ := newTestController(t)
		g.existingTags["lisa/pass-2"] = true
		g.dirty = true
		err := c.Rollback(2, true)
		if !errors.Is(err, errors.ErrDirtyWorktree) {
			t.Errorf("Rollback() error = %v, want dirty worktree", err)
		}
	})

	t.Run("resets and restores the ledger", func(t *testing.T) {
		c, g, _ := newTestController(t)
		g.existingTags["lisa/pass-2"] = true
		ledgerRel := filepath.Join(c.Config.Paths.LisaRoot, "usage.json")
		g.shown[ledgerRel] = []byte(`{"invocations":[]}`)

		if err := c.Rollback(2, true); err != nil {
			t.Fatalf("Rollback() error: %v", err)
		}

		if len(g.branches) != 1 || !strings.HasPrefix(g.branches[0], "lisa/backup/rollback-") {
			t.Errorf("backup branch = %v", g.branches)
		}
		if len(g.resets) != 1 || g.resets[0] != "lisa/pass-2" {
			t.Errorf("resets = %v, want [lisa/pass-2]", g.resets)
		}
		if _, err := os.Stat(filepath.Join(c.Root, ledgerRel)); err != nil {
			t.Errorf("ledger not restored: %v", err)
		}

		restored := false
		for _, msg := range g.commits {
			if strings.Contains(msg, "restore usage ledger") {
				restored = true
			}
		}
		if !restored {
			t.Errorf("no ledger restore commit in %v", g.commits)
		}
	})
}
