// Package spiral drives the pass loop: scope once, then refine, write
// domain verification tests, build, execute, and validate, pass after
// pass, until the operator accepts the results. State is persisted
// before every phase, so a crash or abort resumes exactly where the
// spiral stopped.
package spiral

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/freol35241/lisa-loop/internal/agent"
	"github.com/freol35241/lisa-loop/internal/config"
	"github.com/freol35241/lisa-loop/internal/errors"
	"github.com/freol35241/lisa-loop/internal/git"
	"github.com/freol35241/lisa-loop/internal/logging"
	"github.com/freol35241/lisa-loop/internal/prompt"
	"github.com/freol35241/lisa-loop/internal/review"
	"github.com/freol35241/lisa-loop/internal/state"
	"github.com/freol35241/lisa-loop/internal/tasks"
	"github.com/freol35241/lisa-loop/internal/term"
	"github.com/freol35241/lisa-loop/internal/usage"
)

// Artifact file names under the lisa root.
const (
	ScopeFileName    = "scope.md"
	PlanFileName     = "plan.md"
	CompleteFileName = "SPIRAL_COMPLETE.md"
)

// maxScopeAttempts bounds retries when the scoping agent produces no
// output.
const maxScopeAttempts = 3

// Git is the slice of the git client the controller needs. *git.Client
// implements it; tests substitute a recording fake.
type Git interface {
	CommitAll(message string) (bool, error)
	Push() error
	CreateTag(name string) error
	TagExists(name string) bool
	ListPassTags() ([]int, error)
	SourceChanged(dirs []string) (bool, error)
	HasUncommittedChanges() (bool, error)
	CreateBranch(name string) error
	ResetHard(ref string) error
	ShowFile(ref, path string) ([]byte, error)
	ModifiedPaths(path string) ([]string, error)
	RevertPath(path string) error
	UntrackedFiles(dir string) ([]string, error)
	DeleteUntracked(files []string) error
}

// Controller owns one spiral run over a project.
type Controller struct {
	Config *config.Config
	Git    Git
	Runner agent.Runner
	Gates  *review.Gates
	Term   *term.Terminal
	Logger *logging.Logger
	// Root is the project root; all paths are resolved against it.
	Root string

	// maxPasses is fixed at the start of Run or Resume and surfaced in
	// agent prompts.
	maxPasses int
}

func (c *Controller) lisaRoot() string {
	return filepath.Join(c.Root, c.Config.Paths.LisaRoot)
}

func (c *Controller) scopePath() string {
	return filepath.Join(c.lisaRoot(), ScopeFileName)
}

func (c *Controller) planPath() string {
	return filepath.Join(c.lisaRoot(), PlanFileName)
}

// Run executes the spiral from the top: scoping if it has not been
// approved yet, then passes 1..maxPasses. A maxPasses of zero or less
// takes the configured limit.
func (c *Controller) Run(ctx context.Context, maxPasses int) error {
	if maxPasses <= 0 {
		maxPasses = c.Config.Limits.MaxSpiralPasses
	}
	c.maxPasses = maxPasses

	s, err := state.Load(c.lisaRoot())
	if err != nil {
		return err
	}

	switch s.Kind {
	case state.KindComplete:
		c.Term.Successf("Spiral already complete at pass %d.", s.FinalPass)
		return nil
	case state.KindInPass, state.KindPassReview:
		return errors.New("a run is already in progress; use `lisa resume` to continue it")
	case state.KindScopeComplete:
		c.Term.Info("Scope already approved.")
	default:
		approved, err := c.runScope(ctx)
		if err != nil {
			return err
		}
		if !approved {
			return nil
		}
	}

	return c.runPassRange(ctx, 1, maxPasses)
}

// RunScopeOnly runs just the scoping phase.
func (c *Controller) RunScopeOnly(ctx context.Context) error {
	c.maxPasses = c.Config.Limits.MaxSpiralPasses
	_, err := c.runScope(ctx)
	return err
}

// Resume picks the spiral up from the persisted state.
func (c *Controller) Resume(ctx context.Context) error {
	c.maxPasses = c.Config.Limits.MaxSpiralPasses

	s, err := state.Load(c.lisaRoot())
	if err != nil {
		return err
	}

	c.Term.Phase("Resuming: %s", s)
	c.showPreviousFailure()

	switch s.Kind {
	case state.KindNotStarted:
		c.Term.Info("No previous run found. Starting fresh.")
		return c.Run(ctx, 0)

	case state.KindScoping, state.KindScopeReview:
		c.Term.Info("Scope was incomplete.")
		approved, err := c.runScope(ctx)
		if err != nil || !approved {
			return err
		}
		return c.runPassRange(ctx, 1, c.maxPasses)

	case state.KindScopeComplete:
		return c.runPassRange(ctx, 1, c.maxPasses)

	case state.KindInPass:
		return c.resumeFromPhase(ctx, s.Pass, s.Phase)

	case state.KindPassReview:
		accepted, err := c.passGate(ctx, s.Pass)
		if err != nil {
			return err
		}
		if accepted {
			return c.Finalize(ctx, s.Pass)
		}
		return c.runPassRange(ctx, s.Pass+1, c.maxPasses)

	case state.KindComplete:
		c.Term.Successf("Spiral already complete at pass %d.", s.FinalPass)
		return nil

	default:
		return errors.NewStateError(fmt.Sprintf("cannot resume from state %q", s.Kind), errors.ErrStateInvalid)
	}
}

// showPreviousFailure prints the head of the last error log, then
// removes it so a successful resume starts clean.
func (c *Controller) showPreviousFailure() {
	path := filepath.Join(c.lisaRoot(), agent.ErrorLogFileName)
	content, err := os.ReadFile(path)
	if err != nil {
		return
	}

	c.Term.Warnf("Previous failure context:")
	lines := strings.Split(string(content), "\n")
	if len(lines) > 15 {
		lines = lines[:15]
	}
	for _, line := range lines {
		c.Term.Info("  %s", line)
	}
	os.Remove(path)
}

// resumeFromPhase re-enters pass `pass` at the recorded phase and falls
// through the remaining phases in order.
func (c *Controller) resumeFromPhase(ctx context.Context, pass int, phase state.Phase) error {
	c.Term.Info("Re-entering pass %d at phase %s.", pass, phase)

	order := phase.Order()
	if order <= state.Refine().Order() {
		if err := c.runRefine(ctx, pass); err != nil {
			return err
		}
	}
	if order <= state.DdvRed().Order() {
		if err := c.runDdvRed(ctx, pass); err != nil {
			return err
		}
	}
	if order <= state.Build(1).Order() {
		startIter := 1
		if phase.Kind == state.PhaseBuild {
			startIter = phase.Iteration
		}
		ok, err := c.runBuildLoop(ctx, pass, startIter)
		if err != nil {
			return err
		}
		if !ok {
			c.Term.Errorf("Build aborted at pass %d. Run `lisa resume` to retry from the build phase.", pass)
			return nil
		}
	}
	if order <= state.Execute().Order() {
		if err := c.runExecute(ctx, pass); err != nil {
			return err
		}
	}
	if err := c.runValidate(ctx, pass); err != nil {
		return err
	}

	accepted, err := c.passGate(ctx, pass)
	if err != nil {
		return err
	}
	if accepted {
		return c.Finalize(ctx, pass)
	}
	return c.runPassRange(ctx, pass+1, c.maxPasses)
}

// runPassRange runs passes startPass..maxPass until the operator
// accepts or the range is exhausted.
func (c *Controller) runPassRange(ctx context.Context, startPass, maxPass int) error {
	for pass := startPass; pass <= maxPass; pass++ {
		c.Term.Phase("═══ Spiral pass %d / %d ═══", pass, maxPass)

		if err := c.runRefine(ctx, pass); err != nil {
			return err
		}
		if err := c.runDdvRed(ctx, pass); err != nil {
			return err
		}
		ok, err := c.runBuildLoop(ctx, pass, 1)
		if err != nil {
			return err
		}
		if !ok {
			c.Term.Errorf("Build aborted at pass %d. Run `lisa resume` to retry from the build phase.", pass)
			return nil
		}
		if err := c.runExecute(ctx, pass); err != nil {
			return err
		}
		if err := c.runValidate(ctx, pass); err != nil {
			return err
		}

		accepted, err := c.passGate(ctx, pass)
		if err != nil {
			return err
		}
		if accepted {
			return c.Finalize(ctx, pass)
		}
	}

	c.Term.Warnf("Reached max spiral passes (%d) without acceptance.", maxPass)
	c.Term.Warnf("Run `lisa run --max-passes N` with a higher limit, or `lisa finalize` to accept current results.")
	return nil
}

// runScope runs pass 0. Returns false when the operator quit at the
// scope gate.
func (c *Controller) runScope(ctx context.Context) (bool, error) {
	c.Term.Phase("Pass 0 — Scoping")

	if err := os.MkdirAll(c.lisaRoot(), 0755); err != nil {
		return false, err
	}

	refineCtx := "SCOPE REFINEMENT: The operator has reviewed the scope and provided feedback. " +
		"Read " + review.ScopeFeedbackPath(c.Config.Paths.LisaRoot) + " carefully and update the scope. " +
		"Do not discard previous work; refine it."

	// A leftover feedback file means the previous attempt was a refine
	// that never finished. Run this one as a refinement.
	var extras []string
	if content, err := os.ReadFile(review.ScopeFeedbackPath(c.lisaRoot())); err == nil && review.HasRealContent(string(content)) {
		c.Term.Info("Existing scope feedback found; running as refinement.")
		extras = append(extras, refineCtx)
	}

	for attempt := 1; ; attempt++ {
		if err := state.Save(c.lisaRoot(), state.Scoping(attempt)); err != nil {
			return false, err
		}

		_, err := c.runTracked(ctx, prompt.Scope, 0, extras)
		if err != nil {
			if errors.Is(err, errors.ErrAgentEmptyOutput) && attempt < maxScopeAttempts {
				c.Term.Warnf("Scoping agent produced no output; retrying (attempt %d).", attempt+1)
				continue
			}
			return false, err
		}
		break
	}
	if _, err := c.commit("scope: pass 0 — scoping complete"); err != nil {
		return false, err
	}

	// Environment gate: rerun scoping after the operator fixed the
	// environment the agent could not.
	for {
		rescope, err := c.Gates.ReviewEnvironment()
		if err != nil {
			return false, err
		}
		if !rescope {
			break
		}
		c.Term.Info("Re-running scope after environment fix.")
		if _, err := c.runTracked(ctx, prompt.Scope, 0, nil); err != nil {
			return false, err
		}
		if _, err := c.commit("scope: rerun after environment fix"); err != nil {
			return false, err
		}
	}

	if err := state.Save(c.lisaRoot(), state.ScopeReview()); err != nil {
		return false, err
	}

	for {
		decision, err := c.Gates.ReviewScope(c.scopePath())
		if err != nil {
			return false, err
		}
		switch decision {
		case review.ScopeApprove:
			c.Term.Successf("Scope approved. Proceeding to pass 1.")
		case review.ScopeEdit:
			if _, err := c.commit("scope: manually edited"); err != nil {
				return false, err
			}
			c.Term.Successf("Scope approved after manual edits. Proceeding to pass 1.")
		case review.ScopeRefine:
			c.Term.Info("Re-running scope agent with feedback.")
			if _, err := c.runTracked(ctx, prompt.Scope, 0, []string{refineCtx}); err != nil {
				return false, err
			}
			if _, err := c.commit("scope: refined after operator feedback"); err != nil {
				return false, err
			}
			os.Remove(review.ScopeFeedbackPath(c.lisaRoot()))
			continue
		case review.ScopeQuit:
			c.Term.Warnf("Stopping after scope.")
			return false, nil
		}
		break
	}

	if err := state.Save(c.lisaRoot(), state.ScopeComplete()); err != nil {
		return false, err
	}
	if err := c.Git.CreateTag(git.PassTag(0)); err != nil {
		return false, err
	}
	c.Term.Successf("Pass 0 (scoping) complete.")
	return true, nil
}

func (c *Controller) runRefine(ctx context.Context, pass int) error {
	c.Term.Phase("Pass %d — Refine", pass)
	if err := state.Save(c.lisaRoot(), state.InPass(pass, state.Refine())); err != nil {
		return err
	}

	var extras []string
	redirect := review.RedirectPath(c.lisaRoot(), pass)
	if content, err := os.ReadFile(redirect); err == nil && review.HasRealContent(string(content)) {
		c.Term.Info("Operator redirect found for this pass.")
		extras = append(extras, string(content))
	}

	if _, err := c.runTracked(ctx, prompt.Refine, pass, extras); err != nil {
		return err
	}
	_, err := c.commit(fmt.Sprintf("refine: pass %d", pass))
	return err
}

func (c *Controller) runDdvRed(ctx context.Context, pass int) error {
	c.Term.Phase("Pass %d — DDV Red (domain verification tests)", pass)
	if err := state.Save(c.lisaRoot(), state.InPass(pass, state.DdvRed())); err != nil {
		return err
	}

	res, err := c.runTracked(ctx, prompt.DdvRed, pass, nil)
	if err != nil {
		return err
	}

	if err := c.verifyIsolation(res.ToolCalls); err != nil {
		return err
	}

	_, err = c.commit(fmt.Sprintf("ddv-red: pass %d — domain verification tests written", pass))
	return err
}

func (c *Controller) runExecute(ctx context.Context, pass int) error {
	c.Term.Phase("Pass %d — Execute", pass)
	if err := state.Save(c.lisaRoot(), state.InPass(pass, state.Execute())); err != nil {
		return err
	}
	if _, err := c.runTracked(ctx, prompt.Execute, pass, nil); err != nil {
		return err
	}
	_, err := c.commit(fmt.Sprintf("execute: pass %d", pass))
	return err
}

func (c *Controller) runValidate(ctx context.Context, pass int) error {
	c.Term.Phase("Pass %d — Validate", pass)
	if err := state.Save(c.lisaRoot(), state.InPass(pass, state.Validate())); err != nil {
		return err
	}
	if _, err := c.runTracked(ctx, prompt.Validate, pass, nil); err != nil {
		return err
	}
	_, err := c.commit(fmt.Sprintf("validate: pass %d", pass))
	return err
}

// passGate tags the pass boundary and runs the review gate. Returns
// true when the operator accepted the results.
func (c *Controller) passGate(ctx context.Context, pass int) (bool, error) {
	if err := c.push(); err != nil {
		return false, err
	}
	if err := c.Git.CreateTag(git.PassTag(pass)); err != nil {
		return false, err
	}
	if err := state.Save(c.lisaRoot(), state.PassReview(pass)); err != nil {
		return false, err
	}

	counts, err := tasks.Count(c.planPath())
	if err != nil {
		return false, err
	}
	var passCost float64
	if ledger, err := usage.Load(c.lisaRoot()); err == nil {
		passCost = ledger.PassCost(pass)
	}

	decision, err := c.Gates.ReviewPass(pass, counts, passCost)
	if err != nil {
		return false, err
	}
	return decision == review.PassAccept, nil
}

// Finalize runs the finalize agent, records completion, and pushes when
// configured.
func (c *Controller) Finalize(ctx context.Context, pass int) error {
	if c.maxPasses == 0 {
		c.maxPasses = c.Config.Limits.MaxSpiralPasses
	}
	c.Term.Phase("Finalizing — producing deliverables")

	extra := "FINALIZATION: The operator has accepted the results. " +
		"Produce the deliverables described in BRIEF.md from the approved scope and the pass artifacts."
	if _, err := c.runTracked(ctx, prompt.Finalize, pass, []string{extra}); err != nil {
		return err
	}

	content := fmt.Sprintf("# Spiral Complete\n\nThe operator accepted the results.\n\nCompleted: %s\nFinal pass: %d\n",
		time.Now().Format(time.RFC3339), pass)
	if err := os.WriteFile(filepath.Join(c.lisaRoot(), CompleteFileName), []byte(content), 0644); err != nil {
		return err
	}

	if err := state.Save(c.lisaRoot(), state.Complete(pass)); err != nil {
		return err
	}
	if _, err := c.commit(fmt.Sprintf("finalize: spiral complete — accepted at pass %d", pass)); err != nil {
		return err
	}
	if err := c.push(); err != nil {
		return err
	}

	c.Term.Successf("Done. Final deliverables produced.")
	return nil
}

// runTracked is the single path every agent invocation takes: assemble
// the input, run, record usage, check the budget.
func (c *Controller) runTracked(ctx context.Context, phase string, pass int, extras []string) (*agent.Result, error) {
	rendered, err := prompt.Render(c.lisaRoot(), phase, c.Config, c.maxPasses)
	if err != nil {
		return nil, err
	}

	redirectPath := ""
	if phase == prompt.Refine {
		p := review.RedirectPath(c.lisaRoot(), pass)
		if _, statErr := os.Stat(p); statErr == nil {
			redirectPath = p
		}
	}
	input := prompt.BuildInput(prompt.Preamble(c.Config, pass, phase, redirectPath), extras, rendered)

	model := c.Config.Models.ForPhase(phase)
	res, err := c.Runner.Run(ctx, agent.Invocation{
		Model:    model,
		Phase:    phase,
		Prompt:   input,
		WorkDir:  c.Root,
		Collapse: c.Config.Terminal.CollapseOutput,
	})
	if err != nil {
		return nil, err
	}

	cumulative, err := usage.Record(c.lisaRoot(), usage.InvocationRecord{
		Phase:                    phase,
		Pass:                     pass,
		Model:                    model,
		InputTokens:              res.Usage.InputTokens,
		OutputTokens:             res.Usage.OutputTokens,
		CacheCreationInputTokens: res.Usage.CacheCreationInputTokens,
		CacheReadInputTokens:     res.Usage.CacheReadInputTokens,
		CostUSD:                  res.CostUSD,
		ElapsedSecs:              res.Elapsed.Seconds(),
		Timestamp:                time.Now(),
	})
	if err != nil {
		return nil, err
	}

	if res.CostUSD > 0 {
		c.Term.Info("Cost: $%.4f (cumulative: $%.4f)", res.CostUSD, cumulative)
	}
	c.Logger.WithPass(pass).WithPhase(phase).Info("agent invocation complete",
		"model", model,
		"cost_usd", res.CostUSD,
		"cumulative_usd", cumulative,
		"elapsed_secs", res.Elapsed.Seconds())

	warn, err := usage.CheckBudget(cumulative, c.Config.Limits.BudgetUSD, c.Config.Limits.BudgetWarnPct, c.Logger)
	if err != nil {
		return nil, err
	}
	if warn {
		c.Term.Warnf("Approaching budget: $%.2f of $%.2f spent.", cumulative, c.Config.Limits.BudgetUSD)
	}
	return res, nil
}

// commit wraps CommitAll behind the auto_commit switch.
func (c *Controller) commit(message string) (bool, error) {
	if !c.Config.Git.AutoCommit {
		return false, nil
	}
	did, err := c.Git.CommitAll(message)
	if err != nil {
		return false, err
	}
	if did {
		c.Logger.Debug("committed", "message", message)
	}
	return did, nil
}

// push wraps Push behind the auto_push switch. A failed push is
// reported as a warning; the pass boundary still holds locally.
func (c *Controller) push() error {
	if !c.Config.Git.AutoPush {
		return nil
	}
	if err := c.Git.Push(); err != nil {
		if errors.GetSeverity(err) <= errors.SeverityWarning {
			c.Term.Warnf("Push failed: %s", errors.UserMessage(err))
			c.Logger.Warn("push failed", "error", err)
			return nil
		}
		return err
	}
	return nil
}
