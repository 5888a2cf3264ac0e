package spiral

import (
	"context"
	"fmt"

	"github.com/freol35241/lisa-loop/internal/agent"
	"github.com/freol35241/lisa-loop/internal/enforcement"
	"github.com/freol35241/lisa-loop/internal/prompt"
	"github.com/freol35241/lisa-loop/internal/review"
	"github.com/freol35241/lisa-loop/internal/state"
	"github.com/freol35241/lisa-loop/internal/tasks"
)

// runBuildLoop drives build iterations until the pass's tasks are done,
// the loop stalls, or the operator aborts at the block gate. Returns
// false on abort.
//
// Stall detection needs both signals quiet: the task-status fingerprint
// unchanged and no source file touched by the last commit. Either one
// moving resets the counter, so an agent that spends an iteration only
// writing code, or only flipping task statuses, is still progress.
func (c *Controller) runBuildLoop(ctx context.Context, pass, startIter int) (bool, error) {
	c.Term.Phase("Pass %d — Build loop", pass)

	plan := c.planPath()
	maxIter := c.Config.Limits.MaxBuildIterations

	prevFingerprint, err := tasks.Fingerprint(plan)
	if err != nil {
		return false, err
	}
	stall := 0

	for iter := startIter; iter <= maxIter; iter++ {
		c.Term.Phase("Build iteration %d / %d", iter, maxIter)

		counts, err := tasks.Count(plan)
		if err != nil {
			return false, err
		}
		c.Term.Info("Progress: %s", counts)

		if err := state.Save(c.lisaRoot(), state.InPass(pass, state.Build(iter))); err != nil {
			return false, err
		}

		if _, err := c.runTracked(ctx, prompt.Build, pass, nil); err != nil {
			return false, err
		}

		if err := c.revertTestChanges(); err != nil {
			return false, err
		}
		if _, err := c.commit(fmt.Sprintf("build: pass %d iteration %d", pass, iter)); err != nil {
			return false, err
		}

		done, err := tasks.AllDone(plan, pass)
		if err != nil {
			return false, err
		}
		if done {
			cont, abort, err := c.handleBlocked(plan, pass)
			if err != nil {
				return false, err
			}
			if abort {
				return false, nil
			}
			if cont {
				stall = 0
				continue
			}
			c.Term.Successf("All tasks for pass %d complete.", pass)
			return true, nil
		}

		fingerprint, err := tasks.Fingerprint(plan)
		if err != nil {
			return false, err
		}
		sourceChanged, err := c.Git.SourceChanged(c.Config.Paths.Source)
		if err != nil {
			return false, err
		}

		tasksChanged := fingerprint != prevFingerprint
		prevFingerprint = fingerprint
		if tasksChanged || sourceChanged {
			stall = 0
		} else {
			stall++
		}

		c.Logger.WithPass(pass).Debug("build iteration signals",
			"iteration", iter,
			"tasks_changed", tasksChanged,
			"source_changed", sourceChanged,
			"stall", stall)

		if stall > 0 {
			c.Term.Warnf("No progress detected (stall count: %d/%d).", stall, c.Config.Limits.StallThreshold)
		}
		if stall >= c.Config.Limits.StallThreshold {
			c.Term.Warnf("Build stalled: no progress for %d consecutive iterations.", c.Config.Limits.StallThreshold)
			cont, abort, err := c.handleBlocked(plan, pass)
			if err != nil {
				return false, err
			}
			if abort {
				return false, nil
			}
			if cont {
				stall = 0
				continue
			}
			return true, nil
		}

		c.Term.Info("Tasks remain; continuing build loop.")
	}

	c.Term.Warnf("Reached max build iterations (%d).", maxIter)
	return true, nil
}

// handleBlocked runs the block gate when the plan has tasks blocked at
// or below pass. Returns (continue loop, abort run, error);
// (false, false, nil) means fall through and leave the loop.
func (c *Controller) handleBlocked(plan string, pass int) (bool, bool, error) {
	blocked, err := tasks.Blocked(plan, pass)
	if err != nil {
		return false, false, err
	}
	if len(blocked) == 0 {
		return false, false, nil
	}

	decision, err := c.Gates.ReviewBlocked(blocked)
	if err != nil {
		return false, false, err
	}
	switch decision {
	case review.BlockFix:
		return true, false, nil
	case review.BlockAbort:
		return false, true, nil
	default:
		return false, false, nil
	}
}

// revertTestChanges undoes anything the build agent did to the DDV test
// directory.
func (c *Controller) revertTestChanges() error {
	reverted, err := enforcement.RevertTestChanges(c.Git, c.Config.Paths.TestsDdv)
	if err != nil {
		return err
	}
	if len(reverted) > 0 {
		c.Term.Warnf("Build agent touched DDV tests; reverted %d file(s).", len(reverted))
		for _, path := range reverted {
			c.Term.Info("  %s", path)
		}
	}
	return nil
}

// verifyIsolation checks the DDV agent's tool-call log against the
// source directories.
func (c *Controller) verifyIsolation(calls []agent.ToolCall) error {
	return enforcement.VerifyIsolation(calls, c.Config.Paths.Source, c.Root)
}
