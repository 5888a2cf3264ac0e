package spiral

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/freol35241/lisa-loop/internal/errors"
	"github.com/freol35241/lisa-loop/internal/git"
	"github.com/freol35241/lisa-loop/internal/usage"
)

// Rollback resets the repository to the pass-N tag. The current HEAD is
// preserved on a backup branch, and the usage ledger is restored from
// it afterwards so spend history survives the reset.
func (c *Controller) Rollback(targetPass int, force bool) error {
	tag := git.PassTag(targetPass)
	if !c.Git.TagExists(tag) {
		available, _ := c.Git.ListPassTags()
		list := "none"
		if len(available) > 0 {
			var parts []string
			for _, p := range available {
				parts = append(parts, strconv.Itoa(p))
			}
			list = strings.Join(parts, ", ")
		}
		return errors.NewGitError(
			fmt.Sprintf("tag %q not found; available rollback points: %s", tag, list),
			errors.ErrTagNotFound)
	}

	dirty, err := c.Git.HasUncommittedChanges()
	if err != nil {
		return err
	}
	if dirty {
		return errors.NewGitError("uncommitted changes detected; commit or stash them before rolling back",
			errors.ErrDirtyWorktree)
	}

	if !force {
		c.Term.Warnf("This resets the repository to its state at pass %d.", targetPass)
		c.Term.Warnf("A backup branch will be created at the current HEAD.")
		ok, err := c.Gates.Prompter.Confirm("Proceed?")
		if err != nil {
			return err
		}
		if !ok {
			c.Term.Info("Rollback cancelled.")
			return nil
		}
	}

	backup := fmt.Sprintf("lisa/backup/rollback-%s", time.Now().Format("20060102-150405"))
	if err := c.Git.CreateBranch(backup); err != nil {
		return err
	}
	c.Term.Info("Backup branch created: %s", backup)

	if err := c.Git.ResetHard(tag); err != nil {
		return err
	}
	c.Term.Successf("Reset to %s", tag)

	ledgerRel := filepath.Join(c.Config.Paths.LisaRoot, usage.LedgerFileName)
	if content, err := c.Git.ShowFile(backup, ledgerRel); err == nil && len(content) > 0 {
		if err := os.WriteFile(filepath.Join(c.Root, ledgerRel), content, 0644); err != nil {
			return err
		}
		if _, err := c.commit("rollback: restore usage ledger"); err != nil {
			return err
		}
		c.Term.Info("Usage ledger preserved from before the rollback.")
	}

	c.Term.Successf("Rolled back to pass %d. Run `lisa resume` to continue.", targetPass)
	return nil
}
