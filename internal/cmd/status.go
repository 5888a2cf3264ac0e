package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/freol35241/lisa-loop/internal/config"
	"github.com/freol35241/lisa-loop/internal/git"
	"github.com/freol35241/lisa-loop/internal/spiral"
	"github.com/freol35241/lisa-loop/internal/state"
	"github.com/freol35241/lisa-loop/internal/tasks"
	"github.com/freol35241/lisa-loop/internal/term"
	"github.com/freol35241/lisa-loop/internal/usage"
)

var statusWatch bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show where the spiral stands",
	Long: `Display the current spiral state, task progress, artifact presence
and total spend. With --watch the view re-renders whenever the state or
usage files change.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusWatch, "watch", false, "re-render on state changes")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	root, err := git.FindRoot(cwd)
	if err != nil {
		return err
	}
	cfg, err := config.LoadProject(root)
	if err != nil {
		return err
	}

	t := term.New()
	lisaRoot := cfg.LisaRoot(root)

	if err := renderStatus(t, cfg, lisaRoot); err != nil {
		return err
	}
	if !statusWatch {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory rather than individual files: the atomic
	// rename that writes them replaces the inode.
	if err := watcher.Add(lisaRoot); err != nil {
		return err
	}

	t.Info("Watching for changes. Ctrl-C to stop.")
	interesting := map[string]bool{
		state.StateFileName:  true,
		usage.LedgerFileName: true,
		spiral.PlanFileName:  true,
	}

	for {
		select {
		case <-cmd.Context().Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !interesting[filepath.Base(event.Name)] {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			t.Separator()
			if err := renderStatus(t, cfg, lisaRoot); err != nil {
				t.Errorf("%v", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			t.Errorf("watch error: %v", err)
		}
	}
}

func renderStatus(t *term.Terminal, cfg *config.Config, lisaRoot string) error {
	s, err := state.Load(lisaRoot)
	if err != nil {
		return err
	}

	t.Info("Project: %s", cfg.Project.Name)
	t.Info("State:   %s", s)

	counts, err := tasks.Count(filepath.Join(lisaRoot, spiral.PlanFileName))
	if err == nil && counts.Total > 0 {
		t.Info("Tasks:   %s", counts)
	}

	for _, name := range []string{spiral.ScopeFileName, spiral.PlanFileName, spiral.CompleteFileName} {
		if _, err := os.Stat(filepath.Join(lisaRoot, name)); err == nil {
			t.Info("Artifact: %s", name)
		}
	}

	ledger, err := usage.Load(lisaRoot)
	if err != nil {
		return err
	}
	if ledger.InvocationCount() > 0 {
		t.Info("Spend:   $%.4f across %d invocations", ledger.TotalCost(), ledger.InvocationCount())
		if cfg.Limits.BudgetUSD > 0 {
			t.Info("Budget:  $%.2f", cfg.Limits.BudgetUSD)
		}
	}
	return nil
}
