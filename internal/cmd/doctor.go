package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/freol35241/lisa-loop/internal/config"
	"github.com/freol35241/lisa-loop/internal/git"
	"github.com/freol35241/lisa-loop/internal/term"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that the project is ready to run",
	RunE:  runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	t := term.New()
	failed := 0

	check := func(name string, err error) {
		if err != nil {
			t.Errorf("✗ %s: %v", name, err)
			failed++
		} else {
			t.Successf("✓ %s", name)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}

	root, rootErr := git.FindRoot(cwd)
	check("git repository", rootErr)
	if rootErr != nil {
		return fmt.Errorf("%d check(s) failed", failed)
	}

	_, claudeErr := exec.LookPath("claude")
	check("claude binary on PATH", claudeErr)

	cfg, cfgErr := config.LoadProject(root)
	check(config.FileName+" parses", cfgErr)

	if cfgErr == nil {
		lisaRoot := cfg.LisaRoot(root)
		if _, err := os.Stat(lisaRoot); err != nil {
			check(cfg.Paths.LisaRoot+" directory (run `lisa init`)", err)
		} else {
			check(cfg.Paths.LisaRoot+" directory", nil)
		}

		brief := filepath.Join(lisaRoot, "BRIEF.md")
		if _, err := os.Stat(brief); err != nil {
			check("BRIEF.md (describe the problem to scope)", err)
		} else {
			check("BRIEF.md", nil)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	t.Successf("All checks passed.")
	return nil
}
