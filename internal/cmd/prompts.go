package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/freol35241/lisa-loop/internal/config"
	"github.com/freol35241/lisa-loop/internal/git"
	"github.com/freol35241/lisa-loop/internal/prompt"
	"github.com/freol35241/lisa-loop/internal/term"
)

var promptsCmd = &cobra.Command{
	Use:   "prompts",
	Short: "Manage the phase prompts",
}

var promptsEjectCmd = &cobra.Command{
	Use:   "eject",
	Short: "Write the built-in phase prompts into the project for editing",
	Long: `Eject copies every built-in phase prompt to <lisa_root>/prompts/.
Files already present are left alone; edited prompts override the
built-ins on the next run.`,
	RunE: runPromptsEject,
}

func init() {
	promptsCmd.AddCommand(promptsEjectCmd)
	rootCmd.AddCommand(promptsCmd)
}

func runPromptsEject(cmd *cobra.Command, args []string) error {
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

	written, err := prompt.Eject(cfg.LisaRoot(root))
	if err != nil {
		return err
	}

	t := term.New()
	if len(written) == 0 {
		t.Info("All prompts already ejected; nothing written.")
		return nil
	}
	for _, path := range written {
		t.Info("Wrote %s", path)
	}
	t.Successf("Ejected %d prompt(s).", len(written))
	return nil
}
