package cmd

import (
	"github.com/spf13/cobra"
)

var runMaxPasses int

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the spiral from the top",
	Long: `Run the full spiral: scoping first if it has not been approved yet,
then up to --max-passes passes of refine, DDV red, build, execute and
validate, each ending at a human review gate.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().IntVar(&runMaxPasses, "max-passes", 0, "maximum spiral passes (default from lisa.yaml)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	controller, cleanup, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if noPause, _ := cmd.Flags().GetBool("no-pause"); noPause {
		controller.Term.Warnf("Running with --no-pause: all human review gates resolve to their defaults.")
	}

	return controller.Run(cmd.Context(), runMaxPasses)
}
