package cmd

import (
	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume an interrupted run from its saved state",
	Long: `Resume picks the spiral up from the persisted state file: an
interrupted phase is re-run from its start, and everything already
committed is left alone.`,
	RunE: runResume,
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	controller, cleanup, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	return controller.Resume(cmd.Context())
}
