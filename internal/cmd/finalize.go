package cmd

import (
	"github.com/spf13/cobra"

	"github.com/freol35241/lisa-loop/internal/errors"
	"github.com/freol35241/lisa-loop/internal/state"
)

var finalizeCmd = &cobra.Command{
	Use:   "finalize",
	Short: "Accept the current results and produce deliverables",
	Long: `Finalize accepts the spiral's current results without waiting for a
pass gate: the finalize agent produces the deliverables and the run is
marked complete at the last finished pass.`,
	RunE: runFinalize,
}

func init() {
	rootCmd.AddCommand(finalizeCmd)
}

func runFinalize(cmd *cobra.Command, args []string) error {
	controller, cleanup, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	lisaRoot := controller.Config.LisaRoot(controller.Root)
	s, err := state.Load(lisaRoot)
	if err != nil {
		return err
	}

	pass := s.Pass
	if pass == 0 {
		// Not inside a pass; fall back to the last tagged boundary.
		if tags, err := controller.Git.ListPassTags(); err == nil {
			for _, p := range tags {
				if p > pass {
					pass = p
				}
			}
		}
	}
	if pass == 0 {
		return errors.New("nothing to finalize: no pass has completed yet")
	}

	return controller.Finalize(cmd.Context(), pass)
}
