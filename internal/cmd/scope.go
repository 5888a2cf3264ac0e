package cmd

import (
	"github.com/spf13/cobra"
)

var scopeCmd = &cobra.Command{
	Use:   "scope",
	Short: "Run only the scoping phase (pass 0)",
	RunE:  runScope,
}

func init() {
	rootCmd.AddCommand(scopeCmd)
}

func runScope(cmd *cobra.Command, args []string) error {
	controller, cleanup, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	return controller.RunScopeOnly(cmd.Context())
}
