package cmd

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/freol35241/lisa-loop/internal/errors"
)

var rollbackForce bool

var rollbackCmd = &cobra.Command{
	Use:   "rollback <pass>",
	Short: "Reset the repository to a pass boundary",
	Long: `Rollback resets the repository to the lisa/pass-N tag. The current
HEAD is kept on a backup branch, and the usage ledger is restored from
it so spend history survives the reset.`,
	Args: cobra.ExactArgs(1),
	RunE: runRollback,
}

func init() {
	rollbackCmd.Flags().BoolVarP(&rollbackForce, "force", "f", false, "skip the confirmation prompt")
	rootCmd.AddCommand(rollbackCmd)
}

func runRollback(cmd *cobra.Command, args []string) error {
	pass, err := strconv.Atoi(args[0])
	if err != nil || pass < 0 {
		return errors.NewValidationError("pass", "must be a non-negative pass number")
	}

	controller, cleanup, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	return controller.Rollback(pass, rollbackForce)
}
