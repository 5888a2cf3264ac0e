package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/freol35241/lisa-loop/internal/agent"
	"github.com/freol35241/lisa-loop/internal/config"
	"github.com/freol35241/lisa-loop/internal/errors"
	"github.com/freol35241/lisa-loop/internal/git"
	"github.com/freol35241/lisa-loop/internal/logging"
	"github.com/freol35241/lisa-loop/internal/review"
	"github.com/freol35241/lisa-loop/internal/spiral"
	"github.com/freol35241/lisa-loop/internal/term"
)

var rootCmd = &cobra.Command{
	Use:   "lisa",
	Short: "Resumable scope/build/validate spiral for agent-driven projects",
	Long: `Lisa drives a coding agent through a spiral of passes: scope the
problem once, then refine, write domain verification tests, build,
execute, and validate on every pass, with human review gates at the
scope and pass boundaries. State is persisted after every phase, so an
interrupted run picks up exactly where it stopped with "lisa resume".`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		msg := err.Error()
		if errors.IsUserFacing(err) {
			msg = errors.UserMessage(err)
		}
		fmt.Fprintln(os.Stderr, term.Error.Render(msg))
	}
	return err
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().Bool("no-pause", false, "skip all human review gates")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug-level logging")
	rootCmd.PersistentFlags().String("log-level", "", "debug log level (debug, info, warn, error)")
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	config.SetDefaults()

	viper.SetConfigName(strings.TrimSuffix(config.FileName, ".yaml"))
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	viper.AutomaticEnv()
	viper.SetEnvPrefix("LISA")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	_ = viper.ReadInConfig()
}

// setup builds the controller stack for the current project. The
// returned cleanup closes the debug log.
func setup(cmd *cobra.Command) (*spiral.Controller, func(), error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get current directory: %w", err)
	}

	root, err := git.FindRoot(cwd)
	if err != nil {
		return nil, nil, err
	}

	cfg, err := config.LoadProject(root)
	if err != nil {
		return nil, nil, err
	}
	if noPause, _ := cmd.Flags().GetBool("no-pause"); noPause {
		cfg.Review.Pause = false
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.Logging.Level = "debug"
	}

	lisaRoot := cfg.LisaRoot(root)
	if err := os.MkdirAll(lisaRoot, 0755); err != nil {
		return nil, nil, err
	}

	logger, err := logging.NewLogger(lisaRoot, cfg.Logging.Level)
	if err != nil {
		return nil, nil, err
	}
	logger = logger.WithRun(uuid.NewString())

	t := term.New()
	controller := &spiral.Controller{
		Config: cfg,
		Git:    git.NewClient(root),
		Runner: agent.NewClaudeRunner(lisaRoot, t, logger),
		Gates: &review.Gates{
			Prompter: t,
			Term:     t,
			Pause:    cfg.Review.Pause,
			LisaRoot: lisaRoot,
		},
		Term:   t,
		Logger: logger,
		Root:   root,
	}

	cleanup := func() { _ = logger.Close() }
	return controller, cleanup, nil
}
