// Package config defines the lisa.yaml project configuration. It is
// loaded through viper, so every key can also be set via LISA_*
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// FileName is the project config file name, expected at the repository root.
const FileName = "lisa.yaml"

// Config represents the complete lisa-loop configuration
type Config struct {
	Project  ProjectConfig  `mapstructure:"project"`
	Models   ModelsConfig   `mapstructure:"models"`
	Limits   LimitsConfig   `mapstructure:"limits"`
	Review   ReviewConfig   `mapstructure:"review"`
	Git      GitConfig      `mapstructure:"git"`
	Terminal TerminalConfig `mapstructure:"terminal"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Paths    PathsConfig    `mapstructure:"paths"`
	Commands CommandsConfig `mapstructure:"commands"`
}

// ProjectConfig identifies the project being driven
type ProjectConfig struct {
	// Name is surfaced in agent prompts and status output
	Name string `mapstructure:"name"`
}

// ModelsConfig selects the model per phase
type ModelsConfig struct {
	Scope    string `mapstructure:"scope"`
	Refine   string `mapstructure:"refine"`
	Ddv      string `mapstructure:"ddv"`
	Build    string `mapstructure:"build"`
	Execute  string `mapstructure:"execute"`
	Validate string `mapstructure:"validate"`
}

// ForPhase returns the configured model for a phase name, falling back
// to the build model for unknown phases.
func (m ModelsConfig) ForPhase(phase string) string {
	switch phase {
	case "scope":
		return m.Scope
	case "refine":
		return m.Refine
	case "ddv_red":
		return m.Ddv
	case "build":
		return m.Build
	case "execute":
		return m.Execute
	case "validate", "finalize":
		return m.Validate
	default:
		return m.Build
	}
}

// LimitsConfig bounds the spiral
type LimitsConfig struct {
	// MaxSpiralPasses is the default number of passes for `lisa run`
	MaxSpiralPasses int `mapstructure:"max_spiral_passes"`
	// MaxBuildIterations caps the build loop within one pass
	MaxBuildIterations int `mapstructure:"max_build_iterations"`
	// StallThreshold is the number of consecutive no-progress build
	// iterations tolerated before the loop gives up
	StallThreshold int `mapstructure:"stall_threshold"`
	// BudgetUSD is the total spend limit; 0 disables the budget
	BudgetUSD float64 `mapstructure:"budget_usd"`
	// BudgetWarnPct is the percentage of the budget at which to warn
	BudgetWarnPct int `mapstructure:"budget_warn_pct"`
}

// ReviewConfig controls the human gates
type ReviewConfig struct {
	// Pause enables interactive review gates. When false every gate
	// resolves to its safe default without prompting.
	Pause bool `mapstructure:"pause"`
}

// GitConfig controls commit and push behavior
type GitConfig struct {
	// AutoCommit commits after each phase; disabling it leaves the
	// work tree for manual commits
	AutoCommit bool `mapstructure:"auto_commit"`
	// AutoPush pushes after finalize
	AutoPush bool `mapstructure:"auto_push"`
}

// TerminalConfig controls terminal rendering
type TerminalConfig struct {
	// CollapseOutput rewrites agent progress on a single status line
	// instead of scrolling every event
	CollapseOutput bool `mapstructure:"collapse_output"`
}

// LoggingConfig controls the debug log
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// PathsConfig locates the project's moving parts
type PathsConfig struct {
	// LisaRoot is the working directory for spiral artifacts
	LisaRoot string `mapstructure:"lisa_root"`
	// Source lists the directories the DDV phase must not touch
	Source []string `mapstructure:"source"`
	// TestsDdv holds domain verification tests, written only in ddv_red
	TestsDdv string `mapstructure:"tests_ddv"`
	// TestsSoftware holds conventional software tests
	TestsSoftware string `mapstructure:"tests_software"`
	// TestsIntegration holds integration tests
	TestsIntegration string `mapstructure:"tests_integration"`
}

// LisaRoot resolves the spiral working directory against the project
// root.
func (c *Config) LisaRoot(projectRoot string) string {
	if filepath.IsAbs(c.Paths.LisaRoot) {
		return c.Paths.LisaRoot
	}
	return filepath.Join(projectRoot, c.Paths.LisaRoot)
}

// CommandsConfig holds the project's shell commands, surfaced verbatim
// in agent prompts
type CommandsConfig struct {
	Setup           string `mapstructure:"setup"`
	Build           string `mapstructure:"build"`
	TestAll         string `mapstructure:"test_all"`
	TestDdv         string `mapstructure:"test_ddv"`
	TestSoftware    string `mapstructure:"test_software"`
	TestIntegration string `mapstructure:"test_integration"`
	Lint            string `mapstructure:"lint"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Project: ProjectConfig{Name: "project"},
		Models: ModelsConfig{
			Scope:    "opus",
			Refine:   "opus",
			Ddv:      "opus",
			Build:    "sonnet",
			Execute:  "opus",
			Validate: "opus",
		},
		Limits: LimitsConfig{
			MaxSpiralPasses:    5,
			MaxBuildIterations: 50,
			StallThreshold:     2,
			BudgetUSD:          0,
			BudgetWarnPct:      80,
		},
		Review:   ReviewConfig{Pause: true},
		Git:      GitConfig{AutoCommit: true, AutoPush: false},
		Terminal: TerminalConfig{CollapseOutput: true},
		Logging:  LoggingConfig{Level: "info"},
		Paths: PathsConfig{
			LisaRoot:         ".lisa",
			Source:           []string{"src"},
			TestsDdv:         "tests/ddv",
			TestsSoftware:    "tests/software",
			TestsIntegration: "tests/integration",
		},
		Commands: CommandsConfig{},
	}
}

// SetDefaults registers every configuration key with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("project.name", defaults.Project.Name)

	viper.SetDefault("models.scope", defaults.Models.Scope)
	viper.SetDefault("models.refine", defaults.Models.Refine)
	viper.SetDefault("models.ddv", defaults.Models.Ddv)
	viper.SetDefault("models.build", defaults.Models.Build)
	viper.SetDefault("models.execute", defaults.Models.Execute)
	viper.SetDefault("models.validate", defaults.Models.Validate)

	viper.SetDefault("limits.max_spiral_passes", defaults.Limits.MaxSpiralPasses)
	viper.SetDefault("limits.max_build_iterations", defaults.Limits.MaxBuildIterations)
	viper.SetDefault("limits.stall_threshold", defaults.Limits.StallThreshold)
	viper.SetDefault("limits.budget_usd", defaults.Limits.BudgetUSD)
	viper.SetDefault("limits.budget_warn_pct", defaults.Limits.BudgetWarnPct)

	viper.SetDefault("review.pause", defaults.Review.Pause)

	viper.SetDefault("git.auto_commit", defaults.Git.AutoCommit)
	viper.SetDefault("git.auto_push", defaults.Git.AutoPush)

	viper.SetDefault("terminal.collapse_output", defaults.Terminal.CollapseOutput)

	viper.SetDefault("logging.level", defaults.Logging.Level)

	viper.SetDefault("paths.lisa_root", defaults.Paths.LisaRoot)
	viper.SetDefault("paths.source", defaults.Paths.Source)
	viper.SetDefault("paths.tests_ddv", defaults.Paths.TestsDdv)
	viper.SetDefault("paths.tests_software", defaults.Paths.TestsSoftware)
	viper.SetDefault("paths.tests_integration", defaults.Paths.TestsIntegration)

	viper.SetDefault("commands.setup", defaults.Commands.Setup)
	viper.SetDefault("commands.build", defaults.Commands.Build)
	viper.SetDefault("commands.test_all", defaults.Commands.TestAll)
	viper.SetDefault("commands.test_ddv", defaults.Commands.TestDdv)
	viper.SetDefault("commands.test_software", defaults.Commands.TestSoftware)
	viper.SetDefault("commands.test_integration", defaults.Commands.TestIntegration)
	viper.SetDefault("commands.lint", defaults.Commands.Lint)
}

// Load reads the configuration from viper into a Config struct and
// validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// LoadProject reads lisa.yaml from the given project root using a fresh
// viper instance, so tests and the rollback command can load config
// without touching global state.
func LoadProject(root string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(filepath.Join(root, FileName))
	v.SetEnvPrefix("LISA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaultsOn(v)

	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read %s: %w", FileName, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// setDefaultsOn registers defaults on a specific viper instance.
func setDefaultsOn(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("project.name", defaults.Project.Name)
	v.SetDefault("models.scope", defaults.Models.Scope)
	v.SetDefault("models.refine", defaults.Models.Refine)
	v.SetDefault("models.ddv", defaults.Models.Ddv)
	v.SetDefault("models.build", defaults.Models.Build)
	v.SetDefault("models.execute", defaults.Models.Execute)
	v.SetDefault("models.validate", defaults.Models.Validate)
	v.SetDefault("limits.max_spiral_passes", defaults.Limits.MaxSpiralPasses)
	v.SetDefault("limits.max_build_iterations", defaults.Limits.MaxBuildIterations)
	v.SetDefault("limits.stall_threshold", defaults.Limits.StallThreshold)
	v.SetDefault("limits.budget_usd", defaults.Limits.BudgetUSD)
	v.SetDefault("limits.budget_warn_pct", defaults.Limits.BudgetWarnPct)
	v.SetDefault("review.pause", defaults.Review.Pause)
	v.SetDefault("git.auto_commit", defaults.Git.AutoCommit)
	v.SetDefault("git.auto_push", defaults.Git.AutoPush)
	v.SetDefault("terminal.collapse_output", defaults.Terminal.CollapseOutput)
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("paths.lisa_root", defaults.Paths.LisaRoot)
	v.SetDefault("paths.source", defaults.Paths.Source)
	v.SetDefault("paths.tests_ddv", defaults.Paths.TestsDdv)
	v.SetDefault("paths.tests_software", defaults.Paths.TestsSoftware)
	v.SetDefault("paths.tests_integration", defaults.Paths.TestsIntegration)
	v.SetDefault("commands.setup", defaults.Commands.Setup)
	v.SetDefault("commands.build", defaults.Commands.Build)
	v.SetDefault("commands.test_all", defaults.Commands.TestAll)
	v.SetDefault("commands.test_ddv", defaults.Commands.TestDdv)
	v.SetDefault("commands.test_software", defaults.Commands.TestSoftware)
	v.SetDefault("commands.test_integration", defaults.Commands.TestIntegration)
	v.SetDefault("commands.lint", defaults.Commands.Lint)
}

// starterTemplate is the commented lisa.yaml written by `lisa init`.
const starterTemplate = `# lisa-loop project configuration
project:
  name: %q

models:
  scope: opus
  refine: opus
  ddv: opus
  build: sonnet
  execute: opus
  validate: opus

limits:
  max_spiral_passes: 5
  max_build_iterations: 50
  stall_threshold: 2
  # Total spend limit in USD; 0 disables the budget.
  budget_usd: 0
  budget_warn_pct: 80

review:
  # Set false to run unattended: every gate takes its safe default.
  pause: true

git:
  auto_commit: true
  auto_push: false

terminal:
  collapse_output: true

paths:
  lisa_root: .lisa
  source:
    - src
  tests_ddv: tests/ddv
  tests_software: tests/software
  tests_integration: tests/integration

# Shell commands surfaced to the agents. Fill these in for your stack.
commands:
  setup: ""
  build: ""
  test_all: ""
  test_ddv: ""
  test_software: ""
  test_integration: ""
  lint: ""
`

// WriteDefault writes a commented starter lisa.yaml at root. It refuses
// to overwrite an existing file.
func WriteDefault(root, name string) error {
	path := filepath.Join(root, FileName)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	return os.WriteFile(path, []byte(fmt.Sprintf(starterTemplate, name)), 0644)
}
