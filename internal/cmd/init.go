package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/freol35241/lisa-loop/internal/config"
	"github.com/freol35241/lisa-loop/internal/git"
	"github.com/freol35241/lisa-loop/internal/term"
)

var (
	initName string
	initTech string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize lisa in the current repository",
	Long: `Initialize lisa in the current git repository: write a starter
lisa.yaml, create the .lisa working directory, and drop a BRIEF.md
template describing the problem for the scoping agent.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initName, "name", "", "project name (default: repository directory name)")
	initCmd.Flags().StringVar(&initTech, "tech", "", "technology hint recorded in the brief")
	rootCmd.AddCommand(initCmd)
}

const briefTemplate = `# Brief: %s

## Problem

Describe the problem or question this project should answer.

## Context
%s
What exists already? What constraints apply?

## Deliverables

What should exist when the spiral completes?
`

func runInit(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}

	root, err := git.FindRoot(cwd)
	if err != nil {
		return err
	}

	name := initName
	if name == "" {
		name = filepath.Base(root)
	}

	if err := config.WriteDefault(root, name); err != nil {
		return err
	}

	lisaRoot := filepath.Join(root, ".lisa")
	if err := os.MkdirAll(lisaRoot, 0755); err != nil {
		return err
	}

	techNote := ""
	if initTech != "" {
		techNote = fmt.Sprintf("\nTechnology: %s\n", initTech)
	}
	briefPath := filepath.Join(lisaRoot, "BRIEF.md")
	if _, err := os.Stat(briefPath); err == nil {
		return fmt.Errorf("%s already exists", briefPath)
	}
	if err := os.WriteFile(briefPath, []byte(fmt.Sprintf(briefTemplate, name, techNote)), 0644); err != nil {
		return err
	}

	t := term.New()
	t.Successf("Initialized lisa for %q.", name)
	t.Info("Config: %s", filepath.Join(root, config.FileName))
	t.Info("Brief:  %s — fill it in, then run `lisa run`.", briefPath)
	return nil
}
