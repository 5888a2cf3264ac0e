// Package prompt assembles agent input: a context preamble describing
// where the spiral stands, plus the phase prompt. Phase prompts are
// compiled in and can be overridden per project by files under
// <lisa_root>/prompts/.
package prompt

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/freol35241/lisa-loop/internal/config"
)

//go:embed templates/*.md
var templates embed.FS

// Phase prompt names.
const (
	Scope    = "scope"
	Refine   = "refine"
	DdvRed   = "ddv_red"
	Build    = "build"
	Execute  = "execute"
	Validate = "validate"
	Finalize = "finalize"
)

// Names lists every phase prompt, in spiral order.
func Names() []string {
	return []string{Scope, Refine, DdvRed, Build, Execute, Validate, Finalize}
}

// Load returns the prompt text for a phase: the project override under
// <lisa_root>/prompts/<name>.md if present, the compiled-in template
// otherwise.
func Load(lisaRoot, name string) (string, error) {
	override := filepath.Join(lisaRoot, "prompts", name+".md")
	if data, err := os.ReadFile(override); err == nil {
		return string(data), nil
	}

	data, err := templates.ReadFile("templates/" + name + ".md")
	if err != nil {
		return "", fmt.Errorf("unknown prompt %q: %w", name, err)
	}
	return string(data), nil
}

// Render loads the phase prompt and substitutes the project's values
// into its placeholders.
func Render(lisaRoot, name string, cfg *config.Config, maxPasses int) (string, error) {
	text, err := Load(lisaRoot, name)
	if err != nil {
		return "", err
	}

	r := strings.NewReplacer(
		"{{project_name}}", cfg.Project.Name,
		"{{lisa_root}}", cfg.Paths.LisaRoot,
		"{{source_dirs}}", strings.Join(cfg.Paths.Source, ", "),
		"{{tests_ddv}}", cfg.Paths.TestsDdv,
		"{{tests_software}}", cfg.Paths.TestsSoftware,
		"{{tests_integration}}", cfg.Paths.TestsIntegration,
		"{{max_passes}}", fmt.Sprintf("%d", maxPasses),
		"{{commands_setup}}", orUnset(cfg.Commands.Setup),
		"{{commands_build}}", orUnset(cfg.Commands.Build),
		"{{commands_test_all}}", orUnset(cfg.Commands.TestAll),
		"{{commands_test_ddv}}", orUnset(cfg.Commands.TestDdv),
		"{{commands_test_software}}", orUnset(cfg.Commands.TestSoftware),
		"{{commands_test_integration}}", orUnset(cfg.Commands.TestIntegration),
		"{{commands_lint}}", orUnset(cfg.Commands.Lint),
	)
	return r.Replace(text), nil
}

func orUnset(cmd string) string {
	if cmd == "" {
		return "(not configured)"
	}
	return cmd
}

// Preamble describes the current position in the spiral. It precedes
// every phase prompt so the agent knows where it stands without
// archaeology.
func Preamble(cfg *config.Config, pass int, phase string, redirectPath string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Project: %s\n", cfg.Project.Name)
	fmt.Fprintf(&b, "Working files live under %s. Source: %s. DDV tests: %s.\n",
		cfg.Paths.LisaRoot, strings.Join(cfg.Paths.Source, ", "), cfg.Paths.TestsDdv)

	if pass == 0 {
		fmt.Fprintf(&b, "Current position: scoping (pass 0).\n")
	} else {
		fmt.Fprintf(&b, "Current position: pass %d, phase %s.\n", pass, phase)
	}
	if pass > 1 {
		fmt.Fprintf(&b, "Earlier passes left their results in %s/pass-results.md and %s/validation.md.\n",
			cfg.Paths.LisaRoot, cfg.Paths.LisaRoot)
	}
	if redirectPath != "" {
		fmt.Fprintf(&b, "The operator redirected this pass; follow %s over existing plan priorities.\n", redirectPath)
	}

	return b.String()
}

// BuildInput assembles the final agent input: preamble, any extra
// context (scope feedback, redirect content), then the rendered phase
// prompt.
func BuildInput(preamble string, extras []string, rendered string) string {
	parts := []string{strings.TrimSpace(preamble)}
	for _, e := range extras {
		if strings.TrimSpace(e) != "" {
			parts = append(parts, strings.TrimSpace(e))
		}
	}
	parts = append(parts, strings.TrimSpace(rendered))
	return strings.Join(parts, "\n\n---\n\n") + "\n"
}

// Eject writes every compiled-in prompt to <lisa_root>/prompts/ so a
// project can customize them. Existing files are left alone.
func Eject(lisaRoot string) ([]string, error) {
	dir := filepath.Join(lisaRoot, "prompts")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create prompts directory: %w", err)
	}

	var written []string
	for _, name := range Names() {
		path := filepath.Join(dir, name+".md")
		if _, err := os.Stat(path); err == nil {
			continue
		}
		data, err := templates.ReadFile("templates/" + name + ".md")
		if err != nil {
			return written, err
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", path, err)
		}
		written = append(written, path)
	}
	return written, nil
}
