package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "limits.stall_threshold")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all
// validation errors found
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError

	errs = append(errs, c.validateLimits()...)
	errs = append(errs, c.validateLogging()...)
	errs = append(errs, c.validatePaths()...)

	return errs
}

func (c *Config) validateLimits() []ValidationError {
	var errs []ValidationError

	if c.Limits.MaxSpiralPasses < 1 {
		errs = append(errs, ValidationError{
			Field:   "limits.max_spiral_passes",
			Value:   c.Limits.MaxSpiralPasses,
			Message: "must be at least 1",
		})
	}
	if c.Limits.MaxBuildIterations < 1 {
		errs = append(errs, ValidationError{
			Field:   "limits.max_build_iterations",
			Value:   c.Limits.MaxBuildIterations,
			Message: "must be at least 1",
		})
	}
	if c.Limits.StallThreshold < 1 {
		errs = append(errs, ValidationError{
			Field:   "limits.stall_threshold",
			Value:   c.Limits.StallThreshold,
			Message: "must be at least 1",
		})
	}
	if c.Limits.BudgetWarnPct < 1 || c.Limits.BudgetWarnPct > 100 {
		errs = append(errs, ValidationError{
			Field:   "limits.budget_warn_pct",
			Value:   c.Limits.BudgetWarnPct,
			Message: "must be between 1 and 100",
		})
	}

	return errs
}

func (c *Config) validateLogging() []ValidationError {
	var errs []ValidationError

	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	return errs
}

func (c *Config) validatePaths() []ValidationError {
	var errs []ValidationError

	if c.Paths.LisaRoot == "" {
		errs = append(errs, ValidationError{
			Field:   "paths.lisa_root",
			Value:   c.Paths.LisaRoot,
			Message: "must not be empty",
		})
	}
	if len(c.Paths.Source) == 0 {
		errs = append(errs, ValidationError{
			Field:   "paths.source",
			Value:   c.Paths.Source,
			Message: "must list at least one source directory",
		})
	}
	for _, dir := range c.Paths.Source {
		if dir == "" || dir == "." || dir == "/" {
			errs = append(errs, ValidationError{
				Field:   "paths.source",
				Value:   dir,
				Message: "source directories must be concrete subdirectories",
			})
		}
	}
	if c.Paths.TestsDdv == "" {
		errs = append(errs, ValidationError{
			Field:   "paths.tests_ddv",
			Value:   c.Paths.TestsDdv,
			Message: "must not be empty",
		})
	}

	return errs
}
