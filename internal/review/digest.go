// Package review implements the human gates of the spiral: scope
// review, pass review, blocked-task review, and environment review.
// Each gate shows a digest of the relevant documents and takes one
// keystroke; with review.pause disabled every gate resolves to its safe
// default so unattended runs never hang on a prompt.
package review

import (
	"fmt"
	"strings"
)

// ExtractSectionFirstLine returns the first non-empty line under the
// given "## " heading, or "" when the section is missing or empty.
func ExtractSectionFirstLine(content, heading string) string {
	lines := strings.Split(content, "\n")
	inSection := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "## ") {
			inSection = strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(trimmed, "## ")), heading)
			continue
		}
		if inSection && trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// ExtractPrimaryQuestion pulls the scope document's central question,
// trying the headings scoping agents actually produce.
func ExtractPrimaryQuestion(content string) string {
	for _, heading := range []string{"Primary Question", "Problem Statement", "Question"} {
		if line := ExtractSectionFirstLine(content, heading); line != "" {
			return line
		}
	}
	return ""
}

// ExtractAcceptanceLines returns up to max bullet lines from the
// Acceptance Criteria section.
func ExtractAcceptanceLines(content string, max int) []string {
	lines := strings.Split(content, "\n")
	var out []string
	inSection := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "## ") {
			if inSection {
				break
			}
			inSection = strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(trimmed, "## ")), "Acceptance Criteria")
			continue
		}
		if !inSection {
			continue
		}
		if strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") {
			out = append(out, trimmed)
			if len(out) >= max {
				break
			}
		}
	}
	return out
}

// ExtractMethodology returns the first line of the methodology section.
func ExtractMethodology(content string) string {
	for _, heading := range []string{"Methodology & Approach", "Methodology", "Approach"} {
		if line := ExtractSectionFirstLine(content, heading); line != "" {
			return line
		}
	}
	return ""
}

// CountVerificationCases counts the V0-/V1- case headings in the scope's
// Verification Cases section.
func CountVerificationCases(content string) int {
	count := 0
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			continue
		}
		name := strings.TrimSpace(strings.TrimLeft(trimmed, "# "))
		if strings.HasPrefix(name, "V0-") || strings.HasPrefix(name, "V1-") {
			count++
		}
	}
	return count
}

// ExtractStackInfo returns the resolved language and runtime line, or ""
// when the scope left it open.
func ExtractStackInfo(content string) string {
	line := ExtractSectionFirstLine(content, "Stack")
	if line == "" {
		// The stack section nests a "### Language & Runtime" heading;
		// look below it.
		lines := strings.Split(content, "\n")
		for i, l := range lines {
			if strings.Contains(l, "Language & Runtime") {
				for _, next := range lines[i+1:] {
					trimmed := strings.TrimSpace(next)
					if trimmed != "" && !strings.HasPrefix(trimmed, "#") {
						line = trimmed
						break
					}
				}
				break
			}
		}
	}
	if strings.HasPrefix(line, "To be resolved") {
		return ""
	}
	return line
}

// RedirectTemplate is the file opened in the editor when the operator
// chooses to redirect the next pass. Content left as comments counts as
// no redirect.
func RedirectTemplate(pass int) string {
	return fmt.Sprintf(`# Human Redirect — Pass %d

<!--
Write the instructions for the next pass below. Delete these comments
or leave them; only lines outside comments count. If you save this file
unchanged, the spiral continues as if you had chosen Continue.
-->
`, pass)
}

// HasRealContent reports whether redirect-file content says anything
// beyond the template: headings and comment markers don't count.
func HasRealContent(content string) bool {
	inComment := false
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "<!--") {
			inComment = true
		}
		if inComment {
			if strings.HasSuffix(trimmed, "-->") {
				inComment = false
			}
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			continue
		}
		return true
	}
	return false
}
