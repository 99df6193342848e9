// Package util provides string helpers shared by the terminal and MCP
// front ends.
package util

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// Ellipsis marks truncated text.
const Ellipsis = "…"

// Collapse replaces every run of whitespace, newlines included, with a
// single space and trims the ends.
func Collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Truncate collapses s onto one line and cuts it to width terminal columns,
// ending with an ellipsis when cut. Styled input keeps its escape sequences.
func Truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	s = Collapse(s)
	if lipgloss.Width(s) <= width {
		return s
	}
	// The tail counts toward width.
	return ansi.Truncate(s, width, Ellipsis)
}

// ShortIDLen is how many leading characters of an id are shown to humans.
const ShortIDLen = 8

// ShortID abbreviates a feature or suggestion id for display.
func ShortID(id string) string {
	if len(id) > ShortIDLen {
		return id[:ShortIDLen]
	}
	return id
}
