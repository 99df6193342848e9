package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/automaker/internal/engine"
	"github.com/Iron-Ham/automaker/internal/feature"
	"github.com/Iron-Ham/automaker/internal/tui/styles"
	"github.com/Iron-Ham/automaker/internal/util"
)

const (
	// DefaultWidth is used when the terminal size is unknown.
	DefaultWidth = 120
	// Below this per-column width the board is stacked vertically.
	minColumnWidth = 18
)

// RenderBoard lays the snapshot out as one column per status. The card of
// the selected feature id, if any, is highlighted.
func RenderBoard(snap engine.Snapshot, width int, selected string) string {
	statuses := feature.Statuses()
	cols := snap.ByStatus()

	// Each column adds two border cells and two padding cells.
	colWidth := width/len(statuses) - 4
	stacked := colWidth < minColumnWidth
	if stacked {
		colWidth = max(width-4, minColumnWidth)
	}

	rendered := make([]string, 0, len(statuses))
	for _, s := range statuses {
		rendered = append(rendered, renderColumn(s, cols[s], colWidth, selected))
	}

	var board string
	if stacked {
		board = lipgloss.JoinVertical(lipgloss.Left, rendered...)
	} else {
		board = lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
	}
	return lipgloss.JoinVertical(lipgloss.Left, header(snap), board)
}

func header(snap engine.Snapshot) string {
	parts := []string{
		fmt.Sprintf("running %d/%d", len(snap.Running), snap.Budget),
		"auto " + onOff(snap.AutoMode),
		"deps " + onOff(snap.EnforceDependencies),
	}
	if snap.SuggestionsRunning {
		parts = append(parts, "analysis running")
	}
	return styles.Primary.Bold(true).Render("automaker") + "  " + styles.Muted.Render(strings.Join(parts, " · "))
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func renderColumn(s feature.Status, views []engine.FeatureView, width int, selected string) string {
	var sb strings.Builder
	title := fmt.Sprintf("%s (%d)", styles.StatusTitle(s), len(views))
	sb.WriteString(styles.StatusStyle(s).Bold(true).Render(title))
	for _, v := range views {
		sb.WriteString("\n\n")
		sb.WriteString(renderCard(v, width, v.ID == selected))
	}
	return styles.Column.
		BorderForeground(styles.StatusColor(s)).
		Width(width).
		Render(sb.String())
}

func renderCard(v engine.FeatureView, width int, selected bool) string {
	var lines []string
	title := v.DisplayTitle()
	switch {
	case selected:
		lines = append(lines, styles.Selected.Render(util.Truncate(title, width)))
	case v.Running:
		lines = append(lines, styles.Success.Render("▶ "+util.Truncate(title, width-2)))
	case v.Error != "":
		lines = append(lines, styles.Error.Render("✗ "+util.Truncate(title, width-2)))
	default:
		lines = append(lines, styles.Bold.Render(util.Truncate(title, width)))
	}

	meta := util.ShortID(v.ID)
	if v.Category != "" {
		meta += " · " + v.Category
	}
	if v.Priority > 0 {
		meta += fmt.Sprintf(" · p%d", v.Priority)
	}
	lines = append(lines, styles.Muted.Render(util.Truncate(meta, width)))

	if notes := Notes(v); len(notes) > 0 {
		lines = append(lines, styles.Warning.Render(util.Truncate(strings.Join(notes, ", "), width)))
	}
	return strings.Join(lines, "\n")
}

// Notes are the short badges shown next to a feature.
func Notes(v engine.FeatureView) []string {
	var notes []string
	if v.Running {
		notes = append(notes, "running")
	}
	if v.Status == feature.StatusBacklog && len(v.BlockedBy) > 0 {
		short := make([]string, len(v.BlockedBy))
		for i, id := range v.BlockedBy {
			short[i] = util.ShortID(id)
		}
		notes = append(notes, "blocked by "+strings.Join(short, " "))
	}
	if v.Error != "" {
		notes = append(notes, "error")
	}
	if v.PlanSpec != nil && v.PlanSpec.Status == feature.PlanGenerated {
		notes = append(notes, "plan ready")
	}
	if v.JustFinished {
		notes = append(notes, "just finished")
	}
	return notes
}
