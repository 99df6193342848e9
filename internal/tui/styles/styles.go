// Package styles holds the lipgloss palette shared by the board and the
// command line output.
package styles

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/automaker/internal/feature"
)

var (
	// Colors
	PrimaryColor = lipgloss.Color("#A78BFA") // violet
	SuccessColor = lipgloss.Color("#10B981") // green
	WarningColor = lipgloss.Color("#F59E0B") // amber
	ErrorColor   = lipgloss.Color("#F87171") // red
	MutedColor   = lipgloss.Color("#9CA3AF") // gray
	BlueColor    = lipgloss.Color("#60A5FA")
	BorderColor  = lipgloss.Color("#6B7280")
	TextColor    = lipgloss.Color("#F9FAFB")

	Primary = lipgloss.NewStyle().Foreground(PrimaryColor)
	Success = lipgloss.NewStyle().Foreground(SuccessColor)
	Warning = lipgloss.NewStyle().Foreground(WarningColor)
	Error   = lipgloss.NewStyle().Foreground(ErrorColor)
	Muted   = lipgloss.NewStyle().Foreground(MutedColor)
	Bold    = lipgloss.NewStyle().Bold(true)

	Column = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(BorderColor).Padding(0, 1)
	Header = lipgloss.NewStyle().Bold(true).Foreground(PrimaryColor).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(BorderColor)

	// Selected marks the focused card on the interactive board.
	Selected = lipgloss.NewStyle().Foreground(TextColor).Background(PrimaryColor)
	HelpBar  = lipgloss.NewStyle().Foreground(MutedColor).MarginTop(1)
)

// StatusColor is the board color of each column.
func StatusColor(s feature.Status) lipgloss.Color {
	switch s {
	case feature.StatusInProgress:
		return SuccessColor
	case feature.StatusWaitingApproval:
		return WarningColor
	case feature.StatusVerified:
		return BlueColor
	case feature.StatusCompleted:
		return PrimaryColor
	default:
		return MutedColor
	}
}

func StatusStyle(s feature.Status) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(StatusColor(s))
}

// StatusTitle is the column heading for s.
func StatusTitle(s feature.Status) string {
	switch s {
	case feature.StatusBacklog:
		return "Backlog"
	case feature.StatusInProgress:
		return "In Progress"
	case feature.StatusWaitingApproval:
		return "Waiting Approval"
	case feature.StatusVerified:
		return "Verified"
	case feature.StatusCompleted:
		return "Completed"
	default:
		return string(s)
	}
}
