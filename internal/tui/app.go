package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Iron-Ham/automaker/internal/errors"
)

// Run shows the interactive board until the user quits or ctx ends.
// Quitting leaves runs to the caller, which normally closes the engine.
func Run(ctx context.Context, board Board) error {
	m := NewModel(ctx, board)
	defer m.Close()

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return errors.Wrap(err, "board")
	}
	return nil
}
