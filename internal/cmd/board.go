package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Iron-Ham/automaker/internal/engine"
	"github.com/Iron-Ham/automaker/internal/tui"
)

func newBoardCmd() *cobra.Command {
	var (
		width       int
		interactive bool
	)
	c := &cobra.Command{
		Use:   "board",
		Short: "Show the kanban board",
		Long: `Show the kanban board.

With --interactive the board stays open, follows agent activity and accepts
key commands (start, stop, approve, commit, auto mode). Press ? for help.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if interactive {
				return withEngine(cmd, openOptions{live: true}, func(ctx context.Context, e *engine.Engine) error {
					return tui.Run(ctx, e)
				})
			}
			if width <= 0 {
				width = terminalWidth()
			}
			return withEngine(cmd, openOptions{}, func(ctx context.Context, e *engine.Engine) error {
				fmt.Fprintln(cmd.OutOrStdout(), tui.RenderBoard(e.Snapshot(), width, ""))
				return nil
			})
		},
	}
	c.Flags().IntVarP(&width, "width", "w", 0, "render width (default: terminal width)")
	c.Flags().BoolVarP(&interactive, "interactive", "i", false, "open the interactive board")
	return c
}

func terminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return tui.DefaultWidth
}
