package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/automaker/internal/engine"
	"github.com/Iron-Ham/automaker/internal/suggest"
	"github.com/Iron-Ham/automaker/internal/tui/styles"
	"github.com/Iron-Ham/automaker/internal/util"
)

func newSuggestCmd() *cobra.Command {
	var (
		accept    []int
		acceptAll bool
		quiet     bool
	)
	c := &cobra.Command{
		Use:   "suggest",
		Short: "Analyze the project and suggest features to add",
		Long: `Run a read-only agent over the project that proposes missing features,
ordered by priority. Use --accept to add chosen suggestions to the backlog.`,
		Example: `  automaker suggest
  automaker suggest --accept 1 --accept 3
  automaker suggest --accept-all`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, openOptions{}, func(ctx context.Context, e *engine.Engine) error {
				if !quiet {
					printer := newEventPrinter(cmd.OutOrStdout(), e, nil)
					sub := e.Subscribe("*", printer.handle)
					defer e.Unsubscribe(sub)
				}

				res, err := e.GenerateSuggestions(ctx)
				if err != nil {
					return fmt.Errorf("analysis failed: %w", err)
				}
				if res.Aborted {
					fmt.Fprintln(cmd.OutOrStdout(), styles.Warning.Render("Analysis aborted."))
					return nil
				}
				printSuggestions(cmd, res.Suggestions)

				picks := accept
				if acceptAll {
					picks = picks[:0]
					for i := range res.Suggestions {
						picks = append(picks, i+1)
					}
				}
				for _, n := range picks {
					if n < 1 || n > len(res.Suggestions) {
						return fmt.Errorf("no suggestion #%d", n)
					}
					f, err := e.AcceptSuggestion(ctx, res.Suggestions[n-1].ID)
					if err != nil {
						return fmt.Errorf("failed to accept suggestion #%d: %w", n, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Added #%d as %s\n", n, util.ShortID(f.ID))
				}
				return nil
			})
		},
	}
	c.Flags().IntSliceVarP(&accept, "accept", "a", nil, "add suggestion number N to the backlog (repeatable)")
	c.Flags().BoolVar(&acceptAll, "accept-all", false, "add every suggestion to the backlog")
	c.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not stream the agent's output")
	return c
}

func printSuggestions(cmd *cobra.Command, items []suggest.Suggestion) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out)
	if len(items) == 0 {
		fmt.Fprintln(out, "No suggestions.")
		return
	}
	fmt.Fprintln(out, styles.Header.Render(fmt.Sprintf("%d suggestions", len(items))))
	for i, s := range items {
		fmt.Fprintf(out, "%s %s %s\n",
			styles.Primary.Render("#"+strconv.Itoa(i+1)),
			styles.Bold.Render(s.Description),
			styles.Muted.Render(fmt.Sprintf("[%s, priority %g]", s.Category, s.Priority)))
		if s.Reasoning != "" {
			fmt.Fprintf(out, "   %s\n", styles.Muted.Render(s.Reasoning))
		}
		for j, step := range s.Steps {
			fmt.Fprintf(out, "   %d. %s\n", j+1, step)
		}
	}
}
