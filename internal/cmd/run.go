package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/automaker/internal/config"
	"github.com/Iron-Ham/automaker/internal/engine"
	"github.com/Iron-Ham/automaker/internal/event"
	"github.com/Iron-Ham/automaker/internal/feature"
	"github.com/Iron-Ham/automaker/internal/scheduler"
	"github.com/Iron-Ham/automaker/internal/tui/styles"
	"github.com/Iron-Ham/automaker/internal/util"
)

// startFunc requests one kind of run from the engine.
type startFunc func(ctx context.Context, e *engine.Engine, id string) (scheduler.RunningTask, error)

func newStartCmd() *cobra.Command {
	var resume bool
	c := &cobra.Command{
		Use:   "start <id>",
		Short: "Run the agent on a feature and stream its output",
		Long: `Run the agent on a feature and stream its output until the run ends.
Press Ctrl+C to stop the run; its output is kept so it can be resumed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start := func(ctx context.Context, e *engine.Engine, id string) (scheduler.RunningTask, error) {
				if resume {
					return e.Resume(ctx, id)
				}
				return e.Start(ctx, id)
			}
			return runAndWait(cmd, args[0], start)
		},
	}
	c.Flags().BoolVarP(&resume, "resume", "r", false, "continue from the persisted agent output")
	return c
}

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <id>",
		Short: "Continue an interrupted run from its persisted output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAndWait(cmd, args[0], func(ctx context.Context, e *engine.Engine, id string) (scheduler.RunningTask, error) {
				return e.Resume(ctx, id)
			})
		},
	}
}

func newFollowUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "follow-up <id> <instructions...>",
		Short: "Send further instructions to a feature awaiting approval",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			instructions := strings.Join(args[1:], " ")
			return runAndWait(cmd, args[0], func(ctx context.Context, e *engine.Engine, id string) (scheduler.RunningTask, error) {
				return e.FollowUp(ctx, id, instructions)
			})
		},
	}
}

// runAndWait starts one run, streams its events and blocks until it ends.
// Interrupting stops the run and waits for its outcome to be recorded.
func runAndWait(cmd *cobra.Command, ref string, start startFunc) error {
	return withEngine(cmd, openOptions{}, func(ctx context.Context, e *engine.Engine) error {
		id, err := resolveID(e, ref)
		if err != nil {
			return err
		}

		printer := newEventPrinter(cmd.OutOrStdout(), e, func(fid string) bool { return fid == id })
		sub := e.Subscribe("*", printer.handle)
		defer e.Unsubscribe(sub)

		finished, finSub := e.SubscribeChan(event.TypeFeatureFinished, 16)
		defer e.Unsubscribe(finSub)

		if _, err := start(ctx, e, id); err != nil {
			return fmt.Errorf("failed to start: %w", err)
		}

		for {
			select {
			case <-ctx.Done():
				// Close cancels the run and records it as aborted.
				return nil
			case ev, ok := <-finished:
				if !ok {
					return nil
				}
				fin, isFin := ev.(event.FeatureFinishedEvent)
				if !isFin || fin.FeatureID != id {
					continue
				}
				if feature.Outcome(fin.Outcome) == feature.OutcomeFailed {
					return fmt.Errorf("run failed: %s", fin.Error)
				}
				return nil
			}
		}
	})
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <id>",
		Short: "Force-stop a feature",
		Long: `Force-stop a feature. A feature left in progress by an interrupted or
failed run is returned to the backlog; its agent output is kept.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, openOptions{}, func(ctx context.Context, e *engine.Engine) error {
				id, err := resolveID(e, args[0])
				if err != nil {
					return err
				}
				changed, err := e.Stop(ctx, id)
				if err != nil {
					return fmt.Errorf("failed to stop: %w", err)
				}
				if !changed {
					fmt.Fprintf(cmd.OutOrStdout(), "%s is not in progress.\n", util.ShortID(id))
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Stopped %s\n", util.ShortID(id))
				return nil
			})
		},
	}
}

// transition is a manual lifecycle move on one feature.
type transition func(ctx context.Context, e *engine.Engine, id string) (feature.Feature, error)

func newTransitionCmd(use, short string, move transition) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, openOptions{}, func(ctx context.Context, e *engine.Engine) error {
				id, err := resolveID(e, args[0])
				if err != nil {
					return err
				}
				f, err := move(ctx, e, id)
				if err != nil {
					return fmt.Errorf("failed to %s: %w", use, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s → %s\n", f.DisplayTitle(), styles.StatusStyle(f.Status).Render(string(f.Status)))
				return nil
			})
		},
	}
}

func newApproveCmd() *cobra.Command {
	return newTransitionCmd("approve", "Accept a feature's work (waiting_approval → verified)",
		func(ctx context.Context, e *engine.Engine, id string) (feature.Feature, error) { return e.Approve(ctx, id) })
}

func newApprovePlanCmd() *cobra.Command {
	return newTransitionCmd("approve-plan", "Approve a generated plan so implementation can start",
		func(ctx context.Context, e *engine.Engine, id string) (feature.Feature, error) { return e.ApprovePlan(ctx, id) })
}

func newCommitCmd() *cobra.Command {
	return newTransitionCmd("commit", "Mark a verified feature completed",
		func(ctx context.Context, e *engine.Engine, id string) (feature.Feature, error) { return e.Commit(ctx, id) })
}

func newRunCmd() *cobra.Command {
	var (
		concurrency int
		noDeps      bool
	)
	c := &cobra.Command{
		Use:   "run",
		Short: "Run eligible backlog features in auto mode until the board is idle",
		Long: `Enable auto mode: backlog features whose dependencies are done are
started in priority order, up to the concurrency budget, until nothing is
left to run. Edits to engine settings in the config file apply live.
Press Ctrl+C to stop every run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o := openOptions{live: true, mutate: func(cfg *config.Config) {
				if cmd.Flags().Changed("concurrency") {
					cfg.Engine.MaxConcurrency = concurrency
				}
				if noDeps {
					cfg.Engine.DependencyBlocking = false
				}
			}}
			return withEngine(cmd, o, func(ctx context.Context, e *engine.Engine) error {
				printer := newEventPrinter(cmd.OutOrStdout(), e, nil)
				sub := e.Subscribe("*", printer.handle)
				defer e.Unsubscribe(sub)

				if err := e.SetAutoMode(true); err != nil {
					return err
				}
				snap := e.Snapshot()
				fmt.Fprintf(cmd.OutOrStdout(), "Auto mode on (budget %d, %d features)\n", snap.Budget, len(snap.Features))

				if err := e.WaitIdle(ctx); err != nil {
					fmt.Fprintln(cmd.OutOrStdout(), styles.Warning.Render("Interrupted, stopping runs..."))
					return nil
				}
				printTally(cmd, e.Snapshot())
				return nil
			})
		},
	}
	c.Flags().IntVarP(&concurrency, "concurrency", "j", 0, "concurrency budget (1-10)")
	c.Flags().BoolVar(&noDeps, "no-deps", false, "ignore dependencies when choosing what to run")
	return c
}

func printTally(cmd *cobra.Command, snap engine.Snapshot) {
	cols := snap.ByStatus()
	var parts []string
	for _, s := range feature.Statuses() {
		if n := len(cols[s]); n > 0 {
			parts = append(parts, fmt.Sprintf("%s %d", styles.StatusTitle(s), n))
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Idle: %s\n", strings.Join(parts, ", "))
}
