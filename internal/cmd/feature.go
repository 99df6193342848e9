package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/gobwas/glob"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/automaker/internal/engine"
	"github.com/Iron-Ham/automaker/internal/feature"
	"github.com/Iron-Ham/automaker/internal/store"
	"github.com/Iron-Ham/automaker/internal/tui"
	"github.com/Iron-Ham/automaker/internal/tui/styles"
	"github.com/Iron-Ham/automaker/internal/util"
)

func newFeatureCmd() *cobra.Command {
	c := &cobra.Command{
		Use:     "feature",
		Aliases: []string{"f"},
		Short:   "Manage features on the board",
	}
	c.AddCommand(
		newFeatureAddCmd(),
		newFeatureListCmd(),
		newFeatureShowCmd(),
		newFeatureEditCmd(),
		newFeatureDeleteCmd(),
		newFeaturePriorityCmd(),
		newDepCmd(),
	)
	return c
}

// featureFlags are the metadata flags shared by add and edit.
type featureFlags struct {
	title        string
	category     string
	steps        []string
	model        string
	thinking     string
	skipTests    bool
	planApproval bool
	priority     int
}

func (f *featureFlags) register(c *cobra.Command) {
	c.Flags().StringVarP(&f.title, "title", "t", "", "short title")
	c.Flags().StringVar(&f.category, "category", "", "board category")
	c.Flags().StringArrayVarP(&f.steps, "step", "s", nil, "verification step (repeatable)")
	c.Flags().StringVarP(&f.model, "model", "m", "", "model override for this feature")
	c.Flags().StringVar(&f.thinking, "thinking", "", "thinking level: "+thinkingLevels())
	c.Flags().BoolVar(&f.skipTests, "skip-tests", false, "skip automated tests; success goes straight to verified")
	c.Flags().BoolVar(&f.planApproval, "plan", false, "generate a plan for approval before implementing")
	c.Flags().IntVarP(&f.priority, "priority", "p", 0, "scheduling priority, lower runs first (0 = unset)")
}

func thinkingLevels() string {
	var names []string
	for _, l := range feature.ThinkingLevels() {
		names = append(names, string(l))
	}
	return strings.Join(names, ", ")
}

func newFeatureAddCmd() *cobra.Command {
	var (
		flags featureFlags
		deps  []string
	)
	c := &cobra.Command{
		Use:   "add <description...>",
		Short: "Add a feature to the backlog",
		Example: `  automaker feature add "Add a login form" -t Login -s "open /login" -s "submit valid credentials"
  automaker feature add "Logout button" --depends-on 3f2a9c1e`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, openOptions{}, func(ctx context.Context, e *engine.Engine) error {
				resolved, err := resolveIDs(e, deps)
				if err != nil {
					return err
				}
				f, err := e.CreateFeature(ctx, store.Draft{
					Title:               flags.title,
					Category:            flags.category,
					Description:         strings.Join(args, " "),
					Steps:               flags.steps,
					Dependencies:        resolved,
					Priority:            flags.priority,
					Model:               flags.model,
					ThinkingLevel:       feature.ThinkingLevel(flags.thinking),
					SkipTests:           flags.skipTests,
					RequirePlanApproval: flags.planApproval,
				})
				if err != nil {
					return fmt.Errorf("failed to add feature: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s)\n", styles.Bold.Render(f.DisplayTitle()), f.ID)
				return nil
			})
		},
	}
	flags.register(c)
	c.Flags().StringSliceVarP(&deps, "depends-on", "d", nil, "ids (or unique prefixes) of prerequisite features")
	return c
}

func newFeatureListCmd() *cobra.Command {
	var (
		status   string
		category string
		asJSON   bool
	)
	c := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List features",
		Example: `  automaker feature list --status backlog
  automaker feature list --category "ui/*"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if status != "" && !feature.Status(status).Valid() {
				return fmt.Errorf("unknown status %q", status)
			}
			var match glob.Glob
			if category != "" {
				g, err := glob.Compile(category, '/')
				if err != nil {
					return fmt.Errorf("invalid category pattern: %w", err)
				}
				match = g
			}
			return withEngine(cmd, openOptions{}, func(ctx context.Context, e *engine.Engine) error {
				views := filterViews(e.Snapshot().Features, feature.Status(status), match)
				if asJSON {
					return writeJSON(cmd, views)
				}
				printFeatureTable(cmd, views)
				return nil
			})
		},
	}
	c.Flags().StringVar(&status, "status", "", "only features in this status")
	c.Flags().StringVar(&category, "category", "", "only features whose category matches this glob")
	c.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return c
}

func filterViews(views []engine.FeatureView, status feature.Status, category glob.Glob) []engine.FeatureView {
	out := []engine.FeatureView{}
	for _, v := range views {
		if status != "" && v.Status != status {
			continue
		}
		if category != nil && !category.Match(v.Category) {
			continue
		}
		out = append(out, v)
	}
	return out
}

func printFeatureTable(cmd *cobra.Command, views []engine.FeatureView) {
	out := cmd.OutOrStdout()
	if len(views) == 0 {
		fmt.Fprintln(out, "No features.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPRI\tCATEGORY\tTITLE\tNOTES")
	for _, v := range views {
		pri := "-"
		if v.Priority > 0 {
			pri = strconv.Itoa(v.Priority)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			util.ShortID(v.ID), v.Status, pri, v.Category, util.Truncate(v.DisplayTitle(), 50), strings.Join(tui.Notes(v), ", "))
	}
	_ = w.Flush()
}

func newFeatureShowCmd() *cobra.Command {
	var (
		withContext bool
		asJSON      bool
	)
	c := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a feature's details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, openOptions{}, func(ctx context.Context, e *engine.Engine) error {
				id, err := resolveID(e, args[0])
				if err != nil {
					return err
				}
				f, err := e.Feature(id)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, f)
				}
				printFeature(cmd, f)
				if withContext {
					text, err := e.Context(id)
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), styles.Header.Render("Agent output"))
					fmt.Fprintln(cmd.OutOrStdout(), text)
				}
				return nil
			})
		},
	}
	c.Flags().BoolVar(&withContext, "context", false, "also print the persisted agent output")
	c.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return c
}

func printFeature(cmd *cobra.Command, f feature.Feature) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, styles.Header.Render(f.DisplayTitle()))
	fmt.Fprintf(out, "ID:       %s\n", f.ID)
	fmt.Fprintf(out, "Status:   %s\n", styles.StatusStyle(f.Status).Render(string(f.Status)))
	if f.Category != "" {
		fmt.Fprintf(out, "Category: %s\n", f.Category)
	}
	if f.Priority > 0 {
		fmt.Fprintf(out, "Priority: %d\n", f.Priority)
	}
	if f.Model != "" || f.ThinkingLevel != "" {
		fmt.Fprintf(out, "Model:    %s (thinking: %s)\n", orDefault(f.Model, "default"), orDefault(string(f.ThinkingLevel), "default"))
	}
	if len(f.Dependencies) > 0 {
		fmt.Fprintf(out, "Depends:  %s\n", strings.Join(f.Dependencies, ", "))
	}
	if f.StartedAt != nil {
		fmt.Fprintf(out, "Started:  %s\n", f.StartedAt.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(out, "\n%s\n", f.Description)
	for i, s := range f.Steps {
		fmt.Fprintf(out, "  %d. %s\n", i+1, s)
	}
	if f.Error != "" {
		fmt.Fprintf(out, "\n%s %s\n", styles.Error.Render("Error:"), f.Error)
	}
	if f.Summary != "" {
		fmt.Fprintf(out, "\n%s\n%s\n", styles.Bold.Render("Summary:"), f.Summary)
	}
	if f.PlanSpec != nil {
		fmt.Fprintf(out, "\n%s (%s)\n%s\n", styles.Bold.Render("Plan:"), f.PlanSpec.Status, f.PlanSpec.Content)
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func newFeatureEditCmd() *cobra.Command {
	var (
		flags       featureFlags
		description string
	)
	c := &cobra.Command{
		Use:   "edit <id>",
		Short: "Edit a feature's metadata",
		Long: `Edit a feature's metadata. Only the flags you pass are changed; --step
replaces the whole step list.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := store.Patch{}
			changed := cmd.Flags().Changed
			if changed("title") {
				p.Title = &flags.title
			}
			if changed("category") {
				p.Category = &flags.category
			}
			if changed("description") {
				p.Description = &description
			}
			if changed("step") {
				p.Steps = &flags.steps
			}
			if changed("model") {
				p.Model = &flags.model
			}
			if changed("thinking") {
				level := feature.ThinkingLevel(flags.thinking)
				p.ThinkingLevel = &level
			}
			if changed("skip-tests") {
				p.SkipTests = &flags.skipTests
			}
			if changed("plan") {
				p.RequirePlanApproval = &flags.planApproval
			}
			if changed("priority") {
				p.Priority = &flags.priority
			}
			return withEngine(cmd, openOptions{}, func(ctx context.Context, e *engine.Engine) error {
				id, err := resolveID(e, args[0])
				if err != nil {
					return err
				}
				f, err := e.EditFeature(ctx, id, p)
				if err != nil {
					return fmt.Errorf("failed to edit feature: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated %s\n", f.DisplayTitle())
				return nil
			})
		},
	}
	flags.register(c)
	c.Flags().StringVar(&description, "description", "", "new description")
	return c
}

func newFeatureDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a feature",
		Long: `Delete a feature and its agent output. Features that depended on it lose
that dependency.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, openOptions{}, func(ctx context.Context, e *engine.Engine) error {
				id, err := resolveID(e, args[0])
				if err != nil {
					return err
				}
				if err := e.DeleteFeature(ctx, id); err != nil {
					return fmt.Errorf("failed to delete feature: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
				return nil
			})
		},
	}
}

func newFeaturePriorityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "priority <id> <n>",
		Short: "Set the scheduling priority (lower runs first, 0 clears)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid priority %q: expected integer", args[1])
			}
			return withEngine(cmd, openOptions{}, func(ctx context.Context, e *engine.Engine) error {
				id, err := resolveID(e, args[0])
				if err != nil {
					return err
				}
				f, err := e.SetPriority(ctx, id, n)
				if err != nil {
					return fmt.Errorf("failed to set priority: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s priority = %d\n", f.DisplayTitle(), f.Priority)
				return nil
			})
		},
	}
}

func newDepCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "dep",
		Short: "Manage dependencies between features",
	}
	c.AddCommand(
		&cobra.Command{
			Use:   "add <target> <source>",
			Short: "Make target depend on source",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withEngine(cmd, openOptions{}, func(ctx context.Context, e *engine.Engine) error {
					ids, err := resolveIDs(e, args)
					if err != nil {
						return err
					}
					added, err := e.AddDependency(ctx, ids[1], ids[0])
					if err != nil {
						return fmt.Errorf("failed to add dependency: %w", err)
					}
					if !added {
						fmt.Fprintln(cmd.OutOrStdout(), "Dependency already exists.")
						return nil
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s now depends on %s\n", util.ShortID(ids[0]), util.ShortID(ids[1]))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:     "rm <target> <source>",
			Aliases: []string{"remove"},
			Short:   "Remove the dependency of target on source",
			Args:    cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withEngine(cmd, openOptions{}, func(ctx context.Context, e *engine.Engine) error {
					ids, err := resolveIDs(e, args)
					if err != nil {
						return err
					}
					removed, err := e.RemoveDependency(ctx, ids[1], ids[0])
					if err != nil {
						return fmt.Errorf("failed to remove dependency: %w", err)
					}
					if !removed {
						fmt.Fprintln(cmd.OutOrStdout(), "No such dependency.")
						return nil
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s no longer depends on %s\n", util.ShortID(ids[0]), util.ShortID(ids[1]))
					return nil
				})
			},
		},
	)
	return c
}

// resolveID accepts a full id or a unique prefix of one.
func resolveID(e *engine.Engine, ref string) (string, error) {
	var matches []string
	for _, f := range e.Features() {
		if f.ID == ref {
			return ref, nil
		}
		if strings.HasPrefix(f.ID, ref) {
			matches = append(matches, f.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no feature matches %q", ref)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%q is ambiguous (%d features match)", ref, len(matches))
	}
}

func resolveIDs(e *engine.Engine, refs []string) ([]string, error) {
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		id, err := resolveID(e, ref)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
