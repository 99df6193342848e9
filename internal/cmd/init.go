package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/automaker/internal/project"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize automaker in the current project",
		Long: `Create the .automaker directory with an empty feature list.
Existing files are left untouched, so init is safe to re-run.`,
		Args: cobra.NoArgs,
		RunE: runInit,
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	dir, err := projectDir()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	layout := project.NewLayout(dir, cfg.Storage.StateDir(dir))
	res, err := project.Init(newFs(), layout)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}

	out := cmd.OutOrStdout()
	if res.NewProject {
		fmt.Fprintln(out, "automaker initialized successfully!")
	} else {
		fmt.Fprintln(out, "automaker already initialized.")
	}
	for _, f := range res.CreatedFiles {
		fmt.Fprintf(out, "  created  %s\n", f)
	}
	for _, f := range res.ExistingFiles {
		fmt.Fprintf(out, "  exists   %s\n", f)
	}
	fmt.Fprintf(out, "State directory: %s\n", layout.StateDir)
	return nil
}
