// Package cmd implements the automaker command line.
package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/automaker/internal/config"
	"github.com/Iron-Ham/automaker/internal/errors"
	"github.com/Iron-Ham/automaker/internal/tui/styles"
)

// Version is set at build time via ldflags.
var Version = "dev"

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "automaker",
		Short: "Run AI agents against a kanban board of features",
		Long: `automaker tracks features on a kanban board and runs Claude agents to
implement them, respecting dependencies between features and a concurrency
budget. Finished work waits for your approval before it is committed.`,
		Version:           Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return initConfig(cmd) },
	}

	root.PersistentFlags().StringP("config", "c", "", "config file (default is the project's .automaker/config.yaml, then $HOME/.config/automaker/config.yaml)")
	root.PersistentFlags().StringP("project", "C", "", "project directory (default is the current directory)")
	_ = viper.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("project", root.PersistentFlags().Lookup("project"))

	root.AddCommand(
		newInitCmd(),
		newFeatureCmd(),
		newStartCmd(),
		newResumeCmd(),
		newFollowUpCmd(),
		newStopCmd(),
		newApproveCmd(),
		newApprovePlanCmd(),
		newCommitCmd(),
		newRunCmd(),
		newBoardCmd(),
		newSuggestCmd(),
		newServeCmd(),
		newConfigCmd(),
	)
	return root
}

// Execute runs the root command
func Execute() error {
	root := NewRootCmd()
	err := root.Execute()
	if err != nil {
		printError(root.ErrOrStderr(), err)
	}
	return err
}

// printError reports expected conditions (a blocked feature, a full
// budget, a wrong status) as notes and everything else as errors.
func printError(w io.Writer, err error) {
	msg := err.Error()
	if !errors.IsUserFacing(err) || errors.GetSeverity(err) >= errors.SeverityError {
		fmt.Fprintln(w, styles.Error.Render("Error: "+msg))
		return
	}
	if errors.IsRetryable(err) {
		msg += " (try again once running features finish)"
	}
	fmt.Fprintln(w, styles.Warning.Render("Note: "+msg))
}

func initConfig(cmd *cobra.Command) error {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	switch {
	case viper.GetString("config") != "":
		viper.SetConfigFile(viper.GetString("config"))
	default:
		dir, err := projectDir()
		if err != nil {
			return err
		}
		if projectFile := config.ProjectConfigFile(dir); fileExists(projectFile) {
			viper.SetConfigFile(projectFile)
		} else {
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
			viper.AddConfigPath(config.ConfigDir())
		}
	}

	viper.SetEnvPrefix("AUTOMAKER")
	// e.g. AUTOMAKER_ENGINE_MAX_CONCURRENCY for engine.max_concurrency
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
	return nil
}

// projectDir is the --project flag or the working directory, made absolute.
func projectDir() (string, error) {
	dir := viper.GetString("project")
	if dir == "" {
		return os.Getwd()
	}
	return filepath.Abs(dir)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
