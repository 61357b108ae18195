package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"effigy/internal/applog"
	"effigy/internal/config"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

var (
	verbose      bool
	jsonOutput   bool
	dryRun       bool
	repoOverride string

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED"))
	subtitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))
	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#EF4444"))
	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F59E0B"))
)

var app = NewApp()

var rootCmd = &cobra.Command{
	Use:   "effigy [selector] [-- args...]",
	Short: "A workspace-scoped task runner",
	Long: titleStyle.Render("effigy") + subtitleStyle.Render(" - a workspace-scoped task runner") + `

effigy discovers task catalogs across a workspace, resolves a typed
selector to a unique task in a unique catalog, and runs it: a single
shell command, a linear chain, a dependency graph, or a managed set of
co-running processes.

` + subtitleStyle.Render("Examples:") + `
  effigy build              Run the 'build' task in the nearest catalog
  effigy api/build          Run 'build' explicitly scoped to the 'api' catalog
  effigy ./services/worker/deploy   Run 'deploy' scoped by path prefix
  effigy tasks               List every discovered task
  effigy watch --owner effigy build   Rerun 'build' on file changes
  effigy unlock --all        Clear stale locks`,
	Args:         cobra.ArbitraryArgs,
	RunE:         runSelector,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initRootConfig)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit machine-readable JSON envelopes")
	rootCmd.PersistentFlags().StringVar(&repoOverride, "repo", "", "explicit workspace root override")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the admission plan without executing any node")

	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(unlockCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(configCmd)
}

func initRootConfig() {
	cfg, err := config.Load()
	if err != nil && verbose {
		fmt.Fprintln(os.Stderr, warningStyle.Render("warning: ")+fmt.Sprintf("failed to load config: %v", err))
	}
	if cfg != nil && !verbose {
		verbose = cfg.UI.Verbose
	}
	applog.SetVerbose(verbose)
}

// Execute adds all child commands to rootCmd and runs it. Called once
// by main.main.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
