package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"effigy/internal/config"
	"effigy/internal/effigyerr"
	"effigy/internal/graph"
	"effigy/internal/procexec"
	"effigy/internal/scheduler"
	"effigy/internal/selector"
	effwatch "effigy/internal/watch"
)

var (
	watchOwner      string
	watchOnce       bool
	watchMaxRuns    int
	watchDebounceMS int64
	watchInclude    []string
	watchExclude    []string
)

var watchCmd = &cobra.Command{
	Use:   "watch <selector> [args...]",
	Short: "Rerun a selector on file changes, debounced",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchOwner, "owner", "", "who owns file-watching semantics for the target (effigy|external)")
	_ = watchCmd.MarkFlagRequired("owner")
	watchCmd.Flags().BoolVar(&watchOnce, "once", false, "run exactly one iteration")
	watchCmd.Flags().IntVar(&watchMaxRuns, "max-runs", 0, "run up to N iterations (0 = unbounded)")
	watchCmd.Flags().Int64Var(&watchDebounceMS, "debounce-ms", 500, "quiet period after the last event before rerunning")
	watchCmd.Flags().StringArrayVar(&watchInclude, "include", nil, "doublestar include glob (repeatable); default includes everything")
	watchCmd.Flags().StringArrayVar(&watchExclude, "exclude", nil, "doublestar exclude glob (repeatable), merged with defaults")
}

func runWatch(cmd *cobra.Command, args []string) error {
	raw := args[0]
	passthrough := args[1:]

	if jsonOutput && watchMaxRuns == 0 && !watchOnce {
		err := effigyerr.New(effigyerr.InvalidArgument,
			"machine-mode (--json) output requires a bound: pass --once or --max-runs").WithExitCode(2)
		os.Exit(reportError(err))
		return nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	ws, err := LoadWorkspace(cwd, repoOverride)
	if err != nil {
		os.Exit(reportError(err))
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lastCode, err := effwatch.Run(ctx, effwatch.Config{
		Root:       ws.Root.Root,
		Target:     raw,
		Owner:      effwatch.Owner(watchOwner),
		Include:    watchInclude,
		Exclude:    watchExclude,
		DebounceMS: watchDebounceMS,
		Once:       watchOnce,
		MaxRuns:    watchMaxRuns,
		Iterate: func(iterCtx context.Context) (int, error) {
			return iterateWatchTarget(iterCtx, raw, passthrough, cwd)
		},
	})
	if err != nil {
		os.Exit(reportError(err))
		return nil
	}
	os.Exit(lastCode)
	return nil
}

// iterateWatchTarget re-resolves raw (catalogs may have changed on disk
// between iterations) and re-executes it through the DAG scheduler.
func iterateWatchTarget(ctx context.Context, raw string, passthrough []string, cwd string) (int, error) {
	ws, err := LoadWorkspace(cwd, repoOverride)
	if err != nil {
		return reportError(err), nil
	}
	res, err := ws.ResolveSelector(raw, cwd)
	if err != nil {
		return reportError(err), nil
	}
	if res.Mode == selector.ModeBuiltin {
		fmt.Fprintln(os.Stderr, warningStyle.Render("watch target resolved to a built-in, not a catalog task"))
		return 1, nil
	}

	g, err := graph.Compile(res.Catalog, res.Task, res.TaskDef, passthrough, graph.CatalogLookup{Catalogs: ws.Catalogs})
	if err != nil {
		return reportError(err), nil
	}

	rep := scheduler.Execute(ctx, g, scheduler.Options{
		MaxParallel: config.Get().MaxParallel,
		Repo:        ws.Root.Root,
		Env:         os.Environ(),
		Stdio:       procexec.StdioInherit,
	})
	emitReport(rep)
	return rep.ExitCode, nil
}
