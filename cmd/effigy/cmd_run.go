package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"effigy/internal/builtin"
	"effigy/internal/config"
	"effigy/internal/deferral"
	"effigy/internal/effigyerr"
	"effigy/internal/graph"
	"effigy/internal/lockmgr"
	"effigy/internal/managed"
	"effigy/internal/procexec"
	"effigy/internal/report"
	"effigy/internal/scheduler"
	"effigy/internal/selector"
)

// runSelector is rootCmd's RunE: it treats args[0] as the selector and
// the remainder as passthrough args.
func runSelector(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return cmd.Help()
	}
	raw := args[0]
	passthrough := args[1:]

	cwd, err := os.Getwd()
	if err != nil {
		os.Exit(reportError(err))
		return nil
	}

	ws, err := LoadWorkspace(cwd, repoOverride)
	if err != nil {
		os.Exit(reportError(err))
		return nil
	}

	res, err := ws.ResolveSelector(raw, cwd)
	if err != nil {
		if deferred, derr := tryDefer(ws, raw, passthrough, err); deferred {
			os.Exit(exitFromDeferral(derr))
			return nil
		}
		os.Exit(reportError(err))
		return nil
	}

	if res.Mode == selector.ModeBuiltin {
		if res.Builtin == "help" {
			return cmd.Help()
		}
		root := ws.Root.Root
		if res.ScopeRoot != "" {
			root = res.ScopeRoot
		}
		env, handled, derr := app.Registry.Dispatch(builtin.Name(res.Builtin), root, passthrough)
		if derr != nil {
			os.Exit(reportError(derr))
			return nil
		}
		if handled {
			emit(env)
			if !env.OK {
				os.Exit(1)
			}
			return nil
		}
		fmt.Fprintln(os.Stderr, warningStyle.Render(fmt.Sprintf("built-in %q is not implemented in this build", res.Builtin)))
		os.Exit(1)
		return nil
	}

	os.Exit(runTask(ws, res, passthrough))
	return nil
}

// runTask compiles and executes (or hands off) the resolved task and
// returns the process exit code.
func runTask(ws *Workspace, res *selector.Resolution, passthrough []string) int {
	if res.TaskDef.Mode == "tui" {
		return runManaged(ws, res, passthrough)
	}

	cfg := config.Get()
	maxParallel := cfg.MaxParallel
	// The workspace-root catalog's [test].max_parallel overrides the
	// global default for this invocation.
	if rc := ws.rootCatalog(); rc != nil && rc.TestConfig.MaxParallel > 0 {
		maxParallel = rc.TestConfig.MaxParallel
	}

	guard, err := lockmgr.Acquire(ws.Root.Root, []string{"task:" + res.Task})
	if err != nil {
		return reportError(err)
	}
	defer guard.Release()

	g, err := graph.Compile(res.Catalog, res.Task, res.TaskDef, passthrough, graph.CatalogLookup{Catalogs: ws.Catalogs})
	if err != nil {
		return reportError(err)
	}

	if dryRun {
		emitReport(scheduler.Plan(g))
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rep := scheduler.Execute(ctx, g, scheduler.Options{
		MaxParallel: maxParallel,
		Repo:        ws.Root.Root,
		Env:         os.Environ(),
		Stdio:       stdioMode(),
	})

	emitReport(rep)
	return rep.ExitCode
}

// runManaged hands a managed (`mode = "tui"`) task off to the managed
// collaborator, holding profile:<task>/<profile> for its runtime.
func runManaged(ws *Workspace, res *selector.Resolution, passthrough []string) int {
	profile := ""
	if len(passthrough) > 0 {
		profile = passthrough[0]
	}

	scope := fmt.Sprintf("profile:%s/%s", res.Task, profile)
	guard, err := lockmgr.Acquire(ws.Root.Root, []string{scope})
	if err != nil {
		return reportError(err)
	}
	defer guard.Release()

	runner := managed.Select()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result := runner.Launch(ctx, ws.Root.Root, res.TaskDef, profile)
	if jsonOutput {
		emit(builtin.NewSuccess("run", map[string]any{"exit_code": result.ExitCode}))
	}
	return result.ExitCode
}

func stdioMode() procexec.StdioMode {
	if jsonOutput {
		return procexec.StdioCapture
	}
	return procexec.StdioInherit
}

// tryDefer attempts the deferral fallback for an eligible resolution
// failure (TaskNotDefined or CatalogPrefixNotFound). It returns
// deferred=false for any other failure kind or when no defer rule
// applies, letting the caller fall through to the ordinary error path.
func tryDefer(ws *Workspace, raw string, passthrough []string, resolveErr error) (deferred bool, exitErr error) {
	var eerr *effigyerr.Error
	if !asEffigyError(resolveErr, &eerr) {
		return false, nil
	}
	if eerr.Kind != effigyerr.TaskNotDefined && eerr.Kind != effigyerr.CatalogPrefixNotFound {
		return false, nil
	}

	target := ws.rootCatalog()
	if idx := strings.Index(raw, "/"); idx > 0 {
		for _, c := range ws.Catalogs {
			if c.Alias == raw[:idx] {
				target = c
				break
			}
		}
	}
	command, ok := deferral.Resolve(ws.Root.Root, target)
	if !ok {
		return false, nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code, err := deferral.Spawn(ctx, command, deferral.Request{
		Root:        ws.Root.Root,
		RawSelector: raw,
		Args:        passthrough,
	})
	if err != nil {
		return true, err
	}
	return true, exitCodeErr(code)
}

type exitCodeErr int

func (e exitCodeErr) Error() string { return fmt.Sprintf("exit code %d", int(e)) }

func exitFromDeferral(err error) int {
	if err == nil {
		return 0
	}
	if code, ok := err.(exitCodeErr); ok {
		return int(code)
	}
	return reportError(err)
}

func emit(env builtin.Envelope) {
	if jsonOutput {
		data, _ := json.MarshalIndent(env, "", "  ")
		fmt.Println(string(data))
		return
	}
	if !env.OK && env.Error != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(fmt.Sprintf("%s: %s", env.Error.Kind, env.Error.Message)))
		return
	}
	if env.Result != nil {
		data, _ := json.MarshalIndent(env.Result, "", "  ")
		fmt.Println(string(data))
	}
}

func emitReport(rep *report.RunReport) {
	if jsonOutput {
		emit(builtin.NewSuccess("run", rep))
		return
	}
	for _, n := range rep.Nodes {
		fmt.Printf("%-24s %-10s exit=%d attempts=%d\n", n.ID, n.Status, n.ExitCode, n.Attempts)
	}
}
