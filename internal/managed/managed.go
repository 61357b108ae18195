// Package managed defines the small hand-off interface between the
// scheduler and a managed (`mode = "tui"`) task's collaborator, plus the
// non-interactive fallback runners used when EFFIGY_MANAGED_STREAM or
// EFFIGY_MANAGED_TUI bypasses the interactive TUI. The real multi-pane
// rendering lives outside this module; this package only carries the
// protocol-level contract (Plan/Launch/ExitCode).
package managed

import (
	"context"
	"os"
	"sync"

	"effigy/internal/applog"
	"effigy/internal/manifest"
	"effigy/internal/procexec"
)

var log = applog.For("managed")

// Runner is the small interface a managed task hands off to: plan
// describes what would run, launch actually runs it (holding the
// profile:<task>/<profile> lock for its runtime is the caller's
// responsibility), and the launch result carries the observed exit code.
type Runner interface {
	Plan(task manifest.TaskDef, profile string) []string
	Launch(ctx context.Context, repo string, task manifest.TaskDef, profile string) Result
}

// Result is a managed task's outcome as observed by the scheduler: one
// node, one exit code, regardless of how many processes the collaborator
// ran underneath it.
type Result struct {
	ExitCode int
	Err      error
}

// Env var names controlling which collaborator a managed task hands off
// to. StreamEnvVar=1/true selects StreamRunner; otherwise TUIEnvVar=0/false
// selects plan-mode. No TUI runner is linked into this build, so
// TUIEnvVar=1/true (like any other value) selects StreamRunner.
const (
	TUIEnvVar    = "EFFIGY_MANAGED_TUI"
	StreamEnvVar = "EFFIGY_MANAGED_STREAM"
)

// Select picks the Runner for this invocation from the environment. The
// interactive multi-pane collaborator is external; when nothing requests
// plan-mode the stream fallback runs the managed set non-interactively.
func Select() Runner {
	if v := os.Getenv(StreamEnvVar); v == "1" || v == "true" {
		return StreamRunner{}
	}
	if v := os.Getenv(TUIEnvVar); v == "0" || v == "false" {
		return PlanRunner{}
	}
	return StreamRunner{}
}

// PlanRunner is the plan-mode collaborator: it logs each command that
// would run at info level, without launching anything, reporting success.
type PlanRunner struct{}

func (PlanRunner) Plan(task manifest.TaskDef, profile string) []string {
	return StreamRunner{}.Plan(task, profile)
}

func (p PlanRunner) Launch(ctx context.Context, repo string, task manifest.TaskDef, profile string) Result {
	for _, cmd := range p.Plan(task, profile) {
		log.Info("plan", "run", cmd)
	}
	return Result{}
}

// StreamRunner is the non-interactive fallback collaborator (selected by
// EFFIGY_MANAGED_STREAM, or by default when no TUI collaborator is
// linked into this build): it runs every
// concurrent process descriptor with inherited stdio, interleaving
// output directly rather than rendering panes, and waits for all of them.
type StreamRunner struct{}

// Plan returns the commands StreamRunner would launch for task/profile,
// applying any profile override on top of the task's base Concurrent set.
func (StreamRunner) Plan(task manifest.TaskDef, profile string) []string {
	descs := resolveDescriptors(task, profile)
	cmds := make([]string, len(descs))
	for i, d := range descs {
		cmds[i] = d.Run
	}
	return cmds
}

// Launch runs every resolved process descriptor concurrently to
// completion and returns the non-zero exit code of the first failing
// descriptor in declaration order, or 0 if every process exited cleanly. Descriptors are reaped in full: a
// failing process does not cancel its siblings, matching the scheduler's
// "wait for already-started siblings to finish" discipline for node
// failures elsewhere in the core.
func (StreamRunner) Launch(ctx context.Context, repo string, task manifest.TaskDef, profile string) Result {
	descs := resolveDescriptors(task, profile)
	if len(descs) == 0 {
		return Result{}
	}

	results := make([]procexec.Result, len(descs))
	var wg sync.WaitGroup
	for i, d := range descs {
		wg.Add(1)
		go func(i int, d manifest.ProcessDescriptor) {
			defer wg.Done()
			workdir := repo
			if d.WorkDir != "" {
				workdir = d.WorkDir
			}
			env := os.Environ()
			for k, v := range d.Env {
				env = append(env, k+"="+v)
			}
			log.Debug("launching managed process", "name", d.Name)
			results[i] = procexec.Run(ctx, procexec.Request{
				Command: d.Run,
				WorkDir: workdir,
				Env:     env,
				Stdio:   procexec.StdioInherit,
			})
		}(i, d)
	}
	wg.Wait()

	for _, r := range results {
		if r.ExitCode != 0 {
			return Result{ExitCode: r.ExitCode}
		}
	}
	return Result{}
}

// resolveDescriptors applies a named profile override (if present) on top
// of the task's base Concurrent set, matching by descriptor Name.
func resolveDescriptors(task manifest.TaskDef, profile string) []manifest.ProcessDescriptor {
	if profile == "" {
		return task.Concurrent
	}
	override, ok := task.Profiles[profile]
	if !ok {
		return task.Concurrent
	}
	out := make([]manifest.ProcessDescriptor, 0, len(task.Concurrent))
	merged := false
	for _, d := range task.Concurrent {
		if d.Name == override.Name {
			out = append(out, override)
			merged = true
			continue
		}
		out = append(out, d)
	}
	if !merged {
		out = append(out, override)
	}
	return out
}
