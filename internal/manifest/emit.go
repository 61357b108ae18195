package manifest

import (
	"github.com/pelletier/go-toml/v2"
)

// Marshal-shape structs for the canonical emission. Every task is emitted
// in the full-table form with explicit step ids and fail_fast, so a
// second load-then-emit pass reproduces the output byte for byte.

type canonicalCatalogSection struct {
	Alias string `toml:"alias"`
}

type canonicalPackageManager struct {
	JS string `toml:"js"`
}

type canonicalTest struct {
	MaxParallel int               `toml:"max_parallel,omitempty"`
	Suites      map[string]string `toml:"suites,omitempty"`
	Runners     map[string]string `toml:"runners,omitempty"`
}

type canonicalRun struct {
	Run string `toml:"run"`
}

type canonicalStep struct {
	ID           string   `toml:"id"`
	Run          string   `toml:"run,omitempty"`
	Task         string   `toml:"task,omitempty"`
	Args         []string `toml:"args,omitempty"`
	DependsOn    []string `toml:"depends_on,omitempty"`
	TimeoutMS    int64    `toml:"timeout_ms,omitempty"`
	Retry        int      `toml:"retry,omitempty"`
	RetryDelayMS int64    `toml:"retry_delay_ms,omitempty"`
	FailFast     bool     `toml:"fail_fast"`
}

type canonicalDescriptor struct {
	Name    string            `toml:"name,omitempty"`
	Run     string            `toml:"run,omitempty"`
	Env     map[string]string `toml:"env,omitempty"`
	WorkDir string            `toml:"workdir,omitempty"`
}

type canonicalTask struct {
	Run           []canonicalStep                `toml:"run,omitempty"`
	Mode          string                         `toml:"mode,omitempty"`
	Concurrent    []canonicalDescriptor          `toml:"concurrent,omitempty"`
	Profiles      map[string]canonicalDescriptor `toml:"profiles,omitempty"`
	FailOnNonZero bool                           `toml:"fail_on_non_zero,omitempty"`
	Shell         bool                           `toml:"shell,omitempty"`
	Task          string                         `toml:"task,omitempty"`
}

type canonicalManifest struct {
	Catalog        *canonicalCatalogSection `toml:"catalog,omitempty"`
	PackageManager *canonicalPackageManager `toml:"package_manager,omitempty"`
	Test           *canonicalTest           `toml:"test,omitempty"`
	Defer          *canonicalRun            `toml:"defer,omitempty"`
	Shell          *canonicalRun            `toml:"shell,omitempty"`
	Tasks          map[string]canonicalTask `toml:"tasks,omitempty"`
}

// EmitCanonical renders cat back to manifest TOML in normalized form:
// every task as a full table, every step with its (possibly auto-assigned)
// id and an explicit fail_fast. The output is a fixed point of
// load-then-emit, so a second pass reproduces it byte for byte.
func EmitCanonical(cat *Catalog) ([]byte, error) {
	out := canonicalManifest{}

	if cat.Alias != "" {
		out.Catalog = &canonicalCatalogSection{Alias: cat.Alias}
	}
	if cat.PackageManager.JS != "" {
		out.PackageManager = &canonicalPackageManager{JS: cat.PackageManager.JS}
	}
	if cat.TestConfig.MaxParallel != 0 || len(cat.TestConfig.Suites) > 0 || len(cat.TestConfig.Runners) > 0 {
		out.Test = &canonicalTest{
			MaxParallel: cat.TestConfig.MaxParallel,
			Suites:      cat.TestConfig.Suites,
			Runners:     cat.TestConfig.Runners,
		}
	}
	if cat.Defer != "" {
		out.Defer = &canonicalRun{Run: cat.Defer}
	}
	if cat.ShellOverride != "" {
		out.Shell = &canonicalRun{Run: cat.ShellOverride}
	}

	// go-toml/v2 emits map keys in sorted order, which keeps the output
	// deterministic without an ordered intermediate.
	if len(cat.Tasks) > 0 {
		out.Tasks = make(map[string]canonicalTask, len(cat.Tasks))
		for name, task := range cat.Tasks {
			out.Tasks[name] = canonicalizeTask(task)
		}
	}

	return toml.Marshal(out)
}

func canonicalizeTask(task TaskDef) canonicalTask {
	ct := canonicalTask{
		Mode:          task.Mode,
		FailOnNonZero: task.FailOnNonZero,
		Shell:         task.Shell,
		Task:          task.Alias,
	}
	for _, s := range task.Steps {
		cs := canonicalStep{
			ID:           s.ID,
			DependsOn:    s.DependsOn,
			TimeoutMS:    s.Policy.TimeoutMS,
			Retry:        s.Policy.Retry,
			RetryDelayMS: s.Policy.RetryDelayMS,
			FailFast:     s.Policy.FailFast,
		}
		switch s.Kind {
		case StepRef:
			cs.Task = s.RefSelector
			cs.Args = s.InlineArgs
		default:
			cs.Run = s.Command
		}
		ct.Run = append(ct.Run, cs)
	}
	for _, d := range task.Concurrent {
		ct.Concurrent = append(ct.Concurrent, canonicalDescriptor(d))
	}
	if len(task.Profiles) > 0 {
		ct.Profiles = make(map[string]canonicalDescriptor, len(task.Profiles))
		for name, d := range task.Profiles {
			ct.Profiles[name] = canonicalDescriptor(d)
		}
	}
	return ct
}
