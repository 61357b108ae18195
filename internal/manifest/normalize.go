package manifest

import (
	"fmt"
	"path/filepath"
	"strconv"

	"effigy/internal/effigyerr"
)

// normalize converts a decoded RawManifest into a Catalog. Depth is left
// at zero; catalog discovery fills it in once a Root is known, since the
// manifest loader only ever sees a single directory in isolation.
func normalize(raw *RawManifest, path string) (*Catalog, error) {
	cat := &Catalog{
		Root:  filepath.Dir(path),
		Alias: raw.Catalog.Alias,
		Defer: raw.Defer.Run,
		PackageManager: PackageManagerConfig{
			JS: raw.PackageManager.JS,
		},
		TestConfig: TestConfig{
			MaxParallel: raw.Test.MaxParallel,
			Suites:      raw.Test.Suites,
		},
		ShellOverride: raw.Shell.Run,
		Tasks:         make(map[string]TaskDef, len(raw.Tasks)),
	}
	if raw.Test.Runners != nil {
		cat.TestConfig.Runners = make(map[string]string, len(raw.Test.Runners))
		for name, r := range raw.Test.Runners {
			cmd, err := decodeRunner(name, r)
			if err != nil {
				return nil, err
			}
			cat.TestConfig.Runners[name] = cmd
		}
	}

	for name, rawValue := range raw.Tasks {
		rawTask, err := decodeTaskDef(rawValue, "tasks."+name)
		if err != nil {
			return nil, err
		}
		task, err := normalizeTask(name, rawTask, path)
		if err != nil {
			return nil, err
		}
		cat.Tasks[name] = task
	}

	return cat, nil
}

func normalizeTask(name string, raw RawTaskDef, path string) (TaskDef, error) {
	switch raw.Kind {
	case KindCompactRun:
		return TaskDef{Steps: []RunStep{defaultedStep(0, name, raw.Run)}}, nil

	case KindCompactChain:
		steps, err := normalizeChain(name, raw.Chain, path)
		if err != nil {
			return TaskDef{}, err
		}
		return TaskDef{Steps: steps}, nil

	case KindFullTable:
		return normalizeFullTable(name, raw, path)

	default:
		return TaskDef{}, effigyerr.New(effigyerr.ManifestSchema,
			fmt.Sprintf("tasks.%s: unrecognized task form", name))
	}
}

func normalizeFullTable(name string, raw RawTaskDef, path string) (TaskDef, error) {
	task := TaskDef{
		Mode:          raw.Mode,
		Concurrent:    raw.Concurrent,
		Profiles:      raw.Profiles,
		FailOnNonZero: raw.FailOnNonZero,
		Shell:         raw.Shell,
		Alias:         raw.Task,
	}

	switch r := raw.TableRun.(type) {
	case nil:
		// A pure alias or managed-mode-only task has no steps.
	case string:
		task.Steps = []RunStep{defaultedStep(0, name, r)}
	case []SeqElement:
		steps, err := normalizeChain(name, r, path)
		if err != nil {
			return TaskDef{}, err
		}
		task.Steps = steps
	default:
		return TaskDef{}, effigyerr.New(effigyerr.ManifestSchema,
			fmt.Sprintf("tasks.%s.run: unexpected decoded type %T", name, r))
	}

	if task.Alias == "" && len(task.Steps) == 0 && task.Mode == "" {
		return TaskDef{}, effigyerr.New(effigyerr.ManifestSchema,
			fmt.Sprintf("tasks.%s: table form must set run, task, or mode", name))
	}

	return task, nil
}

func normalizeChain(taskName string, chain []SeqElement, path string) ([]RunStep, error) {
	seen := make(map[string]bool, len(chain))
	steps := make([]RunStep, 0, len(chain))

	for i, el := range chain {
		id := el.ID
		if id == "" {
			id = autoID(taskName, i)
		}
		if seen[id] {
			return nil, effigyerr.New(effigyerr.ManifestSchema,
				fmt.Sprintf("tasks.%s: duplicate step id %q in %s", taskName, id, path))
		}
		seen[id] = true

		for _, dep := range el.DependsOn {
			if dep == id {
				return nil, effigyerr.New(effigyerr.ManifestSchema,
					fmt.Sprintf("tasks.%s: step %q depends on itself", taskName, id))
			}
		}

		step := RunStep{
			ID:        id,
			DependsOn: el.DependsOn,
			Policy: Policy{
				TimeoutMS:    el.TimeoutMS,
				Retry:        el.Retry,
				RetryDelayMS: el.RetryDelayMS,
				FailFast:     true,
			},
		}
		if el.FailFastSet {
			step.Policy.FailFast = el.FailFast
		}

		if el.Task != "" {
			step.Kind = StepRef
			step.RefSelector = el.Task
			step.InlineArgs = el.Args
		} else {
			step.Kind = StepExec
			step.Command = el.Run
		}

		steps = append(steps, step)
	}

	return steps, nil
}

func defaultedStep(i int, taskName, command string) RunStep {
	return RunStep{
		ID:      autoID(taskName, i),
		Kind:    StepExec,
		Command: command,
		Policy:  Policy{FailFast: true},
	}
}

func autoID(taskName string, i int) string {
	return taskName + "#" + strconv.Itoa(i)
}
