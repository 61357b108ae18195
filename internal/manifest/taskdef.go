package manifest

import (
	"fmt"
	"sort"
	"strings"

	"effigy/internal/effigyerr"
)

// TaskKind tags which surface form a RawTaskDef was written in.
type TaskKind int

const (
	// KindCompactRun is a single shell-command string.
	KindCompactRun TaskKind = iota
	// KindCompactChain is a heterogeneous sequence of run strings and
	// task-reference tables.
	KindCompactChain
	// KindFullTable is the `[tasks.<name>]` table form.
	KindFullTable
)

// SeqElement is one entry of a compact-chain sequence: either a bare run
// string or a reference/run table carrying step metadata.
type SeqElement struct {
	// Run is set when the element is a plain "<cmd>" string, or when it is
	// a table with a `run` key.
	Run string
	// Task is set when the element is a `{ task = "selector" }` table.
	Task string
	// Inline args passed alongside a Task reference.
	Args []string

	ID           string
	DependsOn    []string
	TimeoutMS    int64
	Retry        int
	RetryDelayMS int64
	FailFastSet  bool
	FailFast     bool
}

// seqElementKeys are the keys accepted in a sequence-element table.
var seqElementKeys = []string{
	"args", "depends_on", "fail_fast", "id", "retry", "retry_delay_ms", "run", "task", "timeout_ms",
}

// decodeSeqElement converts one already-decoded TOML value (string or
// table) into a SeqElement. path is the dotted key path of the element,
// used for schema diagnostics.
func decodeSeqElement(value any, path string) (SeqElement, error) {
	var e SeqElement
	switch v := value.(type) {
	case string:
		e.Run = v
		return e, nil
	case map[string]any:
		if err := e.fromTable(v, path); err != nil {
			return SeqElement{}, err
		}
		return e, nil
	default:
		return SeqElement{}, effigyerr.New(effigyerr.ManifestSchema,
			fmt.Sprintf("%s: sequence element must be a string or table, got %T", path, value))
	}
}

func (e *SeqElement) fromTable(v map[string]any, path string) error {
	if err := rejectUnknownKeys(v, seqElementKeys, path); err != nil {
		return err
	}
	if s, ok := v["run"].(string); ok {
		e.Run = s
	}
	if s, ok := v["task"].(string); ok {
		e.Task = s
	}
	if s, ok := v["id"].(string); ok {
		e.ID = s
	}
	if deps, ok := v["depends_on"].([]any); ok {
		for _, d := range deps {
			if s, ok := d.(string); ok {
				e.DependsOn = append(e.DependsOn, s)
			}
		}
	}
	if args, ok := v["args"].([]any); ok {
		for _, a := range args {
			if s, ok := a.(string); ok {
				e.Args = append(e.Args, s)
			}
		}
	}
	if t, ok := asInt64(v["timeout_ms"]); ok {
		e.TimeoutMS = t
	}
	if r, ok := asInt64(v["retry"]); ok {
		e.Retry = int(r)
	}
	if d, ok := asInt64(v["retry_delay_ms"]); ok {
		e.RetryDelayMS = d
	}
	if ff, ok := v["fail_fast"].(bool); ok {
		e.FailFastSet = true
		e.FailFast = ff
	}
	if e.Run == "" && e.Task == "" {
		return effigyerr.New(effigyerr.ManifestSchema,
			fmt.Sprintf("%s: sequence table must set either run or task", path))
	}
	return nil
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

// RawTaskDef is the intermediate form of one `[tasks]` entry, accepting
// all three surface forms a task definition may take: a compact run
// string, a compact chain sequence, or a full table.
type RawTaskDef struct {
	Kind TaskKind

	// KindCompactRun
	Run string

	// KindCompactChain
	Chain []SeqElement

	// KindFullTable fields
	TableRun      any // string or []SeqElement
	Mode          string
	Concurrent    []ProcessDescriptor
	Profiles      map[string]ProcessDescriptor
	FailOnNonZero bool
	Shell         bool
	Task          string
}

// ProcessDescriptor describes one member of a managed-mode `concurrent`
// set or `profiles` override. The manifest carries them intact;
// internal/managed's runners plan or launch them.
type ProcessDescriptor struct {
	Name    string
	Run     string
	Env     map[string]string
	WorkDir string
}

// fullTableKeys are the keys accepted in a `[tasks.<name>]` table.
var fullTableKeys = []string{
	"concurrent", "fail_on_non_zero", "mode", "profiles", "run", "shell", "task",
}

// decodeTaskDef converts one already-decoded `[tasks]` value into a
// RawTaskDef. go-toml/v2 has no per-type unmarshaler hook, so the tasks
// table is decoded as plain TOML values and shaped here, with schema
// violations reported against the dotted key path.
func decodeTaskDef(value any, path string) (RawTaskDef, error) {
	var t RawTaskDef
	switch v := value.(type) {
	case string:
		t.Kind = KindCompactRun
		t.Run = v
		return t, nil
	case []any:
		t.Kind = KindCompactChain
		for i, item := range v {
			el, err := decodeSeqElement(item, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return RawTaskDef{}, err
			}
			t.Chain = append(t.Chain, el)
		}
		return t, nil
	case map[string]any:
		t.Kind = KindFullTable
		if err := t.fromTable(v, path); err != nil {
			return RawTaskDef{}, err
		}
		return t, nil
	default:
		return RawTaskDef{}, effigyerr.New(effigyerr.ManifestSchema,
			fmt.Sprintf("%s: task definition must be a string, sequence, or table, got %T", path, value))
	}
}

func (t *RawTaskDef) fromTable(v map[string]any, path string) error {
	if err := rejectUnknownKeys(v, fullTableKeys, path); err != nil {
		return err
	}
	if s, ok := v["mode"].(string); ok {
		t.Mode = s
	}
	if b, ok := v["fail_on_non_zero"].(bool); ok {
		t.FailOnNonZero = b
	}
	if b, ok := v["shell"].(bool); ok {
		t.Shell = b
	}
	if s, ok := v["task"].(string); ok {
		t.Task = s
	}
	if run, ok := v["run"]; ok {
		switch r := run.(type) {
		case string:
			t.TableRun = r
		case []any:
			var chain []SeqElement
			for i, item := range r {
				el, err := decodeSeqElement(item, fmt.Sprintf("%s.run[%d]", path, i))
				if err != nil {
					return err
				}
				chain = append(chain, el)
			}
			t.TableRun = chain
		default:
			return effigyerr.New(effigyerr.ManifestSchema,
				fmt.Sprintf("%s.run: must be a string or sequence, got %T", path, run))
		}
	}
	if concurrent, ok := v["concurrent"].([]any); ok {
		for i, item := range concurrent {
			pd, err := decodeProcessDescriptor(item, fmt.Sprintf("%s.concurrent[%d]", path, i))
			if err != nil {
				return err
			}
			t.Concurrent = append(t.Concurrent, pd)
		}
	}
	if profiles, ok := v["profiles"].(map[string]any); ok {
		t.Profiles = make(map[string]ProcessDescriptor, len(profiles))
		for name, item := range profiles {
			pd, err := decodeProcessDescriptor(item, fmt.Sprintf("%s.profiles.%s", path, name))
			if err != nil {
				return err
			}
			t.Profiles[name] = pd
		}
	}
	return nil
}

var processDescriptorKeys = []string{"env", "name", "run", "workdir"}

func decodeProcessDescriptor(item any, path string) (ProcessDescriptor, error) {
	m, ok := item.(map[string]any)
	if !ok {
		return ProcessDescriptor{}, effigyerr.New(effigyerr.ManifestSchema,
			fmt.Sprintf("%s: must be a table, got %T", path, item))
	}
	if err := rejectUnknownKeys(m, processDescriptorKeys, path); err != nil {
		return ProcessDescriptor{}, err
	}
	var pd ProcessDescriptor
	if s, ok := m["name"].(string); ok {
		pd.Name = s
	}
	if s, ok := m["run"].(string); ok {
		pd.Run = s
	}
	if s, ok := m["workdir"].(string); ok {
		pd.WorkDir = s
	}
	if env, ok := m["env"].(map[string]any); ok {
		pd.Env = make(map[string]string, len(env))
		for k, val := range env {
			if s, ok := val.(string); ok {
				pd.Env[k] = s
			}
		}
	}
	return pd, nil
}

// rejectUnknownKeys fails with ManifestSchema naming the offending dotted
// key path and the accepted alternatives, the same contract the strict
// top-level decode provides for the fixed manifest sections.
func rejectUnknownKeys(m map[string]any, accepted []string, path string) error {
	var unknown []string
	for k := range m {
		found := false
		for _, a := range accepted {
			if k == a {
				found = true
				break
			}
		}
		if !found {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return effigyerr.New(effigyerr.ManifestSchema,
		fmt.Sprintf("%s.%s: unknown key (accepted: %s)", path, unknown[0], strings.Join(accepted, ", ")))
}
