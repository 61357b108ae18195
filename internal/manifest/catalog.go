package manifest

// Catalog is the normalized form of a parsed effigy.toml: one directory's
// worth of tasks plus the configuration its external collaborators need.
type Catalog struct {
	Root           string
	Alias          string
	Depth          int
	Tasks          map[string]TaskDef
	Defer          string
	PackageManager PackageManagerConfig
	TestConfig     TestConfig
	ShellOverride  string
}

// PackageManagerConfig carries the external package-manager hints. The
// core loads and re-emits them untouched; nothing in the core acts on
// them.
type PackageManagerConfig struct {
	JS string
}

// TestConfig carries the [test] table untouched for the built-in test
// command collaborator; the core never invokes these runners itself.
type TestConfig struct {
	MaxParallel int
	Suites      map[string]string
	Runners     map[string]string
}

// TaskDef is the normalized form of a manifest task entry: always a
// sequence of RunSteps plus a policy envelope, regardless of which
// surface form (compact run, compact chain, full table) the manifest
// author used.
type TaskDef struct {
	Steps []RunStep

	Mode          string
	Concurrent    []ProcessDescriptor
	Profiles      map[string]ProcessDescriptor
	FailOnNonZero bool
	Shell         bool

	// Alias is set when the task is a pure `{ task = "selector" }`
	// reference with no steps of its own.
	Alias string
}

// StepKind tags what a RunStep does.
type StepKind int

const (
	StepExec StepKind = iota
	StepRef
)

// Policy is a RunStep's scheduling envelope.
type Policy struct {
	TimeoutMS    int64
	Retry        int
	RetryDelayMS int64
	FailFast     bool
}

// RunStep is the compiled form of one run-sequence element.
type RunStep struct {
	ID        string
	DependsOn []string
	Kind      StepKind

	// StepExec
	Command string

	// StepRef
	RefSelector string
	InlineArgs  []string

	Policy Policy
}
