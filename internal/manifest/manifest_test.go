package manifest

import (
	"path/filepath"
	"strings"
	"testing"

	"effigy/internal/effigyerr"
)

func TestLoadBytes_CompactRun(t *testing.T) {
	t.Parallel()
	src := `
[catalog]
alias = "web"

[tasks]
build = "npm run build"
`
	cat, err := LoadBytes([]byte(src), filepath.Join("workspace", CanonicalName))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cat.Alias != "web" {
		t.Errorf("expected alias web, got %q", cat.Alias)
	}
	build, ok := cat.Tasks["build"]
	if !ok {
		t.Fatal("expected build task")
	}
	if len(build.Steps) != 1 || build.Steps[0].Command != "npm run build" {
		t.Errorf("unexpected steps: %+v", build.Steps)
	}
	if !build.Steps[0].Policy.FailFast {
		t.Error("expected default fail_fast true")
	}
}

func TestLoadBytes_CompactChain(t *testing.T) {
	t.Parallel()
	src := `
[tasks]
ci = ["lint", { task = "test/unit", args = ["--bail"] }, "echo done"]
`
	cat, err := LoadBytes([]byte(src), filepath.Join("workspace", CanonicalName))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ci := cat.Tasks["ci"]
	if len(ci.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(ci.Steps))
	}
	if ci.Steps[0].Kind != StepExec || ci.Steps[0].Command != "lint" {
		t.Errorf("unexpected step 0: %+v", ci.Steps[0])
	}
	if ci.Steps[1].Kind != StepRef || ci.Steps[1].RefSelector != "test/unit" {
		t.Errorf("unexpected step 1: %+v", ci.Steps[1])
	}
	if len(ci.Steps[1].InlineArgs) != 1 || ci.Steps[1].InlineArgs[0] != "--bail" {
		t.Errorf("unexpected inline args: %+v", ci.Steps[1].InlineArgs)
	}
}

func TestLoadBytes_FullTableWithPolicy(t *testing.T) {
	t.Parallel()
	src := `
[tasks.deploy]
run = [
  { id = "build", run = "make build" },
  { id = "push", run = "make push", depends_on = ["build"], timeout_ms = 5000, retry = 2 },
]
fail_on_non_zero = true
`
	cat, err := LoadBytes([]byte(src), filepath.Join("workspace", CanonicalName))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	deploy := cat.Tasks["deploy"]
	if !deploy.FailOnNonZero {
		t.Error("expected fail_on_non_zero true")
	}
	if len(deploy.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(deploy.Steps))
	}
	push := deploy.Steps[1]
	if push.ID != "push" || len(push.DependsOn) != 1 || push.DependsOn[0] != "build" {
		t.Errorf("unexpected push step: %+v", push)
	}
	if push.Policy.TimeoutMS != 5000 || push.Policy.Retry != 2 {
		t.Errorf("unexpected policy: %+v", push.Policy)
	}
}

func TestLoadBytes_SelfDependencyRejected(t *testing.T) {
	t.Parallel()
	src := `
[tasks.bad]
run = [{ id = "a", run = "echo hi", depends_on = ["a"] }]
`
	_, err := LoadBytes([]byte(src), filepath.Join("workspace", CanonicalName))
	if err == nil {
		t.Fatal("expected error for self-dependency")
	}
	var effErr *effigyerr.Error
	if e, ok := err.(*effigyerr.Error); ok {
		effErr = e
	} else {
		t.Fatalf("expected *effigyerr.Error, got %T", err)
	}
	if effErr.Kind != effigyerr.ManifestSchema {
		t.Errorf("expected ManifestSchema, got %v", effErr.Kind)
	}
}

func TestLoadBytes_UnknownKeyRejected(t *testing.T) {
	t.Parallel()
	src := `
[catalog]
alias = "web"
bogus = "nope"

[tasks]
build = "npm run build"
`
	_, err := LoadBytes([]byte(src), filepath.Join("workspace", CanonicalName))
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
	effErr, ok := err.(*effigyerr.Error)
	if !ok {
		t.Fatalf("expected *effigyerr.Error, got %T", err)
	}
	if effErr.Kind != effigyerr.ManifestSchema {
		t.Errorf("expected ManifestSchema, got %v", effErr.Kind)
	}
}

func TestLoadBytes_UnknownTaskTableKeyNamesDottedPath(t *testing.T) {
	t.Parallel()
	src := `
[tasks.deploy]
run = "make deploy"
bogus = 1
`
	_, err := LoadBytes([]byte(src), filepath.Join("workspace", CanonicalName))
	if err == nil {
		t.Fatal("expected error for unknown task table key")
	}
	effErr, ok := err.(*effigyerr.Error)
	if !ok {
		t.Fatalf("expected *effigyerr.Error, got %T", err)
	}
	if effErr.Kind != effigyerr.ManifestSchema {
		t.Errorf("expected ManifestSchema, got %v", effErr.Kind)
	}
	if !strings.Contains(effErr.Message, "tasks.deploy.bogus") {
		t.Errorf("expected dotted key path in message, got %q", effErr.Message)
	}
}

func TestLoadBytes_RunnersStringAndTableForm(t *testing.T) {
	t.Parallel()
	src := `
[test.runners]
unit = "go test ./..."

[test.runners.integration]
command = "go test -tags integration ./..."

[tasks]
placeholder = "echo hi"
`
	cat, err := LoadBytes([]byte(src), filepath.Join("workspace", CanonicalName))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cat.TestConfig.Runners["unit"] != "go test ./..." {
		t.Errorf("unexpected unit runner: %q", cat.TestConfig.Runners["unit"])
	}
	if cat.TestConfig.Runners["integration"] != "go test -tags integration ./..." {
		t.Errorf("unexpected integration runner: %q", cat.TestConfig.Runners["integration"])
	}
}

func TestEmitCanonical_RoundTripIsIdempotent(t *testing.T) {
	t.Parallel()
	src := `
[catalog]
alias = "web"

[defer]
run = "php legacy {request}"

[tasks]
build = "npm run build"
ci = ["lint", { id = "unit", task = "test/unit", args = ["--bail"] }, "echo done"]

[tasks.deploy]
run = [
  { id = "build", run = "make build" },
  { id = "push", run = "make push", depends_on = ["build"], timeout_ms = 5000, retry = 2, fail_fast = false },
]
`
	cat, err := LoadBytes([]byte(src), filepath.Join("workspace", CanonicalName))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first, err := EmitCanonical(cat)
	if err != nil {
		t.Fatalf("first emit: %v", err)
	}
	reloaded, err := LoadBytes(first, filepath.Join("workspace", CanonicalName))
	if err != nil {
		t.Fatalf("reload of emitted form: %v\n%s", err, first)
	}
	second, err := EmitCanonical(reloaded)
	if err != nil {
		t.Fatalf("second emit: %v", err)
	}
	if string(first) != string(second) {
		t.Fatalf("canonical emission is not a fixed point:\n--- first ---\n%s\n--- second ---\n%s", first, second)
	}
}

func TestLoadBytes_TaskAlias(t *testing.T) {
	t.Parallel()
	src := `
[tasks]
b = { task = "build" }
`
	cat, err := LoadBytes([]byte(src), filepath.Join("workspace", CanonicalName))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b := cat.Tasks["b"]
	if b.Alias != "build" || len(b.Steps) != 0 {
		t.Errorf("unexpected alias task: %+v", b)
	}
}
