package managed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"effigy/internal/manifest"
)

func descriptor(name, run string) manifest.ProcessDescriptor {
	return manifest.ProcessDescriptor{Name: name, Run: run}
}

func TestStreamRunner_PlanListsBaseDescriptorCommands(t *testing.T) {
	t.Parallel()
	task := manifest.TaskDef{Concurrent: []manifest.ProcessDescriptor{
		descriptor("api", "echo api"),
		descriptor("web", "echo web"),
	}}

	cmds := StreamRunner{}.Plan(task, "")
	if len(cmds) != 2 || cmds[0] != "echo api" || cmds[1] != "echo web" {
		t.Fatalf("unexpected plan: %v", cmds)
	}
}

func TestStreamRunner_PlanAppliesNamedProfileOverride(t *testing.T) {
	t.Parallel()
	task := manifest.TaskDef{
		Concurrent: []manifest.ProcessDescriptor{descriptor("api", "echo api")},
		Profiles: map[string]manifest.ProcessDescriptor{
			"verbose": descriptor("api", "echo api -v"),
		},
	}

	cmds := StreamRunner{}.Plan(task, "verbose")
	if len(cmds) != 1 || cmds[0] != "echo api -v" {
		t.Fatalf("expected profile override to replace the base descriptor, got %v", cmds)
	}
}

func TestStreamRunner_LaunchWaitsForEveryProcessAndReportsFirstFailure(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	okMarker := filepath.Join(dir, "ok")
	task := manifest.TaskDef{Concurrent: []manifest.ProcessDescriptor{
		descriptor("slowOK", "sleep 0.05 && touch "+okMarker),
		descriptor("fastFail", "exit 3"),
	}}

	res := StreamRunner{}.Launch(context.Background(), dir, task, "")
	if res.ExitCode != 3 {
		t.Fatalf("expected the non-zero descriptor's exit code to surface, got %d", res.ExitCode)
	}
	if _, err := os.Stat(okMarker); err != nil {
		t.Fatal("expected the sibling process to run to completion despite fastFail's exit")
	}
}

func TestSelect_PlanModeWhenTUIForcedOff(t *testing.T) {
	t.Setenv(TUIEnvVar, "0")
	if _, ok := Select().(PlanRunner); !ok {
		t.Fatalf("expected PlanRunner when %s=0, got %T", TUIEnvVar, Select())
	}
}

func TestSelect_DefaultsToStreamRunner(t *testing.T) {
	t.Setenv(TUIEnvVar, "")
	if _, ok := Select().(StreamRunner); !ok {
		t.Fatalf("expected StreamRunner by default, got %T", Select())
	}
}

func TestPlanRunner_LaunchRunsNothing(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	marker := filepath.Join(dir, "ran")
	task := manifest.TaskDef{Concurrent: []manifest.ProcessDescriptor{
		descriptor("api", "touch "+marker),
	}}

	res := PlanRunner{}.Launch(context.Background(), dir, task, "")
	if res.ExitCode != 0 {
		t.Fatalf("expected plan mode to report success, got %d", res.ExitCode)
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Fatal("expected plan mode not to launch any process")
	}
}

func TestStreamRunner_LaunchReturnsZeroWhenNoDescriptors(t *testing.T) {
	t.Parallel()
	res := StreamRunner{}.Launch(context.Background(), t.TempDir(), manifest.TaskDef{}, "")
	if res.ExitCode != 0 {
		t.Fatalf("expected exit code 0 for an empty descriptor set, got %d", res.ExitCode)
	}
}
