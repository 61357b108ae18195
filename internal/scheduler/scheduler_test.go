package scheduler

import (
	"context"
	"testing"
	"time"

	"effigy/internal/graph"
	"effigy/internal/manifest"
	"effigy/internal/procexec"
	"effigy/internal/report"
)

func node(id, command string, failFast bool, deps ...string) graph.Node {
	return graph.Node{
		ID:        id,
		DependsOn: deps,
		Command:   command,
		Policy:    manifest.Policy{FailFast: failFast},
	}
}

func statusOf(t *testing.T, rep *report.RunReport, id string) report.NodeRecord {
	t.Helper()
	for _, n := range rep.Nodes {
		if n.ID == id {
			return n
		}
	}
	t.Fatalf("no record for node %q", id)
	return report.NodeRecord{}
}

func TestExecute_LinearChainRetrySucceedsOnThirdAttempt(t *testing.T) {
	t.Parallel()
	marker := t.TempDir() + "/attempts"
	cmd := "n=$(cat " + marker + " 2>/dev/null || echo 0); n=$((n+1)); echo $n > " + marker + "; [ $n -ge 3 ]"

	g := &graph.Graph{Nodes: []graph.Node{
		{ID: "flaky", Command: cmd, Policy: manifest.Policy{FailFast: true, Retry: 2, RetryDelayMS: 1}},
	}}

	rep := Execute(context.Background(), g, Options{MaxParallel: 1, Stdio: procexec.StdioCapture})

	rec := statusOf(t, rep, "flaky")
	if rec.Status != report.StatusSucceeded {
		t.Fatalf("expected succeeded after retries, got %s", rec.Status)
	}
	if rec.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", rec.Attempts)
	}
	if rep.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", rep.ExitCode)
	}
}

// TestExecute_FailFastLetsRunningSiblingFinish reproduces the DAG
// scenario where lint succeeds, unit (fail_fast=true, the default)
// fails, contract (depends only on lint, already running) still runs to
// completion, and report (depends on unit and contract, fail_fast=false
// on itself) is skipped because unit's fail_fast failure skips every
// node not yet admitted.
func TestExecute_FailFastLetsRunningSiblingFinish(t *testing.T) {
	t.Parallel()
	g := &graph.Graph{Nodes: []graph.Node{
		node("lint", "true", true),
		node("unit", "exit 7", true, "lint"),
		node("contract", "sleep 0.05 && true", true, "lint"),
		node("report", "true", false, "unit", "contract"),
	}}

	rep := Execute(context.Background(), g, Options{MaxParallel: 3})

	if got := statusOf(t, rep, "lint").Status; got != report.StatusSucceeded {
		t.Fatalf("lint: expected succeeded, got %s", got)
	}
	unitRec := statusOf(t, rep, "unit")
	if unitRec.Status != report.StatusFailed || unitRec.ExitCode != 7 {
		t.Fatalf("unit: expected failed/7, got %s/%d", unitRec.Status, unitRec.ExitCode)
	}
	if got := statusOf(t, rep, "contract").Status; got != report.StatusSucceeded {
		t.Fatalf("contract: expected succeeded (sibling of the failing node), got %s", got)
	}
	if got := statusOf(t, rep, "report").Status; got != report.StatusSkipped {
		t.Fatalf("report: expected skipped (unit never satisfied), got %s", got)
	}
	if rep.ExitCode != 7 {
		t.Fatalf("expected run exit code 7, got %d", rep.ExitCode)
	}
}

func TestExecute_FailFastFalsePredecessorStillSatisfiesDependents(t *testing.T) {
	t.Parallel()
	g := &graph.Graph{Nodes: []graph.Node{
		node("probe", "exit 3", false),
		node("summary", "true", true, "probe"),
	}}

	rep := Execute(context.Background(), g, Options{MaxParallel: 2})

	probe := statusOf(t, rep, "probe")
	if probe.Status != report.StatusFailed || probe.ExitCode != 3 {
		t.Fatalf("probe: expected failed/3, got %s/%d", probe.Status, probe.ExitCode)
	}
	if got := statusOf(t, rep, "summary").Status; got != report.StatusSucceeded {
		t.Fatalf("summary: expected succeeded despite probe's failure, got %s", got)
	}
	if rep.ExitCode != 3 {
		t.Fatalf("expected run exit code 3 from the first failing node, got %d", rep.ExitCode)
	}
}

func TestExecute_FailFastStopsAdmittingUnrelatedNodes(t *testing.T) {
	t.Parallel()
	g := &graph.Graph{Nodes: []graph.Node{
		node("a", "exit 2", true),
		node("z", "true", true),
	}}

	rep := Execute(context.Background(), g, Options{MaxParallel: 1})

	if got := statusOf(t, rep, "a").Status; got != report.StatusFailed {
		t.Fatalf("a: expected failed, got %s", got)
	}
	if got := statusOf(t, rep, "z").Status; got != report.StatusSkipped {
		t.Fatalf("z: expected skipped (no admissions after the fail_fast failure), got %s", got)
	}
	if rep.ExitCode != 2 {
		t.Fatalf("expected run exit code 2, got %d", rep.ExitCode)
	}
}

func TestExecute_TimeoutReportsDistinguishedExitCode(t *testing.T) {
	t.Parallel()
	g := &graph.Graph{Nodes: []graph.Node{
		{ID: "slow", Command: "sleep 5", Policy: manifest.Policy{FailFast: true, TimeoutMS: 20}},
	}}

	start := time.Now()
	rep := Execute(context.Background(), g, Options{MaxParallel: 1})
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("expected the timeout to cut the run short, took %s", elapsed)
	}

	rec := statusOf(t, rep, "slow")
	if rec.Status != report.StatusTimeout {
		t.Fatalf("expected timeout, got %s", rec.Status)
	}
	if rec.ExitCode != report.TimeoutExitCode {
		t.Fatalf("expected exit code %d, got %d", report.TimeoutExitCode, rec.ExitCode)
	}
}

func TestExecute_AdmissionOrderIsDeterministic(t *testing.T) {
	t.Parallel()
	g := &graph.Graph{Nodes: []graph.Node{
		node("c", "true", true),
		node("a", "true", true),
		node("b", "true", true),
	}}

	rep := Execute(context.Background(), g, Options{MaxParallel: 1})
	var order []string
	for _, n := range rep.Nodes {
		order = append(order, n.ID)
	}
	want := []string{"a", "b", "c"}
	for i, id := range want {
		if order[i] != id {
			t.Fatalf("admission order = %v, want lexicographic %v", order, want)
		}
	}
}

func TestPlan_MatchesExecutionAdmissionOrder(t *testing.T) {
	t.Parallel()
	g := &graph.Graph{Nodes: []graph.Node{
		node("build", "true", true),
		node("unit", "true", true, "build"),
		node("integration", "true", true, "build"),
	}}

	plan := Plan(g)
	if len(plan.Nodes) != 3 {
		t.Fatalf("expected 3 planned nodes, got %d", len(plan.Nodes))
	}
	if plan.Nodes[0].ID != "build" {
		t.Fatalf("expected build first, got %s", plan.Nodes[0].ID)
	}
	for _, n := range plan.Nodes {
		if n.Status != report.StatusPending {
			t.Fatalf("plan node %s: expected pending status, got %s", n.ID, n.Status)
		}
	}
}
