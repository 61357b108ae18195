// Package scheduler implements the DAG execution engine: a bounded
// worker pool that admits ready graph nodes in deterministic order and
// runs each through the process executor, applying per-node timeout,
// retry, and fail-fast policy.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"effigy/internal/applog"
	"effigy/internal/graph"
	"effigy/internal/procexec"
	"effigy/internal/report"
)

var log = applog.For("scheduler")

// DefaultMaxParallel is used when Options.MaxParallel is zero.
const DefaultMaxParallel = 3

// Options configures one Execute call.
type Options struct {
	// MaxParallel bounds concurrently-running nodes. Zero uses
	// DefaultMaxParallel.
	MaxParallel int
	Repo        string
	Env         []string
	Stdio       procexec.StdioMode
}

// Execute runs g to completion (or until the operator cancels ctx) and
// returns the resulting RunReport. It never panics on a child-process
// fault: every failure mode is captured as a NodeRecord.
func Execute(ctx context.Context, g *graph.Graph, opts Options) *report.RunReport {
	s := newRunState(g, opts)
	s.run(ctx)
	return s.finalReport()
}

// Plan computes the admission order Execute would use without running
// any node, using the same readiness/ordering key. It takes one ready node
// at a time, so it matches Execute's admission order when MaxParallel is 1
// and every node succeeds; with more parallelism Execute may admit an
// independent ready node before a newly ready dependent.
func Plan(g *graph.Graph) *report.RunReport {
	order := admissionOrderAssumingSuccess(g)
	rep := &report.RunReport{}
	for _, n := range order {
		rep.Nodes = append(rep.Nodes, report.NodeRecord{
			ID:      n.ID,
			Command: n.Command,
			Status:  report.StatusPending,
		})
	}
	return rep
}

// admissionOrderAssumingSuccess computes a deterministic topological
// admission order under the assumption every node succeeds, by
// repeatedly peeling the deterministically-sorted ready frontier.
func admissionOrderAssumingSuccess(g *graph.Graph) []graph.Node {
	byID := make(map[string]graph.Node, len(g.Nodes))
	remainingDeps := make(map[string]int, len(g.Nodes))
	dependents := make(map[string][]string, len(g.Nodes))
	declOrder := make(map[string]int, len(g.Nodes))
	for i, n := range g.Nodes {
		byID[n.ID] = n
		remainingDeps[n.ID] = len(n.DependsOn)
		declOrder[n.ID] = i
		for _, d := range n.DependsOn {
			dependents[d] = append(dependents[d], n.ID)
		}
	}

	var ready []string
	for id, c := range remainingDeps {
		if c == 0 {
			ready = append(ready, id)
		}
	}

	var order []graph.Node
	for len(ready) > 0 {
		sortReady(ready, declOrder)
		next := ready[0]
		ready = ready[1:]
		order = append(order, byID[next])
		for _, dep := range dependents[next] {
			remainingDeps[dep]--
			if remainingDeps[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}
	return order
}

func sortReady(ids []string, declOrder map[string]int) {
	sort.Slice(ids, func(i, j int) bool {
		if ids[i] != ids[j] {
			return ids[i] < ids[j]
		}
		return declOrder[ids[i]] < declOrder[ids[j]]
	})
}

// nodeState tracks one compiled node's run-time status.
type nodeState struct {
	node     graph.Node
	status   report.NodeStatus
	attempts int
	exitCode int
}

// completion is one node's terminal outcome, funneled through the
// scheduler's single-consumer channel so no mutable state is shared
// between workers without this funnel.
type completion struct {
	id       string
	status   report.NodeStatus
	exitCode int
	attempts int
	stdout   string
	stderr   string
}

type runState struct {
	g    *graph.Graph
	opts Options
	sem  *semaphore.Weighted

	mu          sync.Mutex
	states      map[string]*nodeState
	dependents  map[string][]string
	declOrder   map[string]int
	remaining   map[string]int // unresolved predecessor count
	records     []report.NodeRecord
	recordIndex map[string]int
	running     int

	done chan completion
	wg   sync.WaitGroup

	cascading bool // at least one fail_fast=true failure has occurred
}

func newRunState(g *graph.Graph, opts Options) *runState {
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = DefaultMaxParallel
	}

	s := &runState{
		g:           g,
		opts:        opts,
		sem:         semaphore.NewWeighted(int64(opts.MaxParallel)),
		states:      make(map[string]*nodeState, len(g.Nodes)),
		dependents:  make(map[string][]string, len(g.Nodes)),
		declOrder:   make(map[string]int, len(g.Nodes)),
		remaining:   make(map[string]int, len(g.Nodes)),
		recordIndex: make(map[string]int, len(g.Nodes)),
		done:        make(chan completion, len(g.Nodes)),
	}
	for i, n := range g.Nodes {
		s.states[n.ID] = &nodeState{node: n, status: report.StatusPending}
		s.declOrder[n.ID] = i
		s.remaining[n.ID] = len(n.DependsOn)
		for _, d := range n.DependsOn {
			s.dependents[d] = append(s.dependents[d], n.ID)
		}
	}
	return s
}

func (s *runState) run(ctx context.Context) {
	s.mu.Lock()
	s.admitReady(ctx)
	allDone := s.allTerminal()
	s.mu.Unlock()

	for !allDone {
		c := <-s.done
		s.wg.Done()

		s.mu.Lock()
		s.applyCompletion(c)
		s.admitReady(ctx)
		allDone = s.allTerminal()
		s.mu.Unlock()
	}
}

// admitReady must be called with s.mu held. It admits every pending node
// whose predecessors are all satisfied, up to the concurrency ceiling,
// in deterministic ascending-ID order (declaration order as secondary
// key), and launches a worker goroutine per admitted node. Once a
// fail_fast failure has triggered the cascade, no further node is
// admitted; already-running nodes are left to finish.
func (s *runState) admitReady(ctx context.Context) {
	if s.cascading {
		return
	}
	var ready []string
	for id, st := range s.states {
		if st.status == report.StatusPending && s.remaining[id] == 0 {
			ready = append(ready, id)
		}
	}
	sortReady(ready, s.declOrder)

	for _, id := range ready {
		if !s.sem.TryAcquire(1) {
			break
		}
		st := s.states[id]
		st.status = report.StatusRunning
		s.running++
		s.appendRunningRecord(st.node)

		s.wg.Add(1)
		go s.runNode(ctx, st.node)
	}
}

func (s *runState) appendRunningRecord(n graph.Node) {
	rec := report.NodeRecord{
		ID:        n.ID,
		Command:   n.Command,
		Status:    report.StatusRunning,
		StartedAt: time.Now(),
	}
	s.recordIndex[n.ID] = len(s.records)
	s.records = append(s.records, rec)
}

func (s *runState) appendSkippedRecord(n graph.Node) {
	rec := report.NodeRecord{
		ID:      n.ID,
		Command: n.Command,
		Status:  report.StatusSkipped,
	}
	s.recordIndex[n.ID] = len(s.records)
	s.records = append(s.records, rec)
}

// runNode executes one node's full attempt/retry loop and reports its
// terminal outcome on s.done. It holds no lock while running children.
func (s *runState) runNode(ctx context.Context, n graph.Node) {
	defer s.sem.Release(1)

	attempts := 0
	maxAttempts := 1 + n.Policy.Retry
	var last procexec.Result
	timedOut := false

	for attempts < maxAttempts {
		attempts++
		attemptCtx := ctx
		var cancel context.CancelFunc
		if n.Policy.TimeoutMS > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, time.Duration(n.Policy.TimeoutMS)*time.Millisecond)
		}

		cmd := procexec.Interpolate(n.Command, procexec.Tokens{Repo: s.opts.Repo, Args: n.Args})
		last = procexec.Run(attemptCtx, procexec.Request{
			Command: cmd,
			WorkDir: s.opts.Repo,
			Env:     s.opts.Env,
			Stdio:   s.opts.Stdio,
		})
		timedOut = n.Policy.TimeoutMS > 0 && attemptCtx.Err() == context.DeadlineExceeded
		if cancel != nil {
			cancel()
		}

		if last.ExitCode == 0 && !timedOut {
			break
		}

		if attempts < maxAttempts && n.Policy.RetryDelayMS > 0 {
			log.Debug("retrying node", "id", n.ID, "attempt", attempts, "delay_ms", n.Policy.RetryDelayMS)
			select {
			case <-time.After(time.Duration(n.Policy.RetryDelayMS) * time.Millisecond):
			case <-ctx.Done():
				attempts = maxAttempts
			}
		}
	}

	c := completion{id: n.ID, attempts: attempts, stdout: last.Stdout, stderr: last.Stderr}
	switch {
	case timedOut:
		c.status = report.StatusTimeout
		c.exitCode = report.TimeoutExitCode
	case last.ExitCode == 0:
		c.status = report.StatusSucceeded
		c.exitCode = 0
	default:
		c.status = report.StatusFailed
		c.exitCode = last.ExitCode
	}

	s.done <- c
}

// applyCompletion must be called with s.mu held. It records a node's
// terminal outcome, cascades a fail_fast failure to not-yet-started
// descendants, and decrements the pending predecessor count of every
// direct dependent.
func (s *runState) applyCompletion(c completion) {
	st := s.states[c.id]
	st.status = c.status
	st.attempts = c.attempts
	st.exitCode = c.exitCode
	s.running--

	idx := s.recordIndex[c.id]
	s.records[idx].Status = c.status
	s.records[idx].ExitCode = c.exitCode
	s.records[idx].Attempts = c.attempts
	s.records[idx].FinishedAt = time.Now()
	s.records[idx].Stdout = c.stdout
	s.records[idx].Stderr = c.stderr

	failed := c.status == report.StatusFailed || c.status == report.StatusTimeout
	if failed && st.node.Policy.FailFast {
		log.Warn("node failed with fail_fast, cancelling remaining admissions", "id", c.id, "exit_code", c.exitCode)
		s.cascading = true
		s.skipAllPending()
		return
	}

	// A failed fail_fast=false predecessor still counts as satisfied for
	// readiness purposes; its dependents run regardless of outcome.
	for _, dep := range s.dependents[c.id] {
		if s.remaining[dep] > 0 {
			s.remaining[dep]--
		}
	}
}

// skipAllPending marks every not-yet-admitted node as skipped, in
// deterministic id order so the report stays stable. Already-running
// nodes are left alone: the scheduler waits for already-started siblings
// to finish rather than killing them.
func (s *runState) skipAllPending() {
	var pending []string
	for id, st := range s.states {
		if st.status == report.StatusPending {
			pending = append(pending, id)
		}
	}
	sortReady(pending, s.declOrder)
	for _, id := range pending {
		st := s.states[id]
		st.status = report.StatusSkipped
		s.remaining[id] = 0
		s.appendSkippedRecord(st.node)
	}
}

func (s *runState) allTerminal() bool {
	if s.running > 0 {
		return false
	}
	for _, st := range s.states {
		if st.status == report.StatusPending {
			return false
		}
	}
	return true
}

// finalReport computes the overall RunReport once every node has
// reached a terminal state. Exit code is 0 if every node succeeded;
// otherwise the exit code of the first terminally-failing node in
// admission order. Skipped nodes never contribute to exit code.
func (s *runState) finalReport() *report.RunReport {
	s.wg.Wait()

	rep := &report.RunReport{Nodes: s.records}
	if f := rep.FirstFailure(); f != nil {
		rep.ExitCode = f.ExitCode
		return rep
	}
	rep.ExitCode = 0
	return rep
}
