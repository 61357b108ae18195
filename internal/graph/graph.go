// Package graph compiles a normalized task into an execution graph: a
// flat node list with dependency edges, after recursively splicing in
// any task-reference steps and inserting implicit linear-chain edges
// where a task declares none of its own.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"effigy/internal/effigyerr"
	"effigy/internal/manifest"
	"effigy/internal/selector"
)

// Node is a fully compiled, executable unit: a shell command plus the
// argv it should see via the {args} interpolation token.
type Node struct {
	ID        string
	DependsOn []string
	Command   string
	Args      []string
	Policy    manifest.Policy
}

// Graph is the compiled form of one task invocation.
type Graph struct {
	Nodes []Node
}

// CatalogLookup resolves a task-reference selector to its originating
// catalog and TaskDef, the way the selector resolver would at runtime
// for a statically-known alias or bare task name. Compile only accepts
// references resolvable without invocation-cwd context: alias-prefixed
// or bare selectors evaluated from the referencing catalog's own root.
type CatalogLookup struct {
	Catalogs []*manifest.Catalog
}

// Compile builds a Graph for entryTask (named entryName, defined in
// entryCatalog), splicing in any task-reference steps and merging
// passthroughArgs into every spliced node's Args via token-level merge.
func Compile(entryCatalog *manifest.Catalog, entryName string, entryTask manifest.TaskDef, passthroughArgs []string, lookup CatalogLookup) (*Graph, error) {
	c := &compiler{
		lookup: lookup,
	}

	path := entryCatalog.Alias + "/" + entryName
	nodes, _, _, err := c.flatten(entryCatalog, entryName, entryTask, nil, passthroughArgs, path)
	if err != nil {
		return nil, err
	}

	if err := validateUniqueIDs(nodes); err != nil {
		return nil, err
	}
	if err := validateDanglingRefs(nodes); err != nil {
		return nil, err
	}
	if cyclePath, ok := detectCycle(nodes); ok {
		return nil, effigyerr.New(effigyerr.GraphCycle,
			fmt.Sprintf("dependency cycle detected: %s", strings.Join(cyclePath, " -> ")), cyclePath...)
	}

	return &Graph{Nodes: nodes}, nil
}

type compiler struct {
	lookup CatalogLookup
	active []string // stack of "catalogRoot#taskName" currently being flattened, for ref-cycle detection
}

// flatten compiles one task's step list into nodes, recursively splicing
// references. It returns the full node list plus the ids of this unit's
// entry (source) and exit (sink) nodes, so the caller can wire a
// referencing step's predecessors/successors onto the spliced subgraph.
func (c *compiler) flatten(cat *manifest.Catalog, taskName string, task manifest.TaskDef, inlineArgs, passthroughArgs []string, path string) (nodes []Node, entryIDs, exitIDs []string, err error) {
	identity := cat.Root + "#" + taskName
	for _, a := range c.active {
		if a == identity {
			cyclePath := append(append([]string{}, c.active...), identity)
			return nil, nil, nil, effigyerr.New(effigyerr.GraphCycle,
				fmt.Sprintf("task reference cycle: %s", strings.Join(cyclePath, " -> ")), cyclePath...)
		}
	}
	c.active = append(c.active, identity)
	defer func() { c.active = c.active[:len(c.active)-1] }()

	if task.Alias != "" {
		return c.flattenRef(task.Alias, cat, inlineArgs, passthroughArgs, path)
	}

	mergedArgs := MergeArgs(inlineArgs, passthroughArgs)
	steps := linearize(task.Steps)

	// First pass: recursively flatten every ref step so depends_on
	// resolution (second pass) can see every step's compiled identity,
	// regardless of declaration order.
	execID := make(map[string]string, len(steps))     // original id -> namespaced node id (StepExec only)
	refSinks := make(map[string][]string, len(steps)) // original id -> spliced sink node ids (StepRef only)
	refSubNodes := make(map[string][]Node, len(steps))

	for _, s := range steps {
		switch s.Kind {
		case manifest.StepExec:
			execID[s.ID] = namespacedID(path, s.ID)

		case manifest.StepRef:
			refCat, refName, refTask, embedded, rerr := c.resolveRef(cat, s.RefSelector)
			if rerr != nil {
				return nil, nil, nil, rerr
			}
			subPath := path + "::" + s.ID + ">" + refName

			inline := MergeArgs(embedded, s.InlineArgs)
			subNodes, _, subExit, rerr := c.flatten(refCat, refName, refTask, inline, mergedArgs, subPath)
			if rerr != nil {
				return nil, nil, nil, rerr
			}

			refSubNodes[s.ID] = subNodes
			refSinks[s.ID] = subExit
		}
	}

	resolveDeps := func(ids []string) []string {
		out := make([]string, 0, len(ids))
		for _, d := range ids {
			if nid, ok := execID[d]; ok {
				out = append(out, nid)
			} else if sinks, ok := refSinks[d]; ok {
				out = append(out, sinks...)
			} else {
				out = append(out, namespacedID(path, d)) // dangling; caught by validateDanglingRefs
			}
		}
		return out
	}

	for _, s := range steps {
		namespacedDeps := resolveDeps(s.DependsOn)

		switch s.Kind {
		case manifest.StepExec:
			nodes = append(nodes, Node{
				ID:        execID[s.ID],
				DependsOn: namespacedDeps,
				Command:   s.Command,
				Args:      mergedArgs,
				Policy:    s.Policy,
			})

		case manifest.StepRef:
			subNodes := refSubNodes[s.ID]
			for i := range subNodes {
				if len(subNodes[i].DependsOn) == 0 {
					subNodes[i].DependsOn = append(subNodes[i].DependsOn, namespacedDeps...)
				}
			}
			nodes = append(nodes, subNodes...)
		}
	}

	entryIDs = sourceIDs(nodes)
	exitIDs = sinkIDs(nodes)
	return nodes, entryIDs, exitIDs, nil
}

func (c *compiler) flattenRef(aliasTask string, cat *manifest.Catalog, inlineArgs, passthroughArgs []string, path string) ([]Node, []string, []string, error) {
	refCat, refName, refTask, embedded, err := c.resolveRef(cat, aliasTask)
	if err != nil {
		return nil, nil, nil, err
	}
	return c.flatten(refCat, refName, refTask, MergeArgs(embedded, inlineArgs), passthroughArgs, path)
}

// resolveRef resolves a task-reference selector using only the forms
// that are statically resolvable at compile time: alias-prefixed or bare
// task name, evaluated as if invoked from the referencing catalog's
// root. The reference string is tokenized with shell-style quoting (no
// expansion): the first token is the selector, any remaining tokens are
// inline args.
func (c *compiler) resolveRef(fromCatalog *manifest.Catalog, sel string) (*manifest.Catalog, string, manifest.TaskDef, []string, error) {
	tokens, err := Tokenize(sel)
	if err != nil {
		return nil, "", manifest.TaskDef{}, nil, err
	}
	if len(tokens) == 0 {
		return nil, "", manifest.TaskDef{}, nil, effigyerr.New(effigyerr.GraphBadRef, "empty task reference")
	}

	res, err := selector.Resolve(tokens[0], fromCatalog.Root, c.lookup.Catalogs)
	if err != nil {
		return nil, "", manifest.TaskDef{}, nil, err
	}
	if res.Mode == selector.ModeBuiltin {
		return nil, "", manifest.TaskDef{}, nil, effigyerr.New(effigyerr.GraphBadRef,
			fmt.Sprintf("task reference %q resolves to a built-in, not a catalog task", sel))
	}
	return res.Catalog, res.Task, res.TaskDef, tokens[1:], nil
}

// linearize returns steps with implicit consecutive-declaration edges
// inserted when none of them declare any depends_on.
func linearize(steps []manifest.RunStep) []manifest.RunStep {
	hasEdges := false
	for _, s := range steps {
		if len(s.DependsOn) > 0 {
			hasEdges = true
			break
		}
	}
	if hasEdges || len(steps) < 2 {
		return steps
	}

	out := make([]manifest.RunStep, len(steps))
	copy(out, steps)
	for i := 1; i < len(out); i++ {
		out[i].DependsOn = append([]string{out[i-1].ID}, out[i].DependsOn...)
	}
	return out
}

func namespacedID(path, id string) string {
	return path + "::" + id
}

func sourceIDs(nodes []Node) []string {
	var out []string
	for _, n := range nodes {
		if len(n.DependsOn) == 0 {
			out = append(out, n.ID)
		}
	}
	if len(out) == 0 {
		for _, n := range nodes {
			out = append(out, n.ID)
		}
	}
	return out
}

func sinkIDs(nodes []Node) []string {
	var out []string
	for _, n := range nodes {
		dependedOnByOther := false
		for _, other := range nodes {
			for _, d := range other.DependsOn {
				if d == n.ID {
					dependedOnByOther = true
				}
			}
		}
		if !dependedOnByOther {
			out = append(out, n.ID)
		}
	}
	return out
}

func validateUniqueIDs(nodes []Node) error {
	seen := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if seen[n.ID] {
			return effigyerr.New(effigyerr.GraphBadRef, fmt.Sprintf("duplicate compiled node id %q", n.ID))
		}
		seen[n.ID] = true
	}
	return nil
}

func validateDanglingRefs(nodes []Node) error {
	known := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		known[n.ID] = true
	}
	var bad []string
	for _, n := range nodes {
		for _, d := range n.DependsOn {
			if !known[d] {
				bad = append(bad, fmt.Sprintf("%s->%s", n.ID, d))
			}
		}
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return effigyerr.New(effigyerr.GraphBadRef, "dependency references unknown step id", bad...)
	}
	return nil
}

// detectCycle runs a depth-first coloring walk over the dependency
// adjacency map and returns the first cycle found as an ordered node-id
// path.
func detectCycle(nodes []Node) ([]string, bool) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(nodes))
	adjacency := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		color[n.ID] = white
		for _, d := range n.DependsOn {
			adjacency[d] = append(adjacency[d], n.ID)
		}
	}

	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		stack = append(stack, id)
		for _, next := range adjacency[id] {
			switch color[next] {
			case white:
				if visit(next) {
					return true
				}
			case gray:
				idx := indexOf(stack, next)
				cycle = append([]string{}, stack[idx:]...)
				cycle = append(cycle, next)
				return true
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	for _, id := range ids {
		if color[id] == white {
			if visit(id) {
				return cycle, true
			}
		}
	}
	return nil, false
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}
