package graph

import (
	"testing"

	"effigy/internal/effigyerr"
	"effigy/internal/manifest"
)

func catalogWith(root, alias string, depth int, tasks map[string]manifest.TaskDef) *manifest.Catalog {
	return &manifest.Catalog{Root: root, Alias: alias, Depth: depth, Tasks: tasks}
}

func step(id, command string, deps ...string) manifest.RunStep {
	return manifest.RunStep{ID: id, Command: command, DependsOn: deps, Kind: manifest.StepExec, Policy: manifest.Policy{FailFast: true}}
}

func TestCompile_LinearChainImplicitEdges(t *testing.T) {
	t.Parallel()
	cat := catalogWith("/ws", "web", 0, map[string]manifest.TaskDef{
		"ci": {Steps: []manifest.RunStep{
			step("a", "echo a"),
			step("b", "echo b"),
			step("c", "echo c"),
		}},
	})

	g, err := Compile(cat, "ci", cat.Tasks["ci"], nil, CatalogLookup{Catalogs: []*manifest.Catalog{cat}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(g.Nodes) != 3 {
		t.Fatalf("expected 3 nodes, got %d", len(g.Nodes))
	}
	var bNode Node
	for _, n := range g.Nodes {
		if n.Command == "echo b" {
			bNode = n
		}
	}
	if len(bNode.DependsOn) != 1 {
		t.Fatalf("expected b to implicitly depend on a, got %+v", bNode.DependsOn)
	}
}

func TestCompile_ExplicitDependsOnSuppressesImplicitChain(t *testing.T) {
	t.Parallel()
	cat := catalogWith("/ws", "web", 0, map[string]manifest.TaskDef{
		"build": {Steps: []manifest.RunStep{
			step("a", "echo a"),
			step("b", "echo b", "a"),
		}},
	})
	g, err := Compile(cat, "build", cat.Tasks["build"], nil, CatalogLookup{Catalogs: []*manifest.Catalog{cat}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(g.Nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(g.Nodes))
	}
}

func TestCompile_MutualDependencyCycle(t *testing.T) {
	t.Parallel()
	cat := catalogWith("/ws", "web", 0, map[string]manifest.TaskDef{
		"bad": {Steps: []manifest.RunStep{
			step("a", "echo a", "b"),
			step("b", "echo b", "a"),
		}},
	})
	_, err := Compile(cat, "bad", cat.Tasks["bad"], nil, CatalogLookup{Catalogs: []*manifest.Catalog{cat}})
	if err == nil {
		t.Fatal("expected GraphCycle error")
	}
	effErr := err.(*effigyerr.Error)
	if effErr.Kind != effigyerr.GraphCycle {
		t.Errorf("expected GraphCycle, got %v", effErr.Kind)
	}
}

func TestCompile_DanglingDependsOn(t *testing.T) {
	t.Parallel()
	cat := catalogWith("/ws", "web", 0, map[string]manifest.TaskDef{
		"bad": {Steps: []manifest.RunStep{
			step("a", "echo a", "nonexistent"),
		}},
	})
	_, err := Compile(cat, "bad", cat.Tasks["bad"], nil, CatalogLookup{Catalogs: []*manifest.Catalog{cat}})
	if err == nil {
		t.Fatal("expected GraphBadRef error")
	}
	effErr := err.(*effigyerr.Error)
	if effErr.Kind != effigyerr.GraphBadRef {
		t.Errorf("expected GraphBadRef, got %v", effErr.Kind)
	}
}

func TestCompile_SplicesTaskReference(t *testing.T) {
	t.Parallel()
	libCat := catalogWith("/ws/lib", "lib", 1, map[string]manifest.TaskDef{
		"unit": {Steps: []manifest.RunStep{
			step("run", "go test ./..."),
		}},
	})
	webCat := catalogWith("/ws", "web", 0, map[string]manifest.TaskDef{
		"ci": {Steps: []manifest.RunStep{
			{ID: "t", Kind: manifest.StepRef, RefSelector: "lib/unit", Policy: manifest.Policy{FailFast: true}},
			step("after", "echo done"),
		}},
	})
	catalogs := []*manifest.Catalog{webCat, libCat}

	g, err := Compile(webCat, "ci", webCat.Tasks["ci"], nil, CatalogLookup{Catalogs: catalogs})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(g.Nodes) != 2 {
		t.Fatalf("expected 2 spliced nodes, got %d: %+v", len(g.Nodes), g.Nodes)
	}
	var sawUnit, sawAfter bool
	for _, n := range g.Nodes {
		if n.Command == "go test ./..." {
			sawUnit = true
		}
		if n.Command == "echo done" {
			sawAfter = true
			if len(n.DependsOn) != 1 {
				t.Errorf("expected after to depend on spliced unit node, got %+v", n.DependsOn)
			}
		}
	}
	if !sawUnit || !sawAfter {
		t.Fatalf("missing expected nodes: %+v", g.Nodes)
	}
}

func TestCompile_RefSelectorCarriesTokenizedInlineArgs(t *testing.T) {
	t.Parallel()
	libCat := catalogWith("/ws/lib", "lib", 1, map[string]manifest.TaskDef{
		"unit": {Steps: []manifest.RunStep{step("run", "go test {args}")}},
	})
	webCat := catalogWith("/ws", "web", 0, map[string]manifest.TaskDef{
		"ci": {Steps: []manifest.RunStep{
			{ID: "t", Kind: manifest.StepRef, RefSelector: `lib/unit --bail "-run TestX"`, Policy: manifest.Policy{FailFast: true}},
		}},
	})
	catalogs := []*manifest.Catalog{webCat, libCat}

	g, err := Compile(webCat, "ci", webCat.Tasks["ci"], nil, CatalogLookup{Catalogs: catalogs})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(g.Nodes) != 1 {
		t.Fatalf("expected 1 spliced node, got %d", len(g.Nodes))
	}
	args := g.Nodes[0].Args
	if len(args) != 2 || args[0] != "--bail" || args[1] != "-run TestX" {
		t.Fatalf("expected tokenized inline args from the reference string, got %v", args)
	}
}

func TestCompile_TaskReferenceCycleRejected(t *testing.T) {
	t.Parallel()
	aCat := catalogWith("/ws/a", "a", 0, map[string]manifest.TaskDef{
		"x": {Steps: []manifest.RunStep{{ID: "s", Kind: manifest.StepRef, RefSelector: "b/y", Policy: manifest.Policy{FailFast: true}}}},
	})
	bCat := catalogWith("/ws/b", "b", 0, map[string]manifest.TaskDef{
		"y": {Steps: []manifest.RunStep{{ID: "s", Kind: manifest.StepRef, RefSelector: "a/x", Policy: manifest.Policy{FailFast: true}}}},
	})
	catalogs := []*manifest.Catalog{aCat, bCat}

	_, err := Compile(aCat, "x", aCat.Tasks["x"], nil, CatalogLookup{Catalogs: catalogs})
	if err == nil {
		t.Fatal("expected GraphCycle error")
	}
	effErr := err.(*effigyerr.Error)
	if effErr.Kind != effigyerr.GraphCycle {
		t.Errorf("expected GraphCycle, got %v", effErr.Kind)
	}
}

func TestTokenize_QuotedArgsNoExpansion(t *testing.T) {
	t.Parallel()
	tokens, err := Tokenize(`--name "$HOME value" 'literal $VAR'`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"--name", "$HOME value", "literal $VAR"}
	if len(tokens) != len(want) {
		t.Fatalf("expected %v, got %v", want, tokens)
	}
	for i := range want {
		if tokens[i] != want[i] {
			t.Errorf("token %d: expected %q, got %q", i, want[i], tokens[i])
		}
	}
}

func TestTokenize_UnterminatedQuoteErrors(t *testing.T) {
	t.Parallel()
	_, err := Tokenize(`--name "unterminated`)
	if err == nil {
		t.Fatal("expected error for unterminated quote")
	}
}
