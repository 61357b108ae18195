package tasks

import (
	"testing"

	"effigy/internal/manifest"
)

func catalog(root, alias string, depth int, taskNames ...string) *manifest.Catalog {
	tasks := make(map[string]manifest.TaskDef, len(taskNames))
	for _, n := range taskNames {
		tasks[n] = manifest.TaskDef{}
	}
	return &manifest.Catalog{Root: root, Alias: alias, Depth: depth, Tasks: tasks}
}

func TestList_SortsByAliasThenTask(t *testing.T) {
	t.Parallel()
	cats := []*manifest.Catalog{
		catalog("/ws/web", "web", 1, "test", "build"),
		catalog("/ws", "root", 0, "build"),
	}

	entries := List(cats)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	want := []string{"root/build", "web/build", "web/test"}
	for i, w := range want {
		got := entries[i].Alias + "/" + entries[i].Task
		if got != w {
			t.Fatalf("entries[%d] = %s, want %s", i, got, w)
		}
	}
}

func TestList_MarksAmbiguousWhenMultipleCatalogsShareATaskName(t *testing.T) {
	t.Parallel()
	cats := []*manifest.Catalog{
		catalog("/ws/api", "api", 1, "build"),
		catalog("/ws/web", "web", 1, "build"),
		catalog("/ws/tools", "tools", 1, "lint"),
	}

	entries := List(cats)
	for _, e := range entries {
		if e.Task == "build" && !e.Ambiguous {
			t.Fatalf("expected %s/%s to be marked ambiguous", e.Alias, e.Task)
		}
		if e.Task == "lint" && e.Ambiguous {
			t.Fatalf("expected %s/%s to be unambiguous", e.Alias, e.Task)
		}
	}
}

func TestList_EmptyWorkspaceYieldsNoEntries(t *testing.T) {
	t.Parallel()
	entries := List(nil)
	if len(entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(entries))
	}
}
