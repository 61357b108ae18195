// Package tasks implements the `effigy tasks` listing: every discovered
// catalog's tasks annotated with the catalog that defines them and
// whether more than one catalog defines that name.
package tasks

import (
	"sort"

	"effigy/internal/manifest"
)

// Entry describes one catalog's one task for listing purposes.
type Entry struct {
	Alias       string `json:"alias"`
	CatalogRoot string `json:"catalog_root"`
	Depth       int    `json:"depth"`
	Task        string `json:"task"`
	Ambiguous   bool   `json:"ambiguous"`
}

// List builds the listing for every catalog discovered under a root,
// sorted first by catalog alias then by task name. Ambiguous marks task
// names defined by more than one catalog. Depth and invocation directory
// are not considered, so a name marked here can still resolve uniquely
// in selector.Resolve (for example when one definer is shallower).
func List(catalogs []*manifest.Catalog) []Entry {
	byName := make(map[string]int, len(catalogs))
	for _, c := range catalogs {
		for name := range c.Tasks {
			byName[name]++
		}
	}

	var entries []Entry
	for _, c := range catalogs {
		for name := range c.Tasks {
			entries = append(entries, Entry{
				Alias:       c.Alias,
				CatalogRoot: c.Root,
				Depth:       c.Depth,
				Task:        name,
				Ambiguous:   byName[name] > 1,
			})
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Alias != entries[j].Alias {
			return entries[i].Alias < entries[j].Alias
		}
		return entries[i].Task < entries[j].Task
	})
	return entries
}
