// Package selector resolves a user-typed selector token to a catalog and
// task, following the four-tier precedence scheme: explicit alias prefix,
// path prefix, CWD-nearest, shallowest-from-root.
package selector

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"effigy/internal/effigyerr"
	"effigy/internal/manifest"
)

// Mode records which precedence tier produced a Resolution.
type Mode string

const (
	ModeExplicitPrefix Mode = "explicit_prefix"
	ModePathPrefix     Mode = "path_prefix"
	ModeCWDNearest     Mode = "cwd_nearest"
	ModeShallowest     Mode = "shallowest"
	ModeBuiltin        Mode = "builtin"
)

// builtinNames are the reserved selectors that short-circuit tiers 3-4.
var builtinNames = map[string]bool{
	"help":    true,
	"tasks":   true,
	"test":    true,
	"doctor":  true,
	"init":    true,
	"migrate": true,
	"config":  true,
	"watch":   true,
	"unlock":  true,
}

// Resolution is the outcome of resolving a selector.
type Resolution struct {
	Mode Mode

	// Set when Mode != ModeBuiltin.
	Catalog *manifest.Catalog
	Task    string
	TaskDef manifest.TaskDef

	// Set when Mode == ModeBuiltin.
	Builtin string
	// ScopeRoot is the catalog root a prefixed built-in selector was
	// directed at; empty when the built-in was invoked unprefixed.
	ScopeRoot string
}

type parsedSelector struct {
	pathPrefix  string // non-empty for "./...", "../...", "/..." forms
	aliasPrefix string // non-empty for "<alias>/<task>" forms
	task        string
}

// Resolve resolves raw against the given catalogs, as observed from
// invocationCWD.
func Resolve(raw, invocationCWD string, catalogs []*manifest.Catalog) (*Resolution, error) {
	if len(catalogs) == 0 {
		return nil, effigyerr.New(effigyerr.EmptyWorkspace, "no catalogs discovered under workspace root")
	}

	ps, err := parseSelector(raw)
	if err != nil {
		return nil, err
	}

	if builtinNames[ps.task] && ps.pathPrefix == "" && ps.aliasPrefix == "" {
		return &Resolution{Mode: ModeBuiltin, Builtin: ps.task}, nil
	}

	if ps.pathPrefix != "" || ps.aliasPrefix != "" {
		cat, mode, err := resolvePrefixed(ps, invocationCWD, catalogs)
		if err != nil {
			return nil, err
		}
		if builtinNames[ps.task] {
			return &Resolution{Mode: ModeBuiltin, Builtin: ps.task, ScopeRoot: cat.Root}, nil
		}
		taskDef, ok := cat.Tasks[ps.task]
		if !ok {
			return nil, effigyerr.New(effigyerr.TaskNotDefined,
				fmt.Sprintf("task %q not defined in catalog %s", ps.task, cat.Root))
		}
		return &Resolution{Mode: mode, Catalog: cat, Task: ps.task, TaskDef: taskDef}, nil
	}

	return resolveUnprefixed(ps.task, invocationCWD, catalogs)
}

func parseSelector(raw string) (parsedSelector, error) {
	if raw == "" {
		return parsedSelector{}, effigyerr.New(effigyerr.TaskNotDefined, "empty selector")
	}

	if strings.HasPrefix(raw, "./") || strings.HasPrefix(raw, "../") || strings.HasPrefix(raw, "/") {
		idx := strings.LastIndex(raw, "/")
		if idx == len(raw)-1 {
			return parsedSelector{}, effigyerr.New(effigyerr.TaskNotDefined,
				fmt.Sprintf("selector %q has no task name after path prefix", raw))
		}
		return parsedSelector{pathPrefix: raw[:idx], task: raw[idx+1:]}, nil
	}

	if idx := strings.Index(raw, "/"); idx >= 0 {
		alias := raw[:idx]
		task := raw[idx+1:]
		if alias == "" || task == "" {
			return parsedSelector{}, effigyerr.New(effigyerr.TaskNotDefined,
				fmt.Sprintf("malformed selector %q", raw))
		}
		return parsedSelector{aliasPrefix: alias, task: task}, nil
	}

	return parsedSelector{task: raw}, nil
}

func resolvePrefixed(ps parsedSelector, invocationCWD string, catalogs []*manifest.Catalog) (*manifest.Catalog, Mode, error) {
	if ps.aliasPrefix != "" {
		for _, c := range catalogs {
			if c.Alias == ps.aliasPrefix {
				return c, ModeExplicitPrefix, nil
			}
		}
		return nil, "", effigyerr.New(effigyerr.CatalogPrefixNotFound,
			fmt.Sprintf("no catalog with alias %q", ps.aliasPrefix))
	}

	target := filepath.Join(invocationCWD, ps.pathPrefix)
	if filepath.IsAbs(ps.pathPrefix) {
		target = ps.pathPrefix
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		return nil, "", effigyerr.Wrap(effigyerr.CatalogPrefixNotFound,
			fmt.Sprintf("resolve path prefix %q", ps.pathPrefix), err)
	}
	for _, c := range catalogs {
		if c.Root == abs {
			return c, ModePathPrefix, nil
		}
	}
	return nil, "", effigyerr.New(effigyerr.CatalogPrefixNotFound,
		fmt.Sprintf("no catalog rooted at %q", abs))
}

func resolveUnprefixed(task, invocationCWD string, catalogs []*manifest.Catalog) (*Resolution, error) {
	var cwdMatches []*manifest.Catalog
	for _, c := range catalogs {
		if _, ok := c.Tasks[task]; !ok {
			continue
		}
		rel, err := filepath.Rel(c.Root, invocationCWD)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		cwdMatches = append(cwdMatches, c)
	}

	if len(cwdMatches) > 0 {
		sort.Slice(cwdMatches, func(i, j int) bool {
			return len(cwdMatches[i].Root) > len(cwdMatches[j].Root)
		})
		deepest := len(cwdMatches[0].Root)
		var tied []*manifest.Catalog
		for _, c := range cwdMatches {
			if len(c.Root) == deepest {
				tied = append(tied, c)
			}
		}
		if len(tied) > 1 {
			return nil, ambiguous(task, tied)
		}
		return &Resolution{Mode: ModeCWDNearest, Catalog: tied[0], Task: task, TaskDef: tied[0].Tasks[task]}, nil
	}

	var shallow []*manifest.Catalog
	for _, c := range catalogs {
		if _, ok := c.Tasks[task]; ok {
			shallow = append(shallow, c)
		}
	}
	if len(shallow) == 0 {
		return nil, effigyerr.New(effigyerr.TaskNotDefined, fmt.Sprintf("no catalog defines task %q", task))
	}
	sort.Slice(shallow, func(i, j int) bool { return shallow[i].Depth < shallow[j].Depth })
	minDepth := shallow[0].Depth
	var tied []*manifest.Catalog
	for _, c := range shallow {
		if c.Depth == minDepth {
			tied = append(tied, c)
		}
	}
	if len(tied) > 1 {
		return nil, ambiguous(task, tied)
	}
	return &Resolution{Mode: ModeShallowest, Catalog: tied[0], Task: task, TaskDef: tied[0].Tasks[task]}, nil
}

func ambiguous(task string, candidates []*manifest.Catalog) error {
	roots := make([]string, len(candidates))
	for i, c := range candidates {
		roots[i] = c.Root
	}
	sort.Strings(roots)
	return effigyerr.New(effigyerr.Ambiguous,
		fmt.Sprintf("task %q is ambiguous across %d catalogs", task, len(candidates)), roots...)
}
