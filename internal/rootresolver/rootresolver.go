// Package rootresolver determines the workspace Root for a single effigy
// invocation by ascending from the invocation directory to the nearest
// marker file, then consulting promotion signals.
package rootresolver

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pelletier/go-toml/v2"

	"effigy/internal/effigyerr"
)

// Mode records how a Root was determined, for the diagnostic collaborators.
type Mode string

const (
	ModeExplicit Mode = "explicit"
	ModeNearest  Mode = "nearest"
	ModePromoted Mode = "promoted"
)

// markers are the root marker filenames, checked in this fixed order so
// Evidence is deterministic when more than one is present in a directory.
var markers = []string{"package.json", "composer.json", "Cargo.toml", ".git"}

// Result is the outcome of resolving a Root for one invocation.
type Result struct {
	Root     string
	Mode     Mode
	Evidence []string
}

// Resolve determines the workspace Root for invocationCWD. override, if
// non-empty, short-circuits discovery entirely.
func Resolve(invocationCWD, override string) (*Result, error) {
	if override != "" {
		abs, err := filepath.Abs(override)
		if err != nil {
			return nil, effigyerr.Wrap(effigyerr.RootNotFound, "resolve explicit root override", err)
		}
		real, err := filepath.EvalSymlinks(abs)
		if err != nil {
			return nil, effigyerr.Wrap(effigyerr.RootNotFound, fmt.Sprintf("explicit root %q does not exist", abs), err)
		}
		return &Result{Root: real, Mode: ModeExplicit, Evidence: []string{"explicit override"}}, nil
	}

	cwd, err := filepath.Abs(invocationCWD)
	if err != nil {
		return nil, effigyerr.Wrap(effigyerr.RootNotFound, "resolve invocation directory", err)
	}

	nearest, marker, err := ascendToMarker(cwd)
	if err != nil {
		return nil, err
	}
	// Canonicalize so the Root compares cleanly against catalog roots,
	// which discovery always reports as canonical paths.
	if real, err := filepath.EvalSymlinks(nearest); err == nil {
		nearest = real
	}

	if parent, signal, ok := promotionSignal(nearest); ok {
		return &Result{
			Root:     parent,
			Mode:     ModePromoted,
			Evidence: []string{fmt.Sprintf("marker:%s", marker), fmt.Sprintf("promotion:%s", signal)},
		}, nil
	}

	return &Result{Root: nearest, Mode: ModeNearest, Evidence: []string{fmt.Sprintf("marker:%s", marker)}}, nil
}

// ascendToMarker walks up from dir to the filesystem root, returning the
// first directory containing any marker file and which marker matched.
func ascendToMarker(dir string) (string, string, error) {
	for {
		for _, m := range markers {
			if _, err := os.Stat(filepath.Join(dir, m)); err == nil {
				return dir, m, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", "", effigyerr.New(effigyerr.RootNotFound,
				fmt.Sprintf("no root marker (%v) found ascending from invocation directory", markers))
		}
		dir = parent
	}
}

// promotionSignal reports whether nearest should be promoted to an
// enclosing workspace root. It checks the parent directory first, then
// each further ancestor, and promotes to the first one carrying a signal:
// a package.json npm/pnpm/yarn workspace declaration that names nearest
// as a member, or (where that directory has no package.json) a
// Cargo.toml declaring a Cargo workspace.
func promotionSignal(nearest string) (parent string, signal string, ok bool) {
	parent = filepath.Dir(nearest)
	if parent == nearest {
		return "", "", false
	}
	return promotionSignalFrom(parent, nearest)
}

// promotionSignalFrom checks parent for a promotion signal for nearest,
// then each of parent's ancestors in turn.
func promotionSignalFrom(parent, nearest string) (string, string, bool) {
	rel, err := filepath.Rel(parent, nearest)
	if err != nil {
		return "", "", false
	}

	if members, ok2 := packageJSONWorkspaceMembers(filepath.Join(parent, "package.json")); ok2 {
		relSlash := filepath.ToSlash(rel)
		for _, m := range members {
			if match, _ := doublestar.Match(m, relSlash); match {
				return parent, "package.json#workspaces", true
			}
		}
	}

	if _, err := os.Stat(filepath.Join(parent, "Cargo.toml")); err == nil {
		if _, err := os.Stat(filepath.Join(parent, "package.json")); err != nil {
			// Promotes whenever this directory is a Cargo workspace root,
			// whichever marker nearest matched on (its own Cargo.toml member
			// manifest, a .git boundary, etc); the members list is not read.
			if looksLikeCargoWorkspaceRoot(filepath.Join(parent, "Cargo.toml")) {
				return parent, "Cargo.toml#workspace", true
			}
		}
	}

	if up := filepath.Dir(parent); up != parent {
		return promotionSignalFrom(up, nearest)
	}
	return "", "", false
}

// packageJSONWorkspaceMembers returns the literal workspace member entries
// declared in path's "workspaces" field (array or {packages: [...]} form),
// or ok=false if path doesn't exist or declares no workspaces field.
func packageJSONWorkspaceMembers(path string) (members []string, ok bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var doc struct {
		Workspaces json.RawMessage `json:"workspaces"`
	}
	if err := json.Unmarshal(data, &doc); err != nil || doc.Workspaces == nil {
		return nil, false
	}

	var list []string
	if err := json.Unmarshal(doc.Workspaces, &list); err == nil {
		return list, true
	}
	var obj struct {
		Packages []string `json:"packages"`
	}
	if err := json.Unmarshal(doc.Workspaces, &obj); err == nil {
		return obj.Packages, true
	}
	return nil, false
}

// looksLikeCargoWorkspaceRoot parses path and reports whether it declares a
// [workspace] table, the same go-toml/v2 decoder the manifest loader and
// global config use elsewhere in the tree.
func looksLikeCargoWorkspaceRoot(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var doc struct {
		Workspace *struct {
			Members []string `toml:"members"`
		} `toml:"workspace"`
	}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return false
	}
	return doc.Workspace != nil
}
