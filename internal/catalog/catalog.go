// Package catalog discovers effigy manifests under a workspace Root:
// a symlink-cycle-safe directory walk that parses every manifest it
// finds and enforces alias uniqueness across the workspace.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"effigy/internal/effigyerr"
	"effigy/internal/manifest"
)

// Discover walks the directory tree rooted at root and returns every
// catalog found, with Depth populated relative to root. Catalogs are
// returned sorted by Root path for deterministic downstream consumption.
func Discover(root string) ([]*manifest.Catalog, error) {
	canonicalRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, effigyerr.Wrap(effigyerr.RootNotFound, fmt.Sprintf("resolve workspace root %q", root), err)
	}

	d := &discoverer{
		visited: make(map[string]bool),
	}
	if err := d.walk(canonicalRoot, canonicalRoot, 0); err != nil {
		return nil, err
	}

	if err := checkAliasUniqueness(d.catalogs); err != nil {
		return nil, err
	}

	sort.Slice(d.catalogs, func(i, j int) bool {
		return d.catalogs[i].Root < d.catalogs[j].Root
	})

	if len(d.catalogs) == 0 {
		return nil, effigyerr.New(effigyerr.EmptyWorkspace,
			fmt.Sprintf("no manifests found under %s", canonicalRoot))
	}

	return d.catalogs, nil
}

type discoverer struct {
	visited  map[string]bool
	catalogs []*manifest.Catalog
}

// walk descends into dir, which must already be a canonicalized path.
// root is the workspace root used to compute Depth.
func (d *discoverer) walk(root, dir string, depth int) error {
	if d.visited[dir] {
		return nil
	}
	d.visited[dir] = true

	manifestPath, err := resolveManifestPath(dir)
	if err != nil {
		return err
	}
	if manifestPath != "" {
		cat, err := manifest.Load(manifestPath)
		if err != nil {
			return err
		}
		cat.Depth = depth
		d.catalogs = append(d.catalogs, cat)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return effigyerr.Wrap(effigyerr.RootNotFound, fmt.Sprintf("read directory %s", dir), err)
	}

	for _, entry := range entries {
		if !entry.IsDir() && entry.Type()&os.ModeSymlink == 0 {
			continue
		}
		childPath := filepath.Join(dir, entry.Name())
		canonicalChild, err := filepath.EvalSymlinks(childPath)
		if err != nil {
			continue // broken symlink or transient race; skip
		}
		info, err := os.Stat(canonicalChild)
		if err != nil || !info.IsDir() {
			continue
		}
		if err := d.walk(root, canonicalChild, depth+1); err != nil {
			return err
		}
	}

	return nil
}

// resolveManifestPath returns the manifest path to load for dir: the
// canonical name if present, else the legacy fallback, else "".
func resolveManifestPath(dir string) (string, error) {
	canonical := filepath.Join(dir, manifest.CanonicalName)
	if _, err := os.Stat(canonical); err == nil {
		return canonical, nil
	}
	fallback := filepath.Join(dir, manifest.FallbackName)
	if _, err := os.Stat(fallback); err == nil {
		return fallback, nil
	}
	return "", nil
}

// checkAliasUniqueness fails with AliasConflict if two catalogs with
// distinct canonical manifest paths share an alias.
func checkAliasUniqueness(catalogs []*manifest.Catalog) error {
	byAlias := make(map[string][]string, len(catalogs))
	for _, c := range catalogs {
		if c.Alias == "" {
			continue
		}
		byAlias[c.Alias] = append(byAlias[c.Alias], c.Root)
	}
	for alias, roots := range byAlias {
		if len(roots) > 1 {
			sort.Strings(roots)
			return effigyerr.New(effigyerr.AliasConflict,
				fmt.Sprintf("alias %q used by multiple catalogs", alias), roots...)
		}
	}
	return nil
}
